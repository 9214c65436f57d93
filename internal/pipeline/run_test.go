package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/invoice-pipeline/internal/decision"
	"github.com/jonathan/invoice-pipeline/internal/extraction"
	"github.com/jonathan/invoice-pipeline/internal/ocr"
	"github.com/jonathan/invoice-pipeline/internal/quality"
	"github.com/jonathan/invoice-pipeline/internal/types"
	"github.com/jonathan/invoice-pipeline/internal/validation"
)

const goodText = "Invoice INV-2025-001 from Acme Supplies, total 118.00 USD for 2 widgets at 50.00 each"

// fakeOCR pops one scripted response per chain invocation and emits a step
// record the way the real chain does.
type fakeOCR struct {
	responses []fakeOCRResponse
	calls     int
}

type fakeOCRResponse struct {
	result types.OcrResult
	err    error
}

func (f *fakeOCR) Run(ctx context.Context, pagePath string, pageIndex int, params types.OcrParams, observe ocr.AttemptObserver) (types.OcrResult, error) {
	if err := ctx.Err(); err != nil {
		return types.OcrResult{}, err
	}
	if f.calls >= len(f.responses) {
		return types.OcrResult{}, fmt.Errorf("unexpected OCR call %d", f.calls)
	}
	resp := f.responses[f.calls]
	f.calls++

	rec := types.StepRecord{Step: types.StepOcrExtraction, Provider: "fake", Attempt: 1}
	if resp.err != nil {
		rec.Status = types.StepStatusFailed
		rec.Error = resp.err.Error()
	} else {
		rec.Status = types.StepStatusOK
		rec.Confidence = types.FloatPtr(resp.result.Confidence)
	}
	if observe != nil {
		observe(rec)
	}
	return resp.result, resp.err
}

type fakeExtractor struct {
	name      string
	candidate types.ExtractionCandidate
	err       error
	delay     time.Duration
}

func (f *fakeExtractor) Name() string { return f.name }

func (f *fakeExtractor) ExtractStructured(ctx context.Context, req extraction.Request) (types.ExtractionCandidate, error) {
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return types.ExtractionCandidate{}, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if f.err != nil {
		return types.ExtractionCandidate{}, f.err
	}
	return f.candidate, nil
}

func completeCandidate(confidence float64) types.ExtractionCandidate {
	return types.ExtractionCandidate{
		Confidence: confidence,
		Extraction: types.InvoiceExtraction{
			GeneralFields: types.InvoiceGeneral{
				InvoiceNumber: types.StrPtr("INV-2025-001"),
				Date:          types.StrPtr("2025-03-01"),
				SupplierName:  types.StrPtr("Acme Supplies"),
				TotalAmount:   types.FloatPtr(118.00),
				Currency:      types.StrPtr("USD"),
			},
			Items: []types.InvoiceItem{
				{
					ProductName: types.StrPtr("Widget"),
					Quantity:    types.FloatPtr(2),
					UnitPrice:   types.FloatPtr(50.00),
					TotalPrice:  types.FloatPtr(100.00),
				},
			},
		},
	}
}

func testDocument(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "invoice.png")
	require.NoError(t, os.WriteFile(path, []byte("png"), 0o644))
	return path
}

func newTestRunner(t *testing.T, ocrRunner OcrRunner, extractors []extraction.Provider) *Runner {
	t.Helper()
	providerNames := make([]string, 0, len(extractors))
	for _, e := range extractors {
		providerNames = append(providerNames, e.Name())
	}
	return &Runner{
		OCR:        ocrRunner,
		Gate:       quality.NewGate(0.7, 50, 0.3, "tur"),
		Extractors: extractors,
		Arbiter:    decision.NewArbiter(decision.DefaultWeights(), 0.15, 0.01, providerNames, nil),
		Validator:  validation.NewEngine(0.01, 0.18, 1.0),
		FanOut:     extraction.FanOutOptions{CallTimeout: time.Second, StageTimeout: 2 * time.Second},
		Language:   "eng",
		WorkDir:    t.TempDir(),
	}
}

func newRun(doc string) *types.PipelineRun {
	return &types.PipelineRun{
		ID:        uuid.New(),
		Document:  doc,
		Status:    types.RunStatusPending,
		CreatedAt: time.Now(),
	}
}

func stepNames(steps []types.StepRecord) []string {
	names := make([]string, 0, len(steps))
	for _, s := range steps {
		names = append(names, s.Step)
	}
	return names
}

func TestRunSuccess(t *testing.T) {
	ocrRunner := &fakeOCR{responses: []fakeOCRResponse{
		{result: types.OcrResult{Text: goodText, Confidence: 0.92, Provider: "fake"}},
	}}
	extractors := []extraction.Provider{
		&fakeExtractor{name: "gemini", candidate: completeCandidate(0.9)},
		&fakeExtractor{name: "genai", candidate: completeCandidate(0.8)},
	}

	runner := newTestRunner(t, ocrRunner, extractors)
	run := newRun(testDocument(t))

	result, err := runner.Run(context.Background(), run)
	require.NoError(t, err)

	assert.Equal(t, types.RunStatusSucceeded, result.Status)
	assert.Equal(t, types.RunStatusSucceeded, run.Status)
	assert.NotNil(t, run.CompletedAt)
	assert.False(t, result.QualityWarning)
	assert.Equal(t, goodText, result.OcrText)
	require.NotNil(t, result.Decision)
	assert.Equal(t, "gemini", result.Decision.SelectedProvider)
	require.NotNil(t, result.Validations)
	assert.True(t, result.Validations.AllValid)

	assert.Equal(t, []string{
		types.StepOcrExtraction,
		types.StepQualityAssessment,
		types.StepLlmExtraction,
		types.StepLlmExtraction,
		types.StepDecision,
		types.StepValidation,
	}, stepNames(result.Steps))
}

func TestRunExtractionRecordsFollowConfiguredOrder(t *testing.T) {
	ocrRunner := &fakeOCR{responses: []fakeOCRResponse{
		{result: types.OcrResult{Text: goodText, Confidence: 0.92, Provider: "fake"}},
	}}
	// The first configured provider finishes last; its record must still
	// come first.
	extractors := []extraction.Provider{
		&fakeExtractor{name: "gemini", candidate: completeCandidate(0.9), delay: 80 * time.Millisecond},
		&fakeExtractor{name: "genai", candidate: completeCandidate(0.8)},
	}

	runner := newTestRunner(t, ocrRunner, extractors)
	result, err := runner.Run(context.Background(), newRun(testDocument(t)))
	require.NoError(t, err)

	var providers []string
	for _, s := range result.Steps {
		if s.Step == types.StepLlmExtraction {
			providers = append(providers, s.Provider)
		}
	}
	assert.Equal(t, []string{"gemini", "genai"}, providers)
}

func TestRunQualityRetrySucceeds(t *testing.T) {
	ocrRunner := &fakeOCR{responses: []fakeOCRResponse{
		{result: types.OcrResult{Text: "###@@@!!", Confidence: 0.9, Provider: "fake"}},
		{result: types.OcrResult{Text: goodText, Confidence: 0.88, Provider: "fake"}},
	}}
	extractors := []extraction.Provider{&fakeExtractor{name: "gemini", candidate: completeCandidate(0.9)}}

	runner := newTestRunner(t, ocrRunner, extractors)
	result, err := runner.Run(context.Background(), newRun(testDocument(t)))
	require.NoError(t, err)

	assert.Equal(t, types.RunStatusSucceeded, result.Status)
	assert.False(t, result.QualityWarning)
	assert.Equal(t, goodText, result.OcrText)
	assert.Equal(t, 2, ocrRunner.calls)

	assessments := 0
	for _, s := range result.Steps {
		if s.Step == types.StepQualityAssessment {
			assessments++
		}
	}
	assert.Equal(t, 2, assessments)
}

func TestRunQualityRetryStillPoorProceedsWithWarning(t *testing.T) {
	ocrRunner := &fakeOCR{responses: []fakeOCRResponse{
		{result: types.OcrResult{Text: "short 1", Confidence: 0.9, Provider: "fake"}},
		{result: types.OcrResult{Text: "short 2", Confidence: 0.95, Provider: "fake"}},
	}}
	extractors := []extraction.Provider{&fakeExtractor{name: "gemini", candidate: completeCandidate(0.9)}}

	runner := newTestRunner(t, ocrRunner, extractors)
	result, err := runner.Run(context.Background(), newRun(testDocument(t)))
	require.NoError(t, err)

	assert.Equal(t, types.RunStatusSucceeded, result.Status)
	assert.True(t, result.QualityWarning)
	// Best pass by confidence wins.
	assert.Equal(t, "short 2", result.OcrText)
}

func TestRunRetryPassFailureKeepsFirstResult(t *testing.T) {
	ocrRunner := &fakeOCR{responses: []fakeOCRResponse{
		{result: types.OcrResult{Text: "short 1", Confidence: 0.9, Provider: "fake"}},
		{err: &ocr.AllProvidersExhaustedError{Attempts: 3, Last: fmt.Errorf("engine crashed")}},
	}}
	extractors := []extraction.Provider{&fakeExtractor{name: "gemini", candidate: completeCandidate(0.9)}}

	runner := newTestRunner(t, ocrRunner, extractors)
	result, err := runner.Run(context.Background(), newRun(testDocument(t)))
	require.NoError(t, err)

	assert.Equal(t, types.RunStatusSucceeded, result.Status)
	assert.True(t, result.QualityWarning)
	assert.Equal(t, "short 1", result.OcrText)
}

func TestRunAllOCRProvidersExhausted(t *testing.T) {
	ocrRunner := &fakeOCR{responses: []fakeOCRResponse{
		{err: &ocr.AllProvidersExhaustedError{Attempts: 6, Last: fmt.Errorf("boom")}},
	}}
	extractors := []extraction.Provider{&fakeExtractor{name: "gemini", candidate: completeCandidate(0.9)}}

	runner := newTestRunner(t, ocrRunner, extractors)
	run := newRun(testDocument(t))
	result, err := runner.Run(context.Background(), run)
	require.NoError(t, err)

	assert.Equal(t, types.RunStatusFailed, result.Status)
	assert.Equal(t, types.RunStatusFailed, run.Status)
	assert.Contains(t, result.Error, "exhausted")
	assert.Nil(t, result.Data)
}

func TestRunAllExtractionsFailed(t *testing.T) {
	ocrRunner := &fakeOCR{responses: []fakeOCRResponse{
		{result: types.OcrResult{Text: goodText, Confidence: 0.92, Provider: "fake"}},
	}}
	extractors := []extraction.Provider{
		&fakeExtractor{name: "gemini", err: fmt.Errorf("quota exceeded")},
		&fakeExtractor{name: "genai", err: fmt.Errorf("server error")},
	}

	runner := newTestRunner(t, ocrRunner, extractors)
	result, err := runner.Run(context.Background(), newRun(testDocument(t)))
	require.NoError(t, err)

	assert.Equal(t, types.RunStatusFailed, result.Status)
	assert.Contains(t, result.Error, "all extractions failed")

	// Failed provider calls are still recorded.
	failed := 0
	for _, s := range result.Steps {
		if s.Step == types.StepLlmExtraction && s.Status == types.StepStatusFailed {
			failed++
		}
	}
	assert.Equal(t, 2, failed)
}

func TestRunPartialExtractionFailureSucceeds(t *testing.T) {
	ocrRunner := &fakeOCR{responses: []fakeOCRResponse{
		{result: types.OcrResult{Text: goodText, Confidence: 0.92, Provider: "fake"}},
	}}
	extractors := []extraction.Provider{
		&fakeExtractor{name: "gemini", err: fmt.Errorf("quota exceeded")},
		&fakeExtractor{name: "genai", candidate: completeCandidate(0.8)},
	}

	runner := newTestRunner(t, ocrRunner, extractors)
	result, err := runner.Run(context.Background(), newRun(testDocument(t)))
	require.NoError(t, err)

	assert.Equal(t, types.RunStatusSucceeded, result.Status)
	assert.Equal(t, "genai", result.Decision.SelectedProvider)
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ocrRunner := &fakeOCR{responses: []fakeOCRResponse{
		{result: types.OcrResult{Text: goodText, Confidence: 0.92, Provider: "fake"}},
	}}
	extractors := []extraction.Provider{&fakeExtractor{name: "gemini", candidate: completeCandidate(0.9)}}

	runner := newTestRunner(t, ocrRunner, extractors)
	result, err := runner.Run(ctx, newRun(testDocument(t)))
	require.NoError(t, err)

	assert.Equal(t, types.RunStatusFailed, result.Status)
	assert.Equal(t, "cancelled", result.Error)
}

func TestRunRefusesTerminalRun(t *testing.T) {
	runner := newTestRunner(t, &fakeOCR{}, nil)
	run := newRun(testDocument(t))
	run.Status = types.RunStatusSucceeded

	_, err := runner.Run(context.Background(), run)
	assert.Error(t, err)
}

func TestRunMissingDocument(t *testing.T) {
	runner := newTestRunner(t, &fakeOCR{}, nil)
	run := newRun(filepath.Join(t.TempDir(), "missing.png"))

	result, err := runner.Run(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusFailed, result.Status)
	assert.Contains(t, result.Error, "not found")
}

func TestRecorderSummarize(t *testing.T) {
	rec := NewRecorder()
	rec.Append(types.StepRecord{Step: types.StepOcrExtraction, Status: types.StepStatusFailed, Duration: 10 * time.Millisecond})
	rec.Append(types.StepRecord{Step: types.StepOcrExtraction, Status: types.StepStatusOK, Duration: 20 * time.Millisecond})
	rec.Append(types.StepRecord{Step: types.StepDecision, Status: types.StepStatusOK, Duration: time.Millisecond})

	summary := rec.Summarize()
	require.Len(t, summary.Steps, 2)
	assert.Equal(t, types.StepOcrExtraction, summary.Steps[0].Step)
	assert.Equal(t, 2, summary.Steps[0].Count)
	assert.Equal(t, 1, summary.Steps[0].Failures)
	assert.Equal(t, 30*time.Millisecond, summary.Steps[0].Total)
}
