// Package pipeline provides the high-level orchestration for a single
// invoice extraction run: OCR, quality gate, extraction fan-out, decision
// and validation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jonathan/invoice-pipeline/internal/decision"
	"github.com/jonathan/invoice-pipeline/internal/document"
	"github.com/jonathan/invoice-pipeline/internal/extraction"
	"github.com/jonathan/invoice-pipeline/internal/observability"
	"github.com/jonathan/invoice-pipeline/internal/ocr"
	"github.com/jonathan/invoice-pipeline/internal/types"
)

// OcrRunner runs the OCR provider chain over one page.
type OcrRunner interface {
	Run(ctx context.Context, pagePath string, pageIndex int, params types.OcrParams, observe ocr.AttemptObserver) (types.OcrResult, error)
}

// QualityGate assesses an OCR result and may request one retry cycle.
type QualityGate interface {
	Assess(result types.OcrResult) types.QualityAssessment
}

// Arbiter selects a winner among extraction candidates.
type Arbiter interface {
	Select(ctx context.Context, candidates []types.ExtractionCandidate) (types.Decision, []decision.ScoredCandidate, error)
}

// Validator runs the deterministic checks over the chosen extraction.
type Validator interface {
	Validate(e types.InvoiceExtraction) types.ValidationReport
}

// Runner owns a PipelineRun exclusively for the duration of Run. No other
// orchestrator instance may mutate the same run id.
type Runner struct {
	OCR        OcrRunner
	Gate       QualityGate
	Extractors []extraction.Provider
	Arbiter    Arbiter
	Validator  Validator

	FanOut   extraction.FanOutOptions
	Language string
	WorkDir  string

	Verbose bool
	Printer *observability.Printer
}

// Run executes one end-to-end pipeline for the given run. The run must be
// fresh: re-running a terminal run is refused rather than silently
// repeated. The returned result mirrors the run's final state; a pipeline
// failure is reported in the result, not as the error return.
func (r *Runner) Run(ctx context.Context, run *types.PipelineRun) (types.RunResult, error) {
	if run.Terminal() {
		return types.RunResult{}, fmt.Errorf("run %s is already %s", run.ID, run.Status)
	}
	run.Status = types.RunStatusRunning

	rec := NewRecorder()
	result, err := r.execute(ctx, run, rec)

	run.Steps = rec.Records()
	result.Steps = run.Steps
	result.RunID = run.ID

	now := time.Now()
	run.CompletedAt = &now

	if err != nil {
		run.Status = types.RunStatusFailed
		result.Status = types.RunStatusFailed
		result.Error = failureReason(err)
		fmt.Printf("Pipeline failed: %s\n", result.Error)
		return result, nil
	}

	run.Status = types.RunStatusSucceeded
	result.Status = types.RunStatusSucceeded
	return result, nil
}

func (r *Runner) execute(ctx context.Context, run *types.PipelineRun, rec *Recorder) (types.RunResult, error) {
	var result types.RunResult

	workDir := filepath.Join(r.WorkDir, run.ID.String())
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return result, fmt.Errorf("failed to create work directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	fmt.Printf("Step 1/5: Running OCR on %s...\n", run.Document)
	pages, err := document.Pages(run.Document, workDir)
	if err != nil {
		return result, err
	}

	ocrResult, warning, err := r.runOCRStage(ctx, pages, rec)
	if err != nil {
		return result, err
	}
	result.OcrText = ocrResult.Text
	result.QualityWarning = warning
	if r.Verbose && r.Printer != nil {
		r.Printer.PrintOcrSummary(ocrResult, len(pages))
	}

	fmt.Printf("Step 3/5: Extracting structured data with %d provider(s)...\n", len(r.Extractors))
	candidates, err := r.runExtractionStage(ctx, ocrResult.Text, rec)
	if err != nil {
		return result, err
	}

	fmt.Printf("Step 4/5: Arbitrating between %d candidate(s)...\n", len(candidates))
	started := time.Now()
	dec, _, err := r.Arbiter.Select(ctx, candidates)
	if err != nil {
		rec.Append(types.StepRecord{
			Step:     types.StepDecision,
			Status:   types.StepStatusFailed,
			Duration: time.Since(started),
			Error:    err.Error(),
		})
		return result, err
	}
	rec.Append(types.StepRecord{
		Step:       types.StepDecision,
		Status:     types.StepStatusOK,
		Duration:   time.Since(started),
		Provider:   dec.SelectedProvider,
		Confidence: types.FloatPtr(dec.Score),
	})
	result.Decision = &dec
	result.Data = &dec.Result
	if r.Verbose && r.Printer != nil {
		r.Printer.PrintDecision(&dec)
		r.Printer.PrintExtraction(&dec.Result)
	}

	fmt.Printf("Step 5/5: Validating amounts...\n")
	started = time.Now()
	report := r.Validator.Validate(dec.Result)
	rec.Append(types.StepRecord{
		Step:     types.StepValidation,
		Status:   types.StepStatusOK,
		Duration: time.Since(started),
	})
	result.Validations = &report
	if r.Verbose && r.Printer != nil {
		r.Printer.PrintValidation(&report)
	}

	return result, nil
}

// runOCRStage runs the provider chain over every page, assesses the
// combined text, and performs at most one retry cycle with the gate's
// adjusted parameters. A rejected retry does not fail the run; the best
// available result proceeds with a quality warning.
func (r *Runner) runOCRStage(ctx context.Context, pages []document.Page, rec *Recorder) (types.OcrResult, bool, error) {
	params := types.OcrParams{Language: r.Language}

	first, err := r.ocrPass(ctx, pages, params, rec)
	if err != nil {
		return types.OcrResult{}, false, err
	}

	fmt.Printf("Step 2/5: Assessing OCR quality...\n")
	assessment := r.Gate.Assess(first)
	recordQuality(rec, assessment)
	if !assessment.ShouldRetry || assessment.RetryParams == nil {
		return first, assessment.Quality == types.QualityPoor, nil
	}

	fmt.Printf("Quality gate rejected OCR output (%v), retrying with adjusted parameters...\n", assessment.Issues)
	retry, err := r.ocrPass(ctx, pages, *assessment.RetryParams, rec)
	if err != nil {
		// The retry pass exhausting all providers is not fatal when a
		// usable first pass exists. Cancellation still propagates.
		if ctx.Err() != nil {
			return types.OcrResult{}, false, ctx.Err()
		}
		return first, true, nil
	}
	retry.RetryCount = first.RetryCount + 1

	second := r.Gate.Assess(retry)
	recordQuality(rec, second)
	if second.Quality == types.QualityGood {
		return retry, false, nil
	}

	// Both passes rejected: graceful degradation over hard failure.
	best := first
	if retry.Confidence > first.Confidence {
		best = retry
	}
	return best, true, nil
}

// ocrPass runs the chain over each page sequentially and combines the page
// texts with the page-break marker.
func (r *Runner) ocrPass(ctx context.Context, pages []document.Page, params types.OcrParams, rec *Recorder) (types.OcrResult, error) {
	results := make([]types.OcrResult, 0, len(pages))
	for _, page := range pages {
		pageResult, err := r.OCR.Run(ctx, page.Path, page.Index, params, rec.Append)
		if err != nil {
			return types.OcrResult{}, err
		}
		results = append(results, pageResult)
	}

	text, confidence := ocr.Combine(results)
	combined := types.OcrResult{
		Text:       text,
		Confidence: confidence,
		Language:   params.Language,
	}
	if len(results) > 0 {
		combined.Provider = results[0].Provider
		for _, res := range results {
			if res.BelowThreshold {
				combined.BelowThreshold = true
			}
		}
	}
	return combined, nil
}

// runExtractionStage fans out to every configured extractor and records one
// llm_extraction entry per provider in configured order, independent of
// completion order.
func (r *Runner) runExtractionStage(ctx context.Context, ocrText string, rec *Recorder) ([]types.ExtractionCandidate, error) {
	outcomes, err := extraction.FanOut(ctx, r.Extractors, extraction.Request{OcrText: ocrText}, r.FanOut)

	for _, o := range outcomes {
		step := types.StepRecord{
			Step:     types.StepLlmExtraction,
			Duration: o.Duration,
			Provider: o.Provider,
		}
		if o.Err != nil {
			step.Status = types.StepStatusFailed
			step.Error = o.Err.Error()
		} else {
			step.Status = types.StepStatusOK
			step.Confidence = types.FloatPtr(o.Candidate.Confidence)
		}
		rec.Append(step)
	}

	if err != nil {
		return nil, err
	}

	candidates := make([]types.ExtractionCandidate, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Candidate != nil {
			candidates = append(candidates, *o.Candidate)
		}
	}
	return candidates, nil
}

func recordQuality(rec *Recorder, a types.QualityAssessment) {
	step := types.StepRecord{
		Step:       types.StepQualityAssessment,
		Confidence: types.FloatPtr(a.Confidence),
	}
	if a.Quality == types.QualityGood {
		step.Status = types.StepStatusOK
	} else {
		step.Status = types.StepStatusFailed
		step.Error = fmt.Sprintf("quality issues: %v", a.Issues)
	}
	rec.Append(step)
}

// failureReason maps terminal errors to the reason stored on the run.
func failureReason(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		var exhausted *ocr.AllProvidersExhaustedError
		if errors.As(err, &exhausted) {
			return fmt.Sprintf("all OCR providers exhausted: %v", exhausted)
		}
		var allFailed *extraction.AllExtractionsFailedError
		if errors.As(err, &allFailed) {
			return fmt.Sprintf("all extractions failed: %v", allFailed)
		}
		return err.Error()
	}
}
