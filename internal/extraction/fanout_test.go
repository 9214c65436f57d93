package extraction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/invoice-pipeline/internal/types"
)

// fakeExtractor returns a canned candidate or error after an optional
// delay.
type fakeExtractor struct {
	name       string
	confidence float64
	delay      time.Duration
	err        error
}

func (f *fakeExtractor) Name() string { return f.name }

func (f *fakeExtractor) ExtractStructured(ctx context.Context, _ Request) (types.ExtractionCandidate, error) {
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
	return types.ExtractionCandidate{
		Extraction: types.InvoiceExtraction{
			GeneralFields: types.InvoiceGeneral{InvoiceNumber: types.StrPtr("INV-1")},
			Items:         []types.InvoiceItem{},
		},
		Confidence: f.confidence,
	}, nil
}

func TestFanOutJoinsAllProviders(t *testing.T) {
	providers := []Provider{
		&fakeExtractor{name: "gemini", confidence: 0.8, delay: 30 * time.Millisecond},
		&fakeExtractor{name: "genai", confidence: 0.6},
	}

	outcomes, err := FanOut(context.Background(), providers, Request{OcrText: "text"}, FanOutOptions{
		CallTimeout:  time.Second,
		StageTimeout: 2 * time.Second,
	})
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	// Output order follows configured provider order, not completion
	// order: the slow provider is still first.
	assert.Equal(t, "gemini", outcomes[0].Provider)
	assert.Equal(t, "genai", outcomes[1].Provider)
	require.NotNil(t, outcomes[0].Candidate)
	require.NotNil(t, outcomes[1].Candidate)
	assert.Equal(t, "gemini", outcomes[0].Candidate.Provider)
	assert.Equal(t, 0.8, outcomes[0].Candidate.Confidence)
}

func TestFanOutPartialFailure(t *testing.T) {
	boom := errors.New("model unavailable")
	providers := []Provider{
		&fakeExtractor{name: "gemini", err: boom},
		&fakeExtractor{name: "genai", confidence: 0.7},
	}

	outcomes, err := FanOut(context.Background(), providers, Request{OcrText: "text"}, FanOutOptions{})
	require.NoError(t, err, "one success is enough to proceed")

	assert.ErrorIs(t, outcomes[0].Err, boom)
	assert.Nil(t, outcomes[0].Candidate)
	require.NotNil(t, outcomes[1].Candidate)
}

func TestFanOutAllFailed(t *testing.T) {
	providers := []Provider{
		&fakeExtractor{name: "gemini", err: errors.New("quota")},
		&fakeExtractor{name: "genai", err: errors.New("timeout")},
	}

	outcomes, err := FanOut(context.Background(), providers, Request{OcrText: "text"}, FanOutOptions{})

	var allFailed *AllExtractionsFailedError
	require.ErrorAs(t, err, &allFailed)
	assert.Len(t, allFailed.Causes, 2)
	// Per-provider outcomes are still returned so the trace can show
	// individual causes.
	require.Len(t, outcomes, 2)
	assert.Error(t, outcomes[0].Err)
	assert.Error(t, outcomes[1].Err)
}

func TestFanOutStageTimeoutCancelsPending(t *testing.T) {
	providers := []Provider{
		&fakeExtractor{name: "gemini", confidence: 0.9},
		&fakeExtractor{name: "genai", confidence: 0.9, delay: 5 * time.Second},
	}

	start := time.Now()
	outcomes, err := FanOut(context.Background(), providers, Request{OcrText: "text"}, FanOutOptions{
		StageTimeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)

	require.NotNil(t, outcomes[0].Candidate)
	assert.ErrorIs(t, outcomes[1].Err, context.DeadlineExceeded)
}

func TestFanOutSingleProvider(t *testing.T) {
	providers := []Provider{&fakeExtractor{name: "gemini", confidence: 1.4}}

	outcomes, err := FanOut(context.Background(), providers, Request{OcrText: "text"}, FanOutOptions{})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, 1.0, outcomes[0].Candidate.Confidence, "self-reported confidence is clamped")
}

func TestFanOutNoProviders(t *testing.T) {
	_, err := FanOut(context.Background(), nil, Request{OcrText: "text"}, FanOutOptions{})
	var allFailed *AllExtractionsFailedError
	assert.ErrorAs(t, err, &allFailed)
}
