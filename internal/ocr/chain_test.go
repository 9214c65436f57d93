package ocr

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/invoice-pipeline/internal/types"
)

// fakeProvider replays a scripted sequence of outcomes, one per call.
type fakeProvider struct {
	name  string
	calls int
	// script entries: err != nil means the call fails, otherwise the
	// confidence is returned with fixed text.
	script []fakeOutcome
}

type fakeOutcome struct {
	confidence float64
	err        error
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Extract(_ context.Context, _ string, pageIndex int, _ types.OcrParams) (types.OcrResult, error) {
	idx := f.calls
	f.calls++
	if idx >= len(f.script) {
		idx = len(f.script) - 1
	}
	o := f.script[idx]
	if o.err != nil {
		return types.OcrResult{}, o.err
	}
	return types.OcrResult{
		Text:       "INVOICE #42 TOTAL 118.00",
		Confidence: o.confidence,
		Provider:   f.name,
		PageIndex:  pageIndex,
	}, nil
}

func newTestChain(providers []Provider) *Chain {
	c := NewChain(providers, ChainOptions{
		MaxRetriesPerProvider: 3,
		MinConfidence:         0.7,
		BackoffBase:           time.Millisecond,
		BackoffCap:            4 * time.Millisecond,
	})
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

func TestChainShortCircuitsOnConfidentResult(t *testing.T) {
	a := &fakeProvider{name: "a", script: []fakeOutcome{{confidence: 0.9}}}
	b := &fakeProvider{name: "b", script: []fakeOutcome{{confidence: 0.99}}}
	chain := newTestChain([]Provider{a, b})

	result, err := chain.Run(context.Background(), "page.png", 0, types.OcrParams{}, nil)
	require.NoError(t, err)

	assert.Equal(t, "a", result.Provider)
	assert.Equal(t, 0.9, result.Confidence)
	assert.False(t, result.BelowThreshold)
	assert.Equal(t, 0, b.calls, "lower-priority provider must not be called")
}

func TestChainExhaustsRetriesBeforeFallingBack(t *testing.T) {
	boom := errors.New("engine crashed")
	a := &fakeProvider{name: "a", script: []fakeOutcome{{err: boom}, {err: boom}, {err: boom}}}
	b := &fakeProvider{name: "b", script: []fakeOutcome{{confidence: 0.8}}}
	chain := newTestChain([]Provider{a, b})

	var records []types.StepRecord
	result, err := chain.Run(context.Background(), "page.png", 0, types.OcrParams{}, func(rec types.StepRecord) {
		records = append(records, rec)
	})
	require.NoError(t, err)

	assert.Equal(t, 3, a.calls, "provider a retries must be exhausted first")
	assert.Equal(t, 1, b.calls)
	assert.Equal(t, "b", result.Provider)

	// One record per attempt, failures included.
	require.Len(t, records, 4)
	for i, rec := range records[:3] {
		assert.Equal(t, "a", rec.Provider)
		assert.Equal(t, types.StepStatusFailed, rec.Status)
		assert.Equal(t, i+1, rec.Attempt)
	}
	assert.Equal(t, "b", records[3].Provider)
	assert.Equal(t, types.StepStatusOK, records[3].Status)
}

func TestChainAllProvidersExhausted(t *testing.T) {
	boom := errors.New("no engine")
	a := &fakeProvider{name: "a", script: []fakeOutcome{{err: boom}}}
	b := &fakeProvider{name: "b", script: []fakeOutcome{{err: boom}}}
	chain := newTestChain([]Provider{a, b})

	_, err := chain.Run(context.Background(), "page.png", 0, types.OcrParams{}, nil)

	var exhausted *AllProvidersExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 6, exhausted.Attempts)
	assert.ErrorIs(t, err, boom)
}

func TestChainReturnsBestBelowThreshold(t *testing.T) {
	a := &fakeProvider{name: "a", script: []fakeOutcome{{confidence: 0.4}}}
	b := &fakeProvider{name: "b", script: []fakeOutcome{{confidence: 0.6}}}
	chain := newTestChain([]Provider{a, b})

	result, err := chain.Run(context.Background(), "page.png", 0, types.OcrParams{}, nil)
	require.NoError(t, err, "a low-confidence result is still the best available evidence")

	assert.Equal(t, "b", result.Provider)
	assert.Equal(t, 0.6, result.Confidence)
	assert.True(t, result.BelowThreshold)
}

func TestChainMixedFailureAndLowConfidence(t *testing.T) {
	boom := errors.New("crash")
	a := &fakeProvider{name: "a", script: []fakeOutcome{{err: boom}, {err: boom}, {err: boom}}}
	b := &fakeProvider{name: "b", script: []fakeOutcome{{confidence: 0.3}}}
	chain := newTestChain([]Provider{a, b})

	result, err := chain.Run(context.Background(), "page.png", 0, types.OcrParams{}, nil)
	require.NoError(t, err)
	assert.True(t, result.BelowThreshold)
	assert.Equal(t, "b", result.Provider)
}

func TestChainHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := &fakeProvider{name: "a", script: []fakeOutcome{{confidence: 0.9}}}
	chain := newTestChain([]Provider{a})

	_, err := chain.Run(ctx, "page.png", 0, types.OcrParams{}, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, a.calls)
}

func TestChainNoProviders(t *testing.T) {
	chain := newTestChain(nil)
	_, err := chain.Run(context.Background(), "page.png", 0, types.OcrParams{}, nil)
	assert.Error(t, err)
}

func TestNextDelayDoublesAndCaps(t *testing.T) {
	assert.Equal(t, 2*time.Second, nextDelay(time.Second, 8*time.Second))
	assert.Equal(t, 8*time.Second, nextDelay(5*time.Second, 8*time.Second))
	assert.Equal(t, 16*time.Second, nextDelay(8*time.Second, 0))
}

func TestCombine(t *testing.T) {
	text, conf := Combine([]types.OcrResult{
		{Text: "page one", Confidence: 0.8},
		{Text: "page two", Confidence: 0.6},
	})
	assert.Contains(t, text, "page one")
	assert.Contains(t, text, "--- Page Break ---")
	assert.Contains(t, text, "page two")
	assert.InDelta(t, 0.7, conf, 1e-9)

	text, conf = Combine(nil)
	assert.Equal(t, "", text)
	assert.Equal(t, 0.0, conf)
}
