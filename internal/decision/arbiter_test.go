package decision

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/invoice-pipeline/internal/types"
)

func completeExtraction() types.InvoiceExtraction {
	return types.InvoiceExtraction{
		GeneralFields: types.InvoiceGeneral{
			InvoiceNumber: types.StrPtr("INV-100"),
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
	}
}

func candidate(provider string, confidence float64, extraction types.InvoiceExtraction) types.ExtractionCandidate {
	return types.ExtractionCandidate{Provider: provider, Confidence: confidence, Extraction: extraction}
}

func newTestArbiter(margin float64, tie TieBreaker) *Arbiter {
	return NewArbiter(DefaultWeights(), margin, 0.01, []string{"gemini", "genai"}, tie)
}

func TestSelectSingleCandidateStillScored(t *testing.T) {
	a := newTestArbiter(0.15, nil)

	decision, scored, err := a.Select(context.Background(), []types.ExtractionCandidate{
		candidate("gemini", 0.9, completeExtraction()),
	})

	require.NoError(t, err)
	assert.Equal(t, "gemini", decision.SelectedProvider)
	require.Len(t, scored, 1)
	assert.Equal(t, 1.0, scored[0].Completeness)
	assert.Equal(t, 1.0, scored[0].Consistency)
	assert.InDelta(t, 0.5+0.3+0.2*0.9, decision.Score, 1e-9)
	assert.NotEmpty(t, decision.Reasoning)
}

func TestSelectEmptyInput(t *testing.T) {
	a := newTestArbiter(0.15, nil)

	_, _, err := a.Select(context.Background(), nil)
	assert.Error(t, err)
}

func TestSelectCompletenessDominatesConfidence(t *testing.T) {
	a := NewArbiter(DefaultWeights(), 0.01, 0.01, []string{"gemini", "genai"}, nil)

	incomplete := completeExtraction()
	incomplete.GeneralFields.SupplierName = nil
	incomplete.GeneralFields.Currency = nil

	decision, scored, err := a.Select(context.Background(), []types.ExtractionCandidate{
		candidate("genai", 1.0, incomplete),
		candidate("gemini", 0.55, completeExtraction()),
	})

	require.NoError(t, err)
	// The complete candidate wins despite reporting far lower confidence.
	assert.Equal(t, "gemini", decision.SelectedProvider)
	assert.Greater(t, scored[0].Score, scored[1].Score)
}

func TestSelectOrderIndependence(t *testing.T) {
	a := newTestArbiter(0.05, nil)

	strong := candidate("genai", 0.95, completeExtraction())
	weak := completeExtraction()
	weak.GeneralFields.Date = nil
	weakCand := candidate("gemini", 0.4, weak)

	first, _, err := a.Select(context.Background(), []types.ExtractionCandidate{strong, weakCand})
	require.NoError(t, err)
	second, _, err := a.Select(context.Background(), []types.ExtractionCandidate{weakCand, strong})
	require.NoError(t, err)

	assert.Equal(t, first.SelectedProvider, second.SelectedProvider)
	assert.Equal(t, first.Score, second.Score)
	assert.Equal(t, "genai", first.SelectedProvider)
}

func TestSelectTieBreakByProviderPriority(t *testing.T) {
	a := newTestArbiter(0.15, nil)

	// Identical extractions and confidence: scores are equal, inside the
	// margin. The first configured provider must win regardless of input order.
	c1 := candidate("genai", 0.8, completeExtraction())
	c2 := candidate("gemini", 0.8, completeExtraction())

	decision, _, err := a.Select(context.Background(), []types.ExtractionCandidate{c1, c2})
	require.NoError(t, err)
	assert.Equal(t, "gemini", decision.SelectedProvider)
	assert.Contains(t, decision.Reasoning, "priority")
}

func TestSelectOutsideMarginNoTieBreak(t *testing.T) {
	called := false
	tie := tieBreakerFunc(func(ctx context.Context, a, b ScoredCandidate) (string, string, error) {
		called = true
		return a.Candidate.Provider, "n/a", nil
	})
	a := newTestArbiter(0.05, tie)

	incomplete := completeExtraction()
	incomplete.GeneralFields.InvoiceNumber = nil
	incomplete.GeneralFields.SupplierName = nil

	decision, _, err := a.Select(context.Background(), []types.ExtractionCandidate{
		candidate("gemini", 0.9, completeExtraction()),
		candidate("genai", 0.9, incomplete),
	})

	require.NoError(t, err)
	assert.Equal(t, "gemini", decision.SelectedProvider)
	assert.False(t, called)
}

type tieBreakerFunc func(ctx context.Context, a, b ScoredCandidate) (string, string, error)

func (f tieBreakerFunc) Resolve(ctx context.Context, a, b ScoredCandidate) (string, string, error) {
	return f(ctx, a, b)
}

func TestSelectLLMTieBreakUsed(t *testing.T) {
	tie := tieBreakerFunc(func(ctx context.Context, a, b ScoredCandidate) (string, string, error) {
		return "genai", "second candidate has a more specific supplier name", nil
	})
	a := newTestArbiter(0.15, tie)

	decision, _, err := a.Select(context.Background(), []types.ExtractionCandidate{
		candidate("gemini", 0.8, completeExtraction()),
		candidate("genai", 0.8, completeExtraction()),
	})

	require.NoError(t, err)
	assert.Equal(t, "genai", decision.SelectedProvider)
	assert.Contains(t, decision.Reasoning, "supplier name")
}

func TestSelectLLMTieBreakFailureFallsBack(t *testing.T) {
	tie := tieBreakerFunc(func(ctx context.Context, a, b ScoredCandidate) (string, string, error) {
		return "", "", fmt.Errorf("model unavailable")
	})
	a := newTestArbiter(0.15, tie)

	decision, _, err := a.Select(context.Background(), []types.ExtractionCandidate{
		candidate("genai", 0.8, completeExtraction()),
		candidate("gemini", 0.8, completeExtraction()),
	})

	require.NoError(t, err)
	assert.Equal(t, "gemini", decision.SelectedProvider)
}

func TestSelectLLMTieBreakUnknownProviderFallsBack(t *testing.T) {
	tie := tieBreakerFunc(func(ctx context.Context, a, b ScoredCandidate) (string, string, error) {
		return "mystery", "hallucinated", nil
	})
	a := newTestArbiter(0.15, tie)

	decision, _, err := a.Select(context.Background(), []types.ExtractionCandidate{
		candidate("genai", 0.8, completeExtraction()),
		candidate("gemini", 0.8, completeExtraction()),
	})

	require.NoError(t, err)
	assert.Equal(t, "gemini", decision.SelectedProvider)
}

func TestSelfConsistencyFractional(t *testing.T) {
	e := completeExtraction()
	e.Items = append(e.Items, types.InvoiceItem{
		ProductName: types.StrPtr("Gadget"),
		Quantity:    types.FloatPtr(3),
		UnitPrice:   types.FloatPtr(10.00),
		TotalPrice:  types.FloatPtr(99.00),
	})

	assert.Equal(t, 0.5, selfConsistency(e, 0.01))
}

func TestSelfConsistencyNoCheckableItems(t *testing.T) {
	e := types.InvoiceExtraction{
		Items: []types.InvoiceItem{{ProductName: types.StrPtr("no numbers")}},
	}
	assert.Equal(t, 1.0, selfConsistency(e, 0.01))
	assert.Equal(t, 1.0, selfConsistency(types.InvoiceExtraction{}, 0.01))
}

func TestCompletenessFraction(t *testing.T) {
	e := completeExtraction()
	assert.Equal(t, 1.0, completeness(e))

	e.GeneralFields.SupplierName = nil
	e.GeneralFields.Currency = types.StrPtr("")
	assert.InDelta(t, 0.6, completeness(e), 1e-9)

	assert.Equal(t, 0.0, completeness(types.InvoiceExtraction{}))
}

func TestConfidenceClamped(t *testing.T) {
	a := newTestArbiter(0.01, nil)
	sc := a.score(candidate("gemini", 1.8, completeExtraction()))
	assert.Equal(t, 1.0, sc.Confidence)

	sc = a.score(candidate("gemini", -0.2, completeExtraction()))
	assert.Equal(t, 0.0, sc.Confidence)
}
