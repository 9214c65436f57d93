// Package decision selects a winning extraction candidate from the
// fan-out output. Scoring is deterministic and independent of the order
// in which candidates arrive.
package decision

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/jonathan/invoice-pipeline/internal/types"
)

// Weights control the three scoring components. Completeness carries the
// highest weight: an incomplete record is unusable regardless of how
// confident its provider was.
type Weights struct {
	Completeness float64
	Consistency  float64
	Confidence   float64
}

// DefaultWeights mirrors the pipeline defaults.
func DefaultWeights() Weights {
	return Weights{Completeness: 0.5, Consistency: 0.3, Confidence: 0.2}
}

// TieBreaker resolves two candidates whose scores fall within the
// indifference margin. Implementations may consult an external model; a
// failure falls back to the deterministic provider priority.
type TieBreaker interface {
	Resolve(ctx context.Context, a, b ScoredCandidate) (provider string, reasoning string, err error)
}

// ScoredCandidate pairs a candidate with its component scores.
type ScoredCandidate struct {
	Candidate    types.ExtractionCandidate
	Completeness float64
	Consistency  float64
	Confidence   float64
	Score        float64
	priority     int
}

// Arbiter scores candidates and picks a winner.
type Arbiter struct {
	weights   Weights
	margin    float64
	tolerance float64
	priority  map[string]int
	order     []string
	tie       TieBreaker
}

// NewArbiter builds an arbiter. providerOrder is the configured provider
// priority; earlier entries win deterministic tie-breaks. tie may be nil.
func NewArbiter(weights Weights, margin, tolerance float64, providerOrder []string, tie TieBreaker) *Arbiter {
	priority := make(map[string]int, len(providerOrder))
	for i, p := range providerOrder {
		priority[p] = i
	}
	return &Arbiter{
		weights:   weights,
		margin:    margin,
		tolerance: tolerance,
		priority:  priority,
		order:     providerOrder,
		tie:       tie,
	}
}

// Select scores every candidate and returns the winner with a rationale.
// The candidate list must be non-empty. A single candidate is still scored
// so the decision record carries its components.
func (a *Arbiter) Select(ctx context.Context, candidates []types.ExtractionCandidate) (types.Decision, []ScoredCandidate, error) {
	if len(candidates) == 0 {
		return types.Decision{}, nil, fmt.Errorf("no candidates to arbitrate")
	}

	scored := make([]ScoredCandidate, 0, len(candidates))
	for _, c := range candidates {
		scored = append(scored, a.score(c))
	}

	// Deterministic ranking: score descending, then configured priority,
	// then provider name. Arrival order never participates.
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if scored[i].priority != scored[j].priority {
			return scored[i].priority < scored[j].priority
		}
		return scored[i].Candidate.Provider < scored[j].Candidate.Provider
	})

	winner := scored[0]
	reasoning := fmt.Sprintf("highest score %.3f (completeness %.2f, consistency %.2f, confidence %.2f)",
		winner.Score, winner.Completeness, winner.Consistency, winner.Confidence)

	if len(scored) > 1 && math.Abs(scored[0].Score-scored[1].Score) < a.margin {
		winner, reasoning = a.breakTie(ctx, scored[0], scored[1])
	}

	return types.Decision{
		SelectedProvider: winner.Candidate.Provider,
		Score:            winner.Score,
		Reasoning:        reasoning,
		Result:           winner.Candidate.Extraction,
	}, scored, nil
}

// breakTie picks between two near-equal candidates. The external tie
// breaker is consulted when configured; any failure or unrecognized answer
// falls back to configured provider priority, which is always defined.
func (a *Arbiter) breakTie(ctx context.Context, first, second ScoredCandidate) (ScoredCandidate, string) {
	if a.tie != nil {
		provider, reasoning, err := a.tie.Resolve(ctx, first, second)
		if err == nil {
			switch provider {
			case first.Candidate.Provider:
				return first, fmt.Sprintf("tie-break arbiter: %s", reasoning)
			case second.Candidate.Provider:
				return second, fmt.Sprintf("tie-break arbiter: %s", reasoning)
			}
		}
	}

	// scored slice is already ordered by priority for equal scores; for
	// near-equal scores re-apply priority explicitly.
	if second.priority < first.priority {
		return second, fmt.Sprintf("scores within margin %.2f of each other, %s has higher configured priority", a.margin, second.Candidate.Provider)
	}
	return first, fmt.Sprintf("scores within margin %.2f of each other, %s has higher configured priority", a.margin, first.Candidate.Provider)
}

func (a *Arbiter) score(c types.ExtractionCandidate) ScoredCandidate {
	sc := ScoredCandidate{
		Candidate:    c,
		Completeness: completeness(c.Extraction),
		Consistency:  selfConsistency(c.Extraction, a.tolerance),
		Confidence:   clamp01(c.Confidence),
	}
	sc.Score = a.weights.Completeness*sc.Completeness +
		a.weights.Consistency*sc.Consistency +
		a.weights.Confidence*sc.Confidence
	sc.priority = a.priorityOf(c.Provider)
	return sc
}

func (a *Arbiter) priorityOf(provider string) int {
	if p, ok := a.priority[provider]; ok {
		return p
	}
	return len(a.order)
}

// completeness is the fraction of the five general fields that are
// populated and non-empty.
func completeness(e types.InvoiceExtraction) float64 {
	total := 5.0
	filled := 0.0
	g := e.GeneralFields
	if g.InvoiceNumber != nil && *g.InvoiceNumber != "" {
		filled++
	}
	if g.Date != nil && *g.Date != "" {
		filled++
	}
	if g.SupplierName != nil && *g.SupplierName != "" {
		filled++
	}
	if g.TotalAmount != nil {
		filled++
	}
	if g.Currency != nil && *g.Currency != "" {
		filled++
	}
	return filled / total
}

// selfConsistency is the fraction of arithmetically checkable line items
// whose quantity times unit price matches the line total within the
// tolerance. Items missing any of the three numbers are not checkable and
// do not count either way; a candidate with no checkable items scores 1.0.
func selfConsistency(e types.InvoiceExtraction, tolerance float64) float64 {
	checkable := 0
	passing := 0
	for _, item := range e.Items {
		if item.Quantity == nil || item.UnitPrice == nil || item.TotalPrice == nil {
			continue
		}
		checkable++
		expected := *item.Quantity * *item.UnitPrice
		if math.Abs(expected-*item.TotalPrice) <= tolerance {
			passing++
		}
	}
	if checkable == 0 {
		return 1.0
	}
	return float64(passing) / float64(checkable)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
