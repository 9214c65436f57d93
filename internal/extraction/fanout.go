package extraction

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jonathan/invoice-pipeline/internal/ratelimit"
	"github.com/jonathan/invoice-pipeline/internal/types"
)

// Outcome is the terminal state of one provider's extraction call. Exactly
// one of Candidate and Err is set.
type Outcome struct {
	Provider  string
	Candidate *types.ExtractionCandidate
	Err       error
	Duration  time.Duration
}

// FanOutOptions configure a fan-out stage.
type FanOutOptions struct {
	CallTimeout  time.Duration
	StageTimeout time.Duration
	Limiter      *ratelimit.Limiter
}

// FanOut issues one concurrent extraction call per provider and waits for
// every call to reach a terminal state. This is a join-all, not a race:
// disagreement between providers is signal for the arbiter, so the fastest
// result is never returned alone. Outcomes are aligned with the input
// provider order regardless of completion order. An error from one provider
// never aborts its siblings; only if every provider fails does FanOut
// return AllExtractionsFailedError.
func FanOut(ctx context.Context, providers []Provider, req Request, opts FanOutOptions) ([]Outcome, error) {
	if len(providers) == 0 {
		return nil, &AllExtractionsFailedError{Causes: map[string]error{}}
	}

	stageCtx := ctx
	if opts.StageTimeout > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeout(ctx, opts.StageTimeout)
		defer cancel()
	}

	outcomes := make([]Outcome, len(providers))

	// Plain errgroup used as a join-all: workers always return nil so a
	// failing sibling cannot cancel the group.
	var g errgroup.Group
	for i, provider := range providers {
		g.Go(func() error {
			outcomes[i] = callOne(stageCtx, provider, req, opts)
			return nil
		})
	}
	_ = g.Wait()

	failures := make(map[string]error, len(providers))
	for _, o := range outcomes {
		if o.Err != nil {
			failures[o.Provider] = o.Err
		}
	}
	if len(failures) == len(providers) {
		return outcomes, &AllExtractionsFailedError{Causes: failures}
	}

	return outcomes, nil
}

func callOne(ctx context.Context, p Provider, req Request, opts FanOutOptions) Outcome {
	started := time.Now()
	out := Outcome{Provider: p.Name()}

	if err := opts.Limiter.Wait(ctx, p.Name()); err != nil {
		out.Err = err
		out.Duration = time.Since(started)
		return out
	}

	callCtx := ctx
	if opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, opts.CallTimeout)
		defer cancel()
	}

	candidate, err := p.ExtractStructured(callCtx, req)
	out.Duration = time.Since(started)
	if err != nil {
		out.Err = err
		return out
	}

	candidate.Provider = p.Name()
	candidate.Confidence = clamp01(candidate.Confidence)
	out.Candidate = &candidate
	return out
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
