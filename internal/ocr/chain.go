package ocr

import (
	"context"
	"fmt"
	"time"

	"github.com/jonathan/invoice-pipeline/internal/ratelimit"
	"github.com/jonathan/invoice-pipeline/internal/types"
)

// AttemptObserver receives one step record per provider attempt, success or
// failure, in the order the attempts were made.
type AttemptObserver func(rec types.StepRecord)

// ChainOptions configure a provider chain run.
type ChainOptions struct {
	MaxRetriesPerProvider int
	MinConfidence         float64
	BackoffBase           time.Duration
	BackoffCap            time.Duration
	CallTimeout           time.Duration
	Limiter               *ratelimit.Limiter
}

// Chain runs OCR providers in priority order. Fallback semantics require
// trying providers sequentially, never racing them.
type Chain struct {
	providers []Provider
	opts      ChainOptions

	// sleep is swapped out in tests to avoid real backoff delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewChain creates a chain over the given priority-ordered providers.
func NewChain(providers []Provider, opts ChainOptions) *Chain {
	if opts.MaxRetriesPerProvider < 1 {
		opts.MaxRetriesPerProvider = 1
	}
	return &Chain{
		providers: providers,
		opts:      opts,
		sleep:     sleepCtx,
	}
}

// Run tries each provider in order with per-provider retry and exponential
// backoff. A result meeting MinConfidence returns immediately. If every call
// fails the chain returns AllProvidersExhaustedError; if at least one call
// succeeded but none met the threshold, the best result is returned with
// BelowThreshold set so the quality gate can decide.
func (c *Chain) Run(ctx context.Context, pagePath string, pageIndex int, params types.OcrParams, observe AttemptObserver) (types.OcrResult, error) {
	if len(c.providers) == 0 {
		return types.OcrResult{}, fmt.Errorf("no OCR providers configured")
	}

	var (
		best     types.OcrResult
		haveBest bool
		lastErr  error
		attempts int
	)

	for _, provider := range c.providers {
		delay := c.opts.BackoffBase

		for attempt := 1; attempt <= c.opts.MaxRetriesPerProvider; attempt++ {
			if err := ctx.Err(); err != nil {
				return types.OcrResult{}, err
			}

			attempts++
			started := time.Now()
			result, err := c.callProvider(ctx, provider, pagePath, pageIndex, params)

			if err != nil {
				lastErr = err
				emit(observe, types.StepRecord{
					Step:     types.StepOcrExtraction,
					Status:   types.StepStatusFailed,
					Duration: time.Since(started),
					Provider: provider.Name(),
					Attempt:  attempt,
					Error:    err.Error(),
				})
				if ctx.Err() != nil {
					return types.OcrResult{}, ctx.Err()
				}
				if attempt < c.opts.MaxRetriesPerProvider {
					if err := c.sleep(ctx, delay); err != nil {
						return types.OcrResult{}, err
					}
					delay = nextDelay(delay, c.opts.BackoffCap)
				}
				continue
			}

			emit(observe, types.StepRecord{
				Step:       types.StepOcrExtraction,
				Status:     types.StepStatusOK,
				Duration:   time.Since(started),
				Provider:   provider.Name(),
				Attempt:    attempt,
				Confidence: types.FloatPtr(result.Confidence),
			})

			if result.Confidence >= c.opts.MinConfidence {
				return result, nil
			}

			if !haveBest || result.Confidence > best.Confidence {
				best = result
				haveBest = true
			}
			// A successful low-confidence call is deterministic for this
			// engine; retrying it buys nothing, so fall through to the
			// next provider.
			break
		}
	}

	if !haveBest {
		return types.OcrResult{}, &AllProvidersExhaustedError{Attempts: attempts, Last: lastErr}
	}

	best.BelowThreshold = true
	return best, nil
}

// callProvider applies the rate limit and per-call timeout. Providers that
// cannot observe ctx themselves (cgo-backed engines) are abandoned when the
// deadline fires; the goroutine drains on its own.
func (c *Chain) callProvider(ctx context.Context, p Provider, pagePath string, pageIndex int, params types.OcrParams) (types.OcrResult, error) {
	if err := c.opts.Limiter.Wait(ctx, p.Name()); err != nil {
		return types.OcrResult{}, err
	}

	callCtx := ctx
	if c.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.opts.CallTimeout)
		defer cancel()
	}

	type outcome struct {
		result types.OcrResult
		err    error
	}
	ch := make(chan outcome, 1)
	go func() {
		r, err := p.Extract(callCtx, pagePath, pageIndex, params)
		ch <- outcome{result: r, err: err}
	}()

	select {
	case <-callCtx.Done():
		return types.OcrResult{}, fmt.Errorf("provider %s: %w", p.Name(), callCtx.Err())
	case o := <-ch:
		if o.err != nil {
			return types.OcrResult{}, fmt.Errorf("provider %s: %w", p.Name(), o.err)
		}
		return o.result, nil
	}
}

func nextDelay(current, ceiling time.Duration) time.Duration {
	next := current * 2
	if ceiling > 0 && next > ceiling {
		return ceiling
	}
	return next
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func emit(observe AttemptObserver, rec types.StepRecord) {
	if observe != nil {
		observe(rec)
	}
}
