// Package ratelimit throttles calls to external capability providers.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter hands out one token-bucket limiter per provider so a slow or
// retried provider cannot starve its siblings of quota.
type Limiter struct {
	rps   rate.Limit
	burst int

	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
	disabled bool
}

// New creates a Limiter. An rps of zero disables limiting entirely.
func New(rps float64, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		buckets:  make(map[string]*rate.Limiter),
		disabled: rps <= 0,
	}
}

// Wait blocks until the provider's bucket has a token or ctx is done.
func (l *Limiter) Wait(ctx context.Context, provider string) error {
	if l == nil || l.disabled {
		return nil
	}
	return l.bucket(provider).Wait(ctx)
}

// Allow reports whether a call for the provider may proceed immediately.
func (l *Limiter) Allow(provider string) bool {
	if l == nil || l.disabled {
		return true
	}
	return l.bucket(provider).Allow()
}

func (l *Limiter) bucket(provider string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[provider]
	if !ok {
		b = rate.NewLimiter(l.rps, l.burst)
		l.buckets[provider] = b
	}
	return b
}
