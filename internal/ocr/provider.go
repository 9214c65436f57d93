// Package ocr drives the ordered chain of OCR capability providers with
// retry, backoff, and confidence-based fallback.
package ocr

import (
	"context"
	"fmt"

	"github.com/jonathan/invoice-pipeline/internal/document"
	"github.com/jonathan/invoice-pipeline/internal/types"
)

// Provider is the capability contract satisfied by any OCR engine. The
// orchestrator never sees a concrete engine; implementations are selected
// by configuration.
type Provider interface {
	// Name returns the provider identifier used in step records and
	// priority ordering.
	Name() string
	// Extract runs OCR over a single-page document file. Implementations
	// must honor ctx cancellation and report confidence in [0,1].
	Extract(ctx context.Context, pagePath string, pageIndex int, params types.OcrParams) (types.OcrResult, error)
}

// AllProvidersExhaustedError is returned when every configured provider
// failed every retry attempt without a single successful call.
type AllProvidersExhaustedError struct {
	Attempts int
	Last     error
}

func (e *AllProvidersExhaustedError) Error() string {
	if e.Last != nil {
		return fmt.Sprintf("all OCR providers exhausted after %d attempts: %v", e.Attempts, e.Last)
	}
	return fmt.Sprintf("all OCR providers exhausted after %d attempts", e.Attempts)
}

func (e *AllProvidersExhaustedError) Unwrap() error { return e.Last }

// Combine merges per-page OCR results into the single text handed to the
// extraction stage. Page texts are joined with an explicit page-break
// marker; confidence is the page average.
func Combine(results []types.OcrResult) (string, float64) {
	if len(results) == 0 {
		return "", 0
	}
	texts := make([]string, 0, len(results))
	var sum float64
	for _, r := range results {
		texts = append(texts, r.Text)
		sum += r.Confidence
	}
	return document.JoinPageTexts(texts), sum / float64(len(results))
}
