// Package extraction fans the OCR text out to the configured structured
// extraction providers and collects their candidates.
package extraction

import (
	"context"
	"fmt"
	"strings"

	"github.com/jonathan/invoice-pipeline/internal/types"
)

// FewShotExample is an optional worked example included in the extraction
// prompt.
type FewShotExample struct {
	OcrText string
	Output  types.InvoiceExtraction
}

// Request carries everything a provider needs for one structured
// extraction call.
type Request struct {
	OcrText string
	FewShot []FewShotExample
}

// Provider is the capability contract satisfied by any structured
// extraction engine.
type Provider interface {
	// Name returns the provider identifier used in step records, priority
	// ordering, and tie-breaking.
	Name() string
	// ExtractStructured turns OCR text into an invoice candidate. The
	// candidate's Confidence is the provider's own estimate, clamped to
	// [0,1] by the caller.
	ExtractStructured(ctx context.Context, req Request) (types.ExtractionCandidate, error)
}

// AllExtractionsFailedError is returned when every configured extraction
// provider failed or timed out.
type AllExtractionsFailedError struct {
	Causes map[string]error
}

func (e *AllExtractionsFailedError) Error() string {
	parts := make([]string, 0, len(e.Causes))
	for provider, err := range e.Causes {
		parts = append(parts, fmt.Sprintf("%s: %v", provider, err))
	}
	return "all extraction providers failed: " + strings.Join(parts, "; ")
}
