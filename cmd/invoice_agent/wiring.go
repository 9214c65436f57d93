package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jonathan/invoice-pipeline/internal/config"
	"github.com/jonathan/invoice-pipeline/internal/decision"
	"github.com/jonathan/invoice-pipeline/internal/extraction"
	"github.com/jonathan/invoice-pipeline/internal/observability"
	"github.com/jonathan/invoice-pipeline/internal/ocr"
	"github.com/jonathan/invoice-pipeline/internal/pipeline"
	"github.com/jonathan/invoice-pipeline/internal/quality"
	"github.com/jonathan/invoice-pipeline/internal/ratelimit"
	"github.com/jonathan/invoice-pipeline/internal/validation"
)

// buildRunner assembles the pipeline from configuration. The returned
// cleanup function closes every provider client.
func buildRunner(ctx context.Context, cfg *config.Config, verbose bool) (*pipeline.Runner, func(), error) {
	var closers []io.Closer
	cleanup := func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}

	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if needsAPIKey(cfg) && cfg.APIKey == "" {
		return nil, nil, fmt.Errorf("GEMINI_API_KEY environment variable or --api-key flag is required for the configured providers")
	}

	limiter := ratelimit.New(cfg.RateLimitRPS, cfg.RateLimitBurst)

	var ocrProviders []ocr.Provider
	for _, name := range cfg.OCRProviders {
		switch name {
		case config.OCRProviderTesseract:
			ocrProviders = append(ocrProviders, ocr.NewTesseractProvider())
		case config.OCRProviderGeminiVision:
			p, err := ocr.NewGeminiVisionProvider(ctx, cfg.APIKey, cfg.GeminiModel)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("failed to create gemini vision provider: %w", err)
			}
			closers = append(closers, p)
			ocrProviders = append(ocrProviders, p)
		default:
			cleanup()
			return nil, nil, fmt.Errorf("unknown OCR provider %q", name)
		}
	}

	chain := ocr.NewChain(ocrProviders, ocr.ChainOptions{
		MaxRetriesPerProvider: cfg.OCRMaxRetries,
		MinConfidence:         cfg.MinConfidence,
		BackoffBase:           cfg.BackoffBase(),
		BackoffCap:            cfg.BackoffCap(),
		CallTimeout:           cfg.CallTimeout(),
		Limiter:               limiter,
	})

	extractorNames := cfg.EffectiveExtractionProviders()
	var extractors []extraction.Provider
	for _, name := range extractorNames {
		switch name {
		case config.ExtractionProviderGemini:
			p, err := extraction.NewGeminiProvider(ctx, cfg.APIKey, cfg.GeminiModel)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("failed to create gemini extractor: %w", err)
			}
			closers = append(closers, p)
			extractors = append(extractors, p)
		case config.ExtractionProviderGenai:
			p, err := extraction.NewGenaiProvider(ctx, cfg.APIKey, cfg.GenaiModel)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("failed to create genai extractor: %w", err)
			}
			extractors = append(extractors, p)
		default:
			cleanup()
			return nil, nil, fmt.Errorf("unknown extraction provider %q", name)
		}
	}

	var tie decision.TieBreaker
	if cfg.ArbiterEnabled {
		breaker, err := decision.NewLLMTieBreaker(ctx, cfg.APIKey, cfg.GeminiModel)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("failed to create tie-break arbiter: %w", err)
		}
		closers = append(closers, breaker)
		tie = breaker
	}

	weights := decision.Weights{
		Completeness: cfg.CompletenessWeight,
		Consistency:  cfg.ConsistencyWeight,
		Confidence:   cfg.ConfidenceWeight,
	}

	runner := &pipeline.Runner{
		OCR:        chain,
		Gate:       quality.NewGate(cfg.MinConfidence, cfg.QualityMinTextLength, cfg.QualityMaxSpecialRatio, cfg.QualityRetryLanguage),
		Extractors: extractors,
		Arbiter:    decision.NewArbiter(weights, cfg.IndifferenceMargin, cfg.Tolerance, extractorNames, tie),
		Validator:  validation.NewEngine(cfg.Tolerance, cfg.TaxRate, 1.0),
		FanOut: extraction.FanOutOptions{
			CallTimeout:  cfg.CallTimeout(),
			StageTimeout: cfg.FanoutTimeout(),
			Limiter:      limiter,
		},
		Language: cfg.OCRLanguage,
		WorkDir:  filepath.Join(cfg.DataDir, "work"),
		Verbose:  verbose,
		Printer:  observability.NewPrinter(os.Stdout),
	}
	return runner, cleanup, nil
}

// needsAPIKey reports whether any configured provider calls Gemini.
func needsAPIKey(cfg *config.Config) bool {
	if cfg.ArbiterEnabled {
		return true
	}
	for _, p := range cfg.OCRProviders {
		if p == config.OCRProviderGeminiVision {
			return true
		}
	}
	for _, p := range cfg.EffectiveExtractionProviders() {
		if p == config.ExtractionProviderGemini || p == config.ExtractionProviderGenai {
			return true
		}
	}
	return false
}
