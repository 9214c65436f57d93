// Package config provides configuration loading and validation for the
// invoice extraction pipeline.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
)

// Provider names understood by the OCR chain and the extraction fan-out.
const (
	OCRProviderTesseract    = "tesseract"
	OCRProviderGeminiVision = "gemini-vision"

	ExtractionProviderGemini = "gemini"
	ExtractionProviderGenai  = "genai"
)

// Config holds every tunable of the pipeline. All fields can be loaded from
// a JSON file; missing values fall back to Default(). Provider lists are
// priority-ordered: the first entry is tried first (OCR) and wins ties
// (extraction).
type Config struct {
	// OCR chain
	OCRProviders  []string `json:"ocr_providers" validate:"min=1,dive,oneof=tesseract gemini-vision"`
	OCRLanguage   string   `json:"ocr_language"`
	OCRMaxRetries int      `json:"ocr_max_retries" validate:"gte=1"`
	BackoffBaseMS int      `json:"backoff_base_ms" validate:"gte=0"`
	BackoffCapMS  int      `json:"backoff_cap_ms" validate:"gte=0"`
	MinConfidence float64  `json:"min_confidence" validate:"gte=0,lte=1"`

	// Quality gate
	QualityMinTextLength   int     `json:"quality_min_text_length" validate:"gte=0"`
	QualityMaxSpecialRatio float64 `json:"quality_max_special_ratio" validate:"gte=0,lte=1"`
	QualityRetryLanguage   string  `json:"quality_retry_language"`

	// Extraction fan-out
	ExtractionProviders []string `json:"extraction_providers" validate:"min=1,dive,oneof=gemini genai"`
	ParallelEnabled     bool     `json:"parallel_enabled"`
	CallTimeoutMS       int      `json:"call_timeout_ms" validate:"gt=0"`
	FanoutTimeoutMS     int      `json:"fanout_timeout_ms" validate:"gt=0"`

	// Decision arbiter
	CompletenessWeight float64 `json:"completeness_weight" validate:"gte=0"`
	ConsistencyWeight  float64 `json:"consistency_weight" validate:"gte=0"`
	ConfidenceWeight   float64 `json:"confidence_weight" validate:"gte=0"`
	IndifferenceMargin float64 `json:"indifference_margin" validate:"gte=0,lte=1"`
	ArbiterEnabled     bool    `json:"arbiter_enabled"`

	// Validation
	Tolerance float64 `json:"tolerance" validate:"gte=0"`
	TaxRate   float64 `json:"tax_rate" validate:"gte=0,lt=1"`

	// Providers / infrastructure
	APIKey         string  `json:"api_key,omitempty"`
	GeminiModel    string  `json:"gemini_model"`
	GenaiModel     string  `json:"genai_model"`
	RateLimitRPS   float64 `json:"rate_limit_rps" validate:"gte=0"`
	RateLimitBurst int     `json:"rate_limit_burst" validate:"gte=0"`
	Workers        int     `json:"workers" validate:"gte=1"`
	QueueSize      int     `json:"queue_size" validate:"gte=1"`
	DatabaseURL    string  `json:"database_url,omitempty"`
	DataDir        string  `json:"data_dir"`
}

// Default returns the baseline configuration. Every value can be overridden
// by a config file or CLI flags.
func Default() Config {
	return Config{
		OCRProviders:  []string{OCRProviderTesseract, OCRProviderGeminiVision},
		OCRLanguage:   "eng",
		OCRMaxRetries: 3,
		BackoffBaseMS: 1000,
		BackoffCapMS:  8000,
		MinConfidence: 0.7,

		QualityMinTextLength:   50,
		QualityMaxSpecialRatio: 0.3,
		QualityRetryLanguage:   "tur",

		ExtractionProviders: []string{ExtractionProviderGemini, ExtractionProviderGenai},
		ParallelEnabled:     true,
		CallTimeoutMS:       30000,
		FanoutTimeoutMS:     60000,

		CompletenessWeight: 0.5,
		ConsistencyWeight:  0.3,
		ConfidenceWeight:   0.2,
		IndifferenceMargin: 0.15,
		ArbiterEnabled:     true,

		Tolerance: 0.01,
		TaxRate:   0.18,

		GeminiModel:    "gemini-2.5-flash",
		GenaiModel:     "gemini-2.5-flash-lite",
		RateLimitRPS:   2,
		RateLimitBurst: 4,
		Workers:        4,
		QueueSize:      64,
		DataDir:        "data",
	}
}

// Load reads a JSON config file and merges it over the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return &cfg, nil
}

// Validate checks ranges and cross-field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			ve := verrs[0]
			return fmt.Errorf("config error: field %q failed %q validation", ve.Field(), ve.Tag())
		}
		return fmt.Errorf("config validation failed: %w", err)
	}

	if c.BackoffCapMS < c.BackoffBaseMS {
		return fmt.Errorf("config error: 'backoff_cap_ms' must be >= 'backoff_base_ms'")
	}
	if c.FanoutTimeoutMS < c.CallTimeoutMS {
		return fmt.Errorf("config error: 'fanout_timeout_ms' must be >= 'call_timeout_ms'")
	}
	if c.CompletenessWeight+c.ConsistencyWeight+c.ConfidenceWeight <= 0 {
		return fmt.Errorf("config error: arbiter weights must not all be zero")
	}

	return nil
}

// EffectiveExtractionProviders returns the provider list honoring the
// parallel toggle: with parallelism disabled only the highest-priority
// provider runs, as a trivial one-element fan-out.
func (c *Config) EffectiveExtractionProviders() []string {
	if !c.ParallelEnabled && len(c.ExtractionProviders) > 1 {
		return c.ExtractionProviders[:1]
	}
	return c.ExtractionProviders
}

// BackoffBase returns the initial retry delay.
func (c *Config) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMS) * time.Millisecond
}

// BackoffCap returns the retry delay ceiling.
func (c *Config) BackoffCap() time.Duration {
	return time.Duration(c.BackoffCapMS) * time.Millisecond
}

// CallTimeout returns the per-provider-call timeout.
func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutMS) * time.Millisecond
}

// FanoutTimeout returns the overall extraction stage timeout.
func (c *Config) FanoutTimeout() time.Duration {
	return time.Duration(c.FanoutTimeoutMS) * time.Millisecond
}
