package types

// OcrResult is the output of one OCR provider call. Immutable once returned
// by a provider.
type OcrResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Language   string  `json:"language,omitempty"`
	Provider   string  `json:"provider"`
	PageIndex  int     `json:"page_index"`

	// BelowThreshold marks a result that was the best available evidence
	// even though no provider met the configured confidence floor.
	BelowThreshold bool `json:"below_threshold,omitempty"`
	// RetryCount is the number of quality-gate retry cycles that produced
	// this result.
	RetryCount int `json:"retry_count,omitempty"`
}

// OcrParams are the adjustable knobs a quality-gate retry may change.
type OcrParams struct {
	Language   string `json:"language,omitempty"`
	PageSegMod int    `json:"page_seg_mode,omitempty"`
	DPI        int    `json:"dpi,omitempty"`
}

// QualityAssessment is the quality gate's verdict on an OCR result.
type QualityAssessment struct {
	Quality     string     `json:"quality"` // "good" or "poor"
	Confidence  float64    `json:"confidence"`
	Issues      []string   `json:"issues,omitempty"`
	ShouldRetry bool       `json:"should_retry"`
	RetryParams *OcrParams `json:"retry_params,omitempty"`
}

// Quality ratings produced by the quality gate.
const (
	QualityGood = "good"
	QualityPoor = "poor"
)
