package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Run status values. A run is immutable once it reaches a terminal status.
const (
	RunStatusPending   = "pending"
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

// Step names, one per pipeline stage.
const (
	StepOcrExtraction     = "ocr_extraction"
	StepQualityAssessment = "quality_assessment"
	StepLlmExtraction     = "llm_extraction"
	StepDecision          = "decision"
	StepValidation        = "validation"
)

// Step record status values.
const (
	StepStatusOK      = "ok"
	StepStatusFailed  = "failed"
	StepStatusSkipped = "skipped"
)

// StepRecord is one observability entry per stage attempt. Records are
// append-only; retried attempts each get their own record.
type StepRecord struct {
	Step       string
	Status     string
	Duration   time.Duration
	Confidence *float64
	Provider   string
	Attempt    int
	Error      string
}

// stepRecordJSON is the wire form of a StepRecord. Durations travel as
// whole milliseconds.
type stepRecordJSON struct {
	Step       string   `json:"step"`
	Status     string   `json:"status"`
	DurationMS int64    `json:"duration_ms"`
	Confidence *float64 `json:"confidence,omitempty"`
	Provider   string   `json:"provider,omitempty"`
	Attempt    int      `json:"attempt,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (r StepRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(stepRecordJSON{
		Step:       r.Step,
		Status:     r.Status,
		DurationMS: r.Duration.Milliseconds(),
		Confidence: r.Confidence,
		Provider:   r.Provider,
		Attempt:    r.Attempt,
		Error:      r.Error,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *StepRecord) UnmarshalJSON(data []byte) error {
	var w stepRecordJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*r = StepRecord{
		Step:       w.Step,
		Status:     w.Status,
		Duration:   time.Duration(w.DurationMS) * time.Millisecond,
		Confidence: w.Confidence,
		Provider:   w.Provider,
		Attempt:    w.Attempt,
		Error:      w.Error,
	}
	return nil
}

// PipelineRun tracks one end-to-end execution. It is owned exclusively by
// the orchestrator executing it; readers only ever see appended state.
type PipelineRun struct {
	ID          uuid.UUID    `json:"id"`
	Document    string       `json:"document"`
	Status      string       `json:"status"`
	Steps       []StepRecord `json:"steps"`
	CreatedAt   time.Time    `json:"created_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}

// Terminal reports whether the run has reached a final status.
func (r *PipelineRun) Terminal() bool {
	return r.Status == RunStatusSucceeded || r.Status == RunStatusFailed
}

// ItemCheck is the arithmetic check result for one line item.
type ItemCheck struct {
	ItemIndex int      `json:"item_index"`
	Product   string   `json:"product,omitempty"`
	Expected  *float64 `json:"expected,omitempty"`
	Actual    *float64 `json:"actual,omitempty"`
	Valid     bool     `json:"valid"`
	Skipped   bool     `json:"skipped,omitempty"`
	Reason    string   `json:"reason,omitempty"`
}

// Tax check statuses.
const (
	TaxCheckValid         = "valid"
	TaxCheckInvalid       = "invalid"
	TaxCheckNotApplicable = "not_applicable"
)

// TaxCheck is the tax consistency result over the invoice totals.
type TaxCheck struct {
	Status          string   `json:"status"`
	ItemsSubtotal   *float64 `json:"items_subtotal,omitempty"`
	ExpectedWithTax *float64 `json:"expected_with_tax,omitempty"`
	ActualTotal     *float64 `json:"actual_total,omitempty"`
	TaxRate         float64  `json:"tax_rate,omitempty"`
	VatApplied      bool     `json:"vat_applied,omitempty"`
	Reason          string   `json:"reason,omitempty"`
}

// ValidationReport aggregates every deterministic check over the chosen
// extraction. Validation annotates; it never fails a run.
type ValidationReport struct {
	ItemCalculations []ItemCheck `json:"item_calculations"`
	TaxValidation    TaxCheck    `json:"tax_validation"`
	AllValid         bool        `json:"all_valid"`
}

// RunResult is the externally visible output of a run, keyed by run id.
type RunResult struct {
	RunID          uuid.UUID          `json:"run_id"`
	Status         string             `json:"status"`
	Data           *InvoiceExtraction `json:"data,omitempty"`
	OcrText        string             `json:"ocr_text,omitempty"`
	QualityWarning bool               `json:"quality_warning,omitempty"`
	Decision       *Decision          `json:"decision,omitempty"`
	Validations    *ValidationReport  `json:"validations,omitempty"`
	Error          string             `json:"error,omitempty"`
	Steps          []StepRecord       `json:"steps"`
}
