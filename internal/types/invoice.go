// Package types defines the shared data structures for the invoice
// extraction pipeline.
package types

// InvoiceItem is a single line item from an invoice.
type InvoiceItem struct {
	ProductName *string  `json:"product_name,omitempty"`
	Quantity    *float64 `json:"quantity,omitempty"`
	UnitPrice   *float64 `json:"unit_price,omitempty"`
	TotalPrice  *float64 `json:"total_price,omitempty"`
	Description *string  `json:"description,omitempty"`
}

// InvoiceGeneral holds the header fields of an invoice.
type InvoiceGeneral struct {
	InvoiceNumber *string  `json:"invoice_number,omitempty"`
	Date          *string  `json:"date,omitempty"`
	SupplierName  *string  `json:"supplier_name,omitempty"`
	TotalAmount   *float64 `json:"total_amount,omitempty"`
	Currency      *string  `json:"currency,omitempty"`
}

// InvoiceExtraction is a complete structured invoice payload.
type InvoiceExtraction struct {
	GeneralFields InvoiceGeneral `json:"general_fields"`
	Items         []InvoiceItem  `json:"items"`
}

// ExtractionCandidate is one provider's attempt at structuring the OCR text.
// Candidates are owned by the fan-out stage until they are handed to the
// decision arbiter.
type ExtractionCandidate struct {
	Extraction InvoiceExtraction `json:"extraction"`
	Provider   string            `json:"provider"`
	Confidence float64           `json:"confidence"`
}

// Decision is the arbiter's final selection among extraction candidates.
type Decision struct {
	SelectedProvider string            `json:"selected_provider"`
	Score            float64           `json:"score"`
	Reasoning        string            `json:"reasoning"`
	Result           InvoiceExtraction `json:"result"`
}

// StrPtr returns a pointer to s. Convenience for building payloads in tests
// and provider adapters.
func StrPtr(s string) *string { return &s }

// FloatPtr returns a pointer to f.
func FloatPtr(f float64) *float64 { return &f }
