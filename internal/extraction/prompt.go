package extraction

import (
	"encoding/json"
	"fmt"
	"strings"
)

const extractionSystemPrompt = `You are an invoice data extraction expert.

Extract structured data from OCR text.

## General Fields
- invoice_number: Invoice/receipt number
- date: Invoice date (YYYY-MM-DD format)
- supplier_name: Seller/vendor name
- total_amount: Final total (numeric only)
- currency: 3-letter code (TRY, USD, EUR)

## Line Items
For each product/service:
- product_name: Item description
- quantity: Number of units (default: 1)
- unit_price: Price per unit
- total_price: Line total

## Rules
1. Return null for missing fields
2. For TAX invoices: KDV corresponds to VAT
3. Extract numeric values only (no symbols)
4. Dates should be ISO format
5. Also return a top-level "confidence" between 0 and 1 for the whole extraction.

Return ONLY valid JSON with this structure:
{"general_fields": {...}, "items": [...], "confidence": 0.0}
No markdown, no explanation, no code blocks.`

// BuildPrompt assembles the full extraction prompt: system instructions,
// optional few-shot examples, and the OCR text.
func BuildPrompt(req Request) string {
	var sb strings.Builder
	sb.WriteString(extractionSystemPrompt)
	sb.WriteString("\n\n")

	for i, ex := range req.FewShot {
		sb.WriteString(fmt.Sprintf("## Example %d\nOCR text:\n\"\"\"\n%s\n\"\"\"\n", i+1, ex.OcrText))
		if out, err := json.Marshal(ex.Output); err == nil {
			sb.WriteString("Output:\n")
			sb.Write(out)
			sb.WriteString("\n\n")
		}
	}

	sb.WriteString("Extract invoice data from this OCR text:\n\"\"\"\n")
	sb.WriteString(req.OcrText)
	sb.WriteString("\n\"\"\"\n")

	return sb.String()
}
