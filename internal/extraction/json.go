package extraction

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jonathan/invoice-pipeline/internal/types"
)

// candidatePayload mirrors the JSON shape the providers are prompted to
// return.
type candidatePayload struct {
	GeneralFields types.InvoiceGeneral `json:"general_fields"`
	Items         []types.InvoiceItem  `json:"items"`
	Confidence    float64              `json:"confidence"`
}

// ParseCandidate decodes a provider's raw JSON response into a candidate,
// validating it against the invoice extraction schema first. Malformed or
// schema-violating output is a provider call failure.
func ParseCandidate(raw string) (types.ExtractionCandidate, error) {
	cleaned := CleanJSONBlock(raw)

	if err := ValidatePayload(cleaned); err != nil {
		return types.ExtractionCandidate{}, err
	}

	var payload candidatePayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return types.ExtractionCandidate{}, fmt.Errorf("parse extraction JSON: %w", err)
	}

	items := payload.Items
	if items == nil {
		items = []types.InvoiceItem{}
	}

	return types.ExtractionCandidate{
		Extraction: types.InvoiceExtraction{
			GeneralFields: payload.GeneralFields,
			Items:         items,
		},
		Confidence: payload.Confidence,
	}, nil
}

// CleanJSONBlock removes markdown code block wrappers from JSON responses.
// LLMs often wrap JSON in ```json ... ``` blocks even when instructed not
// to.
func CleanJSONBlock(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		return strings.TrimSpace(text)
	}

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		// Skip a potential language identifier on the first line.
		if idx := strings.Index(text, "\n"); idx >= 0 {
			firstLine := text[:idx]
			if len(firstLine) < 20 && !strings.Contains(firstLine, " ") && !strings.Contains(firstLine, "{") {
				text = text[idx+1:]
			}
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		return strings.TrimSpace(text)
	}

	return text
}
