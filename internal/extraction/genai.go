package extraction

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/jonathan/invoice-pipeline/internal/types"
)

// invoiceResponseSchema constrains the genai provider's output server-side,
// on top of the local schema check every candidate goes through.
var invoiceResponseSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"general_fields": {
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"invoice_number": {Type: genai.TypeString, Nullable: genai.Ptr(true)},
				"date":           {Type: genai.TypeString, Nullable: genai.Ptr(true)},
				"supplier_name":  {Type: genai.TypeString, Nullable: genai.Ptr(true)},
				"total_amount":   {Type: genai.TypeNumber, Nullable: genai.Ptr(true)},
				"currency":       {Type: genai.TypeString, Nullable: genai.Ptr(true)},
			},
		},
		"items": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"product_name": {Type: genai.TypeString, Nullable: genai.Ptr(true)},
					"quantity":     {Type: genai.TypeNumber, Nullable: genai.Ptr(true)},
					"unit_price":   {Type: genai.TypeNumber, Nullable: genai.Ptr(true)},
					"total_price":  {Type: genai.TypeNumber, Nullable: genai.Ptr(true)},
					"description":  {Type: genai.TypeString, Nullable: genai.Ptr(true)},
				},
			},
		},
		"confidence": {Type: genai.TypeNumber},
	},
	Required: []string{"general_fields", "items", "confidence"},
}

// GenaiProvider extracts structured invoice data through the google.golang.org/genai
// SDK. It runs as an independent second engine in the fan-out so the
// arbiter has disagreement to work with.
type GenaiProvider struct {
	client *genai.Client
	model  string
}

// NewGenaiProvider creates the genai-backed extraction provider.
func NewGenaiProvider(ctx context.Context, apiKey, model string) (*GenaiProvider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  strings.TrimSpace(apiKey),
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GenaiProvider{client: client, model: model}, nil
}

// Name implements Provider.
func (p *GenaiProvider) Name() string { return "genai" }

// ExtractStructured implements Provider.
func (p *GenaiProvider) ExtractStructured(ctx context.Context, req Request) (types.ExtractionCandidate, error) {
	if strings.TrimSpace(req.OcrText) == "" {
		return types.ExtractionCandidate{}, fmt.Errorf("empty OCR text")
	}

	resp, err := p.client.Models.GenerateContent(
		ctx,
		p.model,
		genai.Text(BuildPrompt(req)),
		&genai.GenerateContentConfig{
			CandidateCount:   1,
			ResponseMIMEType: "application/json",
			ResponseSchema:   invoiceResponseSchema,
		},
	)
	if err != nil {
		return types.ExtractionCandidate{}, fmt.Errorf("failed to generate content: %w", err)
	}

	return ParseCandidate(resp.Text())
}
