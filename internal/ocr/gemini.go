package ocr

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/jonathan/invoice-pipeline/internal/types"
)

const geminiOcrPrompt = `You are an OCR engine. Transcribe ALL text visible in this document exactly
as it appears, preserving line breaks. Do not summarize, translate, or omit
anything. Return ONLY valid JSON with this structure:
{"text": "the full transcribed text", "confidence": 0.0}
where confidence is your transcription confidence between 0 and 1.`

// GeminiVisionProvider performs OCR through the Gemini multimodal API. Used
// as a fallback engine behind local Tesseract.
type GeminiVisionProvider struct {
	client *genai.Client
	model  string
}

// NewGeminiVisionProvider creates the Gemini-backed OCR provider.
func NewGeminiVisionProvider(ctx context.Context, apiKey, model string) (*GeminiVisionProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiVisionProvider{client: client, model: model}, nil
}

// Name implements Provider.
func (p *GeminiVisionProvider) Name() string { return "gemini-vision" }

// Extract implements Provider.
func (p *GeminiVisionProvider) Extract(ctx context.Context, pagePath string, pageIndex int, params types.OcrParams) (types.OcrResult, error) {
	data, err := os.ReadFile(pagePath)
	if err != nil {
		return types.OcrResult{}, fmt.Errorf("read page: %w", err)
	}

	model := p.client.GenerativeModel(p.model)
	model.SetTemperature(0)
	model.ResponseMIMEType = "application/json"

	resp, err := model.GenerateContent(ctx,
		genai.Blob{MIMEType: mimeTypeFor(pagePath), Data: data},
		genai.Text(geminiOcrPrompt),
	)
	if err != nil {
		return types.OcrResult{}, fmt.Errorf("generate content: %w", err)
	}

	text, err := responseText(resp)
	if err != nil {
		return types.OcrResult{}, err
	}

	var parsed struct {
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return types.OcrResult{}, fmt.Errorf("parse OCR response JSON: %w", err)
	}

	return types.OcrResult{
		Text:       strings.TrimSpace(parsed.Text),
		Confidence: clamp01(parsed.Confidence),
		Language:   params.Language,
		Provider:   p.Name(),
		PageIndex:  pageIndex,
	}, nil
}

// Close releases the underlying API client.
func (p *GeminiVisionProvider) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}

func mimeTypeFor(path string) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return "application/octet-stream"
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("no content in response")
	}
	var parts []string
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("no text parts in response")
	}
	return strings.Join(parts, ""), nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
