package decision

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/jonathan/invoice-pipeline/internal/extraction"
)

const tieBreakSystemPrompt = `You are an arbiter choosing between two structured extractions of the same invoice.
Both scored nearly identically on automated checks. Compare them field by field and pick the one
that is more plausible as a faithful reading of an invoice: prefer internally consistent amounts,
realistic dates, and specific supplier names over generic ones.

Respond with JSON only, in this exact shape:
{"selected_provider": "<provider id>", "reasoning": "<one sentence>"}`

// LLMTieBreaker asks a Gemini model to choose between two near-equal
// candidates. It satisfies TieBreaker; callers fall back to provider
// priority when it errors.
type LLMTieBreaker struct {
	client *genai.Client
	model  string
}

// NewLLMTieBreaker dials Gemini with the given API key and model name.
func NewLLMTieBreaker(ctx context.Context, apiKey, model string) (*LLMTieBreaker, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("missing API key for tie-break arbiter")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create arbiter client: %w", err)
	}
	return &LLMTieBreaker{client: client, model: model}, nil
}

// Close releases the underlying client.
func (t *LLMTieBreaker) Close() error {
	if t.client != nil {
		return t.client.Close()
	}
	return nil
}

type tieBreakAnswer struct {
	SelectedProvider string `json:"selected_provider"`
	Reasoning        string `json:"reasoning"`
}

// Resolve presents both candidates to the model and returns its pick.
func (t *LLMTieBreaker) Resolve(ctx context.Context, a, b ScoredCandidate) (string, string, error) {
	prompt, err := buildTieBreakPrompt(a, b)
	if err != nil {
		return "", "", err
	}

	model := t.client.GenerativeModel(t.model)
	model.SetTemperature(0)
	model.ResponseMIMEType = "application/json"

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", "", fmt.Errorf("tie-break arbiter call failed: %w", err)
	}

	raw := responseText(resp)
	if raw == "" {
		return "", "", fmt.Errorf("tie-break arbiter returned empty response")
	}

	var answer tieBreakAnswer
	if err := json.Unmarshal([]byte(extraction.CleanJSONBlock(raw)), &answer); err != nil {
		return "", "", fmt.Errorf("failed to parse tie-break answer: %w", err)
	}
	if answer.SelectedProvider != a.Candidate.Provider && answer.SelectedProvider != b.Candidate.Provider {
		return "", "", fmt.Errorf("tie-break arbiter named unknown provider %q", answer.SelectedProvider)
	}
	return answer.SelectedProvider, answer.Reasoning, nil
}

func buildTieBreakPrompt(a, b ScoredCandidate) (string, error) {
	payloadA, err := json.Marshal(a.Candidate.Extraction)
	if err != nil {
		return "", fmt.Errorf("failed to encode candidate %s: %w", a.Candidate.Provider, err)
	}
	payloadB, err := json.Marshal(b.Candidate.Extraction)
	if err != nil {
		return "", fmt.Errorf("failed to encode candidate %s: %w", b.Candidate.Provider, err)
	}
	return fmt.Sprintf("%s\n\nCandidate %q (score %.3f):\n%s\n\nCandidate %q (score %.3f):\n%s\n",
		tieBreakSystemPrompt,
		a.Candidate.Provider, a.Score, payloadA,
		b.Candidate.Provider, b.Score, payloadB), nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var out string
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			out += string(text)
		}
	}
	return out
}
