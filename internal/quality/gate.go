// Package quality decides whether an OCR result is good enough to extract
// from, or whether the chain should be re-run with adjusted parameters.
package quality

import (
	"strings"
	"unicode"

	"github.com/jonathan/invoice-pipeline/internal/types"
)

// Issue labels attached to a poor assessment.
const (
	IssueEmptyText         = "empty_text"
	IssueTextTooShort      = "text_too_short"
	IssueNoNumbers         = "no_numbers"
	IssueExcessiveSpecials = "excessive_special_chars"
	IssueLowConfidence     = "low_confidence"
)

// Gate applies deterministic heuristics to OCR output. It never calls an
// external provider; the decision must be cheap and repeatable.
type Gate struct {
	minConfidence   float64
	minTextLength   int
	maxSpecialRatio float64
	retryLanguage   string
}

// NewGate builds a quality gate from the configured thresholds.
func NewGate(minConfidence float64, minTextLength int, maxSpecialRatio float64, retryLanguage string) *Gate {
	return &Gate{
		minConfidence:   minConfidence,
		minTextLength:   minTextLength,
		maxSpecialRatio: maxSpecialRatio,
		retryLanguage:   retryLanguage,
	}
}

// Assess inspects an OCR result and either accepts it or requests one retry
// cycle with adjusted parameters. Callers bound the retry loop; the gate
// only recommends.
func (g *Gate) Assess(result types.OcrResult) types.QualityAssessment {
	text := strings.TrimSpace(result.Text)
	if text == "" {
		return types.QualityAssessment{
			Quality:     types.QualityPoor,
			Confidence:  0,
			Issues:      []string{IssueEmptyText},
			ShouldRetry: true,
			RetryParams: g.retryParams(),
		}
	}

	var issues []string
	if len(text) < g.minTextLength {
		issues = append(issues, IssueTextTooShort)
	}
	if !containsDigit(text) {
		// Invoices carry amounts; a digit-free transcription is garbage.
		issues = append(issues, IssueNoNumbers)
	}
	if specialRatio(text) > g.maxSpecialRatio {
		issues = append(issues, IssueExcessiveSpecials)
	}
	if result.Confidence < g.minConfidence {
		issues = append(issues, IssueLowConfidence)
	}

	if len(issues) == 0 {
		return types.QualityAssessment{
			Quality:    types.QualityGood,
			Confidence: result.Confidence,
		}
	}

	return types.QualityAssessment{
		Quality:     types.QualityPoor,
		Confidence:  result.Confidence,
		Issues:      issues,
		ShouldRetry: true,
		RetryParams: g.retryParams(),
	}
}

func (g *Gate) retryParams() *types.OcrParams {
	return &types.OcrParams{Language: g.retryLanguage}
}

func containsDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// specialRatio is the share of runes that are neither alphanumeric nor
// whitespace. A high ratio indicates garbled recognition.
func specialRatio(s string) float64 {
	var special, total int
	for _, r := range s {
		total++
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsSpace(r) {
			special++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(special) / float64(total)
}
