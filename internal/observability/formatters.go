// Package observability provides formatted output utilities for verbose CLI mode.
package observability

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jonathan/invoice-pipeline/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of line items to display
	maxItemsToShow = 5
)

// Printer handles formatted output for verbose mode
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	lines := strings.Split(content, "\n")
	for _, line := range lines {
		// Truncate long lines
		if len(line) > boxWidth-4 {
			line = line[:boxWidth-7] + "..."
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintOcrSummary outputs the combined OCR outcome for a document.
func (p *Printer) PrintOcrSummary(result types.OcrResult, pages int) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Provider:    %s\n", result.Provider))
	sb.WriteString(fmt.Sprintf("Pages:       %d\n", pages))
	sb.WriteString(fmt.Sprintf("Confidence:  %.2f\n", result.Confidence))
	sb.WriteString(fmt.Sprintf("Text length: %d chars\n", len(result.Text)))
	if result.RetryCount > 0 {
		sb.WriteString(fmt.Sprintf("Retries:     %d\n", result.RetryCount))
	}
	if result.BelowThreshold {
		sb.WriteString("Warning:     below confidence threshold\n")
	}
	p.printBox("OCR Result", strings.TrimRight(sb.String(), "\n"))
}

// PrintDecision outputs the arbiter's choice and its rationale.
func (p *Printer) PrintDecision(d *types.Decision) {
	if d == nil {
		return
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Winner:    %s\n", d.SelectedProvider))
	sb.WriteString(fmt.Sprintf("Score:     %.3f\n", d.Score))
	sb.WriteString(fmt.Sprintf("Rationale: %s", d.Reasoning))
	p.printBox("Decision", sb.String())
}

// PrintExtraction outputs a human-readable summary of the selected extraction.
func (p *Printer) PrintExtraction(e *types.InvoiceExtraction) {
	if e == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Invoice:  %s\n", strOrDash(e.GeneralFields.InvoiceNumber)))
	sb.WriteString(fmt.Sprintf("Date:     %s\n", strOrDash(e.GeneralFields.Date)))
	sb.WriteString(fmt.Sprintf("Supplier: %s\n", strOrDash(e.GeneralFields.SupplierName)))
	if e.GeneralFields.TotalAmount != nil {
		sb.WriteString(fmt.Sprintf("Total:    %.2f %s\n", *e.GeneralFields.TotalAmount, strOrDash(e.GeneralFields.Currency)))
	} else {
		sb.WriteString("Total:    -\n")
	}
	sb.WriteString("\n")

	if len(e.Items) > 0 {
		sb.WriteString(fmt.Sprintf("Items (%d):\n", len(e.Items)))
		count := min(len(e.Items), maxItemsToShow)
		for i := 0; i < count; i++ {
			item := e.Items[i]
			sb.WriteString(fmt.Sprintf("  • %s", strOrDash(item.ProductName)))
			if item.TotalPrice != nil {
				sb.WriteString(fmt.Sprintf(" = %.2f", *item.TotalPrice))
			}
			sb.WriteString("\n")
		}
		if len(e.Items) > maxItemsToShow {
			sb.WriteString(fmt.Sprintf("  ... and %d more\n", len(e.Items)-maxItemsToShow))
		}
	}

	p.printBox("Extracted Invoice", strings.TrimRight(sb.String(), "\n"))
}

// PrintValidation outputs the validation report.
func (p *Printer) PrintValidation(report *types.ValidationReport) {
	if report == nil {
		return
	}

	var sb strings.Builder
	for _, check := range report.ItemCalculations {
		mark := "✓"
		if check.Skipped {
			mark = "-"
		} else if !check.Valid {
			mark = "✗"
		}
		sb.WriteString(fmt.Sprintf("  %s item %d", mark, check.ItemIndex))
		if check.Product != "" {
			sb.WriteString(fmt.Sprintf(" (%s)", check.Product))
		}
		if check.Expected != nil && check.Actual != nil {
			sb.WriteString(fmt.Sprintf(": expected %.2f, got %.2f", *check.Expected, *check.Actual))
		}
		sb.WriteString("\n")
	}

	sb.WriteString(fmt.Sprintf("\nTax check: %s", report.TaxValidation.Status))
	if report.TaxValidation.VatApplied {
		sb.WriteString(fmt.Sprintf(" (VAT %.0f%%)", report.TaxValidation.TaxRate*100))
	}
	sb.WriteString("\n")

	if report.AllValid {
		sb.WriteString("All checks passed")
	} else {
		sb.WriteString("Some checks FAILED")
	}

	p.printBox("Validation", sb.String())
}

// PrintSteps outputs the per-stage step records of a run.
func (p *Printer) PrintSteps(steps []types.StepRecord) {
	if len(steps) == 0 {
		return
	}

	var sb strings.Builder
	for _, s := range steps {
		sb.WriteString(fmt.Sprintf("%-20s %-8s %8s", s.Step, s.Status, s.Duration.Round(time.Millisecond)))
		if s.Provider != "" {
			sb.WriteString(fmt.Sprintf("  %s", s.Provider))
		}
		if s.Confidence != nil {
			sb.WriteString(fmt.Sprintf("  conf=%.2f", *s.Confidence))
		}
		sb.WriteString("\n")
	}
	p.printBox("Pipeline Steps", strings.TrimRight(sb.String(), "\n"))
}

func strOrDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}
