// Package validation runs deterministic arithmetic and tax consistency
// checks over a chosen extraction. Validation annotates the result; it
// never fails a pipeline run.
package validation

import (
	"fmt"
	"math"

	"github.com/jonathan/invoice-pipeline/internal/types"
)

// Engine holds the validation tolerances. All checks are pure functions of
// the input extraction and these constants.
type Engine struct {
	// Tolerance is the inclusive bound for per-line arithmetic:
	// |quantity*unit_price - total_price| <= Tolerance is valid.
	Tolerance float64
	// TaxRate is the expected VAT rate applied to the items subtotal.
	TaxRate float64
	// TaxTolerance is the inclusive bound for the invoice-total tax check.
	// Wider than Tolerance because rounding accumulates across items.
	TaxTolerance float64
}

// NewEngine builds a validation engine. A zero taxTolerance falls back to
// one currency unit.
func NewEngine(tolerance, taxRate, taxTolerance float64) *Engine {
	if taxTolerance <= 0 {
		taxTolerance = 1.0
	}
	return &Engine{Tolerance: tolerance, TaxRate: taxRate, TaxTolerance: taxTolerance}
}

// Validate checks every line item and the invoice total. AllValid is the
// conjunction of every individual check; skipped and not-applicable checks
// count as valid.
func (e *Engine) Validate(extraction types.InvoiceExtraction) types.ValidationReport {
	items := make([]types.ItemCheck, 0, len(extraction.Items))
	for i, item := range extraction.Items {
		items = append(items, e.checkItem(item, i))
	}

	tax := e.checkTax(extraction)

	allValid := tax.Status != types.TaxCheckInvalid
	for _, c := range items {
		if !c.Valid {
			allValid = false
		}
	}

	return types.ValidationReport{
		ItemCalculations: items,
		TaxValidation:    tax,
		AllValid:         allValid,
	}
}

// checkItem verifies quantity * unit_price == total_price within the
// inclusive tolerance. Items missing any of the three fields are skipped,
// not failed.
func (e *Engine) checkItem(item types.InvoiceItem, index int) types.ItemCheck {
	check := types.ItemCheck{ItemIndex: index}
	if item.ProductName != nil {
		check.Product = *item.ProductName
	}

	if item.Quantity == nil || item.UnitPrice == nil || item.TotalPrice == nil {
		check.Valid = true
		check.Skipped = true
		check.Reason = "missing required fields for calculation"
		return check
	}

	expected := round2(*item.Quantity * *item.UnitPrice)
	actual := round2(*item.TotalPrice)
	check.Expected = &expected
	check.Actual = &actual
	check.Valid = math.Abs(expected-actual) <= e.Tolerance
	return check
}

// checkTax compares the reported invoice total against the items subtotal,
// first with VAT applied and then without. Insufficient data yields
// not_applicable rather than a failure.
func (e *Engine) checkTax(extraction types.InvoiceExtraction) types.TaxCheck {
	var subtotal float64
	for _, item := range extraction.Items {
		if item.TotalPrice != nil {
			subtotal += *item.TotalPrice
		}
	}
	subtotal = round2(subtotal)

	if subtotal <= 0 || extraction.GeneralFields.TotalAmount == nil {
		return types.TaxCheck{
			Status: types.TaxCheckNotApplicable,
			Reason: "insufficient data for tax validation",
		}
	}

	actual := *extraction.GeneralFields.TotalAmount
	expectedWithTax := round2(subtotal * (1 + e.TaxRate))

	if math.Abs(expectedWithTax-actual) <= e.TaxTolerance {
		return types.TaxCheck{
			Status:          types.TaxCheckValid,
			ItemsSubtotal:   &subtotal,
			ExpectedWithTax: &expectedWithTax,
			ActualTotal:     &actual,
			TaxRate:         e.TaxRate,
			VatApplied:      true,
		}
	}

	if math.Abs(subtotal-actual) <= e.TaxTolerance {
		return types.TaxCheck{
			Status:        types.TaxCheckValid,
			ItemsSubtotal: &subtotal,
			ActualTotal:   &actual,
			VatApplied:    false,
		}
	}

	return types.TaxCheck{
		Status:          types.TaxCheckInvalid,
		ItemsSubtotal:   &subtotal,
		ExpectedWithTax: &expectedWithTax,
		ActualTotal:     &actual,
		TaxRate:         e.TaxRate,
		Reason:          fmt.Sprintf("total %.2f matches neither subtotal %.2f nor subtotal with tax %.2f", actual, subtotal, expectedWithTax),
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
