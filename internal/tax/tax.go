package tax

import (
	"context"
)

// Kind identifies a sales tax component.
type Kind string

// Canadian sales tax kinds.
const (
	KindGST Kind = "gst" // federal goods and services tax
	KindHST Kind = "hst" // harmonized federal+provincial tax
	KindPST Kind = "pst" // provincial sales tax (retail sales tax in MB)
	KindQST Kind = "qst" // Quebec sales tax
)

// Calculator defines the interface for tax calculation.
// Implementations: CanadaCalculator, MockCalculator
type Calculator interface {
	// CalculateTax computes the tax breakdown for a subtotal in a jurisdiction.
	// Amounts are in cents. The calculation is pure: same inputs always yield
	// the same breakdown.
	CalculateTax(ctx context.Context, params TaxParams) (*TaxResult, error)
}

// TaxParams contains all information needed for tax calculation.
type TaxParams struct {
	// SubtotalCents is the taxable amount in cents. Zero or negative
	// subtotals short-circuit to a zero-breakdown result.
	SubtotalCents int32

	// Jurisdiction is the two-letter province or territory code, e.g. "ON".
	Jurisdiction string
}

// TaxResult contains the calculated tax amounts and breakdown.
// Summing the breakdown component amounts always equals TotalTaxCents.
type TaxResult struct {
	Breakdown     []TaxBreakdown
	TotalTaxCents int32
	TotalCents    int32
}

// TaxBreakdown represents one tax component.
type TaxBreakdown struct {
	Kind        Kind
	Rate        float64 // e.g., 0.13 for 13%
	AmountCents int32
}

// Component returns the breakdown entry for a kind, or nil if absent.
func (r *TaxResult) Component(kind Kind) *TaxBreakdown {
	for i := range r.Breakdown {
		if r.Breakdown[i].Kind == kind {
			return &r.Breakdown[i]
		}
	}
	return nil
}
