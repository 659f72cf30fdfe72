package tax

import (
	"context"
	"math"
)

// rateEntry is one jurisdiction's rate table row. A jurisdiction is either
// harmonized (hst > 0, single combined rate) or compound (federal gst plus an
// optional secondary tax). The secondary tax applies to the subtotal, except
// when compounds is set, in which case it applies to subtotal + federal tax.
type rateEntry struct {
	hst           float64
	gst           float64
	secondary     float64
	secondaryKind Kind
	compounds     bool
}

// canadaRates is the static rate table, effective 2016-10-01. Only one
// version is modeled; historical rates are out of scope.
var canadaRates = map[string]rateEntry{
	// Harmonized provinces: one combined HST rate.
	"NB": {hst: 0.15},
	"NL": {hst: 0.15},
	"NS": {hst: 0.15},
	"ON": {hst: 0.13},
	"PE": {hst: 0.15},

	// GST only.
	"AB": {gst: 0.05},
	"NT": {gst: 0.05},
	"NU": {gst: 0.05},
	"YT": {gst: 0.05},

	// GST plus provincial sales tax on the subtotal.
	"BC": {gst: 0.05, secondary: 0.07, secondaryKind: KindPST},
	"MB": {gst: 0.05, secondary: 0.07, secondaryKind: KindPST},
	"SK": {gst: 0.05, secondary: 0.06, secondaryKind: KindPST},

	// Quebec: QST compounds on subtotal + GST.
	"QC": {gst: 0.05, secondary: 0.09975, secondaryKind: KindQST, compounds: true},
}

// Jurisdictions lists the supported province and territory codes.
func Jurisdictions() []string {
	codes := make([]string, 0, len(canadaRates))
	for code := range canadaRates {
		codes = append(codes, code)
	}
	return codes
}

// IsValidJurisdiction reports whether code is a supported jurisdiction.
func IsValidJurisdiction(code string) bool {
	_, ok := canadaRates[code]
	return ok
}

// CanadaCalculator computes Canadian GST/HST/PST/QST from the static rate table.
type CanadaCalculator struct{}

// NewCanadaCalculator creates the Canadian tax calculator.
func NewCanadaCalculator() Calculator {
	return &CanadaCalculator{}
}

// roundCents rounds half-up to the nearest cent.
func roundCents(x float64) int32 {
	return int32(math.Floor(x + 0.5))
}

// CalculateTax computes the tax breakdown for the given subtotal and
// jurisdiction.
//
// Each component is rounded to the cent independently before summing. The
// ordering matters for Quebec: QST is computed on the already-rounded GST
// base, so rounding only the final sum would produce a different result.
func (c *CanadaCalculator) CalculateTax(ctx context.Context, params TaxParams) (*TaxResult, error) {
	entry, ok := canadaRates[params.Jurisdiction]
	if !ok {
		return nil, ErrUnknownJurisdiction
	}

	if params.SubtotalCents <= 0 {
		return &TaxResult{
			Breakdown:     []TaxBreakdown{},
			TotalTaxCents: 0,
			TotalCents:    params.SubtotalCents,
		}, nil
	}

	subtotal := float64(params.SubtotalCents)

	if entry.hst > 0 {
		amount := roundCents(subtotal * entry.hst)
		return &TaxResult{
			Breakdown: []TaxBreakdown{
				{Kind: KindHST, Rate: entry.hst, AmountCents: amount},
			},
			TotalTaxCents: amount,
			TotalCents:    params.SubtotalCents + amount,
		}, nil
	}

	federal := roundCents(subtotal * entry.gst)
	breakdown := []TaxBreakdown{
		{Kind: KindGST, Rate: entry.gst, AmountCents: federal},
	}
	totalTax := federal

	if entry.secondary > 0 {
		base := subtotal
		if entry.compounds {
			base = subtotal + float64(federal)
		}
		amount := roundCents(base * entry.secondary)
		breakdown = append(breakdown, TaxBreakdown{
			Kind:        entry.secondaryKind,
			Rate:        entry.secondary,
			AmountCents: amount,
		})
		totalTax += amount
	}

	return &TaxResult{
		Breakdown:     breakdown,
		TotalTaxCents: totalTax,
		TotalCents:    params.SubtotalCents + totalTax,
	}, nil
}
