package tax_test

import (
	"context"
	"testing"

	"github.com/dukerupert/vanir/internal/tax"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanadaCalculator_HarmonizedProvince(t *testing.T) {
	calc := tax.NewCanadaCalculator()

	result, err := calc.CalculateTax(context.Background(), tax.TaxParams{
		SubtotalCents: 10000,
		Jurisdiction:  "ON",
	})

	require.NoError(t, err)
	require.Len(t, result.Breakdown, 1, "harmonized provinces have a single HST component")

	hst := result.Component(tax.KindHST)
	require.NotNil(t, hst)
	assert.Equal(t, 0.13, hst.Rate)
	assert.Equal(t, int32(1300), hst.AmountCents)
	assert.Equal(t, int32(1300), result.TotalTaxCents)
	assert.Equal(t, int32(11300), result.TotalCents)
}

func TestCanadaCalculator_GSTPlusPST(t *testing.T) {
	calc := tax.NewCanadaCalculator()

	result, err := calc.CalculateTax(context.Background(), tax.TaxParams{
		SubtotalCents: 10000,
		Jurisdiction:  "BC",
	})

	require.NoError(t, err)
	require.Len(t, result.Breakdown, 2)

	gst := result.Component(tax.KindGST)
	require.NotNil(t, gst)
	assert.Equal(t, int32(500), gst.AmountCents)

	pst := result.Component(tax.KindPST)
	require.NotNil(t, pst)
	assert.Equal(t, int32(700), pst.AmountCents, "BC PST applies to the subtotal, not subtotal+GST")

	assert.Equal(t, int32(1200), result.TotalTaxCents)
	assert.Equal(t, int32(11200), result.TotalCents)
}

func TestCanadaCalculator_QuebecCompoundsQSTOnGST(t *testing.T) {
	calc := tax.NewCanadaCalculator()

	result, err := calc.CalculateTax(context.Background(), tax.TaxParams{
		SubtotalCents: 10000,
		Jurisdiction:  "QC",
	})

	require.NoError(t, err)

	gst := result.Component(tax.KindGST)
	require.NotNil(t, gst)
	assert.Equal(t, int32(500), gst.AmountCents)

	// qst = round((10000 + 500) * 0.09975) = round(1047.375) = 1047
	qst := result.Component(tax.KindQST)
	require.NotNil(t, qst)
	assert.Equal(t, int32(1047), qst.AmountCents)

	assert.Equal(t, int32(1547), result.TotalTaxCents)
	assert.Equal(t, int32(11547), result.TotalCents)
}

// For Quebec, each component must be rounded before summing. Rounding only
// the combined rate once yields a different answer for subtotal 1010:
//
//	per component: round(1010*0.05)=51, round((1010+51)*0.09975)=106 -> 157
//	single round:  round(1010*0.1547375) = round(156.28) -> 156
func TestCanadaCalculator_RoundingOrderIsPerComponent(t *testing.T) {
	calc := tax.NewCanadaCalculator()

	result, err := calc.CalculateTax(context.Background(), tax.TaxParams{
		SubtotalCents: 1010,
		Jurisdiction:  "QC",
	})

	require.NoError(t, err)
	assert.Equal(t, int32(51), result.Component(tax.KindGST).AmountCents)
	assert.Equal(t, int32(106), result.Component(tax.KindQST).AmountCents)
	assert.Equal(t, int32(157), result.TotalTaxCents)
	assert.NotEqual(t, int32(156), result.TotalTaxCents,
		"summing unrounded components then rounding once must be rejected")
}

func TestCanadaCalculator_AllJurisdictions(t *testing.T) {
	calc := tax.NewCanadaCalculator()

	tests := []struct {
		jurisdiction string
		expectedTax  int32
	}{
		{"AB", 500},
		{"BC", 1200},
		{"MB", 1200},
		{"NB", 1500},
		{"NL", 1500},
		{"NS", 1500},
		{"NT", 500},
		{"NU", 500},
		{"ON", 1300},
		{"PE", 1500},
		{"QC", 1547},
		{"SK", 1100},
		{"YT", 500},
	}

	assert.Len(t, tax.Jurisdictions(), len(tests), "rate table must cover exactly 13 jurisdictions")

	for _, tt := range tests {
		t.Run(tt.jurisdiction, func(t *testing.T) {
			result, err := calc.CalculateTax(context.Background(), tax.TaxParams{
				SubtotalCents: 10000,
				Jurisdiction:  tt.jurisdiction,
			})

			require.NoError(t, err)
			assert.Equal(t, tt.expectedTax, result.TotalTaxCents)
			assert.Equal(t, int32(10000)+tt.expectedTax, result.TotalCents)

			// Component amounts always sum to the total tax.
			var sum int32
			for _, b := range result.Breakdown {
				sum += b.AmountCents
			}
			assert.Equal(t, result.TotalTaxCents, sum)
		})
	}
}

func TestCanadaCalculator_Deterministic(t *testing.T) {
	calc := tax.NewCanadaCalculator()
	params := tax.TaxParams{SubtotalCents: 7331, Jurisdiction: "QC"}

	first, err := calc.CalculateTax(context.Background(), params)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		again, err := calc.CalculateTax(context.Background(), params)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestCanadaCalculator_ZeroAndNegativeSubtotal(t *testing.T) {
	calc := tax.NewCanadaCalculator()

	for _, subtotal := range []int32{0, -500} {
		result, err := calc.CalculateTax(context.Background(), tax.TaxParams{
			SubtotalCents: subtotal,
			Jurisdiction:  "ON",
		})

		require.NoError(t, err)
		assert.Empty(t, result.Breakdown)
		assert.Equal(t, int32(0), result.TotalTaxCents)
		assert.Equal(t, subtotal, result.TotalCents)
	}
}

func TestCanadaCalculator_UnknownJurisdiction(t *testing.T) {
	calc := tax.NewCanadaCalculator()

	_, err := calc.CalculateTax(context.Background(), tax.TaxParams{
		SubtotalCents: 10000,
		Jurisdiction:  "WA",
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, tax.ErrUnknownJurisdiction)
	assert.False(t, tax.IsValidJurisdiction("WA"))
	assert.True(t, tax.IsValidJurisdiction("ON"))
}
