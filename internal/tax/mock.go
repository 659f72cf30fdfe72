package tax

import (
	"context"
)

// MockCalculator is a test implementation of Calculator.
type MockCalculator struct {
	CalculateTaxFunc func(ctx context.Context, params TaxParams) (*TaxResult, error)

	// Calls records the params of each CalculateTax invocation.
	Calls []TaxParams
}

// NewMockCalculator creates a new mock tax calculator for testing.
// The default behavior returns zero tax.
func NewMockCalculator() *MockCalculator {
	return &MockCalculator{}
}

// CalculateTax delegates to the configured function or returns a zero-tax result.
func (m *MockCalculator) CalculateTax(ctx context.Context, params TaxParams) (*TaxResult, error) {
	m.Calls = append(m.Calls, params)

	if m.CalculateTaxFunc != nil {
		return m.CalculateTaxFunc(ctx, params)
	}

	return &TaxResult{
		Breakdown:     []TaxBreakdown{},
		TotalTaxCents: 0,
		TotalCents:    params.SubtotalCents,
	}, nil
}
