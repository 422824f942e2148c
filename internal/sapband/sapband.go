// Package sapband describes the SAP band and cost savings lookup of a survey.
package sapband

import (
	"context"

	"github.com/shopspring/decimal"
)

const (
	// NoBand is shown when a survey has no SAP band recorded.
	NoBand = "No Band"
	// NotAvailable is shown when cost savings are missing.
	NotAvailable = "Not Available"
)

// Savings is the result of a SAP band lookup.
type Savings struct {
	CurrentBand   string              `json:"current_band"`
	PotentialBand string              `json:"potential_band"`
	CostSavings   decimal.NullDecimal `json:"cost_savings"`
}

// Lookup fetches the SAP bands and cost savings of a survey.
type Lookup interface {
	CostSavings(ctx context.Context, surveyID string) (Savings, error)
}

// LookupFunc adapts a function to Lookup.
type LookupFunc func(ctx context.Context, surveyID string) (Savings, error)

// CostSavings calls f.
func (f LookupFunc) CostSavings(ctx context.Context, surveyID string) (Savings, error) {
	return f(ctx, surveyID)
}

// CurrentBandLabel returns the current band or NoBand.
func (s Savings) CurrentBandLabel() string {
	return bandLabel(s.CurrentBand)
}

// PotentialBandLabel returns the potential band or NoBand.
func (s Savings) PotentialBandLabel() string {
	return bandLabel(s.PotentialBand)
}

// CostSavingsLabel returns the savings with 2 decimals or NotAvailable.
func (s Savings) CostSavingsLabel() string {
	if !s.CostSavings.Valid {
		return NotAvailable
	}
	return s.CostSavings.Decimal.StringFixed(2)
}

func bandLabel(b string) string {
	if b == "" {
		return NoBand
	}
	return b
}
