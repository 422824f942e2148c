package costing

import "github.com/shopspring/decimal"

// Tier bands a profit percentage for the visual indicator.
type Tier string

const (
	TierRed    Tier = "RED"
	TierYellow Tier = "YELLOW"
	TierGreen  Tier = "GREEN"
)

// GreenThreshold is the inclusive lower bound of the green tier.
var GreenThreshold = decimal.NewFromInt(35)

// ProfitTier is GREEN at 35% and above, YELLOW strictly between 0 and 35, RED otherwise.
func ProfitTier(pct decimal.Decimal) Tier {
	switch {
	case pct.GreaterThanOrEqual(GreenThreshold):
		return TierGreen
	case pct.IsPositive():
		return TierYellow
	default:
		return TierRed
	}
}

// CSSClass returns the bar class used by the presentation layer.
func (t Tier) CSSClass() string {
	switch t {
	case TierGreen:
		return "green-bar"
	case TierYellow:
		return "yellow-bar"
	default:
		return "red-bar"
	}
}
