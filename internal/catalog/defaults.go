package catalog

import "github.com/shopspring/decimal"

// DefaultLineItems returns the retrofit line items in form order with their seed prices.
func DefaultLineItems() []LineItem {
	return []LineItem{
		{Key: KeyCavityGuarantee, Label: "Cavity Guarantee", UnitPrice: decimal.RequireFromString("95.00")},
		{Key: KeyCIGASearch, Label: "CIGA Search", UnitPrice: decimal.RequireFromString("12.50")},
		{Key: KeyEPCElmhurst, Label: "EPC Elmhurst", UnitPrice: decimal.RequireFromString("45.00")},
		{Key: KeyEPRFee, Label: "EPR Fee", UnitPrice: decimal.RequireFromString("60.00")},
		{Key: KeyEWI, Label: "EWI", UnitPrice: decimal.RequireFromString("1250.00")},
		{Key: KeyInnovationBead, Label: "Innovation Bead", UnitPrice: decimal.RequireFromString("240.00"), MutuallyExclusiveWith: KeyNormalBead},
		{Key: KeyLandRegistry, Label: "Land Registry", UnitPrice: decimal.RequireFromString("7.00")},
		{Key: KeyLoft, Label: "Loft", UnitPrice: decimal.RequireFromString("210.00")},
		{Key: KeyLoftGuarantee, Label: "Loft Guarantee", UnitPrice: decimal.RequireFromString("35.00")},
		{Key: KeyMechanicalVents, Label: "Mechanical Vents", UnitPrice: decimal.RequireFromString("350.00"), QuantityBased: true},
		{Key: KeyNormalBead, Label: "Normal Bead", UnitPrice: decimal.RequireFromString("185.80"), MutuallyExclusiveWith: KeyInnovationBead},
		{Key: KeyRetrofitCoordination, Label: "Retrofit Coordination", UnitPrice: decimal.RequireFromString("150.00")},
		{Key: KeyRIR, Label: "RIR", UnitPrice: decimal.RequireFromString("25.00")},
		{Key: KeySurveyFee, Label: "Survey Fee", UnitPrice: decimal.RequireFromString("120.00")},
		{Key: KeyTechSurvey, Label: "Tech Survey", UnitPrice: decimal.RequireFromString("80.00")},
		{Key: KeyTMAmendment, Label: "TM Amendment", UnitPrice: decimal.RequireFromString("20.00")},
		{Key: KeyTMLodgement, Label: "TM Lodgement", UnitPrice: decimal.RequireFromString("30.00")},
	}
}

// DefaultFunders returns the funders seeded into a fresh database.
func DefaultFunders() []Funder {
	return []Funder{
		{Name: "ECO4 Aggregator North", Price: decimal.RequireFromString("21.50")},
		{Name: "ECO4 Aggregator South", Price: decimal.RequireFromString("19.80")},
		{Name: "GBIS Partner", Price: decimal.RequireFromString("18.70")},
	}
}

// MustDefault returns the default catalog. It panics only if the built-in data is inconsistent.
func MustDefault() *Catalog {
	c, err := New(DefaultLineItems())
	if err != nil {
		panic(err)
	}
	return c
}
