package costing

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Simplici0/retrofit-costing/internal/catalog"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func savings(s string) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: dec(s), Valid: true}
}

func enable(t *testing.T, cat *catalog.Catalog, sel Selection, keys ...string) Selection {
	t.Helper()
	for _, k := range keys {
		var err error
		sel, err = Toggle(cat, sel, k, true)
		require.NoError(t, err)
	}
	return sel
}

func TestTotalCostSumsFlatItems(t *testing.T) {
	t.Parallel()
	cat := catalog.MustDefault()
	sel := enable(t, cat, NewSelection(), catalog.KeyNormalBead, catalog.KeyLoft)

	res, err := Compute(Input{Selection: sel, Catalog: cat, Funders: catalog.DefaultFunders(), CostSavings: savings("10")})
	require.NoError(t, err)

	assert.Equal(t, "395.80", res.TotalCost.StringFixed(2))
	require.Len(t, res.Lines, 2)
	assert.Equal(t, catalog.KeyLoft, res.Lines[0].Key)
	assert.Equal(t, catalog.KeyNormalBead, res.Lines[1].Key)
}

func TestMechanicalVentsContributeQuantityTimesPrice(t *testing.T) {
	t.Parallel()
	cat := catalog.MustDefault()
	sel := enable(t, cat, NewSelection(), catalog.KeyMechanicalVents)
	sel, err := SetQuantity(cat, sel, catalog.KeyMechanicalVents, "3")
	require.NoError(t, err)

	total, lines, _, err := TotalCost(Input{Selection: sel, Catalog: cat})
	require.NoError(t, err)

	assert.Equal(t, "1050.00", total.StringFixed(2))
	require.Len(t, lines, 1)
	assert.Equal(t, 3, lines[0].Quantity)
	assert.True(t, lines[0].Amount.Equal(dec("1050")))
}

func TestProfitClampsToZero(t *testing.T) {
	t.Parallel()
	cat, err := catalog.New([]catalog.LineItem{{Key: "works", UnitPrice: dec("150")}})
	require.NoError(t, err)
	sel := enable(t, cat, NewSelection(), "works")

	res, err := Compute(Input{
		Selection:   sel,
		Catalog:     cat,
		Funders:     []catalog.Funder{{Name: "only", Price: dec("100")}},
		CostSavings: savings("1"),
	})
	require.NoError(t, err)

	assert.Equal(t, "100.00", Display(res.PriceWeGet))
	assert.Equal(t, "0.00", res.ProfitAmount.StringFixed(2))
	assert.Equal(t, "0.00", res.ProfitPercentage.StringFixed(2))
	assert.Equal(t, TierRed, res.Tier)
}

func TestComputeProfitAndPercentage(t *testing.T) {
	t.Parallel()
	cat := catalog.MustDefault()
	sel := enable(t, cat, NewSelection(), catalog.KeyLoft) // 210.00

	res, err := Compute(Input{
		Selection:   sel,
		Catalog:     cat,
		Funders:     []catalog.Funder{{Price: dec("100")}, {Price: dec("200")}},
		CostSavings: savings("2"), // 2 × 150 = 300
	})
	require.NoError(t, err)

	assert.Equal(t, "150.00", Display(res.FunderAveragePrice))
	assert.Equal(t, "300.00", Display(res.PriceWeGet))
	assert.Equal(t, "90.00", res.ProfitAmount.StringFixed(2))
	assert.Equal(t, "30.00", res.ProfitPercentage.StringFixed(2))
	assert.Equal(t, TierYellow, res.Tier)
	assert.True(t, res.PriceAvailable())
}

func TestFunderAverage(t *testing.T) {
	t.Parallel()

	avg, err := FunderAverage([]catalog.Funder{{Price: dec("100")}, {Price: dec("200")}})
	require.NoError(t, err)
	assert.Equal(t, "150.00", avg.StringFixed(2))

	_, err = FunderAverage(nil)
	assert.ErrorIs(t, err, ErrEmptyFunderList)
}

func TestComputeEmptyFunderListReportsUnavailable(t *testing.T) {
	t.Parallel()
	cat := catalog.MustDefault()
	sel := enable(t, cat, NewSelection(), catalog.KeyLoft)

	res, err := Compute(Input{Selection: sel, Catalog: cat, CostSavings: savings("5")})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyFunderList)
	assert.True(t, IsUnavailable(err))

	assert.Equal(t, "210.00", res.TotalCost.StringFixed(2))
	assert.Equal(t, NotAvailable, Display(res.FunderAveragePrice))
	assert.Equal(t, NotAvailable, Display(res.PriceWeGet))
	assert.Equal(t, TierRed, res.Tier)
}

func TestComputeMissingCostSavingsReportsUnavailable(t *testing.T) {
	t.Parallel()
	cat := catalog.MustDefault()

	res, err := Compute(Input{Selection: NewSelection(), Catalog: cat, Funders: catalog.DefaultFunders()})
	assert.ErrorIs(t, err, ErrDataUnavailable)
	assert.True(t, IsUnavailable(err))
	assert.True(t, res.FunderAveragePrice.Valid)
	assert.False(t, res.PriceAvailable())
	assert.Equal(t, NotAvailable, Display(res.PriceWeGet))
}

func TestComputeUnknownActiveItem(t *testing.T) {
	t.Parallel()
	full := catalog.MustDefault()
	sel := enable(t, full, NewSelection(), catalog.KeyLoft, catalog.KeyEWI)

	small, err := catalog.New([]catalog.LineItem{{Key: catalog.KeyLoft, UnitPrice: dec("210")}})
	require.NoError(t, err)

	_, err = Compute(Input{Selection: sel, Catalog: small, Funders: catalog.DefaultFunders(), CostSavings: savings("1")})
	assert.ErrorIs(t, err, ErrUnknownLineItem)

	res, err := Compute(Input{Selection: sel, Catalog: small, Funders: catalog.DefaultFunders(), CostSavings: savings("1"), IgnoreUnknown: true})
	require.NoError(t, err)
	assert.Equal(t, []string{catalog.KeyEWI}, res.Ignored)
	assert.Equal(t, "210.00", res.TotalCost.StringFixed(2))
}

func TestComputeIsDeterministic(t *testing.T) {
	t.Parallel()
	cat := catalog.MustDefault()
	sel := enable(t, cat, NewSelection(), catalog.KeyEWI, catalog.KeyMechanicalVents, catalog.KeySurveyFee)
	in := Input{Selection: sel, Catalog: cat, Funders: catalog.DefaultFunders(), CostSavings: savings("120")}

	a, errA := Compute(in)
	b, errB := Compute(in)
	require.NoError(t, errA)
	require.NoError(t, errB)
	assert.True(t, a.Equal(b))
}

func TestResultJSONRoundTrip(t *testing.T) {
	t.Parallel()
	cat := catalog.MustDefault()
	sel := enable(t, cat, NewSelection(), catalog.KeyLoft)
	res, _ := Compute(Input{Selection: sel, Catalog: cat})

	data, err := json.Marshal(res)
	require.NoError(t, err)

	var back Result
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, res.Equal(back))
	assert.False(t, back.PriceWeGet.Valid)
}

func TestBarWidth(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "34.50%", BarWidth(dec("34.5")))
}
