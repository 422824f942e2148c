// Package costing turns a line item selection, funder prices and cost savings
// into total cost, price we get, profit amount and profit percentage.
package costing

import (
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/Simplici0/retrofit-costing/internal/catalog"
)

// NotAvailable is shown in place of a price that cannot be computed yet.
const NotAvailable = "Not Available"

var hundred = decimal.NewFromInt(100)

// Input groups everything Compute needs.
type Input struct {
	Selection Selection
	Catalog   *catalog.Catalog
	Funders   []catalog.Funder
	// CostSavings comes from the SAP band lookup; invalid means not fetched yet.
	CostSavings decimal.NullDecimal
	// IgnoreUnknown skips active keys missing from the catalog instead of failing.
	IgnoreUnknown bool
}

// Line is the contribution of one active line item.
type Line struct {
	Key       string          `json:"key"`
	Label     string          `json:"label"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Amount    decimal.Decimal `json:"amount"`
}

// Result is derived from a Selection and never stored on its own.
type Result struct {
	Lines              []Line              `json:"lines"`
	TotalCost          decimal.Decimal     `json:"total_cost"`
	FunderAveragePrice decimal.NullDecimal `json:"funder_average_price"`
	PriceWeGet         decimal.NullDecimal `json:"price_we_get"`
	ProfitAmount       decimal.Decimal     `json:"profit_amount"`
	ProfitPercentage   decimal.Decimal     `json:"profit_percentage"`
	Tier               Tier                `json:"tier"`
	Ignored            []string            `json:"ignored,omitempty"`
}

// Equal compares the money figures and tier of two results.
func (r Result) Equal(o Result) bool {
	return r.TotalCost.Equal(o.TotalCost) &&
		nullEqual(r.FunderAveragePrice, o.FunderAveragePrice) &&
		nullEqual(r.PriceWeGet, o.PriceWeGet) &&
		r.ProfitAmount.Equal(o.ProfitAmount) &&
		r.ProfitPercentage.Equal(o.ProfitPercentage) &&
		r.Tier == o.Tier &&
		len(r.Lines) == len(o.Lines)
}

func nullEqual(a, b decimal.NullDecimal) bool {
	if a.Valid != b.Valid {
		return false
	}
	return !a.Valid || a.Decimal.Equal(b.Decimal)
}

// PriceAvailable reports whether the price side of the result could be computed.
func (r Result) PriceAvailable() bool {
	return r.PriceWeGet.Valid
}

// FunderAverage returns the mean funder price rounded to 2 places.
func FunderAverage(funders []catalog.Funder) (decimal.Decimal, error) {
	if len(funders) == 0 {
		return decimal.Zero, eris.Wrap(ErrEmptyFunderList, "costing: funder average")
	}
	sum := decimal.Zero
	for _, f := range funders {
		sum = sum.Add(f.Price)
	}
	return sum.Div(decimal.NewFromInt(int64(len(funders)))).Round(2), nil
}

// TotalCost sums active line items in catalog order. Quantity-based items
// contribute quantity × unit price.
func TotalCost(in Input) (decimal.Decimal, []Line, []string, error) {
	total := decimal.Zero
	lines := make([]Line, 0, in.Selection.Len())
	for _, item := range in.Catalog.Items() {
		if !in.Selection.IsActive(item.Key) {
			continue
		}
		qty := 1
		amount := item.UnitPrice
		if item.QuantityBased {
			qty = in.Selection.Quantity(item.Key)
			if qty < MinQuantity {
				qty = MinQuantity
			}
			amount = item.UnitPrice.Mul(decimal.NewFromInt(int64(qty)))
		}
		amount = amount.Round(2)
		total = total.Add(amount)
		lines = append(lines, Line{
			Key:       item.Key,
			Label:     item.Label,
			Quantity:  qty,
			UnitPrice: item.UnitPrice,
			Amount:    amount,
		})
	}

	var ignored []string
	for _, key := range in.Selection.Active() {
		if _, ok := in.Catalog.Lookup(key); ok {
			continue
		}
		if !in.IgnoreUnknown {
			return decimal.Zero, nil, nil, eris.Wrapf(ErrUnknownLineItem, "costing: active item %q", key)
		}
		ignored = append(ignored, key)
	}

	return total.Round(2), lines, ignored, nil
}

// Compute derives the costing result. The cost side is always filled in; when
// funders or cost savings are missing the price fields are left invalid and
// ErrEmptyFunderList or ErrDataUnavailable is returned alongside the result.
func Compute(in Input) (Result, error) {
	if in.Catalog == nil {
		return Result{}, eris.New("costing: catalog is required")
	}

	total, lines, ignored, err := TotalCost(in)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Lines:            lines,
		TotalCost:        total,
		ProfitAmount:     decimal.Zero,
		ProfitPercentage: decimal.Zero,
		Tier:             TierRed,
		Ignored:          ignored,
	}

	avg, err := FunderAverage(in.Funders)
	if err != nil {
		return res, err
	}
	res.FunderAveragePrice = decimal.NullDecimal{Decimal: avg, Valid: true}

	if !in.CostSavings.Valid {
		return res, eris.Wrap(ErrDataUnavailable, "costing: price we get")
	}

	priceWeGet := in.CostSavings.Decimal.Mul(avg).Round(2)
	res.PriceWeGet = decimal.NullDecimal{Decimal: priceWeGet, Valid: true}
	res.ProfitAmount = ProfitAmount(priceWeGet, total)
	res.ProfitPercentage = ProfitPercentage(priceWeGet, res.ProfitAmount)
	res.Tier = ProfitTier(res.ProfitPercentage)
	return res, nil
}

// ProfitAmount is priceWeGet − totalCost clamped at zero.
func ProfitAmount(priceWeGet, totalCost decimal.Decimal) decimal.Decimal {
	profit := priceWeGet.Sub(totalCost)
	if !profit.IsPositive() {
		return decimal.Zero
	}
	return profit.Round(2)
}

// ProfitPercentage is profit / priceWeGet × 100, or 0 when priceWeGet ≤ 0.
func ProfitPercentage(priceWeGet, profit decimal.Decimal) decimal.Decimal {
	if !priceWeGet.IsPositive() {
		return decimal.Zero
	}
	return profit.Div(priceWeGet).Mul(hundred).Round(2)
}

// Display renders a nullable amount with 2 decimals or NotAvailable.
func Display(d decimal.NullDecimal) string {
	if !d.Valid {
		return NotAvailable
	}
	return d.Decimal.StringFixed(2)
}

// BarWidth renders a profit percentage as a CSS width.
func BarWidth(pct decimal.Decimal) string {
	return pct.StringFixed(2) + "%"
}
