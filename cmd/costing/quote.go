package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/Simplici0/retrofit-costing/internal/catalog"
	"github.com/Simplici0/retrofit-costing/internal/costing"
	"github.com/Simplici0/retrofit-costing/internal/sapband"
)

type quoteOptions struct {
	items      []string
	quantities map[string]string
	funders    map[string]string
	savings    string
	noColor    bool
}

func newQuoteCmd() *cobra.Command {
	opts := &quoteOptions{}
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Price a selection against the default catalog.",
		Long: `Compute total cost, price we get and profit for a set of line items
without touching the database.

With no --item flags the default selection (Innovation Bead) is used.`,
		Example: `  costing quote --item loft --item mechanical_vents --quantity mechanical_vents=2 --savings 100`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := runQuote(opts)
			if err != nil && !costing.IsUnavailable(err) {
				return err
			}
			return renderQuote(cmd.OutOrStdout(), res, !opts.noColor)
		},
	}

	f := cmd.Flags()
	f.StringSliceVar(&opts.items, "item", nil, "line item key to enable (repeatable)")
	f.StringToStringVar(&opts.quantities, "quantity", nil, "quantity per quantity-based item, key=n")
	f.StringToStringVar(&opts.funders, "funder", nil, "funder price overriding the defaults, name=price")
	f.StringVar(&opts.savings, "savings", "", "cost savings of the survey; empty means not available")
	f.BoolVar(&opts.noColor, "no-color", false, "disable tier colours")
	return cmd
}

func runQuote(opts *quoteOptions) (costing.Result, error) {
	cat := catalog.MustDefault()

	sel := costing.DefaultSelection(cat)
	if len(opts.items) > 0 {
		sel = costing.NewSelection()
		for _, key := range opts.items {
			next, err := costing.Toggle(cat, sel, key, true)
			if err != nil {
				return costing.Result{}, err
			}
			sel = next
		}
	}
	for key, raw := range opts.quantities {
		next, err := costing.SetQuantity(cat, sel, key, raw)
		if err != nil {
			return costing.Result{}, err
		}
		sel = next
	}

	funders := catalog.DefaultFunders()
	if len(opts.funders) > 0 {
		funders = funders[:0:0]
		names := make([]string, 0, len(opts.funders))
		for name := range opts.funders {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			price, err := decimal.NewFromString(opts.funders[name])
			if err != nil {
				return costing.Result{}, eris.Wrapf(err, "funder %q price", name)
			}
			funders = append(funders, catalog.Funder{Name: name, Price: price})
		}
	}

	var savings decimal.NullDecimal
	if opts.savings != "" {
		d, err := decimal.NewFromString(opts.savings)
		if err != nil {
			return costing.Result{}, eris.Wrap(err, "savings")
		}
		savings = decimal.NewNullDecimal(d)
	}

	return costing.Compute(costing.Input{
		Selection:   sel,
		Catalog:     cat,
		Funders:     funders,
		CostSavings: savings,
	})
}

func renderQuote(w io.Writer, res costing.Result, colored bool) error {
	table := tablewriter.NewWriter(w)
	table.Header([]string{"Item", "Qty", "Unit", "Amount"})
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignRight
	})

	data := make([][]string, 0, len(res.Lines))
	for _, l := range res.Lines {
		data = append(data, []string{l.Label, strconv.Itoa(l.Quantity), l.UnitPrice.StringFixed(2), l.Amount.StringFixed(2)})
	}
	if err := table.Bulk(data); err != nil {
		return eris.Wrap(err, "quote: table rows")
	}
	if err := table.Render(); err != nil {
		return eris.Wrap(err, "quote: render table")
	}

	tier := string(res.Tier)
	if colored {
		tier = tierColor(res.Tier).Sprint(tier)
	}
	_, err := fmt.Fprintf(w,
		"Total cost: %s\nFunder average price: %s\nPrice we get: %s\nProfit: %s\nProfit percentage: %s%% %s\n",
		res.TotalCost.StringFixed(2),
		costing.Display(res.FunderAveragePrice),
		costing.Display(res.PriceWeGet),
		res.ProfitAmount.StringFixed(2),
		res.ProfitPercentage.StringFixed(2),
		tier,
	)
	if err == nil && !res.PriceAvailable() {
		_, err = fmt.Fprintf(w, "Cost savings: %s\n", sapband.NotAvailable)
	}
	return err
}

func tierColor(t costing.Tier) *color.Color {
	switch t {
	case costing.TierGreen:
		return color.New(color.FgGreen, color.Bold)
	case costing.TierYellow:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}
