// Package export renders saved costings as plain text and xlsx workbooks.
package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/Simplici0/retrofit-costing/internal/costing"
	"github.com/Simplici0/retrofit-costing/internal/sapband"
	"github.com/Simplici0/retrofit-costing/internal/workflow"
)

// Currency suffix used on money figures.
const Currency = "GBP"

// Text writes a plain-text summary of a saved costing.
func Text(w io.Writer, rec workflow.Record, sv sapband.Savings) error {
	var b strings.Builder
	res := rec.Result

	fmt.Fprintf(&b, "Costing: %s\n", rec.Name)
	fmt.Fprintf(&b, "Survey: %s\n", rec.SurveyID)
	if !rec.SavedAt.IsZero() {
		fmt.Fprintf(&b, "Saved: %s\n", rec.SavedAt.UTC().Format("2006-01-02 15:04"))
	}
	b.WriteString("\n")

	b.WriteString("SAP band:\n")
	fmt.Fprintf(&b, "- Current band: %s\n", sv.CurrentBandLabel())
	fmt.Fprintf(&b, "- Potential band: %s\n", sv.PotentialBandLabel())
	fmt.Fprintf(&b, "- Cost savings: %s\n", sv.CostSavingsLabel())
	b.WriteString("\n")

	b.WriteString("Line items:\n")
	if len(res.Lines) == 0 {
		b.WriteString("- none\n")
	}
	for _, l := range res.Lines {
		if l.Quantity > 1 {
			fmt.Fprintf(&b, "- %s x%d: %s %s\n", l.Label, l.Quantity, l.Amount.StringFixed(2), Currency)
			continue
		}
		fmt.Fprintf(&b, "- %s: %s %s\n", l.Label, l.Amount.StringFixed(2), Currency)
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "Total cost: %s %s\n", res.TotalCost.StringFixed(2), Currency)
	fmt.Fprintf(&b, "Funder average price: %s\n", costing.Display(res.FunderAveragePrice))
	fmt.Fprintf(&b, "Price we get: %s\n", costing.Display(res.PriceWeGet))
	fmt.Fprintf(&b, "Profit: %s %s\n", res.ProfitAmount.StringFixed(2), Currency)
	fmt.Fprintf(&b, "Profit percentage: %s%% (%s)\n", res.ProfitPercentage.StringFixed(2), res.Tier)

	if _, err := io.WriteString(w, b.String()); err != nil {
		return eris.Wrap(err, "export: write text")
	}
	return nil
}
