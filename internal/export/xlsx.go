package export

import (
	"bytes"

	"github.com/rotisserie/eris"
	"github.com/xuri/excelize/v2"

	"github.com/Simplici0/retrofit-costing/internal/costing"
	"github.com/Simplici0/retrofit-costing/internal/store"
	"github.com/Simplici0/retrofit-costing/internal/workflow"
)

const (
	summarySheet = "Costings"
	linesSheet   = "Line items"
)

var summaryHeader = []string{"Saved", "Costing", "Survey", "Total cost", "Price we get", "Profit", "Profit %", "Tier"}

var linesHeader = []string{"Costing", "Line item", "Quantity", "Unit price", "Amount"}

// Workbook builds an xlsx file with one summary row per costing and, when
// records are given, a sheet listing their line items.
func Workbook(items []store.CostingListItem, records []workflow.Record) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), summarySheet); err != nil {
		return nil, eris.Wrap(err, "set sheet name")
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "#FFFFFF", Size: 11},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#333333"}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "create header style")
	}

	tierFill := map[costing.Tier]string{
		costing.TierGreen:  "#C6EFCE",
		costing.TierYellow: "#FFEB9C",
		costing.TierRed:    "#FFC7CE",
	}
	tierStyles := make(map[costing.Tier]int, len(tierFill))
	for tier, color := range tierFill {
		id, err := f.NewStyle(&excelize.Style{
			Fill: excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
		})
		if err != nil {
			return nil, eris.Wrapf(err, "create %s style", tier)
		}
		tierStyles[tier] = id
	}

	if err := writeHeader(f, summarySheet, summaryHeader, headerStyle); err != nil {
		return nil, err
	}
	for i, it := range items {
		row := i + 2
		values := []any{
			it.SavedAt.UTC().Format("2006-01-02 15:04"),
			it.Name,
			it.SurveyName,
			it.TotalCost.InexactFloat64(),
			costing.Display(it.PriceWeGet),
			it.ProfitAmount.InexactFloat64(),
			it.ProfitPercentage.InexactFloat64(),
			string(it.Tier),
		}
		if it.PriceWeGet.Valid {
			values[4] = it.PriceWeGet.Decimal.InexactFloat64()
		}
		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return nil, eris.Wrap(err, "cell name")
		}
		if err := f.SetSheetRow(summarySheet, cell, &values); err != nil {
			return nil, eris.Wrapf(err, "write costing row %d", row)
		}
		if style, ok := tierStyles[it.Tier]; ok {
			tierCell, _ := excelize.CoordinatesToCellName(len(summaryHeader), row)
			if err := f.SetCellStyle(summarySheet, tierCell, tierCell, style); err != nil {
				return nil, eris.Wrap(err, "set tier style")
			}
		}
	}
	if err := f.SetColWidth(summarySheet, "A", "C", 22); err != nil {
		return nil, eris.Wrap(err, "set col width")
	}

	if len(records) > 0 {
		if _, err := f.NewSheet(linesSheet); err != nil {
			return nil, eris.Wrap(err, "add lines sheet")
		}
		if err := writeHeader(f, linesSheet, linesHeader, headerStyle); err != nil {
			return nil, err
		}
		row := 2
		for _, rec := range records {
			for _, l := range rec.Result.Lines {
				values := []any{rec.Name, l.Label, l.Quantity, l.UnitPrice.InexactFloat64(), l.Amount.InexactFloat64()}
				cell, _ := excelize.CoordinatesToCellName(1, row)
				if err := f.SetSheetRow(linesSheet, cell, &values); err != nil {
					return nil, eris.Wrapf(err, "write line row %d", row)
				}
				row++
			}
		}
		if err := f.SetColWidth(linesSheet, "A", "B", 28); err != nil {
			return nil, eris.Wrap(err, "set col width")
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, eris.Wrap(err, "write workbook")
	}
	return buf.Bytes(), nil
}

func writeHeader(f *excelize.File, sheet string, header []string, style int) error {
	values := make([]any, len(header))
	for i, h := range header {
		values[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &values); err != nil {
		return eris.Wrapf(err, "write %s header", sheet)
	}
	last, _ := excelize.CoordinatesToCellName(len(header), 1)
	if err := f.SetCellStyle(sheet, "A1", last, style); err != nil {
		return eris.Wrapf(err, "style %s header", sheet)
	}
	return nil
}
