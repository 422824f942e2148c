package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/Simplici0/retrofit-costing/internal/bespoke"
	"github.com/Simplici0/retrofit-costing/internal/costing"
	"github.com/Simplici0/retrofit-costing/internal/workflow"
)

// Fixed-width UTC layout so saved_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "parse time %q", raw)
	}
	return t, nil
}

// SaveRecord inserts rec when it has no ID and updates it otherwise.
func (s *SQLite) SaveRecord(ctx context.Context, rec workflow.Record) (string, error) {
	selectionJSON, err := json.Marshal(rec.Selection)
	if err != nil {
		return "", eris.Wrap(err, "marshal selection")
	}
	resultJSON, err := json.Marshal(rec.Result)
	if err != nil {
		return "", eris.Wrap(err, "marshal result")
	}
	if rec.SavedAt.IsZero() {
		rec.SavedAt = s.now()
	}

	var priceWeGet sql.NullString
	if rec.Result.PriceWeGet.Valid {
		priceWeGet = sql.NullString{String: rec.Result.PriceWeGet.Decimal.StringFixed(2), Valid: true}
	}

	if rec.ID == "" {
		id := uuid.NewString()
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO costings (
				id, survey_id, owner_id, name,
				selection_json, result_json,
				total_cost, price_we_get, profit_amount, profit_percentage, tier,
				saved_at
			)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			id, rec.SurveyID, rec.OwnerID, rec.Name,
			string(selectionJSON), string(resultJSON),
			rec.Result.TotalCost.StringFixed(2), priceWeGet,
			rec.Result.ProfitAmount.StringFixed(2), rec.Result.ProfitPercentage.StringFixed(2),
			string(rec.Result.Tier), formatTime(rec.SavedAt),
		)
		if err != nil {
			return "", eris.Wrap(err, "insert costing")
		}
		return id, nil
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE costings
		SET
			name = ?,
			selection_json = ?,
			result_json = ?,
			total_cost = ?,
			price_we_get = ?,
			profit_amount = ?,
			profit_percentage = ?,
			tier = ?,
			saved_at = ?
		WHERE id = ? AND owner_id = ?
	`,
		rec.Name, string(selectionJSON), string(resultJSON),
		rec.Result.TotalCost.StringFixed(2), priceWeGet,
		rec.Result.ProfitAmount.StringFixed(2), rec.Result.ProfitPercentage.StringFixed(2),
		string(rec.Result.Tier), formatTime(rec.SavedAt),
		rec.ID, rec.OwnerID,
	)
	if err != nil {
		return "", eris.Wrapf(err, "update costing %s", rec.ID)
	}
	if err := expectOne(res, "costing "+rec.ID); err != nil {
		return "", err
	}
	return rec.ID, nil
}

const recordColumns = `id, survey_id, owner_id, name, selection_json, result_json, saved_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (workflow.Record, error) {
	var (
		rec           workflow.Record
		selectionJSON string
		resultJSON    string
		savedAt       string
	)
	if err := row.Scan(&rec.ID, &rec.SurveyID, &rec.OwnerID, &rec.Name, &selectionJSON, &resultJSON, &savedAt); err != nil {
		return workflow.Record{}, err
	}
	if err := json.Unmarshal([]byte(selectionJSON), &rec.Selection); err != nil {
		return workflow.Record{}, eris.Wrapf(err, "costing %s selection", rec.ID)
	}
	if err := json.Unmarshal([]byte(resultJSON), &rec.Result); err != nil {
		return workflow.Record{}, eris.Wrapf(err, "costing %s result", rec.ID)
	}
	t, err := parseTime(savedAt)
	if err != nil {
		return workflow.Record{}, err
	}
	rec.SavedAt = t
	return rec, nil
}

// ListRecords returns the owner's costings of a survey, newest first. An empty
// surveyID lists all of the owner's costings.
func (s *SQLite) ListRecords(ctx context.Context, surveyID, ownerID string) ([]workflow.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM costings
		WHERE owner_id = ? AND (? = '' OR survey_id = ?)
		ORDER BY saved_at DESC, id DESC
	`, ownerID, surveyID, surveyID)
	if err != nil {
		return nil, eris.Wrap(err, "query costings")
	}
	defer rows.Close()

	records := make([]workflow.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "scan costing")
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "iterate costings")
	}
	return records, nil
}

// GetRecord loads one costing.
func (s *SQLite) GetRecord(ctx context.Context, id string) (workflow.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM costings WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return workflow.Record{}, eris.Wrapf(ErrNotFound, "costing %s", id)
		}
		return workflow.Record{}, eris.Wrapf(err, "query costing %s", id)
	}
	return rec, nil
}

// CostingListItem is one row of the costing search list.
type CostingListItem struct {
	ID               string              `json:"id"`
	SurveyID         string              `json:"survey_id"`
	SurveyName       string              `json:"survey_name"`
	Name             string              `json:"name"`
	TotalCost        decimal.Decimal     `json:"total_cost"`
	PriceWeGet       decimal.NullDecimal `json:"price_we_get"`
	ProfitAmount     decimal.Decimal     `json:"profit_amount"`
	ProfitPercentage decimal.Decimal     `json:"profit_percentage"`
	Tier             costing.Tier        `json:"tier"`
	SavedAt          time.Time           `json:"saved_at"`
}

// SearchCostings lists an owner's costings whose name or survey name contains query.
// An empty ownerID lists every owner.
func (s *SQLite) SearchCostings(ctx context.Context, ownerID, query string) ([]CostingListItem, error) {
	search := "%" + query + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			c.id,
			c.survey_id,
			COALESCE(sv.name, ''),
			c.name,
			c.total_cost,
			c.price_we_get,
			c.profit_amount,
			c.profit_percentage,
			c.tier,
			c.saved_at
		FROM costings c
		LEFT JOIN surveys sv ON sv.id = c.survey_id
		WHERE (? = '' OR c.owner_id = ?)
			AND (? = '' OR c.name LIKE ? OR COALESCE(sv.name, '') LIKE ?)
		ORDER BY c.saved_at DESC, c.id DESC
	`, ownerID, ownerID, query, search, search)
	if err != nil {
		return nil, eris.Wrap(err, "search costings")
	}
	defer rows.Close()

	items := make([]CostingListItem, 0)
	for rows.Next() {
		var (
			item                           CostingListItem
			total, profit, pct, tier, when string
			price                          sql.NullString
		)
		if err := rows.Scan(&item.ID, &item.SurveyID, &item.SurveyName, &item.Name, &total, &price, &profit, &pct, &tier, &when); err != nil {
			return nil, eris.Wrap(err, "scan costing list item")
		}
		if item.TotalCost, err = decimal.NewFromString(total); err != nil {
			return nil, eris.Wrapf(err, "costing %s total", item.ID)
		}
		if price.Valid {
			d, err := decimal.NewFromString(price.String)
			if err != nil {
				return nil, eris.Wrapf(err, "costing %s price", item.ID)
			}
			item.PriceWeGet = decimal.NewNullDecimal(d)
		}
		if item.ProfitAmount, err = decimal.NewFromString(profit); err != nil {
			return nil, eris.Wrapf(err, "costing %s profit", item.ID)
		}
		if item.ProfitPercentage, err = decimal.NewFromString(pct); err != nil {
			return nil, eris.Wrapf(err, "costing %s percentage", item.ID)
		}
		item.Tier = costing.Tier(tier)
		if item.SavedAt, err = parseTime(when); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "iterate costing list")
	}
	return items, nil
}

// SaveInstructions stores bespoke rows in one transaction.
func (s *SQLite) SaveInstructions(ctx context.Context, items []bespoke.Instruction) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "begin bespoke transaction")
	}
	for _, it := range items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO bespoke_instructions (id, survey_id, owner_id, lead_name, measure, name, instructions, position, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, it.ID, it.SurveyID, it.OwnerID, it.LeadName, string(it.Measure), it.Name, it.Instructions, it.Position, formatTime(it.CreatedAt)); err != nil {
			_ = tx.Rollback()
			return eris.Wrapf(err, "insert bespoke instruction %d", it.Position)
		}
	}
	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "commit bespoke transaction")
	}
	return nil
}

// ListInstructions returns a survey's bespoke rows, newest batch first.
func (s *SQLite) ListInstructions(ctx context.Context, surveyID string) ([]bespoke.Instruction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, survey_id, owner_id, lead_name, measure, name, instructions, position, created_at
		FROM bespoke_instructions
		WHERE survey_id = ?
		ORDER BY created_at DESC, position
	`, surveyID)
	if err != nil {
		return nil, eris.Wrap(err, "query bespoke instructions")
	}
	defer rows.Close()

	items := make([]bespoke.Instruction, 0)
	for rows.Next() {
		var (
			it      bespoke.Instruction
			measure string
			created string
		)
		if err := rows.Scan(&it.ID, &it.SurveyID, &it.OwnerID, &it.LeadName, &measure, &it.Name, &it.Instructions, &it.Position, &created); err != nil {
			return nil, eris.Wrap(err, "scan bespoke instruction")
		}
		it.Measure = bespoke.Measure(measure)
		if it.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "iterate bespoke instructions")
	}
	return items, nil
}
