// Package store persists the costing domain in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/Simplici0/retrofit-costing/internal/catalog"
	"github.com/Simplici0/retrofit-costing/internal/sapband"
)

// ErrNotFound is returned when a keyed row does not exist.
var ErrNotFound = eris.New("not found")

// SQLite implements catalog.Source, sapband.Lookup, workflow.Persister and bespoke.Store.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// New wraps an open database that has been migrated.
func New(db *sql.DB) *SQLite {
	return &SQLite{db: db, now: time.Now}
}

// DB returns the underlying handle.
func (s *SQLite) DB() *sql.DB {
	return s.db
}

// LineItems returns the active catalog in display order.
func (s *SQLite) LineItems(ctx context.Context) ([]catalog.LineItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, label, unit_price, quantity_based, exclusive_with
		FROM line_items
		WHERE active = 1
		ORDER BY position, key
	`)
	if err != nil {
		return nil, eris.Wrap(err, "query line items")
	}
	defer rows.Close()

	items := make([]catalog.LineItem, 0)
	for rows.Next() {
		var (
			item  catalog.LineItem
			price string
		)
		if err := rows.Scan(&item.Key, &item.Label, &price, &item.QuantityBased, &item.MutuallyExclusiveWith); err != nil {
			return nil, eris.Wrap(err, "scan line item")
		}
		if item.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return nil, eris.Wrapf(err, "line item %s price", item.Key)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "iterate line items")
	}
	return items, nil
}

// UpsertLineItem creates or replaces a catalog row.
func (s *SQLite) UpsertLineItem(ctx context.Context, item catalog.LineItem, position int) error {
	if item.Key == "" {
		return eris.New("line item key is required")
	}
	if item.UnitPrice.IsNegative() {
		return eris.Errorf("line item %s: negative unit price", item.Key)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO line_items (key, label, unit_price, quantity_based, exclusive_with, position, active)
		VALUES (?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(key) DO UPDATE SET
			label = excluded.label,
			unit_price = excluded.unit_price,
			quantity_based = excluded.quantity_based,
			exclusive_with = excluded.exclusive_with,
			position = excluded.position,
			active = 1,
			updated_at = CURRENT_TIMESTAMP
	`, item.Key, item.Label, item.UnitPrice.StringFixed(2), item.QuantityBased, item.MutuallyExclusiveWith, position)
	if err != nil {
		return eris.Wrapf(err, "upsert line item %s", item.Key)
	}
	return nil
}

// Funders returns the active funder price points.
func (s *SQLite) Funders(ctx context.Context) ([]catalog.Funder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, price
		FROM funders
		WHERE active = 1
		ORDER BY id
	`)
	if err != nil {
		return nil, eris.Wrap(err, "query funders")
	}
	defer rows.Close()

	funders := make([]catalog.Funder, 0)
	for rows.Next() {
		var (
			f     catalog.Funder
			price string
		)
		if err := rows.Scan(&f.Name, &price); err != nil {
			return nil, eris.Wrap(err, "scan funder")
		}
		if f.Price, err = decimal.NewFromString(price); err != nil {
			return nil, eris.Wrapf(err, "funder %s price", f.Name)
		}
		funders = append(funders, f)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "iterate funders")
	}
	return funders, nil
}

// UpsertFunder creates or replaces a funder price point.
func (s *SQLite) UpsertFunder(ctx context.Context, f catalog.Funder) error {
	if f.Name == "" {
		return eris.New("funder name is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO funders (name, price, active)
		VALUES (?, ?, 1)
		ON CONFLICT(name) DO UPDATE SET
			price = excluded.price,
			active = 1,
			updated_at = CURRENT_TIMESTAMP
	`, f.Name, f.Price.StringFixed(2))
	if err != nil {
		return eris.Wrapf(err, "upsert funder %s", f.Name)
	}
	return nil
}

// DeactivateFunder hides a funder from the average.
func (s *SQLite) DeactivateFunder(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE funders SET active = 0, updated_at = CURRENT_TIMESTAMP WHERE name = ?`, name)
	if err != nil {
		return eris.Wrapf(err, "deactivate funder %s", name)
	}
	return expectOne(res, "funder "+name)
}

// Survey is the property survey a costing belongs to.
type Survey struct {
	ID            string              `json:"id"`
	OwnerID       string              `json:"owner_id"`
	Name          string              `json:"name"`
	LeadName      string              `json:"lead_name"`
	CurrentBand   string              `json:"current_band"`
	PotentialBand string              `json:"potential_band"`
	CostSavings   decimal.NullDecimal `json:"cost_savings"`
}

// UpsertSurvey creates or replaces a survey.
func (s *SQLite) UpsertSurvey(ctx context.Context, sv Survey) error {
	if sv.ID == "" || sv.OwnerID == "" {
		return eris.New("survey id and owner are required")
	}
	var savings sql.NullString
	if sv.CostSavings.Valid {
		savings = sql.NullString{String: sv.CostSavings.Decimal.String(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO surveys (id, owner_id, name, lead_name, current_band, potential_band, cost_savings)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner_id = excluded.owner_id,
			name = excluded.name,
			lead_name = excluded.lead_name,
			current_band = excluded.current_band,
			potential_band = excluded.potential_band,
			cost_savings = excluded.cost_savings,
			updated_at = CURRENT_TIMESTAMP
	`, sv.ID, sv.OwnerID, sv.Name, sv.LeadName, sv.CurrentBand, sv.PotentialBand, savings)
	if err != nil {
		return eris.Wrapf(err, "upsert survey %s", sv.ID)
	}
	return nil
}

// GetSurvey loads one survey.
func (s *SQLite) GetSurvey(ctx context.Context, id string) (Survey, error) {
	var (
		sv      Survey
		savings sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, lead_name, current_band, potential_band, cost_savings
		FROM surveys
		WHERE id = ?
	`, id).Scan(&sv.ID, &sv.OwnerID, &sv.Name, &sv.LeadName, &sv.CurrentBand, &sv.PotentialBand, &savings)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Survey{}, eris.Wrapf(ErrNotFound, "survey %s", id)
		}
		return Survey{}, eris.Wrapf(err, "query survey %s", id)
	}
	if savings.Valid {
		d, err := decimal.NewFromString(savings.String)
		if err != nil {
			return Survey{}, eris.Wrapf(err, "survey %s cost savings", id)
		}
		sv.CostSavings = decimal.NewNullDecimal(d)
	}
	return sv, nil
}

// CostSavings returns the SAP band values of a survey.
func (s *SQLite) CostSavings(ctx context.Context, surveyID string) (sapband.Savings, error) {
	sv, err := s.GetSurvey(ctx, surveyID)
	if err != nil {
		return sapband.Savings{}, err
	}
	return sapband.Savings{
		CurrentBand:   sv.CurrentBand,
		PotentialBand: sv.PotentialBand,
		CostSavings:   sv.CostSavings,
	}, nil
}

// User is a login account.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
}

// UserByEmail loads a user for authentication.
func (s *SQLite) UserByEmail(ctx context.Context, email string) (User, error) {
	var u User
	err := s.db.QueryRowContext(ctx, `SELECT id, email, password_hash FROM users WHERE email = ? LIMIT 1`, email).
		Scan(&u.ID, &u.Email, &u.PasswordHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, eris.Wrapf(ErrNotFound, "user %s", email)
		}
		return User{}, eris.Wrap(err, "query user")
	}
	return u, nil
}

func expectOne(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrap(ErrNotFound, what)
	}
	return nil
}
