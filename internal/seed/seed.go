package seed

import (
	"database/sql"
	"errors"

	"github.com/rotisserie/eris"
	"golang.org/x/crypto/bcrypt"

	"github.com/Simplici0/retrofit-costing/internal/catalog"
)

// Config contains the values required by startup seed.
type Config struct {
	AdminEmail    string
	AdminPassword string
}

// Stats contains seed operation counters.
type Stats struct {
	Inserts int
	Updates int
}

// Run executes the startup seed in an idempotent way. Existing catalog rows
// and funders keep any price an administrator has set.
func Run(db *sql.DB, cfg Config) (Stats, error) {
	tx, err := db.Begin()
	if err != nil {
		return Stats{}, eris.Wrap(err, "begin seed transaction")
	}

	stats := Stats{}

	if err := seedAdmin(tx, cfg.AdminEmail, cfg.AdminPassword, &stats); err != nil {
		_ = tx.Rollback()
		return Stats{}, err
	}
	if err := ensureLineItems(tx, catalog.DefaultLineItems(), &stats); err != nil {
		_ = tx.Rollback()
		return Stats{}, err
	}
	if err := ensureFunders(tx, catalog.DefaultFunders(), &stats); err != nil {
		_ = tx.Rollback()
		return Stats{}, err
	}

	if err := tx.Commit(); err != nil {
		return Stats{}, eris.Wrap(err, "commit seed transaction")
	}

	return stats, nil
}

func seedAdmin(tx *sql.Tx, email, password string, stats *Stats) error {
	if email == "" || password == "" {
		return nil
	}

	var hash string
	err := tx.QueryRow(`SELECT password_hash FROM users WHERE email = ? LIMIT 1`, email).Scan(&hash)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return eris.Wrap(err, "check admin user existence")
	default:
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil {
			return nil
		}
		newHash, err := HashPassword(password)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`UPDATE users SET password_hash = ? WHERE email = ?`, newHash, email); err != nil {
			return eris.Wrap(err, "update admin password")
		}
		stats.Updates++
		return nil
	}

	newHash, err := HashPassword(password)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT INTO users (email, password_hash) VALUES (?, ?)`, email, newHash); err != nil {
		return eris.Wrap(err, "insert admin user")
	}
	stats.Inserts++
	return nil
}

// HashPassword returns a bcrypt hash at the default cost.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", eris.Wrap(err, "hash password")
	}
	return string(hash), nil
}

func ensureLineItems(tx *sql.Tx, items []catalog.LineItem, stats *Stats) error {
	for i, item := range items {
		res, err := tx.Exec(`
			INSERT INTO line_items (key, label, unit_price, quantity_based, exclusive_with, position, active)
			VALUES (?, ?, ?, ?, ?, ?, 1)
			ON CONFLICT(key) DO NOTHING
		`, item.Key, item.Label, item.UnitPrice.StringFixed(2), item.QuantityBased, item.MutuallyExclusiveWith, i)
		if err != nil {
			return eris.Wrapf(err, "insert line item %s", item.Key)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			stats.Inserts++
		}
	}
	return nil
}

func ensureFunders(tx *sql.Tx, funders []catalog.Funder, stats *Stats) error {
	for _, f := range funders {
		res, err := tx.Exec(`
			INSERT INTO funders (name, price, active)
			VALUES (?, ?, 1)
			ON CONFLICT(name) DO NOTHING
		`, f.Name, f.Price.StringFixed(2))
		if err != nil {
			return eris.Wrapf(err, "insert funder %s", f.Name)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			stats.Inserts++
		}
	}
	return nil
}
