package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Simplici0/retrofit-costing/internal/db"
	"github.com/Simplici0/retrofit-costing/internal/export"
	"github.com/Simplici0/retrofit-costing/internal/migrations"
	"github.com/Simplici0/retrofit-costing/internal/seed"
	"github.com/Simplici0/retrofit-costing/internal/store"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			database, err := db.Open(cfg.Store.Path)
			if err != nil {
				return err
			}
			defer database.Close()

			if err := migrations.Up(database); err != nil {
				return err
			}
			version, err := migrations.Version(database)
			if err != nil {
				return err
			}
			zap.L().Info("migrations applied", zap.String("path", cfg.Store.Path), zap.Int64("version", version))
			cmd.Printf("database at version %d\n", version)
			return nil
		},
	}
}

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert the admin user, default line items and funders.",
		Long: `Seed is idempotent. Existing line items and funders keep their prices;
the admin password hash is rotated when auth.admin_password changes.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			database, err := db.Open(cfg.Store.Path)
			if err != nil {
				return err
			}
			defer database.Close()

			stats, err := seed.Run(database, seed.Config{AdminEmail: cfg.Auth.AdminEmail, AdminPassword: cfg.Auth.AdminPassword})
			if err != nil {
				return err
			}
			zap.L().Info("seed complete", zap.Int("inserts", stats.Inserts), zap.Int("updates", stats.Updates))
			cmd.Printf("seed: %d inserted, %d updated\n", stats.Inserts, stats.Updates)
			return nil
		},
	}
}

func newExportCmd() *cobra.Command {
	var owner, out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the costings of an owner to an xlsx workbook.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if owner == "" {
				return eris.New("--owner is required")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			database, err := db.Open(cfg.Store.Path)
			if err != nil {
				return err
			}
			defer database.Close()

			st := store.New(database)
			ctx := cmd.Context()
			items, err := st.SearchCostings(ctx, owner, "")
			if err != nil {
				return err
			}
			records, err := st.ListRecords(ctx, "", owner)
			if err != nil {
				return err
			}
			data, err := export.Workbook(items, records)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return eris.Wrapf(err, "write %s", out)
			}
			cmd.Printf("exported %d costings to %s\n", len(items), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner whose costings are exported")
	cmd.Flags().StringVarP(&out, "out", "o", "costings.xlsx", "output file")
	return cmd
}
