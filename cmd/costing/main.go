// Command costing runs retrofit costing tasks from the shell: offline quotes,
// database migrations, seeding and spreadsheet export.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Simplici0/retrofit-costing/internal/config"
)

var configDir string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "costing",
		Short:         "Retrofit costing tools.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configDir, "config-dir", "", "extra directory searched for config.yaml")

	root.AddCommand(newQuoteCmd(), newMigrateCmd(), newSeedCmd(), newExportCmd())
	return root
}

// loadConfig reads configuration and installs the global logger.
func loadConfig() (*config.Config, error) {
	var dirs []string
	if configDir != "" {
		dirs = append(dirs, configDir)
	}
	cfg, err := config.Load(dirs...)
	if err != nil {
		return nil, err
	}
	if err := config.InitLogger(cfg.Log); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		zap.L().Debug("command failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
