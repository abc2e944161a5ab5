package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/outlier-data/fondos-etl/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "fondos",
	Short: "Daily fund quotation ingestion",
	Long:  "Collects daily fund quotation files from the CAFCI portal and the FIMA mailbox, normalizes them, and loads them into Postgres with an idempotent ingestion ledger.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
