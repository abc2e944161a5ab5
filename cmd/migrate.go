package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/outlier-data/fondos-etl/internal/ingest"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply schema migrations",
	Long:  "Applies all pending SQL migrations to the fondos schema in lexicographic order.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		pool, err := fondosPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := ingest.Migrate(ctx, pool); err != nil {
			return eris.Wrap(err, "migrate")
		}

		zap.L().Info("all migrations applied successfully")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
