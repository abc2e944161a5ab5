package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/outlier-data/fondos-etl/internal/ingest"
	"github.com/outlier-data/fondos-etl/internal/pipeline"
	"github.com/outlier-data/fondos-etl/internal/portal"
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Discover new CAFCI portal files",
	Long:  "Scrapes the CAFCI portal listing and records files not yet known to the ingestion ledger. Does not download or process anything.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		pool, err := fondosPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := ingest.Migrate(ctx, pool); err != nil {
			return eris.Wrap(err, "discover: migrate")
		}

		browser, err := portal.Launch(cfg.Portal)
		if err != nil {
			return err
		}
		defer browser.Close() //nolint:errcheck

		n, err := pipeline.NewCAFCI(pool, browser).Discover(ctx)
		if err != nil {
			return eris.Wrap(err, "discover")
		}

		fmt.Printf("Discovered %d new files\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(discoverCmd)
}
