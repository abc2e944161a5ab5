package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/outlier-data/fondos-etl/internal/ingest"
	"github.com/outlier-data/fondos-etl/internal/pipeline"
	"github.com/outlier-data/fondos-etl/internal/portal"
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Download and process pending CAFCI files",
	Long: `Download and process every CAFCI portal file awaiting processing.

Each file is classified against the known layouts, sanitized, and loaded into
fondos.diaria_cafci together with its ledger status flip in one transaction.
Files with an unrecognized layout are marked rejected; transient failures are
left pending for the next run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		pool, err := fondosPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := ingest.Migrate(ctx, pool); err != nil {
			return eris.Wrap(err, "scrape: migrate")
		}

		browser, err := portal.Launch(cfg.Portal)
		if err != nil {
			return err
		}
		defer browser.Close() //nolint:errcheck

		if err := pipeline.NewCAFCI(pool, browser).Sync(ctx); err != nil {
			return eris.Wrap(err, "scrape")
		}

		fmt.Println("Scrape complete")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scrapeCmd)
}
