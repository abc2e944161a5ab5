package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/outlier-data/fondos-etl/internal/ingest"
	"github.com/outlier-data/fondos-etl/internal/mail"
	"github.com/outlier-data/fondos-etl/internal/pipeline"
)

var mailCmd = &cobra.Command{
	Use:   "mail",
	Short: "Fetch and process FIMA mailbox deliveries",
	Long: `Fetch new FIMA spreadsheet deliveries from the monitored mailbox,
normalize them into fondos.diaria_fima, and archive each message once its
rows are committed. Messages that fail transiently stay in the inbox.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		pool, err := fondosPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := ingest.Migrate(ctx, pool); err != nil {
			return eris.Wrap(err, "mail: migrate")
		}

		client, err := mail.Connect(cfg.Mail)
		if err != nil {
			return err
		}
		defer client.Close() //nolint:errcheck

		if err := pipeline.NewFIMA(pool, client).Sync(ctx); err != nil {
			return eris.Wrap(err, "mail")
		}

		fmt.Println("Mail sync complete")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(mailCmd)
}
