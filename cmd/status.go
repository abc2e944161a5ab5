package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/outlier-data/fondos-etl/internal/ingest"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show ingestion ledger counts",
	Long:  "Displays lifecycle counts for both ingestion ledgers and lists records still awaiting download.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		pool, err := fondosPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		type ledgerStatus struct {
			name    string
			counts  *ingest.Counts
			pending []ingest.SourceRecord
		}

		var rows []ledgerStatus
		for _, l := range []struct {
			name  string
			table string
		}{
			{"cafci", "fondos.archivos_cafci"},
			{"fima", "fondos.archivos_fima"},
		} {
			ledger := ingest.NewLedger(pool, l.table)
			c, err := ledger.Stats(ctx)
			if err != nil {
				return eris.Wrapf(err, "status: %s", l.name)
			}
			pending, err := ledger.Pending(ctx)
			if err != nil {
				return eris.Wrapf(err, "status: %s pending", l.name)
			}
			rows = append(rows, ledgerStatus{l.name, c, pending})
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		writeStatusHeader(w)
		for _, r := range rows {
			_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\n",
				r.name,
				r.counts.Total,
				r.counts.PendingDownload,
				r.counts.PendingProcessing,
				r.counts.Processed,
				r.counts.Rejected,
			)
		}
		_ = w.Flush()

		for _, r := range rows {
			if len(r.pending) == 0 {
				continue
			}
			_, _ = fmt.Fprintf(os.Stdout, "\nPending downloads (%s):\n", r.name)
			formatPendingDownloads(os.Stdout, r.pending)
		}
		return nil
	},
}

func writeStatusHeader(w io.Writer) {
	_, _ = fmt.Fprintln(w, "LEDGER\tTOTAL\tPENDING DL\tPENDING PROC\tPROCESSED\tREJECTED")
	_, _ = fmt.Fprintln(w, "------\t-----\t----------\t------------\t---------\t--------")
}

// formatPendingDownloads writes a tabular listing of not-yet-downloaded
// records to w. Records rejected as malformed still show here until archived,
// marked by their outcome column.
func formatPendingDownloads(out io.Writer, records []ingest.SourceRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tRECEIVED\tCORRESPONDS\tOUTCOME\tDESCRIPTION")
	_, _ = fmt.Fprintln(w, "--\t--------\t-----------\t-------\t-----------")

	for _, r := range records {
		corresponds := "-"
		if r.CorrespondsDate != nil {
			corresponds = r.CorrespondsDate.Format("2006-01-02")
		}

		outcome := "pending"
		if r.ProcessedOK != nil && !*r.ProcessedOK {
			outcome = "rejected"
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			truncate(r.ID, 12),
			r.ReceivedAt.Format("2006-01-02 15:04"),
			corresponds,
			outcome,
			truncate(r.Description, 60),
		)
	}
	_ = w.Flush()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
