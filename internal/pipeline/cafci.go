package pipeline

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/outlier-data/fondos-etl/internal/db"
	"github.com/outlier-data/fondos-etl/internal/fetcher"
	"github.com/outlier-data/fondos-etl/internal/ingest"
	"github.com/outlier-data/fondos-etl/internal/layout"
	"github.com/outlier-data/fondos-etl/internal/sanitize"
)

// PortalBrowser is the subset of the portal client the CAFCI source needs.
type PortalBrowser interface {
	Listing(ctx context.Context) ([]ingest.SourceRecord, error)
	Download(ctx context.Context, rec ingest.SourceRecord) (path string, cleanup func(), err error)
}

// CAFCI ingests the daily fund-quotation files published on the regulator's
// portal. Discovery and processing are separate passes: Discover records new
// listing entries in the ledger, Sync downloads and normalizes everything
// still pending.
type CAFCI struct {
	ledger *ingest.Ledger
	portal PortalBrowser
	pipe   *Pipeline
}

func cafciSchema() sanitize.Schema {
	return sanitize.Schema{
		Identity:       "clas_moneda",
		NumericColumns: []string{"vcp"},
		DateColumns:    map[string]string{"fecha": "2/1/06"},
		Placeholders:   []string{"-"},
		NullMarkers:    []string{"nan", "none"},
	}
}

// cafciLink stamps each sanitized row with the ledger record ID. CAFCI rows
// carry their own fecha column, so no as-of date is appended.
func cafciLink(rec ingest.SourceRecord, _ [][]string, clean [][]any) ([][]any, error) {
	out := make([][]any, len(clean))
	for i, row := range clean {
		stamped := make([]any, 0, len(row)+1)
		stamped = append(stamped, rec.ID)
		stamped = append(stamped, row...)
		out[i] = stamped
	}
	return out, nil
}

// NewCAFCI wires the portal source against the shared pipeline core.
func NewCAFCI(pool db.Pool, portal PortalBrowser) *CAFCI {
	ledger := ingest.NewLedger(pool, "fondos.archivos_cafci")
	return &CAFCI{
		ledger: ledger,
		portal: portal,
		pipe: New(pool, Config{
			Ledger:   ledger,
			Variants: layout.CAFCIVariants(),
			SkipRows: layout.CAFCISkipRows,
			Schema:   cafciSchema(),
			Table:    "diaria_cafci",
			Columns:  append([]string{"id"}, layout.CAFCIColumns()...),
			Link:     cafciLink,
		}),
	}
}

// Discover scrapes the portal listing and records entries not yet in the
// ledger. Re-running is harmless: known IDs are skipped, downloaded and
// processed flags are never touched.
func (c *CAFCI) Discover(ctx context.Context) (int64, error) {
	log := zap.L().With(zap.String("component", "pipeline.cafci"))

	recs, err := c.portal.Listing(ctx)
	if err != nil {
		return 0, err
	}

	inserted, err := c.ledger.InsertNew(ctx, recs)
	if err != nil {
		return 0, err
	}

	log.Info("listing discovered",
		zap.Int("listed", len(recs)),
		zap.Int64("new", inserted))
	return inserted, nil
}

// Sync downloads and normalizes every ledger record still awaiting
// processing. Per-record transport and read failures are skipped and retried
// on the next run; persistence failures abort the batch.
func (c *CAFCI) Sync(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "pipeline.cafci"))

	recs, err := c.ledger.PendingProcessing(ctx)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		log.Info("no records pending")
		return nil
	}

	var loaded, rejected, deferred, skipped int
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return err
		}

		path, cleanup, err := c.portal.Download(ctx, rec)
		if err != nil {
			var te *ingest.TransportError
			if errors.As(err, &te) {
				log.Warn("download failed, will retry next run",
					zap.String("record", rec.ID),
					zap.String("reason", te.Reason))
				skipped++
				continue
			}
			return err
		}

		raw, err := fetcher.ReadXLSX(path, fetcher.XLSXOptions{})
		if err != nil {
			cleanup()
			log.Warn("unreadable download, will retry next run",
				zap.String("record", rec.ID),
				zap.Error(err))
			skipped++
			continue
		}

		res, err := c.pipe.ProcessRecord(ctx, rec, raw)
		cleanup()
		if err != nil {
			return err
		}

		switch res.Status {
		case StatusLoaded:
			loaded++
		case StatusRejected:
			rejected++
		case StatusDeferred:
			deferred++
		}
	}

	log.Info("sync complete",
		zap.Int("pending", len(recs)),
		zap.Int("loaded", loaded),
		zap.Int("rejected", rejected),
		zap.Int("deferred", deferred),
		zap.Int("skipped", skipped))
	return nil
}
