package pipeline

import (
	"context"

	"github.com/emersion/go-imap/v2"
	"go.uber.org/zap"

	"github.com/outlier-data/fondos-etl/internal/db"
	"github.com/outlier-data/fondos-etl/internal/fetcher"
	"github.com/outlier-data/fondos-etl/internal/ingest"
	"github.com/outlier-data/fondos-etl/internal/layout"
	"github.com/outlier-data/fondos-etl/internal/mail"
	"github.com/outlier-data/fondos-etl/internal/sanitize"
)

// Mailbox is the subset of the mail client the FIMA source needs. Archiving
// is by UID, never by sequence number: archives expunge, and an expunge
// renumbers the sequence of every remaining message.
type Mailbox interface {
	FetchNew(ctx context.Context) ([]mail.Delivery, error)
	Archive(uid imap.UID) error
}

// FIMA ingests the bank's daily fund spreadsheets delivered by email.
// Unlike the portal source there is no separate discovery pass: a fetched
// message IS the delivery, so Sync records, normalizes, and archives in one
// sweep.
type FIMA struct {
	ledger  *ingest.Ledger
	mailbox Mailbox
	pipe    *Pipeline
}

func fimaSchema() sanitize.Schema {
	return sanitize.Schema{
		Identity: "fondo",
		HeaderMarkers: map[string]string{
			"fondo":         "fondo",
			"cod_bloomberg": "bloomberg",
			"tipo_fondo":    "tipo fondo",
		},
		NumericEmptyCluster: []string{"vcp", "var_vcp", "patrimonio"},
		NumericColumns: []string{
			"vcp", "var_vcp", "var_vcp_mes", "tna", "patrimonio", "tna_prox_habil",
		},
		Placeholders: []string{"-"},
		NullMarkers:  []string{"nan", "none"},
	}
}

// fimaLink stamps rows with the record ID and the two as-of dates. The date
// embedded in the sheet wins over the one parsed from the mail subject.
func fimaLink(rec ingest.SourceRecord, rawRows [][]string, clean [][]any) ([][]any, error) {
	sheetDate := sanitize.ParseSheetDate(layout.FindAsOf(rawRows, layout.FIMAAsOfCells))

	asOf := rec.CorrespondsDate
	if sheetDate != nil {
		asOf = sheetDate
	}

	out := make([][]any, len(clean))
	for i, row := range clean {
		stamped := make([]any, 0, len(row)+3)
		stamped = append(stamped, rec.ID)
		stamped = append(stamped, row...)

		var asOfVal, sheetVal any
		if asOf != nil {
			asOfVal = *asOf
		}
		if sheetDate != nil {
			sheetVal = *sheetDate
		}
		stamped = append(stamped, asOfVal, sheetVal)
		out[i] = stamped
	}
	return out, nil
}

// NewFIMA wires the mailbox source against the shared pipeline core.
func NewFIMA(pool db.Pool, mailbox Mailbox) *FIMA {
	ledger := ingest.NewLedger(pool, "fondos.archivos_fima")
	columns := append([]string{"id"}, layout.FIMAColumns()...)
	columns = append(columns, "fecha_corresponde", "fecha_planilla")
	return &FIMA{
		ledger:  ledger,
		mailbox: mailbox,
		pipe: New(pool, Config{
			Ledger:   ledger,
			Variants: layout.FIMAVariants(),
			SkipRows: layout.FIMASkipRows,
			Schema:   fimaSchema(),
			Table:    "diaria_fima",
			Columns:  columns,
			Link:     fimaLink,
		}),
	}
}

// Sync pulls new deliveries, ledgers and normalizes each one, and archives
// the message once its outcome is terminal: loaded, rejected, or unreadable.
// Only deferred deliveries stay in the inbox for the next run.
func (f *FIMA) Sync(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "pipeline.fima"))

	deliveries, err := f.mailbox.FetchNew(ctx)
	if err != nil {
		return err
	}
	if len(deliveries) == 0 {
		log.Info("no new deliveries")
		return nil
	}

	var loaded, rejected, deferred int
	for _, d := range deliveries {
		if err := ctx.Err(); err != nil {
			return err
		}
		rlog := log.With(zap.String("record", d.Record.ID))

		if _, err := f.ledger.InsertNew(ctx, []ingest.SourceRecord{d.Record}); err != nil {
			return err
		}
		// The attachment is already on disk, so the download is durable even
		// if processing below fails.
		if err := f.ledger.MarkDownloaded(ctx, d.Record.ID); err != nil {
			return err
		}

		raw, err := fetcher.ReadXLSX(d.Path, fetcher.XLSXOptions{MaxCols: len(layout.FIMAColumns())})
		if err != nil {
			// An unreadable attachment is as final as an unrecognized
			// layout. Leaving the message in the inbox would mint a fresh
			// orphan ledger row on every run, since mail records carry
			// generated IDs.
			rlog.Warn("unreadable attachment, rejecting record", zap.Error(err))
			if err := f.ledger.MarkRejected(ctx, d.Record.ID); err != nil {
				return err
			}
			rejected++
			f.archive(rlog, d.UID)
			continue
		}

		res, err := f.pipe.ProcessRecord(ctx, d.Record, raw)
		if err != nil {
			return err
		}

		switch res.Status {
		case StatusLoaded:
			loaded++
			// Archive only after commit. Mail records carry generated IDs, so
			// an inbox message left behind is re-ingested wholesale on the
			// next run.
			f.archive(rlog, d.UID)
		case StatusRejected:
			rejected++
			// Rejected layouts archive too: retrying a structural mismatch
			// can only produce another rejected ledger row.
			f.archive(rlog, d.UID)
		case StatusDeferred:
			deferred++
		}
	}

	log.Info("sync complete",
		zap.Int("deliveries", len(deliveries)),
		zap.Int("loaded", loaded),
		zap.Int("rejected", rejected),
		zap.Int("deferred", deferred))
	return nil
}

// archive moves a finished message out of the inbox. Failure is logged, not
// fatal: the ledger outcome is already committed.
func (f *FIMA) archive(log *zap.Logger, uid imap.UID) {
	if err := f.mailbox.Archive(uid); err != nil {
		log.Warn("archive failed, message stays in inbox", zap.Error(err))
	}
}
