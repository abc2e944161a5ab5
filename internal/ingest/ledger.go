package ingest

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/outlier-data/fondos-etl/internal/db"
)

// ledgerColumns is the column order used for inserts and selects.
var ledgerColumns = []string{
	"id", "recibido_en", "fecha_corresponde", "descripcion",
	"ubicacion", "descargado", "procesado_ok",
}

// Ledger provides read/write access to one source's ledger table
// (fondos.archivos_cafci or fondos.archivos_fima). Rows are append-only:
// status flags flip, rows are never deleted.
type Ledger struct {
	pool  db.Pool
	table string // schema-qualified
}

// NewLedger creates a Ledger backed by the given pool and table.
func NewLedger(pool db.Pool, table string) *Ledger {
	return &Ledger{pool: pool, table: table}
}

// Table returns the schema-qualified ledger table name.
func (l *Ledger) Table() string { return l.table }

// InsertNew inserts records whose IDs are not yet in the ledger and returns
// how many were actually inserted. Duplicate source-assigned IDs are silently
// absorbed (ON CONFLICT DO NOTHING), so re-reading the same upstream listing
// never creates duplicate ledger rows.
func (l *Ledger) InsertNew(ctx context.Context, recs []SourceRecord) (int64, error) {
	if len(recs) == 0 {
		return 0, nil
	}

	rows := make([][]any, 0, len(recs))
	for _, r := range recs {
		if r.ID == "" {
			return 0, eris.Errorf("ledger: record for %s has empty id", l.table)
		}
		rows = append(rows, []any{
			r.ID, r.ReceivedAt, r.CorrespondsDate, r.Description,
			r.DownloadLocation, r.Downloaded, r.ProcessedOK,
		})
	}

	n, err := db.BulkUpsert(ctx, l.pool, db.UpsertConfig{
		Table:        l.table,
		Columns:      ledgerColumns,
		ConflictKeys: []string{"id"},
		DoNothing:    true,
	}, rows)
	if err != nil {
		return 0, eris.Wrapf(err, "ledger: insert into %s", l.table)
	}
	return n, nil
}

// Pending returns records whose raw file has not yet been saved locally.
func (l *Ledger) Pending(ctx context.Context) ([]SourceRecord, error) {
	return l.selectWhere(ctx, "descargado = false")
}

// PendingProcessing returns records never yet attempted: not downloaded and
// with no processing outcome recorded. Records with procesado_ok = false are
// deliberately excluded: a permanently malformed file must not be retried
// on every run.
func (l *Ledger) PendingProcessing(ctx context.Context) ([]SourceRecord, error) {
	return l.selectWhere(ctx, "descargado = false AND procesado_ok IS NULL")
}

func (l *Ledger) selectWhere(ctx context.Context, cond string) ([]SourceRecord, error) {
	q := "SELECT id, recibido_en, fecha_corresponde, descripcion, ubicacion, descargado, procesado_ok FROM " +
		l.table + " WHERE " + cond + " ORDER BY recibido_en"

	rows, err := l.pool.Query(ctx, q)
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: query %s", l.table)
	}
	defer rows.Close()

	var recs []SourceRecord
	for rows.Next() {
		var r SourceRecord
		if err := rows.Scan(&r.ID, &r.ReceivedAt, &r.CorrespondsDate, &r.Description,
			&r.DownloadLocation, &r.Downloaded, &r.ProcessedOK); err != nil {
			return nil, eris.Wrapf(err, "ledger: scan %s", l.table)
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// MarkDownloaded flips descargado after the raw file has been durably saved
// locally. Never called before the local copy exists.
func (l *Ledger) MarkDownloaded(ctx context.Context, id string) error {
	_, err := l.pool.Exec(ctx,
		"UPDATE "+l.table+" SET descargado = true WHERE id = $1", id)
	if err != nil {
		return eris.Wrapf(err, "ledger: mark downloaded %s", id)
	}
	return nil
}

// MarkRejected records a definitive processing failure (unrecognized layout).
// The record is thereafter excluded from PendingProcessing and never retried
// without manual intervention.
func (l *Ledger) MarkRejected(ctx context.Context, id string) error {
	_, err := l.pool.Exec(ctx,
		"UPDATE "+l.table+" SET procesado_ok = false WHERE id = $1", id)
	if err != nil {
		return eris.Wrapf(err, "ledger: mark rejected %s", id)
	}
	return nil
}

// CompleteProcessed marks a record fully processed inside the caller's
// transaction, so the flag flip commits atomically with the normalized rows.
// A crash before commit leaves procesado_ok NULL and the record re-runnable.
func (l *Ledger) CompleteProcessed(ctx context.Context, tx pgx.Tx, id string) error {
	_, err := tx.Exec(ctx,
		"UPDATE "+l.table+" SET descargado = true, procesado_ok = true WHERE id = $1", id)
	if err != nil {
		return eris.Wrapf(err, "ledger: complete processed %s", id)
	}
	return nil
}

// Counts summarizes a ledger for the status command.
type Counts struct {
	Total             int64
	PendingDownload   int64
	PendingProcessing int64
	Processed         int64
	Rejected          int64
}

// Stats returns aggregate lifecycle counts for the ledger.
func (l *Ledger) Stats(ctx context.Context) (*Counts, error) {
	q := `SELECT count(*),
	count(*) FILTER (WHERE descargado = false),
	count(*) FILTER (WHERE descargado = false AND procesado_ok IS NULL),
	count(*) FILTER (WHERE procesado_ok = true),
	count(*) FILTER (WHERE procesado_ok = false)
	FROM ` + l.table

	var c Counts
	if err := l.pool.QueryRow(ctx, q).Scan(
		&c.Total, &c.PendingDownload, &c.PendingProcessing, &c.Processed, &c.Rejected,
	); err != nil {
		return nil, eris.Wrapf(err, "ledger: stats for %s", l.table)
	}
	return &c, nil
}
