// Package pipeline wires one source record through the normalization core:
// classify the raw table, sanitize its rows, stamp identity and as-of date,
// and load the result atomically with the ledger status flip.
package pipeline

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/outlier-data/fondos-etl/internal/db"
	"github.com/outlier-data/fondos-etl/internal/ingest"
	"github.com/outlier-data/fondos-etl/internal/layout"
	"github.com/outlier-data/fondos-etl/internal/sanitize"
)

// Status is the terminal disposition of one record's processing attempt.
type Status string

const (
	// StatusLoaded: rows persisted, descargado and procesado_ok both set in
	// the same transaction.
	StatusLoaded Status = "loaded"

	// StatusRejected: unrecognized layout; procesado_ok = false, no rows
	// written, never retried automatically.
	StatusRejected Status = "rejected"

	// StatusDeferred: transient per-record failure (unparseable date). The
	// ledger is untouched so the record is retried on the next run.
	StatusDeferred Status = "deferred"
)

// Result reports one record's processing outcome.
type Result struct {
	Status Status
	Rows   int64
}

// LinkFunc stamps sanitized rows with record identity and as-of columns.
// rawRows is the unskipped sheet, available for embedded as-of cell lookup.
type LinkFunc func(rec ingest.SourceRecord, rawRows [][]string, clean [][]any) ([][]any, error)

// Pipeline holds the per-source normalization configuration. The variant
// table, sanitizer schema, and link function are data: both publishers run
// through this one code path.
type Pipeline struct {
	pool     db.Pool
	ledger   *ingest.Ledger
	variants []layout.Variant
	skipRows int
	schema   sanitize.Schema
	dbSchema string
	table    string
	columns  []string
	link     LinkFunc
}

// Config assembles a Pipeline.
type Config struct {
	Ledger   *ingest.Ledger
	Variants []layout.Variant
	SkipRows int
	Schema   sanitize.Schema
	Table    string // normalized table, unqualified, in schema "fondos"
	Columns  []string
	Link     LinkFunc
}

// New creates a Pipeline writing through the given pool.
func New(pool db.Pool, cfg Config) *Pipeline {
	return &Pipeline{
		pool:     pool,
		ledger:   cfg.Ledger,
		variants: cfg.Variants,
		skipRows: cfg.SkipRows,
		schema:   cfg.Schema,
		dbSchema: "fondos",
		table:    cfg.Table,
		columns:  cfg.Columns,
		link:     cfg.Link,
	}
}

// ProcessRecord runs the full normalize+load sequence for one record's raw
// sheet and applies the matching ledger transition.
//
// Outcome mapping:
//   - recognized layout, clean load  → rows + procesado_ok=true in one tx
//   - unrecognized column count      → procesado_ok=false, zero rows
//   - unparseable date column        → ledger untouched, retried next run
//   - any persistence failure        → returned as an error; the caller must
//     abort the batch with the ledger at its last consistent state
func (p *Pipeline) ProcessRecord(ctx context.Context, rec ingest.SourceRecord, rawRows [][]string) (*Result, error) {
	log := zap.L().With(zap.String("component", "pipeline"), zap.String("record", rec.ID))

	if rec.ID == "" {
		// Ledger inserts refuse empty IDs, so this is unreachable short of
		// caller misuse.
		return nil, eris.New("pipeline: record has no id")
	}

	var dataRows [][]string
	if p.skipRows < len(rawRows) {
		dataRows = rawRows[p.skipRows:]
	}

	variant, err := layout.Classify(dataRows, p.variants)
	if err != nil {
		var unknown *layout.UnknownLayoutError
		if errors.As(err, &unknown) {
			log.Warn("unrecognized layout, rejecting record",
				zap.Int("columns", unknown.Columns))
			if err := p.ledger.MarkRejected(ctx, rec.ID); err != nil {
				return nil, err
			}
			return &Result{Status: StatusRejected}, nil
		}
		return nil, err
	}

	clean, err := sanitize.Sanitize(dataRows, variant, p.schema)
	if err != nil {
		var dateErr *sanitize.DateParseError
		if errors.As(err, &dateErr) {
			// Date glitches can be transient publisher mistakes, unlike
			// structural layout changes: leave procesado_ok NULL.
			log.Warn("date parse failure, deferring record",
				zap.String("column", dateErr.Column),
				zap.String("value", dateErr.Value))
			return &Result{Status: StatusDeferred}, nil
		}
		return nil, err
	}

	linked, err := p.link(rec, rawRows, clean)
	if err != nil {
		return nil, err
	}

	n, err := p.load(ctx, rec.ID, linked)
	if err != nil {
		return nil, err
	}

	log.Info("record loaded",
		zap.String("variant", variant.Name),
		zap.Int64("rows", n))
	return &Result{Status: StatusLoaded, Rows: n}, nil
}

// load writes the normalized rows and flips the ledger flags in one
// transaction. A crash anywhere before commit leaves procesado_ok NULL and
// no normalized rows visible.
func (p *Pipeline) load(ctx context.Context, id string, rows [][]any) (int64, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "pipeline: begin load tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	n, err := db.CopyInto(ctx, tx, p.dbSchema, p.table, p.columns, rows)
	if err != nil {
		return 0, err
	}

	if err := p.ledger.CompleteProcessed(ctx, tx, id); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "pipeline: commit load tx")
	}

	return n, nil
}
