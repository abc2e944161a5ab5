package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// CopyInto bulk-inserts rows into a schema-qualified table within the given
// transaction using the PostgreSQL COPY protocol. The caller owns the
// transaction boundary so the copy can commit atomically with other writes.
func CopyInto(ctx context.Context, tx pgx.Tx, schema, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	n, err := tx.CopyFrom(ctx, pgx.Identifier{schema, table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, eris.Wrapf(err, "db: COPY INTO %s.%s", schema, table)
	}

	return n, nil
}
