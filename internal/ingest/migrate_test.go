package ingest

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrate_AllApplied(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	mock.ExpectExec(`SELECT pg_advisory_lock\(2743001\)`).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(`CREATE SCHEMA IF NOT EXISTS fondos`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery(`SELECT filename FROM fondos\.schema_migrations`).
		WillReturnRows(pgxmock.NewRows([]string{"filename"}).
			AddRow("0001_ledgers.sql").
			AddRow("0002_diaria.sql"))
	mock.ExpectExec(`SELECT pg_advisory_unlock\(2743001\)`).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, Migrate(context.Background(), mock))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_AppliesPending(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	mock.ExpectExec(`SELECT pg_advisory_lock\(2743001\)`).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(`CREATE SCHEMA IF NOT EXISTS fondos`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery(`SELECT filename FROM fondos\.schema_migrations`).
		WillReturnRows(pgxmock.NewRows([]string{"filename"}).
			AddRow("0001_ledgers.sql"))

	// 0002 is pending: the file runs, then gets recorded.
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS fondos\.diaria_cafci`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`INSERT INTO fondos\.schema_migrations`).
		WithArgs("0002_diaria.sql").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	mock.ExpectExec(`SELECT pg_advisory_unlock\(2743001\)`).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, Migrate(context.Background(), mock))
	assert.NoError(t, mock.ExpectationsWereMet())
}
