package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outlier-data/fondos-etl/internal/ingest"
	"github.com/outlier-data/fondos-etl/internal/layout"
	"github.com/outlier-data/fondos-etl/internal/sanitize"
)

// testPipeline builds a two-column pipeline against a mock pool.
func testPipeline(t *testing.T) (*Pipeline, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	ledger := ingest.NewLedger(mock, "fondos.archivos_cafci")
	p := New(mock, Config{
		Ledger: ledger,
		Variants: []layout.Variant{
			{Name: "two_col", Width: 2, Columns: []string{"clas_moneda", "fecha"}},
		},
		SkipRows: 1,
		Schema: sanitize.Schema{
			Identity:    "clas_moneda",
			DateColumns: map[string]string{"fecha": "2/1/06"},
		},
		Table:   "diaria_cafci",
		Columns: []string{"id", "clas_moneda", "fecha"},
		Link:    cafciLink,
	})
	return p, mock
}

func TestProcessRecord_Loaded(t *testing.T) {
	p, mock := testPipeline(t)

	mock.ExpectBegin()
	mock.ExpectCopyFrom(pgx.Identifier{"fondos", "diaria_cafci"}, []string{"id", "clas_moneda", "fecha"}).
		WillReturnResult(2)
	mock.ExpectExec(`UPDATE fondos\.archivos_cafci SET descargado = true, procesado_ok = true WHERE id = \$1`).
		WithArgs("3001").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	raw := [][]string{
		{"preamble"},
		{"PESOS", "27/06/24"},
		{"DOLARES", "27/06/24"},
	}
	res, err := p.ProcessRecord(context.Background(), ingest.SourceRecord{ID: "3001"}, raw)
	require.NoError(t, err)
	assert.Equal(t, StatusLoaded, res.Status)
	assert.Equal(t, int64(2), res.Rows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessRecord_UnknownLayoutRejects(t *testing.T) {
	p, mock := testPipeline(t)

	mock.ExpectExec(`UPDATE fondos\.archivos_cafci SET procesado_ok = false WHERE id = \$1`).
		WithArgs("3001").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	raw := [][]string{
		{"preamble"},
		{"PESOS", "27/06/24", "extra"},
	}
	res, err := p.ProcessRecord(context.Background(), ingest.SourceRecord{ID: "3001"}, raw)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, res.Status)
	assert.Equal(t, int64(0), res.Rows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessRecord_DateFailureDefers(t *testing.T) {
	p, mock := testPipeline(t)

	// No database expectations: a deferred record leaves the ledger alone.
	raw := [][]string{
		{"preamble"},
		{"PESOS", "junio veintisiete"},
	}
	res, err := p.ProcessRecord(context.Background(), ingest.SourceRecord{ID: "3001"}, raw)
	require.NoError(t, err)
	assert.Equal(t, StatusDeferred, res.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessRecord_EmptyID(t *testing.T) {
	p, _ := testPipeline(t)

	_, err := p.ProcessRecord(context.Background(), ingest.SourceRecord{}, nil)
	require.Error(t, err)
}

func TestCafciLink_StampsRecordID(t *testing.T) {
	clean := [][]any{
		{"PESOS", 1.5},
		{"DOLARES", nil},
	}
	out, err := cafciLink(ingest.SourceRecord{ID: "3001"}, nil, clean)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, []any{"3001", "PESOS", 1.5}, out[0])
	assert.Equal(t, []any{"3001", "DOLARES", nil}, out[1])
}

func TestFimaLink_SheetDateWins(t *testing.T) {
	subjectDate := time.Date(2024, 6, 26, 0, 0, 0, 0, time.UTC)
	rec := ingest.SourceRecord{ID: "m1", CorrespondsDate: &subjectDate}

	raw := make([][]string, 3)
	raw[0] = []string{"Fondos FIMA"}
	raw[1] = make([]string, 11)
	raw[1][10] = "28/06/2024" // embedded as-of in K2

	out, err := fimaLink(rec, raw, [][]any{{"RF", "F1"}})
	require.NoError(t, err)
	require.Len(t, out, 1)

	row := out[0]
	require.Len(t, row, 5)
	assert.Equal(t, "m1", row[0])

	sheetDate := time.Date(2024, 6, 28, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, sheetDate, row[3]) // fecha_corresponde
	assert.Equal(t, sheetDate, row[4]) // fecha_planilla
}

func TestFimaLink_FallsBackToSubjectDate(t *testing.T) {
	subjectDate := time.Date(2024, 6, 26, 0, 0, 0, 0, time.UTC)
	rec := ingest.SourceRecord{ID: "m1", CorrespondsDate: &subjectDate}

	out, err := fimaLink(rec, [][]string{{"Fondos FIMA"}}, [][]any{{"RF", "F1"}})
	require.NoError(t, err)

	row := out[0]
	assert.Equal(t, subjectDate, row[3])
	assert.Nil(t, row[4]) // no embedded sheet date
}

func TestFimaLink_NoDatesAtAll(t *testing.T) {
	out, err := fimaLink(ingest.SourceRecord{ID: "m1"}, nil, [][]any{{"RF", "F1"}})
	require.NoError(t, err)

	row := out[0]
	assert.Nil(t, row[3])
	assert.Nil(t, row[4])
}

// The legacy 44-column export must load with the two newest canonical
// columns null on every row.
func TestProcessRecord_LegacyWidthLoads(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	ledger := ingest.NewLedger(mock, "fondos.archivos_cafci")
	p := New(mock, Config{
		Ledger:   ledger,
		Variants: layout.CAFCIVariants(),
		SkipRows: layout.CAFCISkipRows,
		Schema:   cafciSchema(),
		Table:    "diaria_cafci",
		Columns:  append([]string{"id"}, layout.CAFCIColumns()...),
		Link:     cafciLink,
	})

	dataRow := make([]string, 44)
	for i := range dataRow {
		dataRow[i] = "v"
	}
	dataRow[1] = "PESOS"    // clas_moneda
	dataRow[4] = "27/06/24" // fecha
	dataRow[5] = "1.5"      // vcp

	raw := make([][]string, layout.CAFCISkipRows)
	raw = append(raw, dataRow)

	mock.ExpectBegin()
	mock.ExpectCopyFrom(pgx.Identifier{"fondos", "diaria_cafci"}, append([]string{"id"}, layout.CAFCIColumns()...)).
		WillReturnResult(1)
	mock.ExpectExec(`UPDATE fondos\.archivos_cafci`).
		WithArgs("3001").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	res, err := p.ProcessRecord(context.Background(), ingest.SourceRecord{ID: "3001"}, raw)
	require.NoError(t, err)
	assert.Equal(t, StatusLoaded, res.Status)
	assert.Equal(t, int64(1), res.Rows)
	assert.NoError(t, mock.ExpectationsWereMet())
}
