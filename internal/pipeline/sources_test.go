package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/outlier-data/fondos-etl/internal/ingest"
	"github.com/outlier-data/fondos-etl/internal/layout"
	"github.com/outlier-data/fondos-etl/internal/mail"
)

var ledgerCols = []string{
	"id", "recibido_en", "fecha_corresponde", "descripcion",
	"ubicacion", "descargado", "procesado_ok",
}

type fakePortal struct {
	listing     []ingest.SourceRecord
	downloadErr error
	path        string
}

func (f *fakePortal) Listing(ctx context.Context) ([]ingest.SourceRecord, error) {
	return f.listing, nil
}

func (f *fakePortal) Download(ctx context.Context, rec ingest.SourceRecord) (string, func(), error) {
	if f.downloadErr != nil {
		return "", nil, f.downloadErr
	}
	return f.path, func() {}, nil
}

type fakeMailbox struct {
	deliveries []mail.Delivery
	archived   []imap.UID
}

func (f *fakeMailbox) FetchNew(ctx context.Context) ([]mail.Delivery, error) {
	return f.deliveries, nil
}

func (f *fakeMailbox) Archive(uid imap.UID) error {
	f.archived = append(f.archived, uid)
	return nil
}

func TestCAFCI_Discover_InsertsListing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_fondos_archivos_cafci"`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_fondos_archivos_cafci"}, ledgerCols).
		WillReturnResult(1)
	mock.ExpectExec(`ON CONFLICT \("id"\) DO NOTHING`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	portal := &fakePortal{listing: []ingest.SourceRecord{
		{ID: "3001", ReceivedAt: time.Now(), Description: "Diaria al 28 jun. 2024"},
	}}

	n, err := NewCAFCI(mock, portal).Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCAFCI_Sync_SkipsTransportFailures(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	mock.ExpectQuery(`WHERE descargado = false AND procesado_ok IS NULL`).
		WillReturnRows(pgxmock.NewRows(ledgerCols).
			AddRow("3001", time.Now(), (*time.Time)(nil), "Diaria", "https://example.org/f/3001", false, (*bool)(nil)))

	portal := &fakePortal{
		downloadErr: &ingest.TransportError{RecordID: "3001", Reason: "download did not complete in time"},
	}

	// The transport failure must not abort the run or touch the ledger.
	require.NoError(t, NewCAFCI(mock, portal).Sync(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// writeFIMASheet writes a realistic FIMA daily sheet: branding preamble,
// embedded as-of date in K2, repeated header row, one data row.
func writeFIMASheet(t *testing.T) string {
	t.Helper()

	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Hoja1")
	require.NoError(t, err)

	addRow := func(cells ...string) {
		r := sheet.AddRow()
		for _, c := range cells {
			r.AddCell().SetString(c)
		}
	}

	addRow("Fondos FIMA")
	addRow("", "", "", "", "", "", "", "", "", "", "28/06/2024")
	addRow()
	addRow()
	addRow("Tipo Fondo", "Fondo", "Bloomberg", "VCP", "Var. VCP", "Var. Mes", "TNA", "Patrimonio", "VCP Prox.", "TNA Prox.", "Calif.")
	addRow("RENTA FIJA", "FIMA AHORRO PESOS", "FIMAAHO AR", "1.5", "0.1", "0.2", "30.5", "1000", "-", "31.0", "AAA")

	path := filepath.Join(t.TempDir(), "diaria.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestFIMA_Sync_LoadsAndArchives(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	subjectDate := time.Date(2024, 6, 28, 0, 0, 0, 0, time.UTC)
	delivery := mail.Delivery{
		Record: ingest.SourceRecord{
			ID:              "b6f2c7f2-0000-4000-8000-000000000001",
			ReceivedAt:      time.Date(2024, 6, 28, 9, 30, 0, 0, time.UTC),
			CorrespondsDate: &subjectDate,
			Description:     "Fondos FIMA al 28-06-2024",
		},
		Path: writeFIMASheet(t),
		UID:  7,
	}

	// InsertNew
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_fondos_archivos_fima"`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_fondos_archivos_fima"}, ledgerCols).
		WillReturnResult(1)
	mock.ExpectExec(`ON CONFLICT \("id"\) DO NOTHING`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	// MarkDownloaded
	mock.ExpectExec(`UPDATE fondos\.archivos_fima SET descargado = true WHERE id = \$1`).
		WithArgs(delivery.Record.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	// Normalize + load in one tx
	fimaCols := append([]string{"id"}, layout.FIMAColumns()...)
	fimaCols = append(fimaCols, "fecha_corresponde", "fecha_planilla")
	mock.ExpectBegin()
	mock.ExpectCopyFrom(pgx.Identifier{"fondos", "diaria_fima"}, fimaCols).
		WillReturnResult(1)
	mock.ExpectExec(`UPDATE fondos\.archivos_fima SET descargado = true, procesado_ok = true WHERE id = \$1`).
		WithArgs(delivery.Record.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	mailbox := &fakeMailbox{deliveries: []mail.Delivery{delivery}}

	require.NoError(t, NewFIMA(mock, mailbox).Sync(context.Background()))
	assert.Equal(t, []imap.UID{7}, mailbox.archived)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFIMA_Sync_NoDeliveries(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	require.NoError(t, NewFIMA(mock, &fakeMailbox{}).Sync(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func fimaDelivery(uid imap.UID, path string) mail.Delivery {
	subjectDate := time.Date(2024, 6, 28, 0, 0, 0, 0, time.UTC)
	return mail.Delivery{
		Record: ingest.SourceRecord{
			ID:              fmt.Sprintf("b6f2c7f2-0000-4000-8000-%012d", uid),
			ReceivedAt:      time.Date(2024, 6, 28, 9, 30, 0, 0, time.UTC),
			CorrespondsDate: &subjectDate,
			Description:     "Fondos FIMA al 28-06-2024",
		},
		Path: path,
		UID:  uid,
	}
}

// expectFIMATracked expects the ledger insert and the download flag flip
// that open every delivery's processing.
func expectFIMATracked(mock pgxmock.PgxPoolIface, id string) {
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_fondos_archivos_fima"`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_fondos_archivos_fima"}, ledgerCols).
		WillReturnResult(1)
	mock.ExpectExec(`ON CONFLICT \("id"\) DO NOTHING`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	mock.ExpectExec(`UPDATE fondos\.archivos_fima SET descargado = true WHERE id = \$1`).
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
}

// expectFIMALoaded expects the atomic rows+flags transaction.
func expectFIMALoaded(mock pgxmock.PgxPoolIface, id string) {
	cols := append([]string{"id"}, layout.FIMAColumns()...)
	cols = append(cols, "fecha_corresponde", "fecha_planilla")

	mock.ExpectBegin()
	mock.ExpectCopyFrom(pgx.Identifier{"fondos", "diaria_fima"}, cols).
		WillReturnResult(1)
	mock.ExpectExec(`UPDATE fondos\.archivos_fima SET descargado = true, procesado_ok = true WHERE id = \$1`).
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()
}

// A sweep with several deliveries must archive each one by its own UID, in
// order, with every delivery fully processed.
func TestFIMA_Sync_MultipleDeliveriesArchiveEach(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	first := fimaDelivery(7, writeFIMASheet(t))
	second := fimaDelivery(9, writeFIMASheet(t))

	expectFIMATracked(mock, first.Record.ID)
	expectFIMALoaded(mock, first.Record.ID)
	expectFIMATracked(mock, second.Record.ID)
	expectFIMALoaded(mock, second.Record.ID)

	mailbox := &fakeMailbox{deliveries: []mail.Delivery{first, second}}

	require.NoError(t, NewFIMA(mock, mailbox).Sync(context.Background()))
	assert.Equal(t, []imap.UID{7, 9}, mailbox.archived)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// writeNarrowSheet writes a sheet whose data rows have too few columns for
// any known layout.
func writeNarrowSheet(t *testing.T) string {
	t.Helper()

	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Hoja1")
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		sheet.AddRow().AddCell().SetString("preamble")
	}
	r := sheet.AddRow()
	for _, v := range []string{"RENTA FIJA", "FIMA AHORRO PESOS", "1.5", "0.1", "30.5", "1000", "-", "31.0", "AAA"} {
		r.AddCell().SetString(v)
	}

	path := filepath.Join(t.TempDir(), "estrecha.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

// An unrecognized layout flips procesado_ok to false and archives the
// message so it is never re-ingested under a fresh ID.
func TestFIMA_Sync_RejectsUnknownLayoutAndArchives(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	d := fimaDelivery(12, writeNarrowSheet(t))

	expectFIMATracked(mock, d.Record.ID)
	mock.ExpectExec(`UPDATE fondos\.archivos_fima SET procesado_ok = false WHERE id = \$1`).
		WithArgs(d.Record.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	mailbox := &fakeMailbox{deliveries: []mail.Delivery{d}}

	require.NoError(t, NewFIMA(mock, mailbox).Sync(context.Background()))
	assert.Equal(t, []imap.UID{12}, mailbox.archived)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// An attachment the xlsx parser cannot open gets the same terminal treatment
// as an unknown layout: rejected and archived, not retried forever.
func TestFIMA_Sync_RejectsUnreadableAttachment(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	path := filepath.Join(t.TempDir(), "rota.xlsx")
	require.NoError(t, os.WriteFile(path, []byte("this is not a spreadsheet"), 0o644))
	d := fimaDelivery(13, path)

	expectFIMATracked(mock, d.Record.ID)
	mock.ExpectExec(`UPDATE fondos\.archivos_fima SET procesado_ok = false WHERE id = \$1`).
		WithArgs(d.Record.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	mailbox := &fakeMailbox{deliveries: []mail.Delivery{d}}

	require.NoError(t, NewFIMA(mock, mailbox).Sync(context.Background()))
	assert.Equal(t, []imap.UID{13}, mailbox.archived)
	assert.NoError(t, mock.ExpectationsWereMet())
}
