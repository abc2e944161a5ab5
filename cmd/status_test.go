package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/outlier-data/fondos-etl/internal/ingest"
)

func TestFormatPendingDownloads_Empty(t *testing.T) {
	var buf bytes.Buffer
	formatPendingDownloads(&buf, nil)

	output := buf.String()
	// Header prints even with nothing pending.
	assert.Contains(t, output, "RECEIVED")
	assert.Contains(t, output, "CORRESPONDS")
	assert.Contains(t, output, "OUTCOME")
}

func TestFormatPendingDownloads_PendingRecord(t *testing.T) {
	received := time.Date(2024, 6, 28, 9, 15, 0, 0, time.UTC)
	corresponds := time.Date(2024, 6, 27, 0, 0, 0, 0, time.UTC)

	records := []ingest.SourceRecord{
		{
			ID:              "1390",
			ReceivedAt:      received,
			CorrespondsDate: &corresponds,
			Description:     "Informe Diario 27/06/2024",
		},
	}

	var buf bytes.Buffer
	formatPendingDownloads(&buf, records)

	output := buf.String()
	assert.Contains(t, output, "1390")
	assert.Contains(t, output, "2024-06-28 09:15")
	assert.Contains(t, output, "2024-06-27")
	assert.Contains(t, output, "pending")
	assert.Contains(t, output, "Informe Diario 27/06/2024")
}

func TestFormatPendingDownloads_RejectedRecord(t *testing.T) {
	received := time.Date(2024, 6, 28, 9, 15, 0, 0, time.UTC)
	rejected := false

	records := []ingest.SourceRecord{
		{
			ID:          "1391",
			ReceivedAt:  received,
			Description: "Informe Diario 28/06/2024",
			ProcessedOK: &rejected,
		},
	}

	var buf bytes.Buffer
	formatPendingDownloads(&buf, records)

	output := buf.String()
	assert.Contains(t, output, "rejected")
	// Records without a corresponds date print a placeholder.
	assert.Contains(t, output, "-")
}

func TestFormatPendingDownloads_TruncatesLongFields(t *testing.T) {
	received := time.Date(2024, 6, 28, 9, 15, 0, 0, time.UTC)
	longID := "b6f2c7f2-1234-4000-8000-000000000007"
	longDesc := "Fondos FIMA al 28-06-2024 con una descripcion larguisima que excede el ancho de la columna de descripcion"

	records := []ingest.SourceRecord{
		{
			ID:          longID,
			ReceivedAt:  received,
			Description: longDesc,
		},
	}

	var buf bytes.Buffer
	formatPendingDownloads(&buf, records)

	output := buf.String()
	assert.Contains(t, output, "...")
	assert.NotContains(t, output, longID)
	assert.NotContains(t, output, longDesc)
}
