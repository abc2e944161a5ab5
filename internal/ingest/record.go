// Package ingest provides the ingestion ledger: the durable, append-only
// record of every externally published file and its fetch/process lifecycle.
package ingest

import "time"

// SourceRecord is one unit of externally published fund data (a portal
// listing entry or a mailbox attachment) tracked through its lifecycle.
//
// ProcessedOK is tri-state: nil means processing was never attempted, true
// means the normalize+load pipeline completed, false means the record was
// definitively rejected and is never retried automatically.
type SourceRecord struct {
	ID               string
	ReceivedAt       time.Time
	CorrespondsDate  *time.Time
	Description      string
	DownloadLocation string
	Downloaded       bool
	ProcessedOK      *bool
}
