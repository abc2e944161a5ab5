package ingest

import "fmt"

// TransportError reports a fetch-level failure: a download that produced
// zero or multiple files, a timeout, or a mailbox message that does not
// carry exactly one spreadsheet attachment. Transport failures are non-fatal
// to a batch run: the record's descargado flag stays false and the record is
// retried on the next scheduled run.
type TransportError struct {
	RecordID string
	Reason   string
}

func (e *TransportError) Error() string {
	if e.RecordID == "" {
		return fmt.Sprintf("transport: %s", e.Reason)
	}
	return fmt.Sprintf("transport: record %s: %s", e.RecordID, e.Reason)
}
