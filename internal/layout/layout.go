// Package layout classifies raw spreadsheet tables into one of the known
// column-layout variants each publisher has historically used. A variant is
// matched from the raw table alone, never from record metadata, so the
// classification is reproducible from the file at any later time.
package layout

import "fmt"

// Variant is one known shape of a publisher's spreadsheet export,
// distinguished by total column count. Columns holds the full canonical
// column list; a raw table of Width columns maps positionally onto
// Columns[:Width], and Columns[Width:] are absent from the file (loaded as
// null for every row).
type Variant struct {
	Name    string
	Width   int
	Columns []string
}

// Missing returns the canonical columns the variant's files do not carry.
func (v *Variant) Missing() []string {
	if v.Width >= len(v.Columns) {
		return nil
	}
	return v.Columns[v.Width:]
}

// Present returns the canonical columns mapped 1:1 onto raw positions.
func (v *Variant) Present() []string {
	if v.Width >= len(v.Columns) {
		return v.Columns
	}
	return v.Columns[:v.Width]
}

// UnknownLayoutError reports a column count outside the known variant table.
// The engine must not guess a mapping: the record is rejected with the
// observed count logged for manual triage.
type UnknownLayoutError struct {
	Columns int
}

func (e *UnknownLayoutError) Error() string {
	return fmt.Sprintf("layout: unrecognized column count %d", e.Columns)
}

// Classify matches a raw table against a variant table by column count.
// The count is the widest row in the table, so blank separator rows and
// short header rows cannot change the verdict.
func Classify(rows [][]string, variants []Variant) (*Variant, error) {
	width := 0
	for _, row := range rows {
		if len(row) > width {
			width = len(row)
		}
	}

	for i := range variants {
		if variants[i].Width == width {
			return &variants[i], nil
		}
	}
	return nil, &UnknownLayoutError{Columns: width}
}
