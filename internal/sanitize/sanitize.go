// Package sanitize repairs raw spreadsheet rows under a known layout:
// separator and repeated-header rows are dropped, numeric placeholders
// collapse to null, and date columns parse against an explicit per-source
// pattern. The step order is a hard contract, not incidental cleanup.
package sanitize

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/outlier-data/fondos-etl/internal/layout"
)

// Schema declares, per source, which canonical columns get which treatment.
type Schema struct {
	// Identity is the column whose emptiness marks a blank separator row.
	Identity string

	// HeaderMarkers maps a column to its known header label; a row whose
	// trimmed, case-folded, accent-folded cell equals the label is a
	// repeated header row.
	HeaderMarkers map[string]string

	// NumericEmptyCluster lists numeric columns that are never all empty on
	// a data row; simultaneous emptiness marks a non-data row.
	NumericEmptyCluster []string

	// NumericColumns are coerced to float64; placeholders and unparseable
	// values become null, never an error.
	NumericColumns []string

	// DateColumns maps a column to its Go reference layout. An unparseable
	// date is a hard failure for the whole record: dates are load-critical
	// for time-series integrity, so they never get the silent-null
	// treatment numerics do.
	DateColumns map[string]string

	// Placeholders are tokens a numeric cell uses to mean "no value".
	Placeholders []string

	// NullMarkers are textual values collapsed to null in string columns.
	NullMarkers []string
}

// DateParseError reports an unparseable value in a designated date column.
type DateParseError struct {
	Column string
	Value  string
}

func (e *DateParseError) Error() string {
	return fmt.Sprintf("sanitize: column %s: unparseable date %q", e.Column, e.Value)
}

// Sanitize cleans raw rows under the given variant. The result rows are
// aligned with the variant's full canonical column list: columns the file
// does not carry are null for every row.
//
// Step order matters. Identity filtering runs first so blank separator rows
// are never mistaken for header rows by the numeric-emptiness heuristic, and
// header-row detection runs before numeric coercion so header text cannot
// poison the placeholder-null logic.
func Sanitize(rows [][]string, v *layout.Variant, s Schema) ([][]any, error) {
	present := v.Present()
	idx := make(map[string]int, len(present))
	for i, name := range present {
		idx[name] = i
	}

	cell := func(row []string, name string) (string, bool) {
		i, ok := idx[name]
		if !ok || i >= len(row) {
			return "", false
		}
		return strings.TrimSpace(row[i]), true
	}

	out := make([][]any, 0, len(rows))

	for _, row := range rows {
		// 1. Blank separator rows: no identity value.
		if id, _ := cell(row, s.Identity); id == "" {
			continue
		}

		// 2. Repeated header rows.
		if isHeaderRow(row, s, cell) {
			continue
		}

		clean := make([]any, len(v.Columns))

		for i, name := range v.Columns {
			raw, ok := cell(row, name)
			if !ok {
				clean[i] = nil // column absent from this variant
				continue
			}

			switch {
			case s.dateLayout(name) != "":
				// 4. Date columns: explicit pattern, hard failure.
				t, err := time.Parse(s.dateLayout(name), raw)
				if err != nil {
					return nil, &DateParseError{Column: name, Value: raw}
				}
				clean[i] = t

			case s.isNumeric(name):
				// 3. Numeric columns: placeholder → null, junk → null.
				clean[i] = parseNumeric(raw, s.Placeholders)

			default:
				// 5. String columns: trim, collapse empty markers.
				clean[i] = normalizeString(raw, s.NullMarkers)
			}
		}

		out = append(out, clean)
	}

	return out, nil
}

func isHeaderRow(row []string, s Schema, cell func([]string, string) (string, bool)) bool {
	for col, label := range s.HeaderMarkers {
		if v, ok := cell(row, col); ok && foldMarker(v) == foldMarker(label) {
			return true
		}
	}

	if len(s.NumericEmptyCluster) == 0 {
		return false
	}
	for _, col := range s.NumericEmptyCluster {
		v, ok := cell(row, col)
		if ok && v != "" && !isPlaceholder(v, s.Placeholders) {
			return false
		}
	}
	return true
}

func isPlaceholder(v string, placeholders []string) bool {
	for _, p := range placeholders {
		if v == p {
			return true
		}
	}
	return false
}

func parseNumeric(v string, placeholders []string) any {
	if v == "" || isPlaceholder(v, placeholders) {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil
	}
	return f
}

func normalizeString(v string, nullMarkers []string) any {
	if v == "" {
		return nil
	}
	lower := strings.ToLower(v)
	for _, m := range nullMarkers {
		if lower == m {
			return nil
		}
	}
	return v
}

func (s Schema) isNumeric(name string) bool {
	for _, c := range s.NumericColumns {
		if c == name {
			return true
		}
	}
	return false
}

func (s Schema) dateLayout(name string) string {
	if s.DateColumns == nil {
		return ""
	}
	return s.DateColumns[name]
}

// foldMarker lowercases, trims, and strips combining marks so header labels
// match whether or not the publisher kept its accents.
var markerFold = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

func foldMarker(s string) string {
	folded, _, err := transform.String(markerFold, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(strings.TrimSpace(folded))
}
