package layout

import "strings"

// CellRef addresses a cell in the raw (unskipped) sheet, zero-based.
type CellRef struct {
	Row int
	Col int
}

// FindAsOf searches the candidate cells in priority order and returns the
// first non-empty trimmed value. The empty string means no candidate held a
// value; downstream consumers must tolerate a missing embedded as-of date.
func FindAsOf(rows [][]string, candidates []CellRef) string {
	for _, c := range candidates {
		if c.Row >= len(rows) {
			continue
		}
		row := rows[c.Row]
		if c.Col >= len(row) {
			continue
		}
		if v := strings.TrimSpace(row[c.Col]); v != "" {
			return v
		}
	}
	return ""
}
