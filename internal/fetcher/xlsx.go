// Package fetcher reads raw spreadsheet files into string tables for the
// classifier. It performs no cleanup; row repair belongs to sanitize.
package fetcher

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// XLSXOptions configures the XLSX parser.
type XLSXOptions struct {
	SheetIndex int // default 0
	SheetName  string
	MaxCols    int // if > 0, rows are truncated to this many columns
}

// ReadXLSX reads a sheet and returns every row as a string slice, preamble
// included. Callers slice off their source's known skip-rows themselves so
// the raw preamble stays available for as-of cell searches.
func ReadXLSX(path string, opts XLSXOptions) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: open xlsx %s", path)
	}

	sheet, err := getSheet(f, opts)
	if err != nil {
		return nil, err
	}

	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		if opts.MaxCols > 0 && len(cells) > opts.MaxCols {
			cells = cells[:opts.MaxCols]
		}
		rows = append(rows, cells)
	}

	return rows, nil
}

func getSheet(f *xlsx.File, opts XLSXOptions) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("fetcher: sheet %q not found", opts.SheetName)
		}
		return sheet, nil
	}

	if opts.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("fetcher: sheet index %d out of range (file has %d sheets)", opts.SheetIndex, len(f.Sheets))
	}

	return f.Sheets[opts.SheetIndex], nil
}
