package layout

// fimaColumns is the canonical column list for the FIMA daily per-fund-type
// summary, columns A:K of the mailed spreadsheet.
var fimaColumns = []string{
	"tipo_fondo",
	"fondo",
	"cod_bloomberg",
	"vcp",
	"var_vcp",
	"var_vcp_mes",
	"tna",
	"patrimonio",
	"vcp_prox_habil",
	"tna_prox_habil",
	"calificacion",
}

// FIMAColumns returns the canonical FIMA column list.
func FIMAColumns() []string { return fimaColumns }

// FIMAVariants is the variant table for the mailed daily summary. FIMA has
// only ever published one shape.
func FIMAVariants() []Variant {
	return []Variant{
		{Name: "fima_diaria", Width: 11, Columns: fimaColumns},
	}
}

// FIMASkipRows is the number of preamble rows above the data.
const FIMASkipRows = 4

// FIMAAsOfCells are the sheet coordinates where the embedded as-of date has
// been observed, in priority order: K2 most often, but H2 and H3 have both
// appeared.
var FIMAAsOfCells = []CellRef{
	{Row: 1, Col: 10},
	{Row: 1, Col: 7},
	{Row: 2, Col: 7},
}
