package layout

// cafciColumns is the canonical column list for the CNV industry-wide
// listing export, in positional order of the current files.
var cafciColumns = []string{
	"fondo",
	"clas_moneda",
	"clas_region",
	"clas_horizonte",
	"fecha",
	"vcp",
	"vcp_anterior",
	"var_vcp",
	"reex_pesos",
	"var_vcp_1",
	"var_vcp_2",
	"var_vcp_3",
	"ccp",
	"ccp_anterior",
	"patrimonio",
	"patrimonio_anterior",
	"market_share",
	"sociedad_depositaria",
	"codigo_cnv",
	"calificacion",
	"codigo_cafci",
	"codigo_soc_gte",
	"codigo_soc_dep",
	"sociedad_gerente",
	"codigo_clasificacion",
	"codigo_moneda",
	"codigo_region",
	"codigo_horizonte",
	"indice_mm",
	"comision_ingreso",
	"honorarios_adm_sg",
	"honorarios_adm_sd",
	"gastos_ord_gestion",
	"comision_rescate",
	"comision_transferencia",
	"honorarios_exito",
	"moneda_fondo",
	"plazo_liq",
	"decreto_596",
	"id_fondo_cafci_padre",
	"id_fondo_cnv_padre",
	"tipo_escision",
	"repatriacion",
	"minimo_inversion",
	"regularizacion_ley_27743",
	"tipo_dinero",
}

// CAFCIColumns returns the canonical CNV column list.
func CAFCIColumns() []string { return cafciColumns }

// CAFCIVariants is the ordered table of known CNV export shapes. Files
// published before Ley 27743 lack the two trailing tax columns; those load
// as null. Any other width is rejected outright. New publisher shapes are
// added here, not as new code paths.
func CAFCIVariants() []Variant {
	return []Variant{
		{Name: "cafci_legacy", Width: 44, Columns: cafciColumns},
		{Name: "cafci_current", Width: 46, Columns: cafciColumns},
	}
}

// CAFCISkipRows is the number of preamble rows above the data in every
// known CNV export shape.
const CAFCISkipRows = 9
