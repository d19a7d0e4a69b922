package catalog

import (
	"strconv"
	"time"

	"github.com/ajitpratap0/orodw/pkg/frame"
	"github.com/ajitpratap0/orodw/pkg/query"
)

// Inventory snapshot columns.
const (
	SnapshotTable   = "fact_inventario_snapshot_diario"
	SnapshotDateCol = "fecha_snapshot"

	colAvailable = "stock_disponible"
	colReserved  = "stock_reservado"
	colTotal     = "stock_total"
)

// Inventory returns the inventory level target.
func Inventory() *query.Target {
	return &query.Target{
		Name:  SnapshotTable,
		Kind:  query.KindSnapshot,
		Table: "oro_inventory_level_granular",
		Columns: []query.Mapping{
			{Name: "product_id", Candidates: []string{"product_id", "product", "productid", "producto_id"}, Type: query.TypeBigint, Required: true},
			{Name: "almacen_id", Candidates: []string{"warehouse_id", "warehouse", "warehouseid", "almacen_id", "source_warehouse_id"}, Type: query.TypeBigint},
			{Name: colAvailable, Candidates: []string{"stock_disponible", "available_qty", "available_quantity", "on_hand", "onhand", "quantity", "qty", "inventory_qty"}, Type: query.TypeNumeric},
			{Name: colReserved, Candidates: []string{"stock_reservado", "reserved_qty", "reserved_quantity", "allocated_qty", "asignado"}, Type: query.TypeNumeric},
			{Name: colTotal, Candidates: []string{"stock_total", "total_qty", "total_quantity", "cantidad_total"}, Type: query.TypeNumeric},
			{Name: "unidad", Candidates: []string{"product_unit", "unit", "unidad", "product_unit_code"}, Type: query.TypeText},
		},
		Passthrough: true,
	}
}

// SnapshotJob extracts inventory levels and stamps them with date. A zero
// date means today.
func SnapshotJob(date time.Time, drop []string) Job {
	if date.IsZero() {
		now := time.Now()
		date = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
	return Job{
		Group:  GroupSnapshot,
		Target: Inventory(),
		Drop:   drop,
		Transform: func(f *frame.Frame, tpl *query.Template) (*frame.Frame, error) {
			out := f.Clone()
			DeriveStock(out, tpl)
			out.InsertColumn(0, frame.Column{Name: SnapshotDateCol, Type: frame.TypeDate}, date)
			return out, nil
		},
	}
}

// DeriveStock fills the one stock measure the source lacks from the other
// two: disponible = total - reservado, reservado = total - disponible,
// total = disponible + reservado. Rows missing an operand stay null.
// Measures the source provides are never overwritten.
func DeriveStock(f *frame.Frame, tpl *query.Template) {
	missing := func(name string) bool {
		if tpl == nil {
			return false
		}
		e, ok := tpl.Resolved[name]
		return ok && e == ""
	}
	avail, res, tot := f.Index(colAvailable), f.Index(colReserved), f.Index(colTotal)
	if avail < 0 || res < 0 || tot < 0 {
		return
	}

	var target, a, b int
	var combine func(x, y float64) float64
	switch {
	case missing(colAvailable) && !missing(colReserved) && !missing(colTotal):
		target, a, b = avail, tot, res
		combine = func(x, y float64) float64 { return x - y }
	case missing(colReserved) && !missing(colAvailable) && !missing(colTotal):
		target, a, b = res, tot, avail
		combine = func(x, y float64) float64 { return x - y }
	case missing(colTotal) && !missing(colAvailable) && !missing(colReserved):
		target, a, b = tot, avail, res
		combine = func(x, y float64) float64 { return x + y }
	default:
		return
	}

	for _, row := range f.Rows {
		x, okx := toFloat(row[a])
		y, oky := toFloat(row[b])
		if okx && oky {
			row[target] = combine(x, y)
		}
	}
	f.Columns[target].Type = frame.TypeFloat
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case frame.Decimal:
		return n.Float()
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
