package catalog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ajitpratap0/orodw/pkg/config"
	"github.com/ajitpratap0/orodw/pkg/frame"
	"github.com/ajitpratap0/orodw/pkg/query"
	"github.com/ajitpratap0/orodw/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobs(t *testing.T) {
	s := config.NewSettings()
	s.DropColumns = map[string][]string{"dim_usuario": {"password", "salt"}}
	jobs := Jobs(Options{Settings: s})

	byName := make(map[string]Job)
	groups := make(map[string]int)
	for _, j := range jobs {
		_, dup := byName[j.Name()]
		require.False(t, dup, "duplicate target %s", j.Name())
		byName[j.Name()] = j
		groups[j.Group]++
		if j.Target != nil {
			assert.Nil(t, j.Generate, j.Name())
			for _, m := range j.Target.Columns {
				for _, c := range m.Candidates {
					_, col, _ := strings.Cut(c, ".")
					if col == "" {
						col = c
					}
					assert.True(t, schema.ValidIdentifier(col), "%s.%s candidate %q", j.Name(), m.Name, c)
				}
			}
		} else {
			assert.NotNil(t, j.Generate, j.Name())
		}
	}

	assert.Equal(t, map[string]int{
		GroupFacts:      2,
		GroupQuotes:     2,
		GroupDimensions: 8,
		GroupSnapshot:   1,
		GroupCalendar:   1,
	}, groups)
	assert.Equal(t, []string{"password", "salt"}, byName["dim_usuario"].Drop)
	assert.True(t, byName["fact_cotizacion"].Target.Incremental.Default)
	assert.False(t, byName["fact_pago"].Target.Incremental.Default)
	assert.NotNil(t, byName[SnapshotTable].Transform)
}

func TestSelect(t *testing.T) {
	jobs := Jobs(Options{})

	tests := []struct {
		name    string
		groups  []string
		targets []string
		want    []string
		wantErr string
	}{
		{name: "group", groups: []string{GroupQuotes}, want: []string{"fact_cotizacion", "fact_cotizacion_linea"}},
		{name: "target", targets: []string{"fact_pago"}, want: []string{"fact_pago"}},
		{name: "group and target", groups: []string{GroupFacts}, targets: []string{"fact_pago", "dim_canal"}, want: []string{"fact_pago"}},
		{name: "unknown group", groups: []string{"nope"}, wantErr: "unknown group: nope"},
		{name: "unknown target", targets: []string{"fact_x"}, wantErr: "unknown target: fact_x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Select(jobs, tt.groups, tt.targets)
			if tt.wantErr != "" {
				require.EqualError(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			var names []string
			for _, j := range got {
				names = append(names, j.Name())
			}
			assert.Equal(t, tt.want, names)
		})
	}

	all, err := Select(jobs, nil, nil)
	require.NoError(t, err)
	assert.Len(t, all, len(jobs))
}

func TestQuoteLines_Build(t *testing.T) {
	tbl := func(name string, cols ...string) query.Table {
		return query.Table{Schema: "public", Name: name, Columns: schema.NewColumnSet(cols...)}
	}
	target := quoteLines()
	known := query.Known{
		"qp":  tbl("oro_sale_quote_product", "id", "quote_id", "product_id", "product_sku"),
		"req": tbl("oro_sale_quote_prod_request", "id", "quote_product_id", "quantity", "product_unit_code"),
		"off": tbl("oro_sale_quote_prod_offer", "id", "quote_product_request_id", "value", "currency"),
		"sq":  tbl("oro_sale_quote", "id", "created_at", "updated_at"),
	}

	tpl, err := query.NewBuilder(nil).Build(*target, known)
	require.NoError(t, err)
	assert.Equal(t, `req."product_unit_code"`, tpl.Resolved["product_unit"])
	assert.Equal(t, `off."value"`, tpl.Resolved["price"])
	assert.Equal(t, `COALESCE(sq."updated_at", sq."created_at")`, tpl.Predicate)

	sql, args, mode := tpl.Render(true, nil)
	assert.Equal(t, query.ModeBootstrap, mode)
	assert.Nil(t, args)
	assert.Contains(t, sql, `MIN("id") AS min_id FROM "public"."oro_sale_quote_prod_offer" GROUP BY "quote_product_request_id"`)
	assert.Contains(t, sql, `LEFT JOIN "public"."oro_sale_quote" sq ON sq."id" = qp."quote_id"`)
}

func TestDeriveStock(t *testing.T) {
	newFrame := func() *frame.Frame {
		f := frame.New(
			frame.Column{Name: "product_id", Type: frame.TypeInt},
			frame.Column{Name: colAvailable, Type: frame.TypeFloat},
			frame.Column{Name: colReserved, Type: frame.TypeFloat},
			frame.Column{Name: colTotal, Type: frame.TypeFloat},
		)
		f.Append(int64(1), 7.0, 3.0, 10.0)
		f.Append(int64(2), nil, int64(1), "4")
		return f
	}
	resolved := func(missing string) *query.Template {
		tpl := &query.Template{Resolved: map[string]string{
			colAvailable: "t.a", colReserved: "t.r", colTotal: "t.x",
		}}
		if missing != "" {
			tpl.Resolved[missing] = ""
		}
		return tpl
	}

	t.Run("total from available and reserved", func(t *testing.T) {
		f := newFrame()
		f.Rows[0][3], f.Rows[1][3] = nil, nil
		f.Rows[1][1] = 2.5
		DeriveStock(f, resolved(colTotal))
		assert.Equal(t, 10.0, f.Rows[0][3])
		assert.Equal(t, 3.5, f.Rows[1][3])
	})

	t.Run("available from total and reserved", func(t *testing.T) {
		f := newFrame()
		f.Rows[0][1] = nil
		DeriveStock(f, resolved(colAvailable))
		assert.Equal(t, 7.0, f.Rows[0][1])
		assert.Equal(t, 3.0, f.Rows[1][1])
	})

	t.Run("reserved from total and available", func(t *testing.T) {
		f := newFrame()
		f.Rows[0][2], f.Rows[1][2] = nil, nil
		DeriveStock(f, resolved(colReserved))
		assert.Equal(t, 3.0, f.Rows[0][2])
		assert.Nil(t, f.Rows[1][2], "available is null")
	})

	t.Run("resolved measures are kept", func(t *testing.T) {
		f := newFrame()
		DeriveStock(f, resolved(""))
		assert.Equal(t, newFrame().Rows, f.Rows)
	})

	t.Run("two missing measures stay null", func(t *testing.T) {
		f := newFrame()
		tpl := resolved(colTotal)
		tpl.Resolved[colReserved] = ""
		DeriveStock(f, tpl)
		assert.Equal(t, newFrame().Rows, f.Rows)
	})
}

func TestSnapshotJob_StampsDate(t *testing.T) {
	date := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)
	job := SnapshotJob(date, nil)

	f := frame.New(
		frame.Column{Name: "product_id", Type: frame.TypeInt},
		frame.Column{Name: colAvailable, Type: frame.TypeFloat},
		frame.Column{Name: colReserved, Type: frame.TypeFloat},
		frame.Column{Name: colTotal, Type: frame.TypeFloat},
	)
	f.Append(int64(9), 5.0, 1.0, nil)
	tpl := &query.Template{Resolved: map[string]string{colAvailable: "a", colReserved: "r", colTotal: ""}}

	out, err := job.Transform(f, tpl)
	require.NoError(t, err)
	assert.Equal(t, SnapshotDateCol, out.Columns[0].Name)
	assert.Equal(t, frame.TypeDate, out.Columns[0].Type)
	assert.Equal(t, []any{date, int64(9), 5.0, 1.0, 6.0}, out.Rows[0])
	assert.Nil(t, f.Rows[0][3], "input frame is untouched")
}

func TestCalendarJob(t *testing.T) {
	s := config.NewSettings()
	s.Calendar.From, s.Calendar.To = "2024-01-01", "2024-01-31"
	f, err := CalendarJob(s).Generate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 31, f.Len())

	path := filepath.Join(t.TempDir(), "fechas.csv")
	require.NoError(t, os.WriteFile(path, []byte("fecha\n2024-02-01\n2024-01-15\n"), 0o644))
	s.Calendar.File = path
	f, err = CalendarJob(s).Generate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, f.Len())

	s.Calendar.File = filepath.Join(t.TempDir(), "missing.csv")
	_, err = CalendarJob(s).Generate(context.Background())
	assert.Error(t, err)
}

// granularViews lists the columns the granular SQL scripts create.
var granularViews = map[string][]string{
	"oro_order_line_item_granular": {"order_id", "line_item_id", "product_id", "sku", "product_unit",
		"quantity", "price", "row_total", "discount_amount", "tax_amount", "currency"},
	"oro_order_granular": {"id", "currency", "created_at", "updated_at", "website_id",
		"customer_id", "user_owner_id", "internal_status_name"},
	"oro_payment_transaction_granular": {"transaction_id", "order_id", "amount", "currency", "action",
		"payment_method", "status", "successful", "created_at", "updated_at"},
	"oro_sale_quote": {"id", "customer_id", "customer_user_id", "website_id", "po_number", "currency",
		"subtotal", "total", "created_at", "updated_at", "internal_status_name"},
	"oro_sale_quote_product":       {"id", "quote_id", "product_id", "product_sku", "product_unit_code"},
	"oro_sale_quote_prod_request":  {"id", "quote_product_id", "quantity", "product_unit_code"},
	"oro_sale_quote_prod_offer":    {"id", "quote_product_request_id", "price", "currency"},
	"oro_inventory_level_granular": {"id", "product_id", "warehouse_id", "quantity", "product_unit_code"},
}

func TestDefaultTargets_BuildOverGranularViews(t *testing.T) {
	views := make(map[string][]string, len(granularViews))
	for table, cols := range granularViews {
		views[table] = cols
	}
	targets := append(append(Facts(), Quotes()...), Inventory())
	for _, d := range Dimensions() {
		views[d.Table] = []string{"id", "name"}
		targets = append(targets, d)
	}

	for _, target := range targets {
		t.Run(target.Name, func(t *testing.T) {
			known := query.Known{}
			for alias, table := range target.Tables() {
				cols, ok := views[table]
				require.True(t, ok, "no view columns for %s", table)
				known[alias] = query.Table{Schema: "public", Name: table, Columns: schema.NewColumnSet(cols...)}
			}
			tpl, err := query.NewBuilder(nil).Build(*target, known)
			require.NoError(t, err)
			if target.Kind == query.KindFact {
				assert.Empty(t, tpl.Placeholders())
			}
		})
	}
}

func TestFacts_ResolveGranularColumns(t *testing.T) {
	known := func(target *query.Target) query.Known {
		k := query.Known{}
		for alias, table := range target.Tables() {
			k[alias] = query.Table{Schema: "public", Name: table, Columns: schema.NewColumnSet(granularViews[table]...)}
		}
		return k
	}

	tests := []struct {
		target *query.Target
		want   map[string]string
	}{
		{
			target: salesLines(),
			want: map[string]string{
				"line_item_id":   `li."line_item_id"`,
				"order_id":       `COALESCE(o."id", li."order_id")`,
				"subtotal_linea": `COALESCE(li."row_total", (li."quantity" * li."price"))`,
			},
		},
		{
			target: payments(),
			want: map[string]string{
				"transaction_id": `t."transaction_id"`,
				"order_id":       `t."order_id"`,
				"monto":          `t."amount"`,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.target.Name, func(t *testing.T) {
			tpl, err := query.NewBuilder(nil).Build(*tt.target, known(tt.target))
			require.NoError(t, err)
			for col, want := range tt.want {
				assert.Equal(t, want, tpl.Resolved[col], col)
			}
		})
	}

	t.Run("subtotal falls back to quantity times price", func(t *testing.T) {
		target := salesLines()
		k := known(target)
		k["li"] = query.Table{Schema: "public", Name: target.Table,
			Columns: schema.NewColumnSet("order_id", "line_item_id", "quantity", "price")}
		tpl, err := query.NewBuilder(nil).Build(*target, k)
		require.NoError(t, err)
		assert.Equal(t, `(li."quantity" * li."price")`, tpl.Resolved["subtotal_linea"])
		assert.Contains(t, tpl.SQL, `(li."quantity" * li."price") AS "subtotal_linea"`)
	})
}
