package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ajitpratap0/orodw/pkg/catalog"
	"github.com/ajitpratap0/orodw/pkg/compression"
	"github.com/ajitpratap0/orodw/pkg/config"
	"github.com/ajitpratap0/orodw/pkg/dwerrors"
	"github.com/ajitpratap0/orodw/pkg/export"
	"github.com/ajitpratap0/orodw/pkg/frame"
	"github.com/ajitpratap0/orodw/pkg/metrics"
	"github.com/ajitpratap0/orodw/pkg/observability"
	"github.com/ajitpratap0/orodw/pkg/query"
	"github.com/ajitpratap0/orodw/pkg/schema"
	"github.com/ajitpratap0/orodw/pkg/source"
	"github.com/ajitpratap0/orodw/pkg/testutil"
	"github.com/ajitpratap0/orodw/pkg/watermark"
	gojson "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"
)

const paymentsTable = "oro_payment_transaction_granular"

var paymentColumns = []frame.Column{
	{Name: "transaction_id", Type: frame.TypeInt},
	{Name: "order_id", Type: frame.TypeInt},
	{Name: "monto", Type: frame.TypeFloat},
	{Name: "currency_code", Type: frame.TypeString},
	{Name: "tipo_accion", Type: frame.TypeString},
	{Name: "payment_method", Type: frame.TypeString},
	{Name: "status_raw", Type: frame.TypeString},
	{Name: "es_exitoso", Type: frame.TypeBool},
	{Name: "created_at", Type: frame.TypeTimestamp},
	{Name: "updated_at", Type: frame.TypeTimestamp},
}

type payment struct {
	id      int64
	amount  float64
	created time.Time
	updated any
}

func ts(s string) time.Time {
	t, err := time.Parse(watermark.Layout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func paymentFrame(rows ...payment) *frame.Frame {
	f := frame.New(paymentColumns...)
	for _, p := range rows {
		f.Append(p.id, nil, p.amount, "USD", nil, nil, "paid", nil, p.created, p.updated)
	}
	return f
}

// paymentSource behaves like the database: it applies the bound watermark
// to the rows it holds.
type paymentSource struct {
	rows []payment
}

func (s *paymentSource) respond(args []any) (*frame.Frame, error) {
	var keep []payment
	for _, p := range s.rows {
		if len(args) == 1 {
			since := args[0].(time.Time)
			t := p.created
			if u, ok := p.updated.(time.Time); ok {
				t = u
			}
			if !t.After(since) {
				continue
			}
		}
		keep = append(keep, p)
	}
	return paymentFrame(keep...), nil
}

type harness struct {
	settings *config.Settings
	src      *source.Memory
	store    *watermark.FileStore
	metrics  *metrics.Collector
	registry *prometheus.Registry
}

func newHarness(t *testing.T, tables schema.Static) *harness {
	t.Helper()
	s := testutil.Settings(t)
	reg := prometheus.NewRegistry()
	return &harness{
		settings: s,
		src:      source.NewMemory(tables),
		store:    watermark.NewFileStore(s.StateDir, zaptest.NewLogger(t)),
		metrics:  metrics.NewCollector(reg),
		registry: reg,
	}
}

func (h *harness) engine(t *testing.T, opts ...Option) *Engine {
	exp := export.New(export.Config{
		Parquet:            h.settings.ExportParquet,
		CSV:                h.settings.ExportCSV,
		ParquetDir:         h.settings.ParquetDir,
		CSVDir:             h.settings.CSVDir,
		ParquetCompression: h.settings.ParquetCompression,
		CSVCompression:     compression.None,
	}, nil, zaptest.NewLogger(t))
	opts = append([]Option{WithLogger(zaptest.NewLogger(t)), WithMetrics(h.metrics)}, opts...)
	return New(h.settings, h.src, h.store, exp, opts...)
}

func (h *harness) jobs(t *testing.T, targets ...string) []catalog.Job {
	t.Helper()
	jobs, err := catalog.Select(catalog.Jobs(catalog.Options{Settings: h.settings}), nil, targets)
	require.NoError(t, err)
	return jobs
}

func (h *harness) readCSV(t *testing.T, target string) [][]string {
	t.Helper()
	return testutil.ReadCSV(t, filepath.Join(h.settings.CSVDir, target+".csv"))
}

func paymentTables() schema.Static {
	return schema.Static{
		"public." + paymentsTable: {"id", "amount", "currency", "status", "created_at", "updated_at"},
	}
}

func TestRun_FullLoadIsIdempotent(t *testing.T) {
	h := newHarness(t, paymentTables())
	db := &paymentSource{rows: []payment{
		{id: 1, amount: 10.5, created: ts("2024-05-01 09:00:00"), updated: ts("2024-05-01 10:00:00")},
		{id: 2, amount: 20, created: ts("2024-05-02 09:00:00"), updated: nil},
	}}
	h.src.OnFunc(paymentsTable, db.respond)
	e := h.engine(t)

	rep, err := e.Run(testutil.TestContext(t), h.jobs(t, "fact_pago"))
	require.NoError(t, err)
	require.Equal(t, "1/1 targets succeeded", rep.Summary())
	first, err := os.ReadFile(filepath.Join(h.settings.CSVDir, "fact_pago.csv"))
	require.NoError(t, err)

	rep, err = e.Run(testutil.TestContext(t), h.jobs(t, "fact_pago"))
	require.NoError(t, err)
	require.Equal(t, 1, rep.Succeeded())
	second, err := os.ReadFile(filepath.Join(h.settings.CSVDir, "fact_pago.csv"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, query.ModeFull, rep.Results[0].Mode)
	assert.FileExists(t, filepath.Join(h.settings.ParquetDir, "fact_pago", export.PartFile))
	assert.NoFileExists(t, h.store.Path("fact_pago"), "full loads never write a watermark")
	for _, c := range h.src.Calls() {
		assert.Nil(t, c.Args)
		assert.NotContains(t, c.SQL, "WHERE")
	}
}

func TestRun_IncrementalWatermarks(t *testing.T) {
	h := newHarness(t, paymentTables())
	h.settings.Incremental["payments"] = true
	db := &paymentSource{rows: []payment{
		{id: 1, amount: 10, created: ts("2024-05-01 09:00:00"), updated: ts("2024-05-01 10:00:00")},
		{id: 2, amount: 20, created: ts("2024-05-01 11:30:00"), updated: nil},
	}}
	h.src.OnFunc(paymentsTable, db.respond)
	e := h.engine(t)
	ctx := testutil.TestContext(t)

	// Bootstrap: no watermark, no predicate.
	rep, err := e.Run(ctx, h.jobs(t, "fact_pago"))
	require.NoError(t, err)
	res := rep.Results[0]
	require.NoError(t, res.Err)
	assert.Equal(t, query.ModeBootstrap, res.Mode)
	assert.Equal(t, 2, res.Rows)
	assert.Equal(t, "2024-05-01 10:00:00", res.Watermark, "updated_at wins while it has values")
	calls := h.src.Calls()
	assert.Nil(t, calls[len(calls)-1].Args)

	w1, err := h.store.Read(ctx, "fact_pago")
	require.NoError(t, err)
	require.NotNil(t, w1)

	// A row newer than the watermark must be extracted.
	db.rows = append(db.rows, payment{id: 3, amount: 30, created: ts("2024-05-01 09:00:00"), updated: ts("2024-05-03 08:00:00")})
	rep, err = e.Run(ctx, h.jobs(t, "fact_pago"))
	require.NoError(t, err)
	res = rep.Results[0]
	require.NoError(t, res.Err)
	assert.Equal(t, query.ModeIncremental, res.Mode)
	assert.Equal(t, "2024-05-01 10:00:00", res.Previous)
	calls = h.src.Calls()
	last := calls[len(calls)-1]
	assert.Contains(t, last.SQL, `WHERE COALESCE(t."updated_at", t."created_at") > $1`)
	assert.Equal(t, []any{w1.Time}, last.Args)

	records := h.readCSV(t, "fact_pago")
	assert.Equal(t, []string{"2", "3"}, testutil.Column(records, "transaction_id"))

	w2, err := h.store.Read(ctx, "fact_pago")
	require.NoError(t, err)
	assert.Equal(t, "2024-05-03 08:00:00", w2.String())

	// A source that returns only older rows never moves the watermark back.
	h.src = source.NewMemory(paymentTables()).On(paymentsTable, paymentFrame(
		payment{id: 9, amount: 1, created: ts("2023-01-01 00:00:00"), updated: ts("2023-01-02 00:00:00")},
	))
	e = h.engine(t)
	rep, err = e.Run(ctx, h.jobs(t, "fact_pago"))
	require.NoError(t, err)
	require.NoError(t, rep.Results[0].Err)
	w3, err := h.store.Read(ctx, "fact_pago")
	require.NoError(t, err)
	assert.False(t, w3.Before(w2.Time))
	assert.Equal(t, w2.String(), rep.Results[0].Watermark)
}

func TestRun_MissingOptionalColumnsStayInOutput(t *testing.T) {
	h := newHarness(t, paymentTables())
	h.src.On(paymentsTable, paymentFrame(payment{id: 1, amount: 5, created: ts("2024-01-01 00:00:00")}))

	rep, err := h.engine(t).Run(testutil.TestContext(t), h.jobs(t, "fact_pago"))
	require.NoError(t, err)
	res := rep.Results[0]
	require.NoError(t, res.Err)
	assert.ElementsMatch(t, []string{"order_id", "tipo_accion", "payment_method", "es_exitoso"}, res.Placeholders)

	sql := h.src.Calls()[0].SQL
	assert.Contains(t, sql, `NULL::text AS "tipo_accion"`)
	assert.Contains(t, sql, `NULL::boolean AS "es_exitoso"`)

	records := h.readCSV(t, "fact_pago")
	assert.Equal(t, []string{""}, testutil.Column(records, "tipo_accion"))
}

func TestRun_EmptyResultIsNoop(t *testing.T) {
	h := newHarness(t, paymentTables())
	h.settings.Incremental["payments"] = true
	ctx := testutil.TestContext(t)
	require.NoError(t, h.store.Write(ctx, "fact_pago", watermark.New(ts("2024-05-01 10:00:00"))))
	before, err := os.ReadFile(h.store.Path("fact_pago"))
	require.NoError(t, err)
	info, err := os.Stat(h.store.Path("fact_pago"))
	require.NoError(t, err)

	h.src.On(paymentsTable, paymentFrame())
	rep, err := h.engine(t).Run(ctx, h.jobs(t, "fact_pago"))
	require.NoError(t, err)
	res := rep.Results[0]
	require.NoError(t, res.Err)
	assert.True(t, res.Skipped)
	assert.Equal(t, query.ModeIncremental, res.Mode)

	after, err := os.ReadFile(h.store.Path("fact_pago"))
	require.NoError(t, err)
	infoAfter, err := os.Stat(h.store.Path("fact_pago"))
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, info.ModTime(), infoAfter.ModTime())
	assert.NoFileExists(t, filepath.Join(h.settings.ParquetDir, "fact_pago", export.PartFile))
	assert.NoFileExists(t, filepath.Join(h.settings.CSVDir, "fact_pago.csv"))
}

func TestRun_CompositeValuesAndDuplicateColumns(t *testing.T) {
	h := newHarness(t, schema.Static{
		"public.oro_product_granular": {"id", "price", "attributes"},
	})
	f := frame.New(
		frame.Column{Name: "id", Type: frame.TypeInt},
		frame.Column{Name: "price", Type: frame.TypeFloat},
		frame.Column{Name: "price", Type: frame.TypeFloat},
		frame.Column{Name: "attributes"},
	)
	nested := map[string]any{"a": float64(1), "b": []any{float64(2), float64(3)}}
	f.Append(int64(1), 9.5, 8.5, nested)
	f.Append(int64(2), 1.0, nil, "plain")
	h.src.On("oro_product_granular", f)

	rep, err := h.engine(t).Run(testutil.TestContext(t), h.jobs(t, "dim_producto"))
	require.NoError(t, err)
	require.NoError(t, rep.Results[0].Err)

	records := h.readCSV(t, "dim_producto")
	assert.Equal(t, []string{"id", "price", "price__1", "attributes"}, records[0])

	cells := testutil.Column(records, "attributes")
	var back map[string]any
	require.NoError(t, gojson.Unmarshal([]byte(cells[0]), &back))
	assert.Equal(t, nested, back)
	assert.Equal(t, "plain", cells[1])
}

func TestRun_FailuresAreIsolated(t *testing.T) {
	tables := paymentTables()
	tables["public.orocrm_channel_granular"] = []string{"id", "name"}
	h := newHarness(t, tables)
	h.settings.Incremental["payments"] = true

	h.src.Fail(paymentsTable, errors.New("connection reset"))
	channels := frame.New(frame.Column{Name: "id", Type: frame.TypeInt}, frame.Column{Name: "name", Type: frame.TypeString})
	channels.Append(int64(1), "web")
	h.src.On("orocrm_channel_granular", channels)

	rep, err := h.engine(t).Run(testutil.TestContext(t), h.jobs(t, "fact_pago", "dim_canal", "dim_cliente"))
	require.NoError(t, err)
	assert.Equal(t, "1/3 targets succeeded", rep.Summary())
	assert.InDelta(t, 1.0/3, rep.Ratio(), 1e-9)

	byName := map[string]Result{}
	for _, r := range rep.Results {
		byName[r.Target] = r
	}
	assert.NoError(t, byName["dim_canal"].Err)

	pay := byName["fact_pago"]
	assert.Equal(t, StateQueryExecute, pay.State)
	assert.True(t, dwerrors.IsType(pay.Err, dwerrors.ErrorTypeQuery))
	assert.NoFileExists(t, h.store.Path("fact_pago"))

	cust := byName["dim_cliente"]
	assert.Equal(t, StatePlan, cust.State)
	assert.True(t, dwerrors.IsType(cust.Err, dwerrors.ErrorTypeQuery), "missing table is not fatal")

	assert.Len(t, rep.Failed(), 2)
	expected := `
# HELP orodw_target_runs_total Target extractions by outcome and mode
# TYPE orodw_target_runs_total counter
orodw_target_runs_total{mode="bootstrap",status="failed",target="fact_pago"} 1
orodw_target_runs_total{mode="full",status="failed",target="dim_cliente"} 1
orodw_target_runs_total{mode="full",status="success",target="dim_canal"} 1
`
	assert.NoError(t, promtest.GatherAndCompare(h.registry, strings.NewReader(expected), "orodw_target_runs_total"))
}

func TestRun_ExportFailureKeepsWatermark(t *testing.T) {
	h := newHarness(t, paymentTables())
	h.settings.Incremental["payments"] = true
	h.src.On(paymentsTable, paymentFrame(payment{id: 1, amount: 5, created: ts("2024-01-01 00:00:00")}))

	require.NoError(t, os.MkdirAll(h.settings.ParquetDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(h.settings.ParquetDir, "fact_pago"), []byte("x"), 0o644))

	rep, err := h.engine(t).Run(testutil.TestContext(t), h.jobs(t, "fact_pago"))
	require.NoError(t, err)
	res := rep.Results[0]
	require.Error(t, res.Err)
	assert.Equal(t, StateExport, res.State)
	assert.True(t, dwerrors.IsType(res.Err, dwerrors.ErrorTypeFile))
	assert.NoFileExists(t, h.store.Path("fact_pago"))
}

func TestRun_ConfigErrorAbortsBeforeExtraction(t *testing.T) {
	h := newHarness(t, schema.Static{
		"public." + paymentsTable: {"amount", "currency"},
		"public.orocrm_channel_granular": {"id"},
	})

	rep, err := h.engine(t).Run(testutil.TestContext(t), h.jobs(t, "dim_canal", "fact_pago"))
	require.Error(t, err)
	assert.True(t, dwerrors.IsFatal(err))
	assert.Contains(t, err.Error(), "required column not found")
	assert.Empty(t, rep.Results)
	assert.Empty(t, h.src.Calls())
}

func TestRun_SchemaSearchOrder(t *testing.T) {
	h := newHarness(t, schema.Static{
		"dw_granular.orocrm_channel_granular": {"id", "name"},
		"public.orocrm_channel_granular":      {"id"},
	})
	f := frame.New(frame.Column{Name: "id", Type: frame.TypeInt}, frame.Column{Name: "name", Type: frame.TypeString})
	f.Append(int64(1), "web")
	h.src.On("orocrm_channel_granular", f)

	_, err := h.engine(t).Run(testutil.TestContext(t), h.jobs(t, "dim_canal"))
	require.NoError(t, err)
	assert.Contains(t, h.src.Calls()[0].SQL, `FROM "dw_granular"."orocrm_channel_granular" t`)
	assert.Contains(t, h.src.Calls()[0].SQL, `ORDER BY 1`)
}

func TestRun_GeneratedAndTransformedJobs(t *testing.T) {
	h := newHarness(t, schema.Static{
		"public.oro_inventory_level_granular": {"product_id", "warehouse_id", "quantity", "reserved_qty", "extra"},
	})
	h.settings.Calendar.From, h.settings.Calendar.To = "2024-01-01", "2024-01-07"
	inv := frame.New(
		frame.Column{Name: "product_id", Type: frame.TypeInt},
		frame.Column{Name: "almacen_id", Type: frame.TypeInt},
		frame.Column{Name: "stock_disponible", Type: frame.TypeFloat},
		frame.Column{Name: "stock_reservado", Type: frame.TypeFloat},
		frame.Column{Name: "stock_total", Type: frame.TypeFloat},
		frame.Column{Name: "unidad", Type: frame.TypeString},
		frame.Column{Name: "extra", Type: frame.TypeString},
	)
	inv.Append(int64(7), int64(1), 4.0, 1.0, nil, nil, "x")
	h.src.On("oro_inventory_level_granular", inv)

	jobs := catalog.Jobs(catalog.Options{Settings: h.settings, SnapshotDate: time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)})
	jobs, err := catalog.Select(jobs, []string{catalog.GroupCalendar, catalog.GroupSnapshot}, nil)
	require.NoError(t, err)

	rep, err := h.engine(t).Run(testutil.TestContext(t), jobs)
	require.NoError(t, err)
	require.Equal(t, "2/2 targets succeeded", rep.Summary())

	cal := h.readCSV(t, "dim_fecha")
	assert.Len(t, cal, 8)
	assert.Equal(t, []string{"20240101", "20240102", "20240103", "20240104", "20240105", "20240106", "20240107"}, testutil.Column(cal, "id_fecha"))

	snap := h.readCSV(t, catalog.SnapshotTable)
	assert.Equal(t, catalog.SnapshotDateCol, snap[0][0])
	assert.Equal(t, []string{"2024-06-30"}, testutil.Column(snap, catalog.SnapshotDateCol))
	assert.Equal(t, []string{"5"}, testutil.Column(snap, "stock_total"))
	assert.Equal(t, []string{"x"}, testutil.Column(snap, "extra"))
}

func TestRun_Spans(t *testing.T) {
	h := newHarness(t, paymentTables())
	h.src.On(paymentsTable, paymentFrame(payment{id: 1, amount: 5, created: ts("2024-01-01 00:00:00")}))
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	provider := observability.NewProviderFrom(tp)

	_, err := h.engine(t, WithTracer(provider.Tracer())).Run(testutil.TestContext(t), h.jobs(t, "fact_pago"))
	require.NoError(t, err)

	ended := rec.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, "target fact_pago", ended[0].Name())
	assert.Equal(t, "run", ended[1].Name())
	var events []string
	for _, ev := range ended[0].Events() {
		events = append(events, ev.Name)
	}
	assert.Equal(t, []string{"plan", "watermark_read", "query_execute", "rows_fetched", "sanitize", "export"}, events)
}

func TestRun_Cancelled(t *testing.T) {
	h := newHarness(t, paymentTables())
	ctx, cancel := context.WithCancel(testutil.TestContext(t))
	cancel()
	_, err := h.engine(t).Run(ctx, h.jobs(t, "fact_pago"))
	assert.ErrorIs(t, err, context.Canceled)
}

// quoteRequests answers the quote line query over quote products and their
// requests, honouring whichever join the SQL asks for: one row per product
// with the lowest request id, or one row per request for a plain join.
type quoteRequests struct {
	products []int64
	requests map[int64][]int64 // quote product → request ids in storage order
}

func (q *quoteRequests) responder(sql string) source.Responder {
	minChild := strings.Contains(sql, `MIN("id") AS min_id FROM "public"."oro_sale_quote_prod_request" GROUP BY "quote_product_id"`) &&
		strings.Contains(sql, `m.min_id = c."id"`)
	return func([]any) (*frame.Frame, error) {
		f := frame.New(
			frame.Column{Name: "quote_id", Type: frame.TypeInt},
			frame.Column{Name: "quote_product_id", Type: frame.TypeInt},
			frame.Column{Name: "request_id", Type: frame.TypeInt},
			frame.Column{Name: "quantity", Type: frame.TypeDecimal},
		)
		for _, p := range q.products {
			ids := q.requests[p]
			if minChild && len(ids) > 0 {
				low := ids[0]
				for _, id := range ids[1:] {
					low = min(low, id)
				}
				ids = []int64{low}
			}
			for _, id := range ids {
				f.Append(int64(1), p, id, frame.Decimal("2.50"))
			}
		}
		return f, nil
	}
}

func TestRun_QuoteLinesPickLowestRequest(t *testing.T) {
	h := newHarness(t, schema.Static{
		"public.oro_sale_quote_product":      {"id", "quote_id", "product_id", "product_sku"},
		"public.oro_sale_quote_prod_request": {"id", "quote_product_id", "quantity", "product_unit_code"},
	})
	h.settings.Incremental["quotes"] = false
	db := &quoteRequests{
		products: []int64{10, 11},
		requests: map[int64][]int64{10: {7, 3, 9}, 11: {12}},
	}
	h.src.OnFunc("oro_sale_quote_product", func(args []any) (*frame.Frame, error) {
		calls := h.src.Calls()
		return db.responder(calls[len(calls)-1].SQL)(args)
	})

	var outputs [][]byte
	for range 3 {
		rep, err := h.engine(t).Run(testutil.TestContext(t), h.jobs(t, "fact_cotizacion_linea"))
		require.NoError(t, err)
		require.Equal(t, 1, rep.Succeeded())
		assert.Equal(t, query.ModeFull, rep.Results[0].Mode)

		records := h.readCSV(t, "fact_cotizacion_linea")
		assert.Equal(t, []string{"10", "11"}, testutil.Column(records, "quote_product_id"))
		assert.Equal(t, []string{"3", "12"}, testutil.Column(records, "request_id"))
		assert.Equal(t, []string{"2.50", "2.50"}, testutil.Column(records, "quantity"))

		out, err := os.ReadFile(filepath.Join(h.settings.CSVDir, "fact_cotizacion_linea.csv"))
		require.NoError(t, err)
		outputs = append(outputs, out)
	}
	assert.Equal(t, outputs[0], outputs[1])
	assert.Equal(t, outputs[0], outputs[2])
}
