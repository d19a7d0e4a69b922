// Package engine runs extraction jobs against the source and writes their
// artifacts and watermarks.
//
// A run has two phases. The plan phase locates every source table and builds
// every query template before anything is extracted, so configuration errors
// (a required column that no candidate resolves, an invalid identifier) abort
// the run while no artifact has been touched yet. The execute phase then
// processes jobs one at a time, each through the states
//
//	Idle → WatermarkRead → QueryExecute → Transform → Sanitize → Export → WatermarkWrite → Idle
//
// A failure in any state ends that job's cycle, leaves its watermark untouched
// and moves on to the next job. Only fatal errors stop the run.
package engine

import (
	"context"
	"time"

	"github.com/ajitpratap0/orodw/pkg/catalog"
	"github.com/ajitpratap0/orodw/pkg/config"
	"github.com/ajitpratap0/orodw/pkg/dwerrors"
	"github.com/ajitpratap0/orodw/pkg/export"
	"github.com/ajitpratap0/orodw/pkg/frame"
	"github.com/ajitpratap0/orodw/pkg/logger"
	"github.com/ajitpratap0/orodw/pkg/metrics"
	"github.com/ajitpratap0/orodw/pkg/observability"
	"github.com/ajitpratap0/orodw/pkg/query"
	"github.com/ajitpratap0/orodw/pkg/sanitize"
	"github.com/ajitpratap0/orodw/pkg/schema"
	"github.com/ajitpratap0/orodw/pkg/source"
	"github.com/ajitpratap0/orodw/pkg/watermark"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// State is a step of a job's cycle.
type State string

const (
	StateIdle           State = "idle"
	StatePlan           State = "plan"
	StateWatermarkRead  State = "watermark_read"
	StateQueryExecute   State = "query_execute"
	StateTransform      State = "transform"
	StateSanitize       State = "sanitize"
	StateExport         State = "export"
	StateWatermarkWrite State = "watermark_write"
)

// Source is what the engine needs from a database.
type Source interface {
	schema.Prober
	source.Executor
	Dialect() query.Dialect
}

// Engine runs jobs sequentially.
type Engine struct {
	settings *config.Settings
	source   Source
	builder  *query.Builder
	store    watermark.Store
	exporter *export.Exporter

	metrics *metrics.Collector // optional
	tracer  trace.Tracer       // optional
	logger  *zap.Logger
}

// Option customises an Engine.
type Option func(*Engine)

// WithMetrics records per-target metrics on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = c }
}

// WithTracer emits a span per run and per target.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithLogger sets the base logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an engine. settings, src, store and exporter are required.
func New(settings *config.Settings, src Source, store watermark.Store, exporter *export.Exporter, opts ...Option) *Engine {
	e := &Engine{
		settings: settings,
		source:   src,
		builder:  query.NewBuilder(src.Dialect()),
		store:    store,
		exporter: exporter,
		logger:   zap.NewNop(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

type planned struct {
	job catalog.Job
	tpl *query.Template
	err error
}

// Run plans and executes jobs. The returned error is non-nil only for fatal
// errors; per-target failures are reported in the Report.
func (e *Engine) Run(ctx context.Context, jobs []catalog.Job) (*Report, error) {
	report := &Report{RunID: uuid.NewString(), Started: time.Now()}
	ctx = logger.WithRun(ctx, report.RunID)
	log := logger.FromContext(ctx, e.logger)

	ctx, span := observability.StartSpan(ctx, e.tracer, "run")
	span.SetAttribute("run_id", report.RunID)
	span.SetAttribute("jobs", len(jobs))
	defer span.End()

	log.Info("starting run", zap.Int("jobs", len(jobs)), zap.Strings("search_path", e.settings.SearchPath()))

	plans, err := e.plan(ctx, jobs)
	if err != nil {
		span.Fail(err)
		log.Error("run aborted during planning", zap.Error(err))
		return report, err
	}

	for _, p := range plans {
		if err := ctx.Err(); err != nil {
			span.Fail(err)
			return report.finish(), err
		}
		res := e.execute(ctx, p)
		report.Results = append(report.Results, res)
		if res.Err != nil && dwerrors.IsFatal(res.Err) {
			span.Fail(res.Err)
			log.Error("run aborted", zap.String("target", res.Target), zap.Error(res.Err))
			e.metrics.RunDone(report.Succeeded(), report.Total())
			return report.finish(), res.Err
		}
	}

	report.finish()
	e.metrics.RunDone(report.Succeeded(), report.Total())
	span.SetAttribute("succeeded", report.Succeeded())
	log.Info("run finished",
		zap.String("summary", report.Summary()),
		zap.Float64("success_ratio", report.Ratio()),
		zap.Duration("duration", report.Finished.Sub(report.Started)))
	return report, nil
}

// plan builds a template for every query job. Configuration errors are
// returned; a missing base table or a metadata failure is kept on the plan
// and reported when the job's turn comes.
func (e *Engine) plan(ctx context.Context, jobs []catalog.Job) ([]planned, error) {
	out := make([]planned, 0, len(jobs))
	for _, job := range jobs {
		p := planned{job: job}
		if job.Target != nil {
			p.tpl, p.err = e.template(ctx, job.Target)
			if p.err != nil && dwerrors.IsFatal(p.err) {
				return nil, p.err
			}
		}
		out = append(out, p)
	}
	return out, nil
}

// Template locates a target's tables and builds its query.
func (e *Engine) Template(ctx context.Context, t *query.Target) (*query.Template, error) {
	return e.template(ctx, t)
}

func (e *Engine) template(ctx context.Context, t *query.Target) (*query.Template, error) {
	path := e.settings.SearchPath()
	known := make(query.Known, len(t.Joins)+1)
	for alias, table := range t.Tables() {
		loc, err := schema.Locate(ctx, e.source, path, table)
		if err != nil {
			return nil, err
		}
		known[alias] = query.FromLocation(loc)
	}
	if !known[t.BaseAliasName()].Exists() {
		return nil, dwerrors.New(dwerrors.ErrorTypeQuery, "source table not found").
			WithDetail("table", t.Table).
			WithDetail("schemas", path)
	}
	return e.builder.Build(*t, known)
}

// execute runs one job through its states.
func (e *Engine) execute(ctx context.Context, p planned) Result {
	name := p.job.Name()
	res := Result{Target: name, Group: p.job.Group, Mode: query.ModeFull, State: StateIdle}
	start := time.Now()

	ctx = logger.WithTarget(ctx, name)
	log := logger.FromContext(ctx, e.logger)
	ctx, span := observability.StartSpan(ctx, e.tracer, "target "+name)
	span.SetAttribute("target", name)
	span.SetAttribute("group", p.job.Group)

	defer func() {
		res.Duration = time.Since(start)
		status := "success"
		if res.Err != nil {
			status = "failed"
			span.Fail(res.Err)
			log.Error("target failed",
				zap.String("state", string(res.State)),
				zap.String("mode", string(res.Mode)),
				zap.Error(res.Err))
		} else {
			log.Info("target done",
				zap.String("mode", string(res.Mode)),
				zap.Int("rows", res.Rows),
				zap.Int("columns", res.Columns),
				zap.Bool("skipped", res.Skipped),
				zap.String("watermark", res.Watermark),
				zap.Duration("duration", res.Duration))
		}
		span.SetAttribute("mode", string(res.Mode))
		span.SetAttribute("rows", res.Rows)
		span.SetAttribute("status", status)
		span.End()
		e.metrics.TargetDone(name, status, string(res.Mode), res.Rows)
	}()

	enter := func(s State) {
		res.State = s
		span.AddEvent(string(s))
	}

	enter(StatePlan)
	if p.err != nil {
		res.Err = p.err
		return res
	}
	if p.tpl != nil {
		res.Placeholders = p.tpl.Placeholders()
		if len(res.Placeholders) > 0 {
			log.Warn("columns not found in source, emitting nulls", zap.Strings("columns", res.Placeholders))
		}
	}

	var (
		enabled bool
		last    *watermark.Watermark
		err     error
	)
	enter(StateWatermarkRead)
	if inc := incremental(p); inc != nil {
		enabled = e.settings.IncrementalEnabled(inc.Key, inc.Default)
		if enabled {
			if last, err = e.store.Read(ctx, name); err != nil {
				res.Err = dwerrors.Wrap(err, dwerrors.ErrorTypeState, "failed to read watermark")
				return res
			}
			if last != nil {
				res.Previous = last.String()
			}
		}
	}

	enter(StateQueryExecute)
	timer := metrics.NewTimer(string(StateQueryExecute))
	var f *frame.Frame
	if p.tpl != nil {
		var since *time.Time
		if last != nil {
			t := last.Time
			since = &t
		}
		sql, args, mode := p.tpl.Render(enabled, since)
		res.Mode = mode
		log.Debug("executing query", zap.String("mode", string(mode)), zap.String("sql", sql), zap.Any("args", args))
		f, err = e.source.Query(ctx, sql, args...)
	} else {
		f, err = p.job.Generate(ctx)
		if err != nil && !dwerrors.HasType(err, dwerrors.ErrorTypeData) {
			err = dwerrors.Wrap(err, dwerrors.ErrorTypeData, "failed to generate table")
		}
	}
	e.metrics.ObserveStage(name, string(StateQueryExecute), timer.Stop())
	if err != nil {
		res.Err = err
		return res
	}
	span.AddEvent("rows_fetched", attribute.Int("rows", f.Len()))

	if p.job.Transform != nil {
		enter(StateTransform)
		if f, err = p.job.Transform(f, p.tpl); err != nil {
			res.Err = dwerrors.Wrap(err, dwerrors.ErrorTypeData, "transform failed")
			return res
		}
	}

	enter(StateSanitize)
	clean, rep := sanitize.Sanitize(f, sanitize.Options{Drop: p.job.Drop, Logger: log})
	if len(rep.Encoded) > 0 {
		log.Info("encoded composite columns", zap.Strings("columns", rep.Encoded), zap.Int("fallbacks", rep.Fallbacks))
	}

	enter(StateExport)
	timer = metrics.NewTimer(string(StateExport))
	out, err := e.exporter.Export(ctx, clean, name)
	e.metrics.ObserveStage(name, string(StateExport), timer.Stop())
	if err != nil {
		res.Err = err
		return res
	}
	res.Rows, res.Columns, res.Skipped = out.Rows, out.Columns, out.Skipped
	res.Artifacts = append(res.Artifacts, out.ParquetPath, out.CSVPath)
	res.Artifacts = append(res.Artifacts, out.Published...)
	res.Artifacts = compact(res.Artifacts)

	// Only reached after a successful export.
	if enabled && res.Mode != query.ModeFull {
		enter(StateWatermarkWrite)
		next := watermark.Compute(f, incremental(p).WatermarkColumns()...)
		w, due := watermark.Advance(last, next)
		if due {
			if err := e.store.Write(ctx, name, w); err != nil {
				res.Err = dwerrors.Wrap(err, dwerrors.ErrorTypeState, "failed to write watermark")
				return res
			}
			e.metrics.Watermark(name, w.Time)
			span.AddEvent("watermark_advanced", attribute.String("watermark", w.String()))
		}
		if next != nil || last != nil {
			res.Watermark = w.String()
		}
	}
	res.State = StateIdle
	return res
}

func incremental(p planned) *query.Incremental {
	if p.job.Target == nil {
		return nil
	}
	return p.job.Target.Incremental
}

func compact(ss []string) []string {
	out := ss[:0]
	for _, s := range ss {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
