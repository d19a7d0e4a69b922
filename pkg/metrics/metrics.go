// Package metrics exposes warehouse run metrics to Prometheus.
//
// # Overview
//
// A Collector owns the run's metric vectors:
//   - target runs by status and extraction mode
//   - rows exported per target
//   - per-stage latency (query, sanitize, export, watermark)
//   - the committed watermark of each incremental target
//   - the success ratio of the last run
//
// # Basic Usage
//
//	collector := metrics.NewCollector(nil) // default registry
//	timer := metrics.NewTimer("query")
//	f, err := exec.Query(ctx, sql, args...)
//	collector.ObserveStage("fact_pago", timer.Name(), timer.Stop())
//
// Serve publishes the registry on /metrics for the duration of a run.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Namespace prefixes every metric name.
const Namespace = "orodw"

// Collector records run metrics. A nil *Collector is valid and records nothing.
type Collector struct {
	gatherer prometheus.Gatherer

	targetRuns    *prometheus.CounterVec
	rowsExported  *prometheus.CounterVec
	stageLatency  *prometheus.HistogramVec
	watermark     *prometheus.GaugeVec
	successRatio  prometheus.Gauge
	lastRunFinish prometheus.Gauge
}

// NewCollector registers the run metrics with reg. A nil reg means the
// Prometheus default registry.
func NewCollector(reg *prometheus.Registry) *Collector {
	var (
		registerer prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer   prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if reg != nil {
		registerer, gatherer = reg, reg
	}
	factory := promauto.With(registerer)

	return &Collector{
		gatherer: gatherer,
		targetRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "target_runs_total",
				Help:      "Target extractions by outcome and mode",
			},
			[]string{"target", "status", "mode"},
		),
		rowsExported: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "rows_exported_total",
				Help:      "Rows written to target artifacts",
			},
			[]string{"target"},
		),
		stageLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "stage_duration_seconds",
				Help:      "Duration of each extraction stage",
				Buckets: []float64{
					0.01, // metadata probes
					0.1,
					1,  // small dimensions
					10, // fact tables
					60,
					300, // full reloads
				},
			},
			[]string{"target", "stage"},
		),
		watermark: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "watermark_timestamp_seconds",
				Help:      "Committed watermark as a Unix timestamp",
			},
			[]string{"target"},
		),
		successRatio: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "last_run_success_ratio",
			Help:      "Succeeded targets over attempted targets in the last run",
		}),
		lastRunFinish: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "last_run_finished_timestamp_seconds",
			Help:      "Unix time the last run finished",
		}),
	}
}

// TargetDone counts one finished target.
func (c *Collector) TargetDone(target, status, mode string, rows int) {
	if c == nil {
		return
	}
	c.targetRuns.WithLabelValues(target, status, mode).Inc()
	if rows > 0 {
		c.rowsExported.WithLabelValues(target).Add(float64(rows))
	}
}

// ObserveStage records the duration of one stage of a target.
func (c *Collector) ObserveStage(target, stage string, d time.Duration) {
	if c == nil {
		return
	}
	c.stageLatency.WithLabelValues(target, stage).Observe(d.Seconds())
}

// Watermark publishes a committed watermark.
func (c *Collector) Watermark(target string, t time.Time) {
	if c == nil {
		return
	}
	c.watermark.WithLabelValues(target).Set(float64(t.Unix()))
}

// RunDone records the outcome of a whole run.
func (c *Collector) RunDone(succeeded, total int) {
	if c == nil {
		return
	}
	if total > 0 {
		c.successRatio.Set(float64(succeeded) / float64(total))
	}
	c.lastRunFinish.SetToCurrentTime()
}

// Handler serves the collector's registry.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done. It returns immediately;
// listener errors are logged.
func (c *Collector) Serve(ctx context.Context, addr string, logger *zap.Logger) {
	if addr == "" {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("serving metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}

// Timer measures one stage.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer starts a timer for the named stage.
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Name returns the stage name.
func (t *Timer) Name() string {
	return t.name
}

// Stop returns the elapsed time.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}
