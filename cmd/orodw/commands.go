package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/orodw/internal/engine"
	"github.com/ajitpratap0/orodw/pkg/catalog"
	"github.com/ajitpratap0/orodw/pkg/compression"
	"github.com/ajitpratap0/orodw/pkg/config"
	"github.com/ajitpratap0/orodw/pkg/dwerrors"
	"github.com/ajitpratap0/orodw/pkg/export"
	"github.com/ajitpratap0/orodw/pkg/metrics"
	"github.com/ajitpratap0/orodw/pkg/observability"
	"github.com/ajitpratap0/orodw/pkg/source"
	"github.com/ajitpratap0/orodw/pkg/sqlrunner"
	"github.com/ajitpratap0/orodw/pkg/storage"
	"github.com/ajitpratap0/orodw/pkg/watermark"
)

// ratioError reports a run whose success ratio is below the accepted minimum.
type ratioError struct {
	summary    string
	ratio, min float64
}

func (e *ratioError) Error() string {
	return fmt.Sprintf("%s: success ratio %.2f is below the minimum %.2f", e.summary, e.ratio, e.min)
}

// RunFlags configure the run command.
type RunFlags struct {
	Groups          []string
	Targets         []string
	SnapshotDate    string
	MinSuccessRatio float64
}

func newRunCmd(global *GlobalFlags) *cobra.Command {
	flags := &RunFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Extract targets and write their artifacts",
		Long: `Extract every selected target, export it and advance its watermark.

Examples:
  orodw run
  orodw run --group facts --group quotes
  orodw run --target fact_inventario_snapshot_diario --fecha 2024-06-30`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTargets(cmd.Context(), cmd.OutOrStdout(), global, flags)
		},
	}
	cmd.Flags().StringArrayVarP(&flags.Groups, "group", "g", nil, "Run only this group ("+strings.Join(catalog.Groups, ", ")+"); repeatable")
	cmd.Flags().StringArrayVarP(&flags.Targets, "target", "t", nil, "Run only this target; repeatable")
	cmd.Flags().StringVar(&flags.SnapshotDate, "fecha", "", "Snapshot date (YYYY-MM-DD); defaults to today")
	cmd.Flags().Float64Var(&flags.MinSuccessRatio, "min-success-ratio", 0, "Exit non-zero when fewer targets than this share succeed (0..1)")
	return cmd
}

func runTargets(ctx context.Context, out io.Writer, global *GlobalFlags, flags *RunFlags) error {
	a, err := newApp(global, "run")
	if err != nil {
		return err
	}
	s := a.settings

	var snapshot time.Time
	if flags.SnapshotDate != "" {
		if snapshot, err = time.Parse(config.DateLayout, flags.SnapshotDate); err != nil {
			return dwerrors.Wrap(err, dwerrors.ErrorTypeConfig, "invalid --fecha")
		}
	}
	if flags.MinSuccessRatio < 0 || flags.MinSuccessRatio > 1 {
		return dwerrors.Newf(dwerrors.ErrorTypeConfig, "--min-success-ratio must be between 0 and 1, got %v", flags.MinSuccessRatio)
	}
	jobs, err := catalog.Select(catalog.Jobs(catalog.Options{Settings: s, SnapshotDate: snapshot}), flags.Groups, flags.Targets)
	if err != nil {
		return dwerrors.Wrap(err, dwerrors.ErrorTypeConfig, "invalid selection")
	}

	src, err := openSource(ctx, a.log)
	if err != nil {
		return err
	}
	defer src.Close()

	publisher, err := storage.New(ctx, s.Publish)
	if err != nil {
		return dwerrors.Wrap(err, dwerrors.ErrorTypeConfig, "failed to configure publishing")
	}
	if publisher != nil {
		defer publisher.Close()
	}
	csvCodec, err := compression.Parse(s.CSVCompression)
	if err != nil {
		return dwerrors.Wrap(err, dwerrors.ErrorTypeConfig, "invalid compresion_csv")
	}
	exporter := export.New(export.Config{
		Parquet:            s.ExportParquet,
		CSV:                s.ExportCSV,
		ParquetDir:         s.ParquetDir,
		CSVDir:             s.CSVDir,
		ParquetCompression: s.ParquetCompression,
		CSVCompression:     csvCodec,
		PublishPrefix:      s.Publish.Prefix,
	}, publisher, a.log)

	collector := metrics.NewCollector(nil)
	metricsCtx, stopMetrics := context.WithCancel(ctx)
	defer stopMetrics()
	collector.Serve(metricsCtx, s.Metrics.Addr, a.log)

	tracing, err := observability.NewProvider(observability.TracingConfig{
		Enabled:        s.Tracing.Enabled,
		ServiceName:    "orodw",
		ServiceVersion: version,
		SamplingRate:   s.Tracing.SampleRate,
	})
	if err != nil {
		return dwerrors.Wrap(err, dwerrors.ErrorTypeConfig, "failed to configure tracing")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			a.log.Warn("failed to flush spans", zap.Error(err))
		}
	}()

	eng := engine.New(s, src, watermark.NewFileStore(s.StateDir, a.log), exporter,
		engine.WithLogger(a.log),
		engine.WithMetrics(collector),
		engine.WithTracer(tracing.Tracer()))

	report, err := eng.Run(ctx, jobs)
	printReport(out, report)
	if err != nil {
		return err
	}
	if report.Ratio() < flags.MinSuccessRatio {
		return &ratioError{summary: report.Summary(), ratio: report.Ratio(), min: flags.MinSuccessRatio}
	}
	return nil
}

func openSource(ctx context.Context, log *zap.Logger) (source.Source, error) {
	db, err := config.LoadDatabase(config.EnvFile)
	if err != nil {
		return nil, err
	}
	log.Info("connecting to source", zap.Stringer("database", db))
	return source.Open(ctx, db, log)
}

func printReport(out io.Writer, r *engine.Report) {
	if r == nil || r.Total() == 0 {
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TARGET\tMODE\tSTATUS\tROWS\tWATERMARK\tDURATION")
	for _, res := range r.Results {
		status := "ok"
		switch {
		case res.Err != nil:
			status = "failed at " + string(res.State)
		case res.Skipped:
			status = "empty"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			res.Target, res.Mode, status, res.Rows, res.Watermark, res.Duration.Round(time.Millisecond))
	}
	tw.Flush()
	fmt.Fprintln(out, r.Summary())
}

func newGranularCmd(global *GlobalFlags) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "granular",
		Short: "Run the granular view scripts (sql_dir) against PostgreSQL",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(global, "granular")
			if err != nil {
				return err
			}
			s := a.settings
			dry := s.DryRun || dryRun

			var runner *sqlrunner.Runner
			if dry {
				runner = sqlrunner.New(nil, s.SearchPath(), true, a.log)
			} else {
				db, err := config.LoadDatabase(config.EnvFile)
				if err != nil {
					return err
				}
				if db.IsMySQL() {
					return dwerrors.New(dwerrors.ErrorTypeConfig, "granular scripts require a postgres source")
				}
				pg, err := source.NewPostgres(cmd.Context(), db.PostgresURL(), a.log)
				if err != nil {
					return err
				}
				defer pg.Close()
				sqlDB := stdlib.OpenDBFromPool(pg.Pool())
				defer sqlDB.Close()
				runner = sqlrunner.New(sqlDB, s.SearchPath(), false, a.log)
			}

			sum, err := runner.RunDir(cmd.Context(), s.SQLDir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d/%d files succeeded\n", sum.OK, sum.Files)
			for _, f := range sum.Failed {
				fmt.Fprintf(cmd.OutOrStdout(), "  failed: %s\n", f)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "List the scripts and statement counts without executing")
	return cmd
}

func newTargetsCmd(global *GlobalFlags) *cobra.Command {
	var showSQL bool
	cmd := &cobra.Command{
		Use:   "targets",
		Short: "List targets, their groups and incremental settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(global, "targets")
			if err != nil {
				return err
			}
			jobs := catalog.Jobs(catalog.Options{Settings: a.settings})
			out := cmd.OutOrStdout()

			if !showSQL {
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "TARGET\tGROUP\tSOURCE\tINCREMENTAL")
				for _, j := range jobs {
					src, inc := "(generated)", "-"
					if j.Target != nil {
						src = j.Target.Table
						if i := j.Target.Incremental; i != nil {
							inc = fmt.Sprintf("%s=%t", i.Key, a.settings.IncrementalEnabled(i.Key, i.Default))
						}
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", j.Name(), j.Group, src, inc)
				}
				return tw.Flush()
			}

			src, err := openSource(cmd.Context(), a.log)
			if err != nil {
				return err
			}
			defer src.Close()
			eng := engine.New(a.settings, src, nil, nil, engine.WithLogger(a.log))
			for _, j := range jobs {
				if j.Target == nil {
					continue
				}
				fmt.Fprintf(out, "-- %s\n", j.Name())
				tpl, err := eng.Template(cmd.Context(), j.Target)
				if err != nil {
					fmt.Fprintf(out, "-- error: %v\n\n", err)
					continue
				}
				sql, _, _ := tpl.Render(false, nil)
				fmt.Fprintf(out, "%s;\n\n", sql)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showSQL, "sql", false, "Connect to the source and print each target's full-load query")
	return cmd
}

func newWatermarkCmd(global *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watermark",
		Short: "Inspect or reset committed watermarks",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Show the committed watermark of every target",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(global, "watermark")
			if err != nil {
				return err
			}
			marks, err := watermark.NewFileStore(a.settings.StateDir, a.log).List(cmd.Context())
			if err != nil {
				return err
			}
			names := make([]string, 0, len(marks))
			for name := range marks {
				names = append(names, name)
			}
			sort.Strings(names)
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TARGET\tWATERMARK")
			for _, name := range names {
				fmt.Fprintf(tw, "%s\t%s\n", name, marks[name])
			}
			return tw.Flush()
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "reset <target>...",
		Short: "Delete watermarks so the next run bootstraps those targets",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(global, "watermark")
			if err != nil {
				return err
			}
			store := watermark.NewFileStore(a.settings.StateDir, a.log)
			for _, target := range args {
				if err := store.Delete(cmd.Context(), target); err != nil {
					return err
				}
				a.log.Info("watermark reset", zap.String("target", target))
				fmt.Fprintf(cmd.OutOrStdout(), "reset %s\n", target)
			}
			return nil
		},
	})
	return cmd
}
