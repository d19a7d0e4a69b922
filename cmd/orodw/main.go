package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/orodw/pkg/config"
	"github.com/ajitpratap0/orodw/pkg/dwerrors"
	"github.com/ajitpratap0/orodw/pkg/logger"
)

var version = "0.1.0"

// GlobalFlags are shared by every command.
type GlobalFlags struct {
	ConfigPath  string
	LogLevel    string
	MetricsAddr string
}

// app is the per-command context: settings plus the command's logger.
type app struct {
	settings *config.Settings
	log      *zap.Logger
}

func newApp(flags *GlobalFlags, command string) (*app, error) {
	settings, err := config.Load(flags.ConfigPath)
	if err != nil {
		return nil, err
	}
	if flags.LogLevel != "" {
		settings.Log.Level = flags.LogLevel
	}
	if flags.MetricsAddr != "" {
		settings.Metrics.Addr = flags.MetricsAddr
	}

	if err := logger.Init(logger.Config{
		Level:    settings.Log.Level,
		Encoding: settings.Log.Encoding,
		LogFile:  logger.FileFor(settings.LogsDir, command),
	}); err != nil {
		return nil, dwerrors.Wrap(err, dwerrors.ErrorTypeConfig, "failed to initialize logger")
	}
	return &app{
		settings: settings,
		log:      logger.With(zap.String("component", "orodw-cli"), zap.String("command", command)),
	}, nil
}

func main() {
	flags := &GlobalFlags{}

	root := &cobra.Command{
		Use:   "orodw",
		Short: "orodw - OroCommerce warehouse extractor",
		Long: `orodw extracts OroCommerce facts and dimensions into Parquet (and optionally CSV)
artifacts, incrementally where a watermark is available.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.ConfigPath, "config", "c", config.DefaultPath, "Path to settings.yaml")
	root.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "", "Log level (debug, info, warn, error); overrides settings")
	root.PersistentFlags().StringVar(&flags.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9102")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "orodw v%s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "Go version: %s\n", runtime.Version())
			fmt.Fprintf(cmd.OutOrStdout(), "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})
	root.AddCommand(newRunCmd(flags))
	root.AddCommand(newGranularCmd(flags))
	root.AddCommand(newTargetsCmd(flags))
	root.AddCommand(newWatermarkCmd(flags))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	stop()
	_ = logger.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

// exitCode is 2 for configuration errors, 3 when the run's success ratio is
// below the minimum and 1 otherwise.
func exitCode(err error) int {
	var ratio *ratioError
	switch {
	case dwerrors.IsFatal(err):
		return 2
	case errors.As(err, &ratio):
		return 3
	default:
		return 1
	}
}
