// Package config holds the warehouse settings shared by every command.
//
// Settings come from config/settings.yaml. Keys keep the names the analytics
// team already uses in that file (exportar_parquet, salida_csv, ...). The
// database connection is read from the environment, see Database.
//
// Example usage:
//
//	s, err := config.Load("config/settings.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if s.IncrementalEnabled("facts", false) {
//	    ...
//	}
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ajitpratap0/orodw/pkg/compression"
	"github.com/ajitpratap0/orodw/pkg/formats/columnar"
	"github.com/ajitpratap0/orodw/pkg/schema"
	"github.com/ajitpratap0/orodw/pkg/storage"
)

// DateLayout is the layout of calendar bounds and snapshot dates.
const DateLayout = "2006-01-02"

// Settings is the whole settings file.
type Settings struct {
	// Sinks
	ExportParquet bool   `yaml:"exportar_parquet"`
	ExportCSV     bool   `yaml:"exportar_csv"`
	ParquetDir    string `yaml:"salida_parquet"`
	CSVDir        string `yaml:"salida_csv"`

	// ParquetCompression is a Parquet codec: snappy, gzip, zstd, brotli or none.
	ParquetCompression string `yaml:"compresion_parquet"`
	// CSVCompression wraps the delimited mirror: none, gzip, zstd or lz4.
	CSVCompression string `yaml:"compresion_csv"`

	TargetSchema  string   `yaml:"schema_destino"`
	SourceSchemas []string `yaml:"source_schemas"`

	// Incremental switches incremental extraction per target group.
	Incremental map[string]bool `yaml:"incremental"`
	// DropColumns lists, per target, source columns left out of the artifact.
	DropColumns map[string][]string `yaml:"descartar_columnas"`

	StateDir string `yaml:"state_dir"`
	LogsDir  string `yaml:"logs_dir"`
	SQLDir   string `yaml:"sql_dir"`
	DryRun   bool   `yaml:"dry_run"`

	Calendar CalendarConfig `yaml:"calendario"`
	Publish  storage.Config `yaml:"publicar"`
	Metrics  MetricsConfig  `yaml:"metricas"`
	Tracing  TracingConfig  `yaml:"trazas"`
	Log      LogConfig      `yaml:"log"`
}

// CalendarConfig bounds the generated date dimension. When File is set the
// dates are read from that CSV instead.
type CalendarConfig struct {
	From string `yaml:"desde"`
	To   string `yaml:"hasta"`
	File string `yaml:"archivo"`
}

// MetricsConfig configures the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// TracingConfig configures per-target spans.
type TracingConfig struct {
	Enabled    bool    `yaml:"habilitado"`
	SampleRate float64 `yaml:"muestreo"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level    string `yaml:"level"`
	Encoding string `yaml:"encoding"`
}

// NewSettings returns settings with every default applied.
func NewSettings() *Settings {
	return &Settings{
		ExportParquet:      true,
		ExportCSV:          false,
		ParquetDir:         "data/outputs/parquet",
		CSVDir:             "data/outputs/csv",
		ParquetCompression: "snappy",
		CSVCompression:     string(compression.None),
		TargetSchema:       "dw_granular",
		SourceSchemas:      []string{"public"},
		Incremental:        map[string]bool{"quotes": true},
		StateDir:           "data/_state",
		LogsDir:            "logs",
		SQLDir:             "sql/granular",
		Calendar: CalendarConfig{
			From: "2023-01-01",
			To:   "2025-12-31",
		},
		Publish: storage.Config{Type: "none"},
		Tracing: TracingConfig{SampleRate: 1},
		Log: LogConfig{
			Level:    "info",
			Encoding: "console",
		},
	}
}

// IncrementalEnabled reports whether incremental extraction is on for key,
// returning def when the settings file does not mention it.
func (s *Settings) IncrementalEnabled(key string, def bool) bool {
	if v, ok := s.Incremental[key]; ok {
		return v
	}
	return def
}

// CalendarRange parses the calendar bounds.
func (s *Settings) CalendarRange() (from, to time.Time, err error) {
	from, err = time.Parse(DateLayout, s.Calendar.From)
	if err != nil {
		return from, to, fmt.Errorf("calendario.desde: %w", err)
	}
	to, err = time.Parse(DateLayout, s.Calendar.To)
	if err != nil {
		return from, to, fmt.Errorf("calendario.hasta: %w", err)
	}
	if to.Before(from) {
		return from, to, fmt.Errorf("calendario.hasta is before calendario.desde")
	}
	return from, to, nil
}

// SearchPath is the schema resolution order used by granular SQL: the target
// schema first, then the source schemas.
func (s *Settings) SearchPath() []string {
	out := make([]string, 0, len(s.SourceSchemas)+1)
	out = append(out, s.TargetSchema)
	for _, sc := range s.SourceSchemas {
		if !strings.EqualFold(sc, s.TargetSchema) {
			out = append(out, sc)
		}
	}
	return out
}

// Validate checks the settings.
func (s *Settings) Validate() error {
	if !schema.ValidIdentifier(s.TargetSchema) {
		return fmt.Errorf("schema_destino is not a valid identifier: %q", s.TargetSchema)
	}
	if len(s.SourceSchemas) == 0 {
		return fmt.Errorf("source_schemas must not be empty")
	}
	for _, sc := range s.SourceSchemas {
		if !schema.ValidIdentifier(sc) {
			return fmt.Errorf("source_schemas entry is not a valid identifier: %q", sc)
		}
	}
	if s.ExportParquet && s.ParquetDir == "" {
		return fmt.Errorf("salida_parquet is required when exportar_parquet is on")
	}
	if s.ExportCSV && s.CSVDir == "" {
		return fmt.Errorf("salida_csv is required when exportar_csv is on")
	}
	if s.StateDir == "" {
		return fmt.Errorf("state_dir is required")
	}
	if !columnar.ValidParquetCompression(s.ParquetCompression) {
		return fmt.Errorf("unsupported compresion_parquet: %s", s.ParquetCompression)
	}
	if _, err := compression.Parse(s.CSVCompression); err != nil {
		return fmt.Errorf("unsupported compresion_csv: %s", s.CSVCompression)
	}
	if s.Calendar.File == "" {
		if _, _, err := s.CalendarRange(); err != nil {
			return err
		}
	}
	if s.Tracing.SampleRate < 0 || s.Tracing.SampleRate > 1 {
		return fmt.Errorf("trazas.muestreo must be between 0 and 1")
	}
	if err := s.Publish.Validate(); err != nil {
		return fmt.Errorf("publicar: %w", err)
	}
	return nil
}
