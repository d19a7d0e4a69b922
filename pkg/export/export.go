// Package export writes sanitized frames to their target artifacts.
//
// Layout:
//
//	<parquet_dir>/<target>/part-00000.parquet
//	<csv_dir>/<target>.csv[.gz|.zst|.lz4]
//
// Every artifact is written to a temporary file in its final directory and
// renamed over the previous artifact, so a failed export leaves the last good
// file in place.
package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ajitpratap0/orodw/pkg/compression"
	"github.com/ajitpratap0/orodw/pkg/dwerrors"
	"github.com/ajitpratap0/orodw/pkg/formats/columnar"
	"github.com/ajitpratap0/orodw/pkg/frame"
	"github.com/ajitpratap0/orodw/pkg/schema"
	"github.com/ajitpratap0/orodw/pkg/storage"
	"go.uber.org/zap"
)

// PartFile is the single part-file name of each Parquet target directory.
const PartFile = "part-00000.parquet"

// Config controls which sinks run and where they write.
type Config struct {
	Parquet            bool
	CSV                bool
	ParquetDir         string
	CSVDir             string
	ParquetCompression string
	CSVCompression     compression.Algorithm
	// PublishPrefix is prepended to every published object key.
	PublishPrefix string
}

// Result describes one export.
type Result struct {
	Target      string
	Rows        int
	Columns     int
	Skipped     bool
	ParquetPath string
	CSVPath     string
	Renamed     map[string]string
	Published   []string
	Duration    time.Duration
}

// Exporter owns the artifacts of every target.
type Exporter struct {
	config    Config
	publisher storage.Publisher
	logger    *zap.Logger
}

// New creates an exporter. publisher may be nil.
func New(config Config, publisher storage.Publisher, logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{
		config:    config,
		publisher: publisher,
		logger:    logger.With(zap.String("component", "exporter")),
	}
}

// ParquetPath returns the Parquet artifact of target.
func (e *Exporter) ParquetPath(target string) string {
	return filepath.Join(e.config.ParquetDir, target, PartFile)
}

// CSVPath returns the delimited mirror of target.
func (e *Exporter) CSVPath(target string) string {
	return filepath.Join(e.config.CSVDir, target+".csv"+e.config.CSVCompression.Extension())
}

// Export writes f for target. An empty frame writes nothing and is not an error.
func (e *Exporter) Export(ctx context.Context, f *frame.Frame, target string) (Result, error) {
	start := time.Now()
	res := Result{Target: target}
	if !schema.ValidIdentifier(target) {
		return res, dwerrors.New(dwerrors.ErrorTypeValidation, "invalid target name").WithDetail("target", target)
	}
	if f.Empty() {
		res.Skipped = true
		e.logger.Info("no rows to export", zap.String("target", target))
		return res, nil
	}

	out := f
	names, renamed := UniqueNames(f.Names())
	if len(renamed) > 0 {
		out = &frame.Frame{Columns: append([]frame.Column(nil), f.Columns...), Rows: f.Rows}
		for i := range out.Columns {
			out.Columns[i].Name = names[i]
		}
		e.logger.Warn("renamed duplicate columns", zap.String("target", target), zap.Any("renamed", renamed))
	}
	res.Rows, res.Columns, res.Renamed = out.Len(), len(out.Columns), renamed

	if e.config.Parquet {
		path := e.ParquetPath(target)
		err := writeAtomic(path, func(w *os.File) error {
			return writeFrame(w, out, &columnar.WriterConfig{
				Format:      columnar.Parquet,
				Compression: e.config.ParquetCompression,
			})
		})
		if err != nil {
			return res, dwerrors.Wrap(err, dwerrors.ErrorTypeFile, "failed to write parquet").
				WithDetail("target", target).
				WithDetail("path", path)
		}
		res.ParquetPath = path
		if err := e.publish(ctx, &res, path, "parquet", target, PartFile); err != nil {
			return res, err
		}
	}

	if e.config.CSV {
		path := e.CSVPath(target)
		err := writeAtomic(path, func(w *os.File) error {
			zw, err := compression.NewWriter(w, e.config.CSVCompression, compression.Default)
			if err != nil {
				return err
			}
			if err := writeFrame(zw, out, &columnar.WriterConfig{Format: columnar.CSV}); err != nil {
				zw.Close()
				return err
			}
			return zw.Close()
		})
		if err != nil {
			return res, dwerrors.Wrap(err, dwerrors.ErrorTypeFile, "failed to write csv").
				WithDetail("target", target).
				WithDetail("path", path)
		}
		res.CSVPath = path
		if err := e.publish(ctx, &res, path, "csv", filepath.Base(path)); err != nil {
			return res, err
		}
	}

	res.Duration = time.Since(start)
	e.logger.Info("target exported",
		zap.String("target", target),
		zap.Int("rows", res.Rows),
		zap.Int("columns", res.Columns),
		zap.String("parquet", res.ParquetPath),
		zap.String("csv", res.CSVPath),
		zap.Duration("duration", res.Duration))
	return res, nil
}

func (e *Exporter) publish(ctx context.Context, res *Result, local string, elems ...string) error {
	if e.publisher == nil {
		return nil
	}
	key := storage.ObjectKey(e.config.PublishPrefix, elems...)
	if err := e.publisher.Publish(ctx, local, key); err != nil {
		return dwerrors.Wrap(err, dwerrors.ErrorTypeFile, "failed to publish artifact").
			WithDetail("target", res.Target).
			WithDetail("key", key)
	}
	res.Published = append(res.Published, e.publisher.Location(key))
	return nil
}

func writeFrame(w io.Writer, f *frame.Frame, cfg *columnar.WriterConfig) error {
	cw, err := columnar.NewWriter(w, cfg)
	if err != nil {
		return err
	}
	if err := cw.Write(f); err != nil {
		cw.Close()
		return err
	}
	return cw.Close()
}

// writeAtomic writes through fill into a temporary sibling of path, syncs it
// and renames it over path.
func writeAtomic(path string, fill func(*os.File) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op after a successful rename

	if err := fill(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// UniqueNames de-duplicates column names: the first occurrence keeps its name,
// later ones get "__1", "__2", ... skipping suffixes already taken. renamed maps
// each new name to the original.
func UniqueNames(names []string) (out []string, renamed map[string]string) {
	out = make([]string, len(names))
	taken := make(map[string]struct{}, len(names))
	for _, n := range names {
		taken[n] = struct{}{}
	}
	seen := make(map[string]int, len(names))
	for i, n := range names {
		count, dup := seen[n]
		seen[n] = count + 1
		if !dup {
			out[i] = n
			continue
		}
		var candidate string
		for k := count; ; k++ {
			candidate = n + "__" + strconv.Itoa(k)
			if _, clash := taken[candidate]; !clash {
				break
			}
		}
		taken[candidate] = struct{}{}
		out[i] = candidate
		if renamed == nil {
			renamed = make(map[string]string)
		}
		renamed[candidate] = n
	}
	return out, renamed
}

// String implements fmt.Stringer for log lines.
func (r Result) String() string {
	if r.Skipped {
		return fmt.Sprintf("%s: skipped (no rows)", r.Target)
	}
	return fmt.Sprintf("%s: %d rows, %d columns", r.Target, r.Rows, r.Columns)
}
