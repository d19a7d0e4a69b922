// Package columnar writes result frames as export artifacts.
package columnar

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/ajitpratap0/orodw/pkg/frame"
)

// Format represents an artifact format
type Format string

const (
	// Parquet is Apache Parquet format
	Parquet Format = "parquet"
	// CSV is the delimited text mirror
	CSV Format = "csv"
)

// TimestampLayout renders timestamps in text artifacts.
const TimestampLayout = "2006-01-02 15:04:05"

// DateLayout renders dates in text artifacts.
const DateLayout = "2006-01-02"

// Writer writes frames in one format
type Writer interface {
	// Write appends the rows of f. The first frame fixes the schema.
	Write(f *frame.Frame) error
	// Close flushes buffered data; it does not close the underlying io.Writer
	Close() error
	// Format returns the artifact format
	Format() Format
	// RowsWritten returns rows written so far
	RowsWritten() int64
}

// WriterConfig configures writers
type WriterConfig struct {
	Format Format
	// Compression is the Parquet page codec: snappy, gzip, zstd, brotli, none
	Compression  string
	RowGroupSize int64
	// Delimiter for CSV; defaults to ','
	Delimiter rune
}

// DefaultWriterConfig returns default writer configuration
func DefaultWriterConfig() *WriterConfig {
	return &WriterConfig{
		Format:       Parquet,
		Compression:  "snappy",
		RowGroupSize: 128 * 1024,
		Delimiter:    ',',
	}
}

// NewWriter creates a new writer
func NewWriter(w io.Writer, config *WriterConfig) (Writer, error) {
	if config == nil {
		config = DefaultWriterConfig()
	}

	switch config.Format {
	case Parquet:
		return newParquetWriter(w, config)
	case CSV:
		return newCSVWriter(w, config), nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", config.Format)
	}
}

// ColumnType picks the physical type of column i: the type inferred from the
// values wins over the declared one, except that declared dates stay dates and
// declared JSON stays text.
func ColumnType(f *frame.Frame, i int) frame.Type {
	declared := f.Columns[i].Type
	inferred := f.Infer(i)
	switch {
	case declared == frame.TypeJSON:
		return frame.TypeString
	case declared == frame.TypeDate && (inferred == frame.TypeTimestamp || inferred == frame.TypeUnknown):
		return frame.TypeDate
	case inferred != frame.TypeUnknown:
		return inferred
	case declared != frame.TypeUnknown:
		return declared
	default:
		return frame.TypeString
	}
}

// Render formats a cell as text. nil renders as the empty string.
func Render(v any, t frame.Type) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case frame.Decimal:
		return string(x)
	case []byte:
		return string(x)
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int8:
		return strconv.FormatInt(int64(x), 10)
	case int16:
		return strconv.FormatInt(int64(x), 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint8:
		return strconv.FormatUint(uint64(x), 10)
	case uint16:
		return strconv.FormatUint(uint64(x), 10)
	case uint32:
		return strconv.FormatUint(uint64(x), 10)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case time.Time:
		if t == frame.TypeDate {
			return x.Format(DateLayout)
		}
		return x.Format(TimestampLayout)
	default:
		return fmt.Sprintf("%v", x)
	}
}
