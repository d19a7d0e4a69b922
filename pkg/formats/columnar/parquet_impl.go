package columnar

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ajitpratap0/orodw/pkg/frame"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/decimal128"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
)

// parquetWriter implements Writer for Parquet format
type parquetWriter struct {
	writer      io.Writer
	config      *WriterConfig
	pool        memory.Allocator
	arrowSchema *arrow.Schema
	types       []frame.Type
	fileWriter  *pqarrow.FileWriter
	rows        int64
}

func newParquetWriter(w io.Writer, config *WriterConfig) (*parquetWriter, error) {
	if _, err := parquetCodec(config.Compression); err != nil {
		return nil, err
	}
	return &parquetWriter{
		writer: w,
		config: config,
		pool:   memory.NewGoAllocator(),
	}, nil
}

func (pw *parquetWriter) init(f *frame.Frame) error {
	pw.types = make([]frame.Type, len(f.Columns))
	fields := make([]arrow.Field, len(f.Columns))
	for i, c := range f.Columns {
		pw.types[i] = ColumnType(f, i)
		dt := arrowType(pw.types[i])
		if pw.types[i] == frame.TypeDecimal {
			if dec, ok := decimalType(f, i); ok {
				dt = dec
			} else {
				pw.types[i] = frame.TypeString
				dt = arrow.BinaryTypes.String
			}
		}
		fields[i] = arrow.Field{Name: c.Name, Type: dt, Nullable: true}
	}
	pw.arrowSchema = arrow.NewSchema(fields, nil)

	codec, _ := parquetCodec(pw.config.Compression)
	opts := []parquet.WriterProperty{parquet.WithCompression(codec)}
	if pw.config.RowGroupSize > 0 {
		opts = append(opts, parquet.WithMaxRowGroupLength(pw.config.RowGroupSize))
	}
	props := parquet.NewWriterProperties(opts...)
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithAllocator(pw.pool))

	// The Parquet writer closes sinks that implement io.Closer; hide it so
	// callers keep ownership of the underlying file.
	fw, err := pqarrow.NewFileWriter(pw.arrowSchema, struct{ io.Writer }{pw.writer}, props, arrowProps)
	if err != nil {
		return fmt.Errorf("failed to create Parquet writer: %w", err)
	}
	pw.fileWriter = fw
	return nil
}

func (pw *parquetWriter) Write(f *frame.Frame) error {
	if pw.fileWriter == nil {
		if err := pw.init(f); err != nil {
			return err
		}
	}
	if len(f.Columns) != len(pw.types) {
		return fmt.Errorf("frame has %d columns, writer schema has %d", len(f.Columns), len(pw.types))
	}

	builder := array.NewRecordBuilder(pw.pool, pw.arrowSchema)
	defer builder.Release()

	for _, row := range f.Rows {
		for i, v := range row {
			if err := appendValue(builder.Field(i), v, pw.types[i]); err != nil {
				return fmt.Errorf("column %s: %w", f.Columns[i].Name, err)
			}
		}
	}

	record := builder.NewRecord()
	defer record.Release()

	if err := pw.fileWriter.Write(record); err != nil {
		return fmt.Errorf("failed to write record batch: %w", err)
	}
	pw.rows += record.NumRows()
	return nil
}

func (pw *parquetWriter) Close() error {
	if pw.fileWriter == nil {
		return nil
	}
	if err := pw.fileWriter.Close(); err != nil {
		return fmt.Errorf("failed to close Parquet writer: %w", err)
	}
	return nil
}

func (pw *parquetWriter) Format() Format {
	return Parquet
}

func (pw *parquetWriter) RowsWritten() int64 {
	return pw.rows
}

func appendValue(b array.Builder, v any, t frame.Type) error {
	if v == nil {
		b.AppendNull()
		return nil
	}

	switch bb := b.(type) {
	case *array.BooleanBuilder:
		x, ok := v.(bool)
		if !ok {
			return fmt.Errorf("expected bool, got %T", v)
		}
		bb.Append(x)
	case *array.Int64Builder:
		x, ok := toInt64(v)
		if !ok {
			return fmt.Errorf("expected integer, got %T", v)
		}
		bb.Append(x)
	case *array.Float64Builder:
		x, ok := toFloat64(v)
		if !ok {
			return fmt.Errorf("expected number, got %T", v)
		}
		bb.Append(x)
	case *array.Decimal128Builder:
		scale := bb.Type().(*arrow.Decimal128Type).Scale
		n, err := decimal128.FromString(Render(v, t), maxDecimalPrecision, scale)
		if err != nil {
			return fmt.Errorf("expected decimal, got %v: %w", v, err)
		}
		bb.Append(n)
	case *array.TimestampBuilder:
		x, ok := v.(time.Time)
		if !ok {
			return fmt.Errorf("expected timestamp, got %T", v)
		}
		bb.Append(arrow.Timestamp(x.UnixMicro()))
	case *array.Date32Builder:
		x, ok := v.(time.Time)
		if !ok {
			return fmt.Errorf("expected date, got %T", v)
		}
		bb.Append(arrow.Date32FromTime(x))
	case *array.StringBuilder:
		bb.Append(Render(v, t))
	default:
		return fmt.Errorf("unsupported builder %T", b)
	}
	return nil
}

const maxDecimalPrecision = 38

// decimalType sizes a decimal128 column from its values: the scale is the
// widest fraction seen. Columns that do not fit 38 digits are not decimal.
func decimalType(f *frame.Frame, i int) (*arrow.Decimal128Type, bool) {
	var intDigits, scale int
	for _, row := range f.Rows {
		if row[i] == nil {
			continue
		}
		d, ok := row[i].(frame.Decimal)
		if !ok {
			d = frame.Decimal(Render(row[i], frame.TypeDecimal))
		}
		s := d.Scale()
		scale = max(scale, s)
		intDigits = max(intDigits, d.Precision()-s)
	}
	if intDigits+scale > maxDecimalPrecision {
		return nil, false
	}
	return &arrow.Decimal128Type{Precision: maxDecimalPrecision, Scale: int32(scale)}, true
}

func toInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	default:
		return 0, false
	}
}

func toFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float32:
		return float64(x), true
	case float64:
		return x, true
	case frame.Decimal:
		return x.Float()
	default:
		i, ok := toInt64(v)
		return float64(i), ok
	}
}

func arrowType(t frame.Type) arrow.DataType {
	switch t {
	case frame.TypeInt:
		return arrow.PrimitiveTypes.Int64
	case frame.TypeFloat:
		return arrow.PrimitiveTypes.Float64
	case frame.TypeBool:
		return arrow.FixedWidthTypes.Boolean
	case frame.TypeTimestamp:
		return arrow.FixedWidthTypes.Timestamp_us
	case frame.TypeDate:
		return arrow.FixedWidthTypes.Date32
	default:
		return arrow.BinaryTypes.String
	}
}

func parquetCodec(name string) (compress.Compression, error) {
	switch strings.ToLower(name) {
	case "", "snappy":
		return compress.Codecs.Snappy, nil
	case "gzip":
		return compress.Codecs.Gzip, nil
	case "zstd":
		return compress.Codecs.Zstd, nil
	case "brotli":
		return compress.Codecs.Brotli, nil
	case "none", "uncompressed":
		return compress.Codecs.Uncompressed, nil
	default:
		return compress.Codecs.Uncompressed, fmt.Errorf("unsupported parquet compression: %s", name)
	}
}

// ValidParquetCompression reports whether name is an accepted Parquet codec.
func ValidParquetCompression(name string) bool {
	_, err := parquetCodec(name)
	return err == nil
}

// ReadParquet loads a Parquet artifact back into a frame.
func ReadParquet(ctx context.Context, r parquet.ReaderAtSeeker) (*frame.Frame, error) {
	pf, err := file.NewParquetReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open Parquet file: %w", err)
	}
	defer pf.Close()

	fr, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{}, memory.NewGoAllocator())
	if err != nil {
		return nil, fmt.Errorf("failed to create Arrow reader: %w", err)
	}
	tbl, err := fr.ReadTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read table: %w", err)
	}
	defer tbl.Release()

	sc := tbl.Schema()
	out := &frame.Frame{Columns: make([]frame.Column, sc.NumFields())}
	out.Rows = make([][]any, tbl.NumRows())
	for k := range out.Rows {
		out.Rows[k] = make([]any, sc.NumFields())
	}

	for i, field := range sc.Fields() {
		out.Columns[i] = frame.Column{Name: field.Name, Type: frameType(field.Type)}
		row := 0
		for _, chunk := range tbl.Column(i).Data().Chunks() {
			for j := 0; j < chunk.Len(); j++ {
				out.Rows[row][i] = cellValue(chunk, j)
				row++
			}
		}
	}
	return out, nil
}

func cellValue(arr arrow.Array, j int) any {
	if arr.IsNull(j) {
		return nil
	}
	switch a := arr.(type) {
	case *array.Boolean:
		return a.Value(j)
	case *array.Int64:
		return a.Value(j)
	case *array.Float64:
		return a.Value(j)
	case *array.String:
		return a.Value(j)
	case *array.Decimal128:
		scale := a.DataType().(*arrow.Decimal128Type).Scale
		return frame.Decimal(a.Value(j).ToString(scale))
	case *array.Timestamp:
		unit := a.DataType().(*arrow.TimestampType).Unit
		return a.Value(j).ToTime(unit)
	case *array.Date32:
		return a.Value(j).ToTime()
	default:
		return arr.ValueStr(j)
	}
}

func frameType(dt arrow.DataType) frame.Type {
	switch dt.ID() {
	case arrow.BOOL:
		return frame.TypeBool
	case arrow.INT64, arrow.INT32:
		return frame.TypeInt
	case arrow.FLOAT64, arrow.FLOAT32:
		return frame.TypeFloat
	case arrow.DECIMAL128:
		return frame.TypeDecimal
	case arrow.TIMESTAMP:
		return frame.TypeTimestamp
	case arrow.DATE32:
		return frame.TypeDate
	default:
		return frame.TypeString
	}
}
