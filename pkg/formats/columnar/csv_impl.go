package columnar

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/ajitpratap0/orodw/pkg/frame"
)

// csvWriter implements Writer for the delimited text mirror
type csvWriter struct {
	writer *csv.Writer
	header []string
	types  []frame.Type
	rows   int64
}

func newCSVWriter(w io.Writer, config *WriterConfig) *csvWriter {
	cw := csv.NewWriter(w)
	if config.Delimiter != 0 {
		cw.Comma = config.Delimiter
	}
	return &csvWriter{writer: cw}
}

func (cw *csvWriter) Write(f *frame.Frame) error {
	if cw.header == nil {
		cw.header = f.Names()
		cw.types = make([]frame.Type, len(f.Columns))
		for i := range f.Columns {
			cw.types[i] = ColumnType(f, i)
		}
		if err := cw.writer.Write(cw.header); err != nil {
			return fmt.Errorf("failed to write CSV header: %w", err)
		}
	}
	if len(f.Columns) != len(cw.header) {
		return fmt.Errorf("frame has %d columns, CSV header has %d", len(f.Columns), len(cw.header))
	}

	record := make([]string, len(cw.header))
	for _, row := range f.Rows {
		for i, v := range row {
			record[i] = Render(v, cw.types[i])
		}
		if err := cw.writer.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
		cw.rows++
	}
	return nil
}

func (cw *csvWriter) Close() error {
	cw.writer.Flush()
	return cw.writer.Error()
}

func (cw *csvWriter) Format() Format {
	return CSV
}

func (cw *csvWriter) RowsWritten() int64 {
	return cw.rows
}
