// Package sanitize makes every column of a result frame uniformly scalar
// before it is exported.
package sanitize

import (
	"bytes"
	"fmt"
	"reflect"

	"github.com/ajitpratap0/orodw/pkg/frame"
	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"
)

// DefaultSampleSize is the number of non-null cells inspected per column.
const DefaultSampleSize = 10

// Options configure Sanitize.
type Options struct {
	// SampleSize bounds the composite detection scan; zero means DefaultSampleSize.
	SampleSize int
	// Drop lists columns removed from the frame before sanitizing.
	Drop []string
	Logger *zap.Logger
}

// Report summarises what Sanitize changed.
type Report struct {
	Encoded   []string
	Fallbacks int
	Dropped   int
}

// Sanitize returns a copy of f in which every column whose sample contains a
// composite value (map, slice or array) has its composite cells replaced by
// canonical JSON text. Scalar cells in those columns pass through unchanged.
// Cells that fail to encode fall back to their fmt rendering.
func Sanitize(f *frame.Frame, opts Options) (*frame.Frame, Report) {
	var rep Report
	if f == nil {
		return nil, rep
	}
	if opts.SampleSize <= 0 {
		opts.SampleSize = DefaultSampleSize
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	out := f.Clone()
	before := len(out.Columns)
	out.DropColumns(opts.Drop...)
	rep.Dropped = before - len(out.Columns)

	for i, col := range out.Columns {
		if !sampleHasComposite(out.Rows, i, opts.SampleSize) {
			continue
		}
		for _, row := range out.Rows {
			if !IsComposite(row[i]) {
				continue
			}
			s, err := Encode(row[i])
			if err != nil {
				rep.Fallbacks++
				log.Warn("falling back to plain rendering",
					zap.String("column", col.Name),
					zap.Error(err))
				s = fmt.Sprintf("%v", row[i])
			}
			row[i] = s
		}
		out.Columns[i].Type = frame.TypeJSON
		rep.Encoded = append(rep.Encoded, col.Name)
	}
	return out, rep
}

func sampleHasComposite(rows [][]any, col, n int) bool {
	seen := 0
	for _, row := range rows {
		v := row[col]
		if v == nil {
			continue
		}
		if IsComposite(v) {
			return true
		}
		seen++
		if seen >= n {
			return false
		}
	}
	return false
}

// IsComposite reports whether v is a nested structure. Byte slices are scalar.
func IsComposite(v any) bool {
	switch v.(type) {
	case nil, []byte, string:
		return false
	case map[string]any, []any:
		return true
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		return true
	default:
		return false
	}
}

// Encode renders v as canonical JSON: map keys sorted, non-ASCII and HTML
// characters left unescaped, no trailing newline.
func Encode(v any) (string, error) {
	var buf bytes.Buffer
	enc := gojson.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}
