// Package watermark persists the high-water mark of each extraction target.
//
// A watermark is a second-precision timestamp. It is read before a target is
// extracted and written only after that target's export succeeded, so it can
// never run ahead of durably written data.
package watermark

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ajitpratap0/orodw/pkg/frame"
)

// Layout is the persisted text form of a watermark.
const Layout = "2006-01-02 15:04:05"

// Watermark is the last processed position of a target.
type Watermark struct {
	time.Time
}

// New truncates t to whole seconds in UTC.
func New(t time.Time) Watermark {
	return Watermark{Time: t.UTC().Truncate(time.Second)}
}

// Parse reads a watermark in Layout or one of the common timestamp forms.
func Parse(s string) (Watermark, error) {
	t, err := parseTimestamp(s)
	if err != nil {
		return Watermark{}, err
	}
	return New(t), nil
}

// String formats the watermark in Layout.
func (w Watermark) String() string {
	return w.Time.Format(Layout)
}

// Store reads and writes one watermark per target. Targets are independent:
// a failure on one never affects another.
type Store interface {
	// Read returns nil when the target has never been committed.
	Read(ctx context.Context, target string) (*Watermark, error)
	Write(ctx context.Context, target string, w Watermark) error
	Delete(ctx context.Context, target string) error
	List(ctx context.Context) (map[string]Watermark, error)
}

// Compute returns the next watermark candidate from the frame. The first
// column listed that holds at least one timestamp supplies the maximum; later
// columns are fallbacks used only when earlier ones are missing or entirely
// null. It returns nil when no timestamp is found.
func Compute(f *frame.Frame, columns ...string) *Watermark {
	if f.Empty() {
		return nil
	}
	for _, name := range columns {
		i := f.Index(name)
		if i < 0 {
			continue
		}
		var (
			max   time.Time
			found bool
		)
		for _, row := range f.Rows {
			t, ok := asTime(row[i])
			if !ok {
				continue
			}
			if !found || t.After(max) {
				max, found = t, true
			}
		}
		if found {
			w := New(max)
			return &w
		}
	}
	return nil
}

// Advance merges a computed candidate into the last committed watermark.
// It returns the value to persist and whether a write is due; the result is
// never earlier than last.
func Advance(last, next *Watermark) (Watermark, bool) {
	switch {
	case next == nil && last == nil:
		return Watermark{}, false
	case next == nil:
		return *last, false
	case last == nil:
		return *next, true
	case next.After(last.Time):
		return *next, true
	default:
		return *last, false
	}
}

func asTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, !x.IsZero()
	case *time.Time:
		if x == nil {
			return time.Time{}, false
		}
		return *x, !x.IsZero()
	case string:
		t, err := parseTimestamp(x)
		return t, err == nil
	case []byte:
		t, err := parseTimestamp(string(x))
		return t, err == nil
	default:
		return time.Time{}, false
	}
}

var layouts = []string{
	Layout,
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}
