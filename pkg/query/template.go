package query

import (
	"strings"
	"time"
)

// Mode describes how a rendered query bounds its rows.
type Mode string

const (
	// ModeFull extracts everything because incremental mode is off.
	ModeFull Mode = "full"
	// ModeBootstrap extracts everything because no watermark exists yet.
	ModeBootstrap Mode = "bootstrap"
	// ModeIncremental extracts rows strictly newer than the watermark.
	ModeIncremental Mode = "incremental"
)

// Template is a built query with an unfilled incremental slot.
type Template struct {
	Target string
	SQL    string
	// Predicate is the timestamp expression compared against the watermark.
	// It is empty when none of the incremental columns exist in the source.
	Predicate string
	// Resolved maps each logical column to its source expression, or "" when
	// it was emitted as a placeholder.
	Resolved map[string]string
	// Columns lists the output column names in select order.
	Columns []string

	dialect Dialect
}

// SupportsIncremental reports whether a watermark predicate can be applied.
func (t *Template) SupportsIncremental() bool {
	return t.Predicate != ""
}

// Placeholders returns the logical columns that did not resolve.
func (t *Template) Placeholders() []string {
	var out []string
	for _, c := range t.Columns {
		if e, ok := t.Resolved[c]; ok && e == "" {
			out = append(out, c)
		}
	}
	return out
}

// Render fills the incremental slot.
//
//	enabled=false                 → no predicate (ModeFull)
//	enabled=true, last == nil     → no predicate (ModeBootstrap)
//	enabled=true, last != nil     → predicate > last (ModeIncremental)
//
// When the template cannot support a predicate the query is rendered as a
// full extraction.
func (t *Template) Render(enabled bool, last *time.Time) (string, []any, Mode) {
	switch {
	case !enabled || !t.SupportsIncremental():
		return t.fill(""), nil, ModeFull
	case last == nil:
		return t.fill(""), nil, ModeBootstrap
	default:
		clause := "WHERE " + t.Predicate + " > " + t.dialect.Placeholder(1)
		return t.fill(clause), []any{*last}, ModeIncremental
	}
}

func (t *Template) fill(clause string) string {
	if clause == "" {
		return strings.Replace(t.SQL, Slot+"\n", "", 1)
	}
	return strings.Replace(t.SQL, Slot, clause, 1)
}
