// Package schema exposes the column sets of source tables at run time.
//
// The query builder never talks to a database directly: it depends on the
// Columns capability, which is filled either from a live metadata catalog
// (see pkg/source) or from a Static double in tests.
package schema

import (
	"context"
	"regexp"
	"strings"

	"github.com/ajitpratap0/orodw/pkg/dwerrors"
)

// Columns is the capability the query builder consults before referencing a column.
type Columns interface {
	Has(name string) bool
	Names() []string
}

// Prober returns the ordered column names of schema.table. A table that does
// not exist yields an empty slice and no error.
type Prober interface {
	ColumnsOf(ctx context.Context, schema, table string) ([]string, error)
}

// ColumnSet is an ordered, immutable Columns implementation.
type ColumnSet struct {
	names []string
	index map[string]struct{}
}

// NewColumnSet builds a ColumnSet. Duplicate names keep their first position.
func NewColumnSet(names ...string) *ColumnSet {
	cs := &ColumnSet{index: make(map[string]struct{}, len(names))}
	for _, n := range names {
		if _, ok := cs.index[n]; ok {
			continue
		}
		cs.index[n] = struct{}{}
		cs.names = append(cs.names, n)
	}
	return cs
}

// Has reports whether name is a column.
func (c *ColumnSet) Has(name string) bool {
	if c == nil {
		return false
	}
	_, ok := c.index[name]
	return ok
}

// Names returns the columns in catalog order.
func (c *ColumnSet) Names() []string {
	if c == nil {
		return nil
	}
	return append([]string(nil), c.names...)
}

// Len returns the number of columns.
func (c *ColumnSet) Len() int {
	if c == nil {
		return 0
	}
	return len(c.names)
}

// Location is a resolved table reference.
type Location struct {
	Schema  string
	Table   string
	Columns *ColumnSet
}

// Exists reports whether the table was found in any searched schema.
func (l Location) Exists() bool {
	return l.Columns.Len() > 0
}

// Qualified returns schema.table.
func (l Location) Qualified() string {
	return l.Schema + "." + l.Table
}

// Locate searches schemas in order and returns the first one holding table,
// mirroring search_path resolution. When no schema has it, the returned
// Location is empty and Exists reports false. Metadata query failures are
// returned as query errors.
func Locate(ctx context.Context, p Prober, schemas []string, table string) (Location, error) {
	if !ValidIdentifier(table) {
		return Location{}, dwerrors.New(dwerrors.ErrorTypeConfig, "invalid table identifier").
			WithDetail("table", table)
	}
	for _, s := range schemas {
		if !ValidIdentifier(s) {
			return Location{}, dwerrors.New(dwerrors.ErrorTypeConfig, "invalid schema identifier").
				WithDetail("schema", s)
		}
		cols, err := p.ColumnsOf(ctx, s, table)
		if err != nil {
			return Location{}, dwerrors.Wrap(err, dwerrors.ErrorTypeQuery, "failed to read column metadata").
				WithDetail("schema", s).
				WithDetail("table", table)
		}
		if len(cols) > 0 {
			return Location{Schema: s, Table: table, Columns: NewColumnSet(cols...)}, nil
		}
	}
	return Location{Table: table, Columns: NewColumnSet()}, nil
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]{0,62}$`)

// ValidIdentifier reports whether name may be interpolated into SQL as an
// identifier. Identifiers come from the metadata catalog or from static
// target definitions; they are never bound as parameters.
func ValidIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

// Static is an in-memory Prober keyed by "schema.table".
type Static map[string][]string

// ColumnsOf implements Prober.
func (s Static) ColumnsOf(_ context.Context, schema, table string) ([]string, error) {
	return append([]string(nil), s[strings.ToLower(schema+"."+table)]...), nil
}
