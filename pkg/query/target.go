// Package query builds adaptive extraction queries.
//
// A Target declares the logical columns an output table must carry and, for
// each of them, the physical source columns that may hold it. Build resolves
// those candidates against the columns that actually exist at run time, so
// the output schema stays the same while the source schema drifts.
package query

import (
	"strings"

	"github.com/ajitpratap0/orodw/pkg/schema"
)

// Kind classifies a target.
type Kind string

const (
	KindDimension Kind = "dimension"
	KindFact      Kind = "fact"
	KindSnapshot  Kind = "snapshot"
)

// BaseAlias is the alias of a target's base table unless Target.Alias says otherwise.
const BaseAlias = "t"

// Target is one output table.
type Target struct {
	Name    string
	Kind    Kind
	Table   string
	Alias   string
	Columns []Mapping
	Joins   []Join
	// Passthrough appends every base-table column whose name is not already a
	// logical output column. With no Columns this selects the whole table.
	Passthrough bool
	Incremental *Incremental
}

// BaseAliasName returns the alias used for the base table.
func (t Target) BaseAliasName() string {
	if t.Alias != "" {
		return t.Alias
	}
	return BaseAlias
}

// Tables returns alias → source table for the base table and every join.
func (t Target) Tables() map[string]string {
	out := map[string]string{t.BaseAliasName(): t.Table}
	for _, j := range t.Joins {
		out[j.Alias] = j.Table
	}
	return out
}

// Mapping is a Candidate Column Mapping for one logical output column.
type Mapping struct {
	Name string
	// Candidates are tried in order. A bare name refers to the base table,
	// "alias.column" to a joined table.
	Candidates []string
	Type       SQLType
	// Required columns fail the build when no candidate resolves.
	Required bool
	// Default replaces NULLs, and the whole column when unresolved.
	Default string
	// Coalesce combines every resolved candidate with COALESCE instead of
	// taking only the first one.
	Coalesce bool
	// Derived computes the column from other source columns when the
	// candidates are missing or NULL.
	Derived *Derived
}

// Operator is an arithmetic operator allowed in a Derived expression.
type Operator string

const (
	OpAdd Operator = "+"
	OpSub Operator = "-"
	OpMul Operator = "*"
)

// Derived combines operand columns with one operator, e.g. quantity * price.
// Operands are candidates like Mapping.Candidates; the expression is used
// only when every operand resolves.
type Derived struct {
	Op       Operator
	Operands []string
}

// JoinKind selects how an auxiliary table is attached.
type JoinKind int

const (
	// JoinLookup is a plain LEFT JOIN on a key.
	JoinLookup JoinKind = iota
	// JoinMinChild keeps, per parent key, only the child row with the lowest id.
	JoinMinChild
)

// Join attaches an auxiliary table. Joins are omitted when their table or
// any of their keys is missing; columns read from an omitted join degrade to
// typed NULLs.
type Join struct {
	Alias string
	Table string
	Kind  JoinKind
	// Parent is the alias the join hangs from; empty means the base table.
	Parent    string
	ParentKey []string
	Key       []string
	// ID candidates name the surrogate id used by JoinMinChild.
	ID []string
}

// Incremental configures delta extraction for a target.
type Incremental struct {
	// Key names the entry in the settings incremental map.
	Key string
	// Default applies when the settings do not mention Key.
	Default bool
	// Columns are logical timestamp columns, in priority order, whose source
	// expressions are compared against the watermark.
	Columns []string
	// Watermark lists the output columns the next watermark is computed from,
	// in fallback order. Defaults to Columns.
	Watermark []string
}

// WatermarkColumns returns the output columns used to compute the next watermark.
func (i *Incremental) WatermarkColumns() []string {
	if i == nil {
		return nil
	}
	if len(i.Watermark) > 0 {
		return i.Watermark
	}
	return i.Columns
}

// Table is a located source table as seen by the builder.
type Table struct {
	Schema  string
	Name    string
	Columns schema.Columns
}

// Exists reports whether the table has any columns.
func (t Table) Exists() bool {
	return t.Columns != nil && len(t.Columns.Names()) > 0
}

// Known maps aliases to located tables.
type Known map[string]Table

// FromLocation converts a schema.Location.
func FromLocation(l schema.Location) Table {
	return Table{Schema: l.Schema, Name: l.Table, Columns: l.Columns}
}

func splitCandidate(c, defaultAlias string) (alias, column string) {
	if a, col, ok := strings.Cut(c, "."); ok {
		return a, col
	}
	return defaultAlias, c
}
