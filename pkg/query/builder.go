package query

import (
	"strings"

	"github.com/ajitpratap0/orodw/pkg/dwerrors"
	"github.com/ajitpratap0/orodw/pkg/schema"
)

// Slot is the template token replaced by the incremental predicate.
const Slot = "{{incremental}}"

// Builder turns targets into query templates for one dialect.
type Builder struct {
	dialect Dialect
}

// NewBuilder creates a builder. A nil dialect means PostgreSQL.
func NewBuilder(d Dialect) *Builder {
	if d == nil {
		d = Postgres{}
	}
	return &Builder{dialect: d}
}

// Dialect returns the builder's dialect.
func (b *Builder) Dialect() Dialect {
	return b.dialect
}

type buildState struct {
	b      *Builder
	target Target
	known  Known
	active map[string]bool
	base   string
}

// Build resolves target against the known tables and returns a template.
// Missing optional columns become typed NULL placeholders; a missing required
// column or base table is a configuration error.
func (b *Builder) Build(target Target, known Known) (*Template, error) {
	base := target.BaseAliasName()
	st := &buildState{b: b, target: target, known: known, active: map[string]bool{}, base: base}

	baseTable, ok := known[base]
	if !ok || !baseTable.Exists() {
		return nil, dwerrors.New(dwerrors.ErrorTypeConfig, "source table not found").
			WithDetail("target", target.Name).
			WithDetail("table", target.Table)
	}
	if err := st.checkTable(baseTable); err != nil {
		return nil, err
	}
	st.active[base] = true

	joins, err := st.joins()
	if err != nil {
		return nil, err
	}

	tpl := &Template{
		Target:   target.Name,
		Resolved: make(map[string]string, len(target.Columns)),
		dialect:  b.dialect,
	}

	var selects []string
	logical := make(map[string]struct{}, len(target.Columns))
	var idExpr string
	for _, m := range target.Columns {
		logical[m.Name] = struct{}{}
		expr := st.resolve(m)
		tpl.Resolved[m.Name] = expr

		if expr == "" && m.Required {
			return nil, dwerrors.New(dwerrors.ErrorTypeConfig, "required column not found").
				WithDetail("target", target.Name).
				WithDetail("column", m.Name).
				WithDetail("candidates", strings.Join(m.Candidates, ","))
		}
		if m.Required && idExpr == "" {
			idExpr = expr
		}

		selects = append(selects, st.selectExpr(m, expr)+" AS "+b.dialect.Quote(m.Name))
		tpl.Columns = append(tpl.Columns, m.Name)
	}

	if target.Passthrough {
		for _, c := range baseTable.Columns.Names() {
			if _, dup := logical[c]; dup {
				continue
			}
			selects = append(selects, st.ref(base, c)+" AS "+b.dialect.Quote(c))
			tpl.Columns = append(tpl.Columns, c)
		}
	}
	if len(selects) == 0 {
		return nil, dwerrors.New(dwerrors.ErrorTypeConfig, "target selects no columns").
			WithDetail("target", target.Name)
	}

	var tsExprs []string
	if target.Incremental != nil {
		for _, c := range target.Incremental.Columns {
			if e := tpl.Resolved[c]; e != "" {
				tsExprs = append(tsExprs, e)
			}
		}
	}
	tpl.Predicate = coalesce(tsExprs)

	var sb strings.Builder
	sb.WriteString("SELECT\n    ")
	sb.WriteString(strings.Join(selects, ",\n    "))
	sb.WriteString("\nFROM ")
	sb.WriteString(st.qualified(baseTable))
	sb.WriteString(" ")
	sb.WriteString(base)
	for _, j := range joins {
		sb.WriteString("\n")
		sb.WriteString(j)
	}
	sb.WriteString("\n")
	sb.WriteString(Slot)
	sb.WriteString("\nORDER BY ")
	sb.WriteString(st.orderBy(tsExprs, idExpr))
	tpl.SQL = sb.String()

	return tpl, nil
}

func (st *buildState) checkTable(t Table) error {
	if (t.Schema != "" && !schema.ValidIdentifier(t.Schema)) || !schema.ValidIdentifier(t.Name) {
		return dwerrors.New(dwerrors.ErrorTypeConfig, "invalid table identifier").
			WithDetail("target", st.target.Name).
			WithDetail("table", t.Schema+"."+t.Name)
	}
	return nil
}

func (st *buildState) qualified(t Table) string {
	d := st.b.dialect
	if t.Schema == "" {
		return d.Quote(t.Name)
	}
	return d.Quote(t.Schema) + "." + d.Quote(t.Name)
}

func (st *buildState) ref(alias, column string) string {
	return alias + "." + st.b.dialect.Quote(column)
}

// lookup returns the reference for the first candidate present on an active alias.
func (st *buildState) lookup(defaultAlias string, candidates []string) string {
	for _, c := range candidates {
		alias, col := splitCandidate(c, defaultAlias)
		if !st.active[alias] {
			continue
		}
		if st.known[alias].Columns.Has(col) {
			return st.ref(alias, col)
		}
	}
	return ""
}

func (st *buildState) resolve(m Mapping) string {
	var found []string
	if m.Coalesce {
		for _, c := range m.Candidates {
			if e := st.lookup(st.base, []string{c}); e != "" {
				found = append(found, e)
			}
		}
	} else if e := st.lookup(st.base, m.Candidates); e != "" {
		found = append(found, e)
	}
	if e := st.derive(m.Derived); e != "" {
		found = append(found, e)
	}
	return coalesce(found)
}

// derive renders a Derived expression, or "" when an operand is missing.
func (st *buildState) derive(d *Derived) string {
	if d == nil || len(d.Operands) < 2 {
		return ""
	}
	switch d.Op {
	case OpAdd, OpSub, OpMul:
	default:
		return ""
	}
	refs := make([]string, 0, len(d.Operands))
	for _, o := range d.Operands {
		e := st.lookup(st.base, []string{o})
		if e == "" {
			return ""
		}
		refs = append(refs, e)
	}
	return "(" + strings.Join(refs, " "+string(d.Op)+" ") + ")"
}

func (st *buildState) selectExpr(m Mapping, expr string) string {
	d := st.b.dialect
	switch {
	case expr == "" && m.Default != "":
		return d.Literal(m.Type, m.Default)
	case expr == "":
		return d.TypedNull(m.Type)
	case m.Default != "":
		return "COALESCE(" + expr + ", " + d.Literal(m.Type, m.Default) + ")"
	default:
		return expr
	}
}

// joins activates joins in declaration order and renders the active ones.
func (st *buildState) joins() ([]string, error) {
	var out []string
	for _, j := range st.target.Joins {
		parent := j.Parent
		if parent == "" {
			parent = st.base
		}
		tbl, ok := st.known[j.Alias]
		if !ok || !tbl.Exists() || !st.active[parent] {
			continue
		}
		if err := st.checkTable(tbl); err != nil {
			return nil, err
		}

		parentKey := st.lookup(parent, j.ParentKey)
		key := firstColumn(tbl.Columns, j.Key)
		if parentKey == "" || key == "" {
			continue
		}

		d := st.b.dialect
		switch j.Kind {
		case JoinMinChild:
			id := firstColumn(tbl.Columns, j.ID)
			if id == "" {
				continue
			}
			qt := st.qualified(tbl)
			out = append(out, "LEFT JOIN (\n"+
				"    SELECT c.* FROM "+qt+" c\n"+
				"    JOIN (SELECT "+d.Quote(key)+" AS parent_key, MIN("+d.Quote(id)+") AS min_id FROM "+qt+
				" GROUP BY "+d.Quote(key)+") m\n"+
				"      ON m.parent_key = c."+d.Quote(key)+" AND m.min_id = c."+d.Quote(id)+"\n"+
				") "+j.Alias+" ON "+st.ref(j.Alias, key)+" = "+parentKey)
		default:
			out = append(out, "LEFT JOIN "+st.qualified(tbl)+" "+j.Alias+" ON "+st.ref(j.Alias, key)+" = "+parentKey)
		}
		st.active[j.Alias] = true
	}
	return out, nil
}

func (st *buildState) orderBy(tsExprs []string, idExpr string) string {
	var parts []string
	if len(tsExprs) > 0 {
		sentinel := st.b.dialect.Literal(TypeTimestamp, SentinelTimestamp)
		parts = append(parts, "COALESCE("+strings.Join(tsExprs, ", ")+", "+sentinel+")")
	}
	if idExpr != "" {
		parts = append(parts, idExpr)
	}
	if len(parts) == 0 {
		return "1"
	}
	return strings.Join(parts, ", ")
}

func firstColumn(cols interface{ Has(string) bool }, candidates []string) string {
	for _, c := range candidates {
		if cols.Has(c) {
			return c
		}
	}
	return ""
}

func coalesce(exprs []string) string {
	switch len(exprs) {
	case 0:
		return ""
	case 1:
		return exprs[0]
	default:
		return "COALESCE(" + strings.Join(exprs, ", ") + ")"
	}
}
