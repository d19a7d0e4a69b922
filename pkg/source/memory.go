package source

import (
	"context"
	"strings"
	"sync"

	"github.com/ajitpratap0/orodw/pkg/dwerrors"
	"github.com/ajitpratap0/orodw/pkg/frame"
	"github.com/ajitpratap0/orodw/pkg/query"
	"github.com/ajitpratap0/orodw/pkg/schema"
)

// Responder produces the result of a query from its bound arguments.
type Responder func(args []any) (*frame.Frame, error)

// Call records one executed query.
type Call struct {
	SQL  string
	Args []any
}

type rule struct {
	match   string
	respond Responder
}

// Memory is an in-process Source. Metadata comes from a schema.Static and
// queries are answered by the first rule whose match string occurs in the SQL.
type Memory struct {
	schema.Static
	dialect query.Dialect

	mu    sync.Mutex
	rules []rule
	calls []Call
}

// NewMemory creates a Postgres-flavoured double over tables.
func NewMemory(tables schema.Static) *Memory {
	return &Memory{Static: tables, dialect: query.Postgres{}}
}

// WithDialect switches the dialect reported to the query builder.
func (m *Memory) WithDialect(d query.Dialect) *Memory {
	m.dialect = d
	return m
}

// On answers queries containing match with a copy of f.
func (m *Memory) On(match string, f *frame.Frame) *Memory {
	return m.OnFunc(match, func([]any) (*frame.Frame, error) { return f.Clone(), nil })
}

// OnFunc answers queries containing match with fn.
func (m *Memory) OnFunc(match string, fn Responder) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, rule{match: match, respond: fn})
	return m
}

// Fail makes queries containing match return err.
func (m *Memory) Fail(match string, err error) *Memory {
	return m.OnFunc(match, func([]any) (*frame.Frame, error) { return nil, err })
}

// Calls returns the queries executed so far.
func (m *Memory) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// Dialect implements Source.
func (m *Memory) Dialect() query.Dialect {
	return m.dialect
}

// Query implements Executor.
func (m *Memory) Query(_ context.Context, sql string, args ...any) (*frame.Frame, error) {
	m.mu.Lock()
	m.calls = append(m.calls, Call{SQL: sql, Args: args})
	rules := m.rules
	m.mu.Unlock()

	for _, r := range rules {
		if strings.Contains(sql, r.match) {
			f, err := r.respond(args)
			if err != nil {
				return nil, queryError(err, sql)
			}
			return f, nil
		}
	}
	return nil, dwerrors.New(dwerrors.ErrorTypeQuery, "no response registered").
		WithDetail("sql", firstLine(sql))
}

// Close implements Source.
func (m *Memory) Close() error {
	return nil
}
