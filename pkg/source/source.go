// Package source connects the warehouse to the OroCommerce database.
//
// A Source answers two questions: which columns does a table have (the
// schema.Prober capability) and what does a query return (Executor). Both
// PostgreSQL (pgx) and MySQL-compatible servers are supported; Memory is an
// in-process double for tests.
package source

import (
	"context"

	"github.com/ajitpratap0/orodw/pkg/config"
	"github.com/ajitpratap0/orodw/pkg/dwerrors"
	"github.com/ajitpratap0/orodw/pkg/frame"
	"github.com/ajitpratap0/orodw/pkg/query"
	"github.com/ajitpratap0/orodw/pkg/schema"
	"go.uber.org/zap"
)

// Executor runs a read-only query and materializes the whole result.
type Executor interface {
	Query(ctx context.Context, sql string, args ...any) (*frame.Frame, error)
}

// Source is a connected database.
type Source interface {
	schema.Prober
	Executor
	Dialect() query.Dialect
	Close() error
}

// Open connects to the database described by db.
func Open(ctx context.Context, db *config.Database, logger *zap.Logger) (Source, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if db.IsMySQL() {
		return NewMySQL(ctx, db, logger)
	}
	return NewPostgres(ctx, db.PostgresURL(), logger)
}

func queryError(err error, sql string) error {
	return dwerrors.Wrap(err, dwerrors.ErrorTypeQuery, "query failed").
		WithDetail("sql", firstLine(sql))
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i] + " ..."
		}
	}
	return s
}
