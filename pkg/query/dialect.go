package query

import (
	"fmt"
	"strings"
)

// SQLType is the declared type of a placeholder column.
type SQLType string

const (
	TypeBigint    SQLType = "bigint"
	TypeText      SQLType = "text"
	TypeNumeric   SQLType = "numeric"
	TypeTimestamp SQLType = "timestamp"
	TypeBoolean   SQLType = "boolean"
	TypeDate      SQLType = "date"
)

// SentinelTimestamp orders rows whose timestamp columns are all NULL first.
const SentinelTimestamp = "1900-01-01"

// Dialect renders the source-specific parts of a query.
type Dialect interface {
	Name() string
	// Quote quotes an identifier.
	Quote(ident string) string
	// Placeholder returns the n-th (1-based) bind parameter marker.
	Placeholder(n int) string
	// TypedNull returns a NULL literal carrying type t.
	TypedNull(t SQLType) string
	// Literal returns a string literal cast to type t.
	Literal(t SQLType, value string) string
}

// DialectFor returns the dialect registered for a driver name.
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "", "postgres", "postgresql", "pgx":
		return Postgres{}, nil
	case "mysql", "mariadb":
		return MySQL{}, nil
	default:
		return nil, fmt.Errorf("unsupported source driver: %s", driver)
	}
}

// Postgres is the PostgreSQL dialect.
type Postgres struct{}

func (Postgres) Name() string { return "postgres" }

func (Postgres) Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (Postgres) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (Postgres) TypedNull(t SQLType) string { return "NULL::" + string(t) }

func (Postgres) Literal(t SQLType, value string) string {
	return quoteString(value) + "::" + string(t)
}

// MySQL is the MySQL/MariaDB dialect.
type MySQL struct{}

func (MySQL) Name() string { return "mysql" }

func (MySQL) Quote(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

func (MySQL) Placeholder(int) string { return "?" }

func (m MySQL) TypedNull(t SQLType) string { return "CAST(NULL AS " + m.castType(t) + ")" }

func (m MySQL) Literal(t SQLType, value string) string {
	return "CAST(" + quoteString(value) + " AS " + m.castType(t) + ")"
}

func (MySQL) castType(t SQLType) string {
	switch t {
	case TypeBigint:
		return "SIGNED"
	case TypeNumeric:
		return "DECIMAL(38,10)"
	case TypeTimestamp:
		return "DATETIME"
	case TypeDate:
		return "DATE"
	case TypeBoolean:
		return "UNSIGNED"
	default:
		return "CHAR"
	}
}

func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
