package source

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/ajitpratap0/orodw/pkg/config"
	"github.com/ajitpratap0/orodw/pkg/dwerrors"
	"github.com/ajitpratap0/orodw/pkg/frame"
	"github.com/ajitpratap0/orodw/pkg/query"
	"github.com/go-sql-driver/mysql"
	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"
)

const mysqlColumnsQuery = `SELECT column_name
FROM information_schema.columns
WHERE table_schema = ? AND table_name = ?
ORDER BY ordinal_position`

// MySQL reads from a MySQL or MariaDB server. Schemas are databases.
type MySQL struct {
	db     *sql.DB
	logger *zap.Logger
}

// MySQLDSN renders db as a go-sql-driver DSN with time parsing enabled.
func MySQLDSN(db *config.Database) string {
	c := mysql.NewConfig()
	c.Net = "tcp"
	c.Addr = db.Addr()
	c.User = db.User
	c.Passwd = db.Pass
	c.DBName = db.Name
	c.ParseTime = true
	c.Loc = time.UTC
	return c.FormatDSN()
}

// NewMySQL opens and pings the server.
func NewMySQL(ctx context.Context, db *config.Database, logger *zap.Logger) (*MySQL, error) {
	conn, err := sql.Open("mysql", MySQLDSN(db))
	if err != nil {
		return nil, dwerrors.Wrap(err, dwerrors.ErrorTypeConfig, "failed to open MySQL connection")
	}
	conn.SetMaxOpenConns(4)
	conn.SetConnMaxLifetime(time.Hour)
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, dwerrors.Wrap(err, dwerrors.ErrorTypeConnection, "failed to validate connection")
	}
	logger.Info("connected to MySQL", zap.String("component", "source"), zap.String("addr", db.Addr()))
	return NewMySQLFromDB(conn, logger), nil
}

// NewMySQLFromDB wraps an open handle.
func NewMySQLFromDB(db *sql.DB, logger *zap.Logger) *MySQL {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MySQL{db: db, logger: logger}
}

// Dialect implements Source.
func (m *MySQL) Dialect() query.Dialect {
	return query.MySQL{}
}

// ColumnsOf implements schema.Prober.
func (m *MySQL) ColumnsOf(ctx context.Context, schemaName, table string) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, mysqlColumnsQuery, schemaName, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}

// Query implements Executor.
func (m *MySQL) Query(ctx context.Context, sqlText string, args ...any) (*frame.Frame, error) {
	rows, err := m.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, queryError(err, sqlText)
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, queryError(err, sqlText)
	}
	cols := make([]frame.Column, len(types))
	for i, ct := range types {
		cols[i] = frame.Column{Name: ct.Name(), Type: mysqlFrameType(strings.ToUpper(ct.DatabaseTypeName()))}
	}
	f := frame.New(cols...)

	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, dwerrors.Wrap(err, dwerrors.ErrorTypeData, "failed to scan row")
		}
		for i, v := range raw {
			raw[i] = convertMySQLValue(v, cols[i].Type)
		}
		f.Rows = append(f.Rows, raw)
	}
	if err := rows.Err(); err != nil {
		return nil, queryError(err, sqlText)
	}
	return f, nil
}

// Close closes the handle.
func (m *MySQL) Close() error {
	return m.db.Close()
}

func mysqlFrameType(dbType string) frame.Type {
	switch strings.TrimPrefix(dbType, "UNSIGNED ") {
	case "TINYINT", "SMALLINT", "MEDIUMINT", "INT", "INTEGER", "BIGINT", "YEAR":
		return frame.TypeInt
	case "DECIMAL":
		return frame.TypeDecimal
	case "FLOAT", "DOUBLE":
		return frame.TypeFloat
	case "DATETIME", "TIMESTAMP":
		return frame.TypeTimestamp
	case "DATE":
		return frame.TypeDate
	case "BIT", "BOOL", "BOOLEAN":
		return frame.TypeBool
	case "JSON":
		return frame.TypeJSON
	case "CHAR", "VARCHAR", "TEXT", "TINYTEXT", "MEDIUMTEXT", "LONGTEXT", "ENUM", "SET":
		return frame.TypeString
	default:
		return frame.TypeUnknown
	}
}

// convertMySQLValue decodes the text protocol's byte slices into typed values.
func convertMySQLValue(value any, t frame.Type) any {
	b, ok := value.([]byte)
	if !ok {
		return value
	}
	s := string(b)
	switch t {
	case frame.TypeInt:
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
	case frame.TypeFloat:
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return n
		}
	case frame.TypeDecimal:
		return frame.Decimal(s)
	case frame.TypeBool:
		return s == "1" || s == "\x01"
	case frame.TypeJSON:
		var doc any
		if err := gojson.Unmarshal(b, &doc); err == nil {
			return doc
		}
	}
	return s
}
