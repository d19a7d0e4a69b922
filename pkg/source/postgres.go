package source

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ajitpratap0/orodw/pkg/dwerrors"
	"github.com/ajitpratap0/orodw/pkg/frame"
	"github.com/ajitpratap0/orodw/pkg/query"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const columnsQuery = `SELECT column_name
FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2
ORDER BY ordinal_position`

// Postgres reads from PostgreSQL through a pgx pool.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgres creates the pool and checks the connection.
func NewPostgres(ctx context.Context, dsn string, logger *zap.Logger) (*Postgres, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, dwerrors.Wrap(err, dwerrors.ErrorTypeConfig, "failed to parse connection string")
	}
	// Targets run one at a time; a second connection serves the metadata probes.
	poolConfig.MaxConns = 4
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, dwerrors.Wrap(err, dwerrors.ErrorTypeConnection, "failed to create connection pool")
	}

	var version string
	if err := pool.QueryRow(ctx, "SELECT version()").Scan(&version); err != nil {
		pool.Close()
		return nil, dwerrors.Wrap(err, dwerrors.ErrorTypeConnection, "failed to validate connection")
	}

	logger.Info("connected to PostgreSQL",
		zap.String("component", "source"),
		zap.String("version", version),
		zap.Int32("max_connections", poolConfig.MaxConns))

	return &Postgres{pool: pool, logger: logger}, nil
}

// Pool exposes the pool to components that need transactions.
func (p *Postgres) Pool() *pgxpool.Pool {
	return p.pool
}

// Dialect implements Source.
func (p *Postgres) Dialect() query.Dialect {
	return query.Postgres{}
}

// ColumnsOf implements schema.Prober.
func (p *Postgres) ColumnsOf(ctx context.Context, schemaName, table string) ([]string, error) {
	rows, err := p.pool.Query(ctx, columnsQuery, schemaName, table)
	if err != nil {
		return nil, err
	}
	cols, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	return cols, nil
}

// Query implements Executor.
func (p *Postgres) Query(ctx context.Context, sql string, args ...any) (*frame.Frame, error) {
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, queryError(err, sql)
	}
	defer rows.Close()

	fds := rows.FieldDescriptions()
	cols := make([]frame.Column, len(fds))
	for i, fd := range fds {
		cols[i] = frame.Column{Name: fd.Name, Type: pgFrameType(fd.DataTypeOID)}
	}
	f := frame.New(cols...)

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, dwerrors.Wrap(err, dwerrors.ErrorTypeData, "failed to get row values")
		}
		for i, v := range values {
			values[i] = convertPostgresValue(v)
		}
		f.Rows = append(f.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, queryError(err, sql)
	}
	return f, nil
}

// Close releases the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func pgFrameType(oid uint32) frame.Type {
	switch oid {
	case pgtype.Int2OID, pgtype.Int4OID, pgtype.Int8OID:
		return frame.TypeInt
	case pgtype.Float4OID, pgtype.Float8OID:
		return frame.TypeFloat
	case pgtype.NumericOID:
		return frame.TypeDecimal
	case pgtype.BoolOID:
		return frame.TypeBool
	case pgtype.TimestampOID, pgtype.TimestamptzOID:
		return frame.TypeTimestamp
	case pgtype.DateOID:
		return frame.TypeDate
	case pgtype.TextOID, pgtype.VarcharOID, pgtype.BPCharOID, pgtype.UUIDOID, pgtype.NameOID:
		return frame.TypeString
	default:
		// json, arrays and extension types are classified from their values.
		return frame.TypeUnknown
	}
}

// convertPostgresValue normalizes pgx values to the frame's value set.
func convertPostgresValue(value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case time.Time:
		return v
	case []byte:
		return string(v)
	case pgtype.Numeric:
		return numericDecimal(v)
	case [16]byte:
		return fmt.Sprintf("%x-%x-%x-%x-%x", v[0:4], v[4:6], v[6:8], v[8:10], v[10:16])
	case pgtype.Interval:
		if !v.Valid {
			return nil
		}
		iv, _ := v.Value()
		return iv
	case fmt.Stringer:
		return v.String()
	default:
		return v
	}
}

// numericDecimal renders a NUMERIC exactly. NULL, NaN and infinities have no
// decimal form and become nil.
func numericDecimal(n pgtype.Numeric) any {
	if !n.Valid || n.NaN || n.InfinityModifier != pgtype.Finite || n.Int == nil {
		return nil
	}
	digits := new(big.Int).Abs(n.Int).String()
	switch {
	case n.Exp >= 0:
		digits += strings.Repeat("0", int(n.Exp))
	default:
		scale := int(-n.Exp)
		if len(digits) <= scale {
			digits = strings.Repeat("0", scale-len(digits)+1) + digits
		}
		digits = digits[:len(digits)-scale] + "." + digits[len(digits)-scale:]
	}
	if n.Int.Sign() < 0 {
		digits = "-" + digits
	}
	return frame.Decimal(digits)
}
