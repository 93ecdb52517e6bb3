package dblib

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// ErrStopped is returned when a stop request is seen at a batch boundary.
var ErrStopped = errors.New("operation stopped")

// ConnSpec is everything a worker needs to open its own connection.
type ConnSpec struct {
	Type DatabaseType
	DSN  string
}

// Open opens a dedicated single-connection handle for spec and pings it.
// The caller owns the returned *sql.DB and must close it.
func Open(ctx context.Context, spec ConnSpec) (*sql.DB, error) {
	driver := spec.Type.DriverName()
	if driver == "" {
		return nil, fmt.Errorf("unsupported database type %v", spec.Type)
	}
	dsn, err := driverDSN(spec)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// mysqlSQLMode keeps the server's sql_mode and stops it reading backslashes
// in string literals as escapes, so literals from FormatLiteral mean the
// same on MySQL as on SQLite and PostgreSQL.
const mysqlSQLMode = "CONCAT(@@sql_mode, ',NO_BACKSLASH_ESCAPES')"

// driverDSN is the DSN handed to the driver. MySQL sessions get
// mysqlSQLMode unless the DSN already sets sql_mode.
func driverDSN(spec ConnSpec) (string, error) {
	if spec.Type != MySQL {
		return spec.DSN, nil
	}
	cfg, err := mysql.ParseDSN(spec.DSN)
	if err != nil {
		return "", fmt.Errorf("invalid mysql dsn: %w", err)
	}
	if _, ok := cfg.Params["sql_mode"]; ok {
		return spec.DSN, nil
	}
	if cfg.Params == nil {
		cfg.Params = make(map[string]string)
	}
	cfg.Params["sql_mode"] = mysqlSQLMode
	return cfg.FormatDSN(), nil
}

// Query runs a row-returning statement and snapshots every row. stopped is
// polled between rows; when it reports true, Query returns ErrStopped.
func Query(ctx context.Context, db *sql.DB, query string, stopped func() bool) ([]string, []RowSnapshot, error) {
	log := zerolog.Ctx(ctx)
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, &ExecutionError{Statement: query, Err: err}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}
	var out []RowSnapshot
	for rows.Next() {
		if stopped != nil && stopped() {
			return nil, nil, ErrStopped
		}
		values := make([]any, len(columns))
		scanArgs := make([]any, len(columns))
		for i := range values {
			scanArgs[i] = &values[i]
		}
		if err := rows.Scan(scanArgs...); err != nil {
			return nil, nil, fmt.Errorf("scan failed: %w", err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		out = append(out, RowSnapshot{columns: columns, values: values})
	}
	if err := rows.Err(); err != nil {
		return nil, nil, &ExecutionError{Statement: query, Err: err}
	}
	log.Debug().Str("op", "query").Int("rows", len(out)).Msg("query finished")
	return columns, out, nil
}

// StatementResult is the outcome of one statement run by ExecStatements.
type StatementResult struct {
	SQL          string
	RowsAffected int64
	Err          error
}

// ExecStatements runs stmts in order on db, each in its own autocommit.
// A failing statement does not stop the ones after it. stopped is checked
// before each statement; once it reports true no further statement is
// started and ErrStopped is returned with the results gathered so far.
func ExecStatements(ctx context.Context, db *sql.DB, stmts []string, stopped func() bool) ([]StatementResult, error) {
	log := zerolog.Ctx(ctx)
	results := make([]StatementResult, 0, len(stmts))
	for _, stmt := range stmts {
		if stopped != nil && stopped() {
			return results, ErrStopped
		}
		res := StatementResult{SQL: stmt}
		r, err := db.ExecContext(ctx, stmt)
		if err == nil {
			res.RowsAffected, err = r.RowsAffected()
		}
		if err != nil {
			res.Err = &ExecutionError{Statement: stmt, Err: err}
			log.Debug().Str("op", "exec").Str("sql", stmt).Err(err).Msg("statement failed")
		} else {
			log.Debug().Str("op", "exec").Str("sql", stmt).Int64("rows_affected", res.RowsAffected).Msg("statement done")
		}
		results = append(results, res)
	}
	return results, nil
}

// CountMatches counts the rows the predicates of snap select in table.
func CountMatches(ctx context.Context, db *sql.DB, d Dialect, table TableIdentity, snap RowSnapshot) (int64, error) {
	q, err := BuildCount(d, table, snap)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := db.QueryRowContext(ctx, q).Scan(&n); err != nil {
		return 0, &ExecutionError{Statement: q, Err: err}
	}
	return n, nil
}

// ProbeUnique fails with an *AmbiguityError when the predicates of snap
// match more than one row.
func ProbeUnique(ctx context.Context, db *sql.DB, d Dialect, table TableIdentity, snap RowSnapshot) error {
	n, err := CountMatches(ctx, db, d, table, snap)
	if err != nil {
		return err
	}
	if n > 1 {
		q, _ := BuildCount(d, table, snap)
		return &AmbiguityError{Statement: q, Matches: n}
	}
	return nil
}
