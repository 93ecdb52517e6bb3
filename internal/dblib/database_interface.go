package dblib

import (
	"context"
	"database/sql"
	"fmt"
)

// DatabaseHandler holds the catalog queries that differ per database. The
// grid itself never needs them; they feed the table picker and the
// duplicate-row warning on the status line.
type DatabaseHandler interface {
	// ListTables returns the tables and views visible in the current schema.
	ListTables(ctx context.Context, db *sql.DB) ([]string, error)

	// PrimaryKey returns the primary key columns of table in key order, or
	// an empty slice when the table has none. Rows of a table without a
	// primary key may be indistinguishable, in which case a synthesized
	// statement affects every duplicate.
	PrimaryKey(ctx context.Context, db *sql.DB, table TableIdentity) ([]string, error)
}

// NewDatabaseHandler creates a DatabaseHandler for the given database type.
func NewDatabaseHandler(dbType DatabaseType) (DatabaseHandler, error) {
	switch dbType {
	case MySQL:
		return &MySQLHandler{}, nil
	case PostgreSQL:
		return &PostgresHandler{}, nil
	case SQLite:
		return &SQLiteHandler{}, nil
	default:
		return nil, fmt.Errorf("unsupported database type: %v", dbType)
	}
}

// scanStrings collects the first column of every row.
func scanStrings(rows *sql.Rows, err error) ([]string, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
