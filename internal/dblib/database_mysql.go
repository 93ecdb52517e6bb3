package dblib

import (
	"context"
	"database/sql"
)

type MySQLHandler struct{}

func (h *MySQLHandler) ListTables(ctx context.Context, db *sql.DB) ([]string, error) {
	return scanStrings(db.QueryContext(ctx, `SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = DATABASE()
		ORDER BY table_name`))
}

// PrimaryKey reads key_column_usage. An empty schema means DATABASE().
func (h *MySQLHandler) PrimaryKey(ctx context.Context, db *sql.DB, table TableIdentity) ([]string, error) {
	return scanStrings(db.QueryContext(ctx, `SELECT column_name
		FROM information_schema.key_column_usage
		WHERE table_name = ?
		  AND table_schema = COALESCE(NULLIF(?, ''), DATABASE())
		  AND constraint_name = 'PRIMARY'
		ORDER BY ordinal_position`, table.Name, table.Schema))
}
