package dblib

import (
	"context"
	"database/sql"
)

type PostgresHandler struct{}

// ListTables returns tables and views in the search path's first schema.
func (h *PostgresHandler) ListTables(ctx context.Context, db *sql.DB) ([]string, error) {
	return scanStrings(db.QueryContext(ctx, `SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = current_schema()
		ORDER BY table_name`))
}

// PrimaryKey reads the primary key from pg_index. An empty schema means
// current_schema().
func (h *PostgresHandler) PrimaryKey(ctx context.Context, db *sql.DB, table TableIdentity) ([]string, error) {
	return scanStrings(db.QueryContext(ctx, `SELECT a.attname
		FROM pg_index i
		JOIN pg_class c ON c.oid = i.indrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		JOIN LATERAL unnest(i.indkey) WITH ORDINALITY AS k(attnum, ord) ON TRUE
		JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = k.attnum
		WHERE c.relname = $1
		  AND n.nspname = COALESCE(NULLIF($2, ''), current_schema())
		  AND i.indisprimary
		ORDER BY k.ord`, table.Name, table.Schema))
}
