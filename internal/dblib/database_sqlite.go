package dblib

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
)

type SQLiteHandler struct{}

func (h *SQLiteHandler) ListTables(ctx context.Context, db *sql.DB) ([]string, error) {
	return scanStrings(db.QueryContext(ctx, `SELECT name FROM sqlite_master
		WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%'
		ORDER BY name`))
}

// PrimaryKey uses PRAGMA table_info, whose pk column holds the 1-based
// position of the column in the primary key.
func (h *SQLiteHandler) PrimaryKey(ctx context.Context, db *sql.DB, table TableIdentity) ([]string, error) {
	pragma := "PRAGMA table_info(" + quoteSegment(DoubleQuote, table.Name) + ")"
	if table.Schema != "" {
		pragma = "PRAGMA " + quoteSegment(DoubleQuote, table.Schema) + ".table_info(" + quoteSegment(DoubleQuote, table.Name) + ")"
	}
	rows, err := db.QueryContext(ctx, pragma)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type pkEntry struct {
		ord  int
		name string
	}
	var pkEntries []pkEntry
	seen := false
	for rows.Next() {
		seen = true
		var cid, notNull, pk int
		var name, ctype string
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		if pk > 0 {
			pkEntries = append(pkEntries, pkEntry{ord: pk, name: name})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if !seen {
		return nil, fmt.Errorf("no such table: %s", table)
	}
	sort.Slice(pkEntries, func(i, j int) bool { return pkEntries[i].ord < pkEntries[j].ord })
	pkCols := make([]string, 0, len(pkEntries))
	for _, e := range pkEntries {
		pkCols = append(pkCols, e.name)
	}
	return pkCols, nil
}
