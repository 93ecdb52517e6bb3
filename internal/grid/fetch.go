package grid

import (
	"context"
	"errors"

	"gred/internal/dblib"
)

// QueryResult is the outcome of Fetch.
type QueryResult struct {
	// SQL is the statement whose rows are in Rows; empty when the script
	// held no query.
	SQL      string
	Columns  []string
	Rows     []dblib.RowSnapshot
	Executed []dblib.StatementResult
}

// Affected sums RowsAffected over the non-query statements.
func (r QueryResult) Affected() int64 {
	var n int64
	for _, e := range r.Executed {
		n += e.RowsAffected
	}
	return n
}

// Fetch runs script on its own connection. Statements run in order; the
// rows of the last row-returning statement are kept. The first failing
// statement ends the script.
func Fetch(ctx context.Context, conn dblib.ConnSpec, script string, tok *Token) (QueryResult, error) {
	var res QueryResult
	stmts := dblib.SplitStatements(script)
	if len(stmts) == 0 {
		return res, errors.New("nothing to run")
	}
	db, err := dblib.Open(ctx, conn)
	if err != nil {
		return res, err
	}
	defer db.Close()

	for _, stmt := range stmts {
		if tok.Stopped() {
			return res, dblib.ErrStopped
		}
		if dblib.IsQueryStatement(stmt) {
			cols, rows, err := dblib.Query(ctx, db, stmt, tok.Stopped)
			if err != nil {
				return res, err
			}
			res.SQL, res.Columns, res.Rows = stmt, cols, rows
			continue
		}
		out, err := dblib.ExecStatements(ctx, db, []string{stmt}, tok.Stopped)
		if err != nil {
			return res, err
		}
		res.Executed = append(res.Executed, out[0])
		if out[0].Err != nil {
			return res, out[0].Err
		}
	}
	return res, nil
}
