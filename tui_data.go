package main

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"gred/internal/dblib"
	"gred/internal/grid"
)

// postedMsg carries a job completion onto the UI goroutine.
type postedMsg func()

// programDispatcher posts runner completions into the bubbletea event loop.
type programDispatcher struct {
	program *tea.Program
}

func (d *programDispatcher) Post(fn func()) {
	d.program.Send(postedMsg(fn))
}

const queryJobKey = "query"

// loadedResult is what a query job hands back to the UI.
type loadedResult struct {
	grid.QueryResult
	noKey   bool
	sources []string
	elapsed time.Duration
}

// runQuery fetches script in the background and replaces the grid with its
// last result set. A script with no query only reports what it changed.
func (m *Model) runQuery(script string) {
	if m.session != nil && m.session.Busy() {
		m.Error(grid.ErrBusy)
		return
	}
	m.loading = true
	m.errorMsg = ""
	breadcrumbs.RecordDatabase(BreadcrumbQuery, m.dbName, script)

	conn, handler := m.conn, m.handler
	var res loadedResult
	work := func(ctx context.Context, tok *grid.Token) error {
		start := time.Now()
		qr, err := grid.Fetch(ctx, conn, script, tok)
		res.QueryResult = qr
		res.elapsed = time.Since(start)
		if err != nil || qr.SQL == "" {
			return err
		}
		res.sources, _ = dblib.SourceTables(qr.SQL)
		if t, ok := dblib.Resolve(qr.SQL); ok && handler != nil {
			res.noKey = !hasPrimaryKey(ctx, conn, handler, t)
		}
		return nil
	}
	m.runner.Start(queryJobKey, work, func(err error) {
		m.loading = false
		if err != nil {
			m.Error(err)
			return
		}
		m.applyResult(script, res)
	})
}

func hasPrimaryKey(ctx context.Context, conn dblib.ConnSpec, handler dblib.DatabaseHandler, t dblib.TableIdentity) bool {
	db, err := dblib.Open(ctx, conn)
	if err != nil {
		return true
	}
	defer db.Close()
	cols, err := handler.PrimaryKey(ctx, db, t)
	return err != nil || len(cols) > 0
}

func (m *Model) applyResult(script string, res loadedResult) {
	if res.SQL == "" {
		m.Status(fmt.Sprintf("%d statement(s), %d row(s) affected", len(res.Executed), res.Affected()))
		return
	}

	if m.session != nil {
		m.session.Close()
	}
	m.query = script
	m.session = grid.NewSession(res.SQL, res.Columns, res.Rows, grid.Deps{
		Conn:     m.conn,
		Runner:   m.runner,
		Notifier: m,
		Log:      m.log,
	}, m.settings.SessionOptions(m.conn.Type))
	m.marked = make(map[int]bool)
	m.pendingDelete = nil
	m.focusRow, m.scrollRow = 0, 0
	m.clampFocus()

	m.readOnly = ""
	if _, err := m.session.Table(); err != nil {
		m.readOnly = "table unknown"
		if len(res.sources) > 1 {
			m.readOnly = fmt.Sprintf("%d source tables", len(res.sources))
		}
	}

	status := fmt.Sprintf("%d row(s) in %s", len(res.Rows), res.elapsed.Round(time.Millisecond))
	if res.noKey {
		status += " | no primary key: duplicate rows change together"
	}
	m.Status(status)
}

// refresh re-runs the current query.
func (m *Model) refresh() {
	if m.query == "" {
		return
	}
	m.runQuery(m.query)
}
