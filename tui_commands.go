package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"gred/internal/dblib"
	"gred/internal/grid"
)

const exportJobKey = "export"

func (m *Model) openPrompt(mode inputMode, prompt, initial string) {
	m.mode = mode
	m.input.Prompt = prompt
	m.input.SetValue(initial)
	m.input.CursorEnd()
	m.input.Focus()
}

func (m *Model) closePrompt() {
	m.mode = modeGrid
	m.input.Blur()
	m.input.SetValue("")
	m.input.Prompt = ""
}

func (m *Model) handlePromptKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.closePrompt()
		return m, nil
	case "enter":
		mode, text := m.mode, strings.TrimSpace(m.input.Value())
		m.closePrompt()
		if text == "" {
			return m, nil
		}
		if mode == modeSQL {
			m.executeSQL(text)
		} else {
			m.export(text)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// executeSQL runs a statement or script typed at the prompt.
func (m *Model) executeSQL(script string) {
	for _, stmt := range dblib.SplitStatements(script) {
		if isTransactionControl(stmt) {
			m.Error(fmt.Errorf("transactions are not supported"))
			return
		}
	}
	m.runQuery(script)
}

// isTransactionControl reports statements that only make sense on one
// connection, which a background job never keeps.
func isTransactionControl(stmt string) bool {
	fields := strings.Fields(strings.ToUpper(stmt))
	if len(fields) == 0 {
		return false
	}
	switch fields[0] {
	case "BEGIN", "COMMIT", "ROLLBACK", "SAVEPOINT", "RELEASE":
		return true
	case "START":
		return len(fields) > 1 && fields[1] == "TRANSACTION"
	}
	return false
}

func (m *Model) confirmDelete(rows []int) {
	if m.session == nil || m.rowCount() == 0 || len(rows) == 0 {
		return
	}
	if _, err := m.session.Table(); err != nil {
		m.Error(err)
		return
	}
	if m.session.Busy() {
		m.Error(grid.ErrBusy)
		return
	}
	m.pendingDelete = rows
	m.mode = modeConfirmDelete
}

func (m *Model) handleConfirmKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	rows := m.pendingDelete
	m.pendingDelete = nil
	m.mode = modeGrid

	if msg.String() != "y" && msg.String() != "Y" {
		m.Status("Delete cancelled")
		return m, nil
	}
	if err := m.session.DeleteRows(rows); err != nil {
		m.Error(err)
		return m, nil
	}
	table, _ := m.session.Table()
	breadcrumbs.RecordDatabase(BreadcrumbDelete, table.String(), fmt.Sprintf("%d rows", len(rows)))
	m.marked = make(map[int]bool)
	m.Status(fmt.Sprintf("Deleting %d row(s)...", len(rows)))
	return m, nil
}

func (m *Model) defaultExportPath() string {
	name := "export"
	if m.session != nil {
		if t, err := m.session.Table(); err == nil {
			name = t.Name
		}
	}
	return name + ".csv"
}

// export writes the loaded rows to path, as XLSX when path ends in .xlsx and
// CSV otherwise.
func (m *Model) export(path string) {
	if m.session == nil {
		return
	}
	columns, rows := m.session.Columns(), m.session.Rows()
	dispatch := m.dispatch
	sheet := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	breadcrumbs.RecordDatabase(BreadcrumbExport, m.defaultExportPath(), "")

	progress := func(n int) {
		dispatch.Post(func() {
			m.Status(fmt.Sprintf("Exported %d/%d rows...", n, len(rows)))
		})
	}
	work := func(ctx context.Context, tok *grid.Token) error {
		return writeExport(path, sheet, columns, rows, tok, progress)
	}
	m.Status("Exporting...")
	m.runner.Start(exportJobKey, work, func(err error) {
		if err != nil {
			m.Error(err)
			return
		}
		m.Status(fmt.Sprintf("Exported %d rows to %s", len(rows), path))
	})
}

func writeExport(path, sheet string, columns []string, rows []dblib.RowSnapshot, tok *grid.Token, progress grid.Progress) error {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return grid.ExportXLSX(path, sheet, columns, rows, tok, progress)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := grid.ExportCSV(f, columns, rows, tok, progress); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
