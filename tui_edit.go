package main

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"gred/internal/dblib"
	"gred/internal/grid"
)

// editableColumn is the name of the focused column. A column repeating an
// earlier column's name is refused, since edits address columns by name.
func (m *Model) editableColumn() (string, bool) {
	col, ok := m.focusColumn()
	if m.session == nil || !ok {
		return "", false
	}
	if m.session.DuplicateColumn(m.focusCol) {
		m.Error(fmt.Errorf("%s: %w", col, grid.ErrDuplicateColumn))
		return "", false
	}
	return col, true
}

func (m *Model) enterEditMode() {
	if m.rowCount() == 0 {
		return
	}
	col, ok := m.editableColumn()
	if !ok {
		return
	}
	if _, err := m.session.Table(); err != nil {
		m.Error(err)
		return
	}
	if m.session.State(m.focusRow, col) == grid.Submitting {
		m.Status("Cell is being saved")
	}

	text := ""
	if v, _ := m.session.ValueAt(m.focusRow, m.focusCol); v != nil {
		text = dblib.DisplayValue(v)
	}
	m.mode = modeEdit
	m.input.Prompt = ""
	m.input.SetValue(text)
	m.input.CursorEnd()
	m.input.Focus()
}

func (m *Model) exitEditMode() {
	m.mode = modeGrid
	m.input.Blur()
	m.input.SetValue("")
}

func (m *Model) handleEditingKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.exitEditMode()
		return m, nil

	case "enter":
		value := grid.ParseInput(m.input.Value())
		m.exitEditMode()
		m.updateCell(value)
		return m, nil

	case "ctrl+n":
		m.exitEditMode()
		m.updateCell(nil)
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) setFocusNull() {
	m.updateCell(nil)
}

// updateCell submits value for the focused cell.
func (m *Model) updateCell(value any) {
	if m.rowCount() == 0 {
		return
	}
	col, ok := m.editableColumn()
	if !ok {
		return
	}
	edit, err := m.session.Edit(m.focusRow, col, value)
	if err != nil {
		m.Error(err)
		return
	}
	if edit == nil {
		m.Status("Unchanged")
		return
	}
	table, _ := m.session.Table()
	breadcrumbs.RecordDatabase(BreadcrumbEdit, table.String(), col)
	m.Status("Saving " + col + "...")
}
