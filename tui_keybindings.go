package main

import (
	tea "github.com/charmbracelet/bubbletea"

	"gred/internal/grid"
)

const pageSize = 10

func (m *Model) handleNavigationKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key != "q" {
		m.errorMsg = ""
	}

	switch key {
	case "q":
		return m, m.quit()

	case "up", "k":
		m.focusRow--
	case "down", "j":
		m.focusRow++
	case "left", "h":
		m.focusCol--
	case "right", "l":
		m.focusCol++
	case "home":
		m.focusCol = 0
	case "end":
		m.focusCol = len(m.columns()) - 1
	case "pgup":
		m.focusRow -= pageSize
	case "pgdown":
		m.focusRow += pageSize
	case "g":
		m.focusRow = 0
	case "G":
		m.focusRow = m.rowCount() - 1

	case "tab":
		m.focusCol++
		if m.focusCol >= len(m.columns()) {
			m.focusCol = 0
			m.focusRow++
		}
	case "shift+tab":
		m.focusCol--
		if m.focusCol < 0 {
			m.focusCol = len(m.columns()) - 1
			m.focusRow--
		}

	case "enter", "e":
		m.enterEditMode()
	case "ctrl+n":
		m.setFocusNull()
	case "u":
		m.revertFocus()
	case "r":
		m.retryFocus()

	case " ":
		m.toggleMark()
	case "esc":
		m.marked = make(map[int]bool)
	case "d":
		m.confirmDelete([]int{m.focusRow})
	case "D":
		m.confirmDelete(m.markedRows())

	case ":":
		m.openPrompt(modeSQL, "SQL> ", m.query)
	case "ctrl+e":
		m.openPrompt(modeExport, "Export to> ", m.defaultExportPath())
	case "ctrl+r", "f5":
		m.refresh()
	case "ctrl+t":
		m.openPicker()
	}

	m.clampFocus()
	return m, nil
}

func (m *Model) toggleMark() {
	if m.rowCount() == 0 {
		return
	}
	if m.marked[m.focusRow] {
		delete(m.marked, m.focusRow)
	} else {
		m.marked[m.focusRow] = true
	}
	m.focusRow++
}

func (m *Model) markedRows() []int {
	rows := make([]int, 0, len(m.marked))
	for r := range m.marked {
		rows = append(rows, r)
	}
	return rows
}

func (m *Model) revertFocus() {
	col, ok := m.editableColumn()
	if !ok {
		return
	}
	if err := m.session.Revert(m.focusRow, col); err != nil {
		m.Error(err)
		return
	}
	m.Status("Reverted")
}

func (m *Model) retryFocus() {
	col, ok := m.editableColumn()
	if !ok {
		return
	}
	if m.session.State(m.focusRow, col) != grid.Dirty {
		m.Status("Nothing to retry")
		return
	}
	if err := m.session.Retry(m.focusRow, col); err != nil {
		m.Error(err)
	}
}
