package main

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"gred/internal/dblib"
	"gred/internal/grid"
)

const tablesJobKey = "tables"

// fuzzyMatch reports whether the characters of search appear in text in
// order, ignoring case, and where they matched.
func fuzzyMatch(search, text string) (bool, []int) {
	search = strings.ToLower(search)
	text = strings.ToLower(text)

	var positions []int
	searchRunes := []rune(search)
	searchIdx := 0

	for i, char := range []rune(text) {
		if searchIdx < len(searchRunes) && char == searchRunes[searchIdx] {
			positions = append(positions, i)
			searchIdx++
		}
	}

	return searchIdx == len(searchRunes), positions
}

func isPrefixMatch(search, text string) bool {
	return strings.HasPrefix(strings.ToLower(text), strings.ToLower(search))
}

var matchStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)

func formatTableNameWithColor(table string, positions []int) string {
	if len(positions) == 0 {
		return table
	}
	hit := make(map[int]bool, len(positions))
	for _, p := range positions {
		hit[p] = true
	}
	var b strings.Builder
	for i, r := range []rune(table) {
		if hit[i] {
			b.WriteString(matchStyle.Render(string(r)))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// cleanTableNames removes newlines and whitespace from table names
func cleanTableNames(tables []string) []string {
	cleaned := make([]string, 0, len(tables))
	for _, table := range tables {
		name := strings.TrimSpace(strings.ReplaceAll(table, "\n", ""))
		if name != "" {
			cleaned = append(cleaned, name)
		}
	}
	return cleaned
}

// tablePicker is the searchable list of tables shown before a query is
// loaded and on ctrl+t.
type tablePicker struct {
	items         []string
	searchText    string
	selectedIndex int
	maxVisible    int
	loading       bool
}

func newTablePicker(tables []string) *tablePicker {
	return &tablePicker{
		items:      cleanTableNames(tables),
		maxVisible: 10,
	}
}

// calculateFiltered returns the tables matching search: prefix matches
// first, then the remaining fuzzy matches, each group in list order.
func (tp *tablePicker) calculateFiltered(search string) ([]string, map[int][]int, int) {
	if search == "" {
		positions := make(map[int][]int, len(tp.items))
		for i := range tp.items {
			positions[i] = nil
		}
		return append([]string(nil), tp.items...), positions, len(tp.items)
	}

	var prefix, fuzzy []string
	var prefixPos, fuzzyPos [][]int
	for _, table := range tp.items {
		matches, positions := fuzzyMatch(search, table)
		if !matches {
			continue
		}
		if isPrefixMatch(search, table) {
			prefix = append(prefix, table)
			prefixPos = append(prefixPos, positions)
		} else {
			fuzzy = append(fuzzy, table)
			fuzzyPos = append(fuzzyPos, positions)
		}
	}

	filtered := append(prefix, fuzzy...)
	matchPositions := make(map[int][]int, len(filtered))
	for i, p := range append(prefixPos, fuzzyPos...) {
		matchPositions[i] = p
	}
	return filtered, matchPositions, len(prefix)
}

func (tp *tablePicker) selected() (string, bool) {
	filtered, _, _ := tp.calculateFiltered(tp.searchText)
	if tp.selectedIndex < 0 || tp.selectedIndex >= len(filtered) {
		return "", false
	}
	return filtered[tp.selectedIndex], true
}

func (tp *tablePicker) move(delta int) {
	filtered, _, _ := tp.calculateFiltered(tp.searchText)
	tp.selectedIndex += delta
	if tp.selectedIndex >= len(filtered) {
		tp.selectedIndex = len(filtered) - 1
	}
	if tp.selectedIndex < 0 {
		tp.selectedIndex = 0
	}
}

func (tp *tablePicker) setSearch(text string) {
	tp.searchText = text
	tp.selectedIndex = 0
}

func (tp *tablePicker) View(width, height int) string {
	var b strings.Builder
	b.WriteString("Table: " + tp.searchText + "█\n")
	if tp.loading {
		b.WriteString("  loading tables...\n")
		return b.String()
	}

	filtered, positions, _ := tp.calculateFiltered(tp.searchText)
	if len(filtered) == 0 {
		b.WriteString("  no matching tables\n")
		return b.String()
	}

	visible := tp.maxVisible
	if height > 3 && height-3 < visible {
		visible = height - 3
	}
	start := 0
	if tp.selectedIndex >= visible {
		start = tp.selectedIndex - visible + 1
	}
	for i := start; i < len(filtered) && i < start+visible; i++ {
		line := "  " + formatTableNameWithColor(truncateString(filtered[i], width-4), positions[i])
		if i == tp.selectedIndex {
			line = focusStyle.Render("> " + formatTableNameWithColor(truncateString(filtered[i], width-4), positions[i]))
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

// openPicker shows the table picker and loads the table list.
func (m *Model) openPicker() {
	if m.handler == nil {
		m.Error(fmt.Errorf("table list is not available for %s", m.conn.Type))
		return
	}
	m.mode = modePicker
	m.picker = newTablePicker(nil)
	m.picker.loading = true

	conn, handler := m.conn, m.handler
	var tables []string
	work := func(ctx context.Context, tok *grid.Token) error {
		db, err := dblib.Open(ctx, conn)
		if err != nil {
			return err
		}
		defer db.Close()
		tables, err = handler.ListTables(ctx, db)
		return err
	}
	m.runner.Start(tablesJobKey, work, func(err error) {
		if m.picker == nil {
			return
		}
		if err != nil {
			m.closePicker()
			m.Error(err)
			return
		}
		search := m.picker.searchText
		m.picker = newTablePicker(tables)
		m.picker.setSearch(search)
	})
}

func (m *Model) closePicker() {
	m.runner.Stop(tablesJobKey)
	m.picker = nil
	m.mode = modeGrid
}

func (m *Model) handlePickerKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	tp := m.picker
	switch msg.Type {
	case tea.KeyEsc:
		m.closePicker()
		if m.session == nil && m.errorMsg == "" {
			m.Error(fmt.Errorf("no table selected"))
		}
	case tea.KeyEnter:
		table, ok := tp.selected()
		if !ok {
			return m, nil
		}
		m.closePicker()
		m.runQuery(selectAllQuery(m.settings.SessionOptions(m.conn.Type).Dialect, table))
	case tea.KeyUp, tea.KeyCtrlP:
		tp.move(-1)
	case tea.KeyDown, tea.KeyCtrlN, tea.KeyTab:
		tp.move(1)
	case tea.KeyBackspace:
		if r := []rune(tp.searchText); len(r) > 0 {
			tp.setSearch(string(r[:len(r)-1]))
		}
	case tea.KeyRunes, tea.KeySpace:
		tp.setSearch(tp.searchText + string(msg.Runes))
	}
	return m, nil
}

// selectAllQuery is the query a picked table opens with.
func selectAllQuery(d dblib.Dialect, table string) string {
	return "SELECT * FROM " + dblib.QuoteIdent(d, table)
}
