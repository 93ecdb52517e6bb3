package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"

	"gred/internal/dblib"
	"gred/internal/grid"
)

type inputMode int

const (
	modeGrid inputMode = iota
	modeEdit
	modeSQL
	modeConfirmDelete
	modeExport
	modePicker
)

// Model is the grid screen. It is used through a pointer because job
// completions posted by the runner close over it.
type Model struct {
	dbName   string
	conn     dblib.ConnSpec
	settings *Settings
	runner   *grid.Runner
	dispatch grid.Dispatcher
	handler  dblib.DatabaseHandler
	log      zerolog.Logger

	session  *grid.Session
	query    string
	loading  bool
	readOnly string // why the grid cannot be edited, if it cannot

	focusRow  int
	focusCol  int
	scrollRow int

	marked        map[int]bool
	pendingDelete []int

	mode   inputMode
	input  textinput.Model
	picker *tablePicker

	width  int
	height int

	statusMsg string
	errorMsg  string
}

// NewModel builds the grid screen for one connection. query may be empty, in
// which case the table picker opens first.
func NewModel(dbName string, conn dblib.ConnSpec, settings *Settings, runner *grid.Runner, dispatch grid.Dispatcher, log zerolog.Logger, query string) *Model {
	ti := textinput.New()
	ti.CharLimit = 0
	handler, _ := dblib.NewDatabaseHandler(conn.Type)
	return &Model{
		dbName:   dbName,
		conn:     conn,
		settings: settings,
		runner:   runner,
		dispatch: dispatch,
		handler:  handler,
		log:      log,
		query:    query,
		marked:   make(map[int]bool),
		input:    ti,
		width:    80,
		height:   24,
	}
}

func (m *Model) Init() tea.Cmd {
	if m.query == "" {
		m.openPicker()
		return nil
	}
	m.runQuery(m.query)
	return nil
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.clampScroll()
		return m, nil

	case postedMsg:
		msg()
		m.clampFocus()
		return m, nil

	case tea.KeyMsg:
		breadcrumbs.RecordKeyboard(msg.String())
		if msg.String() == "ctrl+c" {
			return m, m.quit()
		}
		switch m.mode {
		case modeEdit:
			return m.handleEditingKeys(msg)
		case modeSQL, modeExport:
			return m.handlePromptKeys(msg)
		case modeConfirmDelete:
			return m.handleConfirmKeys(msg)
		case modePicker:
			return m.handlePickerKeys(msg)
		}
		return m.handleNavigationKeys(msg)
	}

	return m, nil
}

func (m *Model) quit() tea.Cmd {
	if m.session != nil {
		m.session.Close()
	}
	return tea.Quit
}

func (m *Model) rowCount() int {
	if m.session == nil {
		return 0
	}
	return m.session.Len()
}

func (m *Model) columns() []string {
	if m.session == nil {
		return nil
	}
	return m.session.Columns()
}

func (m *Model) focusColumn() (string, bool) {
	cols := m.columns()
	if m.focusCol < 0 || m.focusCol >= len(cols) {
		return "", false
	}
	return cols[m.focusCol], true
}

func (m *Model) visibleRows() int {
	n := m.height - 4 // header, separator, status bar, prompt
	if n < 1 {
		n = 1
	}
	return n
}

func (m *Model) clampFocus() {
	if n := m.rowCount(); m.focusRow >= n {
		m.focusRow = n - 1
	}
	if m.focusRow < 0 {
		m.focusRow = 0
	}
	if n := len(m.columns()); m.focusCol >= n {
		m.focusCol = n - 1
	}
	if m.focusCol < 0 {
		m.focusCol = 0
	}
	m.clampScroll()
}

func (m *Model) clampScroll() {
	if m.focusRow < m.scrollRow {
		m.scrollRow = m.focusRow
	}
	if m.focusRow >= m.scrollRow+m.visibleRows() {
		m.scrollRow = m.focusRow - m.visibleRows() + 1
	}
	if m.scrollRow < 0 {
		m.scrollRow = 0
	}
}

func (m *Model) View() string {
	if m.mode == modePicker && m.picker != nil {
		return m.picker.View(m.width, m.height) + "\n" + m.renderStatusBar()
	}
	if m.session == nil {
		body := "Loading..."
		if m.errorMsg != "" {
			body = m.renderError()
		}
		return body + "\n" + m.renderPrompt()
	}

	var b strings.Builder
	b.WriteString(m.renderTable())
	b.WriteString("\n")
	b.WriteString(m.renderPrompt())
	b.WriteString(m.renderStatusBar())
	return b.String()
}

var (
	focusStyle      = lipgloss.NewStyle().Background(lipgloss.Color("4"))
	editFocusStyle  = lipgloss.NewStyle().Background(lipgloss.Color("8"))
	dirtyStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	submittingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	nullStyle       = lipgloss.NewStyle().Faint(true)
	headerStyle     = lipgloss.NewStyle().Bold(true)
)

func (m *Model) renderTable() string {
	cols := m.columns()
	if len(cols) == 0 {
		return "No columns"
	}

	var b strings.Builder
	colWidths := m.calculateColumnWidths()

	b.WriteString("|")
	for i, col := range cols {
		width := colWidths[i]
		content := padRight(truncateString(col, width-2), width-2)
		if i == m.focusCol {
			content = headerStyle.Render(content)
		}
		b.WriteString(" " + content + " |")
	}
	b.WriteString("\n")

	b.WriteString("|")
	for _, width := range colWidths {
		b.WriteString(strings.Repeat("-", width))
		b.WriteString("|")
	}
	b.WriteString("\n")

	if m.rowCount() == 0 {
		b.WriteString("(no rows)\n")
		return b.String()
	}

	endRow := m.scrollRow + m.visibleRows()
	if endRow > m.rowCount() {
		endRow = m.rowCount()
	}
	for rowIdx := m.scrollRow; rowIdx < endRow; rowIdx++ {
		b.WriteString("|")
		for colIdx := range cols {
			b.WriteString(" " + m.renderCell(rowIdx, colIdx, colWidths[colIdx]-2) + " |")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (m *Model) renderCell(row, colIdx, width int) string {
	focused := row == m.focusRow && colIdx == m.focusCol
	if focused && m.mode == modeEdit {
		return editFocusStyle.Render(padRight(truncateLeft(m.input.Value()+"█", width), width))
	}

	v, _ := m.session.ValueAt(row, colIdx)
	content := padRight(truncateString(dblib.DisplayValue(v), width), width)

	style := lipgloss.NewStyle()
	if v == nil {
		style = nullStyle
	}
	switch m.session.StateAt(row, colIdx) {
	case grid.Dirty:
		style = dirtyStyle
	case grid.Submitting:
		style = submittingStyle
	}
	if m.marked[row] {
		style = style.Reverse(true)
	}
	if focused {
		style = style.Background(focusStyle.GetBackground())
	}
	return style.Render(content)
}

func (m *Model) renderPrompt() string {
	switch m.mode {
	case modeSQL, modeExport:
		return m.input.View() + "\n"
	case modeConfirmDelete:
		return fmt.Sprintf("Delete %d row(s)? [y/N]\n", len(m.pendingDelete))
	}
	return ""
}

func (m *Model) renderStatusBar() string {
	status := fmt.Sprintf("%s | Row %d/%d", m.dbName, m.focusRow+1, m.rowCount())
	if m.session != nil {
		if t, err := m.session.Table(); err == nil {
			status += " | " + t.String()
		}
	}
	if m.readOnly != "" {
		status += " | read-only: " + m.readOnly
	}
	if m.loading {
		status += " | loading..."
	}
	if len(m.marked) > 0 {
		status += fmt.Sprintf(" | %d marked", len(m.marked))
	}
	if m.statusMsg != "" {
		status += " | " + m.statusMsg
	}
	if m.errorMsg != "" {
		status = fmt.Sprintf("Error: %s", m.errorMsg)
	}

	return lipgloss.NewStyle().
		Background(lipgloss.Color("8")).
		Foreground(lipgloss.Color("15")).
		Width(m.width).
		Render(status)
}

func (m *Model) renderError() string {
	return fmt.Sprintf("Error: %s\n\nPress ':' to run another query or ctrl+c to quit.", m.errorMsg)
}

func (m *Model) calculateColumnWidths() []int {
	cols := m.columns()
	numCols := len(cols)
	if numCols == 0 {
		return nil
	}

	widths := make([]int, numCols)
	availableWidth := m.width - numCols - 1 // pipes
	colWidth := availableWidth / numCols
	if colWidth < 8 {
		colWidth = 8
	}
	for i := range widths {
		widths[i] = colWidth
	}
	return widths
}

func truncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 1 {
		return "…"
	}
	return string(r[:maxLen-1]) + "…"
}

// truncateLeft keeps the tail of s, where the cursor is.
func truncateLeft(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen || maxLen < 1 {
		return s
	}
	return "…" + string(r[len(r)-maxLen+1:])
}

func padRight(s string, width int) string {
	n := len([]rune(s))
	if n >= width {
		return s
	}
	return s + strings.Repeat(" ", width-n)
}
