package grid

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"

	"gred/internal/dblib"
)

var (
	// ErrBusy is returned when an action conflicts with a statement that is
	// still running.
	ErrBusy = errors.New("a change is still being applied")
	// ErrClosed is returned by every operation of a closed session.
	ErrClosed = errors.New("grid is closed")
	// ErrNoEdit is returned by Revert and Retry for a cell without a
	// preserved edit.
	ErrNoEdit = errors.New("no pending edit for this cell")
	// ErrDuplicateColumn is returned for a column whose name repeats an
	// earlier column of the result. Only the first can be written.
	ErrDuplicateColumn = errors.New("column name appears more than once; only the first can be edited")

	errSkipRow = errors.New("row skipped")
)

// CellState is the edit state of one grid cell.
type CellState int

const (
	Clean CellState = iota
	Dirty
	Submitting
)

func (s CellState) String() string {
	switch s {
	case Dirty:
		return "dirty"
	case Submitting:
		return "submitting"
	}
	return "clean"
}

// DeleteMode selects how a multi-row delete is submitted.
type DeleteMode int

const (
	// DeleteBatch joins every DELETE into one script, runs all of them and
	// reports each outcome.
	DeleteBatch DeleteMode = iota
	// DeleteSequence runs the DELETEs one at a time and stops at the first
	// failure.
	DeleteSequence
)

func ParseDeleteMode(s string) (DeleteMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "batch":
		return DeleteBatch, nil
	case "sequence", "sequential":
		return DeleteSequence, nil
	}
	return DeleteBatch, fmt.Errorf("unknown delete mode %q", s)
}

// CellEdit is a user change to one cell that differs from its snapshot.
type CellEdit struct {
	Row    int
	Column string
	Old    any
	New    any
}

// Notifier receives the outcome of background write-backs. It is only
// called from Dispatcher callbacks.
type Notifier interface {
	Status(msg string)
	Error(err error)
}

type nopNotifier struct{}

func (nopNotifier) Status(string) {}
func (nopNotifier) Error(error)   {}

// Options are the per-session behavior switches.
type Options struct {
	Dialect         dblib.Dialect
	Strict          bool
	RefuseAmbiguous bool
	DeleteMode      DeleteMode
}

// Deps are the collaborators a session needs.
type Deps struct {
	Conn     dblib.ConnSpec
	Runner   *Runner
	Notifier Notifier
	Log      zerolog.Logger
}

// DeleteError reports a multi-row delete where some statements failed.
type DeleteError struct {
	Deleted int
	Failed  int
	Err     error
}

func (e *DeleteError) Error() string {
	return fmt.Sprintf("deleted %d rows, %d failed: %v", e.Deleted, e.Failed, e.Err)
}

func (e *DeleteError) Unwrap() error { return e.Err }

type cellKey struct {
	row int
	col string
}

type cell struct {
	edit  CellEdit
	state CellState
	shown bool // grid shows edit.New instead of the snapshot value
}

var sessionSeq atomic.Uint64

// Session is the editable grid of one query result. All methods must be
// called on the goroutine that runs the Runner's Dispatcher callbacks.
type Session struct {
	id       string
	sql      string
	columns  []string
	rows     []dblib.RowSnapshot
	table    dblib.TableIdentity
	tableErr error

	deps Deps
	opts Options
	log  zerolog.Logger

	cells    map[cellKey]*cell
	deleting bool
	closed   bool
}

// NewSession wraps a fetched result. The target table is resolved once from
// sql; when it cannot be, the grid is read-only and every write returns
// ErrUnresolvedTable.
func NewSession(sql string, columns []string, rows []dblib.RowSnapshot, deps Deps, opts Options) *Session {
	s := &Session{
		id:      "s" + strconv.FormatUint(sessionSeq.Add(1), 10),
		sql:     sql,
		columns: append([]string(nil), columns...),
		rows:    append([]dblib.RowSnapshot(nil), rows...),
		deps:    deps,
		opts:    opts,
		cells:   make(map[cellKey]*cell),
	}
	if opts.Strict {
		s.table, s.tableErr = dblib.ResolveStrict(sql)
	} else if t, ok := dblib.Resolve(sql); ok {
		s.table = t
	} else {
		s.tableErr = dblib.ErrUnresolvedTable
	}
	if s.deps.Notifier == nil {
		s.deps.Notifier = nopNotifier{}
	}
	s.log = deps.Log.With().Str("session", s.id).Str("table", s.table.String()).Logger()
	return s
}

// ParseInput converts text typed into a cell to a value. "NULL" in any case
// and the empty string mean NULL; everything else is sent as text and
// coerced by the database.
func ParseInput(text string) any {
	if text == "" || strings.EqualFold(text, "null") {
		return nil
	}
	return text
}

func (s *Session) SQL() string { return s.sql }

func (s *Session) Columns() []string { return append([]string(nil), s.columns...) }

func (s *Session) Len() int { return len(s.rows) }

// Rows returns the current snapshots.
func (s *Session) Rows() []dblib.RowSnapshot { return append([]dblib.RowSnapshot(nil), s.rows...) }

// Table returns the resolved target table, or the reason there is none.
func (s *Session) Table() (dblib.TableIdentity, error) { return s.table, s.tableErr }

// Snapshot returns the snapshot of row.
func (s *Session) Snapshot(row int) (dblib.RowSnapshot, bool) {
	if row < 0 || row >= len(s.rows) {
		return dblib.RowSnapshot{}, false
	}
	return s.rows[row], true
}

// Value is what the grid displays for a cell: the pending edit while one is
// shown, the snapshot value otherwise.
func (s *Session) Value(row int, column string) (any, bool) {
	if c, ok := s.cells[cellKey{row, column}]; ok && c.shown {
		return c.edit.New, true
	}
	snap, ok := s.Snapshot(row)
	if !ok {
		return nil, false
	}
	return snap.Get(column)
}

// ValueAt is Value for the column in position col. Results may repeat a
// column name; a pending edit is shown only in the first column of that
// name, the one Edit writes.
func (s *Session) ValueAt(row, col int) (any, bool) {
	snap, ok := s.Snapshot(row)
	if !ok || col < 0 || col >= snap.Len() || col >= len(s.columns) {
		return nil, false
	}
	if !s.DuplicateColumn(col) {
		if c, ok := s.cells[cellKey{row, s.columns[col]}]; ok && c.shown {
			return c.edit.New, true
		}
	}
	return snap.At(col), true
}

// StateAt is State for the column in position col.
func (s *Session) StateAt(row, col int) CellState {
	snap, ok := s.Snapshot(row)
	if !ok || col < 0 || col >= snap.Len() || col >= len(s.columns) {
		return Clean
	}
	if s.DuplicateColumn(col) {
		return Clean
	}
	return s.State(row, s.columns[col])
}

// DuplicateColumn reports whether the column in position col repeats the
// name of an earlier column. Such a column cannot be edited by name.
func (s *Session) DuplicateColumn(col int) bool {
	if col < 0 || col >= len(s.columns) {
		return false
	}
	for _, c := range s.columns[:col] {
		if c == s.columns[col] {
			return true
		}
	}
	return false
}

func (s *Session) State(row int, column string) CellState {
	if c, ok := s.cells[cellKey{row, column}]; ok {
		return c.state
	}
	return Clean
}

// PendingEdit returns the preserved edit of a Dirty or Submitting cell.
func (s *Session) PendingEdit(row int, column string) (CellEdit, bool) {
	c, ok := s.cells[cellKey{row, column}]
	if !ok {
		return CellEdit{}, false
	}
	return c.edit, true
}

// Busy reports whether any statement of this session is in flight.
func (s *Session) Busy() bool {
	if s.deleting {
		return true
	}
	for _, c := range s.cells {
		if c.state == Submitting {
			return true
		}
	}
	return false
}

func (s *Session) checkCell(row int, column string) error {
	if s.closed {
		return ErrClosed
	}
	if row < 0 || row >= len(s.rows) {
		return fmt.Errorf("row %d out of range", row)
	}
	if s.rows[row].Index(column) < 0 {
		return fmt.Errorf("unknown column %q", column)
	}
	return nil
}

// Edit records newValue for a cell and submits the UPDATE. It returns a nil
// edit when newValue equals the snapshot value; any pending edit of the cell
// is then dropped. A new edit of a Submitting cell supersedes the running
// one, whose completion is ignored.
func (s *Session) Edit(row int, column string, newValue any) (*CellEdit, error) {
	if err := s.checkCell(row, column); err != nil {
		return nil, err
	}
	if s.deleting {
		return nil, ErrBusy
	}
	key := cellKey{row, column}
	old, _ := s.rows[row].Get(column)
	if valuesEqual(old, newValue) {
		if _, ok := s.cells[key]; ok {
			s.deps.Runner.Stop(s.cellJobKey(key))
			delete(s.cells, key)
		}
		return nil, nil
	}
	if s.tableErr != nil {
		return nil, s.tableErr
	}
	stmt, err := dblib.BuildUpdate(s.opts.Dialect, s.table, column, newValue, s.rows[row])
	if err != nil {
		return nil, err
	}
	c := &cell{
		edit:  CellEdit{Row: row, Column: column, Old: old, New: newValue},
		state: Submitting,
		shown: true,
	}
	s.cells[key] = c
	s.submitUpdate(key, c, stmt)
	edit := c.edit
	return &edit, nil
}

// Revert drops the preserved edit of a Dirty cell.
func (s *Session) Revert(row int, column string) error {
	if err := s.checkCell(row, column); err != nil {
		return err
	}
	key := cellKey{row, column}
	c, ok := s.cells[key]
	if !ok {
		return ErrNoEdit
	}
	if c.state == Submitting {
		return ErrBusy
	}
	delete(s.cells, key)
	return nil
}

// Retry resubmits the preserved edit of a Dirty cell.
func (s *Session) Retry(row int, column string) error {
	if err := s.checkCell(row, column); err != nil {
		return err
	}
	if s.deleting {
		return ErrBusy
	}
	key := cellKey{row, column}
	c, ok := s.cells[key]
	if !ok {
		return ErrNoEdit
	}
	if c.state == Submitting {
		return ErrBusy
	}
	stmt, err := dblib.BuildUpdate(s.opts.Dialect, s.table, column, c.edit.New, s.rows[row])
	if err != nil {
		return err
	}
	c.state = Submitting
	c.shown = true
	s.submitUpdate(key, c, stmt)
	return nil
}

func (s *Session) cellJobKey(key cellKey) string {
	return s.id + "/cell:" + strconv.Itoa(key.row) + ":" + key.col
}

func (s *Session) deleteJobKey() string {
	return s.id + "/delete"
}

func (s *Session) submitUpdate(key cellKey, c *cell, stmt string) {
	snap := s.rows[key.row]
	conn, table, opts := s.deps.Conn, s.table, s.opts
	var affected int64
	s.log.Debug().Str("op", "update").Str("key", s.cellJobKey(key)).Str("sql", stmt).Msg("submitting")

	work := func(ctx context.Context, tok *Token) error {
		db, err := dblib.Open(ctx, conn)
		if err != nil {
			return err
		}
		defer db.Close()
		if opts.RefuseAmbiguous {
			if tok.Stopped() {
				return dblib.ErrStopped
			}
			if err := dblib.ProbeUnique(ctx, db, opts.Dialect, table, snap); err != nil {
				return err
			}
		}
		results, err := dblib.ExecStatements(ctx, db, []string{stmt}, tok.Stopped)
		if err != nil {
			return err
		}
		affected = results[0].RowsAffected
		return results[0].Err
	}

	s.deps.Runner.Start(s.cellJobKey(key), work, func(err error) {
		if s.closed || s.cells[key] != c {
			return
		}
		if err != nil {
			c.state = Dirty
			c.shown = false
			s.log.Debug().Str("op", "update").Err(err).Msg("update failed")
			s.deps.Notifier.Error(err)
			return
		}
		next, werr := s.rows[key.row].With(key.col, c.edit.New)
		if werr != nil {
			s.deps.Notifier.Error(werr)
			return
		}
		s.rows[key.row] = next
		delete(s.cells, key)
		s.log.Debug().Str("op", "update").Int64("rows_affected", affected).Msg("update applied")
		switch {
		case affected == 0:
			s.deps.Notifier.Status(fmt.Sprintf("Updated %s.%s, but no row matched (changed elsewhere?)", table, key.col))
		case affected > 1:
			s.deps.Notifier.Status(fmt.Sprintf("Updated %d identical rows in %s", affected, table))
		default:
			s.deps.Notifier.Status(fmt.Sprintf("Updated %s.%s", table, key.col))
		}
	})
}

// DeleteRows deletes the given rows, identified by their snapshots. Nothing
// is submitted if any row cannot be rendered. Rows whose DELETE succeeded
// are removed from the grid; the others stay and the failure is reported
// as a *DeleteError.
func (s *Session) DeleteRows(rows []int) error {
	if s.closed {
		return ErrClosed
	}
	if s.Busy() {
		return ErrBusy
	}
	if s.tableErr != nil {
		return s.tableErr
	}
	idx := uniqueSorted(rows)
	if len(idx) == 0 {
		return nil
	}
	snaps := make([]dblib.RowSnapshot, len(idx))
	for i, r := range idx {
		if r < 0 || r >= len(s.rows) {
			return fmt.Errorf("row %d out of range", r)
		}
		snaps[i] = s.rows[r]
	}
	stmts, err := dblib.BuildDeletes(s.opts.Dialect, s.table, snaps)
	if err != nil {
		return err
	}

	conn, table, opts, log := s.deps.Conn, s.table, s.opts, s.log
	results := make([]dblib.StatementResult, len(stmts))
	attempted := make([]bool, len(stmts))
	s.log.Debug().Str("op", "delete").Int("rows", len(stmts)).Msg("submitting")

	work := func(ctx context.Context, tok *Token) error {
		db, err := dblib.Open(ctx, conn)
		if err != nil {
			return err
		}
		defer db.Close()

		probe := func(i int) error {
			if !opts.RefuseAmbiguous {
				return nil
			}
			err := dblib.ProbeUnique(ctx, db, opts.Dialect, table, snaps[i])
			if err != nil && !errors.As(err, new(*dblib.AmbiguityError)) {
				return err
			}
			if err != nil {
				results[i], attempted[i] = dblib.StatementResult{SQL: stmts[i], Err: err}, true
				return errSkipRow
			}
			return nil
		}

		if opts.DeleteMode == DeleteSequence {
			for i := range stmts {
				if tok.Stopped() {
					return dblib.ErrStopped
				}
				if err := probe(i); err == errSkipRow {
					return nil
				} else if err != nil {
					return err
				}
				res, err := dblib.ExecStatements(ctx, db, stmts[i:i+1], tok.Stopped)
				if err != nil {
					return err
				}
				results[i], attempted[i] = res[0], true
				if res[0].Err != nil {
					return nil
				}
			}
			return nil
		}

		var pending []int
		for i := range stmts {
			if tok.Stopped() {
				return dblib.ErrStopped
			}
			if err := probe(i); err == errSkipRow {
				continue
			} else if err != nil {
				return err
			}
			pending = append(pending, i)
		}
		batch := make([]string, len(pending))
		for j, i := range pending {
			batch[j] = stmts[i]
		}
		log.Debug().Str("op", "delete").Str("sql", dblib.JoinStatements(batch)).Msg("submitting delete batch")
		res, err := dblib.ExecStatements(ctx, db, batch, tok.Stopped)
		for j, r := range res {
			results[pending[j]], attempted[pending[j]] = r, true
		}
		if err != nil {
			return err
		}
		return nil
	}

	s.deleting = true
	s.deps.Runner.Start(s.deleteJobKey(), work, func(err error) {
		if s.closed {
			return
		}
		s.deleting = false
		var deleted []int
		var firstErr error
		failed := 0
		for i := range stmts {
			switch {
			case attempted[i] && results[i].Err == nil:
				deleted = append(deleted, idx[i])
			case attempted[i]:
				failed++
				if firstErr == nil {
					firstErr = results[i].Err
				}
			default:
				failed++
			}
		}
		if firstErr == nil {
			firstErr = err
		}
		s.removeRows(deleted)
		s.log.Debug().Str("op", "delete").Int("deleted", len(deleted)).Int("failed", failed).Err(firstErr).Msg("delete finished")
		if failed > 0 || err != nil {
			if firstErr == nil {
				firstErr = errors.New("not attempted")
			}
			s.deps.Notifier.Error(&DeleteError{Deleted: len(deleted), Failed: failed, Err: firstErr})
			return
		}
		s.deps.Notifier.Status(fmt.Sprintf("Deleted %d rows from %s", len(deleted), table))
	})
	return nil
}

// removeRows drops rows (ascending indexes) highest first and shifts the
// preserved edits of the rows below them.
func (s *Session) removeRows(rows []int) {
	if len(rows) == 0 {
		return
	}
	gone := make(map[int]bool, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		r := rows[i]
		s.rows = append(s.rows[:r], s.rows[r+1:]...)
		gone[r] = true
	}
	cells := make(map[cellKey]*cell, len(s.cells))
	for key, c := range s.cells {
		if gone[key.row] {
			continue
		}
		shift := sort.SearchInts(rows, key.row)
		key.row -= shift
		c.edit.Row = key.row
		cells[key] = c
	}
	s.cells = cells
}

// Close stops every job of the session and drops its snapshots. Pending
// completions become no-ops.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.deps.Runner.StopPrefix(s.id + "/")
	s.rows = nil
	s.cells = nil
}

func uniqueSorted(rows []int) []int {
	out := append([]int(nil), rows...)
	sort.Ints(out)
	j := 0
	for i, r := range out {
		if i == 0 || r != out[j-1] {
			out[j] = r
			j++
		}
	}
	return out[:j]
}

func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return dblib.DisplayValue(a) == dblib.DisplayValue(b)
}
