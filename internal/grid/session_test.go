package grid

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"gred/internal/dblib"
)

type recorder struct {
	statuses []string
	errs     []error
}

func (r *recorder) Status(msg string) { r.statuses = append(r.statuses, msg) }
func (r *recorder) Error(err error)   { r.errs = append(r.errs, err) }

type harness struct {
	t      *testing.T
	db     *sql.DB
	conn   dblib.ConnSpec
	runner *Runner
	posted chanDispatcher
	notes  *recorder
}

func newHarness(t *testing.T, maxWorkers int) *harness {
	t.Helper()
	conn := dblib.ConnSpec{Type: dblib.SQLite, DSN: filepath.Join(t.TempDir(), "grid.db")}
	db, err := dblib.Open(context.Background(), conn)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	for _, stmt := range []string{
		`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL, email TEXT)`,
		`INSERT INTO users VALUES (1, 'Alice', 'alice@example.com'), (2, 'Bob', NULL), (3, 'Carol', 'carol@example.com')`,
		`CREATE TABLE tags (label TEXT, weight INTEGER)`,
		`INSERT INTO tags VALUES ('dup', 1), ('dup', 1), ('solo', 2)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("setup %q: %v", stmt, err)
		}
	}

	runner, posted := newTestRunner(t, maxWorkers)
	return &harness{t: t, db: db, conn: conn, runner: runner, posted: posted, notes: &recorder{}}
}

func (h *harness) session(query string, opts Options) *Session {
	h.t.Helper()
	cols, rows, err := dblib.Query(context.Background(), h.db, query, nil)
	if err != nil {
		h.t.Fatalf("Query: %v", err)
	}
	deps := Deps{Conn: h.conn, Runner: h.runner, Notifier: h.notes, Log: zerolog.Nop()}
	s := NewSession(query, cols, rows, deps, opts)
	h.t.Cleanup(s.Close)
	return s
}

func (h *harness) settle() { settle(h.runner, h.posted) }

func (h *harness) scalar(query string) any {
	h.t.Helper()
	var v any
	if err := h.db.QueryRow(query).Scan(&v); err != nil {
		h.t.Fatalf("%s: %v", query, err)
	}
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func TestEditSuccessReplacesSnapshot(t *testing.T) {
	h := newHarness(t, 2)
	s := h.session("SELECT * FROM users ORDER BY id", Options{})

	edit, err := s.Edit(1, "email", "bob@example.com")
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if edit == nil || edit.Old != nil || edit.New != "bob@example.com" {
		t.Fatalf("edit = %+v", edit)
	}
	if st := s.State(1, "email"); st != Submitting {
		t.Errorf("state before completion = %v, want submitting", st)
	}
	if v, _ := s.Value(1, "email"); v != "bob@example.com" {
		t.Errorf("display while submitting = %v", v)
	}

	h.settle()

	if st := s.State(1, "email"); st != Clean {
		t.Errorf("state = %v, want clean", st)
	}
	snap, _ := s.Snapshot(1)
	if v, _ := snap.Get("email"); v != "bob@example.com" {
		t.Errorf("snapshot email = %v", v)
	}
	if got := h.scalar("SELECT email FROM users WHERE id = 2"); got != "bob@example.com" {
		t.Errorf("database email = %v", got)
	}
	if len(h.notes.errs) != 0 || len(h.notes.statuses) != 1 {
		t.Errorf("notes = %+v", h.notes)
	}

	// The new snapshot is what the next edit pins.
	if _, err := s.Edit(1, "email", nil); err != nil {
		t.Fatalf("second Edit: %v", err)
	}
	h.settle()
	if got := h.scalar("SELECT email FROM users WHERE id = 2"); got != nil {
		t.Errorf("database email after second edit = %v", got)
	}
}

func TestEditFailureKeepsSnapshotAndEdit(t *testing.T) {
	h := newHarness(t, 2)
	s := h.session("SELECT * FROM users ORDER BY id", Options{})

	if _, err := s.Edit(0, "name", nil); err != nil {
		t.Fatalf("Edit: %v", err)
	}
	h.settle()

	if st := s.State(0, "name"); st != Dirty {
		t.Fatalf("state = %v, want dirty", st)
	}
	if v, _ := s.Value(0, "name"); v != "Alice" {
		t.Errorf("display = %v, want rolled back to Alice", v)
	}
	snap, _ := s.Snapshot(0)
	if v, _ := snap.Get("name"); v != "Alice" {
		t.Errorf("snapshot name = %v", v)
	}
	if edit, ok := s.PendingEdit(0, "name"); !ok || edit.New != nil {
		t.Errorf("pending edit = %+v, %v", edit, ok)
	}
	if len(h.notes.errs) != 1 {
		t.Fatalf("errors = %v", h.notes.errs)
	}
	var execErr *dblib.ExecutionError
	if !errors.As(h.notes.errs[0], &execErr) || !strings.Contains(execErr.Error(), "NOT NULL") {
		t.Errorf("error = %v, want the driver's NOT NULL error", h.notes.errs[0])
	}

	if err := s.Retry(0, "name"); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	h.settle()
	if st := s.State(0, "name"); st != Dirty || len(h.notes.errs) != 2 {
		t.Errorf("retry: state = %v, errors = %d", st, len(h.notes.errs))
	}

	if err := s.Revert(0, "name"); err != nil {
		t.Fatalf("Revert: %v", err)
	}
	if st := s.State(0, "name"); st != Clean {
		t.Errorf("state after revert = %v", st)
	}
	if err := s.Revert(0, "name"); !errors.Is(err, ErrNoEdit) {
		t.Errorf("second Revert error = %v, want ErrNoEdit", err)
	}
}

func TestEditSupersedesInFlightEdit(t *testing.T) {
	h := newHarness(t, 1)
	s := h.session("SELECT * FROM users ORDER BY id", Options{})

	// Hold the only worker slot so both edits queue.
	started := make(chan struct{})
	release := make(chan struct{})
	h.runner.Start("blocker", func(ctx context.Context, tok *Token) error {
		close(started)
		<-release
		return nil
	}, nil)
	<-started

	if _, err := s.Edit(0, "name", "X"); err != nil {
		t.Fatalf("first Edit: %v", err)
	}
	if _, err := s.Edit(0, "name", "Y"); err != nil {
		t.Fatalf("second Edit: %v", err)
	}
	close(release)
	h.settle()

	snap, _ := s.Snapshot(0)
	if v, _ := snap.Get("name"); v != "Y" {
		t.Errorf("snapshot name = %v, want Y", v)
	}
	if got := h.scalar("SELECT name FROM users WHERE id = 1"); got != "Y" {
		t.Errorf("database name = %v, want Y", got)
	}
	if len(h.notes.statuses) != 1 || len(h.notes.errs) != 0 {
		t.Errorf("notes = %+v, want exactly one completion", h.notes)
	}
}

func TestEditBackToOriginalDropsEdit(t *testing.T) {
	h := newHarness(t, 2)
	s := h.session("SELECT * FROM users ORDER BY id", Options{})

	edit, err := s.Edit(0, "name", "Alice")
	if err != nil || edit != nil {
		t.Fatalf("Edit with unchanged value = %+v, %v", edit, err)
	}
	if s.State(0, "name") != Clean {
		t.Error("unchanged value should leave the cell clean")
	}

	// Values compare by display text: "1" equals the integer 1.
	if edit, _ := s.Edit(0, "id", "1"); edit != nil {
		t.Errorf("Edit(id, \"1\") = %+v, want no edit", edit)
	}
}

func TestEditUnresolvedTable(t *testing.T) {
	h := newHarness(t, 2)

	s := h.session("SELECT 1 AS one", Options{})
	if _, err := s.Edit(0, "one", "2"); !errors.Is(err, dblib.ErrUnresolvedTable) {
		t.Errorf("Edit error = %v, want ErrUnresolvedTable", err)
	}
	if err := s.DeleteRows([]int{0}); !errors.Is(err, dblib.ErrUnresolvedTable) {
		t.Errorf("DeleteRows error = %v, want ErrUnresolvedTable", err)
	}

	strict := h.session("SELECT u.* FROM users u JOIN tags t ON t.weight = u.id", Options{Strict: true})
	if _, err := strict.Table(); !errors.Is(err, dblib.ErrUnresolvedTable) {
		t.Errorf("strict Table error = %v", err)
	}
}

func TestEditDuplicateRows(t *testing.T) {
	t.Run("all duplicates updated by default", func(t *testing.T) {
		h := newHarness(t, 2)
		s := h.session("SELECT * FROM tags WHERE label = 'dup'", Options{})
		if _, err := s.Edit(0, "weight", 5); err != nil {
			t.Fatalf("Edit: %v", err)
		}
		h.settle()
		if got := h.scalar("SELECT COUNT(*) FROM tags WHERE weight = 5"); got != int64(2) {
			t.Errorf("rows with weight 5 = %v, want 2", got)
		}
		if len(h.notes.statuses) != 1 || !strings.Contains(h.notes.statuses[0], "2 identical rows") {
			t.Errorf("statuses = %v", h.notes.statuses)
		}
	})

	t.Run("refused when ambiguous", func(t *testing.T) {
		h := newHarness(t, 2)
		s := h.session("SELECT * FROM tags WHERE label = 'dup'", Options{RefuseAmbiguous: true})
		if _, err := s.Edit(0, "weight", 5); err != nil {
			t.Fatalf("Edit: %v", err)
		}
		h.settle()
		if len(h.notes.errs) != 1 || !errors.Is(h.notes.errs[0], dblib.ErrAmbiguousRow) {
			t.Fatalf("errors = %v, want ErrAmbiguousRow", h.notes.errs)
		}
		if s.State(0, "weight") != Dirty {
			t.Errorf("state = %v, want dirty", s.State(0, "weight"))
		}
		if got := h.scalar("SELECT COUNT(*) FROM tags WHERE weight = 5"); got != int64(0) {
			t.Errorf("rows with weight 5 = %v, want 0", got)
		}
	})
}

func TestDeleteRowsBatch(t *testing.T) {
	h := newHarness(t, 2)
	s := h.session("SELECT * FROM users ORDER BY id", Options{})

	if err := s.DeleteRows([]int{2, 0, 2}); err != nil {
		t.Fatalf("DeleteRows: %v", err)
	}
	if _, err := s.Edit(1, "name", "Z"); !errors.Is(err, ErrBusy) {
		t.Errorf("Edit during delete = %v, want ErrBusy", err)
	}
	h.settle()

	if s.Len() != 1 {
		t.Fatalf("rows left = %d, want 1", s.Len())
	}
	snap, _ := s.Snapshot(0)
	if v, _ := snap.Get("name"); v != "Bob" {
		t.Errorf("remaining row = %v, want Bob", v)
	}
	if got := h.scalar("SELECT COUNT(*) FROM users"); got != int64(1) {
		t.Errorf("database rows = %v", got)
	}
	if len(h.notes.errs) != 0 {
		t.Errorf("errors = %v", h.notes.errs)
	}
}

func protectBob(t *testing.T, h *harness) {
	t.Helper()
	_, err := h.db.Exec(`CREATE TRIGGER protect_bob BEFORE DELETE ON users
		WHEN old.id = 2 BEGIN SELECT RAISE(ABORT, 'bob is protected'); END`)
	if err != nil {
		t.Fatalf("create trigger: %v", err)
	}
}

func TestDeleteRowsPartialFailure(t *testing.T) {
	t.Run("batch attempts every row", func(t *testing.T) {
		h := newHarness(t, 2)
		protectBob(t, h)
		s := h.session("SELECT * FROM users ORDER BY id", Options{DeleteMode: DeleteBatch})

		if err := s.DeleteRows([]int{0, 1, 2}); err != nil {
			t.Fatalf("DeleteRows: %v", err)
		}
		h.settle()

		var delErr *DeleteError
		if len(h.notes.errs) != 1 || !errors.As(h.notes.errs[0], &delErr) {
			t.Fatalf("errors = %v, want one *DeleteError", h.notes.errs)
		}
		if delErr.Deleted != 2 || delErr.Failed != 1 {
			t.Errorf("DeleteError = %+v", delErr)
		}
		if s.Len() != 1 {
			t.Fatalf("rows left = %d", s.Len())
		}
		if v, _ := s.Value(0, "name"); v != "Bob" {
			t.Errorf("remaining row = %v, want Bob", v)
		}
	})

	t.Run("sequence stops at first failure", func(t *testing.T) {
		h := newHarness(t, 2)
		protectBob(t, h)
		s := h.session("SELECT * FROM users ORDER BY id", Options{DeleteMode: DeleteSequence})

		if err := s.DeleteRows([]int{0, 1, 2}); err != nil {
			t.Fatalf("DeleteRows: %v", err)
		}
		h.settle()

		var delErr *DeleteError
		if len(h.notes.errs) != 1 || !errors.As(h.notes.errs[0], &delErr) {
			t.Fatalf("errors = %v, want one *DeleteError", h.notes.errs)
		}
		if delErr.Deleted != 1 || delErr.Failed != 2 {
			t.Errorf("DeleteError = %+v", delErr)
		}
		if s.Len() != 2 {
			t.Errorf("rows left = %d, want 2", s.Len())
		}
		if got := h.scalar("SELECT COUNT(*) FROM users"); got != int64(2) {
			t.Errorf("database rows = %v", got)
		}
	})
}

func TestDeleteRowsBatchTrailingBackslash(t *testing.T) {
	h := newHarness(t, 2)
	if _, err := h.db.Exec(`UPDATE users SET name = 'C:\' WHERE id = 1`); err != nil {
		t.Fatalf("update: %v", err)
	}
	s := h.session("SELECT * FROM users ORDER BY id", Options{DeleteMode: DeleteBatch})
	if v, _ := s.Value(0, "name"); v != `C:\` {
		t.Fatalf("name = %v", v)
	}

	if err := s.DeleteRows([]int{0, 1}); err != nil {
		t.Fatalf("DeleteRows: %v", err)
	}
	h.settle()

	if len(h.notes.errs) != 0 {
		t.Fatalf("errors = %v", h.notes.errs)
	}
	if s.Len() != 1 {
		t.Errorf("rows left = %d, want 1", s.Len())
	}
	if got := h.scalar("SELECT COUNT(*) FROM users"); got != int64(1) {
		t.Errorf("database rows = %v", got)
	}
	if got := h.scalar("SELECT name FROM users"); got != "Carol" {
		t.Errorf("remaining row = %v, want Carol", got)
	}
}

func TestValueAtRepeatedColumnNames(t *testing.T) {
	h := newHarness(t, 2)
	s := h.session("SELECT id, name, id + 6 AS id FROM users ORDER BY id", Options{})

	if v, _ := s.ValueAt(0, 0); v != int64(1) {
		t.Errorf("first id = %v, want 1", v)
	}
	if v, _ := s.ValueAt(0, 2); v != int64(7) {
		t.Errorf("second id = %v, want 7", v)
	}
	if !s.DuplicateColumn(2) || s.DuplicateColumn(0) || s.DuplicateColumn(1) {
		t.Error("only the second id should be a duplicate")
	}
	if _, ok := s.ValueAt(0, 3); ok {
		t.Error("ValueAt past the last column should report false")
	}

	if _, err := s.Edit(0, "name", "Zed"); err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if v, _ := s.ValueAt(0, 1); v != "Zed" {
		t.Errorf("edited name = %v, want Zed", v)
	}
	if st := s.StateAt(0, 1); st != Submitting {
		t.Errorf("state = %v, want submitting", st)
	}
	h.settle()
	if st := s.StateAt(0, 1); st != Clean {
		t.Errorf("state after completion = %v, want clean", st)
	}
	if v, _ := s.ValueAt(0, 2); v != int64(7) {
		t.Errorf("second id after edit = %v, want 7", v)
	}
}

func TestDeleteRowsShiftsDirtyCells(t *testing.T) {
	h := newHarness(t, 2)
	s := h.session("SELECT * FROM users ORDER BY id", Options{})

	if _, err := s.Edit(2, "name", nil); err != nil {
		t.Fatalf("Edit: %v", err)
	}
	h.settle()
	if s.State(2, "name") != Dirty {
		t.Fatalf("state = %v, want dirty", s.State(2, "name"))
	}

	if err := s.DeleteRows([]int{0}); err != nil {
		t.Fatalf("DeleteRows: %v", err)
	}
	h.settle()

	if s.State(1, "name") != Dirty {
		t.Errorf("dirty cell should move from row 2 to row 1")
	}
	if edit, ok := s.PendingEdit(1, "name"); !ok || edit.Row != 1 || edit.Old != "Carol" {
		t.Errorf("pending edit = %+v, %v", edit, ok)
	}
	if s.State(2, "name") != Clean {
		t.Errorf("row 2 should no longer hold an edit")
	}
}

func TestDeleteRowsRefusedWhileSubmitting(t *testing.T) {
	h := newHarness(t, 2)
	s := h.session("SELECT * FROM users ORDER BY id", Options{})

	if _, err := s.Edit(0, "name", "Z"); err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if err := s.DeleteRows([]int{1}); !errors.Is(err, ErrBusy) {
		t.Errorf("DeleteRows error = %v, want ErrBusy", err)
	}
	h.settle()
}

func TestCloseDropsCompletions(t *testing.T) {
	h := newHarness(t, 2)
	s := h.session("SELECT * FROM users ORDER BY id", Options{})

	if _, err := s.Edit(0, "name", "Z"); err != nil {
		t.Fatalf("Edit: %v", err)
	}
	s.Close()
	h.settle()

	if len(h.notes.statuses)+len(h.notes.errs) != 0 {
		t.Errorf("closed session should not notify: %+v", h.notes)
	}
	if _, err := s.Edit(0, "name", "Q"); !errors.Is(err, ErrClosed) {
		t.Errorf("Edit after Close = %v, want ErrClosed", err)
	}
}

func TestParseInput(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]any{"": nil, "NULL": nil, "null": nil, "Null": nil, "Bob": "Bob", " NULL": " NULL", "0": "0"} {
		if got := ParseInput(in); got != want {
			t.Errorf("ParseInput(%q) = %#v, want %#v", in, got, want)
		}
	}
}

func TestParseDeleteMode(t *testing.T) {
	t.Parallel()

	if m, err := ParseDeleteMode(""); err != nil || m != DeleteBatch {
		t.Errorf("default = %v, %v", m, err)
	}
	if m, err := ParseDeleteMode("sequence"); err != nil || m != DeleteSequence {
		t.Errorf("sequence = %v, %v", m, err)
	}
	if _, err := ParseDeleteMode("parallel"); err == nil {
		t.Error("expected error")
	}
}
