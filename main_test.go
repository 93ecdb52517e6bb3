package main

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"gred/internal/dblib"
)

func runCmd(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestResolveCommand(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    string
		wantErr error
	}{
		{"lenient", []string{"resolve", "SELECT * FROM `shop`.`users` WHERE id = 1"}, "shop.users\n", nil},
		{"join guess", []string{"resolve", "SELECT * FROM orders o JOIN users u ON u.id = o.user_id"}, "orders\n", nil},
		{"strict join", []string{"resolve", "--strict", "SELECT * FROM orders o JOIN users u ON u.id = o.user_id"}, "", dblib.ErrUnresolvedTable},
		{"not a select", []string{"resolve", "DELETE FROM users"}, "", dblib.ErrUnresolvedTable},
		{"sources", []string{"resolve", "--sources", "SELECT * FROM orders o JOIN users u ON u.id = o.user_id"}, "orders\nusers\n", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := runCmd(t, "", tt.args...)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("output = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSynthCommand(t *testing.T) {
	row := `{"id": 5, "name": "Alice", "email": null}`

	tests := []struct {
		name  string
		stdin string
		args  []string
		want  string
	}{
		{
			name:  "update",
			stdin: row,
			args:  []string{"synth", "update", "--table", "users", "--column", "name", "--value", "Bob"},
			want:  "UPDATE `users` SET `name` = 'Bob' WHERE `id` = 5 AND `name` = 'Alice' AND `email` IS NULL\n",
		},
		{
			name:  "update to null from query",
			stdin: row,
			args:  []string{"synth", "update", "--query", "SELECT * FROM users", "--column", "name", "--null"},
			want:  "UPDATE `users` SET `name` = NULL WHERE `id` = 5 AND `name` = 'Alice' AND `email` IS NULL\n",
		},
		{
			name:  "delete",
			stdin: row,
			args:  []string{"synth", "delete", "--table", "users"},
			want:  "DELETE FROM `users` WHERE `id` = 5 AND `name` = 'Alice' AND `email` IS NULL\n",
		},
		{
			name:  "delete many double quoted",
			stdin: `[{"id": 1}, {"id": 2}]`,
			args:  []string{"synth", "delete", "--table", "public.users", "--dialect", "double_quote"},
			want:  "DELETE FROM \"public\".\"users\" WHERE \"id\" = 1;\nDELETE FROM \"public\".\"users\" WHERE \"id\" = 2\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := runCmd(t, tt.stdin, tt.args...)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("output = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSynthCommandErrors(t *testing.T) {
	tests := []struct {
		name  string
		stdin string
		args  []string
	}{
		{"no table", `{"id": 1}`, []string{"synth", "delete"}},
		{"unresolved query", `{"id": 1}`, []string{"synth", "delete", "--query", "SELECT 1"}},
		{"empty snapshot", `{}`, []string{"synth", "delete", "--table", "users"}},
		{"bad json", `{"id": [1]}`, []string{"synth", "delete", "--table", "users"}},
		{"no column", `{"id": 1}`, []string{"synth", "update", "--table", "users"}},
		{"unknown column", `{"id": 1}`, []string{"synth", "update", "--table", "users", "--column", "nope", "--value", "x"}},
		{"unknown kind", `{"id": 1}`, []string{"synth", "insert", "--table", "users"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := runCmd(t, tt.stdin, tt.args...); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestSplitCommand(t *testing.T) {
	script := "UPDATE t SET a = 'x;y'; DELETE FROM t WHERE b = \"q;\" ;\n\n;SELECT 1"
	got, err := runCmd(t, script, "split")
	if err != nil {
		t.Fatal(err)
	}
	want := "UPDATE t SET a = 'x;y';\nDELETE FROM t WHERE b = \"q;\";\nSELECT 1;\n"
	if got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func setupExportDB(t *testing.T) dblib.ConnSpec {
	t.Helper()
	path := filepath.Join(t.TempDir(), "export.db")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	for _, stmt := range []string{
		`CREATE TABLE items (id INTEGER, label TEXT)`,
		`INSERT INTO items VALUES (1, 'one'), (2, NULL)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatal(err)
		}
	}
	return dblib.ConnSpec{Type: dblib.SQLite, DSN: path}
}

func TestExportQueryCSV(t *testing.T) {
	spec := setupExportDB(t)
	out := filepath.Join(t.TempDir(), "items.csv")

	var progress bytes.Buffer
	if err := exportQuery(context.Background(), spec, "SELECT id, label FROM items ORDER BY id", out, &progress); err != nil {
		t.Fatalf("exportQuery: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "id,label\n1,one\n2,\n" {
		t.Errorf("csv = %q", data)
	}
	if !strings.Contains(progress.String(), "exported 2 rows") {
		t.Errorf("progress = %q", progress.String())
	}
}

func TestExportQueryXLSX(t *testing.T) {
	spec := setupExportDB(t)
	out := filepath.Join(t.TempDir(), "items.xlsx")

	if err := exportQuery(context.Background(), spec, "SELECT id, label FROM items ORDER BY id", out, io.Discard); err != nil {
		t.Fatalf("exportQuery: %v", err)
	}
	f, err := excelize.OpenFile(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	v, err := f.GetCellValue("items", "B2")
	if err != nil {
		t.Fatal(err)
	}
	if v != "one" {
		t.Errorf("B2 = %q", v)
	}
}

func TestExportQueryNoRows(t *testing.T) {
	spec := setupExportDB(t)
	out := filepath.Join(t.TempDir(), "x.csv")
	if err := exportQuery(context.Background(), spec, "DELETE FROM items WHERE id = 9", out, io.Discard); err == nil {
		t.Error("expected an error for a script without a query")
	}
}
