package main

import (
	"testing"

	"gred/internal/dblib"
)

func TestPrefixMatchPriority(t *testing.T) {
	tables := []string{"orders", "test_users", "users", "user_profiles", "my_users"}

	tp := newTablePicker(tables)

	tests := []struct {
		search   string
		expected []string
	}{
		{
			search:   "user",
			expected: []string{"users", "user_profiles", "test_users", "my_users"}, // prefix matches first, then fuzzy
		},
		{
			search:   "test",
			expected: []string{"test_users"},
		},
		{
			search:   "usr",
			expected: []string{"test_users", "users", "user_profiles", "my_users"}, // all fuzzy matches in original order
		},
		{
			search:   "ord",
			expected: []string{"orders"},
		},
		{
			search:   "",
			expected: []string{"orders", "test_users", "users", "user_profiles", "my_users"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.search, func(t *testing.T) {
			filtered, _, _ := tp.calculateFiltered(tt.search)

			if len(filtered) != len(tt.expected) {
				t.Errorf("search %q: expected %d results, got %d", tt.search, len(tt.expected), len(filtered))
				t.Errorf("expected: %v", tt.expected)
				t.Errorf("got: %v", filtered)
				return
			}

			for i, expected := range tt.expected {
				if filtered[i] != expected {
					t.Errorf("search %q: at position %d, expected %q, got %q", tt.search, i, expected, filtered[i])
				}
			}
		})
	}
}

func TestIsPrefixMatch(t *testing.T) {
	tests := []struct {
		search   string
		text     string
		expected bool
	}{
		{"user", "users", true},
		{"user", "user_profiles", true},
		{"user", "test_users", false},
		{"test", "test_users", true},
		{"usr", "users", false},
		{"", "users", true},
		{"USERS", "users", true},
		{"users", "USERS", true},
	}

	for _, tt := range tests {
		t.Run(tt.search+":"+tt.text, func(t *testing.T) {
			result := isPrefixMatch(tt.search, tt.text)
			if result != tt.expected {
				t.Errorf("isPrefixMatch(%q, %q) = %v, expected %v", tt.search, tt.text, result, tt.expected)
			}
		})
	}
}

func TestFuzzyMatchPositions(t *testing.T) {
	ok, positions := fuzzyMatch("usr", "test_users")
	if !ok {
		t.Fatal("expected a match")
	}
	want := []int{5, 6, 8}
	if len(positions) != len(want) {
		t.Fatalf("positions = %v, want %v", positions, want)
	}
	for i := range want {
		if positions[i] != want[i] {
			t.Errorf("positions = %v, want %v", positions, want)
		}
	}

	if ok, _ := fuzzyMatch("xyz", "users"); ok {
		t.Error("unexpected match")
	}
}

func TestPickerSelection(t *testing.T) {
	tp := newTablePicker([]string{"orders\n", " users ", ""})
	if len(tp.items) != 2 {
		t.Fatalf("items = %q", tp.items)
	}

	tp.setSearch("us")
	got, ok := tp.selected()
	if !ok || got != "users" {
		t.Errorf("selected = %q, %v", got, ok)
	}

	tp.setSearch("")
	tp.move(5)
	if got, _ := tp.selected(); got != "users" {
		t.Errorf("move past end selected %q", got)
	}
	tp.move(-5)
	if got, _ := tp.selected(); got != "orders" {
		t.Errorf("move before start selected %q", got)
	}
}

func TestSelectAllQuery(t *testing.T) {
	if got := selectAllQuery(dblib.DoubleQuote, "public.users"); got != `SELECT * FROM "public"."users"` {
		t.Errorf("got %s", got)
	}
	if got := selectAllQuery(dblib.Backtick, "users"); got != "SELECT * FROM `users`" {
		t.Errorf("got %s", got)
	}
}
