package dblib

import (
	"fmt"
	"strings"
)

// Dialect selects the identifier quote character of synthesized statements.
type Dialect int

const (
	// Backtick quotes identifiers as `name`. MySQL, MariaDB and SQLite all
	// accept it.
	Backtick Dialect = iota
	// DoubleQuote quotes identifiers as "name" for PostgreSQL.
	DoubleQuote
)

// ParseDialect maps a settings value to a Dialect. "auto" and "" return
// ok=false so the caller can fall back to the connection's default.
func ParseDialect(s string) (Dialect, bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return Backtick, false, nil
	case "backtick", "mysql":
		return Backtick, true, nil
	case "double_quote", "doublequote", "ansi", "postgres":
		return DoubleQuote, true, nil
	}
	return Backtick, false, fmt.Errorf("unknown dialect %q", s)
}

func (d Dialect) String() string {
	if d == DoubleQuote {
		return "double_quote"
	}
	return "backtick"
}

func (d Dialect) quoteChar() string {
	if d == DoubleQuote {
		return `"`
	}
	return "`"
}

// QuoteIdent quotes a possibly qualified identifier. The input is split on
// dots that are not inside quotes; every quote character of either dialect is
// removed from each part before it is wrapped, so quoting an already quoted
// identifier returns it unchanged.
func QuoteIdent(d Dialect, ident string) string {
	parts := splitQualified(ident)
	for i, p := range parts {
		parts[i] = quoteSegment(d, p)
	}
	return strings.Join(parts, ".")
}

// quoteSegment wraps one identifier part without splitting it on dots.
func quoteSegment(d Dialect, seg string) string {
	q := d.quoteChar()
	seg = strings.ReplaceAll(seg, "`", "")
	seg = strings.ReplaceAll(seg, `"`, "")
	return q + seg + q
}

// splitQualified splits "a.b.c" into its parts, ignoring dots inside
// backtick or double-quote pairs.
func splitQualified(ident string) []string {
	var parts []string
	var cur strings.Builder
	var quote rune
	for _, r := range ident {
		switch {
		case quote != 0:
			cur.WriteRune(r)
			if r == quote {
				quote = 0
			}
		case r == '`' || r == '"':
			quote = r
			cur.WriteRune(r)
		case r == '.':
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	return append(parts, cur.String())
}

// TableIdentity is the table a grid's rows were read from.
type TableIdentity struct {
	Schema string // may be empty, may itself contain dots
	Name   string
}

func (t TableIdentity) String() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// IsZero reports whether no table was identified.
func (t TableIdentity) IsZero() bool {
	return t.Name == ""
}

// Quoted renders the identity for use in a statement. Schema and Name are
// each quoted as a single segment, so a dotted schema stays one identifier.
func (t TableIdentity) Quoted(d Dialect) string {
	if t.Schema == "" {
		return quoteSegment(d, t.Name)
	}
	return quoteSegment(d, t.Schema) + "." + quoteSegment(d, t.Name)
}

// ParseTableIdentity reads a table reference such as `users`, `db.users` or
// `"my.db"."users"`. The last unquoted dot separates schema from name.
func ParseTableIdentity(s string) TableIdentity {
	parts := splitQualified(strings.TrimSpace(s))
	for i, p := range parts {
		p = strings.ReplaceAll(p, "`", "")
		parts[i] = strings.ReplaceAll(p, `"`, "")
	}
	n := len(parts)
	return TableIdentity{Schema: strings.Join(parts[:n-1], "."), Name: parts[n-1]}
}
