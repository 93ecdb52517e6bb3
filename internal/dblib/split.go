package dblib

import (
	"errors"
	"strings"
)

// ErrMultipleStatements is returned by CleanSingleStatement when the input
// holds more than one statement.
var ErrMultipleStatements = errors.New("multiple SQL statements are not supported")

// SplitStatements splits sql on semicolons that are outside single-quoted,
// double-quoted and backtick-quoted text. A doubled quote does not end the
// quoted run; a backslash is an ordinary character, as it is in the
// literals FormatLiteral writes. Statements are trimmed, their terminating
// semicolon dropped, and empty statements skipped.
func SplitStatements(sql string) []string {
	var stmts []string
	var cur strings.Builder
	var quote rune

	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			stmts = append(stmts, s)
		}
		cur.Reset()
	}

	runes := []rune(sql)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if quote != 0 {
			cur.WriteRune(r)
			if r == quote {
				if i+1 < len(runes) && runes[i+1] == quote {
					cur.WriteRune(runes[i+1])
					i++
					continue
				}
				quote = 0
			}
			continue
		}
		switch r {
		case '\'', '"', '`':
			quote = r
			cur.WriteRune(r)
		case ';':
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return stmts
}

// CleanSingleStatement trims sql and strips one trailing semicolon. It
// returns ErrMultipleStatements when more than one statement remains and an
// empty string for blank input.
func CleanSingleStatement(sql string) (string, error) {
	stmts := SplitStatements(sql)
	switch len(stmts) {
	case 0:
		return "", nil
	case 1:
		return stmts[0], nil
	}
	return "", ErrMultipleStatements
}

// IsQueryStatement reports whether stmt returns rows.
func IsQueryStatement(stmt string) bool {
	s := strings.ToUpper(strings.TrimSpace(stmt))
	for _, kw := range []string{"SELECT", "WITH", "SHOW", "DESCRIBE", "DESC", "EXPLAIN", "PRAGMA", "VALUES"} {
		if strings.HasPrefix(s, kw) {
			return true
		}
	}
	return false
}
