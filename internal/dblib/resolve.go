package dblib

import (
	"regexp"
	"strings"
)

// Rules are tried in order; the first that matches wins. Patterns only look
// at the text right after FROM, so JOINs, subqueries and CTEs are not
// understood (use ResolveStrict for that).
var (
	fromQuotedQualified = regexp.MustCompile("(?is)\\bFROM\\s+`([^`]+)`\\.`([^`]+)`")
	fromQualified       = regexp.MustCompile("(?is)\\bFROM\\s+([^\\s`]+)\\.([^\\s`]+)")
	fromQuoted          = regexp.MustCompile("(?is)\\bFROM\\s+`([^`]+)`")
	fromBare            = regexp.MustCompile("(?is)\\bFROM\\s+([^\\s`]+)")
)

// Resolve recovers the table a SELECT reads from by looking at its FROM
// clause. It returns false for anything that is not a SELECT, for a FROM
// followed by a subquery, and when no FROM is found.
//
// A query joining several tables resolves to the first one. Callers that
// need certainty should use ResolveStrict.
func Resolve(sql string) (TableIdentity, bool) {
	if !isSelect(sql) {
		return TableIdentity{}, false
	}
	if m := fromQuotedQualified.FindStringSubmatch(sql); m != nil {
		return identity(m[1], m[2])
	}
	if m := fromQualified.FindStringSubmatch(sql); m != nil {
		return identity(m[1], m[2])
	}
	if m := fromQuoted.FindStringSubmatch(sql); m != nil {
		return identity("", m[1])
	}
	if m := fromBare.FindStringSubmatch(sql); m != nil {
		return identity("", m[1])
	}
	return TableIdentity{}, false
}

func identity(schema, name string) (TableIdentity, bool) {
	if strings.HasPrefix(strings.TrimSpace(schema+name), "(") {
		return TableIdentity{}, false
	}
	t := TableIdentity{Schema: cleanIdentPart(schema), Name: cleanIdentPart(name)}
	if t.Name == "" {
		return TableIdentity{}, false
	}
	return t, true
}

func cleanIdentPart(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, ";),")
	s = strings.ReplaceAll(s, "`", "")
	return strings.TrimSpace(s)
}

// isSelect reports whether the first word of sql is SELECT.
func isSelect(sql string) bool {
	s := strings.TrimSpace(sql)
	if len(s) < len("select") || !strings.EqualFold(s[:len("select")], "select") {
		return false
	}
	if len(s) == len("select") {
		return true
	}
	c := s[len("select")]
	return !(c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9'))
}
