package dblib

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"
)

// FormatLiteral renders v as an inline SQL literal for dialect d. Strings
// are single quoted with embedded quotes doubled. Bools become 1 or 0, or
// TRUE and FALSE under DoubleQuote, where boolean does not compare with
// integer.
func FormatLiteral(d Dialect, v any) string {
	switch v := v.(type) {
	case nil:
		return "NULL"
	case bool:
		return formatBool(d, v)
	case int:
		return strconv.FormatInt(int64(v), 10)
	case int8:
		return strconv.FormatInt(int64(v), 10)
	case int16:
		return strconv.FormatInt(int64(v), 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint:
		return strconv.FormatUint(uint64(v), 10)
	case uint8:
		return strconv.FormatUint(uint64(v), 10)
	case uint16:
		return strconv.FormatUint(uint64(v), 10)
	case uint32:
		return strconv.FormatUint(uint64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case *big.Int:
		if v == nil {
			return "NULL"
		}
		return v.String()
	case string:
		return quoteString(v)
	case []byte:
		return quoteString(string(v))
	case time.Time:
		return quoteString(formatTime(v))
	default:
		return quoteString(fmt.Sprint(v))
	}
}

func formatBool(d Dialect, v bool) string {
	switch {
	case d == DoubleQuote && v:
		return "TRUE"
	case d == DoubleQuote:
		return "FALSE"
	case v:
		return "1"
	}
	return "0"
}

func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func formatTime(t time.Time) string {
	if t.Nanosecond() == 0 {
		return t.Format("2006-01-02 15:04:05")
	}
	return t.Format("2006-01-02 15:04:05.999999")
}

// DisplayValue is the grid text for v.
func DisplayValue(v any) string {
	switch v := v.(type) {
	case nil:
		return NullDisplay
	case []byte:
		return string(v)
	case string:
		return v
	case time.Time:
		return formatTime(v)
	case bool:
		if v {
			return "1"
		}
		return "0"
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// whereClause renders one predicate per snapshot column, in order: IS NULL
// for nil values, equality otherwise.
func whereClause(d Dialect, snap RowSnapshot) string {
	parts := make([]string, 0, snap.Len())
	for i, col := range snap.columns {
		q := QuoteIdent(d, col)
		if snap.values[i] == nil {
			parts = append(parts, q+" IS NULL")
			continue
		}
		parts = append(parts, q+" = "+FormatLiteral(d, snap.values[i]))
	}
	return strings.Join(parts, " AND ")
}

func checkTarget(table TableIdentity, snap RowSnapshot) error {
	if table.IsZero() {
		return ErrUnresolvedTable
	}
	if snap.Len() == 0 {
		return ErrEmptySnapshot
	}
	return nil
}

// BuildUpdate renders an UPDATE that sets column to newValue on the row
// described by snap. The WHERE clause pins every column of snap, the
// changed column included, to its pre-edit value.
func BuildUpdate(d Dialect, table TableIdentity, column string, newValue any, snap RowSnapshot) (string, error) {
	if err := checkTarget(table, snap); err != nil {
		return "", err
	}
	if snap.Index(column) < 0 {
		return "", fmt.Errorf("column %q is not part of the row", column)
	}
	return fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s",
		table.Quoted(d), QuoteIdent(d, column), FormatLiteral(d, newValue), whereClause(d, snap)), nil
}

// BuildDelete renders a DELETE for the row described by snap.
func BuildDelete(d Dialect, table TableIdentity, snap RowSnapshot) (string, error) {
	if err := checkTarget(table, snap); err != nil {
		return "", err
	}
	return fmt.Sprintf("DELETE FROM %s WHERE %s", table.Quoted(d), whereClause(d, snap)), nil
}

// BuildDeletes renders one DELETE per snapshot. It fails on the first
// snapshot that cannot be rendered.
func BuildDeletes(d Dialect, table TableIdentity, snaps []RowSnapshot) ([]string, error) {
	stmts := make([]string, 0, len(snaps))
	for i, snap := range snaps {
		stmt, err := BuildDelete(d, table, snap)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		stmts = append(stmts, stmt)
	}
	return stmts, nil
}

// BuildCount renders a SELECT COUNT(*) with the same predicates BuildDelete
// would use.
func BuildCount(d Dialect, table TableIdentity, snap RowSnapshot) (string, error) {
	if err := checkTarget(table, snap); err != nil {
		return "", err
	}
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", table.Quoted(d), whereClause(d, snap)), nil
}

// JoinStatements joins statements for batch submission.
func JoinStatements(stmts []string) string {
	return strings.Join(stmts, ";\n")
}
