package dblib

import (
	"fmt"

	"github.com/pingcap/tidb/parser"
	"github.com/pingcap/tidb/parser/ast"
	_ "github.com/pingcap/tidb/parser/test_driver"
)

func parseSelect(sqlStr string) (*ast.SelectStmt, error) {
	p := parser.New()
	stmtNodes, _, err := p.Parse(sqlStr, "", "")
	if err != nil {
		return nil, fmt.Errorf("failed to parse SQL: %w", err)
	}
	if len(stmtNodes) != 1 {
		return nil, fmt.Errorf("expected one statement, got %d", len(stmtNodes))
	}
	stmt, ok := stmtNodes[0].(*ast.SelectStmt)
	if !ok {
		return nil, fmt.Errorf("expected SELECT statement, got %T", stmtNodes[0])
	}
	return stmt, nil
}

// ResolveStrict parses sql and returns its table only when it is a SELECT
// over exactly one base table: no JOIN, derived table, set operation or CTE.
// Every other input yields an error wrapping ErrUnresolvedTable.
func ResolveStrict(sqlStr string) (TableIdentity, error) {
	stmt, err := parseSelect(sqlStr)
	if err != nil {
		return TableIdentity{}, fmt.Errorf("%w: %v", ErrUnresolvedTable, err)
	}
	if stmt.With != nil {
		return TableIdentity{}, fmt.Errorf("%w: common table expressions are read-only", ErrUnresolvedTable)
	}
	if stmt.From == nil || stmt.From.TableRefs == nil {
		return TableIdentity{}, fmt.Errorf("%w: no FROM clause", ErrUnresolvedTable)
	}
	join := stmt.From.TableRefs
	if join.Right != nil {
		return TableIdentity{}, fmt.Errorf("%w: joined results are read-only", ErrUnresolvedTable)
	}
	src, ok := join.Left.(*ast.TableSource)
	if !ok {
		return TableIdentity{}, fmt.Errorf("%w: unsupported table reference %T", ErrUnresolvedTable, join.Left)
	}
	name, ok := src.Source.(*ast.TableName)
	if !ok {
		return TableIdentity{}, fmt.Errorf("%w: derived tables are read-only", ErrUnresolvedTable)
	}
	return TableIdentity{Schema: name.Schema.O, Name: name.Name.O}, nil
}

// SourceTables lists the base tables a SELECT reads from, in FROM order,
// including tables inside joins and derived tables. CTE names are skipped.
func SourceTables(sqlStr string) ([]string, error) {
	stmt, err := parseSelect(sqlStr)
	if err != nil {
		return nil, err
	}
	ctes := make(map[string]bool)
	if stmt.With != nil {
		for _, cte := range stmt.With.CTEs {
			ctes[cte.Name.L] = true
		}
	}
	var tables []string
	if stmt.From != nil && stmt.From.TableRefs != nil {
		tables, err = extractTables(stmt.From.TableRefs, ctes, tables)
		if err != nil {
			return nil, err
		}
	}
	return tables, nil
}

// extractTables walks a FROM clause and appends every base table name.
func extractTables(ref ast.ResultSetNode, ctes map[string]bool, tables []string) ([]string, error) {
	if ref == nil {
		return tables, nil
	}
	switch ref := ref.(type) {
	case *ast.Join:
		var err error
		if tables, err = extractTables(ref.Left, ctes, tables); err != nil {
			return nil, err
		}
		return extractTables(ref.Right, ctes, tables)
	case *ast.TableSource:
		return extractTables(ref.Source, ctes, tables)
	case *ast.TableName:
		if ref.Schema.O == "" && ctes[ref.Name.L] {
			return tables, nil
		}
		t := TableIdentity{Schema: ref.Schema.O, Name: ref.Name.O}
		return append(tables, t.String()), nil
	case *ast.SelectStmt:
		if ref.From != nil && ref.From.TableRefs != nil {
			return extractTables(ref.From.TableRefs, ctes, tables)
		}
		return tables, nil
	case *ast.SetOprStmt:
		// not walked
		return tables, nil
	default:
		return nil, fmt.Errorf("unsupported table reference type: %T", ref)
	}
}
