package dblib

import (
	"errors"
	"fmt"
)

var (
	// ErrUnresolvedTable is returned when no target table could be derived
	// from the query that produced the grid.
	ErrUnresolvedTable = errors.New("cannot identify a target table")
	// ErrEmptySnapshot is returned when a row snapshot has no columns, which
	// would produce a statement without a WHERE clause.
	ErrEmptySnapshot = errors.New("row snapshot has no columns")
	// ErrAmbiguousRow is returned by the ambiguity probe when the WHERE
	// clause of a statement matches more than one row.
	ErrAmbiguousRow = errors.New("statement would affect more than one row")
)

// ExecutionError is a driver error raised while running Statement.
type ExecutionError struct {
	Statement string
	Err       error
}

func (e *ExecutionError) Error() string {
	return e.Err.Error()
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// AmbiguityError carries the match count behind ErrAmbiguousRow.
type AmbiguityError struct {
	Statement string
	Matches   int64
}

func (e *AmbiguityError) Error() string {
	return fmt.Sprintf("%s (%d rows match)", ErrAmbiguousRow, e.Matches)
}

func (e *AmbiguityError) Is(target error) bool {
	return target == ErrAmbiguousRow
}
