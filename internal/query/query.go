// Package query runs accepted SQL against the store and shapes the rows for the
// narrator, the chart generator and the HTTP API.
package query

import (
	"fmt"
	"time"

	"github.com/pitwall/pitwall/internal/store"
)

// Row maps column name to a JSON-friendly value.
type Row map[string]any

type ResultSet struct {
	Columns   []string      `json:"columns"`
	Rows      []Row         `json:"rows"`
	Truncated bool          `json:"truncated"`
	Duration  time.Duration `json:"-"`
}

// Empty reports whether the statement matched no rows.
func (r ResultSet) Empty() bool {
	return len(r.Rows) == 0
}

// ExecutionError carries the class of a store failure. Err holds the driver error
// for logs and is never shown to end users.
type ExecutionError struct {
	Class    store.Class
	Attempts int
	Err      error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("query execution failed (%s): %v", e.Class, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Message is the user-facing explanation of the failure.
func (e *ExecutionError) Message() string {
	switch e.Class {
	case store.ClassTimeout:
		return "the query took too long to run"
	case store.ClassUnavailable:
		return "the statistics database is unavailable right now"
	case store.ClassConstraint:
		return "the database rejected the query"
	default:
		return "the generated query could not be run against the database"
	}
}
