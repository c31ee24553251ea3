package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/marcboeker/go-duckdb/v2"
	"github.com/mattn/go-sqlite3"
)

type Class string

const (
	ClassSyntax      Class = "syntax"
	ClassConstraint  Class = "constraint"
	ClassTimeout     Class = "timeout"
	ClassUnavailable Class = "unavailable"
)

// Transient reports whether a statement failing with this class may succeed on a retry.
func (c Class) Transient() bool {
	return c == ClassTimeout || c == ClassUnavailable
}

// Classify maps a driver error onto a Class. Errors no driver claims are
// statement-level failures and classify as syntax.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ClassTimeout
	case errors.Is(err, driver.ErrBadConn):
		return ClassUnavailable
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifyPostgres(pgErr.Code)
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return classifySQLite(sqliteErr.Code)
	}

	var duckErr *duckdb.Error
	if errors.As(err, &duckErr) {
		return classifyDuckDB(duckErr.Type)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ClassTimeout
		}
		return ClassUnavailable
	}
	if pgconn.Timeout(err) {
		return ClassTimeout
	}
	return ClassSyntax
}

func classifyPostgres(code string) Class {
	switch {
	case code == "57014":
		return ClassTimeout
	case strings.HasPrefix(code, "23"):
		return ClassConstraint
	case strings.HasPrefix(code, "08"), strings.HasPrefix(code, "53"), strings.HasPrefix(code, "57"):
		return ClassUnavailable
	default:
		return ClassSyntax
	}
}

func classifySQLite(code sqlite3.ErrNo) Class {
	switch code {
	case sqlite3.ErrConstraint:
		return ClassConstraint
	case sqlite3.ErrInterrupt:
		return ClassTimeout
	case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrCantOpen, sqlite3.ErrIoErr, sqlite3.ErrNomem, sqlite3.ErrCorrupt, sqlite3.ErrNotADB:
		return ClassUnavailable
	default:
		return ClassSyntax
	}
}

func classifyDuckDB(kind duckdb.ErrorType) Class {
	switch kind {
	case duckdb.ErrorTypeConstraint:
		return ClassConstraint
	case duckdb.ErrorTypeInterrupt:
		return ClassTimeout
	case duckdb.ErrorTypeConnection, duckdb.ErrorTypeIO, duckdb.ErrorTypeNetwork, duckdb.ErrorTypeOutOfMemory, duckdb.ErrorTypeFatal:
		return ClassUnavailable
	default:
		return ClassSyntax
	}
}
