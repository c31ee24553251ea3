package query

import (
	"context"
	"database/sql"
	"errors"
	"math/big"
	"reflect"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	"github.com/pitwall/pitwall/internal/observability"
	"github.com/pitwall/pitwall/internal/store"
)

const winsSQL = "SELECT d.full_name, COUNT(*) AS wins FROM results r JOIN drivers d ON d.driver_id = r.driver_id GROUP BY d.full_name"

func TestExecuteTruncatesToExactlyMaxRows(t *testing.T) {
	db, mock := newSQLMock(t)
	executor := newTestExecutor(db, Config{MaxRows: 2})

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM ( " + winsSQL + " ) AS pitwall_q LIMIT 3")).
		WillReturnRows(sqlmock.NewRows([]string{"full_name", "wins"}).
			AddRow("Max Verstappen", int64(19)).
			AddRow("Sergio Perez", int64(2)).
			AddRow("Carlos Sainz", int64(1)))

	result, err := executor.Execute(context.Background(), winsSQL+";")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !result.Truncated {
		t.Fatal("Truncated should be true")
	}
	if len(result.Rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(result.Rows))
	}
	if result.Rows[0]["full_name"] != "Max Verstappen" || result.Rows[0]["wins"] != int64(19) {
		t.Fatalf("first row = %#v", result.Rows[0])
	}
	if !reflect.DeepEqual(result.Columns, []string{"full_name", "wins"}) {
		t.Fatalf("columns = %v", result.Columns)
	}
	if inUse := db.Stats().InUse; inUse != 0 {
		t.Fatalf("connections in use after Execute = %d", inUse)
	}
	assertSQLMock(t, mock)
}

func TestExecuteAtCapIsNotTruncated(t *testing.T) {
	db, mock := newSQLMock(t)
	executor := newTestExecutor(db, Config{MaxRows: 2})

	mock.ExpectQuery(regexp.QuoteMeta("LIMIT 3")).
		WillReturnRows(sqlmock.NewRows([]string{"code"}).AddRow("VER").AddRow("PER"))

	result, err := executor.Execute(context.Background(), "SELECT code FROM drivers")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Truncated || len(result.Rows) != 2 {
		t.Fatalf("result = %+v", result)
	}
	assertSQLMock(t, mock)
}

func TestExecuteEmptyResultIsNotAnError(t *testing.T) {
	db, mock := newSQLMock(t)
	executor := newTestExecutor(db, Config{})

	mock.ExpectQuery(regexp.QuoteMeta("LIMIT 501")).
		WillReturnRows(sqlmock.NewRows([]string{"full_name"}))

	result, err := executor.Execute(context.Background(), "SELECT full_name FROM drivers WHERE code = 'ZZZ'")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !result.Empty() || result.Rows == nil {
		t.Fatalf("result = %#v", result)
	}
	assertSQLMock(t, mock)
}

func TestExecuteIsDeterministic(t *testing.T) {
	db, mock := newSQLMock(t)
	executor := newTestExecutor(db, Config{MaxRows: 10})
	raced := time.Date(2023, 11, 26, 13, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM ( SELECT name, date, code FROM races ) AS pitwall_q LIMIT 11")).
			WillReturnRows(sqlmock.NewRows([]string{"name", "date", "code"}).AddRow("Abu Dhabi Grand Prix", raced, []byte("YMC")))
	}

	first, err := executor.Execute(context.Background(), "SELECT name, date, code FROM races")
	if err != nil {
		t.Fatalf("first Execute() error = %v", err)
	}
	second, err := executor.Execute(context.Background(), "SELECT name, date, code FROM races")
	if err != nil {
		t.Fatalf("second Execute() error = %v", err)
	}
	if !reflect.DeepEqual(first.Rows, second.Rows) || !reflect.DeepEqual(first.Columns, second.Columns) {
		t.Fatalf("results differ: %#v vs %#v", first, second)
	}
	if first.Rows[0]["date"] != "2023-11-26T13:00:00Z" || first.Rows[0]["code"] != "YMC" {
		t.Fatalf("row = %#v", first.Rows[0])
	}
	assertSQLMock(t, mock)
}

func TestExecuteRetriesTimeoutOnce(t *testing.T) {
	db, mock := newSQLMock(t)
	executor := newTestExecutor(db, Config{MaxRows: 5, Timeout: 20 * time.Millisecond, Retries: 1})

	mock.ExpectQuery(regexp.QuoteMeta("LIMIT 6")).
		WillDelayFor(time.Second).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(int64(1)))
	mock.ExpectQuery(regexp.QuoteMeta("LIMIT 6")).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(int64(1)))

	result, err := executor.Execute(context.Background(), "SELECT COUNT(*) AS n FROM seasons")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Rows) != 1 {
		t.Fatalf("rows = %d", len(result.Rows))
	}
	assertSQLMock(t, mock)
}

func TestExecuteTimeoutWithoutRetries(t *testing.T) {
	db, mock := newSQLMock(t)
	executor := newTestExecutor(db, Config{Timeout: 20 * time.Millisecond})

	mock.ExpectQuery(regexp.QuoteMeta("LIMIT 501")).
		WillDelayFor(time.Second).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(int64(1)))

	_, err := executor.Execute(context.Background(), "SELECT COUNT(*) AS n FROM results")
	execErr := requireExecutionError(t, err)
	if execErr.Class != store.ClassTimeout {
		t.Fatalf("Class = %q", execErr.Class)
	}
	if execErr.Message() != "the query took too long to run" {
		t.Fatalf("Message() = %q", execErr.Message())
	}
	if inUse := db.Stats().InUse; inUse != 0 {
		t.Fatalf("connections in use after failure = %d", inUse)
	}
}

func TestExecuteDoesNotRetrySyntaxErrors(t *testing.T) {
	db, mock := newSQLMock(t)
	executor := newTestExecutor(db, Config{Retries: 3})

	mock.ExpectQuery(regexp.QuoteMeta("LIMIT 501")).
		WillReturnError(&pgconn.PgError{Code: "42P01", Message: `relation "auth" does not exist`})

	_, err := executor.Execute(context.Background(), "SELECT * FROM drivers")
	execErr := requireExecutionError(t, err)
	if execErr.Class != store.ClassSyntax || execErr.Attempts != 1 {
		t.Fatalf("error = %+v", execErr)
	}
	if msg := execErr.Message(); msg == "" || regexp.MustCompile(`auth|relation`).MatchString(msg) {
		t.Fatalf("Message() leaks driver detail: %q", msg)
	}
	assertSQLMock(t, mock)
}

func TestExecuteRetriesUnavailableUntilExhausted(t *testing.T) {
	db, mock := newSQLMock(t)
	executor := newTestExecutor(db, Config{Retries: 2})

	for i := 0; i < 3; i++ {
		mock.ExpectQuery(regexp.QuoteMeta("LIMIT 501")).
			WillReturnError(sqlite3.Error{Code: sqlite3.ErrBusy})
	}

	_, err := executor.Execute(context.Background(), "SELECT * FROM drivers")
	execErr := requireExecutionError(t, err)
	if execErr.Class != store.ClassUnavailable || execErr.Attempts != 3 {
		t.Fatalf("error = %+v", execErr)
	}
	assertSQLMock(t, mock)
}

func TestExecuteRejectsBlankStatement(t *testing.T) {
	db, _ := newSQLMock(t)
	executor := newTestExecutor(db, Config{})

	_, err := executor.Execute(context.Background(), " ; ")
	execErr := requireExecutionError(t, err)
	if execErr.Class != store.ClassSyntax {
		t.Fatalf("Class = %q", execErr.Class)
	}
}

func TestExecuteStatementEndingInLineComment(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Exec(`CREATE TABLE drivers (full_name TEXT); INSERT INTO drivers VALUES ('Max Verstappen')`); err != nil {
		t.Fatalf("seed error = %v", err)
	}

	executor := newTestExecutor(db, Config{MaxRows: 5})
	for _, statement := range []string{
		"SELECT full_name FROM drivers -- top drivers",
		"SELECT full_name FROM drivers /* note */",
	} {
		result, err := executor.Execute(context.Background(), statement)
		if err != nil {
			t.Fatalf("Execute(%q) error = %v", statement, err)
		}
		if len(result.Rows) != 1 || result.Rows[0]["full_name"] != "Max Verstappen" {
			t.Fatalf("Execute(%q) rows = %#v", statement, result.Rows)
		}
	}
}

func TestNormalizeValue(t *testing.T) {
	cases := []struct {
		in   any
		want any
	}{
		{nil, nil},
		{[]byte("VER"), "VER"},
		{int32(7), int64(7)},
		{uint8(3), int64(3)},
		{float32(0.5), float64(0.5)},
		{true, true},
		{big.NewInt(42), int64(42)},
		{time.Date(2021, 12, 12, 15, 0, 0, 0, time.FixedZone("GST", 4*3600)), "2021-12-12T11:00:00Z"},
		{[]any{int16(1), []byte("a")}, []any{int64(1), "a"}},
		{map[any]any{1: "one"}, map[string]any{"1": "one"}},
	}
	for _, tc := range cases {
		if got := normalizeValue(tc.in); !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("normalizeValue(%#v) = %#v, want %#v", tc.in, got, tc.want)
		}
	}
}

func newTestExecutor(db *sql.DB, cfg Config) *Executor {
	executor := NewExecutor(db, cfg, observability.DiscardLogger())
	executor.sleep = func(context.Context, time.Duration) error { return nil }
	return executor
}

func requireExecutionError(t *testing.T, err error) *ExecutionError {
	t.Helper()
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("error = %v, want *ExecutionError", err)
	}
	return execErr
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}
