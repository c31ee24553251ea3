package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pitwall/pitwall/internal/observability"
	"github.com/pitwall/pitwall/internal/store"
)

const (
	DefaultMaxRows = 500
	DefaultTimeout = 10 * time.Second

	retryDelay = 200 * time.Millisecond
)

type Config struct {
	MaxRows int
	Timeout time.Duration
	Retries int
}

// Executor runs one statement per call on a connection it acquires and releases itself.
type Executor struct {
	db     *sql.DB
	cfg    Config
	logger *slog.Logger
	sleep  func(context.Context, time.Duration) error
}

func NewExecutor(db *sql.DB, cfg Config, logger *slog.Logger) *Executor {
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = DefaultMaxRows
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{db: db, cfg: cfg, logger: logger, sleep: sleepContext}
}

func (e *Executor) MaxRows() int {
	return e.cfg.MaxRows
}

// Execute runs sqlText and returns at most MaxRows rows. Timeouts and unavailable
// stores are retried up to Retries times; other failures return immediately.
func (e *Executor) Execute(ctx context.Context, sqlText string) (ResultSet, error) {
	statement := stripTrailingSemicolons(sqlText)
	if statement == "" {
		return ResultSet{}, &ExecutionError{Class: store.ClassSyntax, Attempts: 0, Err: errors.New("sql is required")}
	}
	// The statement sits on its own lines so a trailing line comment cannot swallow the wrapper.
	wrapped := fmt.Sprintf("SELECT * FROM (\n%s\n) AS pitwall_q LIMIT %d", statement, e.cfg.MaxRows+1)

	var lastErr error
	for attempt := 1; attempt <= e.cfg.Retries+1; attempt++ {
		start := time.Now()
		result, err := e.run(ctx, wrapped)
		if err == nil {
			result.Duration = time.Since(start)
			return result, nil
		}

		class := classify(ctx, err)
		lastErr = &ExecutionError{Class: class, Attempts: attempt, Err: err}
		e.logger.WarnContext(ctx, "query execution failed",
			"class", class,
			"attempt", attempt,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		if !class.Transient() || attempt > e.cfg.Retries || ctx.Err() != nil {
			break
		}
		if err := e.sleep(ctx, retryDelay*time.Duration(attempt)); err != nil {
			break
		}
	}
	return ResultSet{}, lastErr
}

func (e *Executor) run(ctx context.Context, statement string) (ResultSet, error) {
	runCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	conn, err := e.db.Conn(runCtx)
	if err != nil {
		return ResultSet{}, fmt.Errorf("acquire connection: %w", withDeadline(runCtx, err))
	}
	defer func() { _ = conn.Close() }()

	rows, err := conn.QueryContext(runCtx, statement)
	if err != nil {
		return ResultSet{}, fmt.Errorf("execute query: %w", withDeadline(runCtx, err))
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return ResultSet{}, fmt.Errorf("query columns: %w", err)
	}

	result := ResultSet{Columns: columns, Rows: make([]Row, 0)}
	for rows.Next() {
		if len(result.Rows) == e.cfg.MaxRows {
			result.Truncated = true
			break
		}
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return ResultSet{}, fmt.Errorf("scan row: %w", withDeadline(runCtx, err))
		}
		row := make(Row, len(columns))
		for i, column := range columns {
			row[column] = normalizeValue(values[i])
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return ResultSet{}, fmt.Errorf("iterate rows: %w", withDeadline(runCtx, err))
	}
	if result.Truncated {
		observability.IncrementQueryTruncated()
	}
	return result, nil
}

// classify prefers the context verdict: drivers report a cancelled statement in
// their own words.
func classify(ctx context.Context, err error) store.Class {
	if ctx.Err() != nil {
		return store.ClassTimeout
	}
	return store.Classify(err)
}

// withDeadline tags a driver error with the deadline that caused it.
func withDeadline(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return err
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
