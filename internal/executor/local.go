// Package executor runs SQL directly against a configured database, serving
// the execution boundary for single-binary setups with no backend executor.
package executor

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/marcboeker/go-duckdb"
	_ "modernc.org/sqlite"

	"github.com/leapstack-labs/leapchat/internal/chat"
)

const (
	defaultTimeout = 30 * time.Second
	// maxPreviewRows caps how many rows a preview carries back to the chat.
	maxPreviewRows = 500
)

// Target describes the database the local executor runs against.
type Target struct {
	Dialect  string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	// Path backs file dialects (duckdb, sqlite). Empty means in-memory.
	Path string
}

// Local implements chat.Executor against a single target database. Every
// failure surfaces as a semantic result with status "error"; the executor
// itself is always reachable.
type Local struct {
	target  Target
	timeout time.Duration
	logger  *slog.Logger
}

// NewLocal creates a local executor for target.
func NewLocal(target Target, logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Local{target: target, timeout: defaultTimeout, logger: logger}
}

// ExecuteSQL opens the target, runs the statement with a timeout, and scans
// a bounded preview of the result set.
func (l *Local) ExecuteSQL(ctx context.Context, req chat.ExecuteRequest) (*chat.ExecutionResult, error) {
	start := time.Now()

	driver, dsn, err := l.dsn()
	if err != nil {
		return errorResult(start, err), nil
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return errorResult(start, err), nil
	}
	defer func() { _ = db.Close() }()

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	rows, err := db.QueryContext(ctx, req.SQL)
	if err != nil {
		l.logger.Debug("query failed", "dialect", l.target.Dialect, "error", err)
		return errorResult(start, err), nil
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return errorResult(start, err), nil
	}

	var data [][]any
	for rows.Next() && len(data) < maxPreviewRows {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return errorResult(start, err), nil
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		data = append(data, values)
	}
	if err := rows.Err(); err != nil {
		return errorResult(start, err), nil
	}

	return &chat.ExecutionResult{
		Status:          chat.ExecSuccess,
		QueryID:         uuid.NewString(),
		Columns:         cols,
		Data:            data,
		Rows:            len(data),
		ExecutionTimeMS: time.Since(start).Milliseconds(),
	}, nil
}

// dsn maps the target dialect to a database/sql driver and connection string.
func (l *Local) dsn() (driver, dsn string, err error) {
	t := l.target
	switch t.Dialect {
	case "postgres", "postgresql":
		return "pgx", fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
			t.User, t.Password, t.Host, t.Port, t.Database), nil
	case "duckdb":
		return "duckdb", t.Path, nil
	case "sqlite", "sqlite3":
		path := t.Path
		if path == "" {
			path = ":memory:"
		}
		return "sqlite", path, nil
	default:
		return "", "", fmt.Errorf("unsupported dialect %q", t.Dialect)
	}
}

func errorResult(start time.Time, err error) *chat.ExecutionResult {
	return &chat.ExecutionResult{
		Status:          chat.ExecError,
		Message:         err.Error(),
		ExecutionTimeMS: time.Since(start).Milliseconds(),
	}
}

var _ chat.Executor = (*Local)(nil)
