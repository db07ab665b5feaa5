package chat

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by controller operations.
var (
	// ErrExchangeInFlight is returned by Ask while a generation exchange is open.
	ErrExchangeInFlight = errors.New("a generation exchange is already in flight")
	// ErrTurnRunning is returned by RunTurn while that turn is already executing.
	ErrTurnRunning = errors.New("turn is already running")
	// ErrUnknownTurn is returned when an operation names a turn id that does
	// not exist or is not a query_result turn.
	ErrUnknownTurn = errors.New("unknown turn")
	// ErrFixUnavailable is returned by FixTurn when the turn has no failed or
	// empty execution to repair.
	ErrFixUnavailable = errors.New("fix is not available for this turn")
	// ErrSessionNotFound is returned by stores and the manager for missing sessions.
	ErrSessionNotFound = errors.New("session not found")
)

// Session is a persisted conversation.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// ContextEntry is one element of the conversational context shipped with a
// generation request. The payload is opaque to this package.
type ContextEntry struct {
	Role    Role           `json:"role"`
	Type    TurnType       `json:"type"`
	Content ContextContent `json:"content"`
}

// ContextContent carries the text of a prior turn, plus the current SQL
// draft on the synthetic final entry.
type ContextContent struct {
	Text string `json:"text"`
	SQL  string `json:"sql,omitempty"`
}

// GenerateRequest asks the generation service for SQL answering Question
// against the named datasource, given prior conversation context.
type GenerateRequest struct {
	Question string
	SourceID string
	Context  []ContextEntry
}

// StepFunc receives reasoning steps as they stream in.
type StepFunc func(Step)

// ChunkFunc receives SQL text fragments as they stream in.
type ChunkFunc func(string)

// Generator streams a SQL generation exchange. It blocks until the stream
// ends, invoking the callbacks in arrival order from a single goroutine, and
// returns a non-nil error only for transport failures. Events delivered
// before a failure stand.
type Generator interface {
	GenerateSQL(ctx context.Context, req GenerateRequest, onStep StepFunc, onSQL ChunkFunc) error
}

// ExecuteRequest runs SQL against a datasource. UserQuery is the question
// the SQL answers, carried for audit logging downstream.
type ExecuteRequest struct {
	SourceID  string
	SQL       string
	UserQuery string
}

// Executor runs SQL and reports the outcome. Semantic failures (the query
// itself failed) come back as a result with Status "error" and a nil error;
// a non-nil error means the executor could not be reached.
type Executor interface {
	ExecuteSQL(ctx context.Context, req ExecuteRequest) (*ExecutionResult, error)
}

// Fixer proposes a repaired SQL statement for a failed query.
type Fixer interface {
	FixSQL(ctx context.Context, question, brokenSQL, errorMessage string) (string, error)
}

// Visualizer fetches a chart specification for a completed execution.
// A nil spec with a nil error means no visualization is available.
type Visualizer interface {
	Visualize(ctx context.Context, queryID string) (*VizSpec, error)
}

// MessageStore persists the turn log of a session. The controller treats
// writes as fire-and-forget: failures are logged, never surfaced.
type MessageStore interface {
	AppendMessage(ctx context.Context, sessionID string, turn *Turn) error
	ListMessages(ctx context.Context, sessionID string) ([]*Turn, error)
}

// SessionStore manages sessions on top of message persistence.
type SessionStore interface {
	MessageStore
	CreateSession(ctx context.Context) (*Session, error)
	GetSession(ctx context.Context, id string) (*Session, error)
	ListSessions(ctx context.Context) ([]*Session, error)
	RenameSession(ctx context.Context, id, title string) error
}
