package chat

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Fakes
// =============================================================================

type generatorFunc func(ctx context.Context, req GenerateRequest, onStep StepFunc, onSQL ChunkFunc) error

func (f generatorFunc) GenerateSQL(ctx context.Context, req GenerateRequest, onStep StepFunc, onSQL ChunkFunc) error {
	return f(ctx, req, onStep, onSQL)
}

type executorFunc func(ctx context.Context, req ExecuteRequest) (*ExecutionResult, error)

func (f executorFunc) ExecuteSQL(ctx context.Context, req ExecuteRequest) (*ExecutionResult, error) {
	return f(ctx, req)
}

type fixerFunc func(ctx context.Context, question, brokenSQL, errorMessage string) (string, error)

func (f fixerFunc) FixSQL(ctx context.Context, question, brokenSQL, errorMessage string) (string, error) {
	return f(ctx, question, brokenSQL, errorMessage)
}

type visualizerFunc func(ctx context.Context, queryID string) (*VizSpec, error)

func (f visualizerFunc) Visualize(ctx context.Context, queryID string) (*VizSpec, error) {
	return f(ctx, queryID)
}

// memStore is an in-memory MessageStore.
type memStore struct {
	mu        sync.Mutex
	turns     []*Turn
	appendErr error
}

func (s *memStore) AppendMessage(_ context.Context, _ string, turn *Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	clone := cloneTurn(turn)
	s.turns = append(s.turns, &clone)
	return nil
}

func (s *memStore) ListMessages(_ context.Context, _ string) ([]*Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Turn, 0, len(s.turns))
	for _, t := range s.turns {
		clone := cloneTurn(t)
		out = append(out, &clone)
	}
	return out, nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns)
}

func scriptedGenerator(steps []Step, chunks []string, err error) Generator {
	return generatorFunc(func(_ context.Context, _ GenerateRequest, onStep StepFunc, onSQL ChunkFunc) error {
		for _, s := range steps {
			onStep(s)
		}
		for _, c := range chunks {
			onSQL(c)
		}
		return err
	})
}

func okExecutor(result *ExecutionResult) Executor {
	return executorFunc(func(_ context.Context, _ ExecuteRequest) (*ExecutionResult, error) {
		return result, nil
	})
}

func newTestController(t *testing.T, cfg Config) *Controller {
	t.Helper()
	if cfg.SessionID == "" {
		cfg.SessionID = "s-1"
	}
	return NewController(cfg)
}

// askOnce runs a full exchange and returns the assistant turn id.
func askOnce(t *testing.T, c *Controller, question string) string {
	t.Helper()
	require.NoError(t, c.Ask(context.Background(), question, "db1"))
	snap := c.Snapshot()
	require.NotEmpty(t, snap.Turns)
	last := snap.Turns[len(snap.Turns)-1]
	require.Equal(t, TurnQueryResult, last.Turn.Type)
	return last.Turn.ID
}

// =============================================================================
// Ask
// =============================================================================

func TestAsk_StreamsStepsAndSQL(t *testing.T) {
	store := &memStore{}
	var changes int
	c := newTestController(t, Config{
		Generator: scriptedGenerator(
			[]Step{
				{Title: "Plan", Status: StepPending},
				{Title: "Plan", Status: StepDone},
			},
			[]string{"SELECT count(*) ", "FROM users"},
			nil,
		),
		Store:    store,
		OnChange: func() { changes++ },
	})

	require.NoError(t, c.Ask(context.Background(), "how many users?", "db1"))

	snap := c.Snapshot()
	require.Len(t, snap.Turns, 2)
	assert.False(t, snap.Streaming)

	user := snap.Turns[0].Turn
	assert.Equal(t, RoleUser, user.Role)
	assert.Equal(t, "how many users?", user.PlainText())

	answer := snap.Turns[1]
	require.NotNil(t, answer.Turn.Query)
	assert.Equal(t, "SELECT count(*) FROM users", answer.Turn.Query.SQL)
	assert.Equal(t, "db1", answer.Turn.Query.SourceID)
	assert.Len(t, answer.Turn.Query.Steps, 2)

	// The editable draft mirrors the streamed SQL
	require.True(t, answer.HasState)
	assert.Equal(t, "SELECT count(*) FROM users", answer.State.EditableSQL)
	assert.False(t, answer.State.ReadOnly)

	assert.Equal(t, 2, store.count(), "user turn and assistant turn persisted")
	assert.Greater(t, changes, 0)
}

func TestAsk_SecondExchangeBlocked(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	c := newTestController(t, Config{
		Generator: generatorFunc(func(ctx context.Context, _ GenerateRequest, _ StepFunc, _ ChunkFunc) error {
			close(started)
			select {
			case <-release:
			case <-ctx.Done():
			}
			return nil
		}),
	})

	done := make(chan error, 1)
	go func() {
		done <- c.Ask(context.Background(), "slow question", "db1")
	}()
	<-started

	err := c.Ask(context.Background(), "impatient question", "db1")
	assert.ErrorIs(t, err, ErrExchangeInFlight)
	assert.True(t, c.Streaming())

	close(release)
	require.NoError(t, <-done)
	assert.False(t, c.Streaming())

	// The rejected question left no trace
	assert.Len(t, c.Snapshot().Turns, 2)
}

func TestAsk_CancelFinalizesPartial(t *testing.T) {
	store := &memStore{}
	started := make(chan struct{})
	c := newTestController(t, Config{
		Generator: generatorFunc(func(ctx context.Context, _ GenerateRequest, _ StepFunc, onSQL ChunkFunc) error {
			onSQL("SELECT 1 -- unfinished")
			close(started)
			<-ctx.Done()
			return ctx.Err()
		}),
		Store: store,
	})

	done := make(chan error, 1)
	go func() {
		done <- c.Ask(context.Background(), "q", "db1")
	}()
	<-started
	c.Cancel()

	require.NoError(t, <-done, "cancellation is not an error")

	snap := c.Snapshot()
	require.Len(t, snap.Turns, 2)
	assert.Equal(t, "SELECT 1 -- unfinished", snap.Turns[1].Turn.Query.SQL)
	assert.False(t, snap.Streaming)
	assert.Equal(t, 2, store.count(), "partial turn still persisted")
}

func TestAsk_TransportErrorKeepsPartial(t *testing.T) {
	store := &memStore{}
	c := newTestController(t, Config{
		Generator: scriptedGenerator(
			[]Step{{Title: "Plan", Status: StepPending}},
			[]string{"SELECT "},
			errors.New("connection reset"),
		),
		Store: store,
	})

	err := c.Ask(context.Background(), "q", "db1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")

	snap := c.Snapshot()
	require.Len(t, snap.Turns, 2)
	assert.Equal(t, "SELECT ", snap.Turns[1].Turn.Query.SQL)
	assert.Equal(t, 2, store.count())
}

func TestAsk_StoreFailureDoesNotBlock(t *testing.T) {
	store := &memStore{appendErr: errors.New("disk full")}
	c := newTestController(t, Config{
		Generator: scriptedGenerator(nil, []string{"SELECT 1"}, nil),
		Store:     store,
	})

	require.NoError(t, c.Ask(context.Background(), "q", "db1"))
	assert.Len(t, c.Snapshot().Turns, 2)
}

// =============================================================================
// RunTurn
// =============================================================================

func TestRunTurn_Success(t *testing.T) {
	store := &memStore{}
	result := &ExecutionResult{
		Status:  ExecSuccess,
		QueryID: "q-9",
		Columns: []string{"n"},
		Data:    [][]any{{int64(7)}},
		Rows:    1,
	}
	var executed ExecuteRequest
	c := newTestController(t, Config{
		Generator: scriptedGenerator(nil, []string{"SELECT count(*) FROM users"}, nil),
		Executor: executorFunc(func(_ context.Context, req ExecuteRequest) (*ExecutionResult, error) {
			executed = req
			return result, nil
		}),
		Store: store,
	})
	id := askOnce(t, c, "how many users?")

	require.NoError(t, c.RunTurn(context.Background(), id))

	assert.Equal(t, "SELECT count(*) FROM users", executed.SQL)
	assert.Equal(t, "db1", executed.SourceID)
	assert.Equal(t, "how many users?", executed.UserQuery)

	snap := c.Snapshot()
	require.Len(t, snap.Turns, 3)
	preview := snap.Turns[2].Turn
	assert.Equal(t, TurnDataPreview, preview.Type)
	assert.Equal(t, id, preview.Preview.SourceTurnID)

	state := snap.Turns[1].State
	require.NotNil(t, state.Result)
	assert.True(t, state.ShowData)
	assert.False(t, state.Running)
	assert.Nil(t, state.Err)
	assert.False(t, state.CanFix())

	assert.Equal(t, 3, store.count(), "preview turn persisted")
}

func TestRunTurn_SemanticError(t *testing.T) {
	c := newTestController(t, Config{
		Generator: scriptedGenerator(nil, []string{"SELECT * FROM nope"}, nil),
		Executor: okExecutor(&ExecutionResult{
			Status:  ExecError,
			Message: "no such table: nope",
		}),
	})
	id := askOnce(t, c, "q")

	require.NoError(t, c.RunTurn(context.Background(), id))

	snap := c.Snapshot()
	assert.Len(t, snap.Turns, 2, "no preview on failure")
	state := snap.Turns[1].State
	require.NotNil(t, state.Err)
	assert.Equal(t, "no such table: nope", state.Err.Message)
	assert.Nil(t, state.Result)
	assert.True(t, state.CanFix())
}

func TestRunTurn_TransportError(t *testing.T) {
	c := newTestController(t, Config{
		Generator: scriptedGenerator(nil, []string{"SELECT 1"}, nil),
		Executor: executorFunc(func(_ context.Context, _ ExecuteRequest) (*ExecutionResult, error) {
			return nil, errors.New("backend unreachable")
		}),
	})
	id := askOnce(t, c, "q")

	require.NoError(t, c.RunTurn(context.Background(), id))

	state := c.Snapshot().Turns[1].State
	require.NotNil(t, state.Err)
	assert.Contains(t, state.Err.Message, "backend unreachable")
}

func TestRunTurn_RerunClearsOldOutcome(t *testing.T) {
	calls := 0
	c := newTestController(t, Config{
		Generator: scriptedGenerator(nil, []string{"SELECT 1"}, nil),
		Executor: executorFunc(func(_ context.Context, _ ExecuteRequest) (*ExecutionResult, error) {
			calls++
			if calls == 1 {
				return &ExecutionResult{Status: ExecError, Message: "boom"}, nil
			}
			return &ExecutionResult{Status: ExecSuccess, Rows: 1, Columns: []string{"n"}}, nil
		}),
	})
	id := askOnce(t, c, "q")

	require.NoError(t, c.RunTurn(context.Background(), id))
	require.NotNil(t, c.Snapshot().Turns[1].State.Err)

	require.NoError(t, c.RunTurn(context.Background(), id))
	state := c.Snapshot().Turns[1].State
	assert.Nil(t, state.Err)
	require.NotNil(t, state.Result)
	assert.Equal(t, ExecSuccess, state.Result.Status)
}

func TestRunTurn_AlreadyRunning(t *testing.T) {
	release := make(chan struct{})
	running := make(chan struct{})
	c := newTestController(t, Config{
		Generator: scriptedGenerator(nil, []string{"SELECT 1"}, nil),
		Executor: executorFunc(func(_ context.Context, _ ExecuteRequest) (*ExecutionResult, error) {
			close(running)
			<-release
			return &ExecutionResult{Status: ExecSuccess}, nil
		}),
	})
	id := askOnce(t, c, "q")

	done := make(chan error, 1)
	go func() {
		done <- c.RunTurn(context.Background(), id)
	}()
	<-running

	assert.ErrorIs(t, c.RunTurn(context.Background(), id), ErrTurnRunning)

	close(release)
	require.NoError(t, <-done)
}

func TestRunTurn_UnknownTurn(t *testing.T) {
	c := newTestController(t, Config{
		Generator: scriptedGenerator(nil, nil, nil),
		Executor:  okExecutor(&ExecutionResult{Status: ExecSuccess}),
	})
	assert.ErrorIs(t, c.RunTurn(context.Background(), "missing"), ErrUnknownTurn)
}

func TestRunTurn_AttachesVisualization(t *testing.T) {
	spec := &VizSpec{Title: "Users over time", Spec: []byte(`{"mark":"line"}`)}
	c := newTestController(t, Config{
		Generator: scriptedGenerator(nil, []string{"SELECT 1"}, nil),
		Executor: okExecutor(&ExecutionResult{
			Status: ExecSuccess, QueryID: "q-1", Rows: 1,
		}),
		Visualizer: visualizerFunc(func(_ context.Context, queryID string) (*VizSpec, error) {
			assert.Equal(t, "q-1", queryID)
			return spec, nil
		}),
	})
	id := askOnce(t, c, "q")

	require.NoError(t, c.RunTurn(context.Background(), id))
	state := c.Snapshot().Turns[1].State
	require.NotNil(t, state.Viz)
	assert.Equal(t, "Users over time", state.Viz.Title)
}

// =============================================================================
// FixTurn
// =============================================================================

func TestFixTurn_ReplacesDraftOnly(t *testing.T) {
	store := &memStore{}
	c := newTestController(t, Config{
		Generator: scriptedGenerator(nil, []string{"SELEC broken"}, nil),
		Executor:  okExecutor(&ExecutionResult{Status: ExecError, Message: "syntax error"}),
		Fixer: fixerFunc(func(_ context.Context, question, brokenSQL, errorMessage string) (string, error) {
			assert.Equal(t, "q", question)
			assert.Equal(t, "SELEC broken", brokenSQL)
			assert.Equal(t, "syntax error", errorMessage)
			return "SELECT fixed", nil
		}),
		Store: store,
	})
	id := askOnce(t, c, "q")
	require.NoError(t, c.RunTurn(context.Background(), id))

	before := store.count()
	require.NoError(t, c.FixTurn(context.Background(), id))

	snap := c.Snapshot()
	assert.Equal(t, "SELECT fixed", snap.Turns[1].State.EditableSQL)
	assert.Equal(t, "SELEC broken", snap.Turns[1].Turn.Query.SQL, "the recorded answer is untouched")
	assert.Equal(t, before, store.count(), "fixing writes nothing")
}

func TestFixTurn_ZeroRowsAllowsFix(t *testing.T) {
	c := newTestController(t, Config{
		Generator: scriptedGenerator(nil, []string{"SELECT * FROM empty"}, nil),
		Executor:  okExecutor(&ExecutionResult{Status: ExecSuccess, Rows: 0}),
		Fixer: fixerFunc(func(_ context.Context, _, _, errorMessage string) (string, error) {
			assert.Empty(t, errorMessage)
			return "SELECT better", nil
		}),
	})
	id := askOnce(t, c, "q")
	require.NoError(t, c.RunTurn(context.Background(), id))

	require.NoError(t, c.FixTurn(context.Background(), id))
	assert.Equal(t, "SELECT better", c.Snapshot().Turns[1].State.EditableSQL)
}

func TestFixTurn_UnavailableAfterSuccess(t *testing.T) {
	c := newTestController(t, Config{
		Generator: scriptedGenerator(nil, []string{"SELECT 1"}, nil),
		Executor:  okExecutor(&ExecutionResult{Status: ExecSuccess, Rows: 3}),
		Fixer: fixerFunc(func(_ context.Context, _, _, _ string) (string, error) {
			t.Fatal("fixer should not be called")
			return "", nil
		}),
	})
	id := askOnce(t, c, "q")
	require.NoError(t, c.RunTurn(context.Background(), id))

	assert.ErrorIs(t, c.FixTurn(context.Background(), id), ErrFixUnavailable)
}

func TestFixTurn_FixerFailureLeavesDraft(t *testing.T) {
	c := newTestController(t, Config{
		Generator: scriptedGenerator(nil, []string{"SELEC broken"}, nil),
		Executor:  okExecutor(&ExecutionResult{Status: ExecError, Message: "syntax error"}),
		Fixer: fixerFunc(func(_ context.Context, _, _, _ string) (string, error) {
			return "", errors.New("fix service down")
		}),
	})
	id := askOnce(t, c, "q")
	require.NoError(t, c.RunTurn(context.Background(), id))

	err := c.FixTurn(context.Background(), id)
	require.Error(t, err)
	assert.Equal(t, "SELEC broken", c.Snapshot().Turns[1].State.EditableSQL)
}

// =============================================================================
// Draft edits and toggles
// =============================================================================

func TestSetEditableSQL(t *testing.T) {
	c := newTestController(t, Config{
		Generator: scriptedGenerator(nil, []string{"SELECT 1"}, nil),
	})
	id := askOnce(t, c, "q")

	require.NoError(t, c.SetEditableSQL(id, "SELECT 2"))
	snap := c.Snapshot()
	assert.Equal(t, "SELECT 2", snap.Turns[1].State.EditableSQL)
	assert.Equal(t, "SELECT 1", snap.Turns[1].Turn.Query.SQL)

	assert.ErrorIs(t, c.SetEditableSQL("missing", "x"), ErrUnknownTurn)
}

func TestSetShowData(t *testing.T) {
	c := newTestController(t, Config{
		Generator: scriptedGenerator(nil, []string{"SELECT 1"}, nil),
	})
	id := askOnce(t, c, "q")

	require.NoError(t, c.SetShowData(id, true))
	assert.True(t, c.Snapshot().Turns[1].State.ShowData)
	require.NoError(t, c.SetShowData(id, false))
	assert.False(t, c.Snapshot().Turns[1].State.ShowData)
}

func TestSnapshot_IsolatedFromLaterMutation(t *testing.T) {
	c := newTestController(t, Config{
		Generator: scriptedGenerator(
			[]Step{{Title: "Plan", Status: StepPending}},
			[]string{"SELECT 1"},
			nil,
		),
	})
	id := askOnce(t, c, "q")

	snap := c.Snapshot()
	require.NoError(t, c.SetEditableSQL(id, "SELECT 999"))

	assert.Equal(t, "SELECT 1", snap.Turns[1].State.EditableSQL)
}
