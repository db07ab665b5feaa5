// Package features provides shared test utilities for UI feature tests.
package features

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/sessions"
	"github.com/stretchr/testify/require"

	chatcore "github.com/leapstack-labs/leapchat/internal/chat"
	"github.com/leapstack-labs/leapchat/internal/store"
	"github.com/leapstack-labs/leapchat/internal/testutil"
	"github.com/leapstack-labs/leapchat/internal/ui/notifier"
)

// ScriptedGenerator replays a fixed sequence of steps and SQL chunks.
type ScriptedGenerator struct {
	Steps  []chatcore.Step
	Chunks []string
	Err    error

	mu       sync.Mutex
	Requests []chatcore.GenerateRequest
}

func (g *ScriptedGenerator) GenerateSQL(ctx context.Context, req chatcore.GenerateRequest, onStep chatcore.StepFunc, onSQL chatcore.ChunkFunc) error {
	g.mu.Lock()
	g.Requests = append(g.Requests, req)
	g.mu.Unlock()

	for _, s := range g.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		onStep(s)
	}
	for _, c := range g.Chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		onSQL(c)
	}
	return g.Err
}

// FakeExecutor returns a canned execution result.
type FakeExecutor struct {
	Result *chatcore.ExecutionResult
	Err    error

	mu    sync.Mutex
	Calls []chatcore.ExecuteRequest
}

func (e *FakeExecutor) ExecuteSQL(_ context.Context, req chatcore.ExecuteRequest) (*chatcore.ExecutionResult, error) {
	e.mu.Lock()
	e.Calls = append(e.Calls, req)
	e.mu.Unlock()
	if e.Err != nil {
		return nil, e.Err
	}
	return e.Result, nil
}

// FakeFixer returns a canned repaired statement.
type FakeFixer struct {
	Fixed string
	Err   error
}

func (f *FakeFixer) FixSQL(_ context.Context, _, _, _ string) (string, error) {
	return f.Fixed, f.Err
}

// FakeVisualizer returns a canned chart spec, or nothing.
type FakeVisualizer struct {
	Spec *chatcore.VizSpec
	Err  error
}

func (v *FakeVisualizer) Visualize(_ context.Context, _ string) (*chatcore.VizSpec, error) {
	return v.Spec, v.Err
}

// TestFixture holds all dependencies needed for UI handler tests.
type TestFixture struct {
	Store        *store.Store
	Manager      *chatcore.Manager
	Notifier     *notifier.Notifier
	SessionStore *sessions.CookieStore
	Generator    *ScriptedGenerator
	Executor     *FakeExecutor
	Fixer        *FakeFixer
}

// SetupTestFixture creates a manager backed by an in-memory store, with
// scripted backend fakes. State changes broadcast through the notifier the
// same way the server wires them.
func SetupTestFixture(t *testing.T) *TestFixture {
	t.Helper()

	logger := testutil.NewTestLogger(t)

	st, err := store.Open(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = st.Close()
	})

	notify := notifier.New()

	gen := &ScriptedGenerator{
		Steps: []chatcore.Step{
			{Title: "Planning", Status: chatcore.StepPending},
			{Title: "Planning", Status: chatcore.StepDone},
		},
		Chunks: []string{"SELECT ", "1"},
	}
	exec := &FakeExecutor{
		Result: &chatcore.ExecutionResult{
			Status:  chatcore.ExecSuccess,
			QueryID: "q-1",
			Columns: []string{"n"},
			Data:    [][]any{{int64(1)}},
			Rows:    1,
		},
	}
	fixer := &FakeFixer{Fixed: "SELECT 2"}

	manager := chatcore.NewManager(chatcore.ManagerConfig{
		Store: st,
		Deps: chatcore.Collaborators{
			Generator:  gen,
			Executor:   exec,
			Fixer:      fixer,
			Visualizer: &FakeVisualizer{},
		},
		Logger: logger,
		OnChange: func(sessionID string) {
			notify.Broadcast(sessionID)
		},
	})

	return &TestFixture{
		Store:        st,
		Manager:      manager,
		Notifier:     notify,
		SessionStore: NewTestSessionStore(),
		Generator:    gen,
		Executor:     exec,
		Fixer:        fixer,
	}
}

// CreateChat makes a persisted session and returns it.
func (f *TestFixture) CreateChat(t *testing.T) *chatcore.Session {
	t.Helper()
	session, err := f.Manager.CreateSession(context.Background())
	require.NoError(t, err)
	return session
}

// RequestWithPathParam wraps a request with chi URL params.
func RequestWithPathParam(r *http.Request, key, value string) *http.Request {
	rctx, ok := r.Context().Value(chi.RouteCtxKey).(*chi.Context)
	if !ok {
		rctx = chi.NewRouteContext()
		r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
	}
	rctx.URLParams.Add(key, value)
	return r
}

// RequestWithTimeout wraps a request with a context timeout.
func RequestWithTimeout(r *http.Request, timeout time.Duration) *http.Request {
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	_ = cancel // the timeout cancels for us
	return r.WithContext(ctx)
}

// NewTestSessionStore creates a cookie store for testing.
func NewTestSessionStore() *sessions.CookieStore {
	return sessions.NewCookieStore([]byte("test-secret-key-32-bytes-long!!"))
}
