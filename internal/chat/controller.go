package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// persistTimeout bounds fire-and-forget store writes so a stalled store
// cannot wedge a finished exchange.
const persistTimeout = 5 * time.Second

// Config wires a Controller to its collaborators. Generator and Executor
// are required; Fixer, Visualizer and Store are optional.
type Config struct {
	SessionID  string
	Generator  Generator
	Executor   Executor
	Fixer      Fixer
	Visualizer Visualizer
	Store      MessageStore
	Logger     *slog.Logger
	// OnChange is invoked after every observable mutation, outside the
	// controller lock. Observers re-read via Snapshot.
	OnChange func()
}

// Controller owns one conversation session: the ordered turn log and the
// per-turn interactive state. All mutation flows through its operations; a
// single mutex serializes them, and stream events for an exchange are
// applied from one goroutine in arrival order. At most one generation
// exchange is open per session, while SQL executions may run concurrently
// across turns.
type Controller struct {
	sessionID string
	generator Generator
	executor  Executor
	fixer     Fixer
	viz       Visualizer
	store     MessageStore
	logger    *slog.Logger
	onChange  func()

	mu           sync.Mutex
	turns        []*Turn
	states       *StateMap
	streaming    bool
	streamTurnID string
	cancelStream context.CancelFunc
	draftSQL     string
}

// NewController creates a controller for a session. The turn log starts
// empty; call Restore to load a persisted conversation.
func NewController(cfg Config) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Controller{
		sessionID: cfg.SessionID,
		generator: cfg.Generator,
		executor:  cfg.Executor,
		fixer:     cfg.Fixer,
		viz:       cfg.Visualizer,
		store:     cfg.Store,
		logger:    logger,
		onChange:  cfg.OnChange,
		states:    NewStateMap(),
	}
}

// SessionID returns the session this controller owns.
func (c *Controller) SessionID() string { return c.sessionID }

// TurnView is a point-in-time copy of a turn and its interactive state,
// safe to read outside the controller lock.
type TurnView struct {
	Index     int
	Turn      Turn
	State     TurnState
	HasState  bool
	Streaming bool
}

// Snapshot is a consistent copy of the whole session for rendering.
type Snapshot struct {
	SessionID string
	Turns     []TurnView
	Streaming bool
}

// Snapshot copies the session under the lock. data_preview turns are
// included; renderers skip them and surface their data through the owning
// turn's state instead.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		SessionID: c.sessionID,
		Streaming: c.streaming,
		Turns:     make([]TurnView, 0, len(c.turns)),
	}
	for i, t := range c.turns {
		view := TurnView{
			Index:     i,
			Turn:      cloneTurn(t),
			Streaming: c.streaming && t.ID == c.streamTurnID,
		}
		if st := c.states.Get(t.ID); st != nil {
			view.State = *st
			view.HasState = true
		}
		snap.Turns = append(snap.Turns, view)
	}
	return snap
}

// Streaming reports whether a generation exchange is currently open.
func (c *Controller) Streaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streaming
}

// Ask opens a generation exchange for question against sourceID. It appends
// the user turn and an assistant query_result turn, then blocks while the
// stream runs, applying step and sql events in arrival order. The exchange
// finalizes in whatever state it reached: a transport error or cancellation
// keeps the accumulated steps and SQL and still persists the turn. Returns
// ErrExchangeInFlight if an exchange is already open.
func (c *Controller) Ask(ctx context.Context, question, sourceID string) error {
	c.mu.Lock()
	if c.streaming {
		c.mu.Unlock()
		return ErrExchangeInFlight
	}

	reqContext := BuildContext(c.turns, question, c.draftSQL)

	userTurn := NewTextTurn(RoleUser, question)
	assistant := NewQueryTurn(question, sourceID)
	c.turns = append(c.turns, userTurn, assistant)
	c.states.Ensure(assistant.ID)

	streamCtx, cancel := context.WithCancel(ctx)
	c.streaming = true
	c.streamTurnID = assistant.ID
	c.cancelStream = cancel
	c.mu.Unlock()

	c.persist(userTurn)
	c.notify()

	req := GenerateRequest{Question: question, SourceID: sourceID, Context: reqContext}
	streamErr := c.generator.GenerateSQL(streamCtx, req,
		func(s Step) { c.applyStep(assistant.ID, s) },
		func(chunk string) { c.applySQL(assistant.ID, chunk) },
	)
	cancel()

	c.mu.Lock()
	c.streaming = false
	c.streamTurnID = ""
	c.cancelStream = nil
	c.draftSQL = assistant.Query.SQL
	c.mu.Unlock()

	c.persist(assistant)
	c.notify()

	if streamErr != nil && !errors.Is(streamErr, context.Canceled) {
		c.logger.Warn("generation stream failed",
			"session", c.sessionID, "turn", assistant.ID, "error", streamErr)
		return fmt.Errorf("generate sql: %w", streamErr)
	}
	return nil
}

// Cancel aborts the open generation exchange, if any. The stream terminates
// and the exchange finalizes with partial content through the normal path.
func (c *Controller) Cancel() {
	c.mu.Lock()
	cancel := c.cancelStream
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// RunTurn executes the turn's current SQL draft. On success the result is
// recorded on the turn state, the data panel opens, and a data_preview turn
// is appended and persisted. A semantic failure or transport failure records
// only the error. Read-only turns are a no-op. Returns ErrTurnRunning if
// this turn is already executing; other turns may run concurrently.
func (c *Controller) RunTurn(ctx context.Context, id string) error {
	c.mu.Lock()
	turn := c.turnByID(id)
	if turn == nil || turn.Type != TurnQueryResult {
		c.mu.Unlock()
		return ErrUnknownTurn
	}
	st := c.states.Ensure(id)
	if st.ReadOnly {
		c.mu.Unlock()
		return nil
	}
	if st.Running {
		c.mu.Unlock()
		return ErrTurnRunning
	}
	st.Running = true
	st.Err = nil
	st.Result = nil
	st.Viz = nil
	req := ExecuteRequest{
		SourceID:  turn.Query.SourceID,
		SQL:       st.EditableSQL,
		UserQuery: turn.Query.Question,
	}
	c.mu.Unlock()
	c.notify()

	result, execErr := c.executor.ExecuteSQL(ctx, req)

	var preview *Turn
	c.mu.Lock()
	switch {
	case execErr != nil:
		st.Err = &QueryError{Message: execErr.Error()}
	case result.Status != ExecSuccess:
		st.Err = &QueryError{Message: result.Message}
	default:
		st.Result = result
		st.ShowData = true
		preview = NewPreviewTurn(result, id)
		c.turns = append(c.turns, preview)
	}
	st.Running = false
	c.mu.Unlock()

	if preview != nil {
		c.persist(preview)
	}
	c.notify()

	if preview != nil {
		c.fetchVisualization(ctx, st, result.QueryID)
	}
	return nil
}

// fetchVisualization opportunistically attaches a chart spec to a
// successful run. Absence or failure is not an error.
func (c *Controller) fetchVisualization(ctx context.Context, st *TurnState, queryID string) {
	if c.viz == nil || queryID == "" {
		return
	}
	spec, err := c.viz.Visualize(ctx, queryID)
	if err != nil {
		c.logger.Debug("visualization fetch failed", "session", c.sessionID, "query_id", queryID, "error", err)
		return
	}
	if spec == nil {
		return
	}
	c.mu.Lock()
	st.Viz = spec
	c.mu.Unlock()
	c.notify()
}

// FixTurn asks the fixer for a repaired statement and replaces the turn's
// SQL draft with it. Available only when the last run failed or returned
// zero rows. The turn log is never touched; failure leaves state unchanged.
func (c *Controller) FixTurn(ctx context.Context, id string) error {
	c.mu.Lock()
	turn := c.turnByID(id)
	st := c.states.Get(id)
	if turn == nil || turn.Type != TurnQueryResult || st == nil {
		c.mu.Unlock()
		return ErrUnknownTurn
	}
	if st.ReadOnly {
		c.mu.Unlock()
		return nil
	}
	if !st.CanFix() {
		c.mu.Unlock()
		return ErrFixUnavailable
	}
	question := turn.Query.Question
	broken := st.EditableSQL
	errMsg := ""
	if st.Err != nil {
		errMsg = st.Err.Message
	}
	c.mu.Unlock()

	fixed, err := c.fixer.FixSQL(ctx, question, broken, errMsg)
	if err != nil {
		c.logger.Warn("sql fix failed", "session", c.sessionID, "turn", id, "error", err)
		return fmt.Errorf("fix sql: %w", err)
	}

	c.mu.Lock()
	st.EditableSQL = fixed
	c.mu.Unlock()
	c.notify()
	return nil
}

// SetEditableSQL replaces the SQL draft of a turn. No-op on read-only turns.
func (c *Controller) SetEditableSQL(id, sql string) error {
	c.mu.Lock()
	turn := c.turnByID(id)
	if turn == nil || turn.Type != TurnQueryResult {
		c.mu.Unlock()
		return ErrUnknownTurn
	}
	st := c.states.Ensure(id)
	if st.ReadOnly {
		c.mu.Unlock()
		return nil
	}
	st.EditableSQL = sql
	c.mu.Unlock()
	c.notify()
	return nil
}

// SetShowData toggles the data panel of a turn. No-op on read-only turns.
func (c *Controller) SetShowData(id string, show bool) error {
	c.mu.Lock()
	turn := c.turnByID(id)
	if turn == nil || turn.Type != TurnQueryResult {
		c.mu.Unlock()
		return ErrUnknownTurn
	}
	st := c.states.Ensure(id)
	if st.ReadOnly {
		c.mu.Unlock()
		return nil
	}
	st.ShowData = show
	c.mu.Unlock()
	c.notify()
	return nil
}

// applyStep extends the streaming turn's step list. Steps are appended as
// received; grouping happens at render time.
func (c *Controller) applyStep(id string, s Step) {
	c.mu.Lock()
	if turn := c.turnByID(id); turn != nil && turn.Query != nil {
		turn.Query.Steps = append(turn.Query.Steps, s)
	}
	c.mu.Unlock()
	c.notify()
}

// applySQL appends a streamed SQL fragment and mirrors the full text into
// the turn's editable draft.
func (c *Controller) applySQL(id string, chunk string) {
	c.mu.Lock()
	if turn := c.turnByID(id); turn != nil && turn.Query != nil {
		turn.Query.SQL += chunk
		c.states.Ensure(id).EditableSQL = turn.Query.SQL
	}
	c.mu.Unlock()
	c.notify()
}

// turnByID finds a turn in the log. Caller holds the lock.
func (c *Controller) turnByID(id string) *Turn {
	for _, t := range c.turns {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// persist writes a turn to the store, fire-and-forget. Store failures are
// logged and never block or roll back local state.
func (c *Controller) persist(turn *Turn) {
	if c.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := c.store.AppendMessage(ctx, c.sessionID, turn); err != nil {
		c.logger.Warn("failed to persist turn",
			"session", c.sessionID, "turn", turn.ID, "type", turn.Type, "error", err)
	}
}

func (c *Controller) notify() {
	if c.onChange != nil {
		c.onChange()
	}
}

// cloneTurn deep-copies the mutable parts of a turn so snapshots stay
// stable while streaming continues.
func cloneTurn(t *Turn) Turn {
	clone := *t
	if t.Text != nil {
		text := *t.Text
		clone.Text = &text
	}
	if t.Query != nil {
		query := *t.Query
		query.Steps = append([]Step(nil), t.Query.Steps...)
		clone.Query = &query
	}
	if t.Preview != nil {
		preview := *t.Preview
		clone.Preview = &preview
	}
	return clone
}
