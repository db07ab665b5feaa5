package chat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chatcore "github.com/leapstack-labs/leapchat/internal/chat"
	"github.com/leapstack-labs/leapchat/internal/ui/features"
)

// =============================================================================
// Test Setup Helpers
// =============================================================================

func setupTestHandlers(t *testing.T) (*Handlers, *features.TestFixture) {
	t.Helper()

	fixture := features.SetupTestFixture(t)

	handlers := NewHandlers(Deps{
		Manager:       fixture.Manager,
		SessionStore:  fixture.SessionStore,
		Notifier:      fixture.Notifier,
		DefaultSource: "db1",
		IsDev:         true,
	})

	return handlers, fixture
}

func postSignals(t *testing.T, h http.HandlerFunc, target, body string, params map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(http.MethodPost, target, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range params {
		req = features.RequestWithPathParam(req, k, v)
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

// ask runs a full question/answer exchange and returns the assistant turn id.
func ask(t *testing.T, h *Handlers, fixture *features.TestFixture, sessionID, question string) string {
	t.Helper()

	postSignals(t, h.Ask, "/chats/"+sessionID+"/ask",
		`{"question":"`+question+`","source":"db1"}`,
		map[string]string{"id": sessionID})

	ctrl, err := fixture.Manager.Controller(context.Background(), sessionID)
	require.NoError(t, err)
	snap := ctrl.Snapshot()
	require.NotEmpty(t, snap.Turns)
	last := snap.Turns[len(snap.Turns)-1]
	require.Equal(t, chatcore.TurnQueryResult, last.Turn.Type)
	return last.Turn.ID
}

// =============================================================================
// ChatPage Tests - Full HTML page responses with server-rendered content
// =============================================================================

func TestChatPage(t *testing.T) {
	h, fixture := setupTestHandlers(t)
	session := fixture.CreateChat(t)

	req := httptest.NewRequest(http.MethodGet, "/chats/"+session.ID, nil)
	req = features.RequestWithPathParam(req, "id", session.ID)
	rec := httptest.NewRecorder()

	h.ChatPage(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	for _, want := range []string{
		"<!doctype html>",
		"<title>New Chat - LeapChat</title>",
		"chat-feed",
		"/chats/" + session.ID + "/updates",
		"data-bind-question",
	} {
		assert.Contains(t, body, want, "response should contain %q", want)
	}
}

func TestChatPage_UnknownSession(t *testing.T) {
	h, _ := setupTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/chats/nope", nil)
	req = features.RequestWithPathParam(req, "id", "nope")
	rec := httptest.NewRecorder()

	h.ChatPage(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// Ask Tests - blocking exchange that appends a question and an answer
// =============================================================================

func TestAsk_AppendsExchange(t *testing.T) {
	h, fixture := setupTestHandlers(t)
	session := fixture.CreateChat(t)

	postSignals(t, h.Ask, "/chats/"+session.ID+"/ask",
		`{"question":"total sales by region?","source":"db1"}`,
		map[string]string{"id": session.ID})

	ctrl, err := fixture.Manager.Controller(context.Background(), session.ID)
	require.NoError(t, err)
	snap := ctrl.Snapshot()
	require.Len(t, snap.Turns, 2)

	assert.Equal(t, chatcore.RoleUser, snap.Turns[0].Turn.Role)
	assert.Equal(t, "total sales by region?", snap.Turns[0].Turn.PlainText())

	answer := snap.Turns[1].Turn
	require.NotNil(t, answer.Query)
	assert.Equal(t, "SELECT 1", answer.Query.SQL)
	assert.Equal(t, "db1", answer.Query.SourceID)
	assert.False(t, snap.Streaming)

	// First question becomes the title
	updated, err := fixture.Manager.GetSession(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, "total sales by region?", updated.Title)
}

func TestAsk_EmptyQuestionIsIgnored(t *testing.T) {
	h, fixture := setupTestHandlers(t)
	session := fixture.CreateChat(t)

	postSignals(t, h.Ask, "/chats/"+session.ID+"/ask",
		`{"question":"   ","source":"db1"}`,
		map[string]string{"id": session.ID})

	ctrl, err := fixture.Manager.Controller(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Empty(t, ctrl.Snapshot().Turns)
	assert.Empty(t, fixture.Generator.Requests)
}

func TestAsk_RecordsContext(t *testing.T) {
	h, fixture := setupTestHandlers(t)
	session := fixture.CreateChat(t)

	ask(t, h, fixture, session.ID, "first question")
	ask(t, h, fixture, session.ID, "second question")

	require.Len(t, fixture.Generator.Requests, 2)
	first := fixture.Generator.Requests[0]
	require.Len(t, first.Context, 1)
	assert.Equal(t, "first question", first.Context[0].Content.Text)
	assert.Empty(t, first.Context[0].Content.SQL)

	second := fixture.Generator.Requests[1]
	// The prior question, then the new one carrying the draft SQL. Query
	// turns themselves never appear.
	require.Len(t, second.Context, 2)
	assert.Equal(t, "first question", second.Context[0].Content.Text)
	assert.Equal(t, "second question", second.Context[1].Content.Text)
	assert.Equal(t, "SELECT 1", second.Context[1].Content.SQL)
}

// =============================================================================
// RunTurn / FixTurn / ToggleData Tests
// =============================================================================

func TestRunTurn_UsesLatestDraft(t *testing.T) {
	h, fixture := setupTestHandlers(t)
	session := fixture.CreateChat(t)
	turnID := ask(t, h, fixture, session.ID, "count users")

	postSignals(t, h.RunTurn, "/chats/"+session.ID+"/turns/"+turnID+"/run",
		`{"sql":{"`+signalID(turnID)+`":"SELECT 42"}}`,
		map[string]string{"id": session.ID, "turnID": turnID})

	require.Len(t, fixture.Executor.Calls, 1)
	assert.Equal(t, "SELECT 42", fixture.Executor.Calls[0].SQL)
	assert.Equal(t, "db1", fixture.Executor.Calls[0].SourceID)

	ctrl, err := fixture.Manager.Controller(context.Background(), session.ID)
	require.NoError(t, err)
	snap := ctrl.Snapshot()

	// A preview record follows the executed turn
	require.Len(t, snap.Turns, 3)
	assert.Equal(t, chatcore.TurnDataPreview, snap.Turns[2].Turn.Type)

	var state chatcore.TurnState
	var found bool
	for _, view := range snap.Turns {
		if view.Turn.ID == turnID {
			state, found = view.State, view.HasState
		}
	}
	require.True(t, found)
	require.NotNil(t, state.Result)
	assert.Equal(t, chatcore.ExecSuccess, state.Result.Status)
	assert.True(t, state.ShowData)
	assert.False(t, state.Running)
}

func TestRunTurn_SemanticErrorEnablesFix(t *testing.T) {
	h, fixture := setupTestHandlers(t)
	fixture.Executor.Result = &chatcore.ExecutionResult{
		Status:  chatcore.ExecError,
		Message: "no such table: users",
	}
	session := fixture.CreateChat(t)
	turnID := ask(t, h, fixture, session.ID, "count users")

	postSignals(t, h.RunTurn, "/chats/"+session.ID+"/turns/"+turnID+"/run",
		`{"sql":{}}`,
		map[string]string{"id": session.ID, "turnID": turnID})

	ctrl, err := fixture.Manager.Controller(context.Background(), session.ID)
	require.NoError(t, err)
	snap := ctrl.Snapshot()
	require.Len(t, snap.Turns, 2, "failed runs should not append a preview")

	require.True(t, snap.Turns[1].HasState)
	state := snap.Turns[1].State
	require.NotNil(t, state.Err)
	assert.Contains(t, state.Err.Error(), "no such table")
	assert.True(t, state.CanFix())
}

func TestFixTurn_ReplacesDraft(t *testing.T) {
	h, fixture := setupTestHandlers(t)
	fixture.Executor.Result = &chatcore.ExecutionResult{
		Status:  chatcore.ExecError,
		Message: "syntax error",
	}
	session := fixture.CreateChat(t)
	turnID := ask(t, h, fixture, session.ID, "count users")

	postSignals(t, h.RunTurn, "/chats/"+session.ID+"/turns/"+turnID+"/run",
		`{"sql":{}}`,
		map[string]string{"id": session.ID, "turnID": turnID})

	rec := postSignals(t, h.FixTurn, "/chats/"+session.ID+"/turns/"+turnID+"/fix",
		"", map[string]string{"id": session.ID, "turnID": turnID})

	ctrl, err := fixture.Manager.Controller(context.Background(), session.ID)
	require.NoError(t, err)
	view := ctrl.Snapshot().Turns[1]
	require.True(t, view.HasState)
	assert.Equal(t, "SELECT 2", view.State.EditableSQL)

	// The repaired draft is pushed into the editor signal
	assert.Contains(t, rec.Body.String(), "SELECT 2")
}

func TestFixTurn_UnavailableWithoutError(t *testing.T) {
	h, fixture := setupTestHandlers(t)
	session := fixture.CreateChat(t)
	turnID := ask(t, h, fixture, session.ID, "count users")

	rec := postSignals(t, h.FixTurn, "/chats/"+session.ID+"/turns/"+turnID+"/fix",
		"", map[string]string{"id": session.ID, "turnID": turnID})

	assert.Contains(t, rec.Body.String(), "console.error")
}

func TestToggleData_FlipsPanel(t *testing.T) {
	h, fixture := setupTestHandlers(t)
	session := fixture.CreateChat(t)
	turnID := ask(t, h, fixture, session.ID, "count users")

	postSignals(t, h.RunTurn, "/chats/"+session.ID+"/turns/"+turnID+"/run",
		`{"sql":{}}`,
		map[string]string{"id": session.ID, "turnID": turnID})

	postSignals(t, h.ToggleData, "/chats/"+session.ID+"/turns/"+turnID+"/toggle",
		"", map[string]string{"id": session.ID, "turnID": turnID})

	ctrl, err := fixture.Manager.Controller(context.Background(), session.ID)
	require.NoError(t, err)
	view := ctrl.Snapshot().Turns[1]
	require.True(t, view.HasState)
	assert.False(t, view.State.ShowData, "a successful run shows data, so toggling hides it")
}

// =============================================================================
// ChatUpdates Tests - SSE endpoint for live updates only
// =============================================================================

func TestChatUpdates_SendsFeedOnBroadcast(t *testing.T) {
	h, fixture := setupTestHandlers(t)
	session := fixture.CreateChat(t)
	ask(t, h, fixture, session.ID, "total revenue?")

	req := httptest.NewRequest(http.MethodGet, "/chats/"+session.ID+"/updates", nil)
	req = features.RequestWithPathParam(req, "id", session.ID)
	req = features.RequestWithTimeout(req, 300*time.Millisecond)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		h.ChatUpdates(rec, req)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	fixture.Notifier.Broadcast(session.ID)

	<-done

	body := rec.Body.String()
	eventCount := strings.Count(body, "event:")
	assert.GreaterOrEqual(t, eventCount, 1, "should have at least 1 SSE event from broadcast")
	assert.Contains(t, body, "chat-feed", "update should carry the feed fragment")
	assert.Contains(t, body, "total revenue?", "update should contain the conversation")
}

func TestChatUpdates_IgnoresOtherSessions(t *testing.T) {
	h, fixture := setupTestHandlers(t)
	session := fixture.CreateChat(t)

	req := httptest.NewRequest(http.MethodGet, "/chats/"+session.ID+"/updates", nil)
	req = features.RequestWithPathParam(req, "id", session.ID)
	req = features.RequestWithTimeout(req, 150*time.Millisecond)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		h.ChatUpdates(rec, req)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	fixture.Notifier.Broadcast("some-other-session")

	<-done

	eventCount := strings.Count(rec.Body.String(), "event:")
	assert.Equal(t, 0, eventCount, "pings for other sessions should be filtered")
}

// =============================================================================
// Helper Tests
// =============================================================================

func TestSignalID(t *testing.T) {
	assert.Equal(t, "abc123", signalID("abc-123"))
	assert.Equal(t,
		"9f8e7d6c5b4a39281716051423324150",
		signalID("9f8e7d6c-5b4a-3928-1716-051423324150"))
}
