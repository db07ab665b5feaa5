package sessions

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapchat/internal/ui/features"
)

func setupTestHandlers(t *testing.T) (*Handlers, *features.TestFixture) {
	t.Helper()

	fixture := features.SetupTestFixture(t)
	handlers := NewHandlers(fixture.Manager, fixture.Notifier, nil, true)
	return handlers, fixture
}

func TestHomePage(t *testing.T) {
	h, fixture := setupTestHandlers(t)
	session := fixture.CreateChat(t)
	require.NoError(t, fixture.Manager.RenameSession(context.Background(), session.ID, "Q3 revenue"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	h.HomePage(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "<!doctype html>")
	assert.Contains(t, body, "Start a new chat")
	assert.Contains(t, body, `href="/chats/`+session.ID+`"`)
	assert.Contains(t, body, "Q3 revenue")
}

func TestHomePage_UntitledFallback(t *testing.T) {
	h, fixture := setupTestHandlers(t)
	fixture.CreateChat(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	h.HomePage(rec, req)

	assert.Contains(t, rec.Body.String(), "New Chat")
}

func TestCreateChat(t *testing.T) {
	h, fixture := setupTestHandlers(t)

	req := httptest.NewRequest(http.MethodPost, "/chats", nil)
	rec := httptest.NewRecorder()

	h.CreateChat(rec, req)

	sessions, err := fixture.Manager.ListSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	// The browser is sent to the new conversation
	body := rec.Body.String()
	assert.Contains(t, body, "window.location = '/chats/"+sessions[0].ID+"'")
}

func TestRenameChat(t *testing.T) {
	h, fixture := setupTestHandlers(t)
	session := fixture.CreateChat(t)

	req := httptest.NewRequest(http.MethodPost, "/chats/"+session.ID+"/rename",
		strings.NewReader(`{"title":"  Monthly actives  "}`))
	req.Header.Set("Content-Type", "application/json")
	req = features.RequestWithPathParam(req, "id", session.ID)
	rec := httptest.NewRecorder()

	h.RenameChat(rec, req)

	updated, err := fixture.Manager.GetSession(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, "Monthly actives", updated.Title)
}

func TestRenameChat_UnknownSession(t *testing.T) {
	h, _ := setupTestHandlers(t)

	req := httptest.NewRequest(http.MethodPost, "/chats/nope/rename",
		strings.NewReader(`{"title":"anything"}`))
	req.Header.Set("Content-Type", "application/json")
	req = features.RequestWithPathParam(req, "id", "nope")
	rec := httptest.NewRecorder()

	h.RenameChat(rec, req)

	assert.Contains(t, rec.Body.String(), "console.error")
}
