// Package sessions serves the conversation list: the landing page, chat
// creation, and renaming.
package sessions

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"
	"github.com/starfederation/datastar-go/datastar"

	chatcore "github.com/leapstack-labs/leapchat/internal/chat"
	"github.com/leapstack-labs/leapchat/internal/ui/notifier"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.tmpl"))

// LandingData drives the landing page render.
type LandingData struct {
	IsDev    bool
	Sessions []*chatcore.Session
}

// Landing renders the conversation list page.
func Landing(data LandingData) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		return templates.ExecuteTemplate(w, "landing", data)
	})
}

// Handlers provides HTTP handlers for session management.
type Handlers struct {
	manager  *chatcore.Manager
	notifier *notifier.Notifier
	logger   *slog.Logger
	isDev    bool
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(manager *chatcore.Manager, notify *notifier.Notifier, logger *slog.Logger, isDev bool) *Handlers {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handlers{
		manager:  manager,
		notifier: notify,
		logger:   logger,
		isDev:    isDev,
	}
}

// HomePage lists conversations.
func (h *Handlers) HomePage(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.manager.ListSessions(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	data := LandingData{IsDev: h.isDev, Sessions: sessions}
	if err := Landing(data).Render(r.Context(), w); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// CreateChat starts a fresh conversation and sends the browser to it.
func (h *Handlers) CreateChat(w http.ResponseWriter, r *http.Request) {
	sse := datastar.NewSSE(w, r)

	session, err := h.manager.CreateSession(r.Context())
	if err != nil {
		_ = sse.ConsoleError(err)
		return
	}
	_ = sse.ExecuteScript(fmt.Sprintf("window.location = '/chats/%s'", session.ID))
}

// renameSignals carry the new title from the rename prompt.
type renameSignals struct {
	Title string `json:"title"`
}

// RenameChat retitles a conversation.
func (h *Handlers) RenameChat(w http.ResponseWriter, r *http.Request) {
	var signals renameSignals
	if err := datastar.ReadSignals(r, &signals); err != nil {
		sse := datastar.NewSSE(w, r)
		_ = sse.ConsoleError(err)
		return
	}

	sse := datastar.NewSSE(w, r)
	title := strings.TrimSpace(signals.Title)
	if title == "" {
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.manager.RenameSession(r.Context(), id, title); err != nil {
		if errors.Is(err, chatcore.ErrSessionNotFound) {
			_ = sse.ConsoleError(err)
			return
		}
		h.logger.Warn("failed to rename session", "session", id, "error", err)
		_ = sse.ConsoleError(err)
		return
	}
	// Titles appear in the sidebar of every open page
	_ = sse.ExecuteScript("window.location.reload()")
}
