// Package chat serves the conversation page: the turn feed, the prompt bar,
// and the per-turn query controls.
package chat

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/sessions"
	"github.com/starfederation/datastar-go/datastar"

	chatcore "github.com/leapstack-labs/leapchat/internal/chat"
	"github.com/leapstack-labs/leapchat/internal/services"
	"github.com/leapstack-labs/leapchat/internal/ui/notifier"
)

const (
	cookieName      = "leapchat"
	sourceCookieKey = "source"
	maxTitleLen     = 60
)

// Deps carries the collaborators the chat feature needs.
type Deps struct {
	Manager       *chatcore.Manager
	Sources       *services.DatasourceClient
	SessionStore  sessions.Store
	Notifier      *notifier.Notifier
	DefaultSource string
	Logger        *slog.Logger
	IsDev         bool
}

// Handlers provides HTTP handlers for the chat feature.
type Handlers struct {
	manager       *chatcore.Manager
	sources       *services.DatasourceClient
	sessionStore  sessions.Store
	notifier      *notifier.Notifier
	defaultSource string
	logger        *slog.Logger
	isDev         bool
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(deps Deps) *Handlers {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handlers{
		manager:       deps.Manager,
		sources:       deps.Sources,
		sessionStore:  deps.SessionStore,
		notifier:      deps.Notifier,
		defaultSource: deps.DefaultSource,
		logger:        logger,
		isDev:         deps.IsDev,
	}
}

// askSignals are the prompt bar signals.
type askSignals struct {
	Question string `json:"question"`
	Source   string `json:"source"`
}

// sqlSignals carry the per-turn SQL drafts, keyed by flattened turn id.
type sqlSignals struct {
	SQL map[string]string `json:"sql"`
}

// controller resolves the session named in the URL to its live controller.
func (h *Handlers) controller(w http.ResponseWriter, r *http.Request) (*chatcore.Controller, bool) {
	id := chi.URLParam(r, "id")
	ctrl, err := h.manager.Controller(r.Context(), id)
	if err != nil {
		if errors.Is(err, chatcore.ErrSessionNotFound) {
			http.NotFound(w, r)
		} else {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return nil, false
	}
	return ctrl, true
}

// ChatPage renders the full conversation page with server-rendered content.
func (h *Handlers) ChatPage(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	session, err := h.manager.GetSession(ctx, ctrl.SessionID())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	allSessions, err := h.manager.ListSessions(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// Source metadata is backend-provided and optional; the page works with
	// an empty picker when the backend is down.
	var sources []services.Datasource
	if h.sources != nil {
		if sources, err = h.sources.List(ctx); err != nil {
			h.logger.Warn("failed to list datasources", "error", err)
		}
	}
	selected := h.selectedSource(r, sources)

	var suggestions []string
	if h.sources != nil && selected != "" {
		if suggestions, err = h.sources.SuggestQueries(ctx, selected); err != nil {
			h.logger.Debug("failed to fetch suggestions", "source", selected, "error", err)
		}
	}

	title := session.Title
	if title == "" {
		title = "New Chat"
	}
	data := PageData{
		Title:          title,
		IsDev:          h.isDev,
		Session:        session,
		Sessions:       allSessions,
		Sources:        sources,
		SelectedSource: selected,
		Suggestions:    suggestions,
		Feed:           buildFeed(ctrl.Snapshot()),
	}
	if err := Page(data).Render(ctx, w); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// ChatUpdates is the long-lived SSE endpoint for a conversation. It pushes
// a fresh feed fragment whenever this session changes.
func (h *Handlers) ChatUpdates(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	sse := datastar.NewSSE(w, r)

	updates := h.notifier.Subscribe()
	defer h.notifier.Unsubscribe(updates)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ping := <-updates:
			if !notifier.Matches(ping, ctrl.SessionID()) {
				continue
			}
			if err := sse.PatchElementTempl(Feed(buildFeed(ctrl.Snapshot()))); err != nil {
				_ = sse.ConsoleError(err)
				// Keep the subscription; the next ping retries
			}
		}
	}
}

// Ask opens a generation exchange. The request blocks while the stream
// runs; the feed updates arrive through ChatUpdates.
func (h *Handlers) Ask(w http.ResponseWriter, r *http.Request) {
	// Read signals BEFORE creating SSE (SSE consumes the request body)
	var signals askSignals
	if err := datastar.ReadSignals(r, &signals); err != nil {
		sse := datastar.NewSSE(w, r)
		_ = sse.ConsoleError(err)
		return
	}

	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	sse := datastar.NewSSE(w, r)

	question := strings.TrimSpace(signals.Question)
	if question == "" {
		return
	}
	source := signals.Source
	if source == "" {
		source = h.defaultSource
	}

	h.maybeTitleSession(r, ctrl, question)

	// Clear the prompt while the exchange streams
	if err := sse.MarshalAndPatchSignals(map[string]any{"question": ""}); err != nil {
		_ = sse.ConsoleError(err)
	}

	if err := ctrl.Ask(r.Context(), question, source); err != nil {
		_ = sse.ConsoleError(err)
	}
}

// maybeTitleSession names an untitled session after its first question.
func (h *Handlers) maybeTitleSession(r *http.Request, ctrl *chatcore.Controller, question string) {
	session, err := h.manager.GetSession(r.Context(), ctrl.SessionID())
	if err != nil || session.Title != "" {
		return
	}
	title := question
	if len(title) > maxTitleLen {
		title = title[:maxTitleLen]
	}
	if err := h.manager.RenameSession(r.Context(), session.ID, title); err != nil {
		h.logger.Warn("failed to title session", "session", session.ID, "error", err)
	}
}

// RunTurn executes a turn's SQL draft, taking the latest editor contents
// from the signals first.
func (h *Handlers) RunTurn(w http.ResponseWriter, r *http.Request) {
	var signals sqlSignals
	if err := datastar.ReadSignals(r, &signals); err != nil {
		sse := datastar.NewSSE(w, r)
		_ = sse.ConsoleError(err)
		return
	}

	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	sse := datastar.NewSSE(w, r)
	turnID := chi.URLParam(r, "turnID")

	if draft, ok := signals.SQL[signalID(turnID)]; ok {
		if err := ctrl.SetEditableSQL(turnID, draft); err != nil {
			_ = sse.ConsoleError(err)
			return
		}
	}

	if err := ctrl.RunTurn(r.Context(), turnID); err != nil {
		_ = sse.ConsoleError(err)
	}
}

// FixTurn asks for a repaired statement and pushes the new draft into the
// editor's signal.
func (h *Handlers) FixTurn(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	sse := datastar.NewSSE(w, r)
	turnID := chi.URLParam(r, "turnID")

	if err := ctrl.FixTurn(r.Context(), turnID); err != nil {
		_ = sse.ConsoleError(err)
		return
	}

	for _, view := range ctrl.Snapshot().Turns {
		if view.Turn.ID == turnID && view.HasState {
			err := sse.MarshalAndPatchSignals(map[string]any{
				"sql": map[string]string{signalID(turnID): view.State.EditableSQL},
			})
			if err != nil {
				_ = sse.ConsoleError(err)
			}
			return
		}
	}
}

// ToggleData flips a turn's data panel.
func (h *Handlers) ToggleData(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	sse := datastar.NewSSE(w, r)
	turnID := chi.URLParam(r, "turnID")

	for _, view := range ctrl.Snapshot().Turns {
		if view.Turn.ID == turnID {
			show := view.HasState && view.State.ShowData
			if err := ctrl.SetShowData(turnID, !show); err != nil {
				_ = sse.ConsoleError(err)
			}
			return
		}
	}
	_ = sse.ConsoleError(chatcore.ErrUnknownTurn)
}

// CancelStream aborts the open generation exchange, if any.
func (h *Handlers) CancelStream(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	ctrl.Cancel()
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// SelectSource remembers the picked datasource and refreshes suggestions.
func (h *Handlers) SelectSource(w http.ResponseWriter, r *http.Request) {
	var signals askSignals
	if err := datastar.ReadSignals(r, &signals); err != nil {
		sse := datastar.NewSSE(w, r)
		_ = sse.ConsoleError(err)
		return
	}

	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	sse := datastar.NewSSE(w, r)

	if signals.Source != "" {
		cookie, _ := h.sessionStore.Get(r, cookieName)
		cookie.Values[sourceCookieKey] = signals.Source
		if err := cookie.Save(r, w); err != nil {
			h.logger.Debug("failed to save source cookie", "error", err)
		}
	}

	var suggestions []string
	if h.sources != nil && signals.Source != "" {
		var err error
		if suggestions, err = h.sources.SuggestQueries(r.Context(), signals.Source); err != nil {
			h.logger.Debug("failed to fetch suggestions", "source", signals.Source, "error", err)
		}
	}
	if err := sse.PatchElementTempl(Suggestions(ctrl.SessionID(), suggestions)); err != nil {
		_ = sse.ConsoleError(err)
	}
}

// selectedSource picks the active datasource: sticky cookie choice first,
// then the configured default, then the first source the backend lists.
func (h *Handlers) selectedSource(r *http.Request, sources []services.Datasource) string {
	cookie, err := h.sessionStore.Get(r, cookieName)
	if err == nil {
		if s, ok := cookie.Values[sourceCookieKey].(string); ok && s != "" {
			return s
		}
	}
	if h.defaultSource != "" {
		return h.defaultSource
	}
	if len(sources) > 0 {
		return sources[0].ID
	}
	return ""
}
