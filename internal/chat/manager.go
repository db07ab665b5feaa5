package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Collaborators bundles the backend services shared by every session.
type Collaborators struct {
	Generator  Generator
	Executor   Executor
	Fixer      Fixer
	Visualizer Visualizer
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Store  SessionStore
	Deps   Collaborators
	Logger *slog.Logger
	// OnChange is invoked with the session id after any session mutates.
	OnChange func(sessionID string)
}

// Manager hands out one live Controller per session, so concurrent clients
// of the same conversation share a single turn log and state map.
type Manager struct {
	store    SessionStore
	deps     Collaborators
	logger   *slog.Logger
	onChange func(string)

	mu          sync.Mutex
	controllers map[string]*Controller
}

// NewManager creates a session manager backed by store.
func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		store:       cfg.Store,
		deps:        cfg.Deps,
		logger:      logger,
		onChange:    cfg.OnChange,
		controllers: make(map[string]*Controller),
	}
}

// Controller returns the live controller for a session, creating and
// restoring it on first use. Returns ErrSessionNotFound for unknown ids.
func (m *Manager) Controller(ctx context.Context, sessionID string) (*Controller, error) {
	m.mu.Lock()
	if ctrl, ok := m.controllers[sessionID]; ok {
		m.mu.Unlock()
		return ctrl, nil
	}
	m.mu.Unlock()

	if _, err := m.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	ctrl := NewController(Config{
		SessionID:  sessionID,
		Generator:  m.deps.Generator,
		Executor:   m.deps.Executor,
		Fixer:      m.deps.Fixer,
		Visualizer: m.deps.Visualizer,
		Store:      m.store,
		Logger:     m.logger,
		OnChange: func() {
			if m.onChange != nil {
				m.onChange(sessionID)
			}
		},
	})
	if err := ctrl.Restore(ctx); err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Another caller may have won the race; keep the first controller so all
	// clients share one turn log.
	if existing, ok := m.controllers[sessionID]; ok {
		return existing, nil
	}
	m.controllers[sessionID] = ctrl
	return ctrl, nil
}

// CreateSession creates a fresh persisted session.
func (m *Manager) CreateSession(ctx context.Context) (*Session, error) {
	return m.store.CreateSession(ctx)
}

// ListSessions lists persisted sessions, newest first.
func (m *Manager) ListSessions(ctx context.Context) ([]*Session, error) {
	return m.store.ListSessions(ctx)
}

// RenameSession sets a session title.
func (m *Manager) RenameSession(ctx context.Context, id, title string) error {
	if err := m.store.RenameSession(ctx, id, title); err != nil {
		return err
	}
	if m.onChange != nil {
		m.onChange(id)
	}
	return nil
}

// GetSession fetches session metadata.
func (m *Manager) GetSession(ctx context.Context, id string) (*Session, error) {
	return m.store.GetSession(ctx, id)
}
