// Package ui provides the web interface for LeapChat conversations.
package ui

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/sessions"
	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/leapchat/internal/chat"
	"github.com/leapstack-labs/leapchat/internal/services"
	"github.com/leapstack-labs/leapchat/internal/ui/notifier"
	"github.com/leapstack-labs/leapchat/internal/ui/resources"
	"github.com/leapstack-labs/leapchat/internal/ui/router"
)

// Config holds configuration for the UI server.
type Config struct {
	Manager       *chat.Manager
	Sources       *services.DatasourceClient
	Notifier      *notifier.Notifier
	DefaultSource string
	Port          int
	Watch         bool
	SessionSecret string
	Logger        *slog.Logger
}

// Server is the web UI server.
type Server struct {
	manager       *chat.Manager
	sources       *services.DatasourceClient
	sessionStore  *sessions.CookieStore
	notifier      *notifier.Notifier
	defaultSource string
	port          int
	watch         bool
	logger        *slog.Logger
}

// NewServer creates a new UI server instance.
func NewServer(cfg Config) *Server {
	sessionStore := sessions.NewCookieStore([]byte(cfg.SessionSecret))
	sessionStore.MaxAge(86400 * 30) // 30 days
	sessionStore.Options.Path = "/"
	sessionStore.Options.HttpOnly = true
	sessionStore.Options.SameSite = http.SameSiteLaxMode

	notify := cfg.Notifier
	if notify == nil {
		notify = notifier.New()
	}

	return &Server{
		manager:       cfg.Manager,
		sources:       cfg.Sources,
		sessionStore:  sessionStore,
		notifier:      notify,
		defaultSource: cfg.DefaultSource,
		port:          cfg.Port,
		watch:         cfg.Watch,
		logger:        cfg.Logger,
	}
}

// Serve starts the UI server and blocks until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("starting UI server", "addr", fmt.Sprintf("http://localhost:%d", s.port))

	eg, egctx := errgroup.WithContext(ctx)

	r := chi.NewMux()
	r.Use(
		middleware.Logger,
		middleware.Recoverer,
		middleware.Compress(5),
	)

	deps := router.Deps{
		Manager:       s.manager,
		Sources:       s.sources,
		SessionStore:  s.sessionStore,
		Notifier:      s.notifier,
		DefaultSource: s.defaultSource,
		Logger:        s.logger,
		IsDev:         s.IsDev(),
	}
	if err := router.SetupRoutes(r, deps); err != nil {
		return fmt.Errorf("failed to setup routes: %w", err)
	}

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Watch static assets in dev mode so open pages refresh on edit
	if s.watch && s.IsDev() {
		eg.Go(func() error {
			return s.watchStatic(egctx)
		})
	}

	eg.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Debug("shutting down UI server...")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

// IsDev returns true if this binary serves assets from the filesystem.
func (s *Server) IsDev() bool {
	return resources.Dev
}

// Notifier returns the server's notifier for SSE updates.
func (s *Server) Notifier() *notifier.Notifier {
	return s.notifier
}

// watchStatic watches the static asset directory and pings every open page
// on change.
func (s *Server) watchStatic(ctx context.Context) error {
	dir := resources.StaticDir()
	if dir == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	if err := watchDirRecursive(watcher, dir); err != nil {
		s.logger.Error("failed to watch static directory", "error", err)
		// Continue without watching
	}

	var debounceTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			return nil

		case event := <-watcher.Events:
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(100*time.Millisecond, func() {
				s.logger.Debug("static asset changed", "file", event.Name)
				s.notifier.BroadcastAll()
			})

		case err := <-watcher.Errors:
			s.logger.Error("watcher error", "error", err)
		}
	}
}

// watchDirRecursive adds a directory and all subdirectories to the watcher.
func watchDirRecursive(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}
