// Package router sets up HTTP routes for the UI server.
package router

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/sessions"
	"github.com/starfederation/datastar-go/datastar"

	"github.com/leapstack-labs/leapchat/internal/chat"
	"github.com/leapstack-labs/leapchat/internal/services"
	chatFeature "github.com/leapstack-labs/leapchat/internal/ui/features/chat"
	sessionsFeature "github.com/leapstack-labs/leapchat/internal/ui/features/sessions"
	"github.com/leapstack-labs/leapchat/internal/ui/notifier"
	"github.com/leapstack-labs/leapchat/internal/ui/resources"
)

// Deps carries everything the feature handlers need.
type Deps struct {
	Manager       *chat.Manager
	Sources       *services.DatasourceClient
	SessionStore  sessions.Store
	Notifier      *notifier.Notifier
	DefaultSource string
	Logger        *slog.Logger
	IsDev         bool
}

// SetupRoutes configures all routes for the UI server.
func SetupRoutes(router chi.Router, deps Deps) error {
	// Hot reload endpoint for dev mode
	if deps.IsDev {
		setupReload(router)
	}

	// Static assets
	router.Handle("/static/*", resources.Handler())

	// Feature routes
	if err := sessionsFeature.SetupRoutes(router, deps.Manager, deps.Notifier, deps.Logger, deps.IsDev); err != nil {
		return err
	}

	if err := chatFeature.SetupRoutes(router, chatFeature.Deps{
		Manager:       deps.Manager,
		Sources:       deps.Sources,
		SessionStore:  deps.SessionStore,
		Notifier:      deps.Notifier,
		DefaultSource: deps.DefaultSource,
		Logger:        deps.Logger,
		IsDev:         deps.IsDev,
	}); err != nil {
		return err
	}

	return nil
}

func setupReload(router chi.Router) {
	reloadChan := make(chan struct{}, 1)
	var hotReloadOnce sync.Once

	router.Get("/reload", func(w http.ResponseWriter, r *http.Request) {
		sse := datastar.NewSSE(w, r)
		reload := func() { _ = sse.ExecuteScript("window.location.reload()") }
		hotReloadOnce.Do(reload)
		select {
		case <-reloadChan:
			reload()
		case <-r.Context().Done():
		}
	})

	router.Get("/hotreload", func(w http.ResponseWriter, _ *http.Request) {
		select {
		case reloadChan <- struct{}{}:
		default:
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}
