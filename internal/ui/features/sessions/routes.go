package sessions

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	chatcore "github.com/leapstack-labs/leapchat/internal/chat"
	"github.com/leapstack-labs/leapchat/internal/ui/notifier"
)

// SetupRoutes registers the session management routes.
func SetupRoutes(router chi.Router, manager *chatcore.Manager, notify *notifier.Notifier, logger *slog.Logger, isDev bool) error {
	handlers := NewHandlers(manager, notify, logger, isDev)

	router.Get("/", handlers.HomePage)
	router.Post("/chats", handlers.CreateChat)
	router.Post("/chats/{id}/rename", handlers.RenameChat)

	return nil
}
