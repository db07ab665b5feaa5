package chat

import (
	"github.com/go-chi/chi/v5"
)

// SetupRoutes registers the chat feature routes.
func SetupRoutes(router chi.Router, deps Deps) error {
	handlers := NewHandlers(deps)

	router.Get("/chats/{id}", handlers.ChatPage)
	router.Get("/chats/{id}/updates", handlers.ChatUpdates)
	router.Post("/chats/{id}/ask", handlers.Ask)
	router.Post("/chats/{id}/cancel", handlers.CancelStream)
	router.Post("/chats/{id}/source", handlers.SelectSource)

	router.Post("/chats/{id}/turns/{turnID}/run", handlers.RunTurn)
	router.Post("/chats/{id}/turns/{turnID}/fix", handlers.FixTurn)
	router.Post("/chats/{id}/turns/{turnID}/toggle", handlers.ToggleData)

	return nil
}
