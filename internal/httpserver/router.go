package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"chatcore/internal/config"
	"chatcore/internal/domain"
	"chatcore/internal/security"
	"chatcore/internal/service"
	"chatcore/internal/ws"
)

// Deps bundles everything the router needs. Repositories and services are
// constructed once in main, so the router is store-agnostic.
type Deps struct {
	Cfg    *config.Config
	Users  domain.UserRepository
	Auth   *service.AuthService
	Chat   *service.ChatService
	Links  *service.SecureLinkService
	Tokens *security.TokenService
	Hub    *ws.Hub
	Logger zerolog.Logger
}

// NewRouter constructs the main HTTP router and wires routes and middleware.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(d.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.Cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", handleRegister(d.Auth))
			r.Post("/login", handleLogin(d.Auth))
		})

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(d.Tokens, d.Users))

			r.Get("/auth/me", handleMe())

			r.Route("/conversations", func(r chi.Router) {
				r.Get("/", handleListConversations(d.Chat))
				r.Post("/", handleGetOrCreateConversation(d.Chat))
			})

			r.Route("/messages", func(r chi.Router) {
				r.Post("/", handleSendMessage(d.Chat))
				r.Get("/with/{userID}", handleConversationMessages(d.Chat))
				r.Get("/unread/{senderID}", handleUnreadCount(d.Chat))
				r.Put("/{messageID}", handleEditMessage(d.Chat))
				r.Delete("/{messageID}", handleDeleteMessage(d.Chat))
				r.Post("/{messageID}/read", handleMarkAsRead(d.Chat))
			})

			r.Route("/links", func(r chi.Router) {
				r.Post("/conversation", handleGenerateConversationLink(d.Links))
				r.Post("/quick", handleGenerateQuickChatLink(d.Links))
				r.Post("/message", handleGenerateMessageLink(d.Links))
			})
		})
	})

	// Secure link landing routes. The token lives in the path, so these
	// mirror the shape of the generated URLs.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(d.Tokens, d.Users))
		r.Get("/chat/secure/{token}", handleResolveLink(d.Links))
		r.Get("/chat/quick/{token}", handleResolveLink(d.Links))
		r.Get("/chat/message/{token}", handleResolveLink(d.Links))
	})

	r.Get("/ws", ws.MakeHandler(d.Hub, d.Tokens, d.Users, d.Chat, d.Cfg.CORSOrigins, d.Logger))

	return r
}

// writeJSON is a small helper to send JSON responses.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// writeError maps domain sentinel errors onto HTTP status codes. Invalid
// link tokens map to 404 so probing responses stay uniform.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrInvalidToken):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}
