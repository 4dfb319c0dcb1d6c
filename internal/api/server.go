package api

import (
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/chatflow/chatflow/internal/api/middleware"
	"github.com/chatflow/chatflow/internal/config"
	"github.com/chatflow/chatflow/internal/database"
	"github.com/chatflow/chatflow/internal/signal"
	"github.com/chatflow/chatflow/internal/web"
)

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router *chi.Mux
	cfg    *config.Config

	users          database.UserRepository
	friendRequests database.FriendRequestRepository
	contacts       database.ContactRepository
	messages       database.MessageRepository
	attachments    database.AttachmentRepository
	pushTokens     database.PushTokenRepository

	hub      *signal.Hub
	presence *signal.Presence

	jwtSecret []byte
	metrics   http.Handler
}

// NewServer creates the HTTP handler with all routes mounted. The metrics
// handler may be nil to disable the /metrics endpoint.
func NewServer(cfg *config.Config, db *database.DB, hub *signal.Hub, presence *signal.Presence, metrics http.Handler) (*Server, error) {
	jwtSecret, err := cfg.JWTSecretBytes()
	if err != nil {
		return nil, err
	}

	s := &Server{
		router:         chi.NewRouter(),
		cfg:            cfg,
		users:          database.NewUserRepository(db),
		friendRequests: database.NewFriendRequestRepository(db),
		contacts:       database.NewContactRepository(db),
		messages:       database.NewMessageRepository(db),
		attachments:    database.NewAttachmentRepository(db),
		pushTokens:     database.NewPushTokenRepository(db),
		hub:            hub,
		presence:       presence,
		jwtSecret:      jwtSecret,
		metrics:        metrics,
	}

	s.routes()
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// routes configures all middleware and mounts all route groups.
func (s *Server) routes() {
	r := s.router

	// Global middleware stack.
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.SecurityHeaders(s.cfg.TLSEnabled()))
	r.Use(middleware.CORS(middleware.ParseCORSOrigins(s.cfg.CORSOrigins)))

	apiLimiter := middleware.NewIPRateLimiter(middleware.DefaultRateLimitConfig())
	authLimiter := middleware.NewIPRateLimiter(middleware.AuthRateLimitConfig())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(apiLimiter))

		// Unauthenticated routes.
		r.Get("/health", s.handleHealth)
		r.With(middleware.RateLimit(authLimiter)).Post("/auth/register", s.handleRegister)
		r.With(middleware.RateLimit(authLimiter)).Post("/auth/login", s.handleLogin)

		// Everything else requires a valid bearer token.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(s.jwtSecret))

			r.Get("/auth/me", s.handleMe)

			r.Get("/users/search", s.handleSearchUsers)
			r.Get("/users/online", s.handleOnlineUsers)

			r.Route("/friend-requests", func(r chi.Router) {
				r.Get("/", s.handleListFriendRequests)
				r.Post("/", s.handleCreateFriendRequest)
				r.Post("/{id}/accept", s.handleAcceptFriendRequest)
				r.Post("/{id}/reject", s.handleRejectFriendRequest)
			})

			r.Route("/contacts", func(r chi.Router) {
				r.Get("/", s.handleListContacts)
				r.Delete("/{userID}", s.handleRemoveContact)
				r.Post("/{userID}/block", s.handleBlockContact)
				r.Post("/{userID}/unblock", s.handleUnblockContact)
			})

			r.Route("/messages", func(r chi.Router) {
				r.Get("/unread-count", s.handleUnreadCount)
				r.Get("/{userID}", s.handleMessageHistory)
				r.Post("/{userID}/read", s.handleMarkRead)
			})

			r.Route("/attachments", func(r chi.Router) {
				r.Post("/", s.handleCreateAttachment)
				r.Get("/{id}", s.handleGetAttachment)
			})

			r.Post("/push-token", s.handleRegisterPushToken)
			r.Delete("/push-token/{deviceID}", s.handleDeletePushToken)
		})
	})

	// Realtime websocket. The hub authenticates the upgrade itself so the
	// token can arrive as a query parameter.
	r.Get("/ws", s.hub.HandleWS)

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	// SPA fallback: serve the embedded UI for non-API routes.
	r.NotFound(s.handleSPAFallback)

	slog.Info("api routes mounted")
}

// handleHealth returns basic health status. Unauthenticated.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSPAFallback serves the embedded SPA for non-API routes. Unknown
// paths fall back to index.html so client-side routing works.
func (s *Server) handleSPAFallback(w http.ResponseWriter, r *http.Request) {
	dist, err := fs.Sub(web.DistFS, "dist")
	if err != nil {
		http.Error(w, "ui not available", http.StatusInternalServerError)
		return
	}

	path := r.URL.Path
	if path != "/" {
		if _, err := fs.Stat(dist, path[1:]); err == nil {
			http.FileServer(http.FS(dist)).ServeHTTP(w, r)
			return
		}
	}

	index, err := fs.ReadFile(dist, "index.html")
	if err != nil {
		http.Error(w, "ui not available", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(index) //nolint:errcheck
}
