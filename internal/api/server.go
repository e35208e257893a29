// Package api exposes the relay and conversation administration over HTTP.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Veraticus/confidant/internal/facts"
	"github.com/Veraticus/confidant/internal/memory"
	"github.com/Veraticus/confidant/internal/relay"
	"github.com/Veraticus/confidant/internal/session"
)

const maxBodyBytes = 64 << 10

// Conversations is the stored conversation history.
type Conversations interface {
	ListAll() []memory.Summary
	Summarize(userID string) memory.Summary
	Recent(userID string, limit int) []memory.Exchange
}

// FactLoader reads user facts.
type FactLoader interface {
	Load(userID string) facts.UserFacts
}

// Sessions reports live backend sessions.
type Sessions interface {
	Info(userID string) (session.Info, bool)
}

// Prompts reads and replaces the system prompt.
type Prompts interface {
	SystemPrompt() string
	Set(prompt string) error
}

// Deps are the services the routes call into.
type Deps struct {
	Relay         relay.Handler
	Conversations Conversations
	Facts         FactLoader
	Sessions      Sessions
	Prompts       Prompts
	RecentTurns   int
	MetricsPath   string
	Logger        *slog.Logger
}

// Handler serves the HTTP API.
type Handler struct {
	deps   Deps
	logger *slog.Logger
}

// NewHandler creates a handler. A nil logger uses slog.Default.
func NewHandler(deps Deps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.RecentTurns <= 0 {
		deps.RecentTurns = memory.DefaultRecentTurns
	}
	return &Handler{deps: deps, logger: logger.With(slog.String("component", "api"))}
}

// Router builds the chi router with middleware and every route.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))

	h.RegisterRoutes(r)

	if h.deps.MetricsPath != "" {
		r.Handle(h.deps.MetricsPath, promhttp.Handler())
	}
	return r
}

// RegisterRoutes registers the API routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/messages", h.PostMessage)

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", h.ListConversations)
			r.Get("/{userID}", h.GetConversation)
			r.Delete("/{userID}", h.DeleteConversation)
		})

		r.Get("/prompt", h.GetPrompt)
		r.Put("/prompt", h.PutPrompt)
	})
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		h.logger.DebugContext(r.Context(), "HTTP request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", chiMiddleware.GetReqID(r.Context())),
		)
	})
}

// JSON writes a JSON response.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}
