package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/mcoot/pvg/internal/api/handler"
	"github.com/mcoot/pvg/internal/api/middleware"
	"github.com/mcoot/pvg/internal/api/response"
	"github.com/mcoot/pvg/internal/config"
	"github.com/mcoot/pvg/internal/services/actions"
	"github.com/mcoot/pvg/internal/session"
	"github.com/mcoot/pvg/internal/web/sse"
)

// DefaultActionWait bounds how long an action waits to be observed
const DefaultActionWait = 5 * time.Second

// RouterConfig holds configuration for the API router
type RouterConfig struct {
	Logger     *slog.Logger
	Dispatcher *actions.Dispatcher
	Sessions   *session.Store
	Settings   *config.Settings
	Configurer handler.Configurer
	HubManager *sse.HubManager
	// Token protects every route but health when set
	Token string
	// ActionWait defaults to DefaultActionWait
	ActionWait time.Duration
}

// NewRouter creates a new API router with all routes configured
func NewRouter(cfg RouterConfig) http.Handler {
	r := mux.NewRouter()

	wait := cfg.ActionWait
	if wait <= 0 {
		wait = DefaultActionWait
	}

	// Create handlers
	sessionHandler := handler.NewSessionHandler(cfg.Dispatcher, cfg.Sessions, cfg.HubManager, wait)
	configHandler := handler.NewConfigHandler(cfg.Settings, cfg.Configurer, cfg.Logger)

	// Create middleware
	tokenMiddleware := middleware.Token(cfg.Token)
	loggingMiddleware := middleware.Logging(cfg.Logger)
	recoveryMiddleware := middleware.Recovery(cfg.Logger)

	r.Use(recoveryMiddleware)
	r.Use(loggingMiddleware)

	// Join links are opened from a shared URL
	join := r.PathPrefix("/join").Subrouter()
	join.Use(tokenMiddleware)
	join.HandleFunc("", configHandler.Join).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()

	// Health check endpoint (no token)
	api.HandleFunc("/health", healthHandler(cfg.Sessions)).Methods(http.MethodGet)

	protected := api.NewRoute().Subrouter()
	protected.Use(tokenMiddleware)

	// Backend configuration
	protected.HandleFunc("/config", configHandler.Get).Methods(http.MethodGet)
	protected.HandleFunc("/config", configHandler.Put).Methods(http.MethodPut)

	// Session routes
	protected.HandleFunc("/session", sessionHandler.Get).Methods(http.MethodGet)
	protected.HandleFunc("/session", sessionHandler.Create).Methods(http.MethodPost)
	protected.HandleFunc("/session", sessionHandler.Leave).Methods(http.MethodDelete)
	protected.HandleFunc("/session/events", sessionHandler.Events).Methods(http.MethodGet)
	protected.HandleFunc("/session/join", sessionHandler.Join).Methods(http.MethodPost)
	protected.HandleFunc("/session/resume", sessionHandler.Resume).Methods(http.MethodPost)
	protected.HandleFunc("/session/start", sessionHandler.Start).Methods(http.MethodPost)
	protected.HandleFunc("/session/begin", sessionHandler.Begin).Methods(http.MethodPost)
	protected.HandleFunc("/session/toggle", sessionHandler.Toggle).Methods(http.MethodPost)
	protected.HandleFunc("/session/end", sessionHandler.End).Methods(http.MethodPost)
	protected.HandleFunc("/session/reset", sessionHandler.Reset).Methods(http.MethodPost)
	protected.HandleFunc("/session/players/{id}/kill", sessionHandler.Kill).Methods(http.MethodPost)
	protected.HandleFunc("/session/players/{id}/revive", sessionHandler.Revive).Methods(http.MethodPost)

	return r
}

func healthHandler(sessions *session.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := sessions.Snapshot()
		response.JSON(w, http.StatusOK, response.Health{
			Status:     "ok",
			Session:    snap.Status,
			Configured: snap.Configured,
		})
	}
}
