package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mcoot/mpserver/internal/api/handler"
	"github.com/mcoot/mpserver/internal/api/middleware"
	sharedmw "github.com/mcoot/mpserver/internal/middleware"
)

// Backend is everything the HTTP surface needs from the game server
type Backend interface {
	handler.StatusSource
	handler.CommandRunner
	handler.Attacher
}

// RouterConfig holds configuration for the API router
type RouterConfig struct {
	Logger  *slog.Logger
	Backend Backend

	// Token guards the admin endpoint
	Token string

	// MaxMessageSize bounds one inbound websocket message
	MaxMessageSize int64
}

// NewRouter creates a new API router with all routes configured
func NewRouter(cfg RouterConfig) http.Handler {
	r := mux.NewRouter()

	// Create handlers
	statusHandler := handler.NewStatusHandler(cfg.Backend)
	adminHandler := handler.NewAdminHandler(cfg.Backend)
	wsHandler := handler.NewWebSocketHandler(cfg.Backend, cfg.MaxMessageSize, cfg.Logger)

	// Create middleware
	tokenMiddleware := middleware.Token(cfg.Token)
	loggingMiddleware := sharedmw.Logging(cfg.Logger)
	recoveryMiddleware := middleware.Recovery(cfg.Logger)

	r.Use(recoveryMiddleware)

	// Health check and websocket transport sit outside the API prefix
	r.HandleFunc("/healthz", statusHandler.Health).Methods(http.MethodGet)
	r.HandleFunc("/ws", wsHandler.Serve).Methods(http.MethodGet)

	// API subrouter with request logging
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(loggingMiddleware)

	api.HandleFunc("/status", statusHandler.Status).Methods(http.MethodGet)
	api.HandleFunc("/games", statusHandler.Games).Methods(http.MethodGet)
	api.HandleFunc("/users", statusHandler.Users).Methods(http.MethodGet)
	api.HandleFunc("/bans", statusHandler.Bans).Methods(http.MethodGet)

	// Admin commands require the token
	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(tokenMiddleware)
	admin.HandleFunc("", adminHandler.Run).Methods(http.MethodPost)

	return r
}
