package server

import (
	"log/slog"
	"net/http"
)

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins lists the browser origins that may call the bridge.
	// Requests carrying any other Origin header are refused.
	AllowedOrigins []string
}

// DefaultConfig returns a Config that accepts no cross-origin callers.
func DefaultConfig() Config {
	return Config{}
}

// NewRouter creates a new HTTP router with all routes configured.
// It uses Go 1.22+ ServeMux with method-based routing.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("POST /generations", h.CreateGeneration)
	mux.HandleFunc("GET /generations", h.ListGenerations)
	mux.HandleFunc("GET /generations/{id}", h.GetGeneration)
	mux.HandleFunc("POST /generations/{id}/cancel", h.CancelGeneration)
	mux.HandleFunc("DELETE /generations/{id}", h.DeleteGeneration)
	mux.HandleFunc("GET /settings/credential", h.GetCredential)
	mux.HandleFunc("PUT /settings/credential", h.SetCredential)

	// Apply middleware chain
	chain := ChainMiddleware(
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
		CORSMiddleware(cfg.AllowedOrigins),
	)

	return chain(mux)
}
