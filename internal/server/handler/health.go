package handler

import (
	"log/slog"
	"net/http"
	"time"
)

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	halted func() bool
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler. halted may be nil.
func NewHealthHandler(halted func() bool, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{halted: halted, logger: logger}
}

// HealthCheck responds with a simple JSON status indicating the server is
// alive. A halted marketplace reports 503 so load balancers drain it.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if h.halted != nil && h.halted() {
		status, code = "halted", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
