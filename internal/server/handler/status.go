package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/groupmarket/internal/service"
)

// StatusHandler serves the process mode and a marketplace snapshot.
type StatusHandler struct {
	Mode      string
	StartedAt time.Time
	market    Marketplace
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode string, market Marketplace) *StatusHandler {
	return &StatusHandler{Mode: mode, StartedAt: time.Now().UTC(), market: market}
}

type statusResponse struct {
	Mode          string             `json:"mode"`
	UptimeSeconds int64              `json:"uptime_seconds"`
	Marketplace   service.StatusView `json:"marketplace"`
}

// GetStatus responds with the current mode and marketplace totals.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Mode:          h.Mode,
		UptimeSeconds: int64(time.Since(h.StartedAt).Seconds()),
		Marketplace:   h.market.Status(),
	})
}
