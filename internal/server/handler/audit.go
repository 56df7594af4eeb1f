package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/groupmarket/internal/domain"
	"github.com/alanyoungcy/groupmarket/internal/service"
)

// AuditHandler exposes the audit log and the durable event stream.
type AuditHandler struct {
	audit  domain.AuditStore
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(audit domain.AuditStore, bus domain.SignalBus, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, bus: bus, logger: logHandler(logger, "audit")}
}

// ListAudit returns audit entries, newest first.
// GET /api/audit?limit=&offset=&event=&op=&caller=&code=&since=
func (h *AuditHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := parseListOpts(r)
	opts.Event = q.Get("event")
	opts.Op = q.Get("op")
	opts.Code = q.Get("code")
	if v := q.Get("caller"); v != "" {
		caller, err := parseAddress("caller", v)
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		opts.Caller = strings.ToLower(caller.Hex())
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, r, h.logger, fmt.Errorf("%w: since must be RFC 3339", domain.ErrInvalidArgs))
			return
		}
		opts.Since = &since
	}
	entries, err := h.audit.List(r.Context(), opts)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

type streamEvent struct {
	ID    string          `json:"id"`
	Event json.RawMessage `json:"event"`
}

// ListEvents pages through the durable market event stream. Pass the last
// seen id as "after" to continue; "0" starts from the beginning.
// GET /api/events?after=&limit=
func (h *AuditHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	after := r.URL.Query().Get("after")
	if after == "" {
		after = "0"
	}
	opts := parseListOpts(r)
	msgs, err := h.bus.StreamRead(r.Context(), service.StreamMarket, after, opts.Limit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	out := make([]streamEvent, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, streamEvent{ID: m.ID, Event: json.RawMessage(m.Payload)})
	}
	writeJSON(w, http.StatusOK, out)
}
