package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/groupmarket/internal/domain"
)

// Limits are per-client request budgets. Command submissions get their own
// budget so a burst of polling cannot starve bidding.
type Limits struct {
	View    int // GET requests and the websocket upgrade; 0 disables
	Command int // POST /api/commands; 0 falls back to View
	Window  time.Duration
}

// requestClass names the budget a request draws from.
func requestClass(r *http.Request) string {
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/api/commands":
		return "command"
	case r.URL.Path == "/ws":
		return "stream"
	case r.Method == http.MethodGet || r.Method == http.MethodHead:
		return "view"
	}
	return "command"
}

func (l Limits) of(class string) int {
	if class == "command" && l.Command > 0 {
		return l.Command
	}
	return l.View
}

// RateLimit meters each client with limiter and answers 429 with
// Retry-After once a budget is spent. Every metered response carries
// X-RateLimit-Limit and X-RateLimit-Remaining. Limiter errors fail open.
func RateLimit(limiter domain.RateLimiter, limits Limits, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil || limits.View <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			class := requestClass(r)
			key := class + ":" + extractClientIP(r)

			q, err := limiter.Take(r.Context(), key, limits.of(class), limits.Window)
			if err != nil {
				logger.WarnContext(r.Context(), "rate limiter unavailable",
					slog.String("key", key),
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(q.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(q.Remaining))
			if !q.Allowed {
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.Header().Set("Retry-After", strconv.Itoa(max(1, int(q.RetryAfter/time.Second))))
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"rate limit exceeded","code":"rate_limited","class":"` + class + `"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractClientIP attempts to determine the real client IP from standard
// proxy headers, falling back to the direct remote address.
func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ip := strings.TrimSpace(strings.SplitN(xff, ",", 2)[0])
		if ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
