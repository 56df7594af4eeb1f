package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Origins is the set of browser origins allowed to call the marketplace.
// An empty set admits every origin; "*" does the same.
type Origins []string

// Allows reports whether a browser at origin may call the API or open the
// event stream. Requests without an Origin header are not browser
// cross-origin calls and are always allowed.
func (o Origins) Allows(origin string) bool {
	if origin == "" || len(o) == 0 {
		return true
	}
	for _, allowed := range o {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// Headers a marketplace front end sends and reads. Command submissions are
// JSON bodies gated by the deployment API key; clients read the request id
// and their remaining rate budget.
var (
	corsAllowHeaders  = strings.Join([]string{"Content-Type", "Authorization", "X-API-Key", RequestIDHeader}, ", ")
	corsExposeHeaders = strings.Join([]string{RequestIDHeader, "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining"}, ", ")
)

const corsMaxAge = 10 * time.Minute

// CORS answers preflights and decorates responses for allowed origins.
// Preflights from origins outside the set are refused with 403 so a
// misconfigured front end fails loudly instead of on the first bid.
func CORS(origins Origins) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
			if origin != "" {
				w.Header().Add("Vary", "Origin")
				if !origins.Allows(origin) {
					if preflight {
						w.WriteHeader(http.StatusForbidden)
						return
					}
					next.ServeHTTP(w, r)
					return
				}
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Expose-Headers", corsExposeHeaders)
			}
			if preflight {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST")
				w.Header().Set("Access-Control-Allow-Headers", corsAllowHeaders)
				w.Header().Set("Access-Control-Max-Age", strconv.Itoa(int(corsMaxAge/time.Second)))
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
