package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/lmco/activitysearch/internal/auth/ratelimit"
)

// RateLimit spends one token of the authenticated key's bucket per request.
// It must run inside Auth; requests without key info pass through.
func RateLimit(limiter *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/health") {
				next.ServeHTTP(w, r)
				return
			}
			info := GetKeyInfo(r.Context())
			if info == nil {
				next.ServeHTTP(w, r)
				return
			}
			if !limiter.Allow(info.ID, info.RateLimit) {
				wait := limiter.RetryAfter(info.RateLimit).Seconds()
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait))))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
