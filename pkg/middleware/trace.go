package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/lmco/activitysearch/pkg/logger"
	"github.com/lmco/activitysearch/pkg/tracing"
)

// Trace opens a root span per request, keyed by the request id, and logs
// the finished tree: at info when the request took at least slow, at
// debug otherwise. It must run inside RequestID.
func Trace(slow time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := tracing.StartSpan(r.Context(), r.Method+" "+r.URL.Path, GetRequestID(r.Context()))
			next.ServeHTTP(w, r.WithContext(ctx))
			span.End()

			level := slog.LevelDebug
			if slow > 0 && span.Duration >= slow {
				level = slog.LevelInfo
			}
			span.Log(ctx, logger.FromContext(ctx), level)
		})
	}
}
