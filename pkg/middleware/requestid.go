package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/lmco/activitysearch/pkg/logger"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	userKeyKey   contextKey = "user_key"
	adminKey     contextKey = "user_admin"

	RequestIDHeader = "X-Request-ID"
	UserKeyHeader   = "X-User-Key"
	// UserAdminHeader is "true" when the fronting proxy authenticated an
	// administrator. Like UserKeyHeader it is only trusted from the proxy.
	UserAdminHeader = "X-User-Admin"
)

// RequestID propagates an incoming X-Request-ID or mints a new one, and
// attaches it to both the context and the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		ctx = logger.WithRequestID(ctx, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID returns the request ID stored by RequestID, or "".
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// User requires the authenticated user's key (set by the fronting auth
// proxy in X-User-Key) on every /api route. Health and metrics paths are
// exempt.
func User(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(r.URL.Path) < 5 || r.URL.Path[:5] != "/api/" {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get(UserKeyHeader)
		if key == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"missing user key"}`))
			return
		}
		ctx := context.WithValue(r.Context(), userKeyKey, key)
		ctx = logger.WithUser(ctx, key)
		if r.Header.Get(UserAdminHeader) == "true" {
			ctx = WithAdmin(ctx)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetUserKey returns the requesting user's key stored by User, or "".
func GetUserKey(ctx context.Context) string {
	key, _ := ctx.Value(userKeyKey).(string)
	return key
}

// WithUserKey stores key the way User does; handlers under test use it to
// skip the middleware.
func WithUserKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, userKeyKey, key)
}

// IsAdmin reports whether User marked the caller as an administrator.
func IsAdmin(ctx context.Context) bool {
	admin, _ := ctx.Value(adminKey).(bool)
	return admin
}

func WithAdmin(ctx context.Context) context.Context {
	return context.WithValue(ctx, adminKey, true)
}
