// Package middleware holds the gateway's edge middleware: API key
// authentication, CORS and per-key rate limiting.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/lmco/activitysearch/internal/auth/apikey"
	pkgmw "github.com/lmco/activitysearch/pkg/middleware"
)

type contextKey string

const apiKeyInfoKey contextKey = "api_key_info"

// Auth resolves the presented API key to a user and forwards the request
// as that user. Any X-User-Key or X-User-Admin the client sent is discarded
// first, so the backends only ever see identities the gateway vouched for.
// /health is exempt.
func Auth(store apikey.Store) func(http.Handler) http.Handler {
	log := slog.Default().With("component", "gateway-auth")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Header.Del(pkgmw.UserKeyHeader)
			r.Header.Del(pkgmw.UserAdminHeader)
			if strings.HasPrefix(r.URL.Path, "/health") {
				next.ServeHTTP(w, r)
				return
			}

			key := extractAPIKey(r)
			if key == "" {
				writeError(w, http.StatusUnauthorized, "missing api key")
				return
			}

			info, err := store.Validate(r.Context(), key)
			switch {
			case errors.Is(err, apikey.ErrInvalidKey):
				writeError(w, http.StatusUnauthorized, "invalid api key")
				return
			case errors.Is(err, apikey.ErrExpiredKey):
				writeError(w, http.StatusUnauthorized, "expired api key")
				return
			case err != nil:
				log.ErrorContext(r.Context(), "api key lookup failed", "error", err)
				writeError(w, http.StatusInternalServerError, "authentication error")
				return
			}

			r.Header.Set(pkgmw.UserKeyHeader, info.UserKey)
			if info.Admin {
				r.Header.Set(pkgmw.UserAdminHeader, "true")
			}
			ctx := context.WithValue(r.Context(), apiKeyInfoKey, info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin rejects requests whose key is not an admin key.
func RequireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info := GetKeyInfo(r.Context())
		if info == nil || !info.Admin {
			writeError(w, http.StatusForbidden, "admin key required")
			return
		}
		next(w, r)
	}
}

// GetKeyInfo returns the key Auth validated, or nil.
func GetKeyInfo(ctx context.Context) *apikey.KeyInfo {
	info, _ := ctx.Value(apiKeyInfoKey).(*apikey.KeyInfo)
	return info
}

// WithKeyInfo stores info the way Auth does.
func WithKeyInfo(ctx context.Context, info *apikey.KeyInfo) context.Context {
	return context.WithValue(ctx, apiKeyInfoKey, info)
}

// extractAPIKey checks, in order, Authorization: Bearer, X-API-Key and the
// api_key query parameter.
func extractAPIKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return r.URL.Query().Get("api_key")
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
