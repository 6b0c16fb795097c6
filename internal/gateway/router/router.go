// Package router wires the gateway routes and its middleware chain.
package router

import (
	"net/http"

	"github.com/lmco/activitysearch/internal/auth/apikey"
	"github.com/lmco/activitysearch/internal/auth/ratelimit"
	gwhandler "github.com/lmco/activitysearch/internal/gateway/handler"
	gwmw "github.com/lmco/activitysearch/internal/gateway/middleware"
	pkgmw "github.com/lmco/activitysearch/pkg/middleware"
)

// New builds the gateway handler.
//
// Route table:
//
//	GET    /api/v1/activities/search          → searcher
//	POST   /api/v1/lists/invalidate           → searcher
//	GET    /api/v1/directory/cache/stats      → searcher
//	POST   /api/v1/directory/cache/invalidate → searcher
//	POST   /api/v1/activities                 → ingestion
//	GET    /api/v1/analytics                  → analytics
//	POST   /api/v1/admin/keys                 → create key (admin)
//	GET    /api/v1/admin/keys                 → list keys  (admin)
//	DELETE /api/v1/admin/keys                 → revoke key (admin)
//	GET    /health                            → gateway health
//
// Middleware chain (outermost first):
//
//	RequestID → CORS → Auth → RateLimit → mux
func New(h *gwhandler.Handler, keys apikey.Store, limiter *ratelimit.Limiter) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)

	mux.HandleFunc("GET /api/v1/activities/search", h.ProxySearch)
	mux.HandleFunc("POST /api/v1/lists/invalidate", h.ProxySearch)
	mux.HandleFunc("GET /api/v1/directory/cache/stats", h.ProxySearch)
	mux.HandleFunc("POST /api/v1/directory/cache/invalidate", h.ProxySearch)

	mux.HandleFunc("POST /api/v1/activities", h.ProxyIngest)

	mux.HandleFunc("GET /api/v1/analytics", h.ProxyAnalytics)

	mux.HandleFunc("POST /api/v1/admin/keys", gwmw.RequireAdmin(h.CreateAPIKey))
	mux.HandleFunc("GET /api/v1/admin/keys", gwmw.RequireAdmin(h.ListAPIKeys))
	mux.HandleFunc("DELETE /api/v1/admin/keys", gwmw.RequireAdmin(h.RevokeAPIKey))

	var chain http.Handler = mux
	chain = gwmw.RateLimit(limiter)(chain)
	chain = gwmw.Auth(keys)(chain)
	chain = gwmw.CORS(gwmw.DefaultCORSConfig())(chain)
	chain = pkgmw.RequestID(chain)
	return chain
}
