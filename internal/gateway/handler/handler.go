// Package handler implements the gateway's endpoints: reverse proxies to
// the searcher, ingestion and analytics services, and API key
// administration.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/lmco/activitysearch/internal/auth/apikey"
)

// Config holds the backend base URLs.
type Config struct {
	SearcherURL  string
	IngestionURL string
	AnalyticsURL string
	// DefaultRateLimit applies to keys created without one.
	DefaultRateLimit int
}

type Handler struct {
	searchProxy    *httputil.ReverseProxy
	ingestionProxy *httputil.ReverseProxy
	analyticsProxy *httputil.ReverseProxy
	keys           apikey.Store
	defaultLimit   int
	logger         *slog.Logger
}

func New(cfg Config, keys apikey.Store) (*Handler, error) {
	h := &Handler{
		keys:         keys,
		defaultLimit: cfg.DefaultRateLimit,
		logger:       slog.Default().With("component", "gateway-handler"),
	}
	if h.defaultLimit < 1 {
		h.defaultLimit = 100
	}
	var err error
	if h.searchProxy, err = h.newProxy("searcher", cfg.SearcherURL); err != nil {
		return nil, err
	}
	if h.ingestionProxy, err = h.newProxy("ingestion", cfg.IngestionURL); err != nil {
		return nil, err
	}
	if h.analyticsProxy, err = h.newProxy("analytics", cfg.AnalyticsURL); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *Handler) newProxy(name, target string) (*httputil.ReverseProxy, error) {
	u, err := url.Parse(target)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid %s url %q", name, target)
	}
	p := httputil.NewSingleHostReverseProxy(u)
	p.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		h.logger.ErrorContext(r.Context(), "backend unreachable", "backend", name, "path", r.URL.Path, "error", err)
		h.writeError(w, http.StatusBadGateway, name+" unavailable")
	}
	return p, nil
}

// ProxySearch forwards search, list invalidation and directory cache
// requests to the searcher.
func (h *Handler) ProxySearch(w http.ResponseWriter, r *http.Request) {
	h.searchProxy.ServeHTTP(w, r)
}

// ProxyIngest forwards posted activities to the ingestion service.
func (h *Handler) ProxyIngest(w http.ResponseWriter, r *http.Request) {
	h.ingestionProxy.ServeHTTP(w, r)
}

func (h *Handler) ProxyAnalytics(w http.ResponseWriter, r *http.Request) {
	h.analyticsProxy.ServeHTTP(w, r)
}

type createKeyRequest struct {
	Name      string `json:"name"`
	UserKey   string `json:"user_key"`
	Admin     bool   `json:"admin"`
	RateLimit int    `json:"rate_limit"`
	ExpiresIn string `json:"expires_in,omitempty"` // Go duration, e.g. "720h"
}

// CreateAPIKey mints a key bound to a user. The raw key appears only in
// this response.
func (h *Handler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.RateLimit <= 0 {
		req.RateLimit = h.defaultLimit
	}
	nk := apikey.NewKey{Name: req.Name, UserKey: req.UserKey, Admin: req.Admin, RateLimit: req.RateLimit}
	if req.ExpiresIn != "" {
		d, err := time.ParseDuration(req.ExpiresIn)
		if err != nil || d <= 0 {
			h.writeError(w, http.StatusBadRequest, "invalid expires_in duration")
			return
		}
		t := time.Now().Add(d)
		nk.ExpiresAt = &t
	}
	if nk.Name == "" || nk.UserKey == "" {
		h.writeError(w, http.StatusBadRequest, "name and user_key are required")
		return
	}

	raw, info, err := h.keys.CreateKey(r.Context(), nk)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to create api key", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to create api key")
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]any{
		"api_key": raw,
		"key":     info,
	})
}

func (h *Handler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.keys.ListKeys(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list api keys", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list api keys")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"keys":  keys,
		"count": len(keys),
	})
}

// RevokeAPIKey deactivates the raw key named in the body.
func (h *Handler) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		APIKey string `json:"api_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.APIKey == "" {
		h.writeError(w, http.StatusBadRequest, "api_key is required")
		return
	}
	err := h.keys.RevokeKey(r.Context(), req.APIKey)
	switch {
	case errors.Is(err, apikey.ErrInvalidKey):
		h.writeError(w, http.StatusNotFound, "api key not found")
	case err != nil:
		h.logger.ErrorContext(r.Context(), "failed to revoke api key", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to revoke api key")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "gateway"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
