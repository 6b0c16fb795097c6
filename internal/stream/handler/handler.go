// Package handler exposes stream search over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lmco/activitysearch/internal/analytics"
	"github.com/lmco/activitysearch/internal/stream/lists"
	"github.com/lmco/activitysearch/internal/stream/scope"
	"github.com/lmco/activitysearch/internal/stream/search"
	apperrors "github.com/lmco/activitysearch/pkg/errors"
	"github.com/lmco/activitysearch/pkg/logger"
	"github.com/lmco/activitysearch/pkg/middleware"
)

type Searcher interface {
	Search(ctx context.Context, req search.Request) (*search.Result, error)
}

// DirectoryCache is the management surface of a cached directory.
type DirectoryCache interface {
	Stats() (hits, misses int64)
	Invalidate(ctx context.Context) error
	InvalidateUser(ctx context.Context, user string) error
}

type Handler struct {
	searcher    Searcher
	invalidator lists.Invalidator
	tracker     analytics.Tracker
	directory   DirectoryCache
	logger      *slog.Logger
}

// New builds a Handler. invalidator, tracker and directory may be nil.
func New(s Searcher, invalidator lists.Invalidator, tracker analytics.Tracker, directory DirectoryCache) *Handler {
	return &Handler{
		searcher:    s,
		invalidator: invalidator,
		tracker:     tracker,
		directory:   directory,
		logger:      slog.Default().With("component", "search-handler"),
	}
}

// Search serves GET /api/v1/activities/search. Scopes come from repeated
// or comma-separated scope parameters; lastSeen is the previous page's
// last_seen_id.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)
	params := r.URL.Query()

	req := search.Request{
		Keywords: strings.TrimSpace(params.Get("q")),
		UserKey:  middleware.GetUserKey(ctx),
	}
	if v := params.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		req.PageSize = n
	}
	if v := params.Get("lastSeen"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "lastSeen must be an activity id")
			return
		}
		req.LastSeenID = id
	}
	var raw []string
	for _, v := range params["scope"] {
		raw = append(raw, strings.Split(v, ",")...)
	}
	scopes, err := scope.ParseAll(raw)
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	req.Scopes = scopes

	res, err := h.searcher.Search(ctx, req)
	latencyMs := time.Since(start).Milliseconds()
	event := analytics.SearchEvent{
		Scopes:    scope.Join(scopes),
		Keywords:  req.Keywords,
		PageSize:  req.PageSize,
		FirstPage: req.LastSeenID <= 0,
		LatencyMs: latencyMs,
		Timestamp: time.Now().UTC(),
		RequestID: middleware.GetRequestID(ctx),
	}
	if err != nil {
		event.Strategy = "unresolved"
		event.Failed = true
		h.track(event)
		h.fail(ctx, w, err)
		return
	}
	event.Strategy = string(res.Strategy)
	event.PageSize = res.PageSize
	event.Returned = len(res.Activities)
	event.ShortPage = !res.HasMore
	h.track(event)

	log.Info("search completed",
		"strategy", res.Strategy,
		"scopes", event.Scopes,
		"returned", len(res.Activities),
		"last_seen_id", res.LastSeenID,
		"latency_ms", latencyMs,
	)
	h.writeJSON(w, http.StatusOK, res)
}

type invalidateRequest struct {
	User string `json:"user"`
	Kind string `json:"kind"`
}

// InvalidateLists serves POST /api/v1/lists/invalidate. The body names a
// list kind and optionally another user; both default to everything of
// the requesting user. Only administrators may name another user.
func (h *Handler) InvalidateLists(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.invalidator == nil {
		h.writeError(w, http.StatusServiceUnavailable, "list caching is disabled")
		return
	}
	var body invalidateRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	caller := middleware.GetUserKey(ctx)
	if body.User == "" {
		body.User = caller
	}
	if body.User != caller && !middleware.IsAdmin(ctx) {
		h.writeError(w, http.StatusForbidden, "only administrators may invalidate another user's lists")
		return
	}
	event := lists.InvalidationEvent{User: body.User}
	if body.Kind != "" {
		kind, err := lists.ParseKind(body.Kind)
		if err != nil {
			h.fail(ctx, w, err)
			return
		}
		event.Kind = kind
	}
	if err := lists.InvalidateEvent(ctx, h.invalidator, event); err != nil {
		h.fail(ctx, w, err)
		return
	}
	logger.FromContext(ctx).Info("lists invalidated", "target_user", event.User, "kind", event.Kind)
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

// DirectoryCacheStats serves GET /api/v1/directory/cache/stats.
func (h *Handler) DirectoryCacheStats(w http.ResponseWriter, r *http.Request) {
	if h.directory == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	hits, misses := h.directory.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

type directoryInvalidateRequest struct {
	User string `json:"user"`
	All  bool   `json:"all"`
}

// InvalidateDirectory serves POST /api/v1/directory/cache/invalidate. It
// drops the cached memberships of the requesting user, or of the named
// user. Only administrators may name another user or flush everything
// with "all".
func (h *Handler) InvalidateDirectory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.directory == nil {
		h.writeError(w, http.StatusServiceUnavailable, "directory caching is disabled")
		return
	}
	var body directoryInvalidateRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	caller := middleware.GetUserKey(ctx)
	admin := middleware.IsAdmin(ctx)
	if body.All && body.User != "" {
		h.writeError(w, http.StatusBadRequest, "all and user are mutually exclusive")
		return
	}
	if body.User == "" {
		body.User = caller
	}
	if (body.All || body.User != caller) && !admin {
		h.writeError(w, http.StatusForbidden, "only administrators may invalidate other directory entries")
		return
	}

	log := logger.FromContext(ctx)
	if body.All {
		if err := h.directory.Invalidate(ctx); err != nil {
			h.fail(ctx, w, err)
			return
		}
		log.Info("directory cache flushed")
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
		return
	}
	if body.User == "" {
		h.writeError(w, http.StatusBadRequest, "no user to invalidate")
		return
	}
	if err := h.directory.InvalidateUser(ctx, body.User); err != nil {
		h.fail(ctx, w, err)
		return
	}
	log.Info("directory entries invalidated", "target_user", body.User)
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (h *Handler) track(event analytics.SearchEvent) {
	if h.tracker != nil {
		h.tracker.Track(event)
	}
}

// fail writes err with its mapped status. Client errors carry their
// message; server errors are logged and reported generically, with a
// retryable flag the caller can act on.
func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatusCode(err)
	if status < http.StatusInternalServerError {
		message := err.Error()
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			message = appErr.Message
		}
		h.writeError(w, status, message)
		return
	}
	logger.FromContext(ctx).Error("search request failed", "error", err, "status_code", status)
	retryable := status == http.StatusServiceUnavailable && apperrors.IsRetryable(err)
	h.writeJSON(w, status, map[string]any{
		"error":     http.StatusText(status),
		"retryable": retryable,
	})
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
