package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/lmco/activitysearch/internal/ingestion"
	"github.com/lmco/activitysearch/internal/ingestion/validator"
	apperrors "github.com/lmco/activitysearch/pkg/errors"
	"github.com/lmco/activitysearch/pkg/logger"
)

// Poster queues a validated activity for indexing.
type Poster interface {
	Post(ctx context.Context, req *ingestion.PostRequest) (*ingestion.PostResponse, error)
}

type Handler struct {
	poster Poster
	logger *slog.Logger
}

func New(poster Poster) *Handler {
	return &Handler{
		poster: poster,
		logger: slog.Default().With("component", "ingestion-handler"),
	}
}

func (h *Handler) Post(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)
	var req ingestion.PostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validator.ValidatePostRequest(&req); err != nil {
		var validationErr *validator.ValidationError
		if errors.As(err, &validationErr) {
			h.writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":  "validation failed",
				"fields": validationErr.Fields,
			})
			return
		}
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.poster.Post(ctx, &req)
	if err != nil {
		statusCode := apperrors.HTTPStatusCode(err)
		log.Error("ingestion failed",
			"error", err,
			"status_code", statusCode,
		)
		h.writeError(w, statusCode, "ingestion failed")
		return
	}
	log.Info("activity queued",
		"activity_id", resp.ID,
		"stream_id", req.StreamID,
	)
	h.writeJSON(w, http.StatusAccepted, resp)
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
