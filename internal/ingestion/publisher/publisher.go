// Package publisher turns accepted posts into ActivityPosted events on
// Kafka. Events are keyed by stream so one stream's activity is indexed in
// posting order.
package publisher

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/lmco/activitysearch/internal/ingestion"
	apperrors "github.com/lmco/activitysearch/pkg/errors"
	"github.com/lmco/activitysearch/pkg/kafka"
)

type Publisher struct {
	producer kafka.Publisher
	now      func() time.Time
	logger   *slog.Logger
}

func New(producer kafka.Publisher) *Publisher {
	return &Publisher{
		producer: producer,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   slog.Default().With("component", "publisher"),
	}
}

// Post publishes req. A zero PostedAt is stamped with the ingestion time.
func (p *Publisher) Post(ctx context.Context, req *ingestion.PostRequest) (*ingestion.PostResponse, error) {
	now := p.now()
	event := ingestion.ActivityPosted{PostRequest: *req, IngestedAt: now}
	if event.PostedAt.IsZero() {
		event.PostedAt = now
	}

	err := p.producer.Publish(ctx, kafka.Event{
		Key:   strconv.FormatInt(req.StreamID, 10),
		Value: event,
	})
	if err != nil {
		p.logger.Error("failed to publish activity",
			"activity_id", req.ID,
			"stream_id", req.StreamID,
			"error", err,
		)
		return nil, apperrors.Newf(apperrors.ErrPublishFailed, http.StatusServiceUnavailable,
			"activity %d was not queued for indexing", req.ID)
	}
	return &ingestion.PostResponse{ID: req.ID, Status: "QUEUED"}, nil
}
