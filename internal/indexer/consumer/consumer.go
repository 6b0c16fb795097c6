// Package consumer reads ActivityPosted events from Kafka and makes each
// activity searchable: the record is stored for hydration first, then the
// document is written to the index.
package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lmco/activitysearch/internal/analytics"
	"github.com/lmco/activitysearch/internal/ingestion"
	"github.com/lmco/activitysearch/internal/stream/hydrate"
	"github.com/lmco/activitysearch/internal/stream/index"
	"github.com/lmco/activitysearch/pkg/kafka"
	"github.com/lmco/activitysearch/pkg/metrics"
)

// IndexTracker receives one event per indexed activity.
type IndexTracker interface {
	TrackIndexed(event analytics.IndexEvent)
}

// IndexConsumer wraps a Kafka consumer to drive the indexing pipeline.
type IndexConsumer struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

func New(kafkaConsumer *kafka.Consumer) *IndexConsumer {
	return &IndexConsumer{
		consumer: kafkaConsumer,
		logger:   slog.Default().With("component", "index-consumer"),
	}
}

// Start blocks until ctx is cancelled.
func (ic *IndexConsumer) Start(ctx context.Context) error {
	ic.logger.Info("index consumer starting")
	return ic.consumer.Start(ctx)
}

func (ic *IndexConsumer) Close() error {
	return ic.consumer.Close()
}

// HandleMessage returns a MessageHandler writing each event to store and
// then w. The record goes first so an id is never searchable before it can
// be hydrated. Undecodable events are logged and skipped; write failures
// are returned so the message is redelivered. m and tracker may be nil.
func HandleMessage(w index.Writer, store hydrate.Store, m *metrics.Metrics, tracker IndexTracker) kafka.MessageHandler {
	logger := slog.Default().With("component", "index-consumer")
	return func(ctx context.Context, key []byte, value []byte) error {
		start := time.Now()
		event, err := kafka.DecodeJSON[ingestion.ActivityPosted](value)
		if err != nil {
			logger.Error("failed to decode activity event",
				"error", err,
				"key", string(key),
			)
			return nil
		}
		if event.ID <= 0 {
			logger.Warn("skipping activity event without id", "key", string(key))
			return nil
		}

		if err := store.Put(ctx, event.Activity()); err != nil {
			return fmt.Errorf("storing activity %d: %w", event.ID, err)
		}
		if err := w.Index(ctx, event.Document()); err != nil {
			return fmt.Errorf("indexing activity %d: %w", event.ID, err)
		}

		if m != nil {
			m.DocsIndexedTotal.Inc()
		}
		if tracker != nil {
			tracker.TrackIndexed(analytics.IndexEvent{
				ActivityID: event.ID,
				LatencyMs:  time.Since(start).Milliseconds(),
			})
		}
		logger.Debug("activity indexed",
			"activity_id", event.ID,
			"stream_id", event.StreamID,
		)
		return nil
	}
}
