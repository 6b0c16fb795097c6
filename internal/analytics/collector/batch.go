// Package collector buffers analytics events in memory and publishes them
// to Kafka in bulk, off the request path.
package collector

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lmco/activitysearch/internal/analytics"
	"github.com/lmco/activitysearch/pkg/kafka"
)

const eventKey = "analytics"

// BatchCollector flushes buffered events when the batch reaches batchSize
// or every flushInterval, whichever comes first. Failed batches are
// re-queued up to three batches' worth; older overflow is dropped.
type BatchCollector struct {
	publisher     kafka.Publisher
	mu            sync.Mutex
	flushMu       sync.Mutex
	buffer        []kafka.Event
	batchSize     int
	flushInterval time.Duration
	logger        *slog.Logger
	done          chan struct{}
}

var _ analytics.Tracker = (*BatchCollector)(nil)

func NewBatchCollector(publisher kafka.Publisher, batchSize int, flushInterval time.Duration) *BatchCollector {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &BatchCollector{
		publisher:     publisher,
		buffer:        make([]kafka.Event, 0, batchSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        slog.Default().With("component", "batch-collector"),
		done:          make(chan struct{}),
	}
}

// Start launches the background flush loop, which runs until ctx is
// cancelled and then flushes once more.
func (bc *BatchCollector) Start(ctx context.Context) {
	go func() {
		defer close(bc.done)
		ticker := time.NewTicker(bc.flushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				bc.Flush(ctx)
			case <-ctx.Done():
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				bc.Flush(flushCtx)
				cancel()
				return
			}
		}
	}()
	bc.logger.Info("batch collector started",
		"batch_size", bc.batchSize,
		"flush_interval", bc.flushInterval,
	)
}

// Track buffers a search event.
func (bc *BatchCollector) Track(event analytics.SearchEvent) {
	event.Type = analytics.EventSearch
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	bc.enqueue(event)
}

// TrackIndexed buffers an indexing event.
func (bc *BatchCollector) TrackIndexed(event analytics.IndexEvent) {
	event.Type = analytics.EventIndexed
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	bc.enqueue(event)
}

func (bc *BatchCollector) enqueue(value any) {
	bc.mu.Lock()
	bc.buffer = append(bc.buffer, kafka.Event{Key: eventKey, Value: value})
	shouldFlush := len(bc.buffer) >= bc.batchSize
	bc.mu.Unlock()

	if shouldFlush {
		go bc.Flush(context.Background())
	}
}

// Close waits for the flush loop started by Start to finish.
func (bc *BatchCollector) Close() {
	<-bc.done
}

func (bc *BatchCollector) BufferLen() int {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return len(bc.buffer)
}

// Flush publishes everything buffered so far.
func (bc *BatchCollector) Flush(ctx context.Context) {
	bc.flushMu.Lock()
	defer bc.flushMu.Unlock()

	bc.mu.Lock()
	if len(bc.buffer) == 0 {
		bc.mu.Unlock()
		return
	}
	batch := bc.buffer
	bc.buffer = make([]kafka.Event, 0, bc.batchSize)
	bc.mu.Unlock()

	if err := bc.publisher.PublishBatch(ctx, batch); err != nil {
		bc.logger.Error("batch flush failed",
			"batch_size", len(batch),
			"error", err,
		)
		bc.mu.Lock()
		bc.buffer = append(batch, bc.buffer...)
		if limit := bc.batchSize * 3; len(bc.buffer) > limit {
			dropped := len(bc.buffer) - limit
			bc.buffer = bc.buffer[:limit]
			bc.logger.Warn("buffer overflow, events dropped", "dropped", dropped)
		}
		bc.mu.Unlock()
		return
	}
	bc.logger.Debug("batch flushed", "events", len(batch))
}
