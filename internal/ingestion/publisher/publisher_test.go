package publisher

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/lmco/activitysearch/internal/ingestion"
	apperrors "github.com/lmco/activitysearch/pkg/errors"
	"github.com/lmco/activitysearch/pkg/kafka"
)

type fakeProducer struct {
	events []kafka.Event
	err    error
}

func (f *fakeProducer) Publish(_ context.Context, event kafka.Event) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

func (f *fakeProducer) PublishBatch(ctx context.Context, events []kafka.Event) error {
	for _, e := range events {
		if err := f.Publish(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func TestPostPublishesKeyedByStream(t *testing.T) {
	prod := &fakeProducer{}
	p := New(prod)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	resp, err := p.Post(context.Background(), &ingestion.PostRequest{ID: 42, StreamID: 7, Recipient: "g12", Content: "hi"})
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if resp.ID != 42 || resp.Status != "QUEUED" {
		t.Errorf("resp = %+v, want id 42 queued", resp)
	}
	if len(prod.events) != 1 {
		t.Fatalf("published %d events, want 1", len(prod.events))
	}
	if prod.events[0].Key != "7" {
		t.Errorf("key = %q, want %q", prod.events[0].Key, "7")
	}
	event := prod.events[0].Value.(ingestion.ActivityPosted)
	if !event.PostedAt.Equal(now) || !event.IngestedAt.Equal(now) {
		t.Errorf("posted/ingested = %v/%v, want %v", event.PostedAt, event.IngestedAt, now)
	}
	if doc := event.Document(); doc.ID != 42 || doc.Recipient != "g12" {
		t.Errorf("Document() = %+v", doc)
	}
}

func TestPostKeepsPostedAt(t *testing.T) {
	prod := &fakeProducer{}
	posted := time.Date(2025, 12, 24, 8, 0, 0, 0, time.UTC)
	if _, err := New(prod).Post(context.Background(), &ingestion.PostRequest{ID: 1, StreamID: 1, PostedAt: posted}); err != nil {
		t.Fatal(err)
	}
	if got := prod.events[0].Value.(ingestion.ActivityPosted).PostedAt; !got.Equal(posted) {
		t.Errorf("PostedAt = %v, want %v", got, posted)
	}
}

func TestPostFailureIsRetryable(t *testing.T) {
	p := New(&fakeProducer{err: errors.New("broker down")})
	_, err := p.Post(context.Background(), &ingestion.PostRequest{ID: 1, StreamID: 1})
	if !errors.Is(err, apperrors.ErrPublishFailed) {
		t.Fatalf("err = %v, want ErrPublishFailed", err)
	}
	if got := apperrors.HTTPStatusCode(err); got != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", got)
	}
	if !apperrors.IsRetryable(err) {
		t.Error("publish failure should be retryable")
	}
}
