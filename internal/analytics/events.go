// Package analytics records how stream search is used: which strategies
// answer requests, how full pages come back, and how long they take.
// Events travel over Kafka from the search service to an aggregator that
// serves rolled-up stats.
package analytics

import "time"

type EventType string

const (
	EventSearch  EventType = "search"
	EventIndexed EventType = "activity_indexed"
)

// SearchEvent describes one served (or failed) page request.
type SearchEvent struct {
	Type      EventType `json:"type"`
	Strategy  string    `json:"strategy"`
	Scopes    string    `json:"scopes"`
	Keywords  string    `json:"keywords"`
	PageSize  int       `json:"page_size"`
	Returned  int       `json:"returned"`
	FirstPage bool      `json:"first_page"`
	ShortPage bool      `json:"short_page"`
	Failed    bool      `json:"failed"`
	LatencyMs int64     `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

// IndexEvent describes one activity written to the index.
type IndexEvent struct {
	Type       EventType `json:"type"`
	ActivityID int64     `json:"activity_id"`
	LatencyMs  int64     `json:"latency_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// Tracker accepts search events. Implementations must not block.
type Tracker interface {
	Track(event SearchEvent)
}
