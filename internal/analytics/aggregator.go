package analytics

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/lmco/activitysearch/pkg/kafka"
)

// maxLatencySamples bounds the latency window used for percentiles.
const maxLatencySamples = 10000

type AggregatedStats struct {
	TotalSearches    int64            `json:"total_searches"`
	TotalIndexed     int64            `json:"total_activities_indexed"`
	ByStrategy       map[string]int64 `json:"by_strategy"`
	EmptyPages       int64            `json:"empty_pages"`
	ShortPages       int64            `json:"short_pages"`
	Failures         int64            `json:"failures"`
	AvgLatencyMs     float64          `json:"avg_latency_ms"`
	P50LatencyMs     int64            `json:"p50_latency_ms"`
	P95LatencyMs     int64            `json:"p95_latency_ms"`
	P99LatencyMs     int64            `json:"p99_latency_ms"`
	TopScopes        []ScopeCount     `json:"top_scopes"`
	QueriesPerMinute float64          `json:"queries_per_minute"`
}

type ScopeCount struct {
	Scopes string `json:"scopes"`
	Count  int64  `json:"count"`
}

// Aggregator rolls events up in memory. It is safe for concurrent use and
// doubles as an in-process Tracker when Kafka is not in the path.
type Aggregator struct {
	mu           sync.Mutex
	totalIndexed int64
	searches     int64
	byStrategy   map[string]int64
	emptyPages   int64
	shortPages   int64
	failures     int64
	latencies    []int64
	next         int
	scopeCounts  map[string]int64
	startTime    time.Time
	logger       *slog.Logger
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		byStrategy:  make(map[string]int64),
		latencies:   make([]int64, 0, 1024),
		scopeCounts: make(map[string]int64),
		startTime:   time.Now(),
		logger:      slog.Default().With("component", "analytics-aggregator"),
	}
}

// HandleEvent returns a kafka handler feeding agg. Events it cannot decode
// are logged and skipped.
func HandleEvent(agg *Aggregator) kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		var envelope struct {
			Type EventType `json:"type"`
		}
		if err := json.Unmarshal(value, &envelope); err != nil {
			agg.logger.Error("failed to decode analytics event", "error", err)
			return nil
		}
		switch envelope.Type {
		case EventSearch:
			event, err := kafka.DecodeJSON[SearchEvent](value)
			if err != nil {
				agg.logger.Error("failed to decode search event", "error", err)
				return nil
			}
			agg.Track(event)
		case EventIndexed:
			agg.mu.Lock()
			agg.totalIndexed++
			agg.mu.Unlock()
		default:
			agg.logger.Warn("unknown analytics event type", "type", envelope.Type, "key", string(key))
		}
		return nil
	}
}

// Track records one search event.
func (a *Aggregator) Track(event SearchEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.searches++
	a.byStrategy[event.Strategy]++
	if event.Failed {
		a.failures++
		return
	}
	switch {
	case event.Returned == 0:
		a.emptyPages++
	case event.ShortPage:
		a.shortPages++
	}
	scopes := event.Scopes
	if scopes == "" {
		scopes = "all"
	}
	a.scopeCounts[scopes]++

	if len(a.latencies) < maxLatencySamples {
		a.latencies = append(a.latencies, event.LatencyMs)
	} else {
		a.latencies[a.next] = event.LatencyMs
		a.next = (a.next + 1) % maxLatencySamples
	}
}

func (a *Aggregator) Stats() AggregatedStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	stats := AggregatedStats{
		TotalSearches: a.searches,
		TotalIndexed:  a.totalIndexed,
		ByStrategy:    make(map[string]int64, len(a.byStrategy)),
		EmptyPages:    a.emptyPages,
		ShortPages:    a.shortPages,
		Failures:      a.failures,
	}
	for k, v := range a.byStrategy {
		stats.ByStrategy[k] = v
	}
	if len(a.latencies) > 0 {
		sorted := make([]int64, len(a.latencies))
		copy(sorted, a.latencies)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		var sum int64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = float64(sum) / float64(len(sorted))
		stats.P50LatencyMs = percentile(sorted, 50)
		stats.P95LatencyMs = percentile(sorted, 95)
		stats.P99LatencyMs = percentile(sorted, 99)
	}
	stats.TopScopes = topN(a.scopeCounts, 10)
	if elapsed := time.Since(a.startTime).Minutes(); elapsed > 0 {
		stats.QueriesPerMinute = float64(stats.TotalSearches) / elapsed
	}
	return stats
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func topN(counts map[string]int64, n int) []ScopeCount {
	result := make([]ScopeCount, 0, len(counts))
	for scopes, count := range counts {
		result = append(result, ScopeCount{Scopes: scopes, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Scopes < result[j].Scopes
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
