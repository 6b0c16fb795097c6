package main

import (
	"fmt"
	"io"
	"math"
	"sort"
	"sync"
	"time"
)

// Stats collects page latencies bucketed by depth in the walk.
type Stats struct {
	mu        sync.Mutex
	byDepth   [][]time.Duration
	codes     map[int]int64
	errors    int64
	empty     int64
	exhausted int64
}

func NewStats(maxPages int) *Stats {
	return &Stats{
		byDepth: make([][]time.Duration, maxPages),
		codes:   make(map[int]int64),
	}
}

// Record adds one page request. Transport errors have status zero.
func (s *Stats) Record(depth int, d time.Duration, status int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.errors++
		return
	}
	s.codes[status]++
	if status >= 200 && status < 300 {
		s.byDepth[depth] = append(s.byDepth[depth], d)
	}
}

func (s *Stats) Empty() {
	s.mu.Lock()
	s.empty++
	s.mu.Unlock()
}

// Exhausted counts walks that reached the end of their data.
func (s *Stats) Exhausted() {
	s.mu.Lock()
	s.exhausted++
	s.mu.Unlock()
}

func (s *Stats) total() (n int64) {
	n = s.errors
	for _, c := range s.codes {
		n += c
	}
	return n
}

// Print writes the report and reports whether any request completed.
func (s *Stats) Print(w io.Writer, elapsed time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := s.total()
	fmt.Fprintln(w, "=== Results ===")
	fmt.Fprintf(w, "Page requests:   %d\n", total)
	fmt.Fprintf(w, "Transport errs:  %d\n", s.errors)
	fmt.Fprintf(w, "Empty pages:     %d\n", s.empty)
	fmt.Fprintf(w, "Walks exhausted: %d\n", s.exhausted)
	if total > 0 {
		fmt.Fprintf(w, "Requests/sec:    %.2f\n", float64(total)/elapsed.Seconds())
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Latency by page depth ===")
	fmt.Fprintf(w, "%-6s %8s %10s %10s %10s %10s\n", "depth", "count", "p50", "p95", "p99", "max")
	for depth, lat := range s.byDepth {
		if len(lat) == 0 {
			continue
		}
		sorted := append([]time.Duration(nil), lat...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		fmt.Fprintf(w, "%-6d %8d %10s %10s %10s %10s\n", depth+1, len(sorted),
			percentile(sorted, 50), percentile(sorted, 95), percentile(sorted, 99), sorted[len(sorted)-1])
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Status Codes ===")
	codes := make([]int, 0, len(s.codes))
	for code := range s.codes {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		fmt.Fprintf(w, "  %d: %d\n", code, s.codes[code])
	}

	if total == 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "WARNING: No requests completed. Is the service running?")
		return false
	}
	return true
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}
