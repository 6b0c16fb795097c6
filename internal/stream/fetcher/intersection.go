package fetcher

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"sort"
)

// Intersection authorises search results against a complete list of ids the
// user may see in a scope that the index cannot filter on (followed streams,
// starred activity). It merge-joins two descending streams: the available
// list is materialised once per call, the search results are pulled in
// batches, so the usually much larger search result set is never loaded
// whole.
type Intersection[ID cmp.Ordered] struct {
	search    PageFetcher[ID]
	available PageFetcher[ID]
	batchSize int
	logger    *slog.Logger
}

// NewIntersection joins search against available. batchSize is the window
// requested from search on each pull and is independent of the caller's page
// size; values below 1 become 1.
func NewIntersection[ID cmp.Ordered](search, available PageFetcher[ID], batchSize int) *Intersection[ID] {
	if batchSize < 1 {
		batchSize = 1
	}
	return &Intersection[ID]{
		search:    search,
		available: available,
		batchSize: batchSize,
		logger:    slog.Default().With("component", "intersection-fetcher"),
	}
}

// FetchPage returns up to pageSize ids present in both sources, in the
// search source's order. Pulls from the search source always begin at its
// offset 0; paging across calls relies on the search source's own watermark.
//
// Output is strictly descending even if the search source is not: a
// candidate at or above the last emitted id is skipped, and a candidate
// higher than its predecessor re-seeks the available cursor instead of
// assuming it only ever moves forward.
func (f *Intersection[ID]) FetchPage(ctx context.Context, _ int, pageSize int) ([]ID, error) {
	if pageSize <= 0 {
		return []ID{}, nil
	}
	avail, err := f.available.FetchPage(ctx, 0, All)
	if err != nil {
		return nil, fmt.Errorf("loading available ids: %w", err)
	}
	if len(avail) == 0 {
		return []ID{}, nil
	}

	results := make([]ID, 0, min(pageSize, len(avail)))
	var (
		cursor   int
		prev     ID
		havePrev bool
		pulls    int
	)
	offset := 0
	for {
		page, err := f.search.FetchPage(ctx, offset, f.batchSize)
		if err != nil {
			return nil, fmt.Errorf("pulling search results at offset %d: %w", offset, err)
		}
		pulls++
		for _, cand := range page {
			if n := len(results); n > 0 && cand >= results[n-1] {
				continue
			}
			if havePrev && cand > prev {
				cursor = sort.Search(len(avail), func(i int) bool { return avail[i] <= cand })
			}
			prev, havePrev = cand, true

			for cursor < len(avail) && avail[cursor] > cand {
				cursor++
			}
			if cursor == len(avail) {
				return f.done(results, pulls, len(avail)), nil
			}
			if avail[cursor] != cand {
				continue
			}
			results = append(results, cand)
			cursor++
			if len(results) == pageSize || cursor == len(avail) {
				return f.done(results, pulls, len(avail)), nil
			}
		}
		if len(page) < f.batchSize {
			return f.done(results, pulls, len(avail)), nil
		}
		offset += len(page)
	}
}

func (f *Intersection[ID]) done(results []ID, pulls, available int) []ID {
	f.logger.Debug("intersection page fetched",
		"returned", len(results),
		"search_pulls", pulls,
		"available", available,
	)
	return results
}
