package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/lmco/activitysearch/internal/stream/index"
	"github.com/lmco/activitysearch/internal/stream/query"
	"github.com/lmco/activitysearch/pkg/tracing"
)

// IndexSearch pages through a full-text query by watermark rather than by
// offset. Activity posted while a caller is paging shifts every offset in a
// descending-id result set, so each call re-queries from offset 0 and keeps
// only ids strictly below the lowest id already returned. Windows grow until
// a page is filled or the index runs out.
//
// An IndexSearch serves one caller's page walk and is not safe for
// concurrent use.
type IndexSearch struct {
	searcher   index.Searcher
	query      query.Bool
	multiplier int
	lastSeen   int64
	calls      int
	roundTrips int
	logger     *slog.Logger
}

// NewIndexSearch returns a fetcher for q. lastSeenID is the highest id the
// caller has already been shown; zero or negative means none. multiplier
// scales the first window of every call after the first and is clamped to
// at least 1.
func NewIndexSearch(searcher index.Searcher, q query.Bool, lastSeenID int64, multiplier int) *IndexSearch {
	if lastSeenID <= 0 {
		lastSeenID = math.MaxInt64
	}
	if multiplier < 1 {
		multiplier = 1
	}
	return &IndexSearch{
		searcher:   searcher,
		query:      q,
		multiplier: multiplier,
		lastSeen:   lastSeenID,
		logger:     slog.Default().With("component", "index-search-fetcher"),
	}
}

// FetchPage returns up to pageSize ids below the watermark, descending and
// duplicate-free. startIndex is ignored. A page shorter than pageSize means
// the index had nothing more below the watermark when it was asked.
func (f *IndexSearch) FetchPage(ctx context.Context, _ int, pageSize int) ([]int64, error) {
	if pageSize <= 0 {
		return []int64{}, nil
	}
	window := pageSize
	if f.calls > 0 {
		window = growWindow(pageSize, f.multiplier)
	}
	f.calls++
	ctx, span := tracing.StartChildSpan(ctx, "index.fetch")
	defer span.End()
	startTrips := f.roundTrips

	results := make([]int64, 0, min(pageSize, 256))
	total := -1
	for {
		res, err := f.searcher.Search(ctx, index.Request{Query: f.query, Offset: 0, Limit: window})
		if err != nil {
			return nil, fmt.Errorf("searching index window of %d: %w", window, err)
		}
		f.roundTrips++
		if total < 0 {
			total = res.Total
		}
		for _, id := range res.IDs {
			if id >= f.lastSeen {
				continue
			}
			results = append(results, id)
			f.lastSeen = id
			if len(results) == pageSize {
				break
			}
		}
		if len(results) >= pageSize || len(res.IDs) < window || window >= total || window == All {
			break
		}
		window = growWindow(window, 2)
	}

	span.SetAttr("returned", len(results))
	span.SetAttr("final_window", window)
	span.SetAttr("round_trips", f.roundTrips-startTrips)
	f.logger.Debug("index page fetched",
		"page_size", pageSize,
		"returned", len(results),
		"final_window", window,
		"total", total,
		"round_trips", f.roundTrips,
	)
	return results, nil
}

// LastSeen returns the current watermark, the lowest id returned so far, or
// math.MaxInt64 when nothing has been returned and no watermark was given.
func (f *IndexSearch) LastSeen() int64 {
	return f.lastSeen
}

// RoundTrips reports how many index queries this fetcher has issued.
func (f *IndexSearch) RoundTrips() int {
	return f.roundTrips
}

func growWindow(n, factor int) int {
	if n >= All/factor {
		return All
	}
	return n * factor
}
