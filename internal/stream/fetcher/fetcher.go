// Package fetcher implements the paging engine behind stream search. Every
// component is a PageFetcher: a source of ids that can be asked for a window
// starting at an index. All ids flow in strictly descending order, which is
// also recency order, and the composition rules (watermarks, merge joins)
// depend on it.
package fetcher

import (
	"cmp"
	"context"
	"math"
)

// All, passed as a page size, asks for every remaining id.
const All = math.MaxInt32

// PageFetcher produces up to pageSize ids starting at startIndex.
//
// Implementations may be stateful: IndexSearch ignores startIndex and
// continues below the lowest id it has already returned. Callers must not
// assume two calls with the same arguments return the same ids when the
// underlying data is changing; correctness comes from the descending-id
// watermark, not from offsets.
type PageFetcher[ID cmp.Ordered] interface {
	FetchPage(ctx context.Context, startIndex, pageSize int) ([]ID, error)
}

// Func adapts a function to PageFetcher.
type Func[ID cmp.Ordered] func(ctx context.Context, startIndex, pageSize int) ([]ID, error)

func (f Func[ID]) FetchPage(ctx context.Context, startIndex, pageSize int) ([]ID, error) {
	return f(ctx, startIndex, pageSize)
}
