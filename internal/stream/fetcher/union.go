package fetcher

import (
	"cmp"
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Union merges several descending sources into one descending,
// duplicate-free list. Every source is read in full (concurrently) on each
// call, so it suits materialised available-id lists, not search results.
type Union[ID cmp.Ordered] struct {
	sources []PageFetcher[ID]
}

func NewUnion[ID cmp.Ordered](sources ...PageFetcher[ID]) *Union[ID] {
	return &Union[ID]{sources: sources}
}

func (u *Union[ID]) FetchPage(ctx context.Context, startIndex, pageSize int) ([]ID, error) {
	lists := make([][]ID, len(u.sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range u.sources {
		i, src := i, src
		g.Go(func() error {
			ids, err := src.FetchPage(gctx, 0, All)
			if err != nil {
				return fmt.Errorf("union source %d: %w", i, err)
			}
			lists[i] = ids
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return NewStaticList(mergeDescending(lists)).FetchPage(ctx, startIndex, pageSize)
}

func mergeDescending[ID cmp.Ordered](lists [][]ID) []ID {
	if len(lists) == 1 {
		return lists[0]
	}
	n := 0
	for _, l := range lists {
		n += len(l)
	}
	out := make([]ID, 0, n)
	pos := make([]int, len(lists))
	for {
		best := -1
		for i, l := range lists {
			if pos[i] >= len(l) {
				continue
			}
			if best < 0 || l[pos[i]] > lists[best][pos[best]] {
				best = i
			}
		}
		if best < 0 {
			return out
		}
		v := lists[best][pos[best]]
		pos[best]++
		if k := len(out); k > 0 && out[k-1] == v {
			continue
		}
		out = append(out, v)
	}
}
