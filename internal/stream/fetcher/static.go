package fetcher

import (
	"cmp"
	"context"
)

// StaticList slices pages out of a fully materialised, pre-sorted id list,
// such as the cached id list of a composite stream. The list is not copied;
// callers must not mutate it while the fetcher is in use.
type StaticList[ID cmp.Ordered] struct {
	ids []ID
}

func NewStaticList[ID cmp.Ordered](ids []ID) *StaticList[ID] {
	return &StaticList[ID]{ids: ids}
}

// FetchPage returns ids[startIndex : startIndex+pageSize], clamped to the
// list. Out-of-range or non-positive windows yield an empty page.
func (s *StaticList[ID]) FetchPage(_ context.Context, startIndex, pageSize int) ([]ID, error) {
	if startIndex < 0 || pageSize <= 0 || startIndex >= len(s.ids) {
		return []ID{}, nil
	}
	end := len(s.ids)
	if pageSize < end-startIndex {
		end = startIndex + pageSize
	}
	return s.ids[startIndex:end:end], nil
}

// Len returns the number of ids in the list.
func (s *StaticList[ID]) Len() int {
	return len(s.ids)
}
