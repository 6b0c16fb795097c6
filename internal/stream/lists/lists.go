// Package lists serves the precomputed available-id lists behind the
// followed-streams and starred scopes. A list is the complete set of
// activity ids a user may see in that scope, newest first; the index cannot
// answer these scopes itself, so search results are intersected with them.
package lists

import (
	"context"
	"fmt"
	"net/http"

	"github.com/lmco/activitysearch/internal/stream/fetcher"
	"github.com/lmco/activitysearch/internal/stream/scope"
	apperrors "github.com/lmco/activitysearch/pkg/errors"
)

// Source returns the complete available-id list of one user and kind,
// strictly descending.
type Source interface {
	IDs(ctx context.Context, kind scope.ListKind, user string) ([]int64, error)
}

// Invalidator drops whatever a Source has cached for a user's list.
type Invalidator interface {
	Invalidate(ctx context.Context, kind scope.ListKind, user string) error
}

// Fetcher exposes one user's list as a PageFetcher. The list is read again
// on every call, so a single search request sees one consistent snapshot
// per page.
func Fetcher(src Source, kind scope.ListKind, user string) fetcher.PageFetcher[int64] {
	return fetcher.Func[int64](func(ctx context.Context, startIndex, pageSize int) ([]int64, error) {
		ids, err := src.IDs(ctx, kind, user)
		if err != nil {
			return nil, err
		}
		return fetcher.NewStaticList(ids).FetchPage(ctx, startIndex, pageSize)
	})
}

// Kinds lists every list kind in a stable order.
var Kinds = []scope.ListKind{scope.ListFollowed, scope.ListStarred}

// ParseKind validates a wire list kind.
func ParseKind(raw string) (scope.ListKind, error) {
	for _, k := range Kinds {
		if string(k) == raw {
			return k, nil
		}
	}
	return "", apperrors.Invalid("unknown list kind %q", raw)
}

func unsupported(kind scope.ListKind) error {
	return apperrors.Newf(apperrors.ErrUnsupportedScope, http.StatusInternalServerError, "no available-id list configured for %s", kind)
}

func key(kind scope.ListKind, user string) string {
	return fmt.Sprintf("activity-ids:%s:%s", kind, user)
}
