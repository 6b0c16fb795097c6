// Package index is the full-text activity index as seen by the paging
// engine: a query service that accepts a field-qualified boolean query,
// always sorts by activity id descending, and reports the total match count
// alongside one offset/limit window of ids.
package index

import (
	"context"
	"fmt"
	"strings"

	"github.com/lmco/activitysearch/internal/stream/query"
	apperrors "github.com/lmco/activitysearch/pkg/errors"
)

// Request is one round-trip to the index. Results are always sorted by id
// descending.
type Request struct {
	Query  query.Bool
	Offset int
	Limit  int
}

// Result is one window of matches. Total may be stale relative to IDs when
// activity is being indexed concurrently; callers treat it as a hint.
type Result struct {
	Total int
	IDs   []int64
}

// Searcher executes index queries.
type Searcher interface {
	Search(ctx context.Context, req Request) (Result, error)
}

// Document is the indexed projection of an activity.
type Document struct {
	ID          int64  `json:"id"`
	Content     string `json:"content"`
	Recipient   string `json:"recipient"`
	ParentOrgID int64  `json:"recipient_parent_org_id"`
	Public      bool   `json:"public"`
}

// Writer adds or replaces documents.
type Writer interface {
	Index(ctx context.Context, doc Document) error
}

// invalidQuery reports a request the index cannot evaluate. It wraps
// errors.ErrInvalidInput so it is neither retried nor counted against the
// index's circuit breaker.
func invalidQuery(format string, args ...any) error {
	return fmt.Errorf("index search: %w: %s", apperrors.ErrInvalidInput, fmt.Sprintf(format, args...))
}

// inert reports whether c constrains nothing: a plain content term that
// analyses to no terms (stop-words, one-letter words), or a Bool made only
// of such clauses. Both backends drop inert clauses, so "-the report"
// searches for "report".
func inert(c query.Clause) bool {
	switch c := c.(type) {
	case query.Term:
		return c.Field == query.FieldContent && !strings.ContainsAny(c.Value, "*?") && len(analyze(c.Value)) == 0
	case query.Bool:
		for _, occ := range c.Clauses {
			if !inert(occ.Clause) {
				return false
			}
		}
		return true
	}
	return false
}
