// Package search is the entry point of stream search. It classifies the
// request's scopes, picks the cheapest strategy that still enforces the
// caller's visibility, composes the fetchers for it, and hydrates the
// resulting page of ids.
//
// An Orchestrator is shared by all requests; every call builds its own
// fetchers, so no paging state crosses requests.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lmco/activitysearch/internal/stream/directory"
	"github.com/lmco/activitysearch/internal/stream/fetcher"
	"github.com/lmco/activitysearch/internal/stream/hydrate"
	"github.com/lmco/activitysearch/internal/stream/index"
	"github.com/lmco/activitysearch/internal/stream/lists"
	"github.com/lmco/activitysearch/internal/stream/query"
	"github.com/lmco/activitysearch/internal/stream/scope"
	"github.com/lmco/activitysearch/pkg/config"
	apperrors "github.com/lmco/activitysearch/pkg/errors"
	"github.com/lmco/activitysearch/pkg/logger"
	"github.com/lmco/activitysearch/pkg/metrics"
	"github.com/lmco/activitysearch/pkg/tracing"
)

// Strategy names how a request was answered.
type Strategy string

const (
	// StrategyAll searches the whole index under the user's security clause.
	StrategyAll Strategy = "all"
	// StrategyList intersects a bare keyword search with available-id lists.
	StrategyList Strategy = "list"
	// StrategyScoped folds the scopes into the index query as filters.
	StrategyScoped Strategy = "scoped"
)

// Request is one page request.
type Request struct {
	Keywords string
	Scopes   []scope.Scope
	UserKey  string
	// PageSize of zero selects the configured default; larger than the
	// configured maximum is clamped.
	PageSize int
	// LastSeenID is the lowest id of the previous page; zero or negative
	// starts from the newest activity.
	LastSeenID int64
}

// Result is one page.
type Result struct {
	Activities []hydrate.Activity `json:"activities"`
	// LastSeenID is the watermark to send for the next page. It comes from
	// the id page, not the hydrated records, so dropped records never make
	// the walk revisit ids.
	LastSeenID int64    `json:"last_seen_id"`
	Strategy   Strategy `json:"strategy"`
	// HasMore is false only when the page came back short, which happens
	// only at the end of the data.
	HasMore  bool `json:"has_more"`
	PageSize int  `json:"page_size"`
}

// Hydrator turns an id page into records.
type Hydrator interface {
	Hydrate(ctx context.Context, user string, ids []int64) ([]hydrate.Activity, error)
}

// Orchestrator answers search requests.
type Orchestrator struct {
	index     index.Searcher
	directory directory.Directory
	lists     lists.Source
	hydrator  Hydrator
	cfg       config.SearchConfig
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New builds an Orchestrator. lists may be nil, in which case list scopes
// fail as unsupported; m may be nil.
func New(
	idx index.Searcher,
	dir directory.Directory,
	src lists.Source,
	h Hydrator,
	cfg config.SearchConfig,
	m *metrics.Metrics,
) *Orchestrator {
	return &Orchestrator{
		index:     idx,
		directory: dir,
		lists:     src,
		hydrator:  h,
		cfg:       cfg,
		metrics:   m,
		logger:    slog.Default().With("component", "search-orchestrator"),
	}
}

// Search returns one page of activity visible to req.UserKey.
func (o *Orchestrator) Search(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	if req.UserKey == "" {
		return nil, apperrors.New(apperrors.ErrUnauthorized, http.StatusUnauthorized, "search requires a user")
	}
	pageSize, err := o.pageSize(req.PageSize)
	if err != nil {
		return nil, err
	}
	plan, err := scope.Classify(req.Scopes)
	if err != nil {
		return nil, err
	}

	ctx, span := tracing.StartChildSpan(ctx, "search")
	defer span.End()

	strategy, f, err := o.build(ctx, plan, req)
	span.SetAttr("strategy", string(strategy))
	if err != nil {
		o.record(strategy, "error", start, 0)
		return nil, err
	}
	ids, err := f.FetchPage(ctx, 0, pageSize)
	if err != nil {
		o.record(strategy, "error", start, 0)
		return nil, err
	}
	span.SetAttr("ids", len(ids))

	hctx, hspan := tracing.StartChildSpan(ctx, "hydrate")
	activities, err := o.hydrator.Hydrate(hctx, req.UserKey, ids)
	hspan.End()
	if err != nil {
		o.record(strategy, "error", start, 0)
		return nil, err
	}

	res := &Result{
		Activities: activities,
		LastSeenID: req.LastSeenID,
		Strategy:   strategy,
		HasMore:    len(ids) == pageSize,
		PageSize:   pageSize,
	}
	if len(ids) > 0 {
		res.LastSeenID = ids[len(ids)-1]
	}

	outcome := "full"
	switch {
	case len(ids) == 0:
		outcome = "empty"
	case len(ids) < pageSize:
		outcome = "short"
	}
	o.record(strategy, outcome, start, len(activities))
	logger.FromContext(ctx).Debug("search page served",
		"strategy", strategy,
		"scopes", scope.Join(req.Scopes),
		"ids", len(ids),
		"returned", len(activities),
		"last_seen_id", res.LastSeenID,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

func (o *Orchestrator) pageSize(requested int) (int, error) {
	switch {
	case requested < 0:
		return 0, apperrors.Invalid("page size must not be negative, got %d", requested)
	case requested == 0:
		return o.cfg.DefaultPageSize, nil
	case requested > o.cfg.MaxPageSize:
		return o.cfg.MaxPageSize, nil
	}
	return requested, nil
}

// build composes the fetcher for a request.
func (o *Orchestrator) build(ctx context.Context, plan scope.Plan, req Request) (Strategy, fetcher.PageFetcher[int64], error) {
	keywords := query.Keywords(req.Keywords)

	switch {
	case plan.Unrestricted:
		security, err := o.security(ctx, req.UserKey)
		if err != nil {
			return StrategyAll, nil, err
		}
		q := query.And(keywords, security)
		return StrategyAll, o.indexSearch(q, req.LastSeenID), nil

	case len(plan.Lists) > 0:
		available, err := o.available(plan.Lists, req.UserKey)
		if err != nil {
			return StrategyList, nil, err
		}
		// The list is the authorisation, so the index side is bare keywords
		// unless direct scopes narrow it further.
		q := keywords
		if len(plan.Direct) > 0 {
			if q, err = o.scopedQuery(ctx, keywords, plan.Direct, req.UserKey); err != nil {
				return StrategyList, nil, err
			}
		}
		search := o.indexSearch(q, req.LastSeenID)
		return StrategyList, fetcher.NewIntersection[int64](search, available, o.cfg.IntersectionBatchSize), nil

	default:
		q, err := o.scopedQuery(ctx, keywords, plan.Direct, req.UserKey)
		if err != nil {
			return StrategyScoped, nil, err
		}
		return StrategyScoped, o.indexSearch(q, req.LastSeenID), nil
	}
}

func (o *Orchestrator) indexSearch(q query.Bool, lastSeen int64) *fetcher.IndexSearch {
	return fetcher.NewIndexSearch(o.index, q, lastSeen, o.cfg.SubsequentPageMultiplier)
}

func (o *Orchestrator) available(kinds []scope.ListKind, user string) (fetcher.PageFetcher[int64], error) {
	if o.lists == nil {
		return nil, apperrors.Newf(apperrors.ErrUnsupportedScope, http.StatusInternalServerError,
			"no available-id source configured for %v", kinds)
	}
	if len(kinds) == 1 {
		return lists.Fetcher(o.lists, kinds[0], user), nil
	}
	sources := make([]fetcher.PageFetcher[int64], len(kinds))
	for i, k := range kinds {
		sources[i] = lists.Fetcher(o.lists, k, user)
	}
	return fetcher.NewUnion(sources...), nil
}

func (o *Orchestrator) security(ctx context.Context, user string) (query.Bool, error) {
	groups, err := o.directory.PrivateGroupIDs(ctx, user)
	if err != nil {
		return query.Bool{}, fmt.Errorf("resolving visibility of %s: %w", user, err)
	}
	return query.Security(groups), nil
}

// scopedQuery resolves every direct scope and the security clause
// concurrently, then requires keywords, visibility, and any one scope.
func (o *Orchestrator) scopedQuery(ctx context.Context, keywords query.Bool, scopes []scope.Scope, user string) (query.Bool, error) {
	terms := make([]query.Term, len(scopes))
	var security query.Bool

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		security, err = o.security(gctx, user)
		return err
	})
	for i, s := range scopes {
		i, s := i, s
		g.Go(func() error {
			r := &resolver{ctx: gctx, directory: o.directory, user: user}
			if err := s.Accept(r); err != nil {
				return fmt.Errorf("resolving scope %s: %w", s, err)
			}
			terms[i] = r.term
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return query.Bool{}, err
	}
	return query.And(keywords, security, query.AnyOf(terms...)), nil
}

func (o *Orchestrator) record(strategy Strategy, outcome string, start time.Time, returned int) {
	if o.metrics == nil || strategy == "" {
		return
	}
	o.metrics.SearchQueriesTotal.WithLabelValues(string(strategy), outcome).Inc()
	o.metrics.SearchLatency.WithLabelValues(string(strategy)).Observe(time.Since(start).Seconds())
	if outcome != "error" {
		o.metrics.SearchResultsCount.Observe(float64(returned))
	}
}
