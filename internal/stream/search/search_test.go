package search

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/lmco/activitysearch/internal/stream/directory"
	"github.com/lmco/activitysearch/internal/stream/hydrate"
	"github.com/lmco/activitysearch/internal/stream/index"
	"github.com/lmco/activitysearch/internal/stream/lists"
	"github.com/lmco/activitysearch/internal/stream/scope"
	"github.com/lmco/activitysearch/pkg/config"
	apperrors "github.com/lmco/activitysearch/pkg/errors"
	"github.com/lmco/activitysearch/pkg/metrics"
)

// recordingIndex remembers every query it is sent.
type recordingIndex struct {
	next    index.Searcher
	mu      sync.Mutex
	queries []string
}

func (r *recordingIndex) Search(ctx context.Context, req index.Request) (index.Result, error) {
	r.mu.Lock()
	r.queries = append(r.queries, req.Query.String())
	r.mu.Unlock()
	return r.next.Search(ctx, req)
}

func (r *recordingIndex) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queries)
}

type fixture struct {
	index      *index.Memory
	recorder   *recordingIndex
	directory  *directory.Memory
	lists      *lists.Memory
	activities *hydrate.Memory
	metrics    *metrics.Metrics
	search     *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	dir := directory.NewMemory()
	dir.AddOrganization("acme", 7)
	dir.AddOrganization("globex", 8)
	dir.AddPerson("alice", 101, 7)
	dir.AddPerson("bob", 102, 8)
	dir.AddGroup("engineering", 12, false)
	dir.AddGroup("payroll", 13, true)
	dir.AddGroup("board", 14, true)
	dir.Join("alice", 13)

	f := &fixture{
		index:      index.NewMemory(),
		directory:  dir,
		lists:      lists.NewMemory(),
		activities: hydrate.NewMemory(),
		metrics:    metrics.NewWithRegistry(prometheus.NewRegistry()),
	}
	f.recorder = &recordingIndex{next: f.index}

	docs := []index.Document{
		{ID: 10, Content: "weekly report", Recipient: "g12", ParentOrgID: 7, Public: true},
		{ID: 11, Content: "payroll report", Recipient: "g13", ParentOrgID: 7},
		{ID: 12, Content: "board report", Recipient: "g14", ParentOrgID: 8},
		{ID: 13, Content: "spam report", Recipient: "g12", ParentOrgID: 7, Public: true},
		{ID: 14, Content: "lunch menu", Recipient: "p101", ParentOrgID: 7, Public: true},
		{ID: 15, Content: "report from bob", Recipient: "p102", ParentOrgID: 8, Public: true},
	}
	for _, d := range docs {
		f.post(t, ctx, d)
	}

	cfg := config.Default().Search
	f.search = New(f.recorder, dir, f.lists, hydrate.New(f.activities, f.activities, f.metrics), cfg, f.metrics)
	return f
}

func (f *fixture) post(t *testing.T, ctx context.Context, d index.Document) {
	t.Helper()
	if err := f.index.Index(ctx, d); err != nil {
		t.Fatal(err)
	}
	if err := f.activities.Put(ctx, hydrate.Activity{ID: d.ID, Recipient: d.Recipient, Content: d.Content, Public: d.Public}); err != nil {
		t.Fatal(err)
	}
}

func activityIDs(res *Result) []int64 {
	out := make([]int64, len(res.Activities))
	for i, a := range res.Activities {
		out[i] = a.ID
	}
	return out
}

func TestSearchStrategies(t *testing.T) {
	tests := []struct {
		name     string
		keywords string
		scopes   []scope.Scope
		want     []int64
		strategy Strategy
	}{
		{"unscoped applies security", "report", nil, []int64{15, 13, 11, 10}, StrategyAll},
		{"explicit all", "report", []scope.Scope{scope.All{}, scope.Group{ShortName: "engineering"}}, []int64{15, 13, 11, 10}, StrategyAll},
		{"exclusion", "-spam report", nil, []int64{15, 11, 10}, StrategyAll},
		{"group", "", []scope.Scope{scope.Group{ShortName: "engineering"}}, []int64{13, 10}, StrategyScoped},
		{"private group still filtered", "", []scope.Scope{scope.Group{ShortName: "board"}}, []int64{}, StrategyScoped},
		{
			"person or organization",
			"",
			[]scope.Scope{scope.Person{AccountID: "alice"}, scope.Organization{ShortName: "acme"}},
			[]int64{14, 13, 11, 10},
			StrategyScoped,
		},
		{"parent organization", "report", []scope.Scope{scope.ParentOrganization{}}, []int64{13, 11, 10}, StrategyScoped},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			res, err := f.search.Search(context.Background(), Request{
				Keywords: tt.keywords,
				Scopes:   tt.scopes,
				UserKey:  "alice",
			})
			if err != nil {
				t.Fatal(err)
			}
			if got := activityIDs(res); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ids = %v, want %v", got, tt.want)
			}
			if res.Strategy != tt.strategy {
				t.Errorf("strategy = %q, want %q", res.Strategy, tt.strategy)
			}
		})
	}
}

func TestSearchGroupScopeIsOneIndexQuery(t *testing.T) {
	f := newFixture(t)
	_, err := f.search.Search(context.Background(), Request{
		Scopes:  []scope.Scope{scope.Group{ShortName: "engineering"}},
		UserKey: "alice",
	})
	if err != nil {
		t.Fatal(err)
	}
	if f.recorder.calls() != 1 {
		t.Fatalf("index calls = %d, want 1", f.recorder.calls())
	}
	if q := f.recorder.queries[0]; !strings.Contains(q, "recipient:g12") {
		t.Errorf("query %q does not filter on recipient:g12", q)
	}
}

func TestSearchStarredEmptyListSkipsIndex(t *testing.T) {
	f := newFixture(t)
	res, err := f.search.Search(context.Background(), Request{
		Keywords: "report",
		Scopes:   []scope.Scope{scope.Starred{}},
		UserKey:  "alice",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Activities) != 0 || res.HasMore {
		t.Errorf("result = %+v, want empty final page", res)
	}
	if res.Strategy != StrategyList {
		t.Errorf("strategy = %q, want list", res.Strategy)
	}
	if f.recorder.calls() != 0 {
		t.Errorf("index calls = %d, want 0", f.recorder.calls())
	}
}

func TestSearchListScopes(t *testing.T) {
	f := newFixture(t)
	f.lists.Set(scope.ListStarred, "alice", []int64{13, 10, 5})
	f.lists.Set(scope.ListFollowed, "alice", []int64{15, 14})

	res, err := f.search.Search(context.Background(), Request{
		Keywords: "report",
		Scopes:   []scope.Scope{scope.Starred{}},
		UserKey:  "alice",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := activityIDs(res), []int64{13, 10}; !reflect.DeepEqual(got, want) {
		t.Errorf("starred = %v, want %v", got, want)
	}
	// The list is the authorisation: the bare keyword query carries no
	// security or scope clause.
	if q := f.recorder.queries[0]; q != "+content:report" {
		t.Errorf("list strategy query = %q, want bare keywords", q)
	}

	res, err = f.search.Search(context.Background(), Request{
		Keywords: "report",
		Scopes:   []scope.Scope{scope.FollowedStreams{}, scope.Starred{}},
		UserKey:  "alice",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := activityIDs(res), []int64{15, 13, 10}; !reflect.DeepEqual(got, want) {
		t.Errorf("followed+starred = %v, want %v", got, want)
	}
}

func TestSearchListWithDirectScopes(t *testing.T) {
	f := newFixture(t)
	f.lists.Set(scope.ListStarred, "alice", []int64{15, 13, 11, 10})

	res, err := f.search.Search(context.Background(), Request{
		Keywords: "report",
		Scopes:   []scope.Scope{scope.Group{ShortName: "engineering"}, scope.Starred{}},
		UserKey:  "alice",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Strategy != StrategyList {
		t.Errorf("strategy = %q, want list", res.Strategy)
	}
	if got, want := activityIDs(res), []int64{13, 10}; !reflect.DeepEqual(got, want) {
		t.Errorf("ids = %v, want %v", got, want)
	}
	if q := f.recorder.queries[0]; !strings.Contains(q, "recipient:g12") {
		t.Errorf("query %q does not narrow to recipient:g12", q)
	}
}

func TestSearchPaging(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := Request{Keywords: "report", UserKey: "alice", PageSize: 2}
	pages := []struct {
		want     []int64
		lastSeen int64
		hasMore  bool
	}{
		{[]int64{15, 13}, 13, true},
		{[]int64{11, 10}, 10, true},
		{[]int64{}, 10, false},
	}
	for i, p := range pages {
		res, err := f.search.Search(ctx, req)
		if err != nil {
			t.Fatalf("page %d: %v", i, err)
		}
		if got := activityIDs(res); !reflect.DeepEqual(got, p.want) {
			t.Errorf("page %d = %v, want %v", i, got, p.want)
		}
		if res.LastSeenID != p.lastSeen || res.HasMore != p.hasMore {
			t.Errorf("page %d last_seen=%d has_more=%v, want %d %v", i, res.LastSeenID, res.HasMore, p.lastSeen, p.hasMore)
		}
		req.LastSeenID = res.LastSeenID
	}
}

func TestSearchPagingWithConcurrentPosts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	seen := map[int64]bool{}
	req := Request{Keywords: "report", UserKey: "alice", PageSize: 1}
	next := int64(100)
	for page := 0; page < 10; page++ {
		res, err := f.search.Search(ctx, req)
		if err != nil {
			t.Fatal(err)
		}
		for _, a := range res.Activities {
			if seen[a.ID] {
				t.Fatalf("activity %d served twice", a.ID)
			}
			if req.LastSeenID > 0 && a.ID >= req.LastSeenID {
				t.Fatalf("activity %d not below watermark %d", a.ID, req.LastSeenID)
			}
			seen[a.ID] = true
		}
		if !res.HasMore {
			break
		}
		req.LastSeenID = res.LastSeenID
		// newer activity lands between page requests
		f.post(t, ctx, index.Document{ID: next, Content: "fresh report", Public: true})
		next++
	}
	for _, id := range []int64{15, 13, 11, 10} {
		if !seen[id] {
			t.Errorf("activity %d never served", id)
		}
	}
}

func TestSearchDropsUnhydratableActivity(t *testing.T) {
	f := newFixture(t)
	f.activities.Delete(13)

	res, err := f.search.Search(context.Background(), Request{Keywords: "report", UserKey: "alice", PageSize: 2})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := activityIDs(res), []int64{15}; !reflect.DeepEqual(got, want) {
		t.Errorf("ids = %v, want %v", got, want)
	}
	// the watermark still advances past the dropped id
	if res.LastSeenID != 13 || !res.HasMore {
		t.Errorf("last_seen=%d has_more=%v, want 13 true", res.LastSeenID, res.HasMore)
	}
}

func TestSearchErrors(t *testing.T) {
	tests := []struct {
		name   string
		req    Request
		noList bool
		want   error
	}{
		{"no user", Request{Keywords: "x"}, false, apperrors.ErrUnauthorized},
		{"negative page size", Request{UserKey: "alice", PageSize: -1}, false, apperrors.ErrInvalidInput},
		{
			"list scope with unknown group",
			Request{UserKey: "alice", Scopes: []scope.Scope{scope.Starred{}, scope.Group{ShortName: "sales"}}},
			false,
			apperrors.ErrNotFound,
		},
		{"unknown group", Request{UserKey: "alice", Scopes: []scope.Scope{scope.Group{ShortName: "sales"}}}, false, apperrors.ErrNotFound},
		{"list scope without source", Request{UserKey: "alice", Scopes: []scope.Scope{scope.Starred{}}}, true, apperrors.ErrUnsupportedScope},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			o := f.search
			if tt.noList {
				o = New(f.recorder, f.directory, nil, hydrate.New(f.activities, nil, nil), config.Default().Search, nil)
			}
			_, err := o.Search(context.Background(), tt.req)
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

type failingIndex struct{}

func (failingIndex) Search(context.Context, index.Request) (index.Result, error) {
	return index.Result{}, errors.New("connection refused")
}

func TestSearchIndexFailureIsRetryable(t *testing.T) {
	f := newFixture(t)
	guarded := index.NewGuarded(failingIndex{}, config.Default().Search, nil)
	o := New(guarded, f.directory, f.lists, hydrate.New(f.activities, nil, nil), config.Default().Search, nil)

	_, err := o.Search(context.Background(), Request{Keywords: "report", UserKey: "alice"})
	if !errors.Is(err, apperrors.ErrIndexUnavailable) {
		t.Fatalf("error = %v, want ErrIndexUnavailable", err)
	}
	if !apperrors.IsRetryable(err) || apperrors.HTTPStatusCode(err) != 503 {
		t.Errorf("retryable=%v status=%d, want true 503", apperrors.IsRetryable(err), apperrors.HTTPStatusCode(err))
	}
}

func TestSearchPageSizeDefaults(t *testing.T) {
	f := newFixture(t)
	cfg := config.Default().Search
	tests := []struct {
		requested, want int
	}{
		{0, cfg.DefaultPageSize},
		{5, 5},
		{cfg.MaxPageSize + 50, cfg.MaxPageSize},
	}
	for _, tt := range tests {
		res, err := f.search.Search(context.Background(), Request{UserKey: "alice", PageSize: tt.requested})
		if err != nil {
			t.Fatal(err)
		}
		if res.PageSize != tt.want {
			t.Errorf("page size for %d = %d, want %d", tt.requested, res.PageSize, tt.want)
		}
	}
}

func TestSearchMetrics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.search.Search(ctx, Request{UserKey: "alice", Scopes: []scope.Scope{scope.Group{ShortName: "engineering"}}}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.search.Search(ctx, Request{UserKey: "alice", Scopes: []scope.Scope{scope.Group{ShortName: "sales"}}}); err == nil {
		t.Fatal("unknown group resolved")
	}

	if got := testutil.ToFloat64(f.metrics.SearchQueriesTotal.WithLabelValues("scoped", "short")); got != 1 {
		t.Errorf("scoped/short = %v, want 1", got)
	}
	if got := testutil.ToFloat64(f.metrics.SearchQueriesTotal.WithLabelValues("scoped", "error")); got != 1 {
		t.Errorf("scoped/error = %v, want 1", got)
	}
}
