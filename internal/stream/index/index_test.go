package index

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lmco/activitysearch/internal/stream/query"
	"github.com/lmco/activitysearch/pkg/config"
	apperrors "github.com/lmco/activitysearch/pkg/errors"
	"github.com/lmco/activitysearch/pkg/resilience"
)

func seeded(t *testing.T) *Memory {
	t.Helper()
	m := NewMemory()
	docs := []Document{
		{ID: 1, Content: "quarterly report", Recipient: "g12", ParentOrgID: 7, Public: true},
		{ID: 2, Content: "lunch menu", Recipient: "p101", ParentOrgID: 7, Public: true},
		{ID: 3, Content: "payroll report", Recipient: "g13", ParentOrgID: 7},
		{ID: 4, Content: "board report", Recipient: "g14", ParentOrgID: 8},
		{ID: 5, Content: "weekly report", Recipient: "g12", ParentOrgID: 7, Public: true},
	}
	for _, d := range docs {
		if err := m.Index(context.Background(), d); err != nil {
			t.Fatal(err)
		}
	}
	return m
}

func TestMemorySearch(t *testing.T) {
	m := seeded(t)
	tests := []struct {
		name      string
		q         query.Bool
		offset    int
		limit     int
		wantIDs   []int64
		wantTotal int
	}{
		{"keyword newest first", query.Keywords("report"), 0, 10, []int64{5, 4, 3, 1}, 4},
		{"window", query.Keywords("report"), 1, 2, []int64{4, 3}, 4},
		{"offset past end", query.Keywords("report"), 10, 5, []int64{}, 4},
		{"must not", query.Keywords("report -board"), 0, 10, []int64{5, 3, 1}, 3},
		{"wildcard", query.Keywords("rep*"), 0, 10, []int64{5, 4, 3, 1}, 4},
		{"security", query.And(query.Keywords("report"), query.Security([]int64{13})), 0, 10, []int64{5, 3, 1}, 3},
		{"parent org", query.And(query.Keywords("report"), query.AnyOf(query.ParentOrg(8))), 0, 10, []int64{4}, 1},
		{"recipient", query.AnyOf(query.GroupRecipient(12), query.PersonRecipient(101)), 0, 10, []int64{5, 2, 1}, 3},
		{"empty query matches all", query.Bool{}, 0, 3, []int64{5, 4, 3}, 5},
		{"stop-word exclusion dropped", query.Keywords("-the report"), 0, 10, []int64{5, 4, 3, 1}, 4},
		{"one-letter exclusion dropped", query.Keywords("-a report"), 0, 10, []int64{5, 4, 3, 1}, 4},
		{"stop-word only matches all", query.Keywords("the"), 0, 10, []int64{5, 4, 3, 2, 1}, 5},
		{"wildcard anchored at word start", query.Keywords("eport*"), 0, 10, []int64{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := m.Search(context.Background(), Request{Query: tt.q, Offset: tt.offset, Limit: tt.limit})
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			if !reflect.DeepEqual(res.IDs, tt.wantIDs) {
				t.Errorf("IDs = %v, want %v", res.IDs, tt.wantIDs)
			}
			if res.Total != tt.wantTotal {
				t.Errorf("Total = %d, want %d", res.Total, tt.wantTotal)
			}
		})
	}
}

func TestMemoryReplaceAndRemove(t *testing.T) {
	m := seeded(t)
	ctx := context.Background()
	if err := m.Index(ctx, Document{ID: 3, Content: "payroll summary", Recipient: "g13"}); err != nil {
		t.Fatal(err)
	}
	m.Remove(5)
	m.Remove(99)

	if got := m.DocCount(); got != 4 {
		t.Errorf("DocCount() = %d, want 4", got)
	}
	res, err := m.Search(ctx, Request{Query: query.Keywords("report"), Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if want := []int64{4, 1}; !reflect.DeepEqual(res.IDs, want) {
		t.Errorf("IDs = %v, want %v", res.IDs, want)
	}
}

func TestMemorySearchErrors(t *testing.T) {
	m := seeded(t)
	ctx := context.Background()

	if _, err := m.Search(ctx, Request{Query: query.Keywords("report"), Limit: 0}); err == nil {
		t.Error("Search(limit 0) should fail")
	}
	bad := query.Bool{Clauses: []query.Occurrence{{Occur: query.Must, Clause: query.Term{Field: "color", Value: "red"}}}}
	if _, err := m.Search(ctx, Request{Query: bad, Limit: 1}); err == nil {
		t.Error("Search(unknown field) should fail")
	}
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := m.Search(cancelled, Request{Query: query.Keywords("report"), Limit: 1}); !errors.Is(err, context.Canceled) {
		t.Errorf("Search(cancelled) = %v, want context.Canceled", err)
	}
}

func TestSearchStatement(t *testing.T) {
	q := query.And(query.Keywords("report -spam"), query.Security([]int64{13}))
	stmt, args, err := searchStatement(Request{Query: q, Offset: 20, Limit: 10})
	if err != nil {
		t.Fatalf("searchStatement: %v", err)
	}
	for _, part := range []string{
		"SELECT activity_id, COUNT(*) OVER () AS total FROM activity_index WHERE ",
		"content_tsv @@ plainto_tsquery('english', $1)",
		"NOT (content_tsv @@ plainto_tsquery('english', $2))",
		"is_public = $3",
		"recipient = $4",
		"ORDER BY activity_id DESC LIMIT 10 OFFSET 20",
	} {
		if !strings.Contains(stmt, part) {
			t.Errorf("statement %q missing %q", stmt, part)
		}
	}
	want := []any{"report", "spam", true, "g13"}
	if !reflect.DeepEqual(args, want) {
		t.Errorf("args = %v, want %v", args, want)
	}

	if _, _, err := searchStatement(Request{Query: q, Limit: 0}); err == nil {
		t.Error("searchStatement(limit 0) should fail")
	}
}

func TestSearchStatementDropsInertTerms(t *testing.T) {
	tests := []struct {
		name     string
		q        query.Bool
		wantArgs []any
	}{
		{"stop-word exclusion", query.Keywords("-the report"), []any{"report"}},
		{"one-letter exclusion", query.Keywords("report -a"), []any{"report"}},
		{"only stop-words", query.Keywords("the of"), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stmt, args, err := searchStatement(Request{Query: tt.q, Limit: 10})
			if err != nil {
				t.Fatalf("searchStatement: %v", err)
			}
			if strings.Contains(stmt, "NOT (") {
				t.Errorf("statement %q still excludes an inert term", stmt)
			}
			if len(args) != len(tt.wantArgs) || (len(args) > 0 && !reflect.DeepEqual(args, tt.wantArgs)) {
				t.Errorf("args = %v, want %v", args, tt.wantArgs)
			}
		})
	}
}

func TestTermCondition(t *testing.T) {
	tests := []struct {
		term     query.Term
		wantSQL  string
		wantArgs []any
	}{
		{query.Term{Field: query.FieldContent, Value: "Rep*"}, "content ~* ?", []any{`\mrep[[:alnum:]]*\M`}},
		{query.Term{Field: query.FieldContent, Value: "q?.1"}, "content ~* ?", []any{`\mq[[:alnum:]]\.1\M`}},
		{query.ParentOrg(7), "recipient_parent_org_id = ?", []any{int64(7)}},
		{query.Public(), "is_public = ?", []any{true}},
	}
	for _, tt := range tests {
		cond, err := termCondition(tt.term)
		if err != nil {
			t.Fatalf("termCondition(%v): %v", tt.term, err)
		}
		sql, args, err := cond.ToSql()
		if err != nil {
			t.Fatal(err)
		}
		if sql != tt.wantSQL || !reflect.DeepEqual(args, tt.wantArgs) {
			t.Errorf("termCondition(%v) = %q %v, want %q %v", tt.term, sql, args, tt.wantSQL, tt.wantArgs)
		}
	}
	if _, err := termCondition(query.Term{Field: query.FieldRecipientParentOrg, Value: "acme"}); err == nil {
		t.Error("non-numeric org id should fail")
	}
}

// flakySearcher fails its first failures calls with err.
type flakySearcher struct {
	calls    atomic.Int32
	failures int32
	err      error
}

func (f *flakySearcher) Search(_ context.Context, req Request) (Result, error) {
	if f.calls.Add(1) <= f.failures {
		return Result{}, f.err
	}
	return Result{Total: 1, IDs: []int64{42}}, nil
}

func guardConfig() config.SearchConfig {
	cfg := config.Default().Search
	cfg.Retry = config.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	cfg.CircuitBreaker = config.CircuitBreakerConfig{FailureThreshold: 5, ResetTimeout: time.Minute}
	return cfg
}

func TestGuardedRetriesTransientFailures(t *testing.T) {
	next := &flakySearcher{failures: 2, err: errors.New("connection reset")}
	g := NewGuarded(next, guardConfig(), nil)

	res, err := g.Search(context.Background(), Request{Limit: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !reflect.DeepEqual(res.IDs, []int64{42}) {
		t.Errorf("IDs = %v, want [42]", res.IDs)
	}
	if got := next.calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestGuardedDoesNotRetryPermanentFailures(t *testing.T) {
	next := &flakySearcher{failures: 10, err: apperrors.Invalid("bad query")}
	g := NewGuarded(next, guardConfig(), nil)

	_, err := g.Search(context.Background(), Request{Limit: 10})
	if !errors.Is(err, apperrors.ErrInvalidInput) || errors.Is(err, apperrors.ErrIndexUnavailable) {
		t.Errorf("err = %v, want ErrInvalidInput unwrapped", err)
	}
	if got := next.calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestGuardedInvalidQueriesKeepBreakerClosed(t *testing.T) {
	cfg := guardConfig()
	cfg.CircuitBreaker.FailureThreshold = 2
	g := NewGuarded(NewMemory(), cfg, nil)

	bad := Request{Query: query.Bool{Clauses: []query.Occurrence{{Occur: query.Must, Clause: query.Term{Field: "colour", Value: "red"}}}}, Limit: 5}
	for iter := 0; iter < 5; iter++ {
		if _, err := g.Search(context.Background(), bad); !errors.Is(err, apperrors.ErrInvalidInput) {
			t.Fatalf("err = %v, want ErrInvalidInput", err)
		}
	}
	if snap := g.Breaker(); snap.State != resilience.StateClosed || snap.ConsecutiveFailures != 0 {
		t.Errorf("breaker = %+v, want closed with no failures", snap)
	}
}

func TestGuardedOpensBreaker(t *testing.T) {
	cfg := guardConfig()
	cfg.Retry.MaxAttempts = 1
	cfg.CircuitBreaker.FailureThreshold = 2
	next := &flakySearcher{failures: 100, err: errors.New("down")}
	g := NewGuarded(next, cfg, nil)

	for iter := 0; iter < 2; iter++ {
		if _, err := g.Search(context.Background(), Request{Limit: 1}); err == nil {
			t.Fatal("expected failure")
		}
	}
	if got := g.State(); got != resilience.StateOpen {
		t.Fatalf("State() = %v, want open", got)
	}
	_, err := g.Search(context.Background(), Request{Limit: 1})
	if !errors.Is(err, resilience.ErrCircuitOpen) || !errors.Is(err, apperrors.ErrIndexUnavailable) {
		t.Errorf("err = %v, want open circuit wrapped as unavailable", err)
	}
	if got := next.calls.Load(); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}
