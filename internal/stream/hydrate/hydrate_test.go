package hydrate

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	apperrors "github.com/lmco/activitysearch/pkg/errors"
	"github.com/lmco/activitysearch/pkg/metrics"
)

func ids(activities []Activity) []int64 {
	out := make([]int64, len(activities))
	for i, a := range activities {
		out[i] = a.ID
	}
	return out
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestOrdered(t *testing.T) {
	found := map[int64]Activity{
		30: {ID: 30},
		50: {ID: 50},
		10: {ID: 10},
	}
	got, dropped := Ordered([]int64{50, 40, 30, 20, 10}, found)
	if want := []int64{50, 30, 10}; !equalIDs(ids(got), want) {
		t.Errorf("Ordered() = %v, want %v", ids(got), want)
	}
	if dropped != 2 {
		t.Errorf("dropped = %d, want 2", dropped)
	}
}

func TestHydratePreservesOrderAndDropsMissing(t *testing.T) {
	store := NewMemory()
	for _, id := range []int64{91, 92, 94, 95} {
		store.Put(context.Background(), Activity{ID: id, Content: "report"})
	}
	store.Star("alice", 94)
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	h := New(store, store, m)

	got, err := h.Hydrate(context.Background(), "alice", []int64{95, 94, 93, 92, 91})
	if err != nil {
		t.Fatal(err)
	}
	if want := []int64{95, 94, 92, 91}; !equalIDs(ids(got), want) {
		t.Errorf("Hydrate() = %v, want %v", ids(got), want)
	}
	for _, a := range got {
		if a.Starred != (a.ID == 94) {
			t.Errorf("activity %d starred = %v", a.ID, a.Starred)
		}
	}
	if dropped := testutil.ToFloat64(m.HydrationDropped); dropped != 1 {
		t.Errorf("hydration_dropped_total = %v, want 1", dropped)
	}
}

func TestHydrateEmptyPage(t *testing.T) {
	h := New(NewMemory(), nil, nil)
	got, err := h.Hydrate(context.Background(), "alice", nil)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("Hydrate(nil) = %#v, want empty slice", got)
	}
}

type failingLoader struct{ err error }

func (f failingLoader) Load(context.Context, []int64) (map[int64]Activity, error) {
	return nil, f.err
}

func TestHydrateFailureIsRetryable(t *testing.T) {
	boom := errors.New("connection reset")
	h := New(failingLoader{err: boom}, nil, nil)

	_, err := h.Hydrate(context.Background(), "alice", []int64{1})
	if !errors.Is(err, apperrors.ErrHydrationFailed) || !errors.Is(err, boom) {
		t.Fatalf("Hydrate() error = %v, want ErrHydrationFailed wrapping cause", err)
	}
	if !apperrors.IsRetryable(err) {
		t.Error("hydration failure not retryable")
	}
	if code := apperrors.HTTPStatusCode(err); code != 503 {
		t.Errorf("status = %d, want 503", code)
	}
}

func TestPostgresQueries(t *testing.T) {
	sql, args, err := loadQuery([]int64{3, 2}).ToSql()
	if err != nil {
		t.Fatal(err)
	}
	if want := "SELECT id, stream_id, recipient, author, content, is_public, posted_at FROM activities WHERE id = ANY($1)"; sql != want {
		t.Errorf("load sql = %q, want %q", sql, want)
	}
	if len(args) != 1 {
		t.Errorf("load args = %v, want one array", args)
	}

	sql, args, err = starredQuery("alice", []int64{3}).ToSql()
	if err != nil {
		t.Fatal(err)
	}
	if want := "SELECT activity_id FROM activity_stars WHERE user_key = $1 AND activity_id = ANY($2)"; sql != want {
		t.Errorf("starred sql = %q, want %q", sql, want)
	}
	if len(args) != 2 || args[0] != "alice" {
		t.Errorf("starred args = %v", args)
	}
}
