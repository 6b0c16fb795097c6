package fixture

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/lmco/activitysearch/internal/stream/directory"
	"github.com/lmco/activitysearch/internal/stream/hydrate"
	"github.com/lmco/activitysearch/internal/stream/index"
	"github.com/lmco/activitysearch/internal/stream/lists"
	"github.com/lmco/activitysearch/internal/stream/query"
	"github.com/lmco/activitysearch/internal/stream/scope"
)

const seed = `
organizations:
  - {id: 1, short_name: acme}
people:
  - {id: 5, account: alice, organization: 1}
  - {id: 6, account: bob}
groups:
  - {id: 13, short_name: secret, private: true, members: [alice]}
activities:
  - {id: 100, stream_id: 7, recipient: g13, author: bob, content: "quarterly report", posted_at: 2024-03-01T10:00:00Z}
  - {id: 101, stream_id: 7, recipient: p5, author: bob, content: "lunch", public: true}
  - {id: 102, stream_id: 8, recipient: p6, author: alice, content: "annual report", public: true}
follows:
  alice: [7]
stars:
  alice: [102]
`

func applySeed(t *testing.T) Targets {
	t.Helper()
	f, err := Parse([]byte(seed))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	tg := Targets{
		Directory: directory.NewMemory(),
		Index:     index.NewMemory(),
		Store:     hydrate.NewMemory(),
		Lists:     lists.NewMemory(),
	}
	if err := f.Apply(context.Background(), tg); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	return tg
}

func TestApply_Directory(t *testing.T) {
	tg := applySeed(t)
	ctx := context.Background()

	if id, err := tg.Directory.GroupID(ctx, "secret"); err != nil || id != 13 {
		t.Errorf("GroupID(secret) = %d, %v; want 13", id, err)
	}
	if id, err := tg.Directory.ParentOrganizationID(ctx, "alice"); err != nil || id != 1 {
		t.Errorf("ParentOrganizationID(alice) = %d, %v; want 1", id, err)
	}
	groups, err := tg.Directory.PrivateGroupIDs(ctx, "alice")
	if err != nil {
		t.Fatalf("PrivateGroupIDs: %v", err)
	}
	if !reflect.DeepEqual(groups, []int64{13}) {
		t.Errorf("private groups = %v, want [13]", groups)
	}
}

func TestApply_Lists(t *testing.T) {
	tg := applySeed(t)
	ctx := context.Background()

	followed, err := tg.Lists.IDs(ctx, scope.ListFollowed, "alice")
	if err != nil {
		t.Fatalf("IDs: %v", err)
	}
	if want := []int64{101, 100}; !reflect.DeepEqual(followed, want) {
		t.Errorf("followed = %v, want %v", followed, want)
	}
	starred, err := tg.Lists.IDs(ctx, scope.ListStarred, "alice")
	if err != nil {
		t.Fatalf("IDs: %v", err)
	}
	if want := []int64{102}; !reflect.DeepEqual(starred, want) {
		t.Errorf("starred = %v, want %v", starred, want)
	}
}

func TestApply_StoreAndIndex(t *testing.T) {
	tg := applySeed(t)
	ctx := context.Background()

	recs, err := tg.Store.Load(ctx, []int64{100, 102})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if recs[100].Content != "quarterly report" || recs[100].PostedAt.Year() != 2024 {
		t.Errorf("record 100 = %+v", recs[100])
	}
	stars, err := tg.Store.Starred(ctx, "alice", []int64{100, 102})
	if err != nil {
		t.Fatalf("Starred: %v", err)
	}
	if !stars[102] || stars[100] {
		t.Errorf("stars = %v, want only 102", stars)
	}

	res, err := tg.Index.(index.Searcher).Search(ctx, index.Request{Query: query.Keywords("report"), Limit: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if want := []int64{102, 100}; !reflect.DeepEqual(res.IDs, want) {
		t.Errorf("report ids = %v, want %v", res.IDs, want)
	}
}

func TestParse_RejectsInvalidActivity(t *testing.T) {
	_, err := Parse([]byte(`
activities:
  - {id: 1, stream_id: 1, recipient: x9, author: a, content: c}
`))
	if err == nil || !strings.Contains(err.Error(), "recipient") {
		t.Errorf("Parse error = %v, want recipient failure", err)
	}
}

func TestParse_BadYAML(t *testing.T) {
	if _, err := Parse([]byte("people: {")); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoad_SampleSeed(t *testing.T) {
	f, err := Load("../../../configs/seed.yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(f.Activities) != 6 {
		t.Errorf("activities = %d, want 6", len(f.Activities))
	}
	if got := f.Follows["bob"]; !reflect.DeepEqual(got, []int64{70, 72}) {
		t.Errorf("bob follows = %v, want [70 72]", got)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("does-not-exist.yaml"); err == nil {
		t.Error("Load(missing) error = nil, want error")
	}
}
