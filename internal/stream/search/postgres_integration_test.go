//go:build integration

// Run with:
//
//	go test -v -tags=integration ./internal/stream/search/...
package search

import (
	"context"
	"os"
	"reflect"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lmco/activitysearch/internal/stream/directory"
	"github.com/lmco/activitysearch/internal/stream/hydrate"
	"github.com/lmco/activitysearch/internal/stream/index"
	"github.com/lmco/activitysearch/internal/stream/lists"
	"github.com/lmco/activitysearch/internal/stream/scope"
	"github.com/lmco/activitysearch/pkg/config"
	"github.com/lmco/activitysearch/pkg/metrics"
	"github.com/lmco/activitysearch/pkg/postgres"
)

func skipIfNoPostgres(t *testing.T) *postgres.Client {
	t.Helper()
	db, err := postgres.New(config.PostgresConfig{
		Host:            envOrDefault("TEST_POSTGRES_HOST", "localhost"),
		Port:            envOrDefaultInt("TEST_POSTGRES_PORT", 5432),
		Database:        envOrDefault("TEST_POSTGRES_DB", "activitysearch_test"),
		User:            envOrDefault("TEST_POSTGRES_USER", "activitysearch"),
		Password:        envOrDefault("TEST_POSTGRES_PASSWORD", "localdev"),
		SSLMode:         "disable",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
	})
	if err != nil {
		t.Skipf("skipping integration test: postgres unavailable: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

const pgSeed = `
DELETE FROM activity_index WHERE activity_id BETWEEN 900000 AND 900099;
DELETE FROM activities WHERE id BETWEEN 900000 AND 900099;
DELETE FROM activity_stars WHERE user_key LIKE 'it-%';
DELETE FROM stream_follows WHERE user_key LIKE 'it-%';
DELETE FROM group_members WHERE group_id = 990013;
DELETE FROM people WHERE account_id LIKE 'it-%';
DELETE FROM groups WHERE id = 990013;
DELETE FROM organizations WHERE id = 990001;

INSERT INTO organizations (id, short_name) VALUES (990001, 'it-acme');
INSERT INTO people (id, account_id, parent_org_id) VALUES (990101, 'it-alice', 990001), (990102, 'it-bob', 990001);
INSERT INTO groups (id, short_name, is_private) VALUES (990013, 'it-payroll', TRUE);
INSERT INTO group_members (group_id, person_id) VALUES (990013, 990101);
INSERT INTO activity_stars (user_key, activity_id) VALUES ('it-alice', 900003);
`

func newPostgresOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	ctx := context.Background()
	db := skipIfNoPostgres(t)

	idx := index.NewPostgres(db)
	dir := directory.NewPostgres(db)
	src := lists.NewPostgres(db)
	store := hydrate.NewPostgres(db)
	for _, migrate := range []func(context.Context) error{idx.Migrate, dir.Migrate, src.Migrate, store.Migrate} {
		if err := migrate(ctx); err != nil {
			t.Fatalf("migrate: %v", err)
		}
	}
	if _, err := db.DB.ExecContext(ctx, pgSeed); err != nil {
		t.Fatalf("seeding: %v", err)
	}

	docs := []struct {
		id        int64
		recipient string
		public    bool
	}{
		{900001, "g990013", false},
		{900002, "p990102", true},
		{900003, "p990101", true},
		{900004, "g990013", false},
		{900005, "p990102", true},
	}
	for _, d := range docs {
		a := hydrate.Activity{ID: d.id, StreamID: 77, Recipient: d.recipient, Author: "it", Content: "integration report", Public: d.public, PostedAt: time.Now()}
		if err := store.Put(ctx, a); err != nil {
			t.Fatalf("Put: %v", err)
		}
		doc := index.Document{ID: d.id, Content: a.Content, Recipient: d.recipient, ParentOrgID: 990001, Public: d.public}
		if err := idx.Index(ctx, doc); err != nil {
			t.Fatalf("Index: %v", err)
		}
	}

	cfg := config.Default().Search
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	return New(idx, dir, src, hydrate.New(store, store, m), cfg, m)
}

// walkAll pages with size 2 until a short page.
func walkAll(t *testing.T, o *Orchestrator, req Request) []int64 {
	t.Helper()
	req.PageSize = 2
	var ids []int64
	for i := 0; i < 10; i++ {
		res, err := o.Search(context.Background(), req)
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		for _, a := range res.Activities {
			if a.ID >= 900000 && a.ID < 900100 {
				ids = append(ids, a.ID)
			}
		}
		if !res.HasMore {
			return ids
		}
		req.LastSeenID = res.LastSeenID
	}
	t.Fatal("walk did not end")
	return nil
}

func TestPostgres_VisibilityAcrossPages(t *testing.T) {
	o := newPostgresOrchestrator(t)

	alice := walkAll(t, o, Request{Keywords: "integration", UserKey: "it-alice"})
	if want := []int64{900005, 900004, 900003, 900002, 900001}; !reflect.DeepEqual(alice, want) {
		t.Errorf("alice walk = %v, want %v", alice, want)
	}

	bob := walkAll(t, o, Request{Keywords: "integration", UserKey: "it-bob"})
	if want := []int64{900005, 900003, 900002}; !reflect.DeepEqual(bob, want) {
		t.Errorf("bob walk = %v, want %v", bob, want)
	}
}

func TestPostgres_StarredList(t *testing.T) {
	o := newPostgresOrchestrator(t)
	got := walkAll(t, o, Request{Keywords: "integration", UserKey: "it-alice", Scopes: []scope.Scope{scope.Starred{}}})
	if want := []int64{900003}; !reflect.DeepEqual(got, want) {
		t.Errorf("starred walk = %v, want %v", got, want)
	}
}
