// Package fixture seeds the in-process backends from a YAML file so the
// searcher can run without postgres, redis or an upstream stream service.
//
//	organizations:
//	  - {id: 1, short_name: acme}
//	people:
//	  - {id: 5, account: alice, organization: 1}
//	groups:
//	  - {id: 13, short_name: secret, private: true, members: [alice]}
//	activities:
//	  - {id: 100, stream_id: 7, recipient: g13, author: bob, content: "quarterly report"}
//	follows:
//	  alice: [7]
//	stars:
//	  alice: [100]
//
// Followed lists are derived from follows: every seeded activity posted to
// a followed stream.
package fixture

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/lmco/activitysearch/internal/ingestion"
	"github.com/lmco/activitysearch/internal/ingestion/validator"
	"github.com/lmco/activitysearch/internal/stream/directory"
	"github.com/lmco/activitysearch/internal/stream/hydrate"
	"github.com/lmco/activitysearch/internal/stream/index"
	"github.com/lmco/activitysearch/internal/stream/lists"
	"github.com/lmco/activitysearch/internal/stream/scope"
)

type Organization struct {
	ID        int64  `yaml:"id"`
	ShortName string `yaml:"short_name"`
}

type Person struct {
	ID           int64  `yaml:"id"`
	Account      string `yaml:"account"`
	Organization int64  `yaml:"organization"`
}

type Group struct {
	ID        int64    `yaml:"id"`
	ShortName string   `yaml:"short_name"`
	Private   bool     `yaml:"private"`
	Members   []string `yaml:"members"`
}

type Fixture struct {
	Organizations []Organization          `yaml:"organizations"`
	People        []Person                `yaml:"people"`
	Groups        []Group                 `yaml:"groups"`
	Activities    []ingestion.PostRequest `yaml:"activities"`
	Follows       map[string][]int64      `yaml:"follows"`
	Stars         map[string][]int64      `yaml:"stars"`
}

// Targets are the backends a fixture is written to.
type Targets struct {
	Directory *directory.Memory
	Index     index.Writer
	Store     *hydrate.Memory
	Lists     *lists.Memory
}

func Load(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixture %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing fixture: %w", err)
	}
	for i := range f.Activities {
		if err := validator.ValidatePostRequest(&f.Activities[i]); err != nil {
			return nil, fmt.Errorf("fixture activity %d: %w", i, err)
		}
	}
	return &f, nil
}

// Apply writes f into t. Activities are stored before they are indexed,
// matching the indexer.
func (f *Fixture) Apply(ctx context.Context, t Targets) error {
	for _, o := range f.Organizations {
		t.Directory.AddOrganization(o.ShortName, o.ID)
	}
	for _, p := range f.People {
		t.Directory.AddPerson(p.Account, p.ID, p.Organization)
	}
	for _, g := range f.Groups {
		t.Directory.AddGroup(g.ShortName, g.ID, g.Private)
		for _, member := range g.Members {
			t.Directory.Join(member, g.ID)
		}
	}

	byStream := make(map[int64][]int64)
	for _, req := range f.Activities {
		event := ingestion.ActivityPosted{PostRequest: req}
		if err := t.Store.Put(ctx, event.Activity()); err != nil {
			return fmt.Errorf("storing activity %d: %w", req.ID, err)
		}
		if err := t.Index.Index(ctx, event.Document()); err != nil {
			return fmt.Errorf("indexing activity %d: %w", req.ID, err)
		}
		byStream[req.StreamID] = append(byStream[req.StreamID], req.ID)
	}

	for user, streams := range f.Follows {
		var ids []int64
		for _, s := range streams {
			ids = append(ids, byStream[s]...)
		}
		t.Lists.Set(scope.ListFollowed, user, ids)
	}
	for user, ids := range f.Stars {
		for _, id := range ids {
			t.Store.Star(user, id)
		}
		t.Lists.Set(scope.ListStarred, user, ids)
	}
	return nil
}
