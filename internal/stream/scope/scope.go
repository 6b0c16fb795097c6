// Package scope defines the closed set of restrictions a stream search can
// carry. Scope is sealed: the only implementations live in this package, and
// every consumer handles them through Visitor, so adding a kind fails to
// compile until query translation, strategy selection and rendering all
// handle it.
package scope

import (
	"strings"

	apperrors "github.com/lmco/activitysearch/pkg/errors"
)

// Scope is one restriction on which activities a search may return.
type Scope interface {
	// Accept dispatches to the Visitor method for the concrete kind.
	Accept(v Visitor) error
	String() string
	sealed()
}

// Visitor has one method per scope kind.
type Visitor interface {
	All() error
	Person(accountID string) error
	Group(shortName string) error
	Organization(shortName string) error
	ParentOrganization() error
	FollowedStreams() error
	Starred() error
}

// All places no restriction beyond the caller's visibility.
type All struct{}

// Person restricts to activity posted to one person's stream.
type Person struct{ AccountID string }

// Group restricts to activity posted to one group's stream.
type Group struct{ ShortName string }

// Organization restricts to activity whose recipient belongs to the
// organization.
type Organization struct{ ShortName string }

// ParentOrganization restricts to the requesting user's own parent
// organization.
type ParentOrganization struct{}

// FollowedStreams restricts to activity from streams the user follows. It
// cannot be expressed as an index filter.
type FollowedStreams struct{}

// Starred restricts to activity the user starred. It cannot be expressed as
// an index filter.
type Starred struct{}

func (All) Accept(v Visitor) error { return v.All() }
func (s Person) Accept(v Visitor) error { return v.Person(s.AccountID) }
func (s Group) Accept(v Visitor) error { return v.Group(s.ShortName) }
func (s Organization) Accept(v Visitor) error { return v.Organization(s.ShortName) }
func (ParentOrganization) Accept(v Visitor) error { return v.ParentOrganization() }
func (FollowedStreams) Accept(v Visitor) error { return v.FollowedStreams() }
func (Starred) Accept(v Visitor) error { return v.Starred() }

func (All) String() string { return "all" }
func (s Person) String() string { return "person:" + s.AccountID }
func (s Group) String() string { return "group:" + s.ShortName }
func (s Organization) String() string { return "org:" + s.ShortName }
func (ParentOrganization) String() string { return "parentorg" }
func (FollowedStreams) String() string { return "following" }
func (Starred) String() string { return "starred" }

func (All) sealed() {}
func (Person) sealed() {}
func (Group) sealed() {}
func (Organization) sealed() {}
func (ParentOrganization) sealed() {}
func (FollowedStreams) sealed() {}
func (Starred) sealed() {}

// Parse reads the wire form produced by String: "all", "person:<account>",
// "group:<short name>", "org:<short name>", "parentorg", "following",
// "starred". Keys are case-sensitive, kinds are not.
func Parse(raw string) (Scope, error) {
	kind, key, hasKey := strings.Cut(strings.TrimSpace(raw), ":")
	kind = strings.ToLower(kind)
	needsKey := kind == "person" || kind == "group" || kind == "org"
	if needsKey && (!hasKey || key == "") {
		return nil, apperrors.Invalid("scope %q requires a key", raw)
	}
	if !needsKey && hasKey {
		return nil, apperrors.Invalid("scope %q takes no key", raw)
	}
	switch kind {
	case "all":
		return All{}, nil
	case "person":
		return Person{AccountID: key}, nil
	case "group":
		return Group{ShortName: key}, nil
	case "org":
		return Organization{ShortName: key}, nil
	case "parentorg":
		return ParentOrganization{}, nil
	case "following":
		return FollowedStreams{}, nil
	case "starred":
		return Starred{}, nil
	default:
		return nil, apperrors.Invalid("unknown scope %q", raw)
	}
}

// ParseAll parses every element and drops exact duplicates, keeping the
// first occurrence's position.
func ParseAll(raw []string) ([]Scope, error) {
	out := make([]Scope, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, r := range raw {
		if strings.TrimSpace(r) == "" {
			continue
		}
		s, err := Parse(r)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[s.String()]; dup {
			continue
		}
		seen[s.String()] = struct{}{}
		out = append(out, s)
	}
	return out, nil
}

// ListKind names the scopes answered from a precomputed available-id list.
type ListKind string

const (
	ListFollowed ListKind = "following"
	ListStarred  ListKind = "starred"
)

// Plan is the classification of a scope set used to pick a search strategy.
type Plan struct {
	// Unrestricted is set when the set was empty or contained All.
	Unrestricted bool
	// Direct holds the scopes expressible as index filter clauses. Next to
	// Lists they only narrow the keyword side of the intersection.
	Direct []Scope
	// Lists holds the list-only kinds, in first-seen order. Any list kind
	// selects the list strategy.
	Lists []ListKind
}

// Classify sorts scopes into the three strategy buckets.
func Classify(scopes []Scope) (Plan, error) {
	c := &classifier{}
	for _, s := range scopes {
		c.current = s
		if err := s.Accept(c); err != nil {
			return Plan{}, err
		}
	}
	if len(scopes) == 0 || c.plan.Unrestricted {
		return Plan{Unrestricted: true}, nil
	}
	return c.plan, nil
}

type classifier struct {
	plan    Plan
	current Scope
}

func (c *classifier) All() error {
	c.plan.Unrestricted = true
	return nil
}

func (c *classifier) Person(string) error { return c.direct() }
func (c *classifier) Group(string) error { return c.direct() }
func (c *classifier) Organization(string) error { return c.direct() }
func (c *classifier) ParentOrganization() error { return c.direct() }
func (c *classifier) FollowedStreams() error { return c.list(ListFollowed) }
func (c *classifier) Starred() error { return c.list(ListStarred) }

func (c *classifier) direct() error {
	c.plan.Direct = append(c.plan.Direct, c.current)
	return nil
}

func (c *classifier) list(kind ListKind) error {
	for _, k := range c.plan.Lists {
		if k == kind {
			return nil
		}
	}
	c.plan.Lists = append(c.plan.Lists, kind)
	return nil
}

// Join renders scopes in their wire form, for logs and analytics.
func Join(scopes []Scope) string {
	parts := make([]string, len(scopes))
	for i, s := range scopes {
		parts[i] = s.String()
	}
	return strings.Join(parts, ",")
}
