package scope

import (
	"errors"
	"reflect"
	"testing"

	apperrors "github.com/lmco/activitysearch/pkg/errors"
)

func TestParse(t *testing.T) {
	tests := []struct {
		raw  string
		want Scope
	}{
		{"all", All{}},
		{" ALL ", All{}},
		{"person:alice", Person{AccountID: "alice"}},
		{"Group:Engineering", Group{ShortName: "Engineering"}},
		{"org:acme", Organization{ShortName: "acme"}},
		{"parentorg", ParentOrganization{}},
		{"following", FollowedStreams{}},
		{"starred", Starred{}},
		{"group:a:b", Group{ShortName: "a:b"}},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := Parse(tt.raw)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %#v, want %#v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"person without key", "person"},
		{"group with empty key", "group:"},
		{"org without key", "org"},
		{"all with key", "all:everything"},
		{"starred with key", "starred:bob"},
		{"parentorg with key", "parentorg:acme"},
		{"unknown kind", "team:red"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.raw)
			if !errors.Is(err, apperrors.ErrInvalidInput) {
				t.Errorf("Parse(%q) = %v, %v; want ErrInvalidInput", tt.raw, got, err)
			}
			if apperrors.HTTPStatusCode(err) != 400 {
				t.Errorf("status = %d, want 400", apperrors.HTTPStatusCode(err))
			}
		})
	}
}

func TestStringRoundTrips(t *testing.T) {
	for _, s := range []Scope{
		All{}, Person{AccountID: "alice"}, Group{ShortName: "eng"}, Organization{ShortName: "acme"},
		ParentOrganization{}, FollowedStreams{}, Starred{},
	} {
		got, err := Parse(s.String())
		if err != nil || got != s {
			t.Errorf("Parse(%q) = %v, %v", s.String(), got, err)
		}
	}
}

func TestParseAll(t *testing.T) {
	got, err := ParseAll([]string{"starred", "group:eng", "", "  ", "STARRED", "group:eng", "group:Eng"})
	if err != nil {
		t.Fatal(err)
	}
	want := []Scope{Starred{}, Group{ShortName: "eng"}, Group{ShortName: "Eng"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseAll = %v, want %v", got, want)
	}

	if _, err := ParseAll([]string{"all", "person"}); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("ParseAll with a bad element = %v, want ErrInvalidInput", err)
	}
}

func TestClassify(t *testing.T) {
	eng := Group{ShortName: "eng"}
	alice := Person{AccountID: "alice"}
	tests := []struct {
		name   string
		scopes []Scope
		want   Plan
	}{
		{"empty", nil, Plan{Unrestricted: true}},
		{"all wins", []Scope{eng, All{}, Starred{}}, Plan{Unrestricted: true}},
		{"direct", []Scope{eng, alice, ParentOrganization{}}, Plan{Direct: []Scope{eng, alice, ParentOrganization{}}}},
		{"lists deduplicated", []Scope{Starred{}, FollowedStreams{}, Starred{}}, Plan{Lists: []ListKind{ListStarred, ListFollowed}}},
		{"mixed keeps both", []Scope{eng, Starred{}}, Plan{Direct: []Scope{eng}, Lists: []ListKind{ListStarred}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Classify(tt.scopes)
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Classify = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestJoin(t *testing.T) {
	if got := Join([]Scope{Starred{}, Group{ShortName: "eng"}, All{}}); got != "starred,group:eng,all" {
		t.Errorf("Join = %q", got)
	}
}
