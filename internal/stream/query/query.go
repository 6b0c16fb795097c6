// Package query models the boolean, field-qualified queries sent to the
// activity index and renders them in the index's string syntax:
//
//	+content:report -content:spam +(recipient:g12 recipient:p7)
//
// Values are stored unescaped; escaping happens only when rendering.
package query

import (
	"strconv"
	"strings"
)

// Field is an indexed activity field.
type Field string

const (
	FieldContent            Field = "content"
	FieldRecipient          Field = "recipient"
	FieldRecipientParentOrg Field = "recipientParentOrgId"
	FieldPublic             Field = "isPublic"
)

// Occur says how a clause participates in its enclosing Bool.
type Occur int

const (
	Should Occur = iota
	Must
	MustNot
)

func (o Occur) prefix() string {
	switch o {
	case Must:
		return "+"
	case MustNot:
		return "-"
	default:
		return ""
	}
}

// Clause is either a Term or a Bool.
type Clause interface {
	render(b *strings.Builder)
	clause()
}

// Term matches documents whose Field contains Value. Content values may use
// the * and ? wildcards.
type Term struct {
	Field Field
	Value string
}

// Occurrence pairs a clause with its Occur.
type Occurrence struct {
	Occur  Occur
	Clause Clause
}

// Bool combines clauses. A Bool with no Must clauses matches when any Should
// clause matches; MustNot clauses always exclude.
type Bool struct {
	Clauses []Occurrence
}

func (Term) clause() {}
func (Bool) clause() {}

func (t Term) render(b *strings.Builder) {
	b.WriteString(string(t.Field))
	b.WriteByte(':')
	b.WriteString(Escape(t.Value))
}

func (q Bool) render(b *strings.Builder) {
	b.WriteByte('(')
	q.renderInner(b)
	b.WriteByte(')')
}

func (q Bool) renderInner(b *strings.Builder) {
	for i, c := range q.Clauses {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(c.Occur.prefix())
		c.Clause.render(b)
	}
}

// String renders the query without enclosing parentheses.
func (q Bool) String() string {
	var b strings.Builder
	q.renderInner(&b)
	return b.String()
}

// Empty reports whether the query has no clauses.
func (q Bool) Empty() bool {
	return len(q.Clauses) == 0
}

// And returns a Bool requiring every non-empty part.
func And(parts ...Bool) Bool {
	var out Bool
	for _, p := range parts {
		if p.Empty() {
			continue
		}
		if onlyRequired(p) {
			out.Clauses = append(out.Clauses, p.Clauses...)
			continue
		}
		out.Clauses = append(out.Clauses, Occurrence{Occur: Must, Clause: p})
	}
	return out
}

// onlyRequired reports whether every clause of q is Must or MustNot, so its
// clauses can be lifted into a parent conjunction unchanged.
func onlyRequired(q Bool) bool {
	for _, c := range q.Clauses {
		if c.Occur == Should {
			return false
		}
	}
	return true
}

// AnyOf returns a Bool requiring at least one of terms.
func AnyOf(terms ...Term) Bool {
	if len(terms) == 0 {
		return Bool{}
	}
	inner := Bool{Clauses: make([]Occurrence, len(terms))}
	for i, t := range terms {
		inner.Clauses[i] = Occurrence{Occur: Should, Clause: t}
	}
	return Bool{Clauses: []Occurrence{{Occur: Must, Clause: inner}}}
}

// PersonRecipient is the recipient term of a person's stream.
func PersonRecipient(personID int64) Term {
	return Term{Field: FieldRecipient, Value: "p" + strconv.FormatInt(personID, 10)}
}

// GroupRecipient is the recipient term of a group's stream.
func GroupRecipient(groupID int64) Term {
	return Term{Field: FieldRecipient, Value: "g" + strconv.FormatInt(groupID, 10)}
}

// ParentOrg matches activity whose recipient belongs to the organization.
func ParentOrg(orgID int64) Term {
	return Term{Field: FieldRecipientParentOrg, Value: strconv.FormatInt(orgID, 10)}
}

// Public matches activity visible to everyone.
func Public() Term {
	return Term{Field: FieldPublic, Value: "t"}
}

// Security restricts results to what a user may see: public activity, or
// activity posted to one of the private groups the user belongs to.
func Security(privateGroupIDs []int64) Bool {
	terms := make([]Term, 0, len(privateGroupIDs)+1)
	terms = append(terms, Public())
	for _, id := range privateGroupIDs {
		terms = append(terms, GroupRecipient(id))
	}
	return AnyOf(terms...)
}

const specialChars = `\+-!():^[]"{}~|&/`

// Escape backslash-escapes the index syntax's special characters, leaving
// the * and ? wildcards intact.
func Escape(s string) string {
	if !strings.ContainsAny(s, specialChars) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 4)
	for _, r := range s {
		if strings.ContainsRune(specialChars, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Keywords turns free text into one content clause per whitespace-separated
// token. A token whose escaped form starts with an escaped '-' becomes a
// must-not clause; every other token is required. Tokens left empty once
// the marker is removed are dropped.
func Keywords(text string) Bool {
	var out Bool
	for _, tok := range strings.Fields(text) {
		occur := Must
		if strings.HasPrefix(Escape(tok), `\-`) {
			occur = MustNot
			tok = tok[1:]
		}
		if tok == "" {
			continue
		}
		out.Clauses = append(out.Clauses, Occurrence{
			Occur:  occur,
			Clause: Term{Field: FieldContent, Value: tok},
		})
	}
	return out
}
