package index

import (
	"context"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/lmco/activitysearch/internal/stream/query"
)

type memDoc struct {
	Document
	terms map[string]struct{}
	words []string
}

// Memory is an in-process index. It is safe for concurrent use, and inserts
// may interleave with an ongoing page walk, which is how concurrent posting
// shows up to the paging engine.
type Memory struct {
	mu   sync.RWMutex
	docs map[int64]*memDoc
	ids  []int64 // ascending
}

func NewMemory() *Memory {
	return &Memory{
		docs: make(map[int64]*memDoc),
	}
}

// Index adds or replaces a document.
func (m *Memory) Index(_ context.Context, doc Document) error {
	d := &memDoc{
		Document: doc,
		terms:    make(map[string]struct{}),
		words:    words(doc.Content),
	}
	for _, t := range analyze(doc.Content) {
		d.terms[t] = struct{}{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.docs[doc.ID]; !exists {
		i := sort.Search(len(m.ids), func(i int) bool { return m.ids[i] >= doc.ID })
		m.ids = append(m.ids, 0)
		copy(m.ids[i+1:], m.ids[i:])
		m.ids[i] = doc.ID
	}
	m.docs[doc.ID] = d
	return nil
}

// Remove deletes a document if present.
func (m *Memory) Remove(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.docs[id]; !exists {
		return
	}
	delete(m.docs, id)
	i := sort.Search(len(m.ids), func(i int) bool { return m.ids[i] >= id })
	m.ids = append(m.ids[:i], m.ids[i+1:]...)
}

func (m *Memory) DocCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

func (m *Memory) Search(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if req.Limit <= 0 {
		return Result{}, invalidQuery("limit must be positive, got %d", req.Limit)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	res := Result{IDs: make([]int64, 0, min(req.Limit, len(m.ids)))}
	for i := len(m.ids) - 1; i >= 0; i-- {
		d := m.docs[m.ids[i]]
		ok, err := d.matches(req.Query)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			continue
		}
		if res.Total >= req.Offset && len(res.IDs) < req.Limit {
			res.IDs = append(res.IDs, d.ID)
		}
		res.Total++
	}
	return res, nil
}

func (d *memDoc) matches(c query.Clause) (bool, error) {
	switch c := c.(type) {
	case query.Term:
		return d.matchesTerm(c)
	case query.Bool:
		return d.matchesBool(c)
	default:
		return false, invalidQuery("unsupported clause %T", c)
	}
}

func (d *memDoc) matchesBool(q query.Bool) (bool, error) {
	hasMust, hasShould, anyShould := false, false, false
	for _, occ := range q.Clauses {
		if inert(occ.Clause) {
			continue
		}
		ok, err := d.matches(occ.Clause)
		if err != nil {
			return false, err
		}
		switch occ.Occur {
		case query.Must:
			hasMust = true
			if !ok {
				return false, nil
			}
		case query.MustNot:
			if ok {
				return false, nil
			}
		default:
			hasShould = true
			anyShould = anyShould || ok
		}
	}
	if hasMust || !hasShould {
		return true, nil
	}
	return anyShould, nil
}

func (d *memDoc) matchesTerm(t query.Term) (bool, error) {
	switch t.Field {
	case query.FieldContent:
		return d.matchesContent(t.Value), nil
	case query.FieldRecipient:
		return d.Recipient == t.Value, nil
	case query.FieldRecipientParentOrg:
		id, err := strconv.ParseInt(t.Value, 10, 64)
		if err != nil {
			return false, invalidQuery("bad %s value %q: %v", t.Field, t.Value, err)
		}
		return d.ParentOrgID == id, nil
	case query.FieldPublic:
		return d.Public == (t.Value == "t"), nil
	default:
		return false, invalidQuery("unknown field %q", t.Field)
	}
}

// matchesContent matches wildcard values against the unstemmed words and
// everything else against the stemmed terms, requiring every term the value
// analyses to. Values that analyse to nothing never get here; matchesBool
// drops them.
func (d *memDoc) matchesContent(value string) bool {
	if strings.ContainsAny(value, "*?") {
		pattern := strings.ToLower(value)
		for _, w := range d.words {
			if ok, _ := path.Match(pattern, w); ok {
				return true
			}
		}
		return false
	}
	for _, t := range analyze(value) {
		if _, ok := d.terms[t]; !ok {
			return false
		}
	}
	return true
}
