package tree

import (
	"errors"
	"fmt"

	"github.com/testview/backend/internal/item"
)

// ErrDuplicateID is returned by Add when the id is already present.
var ErrDuplicateID = errors.New("duplicate item id")

// Relation describes how item a relates to item b through parent linkage.
type Relation int

const (
	Disconnected Relation = iota
	IsSame
	IsChild  // a is a descendant of b
	IsParent // a is an ancestor of b
)

var relationNames = map[Relation]string{
	Disconnected: "disconnected",
	IsSame:       "same",
	IsChild:      "child",
	IsParent:     "parent",
}

func (r Relation) String() string {
	if s, ok := relationNames[r]; ok {
		return s
	}
	return "unknown"
}

// Record is the per-item bookkeeping kept in a store. The owning session
// mutates Snapshot, Expand, and ChildIDs; the store itself only cares about
// ExternalID and ParentID.
type Record struct {
	ExternalID string
	ParentID   string // "" for roots
	ProviderID string
	Item       item.Item
	Snapshot   item.Snapshot
	Expand     item.ExpandState
	ChildIDs   []string // session-owned child index, in registration order
}

// Clone returns a copy safe to hand to callers outside the owning session.
func (r *Record) Clone() Record {
	c := *r
	c.Snapshot = r.Snapshot.Clone()
	if len(r.ChildIDs) > 0 {
		c.ChildIDs = append([]string(nil), r.ChildIDs...)
	}
	return c
}

// Store is flat per-hierarchy storage keyed by external id. It knows nothing
// about diffing or discovery.
type Store struct {
	items map[string]*Record
	order []string // insertion order
	roots map[string]*Record
}

func NewStore() *Store {
	return &Store{
		items: make(map[string]*Record),
		roots: make(map[string]*Record),
	}
}

// Add inserts rec. It fails with ErrDuplicateID, leaving the store
// unmodified, when the id is already present.
func (s *Store) Add(rec *Record) error {
	if _, ok := s.items[rec.ExternalID]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateID, rec.ExternalID)
	}
	s.items[rec.ExternalID] = rec
	s.order = append(s.order, rec.ExternalID)
	if rec.ParentID == "" {
		s.roots[rec.ExternalID] = rec
	}
	return nil
}

func (s *Store) Has(id string) bool {
	_, ok := s.items[id]
	return ok
}

func (s *Store) Get(id string) (*Record, bool) {
	rec, ok := s.items[id]
	return rec, ok
}

func (s *Store) Len() int {
	return len(s.items)
}

// Delete removes a single item without recursing into descendants. It
// reports whether the id existed.
func (s *Store) Delete(id string) bool {
	if _, ok := s.items[id]; !ok {
		return false
	}
	delete(s.items, id)
	delete(s.roots, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// Roots returns the parentless items in insertion order.
func (s *Store) Roots() []*Record {
	out := make([]*Record, 0, len(s.roots))
	for _, id := range s.order {
		if rec, ok := s.roots[id]; ok {
			out = append(out, rec)
		}
	}
	return out
}

// All returns every item in insertion order. The slice is a fresh snapshot
// of current membership.
func (s *Store) All() []*Record {
	out := make([]*Record, 0, len(s.items))
	for _, id := range s.order {
		if rec, ok := s.items[id]; ok {
			out = append(out, rec)
		}
	}
	return out
}

// Relation walks parent chains to classify a against b: IsParent when a is
// an ancestor of b, IsChild when a is a descendant of b. A dangling parent
// id terminates the walk without error.
func (s *Store) Relation(a, b *Record) Relation {
	if a == nil || b == nil {
		return Disconnected
	}
	if a == b {
		return IsSame
	}
	if s.ancestorOf(a, b) {
		return IsParent
	}
	if s.ancestorOf(b, a) {
		return IsChild
	}
	return Disconnected
}

func (s *Store) ancestorOf(anc, rec *Record) bool {
	for cur := rec; cur.ParentID != ""; {
		parent, ok := s.items[cur.ParentID]
		if !ok {
			return false
		}
		if parent == anc {
			return true
		}
		cur = parent
	}
	return false
}
