package diff

import (
	"fmt"

	"github.com/testview/backend/internal/item"
)

// MirrorEntry is one item in a consumer-side reconstruction.
type MirrorEntry struct {
	ParentID string
	Expand   item.ExpandState
	Item     item.Snapshot
	Retired  bool
}

// Mirror is a reference consumer: it applies batches in emission order,
// starting from empty, and ends up with the emitting tree's state. The ws
// adapter's clients are expected to behave like this; tests use it to check
// the replay invariant.
type Mirror struct {
	entries  map[string]*MirrorEntry
	children map[string][]string
}

func NewMirror() *Mirror {
	return &Mirror{
		entries:  make(map[string]*MirrorEntry),
		children: make(map[string][]string),
	}
}

func (m *Mirror) Len() int {
	return len(m.entries)
}

func (m *Mirror) Get(id string) (*MirrorEntry, bool) {
	e, ok := m.entries[id]
	return e, ok
}

// ApplyBatch applies every op in order, stopping at the first error.
func (m *Mirror) ApplyBatch(batch Batch) error {
	for _, op := range batch {
		if err := m.Apply(op); err != nil {
			return err
		}
	}
	return nil
}

func (m *Mirror) Apply(op *Op) error {
	switch op.Kind {
	case KindAdd:
		id := op.Add.Item.ID
		if _, ok := m.entries[id]; ok {
			return fmt.Errorf("mirror: duplicate add for %q", id)
		}
		m.entries[id] = &MirrorEntry{
			ParentID: op.Add.ParentID,
			Expand:   op.Add.Expand,
			Item:     op.Add.Item.Clone(),
		}
		if op.Add.ParentID != "" {
			m.children[op.Add.ParentID] = append(m.children[op.Add.ParentID], id)
		}
	case KindUpdate:
		e, ok := m.entries[op.Update.ID]
		if !ok {
			return fmt.Errorf("mirror: update for unknown %q", op.Update.ID)
		}
		for key, value := range op.Update.Fields {
			if key == "expand" {
				e.Expand = expandValue(value)
				continue
			}
			e.Item.Apply(key, value)
		}
	case KindRemove:
		// Descendant removal is implicit: one Remove op covers the subtree.
		m.removeSubtree(op.Remove.ID)
	case KindRetire:
		if e, ok := m.entries[op.Retire.Item.ID]; ok {
			e.Retired = true
		}
	default:
		return fmt.Errorf("mirror: unknown op kind %v", op.Kind)
	}
	return nil
}

func (m *Mirror) removeSubtree(id string) {
	e, ok := m.entries[id]
	if !ok {
		return
	}
	worklist := []string{id}
	for len(worklist) > 0 {
		cur := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		worklist = append(worklist, m.children[cur]...)
		delete(m.entries, cur)
		delete(m.children, cur)
	}
	if e.ParentID != "" {
		kids := m.children[e.ParentID]
		for i, kid := range kids {
			if kid == id {
				m.children[e.ParentID] = append(kids[:i], kids[i+1:]...)
				break
			}
		}
	}
}

// expandValue accepts both in-process ExpandState values and the string form
// produced by a JSON round trip.
func expandValue(value any) item.ExpandState {
	switch v := value.(type) {
	case item.ExpandState:
		return v
	case string:
		var e item.ExpandState
		_ = e.UnmarshalJSON([]byte(`"` + v + `"`))
		return e
	}
	return item.NotExpandable
}
