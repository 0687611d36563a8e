package collection

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/testview/backend/internal/diff"
	"github.com/testview/backend/internal/item"
	"github.com/testview/backend/internal/tree"
)

var (
	// ErrDuplicateItem is returned when the exact item object is already tracked.
	ErrDuplicateItem = errors.New("item already tracked")
	// ErrInvalidItem is returned when an item does not satisfy the provider contract.
	ErrInvalidItem = errors.New("invalid item")
	// ErrDisposed is returned by mutating calls on a disposed session.
	ErrDisposed = errors.New("session disposed")
)

// DefaultFlushWindow bounds diff delivery latency: a flush is scheduled when
// the buffer goes from empty to non-empty and fires once per window.
const DefaultFlushWindow = 200 * time.Millisecond

// PublishFunc receives each flushed diff batch, in generation order, at most
// once per batch.
type PublishFunc func(batch diff.Batch)

// entry couples a tracked record with the session-owned discovery state.
type entry struct {
	rec       *tree.Record
	unsub     func()
	cancel    context.CancelFunc // token for the in-flight discovery, if any
	gen       int                // discovery generation; stale callbacks are dropped
	discovery *Completion        // settles when the current discovery goes idle or fails
	levels    int                // max expand depth ever requested; -1 is unlimited
	hasLevels bool
}

// noteLevels records a requested depth, never decreasing a granted one.
func (e *entry) noteLevels(levels int) {
	if e.hasLevels && e.levels < 0 {
		return
	}
	if levels < 0 || !e.hasLevels || levels > e.levels {
		e.levels = levels
		e.hasLevels = true
	}
}

// dec steps a depth budget down one level; unlimited stays unlimited.
func dec(levels int) int {
	if levels <= 0 {
		return levels
	}
	return levels - 1
}

// Session owns one tree store plus the provider linkage and diff generation
// for a single hierarchy. All mutation funnels through its mutex; provider
// callbacks and discovery goroutines re-enter through the exported and
// observer methods, never while the session holds its own lock against them.
type Session struct {
	mu          sync.Mutex
	treeID      int
	store       *tree.Store
	entries     map[string]*entry
	tracked     map[item.Item]string // exact-object duplicate check
	publish     PublishFunc
	buffer      diff.Batch
	flushTimer  *time.Timer
	flushWindow time.Duration
	release     func()
	disposed    bool
}

// New creates a session bound to a fresh tree store. Buffered diffs are
// delivered to publish once per flush window; flushWindow <= 0 selects
// DefaultFlushWindow.
func New(treeID int, publish PublishFunc, flushWindow time.Duration) *Session {
	if flushWindow <= 0 {
		flushWindow = DefaultFlushWindow
	}
	return &Session{
		treeID:      treeID,
		store:       tree.NewStore(),
		entries:     make(map[string]*entry),
		tracked:     make(map[item.Item]string),
		publish:     publish,
		flushWindow: flushWindow,
	}
}

func (s *Session) TreeID() int {
	return s.treeID
}

// SetRelease installs the registry's release hook, invoked once on Dispose.
func (s *Session) SetRelease(release func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.release = release
}

// Has reports whether the id is currently tracked.
func (s *Session) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[id]
	return ok
}

// Get returns a copy of the tracked record for id.
func (s *Session) Get(id string) (tree.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return tree.Record{}, false
	}
	return e.rec.Clone(), true
}

// Len returns the number of tracked items.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Len()
}

// Relation classifies the ancestor relationship between two tracked items.
func (s *Session) Relation(aID, bID string) tree.Relation {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, _ := s.store.Get(aID)
	b, _ := s.store.Get(bID)
	return s.store.Relation(a, b)
}

// AddRoot registers a parentless provider item and, transitively, any
// children it already exposes.
func (s *Session) AddRoot(it item.Item, providerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return ErrDisposed
	}
	return s.addItemLocked(it, nil, providerID)
}

func (s *Session) addItemLocked(it item.Item, parent *entry, providerID string) error {
	if it == nil {
		return fmt.Errorf("%w: nil item", ErrInvalidItem)
	}
	id := it.ID()
	if id == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidItem)
	}
	snap := it.Snapshot()
	if snap.ID != id {
		return fmt.Errorf("%w: snapshot id %q does not match item id %q", ErrInvalidItem, snap.ID, id)
	}
	if _, ok := s.tracked[it]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateItem, id)
	}
	if s.store.Has(id) {
		return fmt.Errorf("%w: %q", tree.ErrDuplicateID, id)
	}

	parentID := ""
	if parent != nil {
		parentID = parent.rec.ExternalID
	}
	expand := item.NotExpandable
	if it.Expandable() {
		expand = item.Expandable
	}

	rec := &tree.Record{
		ExternalID: id,
		ParentID:   parentID,
		ProviderID: providerID,
		Item:       it,
		Snapshot:   snap.Clone(),
		Expand:     expand,
	}
	if err := s.store.Add(rec); err != nil {
		return err
	}
	e := &entry{rec: rec}
	s.entries[id] = e
	s.tracked[it] = id

	if parent != nil {
		parent.rec.ChildIDs = append(parent.rec.ChildIDs, id)
		// An expandable child arriving under an item expanded with depth
		// remaining inherits the rest of the budget and joins the expansion.
		if expand == item.Expandable && parent.hasLevels && parent.levels != 0 {
			e.levels = dec(parent.levels)
			e.hasLevels = true
		}
	}

	s.pushLocked(diff.NewAdd(s.treeID, parentID, providerID, expand, rec.Snapshot.Clone()))

	e.unsub = it.Subscribe(&sessionObserver{s: s, id: id})

	// The provider may expose children eagerly, before discovery is requested.
	for _, child := range it.Children() {
		if err := s.addItemLocked(child, e, providerID); err != nil {
			return err
		}
	}

	if e.hasLevels {
		s.expandLocked(e, e.levels)
	}
	return nil
}

// RemoveItem removes id and all of its descendants from internal storage.
// Exactly one Remove op is emitted; consumers treat descendant removal as
// implicit. Removing an unknown id is a no-op.
func (s *Session) RemoveItem(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	e, ok := s.entries[id]
	if !ok {
		return
	}
	parentID := e.rec.ParentID

	s.pushLocked(diff.NewRemove(id))

	// Iterative cascade over the session's own child index; the provider's
	// live collections are never consulted here.
	worklist := []string{id}
	for len(worklist) > 0 {
		cur := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		ce, ok := s.entries[cur]
		if !ok {
			continue
		}
		if ce.cancel != nil {
			ce.cancel()
			ce.cancel = nil
		}
		if ce.discovery != nil {
			ce.discovery.settle(context.Canceled)
		}
		if ce.unsub != nil {
			ce.unsub()
			ce.unsub = nil
		}
		s.store.Delete(cur)
		delete(s.entries, cur)
		delete(s.tracked, ce.rec.Item)
		worklist = append(worklist, ce.rec.ChildIDs...)
	}

	if parentID != "" {
		if pe, ok := s.entries[parentID]; ok {
			kids := pe.rec.ChildIDs
			for i, kid := range kids {
				if kid == id {
					pe.rec.ChildIDs = append(kids[:i], kids[i+1:]...)
					break
				}
			}
		}
	}
}

// pushLocked appends op to the pending buffer, coalescing an incoming
// Update into an adjacent Update or Add for the same id. The flush timer is
// armed only when the buffer transitions from empty to non-empty; later
// appends within the window leave it untouched.
func (s *Session) pushLocked(op *diff.Op) {
	if op.Kind == diff.KindUpdate && len(s.buffer) > 0 {
		last := s.buffer[len(s.buffer)-1]
		switch {
		case last.Kind == diff.KindUpdate && last.Update.ID == op.Update.ID:
			for k, v := range op.Update.Fields {
				last.Update.Fields[k] = v
			}
			return
		case last.Kind == diff.KindAdd && last.Add.Item.ID == op.Update.ID:
			for k, v := range op.Update.Fields {
				if k == "expand" {
					if st, ok := v.(item.ExpandState); ok {
						last.Add.Expand = st
					}
					continue
				}
				last.Add.Item.Apply(k, v)
			}
			return
		}
	}

	wasEmpty := len(s.buffer) == 0
	s.buffer = append(s.buffer, op)
	if wasEmpty && s.flushTimer == nil {
		s.flushTimer = time.AfterFunc(s.flushWindow, s.flushAfterWindow)
	}
}

func (s *Session) flushAfterWindow() {
	s.mu.Lock()
	s.flushTimer = nil
	if s.disposed {
		s.mu.Unlock()
		return
	}
	batch := s.buffer
	s.buffer = nil
	publish := s.publish
	s.mu.Unlock()

	if len(batch) > 0 && publish != nil {
		publish(batch)
	}
}

// CollectDiff atomically takes the pending buffer, leaving an empty one.
func (s *Session) CollectDiff() diff.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := s.buffer
	s.buffer = nil
	return batch
}

// FlushDiff delivers the pending buffer immediately. Delivery is skipped
// for an empty buffer.
func (s *Session) FlushDiff() {
	s.mu.Lock()
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}
	batch := s.buffer
	s.buffer = nil
	publish := s.publish
	s.mu.Unlock()

	if len(batch) > 0 && publish != nil {
		publish(batch)
	}
}

// SnapshotOps replays current membership, in insertion order, as a batch of
// Add ops. Applied to an empty mirror it reproduces the store exactly;
// parents always precede their children.
func (s *Session) SnapshotOps() diff.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.store.All()
	batch := make(diff.Batch, 0, len(recs))
	for _, rec := range recs {
		batch = append(batch, diff.NewAdd(s.treeID, rec.ParentID, rec.ProviderID, rec.Expand, rec.Snapshot.Clone()))
	}
	return batch
}

// Dispose tears the session down: cancels in-flight discoveries, detaches
// every push channel, drops the pending buffer and timer, and releases the
// tree id. Safe to call more than once.
func (s *Session) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	for _, e := range s.entries {
		if e.cancel != nil {
			e.cancel()
			e.cancel = nil
		}
		if e.discovery != nil {
			e.discovery.settle(context.Canceled)
		}
		if e.unsub != nil {
			e.unsub()
			e.unsub = nil
		}
	}
	s.entries = make(map[string]*entry)
	s.tracked = make(map[item.Item]string)
	s.store = tree.NewStore()
	s.buffer = nil
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}
	release := s.release
	s.release = nil
	s.mu.Unlock()

	if release != nil {
		release()
	}
	log.Printf("tree %d disposed", s.treeID)
}

// sessionObserver is the push channel installed on each tracked item.
type sessionObserver struct {
	s  *Session
	id string
}

func (o *sessionObserver) ChildCreated(child item.Item) {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	if o.s.disposed {
		return
	}
	parent, ok := o.s.entries[o.id]
	if !ok {
		return
	}
	if err := o.s.addItemLocked(child, parent, parent.rec.ProviderID); err != nil {
		log.Printf("tree %d: child of %s rejected: %v", o.s.treeID, o.id, err)
	}
}

func (o *sessionObserver) Deleted(id string) {
	o.s.RemoveItem(id)
}

func (o *sessionObserver) Invalidated() {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	if o.s.disposed {
		return
	}
	e, ok := o.s.entries[o.id]
	if !ok {
		return
	}
	o.s.pushLocked(diff.NewRetire(e.rec.Snapshot.Clone()))
}

func (o *sessionObserver) PropertyChanged(key string, value any) {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	if o.s.disposed {
		return
	}
	e, ok := o.s.entries[o.id]
	if !ok {
		return
	}
	e.rec.Snapshot.Apply(key, value)
	o.s.pushLocked(diff.NewUpdate(o.id, key, value))
}
