package registry

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/testview/backend/internal/collection"
	"github.com/testview/backend/internal/tree"
)

// Registry multiplexes collection sessions, one per hierarchy. It owns the
// tree id counter: ids increase monotonically for the registry's lifetime
// and are never reused while the tree exists.
type Registry struct {
	mu          sync.Mutex
	nextTreeID  int
	sessions    map[int]*collection.Session
	flushWindow time.Duration
}

// New creates a registry whose sessions flush with the given window;
// flushWindow <= 0 selects collection.DefaultFlushWindow.
func New(flushWindow time.Duration) *Registry {
	return &Registry{
		sessions:    make(map[int]*collection.Session),
		flushWindow: flushWindow,
	}
}

// CreateHierarchy allocates the next tree id, creates a session bound to a
// fresh tree store and the publish callback, and returns it together with a
// release handle that removes the tree from the registry. Disposing the
// session also releases it.
func (r *Registry) CreateHierarchy(publish collection.PublishFunc) (*collection.Session, func()) {
	r.mu.Lock()
	r.nextTreeID++
	id := r.nextTreeID
	s := collection.New(id, publish, r.flushWindow)
	r.sessions[id] = s
	r.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.sessions, id)
			r.mu.Unlock()
		})
	}
	s.SetRelease(release)
	log.Printf("tree %d created", id)
	return s, release
}

// GetByID locates an item by id. When preferredTreeID names a registered
// tree containing the id, that tree wins; otherwise all trees are scanned in
// ascending tree id order and the first match is returned.
func (r *Registry) GetByID(id string, preferredTreeID ...int) (*collection.Session, tree.Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(preferredTreeID) > 0 {
		if s, ok := r.sessions[preferredTreeID[0]]; ok {
			if rec, ok := s.Get(id); ok {
				return s, rec, true
			}
		}
	}
	for _, treeID := range r.treeIDsLocked() {
		s := r.sessions[treeID]
		if rec, ok := s.Get(id); ok {
			return s, rec, true
		}
	}
	return nil, tree.Record{}, false
}

// Get returns the session owning treeID.
func (r *Registry) Get(treeID int) (*collection.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[treeID]
	return s, ok
}

// Trees returns all registered sessions in ascending tree id order.
func (r *Registry) Trees() []*collection.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*collection.Session, 0, len(r.sessions))
	for _, treeID := range r.treeIDsLocked() {
		out = append(out, r.sessions[treeID])
	}
	return out
}

// Len returns the number of registered trees.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) treeIDsLocked() []int {
	ids := make([]int, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
