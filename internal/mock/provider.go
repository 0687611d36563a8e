package mock

import (
	"context"
	"sync"
	"time"

	"github.com/testview/backend/internal/item"
)

// Item is an in-memory provider item with scripted asynchronous discovery.
// Children staged with AddHidden stay invisible until Discover reveals them;
// runtime mutations are pushed to subscribers the way a real provider would.
type Item struct {
	mu         sync.Mutex
	snap       item.Snapshot
	expandable bool
	children   []*Item
	hidden     []*Item
	observers  map[int]item.Observer
	nextObs    int
	delay      time.Duration
}

func NewItem(id, label string, expandable bool) *Item {
	return &Item{
		snap:       item.Snapshot{ID: id, Label: label},
		expandable: expandable,
		observers:  make(map[int]item.Observer),
	}
}

// SetDiscoverDelay makes Discover pause before revealing staged children,
// simulating a slow provider.
func (m *Item) SetDiscoverDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

func (m *Item) ID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap.ID
}

func (m *Item) Snapshot() item.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap.Clone()
}

func (m *Item) Expandable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expandable
}

func (m *Item) Children() []item.Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]item.Item, len(m.children))
	for i, c := range m.children {
		out[i] = c
	}
	return out
}

func (m *Item) Subscribe(obs item.Observer) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := m.nextObs
	m.nextObs++
	m.observers[key] = obs
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.observers, key)
	}
}

// Discover reveals staged children one at a time, reporting busy first and
// idle when done. It stops without mutating further once ctx is cancelled.
func (m *Item) Discover(ctx context.Context, progress func(busy bool)) error {
	progress(true)

	if d := m.discoverDelay(); d > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.mu.Lock()
		if len(m.hidden) == 0 {
			m.mu.Unlock()
			break
		}
		child := m.hidden[0]
		m.hidden = m.hidden[1:]
		m.children = append(m.children, child)
		observers := m.observerList()
		m.mu.Unlock()

		for _, obs := range observers {
			obs.ChildCreated(child)
		}
	}

	progress(false)
	return nil
}

func (m *Item) discoverDelay() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.delay
}

// observerList must be called with mu held.
func (m *Item) observerList() []item.Observer {
	out := make([]item.Observer, 0, len(m.observers))
	for _, obs := range m.observers {
		out = append(out, obs)
	}
	return out
}

// AddHidden stages a child to be revealed by the next Discover call.
func (m *Item) AddHidden(child *Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hidden = append(m.hidden, child)
}

// AddChild attaches a child immediately and notifies subscribers.
func (m *Item) AddChild(child *Item) {
	m.mu.Lock()
	m.children = append(m.children, child)
	observers := m.observerList()
	m.mu.Unlock()

	for _, obs := range observers {
		obs.ChildCreated(child)
	}
}

// RemoveChild detaches the child with the given id and notifies subscribers.
func (m *Item) RemoveChild(id string) {
	m.mu.Lock()
	found := false
	for i, c := range m.children {
		if c.ID() == id {
			m.children = append(m.children[:i], m.children[i+1:]...)
			found = true
			break
		}
	}
	observers := m.observerList()
	m.mu.Unlock()

	if !found {
		return
	}
	for _, obs := range observers {
		obs.Deleted(id)
	}
}

// SetLabel changes the label and pushes a property change.
func (m *Item) SetLabel(label string) {
	m.mu.Lock()
	m.snap.Label = label
	observers := m.observerList()
	m.mu.Unlock()

	for _, obs := range observers {
		obs.PropertyChanged("label", label)
	}
}

// Invalidate marks prior results as outdated.
func (m *Item) Invalidate() {
	m.mu.Lock()
	observers := m.observerList()
	m.mu.Unlock()

	for _, obs := range observers {
		obs.Invalidated()
	}
}
