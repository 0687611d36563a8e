package collection

import (
	"context"

	"github.com/testview/backend/internal/diff"
	"github.com/testview/backend/internal/item"
)

// Expand discovers descendants of the named item. levels < 0 requests
// unlimited depth, 0 expands only the named item, and N > 0 expands the item
// plus N further levels. The returned completion is nil when every step
// finished synchronously (a fully cached subtree expands within one call);
// otherwise it settles once the whole requested expansion has settled.
// Unknown ids are a no-op.
func (s *Session) Expand(id string, levels int) *Completion {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return nil
	}
	e, ok := s.entries[id]
	if !ok {
		return nil
	}
	return s.expandLocked(e, levels)
}

// RefreshChildren forces a fresh discovery for id even when one is already
// running; the in-flight run is cancelled and the new request wins. Unknown
// ids and items that are not expandable are a no-op.
func (s *Session) RefreshChildren(id string) *Completion {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return nil
	}
	e, ok := s.entries[id]
	if !ok || e.rec.Expand == item.NotExpandable {
		return nil
	}
	return s.refreshChildrenLocked(e)
}

func (s *Session) expandLocked(e *entry, levels int) *Completion {
	e.noteLevels(levels)

	switch e.rec.Expand {
	case item.NotExpandable:
		return nil

	case item.Expandable:
		comp := s.refreshChildrenLocked(e)
		return s.resumeAfter(e.rec.ExternalID, comp, levels)

	case item.BusyExpanding, item.Expanded:
		// Never back to Expandable: a re-expansion recurses into children,
		// waiting first if the initial discovery is still in flight.
		if e.discovery != nil && !e.discovery.settled() {
			return s.resumeAfter(e.rec.ExternalID, e.discovery, levels)
		}
		if levels == 0 {
			return nil
		}
		return s.expandChildrenLocked(e, dec(levels))
	}
	return nil
}

// refreshChildrenLocked cancels any in-flight discovery for the item (last
// request wins), allocates a fresh token, moves the item to BusyExpanding,
// and starts the provider's discovery. The returned completion settles on
// the first idle report, or with the provider's error.
func (s *Session) refreshChildrenLocked(e *entry) *Completion {
	if e.cancel != nil {
		e.cancel()
	}
	if e.discovery != nil {
		e.discovery.settle(context.Canceled)
	}

	e.gen++
	gen := e.gen
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	comp := newCompletion()
	e.discovery = comp

	e.rec.Expand = item.BusyExpanding
	s.pushLocked(diff.NewUpdate(e.rec.ExternalID, "expand", item.BusyExpanding))

	go s.runDiscovery(e.rec.ExternalID, e.rec.Item, gen, ctx)
	return comp
}

// runDiscovery drives one provider discovery call outside the session lock.
func (s *Session) runDiscovery(id string, it item.Item, gen int, ctx context.Context) {
	err := it.Discover(ctx, func(busy bool) {
		s.discoveryProgress(id, gen, busy)
	})
	if err != nil {
		s.discoveryFailed(id, gen, err)
		return
	}
	// Providers are expected to report idle before returning nil; treat a
	// clean return as an idle report in case one doesn't. Settling is
	// idempotent, so a duplicate report is harmless.
	s.discoveryProgress(id, gen, false)
}

func (s *Session) discoveryProgress(id string, gen int, busy bool) {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok || s.disposed || e.gen != gen {
		// Cancelled or superseded: late reports must not mutate state.
		s.mu.Unlock()
		return
	}
	var comp *Completion
	if busy {
		e.rec.Expand = item.BusyExpanding
		s.pushLocked(diff.NewUpdate(id, "expand", item.BusyExpanding))
	} else {
		e.rec.Expand = item.Expanded
		s.pushLocked(diff.NewUpdate(id, "expand", item.Expanded))
		comp = e.discovery
	}
	s.mu.Unlock()

	if comp != nil {
		comp.settle(nil)
	}
}

// discoveryFailed reverts the item to Expandable so a later expand can
// retry, and propagates the error to everyone awaiting the expansion.
func (s *Session) discoveryFailed(id string, gen int, err error) {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok || s.disposed || e.gen != gen {
		s.mu.Unlock()
		return
	}
	e.rec.Expand = item.Expandable
	s.pushLocked(diff.NewUpdate(id, "expand", item.Expandable))
	comp := e.discovery
	e.discovery = nil
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	s.mu.Unlock()

	if comp != nil {
		comp.settle(err)
	}
}

// resumeAfter waits for a discovery to settle, then recurses into the
// item's children with one level less. With levels == 0 the caller only
// awaits the discovery itself.
func (s *Session) resumeAfter(id string, comp *Completion, levels int) *Completion {
	if levels == 0 {
		return comp
	}
	out := newCompletion()
	go func() {
		<-comp.done
		if comp.err != nil {
			out.settle(comp.err)
			return
		}
		s.mu.Lock()
		var kids *Completion
		if !s.disposed {
			if e, ok := s.entries[id]; ok {
				kids = s.expandChildrenLocked(e, dec(levels))
			}
		}
		s.mu.Unlock()
		if kids == nil {
			out.settle(nil)
			return
		}
		<-kids.done
		out.settle(kids.err)
	}()
	return out
}

// expandChildrenLocked expands every current child with the given remaining
// depth, folding any asynchronous steps into a single completion.
func (s *Session) expandChildrenLocked(e *entry, levels int) *Completion {
	childIDs := append([]string(nil), e.rec.ChildIDs...)
	var comps []*Completion
	for _, cid := range childIDs {
		ce, ok := s.entries[cid]
		if !ok {
			continue
		}
		if c := s.expandLocked(ce, levels); c != nil {
			comps = append(comps, c)
		}
	}
	return joinCompletions(comps)
}
