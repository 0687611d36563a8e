package collection

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/testview/backend/internal/item"
)

func TestExpandUnknownIsNoop(t *testing.T) {
	s := newTestSession()
	if comp := s.Expand("missing", -1); comp != nil {
		t.Error("expanding an unknown id returned a completion")
	}
	if got := s.CollectDiff(); len(got) != 0 {
		t.Errorf("unexpected ops: %v", opTags(got))
	}
}

func TestExpandNotExpandableIsNoop(t *testing.T) {
	s := newTestSession()
	if err := s.AddRoot(newFake("leaf", false), "prov"); err != nil {
		t.Fatalf("AddRoot: %v", err)
	}
	s.CollectDiff()

	if comp := s.Expand("leaf", -1); comp != nil {
		t.Error("expanding a leaf returned a completion")
	}
	if got := s.CollectDiff(); len(got) != 0 {
		t.Errorf("unexpected ops: %v", opTags(got))
	}
}

func TestExpandEmitsBusyThenExpanded(t *testing.T) {
	s := newTestSession()
	root := newFake("root", true)
	root.reveal = []*fakeItem{newFake("c", false)}
	if err := s.AddRoot(root, "prov"); err != nil {
		t.Fatalf("AddRoot: %v", err)
	}
	assertOps(t, s.CollectDiff(), "add:root")

	if err := waitSettled(t, s.Expand("root", 0)); err != nil {
		t.Fatalf("expand: %v", err)
	}

	batch := s.CollectDiff()
	assertOps(t, batch, "update:root", "add:c", "update:root")
	if got := batch[0].Update.Fields["expand"]; got != item.BusyExpanding {
		t.Errorf("first transition = %v, want BusyExpanding", got)
	}
	if got := batch[2].Update.Fields["expand"]; got != item.Expanded {
		t.Errorf("final transition = %v, want Expanded", got)
	}

	rec, _ := s.Get("root")
	if rec.Expand != item.Expanded {
		t.Errorf("root expand = %v, want Expanded", rec.Expand)
	}
	child, ok := s.Get("c")
	if !ok || child.ParentID != "root" {
		t.Errorf("discovered child = %+v, %v", child, ok)
	}
}

// deepTree builds root -> suite -> case -> deep, each level hidden behind
// discovery.
func deepTree() *fakeItem {
	deep := newFake("deep", false)
	kase := newFake("case", true)
	kase.reveal = []*fakeItem{deep}
	suite := newFake("suite", true)
	suite.reveal = []*fakeItem{kase}
	root := newFake("root", true)
	root.reveal = []*fakeItem{suite}
	return root
}

func TestExpandDepthLimited(t *testing.T) {
	s := newTestSession()
	if err := s.AddRoot(deepTree(), "prov"); err != nil {
		t.Fatalf("AddRoot: %v", err)
	}

	if err := waitSettled(t, s.Expand("root", 1)); err != nil {
		t.Fatalf("expand: %v", err)
	}

	for _, id := range []string{"root", "suite"} {
		rec, ok := s.Get(id)
		if !ok || rec.Expand != item.Expanded {
			t.Errorf("%s expand = %v (ok=%v), want Expanded", id, rec.Expand, ok)
		}
	}
	rec, ok := s.Get("case")
	if !ok || rec.Expand != item.Expandable {
		t.Errorf("case expand = %v (ok=%v), want Expandable", rec.Expand, ok)
	}
	if s.Has("deep") {
		t.Error("expansion crossed the depth limit")
	}
}

func TestExpandUnlimited(t *testing.T) {
	s := newTestSession()
	if err := s.AddRoot(deepTree(), "prov"); err != nil {
		t.Fatalf("AddRoot: %v", err)
	}

	if err := waitSettled(t, s.Expand("root", -1)); err != nil {
		t.Fatalf("expand: %v", err)
	}

	if s.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", s.Len())
	}
	for _, id := range []string{"root", "suite", "case"} {
		rec, _ := s.Get(id)
		if rec.Expand != item.Expanded {
			t.Errorf("%s expand = %v, want Expanded", id, rec.Expand)
		}
	}
	if rec, _ := s.Get("deep"); rec.Expand != item.NotExpandable {
		t.Errorf("deep expand = %v, want NotExpandable", rec.Expand)
	}

	// Every subtree is cached now: a repeat expansion completes within the
	// call and returns no completion.
	if comp := s.Expand("root", -1); comp != nil {
		t.Error("re-expanding a cached subtree returned a completion")
	}
}

func TestLateChildInheritsBudget(t *testing.T) {
	s := newTestSession()
	first := newFake("s1", true)
	root := newFake("root", true)
	root.reveal = []*fakeItem{first}
	if err := s.AddRoot(root, "prov"); err != nil {
		t.Fatalf("AddRoot: %v", err)
	}
	if err := waitSettled(t, s.Expand("root", -1)); err != nil {
		t.Fatalf("expand: %v", err)
	}

	// A later levels-0 request must not shrink the granted budget.
	s.Expand("root", 0)

	late := newFake("s2", true)
	late.reveal = []*fakeItem{newFake("c2", false)}
	root.addChild(late)

	waitFor(t, func() bool {
		rec, ok := s.Get("s2")
		return ok && rec.Expand == item.Expanded && s.Has("c2")
	}, "late child was not auto-expanded with the inherited budget")
}

func TestExpandWhileBusyJoinsPendingDiscovery(t *testing.T) {
	s := newTestSession()
	started := make(chan struct{})
	release := make(chan struct{})
	var calls int32

	root := newFake("root", true)
	root.discover = func(ctx context.Context, progress func(bool)) error {
		atomic.AddInt32(&calls, 1)
		progress(true)
		close(started)
		<-release
		return nil
	}
	if err := s.AddRoot(root, "prov"); err != nil {
		t.Fatalf("AddRoot: %v", err)
	}

	comp1 := s.Expand("root", 0)
	<-started
	comp2 := s.Expand("root", 0)
	if comp2 == nil {
		t.Fatal("second expand returned nil while discovery was in flight")
	}

	close(release)
	if err := waitSettled(t, comp1); err != nil {
		t.Errorf("first expand: %v", err)
	}
	if err := waitSettled(t, comp2); err != nil {
		t.Errorf("second expand: %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("discovery ran %d times, want 1", n)
	}
	if rec, _ := s.Get("root"); rec.Expand != item.Expanded {
		t.Errorf("root expand = %v, want Expanded", rec.Expand)
	}
}

func TestRefreshChildrenCancelsInFlightRun(t *testing.T) {
	s := newTestSession()
	firstStarted := make(chan struct{})
	secondRelease := make(chan struct{})
	var calls int32

	root := newFake("root", true)
	root.discover = func(ctx context.Context, progress func(bool)) error {
		n := atomic.AddInt32(&calls, 1)
		progress(true)
		if n == 1 {
			close(firstStarted)
			<-ctx.Done()
			// A late idle report from the superseded run must be ignored.
			progress(false)
			return ctx.Err()
		}
		<-secondRelease
		return nil
	}
	if err := s.AddRoot(root, "prov"); err != nil {
		t.Fatalf("AddRoot: %v", err)
	}

	comp1 := s.Expand("root", 0)
	<-firstStarted
	comp2 := s.RefreshChildren("root")

	if err := waitSettled(t, comp1); !errors.Is(err, context.Canceled) {
		t.Errorf("superseded run settled with %v, want context.Canceled", err)
	}
	if rec, _ := s.Get("root"); rec.Expand != item.BusyExpanding {
		t.Errorf("root expand = %v, want BusyExpanding while second run is live", rec.Expand)
	}

	close(secondRelease)
	if err := waitSettled(t, comp2); err != nil {
		t.Errorf("replacement run settled with %v", err)
	}
	if rec, _ := s.Get("root"); rec.Expand != item.Expanded {
		t.Errorf("root expand = %v, want Expanded", rec.Expand)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("discovery ran %d times, want 2", n)
	}
}

func TestDiscoveryFailureAllowsRetry(t *testing.T) {
	errBoom := errors.New("provider exploded")
	s := newTestSession()
	var calls int32

	root := newFake("root", true)
	root.discover = func(ctx context.Context, progress func(bool)) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			progress(true)
			return errBoom
		}
		progress(true)
		return nil
	}
	if err := s.AddRoot(root, "prov"); err != nil {
		t.Fatalf("AddRoot: %v", err)
	}

	if err := waitSettled(t, s.Expand("root", 0)); !errors.Is(err, errBoom) {
		t.Fatalf("failed expand settled with %v, want errBoom", err)
	}
	if rec, _ := s.Get("root"); rec.Expand != item.Expandable {
		t.Errorf("root expand = %v after failure, want Expandable", rec.Expand)
	}

	if err := waitSettled(t, s.Expand("root", 0)); err != nil {
		t.Fatalf("retry settled with %v", err)
	}
	if rec, _ := s.Get("root"); rec.Expand != item.Expanded {
		t.Errorf("root expand = %v after retry, want Expanded", rec.Expand)
	}
}

func TestRemoveCancelsPendingDiscovery(t *testing.T) {
	s := newTestSession()
	started := make(chan struct{})

	root := newFake("root", true)
	root.discover = func(ctx context.Context, progress func(bool)) error {
		progress(true)
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}
	if err := s.AddRoot(root, "prov"); err != nil {
		t.Fatalf("AddRoot: %v", err)
	}

	comp := s.Expand("root", 0)
	<-started
	s.RemoveItem("root")

	if err := waitSettled(t, comp); !errors.Is(err, context.Canceled) {
		t.Errorf("completion settled with %v, want context.Canceled", err)
	}
	if s.Has("root") {
		t.Error("removed item still tracked")
	}
}

func TestDisposeCancelsPendingDiscovery(t *testing.T) {
	s := newTestSession()
	started := make(chan struct{})

	root := newFake("root", true)
	root.discover = func(ctx context.Context, progress func(bool)) error {
		progress(true)
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}
	if err := s.AddRoot(root, "prov"); err != nil {
		t.Fatalf("AddRoot: %v", err)
	}

	comp := s.Expand("root", 0)
	<-started
	s.Dispose()

	if err := waitSettled(t, comp); !errors.Is(err, context.Canceled) {
		t.Errorf("completion settled with %v, want context.Canceled", err)
	}
}

func TestCompletionWaitHonorsContext(t *testing.T) {
	comp := newCompletion()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := comp.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait = %v, want DeadlineExceeded", err)
	}

	comp.settle(nil)
	if err := comp.Wait(context.Background()); err != nil {
		t.Errorf("Wait after settle = %v", err)
	}
}
