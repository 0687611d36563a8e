package registry

import (
	"context"
	"testing"
	"time"

	"github.com/testview/backend/internal/item"
)

// stubItem is the minimal provider item the registry tests need.
type stubItem struct {
	id string
}

func (s *stubItem) ID() string              { return s.id }
func (s *stubItem) Snapshot() item.Snapshot { return item.Snapshot{ID: s.id, Label: s.id} }
func (s *stubItem) Expandable() bool        { return false }
func (s *stubItem) Children() []item.Item   { return nil }

func (s *stubItem) Subscribe(item.Observer) func() { return func() {} }

func (s *stubItem) Discover(ctx context.Context, progress func(bool)) error { return nil }

func TestTreeIDsAreMonotonic(t *testing.T) {
	r := New(time.Hour)

	s1, _ := r.CreateHierarchy(nil)
	s2, _ := r.CreateHierarchy(nil)
	if s1.TreeID() != 1 || s2.TreeID() != 2 {
		t.Fatalf("tree ids = %d, %d, want 1, 2", s1.TreeID(), s2.TreeID())
	}

	// Ids are never reused, even after the tree in between is gone.
	s2.Dispose()
	s3, _ := r.CreateHierarchy(nil)
	if s3.TreeID() != 3 {
		t.Errorf("tree id after dispose = %d, want 3", s3.TreeID())
	}
}

func TestReleaseRemovesTree(t *testing.T) {
	r := New(time.Hour)
	s, release := r.CreateHierarchy(nil)

	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", r.Len())
	}
	release()
	release() // idempotent
	if r.Len() != 0 {
		t.Errorf("Len() after release = %d, want 0", r.Len())
	}
	if _, ok := r.Get(s.TreeID()); ok {
		t.Error("released tree still resolvable")
	}
}

func TestDisposeReleasesTree(t *testing.T) {
	r := New(time.Hour)
	s, _ := r.CreateHierarchy(nil)

	s.Dispose()
	if r.Len() != 0 {
		t.Errorf("Len() after dispose = %d, want 0", r.Len())
	}
}

func TestGetByIDPrefersNamedTree(t *testing.T) {
	r := New(time.Hour)
	s1, _ := r.CreateHierarchy(nil)
	s2, _ := r.CreateHierarchy(nil)

	// The same external id lives in both trees.
	if err := s1.AddRoot(&stubItem{id: "shared"}, "p1"); err != nil {
		t.Fatalf("AddRoot s1: %v", err)
	}
	if err := s2.AddRoot(&stubItem{id: "shared"}, "p2"); err != nil {
		t.Fatalf("AddRoot s2: %v", err)
	}

	// Without a preference the lowest tree id wins.
	owner, rec, ok := r.GetByID("shared")
	if !ok || owner.TreeID() != s1.TreeID() {
		t.Errorf("GetByID = tree %d (ok=%v), want tree %d", owner.TreeID(), ok, s1.TreeID())
	}
	if rec.ProviderID != "p1" {
		t.Errorf("record provider = %q, want p1", rec.ProviderID)
	}

	// A preferred tree containing the id overrides scan order.
	owner, rec, ok = r.GetByID("shared", s2.TreeID())
	if !ok || owner.TreeID() != s2.TreeID() {
		t.Errorf("preferred GetByID = tree %d (ok=%v), want tree %d", owner.TreeID(), ok, s2.TreeID())
	}
	if rec.ProviderID != "p2" {
		t.Errorf("preferred record provider = %q, want p2", rec.ProviderID)
	}

	// A preference that misses falls back to the scan.
	owner, _, ok = r.GetByID("shared", 99)
	if !ok || owner.TreeID() != s1.TreeID() {
		t.Errorf("fallback GetByID = tree %d (ok=%v), want tree %d", owner.TreeID(), ok, s1.TreeID())
	}
}

func TestGetByIDUnknown(t *testing.T) {
	r := New(time.Hour)
	r.CreateHierarchy(nil)

	if _, _, ok := r.GetByID("missing"); ok {
		t.Error("GetByID found a nonexistent id")
	}
}

func TestTreesOrderedByID(t *testing.T) {
	r := New(time.Hour)
	for i := 0; i < 4; i++ {
		r.CreateHierarchy(nil)
	}

	trees := r.Trees()
	if len(trees) != 4 {
		t.Fatalf("Trees() returned %d sessions, want 4", len(trees))
	}
	for i, s := range trees {
		if s.TreeID() != i+1 {
			t.Errorf("Trees()[%d].TreeID() = %d, want %d", i, s.TreeID(), i+1)
		}
	}
}
