package heap

import (
	"testing"

	"github.com/monty-lang/monty/internal/tracker"
)

// leaf is a Data with no children, standing in for an immutable value
// like a string during tests.
type leaf struct{ size uint64 }

func (l leaf) EstimateSize() uint64   { return l.size }
func (l leaf) ChildIDs(dst []ID) []ID { return dst }

// node is a Data that owns a reference to another heap slot, standing in
// for an aggregate like a single-element list.
type node struct{ child ID }

func (n node) EstimateSize() uint64   { return 16 }
func (n node) ChildIDs(dst []ID) []ID { return append(dst, n.child) }

func TestAllocateAndGet(t *testing.T) {
	h := New(tracker.NewUnbounded())
	id, err := h.Allocate(leaf{size: 8})
	if err != nil {
		t.Fatalf("unexpected resource error: %v", err)
	}
	if got := h.Get(id); got.(leaf).size != 8 {
		t.Fatalf("Get returned unexpected data: %+v", got)
	}
	if h.LiveCount() != 1 {
		t.Fatalf("LiveCount = %d, want 1", h.LiveCount())
	}
}

func TestDecRefFreesAtZero(t *testing.T) {
	h := New(tracker.NewUnbounded())
	id, _ := h.Allocate(leaf{size: 8})

	h.DecRef(id)
	if h.LiveCount() != 0 {
		t.Fatalf("LiveCount = %d after dropping sole ref, want 0", h.LiveCount())
	}
}

func TestDecRefCascadesThroughChildren(t *testing.T) {
	h := New(tracker.NewUnbounded())
	childID, _ := h.Allocate(leaf{size: 8})
	parentID, _ := h.Allocate(node{child: childID})

	h.DecRef(parentID)
	if h.LiveCount() != 0 {
		t.Fatalf("LiveCount = %d after cascading drop, want 0", h.LiveCount())
	}
}

func TestIncRefKeepsSharedChildAlive(t *testing.T) {
	h := New(tracker.NewUnbounded())
	childID, _ := h.Allocate(leaf{size: 8})
	h.IncRef(childID) // simulate a second independent owner

	parentID, _ := h.Allocate(node{child: childID})
	h.DecRef(parentID)

	if h.LiveCount() != 1 {
		t.Fatalf("LiveCount = %d, want 1 (child should survive the parent's drop)", h.LiveCount())
	}
	h.DecRef(childID)
	if h.LiveCount() != 0 {
		t.Fatalf("LiveCount = %d after dropping the second owner, want 0", h.LiveCount())
	}
}

// selfRoot lets a test supply an explicit root set to Collect.
type selfRoot []ID

func (r selfRoot) RootIDs(dst []ID) []ID { return append(dst, r...) }

func TestCollectReclaimsUnreachableCycle(t *testing.T) {
	h := New(tracker.NewUnbounded())

	aID, _ := h.Allocate(node{})
	bID, _ := h.Allocate(node{child: aID})
	h.Replace(aID, node{child: bID}) // a -> b -> a, a cycle

	// Both started at refcount 1 from Allocate and neither is rooted;
	// counting alone would never free them.
	h.Collect(nil)

	if h.LiveCount() != 0 {
		t.Fatalf("LiveCount = %d after collecting an unreachable cycle, want 0", h.LiveCount())
	}
}

func TestCollectKeepsRootedSlots(t *testing.T) {
	h := New(tracker.NewUnbounded())
	id, _ := h.Allocate(leaf{size: 8})

	h.Collect([]Root{selfRoot{id}})

	if h.LiveCount() != 1 {
		t.Fatalf("LiveCount = %d, want 1 (rooted slot must survive)", h.LiveCount())
	}
}

func TestAllocateRejectedByLimitedTracker(t *testing.T) {
	h := New(tracker.NewLimited(tracker.Limits{MaxAllocations: 1, HasMaxAllocs: true}))

	if _, err := h.Allocate(leaf{size: 1}); err != nil {
		t.Fatalf("first allocation should succeed: %v", err)
	}
	if _, err := h.Allocate(leaf{size: 1}); err == nil {
		t.Fatal("second allocation should have been rejected by the alloc cap")
	}
}

func TestCloseDecRefCheckPanicsOnLeak(t *testing.T) {
	h := New(tracker.NewUnbounded())
	h.DecRefCheck = true
	h.Allocate(leaf{size: 1})

	defer func() {
		if recover() == nil {
			t.Fatal("expected Close to panic when a slot is still live and DecRefCheck is set")
		}
	}()
	h.Close()
}
