package frame

import (
	"testing"

	"github.com/monty-lang/monty/internal/heap"
	"github.com/monty-lang/monty/internal/tracker"
	"github.com/monty-lang/monty/internal/value"
)

func TestNamespaceSlotsStartUndefined(t *testing.T) {
	ns := NewNamespace(3)
	for i := 0; i < 3; i++ {
		v, serr := ns.Load(NamespaceID(i))
		if serr != nil {
			t.Fatal(serr)
		}
		if !v.IsUndefined() {
			t.Fatalf("slot %d should start Undefined", i)
		}
	}
	if _, serr := ns.Load(5); serr == nil {
		t.Fatal("out-of-range load should report an internal error")
	}
}

func TestNamespaceStoreReleasesOldValue(t *testing.T) {
	h := heap.New(tracker.NewUnbounded())
	ns := NewNamespace(1)

	a, _ := h.Allocate(value.Str{S: "a"})
	b, _ := h.Allocate(value.Str{S: "b"})

	if serr := ns.Store(h, 0, value.Ref(a)); serr != nil {
		t.Fatal(serr)
	}
	if serr := ns.Store(h, 0, value.Ref(b)); serr != nil {
		t.Fatal(serr)
	}
	// a's only share was the slot's; replacing it must have freed it.
	if h.LiveCount() != 1 {
		t.Fatalf("LiveCount = %d, want 1", h.LiveCount())
	}

	ns.Drop(h)
	if h.LiveCount() != 0 {
		t.Fatalf("namespace drop leaked %d slots", h.LiveCount())
	}
}

func TestNamespaceDeleteUndefinedRaises(t *testing.T) {
	h := heap.New(tracker.NewUnbounded())
	ns := NewNamespace(1)
	if err := ns.Delete(h, 0); err == nil {
		t.Fatal("deleting an undefined slot should raise NameError")
	}
}

func TestStackOwnershipTransfer(t *testing.T) {
	h := heap.New(tracker.NewUnbounded())
	var s Stack

	id, _ := h.Allocate(value.Str{S: "x"})
	s.Push(value.Ref(id))
	v, ok := s.Pop()
	if !ok || v.Ref != id {
		t.Fatalf("pop = %+v, %v", v, ok)
	}
	// Ownership transferred to us; the heap value is still live.
	if h.Get(id).(value.Str).S != "x" {
		t.Fatal("value freed while owned by popper")
	}
	h.DecRef(id)
}

func TestStackTruncateReleases(t *testing.T) {
	h := heap.New(tracker.NewUnbounded())
	var s Stack
	for i := 0; i < 3; i++ {
		id, _ := h.Allocate(value.Str{S: "v"})
		s.Push(value.Ref(id))
	}
	s.Truncate(h, 1)
	if s.Len() != 1 {
		t.Fatalf("Len = %d after truncate", s.Len())
	}
	if h.LiveCount() != 1 {
		t.Fatalf("truncate should free popped shares; %d live", h.LiveCount())
	}
	s.DropAll(h)
	if h.LiveCount() != 0 {
		t.Fatal("DropAll leaked")
	}
}

func TestFrameRootIDs(t *testing.T) {
	h := heap.New(tracker.NewUnbounded())
	f := New(0, 2)

	a, _ := h.Allocate(value.Str{S: "ns"})
	b, _ := h.Allocate(value.Str{S: "stack"})
	c, _ := h.Allocate(value.Cell{Value: value.None()})

	f.NS.StoreRaw(0, value.Ref(a))
	f.Stack.Push(value.Ref(b))
	f.Cells = append(f.Cells, c)

	roots := f.RootIDs(nil)
	want := map[heap.ID]bool{a: true, b: true, c: true}
	if len(roots) != 3 {
		t.Fatalf("RootIDs = %v", roots)
	}
	for _, id := range roots {
		if !want[id] {
			t.Fatalf("unexpected root %d", id)
		}
	}

	f.Drop(h, true)
	if h.LiveCount() != 0 {
		t.Fatalf("frame drop leaked %d slots", h.LiveCount())
	}
}
