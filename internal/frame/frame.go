// Package frame implements the per-call execution state: the flat indexed
// namespace the preparer sizes, the value stack the dispatch loop works
// against, the cell array shared with closures, and the position records
// used to resume a suspended execution.
package frame

import (
	"github.com/monty-lang/monty/internal/exception"
	"github.com/monty-lang/monty/internal/heap"
	"github.com/monty-lang/monty/internal/rterrors"
	"github.com/monty-lang/monty/internal/value"
)

// NamespaceID indexes a slot within one frame's namespace. Slot ids are
// assigned by the preparer and never exceed 16 bits.
type NamespaceID uint16

// Namespace is a flat vector of values with O(1) slot access. Slots start
// Undefined; each slot owns one refcount share of the Ref it holds.
type Namespace struct {
	slots []value.Value
}

// NewNamespace creates a namespace of size slots, all Undefined.
func NewNamespace(size int) *Namespace {
	slots := make([]value.Value, size)
	for i := range slots {
		slots[i] = value.Undefined()
	}
	return &Namespace{slots: slots}
}

// Size returns the slot count.
func (n *Namespace) Size() int { return len(n.slots) }

// Load returns the value in slot id without transferring ownership; the
// caller bumps the refcount itself if it keeps the value.
func (n *Namespace) Load(id NamespaceID) (value.Value, *rterrors.StandardError) {
	if int(id) >= len(n.slots) {
		return value.Value{}, rterrors.NamespaceSlotIndex(int(id), len(n.slots))
	}
	return n.slots[id], nil
}

// Store places v (ownership transfers to the namespace) in slot id,
// releasing the previous occupant's share.
func (n *Namespace) Store(h *heap.Heap, id NamespaceID, v value.Value) *rterrors.StandardError {
	if int(id) >= len(n.slots) {
		return rterrors.NamespaceSlotIndex(int(id), len(n.slots))
	}
	old := n.slots[id]
	n.slots[id] = v
	if old.Tag == value.TagRef {
		h.DecRef(old.Ref)
	}
	return nil
}

// StoreRaw places v without releasing the previous occupant, for seeding
// fresh (all-Undefined) namespaces.
func (n *Namespace) StoreRaw(id NamespaceID, v value.Value) {
	n.slots[id] = v
}

// Delete resets slot id to Undefined, releasing its share. Deleting an
// already-Undefined slot raises NameError like reading one would.
func (n *Namespace) Delete(h *heap.Heap, id NamespaceID) error {
	if int(id) >= len(n.slots) {
		return rterrors.NamespaceSlotIndex(int(id), len(n.slots))
	}
	old := n.slots[id]
	if old.IsUndefined() {
		return exception.New(exception.NameError, "name is not defined")
	}
	n.slots[id] = value.Undefined()
	if old.Tag == value.TagRef {
		h.DecRef(old.Ref)
	}
	return nil
}

// Drop releases every slot's share and resets the namespace, in slot
// order. Called once at frame exit (and for the global namespace, at
// executor teardown).
func (n *Namespace) Drop(h *heap.Heap) {
	for i, v := range n.slots {
		if v.Tag == value.TagRef {
			h.DecRef(v.Ref)
		}
		n.slots[i] = value.Undefined()
	}
}

// RootIDs implements heap.Root for the GC mark phase.
func (n *Namespace) RootIDs(dst []heap.ID) []heap.ID {
	for _, v := range n.slots {
		if v.Tag == value.TagRef {
			dst = append(dst, v.Ref)
		}
	}
	return dst
}

// Stack is the dispatch loop's value stack. Every held Ref owns one
// refcount share; popping transfers it to the caller.
type Stack struct {
	vals []value.Value
}

func (s *Stack) Len() int { return len(s.vals) }

func (s *Stack) Push(v value.Value) { s.vals = append(s.vals, v) }

// Pop transfers ownership of TOS to the caller. The bool is false on
// underflow, which is always an emitter or dispatch bug.
func (s *Stack) Pop() (value.Value, bool) {
	n := len(s.vals)
	if n == 0 {
		return value.Value{}, false
	}
	v := s.vals[n-1]
	s.vals = s.vals[:n-1]
	return v, true
}

// Peek returns TOS (or depth values down) without transferring ownership.
func (s *Stack) Peek(depth int) (value.Value, bool) {
	n := len(s.vals) - 1 - depth
	if n < 0 {
		return value.Value{}, false
	}
	return s.vals[n], true
}

// Set overwrites the value depth slots down without touching refcounts;
// used by ROT2/ROT3 which only permute ownership.
func (s *Stack) Set(depth int, v value.Value) {
	s.vals[len(s.vals)-1-depth] = v
}

// Truncate drops values until the stack is depth deep, releasing their
// shares. Used when an exception handler matches.
func (s *Stack) Truncate(h *heap.Heap, depth int) {
	for len(s.vals) > depth {
		v := s.vals[len(s.vals)-1]
		s.vals = s.vals[:len(s.vals)-1]
		if v.Tag == value.TagRef {
			h.DecRef(v.Ref)
		}
	}
}

// DropAll releases everything on the stack.
func (s *Stack) DropAll(h *heap.Heap) { s.Truncate(h, 0) }

// RootIDs implements heap.Root for the GC mark phase.
func (s *Stack) RootIDs(dst []heap.ID) []heap.ID {
	for _, v := range s.vals {
		if v.Tag == value.TagRef {
			dst = append(dst, v.Ref)
		}
	}
	return dst
}

// Frame is one live call: which function's bytecode is executing, where,
// and the local state the opcodes manipulate. Cells hold the heap ids of
// this frame's cell objects (shared storage with inner closures); the
// frame owns one share of each.
type Frame struct {
	Func  int
	PC    int
	NS    *Namespace
	Stack Stack
	Cells []heap.ID
}

// New creates a frame for function index fn with a namespace of size
// slots.
func New(fn, size int) *Frame {
	return &Frame{Func: fn, NS: NewNamespace(size)}
}

// RootIDs implements heap.Root over everything the frame holds.
func (f *Frame) RootIDs(dst []heap.ID) []heap.ID {
	dst = f.NS.RootIDs(dst)
	dst = f.Stack.RootIDs(dst)
	dst = append(dst, f.Cells...)
	return dst
}

// Drop releases the frame's stack, namespace, and cell shares. The
// namespace may be skipped when it is owned elsewhere (the module frame's
// globals belong to the executor).
func (f *Frame) Drop(h *heap.Heap, dropNS bool) {
	f.Stack.DropAll(h)
	if dropNS {
		f.NS.Drop(h)
	}
	for _, id := range f.Cells {
		h.DecRef(id)
	}
	f.Cells = nil
}
