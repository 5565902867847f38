// Package heap implements the runtime's heap-allocated value store:
// integer-indexed slots with saturating reference counts, an iterative
// (non-recursive) drop protocol, and a tracing mark-sweep collector for
// reference cycles the counting scheme cannot reclaim on its own.
package heap

import (
	"github.com/monty-lang/monty/internal/exception"
	"github.com/monty-lang/monty/internal/rterrors"
	"github.com/monty-lang/monty/internal/tracker"
)

// ID is an opaque index into the heap's slot table. The heap never hands
// out an ID whose slot is free.
type ID uint32

// Data is the capability every heap-resident value must provide so the
// heap can account for it without knowing its concrete type: an estimated
// byte size for the tracker, and the set of other heap ids it keeps a
// reference to (for both the drop protocol and GC's mark phase).
type Data interface {
	// EstimateSize returns an approximate byte footprint, used only to
	// charge the tracker's memory budget.
	EstimateSize() uint64
	// ChildIDs appends every ID this value owns a reference to onto dst
	// and returns the extended slice, avoiding an allocation per call on
	// the hot drop/mark paths.
	ChildIDs(dst []ID) []ID
}

type slot struct {
	data     Data
	refcount uint32
	marked   bool
	free     bool
}

// Heap owns every heap-resident value for a single executor. It is
// exclusively owned by that executor; nothing outside internal/vm and
// internal/executor should hold a *Heap across a suspend boundary.
type Heap struct {
	slots    []slot
	freelist []ID
	tracker  tracker.Tracker

	// DecRefCheck, when set, makes Close (called at program teardown)
	// panic if any slot is still live — a debug-mode assertion that the
	// refcounting implementation leaked nothing.
	DecRefCheck bool
}

// New creates an empty Heap charged against t.
func New(t tracker.Tracker) *Heap {
	return &Heap{tracker: t}
}

// Allocate requests tracker budget for data and stores it with refcount 1,
// returning its new ID. A non-nil *exception.Resource means the tracker
// rejected the allocation and data was not stored.
func (h *Heap) Allocate(data Data) (ID, *exception.Resource) {
	if err := h.tracker.OnAllocate(data.EstimateSize()); err != nil {
		return 0, err
	}

	if n := len(h.freelist); n > 0 {
		id := h.freelist[n-1]
		h.freelist = h.freelist[:n-1]
		h.slots[id] = slot{data: data, refcount: 1}
		return id, nil
	}

	h.slots = append(h.slots, slot{data: data, refcount: 1})
	return ID(len(h.slots) - 1), nil
}

func (h *Heap) mustSlot(id ID) *slot {
	if int(id) >= len(h.slots) || h.slots[id].free {
		panic(rterrors.FreedHeapAccess(uint32(id)))
	}
	return &h.slots[id]
}

// Get returns the Data stored at id. Panics with a *rterrors.StandardError
// (an internal bug, never a user-catchable condition) if id refers to a
// freed slot.
func (h *Heap) Get(id ID) Data {
	return h.mustSlot(id).data
}

// Replace overwrites the Data stored at id in place, preserving its
// refcount. Used by in-place mutation opcodes (e.g. list append).
func (h *Heap) Replace(id ID, data Data) {
	h.mustSlot(id).data = data
}

// IncRef saturates at the uint32 max rather than wrapping, matching the
// spec's "saturating" refcount contract.
func (h *Heap) IncRef(id ID) {
	s := h.mustSlot(id)
	if s.refcount < ^uint32(0) {
		s.refcount++
	}
}

// DecRef decrements id's refcount; at zero it runs the iterative drop
// protocol, freeing id and every descendant whose own refcount reaches
// zero as a result, without recursing through the call stack.
func (h *Heap) DecRef(id ID) {
	s := h.mustSlot(id)
	if s.refcount == 0 {
		// Already at the floor (e.g. a GC-swept cycle member whose
		// counted owners already dropped it); nothing to do.
		return
	}
	s.refcount--
	if s.refcount > 0 {
		return
	}

	worklist := []ID{id}
	var children []ID
	for len(worklist) > 0 {
		n := len(worklist) - 1
		cur := worklist[n]
		worklist = worklist[:n]

		curSlot := &h.slots[cur]
		if curSlot.free {
			continue
		}

		children = curSlot.data.ChildIDs(children[:0])
		curSlot.data = nil
		curSlot.free = true
		h.freelist = append(h.freelist, cur)

		for _, child := range children {
			cs := h.mustSlot(child)
			if cs.refcount > 0 {
				cs.refcount--
			}
			if cs.refcount == 0 {
				worklist = append(worklist, child)
			}
		}
	}
}

// Root is anything that can enumerate the heap ids it directly holds, so
// Collect can walk from it during the mark phase: a frame's namespace,
// its value stack, its cell array, or the in-flight exception.
type Root interface {
	RootIDs(dst []ID) []ID
}

// Collect runs a full mark-sweep pass over roots. Survivors' refcounts
// are left untouched — only slots unreachable from roots are freed, and
// freeing during sweep skips the drop protocol because every live
// reference is already accounted for by the mark graph.
func (h *Heap) Collect(roots []Root) {
	for i := range h.slots {
		h.slots[i].marked = h.slots[i].free
	}

	var stack []ID
	var scratch []ID
	for _, r := range roots {
		stack = r.RootIDs(stack)
	}

	for len(stack) > 0 {
		n := len(stack) - 1
		id := stack[n]
		stack = stack[:n]

		s := &h.slots[id]
		if s.marked {
			continue
		}
		s.marked = true

		scratch = s.data.ChildIDs(scratch[:0])
		stack = append(stack, scratch...)
	}

	for i := range h.slots {
		if !h.slots[i].marked && !h.slots[i].free {
			h.slots[i].data = nil
			h.slots[i].free = true
			h.freelist = append(h.freelist, ID(i))
		}
	}
}

// ShouldGC reports whether the heap's tracker thinks a collection is due.
func (h *Heap) ShouldGC() bool { return h.tracker.ShouldGC() }

// LiveCount returns the number of slots currently in use, for the
// dec-ref-check invariant and for diagnostics.
func (h *Heap) LiveCount() int {
	return len(h.slots) - len(h.freelist)
}

// Close frees every remaining slot unconditionally (used during teardown,
// including after a terminal error). If DecRefCheck is set and any slot
// was still live, it panics: that is a refcounting bug, not a recoverable
// runtime condition.
func (h *Heap) Close() {
	live := h.LiveCount()
	for i := range h.slots {
		h.slots[i].data = nil
		h.slots[i].free = true
	}
	h.freelist = h.freelist[:0]

	if h.DecRefCheck && live != 0 {
		panic(rterrors.New(rterrors.CategoryHeap, "DEC_REF_CHECK",
			"heap was not empty at teardown", map[string]any{"live_slots": live}))
	}
}
