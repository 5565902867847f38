package value

import (
	"github.com/monty-lang/monty/internal/exception"
	"github.com/monty-lang/monty/internal/heap"
)

// IterKind selects the per-source cursor semantics of an Iterator.
type IterKind uint8

const (
	IterList IterKind = iota
	IterTuple
	IterDict
	IterSet
	IterRange
	IterStr
)

// Iterator is the heap object GET_ITER wraps a container in: the source
// value (owned) plus a cursor. Advancing replaces the slot's data with an
// updated copy; the runes slice is decoded once for string sources so
// each step stays O(1).
type Iterator struct {
	Kind   IterKind
	Source Value
	Cursor int

	runes []rune
}

func (Iterator) TypeName() string { return "iterator" }
func (it Iterator) EstimateSize() uint64 {
	return uint64(len(it.runes))*4 + 40
}
func (it Iterator) ChildIDs(dst []heap.ID) []heap.ID {
	if it.Source.Tag == TagRef {
		return append(dst, it.Source.Ref)
	}
	return dst
}

var _ heapType = Iterator{}

// NewIterator wraps src in a heap-allocated Iterator and returns an owned
// Ref to it, taking over src's refcount share. If src is already an
// iterator it is returned unchanged. On error the caller keeps ownership
// of src.
func NewIterator(h *heap.Heap, src Value) (Value, error) {
	if src.Tag == TagInternString {
		return Value{}, exception.New(exception.TypeError, "'str' object is not iterable here")
	}
	if src.Tag != TagRef {
		return Value{}, exception.New(exception.TypeError, "%q object is not iterable", "value")
	}

	var it Iterator
	switch d := h.Get(src.Ref).(type) {
	case Iterator:
		return src, nil
	case List:
		it = Iterator{Kind: IterList, Source: src}
	case Tuple, NamedTuple:
		it = Iterator{Kind: IterTuple, Source: src}
	case Dict:
		it = Iterator{Kind: IterDict, Source: src}
	case Set:
		it = Iterator{Kind: IterSet, Source: src}
	case Range:
		it = Iterator{Kind: IterRange, Source: src}
	case Str:
		it = Iterator{Kind: IterStr, Source: src, runes: []rune(d.S)}
	default:
		return Value{}, exception.New(exception.TypeError, "%q object is not iterable", d.(heapType).TypeName())
	}

	id, rerr := h.Allocate(it)
	if rerr != nil {
		return Value{}, rerr
	}
	return Ref(id), nil
}

// IterNext advances the iterator at id and returns the next element as an
// owned value (Ref elements get a fresh refcount share). ok is false when
// the iterator is exhausted. The error arm is either a catchable
// *exception.Exception or a terminal *exception.Resource from allocating
// a yielded string.
func IterNext(h *heap.Heap, id heap.ID) (Value, bool, error) {
	it, ok := h.Get(id).(Iterator)
	if !ok {
		return Value{}, false, exception.New(exception.TypeError, "next() argument must be an iterator")
	}

	switch it.Kind {
	case IterList:
		items := h.Get(it.Source.Ref).(List).Items
		if it.Cursor >= len(items) {
			return Value{}, false, nil
		}
		v := items[it.Cursor]
		it.Cursor++
		h.Replace(id, it)
		if v.Tag == TagRef {
			h.IncRef(v.Ref)
		}
		return v, true, nil

	case IterTuple:
		var items []Value
		switch d := h.Get(it.Source.Ref).(type) {
		case Tuple:
			items = d.Items
		case NamedTuple:
			items = d.Items
		}
		if it.Cursor >= len(items) {
			return Value{}, false, nil
		}
		v := items[it.Cursor]
		it.Cursor++
		h.Replace(id, it)
		if v.Tag == TagRef {
			h.IncRef(v.Ref)
		}
		return v, true, nil

	case IterDict:
		d := h.Get(it.Source.Ref).(Dict)
		for it.Cursor < len(d.Entries) {
			e := d.Entries[it.Cursor]
			it.Cursor++
			if e.Key.Tag == TagUndefined {
				continue
			}
			h.Replace(id, it)
			if e.Key.Tag == TagRef {
				h.IncRef(e.Key.Ref)
			}
			return e.Key, true, nil
		}
		h.Replace(id, it)
		return Value{}, false, nil

	case IterSet:
		s := h.Get(it.Source.Ref).(Set)
		if it.Cursor >= len(s.Items) {
			return Value{}, false, nil
		}
		v := s.Items[it.Cursor]
		it.Cursor++
		h.Replace(id, it)
		if v.Tag == TagRef {
			h.IncRef(v.Ref)
		}
		return v, true, nil

	case IterRange:
		r := h.Get(it.Source.Ref).(Range)
		if int64(it.Cursor) >= r.Len() {
			return Value{}, false, nil
		}
		v := Int(r.Start + int64(it.Cursor)*r.Step)
		it.Cursor++
		h.Replace(id, it)
		return v, true, nil

	case IterStr:
		if it.Cursor >= len(it.runes) {
			return Value{}, false, nil
		}
		ch := it.runes[it.Cursor]
		it.Cursor++
		h.Replace(id, it)
		sid, rerr := h.Allocate(Str{S: string(ch)})
		if rerr != nil {
			return Value{}, false, rerr
		}
		return Ref(sid), true, nil
	}
	return Value{}, false, exception.New(exception.TypeError, "invalid iterator state")
}

// IterCursor reports the iterator's current cursor, used to record the
// For clause state when execution suspends inside a loop.
func IterCursor(h *heap.Heap, id heap.ID) (int, bool) {
	it, ok := h.Get(id).(Iterator)
	if !ok {
		return 0, false
	}
	return it.Cursor, true
}
