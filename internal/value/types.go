package value

import (
	"math/big"

	"github.com/monty-lang/monty/internal/heap"
	"github.com/monty-lang/monty/internal/intern"
)

// heapType is implemented by every HeapData variant in this package in
// addition to heap.Data, giving Value.TypeName a name to report without a
// type switch at every call site.
type heapType interface {
	heap.Data
	TypeName() string
}

// Str is an immutable heap-allocated string. Short-lived temporaries
// still go through the heap (unlike InternString, which is for
// identifiers known at compile time) because runtime string values are
// built dynamically (concatenation, formatting, slicing).
type Str struct{ S string }

func (Str) TypeName() string                 { return "str" }
func (s Str) EstimateSize() uint64           { return uint64(len(s.S)) + 16 }
func (Str) ChildIDs(dst []heap.ID) []heap.ID { return dst }

// Float is a heap-allocated double-precision float.
type Float struct{ F float64 }

func (Float) TypeName() string                 { return "float" }
func (Float) EstimateSize() uint64             { return 8 }
func (Float) ChildIDs(dst []heap.ID) []heap.ID { return dst }

// LongInt is an arbitrary-precision integer, used once int arithmetic
// overflows int64.
type LongInt struct{ V *big.Int }

func NewLongInt(v *big.Int) LongInt { return LongInt{V: v} }

func (LongInt) TypeName() string { return "int" }
func (l LongInt) EstimateSize() uint64 {
	return uint64(len(l.V.Bits()))*8 + 24
}
func (LongInt) ChildIDs(dst []heap.ID) []heap.ID { return dst }

// Tuple is an immutable fixed-length sequence of Values, each
// contributing one refcount share while the tuple lives.
type Tuple struct{ Items []Value }

func (Tuple) TypeName() string       { return "tuple" }
func (t Tuple) EstimateSize() uint64 { return uint64(len(t.Items))*24 + 24 }
func (t Tuple) ChildIDs(dst []heap.ID) []heap.ID {
	for _, v := range t.Items {
		if v.Tag == TagRef {
			dst = append(dst, v.Ref)
		}
	}
	return dst
}

// NamedTuple is a Tuple additionally tagged with field names, backing the
// handful of stdlib shims (e.g. sys.version_info) that expose named
// fields over tuple semantics.
type NamedTuple struct {
	Items  []Value
	Fields []intern.StringID
}

func (NamedTuple) TypeName() string { return "tuple" }
func (n NamedTuple) EstimateSize() uint64 {
	return uint64(len(n.Items))*24 + uint64(len(n.Fields))*4 + 24
}
func (n NamedTuple) ChildIDs(dst []heap.ID) []heap.ID {
	for _, v := range n.Items {
		if v.Tag == TagRef {
			dst = append(dst, v.Ref)
		}
	}
	return dst
}

// List is a mutable, growable sequence of Values.
type List struct{ Items []Value }

func (List) TypeName() string       { return "list" }
func (l List) EstimateSize() uint64 { return uint64(cap(l.Items))*24 + 24 }
func (l List) ChildIDs(dst []heap.ID) []heap.ID {
	for _, v := range l.Items {
		if v.Tag == TagRef {
			dst = append(dst, v.Ref)
		}
	}
	return dst
}

// dictEntry preserves insertion order, matching the reference language's
// dict semantics.
type dictEntry struct {
	Key, Val Value
}

// Dict is an insertion-ordered mapping. Lookup goes through index, a
// hash-of-key -> entry-slot map; Entries holds the ordered entries
// themselves (with a delete leaving a tombstone whose Key is Undefined, which
// is acceptable at Monty's scale and keeps deletion O(1) amortized
// without shifting every later key).
type Dict struct {
	Entries []dictEntry
	index   map[uint64][]int
}

// NewDict creates an empty Dict ready for Put/Get/Delete.
func NewDict() *Dict { return &Dict{index: make(map[uint64][]int)} }

func (Dict) TypeName() string       { return "dict" }
func (d Dict) EstimateSize() uint64 { return uint64(len(d.Entries))*48 + 24 }
func (d Dict) ChildIDs(dst []heap.ID) []heap.ID {
	for _, e := range d.Entries {
		if e.Key.Tag == TagRef {
			dst = append(dst, e.Key.Ref)
		}
		if e.Val.Tag == TagRef {
			dst = append(dst, e.Val.Ref)
		}
	}
	return dst
}

// Set is an insertion-ordered collection of unique Values, sharing Dict's
// hash-index strategy with no associated value.
type Set struct {
	Items []Value
	index map[uint64][]int
}

func NewSet() *Set { return &Set{index: make(map[uint64][]int)} }

func (Set) TypeName() string       { return "set" }
func (s Set) EstimateSize() uint64 { return uint64(len(s.Items))*24 + 24 }
func (s Set) ChildIDs(dst []heap.ID) []heap.ID {
	for _, v := range s.Items {
		if v.Tag == TagRef {
			dst = append(dst, v.Ref)
		}
	}
	return dst
}

// Range is the lazy start/stop/step triple produced by the range()
// builtin; GET_ITER wraps it in an Iterator rather than materializing it.
type Range struct{ Start, Stop, Step int64 }

func (Range) TypeName() string                 { return "range" }
func (Range) EstimateSize() uint64             { return 24 }
func (Range) ChildIDs(dst []heap.ID) []heap.ID { return dst }

// Len reports how many values the range yields, without an allocation.
func (r Range) Len() int64 {
	if r.Step == 0 {
		return 0
	}
	if r.Step > 0 {
		if r.Stop <= r.Start {
			return 0
		}
		return (r.Stop - r.Start + r.Step - 1) / r.Step
	}
	if r.Stop >= r.Start {
		return 0
	}
	return (r.Start - r.Stop - r.Step - 1) / (-r.Step)
}

// Module is a built-in or user module's namespace, keyed by interned
// member name.
type Module struct {
	Name    intern.StringID
	Members map[intern.StringID]Value
}

func (Module) TypeName() string       { return "module" }
func (m Module) EstimateSize() uint64 { return uint64(len(m.Members))*32 + 32 }
func (m Module) ChildIDs(dst []heap.ID) []heap.ID {
	for _, v := range m.Members {
		if v.Tag == TagRef {
			dst = append(dst, v.Ref)
		}
	}
	return dst
}

// Closure pairs a user function with the cell ids it captures from an
// enclosing scope and, when the function declares default arguments, a
// reference to the FunctionDefaults object evaluated at definition time.
// HasDefaults reports whether Defaults holds such a reference.
type Closure struct {
	Func        DefFuncID
	Cells       []heap.ID
	Defaults    heap.ID
	HasDefaults bool
}

func (Closure) TypeName() string       { return "function" }
func (c Closure) EstimateSize() uint64 { return uint64(len(c.Cells))*4 + 24 }
func (c Closure) ChildIDs(dst []heap.ID) []heap.ID {
	dst = append(dst, c.Cells...)
	if c.HasDefaults {
		dst = append(dst, c.Defaults)
	}
	return dst
}

// Cell is the single-slot heap object MAKE_CLOSURE captures by id,
// sharing storage between an outer function's local and an inner
// closure's free variable.
type Cell struct{ Value Value }

func (Cell) TypeName() string     { return "cell" }
func (Cell) EstimateSize() uint64 { return 24 }
func (c Cell) ChildIDs(dst []heap.ID) []heap.ID {
	if c.Value.Tag == TagRef {
		return append(dst, c.Value.Ref)
	}
	return dst
}

// FunctionDefaults holds the evaluated default-argument values captured
// at DEF_FUNCTION time.
type FunctionDefaults struct{ Values []Value }

func (FunctionDefaults) TypeName() string { return "tuple" }
func (d FunctionDefaults) EstimateSize() uint64 {
	return uint64(len(d.Values))*24 + 16
}
func (d FunctionDefaults) ChildIDs(dst []heap.ID) []heap.ID {
	for _, v := range d.Values {
		if v.Tag == TagRef {
			dst = append(dst, v.Ref)
		}
	}
	return dst
}

var (
	_ heapType = Str{}
	_ heapType = Float{}
	_ heapType = LongInt{}
	_ heapType = Tuple{}
	_ heapType = NamedTuple{}
	_ heapType = List{}
	_ heapType = Dict{}
	_ heapType = Set{}
	_ heapType = Range{}
	_ heapType = Module{}
	_ heapType = Closure{}
	_ heapType = Cell{}
	_ heapType = FunctionDefaults{}
)
