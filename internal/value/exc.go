package value

import (
	"github.com/monty-lang/monty/internal/exception"
	"github.com/monty-lang/monty/internal/heap"
	"github.com/monty-lang/monty/internal/intern"
)

// Exc is the heap representation of a raised exception while it is a
// first-class value: on the stack after a handler catches it, or as the
// in-flight exception the GC treats as a root. The Go-side cause chain
// stays inside the wrapped *exception.Exception.
type Exc struct{ E *exception.Exception }

func (e Exc) TypeName() string { return e.E.Kind.String() }
func (e Exc) EstimateSize() uint64 {
	return uint64(len(e.E.Message)) + 32
}
func (Exc) ChildIDs(dst []heap.ID) []heap.ID { return dst }

// Marker is an opaque singleton, equal only to itself, backing the typing
// module's names (Any, Optional, ...) and sys.stdout/stderr.
type Marker struct{ Name intern.StringID }

func (Marker) TypeName() string                 { return "object" }
func (Marker) EstimateSize() uint64             { return 8 }
func (Marker) ChildIDs(dst []heap.ID) []heap.ID { return dst }

// Path is the value pathlib.Path(...) constructs. The runtime never
// touches the filesystem on its behalf; hosts that want real I/O route
// Path operations through external-function callouts.
type Path struct{ S string }

func (Path) TypeName() string                 { return "PosixPath" }
func (p Path) EstimateSize() uint64           { return uint64(len(p.S)) + 16 }
func (Path) ChildIDs(dst []heap.ID) []heap.ID { return dst }

var (
	_ heapType = Exc{}
	_ heapType = Marker{}
	_ heapType = Path{}
)
