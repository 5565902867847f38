package builtins

import (
	"io"

	"github.com/monty-lang/monty/internal/heap"
	"github.com/monty-lang/monty/internal/intern"
	"github.com/monty-lang/monty/internal/value"
)

// Context carries the capabilities every builtin receives: the heap,
// the read-only intern table, and the print writer.
type Context struct {
	Heap    *heap.Heap
	Interns *intern.Table
	Writer  io.Writer
}

// KV is one keyword argument as the dispatch loop decodes it.
type KV struct {
	Name intern.StringID
	Val  value.Value
}

// drop releases one value's refcount share.
func (c *Context) drop(v value.Value) {
	if v.Tag == value.TagRef {
		c.Heap.DecRef(v.Ref)
	}
}

// dropAll releases every argument share; builtins call it on every exit
// path (usually deferred) so ownership never leaks on errors.
func (c *Context) dropAll(args []value.Value, kwargs []KV) {
	for _, v := range args {
		c.drop(v)
	}
	for _, kv := range kwargs {
		c.drop(kv.Val)
	}
}

// MontyIter unifies iteration over list, tuple, dict, range, set and str
// for the iterator-consuming builtins. It owns a heap iterator and must
// be closed (or drained plus closed) to release it.
type MontyIter struct {
	id  heap.ID
	ctx *Context
}

// NewMontyIter wraps iterable, taking over the caller's refcount share on
// success. On error the caller keeps ownership.
func NewMontyIter(ctx *Context, iterable value.Value) (*MontyIter, error) {
	ref, err := value.NewIterator(ctx.Heap, iterable)
	if err != nil {
		return nil, err
	}
	return &MontyIter{id: ref.Ref, ctx: ctx}, nil
}

// Next yields the next element as an owned value; ok is false once
// exhausted.
func (it *MontyIter) Next() (value.Value, bool, error) {
	return value.IterNext(it.ctx.Heap, it.id)
}

// Close releases the iterator (and with it the wrapped source's share).
func (it *MontyIter) Close() {
	it.ctx.Heap.DecRef(it.id)
}

// Collect drains the iterator into a slice of owned values, closing it
// afterwards. On error the partial output is released.
func (it *MontyIter) Collect() ([]value.Value, error) {
	var out []value.Value
	for {
		v, ok, err := it.Next()
		if err != nil {
			for _, o := range out {
				it.ctx.drop(o)
			}
			it.Close()
			return nil, err
		}
		if !ok {
			it.Close()
			return out, nil
		}
		out = append(out, v)
	}
}
