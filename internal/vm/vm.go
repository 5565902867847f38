package vm

import (
	"encoding/binary"
	"io"

	"github.com/monty-lang/monty/internal/builtins"
	"github.com/monty-lang/monty/internal/exception"
	"github.com/monty-lang/monty/internal/frame"
	"github.com/monty-lang/monty/internal/heap"
	"github.com/monty-lang/monty/internal/rterrors"
	"github.com/monty-lang/monty/internal/tracker"
	"github.com/monty-lang/monty/internal/value"
)

// VM executes one program against one heap. It is single-threaded and
// exclusively owns its heap; suspension at CALL_EXTERNAL leaves the VM
// intact so Resume can re-enter the loop.
type VM struct {
	Prog    *Program
	Heap    *heap.Heap
	Tracker tracker.Tracker
	Ctx     *builtins.Context

	frames  []*frame.Frame
	startPC int

	// current is the caught exception CHECK_EXC_MATCH/RERAISE consult
	// between a handler entry and CLEAR_EXCEPTION.
	current *exception.Exception

	// moduleCache keeps one instance per built-in module so marker
	// members behave as singletons; the cache owns one share of each.
	moduleCache map[string]value.Value

	// tb accumulates unwound frames, innermost first, for the uncaught
	// exception's host-visible traceback.
	tb []exception.Frame
}

// New creates a VM whose module frame uses globals as its namespace.
// Ownership of globals stays with the caller (the executor drops it at
// teardown, after converting the result).
func New(prog *Program, h *heap.Heap, t tracker.Tracker, globals *frame.Namespace, writer io.Writer) *VM {
	mod := &frame.Frame{Func: 0, NS: globals}
	return &VM{
		Prog:        prog,
		Heap:        h,
		Tracker:     t,
		Ctx:         &builtins.Context{Heap: h, Interns: prog.Interns, Writer: writer},
		frames:      []*frame.Frame{mod},
		moduleCache: map[string]value.Value{},
	}
}

// Traceback returns the frames the uncaught exception unwound through,
// innermost first, in the order raise unwound them.
func (vm *VM) Traceback() []exception.Frame { return vm.tb }

// Run drives the dispatch loop until the module frame returns, an
// external call suspends it, or an error unwinds it. The returned error
// is a *exception.Exception only when no handler matched anywhere;
// Resource and Internal errors pass through unchanged.
func (vm *VM) Run() (Exit, error) {
	for {
		if len(vm.frames) == 0 {
			return Exit{}, exception.NewInternal(rterrors.Bug("vm.Run", "frame stack empty"))
		}

		if rerr := vm.Tracker.Tick(); rerr != nil {
			return Exit{}, rerr
		}
		if vm.Heap.ShouldGC() {
			vm.collect()
		}

		exit, err := vm.step()
		if err != nil {
			exc, catchable := exception.Catchable(err)
			if !catchable {
				return Exit{}, err
			}
			if uncaught := vm.raise(exc); uncaught != nil {
				return Exit{}, uncaught
			}
			continue
		}
		if exit != nil {
			return *exit, nil
		}
	}
}

// Resume pushes the external call's return value (ownership transfers to
// the VM) and re-enters the loop.
func (vm *VM) Resume(ret value.Value) (Exit, error) {
	f := vm.top()
	f.Stack.Push(ret)
	return vm.Run()
}

// Positions snapshots each live frame's resume point. A frame suspended
// inside a for loop records the iterator cursor found on its stack; one
// suspended elsewhere records only the pc.
func (vm *VM) Positions() []frame.Position {
	out := make([]frame.Position, 0, len(vm.frames))
	for _, f := range vm.frames {
		pos := frame.Position{PC: f.PC}
		if top, ok := f.Stack.Peek(0); ok && top.Tag == value.TagRef {
			if cursor, isIter := value.IterCursor(vm.Heap, top.Ref); isIter {
				pos.Clause = frame.Clause{Kind: frame.ClauseFor, Cursor: cursor}
			}
		}
		out = append(out, pos)
	}
	return out
}

func (vm *VM) top() *frame.Frame { return vm.frames[len(vm.frames)-1] }

func (vm *VM) fn(f *frame.Frame) *Function { return vm.Prog.Functions[f.Func] }

// raise walks the frame stack looking for a matching exception-table
// entry. It returns nil when a handler took the exception, or the
// exception itself when every frame (module included) unwound.
func (vm *VM) raise(exc *exception.Exception) error {
	for {
		f := vm.top()
		fn := vm.fn(f)

		if h, ok := fn.ExcTable.Lookup(vm.startPC, exc.Kind); ok {
			f.Stack.Truncate(vm.Heap, h.StackDepth)
			id, rerr := vm.Heap.Allocate(value.Exc{E: exc})
			if rerr != nil {
				return rerr
			}
			f.Stack.Push(value.Ref(id))
			vm.current = exc
			f.PC = h.HandlerPC
			return nil
		}

		vm.tb = append(vm.tb, exception.Frame{
			FuncName: fn.Name,
			Span:     fn.SpanAt(vm.startPC),
		})

		if len(vm.frames) == 1 {
			// The module frame stays alive so teardown keeps its
			// documented drop order for the global namespace.
			f.Stack.DropAll(vm.Heap)
			return exc
		}
		f.Drop(vm.Heap, true)
		vm.frames = vm.frames[:len(vm.frames)-1]
		vm.startPC = vm.top().PC
	}
}

// collect runs the tracing GC over every live root: frame namespaces,
// stacks, cell arrays, and the cached module instances.
func (vm *VM) collect() {
	roots := make([]heap.Root, 0, len(vm.frames)+1)
	for _, f := range vm.frames {
		roots = append(roots, f)
	}
	roots = append(roots, moduleRoots(vm.moduleCache))
	vm.Heap.Collect(roots)
}

type moduleRoots map[string]value.Value

func (m moduleRoots) RootIDs(dst []heap.ID) []heap.ID {
	for _, v := range m {
		if v.Tag == value.TagRef {
			dst = append(dst, v.Ref)
		}
	}
	return dst
}

// Teardown releases everything the VM still owns, in the documented
// failure order: value stacks, then each frame's namespace (globals only
// when dropGlobals), then the module cache. The heap itself is closed by
// the executor afterwards.
func (vm *VM) Teardown(dropGlobals bool) {
	for i := len(vm.frames) - 1; i >= 0; i-- {
		f := vm.frames[i]
		f.Drop(vm.Heap, i != 0 || dropGlobals)
	}
	vm.frames = nil
	for name, v := range vm.moduleCache {
		if v.Tag == value.TagRef {
			vm.Heap.DecRef(v.Ref)
		}
		delete(vm.moduleCache, name)
	}
}

// Operand readers. f.PC is committed by the caller after decode, so a
// raise mid-instruction reports the instruction's start pc.

func (vm *VM) readU8(code []byte, pc *int) byte {
	b := code[*pc]
	*pc++
	return b
}

func (vm *VM) readU16(code []byte, pc *int) uint16 {
	v := binary.LittleEndian.Uint16(code[*pc:])
	*pc += 2
	return v
}

func (vm *VM) readI16(code []byte, pc *int) int16 {
	return int16(vm.readU16(code, pc))
}

func (vm *VM) pop(f *frame.Frame, op Op) (value.Value, error) {
	v, ok := f.Stack.Pop()
	if !ok {
		return value.Value{}, exception.NewInternal(
			rterrors.StackUnderflow(op.String(), 1, 0))
	}
	return v, nil
}

func (vm *VM) drop(v value.Value) {
	if v.Tag == value.TagRef {
		vm.Heap.DecRef(v.Ref)
	}
}

func (vm *VM) constAt(idx int) (Const, error) {
	if idx >= len(vm.Prog.Consts) {
		return Const{}, exception.NewInternal(
			rterrors.ConstantPoolIndex(idx, len(vm.Prog.Consts)))
	}
	return vm.Prog.Consts[idx], nil
}

func (vm *VM) localName(fn *Function, slot int) string {
	if slot < len(fn.LocalNames) && fn.LocalNames[slot] != "" {
		return fn.LocalNames[slot]
	}
	return "?"
}

func (vm *VM) globalName(slot int) string {
	if slot < len(vm.Prog.GlobalNames) && vm.Prog.GlobalNames[slot] != "" {
		return vm.Prog.GlobalNames[slot]
	}
	return "?"
}
