// Package executor is the host-facing orchestrator: it compiles source,
// owns the heap/namespace lifecycle for a run, drives the dispatch loop,
// and converts frame exits into host values, suspensions, or errors.
package executor

import (
	"io"
	"os"

	"github.com/monty-lang/monty/internal/compiler"
	"github.com/monty-lang/monty/internal/exception"
	"github.com/monty-lang/monty/internal/frame"
	"github.com/monty-lang/monty/internal/heap"
	"github.com/monty-lang/monty/internal/rterrors"
	"github.com/monty-lang/monty/internal/tracker"
	"github.com/monty-lang/monty/internal/value"
	"github.com/monty-lang/monty/internal/version"
	"github.com/monty-lang/monty/internal/vm"
)

// ExecError is the host-visible form of an uncaught runtime exception:
// the exception itself plus a rendered, Python-style traceback with
// source previews.
type ExecError struct {
	Exc       *exception.Exception
	Traceback string
}

func (e *ExecError) Error() string {
	if e.Traceback != "" {
		return e.Traceback
	}
	return e.Exc.Error()
}

// Executor compiles once and runs to completion, any number of times.
// The compiled program keeps its own source-file view for tracebacks.
type Executor struct {
	prog *vm.Program

	// DecRefCheck makes every run assert an empty heap at teardown,
	// turning refcount leaks into loud failures. Used by tests.
	DecRefCheck bool
}

// New parses and prepares source. inputNames declare, in order, the
// values each run will receive.
func New(source, filename string, inputNames []string) (*Executor, error) {
	return newExecutor(source, filename, inputNames, nil)
}

func newExecutor(source, filename string, inputNames, externalNames []string) (*Executor, error) {
	prog, err := compiler.Compile(source, filename, inputNames, externalNames)
	if err != nil {
		return nil, err
	}
	return &Executor{prog: prog}, nil
}

// CompatibleWith reports whether this interpreter's version satisfies a
// semver constraint, letting embedders gate features.
func (e *Executor) CompatibleWith(constraint string) (bool, error) {
	return version.CompatibleWith(constraint)
}

// RunNoLimits executes with an unbounded tracker and stdout printing.
func (e *Executor) RunNoLimits(inputs []HostValue) (HostValue, error) {
	return e.RunWithTracker(inputs, tracker.NewUnbounded(), os.Stdout)
}

// RunWithLimits executes under the given resource limits.
func (e *Executor) RunWithLimits(inputs []HostValue, limits tracker.Limits) (HostValue, error) {
	return e.RunWithTracker(inputs, tracker.NewLimited(limits), os.Stdout)
}

// RunWithWriter executes unbounded with print output redirected.
func (e *Executor) RunWithWriter(inputs []HostValue, w io.Writer) (HostValue, error) {
	return e.RunWithTracker(inputs, tracker.NewUnbounded(), w)
}

// RunWithTracker executes with full control over resource tracking and
// print output. External calls are not supported on this path; use
// ExecutorIter for suspension.
func (e *Executor) RunWithTracker(inputs []HostValue, t tracker.Tracker, w io.Writer) (HostValue, error) {
	hp, vmm, err := e.start(inputs, t, w)
	if err != nil {
		return HostValue{}, err
	}

	exit, runErr := runGuarded(vmm)
	if runErr != nil {
		out := e.convertError(vmm, runErr)
		e.teardown(vmm, hp)
		return HostValue{}, out
	}

	if exit.Kind == vm.ExitExternalCall {
		for _, a := range exit.Call.Args {
			dropValue(hp, a)
		}
		for _, kv := range exit.Call.Kwargs {
			dropValue(hp, kv.Key)
			dropValue(hp, kv.Val)
		}
		e.teardown(vmm, hp)
		return HostValue{}, &ExecError{Exc: exception.New(exception.NotImplementedError,
			"external function calls not supported by standard execution")}
	}

	out := fromValue(hp, e.prog.Interns, exit.Value)
	dropValue(hp, exit.Value)
	err = e.teardown(vmm, hp)
	return out, err
}

// start builds the heap and global namespace and seeds it: external
// function values first, then the converted inputs, then Undefined.
func (e *Executor) start(inputs []HostValue, t tracker.Tracker, w io.Writer) (*heap.Heap, *vm.VM, error) {
	if len(inputs) != e.prog.NumInputs {
		return nil, nil, &ExecError{Exc: exception.New(exception.TypeError,
			"expected %d input(s), got %d", e.prog.NumInputs, len(inputs))}
	}
	if w == nil {
		w = os.Stdout
	}

	hp := heap.New(t)
	hp.DecRefCheck = e.DecRefCheck
	globals := frame.NewNamespace(e.prog.NumGlobals)

	slot := 0
	for i := range e.prog.Externals {
		globals.StoreRaw(frame.NamespaceID(slot), value.ExtFunction(value.ExtFuncID(i)))
		slot++
	}
	for _, in := range inputs {
		v, err := toValue(hp, in)
		if err != nil {
			globals.Drop(hp)
			hp.Close()
			return nil, nil, wrapBare(err)
		}
		globals.StoreRaw(frame.NamespaceID(slot), v)
		slot++
	}

	return hp, vm.New(e.prog, hp, t, globals, w), nil
}

// runGuarded converts internal panics (freed-heap access, dec-ref-check)
// into terminal Internal errors instead of crashing the host.
func runGuarded(vmm *vm.VM) (exit vm.Exit, err error) {
	defer func() {
		if r := recover(); r != nil {
			if std, ok := r.(*rterrors.StandardError); ok {
				err = exception.NewInternal(std)
				return
			}
			panic(r)
		}
	}()
	return vmm.Run()
}

func (e *Executor) convertError(vmm *vm.VM, runErr error) error {
	exc, catchable := exception.Catchable(runErr)
	if !catchable {
		return runErr
	}

	frames := vmm.Traceback()
	// The VM records frames innermost first while unwinding; tracebacks
	// read outermost first.
	ordered := make([]exception.Frame, 0, len(frames))
	for i := len(frames) - 1; i >= 0; i-- {
		ordered = append(ordered, frames[i])
	}

	tb := exception.Build(ordered, exc)
	return &ExecError{Exc: exc, Traceback: tb.Render(e.prog.Source)}
}

// teardown drops everything in the documented order and closes the heap.
// A dec-ref-check violation surfaces as a terminal Internal error.
func (e *Executor) teardown(vmm *vm.VM, hp *heap.Heap) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if std, ok := r.(*rterrors.StandardError); ok {
				err = exception.NewInternal(std)
				return
			}
			panic(r)
		}
	}()
	vmm.Teardown(true)
	hp.Close()
	return nil
}

func dropValue(hp *heap.Heap, v value.Value) {
	if v.Tag == value.TagRef {
		hp.DecRef(v.Ref)
	}
}

func wrapBare(err error) error {
	if exc, ok := exception.Catchable(err); ok {
		return &ExecError{Exc: exc}
	}
	return err
}

// Progress is one step of iterative execution: either a completed result
// or a pending external call with a resumable state.
type Progress struct {
	Complete bool
	Value    HostValue
	Call     *ExternalCall
}

// ExternalCall describes a pending host callout. Resume continues the
// paused execution with the call's return value.
type ExternalCall struct {
	Name   string
	Args   []HostValue
	Kwargs []HostPair
	// Positions records each suspended frame's resume point, outermost
	// first.
	Positions []frame.Position

	state *pausedState
}

type pausedState struct {
	ex  *ExecutorIter
	hp  *heap.Heap
	vmm *vm.VM
}

// Resume pushes the external function's return value into the paused
// frame and re-enters the dispatch loop.
func (c *ExternalCall) Resume(ret HostValue, w io.Writer) (Progress, error) {
	if c.state == nil {
		return Progress{}, &ExecError{Exc: exception.New(exception.ValueError,
			"execution state already consumed")}
	}
	st := c.state
	c.state = nil

	v, err := toValue(st.hp, ret)
	if err != nil {
		st.ex.ex.teardown(st.vmm, st.hp)
		return Progress{}, wrapBare(err)
	}

	exit, runErr := resumeGuarded(st.vmm, v)
	return st.ex.handleExit(st.hp, st.vmm, exit, runErr)
}

func resumeGuarded(vmm *vm.VM, v value.Value) (exit vm.Exit, err error) {
	defer func() {
		if r := recover(); r != nil {
			if std, ok := r.(*rterrors.StandardError); ok {
				err = exception.NewInternal(std)
				return
			}
			panic(r)
		}
	}()
	return vmm.Resume(v)
}

// ExecutorIter supports pausing at external function calls and resuming
// with their results.
type ExecutorIter struct {
	ex *Executor
}

// NewIter parses and prepares source for iterative execution.
// externalNames claim the first module slots, in order, as callable
// host functions.
func NewIter(source, filename string, inputNames, externalNames []string) (*ExecutorIter, error) {
	ex, err := newExecutor(source, filename, inputNames, externalNames)
	if err != nil {
		return nil, err
	}
	return &ExecutorIter{ex: ex}, nil
}

// DecRefCheck enables the empty-heap teardown assertion for every run.
func (e *ExecutorIter) DecRefCheck(on bool) { e.ex.DecRefCheck = on }

// CompatibleWith mirrors Executor.CompatibleWith.
func (e *ExecutorIter) CompatibleWith(constraint string) (bool, error) {
	return version.CompatibleWith(constraint)
}

// RunNoLimits starts execution with an unbounded tracker.
func (e *ExecutorIter) RunNoLimits(inputs []HostValue, w io.Writer) (Progress, error) {
	return e.RunWithTracker(inputs, tracker.NewUnbounded(), w)
}

// RunWithLimits starts execution under resource limits.
func (e *ExecutorIter) RunWithLimits(inputs []HostValue, limits tracker.Limits, w io.Writer) (Progress, error) {
	return e.RunWithTracker(inputs, tracker.NewLimited(limits), w)
}

// RunWithTracker starts execution with a caller-supplied tracker.
func (e *ExecutorIter) RunWithTracker(inputs []HostValue, t tracker.Tracker, w io.Writer) (Progress, error) {
	hp, vmm, err := e.ex.start(inputs, t, w)
	if err != nil {
		return Progress{}, err
	}
	exit, runErr := runGuarded(vmm)
	return e.handleExit(hp, vmm, exit, runErr)
}

func (e *ExecutorIter) handleExit(hp *heap.Heap, vmm *vm.VM, exit vm.Exit, runErr error) (Progress, error) {
	if runErr != nil {
		out := e.ex.convertError(vmm, runErr)
		e.ex.teardown(vmm, hp)
		return Progress{}, out
	}

	if exit.Kind == vm.ExitReturn {
		out := fromValue(hp, e.ex.prog.Interns, exit.Value)
		dropValue(hp, exit.Value)
		if terr := e.ex.teardown(vmm, hp); terr != nil {
			return Progress{}, terr
		}
		return Progress{Complete: true, Value: out}, nil
	}

	call := exit.Call
	hostArgs := make([]HostValue, len(call.Args))
	for i, a := range call.Args {
		hostArgs[i] = fromValue(hp, e.ex.prog.Interns, a)
		dropValue(hp, a)
	}
	hostKwargs := make([]HostPair, len(call.Kwargs))
	for i, kv := range call.Kwargs {
		hostKwargs[i] = HostPair{
			Key: fromValue(hp, e.ex.prog.Interns, kv.Key),
			Val: fromValue(hp, e.ex.prog.Interns, kv.Val),
		}
		dropValue(hp, kv.Key)
		dropValue(hp, kv.Val)
	}

	return Progress{
		Call: &ExternalCall{
			Name:      call.Name,
			Args:      hostArgs,
			Kwargs:    hostKwargs,
			Positions: call.Positions,
			state:     &pausedState{ex: e, hp: hp, vmm: vmm},
		},
	}, nil
}
