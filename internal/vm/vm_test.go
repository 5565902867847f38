package vm

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/monty-lang/monty/internal/builtins"
	"github.com/monty-lang/monty/internal/exception"
	"github.com/monty-lang/monty/internal/frame"
	"github.com/monty-lang/monty/internal/heap"
	"github.com/monty-lang/monty/internal/intern"
	"github.com/monty-lang/monty/internal/tracker"
	"github.com/monty-lang/monty/internal/value"
)

// asm builds a bytecode stream instruction by instruction.
type asm struct{ buf bytes.Buffer }

func (a *asm) op(o Op) *asm { a.buf.WriteByte(byte(o)); return a }
func (a *asm) u8(b byte) *asm {
	a.buf.WriteByte(b)
	return a
}
func (a *asm) u16(v uint16) *asm {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	a.buf.Write(b[:])
	return a
}
func (a *asm) i16(v int16) *asm { return a.u16(uint16(v)) }
func (a *asm) pc() int          { return a.buf.Len() }
func (a *asm) bytes() []byte    { return a.buf.Bytes() }

type testRun struct {
	vm   *VM
	heap *heap.Heap
	prog *Program
}

func newRun(t *testing.T, prog *Program, numGlobals int) *testRun {
	t.Helper()
	if prog.Interns == nil {
		prog.Interns = intern.New()
	}
	trk := tracker.NewUnbounded()
	hp := heap.New(trk)
	hp.DecRefCheck = true
	globals := frame.NewNamespace(numGlobals)
	return &testRun{
		vm:   New(prog, hp, trk, globals, &bytes.Buffer{}),
		heap: hp,
		prog: prog,
	}
}

func (r *testRun) finish(t *testing.T) {
	t.Helper()
	r.vm.Teardown(true)
	r.heap.Close()
}

func TestArithmeticAndReturn(t *testing.T) {
	var a asm
	a.op(OpLoadSmallInt).u8(1)
	a.op(OpLoadSmallInt).u8(2)
	a.op(OpBinaryAdd)
	a.op(OpReturnValue)

	prog := &Program{Functions: []*Function{{Name: "<module>", Code: a.bytes()}}}
	r := newRun(t, prog, 0)
	exit, err := r.vm.Run()
	require.NoError(t, err)
	assert.Equal(t, ExitReturn, exit.Kind)
	assert.Equal(t, value.Int(3), exit.Value)
	r.finish(t)
}

func TestStackDiscipline(t *testing.T) {
	// DUP/ROT2 juggling: 5 - 2 computed twice over.
	var a asm
	a.op(OpLoadSmallInt).u8(5)
	a.op(OpLoadSmallInt).u8(2)
	a.op(OpRot2) // 2, 5
	a.op(OpRot2) // 5, 2
	a.op(OpBinarySub)
	a.op(OpDup)
	a.op(OpBinaryMul) // 3 * 3
	a.op(OpReturnValue)

	prog := &Program{Functions: []*Function{{Name: "<module>", Code: a.bytes()}}}
	r := newRun(t, prog, 0)
	exit, err := r.vm.Run()
	require.NoError(t, err)
	assert.Equal(t, value.Int(9), exit.Value)
	r.finish(t)
}

func TestGlobalsAndJumps(t *testing.T) {
	// total = 0; counted down from 3: total += n pattern via globals.
	var a asm
	a.op(OpLoadSmallInt).u8(0)
	a.op(OpStoreGlobal).u16(0) // total
	a.op(OpLoadSmallInt).u8(3)
	a.op(OpStoreGlobal).u16(1) // n

	loop := a.pc()
	a.op(OpLoadGlobal).u16(1)
	a.op(OpJumpIfFalse)
	exitPatch := a.pc()
	a.i16(0)

	a.op(OpLoadGlobal).u16(0)
	a.op(OpLoadGlobal).u16(1)
	a.op(OpBinaryAdd)
	a.op(OpStoreGlobal).u16(0)
	a.op(OpLoadGlobal).u16(1)
	a.op(OpLoadSmallInt).u8(1)
	a.op(OpBinarySub)
	a.op(OpStoreGlobal).u16(1)

	a.op(OpJump)
	back := int16(loop - (a.pc() + 2))
	a.i16(back)

	exitPC := a.pc()
	a.op(OpLoadGlobal).u16(0)
	a.op(OpReturnValue)

	code := a.bytes()
	binary.LittleEndian.PutUint16(code[exitPatch:], uint16(int16(exitPC-(exitPatch+2))))

	prog := &Program{
		Functions:   []*Function{{Name: "<module>", Code: code}},
		GlobalNames: []string{"total", "n"},
	}
	r := newRun(t, prog, 2)
	exit, err := r.vm.Run()
	require.NoError(t, err)
	assert.Equal(t, value.Int(6), exit.Value)
	r.finish(t)
}

func TestIterationOpcodes(t *testing.T) {
	// sum(range(4)) via GET_ITER / FOR_ITER.
	interns := intern.New()
	var a asm
	a.op(OpLoadSmallInt).u8(0)
	a.op(OpStoreGlobal).u16(0) // acc

	a.op(OpLoadConst).u16(0) // range builtin
	a.op(OpLoadSmallInt).u8(4)
	a.op(OpCallFunction).u8(1)
	a.op(OpGetIter)

	loop := a.pc()
	a.op(OpForIter)
	forPatch := a.pc()
	a.i16(0)

	a.op(OpLoadGlobal).u16(0)
	a.op(OpBinaryAdd)
	a.op(OpStoreGlobal).u16(0)
	a.op(OpJump)
	a.i16(int16(loop - (a.pc() + 2)))

	exitPC := a.pc()
	a.op(OpLoadGlobal).u16(0)
	a.op(OpReturnValue)

	code := a.bytes()
	binary.LittleEndian.PutUint16(code[forPatch:], uint16(int16(exitPC-(forPatch+2))))

	prog := &Program{
		Consts:      []Const{BuiltinConst(builtins.Range)},
		Functions:   []*Function{{Name: "<module>", Code: code}},
		Interns:     interns,
		GlobalNames: []string{"acc"},
	}
	r := newRun(t, prog, 1)
	exit, err := r.vm.Run()
	require.NoError(t, err)
	assert.Equal(t, value.Int(6), exit.Value)
	r.finish(t)
}

func TestExceptionTableCatches(t *testing.T) {
	// raise ValueError("boom") inside a protected range; the handler
	// checks the kind, clears, and returns 42.
	var a asm
	a.op(OpLoadConst).u16(0) // ValueError constructor
	a.op(OpLoadConst).u16(1) // "boom"
	a.op(OpCallFunction).u8(1)
	raisePC := a.pc()
	a.op(OpRaise)
	protectedEnd := a.pc()

	handlerPC := a.pc()
	a.op(OpLoadConst).u16(0) // ValueError type
	a.op(OpCheckExcMatch)
	a.op(OpJumpIfFalse)
	rrPatch := a.pc()
	a.i16(0)
	a.op(OpPop) // drop the exception value
	a.op(OpClearException)
	a.op(OpLoadSmallInt).u8(42)
	a.op(OpReturnValue)

	reraisePC := a.pc()
	a.op(OpReraise)

	code := a.bytes()
	binary.LittleEndian.PutUint16(code[rrPatch:], uint16(int16(reraisePC-(rrPatch+2))))

	prog := &Program{
		Consts: []Const{
			BuiltinConst(builtins.ExcValueError),
			StrConst("boom"),
		},
		Functions: []*Function{{
			Name: "<module>",
			Code: code,
			ExcTable: exception.Table{{
				PCStart: 0, PCEnd: protectedEnd, HandlerPC: handlerPC, StackDepth: 0,
			}},
		}},
	}
	_ = raisePC

	r := newRun(t, prog, 0)
	exit, err := r.vm.Run()
	require.NoError(t, err)
	assert.Equal(t, value.Int(42), exit.Value)
	r.finish(t)
}

func TestUncaughtExceptionUnwinds(t *testing.T) {
	var a asm
	a.op(OpLoadConst).u16(0)
	a.op(OpCallFunction).u8(0)
	a.op(OpRaise)

	prog := &Program{
		Consts:    []Const{BuiltinConst(builtins.ExcKeyError)},
		Functions: []*Function{{Name: "<module>", Code: a.bytes()}},
	}
	r := newRun(t, prog, 0)
	_, err := r.vm.Run()
	require.Error(t, err)
	exc, ok := exception.Catchable(err)
	require.True(t, ok, "uncaught exception should surface as a catchable kind")
	assert.Equal(t, exception.KeyError, exc.Kind)
	r.finish(t)
}

func TestExternalCallSuspendsAndResumes(t *testing.T) {
	var a asm
	a.op(OpLoadSmallInt).u8(1)
	a.op(OpLoadSmallInt).u8(2)
	a.op(OpCallExternal).u16(0).u8(2)
	a.op(OpReturnValue)

	prog := &Program{
		Functions: []*Function{{Name: "<module>", Code: a.bytes()}},
		Externals: []string{"extfunc"},
	}
	r := newRun(t, prog, 0)
	exit, err := r.vm.Run()
	require.NoError(t, err)
	require.Equal(t, ExitExternalCall, exit.Kind)
	assert.Equal(t, "extfunc", exit.Call.Name)
	require.Len(t, exit.Call.Args, 2)
	assert.Equal(t, value.Int(1), exit.Call.Args[0])
	assert.Equal(t, value.Int(2), exit.Call.Args[1])
	require.NotEmpty(t, exit.Call.Positions)

	exit, err = r.vm.Resume(value.Int(99))
	require.NoError(t, err)
	assert.Equal(t, ExitReturn, exit.Kind)
	assert.Equal(t, value.Int(99), exit.Value)
	r.finish(t)
}

func TestCompareModEq(t *testing.T) {
	var a asm
	a.op(OpLoadSmallInt).u8(10)
	a.op(OpLoadSmallInt).u8(3)
	a.op(OpCompareModEq).u16(0)
	a.op(OpReturnValue)

	prog := &Program{
		Consts:    []Const{IntConst(1)},
		Functions: []*Function{{Name: "<module>", Code: a.bytes()}},
	}
	r := newRun(t, prog, 0)
	exit, err := r.vm.Run()
	require.NoError(t, err)
	assert.Equal(t, value.Bool(true), exit.Value)
	r.finish(t)
}

func TestBuildContainersAndSubscript(t *testing.T) {
	// [10, 20][1]
	var a asm
	a.op(OpLoadSmallInt).u8(10)
	a.op(OpLoadSmallInt).u8(20)
	a.op(OpBuildList).u16(2)
	a.op(OpLoadSmallInt).u8(1)
	a.op(OpBinarySubscr)
	a.op(OpReturnValue)

	prog := &Program{Functions: []*Function{{Name: "<module>", Code: a.bytes()}}}
	r := newRun(t, prog, 0)
	exit, err := r.vm.Run()
	require.NoError(t, err)
	assert.Equal(t, value.Int(20), exit.Value)
	r.finish(t)
}

func TestUnpackSequence(t *testing.T) {
	// a, b = (1, 2); return b
	var a asm
	a.op(OpLoadSmallInt).u8(1)
	a.op(OpLoadSmallInt).u8(2)
	a.op(OpBuildTuple).u16(2)
	a.op(OpUnpackSequence).u8(2)
	a.op(OpStoreGlobal).u16(0) // a = 1 (first pushed back on top)
	a.op(OpStoreGlobal).u16(1) // b = 2
	a.op(OpLoadGlobal).u16(1)
	a.op(OpReturnValue)

	prog := &Program{
		Functions:   []*Function{{Name: "<module>", Code: a.bytes()}},
		GlobalNames: []string{"a", "b"},
	}
	r := newRun(t, prog, 2)
	exit, err := r.vm.Run()
	require.NoError(t, err)
	assert.Equal(t, value.Int(2), exit.Value)
	r.finish(t)
}

func TestResourceErrorIsTerminal(t *testing.T) {
	trk := tracker.NewLimited(tracker.Limits{MaxAllocations: 2, HasMaxAllocs: true})
	hp := heap.New(trk)
	globals := frame.NewNamespace(0)

	var a asm
	// Keep allocating strings until the tracker trips.
	loop := a.pc()
	a.op(OpLoadConst).u16(0)
	a.op(OpPop)
	a.op(OpJump)
	a.i16(int16(loop - (a.pc() + 2)))

	prog := &Program{
		Consts:    []Const{StrConst("filler")},
		Functions: []*Function{{Name: "<module>", Code: a.bytes()}},
		Interns:   intern.New(),
	}
	vmm := New(prog, hp, trk, globals, &bytes.Buffer{})
	_, err := vmm.Run()
	require.Error(t, err)
	res, ok := err.(*exception.Resource)
	require.True(t, ok, "expected a terminal resource error, got %T", err)
	assert.Equal(t, exception.AllocLimit, res.Kind)

	vmm.Teardown(true)
	hp.Close()
}

func TestFormatValueStaticSpec(t *testing.T) {
	spec := value.ParsedFormatSpec{Align: '>', ZeroPad: true, Width: 5, Precision: value.PrecisionNone, Type: 'd'}
	var a asm
	a.op(OpLoadSmallInt).u8(7)
	a.op(OpFormatValue).u8(0x08).u16(0)
	a.op(OpReturnValue)

	prog := &Program{
		Consts:    []Const{SpecConst(value.EncodeSpec(spec))},
		Functions: []*Function{{Name: "<module>", Code: a.bytes()}},
		Interns:   intern.New(),
	}
	r := newRun(t, prog, 0)
	exit, err := r.vm.Run()
	require.NoError(t, err)
	require.Equal(t, value.TagRef, exit.Value.Tag)
	got := r.heap.Get(exit.Value.Ref).(value.Str).S
	assert.Equal(t, "00007", got)
	r.heap.DecRef(exit.Value.Ref)
	r.finish(t)
}

func TestGCReclaimsCycle(t *testing.T) {
	trk := tracker.NewUnbounded()
	hp := heap.New(trk)
	globals := frame.NewNamespace(0)
	prog := &Program{Functions: []*Function{{Name: "<module>"}}, Interns: intern.New()}
	vmm := New(prog, hp, trk, globals, &bytes.Buffer{})

	// Build a two-list cycle reachable from nothing.
	la, _ := hp.Allocate(value.List{})
	lb, _ := hp.Allocate(value.List{Items: []value.Value{value.Ref(la)}})
	hp.Replace(la, value.List{Items: []value.Value{value.Ref(lb)}})
	hp.IncRef(la) // lb's item share
	hp.IncRef(lb) // la's item share
	// Drop the externally held shares; refcounts stay pinned by the cycle.
	hp.DecRef(la)
	hp.DecRef(lb)
	require.Equal(t, 2, hp.LiveCount(), "cycle should survive refcounting alone")

	vmm.collect()
	assert.Equal(t, 0, hp.LiveCount(), "tracing GC should reclaim the unreachable cycle")

	vmm.Teardown(true)
	hp.Close()
}
