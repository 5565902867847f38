package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/monty-lang/monty/internal/exception"
	"github.com/monty-lang/monty/internal/vm"
)

func compile(t *testing.T, source string) *vm.Program {
	t.Helper()
	prog, err := Compile(source, "test.py", nil, nil)
	require.NoError(t, err)
	return prog
}

func TestCompileSimpleExpression(t *testing.T) {
	prog := compile(t, "1 + 2")
	require.Len(t, prog.Functions, 1)
	code := prog.Functions[0].Code
	require.NotEmpty(t, code)
	// The module body must end by returning the expression's value.
	assert.Equal(t, vm.OpReturnValue, vm.Op(code[len(code)-1]))
}

func TestCompileAssignmentAllocatesGlobals(t *testing.T) {
	prog := compile(t, "x = 1\ny = 2\nx + y")
	assert.Equal(t, 2, prog.NumGlobals)
	assert.Equal(t, []string{"x", "y"}, prog.GlobalNames)
}

func TestInputsAndExternalsClaimFirstSlots(t *testing.T) {
	prog, err := Compile("extfn(a)", "test.py", []string{"a"}, []string{"extfn"})
	require.NoError(t, err)
	assert.Equal(t, []string{"extfn", "a"}, prog.GlobalNames[:2])
	assert.Equal(t, 1, prog.NumInputs)
	assert.Equal(t, []string{"extfn"}, prog.Externals)
}

func TestDirectExternalCallUsesCallExternal(t *testing.T) {
	prog, err := Compile("extfn(1)", "test.py", nil, []string{"extfn"})
	require.NoError(t, err)
	assert.True(t, containsOp(prog.Functions[0].Code, vm.OpCallExternal),
		"direct external call should compile to CALL_EXTERNAL")
}

func TestModEqPeephole(t *testing.T) {
	prog := compile(t, "x = 10\nx % 3 == 1")
	assert.True(t, containsOp(prog.Functions[0].Code, vm.OpCompareModEq),
		"(a %% b) == k should fuse into COMPARE_MOD_EQ")
}

func TestFunctionCompilation(t *testing.T) {
	prog := compile(t, "def f(a, b=1):\n    return a + b\nf(1)")
	require.Len(t, prog.Functions, 2)
	fn := prog.Functions[1]
	assert.Equal(t, "f", fn.Name)
	assert.Len(t, fn.Params, 2)
	assert.Equal(t, 1, fn.NumDefaults)
	assert.Equal(t, 2, fn.NumLocals)
}

func TestClosureCellAnalysis(t *testing.T) {
	prog := compile(t, `def outer(x):
    def inner():
        return x
    return inner
outer(1)`)
	require.Len(t, prog.Functions, 3)

	var outer, inner *vm.Function
	for _, fn := range prog.Functions[1:] {
		switch fn.Name {
		case "outer":
			outer = fn
		case "inner":
			inner = fn
		}
	}
	require.NotNil(t, outer)
	require.NotNil(t, inner)
	assert.Equal(t, 1, outer.NumCells, "outer should own one cell for x")
	require.Len(t, outer.CellInits, 1, "captured parameter must be copied into its cell")
	assert.Equal(t, 0, outer.CellInits[0].Param)
	assert.True(t, containsOp(outer.Code, vm.OpMakeClosure))
	assert.True(t, containsOp(inner.Code, vm.OpLoadCell))
}

func TestRefusedFeatures(t *testing.T) {
	cases := []string{
		"class A:\n    pass",
		"import sys",
		"lambda: 1",
		"with x:\n    pass",
		"try:\n    pass\nexcept:\n    pass",
		"async def f():\n    pass",
		"yield 1",
		"assert x",
		"3j",
	}
	for _, source := range cases {
		_, err := Compile(source, "test.py", nil, nil)
		require.Error(t, err, "source: %q", source)
		var ce *Error
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, exception.NotImplementedError, ce.Exc.Kind, "source: %q", source)
	}
}

func TestSyntaxErrors(t *testing.T) {
	cases := []string{
		"1 +",
		"if x\n    pass",
		"def f(:\n    pass",
		"'unterminated",
		"x = = 1",
		"return 1",
	}
	for _, source := range cases {
		_, err := Compile(source, "test.py", nil, nil)
		require.Error(t, err, "source: %q", source)
		var ce *Error
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, exception.SyntaxError, ce.Exc.Kind, "source: %q", source)
	}
}

func TestIndentationHandling(t *testing.T) {
	_, err := Compile("if True:\n    x = 1\n  y = 2", "test.py", nil, nil)
	require.Error(t, err, "inconsistent dedent must be rejected")

	prog := compile(t, "if True:\n    x = 1\n    if x:\n        y = 2\nz = 3")
	assert.Equal(t, 3, prog.NumGlobals)
}

func TestFStringStaticSpecPacked(t *testing.T) {
	prog := compile(t, "x = 7\nf'{x:>05d}'")
	found := false
	for _, c := range prog.Consts {
		if c.Kind == vm.ConstSpec {
			found = true
		}
	}
	assert.True(t, found, "a static format spec should be bit-packed into the pool")
}

func TestFStringDynamicSpec(t *testing.T) {
	prog := compile(t, "x = 7\nw = 5\nf'{x:{w}d}'")
	assert.True(t, containsOp(prog.Functions[0].Code, vm.OpBuildFString))
}

func TestConstantPoolDeduplicates(t *testing.T) {
	prog := compile(t, "a = 'same'\nb = 'same'\nc = 'same'")
	count := 0
	for _, c := range prog.Consts {
		if c.Kind == vm.ConstStr && c.Str == "same" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestLineTableCoversStatements(t *testing.T) {
	prog := compile(t, "x = 1\ny = 2")
	fn := prog.Functions[0]
	require.NotEmpty(t, fn.Lines)
	assert.Equal(t, 1, fn.Lines[0].Span.Start.Line)
	last := fn.Lines[len(fn.Lines)-1]
	assert.Equal(t, 2, last.Span.Start.Line)
}

// containsOp scans a bytecode stream opcode by opcode, skipping operands,
// so operand bytes cannot be misread as opcodes.
func containsOp(code []byte, want vm.Op) bool {
	for pc := 0; pc < len(code); {
		op := vm.Op(code[pc])
		if op == want {
			return true
		}
		pc += 1 + operandWidth(code, pc)
	}
	return false
}

func operandWidth(code []byte, pc int) int {
	switch vm.Op(code[pc]) {
	case vm.OpLoadConst, vm.OpLoadLocalW, vm.OpStoreLocalW, vm.OpLoadGlobal,
		vm.OpStoreGlobal, vm.OpLoadCell, vm.OpStoreCell, vm.OpCompareModEq,
		vm.OpBuildList, vm.OpBuildTuple, vm.OpBuildDict, vm.OpBuildSet,
		vm.OpBuildFString, vm.OpDictMerge, vm.OpLoadAttr, vm.OpStoreAttr,
		vm.OpDeleteAttr, vm.OpJump, vm.OpJumpIfTrue, vm.OpJumpIfFalse,
		vm.OpJumpIfTrueOrPop, vm.OpJumpIfFalseOrPop, vm.OpForIter,
		vm.OpMakeFunction:
		return 2
	case vm.OpLoadSmallInt, vm.OpLoadLocal, vm.OpStoreLocal, vm.OpDeleteLocal,
		vm.OpCallFunction, vm.OpCallFunctionEx:
		return 1
	case vm.OpCallMethod, vm.OpCallExternal:
		return 3
	case vm.OpCallFunctionKW:
		return 2 + 2*int(code[pc+2])
	case vm.OpMakeClosure:
		return 3 + int(code[pc+3])
	case vm.OpFormatValue:
		if code[pc+1]&0x08 != 0 {
			return 3
		}
		return 1
	case vm.OpUnpackSequence:
		return 1
	case vm.OpUnpackEx:
		return 2
	default:
		return 0
	}
}
