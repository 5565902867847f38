package executor

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/monty-lang/monty/internal/exception"
	"github.com/monty-lang/monty/internal/tracker"
)

// run compiles and executes source with dec-ref-check on, so every test
// doubles as a refcount-correctness check.
func run(t *testing.T, source string, inputNames []string, inputs []HostValue) (HostValue, error) {
	t.Helper()
	ex, err := New(source, "test.py", inputNames)
	if err != nil {
		return HostValue{}, err
	}
	ex.DecRefCheck = true
	return ex.RunWithWriter(inputs, &bytes.Buffer{})
}

func mustRun(t *testing.T, source string, inputNames []string, inputs []HostValue) HostValue {
	t.Helper()
	out, err := run(t, source, inputNames, inputs)
	require.NoError(t, err, "source: %s", source)
	return out
}

func TestScenarioAddition(t *testing.T) {
	out := mustRun(t, "1 + 2", nil, nil)
	assert.Equal(t, Int(3), out)
}

func TestScenarioBuiltins(t *testing.T) {
	out := mustRun(t, "abs(-5) + len('hi')", nil, nil)
	assert.Equal(t, Int(7), out)
}

func TestScenarioForLoopAppend(t *testing.T) {
	source := "result = []\nfor i in range(3):\n    result.append(i*i)\nresult"
	out := mustRun(t, source, nil, nil)
	assert.True(t, out.Equal(List(Int(0), Int(1), Int(4))), "got %s", out)
}

func TestScenarioDivmod(t *testing.T) {
	out := mustRun(t, "divmod(-7, 3)", nil, nil)
	assert.True(t, out.Equal(Tuple(Int(-3), Int(2))), "got %s", out)
}

func TestScenarioFStringFormat(t *testing.T) {
	out := mustRun(t, "f'{x:>05d}'", []string{"x"}, []HostValue{Int(7)})
	assert.Equal(t, String("00007"), out)
}

func TestScenarioTimeLimit(t *testing.T) {
	ex, err := New("for i in range(100000000):\n    pass", "test.py", nil)
	require.NoError(t, err)
	_, err = ex.RunWithLimits(nil, tracker.Limits{
		MaxDuration: 50 * time.Millisecond,
		HasMaxDur:   true,
	})
	require.Error(t, err)
	res, ok := err.(*exception.Resource)
	require.True(t, ok, "expected terminal resource error, got %T: %v", err, err)
	assert.Equal(t, exception.TimeLimit, res.Kind)
}

func TestScenarioExternalCall(t *testing.T) {
	ex, err := NewIter("extfunc(1, 2)", "test.py", nil, []string{"extfunc"})
	require.NoError(t, err)
	ex.DecRefCheck(true)

	var out bytes.Buffer
	progress, err := ex.RunNoLimits(nil, &out)
	require.NoError(t, err)
	require.False(t, progress.Complete)
	require.NotNil(t, progress.Call)
	assert.Equal(t, "extfunc", progress.Call.Name)
	require.Len(t, progress.Call.Args, 2)
	assert.Equal(t, Int(1), progress.Call.Args[0])
	assert.Equal(t, Int(2), progress.Call.Args[1])

	progress, err = progress.Call.Resume(Int(99), &out)
	require.NoError(t, err)
	require.True(t, progress.Complete)
	assert.Equal(t, Int(99), progress.Value)
}

func TestScenarioDictGetDefault(t *testing.T) {
	out := mustRun(t, "d = {'a': 1}\nd.get('b', 'x')", nil, nil)
	assert.Equal(t, String("x"), out)
}

func TestAllocLimitEnforced(t *testing.T) {
	ex, err := New("x = []\nfor i in range(100000):\n    x.append([i])", "test.py", nil)
	require.NoError(t, err)
	_, err = ex.RunWithLimits(nil, tracker.Limits{MaxAllocations: 100, HasMaxAllocs: true})
	require.Error(t, err)
	res, ok := err.(*exception.Resource)
	require.True(t, ok, "expected terminal resource error, got %T: %v", err, err)
	assert.Equal(t, exception.AllocLimit, res.Kind)
}

func TestRoundTripIntText(t *testing.T) {
	for _, n := range []int64{0, 1, -1, 42, -9007199254740993, 1 << 62} {
		for _, expr := range []string{"int(str(n))", "int(bin(n), 2)", "int(hex(n), 16)", "int(oct(n), 8)"} {
			out := mustRun(t, expr, []string{"n"}, []HostValue{Int(n)})
			assert.Equal(t, Int(n), out, "%s with n=%d", expr, n)
		}
	}
}

func TestIteratorTotality(t *testing.T) {
	iterables := []string{
		"[1, 2, 3]",
		"(1, 2, 3)",
		"range(5)",
		"'hello'",
		"{'a': 1, 'b': 2}",
	}
	for _, lit := range iterables {
		source := fmt.Sprintf("x = %s\nlist(iter(x)) == list(x)", lit)
		out := mustRun(t, source, nil, nil)
		assert.Equal(t, Bool(true), out, "iterator totality for %s", lit)
	}
}

func TestResumeDeterminism(t *testing.T) {
	// A program free of external calls completes identically through the
	// plain and iterative executors.
	source := "total = 0\nfor i in range(10):\n    total += i * i\ntotal"

	plain := mustRun(t, source, nil, nil)

	it, err := NewIter(source, "test.py", nil, nil)
	require.NoError(t, err)
	progress, err := it.RunNoLimits(nil, &bytes.Buffer{})
	require.NoError(t, err)
	require.True(t, progress.Complete)
	assert.True(t, plain.Equal(progress.Value), "plain=%s iter=%s", plain, progress.Value)
}

func TestConditionalsAndWhile(t *testing.T) {
	source := `n = 10
count = 0
while n > 1:
    if n % 2 == 0:
        n = n // 2
    else:
        n = 3 * n + 1
    count += 1
count`
	out := mustRun(t, source, nil, nil)
	assert.Equal(t, Int(6), out)
}

func TestFunctionDefAndCall(t *testing.T) {
	source := `def add(a, b=10):
    return a + b
add(1) + add(2, 3)`
	out := mustRun(t, source, nil, nil)
	assert.Equal(t, Int(16), out)
}

func TestClosureCapture(t *testing.T) {
	source := `def make_counter(start):
    def bump(step):
        return start + step
    return bump
f = make_counter(100)
f(5)`
	out := mustRun(t, source, nil, nil)
	assert.Equal(t, Int(105), out)
}

func TestKeywordArguments(t *testing.T) {
	source := `def join3(a, b, c):
    return a + b + c
join3('x', c='z', b='y')`
	out := mustRun(t, source, nil, nil)
	assert.Equal(t, String("xyz"), out)
}

func TestStarArgsCall(t *testing.T) {
	source := `def total(a, b, c):
    return a + b + c
args = (1, 2, 3)
total(*args)`
	out := mustRun(t, source, nil, nil)
	assert.Equal(t, Int(6), out)
}

func TestTupleUnpacking(t *testing.T) {
	out := mustRun(t, "a, b = (1, 2)\nb - a", nil, nil)
	assert.Equal(t, Int(1), out)

	out = mustRun(t, "first, *rest = [1, 2, 3, 4]\nrest", nil, nil)
	assert.True(t, out.Equal(List(Int(2), Int(3), Int(4))), "got %s", out)
}

func TestUncaughtRaiseBecomesExecError(t *testing.T) {
	_, err := run(t, "raise ValueError('boom')", nil, nil)
	require.Error(t, err)
	var ee *ExecError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, exception.ValueError, ee.Exc.Kind)
	assert.Contains(t, ee.Error(), "boom")
	assert.Contains(t, ee.Error(), "test.py")
}

func TestTracebackCarriesSourcePreview(t *testing.T) {
	source := `x = 1
raise ValueError('mid-script failure')
y = 2`
	_, err := run(t, source, nil, nil)
	require.Error(t, err)
	var ee *ExecError
	require.ErrorAs(t, err, &ee)

	rendered := ee.Error()
	assert.Contains(t, rendered, "Traceback (most recent call last):")
	assert.Contains(t, rendered, `File "test.py", line 2`)
	assert.Contains(t, rendered, "raise ValueError('mid-script failure')")
	assert.Contains(t, rendered, "^", "the failing span should be caret-underlined")
	assert.Contains(t, rendered, "ValueError: mid-script failure")
}

func TestNameErrorOnUndefined(t *testing.T) {
	_, err := run(t, "nosuchname + 1", nil, nil)
	require.Error(t, err)
	var ee *ExecError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, exception.NameError, ee.Exc.Kind)
}

func TestRefusedFeaturesAreStaticErrors(t *testing.T) {
	for _, source := range []string{
		"class Foo:\n    pass",
		"import os",
		"with open('f') as f:\n    pass",
		"try:\n    pass\nexcept:\n    pass",
		"f = lambda x: x",
	} {
		_, err := New(source, "test.py", nil)
		require.Error(t, err, "source: %s", source)
	}
}

func TestInputsBecomeGlobals(t *testing.T) {
	out := mustRun(t, "x * y", []string{"x", "y"}, []HostValue{Int(6), Int(7)})
	assert.Equal(t, Int(42), out)
}

func TestStringInputsCopyToHeap(t *testing.T) {
	out := mustRun(t, "s + '!'", []string{"s"}, []HostValue{String("hi")})
	assert.Equal(t, String("hi!"), out)
}

func TestAggregateInputs(t *testing.T) {
	out := mustRun(t, "len(xs) + xs[0]", []string{"xs"},
		[]HostValue{List(Int(10), Int(20))})
	assert.Equal(t, Int(12), out)
}

func TestPrintGoesToWriter(t *testing.T) {
	ex, err := New("print('hello', 42)", "test.py", nil)
	require.NoError(t, err)
	ex.DecRefCheck = true
	var out bytes.Buffer
	_, err = ex.RunWithWriter(nil, &out)
	require.NoError(t, err)
	assert.Equal(t, "hello 42\n", out.String())
}

func TestSysModule(t *testing.T) {
	out := mustRun(t, "sys.version_info.major", nil, nil)
	assert.Equal(t, Int(0), out)

	out = mustRun(t, "len(sys.version_info)", nil, nil)
	assert.Equal(t, Int(5), out)
}

func TestTypingModule(t *testing.T) {
	out := mustRun(t, "typing.TYPE_CHECKING", nil, nil)
	assert.Equal(t, Bool(false), out)

	out = mustRun(t, "typing.Any is typing.Any", nil, nil)
	assert.Equal(t, Bool(true), out)
}

func TestPathlibModule(t *testing.T) {
	out := mustRun(t, "str(pathlib.Path('/tmp/x'))", nil, nil)
	assert.Equal(t, String("/tmp/x"), out)
}

func TestCompatibleWith(t *testing.T) {
	ex, err := New("1", "test.py", nil)
	require.NoError(t, err)
	ok, cerr := ex.CompatibleWith(">=0.1, <1.0")
	require.NoError(t, cerr)
	assert.True(t, ok)

	_, cerr = ex.CompatibleWith("not a constraint !!!")
	assert.Error(t, cerr)
}

func TestExternalCallInsideLoopResumes(t *testing.T) {
	source := `total = 0
for i in range(3):
    total += fetch(i)
total`
	ex, err := NewIter(source, "test.py", nil, []string{"fetch"})
	require.NoError(t, err)
	ex.DecRefCheck(true)

	var out bytes.Buffer
	progress, err := ex.RunNoLimits(nil, &out)
	require.NoError(t, err)

	calls := 0
	for !progress.Complete {
		require.NotNil(t, progress.Call)
		assert.Equal(t, "fetch", progress.Call.Name)
		require.Len(t, progress.Call.Args, 1)
		arg := progress.Call.Args[0]
		calls++
		progress, err = progress.Call.Resume(Int(arg.Int*10), &out)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, calls)
	assert.Equal(t, Int(0+10+20), progress.Value)
}

func TestResumeHandleIsSingleUse(t *testing.T) {
	ex, err := NewIter("extfunc()", "test.py", nil, []string{"extfunc"})
	require.NoError(t, err)
	progress, err := ex.RunNoLimits(nil, &bytes.Buffer{})
	require.NoError(t, err)
	call := progress.Call

	_, err = call.Resume(None(), &bytes.Buffer{})
	require.NoError(t, err)
	_, err = call.Resume(None(), &bytes.Buffer{})
	require.Error(t, err, "a consumed resume handle must refuse reuse")
}
