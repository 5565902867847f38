package builtins

import (
	"bytes"
	"testing"

	"github.com/monty-lang/monty/internal/exception"
	"github.com/monty-lang/monty/internal/heap"
	"github.com/monty-lang/monty/internal/intern"
	"github.com/monty-lang/monty/internal/tracker"
	"github.com/monty-lang/monty/internal/value"
)

func newCtx() (*Context, *heap.Heap) {
	h := heap.New(tracker.NewUnbounded())
	return &Context{Heap: h, Interns: intern.New(), Writer: &bytes.Buffer{}}, h
}

func str(t *testing.T, h *heap.Heap, s string) value.Value {
	t.Helper()
	id, rerr := h.Allocate(value.Str{S: s})
	if rerr != nil {
		t.Fatal(rerr)
	}
	return value.Ref(id)
}

func TestLen(t *testing.T) {
	ctx, h := newCtx()
	v, err := Call(ctx, Len, []value.Value{str(t, h, "héllo")}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if v.Int != 5 {
		t.Fatalf("len = %d, want 5 (runes, not bytes)", v.Int)
	}
	if h.LiveCount() != 0 {
		t.Fatalf("len leaked %d slots", h.LiveCount())
	}
}

func TestLenOfIntRaises(t *testing.T) {
	ctx, _ := newCtx()
	_, err := Call(ctx, Len, []value.Value{value.Int(3)}, nil)
	exc, ok := exception.Catchable(err)
	if !ok || exc.Kind != exception.TypeError {
		t.Fatalf("len(3) = %v, want TypeError", err)
	}
}

func TestAbs(t *testing.T) {
	ctx, h := newCtx()
	v, err := Call(ctx, Abs, []value.Value{value.Int(-5)}, nil)
	if err != nil || v.Int != 5 {
		t.Fatalf("abs(-5) = %+v, %v", v, err)
	}
	fid, _ := h.Allocate(value.Float{F: -2.5})
	v, err = Call(ctx, Abs, []value.Value{value.Ref(fid)}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := h.Get(v.Ref).(value.Float).F; got != 2.5 {
		t.Fatalf("abs(-2.5) = %v", got)
	}
}

func TestRangeValidation(t *testing.T) {
	ctx, h := newCtx()
	v, err := Call(ctx, Range, []value.Value{value.Int(2), value.Int(10), value.Int(3)}, nil)
	if err != nil {
		t.Fatal(err)
	}
	r := h.Get(v.Ref).(value.Range)
	if r.Start != 2 || r.Stop != 10 || r.Step != 3 {
		t.Fatalf("range = %+v", r)
	}
	h.DecRef(v.Ref)

	_, err = Call(ctx, Range, []value.Value{value.Int(0), value.Int(5), value.Int(0)}, nil)
	exc, ok := exception.Catchable(err)
	if !ok || exc.Kind != exception.ValueError {
		t.Fatalf("range step 0 = %v, want ValueError", err)
	}
}

func TestDivmodFloor(t *testing.T) {
	ctx, h := newCtx()
	v, err := Call(ctx, Divmod, []value.Value{value.Int(-7), value.Int(3)}, nil)
	if err != nil {
		t.Fatal(err)
	}
	tup := h.Get(v.Ref).(value.Tuple)
	if tup.Items[0].Int != -3 || tup.Items[1].Int != 2 {
		t.Fatalf("divmod(-7, 3) = (%d, %d)", tup.Items[0].Int, tup.Items[1].Int)
	}
}

func TestFilterNonePredicate(t *testing.T) {
	ctx, h := newCtx()
	lst, _ := h.Allocate(value.List{Items: []value.Value{
		value.Int(0), value.Int(1), value.Bool(false), value.Int(2),
	}})
	v, err := Call(ctx, Filter, []value.Value{value.None(), value.Ref(lst)}, nil)
	if err != nil {
		t.Fatal(err)
	}
	out := h.Get(v.Ref).(value.List)
	if len(out.Items) != 2 || out.Items[0].Int != 1 || out.Items[1].Int != 2 {
		t.Fatalf("filter(None, ...) = %+v", out.Items)
	}
	h.DecRef(v.Ref)
	if h.LiveCount() != 0 {
		t.Fatalf("filter leaked %d slots", h.LiveCount())
	}
}

func TestFilterBuiltinPredicate(t *testing.T) {
	ctx, h := newCtx()
	lst, _ := h.Allocate(value.List{Items: []value.Value{
		value.Int(1), value.Int(0), value.Int(-2),
	}})
	v, err := Call(ctx, Filter, []value.Value{value.Builtin(Abs), value.Ref(lst)}, nil)
	if err != nil {
		t.Fatal(err)
	}
	out := h.Get(v.Ref).(value.List)
	// abs(1)=1 truthy, abs(0)=0 falsy, abs(-2)=2 truthy.
	if len(out.Items) != 2 {
		t.Fatalf("filter(abs, ...) kept %d items", len(out.Items))
	}
}

// The conservative resolution of the reference implementation's divergent
// filter paths: user-defined predicates fail up front, and nothing leaks
// on that path.
func TestFilterUserFunctionRaisesWithoutLeak(t *testing.T) {
	ctx, h := newCtx()
	lst, _ := h.Allocate(value.List{Items: []value.Value{value.Int(1)}})
	_, err := Call(ctx, Filter, []value.Value{value.DefFunction(0), value.Ref(lst)}, nil)
	exc, ok := exception.Catchable(err)
	if !ok || exc.Kind != exception.NotImplementedError {
		t.Fatalf("filter(user_fn, ...) = %v, want NotImplementedError", err)
	}
	if h.LiveCount() != 0 {
		t.Fatalf("error path leaked %d slots", h.LiveCount())
	}
}

func TestSortedAndReverse(t *testing.T) {
	ctx, h := newCtx()
	lst, _ := h.Allocate(value.List{Items: []value.Value{
		value.Int(3), value.Int(1), value.Int(2),
	}})
	v, err := Call(ctx, Sorted, []value.Value{value.Ref(lst)}, nil)
	if err != nil {
		t.Fatal(err)
	}
	out := h.Get(v.Ref).(value.List)
	if out.Items[0].Int != 1 || out.Items[2].Int != 3 {
		t.Fatalf("sorted = %+v", out.Items)
	}
}

func TestZip(t *testing.T) {
	ctx, h := newCtx()
	a, _ := h.Allocate(value.List{Items: []value.Value{value.Int(1), value.Int(2), value.Int(3)}})
	b, _ := h.Allocate(value.Range{Start: 10, Stop: 12, Step: 1})
	v, err := Call(ctx, Zip, []value.Value{value.Ref(a), value.Ref(b)}, nil)
	if err != nil {
		t.Fatal(err)
	}
	out := h.Get(v.Ref).(value.List)
	if len(out.Items) != 2 {
		t.Fatalf("zip truncates to the shortest input; got %d rows", len(out.Items))
	}
	row := h.Get(out.Items[0].Ref).(value.Tuple)
	if row.Items[0].Int != 1 || row.Items[1].Int != 10 {
		t.Fatalf("first row = %+v", row.Items)
	}
}

func TestAllAnyShortCircuit(t *testing.T) {
	ctx, h := newCtx()
	lst, _ := h.Allocate(value.List{Items: []value.Value{value.Int(1), value.Int(0)}})
	v, err := Call(ctx, All, []value.Value{value.Ref(lst)}, nil)
	if err != nil || v.Bool {
		t.Fatalf("all([1, 0]) = %+v, %v", v, err)
	}
	lst2, _ := h.Allocate(value.List{Items: []value.Value{value.Int(0), value.Int(5)}})
	v, err = Call(ctx, Any, []value.Value{value.Ref(lst2)}, nil)
	if err != nil || !v.Bool {
		t.Fatalf("any([0, 5]) = %+v, %v", v, err)
	}
}

func TestIntFromString(t *testing.T) {
	ctx, h := newCtx()
	cases := []struct {
		s    string
		base int64
		want int64
	}{
		{"42", 10, 42},
		{"-42", 10, -42},
		{"0b101", 2, 5},
		{"0xff", 16, 255},
		{"0o17", 8, 15},
		{"ff", 16, 255},
	}
	for _, tc := range cases {
		v, err := Call(ctx, Int, []value.Value{str(t, h, tc.s), value.Int(tc.base)}, nil)
		if err != nil {
			t.Fatalf("int(%q, %d): %v", tc.s, tc.base, err)
		}
		if v.Int != tc.want {
			t.Fatalf("int(%q, %d) = %d, want %d", tc.s, tc.base, v.Int, tc.want)
		}
	}

	_, err := Call(ctx, Int, []value.Value{str(t, h, "nope")}, nil)
	exc, ok := exception.Catchable(err)
	if !ok || exc.Kind != exception.ValueError {
		t.Fatalf("int('nope') = %v, want ValueError", err)
	}
}

func TestChrOrd(t *testing.T) {
	ctx, h := newCtx()
	v, err := Call(ctx, Chr, []value.Value{value.Int(233)}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := h.Get(v.Ref).(value.Str).S; got != "é" {
		t.Fatalf("chr(233) = %q", got)
	}
	back, err := Call(ctx, Ord, []value.Value{v}, nil)
	if err != nil || back.Int != 233 {
		t.Fatalf("ord(chr(233)) = %+v, %v", back, err)
	}
}

func TestNextStopIteration(t *testing.T) {
	ctx, h := newCtx()
	lst, _ := h.Allocate(value.List{Items: nil})
	it, err := Call(ctx, Iter, []value.Value{value.Ref(lst)}, nil)
	if err != nil {
		t.Fatal(err)
	}
	h.IncRef(it.Ref)
	_, err = Call(ctx, Next, []value.Value{it}, nil)
	exc, ok := exception.Catchable(err)
	if !ok || exc.Kind != exception.StopIteration {
		t.Fatalf("next of exhausted iterator = %v, want StopIteration", err)
	}
	h.DecRef(it.Ref)
}

func TestPrintSepEnd(t *testing.T) {
	h := heap.New(tracker.NewUnbounded())
	var out bytes.Buffer
	interns := intern.New()
	ctx := &Context{Heap: h, Interns: interns, Writer: &out}

	sep, _ := h.Allocate(value.Str{S: "-"})
	_, err := Call(ctx, Print,
		[]value.Value{value.Int(1), value.Int(2)},
		[]KV{{Name: interns.Intern("sep"), Val: value.Ref(sep)}})
	if err != nil {
		t.Fatal(err)
	}
	if out.String() != "1-2\n" {
		t.Fatalf("print output = %q", out.String())
	}
}

func TestMethodDispatch(t *testing.T) {
	ctx, h := newCtx()

	lid, _ := h.Allocate(value.List{Items: nil})
	h.IncRef(lid)
	_, err := CallMethod(ctx, value.Ref(lid), "append", []value.Value{value.Int(9)})
	if err != nil {
		t.Fatal(err)
	}
	if got := h.Get(lid).(value.List).Items; len(got) != 1 || got[0].Int != 9 {
		t.Fatalf("append result = %+v", got)
	}
	h.DecRef(lid)

	sid, _ := h.Allocate(value.Str{S: "a,b"})
	v, err := CallMethod(ctx, value.Ref(sid), "split", []value.Value{str(t, h, ",")})
	if err != nil {
		t.Fatal(err)
	}
	parts := h.Get(v.Ref).(value.List)
	if len(parts.Items) != 2 {
		t.Fatalf("split = %+v", parts.Items)
	}
}

func TestUnknownMethodRaisesAttributeError(t *testing.T) {
	ctx, h := newCtx()
	lid, _ := h.Allocate(value.List{Items: nil})
	_, err := CallMethod(ctx, value.Ref(lid), "frobnicate", nil)
	exc, ok := exception.Catchable(err)
	if !ok || exc.Kind != exception.AttributeError {
		t.Fatalf("unknown method = %v, want AttributeError", err)
	}
}

func TestExceptionConstructors(t *testing.T) {
	ctx, h := newCtx()
	v, err := Call(ctx, ExcValueError, []value.Value{str(t, h, "boom")}, nil)
	if err != nil {
		t.Fatal(err)
	}
	e := h.Get(v.Ref).(value.Exc)
	if e.E.Kind != exception.ValueError || e.E.Message != "boom" {
		t.Fatalf("ValueError('boom') = %+v", e.E)
	}
}

func TestLookupName(t *testing.T) {
	if k, ok := LookupName("len"); !ok || k != Len {
		t.Fatal("len should resolve")
	}
	if _, ok := LookupName("Path"); ok {
		t.Fatal("Path resolves through pathlib, not the global namespace")
	}
	if _, ok := LookupName("no_such_builtin"); ok {
		t.Fatal("unknown name should not resolve")
	}
}

func TestExcKindOf(t *testing.T) {
	k, ok := ExcKindOf(ExcStopIteration)
	if !ok || k != exception.StopIteration {
		t.Fatalf("ExcKindOf(StopIteration) = %v, %v", k, ok)
	}
	if _, ok := ExcKindOf(Len); ok {
		t.Fatal("len is not an exception type")
	}
}
