package value

import (
	"math"
	"math/big"
	"testing"
)

func TestFloorDivModProperties(t *testing.T) {
	pairs := [][2]int64{
		{7, 3}, {-7, 3}, {7, -3}, {-7, -3},
		{0, 5}, {1, 1}, {-1, 1}, {100, 7}, {-100, 7},
		{math.MaxInt64, 2}, {math.MinInt64 + 1, 3},
	}
	for _, p := range pairs {
		a, b := p[0], p[1]
		q, r := FloorDivMod(a, b)
		if q*b+r != a {
			t.Fatalf("divmod(%d, %d): q*b+r = %d, want %d", a, b, q*b+r, a)
		}
		if r != 0 && (r < 0) != (b < 0) {
			t.Fatalf("divmod(%d, %d): remainder %d disagrees with divisor sign", a, b, r)
		}
		if abs64(r) >= abs64(b) {
			t.Fatalf("divmod(%d, %d): |r| = %d not < |b|", a, b, abs64(r))
		}
	}
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func TestFloorDivModCases(t *testing.T) {
	q, r := FloorDivMod(-7, 3)
	if q != -3 || r != 2 {
		t.Fatalf("divmod(-7, 3) = (%d, %d), want (-3, 2)", q, r)
	}
	q, r = FloorDivMod(7, -3)
	if q != -3 || r != -2 {
		t.Fatalf("divmod(7, -3) = (%d, %d), want (-3, -2)", q, r)
	}
}

func TestFloorDivModBigMatchesSmall(t *testing.T) {
	for _, p := range [][2]int64{{-7, 3}, {7, -3}, {100, 7}, {-100, -7}} {
		wantQ, wantR := FloorDivMod(p[0], p[1])
		q, r := FloorDivModBig(big.NewInt(p[0]), big.NewInt(p[1]))
		if q.Int64() != wantQ || r.Int64() != wantR {
			t.Fatalf("big divmod(%d, %d) = (%s, %s), want (%d, %d)",
				p[0], p[1], q, r, wantQ, wantR)
		}
	}
}

func TestBinaryIntOverflowPromotes(t *testing.T) {
	h := newHeap()
	v, err := Binary(h, OpAdd, Int(math.MaxInt64), Int(1))
	if err != nil {
		t.Fatalf("overflowing add: %v", err)
	}
	if v.Tag != TagRef {
		t.Fatalf("overflowing add should promote to a heap LongInt, got tag %d", v.Tag)
	}
	li, ok := h.Get(v.Ref).(LongInt)
	if !ok {
		t.Fatalf("promoted value is not a LongInt")
	}
	want := new(big.Int).Add(big.NewInt(math.MaxInt64), big.NewInt(1))
	if li.V.Cmp(want) != 0 {
		t.Fatalf("promoted value = %s, want %s", li.V, want)
	}
}

func TestBinaryBoolPromotion(t *testing.T) {
	h := newHeap()
	v, err := Binary(h, OpAdd, Bool(true), Int(2))
	if err != nil || v.Tag != TagInt || v.Int != 3 {
		t.Fatalf("True + 2 = %+v, %v; want Int 3", v, err)
	}
}

func TestBinaryMixedIntFloat(t *testing.T) {
	h := newHeap()
	fid, _ := h.Allocate(Float{F: 0.5})
	v, err := Binary(h, OpAdd, Int(1), Ref(fid))
	if err != nil {
		t.Fatalf("1 + 0.5: %v", err)
	}
	f, ok := h.Get(v.Ref).(Float)
	if !ok || f.F != 1.5 {
		t.Fatalf("1 + 0.5 = %+v, want Float 1.5", f)
	}
}

func TestBinaryDivideByZero(t *testing.T) {
	h := newHeap()
	for _, op := range []BinOp{OpFloorDiv, OpMod, OpTrueDiv} {
		if _, err := Binary(h, op, Int(1), Int(0)); err == nil {
			t.Fatalf("op %d by zero should raise", op)
		}
	}
}

func TestBinaryStringConcat(t *testing.T) {
	h := newHeap()
	a, _ := h.Allocate(Str{S: "foo"})
	b, _ := h.Allocate(Str{S: "bar"})
	v, err := Binary(h, OpAdd, Ref(a), Ref(b))
	if err != nil {
		t.Fatalf("str + str: %v", err)
	}
	if got := h.Get(v.Ref).(Str).S; got != "foobar" {
		t.Fatalf("concat = %q", got)
	}
}

func TestBinaryStringRepeat(t *testing.T) {
	h := newHeap()
	a, _ := h.Allocate(Str{S: "ab"})
	v, err := Binary(h, OpMul, Ref(a), Int(3))
	if err != nil {
		t.Fatalf("str * int: %v", err)
	}
	if got := h.Get(v.Ref).(Str).S; got != "ababab" {
		t.Fatalf("repeat = %q", got)
	}
}

func TestBinaryListConcatRefcounts(t *testing.T) {
	h := newHeap()
	elem, _ := h.Allocate(Str{S: "x"})
	la, _ := h.Allocate(List{Items: []Value{Ref(elem)}})
	lb, _ := h.Allocate(List{Items: nil})

	v, err := Binary(h, OpAdd, Ref(la), Ref(lb))
	if err != nil {
		t.Fatalf("list + list: %v", err)
	}
	out := h.Get(v.Ref).(List)
	if len(out.Items) != 1 {
		t.Fatalf("concat length = %d", len(out.Items))
	}

	// Dropping the operands must leave the result's element alive.
	h.DecRef(la)
	h.DecRef(lb)
	if got := h.Get(elem).(Str).S; got != "x" {
		t.Fatalf("element freed too early")
	}
	h.DecRef(v.Ref)
	if h.LiveCount() != 0 {
		t.Fatalf("leak: %d live slots", h.LiveCount())
	}
}

func TestIntPowSquaring(t *testing.T) {
	h := newHeap()
	v, err := Binary(h, OpPow, Int(2), Int(10))
	if err != nil || v.Tag != TagInt || v.Int != 1024 {
		t.Fatalf("2**10 = %+v, %v", v, err)
	}

	v, err = Binary(h, OpPow, Int(2), Int(100))
	if err != nil {
		t.Fatalf("2**100: %v", err)
	}
	li := h.Get(v.Ref).(LongInt)
	want := new(big.Int).Lsh(big.NewInt(1), 100)
	if li.V.Cmp(want) != 0 {
		t.Fatalf("2**100 = %s", li.V)
	}
}

func TestUnaryOps(t *testing.T) {
	h := newHeap()
	if v, _ := Unary(h, OpNeg, Int(5)); v.Int != -5 {
		t.Fatalf("-5 = %+v", v)
	}
	if v, _ := Unary(h, OpInvert, Int(0)); v.Int != -1 {
		t.Fatalf("~0 = %+v", v)
	}
	if v, _ := Unary(h, OpNot, Int(0)); !(v.Tag == TagBool && v.Bool) {
		t.Fatalf("not 0 = %+v", v)
	}
}

func TestBitwiseShiftPromotes(t *testing.T) {
	h := newHeap()
	v, err := Bitwise(h, OpLShift, Int(1), Int(70))
	if err != nil {
		t.Fatalf("1 << 70: %v", err)
	}
	li := h.Get(v.Ref).(LongInt)
	want := new(big.Int).Lsh(big.NewInt(1), 70)
	if li.V.Cmp(want) != 0 {
		t.Fatalf("1 << 70 = %s", li.V)
	}
}

func TestContains(t *testing.T) {
	h := newHeap()
	lst, _ := h.Allocate(List{Items: []Value{Int(1), Int(2)}})
	found, exc := Contains(h, Ref(lst), Int(2))
	if exc != nil || !found {
		t.Fatalf("2 in [1,2] = %v, %v", found, exc)
	}
	found, _ = Contains(h, Ref(lst), Int(3))
	if found {
		t.Fatal("3 in [1,2] should be false")
	}

	rng, _ := h.Allocate(Range{Start: 0, Stop: 10, Step: 2})
	if found, _ := Contains(h, Ref(rng), Int(4)); !found {
		t.Fatal("4 in range(0,10,2) should be true")
	}
	if found, _ := Contains(h, Ref(rng), Int(5)); found {
		t.Fatal("5 in range(0,10,2) should be false")
	}
}
