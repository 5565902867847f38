package value

import (
	"math"
	"math/big"

	"github.com/monty-lang/monty/internal/exception"
	"github.com/monty-lang/monty/internal/heap"
)

// normalizeBool promotes a Bool immediate to the equivalent Int, matching
// the reference language's Bool->Int promotion before any arithmetic.
func normalizeBool(v Value) Value {
	if v.Tag == TagBool {
		i := int64(0)
		if v.Bool {
			i = 1
		}
		return Int(i)
	}
	return v
}

func asLongInt(h *heap.Heap, v Value) (*big.Int, bool) {
	if v.Tag == TagInt {
		return big.NewInt(v.Int), true
	}
	if v.Tag == TagRef {
		if li, ok := h.Get(v.Ref).(LongInt); ok {
			return li.V, true
		}
	}
	return nil, false
}

// FloorDivMod implements // and % together with floor semantics:
// remainder takes the divisor's sign. a and b must already be Int.
func FloorDivMod(a, b int64) (quot, rem int64) {
	quot = a / b
	rem = a % b
	if rem != 0 && (rem < 0) != (b < 0) {
		quot--
		rem += b
	}
	return quot, rem
}

// FloorDivModBig mirrors FloorDivMod for arbitrary-precision operands:
// truncate with QuoRem, then adjust when the remainder's sign disagrees
// with the divisor's.
func FloorDivModBig(a, b *big.Int) (quot, rem *big.Int) {
	quot = new(big.Int)
	rem = new(big.Int)
	quot.QuoRem(a, b, rem)
	if rem.Sign() != 0 && (rem.Sign() < 0) != (b.Sign() < 0) {
		quot.Sub(quot, big.NewInt(1))
		rem.Add(rem, b)
	}
	return quot, rem
}

// FloorDivModFloat mirrors FloorDivMod for floats, using floor(x/y).
func FloorDivModFloat(a, b float64) (quot, rem float64) {
	quot = math.Floor(a / b)
	rem = a - quot*b
	return quot, rem
}

// BinOp is the closed set of dispatched binary arithmetic/comparison
// opcodes.
type BinOp int

const (
	OpAdd BinOp = iota
	OpSub
	OpMul
	OpFloorDiv
	OpMod
	OpTrueDiv
	OpPow
	OpLt
	OpLe
	OpGt
	OpGe
)

// Binary evaluates op on a and b. Sequence operands (str/list/tuple
// concatenation, repetition, lexicographic comparison) are tried first;
// numeric operands go through the Bool->Int->LongInt->Float promotion
// ladder, allocating LongInt/Float results on h as needed. The error arm
// is a catchable *exception.Exception for type mismatches and division by
// zero, or a terminal *exception.Resource from a failed allocation.
func Binary(h *heap.Heap, op BinOp, a, b Value) (Value, error) {
	if v, handled, err := seqBinary(h, op, a, b); handled {
		return v, err
	}

	a = normalizeBool(a)
	b = normalizeBool(b)

	if a.Tag == TagInt && b.Tag == TagInt {
		if v, ok, err := intBinary(h, op, a.Int, b.Int); err != nil {
			return Value{}, err
		} else if ok {
			return v, nil
		}
	}

	if op == OpAdd || op == OpSub || op == OpMul || op == OpFloorDiv || op == OpMod {
		if la, lok := asLongInt(h, a); lok {
			if lb, lok2 := asLongInt(h, b); lok2 {
				if op == OpFloorDiv || op == OpMod {
					if lb.Sign() == 0 {
						return Value{}, exception.New(exception.ZeroDivisionError, "integer division or modulo by zero")
					}
				}
				return longIntBinary(h, op, la, lb)
			}
		}
	}

	if fa, aok := asFloat(h, a); aok {
		if fb, bok := asFloat(h, b); bok {
			return floatBinary(h, op, fa, fb)
		}
	}

	return Value{}, exception.New(exception.TypeError,
		"unsupported operand type(s): %q and %q", a.TypeName(h), b.TypeName(h))
}

func intBinary(h *heap.Heap, op BinOp, a, b int64) (Value, bool, error) {
	switch op {
	case OpAdd:
		r := a + b
		if (b > 0 && r < a) || (b < 0 && r > a) {
			v, err := longIntBinary(h, op, big.NewInt(a), big.NewInt(b))
			return v, true, err
		}
		return Int(r), true, nil
	case OpSub:
		r := a - b
		if (b < 0 && r < a) || (b > 0 && r > a) {
			v, err := longIntBinary(h, op, big.NewInt(a), big.NewInt(b))
			return v, true, err
		}
		return Int(r), true, nil
	case OpMul:
		if a == 0 || b == 0 {
			return Int(0), true, nil
		}
		r := a * b
		if r/b != a {
			v, err := longIntBinary(h, op, big.NewInt(a), big.NewInt(b))
			return v, true, err
		}
		return Int(r), true, nil
	case OpFloorDiv, OpMod:
		if b == 0 {
			return Value{}, true, exception.New(exception.ZeroDivisionError, "integer division or modulo by zero")
		}
		q, r := FloorDivMod(a, b)
		if op == OpFloorDiv {
			return Int(q), true, nil
		}
		return Int(r), true, nil
	case OpTrueDiv:
		if b == 0 {
			return Value{}, true, exception.New(exception.ZeroDivisionError, "division by zero")
		}
		v, err := allocFloat(h, float64(a)/float64(b))
		return v, true, err
	case OpPow:
		v, err := intPow(h, a, b)
		return v, true, err
	case OpLt:
		return Bool(a < b), true, nil
	case OpLe:
		return Bool(a <= b), true, nil
	case OpGt:
		return Bool(a > b), true, nil
	case OpGe:
		return Bool(a >= b), true, nil
	}
	return Value{}, false, nil
}

// intPow uses repeated squaring; an overflow of any intermediate product
// promotes the whole computation to LongInt.
func intPow(h *heap.Heap, base, exp int64) (Value, error) {
	if exp < 0 {
		return allocFloat(h, math.Pow(float64(base), float64(exp)))
	}

	result := big.NewInt(1)
	b := big.NewInt(base)
	e := exp
	for e > 0 {
		if e&1 == 1 {
			result.Mul(result, b)
		}
		b.Mul(b, b)
		e >>= 1
	}
	if result.IsInt64() {
		return Int(result.Int64()), nil
	}
	id, rerr := h.Allocate(NewLongInt(result))
	if rerr != nil {
		return Value{}, rerr
	}
	return Ref(id), nil
}

func longIntBinary(h *heap.Heap, op BinOp, a, b *big.Int) (Value, error) {
	r := new(big.Int)
	switch op {
	case OpAdd:
		r.Add(a, b)
	case OpSub:
		r.Sub(a, b)
	case OpMul:
		r.Mul(a, b)
	case OpFloorDiv:
		q, _ := FloorDivModBig(a, b)
		r = q
	case OpMod:
		_, m := FloorDivModBig(a, b)
		r = m
	default:
		r.Set(a)
	}

	if r.IsInt64() {
		return Int(r.Int64()), nil
	}
	id, rerr := h.Allocate(NewLongInt(r))
	if rerr != nil {
		return Value{}, rerr
	}
	return Ref(id), nil
}

func floatBinary(h *heap.Heap, op BinOp, a, b float64) (Value, error) {
	switch op {
	case OpAdd:
		return allocFloat(h, a+b)
	case OpSub:
		return allocFloat(h, a-b)
	case OpMul:
		return allocFloat(h, a*b)
	case OpTrueDiv:
		if b == 0 {
			return Value{}, exception.New(exception.ZeroDivisionError, "float division by zero")
		}
		return allocFloat(h, a/b)
	case OpFloorDiv:
		if b == 0 {
			return Value{}, exception.New(exception.ZeroDivisionError, "float floor division by zero")
		}
		q, _ := FloorDivModFloat(a, b)
		return allocFloat(h, q)
	case OpMod:
		if b == 0 {
			return Value{}, exception.New(exception.ZeroDivisionError, "float modulo")
		}
		_, r := FloorDivModFloat(a, b)
		return allocFloat(h, r)
	case OpPow:
		return allocFloat(h, math.Pow(a, b))
	case OpLt:
		return Bool(a < b), nil
	case OpLe:
		return Bool(a <= b), nil
	case OpGt:
		return Bool(a > b), nil
	case OpGe:
		return Bool(a >= b), nil
	}
	return Value{}, exception.New(exception.TypeError, "unsupported float operation")
}

func allocFloat(h *heap.Heap, f float64) (Value, error) {
	id, rerr := h.Allocate(Float{F: f})
	if rerr != nil {
		return Value{}, rerr
	}
	return Ref(id), nil
}
