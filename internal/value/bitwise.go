package value

import (
	"math"
	"math/big"

	"github.com/monty-lang/monty/internal/exception"
	"github.com/monty-lang/monty/internal/heap"
)

// BitOp is the closed set of bitwise binary opcodes.
type BitOp int

const (
	OpAnd BitOp = iota
	OpOr
	OpXor
	OpLShift
	OpRShift
	OpMatMul
)

// Bitwise evaluates a bitwise op on a and b. Operands must be integers
// (bools promote); BINARY_MAT_MUL has no defined operand types in this
// runtime and always raises TypeError.
func Bitwise(h *heap.Heap, op BitOp, a, b Value) (Value, error) {
	if op == OpMatMul {
		return Value{}, exception.New(exception.TypeError,
			"unsupported operand type(s) for @: %q and %q", a.TypeName(h), b.TypeName(h))
	}

	a = normalizeBool(a)
	b = normalizeBool(b)

	// set & / | / ^ follow the reference language's set algebra.
	if a.Tag == TagRef && b.Tag == TagRef {
		if sa, ok := h.Get(a.Ref).(Set); ok {
			if sb, ok2 := h.Get(b.Ref).(Set); ok2 {
				return setAlgebra(h, op, sa, sb)
			}
		}
	}

	if a.Tag == TagInt && b.Tag == TagInt {
		switch op {
		case OpAnd:
			return Int(a.Int & b.Int), nil
		case OpOr:
			return Int(a.Int | b.Int), nil
		case OpXor:
			return Int(a.Int ^ b.Int), nil
		case OpLShift:
			if b.Int < 0 {
				return Value{}, exception.New(exception.ValueError, "negative shift count")
			}
			if b.Int < 63 {
				r := a.Int << uint(b.Int)
				if r>>uint(b.Int) == a.Int {
					return Int(r), nil
				}
			}
			r := new(big.Int).Lsh(big.NewInt(a.Int), uint(b.Int))
			id, rerr := h.Allocate(NewLongInt(r))
			if rerr != nil {
				return Value{}, rerr
			}
			return Ref(id), nil
		case OpRShift:
			if b.Int < 0 {
				return Value{}, exception.New(exception.ValueError, "negative shift count")
			}
			if b.Int > 63 {
				if a.Int < 0 {
					return Int(-1), nil
				}
				return Int(0), nil
			}
			return Int(a.Int >> uint(b.Int)), nil
		}
	}

	if la, ok := asLongInt(h, a); ok {
		if lb, ok2 := asLongInt(h, b); ok2 {
			r := new(big.Int)
			switch op {
			case OpAnd:
				r.And(la, lb)
			case OpOr:
				r.Or(la, lb)
			case OpXor:
				r.Xor(la, lb)
			case OpLShift:
				if lb.Sign() < 0 {
					return Value{}, exception.New(exception.ValueError, "negative shift count")
				}
				r.Lsh(la, uint(lb.Uint64()))
			case OpRShift:
				if lb.Sign() < 0 {
					return Value{}, exception.New(exception.ValueError, "negative shift count")
				}
				r.Rsh(la, uint(lb.Uint64()))
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
	}

	return Value{}, exception.New(exception.TypeError,
		"unsupported operand type(s): %q and %q", a.TypeName(h), b.TypeName(h))
}

func setAlgebra(h *heap.Heap, op BitOp, a, b Set) (Value, error) {
	out := NewSet()
	switch op {
	case OpAnd:
		for _, v := range a.Items {
			if b.Contains(h, v) {
				addShared(h, out, v)
			}
		}
	case OpOr:
		for _, v := range a.Items {
			addShared(h, out, v)
		}
		for _, v := range b.Items {
			addShared(h, out, v)
		}
	case OpXor:
		for _, v := range a.Items {
			if !b.Contains(h, v) {
				addShared(h, out, v)
			}
		}
		for _, v := range b.Items {
			if !a.Contains(h, v) {
				addShared(h, out, v)
			}
		}
	default:
		return Value{}, exception.New(exception.TypeError, "unsupported operand type(s) for set")
	}
	id, rerr := h.Allocate(*out)
	if rerr != nil {
		for _, v := range out.Items {
			if v.Tag == TagRef {
				h.DecRef(v.Ref)
			}
		}
		return Value{}, rerr
	}
	return Ref(id), nil
}

func addShared(h *heap.Heap, s *Set, v Value) {
	if s.Add(h, v) && v.Tag == TagRef {
		h.IncRef(v.Ref)
	}
}

// UnaryOp is the closed set of unary opcodes.
type UnaryOp int

const (
	OpNot UnaryOp = iota
	OpNeg
	OpPos
	OpInvert
)

// Unary evaluates a unary op on v, allocating on h only for LongInt/Float
// results.
func Unary(h *heap.Heap, op UnaryOp, v Value) (Value, error) {
	if op == OpNot {
		return Bool(!Truthy(h, v)), nil
	}

	n := normalizeBool(v)
	switch n.Tag {
	case TagInt:
		switch op {
		case OpNeg:
			if n.Int == math.MinInt64 {
				r := new(big.Int).Neg(big.NewInt(n.Int))
				id, rerr := h.Allocate(NewLongInt(r))
				if rerr != nil {
					return Value{}, rerr
				}
				return Ref(id), nil
			}
			return Int(-n.Int), nil
		case OpPos:
			return Int(n.Int), nil
		case OpInvert:
			return Int(^n.Int), nil
		}
	case TagRef:
		switch d := h.Get(n.Ref).(type) {
		case Float:
			switch op {
			case OpNeg:
				return allocFloat(h, -d.F)
			case OpPos:
				return allocFloat(h, d.F)
			}
		case LongInt:
			r := new(big.Int)
			switch op {
			case OpNeg:
				r.Neg(d.V)
			case OpPos:
				r.Set(d.V)
			case OpInvert:
				r.Not(d.V)
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
	}

	return Value{}, exception.New(exception.TypeError,
		"bad operand type for unary operator: %q", v.TypeName(h))
}
