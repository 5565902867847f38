package value

import (
	"strings"

	"github.com/monty-lang/monty/internal/exception"
	"github.com/monty-lang/monty/internal/heap"
)

func asStr(h *heap.Heap, v Value) (string, bool) {
	if v.Tag == TagRef {
		if s, ok := h.Get(v.Ref).(Str); ok {
			return s.S, true
		}
	}
	return "", false
}

// seqBinary handles the non-numeric arms of the binary dispatch table:
// concatenation, repetition, and lexicographic comparison of strings,
// lists, and tuples. handled is false when neither operand is a sequence
// the operation applies to, letting Binary fall through to the numeric
// promotion ladder.
func seqBinary(h *heap.Heap, op BinOp, a, b Value) (Value, bool, error) {
	if sa, ok := asStr(h, a); ok {
		if sb, ok2 := asStr(h, b); ok2 {
			switch op {
			case OpAdd:
				return allocStr(h, sa+sb)
			case OpLt:
				return Bool(sa < sb), true, nil
			case OpLe:
				return Bool(sa <= sb), true, nil
			case OpGt:
				return Bool(sa > sb), true, nil
			case OpGe:
				return Bool(sa >= sb), true, nil
			}
			return Value{}, true, exception.New(exception.TypeError,
				"unsupported operand type(s) for str and str")
		}
		if op == OpMul {
			if n, ok2 := asExactInt(h, normalizeBool(b)); ok2 {
				return allocStr(h, repeatStr(sa, n))
			}
		}
		if op == OpAdd {
			return Value{}, true, exception.New(exception.TypeError,
				"can only concatenate str (not %q) to str", b.TypeName(h))
		}
	}
	if op == OpMul {
		if sb, ok := asStr(h, b); ok {
			if n, ok2 := asExactInt(h, normalizeBool(a)); ok2 {
				return allocStr(h, repeatStr(sb, n))
			}
		}
	}

	if a.Tag == TagRef && b.Tag == TagRef && op == OpAdd {
		switch x := h.Get(a.Ref).(type) {
		case List:
			if y, ok := h.Get(b.Ref).(List); ok {
				items := concatItems(h, x.Items, y.Items)
				id, rerr := h.Allocate(List{Items: items})
				if rerr != nil {
					return Value{}, true, rerr
				}
				return Ref(id), true, nil
			}
			return Value{}, true, exception.New(exception.TypeError,
				"can only concatenate list (not %q) to list", b.TypeName(h))
		case Tuple:
			if y, ok := h.Get(b.Ref).(Tuple); ok {
				items := concatItems(h, x.Items, y.Items)
				id, rerr := h.Allocate(Tuple{Items: items})
				if rerr != nil {
					return Value{}, true, rerr
				}
				return Ref(id), true, nil
			}
		}
	}

	if op == OpMul {
		if seq, n, isList, ok := seqRepeatOperands(h, a, b); ok {
			items := repeatItems(h, seq, n)
			var data heap.Data = Tuple{Items: items}
			if isList {
				data = List{Items: items}
			}
			id, rerr := h.Allocate(data)
			if rerr != nil {
				return Value{}, true, rerr
			}
			return Ref(id), true, nil
		}
	}

	if op == OpLt || op == OpLe || op == OpGt || op == OpGe {
		if la, ok := seqItems(h, a); ok {
			if lb, ok2 := seqItems(h, b); ok2 {
				c := compareItems(h, la, lb)
				switch op {
				case OpLt:
					return Bool(c < 0), true, nil
				case OpLe:
					return Bool(c <= 0), true, nil
				case OpGt:
					return Bool(c > 0), true, nil
				default:
					return Bool(c >= 0), true, nil
				}
			}
		}
	}

	return Value{}, false, nil
}

func allocStr(h *heap.Heap, s string) (Value, bool, error) {
	id, rerr := h.Allocate(Str{S: s})
	if rerr != nil {
		return Value{}, true, rerr
	}
	return Ref(id), true, nil
}

func repeatStr(s string, n int64) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat(s, int(n))
}

// concatItems copies both item slices, bumping every Ref's count for the
// new container's shares.
func concatItems(h *heap.Heap, a, b []Value) []Value {
	out := make([]Value, 0, len(a)+len(b))
	for _, v := range a {
		if v.Tag == TagRef {
			h.IncRef(v.Ref)
		}
		out = append(out, v)
	}
	for _, v := range b {
		if v.Tag == TagRef {
			h.IncRef(v.Ref)
		}
		out = append(out, v)
	}
	return out
}

func seqRepeatOperands(h *heap.Heap, a, b Value) (items []Value, n int64, isList, ok bool) {
	try := func(seq, count Value) bool {
		c, cok := asExactInt(h, normalizeBool(count))
		if !cok || seq.Tag != TagRef {
			return false
		}
		switch d := h.Get(seq.Ref).(type) {
		case List:
			items, n, isList = d.Items, c, true
			return true
		case Tuple:
			items, n, isList = d.Items, c, false
			return true
		}
		return false
	}
	if try(a, b) || try(b, a) {
		return items, n, isList, true
	}
	return nil, 0, false, false
}

func repeatItems(h *heap.Heap, src []Value, n int64) []Value {
	if n <= 0 {
		return nil
	}
	out := make([]Value, 0, int(n)*len(src))
	for i := int64(0); i < n; i++ {
		for _, v := range src {
			if v.Tag == TagRef {
				h.IncRef(v.Ref)
			}
			out = append(out, v)
		}
	}
	return out
}

func seqItems(h *heap.Heap, v Value) ([]Value, bool) {
	if v.Tag != TagRef {
		return nil, false
	}
	switch d := h.Get(v.Ref).(type) {
	case List:
		return d.Items, true
	case Tuple:
		return d.Items, true
	}
	return nil, false
}

// compareItems orders two sequences lexicographically, returning -1, 0 or
// 1. Only numeric and string elements order; anything else compares equal
// when Eq says so and otherwise makes a compare greater than b.
func compareItems(h *heap.Heap, a, b []Value) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if Eq(h, a[i], b[i]) {
			continue
		}
		if fa, ok := asFloat(h, a[i]); ok {
			if fb, ok2 := asFloat(h, b[i]); ok2 {
				if fa < fb {
					return -1
				}
				return 1
			}
		}
		if sa, ok := asStr(h, a[i]); ok {
			if sb, ok2 := asStr(h, b[i]); ok2 {
				if sa < sb {
					return -1
				}
				return 1
			}
		}
		return 1
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// Contains implements the "in" comparison: dict membership checks keys,
// str membership checks substrings, everything else scans items with Eq.
func Contains(h *heap.Heap, container, item Value) (bool, *exception.Exception) {
	if s, ok := asStr(h, container); ok {
		sub, ok2 := asStr(h, item)
		if !ok2 {
			return false, exception.New(exception.TypeError,
				"'in <string>' requires string as left operand, not %s", item.TypeName(h))
		}
		return strings.Contains(s, sub), nil
	}
	if container.Tag != TagRef {
		return false, exception.New(exception.TypeError,
			"argument of type %q is not iterable", container.TypeName(h))
	}
	switch d := h.Get(container.Ref).(type) {
	case List:
		return scanEq(h, d.Items, item), nil
	case Tuple:
		return scanEq(h, d.Items, item), nil
	case NamedTuple:
		return scanEq(h, d.Items, item), nil
	case Set:
		return d.Contains(h, item), nil
	case Dict:
		_, found := d.Get(h, item)
		return found, nil
	case Range:
		i, ok := asExactInt(h, normalizeBool(item))
		if !ok {
			return false, nil
		}
		if d.Step > 0 {
			return i >= d.Start && i < d.Stop && (i-d.Start)%d.Step == 0, nil
		}
		if d.Step < 0 {
			return i <= d.Start && i > d.Stop && (d.Start-i)%(-d.Step) == 0, nil
		}
		return false, nil
	default:
		return false, exception.New(exception.TypeError,
			"argument of type %q is not iterable", container.TypeName(h))
	}
}

func scanEq(h *heap.Heap, items []Value, item Value) bool {
	for _, v := range items {
		if Eq(h, v, item) {
			return true
		}
	}
	return false
}
