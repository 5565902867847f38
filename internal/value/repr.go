package value

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/monty-lang/monty/internal/heap"
	"github.com/monty-lang/monty/internal/intern"
)

// Repr renders v the way Python's repr() would: strings quoted, floats
// with at least one decimal, containers recursively reprd.
func Repr(h *heap.Heap, interns *intern.Table, v Value) string {
	switch v.Tag {
	case TagNone:
		return "None"
	case TagUndefined:
		return "<undefined>"
	case TagBool:
		if v.Bool {
			return "True"
		}
		return "False"
	case TagInt:
		return strconv.FormatInt(v.Int, 10)
	case TagInternString:
		return strconv.Quote(interns.MustLookup(v.Str))
	case TagBuiltin:
		return "<built-in function>"
	case TagDefFunction, TagExtFunction:
		return "<function>"
	case TagRef:
		return reprHeap(h, interns, v.Ref)
	default:
		return "<?>"
	}
}

// ToStr renders v the way Python's str() would, which differs from Repr
// for strings (no surrounding quotes), paths (the bare path text) and
// exceptions (the message alone).
func ToStr(h *heap.Heap, interns *intern.Table, v Value) string {
	if v.Tag == TagInternString {
		return interns.MustLookup(v.Str)
	}
	if v.Tag == TagRef {
		switch d := h.Get(v.Ref).(type) {
		case Str:
			return d.S
		case Path:
			return d.S
		case Exc:
			return d.E.Message
		}
	}
	return Repr(h, interns, v)
}

func reprHeap(h *heap.Heap, interns *intern.Table, id heap.ID) string {
	switch d := h.Get(id).(type) {
	case Str:
		return strconv.Quote(d.S)
	case Float:
		s := strconv.FormatFloat(d.F, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return s
	case LongInt:
		return d.V.String()
	case Tuple:
		return wrapItems(h, interns, "(", d.Items, ")", len(d.Items) == 1)
	case NamedTuple:
		return wrapItems(h, interns, "(", d.Items, ")", false)
	case List:
		return wrapItems(h, interns, "[", d.Items, "]", false)
	case Dict:
		var parts []string
		for _, e := range d.Entries {
			if e.Key.Tag == TagUndefined {
				continue
			}
			parts = append(parts, fmt.Sprintf("%s: %s", Repr(h, interns, e.Key), Repr(h, interns, e.Val)))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case Set:
		if len(d.Items) == 0 {
			return "set()"
		}
		return wrapItems(h, interns, "{", d.Items, "}", false)
	case Range:
		if d.Step == 1 {
			return fmt.Sprintf("range(%d, %d)", d.Start, d.Stop)
		}
		return fmt.Sprintf("range(%d, %d, %d)", d.Start, d.Stop, d.Step)
	case Module:
		return fmt.Sprintf("<module %q>", interns.MustLookup(d.Name))
	case Closure:
		return "<function>"
	case FunctionDefaults:
		return wrapItems(h, interns, "(", d.Values, ")", false)
	case Exc:
		return fmt.Sprintf("%s(%q)", d.E.Kind, d.E.Message)
	case Marker:
		if interns != nil {
			return fmt.Sprintf("typing.%s", interns.MustLookup(d.Name))
		}
		return "<marker>"
	case Path:
		return fmt.Sprintf("PosixPath(%q)", d.S)
	case Iterator:
		return "<iterator>"
	default:
		return "<object>"
	}
}

func wrapItems(h *heap.Heap, interns *intern.Table, open string, items []Value, close string, trailingComma bool) string {
	parts := make([]string, len(items))
	for i, v := range items {
		parts[i] = Repr(h, interns, v)
	}
	joined := strings.Join(parts, ", ")
	if trailingComma {
		joined += ","
	}
	return open + joined + close
}

// Truthy implements bool(v): the closed set of falsy values is None,
// False, zero numbers, and empty containers.
func Truthy(h *heap.Heap, v Value) bool {
	switch v.Tag {
	case TagNone, TagUndefined:
		return false
	case TagBool:
		return v.Bool
	case TagInt:
		return v.Int != 0
	case TagInternString:
		return true
	case TagBuiltin, TagDefFunction, TagExtFunction:
		return true
	case TagRef:
		switch d := h.Get(v.Ref).(type) {
		case Str:
			return d.S != ""
		case Float:
			return d.F != 0
		case LongInt:
			return d.V.Sign() != 0
		case Tuple:
			return len(d.Items) > 0
		case List:
			return len(d.Items) > 0
		case Dict:
			return d.Len() > 0
		case Set:
			return len(d.Items) > 0
		case Range:
			return d.Len() > 0
		default:
			return true
		}
	default:
		return false
	}
}

// Len implements len(v) for every container type; the caller is
// responsible for raising TypeError when ok is false.
func Len(h *heap.Heap, v Value) (int64, bool) {
	if v.Tag == TagInternString {
		// interned identifiers are not user-visible strings subject to
		// len(); runtime string values always live on the heap as Str.
		return 0, false
	}
	if v.Tag != TagRef {
		return 0, false
	}
	switch d := h.Get(v.Ref).(type) {
	case Str:
		return int64(len([]rune(d.S))), true
	case Tuple:
		return int64(len(d.Items)), true
	case NamedTuple:
		return int64(len(d.Items)), true
	case List:
		return int64(len(d.Items)), true
	case Dict:
		return int64(d.Len()), true
	case Set:
		return int64(len(d.Items)), true
	case Range:
		return d.Len(), true
	default:
		return 0, false
	}
}
