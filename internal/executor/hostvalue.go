package executor

import (
	"fmt"

	"github.com/monty-lang/monty/internal/exception"
	"github.com/monty-lang/monty/internal/heap"
	"github.com/monty-lang/monty/internal/intern"
	"github.com/monty-lang/monty/internal/value"
)

// HostKind tags a HostValue.
type HostKind uint8

const (
	HostNone HostKind = iota
	HostBool
	HostInt
	HostFloat
	HostString
	HostList
	HostTuple
	HostDict
)

// HostValue is the host-side value sum: what the embedder passes in as
// inputs and receives back as results and external-call arguments.
type HostValue struct {
	Kind  HostKind
	Bool  bool
	Int   int64
	Float float64
	Str   string
	Items []HostValue
	Pairs []HostPair
}

// HostPair is one dict entry (or external-call keyword argument).
type HostPair struct {
	Key HostValue
	Val HostValue
}

func None() HostValue                    { return HostValue{Kind: HostNone} }
func Bool(b bool) HostValue              { return HostValue{Kind: HostBool, Bool: b} }
func Int(i int64) HostValue              { return HostValue{Kind: HostInt, Int: i} }
func Float(f float64) HostValue          { return HostValue{Kind: HostFloat, Float: f} }
func String(s string) HostValue          { return HostValue{Kind: HostString, Str: s} }
func List(items ...HostValue) HostValue  { return HostValue{Kind: HostList, Items: items} }
func Tuple(items ...HostValue) HostValue { return HostValue{Kind: HostTuple, Items: items} }
func Dict(pairs ...HostPair) HostValue   { return HostValue{Kind: HostDict, Pairs: pairs} }

// Equal reports deep equality between host values. Dicts compare as
// ordered pair lists, matching the runtime's insertion-ordered dicts.
func (hv HostValue) Equal(other HostValue) bool {
	if hv.Kind != other.Kind {
		return false
	}
	switch hv.Kind {
	case HostNone:
		return true
	case HostBool:
		return hv.Bool == other.Bool
	case HostInt:
		return hv.Int == other.Int
	case HostFloat:
		return hv.Float == other.Float
	case HostString:
		return hv.Str == other.Str
	case HostList, HostTuple:
		if len(hv.Items) != len(other.Items) {
			return false
		}
		for i := range hv.Items {
			if !hv.Items[i].Equal(other.Items[i]) {
				return false
			}
		}
		return true
	case HostDict:
		if len(hv.Pairs) != len(other.Pairs) {
			return false
		}
		for i := range hv.Pairs {
			if !hv.Pairs[i].Key.Equal(other.Pairs[i].Key) || !hv.Pairs[i].Val.Equal(other.Pairs[i].Val) {
				return false
			}
		}
		return true
	}
	return false
}

// String renders a host value for logs and the CLI.
func (hv HostValue) String() string {
	switch hv.Kind {
	case HostNone:
		return "None"
	case HostBool:
		if hv.Bool {
			return "True"
		}
		return "False"
	case HostInt:
		return fmt.Sprintf("%d", hv.Int)
	case HostFloat:
		return fmt.Sprintf("%g", hv.Float)
	case HostString:
		return hv.Str
	case HostList, HostTuple:
		open, close := "[", "]"
		if hv.Kind == HostTuple {
			open, close = "(", ")"
		}
		out := open
		for i, item := range hv.Items {
			if i > 0 {
				out += ", "
			}
			out += item.reprString()
		}
		return out + close
	case HostDict:
		out := "{"
		for i, p := range hv.Pairs {
			if i > 0 {
				out += ", "
			}
			out += p.Key.reprString() + ": " + p.Val.reprString()
		}
		return out + "}"
	}
	return "<?>"
}

func (hv HostValue) reprString() string {
	if hv.Kind == HostString {
		return fmt.Sprintf("%q", hv.Str)
	}
	return hv.String()
}

// toValue copies a host value onto the heap, returning an owned runtime
// value (refcount one per aggregate).
func toValue(h *heap.Heap, hv HostValue) (value.Value, error) {
	switch hv.Kind {
	case HostNone:
		return value.None(), nil
	case HostBool:
		return value.Bool(hv.Bool), nil
	case HostInt:
		return value.Int(hv.Int), nil
	case HostFloat:
		id, rerr := h.Allocate(value.Float{F: hv.Float})
		if rerr != nil {
			return value.Value{}, rerr
		}
		return value.Ref(id), nil
	case HostString:
		id, rerr := h.Allocate(value.Str{S: hv.Str})
		if rerr != nil {
			return value.Value{}, rerr
		}
		return value.Ref(id), nil
	case HostList, HostTuple:
		items := make([]value.Value, 0, len(hv.Items))
		rollback := func() {
			for _, v := range items {
				if v.Tag == value.TagRef {
					h.DecRef(v.Ref)
				}
			}
		}
		for _, item := range hv.Items {
			v, err := toValue(h, item)
			if err != nil {
				rollback()
				return value.Value{}, err
			}
			items = append(items, v)
		}
		var data heap.Data = value.List{Items: items}
		if hv.Kind == HostTuple {
			data = value.Tuple{Items: items}
		}
		id, rerr := h.Allocate(data)
		if rerr != nil {
			rollback()
			return value.Value{}, rerr
		}
		return value.Ref(id), nil
	case HostDict:
		d := value.NewDict()
		rollback := func() {
			for _, e := range d.Entries {
				if e.Key.Tag == value.TagRef {
					h.DecRef(e.Key.Ref)
				}
				if e.Val.Tag == value.TagRef {
					h.DecRef(e.Val.Ref)
				}
			}
		}
		for _, p := range hv.Pairs {
			k, err := toValue(h, p.Key)
			if err != nil {
				rollback()
				return value.Value{}, err
			}
			v, err := toValue(h, p.Val)
			if err != nil {
				if k.Tag == value.TagRef {
					h.DecRef(k.Ref)
				}
				rollback()
				return value.Value{}, err
			}
			d.Put(h, k, v)
		}
		id, rerr := h.Allocate(*d)
		if rerr != nil {
			rollback()
			return value.Value{}, rerr
		}
		return value.Ref(id), nil
	}
	return value.Value{}, exception.New(exception.TypeError, "invalid input type")
}

// fromValue converts a runtime value back to a host value without
// consuming the caller's refcount share.
func fromValue(h *heap.Heap, interns *intern.Table, v value.Value) HostValue {
	switch v.Tag {
	case value.TagNone, value.TagUndefined:
		return None()
	case value.TagBool:
		return Bool(v.Bool)
	case value.TagInt:
		return Int(v.Int)
	case value.TagInternString:
		return String(interns.MustLookup(v.Str))
	case value.TagBuiltin, value.TagDefFunction, value.TagExtFunction:
		return String(value.Repr(h, interns, v))
	case value.TagRef:
		switch d := h.Get(v.Ref).(type) {
		case value.Str:
			return String(d.S)
		case value.Float:
			return Float(d.F)
		case value.LongInt:
			if d.V.IsInt64() {
				return Int(d.V.Int64())
			}
			return String(d.V.String())
		case value.List:
			return convertItems(h, interns, d.Items, HostList)
		case value.Tuple:
			return convertItems(h, interns, d.Items, HostTuple)
		case value.NamedTuple:
			return convertItems(h, interns, d.Items, HostTuple)
		case value.Set:
			return convertItems(h, interns, d.Items, HostList)
		case value.Dict:
			out := HostValue{Kind: HostDict}
			for _, e := range d.Entries {
				if e.Key.Tag == value.TagUndefined {
					continue
				}
				out.Pairs = append(out.Pairs, HostPair{
					Key: fromValue(h, interns, e.Key),
					Val: fromValue(h, interns, e.Val),
				})
			}
			return out
		case value.Range:
			out := HostValue{Kind: HostList}
			for i := int64(0); i < d.Len(); i++ {
				out.Items = append(out.Items, Int(d.Start+i*d.Step))
			}
			return out
		case value.Path:
			return String(d.S)
		default:
			return String(value.Repr(h, interns, v))
		}
	}
	return None()
}

func convertItems(h *heap.Heap, interns *intern.Table, items []value.Value, kind HostKind) HostValue {
	out := HostValue{Kind: kind}
	for _, item := range items {
		out.Items = append(out.Items, fromValue(h, interns, item))
	}
	return out
}
