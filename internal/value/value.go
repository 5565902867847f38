// Package value implements the runtime's tagged Value union and the
// heap-resident data variants a Ref may point to, plus the type-pair
// dispatch tables for arithmetic, comparison, and container operations.
package value

import (
	"github.com/monty-lang/monty/internal/heap"
	"github.com/monty-lang/monty/internal/intern"
)

// Tag discriminates the immediate/reference union held by Value.
type Tag uint8

const (
	TagNone Tag = iota
	TagUndefined
	TagBool
	TagInt
	TagInternString
	TagBuiltin
	TagDefFunction
	TagExtFunction
	TagRef
)

// BuiltinKind is the sealed enumeration of native builtin functions and
// types a Builtin value may reference.
type BuiltinKind uint16

// Value is the tagged union held on the VM value stack and in namespace
// slots. Only TagRef contributes a heap refcount; every other tag is a
// self-contained immediate.
type Value struct {
	Tag Tag

	// Payload fields; only the one matching Tag is meaningful.
	Bool   bool
	Int    int64
	Str    intern.StringID
	Ref    heap.ID
	Ext    ExtFuncID
	Def    DefFuncID
	Native BuiltinKind
}

// DefFuncID identifies a user-defined function by its index in the
// program's function table.
type DefFuncID uint32

// ExtFuncID identifies a host-provided external function by its index in
// the program's external-function table.
type ExtFuncID uint32

// None, Undefined and the two Bool singletons are the immediates built
// without any payload, exposed as constructors for readability at call
// sites rather than raw struct literals scattered through internal/vm.

func None() Value      { return Value{Tag: TagNone} }
func Undefined() Value { return Value{Tag: TagUndefined} }
func Bool(b bool) Value {
	return Value{Tag: TagBool, Bool: b}
}
func Int(i int64) Value { return Value{Tag: TagInt, Int: i} }
func InternString(id intern.StringID) Value {
	return Value{Tag: TagInternString, Str: id}
}
func Builtin(kind BuiltinKind) Value { return Value{Tag: TagBuiltin, Native: kind} }
func DefFunction(id DefFuncID) Value { return Value{Tag: TagDefFunction, Def: id} }
func ExtFunction(id ExtFuncID) Value { return Value{Tag: TagExtFunction, Ext: id} }
func Ref(id heap.ID) Value           { return Value{Tag: TagRef, Ref: id} }

// IsUndefined reports whether reading this slot should raise NameError.
func (v Value) IsUndefined() bool { return v.Tag == TagUndefined }

// TypeName returns the runtime type name used in TypeError messages and
// by the builtin type() function. Heap-resident tags defer to the heap
// to resolve the concrete HeapData variant's name.
func (v Value) TypeName(h *heap.Heap) string {
	switch v.Tag {
	case TagNone:
		return "NoneType"
	case TagBool:
		return "bool"
	case TagInt:
		return "int"
	case TagInternString:
		return "str"
	case TagBuiltin:
		return "builtin_function_or_method"
	case TagDefFunction, TagExtFunction:
		return "function"
	case TagRef:
		return h.Get(v.Ref).(interface{ TypeName() string }).TypeName()
	default:
		return "undefined"
	}
}
