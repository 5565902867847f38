// Package builtins implements the native functions and type constructors
// the language exposes by name, plus the method dispatch for the built-in
// container and string types. Every builtin has the uniform signature
// (context, args, kwargs) and releases its arguments' refcount shares on
// every exit path.
package builtins

import (
	"github.com/monty-lang/monty/internal/exception"
	"github.com/monty-lang/monty/internal/value"
)

// The sealed enumeration of builtin kinds. The dispatch table in Call is
// indexed by these.
const (
	Print value.BuiltinKind = iota
	Len
	Abs
	Range
	Filter
	All
	Any
	Sorted
	Zip
	Sum
	Min
	Max
	Bin
	Hex
	Oct
	Ord
	Chr
	Str
	Repr
	Int
	Float
	Bool
	List
	Tuple
	Dict
	Set
	Type
	Iter
	Next
	Divmod
	Hasattr
	PathType

	// Exception type constructors; kept contiguous so ExcKindOf can
	// translate by offset.
	ExcTypeError
	ExcValueError
	ExcKeyError
	ExcIndexError
	ExcAttributeError
	ExcNameError
	ExcZeroDivisionError
	ExcStopIteration
	ExcNotImplementedError
	ExcSyntaxError
)

var names = map[value.BuiltinKind]string{
	Print: "print", Len: "len", Abs: "abs", Range: "range", Filter: "filter",
	All: "all", Any: "any", Sorted: "sorted", Zip: "zip", Sum: "sum",
	Min: "min", Max: "max", Bin: "bin", Hex: "hex", Oct: "oct",
	Ord: "ord", Chr: "chr", Str: "str", Repr: "repr", Int: "int",
	Float: "float", Bool: "bool", List: "list", Tuple: "tuple",
	Dict: "dict", Set: "set", Type: "type", Iter: "iter", Next: "next",
	Divmod: "divmod", Hasattr: "hasattr", PathType: "Path",
	ExcTypeError: "TypeError", ExcValueError: "ValueError",
	ExcKeyError: "KeyError", ExcIndexError: "IndexError",
	ExcAttributeError: "AttributeError", ExcNameError: "NameError",
	ExcZeroDivisionError: "ZeroDivisionError", ExcStopIteration: "StopIteration",
	ExcNotImplementedError: "NotImplementedError", ExcSyntaxError: "SyntaxError",
}

var byName map[string]value.BuiltinKind

func init() {
	byName = make(map[string]value.BuiltinKind, len(names))
	for k, n := range names {
		if k == PathType {
			// Path resolves through the pathlib module, not the global
			// builtin namespace.
			continue
		}
		byName[n] = k
	}
}

// Name returns the language-visible name of a builtin kind.
func Name(kind value.BuiltinKind) string {
	if n, ok := names[kind]; ok {
		return n
	}
	return "<builtin>"
}

// LookupName resolves a global identifier to its builtin kind, used by
// the preparer when a name has no binding in any enclosing scope.
func LookupName(name string) (value.BuiltinKind, bool) {
	k, ok := byName[name]
	return k, ok
}

// ExcKindOf translates an exception-constructor builtin into its
// exception kind, for CHECK_EXC_MATCH and raise-by-type.
func ExcKindOf(kind value.BuiltinKind) (exception.Kind, bool) {
	if kind >= ExcTypeError && kind <= ExcSyntaxError {
		return exception.Kind(kind - ExcTypeError), true
	}
	return 0, false
}
