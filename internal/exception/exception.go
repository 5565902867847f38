package exception

import (
	"fmt"

	"github.com/monty-lang/monty/internal/rterrors"
)

// Exception is a catchable runtime error — the only one of the three
// error families the static exception table may match against.
type Exception struct {
	Kind    Kind
	Message string
	// Cause holds the exception this one was raised from (RAISE_FROM),
	// or nil.
	Cause *Exception
}

func (e *Exception) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// New constructs an Exception of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Exception {
	return &Exception{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithCause returns a copy of e with Cause set, modeling RAISE_FROM.
func (e *Exception) WithCause(cause *Exception) *Exception {
	return &Exception{Kind: e.Kind, Message: e.Message, Cause: cause}
}

// ResourceKind distinguishes the three axes a Limited tracker enforces.
type ResourceKind int

const (
	AllocLimit ResourceKind = iota
	MemLimit
	TimeLimit
)

func (k ResourceKind) String() string {
	switch k {
	case AllocLimit:
		return "allocation limit exceeded"
	case MemLimit:
		return "memory limit exceeded"
	case TimeLimit:
		return "time limit exceeded"
	default:
		return "resource limit exceeded"
	}
}

// Resource is a terminal error raised by the resource tracker. It can
// never be caught by the static exception table: it unwinds every frame
// straight to the orchestrator.
type Resource struct {
	Kind ResourceKind
}

func (r *Resource) Error() string { return r.Kind.String() }

// NewResource constructs a terminal Resource error of the given kind.
func NewResource(kind ResourceKind) *Resource { return &Resource{Kind: kind} }

// Internal is a terminal error indicating a bug in the runtime itself
// (corrupt bytecode, stack discipline violation, freed heap access). Like
// Resource, it is never catchable in-language.
type Internal struct {
	Std *rterrors.StandardError
}

func (i *Internal) Error() string { return i.Std.Error() }

// NewInternal wraps a *rterrors.StandardError as a terminal Internal error.
func NewInternal(std *rterrors.StandardError) *Internal { return &Internal{Std: std} }

// Catchable reports whether err is an *Exception that the static
// exception table is allowed to match — Resource and Internal errors
// always return false here and must propagate to FrameExit.Error instead.
func Catchable(err error) (*Exception, bool) {
	exc, ok := err.(*Exception)
	return exc, ok
}
