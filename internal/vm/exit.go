package vm

import (
	"github.com/monty-lang/monty/internal/frame"
	"github.com/monty-lang/monty/internal/value"
)

// ExitKind discriminates why the dispatch loop stopped.
type ExitKind uint8

const (
	// ExitReturn is a normal top-level return; Value holds the result.
	ExitReturn ExitKind = iota
	// ExitExternalCall is a cooperative suspension at CALL_EXTERNAL;
	// Call holds everything needed to hand the call to the host and
	// resume afterwards.
	ExitExternalCall
)

// KV is one keyword argument captured at an external call site.
type KV struct {
	Key value.Value
	Val value.Value
}

// ExternalCall is the suspension record the orchestrator converts into a
// host-visible callout. Args and Kwargs are owned by the receiver.
type ExternalCall struct {
	Func   value.ExtFuncID
	Name   string
	Args   []value.Value
	Kwargs []KV
	// Positions snapshots each live frame's resume point, outermost
	// first, so nested control flow re-enters correctly.
	Positions []frame.Position
}

// Exit is the tagged value the dispatch loop unwinds into.
type Exit struct {
	Kind  ExitKind
	Value value.Value
	Call  *ExternalCall
}
