package vm

import (
	"github.com/monty-lang/monty/internal/exception"
	"github.com/monty-lang/monty/internal/intern"
	"github.com/monty-lang/monty/internal/position"
	"github.com/monty-lang/monty/internal/value"
)

// ConstKind discriminates the constant pool entries LOAD_CONST and the
// compound-operand opcodes read.
type ConstKind uint8

const (
	ConstInt ConstKind = iota
	ConstFloat
	ConstStr
	ConstBuiltin
	ConstModule
	// ConstSpec is a bit-packed static format spec; stored tagged so the
	// pool can tell it apart from an integer constant.
	ConstSpec
)

// Const is one constant pool entry.
type Const struct {
	Kind    ConstKind
	Int     int64
	Float   float64
	Str     string
	Name    intern.StringID
	Builtin value.BuiltinKind
	Spec    uint32
}

// IntConst, FloatConst and friends are the pool-entry constructors the
// emitter uses.
func IntConst(i int64) Const                 { return Const{Kind: ConstInt, Int: i} }
func FloatConst(f float64) Const             { return Const{Kind: ConstFloat, Float: f} }
func StrConst(s string) Const                { return Const{Kind: ConstStr, Str: s} }
func BuiltinConst(k value.BuiltinKind) Const { return Const{Kind: ConstBuiltin, Builtin: k} }
func ModuleConst(name intern.StringID) Const { return Const{Kind: ConstModule, Name: name} }
func SpecConst(packed uint32) Const          { return Const{Kind: ConstSpec, Spec: packed} }

// LineInfo maps a bytecode offset to the source span of the statement or
// expression that produced it. Entries are sorted by PC; a pc resolves to
// the last entry at or before it.
type LineInfo struct {
	PC   int
	Span position.Span
}

// CellInit copies a parameter into a freshly created cell at frame entry,
// for parameters captured by an inner closure.
type CellInit struct {
	Param int
	Cell  int
}

// Function is one compiled function: the module body is Functions[0].
type Function struct {
	Name        string
	Params      []intern.StringID
	NumDefaults int
	// NumLocals is the namespace size the preparer fixed for this frame
	// (parameters included).
	NumLocals int
	// LocalNames maps slot id to source name, for NameError messages.
	LocalNames []string
	NumCells   int
	CellInits  []CellInit
	Code       []byte
	ExcTable   exception.Table
	Lines      []LineInfo
}

// SpanAt resolves a program counter to its source span.
func (f *Function) SpanAt(pc int) position.Span {
	var out position.Span
	for _, li := range f.Lines {
		if li.PC > pc {
			break
		}
		out = li.Span
	}
	return out
}

// Program is the compiler's output and the dispatch loop's input: shared
// read-only bytecode metadata plus the intern table, which is immutable
// once execution begins.
type Program struct {
	Consts    []Const
	Functions []*Function
	// Externals lists host-provided function names; CALL_EXTERNAL's u16
	// operand indexes this slice.
	Externals []string
	Interns   *intern.Table
	// NumGlobals is the module namespace size: external function slots
	// first, then input slots, then module-level bindings.
	NumGlobals int
	NumInputs  int
	// GlobalNames maps global slot id to source name, for NameError
	// messages.
	GlobalNames []string
	Source      *position.SourceFile
}
