// Package compiler turns source text into the bytecode, constant pool,
// and name-to-slot tables internal/vm executes: a line-oriented lexer
// with indentation tracking, a recursive-descent parser for the supported
// statement and expression subset, a scope analysis that assigns
// namespace slots and closure cells, and a tree-walking emitter.
package compiler

import "github.com/monty-lang/monty/internal/position"

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNewline
	tokIndent
	tokDedent

	tokName
	tokInt
	tokFloat
	tokString
	tokFString

	// keywords
	tokIf
	tokElif
	tokElse
	tokFor
	tokWhile
	tokIn
	tokNotIn
	tokIs
	tokIsNot
	tokNot
	tokAnd
	tokOr
	tokDef
	tokReturn
	tokRaise
	tokFrom
	tokPass
	tokBreak
	tokContinue
	tokDel
	tokTrue
	tokFalse
	tokNone

	// punctuation and operators
	tokLParen
	tokRParen
	tokLBracket
	tokRBracket
	tokLBrace
	tokRBrace
	tokComma
	tokColon
	tokDot
	tokSemicolon
	tokAssign
	tokPlus
	tokMinus
	tokStar
	tokDoubleStar
	tokSlash
	tokDoubleSlash
	tokPercent
	tokAt
	tokAmp
	tokPipe
	tokCaret
	tokTilde
	tokLShift
	tokRShift
	tokEq
	tokNe
	tokLt
	tokLe
	tokGt
	tokGe
	tokPlusEq
	tokMinusEq
	tokStarEq
	tokSlashEq
	tokDoubleSlashEq
	tokPercentEq
	tokDoubleStarEq
	tokAmpEq
	tokPipeEq
	tokCaretEq
	tokLShiftEq
	tokRShiftEq
	tokAtEq
)

var keywords = map[string]tokenKind{
	"if": tokIf, "elif": tokElif, "else": tokElse,
	"for": tokFor, "while": tokWhile, "in": tokIn, "is": tokIs,
	"not": tokNot, "and": tokAnd, "or": tokOr,
	"def": tokDef, "return": tokReturn, "raise": tokRaise, "from": tokFrom,
	"pass": tokPass, "break": tokBreak, "continue": tokContinue,
	"del":  tokDel,
	"True": tokTrue, "False": tokFalse, "None": tokNone,
}

// refusedKeywords name features the front end deliberately refuses; they
// surface as NotImplementedError rather than a generic syntax error.
var refusedKeywords = map[string]string{
	"class": "classes", "import": "imports", "with": "with statements",
	"try": "try/except", "except": "try/except", "finally": "try/except",
	"lambda": "lambda expressions", "yield": "generators",
	"async": "async", "await": "async", "global": "global declarations",
	"nonlocal": "nonlocal declarations", "assert": "assert statements",
}

// fpart is one piece of an f-string: either a literal run or a
// replacement field with its raw expression text and format spec.
type fpart struct {
	literal string
	isExpr  bool
	expr    string // raw source of the replacement expression
	conv    byte   // 0, 's', 'r' or 'a'
	spec    string // raw spec text, possibly with nested {...} fields
	hasSpec bool
	pos     position.Position
}

type token struct {
	kind   tokenKind
	text   string
	intVal int64
	// intOverflow is set (and intVal unused) when the literal does not fit an
	// int64; the parser rejects it since LongInt literals only arise from
	// arithmetic promotion.
	intOverflow bool
	floatVal    float64
	strVal      string
	fparts      []fpart
	pos         position.Position
}
