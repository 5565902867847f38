package compiler

import "github.com/monty-lang/monty/internal/position"

type expr interface {
	exprPos() position.Position
}

type stmt interface {
	stmtPos() position.Position
}

type intLit struct {
	v   int64
	pos position.Position
}

type floatLit struct {
	v   float64
	pos position.Position
}

type strLit struct {
	v   string
	pos position.Position
}

type boolLit struct {
	v   bool
	pos position.Position
}

type noneLit struct {
	pos position.Position
}

type nameExpr struct {
	name string
	pos  position.Position
}

type unaryExpr struct {
	op  tokenKind // tokMinus, tokPlus, tokTilde, tokNot
	x   expr
	pos position.Position
}

type binaryExpr struct {
	op   tokenKind
	l, r expr
	pos  position.Position
}

// boolOpExpr is short-circuiting and/or.
type boolOpExpr struct {
	isAnd bool
	l, r  expr
	pos   position.Position
}

type compareExpr struct {
	op   tokenKind // tokEq, tokNe, tokLt, ..., tokIn, tokNotIn, tokIs, tokIsNot
	l, r expr
	pos  position.Position
}

type kwArg struct {
	name string
	val  expr
}

type callExpr struct {
	fn      expr
	args    []expr
	kwargs  []kwArg
	starArg expr // *args, or nil
	kwArg   expr // **kwargs, or nil
	pos     position.Position
}

type attrExpr struct {
	x    expr
	name string
	pos  position.Position
}

type indexExpr struct {
	x   expr
	idx expr
	pos position.Position
}

type listExpr struct {
	items []expr
	pos   position.Position
}

type tupleExpr struct {
	items []expr
	pos   position.Position
}

type setExpr struct {
	items []expr
	pos   position.Position
}

type dictExpr struct {
	keys, vals []expr
	pos        position.Position
}

// starExpr marks a starred element: *x in a call or an unpack target.
type starExpr struct {
	x   expr
	pos position.Position
}

// fstringExpr carries the lexer's parts; replacement expressions are
// parsed on demand during emission setup.
type fstringExpr struct {
	parts []fstringPart
	pos   position.Position
}

type fstringPart struct {
	literal string
	isExpr  bool
	x       expr
	conv    byte
	// specParts is the parsed format spec; a single literal part with no
	// expressions is a static spec, anything else is rebuilt at runtime.
	specParts []fstringPart
	hasSpec   bool
}

func (e *intLit) exprPos() position.Position      { return e.pos }
func (e *floatLit) exprPos() position.Position    { return e.pos }
func (e *strLit) exprPos() position.Position      { return e.pos }
func (e *boolLit) exprPos() position.Position     { return e.pos }
func (e *noneLit) exprPos() position.Position     { return e.pos }
func (e *nameExpr) exprPos() position.Position    { return e.pos }
func (e *unaryExpr) exprPos() position.Position   { return e.pos }
func (e *binaryExpr) exprPos() position.Position  { return e.pos }
func (e *boolOpExpr) exprPos() position.Position  { return e.pos }
func (e *compareExpr) exprPos() position.Position { return e.pos }
func (e *callExpr) exprPos() position.Position    { return e.pos }
func (e *attrExpr) exprPos() position.Position    { return e.pos }
func (e *indexExpr) exprPos() position.Position   { return e.pos }
func (e *listExpr) exprPos() position.Position    { return e.pos }
func (e *tupleExpr) exprPos() position.Position   { return e.pos }
func (e *setExpr) exprPos() position.Position     { return e.pos }
func (e *dictExpr) exprPos() position.Position    { return e.pos }
func (e *starExpr) exprPos() position.Position    { return e.pos }
func (e *fstringExpr) exprPos() position.Position { return e.pos }

type exprStmt struct {
	x   expr
	pos position.Position
}

type assignStmt struct {
	// targets supports chained assignment a = b = value; each target is a
	// name, attribute, subscript, or (possibly starred) tuple.
	targets []expr
	value   expr
	pos     position.Position
}

type augAssignStmt struct {
	target expr
	op     tokenKind // the augmented operator token (tokPlusEq etc.)
	value  expr
	pos    position.Position
}

type ifStmt struct {
	cond     expr
	body     []stmt
	elseBody []stmt
	pos      position.Position
}

type whileStmt struct {
	cond expr
	body []stmt
	pos  position.Position
}

type forStmt struct {
	target expr
	iter   expr
	body   []stmt
	pos    position.Position
}

type param struct {
	name string
	dflt expr // nil when no default
}

type funcDef struct {
	name   string
	params []param
	body   []stmt
	pos    position.Position
}

type returnStmt struct {
	value expr // nil for bare return
	pos   position.Position
}

type raiseStmt struct {
	exc   expr // nil for bare re-raise
	cause expr // nil without "from"
	pos   position.Position
}

type passStmt struct{ pos position.Position }

type breakStmt struct{ pos position.Position }

type continueStmt struct{ pos position.Position }

type delStmt struct {
	targets []expr
	pos     position.Position
}

func (s *exprStmt) stmtPos() position.Position      { return s.pos }
func (s *assignStmt) stmtPos() position.Position    { return s.pos }
func (s *augAssignStmt) stmtPos() position.Position { return s.pos }
func (s *ifStmt) stmtPos() position.Position        { return s.pos }
func (s *whileStmt) stmtPos() position.Position     { return s.pos }
func (s *forStmt) stmtPos() position.Position       { return s.pos }
func (s *funcDef) stmtPos() position.Position       { return s.pos }
func (s *returnStmt) stmtPos() position.Position    { return s.pos }
func (s *raiseStmt) stmtPos() position.Position     { return s.pos }
func (s *passStmt) stmtPos() position.Position      { return s.pos }
func (s *breakStmt) stmtPos() position.Position     { return s.pos }
func (s *continueStmt) stmtPos() position.Position  { return s.pos }
func (s *delStmt) stmtPos() position.Position       { return s.pos }
