package compiler

import "github.com/monty-lang/monty/internal/position"

type parser struct {
	toks []token
	i    int
	src  string
	file string
}

func parseSource(src, filename string) ([]stmt, *Error) {
	lx := newLexer(src, filename)
	toks, err := lx.tokens()
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks, src: src, file: filename}
	return p.parseModule()
}

func (p *parser) cur() token { return p.toks[p.i] }
func (p *parser) peek() token {
	if p.i+1 < len(p.toks) {
		return p.toks[p.i+1]
	}
	return p.toks[len(p.toks)-1]
}

func (p *parser) advance() token {
	t := p.toks[p.i]
	if p.i < len(p.toks)-1 {
		p.i++
	}
	return t
}

func (p *parser) accept(k tokenKind) bool {
	if p.cur().kind == k {
		p.advance()
		return true
	}
	return false
}

func (p *parser) expect(k tokenKind, what string) (token, *Error) {
	if p.cur().kind != k {
		return token{}, syntaxErr(p.cur().pos, "expected %s", what)
	}
	return p.advance(), nil
}

func (p *parser) skipNewlines() {
	for p.cur().kind == tokNewline || p.cur().kind == tokSemicolon {
		p.advance()
	}
}

func (p *parser) parseModule() ([]stmt, *Error) {
	var out []stmt
	p.skipNewlines()
	for p.cur().kind != tokEOF {
		s, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
		p.skipNewlines()
	}
	return out, nil
}

// parseBlock parses an indented suite after a colon.
func (p *parser) parseBlock() ([]stmt, *Error) {
	if _, err := p.expect(tokColon, "':'"); err != nil {
		return nil, err
	}

	// Single-line suite: "if x: y = 1".
	if p.cur().kind != tokNewline {
		s, err := p.parseSimpleStatement()
		if err != nil {
			return nil, err
		}
		return []stmt{s}, nil
	}

	p.skipNewlines()
	if _, err := p.expect(tokIndent, "an indented block"); err != nil {
		return nil, err
	}
	var out []stmt
	p.skipNewlines()
	for p.cur().kind != tokDedent && p.cur().kind != tokEOF {
		s, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
		p.skipNewlines()
	}
	p.accept(tokDedent)
	return out, nil
}

func (p *parser) parseStatement() (stmt, *Error) {
	switch p.cur().kind {
	case tokIf:
		return p.parseIf()
	case tokWhile:
		return p.parseWhile()
	case tokFor:
		return p.parseFor()
	case tokDef:
		return p.parseDef()
	default:
		return p.parseSimpleStatement()
	}
}

func (p *parser) parseIf() (stmt, *Error) {
	pos := p.advance().pos
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}

	out := &ifStmt{cond: cond, body: body, pos: pos}
	p.skipNewlines()
	switch p.cur().kind {
	case tokElif:
		elifStmt, err := p.parseIf()
		if err != nil {
			return nil, err
		}
		out.elseBody = []stmt{elifStmt}
	case tokElse:
		p.advance()
		elseBody, err := p.parseBlock()
		if err != nil {
			return nil, err
		}
		out.elseBody = elseBody
	}
	return out, nil
}

func (p *parser) parseWhile() (stmt, *Error) {
	pos := p.advance().pos
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	return &whileStmt{cond: cond, body: body, pos: pos}, nil
}

func (p *parser) parseFor() (stmt, *Error) {
	pos := p.advance().pos
	target, err := p.parseTargetList()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokIn, "'in'"); err != nil {
		return nil, err
	}
	iter, err := p.parseExprList()
	if err != nil {
		return nil, err
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	return &forStmt{target: target, iter: iter, body: body, pos: pos}, nil
}

func (p *parser) parseDef() (stmt, *Error) {
	pos := p.advance().pos
	nameTok, err := p.expect(tokName, "a function name")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokLParen, "'('"); err != nil {
		return nil, err
	}

	var params []param
	seenDefault := false
	for p.cur().kind != tokRParen {
		if p.cur().kind == tokStar || p.cur().kind == tokDoubleStar {
			return nil, notImplErr(p.cur().pos, "star parameters")
		}
		pn, err := p.expect(tokName, "a parameter name")
		if err != nil {
			return nil, err
		}
		pr := param{name: pn.text}
		if p.accept(tokAssign) {
			dflt, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			pr.dflt = dflt
			seenDefault = true
		} else if seenDefault {
			return nil, syntaxErr(pn.pos, "parameter without a default follows parameter with a default")
		}
		params = append(params, pr)
		if !p.accept(tokComma) {
			break
		}
	}
	if _, err := p.expect(tokRParen, "')'"); err != nil {
		return nil, err
	}
	// Annotations on the return are tolerated and discarded by real
	// Python tooling this subset targets; refuse them for clarity.
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	return &funcDef{name: nameTok.text, params: params, body: body, pos: pos}, nil
}

func (p *parser) parseSimpleStatement() (stmt, *Error) {
	pos := p.cur().pos

	switch p.cur().kind {
	case tokReturn:
		p.advance()
		if p.cur().kind == tokNewline || p.cur().kind == tokEOF || p.cur().kind == tokSemicolon {
			return &returnStmt{pos: pos}, nil
		}
		v, err := p.parseExprList()
		if err != nil {
			return nil, err
		}
		return &returnStmt{value: v, pos: pos}, nil

	case tokRaise:
		p.advance()
		if p.cur().kind == tokNewline || p.cur().kind == tokEOF {
			return &raiseStmt{pos: pos}, nil
		}
		exc, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		out := &raiseStmt{exc: exc, pos: pos}
		if p.accept(tokFrom) {
			cause, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			out.cause = cause
		}
		return out, nil

	case tokPass:
		p.advance()
		return &passStmt{pos: pos}, nil
	case tokBreak:
		p.advance()
		return &breakStmt{pos: pos}, nil
	case tokContinue:
		p.advance()
		return &continueStmt{pos: pos}, nil

	case tokDel:
		p.advance()
		var targets []expr
		for {
			t, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			targets = append(targets, t)
			if !p.accept(tokComma) {
				break
			}
		}
		return &delStmt{targets: targets, pos: pos}, nil
	}

	// Expression, assignment, or augmented assignment.
	first, err := p.parseExprList()
	if err != nil {
		return nil, err
	}

	if _, isAug := augOps[p.cur().kind]; isAug {
		opTok := p.advance().kind
		val, err := p.parseExprList()
		if err != nil {
			return nil, err
		}
		if verr := checkAugTarget(first); verr != nil {
			return nil, verr
		}
		return &augAssignStmt{target: first, op: opTok, value: val, pos: pos}, nil
	}

	if p.cur().kind == tokAssign {
		targets := []expr{first}
		var val expr
		for p.accept(tokAssign) {
			next, err := p.parseExprList()
			if err != nil {
				return nil, err
			}
			targets = append(targets, next)
		}
		val = targets[len(targets)-1]
		targets = targets[:len(targets)-1]
		for _, t := range targets {
			if verr := checkAssignTarget(t); verr != nil {
				return nil, verr
			}
		}
		return &assignStmt{targets: targets, value: val, pos: pos}, nil
	}

	return &exprStmt{x: first, pos: pos}, nil
}

// augOps maps augmented-assignment tokens to themselves; membership is
// what matters at parse time.
var augOps = map[tokenKind]tokenKind{
	tokPlusEq: tokPlusEq, tokMinusEq: tokMinusEq, tokStarEq: tokStarEq,
	tokSlashEq: tokSlashEq, tokDoubleSlashEq: tokDoubleSlashEq,
	tokPercentEq: tokPercentEq, tokDoubleStarEq: tokDoubleStarEq,
	tokAmpEq: tokAmpEq, tokPipeEq: tokPipeEq, tokCaretEq: tokCaretEq,
	tokLShiftEq: tokLShiftEq, tokRShiftEq: tokRShiftEq, tokAtEq: tokAtEq,
}

func checkAssignTarget(e expr) *Error {
	switch t := e.(type) {
	case *nameExpr, *attrExpr, *indexExpr:
		return nil
	case *starExpr:
		return checkAssignTarget(t.x)
	case *tupleExpr:
		stars := 0
		for _, item := range t.items {
			if _, isStar := item.(*starExpr); isStar {
				stars++
			}
			if err := checkAssignTarget(item); err != nil {
				return err
			}
		}
		if stars > 1 {
			return syntaxErr(t.pos, "multiple starred expressions in assignment")
		}
		return nil
	case *listExpr:
		for _, item := range t.items {
			if err := checkAssignTarget(item); err != nil {
				return err
			}
		}
		return nil
	default:
		return syntaxErr(e.exprPos(), "cannot assign to this expression")
	}
}

func checkAugTarget(e expr) *Error {
	switch e.(type) {
	case *nameExpr, *attrExpr, *indexExpr:
		return nil
	default:
		return syntaxErr(e.exprPos(), "illegal target for augmented assignment")
	}
}

// parseTargetList parses a for-loop target: one target or a bare tuple.
func (p *parser) parseTargetList() (expr, *Error) {
	first, err := p.parsePostfix()
	if err != nil {
		return nil, err
	}
	if p.cur().kind != tokComma {
		if verr := checkAssignTarget(first); verr != nil {
			return nil, verr
		}
		return first, nil
	}
	items := []expr{first}
	for p.accept(tokComma) {
		if p.cur().kind == tokIn {
			break
		}
		next, err := p.parsePostfix()
		if err != nil {
			return nil, err
		}
		items = append(items, next)
	}
	t := &tupleExpr{items: items, pos: first.exprPos()}
	if verr := checkAssignTarget(t); verr != nil {
		return nil, verr
	}
	return t, nil
}

// parseExprList parses "expr, expr, ..." as a bare tuple when a comma
// appears, the common right-hand side of assignments and returns.
func (p *parser) parseExprList() (expr, *Error) {
	first, err := p.parseStarExpr()
	if err != nil {
		return nil, err
	}
	if p.cur().kind != tokComma {
		return first, nil
	}
	items := []expr{first}
	for p.accept(tokComma) {
		if exprListEnd[p.cur().kind] {
			break
		}
		next, err := p.parseStarExpr()
		if err != nil {
			return nil, err
		}
		items = append(items, next)
	}
	return &tupleExpr{items: items, pos: first.exprPos()}, nil
}

var exprListEnd = map[tokenKind]bool{
	tokNewline: true, tokEOF: true, tokAssign: true, tokColon: true,
	tokRParen: true, tokRBracket: true, tokRBrace: true, tokSemicolon: true,
}

func (p *parser) parseStarExpr() (expr, *Error) {
	if p.cur().kind == tokStar {
		pos := p.advance().pos
		x, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		return &starExpr{x: x, pos: pos}, nil
	}
	return p.parseExpr()
}

// Expression precedence, loosest first: or, and, not, comparison,
// |, ^, &, shifts, additive, multiplicative, unary, power, postfix.

func (p *parser) parseExpr() (expr, *Error) {
	return p.parseOr()
}

func (p *parser) parseOr() (expr, *Error) {
	l, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.cur().kind == tokOr {
		pos := p.advance().pos
		r, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		l = &boolOpExpr{isAnd: false, l: l, r: r, pos: pos}
	}
	return l, nil
}

func (p *parser) parseAnd() (expr, *Error) {
	l, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.cur().kind == tokAnd {
		pos := p.advance().pos
		r, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		l = &boolOpExpr{isAnd: true, l: l, r: r, pos: pos}
	}
	return l, nil
}

func (p *parser) parseNot() (expr, *Error) {
	if p.cur().kind == tokNot {
		pos := p.advance().pos
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &unaryExpr{op: tokNot, x: x, pos: pos}, nil
	}
	return p.parseComparison()
}

var comparisonOps = map[tokenKind]bool{
	tokEq: true, tokNe: true, tokLt: true, tokLe: true,
	tokGt: true, tokGe: true, tokIn: true, tokIs: true,
}

func (p *parser) parseComparison() (expr, *Error) {
	l, err := p.parseBitOr()
	if err != nil {
		return nil, err
	}

	op := p.cur().kind
	if op == tokNot && p.peek().kind == tokIn {
		pos := p.advance().pos
		p.advance()
		r, err := p.parseBitOr()
		if err != nil {
			return nil, err
		}
		return p.rejectChain(&compareExpr{op: tokNotIn, l: l, r: r, pos: pos})
	}
	if !comparisonOps[op] {
		return l, nil
	}

	pos := p.advance().pos
	if op == tokIs && p.accept(tokNot) {
		op = tokIsNot
	}
	r, err := p.parseBitOr()
	if err != nil {
		return nil, err
	}
	return p.rejectChain(&compareExpr{op: op, l: l, r: r, pos: pos})
}

func (p *parser) rejectChain(e *compareExpr) (expr, *Error) {
	if comparisonOps[p.cur().kind] || (p.cur().kind == tokNot && p.peek().kind == tokIn) {
		return nil, notImplErr(p.cur().pos, "chained comparisons")
	}
	return e, nil
}

func (p *parser) parseBinaryLevel(ops map[tokenKind]bool, next func() (expr, *Error)) (expr, *Error) {
	l, err := next()
	if err != nil {
		return nil, err
	}
	for ops[p.cur().kind] {
		opTok := p.advance()
		r, err := next()
		if err != nil {
			return nil, err
		}
		l = &binaryExpr{op: opTok.kind, l: l, r: r, pos: opTok.pos}
	}
	return l, nil
}

func (p *parser) parseBitOr() (expr, *Error) {
	return p.parseBinaryLevel(map[tokenKind]bool{tokPipe: true}, p.parseBitXor)
}

func (p *parser) parseBitXor() (expr, *Error) {
	return p.parseBinaryLevel(map[tokenKind]bool{tokCaret: true}, p.parseBitAnd)
}

func (p *parser) parseBitAnd() (expr, *Error) {
	return p.parseBinaryLevel(map[tokenKind]bool{tokAmp: true}, p.parseShift)
}

func (p *parser) parseShift() (expr, *Error) {
	return p.parseBinaryLevel(map[tokenKind]bool{tokLShift: true, tokRShift: true}, p.parseAdditive)
}

func (p *parser) parseAdditive() (expr, *Error) {
	return p.parseBinaryLevel(map[tokenKind]bool{tokPlus: true, tokMinus: true}, p.parseMultiplicative)
}

func (p *parser) parseMultiplicative() (expr, *Error) {
	return p.parseBinaryLevel(map[tokenKind]bool{
		tokStar: true, tokSlash: true, tokDoubleSlash: true,
		tokPercent: true, tokAt: true,
	}, p.parseUnary)
}

func (p *parser) parseUnary() (expr, *Error) {
	switch p.cur().kind {
	case tokMinus, tokPlus, tokTilde:
		opTok := p.advance()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &unaryExpr{op: opTok.kind, x: x, pos: opTok.pos}, nil
	}
	return p.parsePower()
}

func (p *parser) parsePower() (expr, *Error) {
	l, err := p.parsePostfix()
	if err != nil {
		return nil, err
	}
	if p.cur().kind == tokDoubleStar {
		pos := p.advance().pos
		// Power is right-associative.
		r, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &binaryExpr{op: tokDoubleStar, l: l, r: r, pos: pos}, nil
	}
	return l, nil
}

func (p *parser) parsePostfix() (expr, *Error) {
	x, err := p.parseAtom()
	if err != nil {
		return nil, err
	}
	for {
		switch p.cur().kind {
		case tokDot:
			p.advance()
			nameTok, err := p.expect(tokName, "an attribute name")
			if err != nil {
				return nil, err
			}
			x = &attrExpr{x: x, name: nameTok.text, pos: nameTok.pos}

		case tokLBracket:
			pos := p.advance().pos
			idx, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if p.cur().kind == tokColon {
				return nil, notImplErr(p.cur().pos, "slices")
			}
			if _, err := p.expect(tokRBracket, "']'"); err != nil {
				return nil, err
			}
			x = &indexExpr{x: x, idx: idx, pos: pos}

		case tokLParen:
			call, err := p.parseCall(x)
			if err != nil {
				return nil, err
			}
			x = call

		default:
			return x, nil
		}
	}
}

func (p *parser) parseCall(fn expr) (expr, *Error) {
	pos := p.advance().pos
	out := &callExpr{fn: fn, pos: pos}

	for p.cur().kind != tokRParen {
		switch {
		case p.cur().kind == tokStar:
			starPos := p.advance().pos
			if out.starArg != nil {
				return nil, syntaxErr(starPos, "multiple *args in call")
			}
			x, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			out.starArg = x

		case p.cur().kind == tokDoubleStar:
			dsPos := p.advance().pos
			if out.kwArg != nil {
				return nil, syntaxErr(dsPos, "multiple **kwargs in call")
			}
			x, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			out.kwArg = x

		case p.cur().kind == tokName && p.peek().kind == tokAssign:
			nameTok := p.advance()
			p.advance()
			v, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			out.kwargs = append(out.kwargs, kwArg{name: nameTok.text, val: v})

		default:
			if len(out.kwargs) > 0 || out.kwArg != nil {
				return nil, syntaxErr(p.cur().pos, "positional argument follows keyword argument")
			}
			x, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			out.args = append(out.args, x)
		}
		if !p.accept(tokComma) {
			break
		}
	}
	if _, err := p.expect(tokRParen, "')'"); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *parser) parseAtom() (expr, *Error) {
	t := p.cur()
	switch t.kind {
	case tokInt:
		p.advance()
		if t.intOverflow {
			return nil, syntaxErr(t.pos, "integer literal too large")
		}
		return &intLit{v: t.intVal, pos: t.pos}, nil
	case tokFloat:
		p.advance()
		return &floatLit{v: t.floatVal, pos: t.pos}, nil
	case tokString:
		p.advance()
		// Adjacent string literals concatenate.
		s := t.strVal
		for p.cur().kind == tokString {
			s += p.advance().strVal
		}
		return &strLit{v: s, pos: t.pos}, nil
	case tokFString:
		p.advance()
		return p.buildFString(t)
	case tokTrue:
		p.advance()
		return &boolLit{v: true, pos: t.pos}, nil
	case tokFalse:
		p.advance()
		return &boolLit{v: false, pos: t.pos}, nil
	case tokNone:
		p.advance()
		return &noneLit{pos: t.pos}, nil
	case tokName:
		p.advance()
		return &nameExpr{name: t.text, pos: t.pos}, nil

	case tokLParen:
		p.advance()
		if p.accept(tokRParen) {
			return &tupleExpr{pos: t.pos}, nil
		}
		first, err := p.parseStarExpr()
		if err != nil {
			return nil, err
		}
		if p.cur().kind == tokComma {
			items := []expr{first}
			for p.accept(tokComma) {
				if p.cur().kind == tokRParen {
					break
				}
				next, err := p.parseStarExpr()
				if err != nil {
					return nil, err
				}
				items = append(items, next)
			}
			if _, err := p.expect(tokRParen, "')'"); err != nil {
				return nil, err
			}
			return &tupleExpr{items: items, pos: t.pos}, nil
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		return first, nil

	case tokLBracket:
		p.advance()
		var items []expr
		for p.cur().kind != tokRBracket {
			x, err := p.parseStarExpr()
			if err != nil {
				return nil, err
			}
			items = append(items, x)
			if p.cur().kind == tokFor {
				return nil, notImplErr(p.cur().pos, "comprehensions")
			}
			if !p.accept(tokComma) {
				break
			}
		}
		if _, err := p.expect(tokRBracket, "']'"); err != nil {
			return nil, err
		}
		return &listExpr{items: items, pos: t.pos}, nil

	case tokLBrace:
		p.advance()
		if p.accept(tokRBrace) {
			return &dictExpr{pos: t.pos}, nil
		}
		firstKey, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if p.cur().kind == tokColon {
			d := &dictExpr{pos: t.pos}
			p.advance()
			firstVal, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			d.keys = append(d.keys, firstKey)
			d.vals = append(d.vals, firstVal)
			for p.accept(tokComma) {
				if p.cur().kind == tokRBrace {
					break
				}
				k, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				if _, err := p.expect(tokColon, "':'"); err != nil {
					return nil, err
				}
				v, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				d.keys = append(d.keys, k)
				d.vals = append(d.vals, v)
			}
			if _, err := p.expect(tokRBrace, "'}'"); err != nil {
				return nil, err
			}
			return d, nil
		}

		s := &setExpr{items: []expr{firstKey}, pos: t.pos}
		for p.accept(tokComma) {
			if p.cur().kind == tokRBrace {
				break
			}
			x, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			s.items = append(s.items, x)
		}
		if _, err := p.expect(tokRBrace, "'}'"); err != nil {
			return nil, err
		}
		return s, nil
	}

	return nil, syntaxErr(t.pos, "unexpected token")
}

// buildFString parses each replacement field's expression (and any
// nested spec fields) with a fresh sub-parser.
func (p *parser) buildFString(t token) (expr, *Error) {
	out := &fstringExpr{pos: t.pos}
	for _, fp := range t.fparts {
		if !fp.isExpr {
			out.parts = append(out.parts, fstringPart{literal: fp.literal})
			continue
		}
		x, err := parseEmbeddedExpr(fp.expr, p.file, fp.pos)
		if err != nil {
			return nil, err
		}
		part := fstringPart{isExpr: true, x: x, conv: fp.conv, hasSpec: fp.hasSpec}
		if fp.hasSpec {
			specParts, err := parseSpecParts(fp.spec, p.file, fp.pos)
			if err != nil {
				return nil, err
			}
			part.specParts = specParts
		}
		out.parts = append(out.parts, part)
	}
	return out, nil
}

func parseEmbeddedExpr(src, filename string, pos position.Position) (expr, *Error) {
	lx := newLexer(src, filename)
	toks, err := lx.tokens()
	if err != nil {
		return nil, err
	}
	sub := &parser{toks: toks, src: src, file: filename}
	x, perr := sub.parseExpr()
	if perr != nil {
		return nil, perr
	}
	if sub.cur().kind != tokNewline && sub.cur().kind != tokEOF {
		return nil, syntaxErr(pos, "invalid expression in f-string")
	}
	return x, nil
}

// parseSpecParts splits a format spec into literal runs and nested
// replacement expressions ({width} etc.).
func parseSpecParts(spec, filename string, pos position.Position) ([]fstringPart, *Error) {
	var out []fstringPart
	i := 0
	for i < len(spec) {
		j := i
		for j < len(spec) && spec[j] != '{' {
			j++
		}
		if j > i {
			out = append(out, fstringPart{literal: spec[i:j]})
		}
		if j >= len(spec) {
			break
		}
		// Nested field.
		k := j + 1
		depth := 0
		for k < len(spec) && (spec[k] != '}' || depth > 0) {
			if spec[k] == '{' {
				depth++
			}
			if spec[k] == '}' {
				depth--
			}
			k++
		}
		if k >= len(spec) {
			return nil, syntaxErr(pos, "f-string: unmatched '{' in format spec")
		}
		x, err := parseEmbeddedExpr(spec[j+1:k], filename, pos)
		if err != nil {
			return nil, err
		}
		out = append(out, fstringPart{isExpr: true, x: x})
		i = k + 1
	}
	return out, nil
}
