package compiler

import (
	"encoding/binary"

	"github.com/monty-lang/monty/internal/builtins"
	"github.com/monty-lang/monty/internal/intern"
	"github.com/monty-lang/monty/internal/modules"
	"github.com/monty-lang/monty/internal/position"
	"github.com/monty-lang/monty/internal/value"
	"github.com/monty-lang/monty/internal/vm"
)

// Compile turns source into a runnable program. inputNames claim module
// slots after externalNames, matching the executor's namespace seeding.
func Compile(source, filename string, inputNames, externalNames []string) (*vm.Program, error) {
	body, perr := parseSource(source, filename)
	if perr != nil {
		return nil, perr
	}

	mod := analyzeModule(body, inputNames, externalNames)

	e := &emitter{
		prog: &vm.Program{
			Interns:   intern.New(),
			Externals: append([]string(nil), externalNames...),
			NumInputs: len(inputNames),
			Source:    position.NewSourceFile(filename, source),
		},
		constMap:      map[constKey]int{},
		module:        mod,
		externalIndex: map[string]int{},
	}
	for i, n := range externalNames {
		e.externalIndex[n] = i
	}

	modFn := &vm.Function{Name: "<module>"}
	e.prog.Functions = append(e.prog.Functions, modFn)

	fe := newFnEmitter(e, mod, modFn, 0)
	if err := fe.emitBody(body, true); err != nil {
		return nil, err
	}
	fe.finish()

	e.prog.NumGlobals = len(mod.bound)
	e.prog.GlobalNames = append([]string(nil), mod.bound...)
	return e.prog, nil
}

type constKey struct {
	kind    vm.ConstKind
	i       int64
	f       float64
	s       string
	name    intern.StringID
	builtin value.BuiltinKind
	spec    uint32
}

type emitter struct {
	prog          *vm.Program
	constMap      map[constKey]int
	module        *scopeInfo
	externalIndex map[string]int
}

func (e *emitter) constIndex(c vm.Const) int {
	key := constKey{kind: c.Kind, i: c.Int, f: c.Float, s: c.Str, name: c.Name, builtin: c.Builtin, spec: c.Spec}
	if idx, ok := e.constMap[key]; ok {
		return idx
	}
	idx := len(e.prog.Consts)
	e.prog.Consts = append(e.prog.Consts, c)
	e.constMap[key] = idx
	return idx
}

// moduleSlot returns name's module namespace slot, binding a fresh slot
// for names never assigned anywhere (they raise NameError at runtime).
func (e *emitter) moduleSlot(name string) int {
	for i, n := range e.module.bound {
		if n == name {
			return i
		}
	}
	e.module.bind(name)
	return len(e.module.bound) - 1
}

type loopCtx struct {
	continueTarget int
	breaks         []int
	isFor          bool
}

type fnEmitter struct {
	e     *emitter
	scope *scopeInfo
	fn    *vm.Function
	fnIdx int

	slots     map[string]int
	cellIndex map[string]int
	loops     []loopCtx
}

func newFnEmitter(e *emitter, scope *scopeInfo, fn *vm.Function, fnIdx int) *fnEmitter {
	fe := &fnEmitter{
		e: e, scope: scope, fn: fn, fnIdx: fnIdx,
		slots:     map[string]int{},
		cellIndex: map[string]int{},
	}

	if !scope.isModule {
		for i, name := range scope.bound {
			fe.slots[name] = i
			fe.fn.LocalNames = append(fe.fn.LocalNames, name)
		}
		fe.fn.NumLocals = len(scope.bound)

		for i, name := range scope.freevars {
			fe.cellIndex[name] = i
		}
		for i, name := range scope.cellvars {
			fe.cellIndex[name] = len(scope.freevars) + i
		}
		fe.fn.NumCells = len(scope.cellvars)
		for i, name := range scope.cellvars {
			if slot, isParam := fe.paramSlot(name); isParam {
				fe.fn.CellInits = append(fe.fn.CellInits, vm.CellInit{Param: slot, Cell: i})
			}
		}
	}
	return fe
}

func (fe *fnEmitter) paramSlot(name string) (int, bool) {
	if fe.scope.def == nil {
		return 0, false
	}
	for i, p := range fe.scope.def.params {
		if p.name == name {
			return i, true
		}
	}
	return 0, false
}

// Bytecode append helpers.

func (fe *fnEmitter) op(o vm.Op) { fe.fn.Code = append(fe.fn.Code, byte(o)) }
func (fe *fnEmitter) u8(b byte)  { fe.fn.Code = append(fe.fn.Code, b) }
func (fe *fnEmitter) u16(v uint16) {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	fe.fn.Code = append(fe.fn.Code, buf[0], buf[1])
}

func (fe *fnEmitter) pc() int { return len(fe.fn.Code) }

// jumpFwd emits op with a placeholder offset and returns the operand
// site for patch.
func (fe *fnEmitter) jumpFwd(o vm.Op) int {
	fe.op(o)
	site := fe.pc()
	fe.u16(0)
	return site
}

// patch points the jump at site to the current pc.
func (fe *fnEmitter) patch(site int) {
	off := fe.pc() - (site + 2)
	binary.LittleEndian.PutUint16(fe.fn.Code[site:], uint16(int16(off)))
}

// jumpBack emits op jumping to an earlier target.
func (fe *fnEmitter) jumpBack(o vm.Op, target int) {
	fe.op(o)
	off := target - (fe.pc() + 2)
	fe.u16(uint16(int16(off)))
}

func (fe *fnEmitter) line(pos position.Position) {
	end := pos
	end.Column++
	end.Offset++
	fe.fn.Lines = append(fe.fn.Lines, vm.LineInfo{
		PC:   fe.pc(),
		Span: position.Span{Start: pos, End: end},
	})
}

// finish appends the implicit return for functions whose body can run
// off the end.
func (fe *fnEmitter) finish() {
	fe.op(vm.OpLoadNone)
	fe.op(vm.OpReturnValue)
}

// emitBody emits a statement list. At module level the final expression
// statement becomes the module's return value.
func (fe *fnEmitter) emitBody(body []stmt, isModule bool) *Error {
	for i, st := range body {
		last := isModule && i == len(body)-1
		if es, isExpr := st.(*exprStmt); last && isExpr {
			fe.line(st.stmtPos())
			if err := fe.emitExpr(es.x); err != nil {
				return err
			}
			fe.op(vm.OpReturnValue)
			return nil
		}
		if err := fe.emitStmt(st, isModule); err != nil {
			return err
		}
	}
	return nil
}

func (fe *fnEmitter) emitStmt(st stmt, isModule bool) *Error {
	fe.line(st.stmtPos())

	switch t := st.(type) {
	case *exprStmt:
		if err := fe.emitExpr(t.x); err != nil {
			return err
		}
		fe.op(vm.OpPop)
		return nil

	case *assignStmt:
		if err := fe.emitExpr(t.value); err != nil {
			return err
		}
		for i, target := range t.targets {
			if i < len(t.targets)-1 {
				fe.op(vm.OpDup)
			}
			if err := fe.emitStore(target); err != nil {
				return err
			}
		}
		return nil

	case *augAssignStmt:
		return fe.emitAugAssign(t)

	case *ifStmt:
		return fe.emitIf(t, isModule)

	case *whileStmt:
		return fe.emitWhile(t, isModule)

	case *forStmt:
		return fe.emitFor(t, isModule)

	case *funcDef:
		return fe.emitFuncDef(t)

	case *returnStmt:
		if isModule {
			return syntaxErr(t.pos, "'return' outside function")
		}
		if t.value != nil {
			if err := fe.emitExpr(t.value); err != nil {
				return err
			}
		} else {
			fe.op(vm.OpLoadNone)
		}
		fe.op(vm.OpReturnValue)
		return nil

	case *raiseStmt:
		if t.exc == nil {
			fe.op(vm.OpReraise)
			return nil
		}
		if err := fe.emitExpr(t.exc); err != nil {
			return err
		}
		if t.cause != nil {
			if err := fe.emitExpr(t.cause); err != nil {
				return err
			}
			fe.op(vm.OpRaiseFrom)
			return nil
		}
		fe.op(vm.OpRaise)
		return nil

	case *passStmt:
		fe.op(vm.OpNop)
		return nil

	case *breakStmt:
		if len(fe.loops) == 0 {
			return syntaxErr(t.pos, "'break' outside loop")
		}
		loop := &fe.loops[len(fe.loops)-1]
		loop.breaks = append(loop.breaks, fe.jumpFwd(vm.OpJump))
		return nil

	case *continueStmt:
		if len(fe.loops) == 0 {
			return syntaxErr(t.pos, "'continue' not properly in loop")
		}
		loop := fe.loops[len(fe.loops)-1]
		fe.jumpBack(vm.OpJump, loop.continueTarget)
		return nil

	case *delStmt:
		for _, target := range t.targets {
			if err := fe.emitDelete(target); err != nil {
				return err
			}
		}
		return nil
	}

	return syntaxErr(st.stmtPos(), "unsupported statement")
}

func (fe *fnEmitter) emitIf(t *ifStmt, isModule bool) *Error {
	if err := fe.emitExpr(t.cond); err != nil {
		return err
	}
	elseJump := fe.jumpFwd(vm.OpJumpIfFalse)
	for _, s := range t.body {
		if err := fe.emitStmt(s, isModule); err != nil {
			return err
		}
	}
	if len(t.elseBody) == 0 {
		fe.patch(elseJump)
		return nil
	}
	endJump := fe.jumpFwd(vm.OpJump)
	fe.patch(elseJump)
	for _, s := range t.elseBody {
		if err := fe.emitStmt(s, isModule); err != nil {
			return err
		}
	}
	fe.patch(endJump)
	return nil
}

func (fe *fnEmitter) emitWhile(t *whileStmt, isModule bool) *Error {
	start := fe.pc()
	if err := fe.emitExpr(t.cond); err != nil {
		return err
	}
	exitJump := fe.jumpFwd(vm.OpJumpIfFalse)

	fe.loops = append(fe.loops, loopCtx{continueTarget: start})
	for _, s := range t.body {
		if err := fe.emitStmt(s, isModule); err != nil {
			return err
		}
	}
	loop := fe.loops[len(fe.loops)-1]
	fe.loops = fe.loops[:len(fe.loops)-1]

	fe.jumpBack(vm.OpJump, start)
	fe.patch(exitJump)
	for _, site := range loop.breaks {
		fe.patch(site)
	}
	return nil
}

func (fe *fnEmitter) emitFor(t *forStmt, isModule bool) *Error {
	if err := fe.emitExpr(t.iter); err != nil {
		return err
	}
	fe.op(vm.OpGetIter)

	loopStart := fe.pc()
	exitJump := fe.jumpFwd(vm.OpForIter)
	if err := fe.emitStore(t.target); err != nil {
		return err
	}

	fe.loops = append(fe.loops, loopCtx{continueTarget: loopStart, isFor: true})
	for _, s := range t.body {
		if err := fe.emitStmt(s, isModule); err != nil {
			return err
		}
	}
	loop := fe.loops[len(fe.loops)-1]
	fe.loops = fe.loops[:len(fe.loops)-1]

	fe.jumpBack(vm.OpJump, loopStart)

	// break lands here to discard the iterator; FOR_ITER's exhaustion
	// jump already popped it and goes one instruction further.
	if len(loop.breaks) > 0 {
		for _, site := range loop.breaks {
			fe.patch(site)
		}
		fe.op(vm.OpPop)
	}
	fe.patch(exitJump)
	return nil
}

func (fe *fnEmitter) emitFuncDef(t *funcDef) *Error {
	child := fe.scope.children[t]
	childFn := &vm.Function{Name: t.name}
	for _, p := range t.params {
		childFn.Params = append(childFn.Params, fe.e.prog.Interns.Intern(p.name))
		if p.dflt != nil {
			childFn.NumDefaults++
		}
	}
	childIdx := len(fe.e.prog.Functions)
	fe.e.prog.Functions = append(fe.e.prog.Functions, childFn)

	cfe := newFnEmitter(fe.e, child, childFn, childIdx)
	if err := cfe.emitBody(t.body, false); err != nil {
		return err
	}
	cfe.finish()

	// Defaults evaluate at definition time, in the defining scope.
	for _, p := range t.params {
		if p.dflt != nil {
			if err := fe.emitExpr(p.dflt); err != nil {
				return err
			}
		}
	}

	if len(child.freevars) == 0 {
		fe.op(vm.OpMakeFunction)
		fe.u16(uint16(childIdx))
	} else {
		if len(child.freevars) > 255 {
			return syntaxErr(t.pos, "too many captured variables")
		}
		fe.op(vm.OpMakeClosure)
		fe.u16(uint16(childIdx))
		fe.u8(byte(len(child.freevars)))
		for _, name := range child.freevars {
			idx, ok := fe.cellIndex[name]
			if !ok {
				return syntaxErr(t.pos, "cannot resolve captured variable %q", name)
			}
			fe.u8(byte(idx))
		}
	}

	return fe.emitNameStore(t.name, t.pos)
}

func (fe *fnEmitter) emitAugAssign(t *augAssignStmt) *Error {
	inplaceOp, ok := augOpcodes[t.op]
	if !ok {
		return syntaxErr(t.pos, "unsupported augmented assignment")
	}

	switch target := t.target.(type) {
	case *nameExpr:
		if err := fe.emitNameLoad(target.name, target.pos); err != nil {
			return err
		}
		if err := fe.emitExpr(t.value); err != nil {
			return err
		}
		fe.op(inplaceOp)
		return fe.emitNameStore(target.name, target.pos)

	case *indexExpr:
		if err := fe.emitExpr(target.x); err != nil {
			return err
		}
		fe.op(vm.OpDup)
		if err := fe.emitExpr(target.idx); err != nil {
			return err
		}
		fe.op(vm.OpDup)
		fe.op(vm.OpRot3)
		fe.op(vm.OpBinarySubscr)
		if err := fe.emitExpr(t.value); err != nil {
			return err
		}
		fe.op(inplaceOp)
		fe.op(vm.OpRot3)
		fe.op(vm.OpStoreSubscr)
		return nil

	case *attrExpr:
		if err := fe.emitExpr(target.x); err != nil {
			return err
		}
		fe.op(vm.OpDup)
		nameID := fe.e.prog.Interns.Intern(target.name)
		fe.op(vm.OpLoadAttr)
		fe.u16(uint16(nameID))
		if err := fe.emitExpr(t.value); err != nil {
			return err
		}
		fe.op(inplaceOp)
		fe.op(vm.OpRot2)
		fe.op(vm.OpStoreAttr)
		fe.u16(uint16(nameID))
		return nil
	}
	return syntaxErr(t.pos, "illegal target for augmented assignment")
}

var augOpcodes = map[tokenKind]vm.Op{
	tokPlusEq: vm.OpInplaceAdd, tokMinusEq: vm.OpInplaceSub,
	tokStarEq: vm.OpInplaceMul, tokSlashEq: vm.OpInplaceDiv,
	tokDoubleSlashEq: vm.OpInplaceFloorDiv, tokPercentEq: vm.OpInplaceMod,
	tokDoubleStarEq: vm.OpInplacePow, tokAmpEq: vm.OpInplaceAnd,
	tokPipeEq: vm.OpInplaceOr, tokCaretEq: vm.OpInplaceXor,
	tokLShiftEq: vm.OpInplaceLShift, tokRShiftEq: vm.OpInplaceRShift,
	tokAtEq: vm.OpInplaceMatMul,
}

// emitStore consumes TOS into the target.
func (fe *fnEmitter) emitStore(target expr) *Error {
	switch t := target.(type) {
	case *nameExpr:
		return fe.emitNameStore(t.name, t.pos)

	case *tupleExpr, *listExpr:
		var items []expr
		if tt, isTuple := target.(*tupleExpr); isTuple {
			items = tt.items
		} else {
			items = target.(*listExpr).items
		}
		starIdx := -1
		for i, item := range items {
			if _, isStar := item.(*starExpr); isStar {
				starIdx = i
			}
		}
		if starIdx < 0 {
			if len(items) > 255 {
				return syntaxErr(target.exprPos(), "too many assignment targets")
			}
			fe.op(vm.OpUnpackSequence)
			fe.u8(byte(len(items)))
			for _, item := range items {
				if err := fe.emitStore(item); err != nil {
					return err
				}
			}
			return nil
		}
		before := starIdx
		after := len(items) - starIdx - 1
		fe.op(vm.OpUnpackEx)
		fe.u8(byte(before))
		fe.u8(byte(after))
		for i, item := range items {
			dest := item
			if i == starIdx {
				dest = item.(*starExpr).x
			}
			if err := fe.emitStore(dest); err != nil {
				return err
			}
		}
		return nil

	case *attrExpr:
		if err := fe.emitExpr(t.x); err != nil {
			return err
		}
		fe.op(vm.OpStoreAttr)
		fe.u16(uint16(fe.e.prog.Interns.Intern(t.name)))
		return nil

	case *indexExpr:
		if err := fe.emitExpr(t.x); err != nil {
			return err
		}
		if err := fe.emitExpr(t.idx); err != nil {
			return err
		}
		fe.op(vm.OpStoreSubscr)
		return nil
	}
	return syntaxErr(target.exprPos(), "cannot assign to this expression")
}

func (fe *fnEmitter) emitDelete(target expr) *Error {
	switch t := target.(type) {
	case *nameExpr:
		if fe.scope.isModule {
			slot := fe.e.moduleSlot(t.name)
			if slot > 255 {
				return syntaxErr(t.pos, "too many module names to delete by short operand")
			}
			fe.op(vm.OpDeleteLocal)
			fe.u8(byte(slot))
			return nil
		}
		if slot, ok := fe.slots[t.name]; ok {
			if _, isCell := fe.cellIndex[t.name]; isCell {
				return syntaxErr(t.pos, "cannot delete variable captured by a closure")
			}
			if slot > 255 {
				return syntaxErr(t.pos, "slot out of range for delete")
			}
			fe.op(vm.OpDeleteLocal)
			fe.u8(byte(slot))
			return nil
		}
		return syntaxErr(t.pos, "cannot delete global %q from a function", t.name)

	case *indexExpr:
		if err := fe.emitExpr(t.x); err != nil {
			return err
		}
		if err := fe.emitExpr(t.idx); err != nil {
			return err
		}
		fe.op(vm.OpDeleteSubscr)
		return nil

	case *attrExpr:
		if err := fe.emitExpr(t.x); err != nil {
			return err
		}
		fe.op(vm.OpDeleteAttr)
		fe.u16(uint16(fe.e.prog.Interns.Intern(t.name)))
		return nil
	}
	return syntaxErr(target.exprPos(), "cannot delete this expression")
}

func (fe *fnEmitter) emitNameStore(name string, pos position.Position) *Error {
	if !fe.scope.isModule {
		if idx, isCell := fe.cellIndex[name]; isCell {
			fe.op(vm.OpStoreCell)
			fe.u16(uint16(idx))
			return nil
		}
		if slot, ok := fe.slots[name]; ok {
			if slot <= 255 {
				fe.op(vm.OpStoreLocal)
				fe.u8(byte(slot))
			} else {
				fe.op(vm.OpStoreLocalW)
				fe.u16(uint16(slot))
			}
			return nil
		}
		return syntaxErr(pos, "assignment to unresolved name %q", name)
	}
	slot := fe.e.moduleSlot(name)
	fe.op(vm.OpStoreGlobal)
	fe.u16(uint16(slot))
	return nil
}

func (fe *fnEmitter) emitNameLoad(name string, pos position.Position) *Error {
	if !fe.scope.isModule {
		if idx, isCell := fe.cellIndex[name]; isCell {
			fe.op(vm.OpLoadCell)
			fe.u16(uint16(idx))
			return nil
		}
		if slot, ok := fe.slots[name]; ok {
			switch {
			case slot < 4:
				fe.op(vm.OpLoadLocal0 + vm.Op(slot))
			case slot <= 255:
				fe.op(vm.OpLoadLocal)
				fe.u8(byte(slot))
			default:
				fe.op(vm.OpLoadLocalW)
				fe.u16(uint16(slot))
			}
			return nil
		}
	}

	if fe.scope.isModule || fe.e.module.boundSet[name] {
		if fe.moduleBinds(name) {
			slot := fe.e.moduleSlot(name)
			fe.op(vm.OpLoadGlobal)
			fe.u16(uint16(slot))
			return nil
		}
	}

	if kind, isBuiltin := builtins.LookupName(name); isBuiltin {
		fe.op(vm.OpLoadConst)
		fe.u16(uint16(fe.e.constIndex(vm.BuiltinConst(kind))))
		return nil
	}
	if modules.IsModuleName(name) {
		id := fe.e.prog.Interns.Intern(name)
		fe.op(vm.OpLoadConst)
		fe.u16(uint16(fe.e.constIndex(vm.ModuleConst(id))))
		return nil
	}

	// Unknown name: give it a module slot that stays Undefined so the
	// load raises NameError at runtime.
	slot := fe.e.moduleSlot(name)
	fe.op(vm.OpLoadGlobal)
	fe.u16(uint16(slot))
	return nil
}

// moduleBinds reports whether name has (or will have) a module slot from
// an actual binding: external seeding, an input, or an assignment.
func (fe *fnEmitter) moduleBinds(name string) bool {
	return fe.e.module.boundSet[name]
}
