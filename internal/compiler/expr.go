package compiler

import (
	"github.com/monty-lang/monty/internal/builtins"
	"github.com/monty-lang/monty/internal/value"
	"github.com/monty-lang/monty/internal/vm"
)

var binaryOpcodes = map[tokenKind]vm.Op{
	tokPlus: vm.OpBinaryAdd, tokMinus: vm.OpBinarySub,
	tokStar: vm.OpBinaryMul, tokSlash: vm.OpBinaryDiv,
	tokDoubleSlash: vm.OpBinaryFloorDiv, tokPercent: vm.OpBinaryMod,
	tokDoubleStar: vm.OpBinaryPow, tokAt: vm.OpBinaryMatMul,
	tokAmp: vm.OpBinaryAnd, tokPipe: vm.OpBinaryOr,
	tokCaret: vm.OpBinaryXor, tokLShift: vm.OpBinaryLShift,
	tokRShift: vm.OpBinaryRShift,
}

var compareOpcodes = map[tokenKind]vm.Op{
	tokEq: vm.OpCompareEq, tokNe: vm.OpCompareNe,
	tokLt: vm.OpCompareLt, tokLe: vm.OpCompareLe,
	tokGt: vm.OpCompareGt, tokGe: vm.OpCompareGe,
	tokIs: vm.OpCompareIs, tokIsNot: vm.OpCompareIsNot,
	tokIn: vm.OpCompareIn, tokNotIn: vm.OpCompareNotIn,
}

func (fe *fnEmitter) emitExpr(e expr) *Error {
	switch t := e.(type) {
	case *intLit:
		if t.v >= -128 && t.v <= 127 {
			fe.op(vm.OpLoadSmallInt)
			fe.u8(byte(int8(t.v)))
		} else {
			fe.op(vm.OpLoadConst)
			fe.u16(uint16(fe.e.constIndex(vm.IntConst(t.v))))
		}
		return nil

	case *floatLit:
		fe.op(vm.OpLoadConst)
		fe.u16(uint16(fe.e.constIndex(vm.FloatConst(t.v))))
		return nil

	case *strLit:
		fe.op(vm.OpLoadConst)
		fe.u16(uint16(fe.e.constIndex(vm.StrConst(t.v))))
		return nil

	case *boolLit:
		if t.v {
			fe.op(vm.OpLoadTrue)
		} else {
			fe.op(vm.OpLoadFalse)
		}
		return nil

	case *noneLit:
		fe.op(vm.OpLoadNone)
		return nil

	case *nameExpr:
		return fe.emitNameLoad(t.name, t.pos)

	case *unaryExpr:
		if err := fe.emitExpr(t.x); err != nil {
			return err
		}
		switch t.op {
		case tokNot:
			fe.op(vm.OpUnaryNot)
		case tokMinus:
			fe.op(vm.OpUnaryNeg)
		case tokPlus:
			fe.op(vm.OpUnaryPos)
		case tokTilde:
			fe.op(vm.OpUnaryInvert)
		}
		return nil

	case *binaryExpr:
		if err := fe.emitExpr(t.l); err != nil {
			return err
		}
		if err := fe.emitExpr(t.r); err != nil {
			return err
		}
		fe.op(binaryOpcodes[t.op])
		return nil

	case *boolOpExpr:
		if err := fe.emitExpr(t.l); err != nil {
			return err
		}
		var site int
		if t.isAnd {
			site = fe.jumpFwd(vm.OpJumpIfFalseOrPop)
		} else {
			site = fe.jumpFwd(vm.OpJumpIfTrueOrPop)
		}
		if err := fe.emitExpr(t.r); err != nil {
			return err
		}
		fe.patch(site)
		return nil

	case *compareExpr:
		// (a % b) == k with a literal k has a fused opcode.
		if t.op == tokEq {
			if mod, isMod := t.l.(*binaryExpr); isMod && mod.op == tokPercent {
				if k, isInt := t.r.(*intLit); isInt {
					if err := fe.emitExpr(mod.l); err != nil {
						return err
					}
					if err := fe.emitExpr(mod.r); err != nil {
						return err
					}
					fe.op(vm.OpCompareModEq)
					fe.u16(uint16(fe.e.constIndex(vm.IntConst(k.v))))
					return nil
				}
			}
		}
		if err := fe.emitExpr(t.l); err != nil {
			return err
		}
		if err := fe.emitExpr(t.r); err != nil {
			return err
		}
		fe.op(compareOpcodes[t.op])
		return nil

	case *callExpr:
		return fe.emitCall(t)

	case *attrExpr:
		if err := fe.emitExpr(t.x); err != nil {
			return err
		}
		fe.op(vm.OpLoadAttr)
		fe.u16(uint16(fe.e.prog.Interns.Intern(t.name)))
		return nil

	case *indexExpr:
		if err := fe.emitExpr(t.x); err != nil {
			return err
		}
		if err := fe.emitExpr(t.idx); err != nil {
			return err
		}
		fe.op(vm.OpBinarySubscr)
		return nil

	case *listExpr:
		return fe.emitDisplay(t.items, vm.OpBuildList, e)

	case *tupleExpr:
		return fe.emitDisplay(t.items, vm.OpBuildTuple, e)

	case *setExpr:
		return fe.emitDisplay(t.items, vm.OpBuildSet, e)

	case *dictExpr:
		if len(t.keys) > 0xffff {
			return syntaxErr(t.pos, "dict display too large")
		}
		for i := range t.keys {
			if err := fe.emitExpr(t.keys[i]); err != nil {
				return err
			}
			if err := fe.emitExpr(t.vals[i]); err != nil {
				return err
			}
		}
		fe.op(vm.OpBuildDict)
		fe.u16(uint16(len(t.keys)))
		return nil

	case *starExpr:
		return syntaxErr(t.pos, "starred expression is only valid in assignments and calls")

	case *fstringExpr:
		return fe.emitFString(t)
	}

	return syntaxErr(e.exprPos(), "unsupported expression")
}

// emitDisplay builds a list/tuple/set literal, routing starred elements
// through LIST_EXTEND.
func (fe *fnEmitter) emitDisplay(items []expr, build vm.Op, e expr) *Error {
	hasStar := false
	for _, item := range items {
		if _, isStar := item.(*starExpr); isStar {
			hasStar = true
			break
		}
	}

	if !hasStar {
		if len(items) > 0xffff {
			return syntaxErr(e.exprPos(), "display too large")
		}
		for _, item := range items {
			if err := fe.emitExpr(item); err != nil {
				return err
			}
		}
		fe.op(build)
		fe.u16(uint16(len(items)))
		return nil
	}

	// Build as a list, extending with each starred iterable.
	fe.op(vm.OpBuildList)
	fe.u16(0)
	for _, item := range items {
		if star, isStar := item.(*starExpr); isStar {
			if err := fe.emitExpr(star.x); err != nil {
				return err
			}
			fe.op(vm.OpListExtend)
			continue
		}
		if err := fe.emitExpr(item); err != nil {
			return err
		}
		fe.op(vm.OpBuildList)
		fe.u16(1)
		fe.op(vm.OpListExtend)
	}

	switch build {
	case vm.OpBuildTuple:
		fe.op(vm.OpListToTuple)
	case vm.OpBuildSet:
		// set(list) via the builtin keeps uniqueness handling in one
		// place.
		fe.op(vm.OpLoadConst)
		fe.u16(uint16(fe.e.constIndex(vm.BuiltinConst(builtins.Set))))
		fe.op(vm.OpRot2)
		fe.op(vm.OpCallFunction)
		fe.u8(1)
	}
	return nil
}

func (fe *fnEmitter) emitCall(t *callExpr) *Error {
	// obj.method(...) uses the fused method-call opcode when the call is
	// plain positional.
	if attr, isAttr := t.fn.(*attrExpr); isAttr &&
		len(t.kwargs) == 0 && t.starArg == nil && t.kwArg == nil {
		if len(t.args) > 255 {
			return syntaxErr(t.pos, "too many arguments")
		}
		if err := fe.emitExpr(attr.x); err != nil {
			return err
		}
		for _, a := range t.args {
			if _, isStar := a.(*starExpr); isStar {
				return syntaxErr(a.exprPos(), "starred argument in method call")
			}
			if err := fe.emitExpr(a); err != nil {
				return err
			}
		}
		fe.op(vm.OpCallMethod)
		fe.u16(uint16(fe.e.prog.Interns.Intern(attr.name)))
		fe.u8(byte(len(t.args)))
		return nil
	}

	// Direct call of a host-provided external function.
	if name, isName := t.fn.(*nameExpr); isName &&
		len(t.kwargs) == 0 && t.starArg == nil && t.kwArg == nil {
		if fid, isExt := fe.e.externalIndex[name.name]; isExt && !fe.shadowed(name.name) {
			if len(t.args) > 255 {
				return syntaxErr(t.pos, "too many arguments")
			}
			for _, a := range t.args {
				if err := fe.emitExpr(a); err != nil {
					return err
				}
			}
			fe.op(vm.OpCallExternal)
			fe.u16(uint16(fid))
			fe.u8(byte(len(t.args)))
			return nil
		}
	}

	if err := fe.emitExpr(t.fn); err != nil {
		return err
	}

	// *args / **kwargs go through CALL_FUNCTION_EX.
	if t.starArg != nil || t.kwArg != nil {
		fe.op(vm.OpBuildList)
		fe.u16(0)
		return fe.emitCallEx(t)
	}

	for _, a := range t.args {
		if err := fe.emitExpr(a); err != nil {
			return err
		}
	}
	if len(t.kwargs) == 0 {
		if len(t.args) > 255 {
			return syntaxErr(t.pos, "too many arguments")
		}
		fe.op(vm.OpCallFunction)
		fe.u8(byte(len(t.args)))
		return nil
	}

	if len(t.args) > 255 || len(t.kwargs) > 255 {
		return syntaxErr(t.pos, "too many arguments")
	}
	for _, kw := range t.kwargs {
		if err := fe.emitExpr(kw.val); err != nil {
			return err
		}
	}
	fe.op(vm.OpCallFunctionKW)
	fe.u8(byte(len(t.args)))
	fe.u8(byte(len(t.kwargs)))
	for _, kw := range t.kwargs {
		fe.u16(uint16(fe.e.prog.Interns.Intern(kw.name)))
	}
	return nil
}

// emitCallEx finishes a CALL_FUNCTION_EX call site: the callee and an
// empty args list are already on the stack.
func (fe *fnEmitter) emitCallEx(t *callExpr) *Error {
	// Positionals are appended one at a time so evaluation order matches
	// the source.
	for _, a := range t.args {
		if err := fe.emitExpr(a); err != nil {
			return err
		}
		fe.op(vm.OpBuildList)
		fe.u16(1)
		fe.op(vm.OpListExtend)
	}
	if t.starArg != nil {
		if err := fe.emitExpr(t.starArg); err != nil {
			return err
		}
		fe.op(vm.OpListExtend)
	}
	fe.op(vm.OpListToTuple)

	flags := byte(0)
	if len(t.kwargs) > 0 || t.kwArg != nil {
		flags = 1
		for _, kw := range t.kwargs {
			fe.op(vm.OpLoadConst)
			fe.u16(uint16(fe.e.constIndex(vm.StrConst(kw.name))))
			if err := fe.emitExpr(kw.val); err != nil {
				return err
			}
		}
		fe.op(vm.OpBuildDict)
		fe.u16(uint16(len(t.kwargs)))
		if t.kwArg != nil {
			if err := fe.emitExpr(t.kwArg); err != nil {
				return err
			}
			fe.op(vm.OpDictMerge)
			fe.u16(1)
		}
	}

	fe.op(vm.OpCallFunctionEx)
	fe.u8(flags)
	return nil
}

// shadowed reports whether name is rebound somewhere that hides the
// external-function slot: a local/cell in the current function, or a
// module-level assignment.
func (fe *fnEmitter) shadowed(name string) bool {
	if !fe.scope.isModule {
		if _, isLocal := fe.slots[name]; isLocal {
			return true
		}
		if _, isCell := fe.cellIndex[name]; isCell {
			return true
		}
	}
	return fe.e.module.stmtBound[name]
}

func (fe *fnEmitter) emitFString(t *fstringExpr) *Error {
	if len(t.parts) > 0xffff {
		return syntaxErr(t.pos, "f-string too large")
	}
	for _, part := range t.parts {
		if !part.isExpr {
			fe.op(vm.OpLoadConst)
			fe.u16(uint16(fe.e.constIndex(vm.StrConst(part.literal))))
			continue
		}
		if err := fe.emitExpr(part.x); err != nil {
			return err
		}
		if err := fe.emitFormatValue(part); err != nil {
			return err
		}
	}
	fe.op(vm.OpBuildFString)
	fe.u16(uint16(len(t.parts)))
	return nil
}

func (fe *fnEmitter) emitFormatValue(part fstringPart) *Error {
	flags := byte(0)
	switch part.conv {
	case 's':
		flags |= 1
	case 'r':
		flags |= 2
	case 'a':
		flags |= 3
	}

	if !part.hasSpec {
		fe.op(vm.OpFormatValue)
		fe.u8(flags)
		return nil
	}

	if spec, isStatic := staticSpecText(part.specParts); isStatic {
		parsed, perr := value.ParseFormatSpec(spec)
		if perr != nil {
			return &Error{Exc: perr}
		}
		if specPackable(parsed) {
			fe.op(vm.OpFormatValue)
			fe.u8(flags | 0x08)
			fe.u16(uint16(fe.e.constIndex(vm.SpecConst(value.EncodeSpec(parsed)))))
			return nil
		}
		// Non-ASCII fill or oversized fields fall back to the dynamic
		// path with a literal spec string.
		fe.op(vm.OpLoadConst)
		fe.u16(uint16(fe.e.constIndex(vm.StrConst(spec))))
		fe.op(vm.OpFormatValue)
		fe.u8(flags | 0x04)
		return nil
	}

	// Dynamic spec: rebuild the spec string at runtime from its parts.
	n := 0
	for _, sp := range part.specParts {
		if sp.isExpr {
			if err := fe.emitExpr(sp.x); err != nil {
				return err
			}
			fe.op(vm.OpFormatValue)
			fe.u8(0)
		} else {
			fe.op(vm.OpLoadConst)
			fe.u16(uint16(fe.e.constIndex(vm.StrConst(sp.literal))))
		}
		n++
	}
	fe.op(vm.OpBuildFString)
	fe.u16(uint16(n))
	fe.op(vm.OpFormatValue)
	fe.u8(flags | 0x04)
	return nil
}

func staticSpecText(parts []fstringPart) (string, bool) {
	if len(parts) == 0 {
		return "", true
	}
	if len(parts) == 1 && !parts[0].isExpr {
		return parts[0].literal, true
	}
	return "", false
}

func specPackable(s value.ParsedFormatSpec) bool {
	return s.Fill < 128 && s.Width <= 127 && s.Precision <= 127
}
