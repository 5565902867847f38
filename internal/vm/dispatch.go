package vm

import (
	"strings"

	"github.com/monty-lang/monty/internal/builtins"
	"github.com/monty-lang/monty/internal/exception"
	"github.com/monty-lang/monty/internal/frame"
	"github.com/monty-lang/monty/internal/heap"
	"github.com/monty-lang/monty/internal/intern"
	"github.com/monty-lang/monty/internal/modules"
	"github.com/monty-lang/monty/internal/rterrors"
	"github.com/monty-lang/monty/internal/value"
)

var binOps = map[Op]value.BinOp{
	OpBinaryAdd: value.OpAdd, OpBinarySub: value.OpSub,
	OpBinaryMul: value.OpMul, OpBinaryDiv: value.OpTrueDiv,
	OpBinaryFloorDiv: value.OpFloorDiv, OpBinaryMod: value.OpMod,
	OpBinaryPow:  value.OpPow,
	OpInplaceAdd: value.OpAdd, OpInplaceSub: value.OpSub,
	OpInplaceMul: value.OpMul, OpInplaceDiv: value.OpTrueDiv,
	OpInplaceFloorDiv: value.OpFloorDiv, OpInplaceMod: value.OpMod,
	OpInplacePow: value.OpPow,
	OpCompareLt:  value.OpLt, OpCompareLe: value.OpLe,
	OpCompareGt: value.OpGt, OpCompareGe: value.OpGe,
}

var bitOps = map[Op]value.BitOp{
	OpBinaryAnd: value.OpAnd, OpBinaryOr: value.OpOr,
	OpBinaryXor: value.OpXor, OpBinaryLShift: value.OpLShift,
	OpBinaryRShift: value.OpRShift, OpBinaryMatMul: value.OpMatMul,
	OpInplaceAnd: value.OpAnd, OpInplaceOr: value.OpOr,
	OpInplaceXor: value.OpXor, OpInplaceLShift: value.OpLShift,
	OpInplaceRShift: value.OpRShift, OpInplaceMatMul: value.OpMatMul,
}

// step decodes and executes one instruction of the top frame. A non-nil
// Exit unwinds the loop; a non-nil error is routed through raise (when
// catchable) or straight out (when terminal).
func (vm *VM) step() (*Exit, error) {
	f := vm.top()
	fn := vm.fn(f)
	code := fn.Code

	if f.PC >= len(code) {
		return nil, exception.NewInternal(rterrors.Bug("vm.step",
			"program counter ran off the end of the code"))
	}

	vm.startPC = f.PC
	pc := f.PC
	op := Op(code[pc])
	pc++

	switch op {
	case OpNop:
		f.PC = pc
		return nil, nil

	case OpPop:
		v, err := vm.pop(f, op)
		if err != nil {
			return nil, err
		}
		vm.drop(v)
		f.PC = pc
		return nil, nil

	case OpDup:
		v, ok := f.Stack.Peek(0)
		if !ok {
			return nil, exception.NewInternal(rterrors.StackUnderflow(op.String(), 1, 0))
		}
		if v.Tag == value.TagRef {
			vm.Heap.IncRef(v.Ref)
		}
		f.Stack.Push(v)
		f.PC = pc
		return nil, nil

	case OpRot2:
		a, ok1 := f.Stack.Peek(0)
		b, ok2 := f.Stack.Peek(1)
		if !ok1 || !ok2 {
			return nil, exception.NewInternal(rterrors.StackUnderflow(op.String(), 2, f.Stack.Len()))
		}
		f.Stack.Set(0, b)
		f.Stack.Set(1, a)
		f.PC = pc
		return nil, nil

	case OpRot3:
		a, _ := f.Stack.Peek(0)
		b, _ := f.Stack.Peek(1)
		c, ok := f.Stack.Peek(2)
		if !ok {
			return nil, exception.NewInternal(rterrors.StackUnderflow(op.String(), 3, f.Stack.Len()))
		}
		f.Stack.Set(0, b)
		f.Stack.Set(1, c)
		f.Stack.Set(2, a)
		f.PC = pc
		return nil, nil

	case OpLoadConst:
		idx := int(vm.readU16(code, &pc))
		c, err := vm.constAt(idx)
		if err != nil {
			return nil, err
		}
		v, err := vm.loadConst(c)
		if err != nil {
			return nil, err
		}
		f.Stack.Push(v)
		f.PC = pc
		return nil, nil

	case OpLoadNone:
		f.Stack.Push(value.None())
		f.PC = pc
		return nil, nil
	case OpLoadTrue:
		f.Stack.Push(value.Bool(true))
		f.PC = pc
		return nil, nil
	case OpLoadFalse:
		f.Stack.Push(value.Bool(false))
		f.PC = pc
		return nil, nil
	case OpLoadSmallInt:
		f.Stack.Push(value.Int(int64(int8(vm.readU8(code, &pc)))))
		f.PC = pc
		return nil, nil

	case OpLoadLocal0, OpLoadLocal1, OpLoadLocal2, OpLoadLocal3:
		return vm.loadLocal(f, fn, int(op-OpLoadLocal0), pc)
	case OpLoadLocal:
		slot := int(vm.readU8(code, &pc))
		return vm.loadLocal(f, fn, slot, pc)
	case OpLoadLocalW:
		slot := int(vm.readU16(code, &pc))
		return vm.loadLocal(f, fn, slot, pc)

	case OpStoreLocal:
		slot := int(vm.readU8(code, &pc))
		return vm.storeLocal(f, slot, pc)
	case OpStoreLocalW:
		slot := int(vm.readU16(code, &pc))
		return vm.storeLocal(f, slot, pc)

	case OpDeleteLocal:
		slot := int(vm.readU8(code, &pc))
		if err := f.NS.Delete(vm.Heap, frame.NamespaceID(slot)); err != nil {
			if exc, ok := exception.Catchable(err); ok {
				return nil, exception.New(exception.NameError,
					"name %q is not defined", vm.localName(fn, slot)).WithCause(exc.Cause)
			}
			return nil, err
		}
		f.PC = pc
		return nil, nil

	case OpLoadGlobal:
		slot := int(vm.readU16(code, &pc))
		g := vm.frames[0].NS
		v, serr := g.Load(frame.NamespaceID(slot))
		if serr != nil {
			return nil, exception.NewInternal(serr)
		}
		if v.IsUndefined() {
			return nil, exception.New(exception.NameError,
				"name %q is not defined", vm.globalName(slot))
		}
		if v.Tag == value.TagRef {
			vm.Heap.IncRef(v.Ref)
		}
		f.Stack.Push(v)
		f.PC = pc
		return nil, nil

	case OpStoreGlobal:
		slot := int(vm.readU16(code, &pc))
		v, err := vm.pop(f, op)
		if err != nil {
			return nil, err
		}
		if serr := vm.frames[0].NS.Store(vm.Heap, frame.NamespaceID(slot), v); serr != nil {
			vm.drop(v)
			return nil, exception.NewInternal(serr)
		}
		f.PC = pc
		return nil, nil

	case OpLoadCell:
		idx := int(vm.readU16(code, &pc))
		if idx >= len(f.Cells) {
			return nil, exception.NewInternal(rterrors.Bug("LOAD_CELL", "cell index out of range"))
		}
		cell := vm.Heap.Get(f.Cells[idx]).(value.Cell)
		if cell.Value.IsUndefined() {
			return nil, exception.New(exception.NameError,
				"free variable referenced before assignment")
		}
		v := cell.Value
		if v.Tag == value.TagRef {
			vm.Heap.IncRef(v.Ref)
		}
		f.Stack.Push(v)
		f.PC = pc
		return nil, nil

	case OpStoreCell:
		idx := int(vm.readU16(code, &pc))
		if idx >= len(f.Cells) {
			return nil, exception.NewInternal(rterrors.Bug("STORE_CELL", "cell index out of range"))
		}
		v, err := vm.pop(f, op)
		if err != nil {
			return nil, err
		}
		id := f.Cells[idx]
		cell := vm.Heap.Get(id).(value.Cell)
		old := cell.Value
		cell.Value = v
		vm.Heap.Replace(id, cell)
		vm.drop(old)
		f.PC = pc
		return nil, nil

	case OpBinaryAdd, OpBinarySub, OpBinaryMul, OpBinaryDiv,
		OpBinaryFloorDiv, OpBinaryMod, OpBinaryPow,
		OpCompareLt, OpCompareLe, OpCompareGt, OpCompareGe:
		b, err := vm.pop(f, op)
		if err != nil {
			return nil, err
		}
		a, err := vm.pop(f, op)
		if err != nil {
			vm.drop(b)
			return nil, err
		}
		res, berr := value.Binary(vm.Heap, binOps[op], a, b)
		vm.drop(a)
		vm.drop(b)
		if berr != nil {
			return nil, berr
		}
		f.Stack.Push(res)
		f.PC = pc
		return nil, nil

	case OpBinaryAnd, OpBinaryOr, OpBinaryXor, OpBinaryLShift,
		OpBinaryRShift, OpBinaryMatMul:
		b, err := vm.pop(f, op)
		if err != nil {
			return nil, err
		}
		a, err := vm.pop(f, op)
		if err != nil {
			vm.drop(b)
			return nil, err
		}
		res, berr := value.Bitwise(vm.Heap, bitOps[op], a, b)
		vm.drop(a)
		vm.drop(b)
		if berr != nil {
			return nil, berr
		}
		f.Stack.Push(res)
		f.PC = pc
		return nil, nil

	case OpInplaceAdd, OpInplaceSub, OpInplaceMul, OpInplaceDiv,
		OpInplaceFloorDiv, OpInplaceMod, OpInplacePow,
		OpInplaceAnd, OpInplaceOr, OpInplaceXor, OpInplaceLShift,
		OpInplaceRShift, OpInplaceMatMul:
		return vm.inplace(f, op, code, pc)

	case OpCompareEq, OpCompareNe:
		b, err := vm.pop(f, op)
		if err != nil {
			return nil, err
		}
		a, err := vm.pop(f, op)
		if err != nil {
			vm.drop(b)
			return nil, err
		}
		eq := value.Eq(vm.Heap, a, b)
		vm.drop(a)
		vm.drop(b)
		f.Stack.Push(value.Bool(eq == (op == OpCompareEq)))
		f.PC = pc
		return nil, nil

	case OpCompareIs, OpCompareIsNot:
		b, err := vm.pop(f, op)
		if err != nil {
			return nil, err
		}
		a, err := vm.pop(f, op)
		if err != nil {
			vm.drop(b)
			return nil, err
		}
		same := identical(a, b)
		vm.drop(a)
		vm.drop(b)
		f.Stack.Push(value.Bool(same == (op == OpCompareIs)))
		f.PC = pc
		return nil, nil

	case OpCompareIn, OpCompareNotIn:
		container, err := vm.pop(f, op)
		if err != nil {
			return nil, err
		}
		item, err := vm.pop(f, op)
		if err != nil {
			vm.drop(container)
			return nil, err
		}
		found, cerr := value.Contains(vm.Heap, container, item)
		vm.drop(container)
		vm.drop(item)
		if cerr != nil {
			return nil, cerr
		}
		f.Stack.Push(value.Bool(found == (op == OpCompareIn)))
		f.PC = pc
		return nil, nil

	case OpCompareModEq:
		idx := int(vm.readU16(code, &pc))
		c, err := vm.constAt(idx)
		if err != nil {
			return nil, err
		}
		b, err := vm.pop(f, op)
		if err != nil {
			return nil, err
		}
		a, err := vm.pop(f, op)
		if err != nil {
			vm.drop(b)
			return nil, err
		}
		rem, merr := value.Binary(vm.Heap, value.OpMod, a, b)
		vm.drop(a)
		vm.drop(b)
		if merr != nil {
			return nil, merr
		}
		eq := value.Eq(vm.Heap, rem, value.Int(c.Int))
		vm.drop(rem)
		f.Stack.Push(value.Bool(eq))
		f.PC = pc
		return nil, nil

	case OpUnaryNot, OpUnaryNeg, OpUnaryPos, OpUnaryInvert:
		v, err := vm.pop(f, op)
		if err != nil {
			return nil, err
		}
		uop := map[Op]value.UnaryOp{
			OpUnaryNot: value.OpNot, OpUnaryNeg: value.OpNeg,
			OpUnaryPos: value.OpPos, OpUnaryInvert: value.OpInvert,
		}[op]
		res, uerr := value.Unary(vm.Heap, uop, v)
		vm.drop(v)
		if uerr != nil {
			return nil, uerr
		}
		f.Stack.Push(res)
		f.PC = pc
		return nil, nil

	case OpBuildList, OpBuildTuple, OpBuildSet:
		n := int(vm.readU16(code, &pc))
		items, err := vm.popN(f, op, n)
		if err != nil {
			return nil, err
		}
		v, berr := vm.buildContainer(op, items)
		if berr != nil {
			return nil, berr
		}
		f.Stack.Push(v)
		f.PC = pc
		return nil, nil

	case OpBuildDict:
		n := int(vm.readU16(code, &pc))
		items, err := vm.popN(f, op, 2*n)
		if err != nil {
			return nil, err
		}
		d := value.NewDict()
		for i := 0; i < len(items); i += 2 {
			k, v := items[i], items[i+1]
			if old, found := d.Get(vm.Heap, k); found {
				d.Put(vm.Heap, k, v)
				vm.drop(k)
				vm.drop(old)
			} else {
				d.Put(vm.Heap, k, v)
			}
		}
		id, rerr := vm.Heap.Allocate(*d)
		if rerr != nil {
			for _, e := range d.Entries {
				vm.drop(e.Key)
				vm.drop(e.Val)
			}
			return nil, rerr
		}
		f.Stack.Push(value.Ref(id))
		f.PC = pc
		return nil, nil

	case OpBuildFString:
		n := int(vm.readU16(code, &pc))
		items, err := vm.popN(f, op, n)
		if err != nil {
			return nil, err
		}
		var b strings.Builder
		for _, v := range items {
			b.WriteString(value.ToStr(vm.Heap, vm.Prog.Interns, v))
			vm.drop(v)
		}
		id, rerr := vm.Heap.Allocate(value.Str{S: b.String()})
		if rerr != nil {
			return nil, rerr
		}
		f.Stack.Push(value.Ref(id))
		f.PC = pc
		return nil, nil

	case OpFormatValue:
		return vm.formatValue(f, code, pc)

	case OpListExtend:
		iterable, err := vm.pop(f, op)
		if err != nil {
			return nil, err
		}
		target, ok := f.Stack.Peek(0)
		if !ok || target.Tag != value.TagRef {
			vm.drop(iterable)
			return nil, exception.NewInternal(rterrors.Bug("LIST_EXTEND", "no list under TOS"))
		}
		if err := vm.extendList(target.Ref, iterable); err != nil {
			return nil, err
		}
		f.PC = pc
		return nil, nil

	case OpListToTuple:
		v, err := vm.pop(f, op)
		if err != nil {
			return nil, err
		}
		if v.Tag != value.TagRef {
			vm.drop(v)
			return nil, exception.NewInternal(rterrors.Bug("LIST_TO_TUPLE", "TOS is not a list"))
		}
		lst, ok := vm.Heap.Get(v.Ref).(value.List)
		if !ok {
			vm.drop(v)
			return nil, exception.NewInternal(rterrors.Bug("LIST_TO_TUPLE", "TOS is not a list"))
		}
		items := make([]value.Value, len(lst.Items))
		copy(items, lst.Items)
		for _, item := range items {
			if item.Tag == value.TagRef {
				vm.Heap.IncRef(item.Ref)
			}
		}
		id, rerr := vm.Heap.Allocate(value.Tuple{Items: items})
		if rerr != nil {
			for _, item := range items {
				vm.drop(item)
			}
			vm.drop(v)
			return nil, rerr
		}
		vm.drop(v)
		f.Stack.Push(value.Ref(id))
		f.PC = pc
		return nil, nil

	case OpDictMerge:
		n := int(vm.readU16(code, &pc))
		for i := 0; i < n; i++ {
			src, err := vm.pop(f, op)
			if err != nil {
				return nil, err
			}
			target, ok := f.Stack.Peek(0)
			if !ok || target.Tag != value.TagRef {
				vm.drop(src)
				return nil, exception.NewInternal(rterrors.Bug("DICT_MERGE", "no dict under TOS"))
			}
			if err := vm.mergeDict(target.Ref, src); err != nil {
				return nil, err
			}
		}
		f.PC = pc
		return nil, nil

	case OpBinarySubscr:
		key, err := vm.pop(f, op)
		if err != nil {
			return nil, err
		}
		container, err := vm.pop(f, op)
		if err != nil {
			vm.drop(key)
			return nil, err
		}
		res, gerr := value.GetItem(vm.Heap, container, key)
		vm.drop(container)
		vm.drop(key)
		if gerr != nil {
			return nil, gerr
		}
		f.Stack.Push(res)
		f.PC = pc
		return nil, nil

	case OpStoreSubscr:
		// Stack: val, container, key (key on top).
		key, err := vm.pop(f, op)
		if err != nil {
			return nil, err
		}
		container, err := vm.pop(f, op)
		if err != nil {
			vm.drop(key)
			return nil, err
		}
		val, err := vm.pop(f, op)
		if err != nil {
			vm.drop(key)
			vm.drop(container)
			return nil, err
		}
		if serr := value.SetItem(vm.Heap, container, key, val); serr != nil {
			vm.drop(key)
			vm.drop(val)
			vm.drop(container)
			return nil, serr
		}
		vm.drop(container)
		f.PC = pc
		return nil, nil

	case OpDeleteSubscr:
		key, err := vm.pop(f, op)
		if err != nil {
			return nil, err
		}
		container, err := vm.pop(f, op)
		if err != nil {
			vm.drop(key)
			return nil, err
		}
		derr := value.DelItem(vm.Heap, container, key)
		vm.drop(container)
		vm.drop(key)
		if derr != nil {
			return nil, derr
		}
		f.PC = pc
		return nil, nil

	case OpLoadAttr:
		nameID := intern.StringID(vm.readU16(code, &pc))
		return vm.loadAttr(f, nameID, pc)

	case OpStoreAttr:
		nameID := intern.StringID(vm.readU16(code, &pc))
		return vm.storeAttr(f, nameID, pc)

	case OpDeleteAttr:
		nameID := intern.StringID(vm.readU16(code, &pc))
		return vm.deleteAttr(f, nameID, pc)

	case OpCallFunction:
		argc := int(vm.readU8(code, &pc))
		return vm.callFunction(f, argc, nil, pc)

	case OpCallFunctionKW:
		posc := int(vm.readU8(code, &pc))
		kwc := int(vm.readU8(code, &pc))
		kwNames := make([]intern.StringID, kwc)
		for i := 0; i < kwc; i++ {
			kwNames[i] = intern.StringID(vm.readU16(code, &pc))
		}
		return vm.callFunction(f, posc, kwNames, pc)

	case OpCallMethod:
		nameID := intern.StringID(vm.readU16(code, &pc))
		argc := int(vm.readU8(code, &pc))
		return vm.callMethod(f, nameID, argc, pc)

	case OpCallExternal:
		fid := int(vm.readU16(code, &pc))
		argc := int(vm.readU8(code, &pc))
		args, err := vm.popN(f, OpCallExternal, argc)
		if err != nil {
			return nil, err
		}
		f.PC = pc
		return vm.suspend(value.ExtFuncID(fid), args, nil)

	case OpCallFunctionEx:
		flags := vm.readU8(code, &pc)
		return vm.callFunctionEx(f, flags, pc)

	case OpJump:
		off := int(vm.readI16(code, &pc))
		f.PC = pc + off
		return nil, nil

	case OpJumpIfTrue, OpJumpIfFalse:
		off := int(vm.readI16(code, &pc))
		v, err := vm.pop(f, op)
		if err != nil {
			return nil, err
		}
		truthy := value.Truthy(vm.Heap, v)
		vm.drop(v)
		if truthy == (op == OpJumpIfTrue) {
			f.PC = pc + off
		} else {
			f.PC = pc
		}
		return nil, nil

	case OpJumpIfTrueOrPop, OpJumpIfFalseOrPop:
		off := int(vm.readI16(code, &pc))
		v, ok := f.Stack.Peek(0)
		if !ok {
			return nil, exception.NewInternal(rterrors.StackUnderflow(op.String(), 1, 0))
		}
		truthy := value.Truthy(vm.Heap, v)
		if truthy == (op == OpJumpIfTrueOrPop) {
			f.PC = pc + off
		} else {
			popped, _ := f.Stack.Pop()
			vm.drop(popped)
			f.PC = pc
		}
		return nil, nil

	case OpGetIter:
		src, err := vm.pop(f, op)
		if err != nil {
			return nil, err
		}
		it, ierr := value.NewIterator(vm.Heap, src)
		if ierr != nil {
			vm.drop(src)
			return nil, ierr
		}
		f.Stack.Push(it)
		f.PC = pc
		return nil, nil

	case OpForIter:
		off := int(vm.readI16(code, &pc))
		it, ok := f.Stack.Peek(0)
		if !ok || it.Tag != value.TagRef {
			return nil, exception.NewInternal(rterrors.Bug("FOR_ITER", "TOS is not an iterator"))
		}
		elem, more, ierr := value.IterNext(vm.Heap, it.Ref)
		if ierr != nil {
			return nil, ierr
		}
		if more {
			f.Stack.Push(elem)
			f.PC = pc
		} else {
			popped, _ := f.Stack.Pop()
			vm.drop(popped)
			f.PC = pc + off
		}
		return nil, nil

	case OpMakeFunction:
		idx := int(vm.readU16(code, &pc))
		return vm.makeFunction(f, idx, nil, pc)

	case OpMakeClosure:
		idx := int(vm.readU16(code, &pc))
		n := int(vm.readU8(code, &pc))
		cellIdx := make([]int, n)
		for i := 0; i < n; i++ {
			cellIdx[i] = int(vm.readU8(code, &pc))
		}
		return vm.makeFunction(f, idx, cellIdx, pc)

	case OpRaise:
		v, err := vm.pop(f, op)
		if err != nil {
			return nil, err
		}
		exc, rerr := vm.excFromValue(v)
		vm.drop(v)
		if rerr != nil {
			return nil, rerr
		}
		return nil, exc

	case OpRaiseFrom:
		cause, err := vm.pop(f, op)
		if err != nil {
			return nil, err
		}
		v, err := vm.pop(f, op)
		if err != nil {
			vm.drop(cause)
			return nil, err
		}
		causeExc, cerr := vm.excFromValue(cause)
		vm.drop(cause)
		if cerr != nil {
			vm.drop(v)
			return nil, cerr
		}
		exc, rerr := vm.excFromValue(v)
		vm.drop(v)
		if rerr != nil {
			return nil, rerr
		}
		return nil, exc.WithCause(causeExc)

	case OpReraise:
		if vm.current == nil {
			return nil, exception.NewInternal(rterrors.Bug("RERAISE", "no exception is being handled"))
		}
		exc := vm.current
		vm.current = nil
		return nil, exc

	case OpClearException:
		vm.current = nil
		f.PC = pc
		return nil, nil

	case OpCheckExcMatch:
		typ, err := vm.pop(f, op)
		if err != nil {
			return nil, err
		}
		excVal, ok := f.Stack.Peek(0)
		if !ok {
			vm.drop(typ)
			return nil, exception.NewInternal(rterrors.StackUnderflow(op.String(), 1, 0))
		}
		match := false
		if typ.Tag == value.TagBuiltin {
			if kind, isExc := builtins.ExcKindOf(typ.Native); isExc {
				if excVal.Tag == value.TagRef {
					if e, isE := vm.Heap.Get(excVal.Ref).(value.Exc); isE {
						match = e.E.Kind == kind
					}
				}
			}
		}
		vm.drop(typ)
		f.Stack.Push(value.Bool(match))
		f.PC = pc
		return nil, nil

	case OpReturnValue:
		v, err := vm.pop(f, op)
		if err != nil {
			return nil, err
		}
		if len(vm.frames) == 1 {
			f.Stack.DropAll(vm.Heap)
			f.PC = pc
			return &Exit{Kind: ExitReturn, Value: v}, nil
		}
		f.Drop(vm.Heap, true)
		vm.frames = vm.frames[:len(vm.frames)-1]
		vm.top().Stack.Push(v)
		return nil, nil

	case OpUnpackSequence:
		n := int(vm.readU8(code, &pc))
		return vm.unpack(f, n, -1, pc)

	case OpUnpackEx:
		before := int(vm.readU8(code, &pc))
		after := int(vm.readU8(code, &pc))
		return vm.unpack(f, before, after, pc)

	default:
		return nil, exception.NewInternal(rterrors.UnknownOpcode(byte(op), vm.startPC))
	}
}

func identical(a, b value.Value) bool {
	if a.Tag != b.Tag {
		return false
	}
	switch a.Tag {
	case value.TagNone, value.TagUndefined:
		return true
	case value.TagBool:
		return a.Bool == b.Bool
	case value.TagInt:
		return a.Int == b.Int
	case value.TagInternString:
		return a.Str == b.Str
	case value.TagBuiltin:
		return a.Native == b.Native
	case value.TagDefFunction:
		return a.Def == b.Def
	case value.TagExtFunction:
		return a.Ext == b.Ext
	case value.TagRef:
		return a.Ref == b.Ref
	default:
		return false
	}
}

func (vm *VM) loadLocal(f *frame.Frame, fn *Function, slot, pc int) (*Exit, error) {
	v, serr := f.NS.Load(frame.NamespaceID(slot))
	if serr != nil {
		return nil, exception.NewInternal(serr)
	}
	if v.IsUndefined() {
		return nil, exception.New(exception.NameError,
			"name %q is not defined", vm.localName(fn, slot))
	}
	if v.Tag == value.TagRef {
		vm.Heap.IncRef(v.Ref)
	}
	f.Stack.Push(v)
	f.PC = pc
	return nil, nil
}

func (vm *VM) storeLocal(f *frame.Frame, slot, pc int) (*Exit, error) {
	v, err := vm.pop(f, OpStoreLocal)
	if err != nil {
		return nil, err
	}
	if serr := f.NS.Store(vm.Heap, frame.NamespaceID(slot), v); serr != nil {
		vm.drop(v)
		return nil, exception.NewInternal(serr)
	}
	f.PC = pc
	return nil, nil
}

// inplace shares the binary dispatch but mutates lists in place for +=,
// matching the reference language's list semantics.
func (vm *VM) inplace(f *frame.Frame, op Op, code []byte, pc int) (*Exit, error) {
	b, err := vm.pop(f, op)
	if err != nil {
		return nil, err
	}
	a, err := vm.pop(f, op)
	if err != nil {
		vm.drop(b)
		return nil, err
	}

	if op == OpInplaceAdd && a.Tag == value.TagRef {
		if _, isList := vm.Heap.Get(a.Ref).(value.List); isList {
			if err := vm.extendList(a.Ref, b); err != nil {
				vm.drop(a)
				return nil, err
			}
			f.Stack.Push(a)
			f.PC = pc
			return nil, nil
		}
	}

	var res value.Value
	var berr error
	if bop, isBin := binOps[op]; isBin {
		res, berr = value.Binary(vm.Heap, bop, a, b)
	} else {
		res, berr = value.Bitwise(vm.Heap, bitOps[op], a, b)
	}
	vm.drop(a)
	vm.drop(b)
	if berr != nil {
		return nil, berr
	}
	f.Stack.Push(res)
	f.PC = pc
	return nil, nil
}

func (vm *VM) popN(f *frame.Frame, op Op, n int) ([]value.Value, error) {
	if f.Stack.Len() < n {
		return nil, exception.NewInternal(rterrors.StackUnderflow(op.String(), n, f.Stack.Len()))
	}
	out := make([]value.Value, n)
	for i := n - 1; i >= 0; i-- {
		v, _ := f.Stack.Pop()
		out[i] = v
	}
	return out, nil
}

func (vm *VM) buildContainer(op Op, items []value.Value) (value.Value, error) {
	var data heap.Data
	switch op {
	case OpBuildList:
		data = value.List{Items: items}
	case OpBuildTuple:
		data = value.Tuple{Items: items}
	case OpBuildSet:
		s := value.NewSet()
		for _, v := range items {
			if !s.Add(vm.Heap, v) {
				vm.drop(v)
			}
		}
		data = *s
	}
	id, rerr := vm.Heap.Allocate(data)
	if rerr != nil {
		for _, v := range items {
			vm.drop(v)
		}
		return value.Value{}, rerr
	}
	return value.Ref(id), nil
}

func (vm *VM) loadConst(c Const) (value.Value, error) {
	switch c.Kind {
	case ConstInt:
		return value.Int(c.Int), nil
	case ConstFloat:
		id, rerr := vm.Heap.Allocate(value.Float{F: c.Float})
		if rerr != nil {
			return value.Value{}, rerr
		}
		return value.Ref(id), nil
	case ConstStr:
		id, rerr := vm.Heap.Allocate(value.Str{S: c.Str})
		if rerr != nil {
			return value.Value{}, rerr
		}
		return value.Ref(id), nil
	case ConstBuiltin:
		return value.Builtin(c.Builtin), nil
	case ConstModule:
		name := vm.Prog.Interns.MustLookup(c.Name)
		if cached, ok := vm.moduleCache[name]; ok {
			if cached.Tag == value.TagRef {
				vm.Heap.IncRef(cached.Ref)
			}
			return cached, nil
		}
		mod, err := modules.Load(vm.Heap, vm.Prog.Interns, name)
		if err != nil {
			return value.Value{}, err
		}
		vm.moduleCache[name] = mod
		if mod.Tag == value.TagRef {
			vm.Heap.IncRef(mod.Ref)
		}
		return mod, nil
	default:
		return value.Value{}, exception.NewInternal(rterrors.New(
			rterrors.CategoryConstant, "BAD_CONST_KIND",
			"constant kind cannot be loaded directly", nil))
	}
}

// extendList appends every element of iterable to the list at id, taking
// over iterable's share.
func (vm *VM) extendList(id heap.ID, iterable value.Value) error {
	itRef, err := value.NewIterator(vm.Heap, iterable)
	if err != nil {
		vm.drop(iterable)
		return err
	}
	for {
		elem, more, ierr := value.IterNext(vm.Heap, itRef.Ref)
		if ierr != nil {
			vm.Heap.DecRef(itRef.Ref)
			return ierr
		}
		if !more {
			break
		}
		lst := vm.Heap.Get(id).(value.List)
		lst.Items = append(lst.Items, elem)
		vm.Heap.Replace(id, lst)
	}
	vm.Heap.DecRef(itRef.Ref)
	return nil
}

// mergeDict merges src (a dict, ownership taken) into the dict at id.
func (vm *VM) mergeDict(id heap.ID, src value.Value) error {
	if src.Tag != value.TagRef {
		vm.drop(src)
		return exception.New(exception.TypeError, "argument must be a mapping")
	}
	sd, ok := vm.Heap.Get(src.Ref).(value.Dict)
	if !ok {
		tn := src.TypeName(vm.Heap)
		vm.drop(src)
		return exception.New(exception.TypeError, "%q object is not a mapping", tn)
	}

	td := vm.Heap.Get(id).(value.Dict)
	for _, e := range sd.Entries {
		if e.Key.Tag == value.TagUndefined {
			continue
		}
		k, v := e.Key, e.Val
		if k.Tag == value.TagRef {
			vm.Heap.IncRef(k.Ref)
		}
		if v.Tag == value.TagRef {
			vm.Heap.IncRef(v.Ref)
		}
		if old, found := td.Get(vm.Heap, k); found {
			td.Put(vm.Heap, k, v)
			vm.drop(k)
			vm.drop(old)
		} else {
			td.Put(vm.Heap, k, v)
		}
	}
	vm.Heap.Replace(id, td)
	vm.drop(src)
	return nil
}

func (vm *VM) unpack(f *frame.Frame, before, after, pc int) (*Exit, error) {
	seq, err := vm.pop(f, OpUnpackSequence)
	if err != nil {
		return nil, err
	}
	items, ok := unpackItems(vm, seq)
	if !ok {
		tn := seq.TypeName(vm.Heap)
		vm.drop(seq)
		return nil, exception.New(exception.TypeError,
			"cannot unpack non-sequence %q object", tn)
	}

	if after < 0 {
		// UNPACK_SEQUENCE: exact arity.
		if len(items) != before {
			vm.drop(seq)
			if len(items) < before {
				return nil, exception.New(exception.ValueError,
					"not enough values to unpack (expected %d, got %d)", before, len(items))
			}
			return nil, exception.New(exception.ValueError,
				"too many values to unpack (expected %d)", before)
		}
		for i := len(items) - 1; i >= 0; i-- {
			v := items[i]
			if v.Tag == value.TagRef {
				vm.Heap.IncRef(v.Ref)
			}
			f.Stack.Push(v)
		}
		vm.drop(seq)
		f.PC = pc
		return nil, nil
	}

	// UNPACK_EX: before fixed targets, a starred list, after fixed.
	if len(items) < before+after {
		vm.drop(seq)
		return nil, exception.New(exception.ValueError,
			"not enough values to unpack (expected at least %d, got %d)", before+after, len(items))
	}
	mid := make([]value.Value, len(items)-before-after)
	copy(mid, items[before:len(items)-after])
	for _, v := range mid {
		if v.Tag == value.TagRef {
			vm.Heap.IncRef(v.Ref)
		}
	}
	midID, rerr := vm.Heap.Allocate(value.List{Items: mid})
	if rerr != nil {
		for _, v := range mid {
			vm.drop(v)
		}
		vm.drop(seq)
		return nil, rerr
	}

	for i := len(items) - 1; i >= len(items)-after; i-- {
		v := items[i]
		if v.Tag == value.TagRef {
			vm.Heap.IncRef(v.Ref)
		}
		f.Stack.Push(v)
	}
	f.Stack.Push(value.Ref(midID))
	for i := before - 1; i >= 0; i-- {
		v := items[i]
		if v.Tag == value.TagRef {
			vm.Heap.IncRef(v.Ref)
		}
		f.Stack.Push(v)
	}
	vm.drop(seq)
	f.PC = pc
	return nil, nil
}

func unpackItems(vm *VM, seq value.Value) ([]value.Value, bool) {
	if seq.Tag != value.TagRef {
		return nil, false
	}
	switch d := vm.Heap.Get(seq.Ref).(type) {
	case value.List:
		return d.Items, true
	case value.Tuple:
		return d.Items, true
	case value.NamedTuple:
		return d.Items, true
	default:
		return nil, false
	}
}

func (vm *VM) excFromValue(v value.Value) (*exception.Exception, error) {
	if v.Tag == value.TagRef {
		if e, ok := vm.Heap.Get(v.Ref).(value.Exc); ok {
			return e.E, nil
		}
	}
	if v.Tag == value.TagBuiltin {
		if kind, ok := builtins.ExcKindOf(v.Native); ok {
			return &exception.Exception{Kind: kind}, nil
		}
	}
	return nil, exception.New(exception.TypeError,
		"exceptions must derive from BaseException")
}
