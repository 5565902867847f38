package vm

import (
	"github.com/monty-lang/monty/internal/exception"
	"github.com/monty-lang/monty/internal/frame"
	"github.com/monty-lang/monty/internal/rterrors"
	"github.com/monty-lang/monty/internal/value"
)

// FORMAT_VALUE flag bits.
const (
	fmtConvMask    = 0x03 // 0 none, 1 str, 2 repr, 3 ascii
	fmtSpecOnStack = 0x04
	fmtStaticSpec  = 0x08
)

var convChars = [...]byte{0, 's', 'r', 'a'}

// formatValue implements FORMAT_VALUE: pop an optional dynamic spec
// string, pop the value, apply conversion and format spec, push the
// rendered heap string.
func (vm *VM) formatValue(f *frame.Frame, code []byte, pc int) (*Exit, error) {
	flags := vm.readU8(code, &pc)

	spec := value.ParsedFormatSpec{Precision: value.PrecisionNone}
	haveSpec := false

	if flags&fmtStaticSpec != 0 {
		idx := int(vm.readU16(code, &pc))
		c, err := vm.constAt(idx)
		if err != nil {
			return nil, err
		}
		if c.Kind != ConstSpec || !value.IsSpecConst(c.Spec) {
			return nil, exception.NewInternal(rterrors.New(rterrors.CategoryConstant,
				"BAD_SPEC_CONST", "FORMAT_VALUE static spec index does not hold a packed spec", nil))
		}
		spec = value.DecodeSpec(c.Spec)
		haveSpec = true
	}

	if flags&fmtSpecOnStack != 0 {
		specVal, err := vm.pop(f, OpFormatValue)
		if err != nil {
			return nil, err
		}
		text := value.ToStr(vm.Heap, vm.Prog.Interns, specVal)
		vm.drop(specVal)
		parsed, perr := value.ParseFormatSpec(text)
		if perr != nil {
			// Dropping the value still on the stack keeps the raise path
			// balanced.
			if v, ok := f.Stack.Pop(); ok {
				vm.drop(v)
			}
			return nil, perr
		}
		spec = parsed
		haveSpec = true
	}

	v, err := vm.pop(f, OpFormatValue)
	if err != nil {
		return nil, err
	}

	var out string
	conv := convChars[flags&fmtConvMask]
	switch {
	case conv != 0 && haveSpec:
		// Conversion first, then the spec applies to the resulting string.
		s := value.Convert(vm.Heap, vm.Prog.Interns, v, conv)
		vm.drop(v)
		tmpID, rerr := vm.Heap.Allocate(value.Str{S: s})
		if rerr != nil {
			return nil, rerr
		}
		formatted, ferr := value.Format(vm.Heap, vm.Prog.Interns, value.Ref(tmpID), spec)
		vm.Heap.DecRef(tmpID)
		if ferr != nil {
			return nil, ferr
		}
		out = formatted
	case conv != 0:
		out = value.Convert(vm.Heap, vm.Prog.Interns, v, conv)
		vm.drop(v)
	case haveSpec:
		formatted, ferr := value.Format(vm.Heap, vm.Prog.Interns, v, spec)
		vm.drop(v)
		if ferr != nil {
			return nil, ferr
		}
		out = formatted
	default:
		out = value.ToStr(vm.Heap, vm.Prog.Interns, v)
		vm.drop(v)
	}

	id, rerr := vm.Heap.Allocate(value.Str{S: out})
	if rerr != nil {
		return nil, rerr
	}
	f.Stack.Push(value.Ref(id))
	f.PC = pc
	return nil, nil
}
