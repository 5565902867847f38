package vm

import (
	"github.com/monty-lang/monty/internal/builtins"
	"github.com/monty-lang/monty/internal/exception"
	"github.com/monty-lang/monty/internal/frame"
	"github.com/monty-lang/monty/internal/heap"
	"github.com/monty-lang/monty/internal/intern"
	"github.com/monty-lang/monty/internal/rterrors"
	"github.com/monty-lang/monty/internal/value"
)

// callFunction handles CALL_FUNCTION and CALL_FUNCTION_KW. The stack is
// callee, positional..., keyword-values...; kwNames (nil for plain calls)
// names the trailing keyword values in push order.
func (vm *VM) callFunction(f *frame.Frame, posc int, kwNames []intern.StringID, pc int) (*Exit, error) {
	kwVals, err := vm.popN(f, OpCallFunction, len(kwNames))
	if err != nil {
		return nil, err
	}
	args, err := vm.popN(f, OpCallFunction, posc)
	if err != nil {
		for _, v := range kwVals {
			vm.drop(v)
		}
		return nil, err
	}
	callee, err := vm.pop(f, OpCallFunction)
	if err != nil {
		for _, v := range kwVals {
			vm.drop(v)
		}
		for _, v := range args {
			vm.drop(v)
		}
		return nil, err
	}

	kwargs := make([]builtins.KV, len(kwNames))
	for i, name := range kwNames {
		kwargs[i] = builtins.KV{Name: name, Val: kwVals[i]}
	}

	f.PC = pc
	return vm.dispatchCall(f, callee, args, kwargs)
}

// dispatchCall routes a call to the right engine once callee and owned
// args are in hand. The caller has already committed f.PC to the
// instruction after the call, so pushed frames return to the right spot
// and suspensions resume there.
func (vm *VM) dispatchCall(f *frame.Frame, callee value.Value, args []value.Value, kwargs []builtins.KV) (*Exit, error) {
	switch callee.Tag {
	case value.TagBuiltin:
		res, err := builtins.Call(vm.Ctx, callee.Native, args, kwargs)
		if err != nil {
			return nil, err
		}
		f.Stack.Push(res)
		return nil, nil

	case value.TagDefFunction:
		err := vm.pushFrame(int(callee.Def), args, kwargs, nil, nil)
		return nil, err

	case value.TagExtFunction:
		kvs := make([]KV, 0, len(kwargs))
		for _, kv := range kwargs {
			kid, rerr := vm.Heap.Allocate(value.Str{S: vm.Prog.Interns.MustLookup(kv.Name)})
			if rerr != nil {
				for _, v := range args {
					vm.drop(v)
				}
				for _, kv2 := range kwargs {
					vm.drop(kv2.Val)
				}
				for _, done := range kvs {
					vm.drop(done.Key)
					vm.drop(done.Val)
				}
				return nil, rerr
			}
			kvs = append(kvs, KV{Key: value.Ref(kid), Val: kv.Val})
		}
		return vm.suspend(callee.Ext, args, kvs)

	case value.TagRef:
		if c, ok := vm.Heap.Get(callee.Ref).(value.Closure); ok {
			var defaults []value.Value
			if c.HasDefaults {
				defaults = vm.Heap.Get(c.Defaults).(value.FunctionDefaults).Values
			}
			err := vm.pushFrame(int(c.Func), args, kwargs, c.Cells, defaults)
			vm.drop(callee)
			return nil, err
		}
	}

	tn := callee.TypeName(vm.Heap)
	vm.drop(callee)
	for _, v := range args {
		vm.drop(v)
	}
	for _, kv := range kwargs {
		vm.drop(kv.Val)
	}
	return nil, exception.New(exception.TypeError, "%q object is not callable", tn)
}

// pushFrame binds args into a new frame for function fnIdx and makes it
// current. Ownership of args/kwarg values transfers into the namespace;
// on binding errors everything is released here.
func (vm *VM) pushFrame(fnIdx int, args []value.Value, kwargs []builtins.KV, closureCells []heap.ID, defaults []value.Value) error {
	if fnIdx >= len(vm.Prog.Functions) {
		return exception.NewInternal(rterrors.Bug("pushFrame", "function index out of range"))
	}
	fn := vm.Prog.Functions[fnIdx]

	dropAll := func() {
		for _, v := range args {
			vm.drop(v)
		}
		for _, kv := range kwargs {
			vm.drop(kv.Val)
		}
	}

	nparams := len(fn.Params)
	if len(args) > nparams {
		dropAll()
		return exception.New(exception.TypeError,
			"%s() takes %d positional argument(s) but %d were given",
			fn.Name, nparams, len(args))
	}

	bound := make([]value.Value, nparams)
	have := make([]bool, nparams)
	for i, v := range args {
		bound[i] = v
		have[i] = true
	}

	for ki, kv := range kwargs {
		// On failure: everything already bound (positionals plus earlier
		// keywords) lives in bound; the current and later keywords do not.
		fail := func(exc *exception.Exception) error {
			for i, b := range bound {
				if have[i] {
					vm.drop(b)
					have[i] = false
				}
			}
			for _, kv2 := range kwargs[ki:] {
				vm.drop(kv2.Val)
			}
			return exc
		}

		slot := -1
		for i, p := range fn.Params {
			if p == kv.Name {
				slot = i
				break
			}
		}
		if slot < 0 {
			return fail(exception.New(exception.TypeError,
				"%s() got an unexpected keyword argument %q",
				fn.Name, vm.Prog.Interns.MustLookup(kv.Name)))
		}
		if have[slot] {
			return fail(exception.New(exception.TypeError,
				"%s() got multiple values for argument %q",
				fn.Name, vm.Prog.Interns.MustLookup(kv.Name)))
		}
		bound[slot] = kv.Val
		have[slot] = true
	}

	firstDefault := nparams - len(defaults)
	for i := 0; i < nparams; i++ {
		if have[i] {
			continue
		}
		if i >= firstDefault {
			d := defaults[i-firstDefault]
			if d.Tag == value.TagRef {
				vm.Heap.IncRef(d.Ref)
			}
			bound[i] = d
			have[i] = true
			continue
		}
		for j, b := range bound {
			if have[j] {
				vm.drop(b)
				have[j] = false
			}
		}
		return exception.New(exception.TypeError,
			"%s() missing required argument %q",
			fn.Name, vm.Prog.Interns.MustLookup(fn.Params[i]))
	}

	nf := frame.New(fnIdx, fn.NumLocals)
	for i, v := range bound {
		nf.NS.StoreRaw(frame.NamespaceID(i), v)
	}

	// Cells: the closure's captured cells first, then fresh cells for
	// locals this function shares downward.
	nf.Cells = make([]heap.ID, 0, len(closureCells)+fn.NumCells)
	for _, id := range closureCells {
		vm.Heap.IncRef(id)
		nf.Cells = append(nf.Cells, id)
	}
	for i := 0; i < fn.NumCells; i++ {
		id, rerr := vm.Heap.Allocate(value.Cell{Value: value.Undefined()})
		if rerr != nil {
			nf.Drop(vm.Heap, true)
			return rerr
		}
		nf.Cells = append(nf.Cells, id)
	}
	for _, ci := range fn.CellInits {
		cellID := nf.Cells[len(closureCells)+ci.Cell]
		v, serr := nf.NS.Load(frame.NamespaceID(ci.Param))
		if serr != nil {
			nf.Drop(vm.Heap, true)
			return exception.NewInternal(serr)
		}
		cell := vm.Heap.Get(cellID).(value.Cell)
		cell.Value = v
		vm.Heap.Replace(cellID, cell)
		nf.NS.StoreRaw(frame.NamespaceID(ci.Param), value.Undefined())
	}

	vm.frames = append(vm.frames, nf)
	return nil
}

// callMethod handles CALL_METHOD: stack is recv, args...; module members
// route through the normal call path, everything else through the
// built-in method table.
func (vm *VM) callMethod(f *frame.Frame, nameID intern.StringID, argc, pc int) (*Exit, error) {
	args, err := vm.popN(f, OpCallMethod, argc)
	if err != nil {
		return nil, err
	}
	recv, err := vm.pop(f, OpCallMethod)
	if err != nil {
		for _, v := range args {
			vm.drop(v)
		}
		return nil, err
	}

	f.PC = pc

	if recv.Tag == value.TagRef {
		if mod, ok := vm.Heap.Get(recv.Ref).(value.Module); ok {
			member, found := mod.Members[nameID]
			if !found {
				vm.drop(recv)
				for _, v := range args {
					vm.drop(v)
				}
				return nil, exception.New(exception.AttributeError,
					"module %q has no attribute %q",
					vm.Prog.Interns.MustLookup(mod.Name), vm.Prog.Interns.MustLookup(nameID))
			}
			if member.Tag == value.TagRef {
				vm.Heap.IncRef(member.Ref)
			}
			vm.drop(recv)
			return vm.dispatchCall(f, member, args, nil)
		}
	}

	res, merr := builtins.CallMethod(vm.Ctx, recv, vm.Prog.Interns.MustLookup(nameID), args)
	if merr != nil {
		return nil, merr
	}
	f.Stack.Push(res)
	return nil, nil
}

// callFunctionEx handles CALL_FUNCTION_EX: stack is callee, args-seq
// [, kwargs-dict when flags bit0].
func (vm *VM) callFunctionEx(f *frame.Frame, flags byte, pc int) (*Exit, error) {
	var kwargsDict value.Value
	if flags&1 != 0 {
		var err error
		kwargsDict, err = vm.pop(f, OpCallFunctionEx)
		if err != nil {
			return nil, err
		}
	}
	argsSeq, err := vm.pop(f, OpCallFunctionEx)
	if err != nil {
		vm.drop(kwargsDict)
		return nil, err
	}
	callee, err := vm.pop(f, OpCallFunctionEx)
	if err != nil {
		vm.drop(kwargsDict)
		vm.drop(argsSeq)
		return nil, err
	}

	items, ok := unpackItems(vm, argsSeq)
	if !ok {
		tn := argsSeq.TypeName(vm.Heap)
		vm.drop(callee)
		vm.drop(kwargsDict)
		vm.drop(argsSeq)
		return nil, exception.New(exception.TypeError,
			"argument after * must be an iterable, not %q", tn)
	}
	args := make([]value.Value, len(items))
	for i, v := range items {
		if v.Tag == value.TagRef {
			vm.Heap.IncRef(v.Ref)
		}
		args[i] = v
	}
	vm.drop(argsSeq)

	var kwargs []builtins.KV
	if flags&1 != 0 {
		d, okDict := dictOf(vm, kwargsDict)
		if !okDict {
			tn := kwargsDict.TypeName(vm.Heap)
			vm.drop(callee)
			vm.drop(kwargsDict)
			for _, v := range args {
				vm.drop(v)
			}
			return nil, exception.New(exception.TypeError,
				"argument after ** must be a mapping, not %q", tn)
		}
		for _, e := range d.Entries {
			if e.Key.Tag == value.TagUndefined {
				continue
			}
			ks, isStr := strOf(vm, e.Key)
			if !isStr {
				vm.drop(callee)
				vm.drop(kwargsDict)
				for _, v := range args {
					vm.drop(v)
				}
				for _, kv := range kwargs {
					vm.drop(kv.Val)
				}
				return nil, exception.New(exception.TypeError, "keywords must be strings")
			}
			id, found := vm.Prog.Interns.Get(ks)
			if !found {
				vm.drop(callee)
				vm.drop(kwargsDict)
				for _, v := range args {
					vm.drop(v)
				}
				for _, kv := range kwargs {
					vm.drop(kv.Val)
				}
				return nil, exception.New(exception.TypeError,
					"got an unexpected keyword argument %q", ks)
			}
			v := e.Val
			if v.Tag == value.TagRef {
				vm.Heap.IncRef(v.Ref)
			}
			kwargs = append(kwargs, builtins.KV{Name: id, Val: v})
		}
		vm.drop(kwargsDict)
	}

	f.PC = pc
	return vm.dispatchCall(f, callee, args, kwargs)
}

func dictOf(vm *VM, v value.Value) (value.Dict, bool) {
	if v.Tag != value.TagRef {
		return value.Dict{}, false
	}
	d, ok := vm.Heap.Get(v.Ref).(value.Dict)
	return d, ok
}

func strOf(vm *VM, v value.Value) (string, bool) {
	if v.Tag == value.TagRef {
		if s, ok := vm.Heap.Get(v.Ref).(value.Str); ok {
			return s.S, true
		}
	}
	if v.Tag == value.TagInternString {
		return vm.Prog.Interns.MustLookup(v.Str), true
	}
	return "", false
}

// suspend builds the ExternalCall frame exit. The caller has already
// committed the current frame's pc past the call instruction, so Resume
// lands on the next instruction with the return value pushed.
func (vm *VM) suspend(fid value.ExtFuncID, args []value.Value, kwargs []KV) (*Exit, error) {
	if int(fid) >= len(vm.Prog.Externals) {
		for _, v := range args {
			vm.drop(v)
		}
		for _, kv := range kwargs {
			vm.drop(kv.Key)
			vm.drop(kv.Val)
		}
		return nil, exception.NewInternal(rterrors.Bug("CALL_EXTERNAL", "external function id out of range"))
	}
	return &Exit{
		Kind: ExitExternalCall,
		Call: &ExternalCall{
			Func:      fid,
			Name:      vm.Prog.Externals[fid],
			Args:      args,
			Kwargs:    kwargs,
			Positions: vm.Positions(),
		},
	}, nil
}

// makeFunction handles MAKE_FUNCTION and MAKE_CLOSURE. cellIdx lists the
// current frame's cell-array indices the closure captures (nil for plain
// MAKE_FUNCTION).
func (vm *VM) makeFunction(f *frame.Frame, fnIdx int, cellIdx []int, pc int) (*Exit, error) {
	if fnIdx >= len(vm.Prog.Functions) {
		return nil, exception.NewInternal(rterrors.Bug("MAKE_FUNCTION", "function index out of range"))
	}
	fn := vm.Prog.Functions[fnIdx]

	var defaults []value.Value
	if fn.NumDefaults > 0 {
		var err error
		defaults, err = vm.popN(f, OpMakeFunction, fn.NumDefaults)
		if err != nil {
			return nil, err
		}
	}

	if len(cellIdx) == 0 && len(defaults) == 0 {
		f.Stack.Push(value.DefFunction(value.DefFuncID(fnIdx)))
		f.PC = pc
		return nil, nil
	}

	c := value.Closure{Func: value.DefFuncID(fnIdx)}
	for _, idx := range cellIdx {
		if idx >= len(f.Cells) {
			for _, v := range defaults {
				vm.drop(v)
			}
			return nil, exception.NewInternal(rterrors.Bug("MAKE_CLOSURE", "cell index out of range"))
		}
		id := f.Cells[idx]
		vm.Heap.IncRef(id)
		c.Cells = append(c.Cells, id)
	}
	if len(defaults) > 0 {
		dID, rerr := vm.Heap.Allocate(value.FunctionDefaults{Values: defaults})
		if rerr != nil {
			for _, v := range defaults {
				vm.drop(v)
			}
			for _, id := range c.Cells {
				vm.Heap.DecRef(id)
			}
			return nil, rerr
		}
		c.Defaults = dID
		c.HasDefaults = true
	}

	id, rerr := vm.Heap.Allocate(c)
	if rerr != nil {
		for _, cid := range c.Cells {
			vm.Heap.DecRef(cid)
		}
		if c.HasDefaults {
			vm.Heap.DecRef(c.Defaults)
		}
		return nil, rerr
	}
	f.Stack.Push(value.Ref(id))
	f.PC = pc
	return nil, nil
}
