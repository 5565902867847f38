package vm

import (
	"github.com/monty-lang/monty/internal/exception"
	"github.com/monty-lang/monty/internal/frame"
	"github.com/monty-lang/monty/internal/intern"
	"github.com/monty-lang/monty/internal/value"
)

func (vm *VM) loadAttr(f *frame.Frame, nameID intern.StringID, pc int) (*Exit, error) {
	obj, err := vm.pop(f, OpLoadAttr)
	if err != nil {
		return nil, err
	}

	if obj.Tag == value.TagRef {
		switch d := vm.Heap.Get(obj.Ref).(type) {
		case value.Module:
			member, found := d.Members[nameID]
			if !found {
				modName := vm.Prog.Interns.MustLookup(d.Name)
				vm.drop(obj)
				return nil, exception.New(exception.AttributeError,
					"module %q has no attribute %q", modName, vm.Prog.Interns.MustLookup(nameID))
			}
			if member.Tag == value.TagRef {
				vm.Heap.IncRef(member.Ref)
			}
			vm.drop(obj)
			f.Stack.Push(member)
			f.PC = pc
			return nil, nil

		case value.NamedTuple:
			for i, field := range d.Fields {
				if field == nameID {
					v := d.Items[i]
					if v.Tag == value.TagRef {
						vm.Heap.IncRef(v.Ref)
					}
					vm.drop(obj)
					f.Stack.Push(v)
					f.PC = pc
					return nil, nil
				}
			}
		}
	}

	tn := obj.TypeName(vm.Heap)
	vm.drop(obj)
	return nil, exception.New(exception.AttributeError,
		"%q object has no attribute %q", tn, vm.Prog.Interns.MustLookup(nameID))
}

func (vm *VM) storeAttr(f *frame.Frame, nameID intern.StringID, pc int) (*Exit, error) {
	// Stack: val, obj (obj on top).
	obj, err := vm.pop(f, OpStoreAttr)
	if err != nil {
		return nil, err
	}
	val, err := vm.pop(f, OpStoreAttr)
	if err != nil {
		vm.drop(obj)
		return nil, err
	}

	if obj.Tag == value.TagRef {
		if d, ok := vm.Heap.Get(obj.Ref).(value.Module); ok {
			old, had := d.Members[nameID]
			d.Members[nameID] = val
			vm.Heap.Replace(obj.Ref, d)
			if had && old.Tag == value.TagRef {
				vm.Heap.DecRef(old.Ref)
			}
			vm.drop(obj)
			f.PC = pc
			return nil, nil
		}
	}

	tn := obj.TypeName(vm.Heap)
	vm.drop(obj)
	vm.drop(val)
	return nil, exception.New(exception.AttributeError,
		"%q object has no settable attribute %q", tn, vm.Prog.Interns.MustLookup(nameID))
}

func (vm *VM) deleteAttr(f *frame.Frame, nameID intern.StringID, pc int) (*Exit, error) {
	obj, err := vm.pop(f, OpDeleteAttr)
	if err != nil {
		return nil, err
	}

	if obj.Tag == value.TagRef {
		if d, ok := vm.Heap.Get(obj.Ref).(value.Module); ok {
			old, had := d.Members[nameID]
			if !had {
				modName := vm.Prog.Interns.MustLookup(d.Name)
				vm.drop(obj)
				return nil, exception.New(exception.AttributeError,
					"module %q has no attribute %q", modName, vm.Prog.Interns.MustLookup(nameID))
			}
			delete(d.Members, nameID)
			vm.Heap.Replace(obj.Ref, d)
			if old.Tag == value.TagRef {
				vm.Heap.DecRef(old.Ref)
			}
			vm.drop(obj)
			f.PC = pc
			return nil, nil
		}
	}

	tn := obj.TypeName(vm.Heap)
	vm.drop(obj)
	return nil, exception.New(exception.AttributeError,
		"%q object has no deletable attribute %q", tn, vm.Prog.Interns.MustLookup(nameID))
}
