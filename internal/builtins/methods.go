package builtins

import (
	"sort"
	"strings"

	"github.com/monty-lang/monty/internal/exception"
	"github.com/monty-lang/monty/internal/heap"
	"github.com/monty-lang/monty/internal/value"
)

// CallMethod dispatches obj.name(args...) on the built-in types. It owns
// recv and args and releases both exactly once on every path; the result
// is owned by the caller.
func CallMethod(ctx *Context, recv value.Value, name string, args []value.Value) (value.Value, error) {
	if recv.Tag == value.TagRef {
		switch ctx.Heap.Get(recv.Ref).(type) {
		case value.List:
			return listMethod(ctx, recv, name, args)
		case value.Dict:
			return dictMethod(ctx, recv, name, args)
		case value.Set:
			return setMethod(ctx, recv, name, args)
		case value.Str:
			return strMethod(ctx, recv, name, args)
		}
	}
	tn := recv.TypeName(ctx.Heap)
	ctx.drop(recv)
	ctx.dropAll(args, nil)
	return value.Value{}, exception.New(exception.AttributeError,
		"%q object has no attribute %q", tn, name)
}

// methodExists backs hasattr for the built-in types.
func methodExists(h *heap.Heap, v value.Value, name string) bool {
	var table []string
	if v.Tag == value.TagRef {
		switch h.Get(v.Ref).(type) {
		case value.List:
			table = listMethods
		case value.Dict:
			table = dictMethods
		case value.Set:
			table = setMethods
		case value.Str:
			table = strMethods
		}
	}
	for _, m := range table {
		if m == name {
			return true
		}
	}
	return false
}

var (
	listMethods = []string{"append", "extend", "insert", "pop", "remove", "sort", "reverse", "clear", "count", "index"}
	dictMethods = []string{"get", "keys", "values", "items", "pop", "setdefault", "update", "clear"}
	setMethods  = []string{"add", "discard", "remove", "clear", "update"}
	strMethods  = []string{"upper", "lower", "strip", "lstrip", "rstrip", "split", "join", "replace", "startswith", "endswith", "find", "count", "index"}
)

func unexpectedMethodArgs(ctx *Context, recv value.Value, args []value.Value, err error) (value.Value, error) {
	ctx.drop(recv)
	ctx.dropAll(args, nil)
	return value.Value{}, err
}

func listMethod(ctx *Context, recv value.Value, name string, args []value.Value) (value.Value, error) {
	h := ctx.Heap
	d := h.Get(recv.Ref).(value.List)

	switch name {
	case "append":
		if exc := argCount("append", args, 1, 1); exc != nil {
			return unexpectedMethodArgs(ctx, recv, args, exc)
		}
		d.Items = append(d.Items, args[0])
		h.Replace(recv.Ref, d)
		ctx.drop(recv)
		return value.None(), nil

	case "extend":
		if exc := argCount("extend", args, 1, 1); exc != nil {
			return unexpectedMethodArgs(ctx, recv, args, exc)
		}
		it, err := NewMontyIter(ctx, args[0])
		if err != nil {
			return unexpectedMethodArgs(ctx, recv, args, err)
		}
		items, cerr := it.Collect()
		if cerr != nil {
			ctx.drop(recv)
			return value.Value{}, cerr
		}
		d = h.Get(recv.Ref).(value.List)
		d.Items = append(d.Items, items...)
		h.Replace(recv.Ref, d)
		ctx.drop(recv)
		return value.None(), nil

	case "insert":
		if exc := argCount("insert", args, 2, 2); exc != nil {
			return unexpectedMethodArgs(ctx, recv, args, exc)
		}
		i, ok := asInt(h, args[0])
		if !ok {
			return unexpectedMethodArgs(ctx, recv, args,
				exception.New(exception.TypeError, "list indices must be integers"))
		}
		if i < 0 {
			i += int64(len(d.Items))
			if i < 0 {
				i = 0
			}
		}
		if i > int64(len(d.Items)) {
			i = int64(len(d.Items))
		}
		d.Items = append(d.Items, value.Value{})
		copy(d.Items[i+1:], d.Items[i:])
		d.Items[i] = args[1]
		h.Replace(recv.Ref, d)
		ctx.drop(recv)
		return value.None(), nil

	case "pop":
		if exc := argCount("pop", args, 0, 1); exc != nil {
			return unexpectedMethodArgs(ctx, recv, args, exc)
		}
		if len(d.Items) == 0 {
			return unexpectedMethodArgs(ctx, recv, args,
				exception.New(exception.IndexError, "pop from empty list"))
		}
		i := int64(len(d.Items) - 1)
		if len(args) == 1 {
			n, ok := asInt(h, args[0])
			if !ok {
				return unexpectedMethodArgs(ctx, recv, args,
					exception.New(exception.TypeError, "list indices must be integers"))
			}
			i = n
			if i < 0 {
				i += int64(len(d.Items))
			}
			if i < 0 || i >= int64(len(d.Items)) {
				return unexpectedMethodArgs(ctx, recv, args,
					exception.New(exception.IndexError, "pop index out of range"))
			}
		}
		out := d.Items[i]
		d.Items = append(d.Items[:i], d.Items[i+1:]...)
		h.Replace(recv.Ref, d)
		ctx.drop(recv)
		ctx.dropAll(args, nil)
		return out, nil

	case "remove":
		if exc := argCount("remove", args, 1, 1); exc != nil {
			return unexpectedMethodArgs(ctx, recv, args, exc)
		}
		for i, v := range d.Items {
			if value.Eq(h, v, args[0]) {
				d.Items = append(d.Items[:i], d.Items[i+1:]...)
				h.Replace(recv.Ref, d)
				ctx.drop(v)
				ctx.drop(recv)
				ctx.dropAll(args, nil)
				return value.None(), nil
			}
		}
		return unexpectedMethodArgs(ctx, recv, args,
			exception.New(exception.ValueError, "list.remove(x): x not in list"))

	case "sort":
		if exc := argCount("sort", args, 0, 0); exc != nil {
			return unexpectedMethodArgs(ctx, recv, args, exc)
		}
		var sortErr *exception.Exception
		sort.SliceStable(d.Items, func(i, j int) bool {
			less, exc := lessValues(h, d.Items[i], d.Items[j])
			if exc != nil && sortErr == nil {
				sortErr = exc
			}
			return less
		})
		h.Replace(recv.Ref, d)
		ctx.drop(recv)
		if sortErr != nil {
			return value.Value{}, sortErr
		}
		return value.None(), nil

	case "reverse":
		if exc := argCount("reverse", args, 0, 0); exc != nil {
			return unexpectedMethodArgs(ctx, recv, args, exc)
		}
		for i, j := 0, len(d.Items)-1; i < j; i, j = i+1, j-1 {
			d.Items[i], d.Items[j] = d.Items[j], d.Items[i]
		}
		h.Replace(recv.Ref, d)
		ctx.drop(recv)
		return value.None(), nil

	case "clear":
		if exc := argCount("clear", args, 0, 0); exc != nil {
			return unexpectedMethodArgs(ctx, recv, args, exc)
		}
		for _, v := range d.Items {
			ctx.drop(v)
		}
		d.Items = nil
		h.Replace(recv.Ref, d)
		ctx.drop(recv)
		return value.None(), nil

	case "count":
		if exc := argCount("count", args, 1, 1); exc != nil {
			return unexpectedMethodArgs(ctx, recv, args, exc)
		}
		n := int64(0)
		for _, v := range d.Items {
			if value.Eq(h, v, args[0]) {
				n++
			}
		}
		ctx.drop(recv)
		ctx.dropAll(args, nil)
		return value.Int(n), nil

	case "index":
		if exc := argCount("index", args, 1, 1); exc != nil {
			return unexpectedMethodArgs(ctx, recv, args, exc)
		}
		for i, v := range d.Items {
			if value.Eq(h, v, args[0]) {
				ctx.drop(recv)
				ctx.dropAll(args, nil)
				return value.Int(int64(i)), nil
			}
		}
		return unexpectedMethodArgs(ctx, recv, args,
			exception.New(exception.ValueError, "value not in list"))
	}

	return unexpectedMethodArgs(ctx, recv, args,
		exception.New(exception.AttributeError, "'list' object has no attribute %q", name))
}

func dictMethod(ctx *Context, recv value.Value, name string, args []value.Value) (value.Value, error) {
	h := ctx.Heap
	d := h.Get(recv.Ref).(value.Dict)

	switch name {
	case "get":
		if exc := argCount("get", args, 1, 2); exc != nil {
			return unexpectedMethodArgs(ctx, recv, args, exc)
		}
		if v, found := d.Get(h, args[0]); found {
			if v.Tag == value.TagRef {
				h.IncRef(v.Ref)
			}
			ctx.drop(recv)
			ctx.dropAll(args, nil)
			return v, nil
		}
		out := value.None()
		if len(args) == 2 {
			out = args[1]
			if out.Tag == value.TagRef {
				h.IncRef(out.Ref)
			}
		}
		ctx.drop(recv)
		ctx.dropAll(args, nil)
		return out, nil

	case "keys", "values":
		if exc := argCount(name, args, 0, 0); exc != nil {
			return unexpectedMethodArgs(ctx, recv, args, exc)
		}
		var items []value.Value
		for _, e := range d.Entries {
			if e.Key.Tag == value.TagUndefined {
				continue
			}
			v := e.Key
			if name == "values" {
				v = e.Val
			}
			if v.Tag == value.TagRef {
				h.IncRef(v.Ref)
			}
			items = append(items, v)
		}
		ctx.drop(recv)
		id, rerr := h.Allocate(value.List{Items: items})
		if rerr != nil {
			for _, v := range items {
				ctx.drop(v)
			}
			return value.Value{}, rerr
		}
		return value.Ref(id), nil

	case "items":
		if exc := argCount("items", args, 0, 0); exc != nil {
			return unexpectedMethodArgs(ctx, recv, args, exc)
		}
		var items []value.Value
		for _, e := range d.Entries {
			if e.Key.Tag == value.TagUndefined {
				continue
			}
			if e.Key.Tag == value.TagRef {
				h.IncRef(e.Key.Ref)
			}
			if e.Val.Tag == value.TagRef {
				h.IncRef(e.Val.Ref)
			}
			tid, rerr := h.Allocate(value.Tuple{Items: []value.Value{e.Key, e.Val}})
			if rerr != nil {
				ctx.drop(e.Key)
				ctx.drop(e.Val)
				for _, v := range items {
					ctx.drop(v)
				}
				ctx.drop(recv)
				return value.Value{}, rerr
			}
			items = append(items, value.Ref(tid))
		}
		ctx.drop(recv)
		id, rerr := h.Allocate(value.List{Items: items})
		if rerr != nil {
			for _, v := range items {
				ctx.drop(v)
			}
			return value.Value{}, rerr
		}
		return value.Ref(id), nil

	case "pop":
		if exc := argCount("pop", args, 1, 2); exc != nil {
			return unexpectedMethodArgs(ctx, recv, args, exc)
		}
		if v, found := d.Get(h, args[0]); found {
			var storedKey value.Value
			for _, e := range d.Entries {
				if e.Key.Tag != value.TagUndefined && value.Eq(h, e.Key, args[0]) {
					storedKey = e.Key
					break
				}
			}
			d.Delete(h, args[0])
			h.Replace(recv.Ref, d)
			ctx.drop(storedKey)
			ctx.drop(recv)
			ctx.dropAll(args, nil)
			return v, nil
		}
		if len(args) == 2 {
			out := args[1]
			if out.Tag == value.TagRef {
				h.IncRef(out.Ref)
			}
			ctx.drop(recv)
			ctx.dropAll(args, nil)
			return out, nil
		}
		return unexpectedMethodArgs(ctx, recv, args,
			exception.New(exception.KeyError, "%s", value.Repr(h, ctx.Interns, args[0])))

	case "setdefault":
		if exc := argCount("setdefault", args, 1, 2); exc != nil {
			return unexpectedMethodArgs(ctx, recv, args, exc)
		}
		if v, found := d.Get(h, args[0]); found {
			if v.Tag == value.TagRef {
				h.IncRef(v.Ref)
			}
			ctx.drop(recv)
			ctx.dropAll(args, nil)
			return v, nil
		}
		def := value.None()
		if len(args) == 2 {
			def = args[1]
		}
		// The dict takes the caller's shares of key and default; the
		// returned copy gets its own.
		d.Put(h, args[0], def)
		h.Replace(recv.Ref, d)
		if def.Tag == value.TagRef {
			h.IncRef(def.Ref)
		}
		ctx.drop(recv)
		return def, nil

	case "update":
		if exc := argCount("update", args, 1, 1); exc != nil {
			return unexpectedMethodArgs(ctx, recv, args, exc)
		}
		src, ok := dictArg(h, args[0])
		if !ok {
			return unexpectedMethodArgs(ctx, recv, args,
				exception.New(exception.TypeError, "update() argument must be a dict"))
		}
		for _, e := range src.Entries {
			if e.Key.Tag == value.TagUndefined {
				continue
			}
			if e.Key.Tag == value.TagRef {
				h.IncRef(e.Key.Ref)
			}
			if e.Val.Tag == value.TagRef {
				h.IncRef(e.Val.Ref)
			}
			if old, found := d.Get(h, e.Key); found {
				d.Put(h, e.Key, e.Val)
				ctx.drop(e.Key)
				ctx.drop(old)
			} else {
				d.Put(h, e.Key, e.Val)
			}
		}
		h.Replace(recv.Ref, d)
		ctx.drop(recv)
		ctx.dropAll(args, nil)
		return value.None(), nil

	case "clear":
		if exc := argCount("clear", args, 0, 0); exc != nil {
			return unexpectedMethodArgs(ctx, recv, args, exc)
		}
		for _, e := range d.Entries {
			if e.Key.Tag == value.TagUndefined {
				continue
			}
			ctx.drop(e.Key)
			ctx.drop(e.Val)
		}
		h.Replace(recv.Ref, *value.NewDict())
		ctx.drop(recv)
		return value.None(), nil
	}

	return unexpectedMethodArgs(ctx, recv, args,
		exception.New(exception.AttributeError, "'dict' object has no attribute %q", name))
}

func setMethod(ctx *Context, recv value.Value, name string, args []value.Value) (value.Value, error) {
	h := ctx.Heap
	d := h.Get(recv.Ref).(value.Set)

	switch name {
	case "add":
		if exc := argCount("add", args, 1, 1); exc != nil {
			return unexpectedMethodArgs(ctx, recv, args, exc)
		}
		if d.Add(h, args[0]) {
			h.Replace(recv.Ref, d)
		} else {
			ctx.drop(args[0])
		}
		ctx.drop(recv)
		return value.None(), nil

	case "discard", "remove":
		if exc := argCount(name, args, 1, 1); exc != nil {
			return unexpectedMethodArgs(ctx, recv, args, exc)
		}
		for i, v := range d.Items {
			if value.Eq(h, v, args[0]) {
				d.Items = append(d.Items[:i], d.Items[i+1:]...)
				rebuilt := value.NewSet()
				for _, item := range d.Items {
					rebuilt.Add(h, item)
				}
				h.Replace(recv.Ref, *rebuilt)
				ctx.drop(v)
				ctx.drop(recv)
				ctx.dropAll(args, nil)
				return value.None(), nil
			}
		}
		if name == "remove" {
			return unexpectedMethodArgs(ctx, recv, args,
				exception.New(exception.KeyError, "%s", value.Repr(h, ctx.Interns, args[0])))
		}
		ctx.drop(recv)
		ctx.dropAll(args, nil)
		return value.None(), nil

	case "clear":
		if exc := argCount("clear", args, 0, 0); exc != nil {
			return unexpectedMethodArgs(ctx, recv, args, exc)
		}
		for _, v := range d.Items {
			ctx.drop(v)
		}
		h.Replace(recv.Ref, *value.NewSet())
		ctx.drop(recv)
		return value.None(), nil

	case "update":
		if exc := argCount("update", args, 1, 1); exc != nil {
			return unexpectedMethodArgs(ctx, recv, args, exc)
		}
		it, err := NewMontyIter(ctx, args[0])
		if err != nil {
			return unexpectedMethodArgs(ctx, recv, args, err)
		}
		for {
			item, ok, nerr := it.Next()
			if nerr != nil {
				it.Close()
				ctx.drop(recv)
				return value.Value{}, nerr
			}
			if !ok {
				break
			}
			d = h.Get(recv.Ref).(value.Set)
			if d.Add(h, item) {
				h.Replace(recv.Ref, d)
			} else {
				ctx.drop(item)
			}
		}
		it.Close()
		ctx.drop(recv)
		return value.None(), nil
	}

	return unexpectedMethodArgs(ctx, recv, args,
		exception.New(exception.AttributeError, "'set' object has no attribute %q", name))
}

func strMethod(ctx *Context, recv value.Value, name string, args []value.Value) (value.Value, error) {
	h := ctx.Heap
	s := h.Get(recv.Ref).(value.Str).S

	newStr := func(out string) (value.Value, error) {
		ctx.drop(recv)
		ctx.dropAll(args, nil)
		id, rerr := h.Allocate(value.Str{S: out})
		if rerr != nil {
			return value.Value{}, rerr
		}
		return value.Ref(id), nil
	}

	switch name {
	case "upper":
		if exc := argCount("upper", args, 0, 0); exc != nil {
			return unexpectedMethodArgs(ctx, recv, args, exc)
		}
		return newStr(strings.ToUpper(s))
	case "lower":
		if exc := argCount("lower", args, 0, 0); exc != nil {
			return unexpectedMethodArgs(ctx, recv, args, exc)
		}
		return newStr(strings.ToLower(s))
	case "strip", "lstrip", "rstrip":
		if exc := argCount(name, args, 0, 1); exc != nil {
			return unexpectedMethodArgs(ctx, recv, args, exc)
		}
		cutset := " \t\n\r\v\f"
		if len(args) == 1 {
			cs, ok := strArg(h, args[0])
			if !ok {
				return unexpectedMethodArgs(ctx, recv, args,
					exception.New(exception.TypeError, "%s arg must be str", name))
			}
			cutset = cs
		}
		switch name {
		case "lstrip":
			return newStr(strings.TrimLeft(s, cutset))
		case "rstrip":
			return newStr(strings.TrimRight(s, cutset))
		default:
			return newStr(strings.Trim(s, cutset))
		}

	case "split":
		if exc := argCount("split", args, 0, 1); exc != nil {
			return unexpectedMethodArgs(ctx, recv, args, exc)
		}
		var parts []string
		if len(args) == 0 || args[0].Tag == value.TagNone {
			parts = strings.Fields(s)
		} else {
			sep, ok := strArg(h, args[0])
			if !ok || sep == "" {
				return unexpectedMethodArgs(ctx, recv, args,
					exception.New(exception.ValueError, "empty separator"))
			}
			parts = strings.Split(s, sep)
		}
		items := make([]value.Value, 0, len(parts))
		for _, p := range parts {
			pid, rerr := h.Allocate(value.Str{S: p})
			if rerr != nil {
				for _, v := range items {
					ctx.drop(v)
				}
				ctx.drop(recv)
				ctx.dropAll(args, nil)
				return value.Value{}, rerr
			}
			items = append(items, value.Ref(pid))
		}
		ctx.drop(recv)
		ctx.dropAll(args, nil)
		id, rerr := h.Allocate(value.List{Items: items})
		if rerr != nil {
			for _, v := range items {
				ctx.drop(v)
			}
			return value.Value{}, rerr
		}
		return value.Ref(id), nil

	case "join":
		if exc := argCount("join", args, 1, 1); exc != nil {
			return unexpectedMethodArgs(ctx, recv, args, exc)
		}
		it, err := NewMontyIter(ctx, args[0])
		if err != nil {
			return unexpectedMethodArgs(ctx, recv, args, err)
		}
		var parts []string
		for {
			item, ok, nerr := it.Next()
			if nerr != nil {
				it.Close()
				ctx.drop(recv)
				return value.Value{}, nerr
			}
			if !ok {
				break
			}
			part, ok2 := strArg(h, item)
			if !ok2 {
				tn := item.TypeName(h)
				ctx.drop(item)
				it.Close()
				ctx.drop(recv)
				return value.Value{}, exception.New(exception.TypeError,
					"sequence item: expected str instance, %s found", tn)
			}
			parts = append(parts, part)
			ctx.drop(item)
		}
		it.Close()
		out := strings.Join(parts, s)
		ctx.drop(recv)
		id, rerr := h.Allocate(value.Str{S: out})
		if rerr != nil {
			return value.Value{}, rerr
		}
		return value.Ref(id), nil

	case "replace":
		if exc := argCount("replace", args, 2, 2); exc != nil {
			return unexpectedMethodArgs(ctx, recv, args, exc)
		}
		old, ok1 := strArg(h, args[0])
		repl, ok2 := strArg(h, args[1])
		if !ok1 || !ok2 {
			return unexpectedMethodArgs(ctx, recv, args,
				exception.New(exception.TypeError, "replace arguments must be str"))
		}
		return newStr(strings.ReplaceAll(s, old, repl))

	case "startswith", "endswith":
		if exc := argCount(name, args, 1, 1); exc != nil {
			return unexpectedMethodArgs(ctx, recv, args, exc)
		}
		prefix, ok := strArg(h, args[0])
		if !ok {
			return unexpectedMethodArgs(ctx, recv, args,
				exception.New(exception.TypeError, "%s arg must be str", name))
		}
		var res bool
		if name == "startswith" {
			res = strings.HasPrefix(s, prefix)
		} else {
			res = strings.HasSuffix(s, prefix)
		}
		ctx.drop(recv)
		ctx.dropAll(args, nil)
		return value.Bool(res), nil

	case "find", "index", "count":
		if exc := argCount(name, args, 1, 1); exc != nil {
			return unexpectedMethodArgs(ctx, recv, args, exc)
		}
		sub, ok := strArg(h, args[0])
		if !ok {
			return unexpectedMethodArgs(ctx, recv, args,
				exception.New(exception.TypeError, "%s arg must be str", name))
		}
		if name == "count" {
			n := int64(strings.Count(s, sub))
			ctx.drop(recv)
			ctx.dropAll(args, nil)
			return value.Int(n), nil
		}
		idx := strings.Index(s, sub)
		if idx >= 0 {
			idx = len([]rune(s[:idx]))
		}
		if idx < 0 && name == "index" {
			return unexpectedMethodArgs(ctx, recv, args,
				exception.New(exception.ValueError, "substring not found"))
		}
		ctx.drop(recv)
		ctx.dropAll(args, nil)
		return value.Int(int64(idx)), nil
	}

	return unexpectedMethodArgs(ctx, recv, args,
		exception.New(exception.AttributeError, "'str' object has no attribute %q", name))
}
