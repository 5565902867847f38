package builtins

import (
	"fmt"
	"math"
	"math/big"
	"sort"
	"strconv"
	"strings"

	"github.com/monty-lang/monty/internal/exception"
	"github.com/monty-lang/monty/internal/heap"
	"github.com/monty-lang/monty/internal/value"
)

func argCount(name string, args []value.Value, min, max int) *exception.Exception {
	if len(args) < min || len(args) > max {
		if min == max {
			return exception.New(exception.TypeError,
				"%s() takes exactly %d argument(s) (%d given)", name, min, len(args))
		}
		return exception.New(exception.TypeError,
			"%s() takes from %d to %d arguments (%d given)", name, min, max, len(args))
	}
	return nil
}

func noKwargs(name string, kwargs []KV) *exception.Exception {
	if len(kwargs) > 0 {
		return exception.New(exception.TypeError, "%s() takes no keyword arguments", name)
	}
	return nil
}

// Call dispatches a builtin by kind. Ownership of args and kwargs
// transfers to the callee; every path below releases them exactly once.
// The returned value is owned by the caller.
func Call(ctx *Context, kind value.BuiltinKind, args []value.Value, kwargs []KV) (value.Value, error) {
	switch kind {
	case Print:
		return builtinPrint(ctx, args, kwargs)
	case Len:
		return builtinLen(ctx, args, kwargs)
	case Abs:
		return builtinAbs(ctx, args, kwargs)
	case Range:
		return builtinRange(ctx, args, kwargs)
	case Filter:
		return builtinFilter(ctx, args, kwargs)
	case All, Any:
		return builtinAllAny(ctx, kind == All, args, kwargs)
	case Sorted:
		return builtinSorted(ctx, args, kwargs)
	case Zip:
		return builtinZip(ctx, args, kwargs)
	case Sum:
		return builtinSum(ctx, args, kwargs)
	case Min, Max:
		return builtinMinMax(ctx, kind == Min, args, kwargs)
	case Bin, Hex, Oct:
		return builtinBaseRepr(ctx, kind, args, kwargs)
	case Ord:
		return builtinOrd(ctx, args, kwargs)
	case Chr:
		return builtinChr(ctx, args, kwargs)
	case Str:
		return builtinStr(ctx, args, kwargs)
	case Repr:
		return builtinRepr(ctx, args, kwargs)
	case Int:
		return builtinInt(ctx, args, kwargs)
	case Float:
		return builtinFloat(ctx, args, kwargs)
	case Bool:
		return builtinBool(ctx, args, kwargs)
	case List:
		return builtinList(ctx, args, kwargs)
	case Tuple:
		return builtinTuple(ctx, args, kwargs)
	case Dict:
		return builtinDict(ctx, args, kwargs)
	case Set:
		return builtinSet(ctx, args, kwargs)
	case Type:
		return builtinType(ctx, args, kwargs)
	case Iter:
		return builtinIter(ctx, args, kwargs)
	case Next:
		return builtinNext(ctx, args, kwargs)
	case Divmod:
		return builtinDivmod(ctx, args, kwargs)
	case Hasattr:
		return builtinHasattr(ctx, args, kwargs)
	case PathType:
		return builtinPath(ctx, args, kwargs)
	default:
		if excKind, ok := ExcKindOf(kind); ok {
			return builtinException(ctx, excKind, args, kwargs)
		}
		ctx.dropAll(args, kwargs)
		return value.Value{}, exception.New(exception.TypeError, "object is not callable")
	}
}

func builtinPrint(ctx *Context, args []value.Value, kwargs []KV) (value.Value, error) {
	defer ctx.dropAll(args, kwargs)

	sep, end := " ", "\n"
	for _, kv := range kwargs {
		switch ctx.Interns.MustLookup(kv.Name) {
		case "sep":
			sep = value.ToStr(ctx.Heap, ctx.Interns, kv.Val)
		case "end":
			end = value.ToStr(ctx.Heap, ctx.Interns, kv.Val)
		default:
			return value.Value{}, exception.New(exception.TypeError,
				"%q is an invalid keyword argument for print()", ctx.Interns.MustLookup(kv.Name))
		}
	}

	parts := make([]string, len(args))
	for i, v := range args {
		parts[i] = value.ToStr(ctx.Heap, ctx.Interns, v)
	}
	fmt.Fprint(ctx.Writer, strings.Join(parts, sep)+end)
	return value.None(), nil
}

func builtinLen(ctx *Context, args []value.Value, kwargs []KV) (value.Value, error) {
	defer ctx.dropAll(args, kwargs)
	if exc := argCount("len", args, 1, 1); exc != nil {
		return value.Value{}, exc
	}
	if exc := noKwargs("len", kwargs); exc != nil {
		return value.Value{}, exc
	}
	n, ok := value.Len(ctx.Heap, args[0])
	if !ok {
		return value.Value{}, exception.New(exception.TypeError,
			"object of type %q has no len()", args[0].TypeName(ctx.Heap))
	}
	return value.Int(n), nil
}

func builtinAbs(ctx *Context, args []value.Value, kwargs []KV) (value.Value, error) {
	defer ctx.dropAll(args, kwargs)
	if exc := argCount("abs", args, 1, 1); exc != nil {
		return value.Value{}, exc
	}
	v := args[0]
	switch v.Tag {
	case value.TagBool:
		if v.Bool {
			return value.Int(1), nil
		}
		return value.Int(0), nil
	case value.TagInt:
		if v.Int >= 0 {
			return value.Int(v.Int), nil
		}
		if v.Int == math.MinInt64 {
			neg := new(big.Int).Neg(big.NewInt(v.Int))
			id, rerr := ctx.Heap.Allocate(value.NewLongInt(neg))
			if rerr != nil {
				return value.Value{}, rerr
			}
			return value.Ref(id), nil
		}
		return value.Int(-v.Int), nil
	case value.TagRef:
		switch d := ctx.Heap.Get(v.Ref).(type) {
		case value.Float:
			id, rerr := ctx.Heap.Allocate(value.Float{F: math.Abs(d.F)})
			if rerr != nil {
				return value.Value{}, rerr
			}
			return value.Ref(id), nil
		case value.LongInt:
			r := new(big.Int).Abs(d.V)
			if r.IsInt64() {
				return value.Int(r.Int64()), nil
			}
			id, rerr := ctx.Heap.Allocate(value.NewLongInt(r))
			if rerr != nil {
				return value.Value{}, rerr
			}
			return value.Ref(id), nil
		}
	}
	return value.Value{}, exception.New(exception.TypeError,
		"bad operand type for abs(): %q", args[0].TypeName(ctx.Heap))
}

func builtinRange(ctx *Context, args []value.Value, kwargs []KV) (value.Value, error) {
	defer ctx.dropAll(args, kwargs)
	if exc := argCount("range", args, 1, 3); exc != nil {
		return value.Value{}, exc
	}
	if exc := noKwargs("range", kwargs); exc != nil {
		return value.Value{}, exc
	}

	ints := make([]int64, len(args))
	for i, v := range args {
		n, ok := asInt(ctx.Heap, v)
		if !ok {
			return value.Value{}, exception.New(exception.TypeError,
				"%q object cannot be interpreted as an integer", v.TypeName(ctx.Heap))
		}
		ints[i] = n
	}

	r := value.Range{Start: 0, Stop: ints[0], Step: 1}
	if len(args) >= 2 {
		r.Start, r.Stop = ints[0], ints[1]
	}
	if len(args) == 3 {
		r.Step = ints[2]
		if r.Step == 0 {
			return value.Value{}, exception.New(exception.ValueError, "range() arg 3 must not be zero")
		}
	}
	id, rerr := ctx.Heap.Allocate(r)
	if rerr != nil {
		return value.Value{}, rerr
	}
	return value.Ref(id), nil
}

// builtinFilter resolves the reference implementation's divergent paths
// conservatively: a user-defined or external predicate raises
// NotImplementedError before any iteration, and every exit path releases
// the function, the iterator, the current item, and the partial output
// exactly once.
func builtinFilter(ctx *Context, args []value.Value, kwargs []KV) (value.Value, error) {
	if exc := noKwargs("filter", kwargs); exc != nil {
		ctx.dropAll(args, kwargs)
		return value.Value{}, exc
	}
	if exc := argCount("filter", args, 2, 2); exc != nil {
		ctx.dropAll(args, kwargs)
		return value.Value{}, exc
	}
	function, iterable := args[0], args[1]

	if function.Tag == value.TagDefFunction || function.Tag == value.TagExtFunction || isClosure(ctx.Heap, function) {
		ctx.drop(function)
		ctx.drop(iterable)
		return value.Value{}, exception.New(exception.NotImplementedError,
			"filter() predicate must be None or a builtin function")
	}

	it, err := NewMontyIter(ctx, iterable)
	if err != nil {
		ctx.drop(function)
		ctx.drop(iterable)
		return value.Value{}, err
	}

	var out []value.Value
	dropOut := func() {
		for _, v := range out {
			ctx.drop(v)
		}
	}

	for {
		item, ok, err := it.Next()
		if err != nil {
			dropOut()
			it.Close()
			ctx.drop(function)
			return value.Value{}, err
		}
		if !ok {
			break
		}

		keep := false
		if function.Tag == value.TagNone {
			keep = value.Truthy(ctx.Heap, item)
		} else if function.Tag == value.TagBuiltin {
			if item.Tag == value.TagRef {
				ctx.Heap.IncRef(item.Ref)
			}
			res, cerr := Call(ctx, function.Native, []value.Value{item}, nil)
			if cerr != nil {
				ctx.drop(item)
				dropOut()
				it.Close()
				ctx.drop(function)
				return value.Value{}, cerr
			}
			keep = value.Truthy(ctx.Heap, res)
			ctx.drop(res)
		} else {
			ctx.drop(item)
			dropOut()
			it.Close()
			ctx.drop(function)
			return value.Value{}, exception.New(exception.TypeError,
				"%q object is not callable", function.TypeName(ctx.Heap))
		}

		if keep {
			out = append(out, item)
		} else {
			ctx.drop(item)
		}
	}

	it.Close()
	ctx.drop(function)
	id, rerr := ctx.Heap.Allocate(value.List{Items: out})
	if rerr != nil {
		dropOut()
		return value.Value{}, rerr
	}
	return value.Ref(id), nil
}

func isClosure(h *heap.Heap, v value.Value) bool {
	if v.Tag != value.TagRef {
		return false
	}
	_, ok := h.Get(v.Ref).(value.Closure)
	return ok
}

func builtinAllAny(ctx *Context, wantAll bool, args []value.Value, kwargs []KV) (value.Value, error) {
	name := "any"
	if wantAll {
		name = "all"
	}
	if exc := argCount(name, args, 1, 1); exc != nil {
		ctx.dropAll(args, kwargs)
		return value.Value{}, exc
	}
	if exc := noKwargs(name, kwargs); exc != nil {
		ctx.dropAll(args, kwargs)
		return value.Value{}, exc
	}

	it, err := NewMontyIter(ctx, args[0])
	if err != nil {
		ctx.dropAll(args, kwargs)
		return value.Value{}, err
	}
	for {
		item, ok, err := it.Next()
		if err != nil {
			it.Close()
			return value.Value{}, err
		}
		if !ok {
			break
		}
		truthy := value.Truthy(ctx.Heap, item)
		ctx.drop(item)
		if wantAll && !truthy {
			it.Close()
			return value.Bool(false), nil
		}
		if !wantAll && truthy {
			it.Close()
			return value.Bool(true), nil
		}
	}
	it.Close()
	return value.Bool(wantAll), nil
}

func builtinSorted(ctx *Context, args []value.Value, kwargs []KV) (value.Value, error) {
	if exc := argCount("sorted", args, 1, 1); exc != nil {
		ctx.dropAll(args, kwargs)
		return value.Value{}, exc
	}
	for _, kv := range kwargs {
		if ctx.Interns.MustLookup(kv.Name) != "reverse" {
			ctx.dropAll(args, kwargs)
			return value.Value{}, exception.New(exception.TypeError,
				"sorted() got an unexpected keyword argument")
		}
	}
	reverse := false
	for _, kv := range kwargs {
		reverse = value.Truthy(ctx.Heap, kv.Val)
		ctx.drop(kv.Val)
	}

	it, err := NewMontyIter(ctx, args[0])
	if err != nil {
		ctx.dropAll(args, nil)
		return value.Value{}, err
	}
	items, err := it.Collect()
	if err != nil {
		return value.Value{}, err
	}

	var sortErr *exception.Exception
	sort.SliceStable(items, func(i, j int) bool {
		less, exc := lessValues(ctx.Heap, items[i], items[j])
		if exc != nil && sortErr == nil {
			sortErr = exc
		}
		if reverse {
			return !less
		}
		return less
	})
	if sortErr != nil {
		for _, v := range items {
			ctx.drop(v)
		}
		return value.Value{}, sortErr
	}

	id, rerr := ctx.Heap.Allocate(value.List{Items: items})
	if rerr != nil {
		for _, v := range items {
			ctx.drop(v)
		}
		return value.Value{}, rerr
	}
	return value.Ref(id), nil
}

func lessValues(h *heap.Heap, a, b value.Value) (bool, *exception.Exception) {
	res, err := value.Binary(h, value.OpLt, a, b)
	if err != nil {
		if exc, ok := exception.Catchable(err); ok {
			return false, exc
		}
		return false, exception.New(exception.TypeError, "comparison failed")
	}
	return res.Tag == value.TagBool && res.Bool, nil
}

func builtinZip(ctx *Context, args []value.Value, kwargs []KV) (value.Value, error) {
	if exc := noKwargs("zip", kwargs); exc != nil {
		ctx.dropAll(args, kwargs)
		return value.Value{}, exc
	}

	iters := make([]*MontyIter, 0, len(args))
	closeAll := func() {
		for _, it := range iters {
			it.Close()
		}
	}
	for i, a := range args {
		it, err := NewMontyIter(ctx, a)
		if err != nil {
			closeAll()
			for _, rest := range args[i:] {
				ctx.drop(rest)
			}
			return value.Value{}, err
		}
		iters = append(iters, it)
	}

	var rows []value.Value
	dropRows := func() {
		for _, r := range rows {
			ctx.drop(r)
		}
	}
outer:
	for {
		row := make([]value.Value, 0, len(iters))
		for _, it := range iters {
			item, ok, err := it.Next()
			if err != nil {
				for _, v := range row {
					ctx.drop(v)
				}
				dropRows()
				closeAll()
				return value.Value{}, err
			}
			if !ok {
				for _, v := range row {
					ctx.drop(v)
				}
				break outer
			}
			row = append(row, item)
		}
		id, rerr := ctx.Heap.Allocate(value.Tuple{Items: row})
		if rerr != nil {
			for _, v := range row {
				ctx.drop(v)
			}
			dropRows()
			closeAll()
			return value.Value{}, rerr
		}
		rows = append(rows, value.Ref(id))
	}
	closeAll()

	id, rerr := ctx.Heap.Allocate(value.List{Items: rows})
	if rerr != nil {
		dropRows()
		return value.Value{}, rerr
	}
	return value.Ref(id), nil
}

func builtinSum(ctx *Context, args []value.Value, kwargs []KV) (value.Value, error) {
	if exc := argCount("sum", args, 1, 2); exc != nil {
		ctx.dropAll(args, kwargs)
		return value.Value{}, exc
	}
	if exc := noKwargs("sum", kwargs); exc != nil {
		ctx.dropAll(args, kwargs)
		return value.Value{}, exc
	}

	acc := value.Int(0)
	if len(args) == 2 {
		acc = args[1]
	}
	it, err := NewMontyIter(ctx, args[0])
	if err != nil {
		ctx.drop(args[0])
		ctx.drop(acc)
		return value.Value{}, err
	}
	for {
		item, ok, nerr := it.Next()
		if nerr != nil {
			it.Close()
			ctx.drop(acc)
			return value.Value{}, nerr
		}
		if !ok {
			break
		}
		next, berr := value.Binary(ctx.Heap, value.OpAdd, acc, item)
		ctx.drop(acc)
		ctx.drop(item)
		if berr != nil {
			it.Close()
			return value.Value{}, berr
		}
		acc = next
	}
	it.Close()
	return acc, nil
}

func builtinMinMax(ctx *Context, wantMin bool, args []value.Value, kwargs []KV) (value.Value, error) {
	name := "max"
	if wantMin {
		name = "min"
	}
	if exc := noKwargs(name, kwargs); exc != nil {
		ctx.dropAll(args, kwargs)
		return value.Value{}, exc
	}
	if len(args) == 0 {
		ctx.dropAll(args, kwargs)
		return value.Value{}, exception.New(exception.TypeError,
			"%s expected at least 1 argument, got 0", name)
	}

	var items []value.Value
	if len(args) == 1 {
		it, err := NewMontyIter(ctx, args[0])
		if err != nil {
			ctx.dropAll(args, nil)
			return value.Value{}, err
		}
		var cerr error
		items, cerr = it.Collect()
		if cerr != nil {
			return value.Value{}, cerr
		}
		if len(items) == 0 {
			return value.Value{}, exception.New(exception.ValueError, "%s() arg is an empty sequence", name)
		}
	} else {
		items = args
	}

	best := items[0]
	for _, v := range items[1:] {
		op := value.OpGt
		if wantMin {
			op = value.OpLt
		}
		res, err := value.Binary(ctx.Heap, op, v, best)
		if err != nil {
			for _, o := range items {
				ctx.drop(o)
			}
			return value.Value{}, err
		}
		if res.Tag == value.TagBool && res.Bool {
			best = v
		}
		ctx.drop(res)
	}
	if best.Tag == value.TagRef {
		ctx.Heap.IncRef(best.Ref)
	}
	for _, v := range items {
		ctx.drop(v)
	}
	return best, nil
}

func builtinBaseRepr(ctx *Context, kind value.BuiltinKind, args []value.Value, kwargs []KV) (value.Value, error) {
	defer ctx.dropAll(args, kwargs)
	name := map[value.BuiltinKind]string{Bin: "bin", Hex: "hex", Oct: "oct"}[kind]
	if exc := argCount(name, args, 1, 1); exc != nil {
		return value.Value{}, exc
	}

	var body string
	prefix := map[value.BuiltinKind]string{Bin: "0b", Hex: "0x", Oct: "0o"}[kind]
	base := map[value.BuiltinKind]int{Bin: 2, Hex: 16, Oct: 8}[kind]

	if n, ok := asInt(ctx.Heap, args[0]); ok {
		neg := n < 0
		u := new(big.Int).Abs(big.NewInt(n))
		body = u.Text(base)
		if neg {
			body = "-" + prefix + body
		} else {
			body = prefix + body
		}
	} else if args[0].Tag == value.TagRef {
		li, ok := ctx.Heap.Get(args[0].Ref).(value.LongInt)
		if !ok {
			return value.Value{}, exception.New(exception.TypeError,
				"%q object cannot be interpreted as an integer", args[0].TypeName(ctx.Heap))
		}
		abs := new(big.Int).Abs(li.V)
		body = abs.Text(base)
		if li.V.Sign() < 0 {
			body = "-" + prefix + body
		} else {
			body = prefix + body
		}
	} else {
		return value.Value{}, exception.New(exception.TypeError,
			"%q object cannot be interpreted as an integer", args[0].TypeName(ctx.Heap))
	}

	id, rerr := ctx.Heap.Allocate(value.Str{S: body})
	if rerr != nil {
		return value.Value{}, rerr
	}
	return value.Ref(id), nil
}

func builtinOrd(ctx *Context, args []value.Value, kwargs []KV) (value.Value, error) {
	defer ctx.dropAll(args, kwargs)
	if exc := argCount("ord", args, 1, 1); exc != nil {
		return value.Value{}, exc
	}
	s, ok := strArg(ctx.Heap, args[0])
	if !ok {
		return value.Value{}, exception.New(exception.TypeError,
			"ord() expected string of length 1, but %s found", args[0].TypeName(ctx.Heap))
	}
	runes := []rune(s)
	if len(runes) != 1 {
		return value.Value{}, exception.New(exception.TypeError,
			"ord() expected a character, but string of length %d found", len(runes))
	}
	return value.Int(int64(runes[0])), nil
}

func builtinChr(ctx *Context, args []value.Value, kwargs []KV) (value.Value, error) {
	defer ctx.dropAll(args, kwargs)
	if exc := argCount("chr", args, 1, 1); exc != nil {
		return value.Value{}, exc
	}
	n, ok := asInt(ctx.Heap, args[0])
	if !ok {
		return value.Value{}, exception.New(exception.TypeError,
			"an integer is required (got type %s)", args[0].TypeName(ctx.Heap))
	}
	if n < 0 || n > 0x10ffff {
		return value.Value{}, exception.New(exception.ValueError, "chr() arg not in range(0x110000)")
	}
	id, rerr := ctx.Heap.Allocate(value.Str{S: string(rune(n))})
	if rerr != nil {
		return value.Value{}, rerr
	}
	return value.Ref(id), nil
}

func builtinStr(ctx *Context, args []value.Value, kwargs []KV) (value.Value, error) {
	defer ctx.dropAll(args, kwargs)
	if exc := argCount("str", args, 0, 1); exc != nil {
		return value.Value{}, exc
	}
	s := ""
	if len(args) == 1 {
		s = value.ToStr(ctx.Heap, ctx.Interns, args[0])
	}
	id, rerr := ctx.Heap.Allocate(value.Str{S: s})
	if rerr != nil {
		return value.Value{}, rerr
	}
	return value.Ref(id), nil
}

func builtinRepr(ctx *Context, args []value.Value, kwargs []KV) (value.Value, error) {
	defer ctx.dropAll(args, kwargs)
	if exc := argCount("repr", args, 1, 1); exc != nil {
		return value.Value{}, exc
	}
	id, rerr := ctx.Heap.Allocate(value.Str{S: value.Repr(ctx.Heap, ctx.Interns, args[0])})
	if rerr != nil {
		return value.Value{}, rerr
	}
	return value.Ref(id), nil
}

func builtinInt(ctx *Context, args []value.Value, kwargs []KV) (value.Value, error) {
	defer ctx.dropAll(args, kwargs)
	if exc := argCount("int", args, 0, 2); exc != nil {
		return value.Value{}, exc
	}
	if len(args) == 0 {
		return value.Int(0), nil
	}

	v := args[0]
	if len(args) == 2 {
		s, ok := strArg(ctx.Heap, v)
		if !ok {
			return value.Value{}, exception.New(exception.TypeError,
				"int() can't convert non-string with explicit base")
		}
		base, ok := asInt(ctx.Heap, args[1])
		if !ok || (base != 0 && (base < 2 || base > 36)) {
			return value.Value{}, exception.New(exception.ValueError, "int() base must be >= 2 and <= 36, or 0")
		}
		return parseIntStr(ctx, s, int(base))
	}

	switch v.Tag {
	case value.TagBool:
		if v.Bool {
			return value.Int(1), nil
		}
		return value.Int(0), nil
	case value.TagInt:
		return value.Int(v.Int), nil
	case value.TagRef:
		switch d := ctx.Heap.Get(v.Ref).(type) {
		case value.Float:
			return value.Int(int64(d.F)), nil
		case value.LongInt:
			ctx.Heap.IncRef(v.Ref)
			return v, nil
		case value.Str:
			return parseIntStr(ctx, d.S, 10)
		}
	}
	return value.Value{}, exception.New(exception.TypeError,
		"int() argument must be a string or a number, not %q", v.TypeName(ctx.Heap))
}

func parseIntStr(ctx *Context, s string, base int) (value.Value, error) {
	t := strings.TrimSpace(s)
	neg := false
	if strings.HasPrefix(t, "-") {
		neg = true
		t = t[1:]
	} else if strings.HasPrefix(t, "+") {
		t = t[1:]
	}

	lower := strings.ToLower(t)
	switch {
	case (base == 16 || base == 0) && strings.HasPrefix(lower, "0x"):
		t = t[2:]
		base = 16
	case (base == 2 || base == 0) && strings.HasPrefix(lower, "0b"):
		t = t[2:]
		base = 2
	case (base == 8 || base == 0) && strings.HasPrefix(lower, "0o"):
		t = t[2:]
		base = 8
	case base == 0:
		base = 10
	}

	t = strings.ReplaceAll(t, "_", "")
	if t == "" {
		return value.Value{}, exception.New(exception.ValueError,
			"invalid literal for int() with base %d: %q", base, s)
	}

	if n, err := strconv.ParseInt(t, base, 64); err == nil {
		if neg {
			n = -n
		}
		return value.Int(n), nil
	}

	bi, ok := new(big.Int).SetString(t, base)
	if !ok {
		return value.Value{}, exception.New(exception.ValueError,
			"invalid literal for int() with base %d: %q", base, s)
	}
	if neg {
		bi.Neg(bi)
	}
	if bi.IsInt64() {
		return value.Int(bi.Int64()), nil
	}
	id, rerr := ctx.Heap.Allocate(value.NewLongInt(bi))
	if rerr != nil {
		return value.Value{}, rerr
	}
	return value.Ref(id), nil
}

func builtinFloat(ctx *Context, args []value.Value, kwargs []KV) (value.Value, error) {
	defer ctx.dropAll(args, kwargs)
	if exc := argCount("float", args, 0, 1); exc != nil {
		return value.Value{}, exc
	}
	f := 0.0
	if len(args) == 1 {
		v := args[0]
		if s, ok := strArg(ctx.Heap, v); ok {
			parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return value.Value{}, exception.New(exception.ValueError,
					"could not convert string to float: %q", s)
			}
			f = parsed
		} else if n, ok := asFloatArg(ctx.Heap, v); ok {
			f = n
		} else {
			return value.Value{}, exception.New(exception.TypeError,
				"float() argument must be a string or a number, not %q", v.TypeName(ctx.Heap))
		}
	}
	id, rerr := ctx.Heap.Allocate(value.Float{F: f})
	if rerr != nil {
		return value.Value{}, rerr
	}
	return value.Ref(id), nil
}

func builtinBool(ctx *Context, args []value.Value, kwargs []KV) (value.Value, error) {
	defer ctx.dropAll(args, kwargs)
	if exc := argCount("bool", args, 0, 1); exc != nil {
		return value.Value{}, exc
	}
	if len(args) == 0 {
		return value.Bool(false), nil
	}
	return value.Bool(value.Truthy(ctx.Heap, args[0])), nil
}

func builtinList(ctx *Context, args []value.Value, kwargs []KV) (value.Value, error) {
	if exc := argCount("list", args, 0, 1); exc != nil {
		ctx.dropAll(args, kwargs)
		return value.Value{}, exc
	}
	var items []value.Value
	if len(args) == 1 {
		it, err := NewMontyIter(ctx, args[0])
		if err != nil {
			ctx.dropAll(args, kwargs)
			return value.Value{}, err
		}
		var cerr error
		items, cerr = it.Collect()
		if cerr != nil {
			return value.Value{}, cerr
		}
	}
	id, rerr := ctx.Heap.Allocate(value.List{Items: items})
	if rerr != nil {
		for _, v := range items {
			ctx.drop(v)
		}
		return value.Value{}, rerr
	}
	return value.Ref(id), nil
}

func builtinTuple(ctx *Context, args []value.Value, kwargs []KV) (value.Value, error) {
	if exc := argCount("tuple", args, 0, 1); exc != nil {
		ctx.dropAll(args, kwargs)
		return value.Value{}, exc
	}
	var items []value.Value
	if len(args) == 1 {
		it, err := NewMontyIter(ctx, args[0])
		if err != nil {
			ctx.dropAll(args, kwargs)
			return value.Value{}, err
		}
		var cerr error
		items, cerr = it.Collect()
		if cerr != nil {
			return value.Value{}, cerr
		}
	}
	id, rerr := ctx.Heap.Allocate(value.Tuple{Items: items})
	if rerr != nil {
		for _, v := range items {
			ctx.drop(v)
		}
		return value.Value{}, rerr
	}
	return value.Ref(id), nil
}

func builtinDict(ctx *Context, args []value.Value, kwargs []KV) (value.Value, error) {
	defer ctx.dropAll(args, kwargs)
	if exc := argCount("dict", args, 0, 1); exc != nil {
		return value.Value{}, exc
	}
	out := value.NewDict()
	if len(args) == 1 {
		src, ok := dictArg(ctx.Heap, args[0])
		if !ok {
			return value.Value{}, exception.New(exception.TypeError, "dict() argument must be a dict")
		}
		for _, e := range src.Entries {
			if e.Key.Tag == value.TagUndefined {
				continue
			}
			if e.Key.Tag == value.TagRef {
				ctx.Heap.IncRef(e.Key.Ref)
			}
			if e.Val.Tag == value.TagRef {
				ctx.Heap.IncRef(e.Val.Ref)
			}
			out.Put(ctx.Heap, e.Key, e.Val)
		}
	}
	id, rerr := ctx.Heap.Allocate(*out)
	if rerr != nil {
		for _, e := range out.Entries {
			ctx.drop(e.Key)
			ctx.drop(e.Val)
		}
		return value.Value{}, rerr
	}
	return value.Ref(id), nil
}

func builtinSet(ctx *Context, args []value.Value, kwargs []KV) (value.Value, error) {
	if exc := argCount("set", args, 0, 1); exc != nil {
		ctx.dropAll(args, kwargs)
		return value.Value{}, exc
	}
	out := value.NewSet()
	if len(args) == 1 {
		it, err := NewMontyIter(ctx, args[0])
		if err != nil {
			ctx.dropAll(args, kwargs)
			return value.Value{}, err
		}
		for {
			item, ok, nerr := it.Next()
			if nerr != nil {
				it.Close()
				for _, v := range out.Items {
					ctx.drop(v)
				}
				return value.Value{}, nerr
			}
			if !ok {
				break
			}
			if !out.Add(ctx.Heap, item) {
				ctx.drop(item)
			}
		}
		it.Close()
	}
	id, rerr := ctx.Heap.Allocate(*out)
	if rerr != nil {
		for _, v := range out.Items {
			ctx.drop(v)
		}
		return value.Value{}, rerr
	}
	return value.Ref(id), nil
}

func builtinType(ctx *Context, args []value.Value, kwargs []KV) (value.Value, error) {
	defer ctx.dropAll(args, kwargs)
	if exc := argCount("type", args, 1, 1); exc != nil {
		return value.Value{}, exc
	}
	if k, ok := constructorFor(ctx.Heap, args[0]); ok {
		return value.Builtin(k), nil
	}
	id, rerr := ctx.Heap.Allocate(value.Str{S: "<class '" + args[0].TypeName(ctx.Heap) + "'>"})
	if rerr != nil {
		return value.Value{}, rerr
	}
	return value.Ref(id), nil
}

func constructorFor(h *heap.Heap, v value.Value) (value.BuiltinKind, bool) {
	switch v.Tag {
	case value.TagBool:
		return Bool, true
	case value.TagInt:
		return Int, true
	case value.TagInternString:
		return Str, true
	case value.TagRef:
		switch h.Get(v.Ref).(type) {
		case value.Str:
			return Str, true
		case value.Float:
			return Float, true
		case value.LongInt:
			return Int, true
		case value.List:
			return List, true
		case value.Tuple, value.NamedTuple:
			return Tuple, true
		case value.Dict:
			return Dict, true
		case value.Set:
			return Set, true
		case value.Range:
			return Range, true
		}
	}
	return 0, false
}

func builtinIter(ctx *Context, args []value.Value, kwargs []KV) (value.Value, error) {
	if exc := argCount("iter", args, 1, 1); exc != nil {
		ctx.dropAll(args, kwargs)
		return value.Value{}, exc
	}
	if exc := noKwargs("iter", kwargs); exc != nil {
		ctx.dropAll(args, kwargs)
		return value.Value{}, exc
	}
	it, err := value.NewIterator(ctx.Heap, args[0])
	if err != nil {
		ctx.dropAll(args, nil)
		return value.Value{}, err
	}
	return it, nil
}

func builtinNext(ctx *Context, args []value.Value, kwargs []KV) (value.Value, error) {
	defer ctx.dropAll(args, kwargs)
	if exc := argCount("next", args, 1, 2); exc != nil {
		return value.Value{}, exc
	}
	if args[0].Tag != value.TagRef {
		return value.Value{}, exception.New(exception.TypeError,
			"%q object is not an iterator", args[0].TypeName(ctx.Heap))
	}
	v, ok, err := value.IterNext(ctx.Heap, args[0].Ref)
	if err != nil {
		return value.Value{}, err
	}
	if !ok {
		if len(args) == 2 {
			d := args[1]
			if d.Tag == value.TagRef {
				ctx.Heap.IncRef(d.Ref)
			}
			return d, nil
		}
		return value.Value{}, exception.New(exception.StopIteration, "")
	}
	return v, nil
}

func builtinDivmod(ctx *Context, args []value.Value, kwargs []KV) (value.Value, error) {
	defer ctx.dropAll(args, kwargs)
	if exc := argCount("divmod", args, 2, 2); exc != nil {
		return value.Value{}, exc
	}
	q, err := value.Binary(ctx.Heap, value.OpFloorDiv, args[0], args[1])
	if err != nil {
		return value.Value{}, err
	}
	r, err := value.Binary(ctx.Heap, value.OpMod, args[0], args[1])
	if err != nil {
		ctx.drop(q)
		return value.Value{}, err
	}
	id, rerr := ctx.Heap.Allocate(value.Tuple{Items: []value.Value{q, r}})
	if rerr != nil {
		ctx.drop(q)
		ctx.drop(r)
		return value.Value{}, rerr
	}
	return value.Ref(id), nil
}

func builtinHasattr(ctx *Context, args []value.Value, kwargs []KV) (value.Value, error) {
	defer ctx.dropAll(args, kwargs)
	if exc := argCount("hasattr", args, 2, 2); exc != nil {
		return value.Value{}, exc
	}
	name, ok := strArg(ctx.Heap, args[1])
	if !ok {
		return value.Value{}, exception.New(exception.TypeError, "hasattr(): attribute name must be string")
	}

	if args[0].Tag == value.TagRef {
		switch d := ctx.Heap.Get(args[0].Ref).(type) {
		case value.Module:
			if id, found := ctx.Interns.Get(name); found {
				_, has := d.Members[id]
				return value.Bool(has), nil
			}
			return value.Bool(false), nil
		case value.NamedTuple:
			for _, f := range d.Fields {
				if ctx.Interns.MustLookup(f) == name {
					return value.Bool(true), nil
				}
			}
			return value.Bool(false), nil
		}
	}
	return value.Bool(methodExists(ctx.Heap, args[0], name)), nil
}

func builtinPath(ctx *Context, args []value.Value, kwargs []KV) (value.Value, error) {
	defer ctx.dropAll(args, kwargs)
	if exc := argCount("Path", args, 1, 1); exc != nil {
		return value.Value{}, exc
	}
	s, ok := strArg(ctx.Heap, args[0])
	if !ok {
		if p, isPath := pathArg(ctx.Heap, args[0]); isPath {
			s = p
		} else {
			return value.Value{}, exception.New(exception.TypeError,
				"argument should be a str, not %q", args[0].TypeName(ctx.Heap))
		}
	}
	id, rerr := ctx.Heap.Allocate(value.Path{S: s})
	if rerr != nil {
		return value.Value{}, rerr
	}
	return value.Ref(id), nil
}

func builtinException(ctx *Context, kind exception.Kind, args []value.Value, kwargs []KV) (value.Value, error) {
	defer ctx.dropAll(args, kwargs)
	if exc := argCount(kind.String(), args, 0, 1); exc != nil {
		return value.Value{}, exc
	}
	msg := ""
	if len(args) == 1 {
		msg = value.ToStr(ctx.Heap, ctx.Interns, args[0])
	}
	id, rerr := ctx.Heap.Allocate(value.Exc{E: &exception.Exception{Kind: kind, Message: msg}})
	if rerr != nil {
		return value.Value{}, rerr
	}
	return value.Ref(id), nil
}

// Shared argument coercions.

func asInt(h *heap.Heap, v value.Value) (int64, bool) {
	switch v.Tag {
	case value.TagBool:
		if v.Bool {
			return 1, true
		}
		return 0, true
	case value.TagInt:
		return v.Int, true
	case value.TagRef:
		if li, ok := h.Get(v.Ref).(value.LongInt); ok && li.V.IsInt64() {
			return li.V.Int64(), true
		}
	}
	return 0, false
}

func asFloatArg(h *heap.Heap, v value.Value) (float64, bool) {
	if n, ok := asInt(h, v); ok {
		return float64(n), true
	}
	if v.Tag == value.TagRef {
		switch d := h.Get(v.Ref).(type) {
		case value.Float:
			return d.F, true
		case value.LongInt:
			f := new(big.Float).SetInt(d.V)
			out, _ := f.Float64()
			return out, true
		}
	}
	return 0, false
}

func strArg(h *heap.Heap, v value.Value) (string, bool) {
	if v.Tag == value.TagRef {
		if s, ok := h.Get(v.Ref).(value.Str); ok {
			return s.S, true
		}
	}
	return "", false
}

func pathArg(h *heap.Heap, v value.Value) (string, bool) {
	if v.Tag == value.TagRef {
		if p, ok := h.Get(v.Ref).(value.Path); ok {
			return p.S, true
		}
	}
	return "", false
}

func dictArg(h *heap.Heap, v value.Value) (*value.Dict, bool) {
	if v.Tag == value.TagRef {
		if d, ok := h.Get(v.Ref).(value.Dict); ok {
			return &d, true
		}
	}
	return nil, false
}
