// Package modules constructs the built-in modules the language exposes by
// name: sys, typing, and pathlib. Module objects live on the heap like
// any other value; the dispatch loop caches one instance per execution so
// marker members stay singletons.
package modules

import (
	"runtime"

	"github.com/monty-lang/monty/internal/builtins"
	"github.com/monty-lang/monty/internal/exception"
	"github.com/monty-lang/monty/internal/heap"
	"github.com/monty-lang/monty/internal/intern"
	"github.com/monty-lang/monty/internal/value"
	"github.com/monty-lang/monty/internal/version"
)

// typingMarkers is the closed set of names the typing module exposes as
// opaque singletons.
var typingMarkers = []string{
	"Any", "Optional", "Union", "List", "Dict", "Tuple", "Set",
	"FrozenSet", "Callable", "Type", "Sequence", "Mapping", "Iterable",
	"Iterator", "Generator", "ClassVar", "Final", "Literal", "TypeVar",
	"Generic", "Protocol", "Annotated", "Self", "Never", "NoReturn",
}

// IsModuleName reports whether name resolves to a built-in module.
func IsModuleName(name string) bool {
	return name == "sys" || name == "typing" || name == "pathlib"
}

// Load allocates the named module and returns an owned Ref to it. The
// module's members each hold their own refcount shares, released through
// the module's ChildIDs when it is dropped.
func Load(h *heap.Heap, interns *intern.Table, name string) (value.Value, error) {
	switch name {
	case "sys":
		return loadSys(h, interns)
	case "typing":
		return loadTyping(h, interns)
	case "pathlib":
		return loadPathlib(h, interns)
	default:
		return value.Value{}, exception.New(exception.NameError, "no module named %q", name)
	}
}

func mustIntern(interns *intern.Table, s string) intern.StringID {
	if id, ok := intern.StaticID(s); ok {
		return id
	}
	return interns.Intern(s)
}

func allocModule(h *heap.Heap, interns *intern.Table, name string, members map[intern.StringID]value.Value) (value.Value, error) {
	id, rerr := h.Allocate(value.Module{Name: mustIntern(interns, name), Members: members})
	if rerr != nil {
		for _, v := range members {
			if v.Tag == value.TagRef {
				h.DecRef(v.Ref)
			}
		}
		return value.Value{}, rerr
	}
	return value.Ref(id), nil
}

func loadSys(h *heap.Heap, interns *intern.Table) (value.Value, error) {
	members := map[intern.StringID]value.Value{}

	verID, rerr := h.Allocate(value.Str{S: version.String()})
	if rerr != nil {
		return value.Value{}, rerr
	}
	members[mustIntern(interns, "version")] = value.Ref(verID)

	major, minor, micro, level, serial := version.Info()
	levelID, rerr := h.Allocate(value.Str{S: level})
	if rerr != nil {
		return rollback(h, members, rerr)
	}
	info := value.NamedTuple{
		Items: []value.Value{
			value.Int(major), value.Int(minor), value.Int(micro),
			value.Ref(levelID), value.Int(serial),
		},
		Fields: []intern.StringID{
			mustIntern(interns, "major"), mustIntern(interns, "minor"),
			mustIntern(interns, "micro"), mustIntern(interns, "releaselevel"),
			mustIntern(interns, "serial"),
		},
	}
	infoID, rerr := h.Allocate(info)
	if rerr != nil {
		h.DecRef(levelID)
		return rollback(h, members, rerr)
	}
	members[mustIntern(interns, "version_info")] = value.Ref(infoID)

	platID, rerr := h.Allocate(value.Str{S: runtime.GOOS})
	if rerr != nil {
		return rollback(h, members, rerr)
	}
	members[mustIntern(interns, "platform")] = value.Ref(platID)

	for _, stream := range []string{"stdout", "stderr"} {
		mid, rerr := h.Allocate(value.Marker{Name: mustIntern(interns, stream)})
		if rerr != nil {
			return rollback(h, members, rerr)
		}
		members[mustIntern(interns, stream)] = value.Ref(mid)
	}

	return allocModule(h, interns, "sys", members)
}

func loadTyping(h *heap.Heap, interns *intern.Table) (value.Value, error) {
	members := map[intern.StringID]value.Value{
		mustIntern(interns, "TYPE_CHECKING"): value.Bool(false),
	}
	for _, name := range typingMarkers {
		id := mustIntern(interns, name)
		mid, rerr := h.Allocate(value.Marker{Name: id})
		if rerr != nil {
			return rollback(h, members, rerr)
		}
		members[id] = value.Ref(mid)
	}
	return allocModule(h, interns, "typing", members)
}

func loadPathlib(h *heap.Heap, interns *intern.Table) (value.Value, error) {
	members := map[intern.StringID]value.Value{
		mustIntern(interns, "Path"): value.Builtin(builtins.PathType),
	}
	return allocModule(h, interns, "pathlib", members)
}

func rollback(h *heap.Heap, members map[intern.StringID]value.Value, rerr *exception.Resource) (value.Value, error) {
	for _, v := range members {
		if v.Tag == value.TagRef {
			h.DecRef(v.Ref)
		}
	}
	return value.Value{}, rerr
}
