package modules

import (
	"testing"

	"github.com/monty-lang/monty/internal/heap"
	"github.com/monty-lang/monty/internal/intern"
	"github.com/monty-lang/monty/internal/tracker"
	"github.com/monty-lang/monty/internal/value"
)

func load(t *testing.T, name string) (*heap.Heap, *intern.Table, value.Module) {
	t.Helper()
	h := heap.New(tracker.NewUnbounded())
	interns := intern.New()
	v, err := Load(h, interns, name)
	if err != nil {
		t.Fatal(err)
	}
	mod, ok := h.Get(v.Ref).(value.Module)
	if !ok {
		t.Fatalf("Load(%q) did not produce a module", name)
	}
	return h, interns, mod
}

func member(t *testing.T, interns *intern.Table, mod value.Module, name string) value.Value {
	t.Helper()
	id, ok := interns.Get(name)
	if !ok {
		t.Fatalf("%q was never interned", name)
	}
	v, found := mod.Members[id]
	if !found {
		t.Fatalf("module has no member %q", name)
	}
	return v
}

func TestSysModule(t *testing.T) {
	h, interns, mod := load(t, "sys")

	ver := member(t, interns, mod, "version")
	if s := h.Get(ver.Ref).(value.Str).S; s == "" {
		t.Fatal("sys.version is empty")
	}

	info := member(t, interns, mod, "version_info")
	nt := h.Get(info.Ref).(value.NamedTuple)
	if len(nt.Items) != 5 || len(nt.Fields) != 5 {
		t.Fatalf("version_info should be a 5-field named tuple, got %d/%d", len(nt.Items), len(nt.Fields))
	}
	if interns.MustLookup(nt.Fields[0]) != "major" {
		t.Fatalf("first field = %q", interns.MustLookup(nt.Fields[0]))
	}

	for _, stream := range []string{"stdout", "stderr"} {
		m := member(t, interns, mod, stream)
		if _, ok := h.Get(m.Ref).(value.Marker); !ok {
			t.Fatalf("sys.%s should be an opaque marker", stream)
		}
	}
}

func TestTypingModule(t *testing.T) {
	h, interns, mod := load(t, "typing")

	tc := member(t, interns, mod, "TYPE_CHECKING")
	if tc.Tag != value.TagBool || tc.Bool {
		t.Fatalf("TYPE_CHECKING = %+v, want False", tc)
	}

	if len(typingMarkers) != 25 {
		t.Fatalf("marker list has %d names, want 25", len(typingMarkers))
	}
	for _, name := range typingMarkers {
		m := member(t, interns, mod, name)
		if _, ok := h.Get(m.Ref).(value.Marker); !ok {
			t.Fatalf("typing.%s should be a marker", name)
		}
	}
}

func TestPathlibModule(t *testing.T) {
	_, interns, mod := load(t, "pathlib")
	p := member(t, interns, mod, "Path")
	if p.Tag != value.TagBuiltin {
		t.Fatalf("pathlib.Path = %+v, want a builtin type", p)
	}
}

func TestUnknownModule(t *testing.T) {
	h := heap.New(tracker.NewUnbounded())
	if _, err := Load(h, intern.New(), "socket"); err == nil {
		t.Fatal("unknown module should raise NameError")
	}
}

func TestModuleDropReleasesMembers(t *testing.T) {
	h := heap.New(tracker.NewUnbounded())
	interns := intern.New()
	v, err := Load(h, interns, "sys")
	if err != nil {
		t.Fatal(err)
	}
	h.DecRef(v.Ref)
	if h.LiveCount() != 0 {
		t.Fatalf("dropping the module leaked %d slots", h.LiveCount())
	}
}
