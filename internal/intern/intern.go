// Package intern implements the runtime's string interning table: a
// bidirectional string<->StringID map with a fixed static prefix of
// well-known names assigned at compile time, so the dispatch loop can
// compare identifiers by integer id instead of by string content.
package intern

import "sync"

// StringID is a densely packed index into the intern table. The static
// prefix occupies ids [0, len(staticStrings)); everything after is
// assigned by Intern in first-seen order.
type StringID uint32

// staticStrings is the fixed prefix of well-known identifiers assigned
// stable ids so the VM and builtin dispatch can compare by id without a
// table lookup. Order matters: it defines the ids below.
var staticStrings = []string{
	"", // id 0 reserved as the invalid/empty sentinel
	"__init__", "__name__", "__main__", "__doc__", "__class__",
	"__len__", "__iter__", "__next__", "__getitem__", "__setitem__",
	"__call__", "__repr__", "__str__", "__eq__", "__hash__",
	"self", "args", "kwargs",
	// builtin functions and types
	"print", "len", "abs", "range", "filter", "all", "any", "sorted",
	"zip", "sum", "min", "max", "bin", "hex", "oct", "ord", "chr",
	"str", "repr", "int", "float", "bool", "list", "tuple", "dict",
	"set", "type", "iter", "next", "divmod", "hasattr",
	// exception types
	"TypeError", "ValueError", "KeyError", "IndexError",
	"AttributeError", "NameError", "ZeroDivisionError", "StopIteration",
	"NotImplementedError", "SyntaxError", "Exception",
	// built-in modules and their members
	"sys", "typing", "pathlib",
	"version", "version_info", "platform", "stdout", "stderr",
	"major", "minor", "micro", "releaselevel", "serial",
	"Path", "TYPE_CHECKING",
	// typing markers
	"Any", "Optional", "Union", "List", "Dict", "Tuple", "Set",
	"FrozenSet", "Callable", "Type", "Sequence", "Mapping", "Iterable",
	"Iterator", "Generator", "ClassVar", "Final", "Literal", "TypeVar",
	"Generic", "Protocol", "Annotated", "Self", "Never", "NoReturn",
	// method names
	"append", "get", "keys", "values", "items", "pop", "sort", "join",
	"extend", "insert", "remove", "count", "index", "reverse", "clear",
	"add", "discard", "update", "setdefault",
	"upper", "lower", "strip", "lstrip", "rstrip", "split", "replace",
	"startswith", "endswith", "find",
}

const (
	// Empty is the id of the empty-string / sentinel static entry.
	Empty StringID = 0
)

func staticID(s string) (StringID, bool) {
	for i, v := range staticStrings {
		if v == s {
			return StringID(i), true
		}
	}
	return 0, false
}

// Table is a bidirectional, append-only string<->StringID table. It is
// built once during preparation and is read-only once the program begins
// executing, so it needs no locking on the hot path; the mutex only
// guards construction-time Intern calls from host-side setup code that
// may run concurrently with compilation of multiple modules.
type Table struct {
	mu      sync.Mutex
	strings []string
	ids     map[string]StringID
}

// New creates a Table pre-populated with the static prefix.
func New() *Table {
	t := &Table{
		strings: append([]string(nil), staticStrings...),
		ids:     make(map[string]StringID, len(staticStrings)*2),
	}
	for i, s := range t.strings {
		t.ids[s] = StringID(i)
	}
	return t
}

// Intern returns the StringID for s, assigning a new one if s has not
// been seen before.
func (t *Table) Intern(s string) StringID {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id, ok := t.ids[s]; ok {
		return id
	}
	id := StringID(len(t.strings))
	t.strings = append(t.strings, s)
	t.ids[s] = id
	return id
}

// Get returns the id already assigned to s, without interning it; false
// when s has never been seen. Used on read paths once the table is
// frozen.
func (t *Table) Get(s string) (StringID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id, ok := t.ids[s]
	return id, ok
}

// Lookup returns the string for id, or false if id is out of range.
func (t *Table) Lookup(id StringID) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if int(id) >= len(t.strings) {
		return "", false
	}
	return t.strings[id], true
}

// MustLookup is Lookup without the ok return, for call sites that already
// hold an id known to be valid (e.g. a static id constant).
func (t *Table) MustLookup(id StringID) string {
	s, _ := t.Lookup(id)
	return s
}

// StaticID returns the id of one of the fixed well-known strings, and
// false if s is not part of the static prefix.
func StaticID(s string) (StringID, bool) { return staticID(s) }
