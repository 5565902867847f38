package intern

import "testing"

func TestStaticPrefixStable(t *testing.T) {
	tbl := New()
	id, ok := StaticID("__init__")
	if !ok {
		t.Fatal("__init__ should be part of the static prefix")
	}
	got, ok := tbl.Lookup(id)
	if !ok || got != "__init__" {
		t.Fatalf("Lookup(%d) = %q, %v; want __init__, true", id, got, ok)
	}
}

func TestInternDedup(t *testing.T) {
	tbl := New()
	a := tbl.Intern("hello")
	b := tbl.Intern("hello")
	if a != b {
		t.Fatalf("interning the same string twice gave different ids: %d != %d", a, b)
	}
}

func TestInternAssignsAfterStaticPrefix(t *testing.T) {
	tbl := New()
	staticCount := len(staticStrings)
	id := tbl.Intern("a-fresh-identifier")
	if int(id) < staticCount {
		t.Fatalf("fresh intern got id %d, expected >= %d", id, staticCount)
	}
}

func TestLookupOutOfRange(t *testing.T) {
	tbl := New()
	if _, ok := tbl.Lookup(StringID(1 << 20)); ok {
		t.Fatal("expected Lookup to report false for an out-of-range id")
	}
}
