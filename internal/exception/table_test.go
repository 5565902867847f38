package exception

import "testing"

func TestTableLookupInnermostWins(t *testing.T) {
	tbl := Table{
		{PCStart: 0, PCEnd: 100, HandlerPC: 50, StackDepth: 0},
		{PCStart: 10, PCEnd: 20, HandlerPC: 60, StackDepth: 2},
	}
	h, ok := tbl.Lookup(15, TypeError)
	if !ok || h.HandlerPC != 60 {
		t.Fatalf("Lookup(15) = %+v, %v; inner handler should win", h, ok)
	}
	h, ok = tbl.Lookup(5, TypeError)
	if !ok || h.HandlerPC != 50 {
		t.Fatalf("Lookup(5) = %+v, %v", h, ok)
	}
}

func TestTableLookupKindFilter(t *testing.T) {
	tbl := Table{
		{PCStart: 0, PCEnd: 10, HandlerPC: 20, Kinds: []Kind{KeyError}},
	}
	if _, ok := tbl.Lookup(5, TypeError); ok {
		t.Fatal("a KeyError-only handler must not catch TypeError")
	}
	if h, ok := tbl.Lookup(5, KeyError); !ok || h.HandlerPC != 20 {
		t.Fatal("the KeyError handler should catch KeyError")
	}
}

func TestTableRangeIsHalfOpen(t *testing.T) {
	tbl := Table{{PCStart: 0, PCEnd: 10, HandlerPC: 20}}
	if _, ok := tbl.Lookup(10, TypeError); ok {
		t.Fatal("PCEnd is exclusive")
	}
	if _, ok := tbl.Lookup(9, TypeError); !ok {
		t.Fatal("PCEnd-1 is covered")
	}
}

func TestCatchableClassification(t *testing.T) {
	if _, ok := Catchable(New(ValueError, "x")); !ok {
		t.Fatal("exceptions are catchable")
	}
	if _, ok := Catchable(NewResource(TimeLimit)); ok {
		t.Fatal("resource errors are terminal")
	}
	if _, ok := Catchable(nil); ok {
		t.Fatal("nil is not an exception")
	}
}
