package value

import (
	"testing"

	"github.com/monty-lang/monty/internal/heap"
)

func drain(t *testing.T, h *heap.Heap, iterable Value) []Value {
	t.Helper()
	it, err := NewIterator(h, iterable)
	if err != nil {
		t.Fatalf("NewIterator: %v", err)
	}
	var out []Value
	for {
		v, ok, nerr := IterNext(h, it.Ref)
		if nerr != nil {
			t.Fatalf("IterNext: %v", nerr)
		}
		if !ok {
			break
		}
		out = append(out, v)
	}
	h.DecRef(it.Ref)
	return out
}

func TestIterateList(t *testing.T) {
	h := newHeap()
	id, _ := h.Allocate(List{Items: []Value{Int(1), Int(2), Int(3)}})
	got := drain(t, h, Ref(id))
	if len(got) != 3 || got[0].Int != 1 || got[2].Int != 3 {
		t.Fatalf("list iteration = %+v", got)
	}
}

func TestIterateRange(t *testing.T) {
	h := newHeap()
	cases := []struct {
		r    Range
		want []int64
	}{
		{Range{Start: 0, Stop: 3, Step: 1}, []int64{0, 1, 2}},
		{Range{Start: 5, Stop: 0, Step: -2}, []int64{5, 3, 1}},
		{Range{Start: 0, Stop: 0, Step: 1}, nil},
	}
	for _, tc := range cases {
		id, _ := h.Allocate(tc.r)
		got := drain(t, h, Ref(id))
		if len(got) != len(tc.want) {
			t.Fatalf("range %+v yielded %d values, want %d", tc.r, len(got), len(tc.want))
		}
		for i, v := range got {
			if v.Int != tc.want[i] {
				t.Fatalf("range %+v item %d = %d, want %d", tc.r, i, v.Int, tc.want[i])
			}
		}
	}
}

func TestIterateString(t *testing.T) {
	h := newHeap()
	id, _ := h.Allocate(Str{S: "héllo"})
	got := drain(t, h, Ref(id))
	want := []string{"h", "é", "l", "l", "o"}
	if len(got) != len(want) {
		t.Fatalf("string iteration yielded %d runes, want %d", len(got), len(want))
	}
	for i, v := range got {
		if s := h.Get(v.Ref).(Str).S; s != want[i] {
			t.Fatalf("rune %d = %q, want %q", i, s, want[i])
		}
		h.DecRef(v.Ref)
	}
}

func TestIterateDictSkipsTombstones(t *testing.T) {
	h := newHeap()
	d := NewDict()
	ka, _ := h.Allocate(Str{S: "a"})
	kb, _ := h.Allocate(Str{S: "b"})
	kc, _ := h.Allocate(Str{S: "c"})
	d.Put(h, Ref(ka), Int(1))
	d.Put(h, Ref(kb), Int(2))
	d.Put(h, Ref(kc), Int(3))
	d.Delete(h, Ref(kb))
	id, _ := h.Allocate(*d)

	got := drain(t, h, Ref(id))
	if len(got) != 2 {
		t.Fatalf("dict iteration yielded %d keys, want 2", len(got))
	}
	keys := []string{
		h.Get(got[0].Ref).(Str).S,
		h.Get(got[1].Ref).(Str).S,
	}
	if keys[0] != "a" || keys[1] != "c" {
		t.Fatalf("dict keys = %v, want [a c]", keys)
	}
}

func TestIteratorOfIteratorIsIdentity(t *testing.T) {
	h := newHeap()
	id, _ := h.Allocate(List{Items: []Value{Int(1)}})
	it, err := NewIterator(h, Ref(id))
	if err != nil {
		t.Fatal(err)
	}
	again, err := NewIterator(h, it)
	if err != nil {
		t.Fatal(err)
	}
	if again.Ref != it.Ref {
		t.Fatal("iter(iterator) should return the same iterator")
	}
	h.DecRef(it.Ref)
}

func TestIteratorElementRefcount(t *testing.T) {
	h := newHeap()
	elem, _ := h.Allocate(Str{S: "x"})
	lst, _ := h.Allocate(List{Items: []Value{Ref(elem)}})

	it, _ := NewIterator(h, Ref(lst))
	v, ok, _ := IterNext(h, it.Ref)
	if !ok {
		t.Fatal("expected one element")
	}
	// The yielded value owns its own share: dropping the iterator (and
	// with it the list) must keep it alive.
	h.DecRef(it.Ref)
	if got := h.Get(v.Ref).(Str).S; got != "x" {
		t.Fatal("yielded element freed with its container")
	}
	h.DecRef(v.Ref)
	if h.LiveCount() != 0 {
		t.Fatalf("leak: %d live slots", h.LiveCount())
	}
}

func TestNonIterableRaises(t *testing.T) {
	h := newHeap()
	if _, err := NewIterator(h, Int(3)); err == nil {
		t.Fatal("iterating an int should raise TypeError")
	}
}
