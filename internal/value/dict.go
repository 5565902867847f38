package value

import "github.com/monty-lang/monty/internal/heap"

// Get returns the value stored under key and true, or the zero Value and
// false if key is absent. h is needed to resolve Ref keys/values for
// equality and hashing.
func (d *Dict) Get(h *heap.Heap, key Value) (Value, bool) {
	bucket := d.index[Hash(h, key)]
	for _, i := range bucket {
		if i >= 0 && Eq(h, d.Entries[i].Key, key) {
			return d.Entries[i].Val, true
		}
	}
	return Value{}, false
}

// Put inserts or updates key -> val, preserving the original insertion
// position on update (Python dict semantics).
func (d *Dict) Put(h *heap.Heap, key, val Value) {
	hk := Hash(h, key)
	bucket := d.index[hk]
	for _, i := range bucket {
		if i >= 0 && Eq(h, d.Entries[i].Key, key) {
			d.Entries[i].Val = val
			return
		}
	}
	d.Entries = append(d.Entries, dictEntry{Key: key, Val: val})
	d.index[hk] = append(bucket, len(d.Entries)-1)
}

// Delete removes key if present and reports whether it was found. The
// entry is tombstoned in place rather than shifting later entries.
func (d *Dict) Delete(h *heap.Heap, key Value) bool {
	hk := Hash(h, key)
	bucket := d.index[hk]
	for bi, i := range bucket {
		if i >= 0 && Eq(h, d.Entries[i].Key, key) {
			d.Entries[i] = dictEntry{Key: Value{Tag: TagUndefined}}
			d.index[hk] = append(bucket[:bi], bucket[bi+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of live (non-tombstoned) entries.
func (d *Dict) Len() int {
	n := 0
	for _, e := range d.Entries {
		if e.Key.Tag != TagUndefined {
			n++
		}
	}
	return n
}

// Add inserts v if not already present, returning true if it was newly
// added.
func (s *Set) Add(h *heap.Heap, v Value) bool {
	hk := Hash(h, v)
	bucket := s.index[hk]
	for _, i := range bucket {
		if i >= 0 && Eq(h, s.Items[i], v) {
			return false
		}
	}
	s.Items = append(s.Items, v)
	s.index[hk] = append(bucket, len(s.Items)-1)
	return true
}

// Contains reports whether v is a member of the set.
func (s *Set) Contains(h *heap.Heap, v Value) bool {
	bucket := s.index[Hash(h, v)]
	for _, i := range bucket {
		if i >= 0 && Eq(h, s.Items[i], v) {
			return true
		}
	}
	return false
}
