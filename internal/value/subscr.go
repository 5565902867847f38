package value

import (
	"github.com/monty-lang/monty/internal/exception"
	"github.com/monty-lang/monty/internal/heap"
)

func normIndex(i, n int64) (int64, bool) {
	if i < 0 {
		i += n
	}
	if i < 0 || i >= n {
		return 0, false
	}
	return i, true
}

// GetItem implements BINARY_SUBSCR: container[key]. The returned value is
// owned by the caller (Ref results get a fresh refcount share; yielded
// string characters are freshly allocated).
func GetItem(h *heap.Heap, container, key Value) (Value, error) {
	if container.Tag != TagRef {
		return Value{}, exception.New(exception.TypeError,
			"%q object is not subscriptable", container.TypeName(h))
	}

	switch d := h.Get(container.Ref).(type) {
	case List:
		return itemAt(h, d.Items, key, container)
	case Tuple:
		return itemAt(h, d.Items, key, container)
	case NamedTuple:
		return itemAt(h, d.Items, key, container)
	case Str:
		i, ok := asExactInt(h, normalizeBool(key))
		if !ok {
			return Value{}, exception.New(exception.TypeError,
				"string indices must be integers, not %q", key.TypeName(h))
		}
		runes := []rune(d.S)
		idx, inRange := normIndex(i, int64(len(runes)))
		if !inRange {
			return Value{}, exception.New(exception.IndexError, "string index out of range")
		}
		id, rerr := h.Allocate(Str{S: string(runes[idx])})
		if rerr != nil {
			return Value{}, rerr
		}
		return Ref(id), nil
	case Dict:
		v, found := d.Get(h, key)
		if !found {
			return Value{}, exception.New(exception.KeyError, "%s", Repr(h, nil, key))
		}
		if v.Tag == TagRef {
			h.IncRef(v.Ref)
		}
		return v, nil
	default:
		return Value{}, exception.New(exception.TypeError,
			"%q object is not subscriptable", container.TypeName(h))
	}
}

func itemAt(h *heap.Heap, items []Value, key, container Value) (Value, error) {
	i, ok := asExactInt(h, normalizeBool(key))
	if !ok {
		return Value{}, exception.New(exception.TypeError,
			"%s indices must be integers, not %q", container.TypeName(h), key.TypeName(h))
	}
	idx, inRange := normIndex(i, int64(len(items)))
	if !inRange {
		return Value{}, exception.New(exception.IndexError, "%s index out of range", container.TypeName(h))
	}
	v := items[idx]
	if v.Tag == TagRef {
		h.IncRef(v.Ref)
	}
	return v, nil
}

// SetItem implements STORE_SUBSCR: container[key] = val. On success the
// container takes over the caller's refcount shares of key and val; a
// replaced dict value or list element is released. On error the caller
// keeps ownership of both.
func SetItem(h *heap.Heap, container, key, val Value) error {
	if container.Tag != TagRef {
		return exception.New(exception.TypeError,
			"%q object does not support item assignment", container.TypeName(h))
	}

	switch d := h.Get(container.Ref).(type) {
	case List:
		i, ok := asExactInt(h, normalizeBool(key))
		if !ok {
			return exception.New(exception.TypeError,
				"list indices must be integers, not %q", key.TypeName(h))
		}
		idx, inRange := normIndex(i, int64(len(d.Items)))
		if !inRange {
			return exception.New(exception.IndexError, "list assignment index out of range")
		}
		old := d.Items[idx]
		d.Items[idx] = val
		h.Replace(container.Ref, d)
		if old.Tag == TagRef {
			h.DecRef(old.Ref)
		}
		return nil
	case Dict:
		if !hashable(h, key) {
			return exception.New(exception.TypeError, "unhashable type: %q", key.TypeName(h))
		}
		if old, found := d.Get(h, key); found {
			d.Put(h, key, val)
			h.Replace(container.Ref, d)
			// The dict already owned a share of the key; release the
			// caller's duplicate along with the replaced value.
			if key.Tag == TagRef {
				h.DecRef(key.Ref)
			}
			if old.Tag == TagRef {
				h.DecRef(old.Ref)
			}
			return nil
		}
		d.Put(h, key, val)
		h.Replace(container.Ref, d)
		return nil
	default:
		return exception.New(exception.TypeError,
			"%q object does not support item assignment", container.TypeName(h))
	}
}

// DelItem implements DELETE_SUBSCR, releasing the removed entry's shares.
func DelItem(h *heap.Heap, container, key Value) error {
	if container.Tag != TagRef {
		return exception.New(exception.TypeError,
			"%q object does not support item deletion", container.TypeName(h))
	}

	switch d := h.Get(container.Ref).(type) {
	case List:
		i, ok := asExactInt(h, normalizeBool(key))
		if !ok {
			return exception.New(exception.TypeError,
				"list indices must be integers, not %q", key.TypeName(h))
		}
		idx, inRange := normIndex(i, int64(len(d.Items)))
		if !inRange {
			return exception.New(exception.IndexError, "list assignment index out of range")
		}
		old := d.Items[idx]
		d.Items = append(d.Items[:idx], d.Items[idx+1:]...)
		h.Replace(container.Ref, d)
		if old.Tag == TagRef {
			h.DecRef(old.Ref)
		}
		return nil
	case Dict:
		stored, found := d.Get(h, key)
		if !found {
			return exception.New(exception.KeyError, "%s", Repr(h, nil, key))
		}
		var storedKey Value
		for _, e := range d.Entries {
			if e.Key.Tag != TagUndefined && Eq(h, e.Key, key) {
				storedKey = e.Key
				break
			}
		}
		d.Delete(h, key)
		h.Replace(container.Ref, d)
		if storedKey.Tag == TagRef {
			h.DecRef(storedKey.Ref)
		}
		if stored.Tag == TagRef {
			h.DecRef(stored.Ref)
		}
		return nil
	default:
		return exception.New(exception.TypeError,
			"%q object does not support item deletion", container.TypeName(h))
	}
}

func hashable(h *heap.Heap, v Value) bool {
	if v.Tag != TagRef {
		return true
	}
	switch h.Get(v.Ref).(type) {
	case Str, Float, LongInt, Tuple, Range, Marker, Path:
		return true
	default:
		return false
	}
}
