package jsondiff

import (
	"errors"
	"fmt"
)

// Apply replays cs on old and returns the resulting document. For a change
// set produced by Classify(old, new, Diff(old, new), opts), the result equals
// new. old is not modified.
//
// Removed items are deleted first (by anchor, latest first so array indexes
// stay valid), then edited items are written, then added items are inserted.
func Apply(old Value, cs ChangeSet) (Value, error) {
	doc := old

	var targets []Path
	seen := map[string]bool{}
	for _, it := range cs.Removed {
		t := it.Path
		if it.Anchor != nil {
			t = it.Anchor
		}
		if k := t.String(); !seen[k] {
			seen[k] = true
			targets = append(targets, t)
		}
	}
	for i := len(targets) - 1; i >= 0; i-- {
		next, err := deleteAt(doc, targets[i])
		if err != nil {
			return Value{}, fmt.Errorf("jsondiff: apply: remove %s: %w", targets[i], err)
		}
		doc = next
	}

	for _, e := range cs.Edited {
		next, err := setAt(doc, e.Path, e.New)
		if err != nil {
			return Value{}, fmt.Errorf("jsondiff: apply: edit %s: %w", e.Path, err)
		}
		doc = next
	}

	for _, it := range cs.Added {
		next, err := setAt(doc, it.Path, it.Value)
		if err != nil {
			return Value{}, fmt.Errorf("jsondiff: apply: add %s: %w", it.Path, err)
		}
		doc = next
	}
	return doc, nil
}

var errNotContainer = errors.New("path crosses a non-container value")

// setAt returns a copy of v with the value at p replaced by nv. Missing
// intermediate containers are created from the type of the next step; an
// index equal to the array length appends.
func setAt(v Value, p Path, nv Value) (Value, error) {
	if len(p) == 0 {
		return nv, nil
	}
	e, rest := p[0], p[1:]

	if !v.IsValid() {
		if e.IsIndex {
			v = Arr()
		} else {
			v = Obj()
		}
	}

	if e.IsIndex {
		if v.kind != KindArray {
			return Value{}, errNotContainer
		}
		if e.Index < 0 || e.Index > len(v.arr) {
			return Value{}, fmt.Errorf("index %d out of range (len %d)", e.Index, len(v.arr))
		}
		var child Value
		if e.Index < len(v.arr) {
			child = v.arr[e.Index]
		}
		nc, err := setAt(child, rest, nv)
		if err != nil {
			return Value{}, err
		}
		elems := make([]Value, len(v.arr), len(v.arr)+1)
		copy(elems, v.arr)
		if e.Index == len(elems) {
			elems = append(elems, nc)
		} else {
			elems[e.Index] = nc
		}
		return Arr(elems...), nil
	}

	if v.kind != KindObject {
		return Value{}, errNotContainer
	}
	child, _ := v.Get(e.Key)
	nc, err := setAt(child, rest, nv)
	if err != nil {
		return Value{}, err
	}
	members := make([]Member, len(v.obj), len(v.obj)+1)
	copy(members, v.obj)
	members = append(members, M(e.Key, nc))
	return Obj(members...), nil
}

// deleteAt returns a copy of v without the value at p.
func deleteAt(v Value, p Path) (Value, error) {
	if len(p) == 0 {
		return Value{}, errors.New("cannot remove the root")
	}
	e, rest := p[0], p[1:]

	if e.IsIndex {
		if v.kind != KindArray {
			return Value{}, errNotContainer
		}
		if e.Index < 0 || e.Index >= len(v.arr) {
			return Value{}, fmt.Errorf("index %d out of range (len %d)", e.Index, len(v.arr))
		}
		elems := make([]Value, 0, len(v.arr))
		elems = append(elems, v.arr[:e.Index]...)
		if len(rest) > 0 {
			nc, err := deleteAt(v.arr[e.Index], rest)
			if err != nil {
				return Value{}, err
			}
			elems = append(elems, nc)
		}
		elems = append(elems, v.arr[e.Index+1:]...)
		return Arr(elems...), nil
	}

	if v.kind != KindObject {
		return Value{}, errNotContainer
	}
	child, ok := v.Get(e.Key)
	if !ok {
		return Value{}, fmt.Errorf("key %q not found", e.Key)
	}
	members := make([]Member, 0, len(v.obj))
	for _, m := range v.obj {
		if m.Key != e.Key {
			members = append(members, m)
			continue
		}
		if len(rest) > 0 {
			nc, err := deleteAt(child, rest)
			if err != nil {
				return Value{}, err
			}
			members = append(members, M(m.Key, nc))
		}
	}
	return Obj(members...), nil
}
