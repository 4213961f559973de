package jsondiff

import "encoding/json"

// ChangeKind tags an atomic change.
type ChangeKind string

const (
	Added   ChangeKind = "added"
	Edited  ChangeKind = "edited"
	Deleted ChangeKind = "deleted"
	Moved   ChangeKind = "moved"
)

// Change is one atomic difference between two documents. Old is absent for
// Added, New is absent for Deleted.
type Change struct {
	Kind ChangeKind
	Path Path
	Old  Value
	New  Value
}

type changeJSON struct {
	Kind ChangeKind `json:"kind"`
	Path Path       `json:"path"`
	Old  *Value     `json:"old,omitempty"`
	New  *Value     `json:"new,omitempty"`
}

func (c Change) MarshalJSON() ([]byte, error) {
	out := changeJSON{Kind: c.Kind, Path: c.Path}
	if out.Path == nil {
		out.Path = Path{}
	}
	if c.Old.IsValid() {
		out.Old = &c.Old
	}
	if c.New.IsValid() {
		out.New = &c.New
	}
	return json.Marshal(out)
}

func (c *Change) UnmarshalJSON(data []byte) error {
	var in changeJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*c = Change{Kind: in.Kind, Path: in.Path}
	if in.Old != nil {
		c.Old = *in.Old
	}
	if in.New != nil {
		c.New = *in.New
	}
	return nil
}

// DiffOption tunes Diff.
type DiffOption func(*differ)

// WithMoveDetection reports an array whose elements were only reordered as a
// single Moved change instead of positional edits.
func WithMoveDetection() DiffOption {
	return func(d *differ) { d.moves = true }
}

type differ struct {
	moves bool
	out   []Change
}

// Diff returns the atomic changes turning old into new, in pre-order. Objects
// are matched by key (old key order first, then new-only keys), arrays by
// position. Equal inputs yield no changes.
func Diff(old, new Value, opts ...DiffOption) []Change {
	d := &differ{}
	for _, o := range opts {
		o(d)
	}
	d.walk(Path{}, old, new)
	return d.out
}

func (d *differ) emit(kind ChangeKind, p Path, old, new Value) {
	d.out = append(d.out, Change{Kind: kind, Path: p, Old: old, New: new})
}

func (d *differ) walk(p Path, a, b Value) {
	switch {
	case a.kind == KindObject && b.kind == KindObject:
		d.objects(p, a, b)
	case a.kind == KindArray && b.kind == KindArray:
		d.arrays(p, a, b)
	case !Equal(a, b):
		d.emit(Edited, p, a, b)
	}
}

func (d *differ) objects(p Path, a, b Value) {
	for _, m := range a.obj {
		bv, ok := b.Get(m.Key)
		if !ok {
			d.emit(Deleted, p.Append(Key(m.Key)), m.Value, Value{})
			continue
		}
		d.walk(p.Append(Key(m.Key)), m.Value, bv)
	}
	for _, m := range b.obj {
		if _, ok := a.Get(m.Key); !ok {
			d.emit(Added, p.Append(Key(m.Key)), Value{}, m.Value)
		}
	}
}

func (d *differ) arrays(p Path, a, b Value) {
	if d.moves && len(a.arr) == len(b.arr) && !Equal(a, b) && sameElements(a.arr, b.arr) {
		d.emit(Moved, p, a, b)
		return
	}
	n := min(len(a.arr), len(b.arr))
	for i := 0; i < n; i++ {
		d.walk(p.Append(Index(i)), a.arr[i], b.arr[i])
	}
	for i := n; i < len(a.arr); i++ {
		d.emit(Deleted, p.Append(Index(i)), a.arr[i], Value{})
	}
	for i := n; i < len(b.arr); i++ {
		d.emit(Added, p.Append(Index(i)), Value{}, b.arr[i])
	}
}

// sameElements reports whether a and b hold the same multiset of values.
func sameElements(a, b []Value) bool {
	used := make([]bool, len(b))
	for _, av := range a {
		found := false
		for j, bv := range b {
			if !used[j] && Equal(av, bv) {
				used[j] = true
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
