package jsondiff

import (
	"encoding/json"
	"fmt"
)

// Mode selects how atomic changes are grouped into items.
type Mode string

const (
	// ModeRecord lifts leaf changes to the record (store item) they belong to.
	ModeRecord Mode = "record"
	// ModeAtomic reports every atomic change as its own item.
	ModeAtomic Mode = "atomic"
)

// ClassifyOptions tunes Classify. The zero value is ModeRecord with the
// record heuristic.
type ClassifyOptions struct {
	Mode Mode
	// ItemDepth, when > 0, fixes items at exactly that path depth instead of
	// detecting records.
	ItemDepth int
}

// Item is an added or removed value. Anchor is the path of the atomic change
// the item was expanded from, when it differs from Path.
type Item struct {
	Path   Path  `json:"path"`
	Value  Value `json:"value"`
	Anchor Path  `json:"anchor,omitempty"`
}

// EditedItem carries both sides of an edit.
type EditedItem struct {
	Path Path  `json:"path"`
	Old  Value `json:"old"`
	New  Value `json:"new"`
}

// ChangeSet is the classified difference between two snapshots. Each bucket
// keeps emission order.
type ChangeSet struct {
	Added   []Item       `json:"added"`
	Edited  []EditedItem `json:"edited"`
	Removed []Item       `json:"removed"`
}

// Counts is the size of each bucket.
type Counts struct {
	Added   int `json:"added"`
	Edited  int `json:"edited"`
	Removed int `json:"removed"`
}

func (c Counts) String() string {
	return fmt.Sprintf("%d added, %d edited, %d removed", c.Added, c.Edited, c.Removed)
}

// Total is the number of items across buckets.
func (c Counts) Total() int { return c.Added + c.Edited + c.Removed }

// Len returns the total number of items.
func (cs ChangeSet) Len() int { return len(cs.Added) + len(cs.Edited) + len(cs.Removed) }

// IsEmpty reports whether no bucket holds an item.
func (cs ChangeSet) IsEmpty() bool { return cs.Len() == 0 }

// Counts returns the bucket sizes.
func (cs ChangeSet) Counts() Counts {
	return Counts{Added: len(cs.Added), Edited: len(cs.Edited), Removed: len(cs.Removed)}
}

// MarshalJSON always emits the three buckets as arrays.
func (cs ChangeSet) MarshalJSON() ([]byte, error) {
	type plain ChangeSet
	out := plain(cs)
	if out.Added == nil {
		out.Added = []Item{}
	}
	if out.Edited == nil {
		out.Edited = []EditedItem{}
	}
	if out.Removed == nil {
		out.Removed = []Item{}
	}
	return json.Marshal(out)
}

// Classify sorts atomic changes into added, edited and removed buckets.
// old and new are the documents changes was computed from; record mode reads
// them to find enclosing items.
func Classify(old, new Value, changes []Change, opts ClassifyOptions) ChangeSet {
	if opts.Mode == ModeAtomic {
		return classifyAtomic(changes)
	}
	c := &classifier{old: old, new: new, depth: opts.ItemDepth, edited: map[string]bool{}}
	for _, ch := range changes {
		c.add(ch)
	}
	return c.cs
}

func classifyAtomic(changes []Change) ChangeSet {
	var cs ChangeSet
	for _, ch := range changes {
		switch ch.Kind {
		case Added:
			cs.Added = append(cs.Added, Item{Path: ch.Path, Value: ch.New})
		case Deleted:
			cs.Removed = append(cs.Removed, Item{Path: ch.Path, Value: ch.Old})
		default:
			cs.Edited = append(cs.Edited, EditedItem{Path: ch.Path, Old: ch.Old, New: ch.New})
		}
	}
	return cs
}

type classifier struct {
	old, new Value
	depth    int
	edited   map[string]bool
	cs       ChangeSet
}

func (c *classifier) add(ch Change) {
	if c.liftable(ch) {
		if q, ok := c.enclosing(ch.Path); ok {
			ov, _ := c.old.At(q)
			nv, _ := c.new.At(q)
			c.edit(q, ov, nv)
			return
		}
	}
	switch ch.Kind {
	case Added:
		c.expand(&c.cs.Added, ch.Path, ch.New, ch.Path)
	case Deleted:
		c.expand(&c.cs.Removed, ch.Path, ch.Old, ch.Path)
	default:
		c.edit(ch.Path, ch.Old, ch.New)
	}
}

// liftable reports whether ch may fold into an enclosing item. Values that
// are records or collections themselves stay items of their own.
func (c *classifier) liftable(ch Change) bool {
	if c.depth > 0 {
		return true
	}
	switch ch.Kind {
	case Added:
		return isField(ch.New)
	case Deleted:
		return isField(ch.Old)
	}
	return isField(ch.Old) && isField(ch.New)
}

// enclosing returns the item a change at p belongs to, when that item is a
// strict prefix of p present in both documents.
func (c *classifier) enclosing(p Path) (Path, bool) {
	if c.depth > 0 {
		if len(p) > c.depth {
			return p[:c.depth:c.depth], true
		}
		return nil, false
	}
	for n := len(p) - 1; n >= 0; n-- {
		q := p[:n:n]
		ov, okOld := c.old.At(q)
		nv, okNew := c.new.At(q)
		if okOld && okNew && isRecord(ov) && isRecord(nv) {
			return q, true
		}
	}
	return nil, false
}

func (c *classifier) edit(p Path, old, new Value) {
	key := p.String()
	if c.edited[key] {
		return
	}
	c.edited[key] = true
	c.cs.Edited = append(c.cs.Edited, EditedItem{Path: p, Old: old, New: new})
}

func (c *classifier) expand(dst *[]Item, p Path, v Value, anchor Path) {
	var split bool
	if c.depth > 0 {
		split = len(p) < c.depth && v.IsContainer() && v.Len() > 0
	} else {
		split = isCollection(v)
	}
	if !split {
		it := Item{Path: p, Value: v}
		if !p.Equal(anchor) {
			it.Anchor = anchor
		}
		*dst = append(*dst, it)
		return
	}
	switch v.kind {
	case KindObject:
		for _, m := range v.obj {
			c.expand(dst, p.Append(Key(m.Key)), m.Value, anchor)
		}
	case KindArray:
		for i, e := range v.arr {
			c.expand(dst, p.Append(Index(i)), e, anchor)
		}
	}
}

// isField reports whether v is a leaf attribute of a record: a scalar, null,
// or an array holding only scalars.
func isField(v Value) bool {
	switch v.kind {
	case KindObject:
		return false
	case KindArray:
		for _, e := range v.arr {
			if e.IsContainer() {
				return false
			}
		}
	}
	return true
}

// isRecord reports whether v is an object describing one item: it has at
// least one field member and no member holding a collection, or no members
// at all. A document root with metadata next to its items is not a record.
func isRecord(v Value) bool {
	if v.kind != KindObject {
		return false
	}
	if len(v.obj) == 0 {
		return true
	}
	if !hasField(v) {
		return false
	}
	for _, m := range v.obj {
		if isCollection(m.Value) {
			return false
		}
	}
	return true
}

func hasField(v Value) bool {
	for _, m := range v.obj {
		if isField(m.Value) {
			return true
		}
	}
	return false
}

// isCollection reports whether v groups items: a non-empty array holding a
// container, or a non-empty object without field members.
func isCollection(v Value) bool {
	if !v.IsContainer() || v.Len() == 0 || isField(v) {
		return false
	}
	return v.kind == KindArray || !hasField(v)
}
