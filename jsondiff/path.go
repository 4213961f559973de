package jsondiff

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// PathElem is one step of a Path: an object key or an array index.
type PathElem struct {
	Key     string
	Index   int
	IsIndex bool
}

// Key returns a key step.
func Key(k string) PathElem { return PathElem{Key: k} }

// Index returns an array index step.
func Index(i int) PathElem { return PathElem{Index: i, IsIndex: true} }

// Path locates a value inside a document. The empty Path is the root.
type Path []PathElem

// ParsePath builds a Path from keys and indexes: strings become key steps,
// ints become index steps.
func ParsePath(elems ...any) (Path, error) {
	p := make(Path, 0, len(elems))
	for _, e := range elems {
		switch t := e.(type) {
		case string:
			p = append(p, Key(t))
		case int:
			p = append(p, Index(t))
		default:
			return nil, fmt.Errorf("jsondiff: path element %v has type %T", e, e)
		}
	}
	return p, nil
}

// Append returns a new Path with e added. p is never aliased.
func (p Path) Append(e PathElem) Path {
	out := make(Path, len(p)+1)
	copy(out, p)
	out[len(p)] = e
	return out
}

// Parent returns p without its last element.
func (p Path) Parent() Path {
	if len(p) == 0 {
		return nil
	}
	return p[:len(p)-1:len(p)-1]
}

// Last returns the final element.
func (p Path) Last() (PathElem, bool) {
	if len(p) == 0 {
		return PathElem{}, false
	}
	return p[len(p)-1], true
}

// LastKey returns the last key step, skipping trailing indexes.
func (p Path) LastKey() string {
	for i := len(p) - 1; i >= 0; i-- {
		if !p[i].IsIndex {
			return p[i].Key
		}
	}
	return ""
}

// Equal reports whether p and q name the same location.
func (p Path) Equal(q Path) bool {
	if len(p) != len(q) {
		return false
	}
	for i := range p {
		if p[i] != q[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether q is a prefix of p (equal paths included).
func (p Path) HasPrefix(q Path) bool {
	return len(q) <= len(p) && p[:len(q)].Equal(q)
}

// String renders p as items.sword or items[3]; the root is "(root)".
func (p Path) String() string {
	if len(p) == 0 {
		return "(root)"
	}
	var b strings.Builder
	for i, e := range p {
		switch {
		case e.IsIndex:
			b.WriteByte('[')
			b.WriteString(strconv.Itoa(e.Index))
			b.WriteByte(']')
		case plainKey(e.Key):
			if i > 0 {
				b.WriteByte('.')
			}
			b.WriteString(e.Key)
		default:
			b.WriteByte('[')
			b.WriteString(strconv.Quote(e.Key))
			b.WriteByte(']')
		}
	}
	return b.String()
}

func plainKey(k string) bool {
	if k == "" {
		return false
	}
	return !strings.ContainsAny(k, ".[]\"")
}

// MarshalJSON encodes p as an array of keys (strings) and indexes (numbers).
func (p Path) MarshalJSON() ([]byte, error) {
	raw := make([]any, len(p))
	for i, e := range p {
		if e.IsIndex {
			raw[i] = e.Index
		} else {
			raw[i] = e.Key
		}
	}
	return json.Marshal(raw)
}

// UnmarshalJSON decodes the array form produced by MarshalJSON.
func (p *Path) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("jsondiff: path: %w", err)
	}
	out := make(Path, 0, len(raw))
	for _, r := range raw {
		var key string
		if err := json.Unmarshal(r, &key); err == nil {
			out = append(out, Key(key))
			continue
		}
		var idx int
		if err := json.Unmarshal(r, &idx); err != nil {
			return fmt.Errorf("jsondiff: path element %s is neither key nor index", r)
		}
		out = append(out, Index(idx))
	}
	*p = out
	return nil
}
