// Package render turns a classified change set into render data (Fragments)
// and serialises fragments for each sink family: plain text, Discord
// markdown, Slack mrkdwn and Telegram HTML.
//
// Format is pure: it only reads the change set. Serialisers never look at
// jsondiff values, so every sink shares one rendering path.
package render

import (
	"github.com/hazyhaar/jsonwatch/jsondiff"
)

// Kind is the bucket a fragment was built from.
type Kind string

const (
	KindAdded   Kind = "added"
	KindEdited  Kind = "edited"
	KindRemoved Kind = "removed"
)

// Title returns the capitalised bucket name used in headings.
func (k Kind) Title() string {
	switch k {
	case KindAdded:
		return "Added"
	case KindEdited:
		return "Edited"
	case KindRemoved:
		return "Removed"
	}
	return string(k)
}

// Field is one notable attribute of an item. Value is the displayed value
// (the new side of an edit). Old is set only when Changed.
type Field struct {
	Name    string `json:"name"`
	Value   string `json:"value"`
	Old     string `json:"old,omitempty"`
	Changed bool   `json:"changed,omitempty"`
}

// Fragment is the render data for one classified item.
type Fragment struct {
	Kind   Kind    `json:"kind"`
	Path   string  `json:"path"`
	Label  string  `json:"label"`
	Fields []Field `json:"fields"`
}

// DefaultLabelFields are the member names tried, in order, to label an item.
var DefaultLabelFields = []string{"title", "name", "label", "id", "key"}

// Options tunes Format and the serialisers.
type Options struct {
	// LabelFields overrides DefaultLabelFields.
	LabelFields []string `yaml:"label_fields"`
	// Fields restricts every fragment to these member names, in this order.
	// Empty means every field member of the value.
	Fields []string `yaml:"fields"`
	// Placeholder stands in for absent fields. Default "none".
	Placeholder string `yaml:"placeholder"`
	// MaxValueLen truncates long values when serialising. Default 300, <0 disables.
	MaxValueLen int `yaml:"max_value_len"`
}

func (o *Options) defaults() {
	if len(o.LabelFields) == 0 {
		o.LabelFields = DefaultLabelFields
	}
	if o.Placeholder == "" {
		o.Placeholder = "none"
	}
	if o.MaxValueLen == 0 {
		o.MaxValueLen = 300
	}
}

// Format builds one fragment per item: added first, then edited, then
// removed. It never fails; non-object values render as a single "value" field.
func Format(cs jsondiff.ChangeSet, opts Options) []Fragment {
	opts.defaults()
	frags := make([]Fragment, 0, cs.Len())
	for _, it := range cs.Added {
		frags = append(frags, single(KindAdded, it.Path, it.Value, opts))
	}
	for _, e := range cs.Edited {
		frags = append(frags, edited(e, opts))
	}
	for _, it := range cs.Removed {
		frags = append(frags, single(KindRemoved, it.Path, it.Value, opts))
	}
	return frags
}

// Summary renders the header line for a change set.
func Summary(c jsondiff.Counts) string {
	return "Changes detected: " + c.String()
}

func single(kind Kind, p jsondiff.Path, v jsondiff.Value, opts Options) Fragment {
	f := Fragment{Kind: kind, Path: p.String(), Label: label(v, p, opts)}
	if v.Kind() != jsondiff.KindObject {
		f.Fields = []Field{{Name: "value", Value: raw(v, opts)}}
		return f
	}
	for _, name := range notable(opts, v) {
		mv, _ := v.Get(name)
		f.Fields = append(f.Fields, Field{Name: name, Value: raw(mv, opts)})
	}
	return f
}

func edited(e jsondiff.EditedItem, opts Options) Fragment {
	lv := e.New
	if !lv.IsValid() {
		lv = e.Old
	}
	f := Fragment{Kind: KindEdited, Path: e.Path.String(), Label: label(lv, e.Path, opts)}

	if e.Old.Kind() != jsondiff.KindObject || e.New.Kind() != jsondiff.KindObject {
		f.Fields = []Field{transition("value", e.Old, e.New, opts)}
		return f
	}
	for _, name := range notable(opts, e.Old, e.New) {
		ov, _ := e.Old.Get(name)
		nv, _ := e.New.Get(name)
		f.Fields = append(f.Fields, transition(name, ov, nv, opts))
	}
	return f
}

func transition(name string, old, new jsondiff.Value, opts Options) Field {
	f := Field{Name: name, Value: raw(new, opts)}
	if !jsondiff.Equal(old, new) {
		f.Old = raw(old, opts)
		f.Changed = true
	}
	return f
}

// notable lists the member names to render for objects vs, in document
// order (first value's order, then names only the later values have).
func notable(opts Options, vs ...jsondiff.Value) []string {
	if len(opts.Fields) > 0 {
		return opts.Fields
	}
	var names []string
	seen := map[string]bool{}
	for _, v := range vs {
		for _, m := range v.Members() {
			if seen[m.Key] || !include(m.Key, vs) {
				continue
			}
			seen[m.Key] = true
			names = append(names, m.Key)
		}
	}
	return names
}

// include keeps field members, plus container members whose value differs
// between the compared values.
func include(name string, vs []jsondiff.Value) bool {
	var first jsondiff.Value
	for i, v := range vs {
		mv, _ := v.Get(name)
		if isField(mv) {
			return true
		}
		if i == 0 {
			first = mv
		} else if !jsondiff.Equal(first, mv) {
			return true
		}
	}
	return false
}

func isField(v jsondiff.Value) bool {
	switch v.Kind() {
	case jsondiff.KindInvalid, jsondiff.KindObject:
		return false
	case jsondiff.KindArray:
		for _, e := range v.Elems() {
			if e.IsContainer() {
				return false
			}
		}
	}
	return true
}

func label(v jsondiff.Value, p jsondiff.Path, opts Options) string {
	if v.Kind() != jsondiff.KindObject {
		return raw(v, opts)
	}
	for _, name := range opts.LabelFields {
		if mv, ok := v.Get(name); ok && !mv.IsContainer() && mv.Kind() != jsondiff.KindNull {
			return mv.String()
		}
	}
	if k := p.LastKey(); k != "" {
		return k
	}
	return p.String()
}

func raw(v jsondiff.Value, opts Options) string {
	if !v.IsValid() {
		return opts.Placeholder
	}
	return v.String()
}
