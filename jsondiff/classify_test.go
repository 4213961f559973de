package jsondiff

import (
	"encoding/json"
	"testing"
)

func classify(old, new Value, opts Options) ChangeSet {
	_, cs := Compare(old, new, opts)
	return cs
}

func TestClassifyEditedRecord(t *testing.T) {
	// WHAT: a price edit on a flat item yields one EditedItem carrying both objects.
	old := MustParse(`{"title":"Bow","price":5}`)
	new := MustParse(`{"title":"Bow","price":7}`)

	cs := classify(old, new, Options{})
	if len(cs.Edited) != 1 || len(cs.Added) != 0 || len(cs.Removed) != 0 {
		t.Fatalf("counts = %s, want 0 added, 1 edited, 0 removed", cs.Counts())
	}
	e := cs.Edited[0]
	if p, _ := e.Old.Get("price"); p.Text() != "5" {
		t.Errorf("old price = %s, want 5", p)
	}
	if p, _ := e.New.Get("price"); p.Text() != "7" {
		t.Errorf("new price = %s, want 7", p)
	}
	if title, _ := e.New.Get("title"); title.Text() != "Bow" {
		t.Errorf("title = %s, want Bow", title)
	}
}

func TestClassifyAddedItem(t *testing.T) {
	cs := classify(MustParse(`{}`), MustParse(`{"items":{"sword":{"title":"Sword"}}}`), Options{})
	if len(cs.Added) != 1 || len(cs.Edited) != 0 || len(cs.Removed) != 0 {
		t.Fatalf("counts = %s, want 1 added", cs.Counts())
	}
	it := cs.Added[0]
	if it.Path.String() != "items.sword" {
		t.Fatalf("path = %s, want items.sword", it.Path)
	}
	data, _ := json.Marshal(it.Path)
	if string(data) != `["items","sword"]` {
		t.Fatalf("path JSON = %s", data)
	}
	if it.Anchor.String() != "items" {
		t.Fatalf("anchor = %s, want items", it.Anchor)
	}
}

func TestClassifyRemovedItem(t *testing.T) {
	// WHY: a removal must never surface as an edit of the parent.
	cs := classify(MustParse(`{"items":{"sword":{"title":"Sword","price":12}}}`), MustParse(`{}`), Options{})
	if len(cs.Removed) != 1 || len(cs.Edited) != 0 || len(cs.Added) != 0 {
		t.Fatalf("counts = %s, want 1 removed", cs.Counts())
	}
	if cs.Removed[0].Path.String() != "items.sword" {
		t.Fatalf("path = %s", cs.Removed[0].Path)
	}
}

func TestClassifyRootMetadata(t *testing.T) {
	// WHAT: a store document with scalar metadata next to its items still
	// yields item-level adds, removes and edits.
	// WHY: the root of a real store.json is not an item; lifting to it would
	// report every change as one edit of the whole document.
	empty := MustParse(`{"updated":"2024-01-01","items":{}}`)
	withSword := MustParse(`{"updated":"2024-01-01","items":{"sword":{"title":"Sword"}}}`)

	cs := classify(empty, withSword, Options{})
	if cs.Counts() != (Counts{Added: 1}) {
		t.Fatalf("add: counts = %s, want 1 added", cs.Counts())
	}
	if p := cs.Added[0].Path.String(); p != "items.sword" {
		t.Fatalf("add: path = %s, want items.sword", p)
	}

	cs = classify(withSword, empty, Options{})
	if cs.Counts() != (Counts{Removed: 1}) {
		t.Fatalf("remove: counts = %s, want 1 removed", cs.Counts())
	}
	if p := cs.Removed[0].Path.String(); p != "items.sword" {
		t.Fatalf("remove: path = %s, want items.sword", p)
	}

	old := MustParse(`{"version":1,"items":{"bow":{"title":"Bow","price":5}}}`)
	new := MustParse(`{"version":1,"items":{"bow":{"title":"Bow","price":7},"sword":{"title":"Sword"}}}`)
	cs = classify(old, new, Options{})
	if cs.Counts() != (Counts{Added: 1, Edited: 1}) {
		t.Fatalf("edit: counts = %s, want 1 added, 1 edited", cs.Counts())
	}
	if p := cs.Edited[0].Path.String(); p != "items.bow" {
		t.Fatalf("edit: path = %s, want items.bow", p)
	}
	if p := cs.Added[0].Path.String(); p != "items.sword" {
		t.Fatalf("edit: added path = %s, want items.sword", p)
	}

	bumped := MustParse(`{"version":2,"items":{"bow":{"title":"Bow","price":5}}}`)
	cs = classify(old, bumped, Options{})
	if len(cs.Edited) != 1 || cs.Edited[0].Path.String() != "version" {
		t.Fatalf("metadata edit = %+v, want one edit at version", cs.Edited)
	}
}

func TestClassifyNestedRecordStaysItem(t *testing.T) {
	// WHAT: a record added inside another record is an added item, while a
	// field change on the outer record is an edit of it.
	old := MustParse(`{"items":{"bow":{"title":"Bow","price":5}}}`)
	new := MustParse(`{"items":{"bow":{"title":"Bow","price":6,"stats":{"dmg":3}}}}`)

	cs := classify(old, new, Options{})
	if len(cs.Edited) != 1 || cs.Edited[0].Path.String() != "items.bow" {
		t.Fatalf("edited = %+v", cs.Edited)
	}
	if len(cs.Added) != 1 || cs.Added[0].Path.String() != "items.bow.stats" {
		t.Fatalf("added = %+v", cs.Added)
	}
	got, err := Apply(old, cs)
	if err != nil || !Equal(got, new) {
		t.Fatalf("Apply = %s, %v", got, err)
	}
}

func TestClassifyMergesLeafEditsPerRecord(t *testing.T) {
	old := MustParse(`{"items":{"bow":{"title":"Bow","price":5,"stock":3},"sword":{"title":"Sword","price":12}}}`)
	new := MustParse(`{"items":{"bow":{"title":"Bow","price":6,"stock":2},"sword":{"title":"Sword","price":12}}}`)

	cs := classify(old, new, Options{})
	if len(cs.Edited) != 1 {
		t.Fatalf("edited = %d, want 1 (two leaf edits under one item)", len(cs.Edited))
	}
	if cs.Edited[0].Path.String() != "items.bow" {
		t.Fatalf("path = %s, want items.bow", cs.Edited[0].Path)
	}
}

func TestClassifyArrayOfRecords(t *testing.T) {
	old := MustParse(`{"items":[{"id":1,"title":"Bow"},{"id":2,"title":"Sword"}]}`)
	new := MustParse(`{"items":[{"id":1,"title":"Longbow"}]}`)

	cs := classify(old, new, Options{})
	if len(cs.Edited) != 1 || cs.Edited[0].Path.String() != "items[0]" {
		t.Fatalf("edited = %+v", cs.Edited)
	}
	if len(cs.Removed) != 1 || cs.Removed[0].Path.String() != "items[1]" {
		t.Fatalf("removed = %+v", cs.Removed)
	}
}

func TestClassifyAtomic(t *testing.T) {
	old := MustParse(`{"title":"Bow","price":5,"stock":1}`)
	new := MustParse(`{"title":"Bow","price":7}`)

	cs := classify(old, new, Options{Mode: ModeAtomic})
	if len(cs.Edited) != 1 || cs.Edited[0].Path.String() != "price" {
		t.Fatalf("edited = %+v", cs.Edited)
	}
	if len(cs.Removed) != 1 || cs.Removed[0].Path.String() != "stock" {
		t.Fatalf("removed = %+v", cs.Removed)
	}
}

func TestClassifyItemDepth(t *testing.T) {
	old := MustParse(`{"catalog":{"weapons":{"bow":{"stats":{"dmg":3}}}}}`)
	new := MustParse(`{"catalog":{"weapons":{"bow":{"stats":{"dmg":4}},"axe":{"stats":{"dmg":6}}}}}`)

	cs := classify(old, new, Options{ItemDepth: 3})
	if len(cs.Edited) != 1 || cs.Edited[0].Path.String() != "catalog.weapons.bow" {
		t.Fatalf("edited = %+v", cs.Edited)
	}
	if len(cs.Added) != 1 || cs.Added[0].Path.String() != "catalog.weapons.axe" {
		t.Fatalf("added = %+v", cs.Added)
	}
}

func TestClassifyMovedIsEdited(t *testing.T) {
	old := MustParse(`[1,2,3]`)
	new := MustParse(`[3,1,2]`)

	cs := classify(old, new, Options{DetectMoves: true})
	if len(cs.Edited) != 1 || len(cs.Edited[0].Path) != 0 {
		t.Fatalf("edited = %+v, want one edit of the root array", cs.Edited)
	}
	if !Equal(cs.Edited[0].New, new) {
		t.Fatal("moved edit must carry the reordered array")
	}
}

func TestClassifyEmpty(t *testing.T) {
	v := MustParse(`{"items":{"bow":{"title":"Bow"}}}`)
	cs := classify(v, v, Options{})
	if !cs.IsEmpty() {
		t.Fatalf("counts = %s, want empty", cs.Counts())
	}
	data, err := json.Marshal(cs)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"added":[],"edited":[],"removed":[]}` {
		t.Fatalf("marshal = %s", data)
	}
}

func TestApplyRoundTrip(t *testing.T) {
	modes := []Options{
		{},
		{Mode: ModeAtomic},
		{ItemDepth: 1},
		{ItemDepth: 2},
		{DetectMoves: true},
	}
	for _, a := range corpus {
		for _, b := range corpus {
			old, new := MustParse(a), MustParse(b)
			for _, opts := range modes {
				cs := classify(old, new, opts)
				got, err := Apply(old, cs)
				if err != nil {
					t.Errorf("Apply(%s -> %s, %+v): %v", a, b, opts, err)
					continue
				}
				if !Equal(got, new) {
					t.Errorf("Apply(%s -> %s, %+v) = %s", a, b, opts, got)
				}
			}
		}
	}
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	old := MustParse(`{"items":[{"id":1},{"id":2}],"n":1}`)
	before, _ := json.Marshal(old)
	cs := classify(old, MustParse(`{"items":[{"id":3}]}`), Options{})
	if _, err := Apply(old, cs); err != nil {
		t.Fatal(err)
	}
	after, _ := json.Marshal(old)
	if string(before) != string(after) {
		t.Fatalf("input mutated: %s -> %s", before, after)
	}
}
