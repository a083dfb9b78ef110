// Package directory maps tile identifiers to the physical location of the
// record that stores them.
package directory

import (
	"container/list"
	"slices"
)

// Entry is the location of a record: page number and byte offset of the
// record start inside that page.
type Entry struct {
	Page   uint8
	Offset uint32
}

// Item is one identifier with its location, as returned by Snapshot.
type Item struct {
	ID    string
	Entry Entry
}

// Directory is an insertion-ordered map from identifier to Entry. Every
// identifier written in one record shares the same Entry, so the set of
// identifiers at one Entry is the record's group.
//
// Directory is not safe for concurrent use.
type Directory struct {
	order  *list.List
	byID   map[string]*list.Element
	groups map[Entry][]string
}

// New returns an empty directory.
func New() *Directory {
	return &Directory{
		order:  list.New(),
		byID:   make(map[string]*list.Element),
		groups: make(map[Entry][]string),
	}
}

// Len returns the number of identifiers.
func (d *Directory) Len() int {
	return d.order.Len()
}

// Put records id at e. An existing id is replaced as a whole and moves to
// the end of the insertion order.
func (d *Directory) Put(id string, e Entry) {
	if el, ok := d.byID[id]; ok {
		d.unlink(el)
	}
	d.byID[id] = d.order.PushBack(Item{ID: id, Entry: e})
	d.groups[e] = append(d.groups[e], id)
}

// Get resolves id.
func (d *Directory) Get(id string) (Entry, bool) {
	el, ok := d.byID[id]
	if !ok {
		return Entry{}, false
	}
	return el.Value.(Item).Entry, true
}

// Contains reports whether id is present.
func (d *Directory) Contains(id string) bool {
	_, ok := d.byID[id]
	return ok
}

// Remove deletes id. Removing an unknown id reports false.
func (d *Directory) Remove(id string) bool {
	el, ok := d.byID[id]
	if !ok {
		return false
	}
	d.unlink(el)
	return true
}

// RemoveGroup deletes primary and every related identifier, returning the
// identifiers actually removed. Unknown identifiers are skipped.
func (d *Directory) RemoveGroup(primary string, related []string) []string {
	var removed []string
	if d.Remove(primary) {
		removed = append(removed, primary)
	}
	for _, id := range related {
		if id != primary && d.Remove(id) {
			removed = append(removed, id)
		}
	}
	return removed
}

// Group returns every identifier that currently points at the same record
// as id, id included, in insertion order.
func (d *Directory) Group(id string) []string {
	e, ok := d.Get(id)
	if !ok {
		return nil
	}
	return slices.Clone(d.groups[e])
}

// At returns the identifiers stored at e.
func (d *Directory) At(e Entry) []string {
	return slices.Clone(d.groups[e])
}

// Locations returns every distinct record location referenced.
func (d *Directory) Locations() []Entry {
	out := make([]Entry, 0, len(d.groups))
	for e := range d.groups {
		out = append(out, e)
	}
	return out
}

// Each calls fn in insertion order until it returns false.
func (d *Directory) Each(fn func(id string, e Entry) bool) {
	for el := d.order.Front(); el != nil; el = el.Next() {
		it := el.Value.(Item)
		if !fn(it.ID, it.Entry) {
			return
		}
	}
}

// Snapshot returns every item in insertion order.
func (d *Directory) Snapshot() []Item {
	out := make([]Item, 0, d.order.Len())
	for el := d.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(Item))
	}
	return out
}

// Clear removes every identifier.
func (d *Directory) Clear() {
	d.order.Init()
	clear(d.byID)
	clear(d.groups)
}

func (d *Directory) unlink(el *list.Element) {
	it := d.order.Remove(el).(Item)
	delete(d.byID, it.ID)

	ids := d.groups[it.Entry]
	if i := slices.Index(ids, it.ID); i >= 0 {
		ids = slices.Delete(ids, i, i+1)
	}
	if len(ids) == 0 {
		delete(d.groups, it.Entry)
	} else {
		d.groups[it.Entry] = ids
	}
}
