// Package quadtree implements the spatial index of the tile cache: a
// recursive four-way partition of an integer coordinate space whose leaves
// hold cache entries keyed by (position, name).
//
// A leaf keeps one slot per distinct position; names cached at the same
// position are chained inside that slot and do not count towards the node
// capacity. Once a leaf holds more than MaxItemsPerNode positions it is split
// into four quadrants, unless its half extent is already at or below
// MinRadius, in which case it keeps growing.
//
// A Tree is not safe for concurrent mutation.
package quadtree

import (
	"errors"
	"fmt"
	"slices"
)

const (
	DefaultMaxItemsPerNode = 10
	DefaultMinRadius       = 64
)

// Quadrant indices of an interior node's children.
const (
	NorthWest = iota
	NorthEast
	SouthWest
	SouthEast
)

// ErrOutOfBounds is returned when a position lies outside the root region.
var ErrOutOfBounds = errors.New("position outside index bounds")

// Entry is one cached identifier at a position.
type Entry struct {
	Lat  int32
	Lon  int32
	Name string
}

// Point returns the entry position.
func (e Entry) Point() Point {
	return Point{Lat: e.Lat, Lon: e.Lon}
}

// Slot chains every name cached at one exact position.
type Slot struct {
	Point Point
	Names []string
}

func (s *Slot) indexOf(name string) int {
	return slices.Index(s.Names, name)
}

// Options configures a Tree. Zero values fall back to the defaults.
type Options struct {
	MaxItemsPerNode int
	MinRadius       int64
	Bounds          Rect
}

func (o Options) withDefaults() Options {
	if o.MaxItemsPerNode <= 0 {
		o.MaxItemsPerNode = DefaultMaxItemsPerNode
	}
	if o.MinRadius <= 0 {
		o.MinRadius = DefaultMinRadius
	}
	if o.Bounds == (Rect{}) || !o.Bounds.Valid() {
		o.Bounds = WorldRect
	}
	return o
}

// Tree is the quad tree.
type Tree struct {
	opts  Options
	root  *Node
	count int
	gen   uint64
}

// New creates an empty tree with a single root leaf.
func New(opts Options) *Tree {
	t := &Tree{opts: opts.withDefaults()}
	t.root = t.newNode(t.opts.Bounds, nil)
	return t
}

// Options returns the effective options.
func (t *Tree) Options() Options {
	return t.opts
}

// Bounds returns the root region.
func (t *Tree) Bounds() Rect {
	return t.opts.Bounds
}

// Len returns the number of entries in the tree.
func (t *Tree) Len() int {
	return t.count
}

// Clear resets the tree to one empty root leaf. Nodes handed out before the
// call are no longer accepted as position hints.
func (t *Tree) Clear() {
	t.gen++
	t.root = t.newNode(t.opts.Bounds, nil)
	t.count = 0
}

func (t *Tree) newNode(bounds Rect, parent *Node) *Node {
	return &Node{bounds: bounds, parent: parent, gen: t.gen}
}

// Insert adds e, starting the leaf search at hint when it is a live node that
// contains the position. Re-inserting an existing (position, name) pair
// replaces it in place. The returned leaf can be passed as hint for the next
// co-located insert.
func (t *Tree) Insert(e Entry, hint *Node) (*Node, error) {
	p := e.Point()
	if !t.root.bounds.Contains(p) {
		return nil, fmt.Errorf("%w: (%d,%d)", ErrOutOfBounds, p.Lat, p.Lon)
	}

	n := t.locate(hint, p)
	for {
		if i := n.slotIndex(p); i >= 0 {
			slot := &n.slots[i]
			if j := slot.indexOf(e.Name); j >= 0 {
				slot.Names[j] = e.Name
			} else {
				slot.Names = append(slot.Names, e.Name)
				t.count++
			}
			return n, nil
		}

		if len(n.slots) < t.opts.MaxItemsPerNode || !t.canSplit(n) {
			n.slots = append(n.slots, Slot{Point: p, Names: []string{e.Name}})
			t.count++
			return n, nil
		}

		t.split(n)
		n = n.childFor(p)
	}
}

// Remove unlinks the (position, name) entry. Removing an absent entry is a
// no-op and reports false.
func (t *Tree) Remove(p Point, name string) bool {
	n := t.NodeAt(p)
	if n == nil {
		return false
	}
	i := n.slotIndex(p)
	if i < 0 {
		return false
	}
	slot := &n.slots[i]
	j := slot.indexOf(name)
	if j < 0 {
		return false
	}

	slot.Names = slices.Delete(slot.Names, j, j+1)
	if len(slot.Names) == 0 {
		n.slots = slices.Delete(n.slots, i, i+1)
	}
	t.count--
	return true
}

// RemoveEntry is Remove for an Entry value.
func (t *Tree) RemoveEntry(e Entry) bool {
	return t.Remove(e.Point(), e.Name)
}

// Lookup finds the entry with the given position and name.
func (t *Tree) Lookup(p Point, name string, hint *Node) (Entry, bool) {
	if !t.root.bounds.Contains(p) {
		return Entry{}, false
	}
	n := t.locate(hint, p)
	i := n.slotIndex(p)
	if i < 0 || n.slots[i].indexOf(name) < 0 {
		return Entry{}, false
	}
	return Entry{Lat: p.Lat, Lon: p.Lon, Name: name}, true
}

// NodeAt returns the leaf whose region contains p, or nil when p lies
// outside the root region.
func (t *Tree) NodeAt(p Point) *Node {
	if !t.root.bounds.Contains(p) {
		return nil
	}
	return t.locate(nil, p)
}

// Leaves returns every leaf in depth-first NW, NE, SW, SE order.
func (t *Tree) Leaves() []*Node {
	var out []*Node
	t.root.walk(func(n *Node) bool {
		if n.IsLeaf() {
			out = append(out, n)
		}
		return true
	})
	return out
}

// Query returns every entry inside r, visiting only intersecting nodes.
func (t *Tree) Query(r Rect) []Entry {
	var out []Entry
	t.root.walk(func(n *Node) bool {
		if !n.bounds.Intersects(r) {
			return false
		}
		for _, s := range n.slots {
			if !r.Contains(s.Point) {
				continue
			}
			for _, name := range s.Names {
				out = append(out, Entry{Lat: s.Point.Lat, Lon: s.Point.Lon, Name: name})
			}
		}
		return true
	})
	return out
}

// Depth returns the depth of the deepest leaf; a lone root has depth 0.
func (t *Tree) Depth() int {
	depth := 0
	for _, leaf := range t.Leaves() {
		if d := leaf.Depth(); d > depth {
			depth = d
		}
	}
	return depth
}

// locate descends to the leaf containing p, starting at hint when usable.
// The caller guarantees p lies inside the root region.
func (t *Tree) locate(hint *Node, p Point) *Node {
	n := t.root
	if hint != nil && hint.gen == t.gen && hint.bounds.Contains(p) {
		n = hint
	}
	for !n.IsLeaf() {
		n = n.childFor(p)
	}
	return n
}

func (t *Tree) canSplit(n *Node) bool {
	return n.bounds.HalfWidth() > t.opts.MinRadius || n.bounds.HalfHeight() > t.opts.MinRadius
}

// split turns leaf n into an interior node and redistributes its slots.
func (t *Tree) split(n *Node) {
	quads := n.bounds.quadrants()
	var children [4]*Node
	for i, q := range quads {
		children[i] = t.newNode(q, n)
	}
	n.children = &children

	for _, s := range n.slots {
		child := n.childFor(s.Point)
		child.slots = append(child.slots, s)
	}
	n.slots = nil
}
