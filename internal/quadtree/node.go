package quadtree

import "slices"

// Node is a region of the tree: either a leaf holding slots or an interior
// node with four quadrant children.
type Node struct {
	bounds   Rect
	parent   *Node
	children *[4]*Node
	slots    []Slot
	gen      uint64
}

// Bounds returns the node region.
func (n *Node) Bounds() Rect {
	return n.bounds
}

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool {
	return n.children == nil
}

// Child returns the child for quadrant q, or nil on a leaf.
func (n *Node) Child(q int) *Node {
	if n.children == nil || q < 0 || q > 3 {
		return nil
	}
	return n.children[q]
}

// Depth is the number of ancestors.
func (n *Node) Depth() int {
	d := 0
	for p := n.parent; p != nil; p = p.parent {
		d++
	}
	return d
}

// Slots returns a copy of the leaf slots.
func (n *Node) Slots() []Slot {
	out := make([]Slot, len(n.slots))
	for i, s := range n.slots {
		out[i] = Slot{Point: s.Point, Names: slices.Clone(s.Names)}
	}
	return out
}

// Entries flattens the slot chains.
func (n *Node) Entries() []Entry {
	var out []Entry
	for _, s := range n.slots {
		for _, name := range s.Names {
			out = append(out, Entry{Lat: s.Point.Lat, Lon: s.Point.Lon, Name: name})
		}
	}
	return out
}

// Len returns the number of entries in the leaf, chains included.
func (n *Node) Len() int {
	total := 0
	for _, s := range n.slots {
		total += len(s.Names)
	}
	return total
}

// ChainLen returns how many names are chained at p in this leaf.
func (n *Node) ChainLen(p Point) int {
	if i := n.slotIndex(p); i >= 0 {
		return len(n.slots[i].Names)
	}
	return 0
}

func (n *Node) slotIndex(p Point) int {
	for i := range n.slots {
		if n.slots[i].Point == p {
			return i
		}
	}
	return -1
}

func (n *Node) childFor(p Point) *Node {
	for _, c := range n.children {
		if c.bounds.Contains(p) {
			return c
		}
	}
	// unreachable for points inside n.bounds: the quadrants cover it
	return n.children[SouthWest]
}

// walk visits n and its descendants depth first; returning false from fn
// skips the children of that node.
func (n *Node) walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	if n.children == nil {
		return
	}
	for _, c := range n.children {
		c.walk(fn)
	}
}
