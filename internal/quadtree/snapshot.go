package quadtree

import (
	"errors"
	"fmt"
	"io"
	"math"
	"slices"

	"github.com/wayfinder/tilecache/internal/storage"
)

// ErrBadSnapshot is returned when a snapshot does not describe a valid
// partition of the tree bounds.
var ErrBadSnapshot = errors.New("invalid spatial index snapshot")

// LeafSnapshot is the persisted form of one leaf: its region and its slots.
type LeafSnapshot struct {
	Bounds Rect
	Slots  []Slot
}

// Snapshot captures every leaf, empty ones included, so Restore reproduces
// the exact partition. Degenerate quadrants are recreated by the split and
// are left out.
func (t *Tree) Snapshot() []LeafSnapshot {
	leaves := t.Leaves()
	out := make([]LeafSnapshot, 0, len(leaves))
	for _, leaf := range leaves {
		if !leaf.bounds.Valid() {
			continue
		}
		out = append(out, LeafSnapshot{Bounds: leaf.bounds, Slots: leaf.Slots()})
	}
	return out
}

// Restore clears the tree and reattaches the given leaves.
func (t *Tree) Restore(leaves []LeafSnapshot) error {
	t.Clear()
	for _, leaf := range leaves {
		if err := t.Attach(leaf); err != nil {
			t.Clear()
			return err
		}
	}
	return nil
}

// Attach grafts a whole leaf into the tree, splitting ancestors until a node
// with exactly the leaf bounds exists. This avoids replaying one insert per
// entry when rebuilding from a snapshot.
func (t *Tree) Attach(leaf LeafSnapshot) error {
	if !leaf.Bounds.Valid() || !t.root.bounds.ContainsRect(leaf.Bounds) {
		return fmt.Errorf("%w: leaf bounds %+v outside %+v", ErrBadSnapshot, leaf.Bounds, t.root.bounds)
	}
	for _, s := range leaf.Slots {
		if !leaf.Bounds.Contains(s.Point) {
			return fmt.Errorf("%w: slot (%d,%d) outside leaf %+v", ErrBadSnapshot, s.Point.Lat, s.Point.Lon, leaf.Bounds)
		}
	}

	n := t.root
	for n.bounds != leaf.Bounds {
		if n.IsLeaf() {
			if n.bounds.MinLat == n.bounds.MaxLat && n.bounds.MinLon == n.bounds.MaxLon {
				return fmt.Errorf("%w: cannot split %+v", ErrBadSnapshot, n.bounds)
			}
			t.split(n)
		}
		var next *Node
		for _, c := range n.children {
			if c.bounds.Valid() && c.bounds.ContainsRect(leaf.Bounds) {
				next = c
				break
			}
		}
		if next == nil {
			return fmt.Errorf("%w: leaf %+v does not align with quadrants of %+v", ErrBadSnapshot, leaf.Bounds, n.bounds)
		}
		n = next
	}
	if !n.IsLeaf() {
		return fmt.Errorf("%w: leaf %+v overlaps an interior node", ErrBadSnapshot, leaf.Bounds)
	}

	for _, s := range leaf.Slots {
		i := n.slotIndex(s.Point)
		if i < 0 {
			n.slots = append(n.slots, Slot{Point: s.Point})
			i = len(n.slots) - 1
		}
		slot := &n.slots[i]
		for _, name := range s.Names {
			if slot.indexOf(name) < 0 {
				slot.Names = append(slot.Names, name)
				t.count++
			}
		}
		if len(slot.Names) == 0 {
			n.slots = slices.Delete(n.slots, i, i+1)
		}
	}
	return nil
}

// WriteSnapshot encodes leaves:
//
//	leafCount uint32
//	leafCount × { minLat, minLon, maxLat, maxLon int32
//	              slotCount uint32
//	              slotCount × { lat, lon int32, nameCount uint16, nameCount × name } }
func WriteSnapshot(w io.Writer, leaves []LeafSnapshot) error {
	bw := storage.NewBinaryWriter(w)
	bw.Uint32(uint32(len(leaves)))
	for _, leaf := range leaves {
		bw.Int32(leaf.Bounds.MinLat)
		bw.Int32(leaf.Bounds.MinLon)
		bw.Int32(leaf.Bounds.MaxLat)
		bw.Int32(leaf.Bounds.MaxLon)
		bw.Uint32(uint32(len(leaf.Slots)))
		for _, s := range leaf.Slots {
			if len(s.Names) > math.MaxUint16 {
				return fmt.Errorf("slot (%d,%d) chains %d names", s.Point.Lat, s.Point.Lon, len(s.Names))
			}
			bw.Int32(s.Point.Lat)
			bw.Int32(s.Point.Lon)
			bw.Uint16(uint16(len(s.Names)))
			for _, name := range s.Names {
				bw.String16(name)
			}
		}
	}
	return bw.Flush()
}

// ReadSnapshot decodes what WriteSnapshot produced.
func ReadSnapshot(r io.Reader) ([]LeafSnapshot, error) {
	br := storage.NewBinaryReader(r)
	count := br.Uint32()
	if err := br.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadSnapshot, err)
	}

	leaves := make([]LeafSnapshot, 0, min(count, 1<<16))
	for i := uint32(0); i < count; i++ {
		var leaf LeafSnapshot
		leaf.Bounds.MinLat = br.Int32()
		leaf.Bounds.MinLon = br.Int32()
		leaf.Bounds.MaxLat = br.Int32()
		leaf.Bounds.MaxLon = br.Int32()
		slots := br.Uint32()
		if err := br.Err(); err != nil {
			return nil, fmt.Errorf("%w: leaf %d: %w", ErrBadSnapshot, i, err)
		}
		leaf.Slots = make([]Slot, 0, min(slots, 1<<12))
		for j := uint32(0); j < slots; j++ {
			s := Slot{Point: Point{Lat: br.Int32(), Lon: br.Int32()}}
			names := int(br.Uint16())
			for k := 0; k < names && br.Err() == nil; k++ {
				s.Names = append(s.Names, br.String16())
			}
			if err := br.Err(); err != nil {
				return nil, fmt.Errorf("%w: leaf %d slot %d: %w", ErrBadSnapshot, i, j, err)
			}
			leaf.Slots = append(leaf.Slots, s)
		}
		leaves = append(leaves, leaf)
	}
	return leaves, nil
}
