package tilecache

import (
	"cmp"
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/wayfinder/tilecache/internal/logging"
	"github.com/wayfinder/tilecache/internal/quadtree"
)

// LeafView is a read-only copy of one quad tree leaf.
type LeafView struct {
	Bounds  quadtree.Rect
	Entries []quadtree.Entry
}

// EvictionView is what a policy sees of the cache.
type EvictionView struct {
	Leaves []LeafView
	// Positional is the number of identifiers carrying a position.
	Positional int
	// Entries is the number of identifiers in the directory.
	Entries int
}

// EvictionPolicy picks identifiers to remove. Each returned identifier is
// removed together with its record group.
type EvictionPolicy interface {
	Select(view EvictionView) []string
}

// EvictionFunc adapts a function to EvictionPolicy.
type EvictionFunc func(view EvictionView) []string

func (f EvictionFunc) Select(view EvictionView) []string {
	return f(view)
}

// DistancePolicy keeps the MaxEntries positional entries closest to Center
// and selects the rest, farthest leaves first.
type DistancePolicy struct {
	Center     quadtree.Point
	MaxEntries int
}

func (p DistancePolicy) Select(view EvictionView) []string {
	excess := view.Positional - max(p.MaxEntries, 0)
	if excess <= 0 {
		return nil
	}

	leaves := slices.Clone(view.Leaves)
	slices.SortStableFunc(leaves, func(a, b LeafView) int {
		return cmp.Compare(quadtree.DistanceSq(p.Center, b.Bounds.Center()), quadtree.DistanceSq(p.Center, a.Bounds.Center()))
	})

	var out []string
	for _, leaf := range leaves {
		entries := slices.Clone(leaf.Entries)
		slices.SortStableFunc(entries, func(a, b quadtree.Entry) int {
			return cmp.Compare(quadtree.DistanceSq(p.Center, b.Point()), quadtree.DistanceSq(p.Center, a.Point()))
		})
		for _, e := range entries {
			if len(out) == excess {
				return out
			}
			out = append(out, e.Name)
		}
	}
	return out
}

// Evict removes the record groups selected by policy and returns how many
// groups were removed.
func (c *Cache) Evict(policy EvictionPolicy) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed || policy == nil {
		return 0
	}

	view := EvictionView{Positional: c.index.Len(), Entries: c.dir.Len()}
	for _, leaf := range c.index.Leaves() {
		if leaf.Len() == 0 {
			continue
		}
		view.Leaves = append(view.Leaves, LeafView{Bounds: leaf.Bounds(), Entries: leaf.Entries()})
	}

	removed := 0
	for _, id := range policy.Select(view) {
		if c.remove(id) {
			removed++
		}
	}
	if removed > 0 {
		c.log.WithFields(logging.CacheFields("cache_evict", "")).WithFields(logrus.Fields{
			"removed":   removed,
			"remaining": c.dir.Len(),
		}).Info("evicted record groups")
	}
	return removed
}

// Nearby lists identifiers indexed inside r.
func (c *Cache) Nearby(r quadtree.Rect) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return nil
	}
	entries := c.index.Query(r)
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	return out
}
