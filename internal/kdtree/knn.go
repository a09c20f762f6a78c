package kdtree

import (
	"math"
	"sort"

	"github.com/banshee-data/scandiff/internal/geom"
)

// Neighbor is a query result: a point index and its squared distance.
type Neighbor struct {
	Index int
	Dist2 float64
}

// neighborSet keeps the k closest neighbours seen so far, sorted ascending.
// k is small (tens) for normal estimation and outlier filtering, so
// insertion into a sorted slice beats a heap.
type neighborSet struct {
	k     int
	items []Neighbor
}

func (s *neighborSet) worst() float64 {
	if len(s.items) < s.k {
		return math.Inf(1)
	}
	return s.items[len(s.items)-1].Dist2
}

func (s *neighborSet) offer(idx int, d2 float64) {
	if len(s.items) == s.k && d2 >= s.items[len(s.items)-1].Dist2 {
		return
	}
	pos := sort.Search(len(s.items), func(i int) bool { return s.items[i].Dist2 > d2 })
	if len(s.items) < s.k {
		s.items = append(s.items, Neighbor{})
	}
	copy(s.items[pos+1:], s.items[pos:len(s.items)-1])
	s.items[pos] = Neighbor{Index: idx, Dist2: d2}
}

// KNearest returns up to k neighbours of q sorted by ascending distance.
func (t *Tree) KNearest(q geom.Vec3, k int) []Neighbor {
	return t.Hybrid(q, math.Inf(1), k)
}

// Hybrid returns up to maxNN neighbours of q within radius r, sorted by
// ascending distance. This is the neighbourhood definition used for normal
// estimation: bounded both by distance and by count.
func (t *Tree) Hybrid(q geom.Vec3, r float64, maxNN int) []Neighbor {
	if maxNN <= 0 || r < 0 {
		return nil
	}
	set := &neighborSet{k: maxNN, items: make([]Neighbor, 0, maxNN)}
	r2 := r * r
	t.hybrid(t.root, q, r2, set)
	return set.items
}

func (t *Tree) hybrid(ni int, q geom.Vec3, r2 float64, set *neighborSet) {
	n := &t.nodes[ni]
	if n.left == noChild {
		for _, pi := range t.perm[n.lo:n.hi] {
			d2 := t.points[pi].SquaredDistance(q)
			if d2 <= r2 {
				set.offer(pi, d2)
			}
		}
		return
	}

	diff := q.Axis(n.axis) - n.split
	near, far := n.left, n.right
	if diff >= 0 {
		near, far = n.right, n.left
	}
	t.hybrid(near, q, r2, set)
	if d2 := diff * diff; d2 <= r2 && d2 <= set.worst() {
		t.hybrid(far, q, r2, set)
	}
}
