// Package kdtree provides the exact nearest-neighbour and radius queries used
// by registration, change detection, normal estimation and DBSCAN.
//
// The tree is built once over an immutable slice of points. Each internal
// node splits on the median of the axis with the widest spread across its
// points, which keeps anisotropic terrain scans balanced. Ranges whose
// points all coincide (zero spread) become leaves that are scanned linearly.
package kdtree

import (
	"errors"
	"math"

	"github.com/banshee-data/scandiff/internal/geom"
)

// DefaultLeafSize is the maximum number of points held by a leaf before it
// is split further.
const DefaultLeafSize = 8

// ErrEmpty is returned when building an index over zero points.
var ErrEmpty = errors.New("kdtree: cannot build index over zero points")

const noChild = -1

type node struct {
	lo, hi      int // range into Tree.perm
	axis        int
	split       float64
	left, right int
}

// Tree is a static 3-D k-d tree. It is safe for concurrent queries once
// built; it never mutates the points it was built from.
type Tree struct {
	points []geom.Vec3
	perm   []int
	nodes  []node
	root   int
}

// Build constructs a tree over points. The slice is retained (not copied)
// and must not be modified while the tree is in use.
func Build(points []geom.Vec3) (*Tree, error) {
	if len(points) == 0 {
		return nil, ErrEmpty
	}

	t := &Tree{
		points: points,
		perm:   make([]int, len(points)),
		nodes:  make([]node, 0, 2*len(points)/DefaultLeafSize+1),
	}
	for i := range t.perm {
		t.perm[i] = i
	}
	t.root = t.build(0, len(points))
	return t, nil
}

// Len returns the number of indexed points.
func (t *Tree) Len() int { return len(t.points) }

// Points returns the indexed points. Callers must treat the slice as read-only.
func (t *Tree) Points() []geom.Vec3 { return t.points }

func (t *Tree) build(lo, hi int) int {
	idx := len(t.nodes)
	t.nodes = append(t.nodes, node{lo: lo, hi: hi, left: noChild, right: noChild})

	if hi-lo <= DefaultLeafSize {
		return idx
	}

	axis, spread := t.widestAxis(lo, hi)
	if spread == 0 {
		// All points coincide: no split separates them.
		return idx
	}

	mid := lo + (hi-lo)/2
	t.selectNth(lo, hi, mid, axis)

	t.nodes[idx].axis = axis
	t.nodes[idx].split = t.points[t.perm[mid]].Axis(axis)
	left := t.build(lo, mid)
	right := t.build(mid, hi)
	t.nodes[idx].left = left
	t.nodes[idx].right = right
	return idx
}

// widestAxis returns the axis with the largest coordinate extent over
// perm[lo:hi] and that extent.
func (t *Tree) widestAxis(lo, hi int) (int, float64) {
	minV := [3]float64{math.Inf(1), math.Inf(1), math.Inf(1)}
	maxV := [3]float64{math.Inf(-1), math.Inf(-1), math.Inf(-1)}
	for _, pi := range t.perm[lo:hi] {
		p := t.points[pi]
		c := [3]float64{p.X, p.Y, p.Z}
		for a := 0; a < 3; a++ {
			if c[a] < minV[a] {
				minV[a] = c[a]
			}
			if c[a] > maxV[a] {
				maxV[a] = c[a]
			}
		}
	}
	best, bestSpread := 0, maxV[0]-minV[0]
	for a := 1; a < 3; a++ {
		if s := maxV[a] - minV[a]; s > bestSpread {
			best, bestSpread = a, s
		}
	}
	return best, bestSpread
}

// selectNth partially orders perm[lo:hi] so that perm[k] holds the element
// that would be there if the range were sorted by axis, everything before
// it is <= and everything after it is >= (quickselect).
func (t *Tree) selectNth(lo, hi, k, axis int) {
	coord := func(i int) float64 { return t.points[t.perm[i]].Axis(axis) }
	left, right := lo, hi-1
	for right > left {
		// Median-of-three pivot guards against sorted input.
		mid := left + (right-left)/2
		if coord(mid) < coord(left) {
			t.perm[mid], t.perm[left] = t.perm[left], t.perm[mid]
		}
		if coord(right) < coord(left) {
			t.perm[right], t.perm[left] = t.perm[left], t.perm[right]
		}
		if coord(right) < coord(mid) {
			t.perm[right], t.perm[mid] = t.perm[mid], t.perm[right]
		}
		pivot := coord(mid)

		i, j := left, right
		for i <= j {
			for coord(i) < pivot {
				i++
			}
			for coord(j) > pivot {
				j--
			}
			if i <= j {
				t.perm[i], t.perm[j] = t.perm[j], t.perm[i]
				i++
				j--
			}
		}
		if k <= j {
			right = j
		} else if k >= i {
			left = i
		} else {
			return
		}
	}
}

// Nearest returns the index of the point closest to q and its squared
// distance. Ties resolve to whichever point the traversal reaches first.
func (t *Tree) Nearest(q geom.Vec3) (int, float64) {
	best, bestD2 := -1, math.Inf(1)
	t.nearest(t.root, q, &best, &bestD2)
	return best, bestD2
}

func (t *Tree) nearest(ni int, q geom.Vec3, best *int, bestD2 *float64) {
	n := &t.nodes[ni]
	if n.left == noChild {
		for _, pi := range t.perm[n.lo:n.hi] {
			if d2 := t.points[pi].SquaredDistance(q); d2 < *bestD2 {
				*best, *bestD2 = pi, d2
			}
		}
		return
	}

	diff := q.Axis(n.axis) - n.split
	near, far := n.left, n.right
	if diff >= 0 {
		near, far = n.right, n.left
	}
	t.nearest(near, q, best, bestD2)
	if diff*diff <= *bestD2 {
		t.nearest(far, q, best, bestD2)
	}
}

// Radius returns the indices of every point p with ||p - q|| <= r, in no
// particular order.
func (t *Tree) Radius(q geom.Vec3, r float64) []int {
	if r < 0 {
		return nil
	}
	var out []int
	t.radius(t.root, q, r, r*r, &out)
	return out
}

func (t *Tree) radius(ni int, q geom.Vec3, r, r2 float64, out *[]int) {
	n := &t.nodes[ni]
	if n.left == noChild {
		for _, pi := range t.perm[n.lo:n.hi] {
			if t.points[pi].SquaredDistance(q) <= r2 {
				*out = append(*out, pi)
			}
		}
		return
	}

	c := q.Axis(n.axis)
	if c-r <= n.split {
		t.radius(n.left, q, r, r2, out)
	}
	if c+r >= n.split {
		t.radius(n.right, q, r, r2, out)
	}
}
