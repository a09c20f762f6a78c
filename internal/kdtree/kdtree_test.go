package kdtree

import (
	"math"
	"math/rand/v2"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/scandiff/internal/geom"
)

func randomPoints(rng *rand.Rand, n int, scale geom.Vec3) []geom.Vec3 {
	pts := make([]geom.Vec3, n)
	for i := range pts {
		pts[i] = geom.Vec3{
			X: rng.Float64() * scale.X,
			Y: rng.Float64() * scale.Y,
			Z: rng.Float64() * scale.Z,
		}
	}
	return pts
}

func bruteNearest(pts []geom.Vec3, q geom.Vec3) (int, float64) {
	best, bestD2 := -1, math.Inf(1)
	for i, p := range pts {
		if d2 := p.SquaredDistance(q); d2 < bestD2 {
			best, bestD2 = i, d2
		}
	}
	return best, bestD2
}

func bruteRadius(pts []geom.Vec3, q geom.Vec3, r float64) []int {
	out := []int{}
	for i, p := range pts {
		if p.SquaredDistance(q) <= r*r {
			out = append(out, i)
		}
	}
	return out
}

func sorted(idx []int) []int {
	out := append([]int{}, idx...)
	sort.Ints(out)
	if out == nil {
		out = []int{}
	}
	return out
}

func TestBuild_Empty(t *testing.T) {
	_, err := Build(nil)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestNearest_MatchesBruteForce(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewPCG(1, 2))
	// Anisotropic: wide in X/Y, thin in Z like a terrain scan.
	pts := randomPoints(rng, 2000, geom.Vec3{X: 50, Y: 20, Z: 0.5})
	tree, err := Build(pts)
	require.NoError(t, err)
	require.Equal(t, len(pts), tree.Len())

	for i := 0; i < 500; i++ {
		q := geom.Vec3{X: rng.Float64()*60 - 5, Y: rng.Float64()*30 - 5, Z: rng.Float64()*2 - 1}
		gotIdx, gotD2 := tree.Nearest(q)
		wantIdx, wantD2 := bruteNearest(pts, q)
		require.Equal(t, wantD2, gotD2, "query %v", q)
		assert.Equal(t, wantIdx, gotIdx, "query %v", q)
	}
}

func TestNearest_QueryOnExistingPoint(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewPCG(3, 4))
	pts := randomPoints(rng, 500, geom.Vec3{X: 10, Y: 10, Z: 10})
	tree, err := Build(pts)
	require.NoError(t, err)

	for i, p := range pts {
		idx, d2 := tree.Nearest(p)
		assert.Equal(t, 0.0, d2)
		assert.Equal(t, i, idx)
	}
}

func TestRadius_MatchesBruteForce(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewPCG(5, 6))
	pts := randomPoints(rng, 1500, geom.Vec3{X: 10, Y: 10, Z: 3})
	tree, err := Build(pts)
	require.NoError(t, err)

	for _, r := range []float64{0, 0.1, 0.5, 1.5, 20} {
		for i := 0; i < 100; i++ {
			q := pts[rng.IntN(len(pts))]
			if i%2 == 1 {
				q = geom.Vec3{X: rng.Float64() * 10, Y: rng.Float64() * 10, Z: rng.Float64() * 3}
			}
			got := sorted(tree.Radius(q, r))
			want := bruteRadius(pts, q, r)
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("radius %.2f query %v mismatch (-want +got):\n%s", r, q, diff)
			}
		}
	}
}

func TestRadius_NegativeRadius(t *testing.T) {
	tree, err := Build([]geom.Vec3{{X: 1}})
	require.NoError(t, err)
	assert.Empty(t, tree.Radius(geom.Vec3{X: 1}, -1))
}

func TestDegenerateInputs(t *testing.T) {
	t.Parallel()

	t.Run("all duplicates", func(t *testing.T) {
		pts := make([]geom.Vec3, 100)
		for i := range pts {
			pts[i] = geom.Vec3{X: 1, Y: 2, Z: 3}
		}
		tree, err := Build(pts)
		require.NoError(t, err)
		_, d2 := tree.Nearest(geom.Vec3{X: 1, Y: 2, Z: 3})
		assert.Equal(t, 0.0, d2)
		assert.Len(t, tree.Radius(geom.Vec3{X: 1, Y: 2, Z: 3}, 0), 100)
	})

	t.Run("collinear with repeats", func(t *testing.T) {
		pts := make([]geom.Vec3, 0, 300)
		for i := 0; i < 100; i++ {
			for k := 0; k < 3; k++ {
				pts = append(pts, geom.Vec3{X: float64(i % 10)})
			}
		}
		tree, err := Build(pts)
		require.NoError(t, err)
		for i := 0; i < 10; i++ {
			q := geom.Vec3{X: float64(i) + 0.2}
			_, gotD2 := tree.Nearest(q)
			_, wantD2 := bruteNearest(pts, q)
			assert.InDelta(t, wantD2, gotD2, 1e-12)
			assert.Equal(t, bruteRadius(pts, q, 1.0), sorted(tree.Radius(q, 1.0)))
		}
	})

	t.Run("coplanar grid", func(t *testing.T) {
		var pts []geom.Vec3
		for x := 0; x < 30; x++ {
			for y := 0; y < 30; y++ {
				pts = append(pts, geom.Vec3{X: float64(x) * 0.1, Y: float64(y) * 0.1, Z: 5})
			}
		}
		tree, err := Build(pts)
		require.NoError(t, err)
		q := geom.Vec3{X: 1.0, Y: 1.0, Z: 5}
		assert.Equal(t, bruteRadius(pts, q, 0.25), sorted(tree.Radius(q, 0.25)))
	})
}

func TestHybrid_MatchesBruteForce(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewPCG(7, 8))
	pts := randomPoints(rng, 1000, geom.Vec3{X: 5, Y: 5, Z: 5})
	tree, err := Build(pts)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		q := pts[rng.IntN(len(pts))]
		got := tree.Hybrid(q, 0.8, 10)

		var want []Neighbor
		for j, p := range pts {
			if d2 := p.SquaredDistance(q); d2 <= 0.64 {
				want = append(want, Neighbor{Index: j, Dist2: d2})
			}
		}
		sort.Slice(want, func(a, b int) bool { return want[a].Dist2 < want[b].Dist2 })
		if len(want) > 10 {
			want = want[:10]
		}

		require.Len(t, got, len(want))
		for k := range got {
			assert.InDelta(t, want[k].Dist2, got[k].Dist2, 1e-12)
		}
		assert.Equal(t, 0.0, got[0].Dist2)
	}
}

func TestKNearest(t *testing.T) {
	pts := []geom.Vec3{{X: 0}, {X: 1}, {X: 2}, {X: 3}, {X: 10}}
	tree, err := Build(pts)
	require.NoError(t, err)

	got := tree.KNearest(geom.Vec3{X: 2.1}, 3)
	require.Len(t, got, 3)
	assert.Equal(t, 2, got[0].Index)
	assert.Equal(t, 3, got[1].Index)
	assert.Equal(t, 1, got[2].Index)
	assert.Nil(t, tree.KNearest(geom.Vec3{}, 0))
}

func TestCache_ReusesTreeByKey(t *testing.T) {
	a := []geom.Vec3{{X: 1}, {X: 2}}
	b := []geom.Vec3{{X: 3}, {X: 4}, {X: 5}}
	c := NewCache()

	t1, err := c.Get(42, a)
	require.NoError(t, err)
	t2, err := c.Get(42, a)
	require.NoError(t, err)
	assert.Same(t, t1, t2)

	t3, err := c.Get(7, b)
	require.NoError(t, err)
	assert.NotSame(t, t1, t3)

	// Same key but different contents is rebuilt rather than shared.
	t4, err := c.Get(42, b)
	require.NoError(t, err)
	assert.Equal(t, 3, t4.Len())

	hits, builds := c.Stats()
	assert.Equal(t, 1, hits)
	assert.Equal(t, 3, builds)

	_, err = c.Get(1, nil)
	assert.ErrorIs(t, err, ErrEmpty)
}
