package segmentation

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/scandiff/internal/cloud"
	"github.com/banshee-data/scandiff/internal/geom"
	"github.com/banshee-data/scandiff/internal/monitoring"
)

// planeWithNoise returns nPlane points on z = 0.1x - 0.2y + 3 followed by
// nNoise points between 1 and 3 m off it, and the true unit normal.
func planeWithNoise(nPlane, nNoise int) (*cloud.PointSet, geom.Vec3) {
	rng := rand.New(rand.NewPCG(11, 12))
	normal := geom.Vec3{X: -0.1, Y: 0.2, Z: 1}.Normalize()
	onPlane := func() geom.Vec3 {
		x, y := rng.Float64()*20, rng.Float64()*20
		return geom.Vec3{X: x, Y: y, Z: 0.1*x - 0.2*y + 3}
	}
	pts := make([]geom.Vec3, 0, nPlane+nNoise)
	for i := 0; i < nPlane; i++ {
		pts = append(pts, onPlane())
	}
	for i := 0; i < nNoise; i++ {
		offset := 1 + rng.Float64()*2
		if rng.IntN(2) == 0 {
			offset = -offset
		}
		pts = append(pts, onPlane().Add(normal.Scale(offset)))
	}
	return cloud.FromPoints(pts), normal
}

func TestSegmentPlane_RecoversKnownPlane(t *testing.T) {
	defer monitoring.Mute()()

	const nPlane, nNoise = 2000, 300
	ps, normal := planeWithNoise(nPlane, nNoise)
	params := DefaultParams()
	params.DistanceThreshold = 0.05

	res, err := SegmentPlane(context.Background(), ps, params)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, math.Abs(res.Plane.Normal().Dot(normal)), 1e-6)
	assert.InDelta(t, 1.0, res.Plane.Normal().Norm(), 1e-12)
	assert.Equal(t, len(res.Inliers), res.NumInliers)
	assert.Equal(t, ps.Len(), len(res.Inliers)+len(res.Outliers))

	correct := 0
	for _, i := range res.Inliers {
		if i < nPlane {
			correct++
		}
	}
	for _, i := range res.Outliers {
		if i >= nPlane {
			correct++
		}
	}
	assert.Greater(t, float64(correct)/float64(ps.Len()), 0.95)
}

func TestSegmentPlane_LargerSampleUsesLeastSquares(t *testing.T) {
	defer monitoring.Mute()()

	ps, normal := planeWithNoise(500, 20)
	params := Params{DistanceThreshold: 0.05, SampleSize: 5, NumIterations: 200, Seed: 3}

	res, err := SegmentPlane(context.Background(), ps, params)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, math.Abs(res.Plane.Normal().Dot(normal)), 1e-6)
	assert.GreaterOrEqual(t, res.NumInliers, 500)
}

func TestSegmentPlane_DeterministicForSeed(t *testing.T) {
	defer monitoring.Mute()()

	ps, _ := planeWithNoise(400, 200)
	params := Params{DistanceThreshold: 0.3, SampleSize: 3, NumIterations: 300, Seed: 99}

	a, err := SegmentPlane(context.Background(), ps, params)
	require.NoError(t, err)
	for run := 0; run < 3; run++ {
		b, err := SegmentPlane(context.Background(), ps, params)
		require.NoError(t, err)
		if diff := cmp.Diff(a, b); diff != "" {
			t.Fatalf("run %d differs (-first +later):\n%s", run, diff)
		}
	}
}

func TestSegmentPlane_PartitionIsComplete(t *testing.T) {
	defer monitoring.Mute()()

	ps, _ := planeWithNoise(300, 100)
	res, err := SegmentPlane(context.Background(), ps, DefaultParams())
	require.NoError(t, err)

	seen := make([]int, ps.Len())
	for _, i := range res.Inliers {
		seen[i]++
	}
	for _, i := range res.Outliers {
		seen[i]++
	}
	for i, c := range seen {
		require.Equal(t, 1, c, "index %d", i)
	}
	assert.IsIncreasing(t, res.Inliers)
	assert.IsIncreasing(t, res.Outliers)
}

func TestSegmentPlane_AllDegenerate(t *testing.T) {
	defer monitoring.Mute()()

	pts := make([]geom.Vec3, 50)
	for i := range pts {
		pts[i] = geom.Vec3{X: float64(i)}
	}
	res, err := SegmentPlane(context.Background(), cloud.FromPoints(pts), DefaultParams())
	require.NoError(t, err)

	assert.True(t, res.Plane.IsZero())
	assert.Equal(t, 0, res.NumInliers)
	assert.Empty(t, res.Inliers)
	assert.Len(t, res.Outliers, 50)
	assert.Equal(t, -1, res.BestTrial)
	assert.Equal(t, DefaultNumIterations, res.DegenerateTrials)
}

func TestSegmentPlane_InvalidInput(t *testing.T) {
	ps, _ := planeWithNoise(10, 0)
	tests := []struct {
		name   string
		ps     *cloud.PointSet
		params Params
	}{
		{"empty cloud", &cloud.PointSet{}, DefaultParams()},
		{"zero threshold", ps, Params{SampleSize: 3, NumIterations: 10}},
		{"sample of two", ps, Params{DistanceThreshold: 0.1, SampleSize: 2, NumIterations: 10}},
		{"zero iterations", ps, Params{DistanceThreshold: 0.1, SampleSize: 3}},
		{"sample larger than cloud", ps, Params{DistanceThreshold: 0.1, SampleSize: 11, NumIterations: 10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SegmentPlane(context.Background(), tt.ps, tt.params)
			assert.ErrorIs(t, err, cloud.ErrInvalidInput)
		})
	}
}

func TestPlaneThrough_OrientsUp(t *testing.T) {
	// Clockwise order gives a downward cross product.
	p, ok := planeThrough(geom.Vec3{Z: 2}, geom.Vec3{Y: 1, Z: 2}, geom.Vec3{X: 1, Z: 2})
	require.True(t, ok)
	assert.Equal(t, Plane{A: 0, B: 0, C: 1, D: -2}, p)
	assert.InDelta(t, 1.0, p.SignedDistance(geom.Vec3{Z: 3}), 1e-12)
	assert.Equal(t, "0.000x + 0.000y + 1.000z + -2.000 = 0", p.String())

	_, ok = planeThrough(geom.Vec3{}, geom.Vec3{X: 1}, geom.Vec3{X: 2})
	assert.False(t, ok)
}

func TestSplitByPlane(t *testing.T) {
	defer monitoring.Mute()()

	ps, _ := planeWithNoise(200, 50)
	ground, rest, res, err := RemoveGround(context.Background(), ps, DefaultParams())
	require.NoError(t, err)

	assert.Equal(t, res.NumInliers, ground.Len())
	assert.Equal(t, len(res.Outliers), rest.Len())
	require.True(t, ground.HasColors())
	for _, c := range ground.Colors {
		assert.Equal(t, cloud.Grey, c)
	}
	assert.False(t, ps.HasColors(), "input must not be painted")
}

func TestGroundRemovalStats(t *testing.T) {
	res := &Result{
		Plane:      Plane{C: 1, D: -5},
		NumInliers: 9200,
		Outliers:   make([]int, 800),
	}
	assert.Equal(t,
		"Ground points: 9,200 (92.0%) | Remaining: 800 (8.0%) | Plane: 0.000x + 0.000y + 1.000z + -5.000 = 0",
		GroundRemovalStats(res, 10000))
}

func TestVoxelDownsample(t *testing.T) {
	defer monitoring.Mute()()

	ps, err := cloud.New(
		[]geom.Vec3{{X: 0.1, Y: 0.1, Z: 0.1}, {X: 0.2, Y: 0.2, Z: 0.2}, {X: 5, Y: 5, Z: 5}},
		[]cloud.Color{{R: 1}, {R: 0}, {G: 1}},
		nil,
	)
	require.NoError(t, err)

	out, err := VoxelDownsample(ps, 1.0)
	require.NoError(t, err)
	require.Equal(t, 2, out.Len())
	assert.InDelta(t, 0.15, out.Points[0].X, 1e-12)
	assert.InDelta(t, 0.5, out.Colors[0].R, 1e-12)
	assert.Equal(t, geom.Vec3{X: 5, Y: 5, Z: 5}, out.Points[1])
	assert.False(t, out.HasNormals())

	_, err = VoxelDownsample(ps, 0)
	assert.ErrorIs(t, err, cloud.ErrInvalidInput)
}

func TestVoxelDownsample_NormalsRenormalised(t *testing.T) {
	defer monitoring.Mute()()

	ps, err := cloud.New(
		[]geom.Vec3{{}, {X: 0.01}},
		nil,
		[]geom.Vec3{{Z: 1}, {X: 1}},
	)
	require.NoError(t, err)
	out, err := VoxelDownsample(ps, 1.0)
	require.NoError(t, err)
	require.Equal(t, 1, out.Len())
	assert.InDelta(t, 1.0, out.Normals[0].Norm(), 1e-12)
}

func TestRemoveStatisticalOutliers(t *testing.T) {
	defer monitoring.Mute()()

	var pts []geom.Vec3
	for i := 0; i < 20; i++ {
		for j := 0; j < 20; j++ {
			pts = append(pts, geom.Vec3{X: float64(i) * 0.1, Y: float64(j) * 0.1})
		}
	}
	pts = append(pts, geom.Vec3{X: 100, Y: 100, Z: 100})

	res, err := RemoveStatisticalOutliers(context.Background(), cloud.FromPoints(pts), DefaultNbNeighbors, DefaultStdRatio)
	require.NoError(t, err)
	assert.Equal(t, []int{400}, res.Outliers)
	assert.Len(t, res.Inliers, 400)
	assert.Greater(t, res.Threshold, res.MeanDistance)

	_, err = RemoveStatisticalOutliers(context.Background(), cloud.FromPoints(pts), 0, 2)
	assert.ErrorIs(t, err, cloud.ErrInvalidInput)
}
