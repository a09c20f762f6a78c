package cloud

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/scandiff/internal/geom"
)

func gridCloud(n int, spacing float64, z func(x, y float64) float64) *PointSet {
	pts := make([]geom.Vec3, 0, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			x, y := float64(i)*spacing, float64(j)*spacing
			pts = append(pts, geom.Vec3{X: x, Y: y, Z: z(x, y)})
		}
	}
	return FromPoints(pts)
}

func TestNew_ValidatesChannels(t *testing.T) {
	pts := []geom.Vec3{{X: 1}, {X: 2}}

	_, err := New(pts, []Color{{}}, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = New(pts, nil, []geom.Vec3{{Z: 1}})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = New([]geom.Vec3{{X: math.NaN()}}, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	ps, err := New(pts, []Color{{}, {}}, []geom.Vec3{{Z: 1}, {Z: 1}})
	require.NoError(t, err)
	assert.True(t, ps.HasColors())
	assert.True(t, ps.HasNormals())
}

func TestRequireNonEmpty(t *testing.T) {
	assert.ErrorIs(t, RequireNonEmpty(nil, "source"), ErrInvalidInput)
	assert.ErrorIs(t, RequireNonEmpty(FromPoints(nil), "source"), ErrInvalidInput)
	assert.NoError(t, RequireNonEmpty(FromPoints([]geom.Vec3{{}}), "source"))
}

func TestTransform_ReturnsCopy(t *testing.T) {
	ps := &PointSet{
		Points:  []geom.Vec3{{X: 1}, {Y: 1}},
		Normals: []geom.Vec3{{X: 1}, {Z: 1}},
	}
	out := ps.Transform(geom.Translation(0, 0, 2).Mul(geom.RotationZ(math.Pi / 2)))

	assert.Equal(t, geom.Vec3{X: 1}, ps.Points[0], "input must not change")
	assert.InDelta(t, 1, out.Points[0].Y, 1e-12)
	assert.InDelta(t, 2, out.Points[0].Z, 1e-12)
	assert.InDelta(t, 1, out.Normals[0].Y, 1e-12)
	assert.InDelta(t, 1, out.Normals[1].Z, 1e-12)
}

func TestSelectAndBounds(t *testing.T) {
	ps := &PointSet{
		Points: []geom.Vec3{{X: 0}, {X: 1, Y: 2}, {X: -1, Z: 3}},
		Colors: []Color{{R: 1}, {G: 1}, {B: 1}},
	}
	sub := ps.Select([]int{2, 0})
	require.Equal(t, 2, sub.Len())
	assert.Equal(t, geom.Vec3{X: -1, Z: 3}, sub.Points[0])
	assert.Equal(t, Color{B: 1}, sub.Colors[0])
	assert.Nil(t, sub.Normals)

	b := Bounds(ps.Points, nil)
	assert.Equal(t, geom.Vec3{X: -1, Y: 0, Z: 0}, b.Min)
	assert.Equal(t, geom.Vec3{X: 1, Y: 2, Z: 3}, b.Max)
	assert.InDelta(t, 12, b.Volume(), 1e-12)
	assert.True(t, b.Contains(geom.Vec3{X: 0.5, Y: 1, Z: 1}))

	assert.Equal(t, BoundingBox{}, Bounds(nil, nil))
	assert.Equal(t, geom.Vec3{X: 0.5, Y: 1}, Centroid(ps.Points, []int{0, 1}))
}

func TestContentHash(t *testing.T) {
	a := FromPoints([]geom.Vec3{{X: 1}, {Y: 2}})
	b := FromPoints([]geom.Vec3{{X: 1}, {Y: 2}})
	c := FromPoints([]geom.Vec3{{X: 1}, {Y: 2.0000001}})
	assert.Equal(t, a.ContentHash(), b.ContentHash())
	assert.NotEqual(t, a.ContentHash(), c.ContentHash())
	assert.Equal(t, a.ContentHash(), a.PaintUniform(Grey).ContentHash())
}

func TestDescribe(t *testing.T) {
	ps := FromPoints([]geom.Vec3{{}, {X: 2, Y: 1, Z: 0.5}})
	md := Describe("ref", ps)
	assert.Equal(t, 2, md.PointCount)
	assert.False(t, md.HasNormals)
	assert.Contains(t, md.String(), "ref: 2 points")
}

func TestFormatWithCommas(t *testing.T) {
	cases := map[int64]string{0: "0", 999: "999", 1000: "1,000", 1234567: "1,234,567", -12345: "-12,345"}
	for in, want := range cases {
		assert.Equal(t, want, FormatWithCommas(in))
	}
}

func TestEstimateNormals_Plane(t *testing.T) {
	ps := gridCloud(20, 0.05, func(x, y float64) float64 { return 5 })
	out, err := EstimateNormals(context.Background(), ps, DefaultNormalParams())
	require.NoError(t, err)
	require.True(t, out.HasNormals())
	assert.False(t, ps.HasNormals(), "input must not gain normals")

	for _, n := range out.Normals {
		assert.InDelta(t, 1, n.Z, 1e-9)
	}
}

func TestEstimateNormals_TiltedPlaneOriented(t *testing.T) {
	// z = x, normal is (-1, 0, 1)/sqrt2 when oriented up.
	ps := gridCloud(15, 0.05, func(x, y float64) float64 { return x })
	out, err := EstimateNormals(context.Background(), ps, DefaultNormalParams())
	require.NoError(t, err)

	want := geom.Vec3{X: -1, Z: 1}.Normalize()
	for _, n := range out.Normals {
		assert.InDelta(t, 1, n.Dot(want), 1e-6)
	}
}

func TestEstimateNormals_SparseFallsBackToOrient(t *testing.T) {
	ps := FromPoints([]geom.Vec3{{X: 0}, {X: 10}, {X: 20}})
	out, err := EstimateNormals(context.Background(), ps, DefaultNormalParams())
	require.NoError(t, err)
	for _, n := range out.Normals {
		assert.Equal(t, UpZ, n)
	}
}

func TestEstimateNormals_InvalidParams(t *testing.T) {
	ps := FromPoints([]geom.Vec3{{}})
	_, err := EstimateNormals(context.Background(), ps, NormalParams{Radius: 0, MaxNN: 3})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = EstimateNormals(context.Background(), FromPoints(nil), DefaultNormalParams())
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestEnsureNormals_KeepsExisting(t *testing.T) {
	ps := &PointSet{Points: []geom.Vec3{{}}, Normals: []geom.Vec3{{X: 1}}}
	out, err := EnsureNormals(context.Background(), ps, DefaultNormalParams())
	require.NoError(t, err)
	assert.Same(t, ps, out)
}

func TestColorizeScalar(t *testing.T) {
	ps := FromPoints([]geom.Vec3{{}, {}, {}})

	signed := ColorizeScalar(ps, []float64{-1, 0, 2}, true)
	require.Len(t, signed.Colors, 3)
	assert.Nil(t, ps.Colors, "input must not gain colours")
	assert.Equal(t, Ramp(0.25), signed.Colors[0])
	assert.Equal(t, Ramp(1), signed.Colors[2])

	unsigned := ColorizeScalar(ps, []float64{1, 2, 3}, false)
	assert.Equal(t, Ramp(0), unsigned.Colors[0])
	assert.Equal(t, Ramp(0.5), unsigned.Colors[1])

	flat := ColorizeScalar(ps, []float64{0, 0, 0}, true)
	assert.Equal(t, Ramp(0.5), flat.Colors[1])
}

func TestPaletteColor(t *testing.T) {
	assert.Equal(t, PaletteColor(0), PaletteColor(20))
	assert.NotEqual(t, PaletteColor(0), PaletteColor(1))
}
