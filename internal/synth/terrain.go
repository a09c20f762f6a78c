// Package synth generates synthetic survey pairs: a baseline terrain scan
// and a later scan of the same terrain with erosion, deposition, noise and
// a rigid misalignment. It backs the end-to-end tests and the CLI demo.
package synth

import (
	"math"
	"math/rand/v2"

	"github.com/banshee-data/scandiff/internal/cloud"
	"github.com/banshee-data/scandiff/internal/geom"
)

// Deformation raises (DeltaZ > 0) or lowers (DeltaZ < 0) every grid point
// strictly inside the XY box.
type Deformation struct {
	MinX, MaxX float64
	MinY, MaxY float64
	DeltaZ     float64
}

// Contains reports whether (x, y) lies strictly inside the box.
func (d Deformation) Contains(x, y float64) bool {
	return x > d.MinX && x < d.MaxX && y > d.MinY && y < d.MaxY
}

// Centre returns the XY centre of the box.
func (d Deformation) Centre() (float64, float64) {
	return (d.MinX + d.MaxX) / 2, (d.MinY + d.MaxY) / 2
}

// TerrainOptions configures Terrain.
type TerrainOptions struct {
	NumPoints int     // Total points; the grid takes floor(sqrt(n))² of them
	Extent    float64 // Grid spans [0, Extent] in X and Y (metres)
	BaseZ     float64 // Base elevation (metres)
	// HillScale scales the sinusoidal relief. 0 gives a flat grid.
	HillScale    float64
	Noise        float64 // Std dev of Gaussian Z noise (metres)
	Seed         uint64
	Deformations []Deformation
}

// ReferenceOptions reproduces the baseline survey: 10,000 points over a
// 20 m square of rolling hills at 5 m with 3 cm noise.
func ReferenceOptions() TerrainOptions {
	return TerrainOptions{
		NumPoints: 10000,
		Extent:    20,
		BaseZ:     5,
		HillScale: 1,
		Noise:     0.03,
		Seed:      42,
	}
}

// ErosionZone is the region lowered by 0.5 m in the deformed survey.
var ErosionZone = Deformation{MinX: 8, MaxX: 12, MinY: 8, MaxY: 12, DeltaZ: -0.5}

// DepositionZone is the region raised by 0.4 m in the deformed survey.
var DepositionZone = Deformation{MinX: 14, MaxX: 18, MinY: 5, MaxY: 9, DeltaZ: 0.4}

// DeformedOptions reproduces the repeat survey: the reference terrain with
// an erosion and a deposition zone and 5 cm noise.
func DeformedOptions() TerrainOptions {
	opts := ReferenceOptions()
	opts.Noise = 0.05
	opts.Seed = 43
	opts.Deformations = []Deformation{ErosionZone, DepositionZone}
	return opts
}

// Height returns the noiseless relief at (x, y).
func (o TerrainOptions) Height(x, y float64) float64 {
	z := o.BaseZ
	if o.HillScale != 0 {
		z += o.HillScale * (2*math.Sin(x*0.5)*math.Cos(y*0.5) + 1.5*math.Sin(x*0.3)*math.Sin(y*0.4))
	}
	for _, d := range o.Deformations {
		if d.Contains(x, y) {
			z += d.DeltaZ
		}
	}
	return z
}

// Terrain builds a grid cloud (row-major in Y then X) plus any leftover
// random "vegetation" points, coloured by height. No normals are attached.
func Terrain(o TerrainOptions) *cloud.PointSet {
	rng := rand.New(rand.NewPCG(o.Seed, o.Seed^0x9e3779b97f4a7c15))

	side := int(math.Sqrt(float64(o.NumPoints)))
	if side < 2 {
		side = 2
	}
	step := o.Extent / float64(side-1)

	points := make([]geom.Vec3, 0, max(o.NumPoints, side*side))
	for iy := 0; iy < side; iy++ {
		y := float64(iy) * step
		for ix := 0; ix < side; ix++ {
			x := float64(ix) * step
			z := o.Height(x, y)
			if o.Noise > 0 {
				z += rng.NormFloat64() * o.Noise
			}
			points = append(points, geom.Vec3{X: x, Y: y, Z: z})
		}
	}
	for len(points) < o.NumPoints {
		points = append(points, geom.Vec3{
			X: rng.Float64() * o.Extent,
			Y: rng.Float64() * o.Extent,
			Z: o.BaseZ + rng.Float64()*3,
		})
	}

	return cloud.FromPoints(points).WithColors(heightColors(points))
}

// heightColors shades low points green and high points brown.
func heightColors(points []geom.Vec3) []cloud.Color {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, p := range points {
		lo = math.Min(lo, p.Z)
		hi = math.Max(hi, p.Z)
	}
	colors := make([]cloud.Color, len(points))
	for i, p := range points {
		var t float64
		if hi > lo {
			t = (p.Z - lo) / (hi - lo)
		}
		colors[i] = cloud.Color{R: 0.4*t + 0.3, G: 0.6*(1-t) + 0.2, B: 0.2*t + 0.1}
	}
	return colors
}

// RigidAbout returns the transform rotating by angleRad about the vertical
// axis through pivot, then translating by shift.
func RigidAbout(angleRad float64, pivot, shift geom.Vec3) geom.Transform {
	toOrigin := geom.Translation(-pivot.X, -pivot.Y, -pivot.Z)
	back := geom.Translation(pivot.X+shift.X, pivot.Y+shift.Y, pivot.Z+shift.Z)
	return back.Mul(geom.RotationZ(angleRad)).Mul(toOrigin)
}

// DefaultMisalignment is the misalignment applied to the repeat survey:
// 5° about the vertical through the grid centre plus (0.3, -0.2, 0.1) m.
func DefaultMisalignment(o TerrainOptions) geom.Transform {
	c := o.Extent / 2
	return RigidAbout(5*math.Pi/180, geom.Vec3{X: c, Y: c}, geom.Vec3{X: 0.3, Y: -0.2, Z: 0.1})
}

// Pair is a generated survey pair.
type Pair struct {
	Reference *cloud.PointSet
	// Target is the deformed survey after Misalignment was applied.
	Target *cloud.PointSet
	// Misalignment maps the deformed survey's true frame onto Target.
	// Registration should recover its inverse.
	Misalignment geom.Transform
	Deformations []Deformation
}

// SurveyPair builds the standard reference/target pair.
func SurveyPair() Pair {
	return NewSurveyPair(ReferenceOptions(), DeformedOptions())
}

// NewSurveyPair generates ref and def and misaligns the deformed survey by
// DefaultMisalignment.
func NewSurveyPair(ref, def TerrainOptions) Pair {
	mis := DefaultMisalignment(def)
	return Pair{
		Reference:    Terrain(ref),
		Target:       Terrain(def).Transform(mis),
		Misalignment: mis,
		Deformations: def.Deformations,
	}
}
