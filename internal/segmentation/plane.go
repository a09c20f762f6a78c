package segmentation

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/scandiff/internal/geom"
)

// degenerateTolerance is the relative cross-product norm below which three
// sample points are treated as collinear.
const degenerateTolerance = 1e-10

// Plane is ax + by + cz + d = 0 with (a, b, c) unit length.
type Plane struct {
	A, B, C, D float64
}

// Normal returns (a, b, c).
func (p Plane) Normal() geom.Vec3 { return geom.Vec3{X: p.A, Y: p.B, Z: p.C} }

// SignedDistance returns the distance of q from the plane, positive on the
// side the normal points to.
func (p Plane) SignedDistance(q geom.Vec3) float64 {
	return p.A*q.X + p.B*q.Y + p.C*q.Z + p.D
}

// Distance returns the perpendicular distance of q from the plane.
func (p Plane) Distance(q geom.Vec3) float64 { return math.Abs(p.SignedDistance(q)) }

// IsZero reports whether p is the zero value (no plane found).
func (p Plane) IsZero() bool { return p == Plane{} }

// String returns the plane equation, e.g. "0.000x + 0.000y + 1.000z + -5.000 = 0".
func (p Plane) String() string {
	return fmt.Sprintf("%.3fx + %.3fy + %.3fz + %.3f = 0", p.A, p.B, p.C, p.D)
}

// canonical flips the plane so its normal has a non-negative Z component
// (ties broken on Y then X), giving ground planes an upward normal.
func (p Plane) canonical() Plane {
	flip := p.C < 0 || (p.C == 0 && (p.B < 0 || (p.B == 0 && p.A < 0)))
	if flip {
		return Plane{negate(p.A), negate(p.B), negate(p.C), negate(p.D)}
	}
	return p
}

// negate avoids producing -0, which would print as "-0.000".
func negate(v float64) float64 {
	if v == 0 {
		return 0
	}
	return -v
}

// planeThrough returns the plane through three points, or false when they
// are (nearly) collinear or coincident.
func planeThrough(p0, p1, p2 geom.Vec3) (Plane, bool) {
	e1 := p1.Sub(p0)
	e2 := p2.Sub(p0)
	n := e1.Cross(e2)
	scale := e1.Norm() * e2.Norm()
	norm := n.Norm()
	if scale == 0 || norm <= degenerateTolerance*scale {
		return Plane{}, false
	}
	n = n.Scale(1 / norm)
	return Plane{A: n.X, B: n.Y, C: n.Z, D: -n.Dot(p0)}.canonical(), true
}

// fitPlane returns the least-squares plane through the given points: the
// normal is the eigenvector of the smallest covariance eigenvalue. It
// reports false when the points do not span a plane.
func fitPlane(points []geom.Vec3, indices []int) (Plane, bool) {
	if len(indices) == 3 {
		return planeThrough(points[indices[0]], points[indices[1]], points[indices[2]])
	}
	if len(indices) < 3 {
		return Plane{}, false
	}

	var c geom.Vec3
	for _, i := range indices {
		c = c.Add(points[i])
	}
	c = c.Scale(1 / float64(len(indices)))

	var xx, xy, xz, yy, yz, zz float64
	for _, i := range indices {
		d := points[i].Sub(c)
		xx += d.X * d.X
		xy += d.X * d.Y
		xz += d.X * d.Z
		yy += d.Y * d.Y
		yz += d.Y * d.Z
		zz += d.Z * d.Z
	}
	cov := mat.NewSymDense(3, []float64{
		xx, xy, xz,
		xy, yy, yz,
		xz, yz, zz,
	})
	var eig mat.EigenSym
	if ok := eig.Factorize(cov, true); !ok {
		return Plane{}, false
	}
	vals := eig.Values(nil)
	// A plane needs two directions of real spread.
	if vals[1] <= degenerateTolerance*vals[2] {
		return Plane{}, false
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	n := geom.Vec3{X: vecs.At(0, 0), Y: vecs.At(1, 0), Z: vecs.At(2, 0)}.Normalize()
	return Plane{A: n.X, B: n.Y, C: n.Z, D: -n.Dot(c)}.canonical(), true
}
