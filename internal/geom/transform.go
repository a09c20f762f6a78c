package geom

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// RigidValidationTolerance is the tolerance for checking that the rotation
// block of a transform is orthonormal with determinant +1.
const RigidValidationTolerance = 0.01

// Transform is a 4x4 homogeneous transformation matrix.
// Layout is row-major: [m00,m01,m02,m03, m10,m11,m12,m13, m20,m21,m22,m23, m30,m31,m32,m33]
type Transform [16]float64

// Identity returns the 4x4 identity transform.
func Identity() Transform {
	return Transform{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}
}

// Translation returns a pure translation by (x, y, z).
func Translation(x, y, z float64) Transform {
	t := Identity()
	t[3], t[7], t[11] = x, y, z
	return t
}

// RotationZ returns a rotation of angleRad radians about the Z axis.
func RotationZ(angleRad float64) Transform {
	c, s := math.Cos(angleRad), math.Sin(angleRad)
	return Transform{
		c, -s, 0, 0,
		s, c, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// FromEulerXYZ builds a rigid transform from small-angle parameters
// (alpha, beta, gamma) about X, Y, Z and a translation. The rotation is
// R = Rz(gamma) * Ry(beta) * Rx(alpha).
func FromEulerXYZ(alpha, beta, gamma, tx, ty, tz float64) Transform {
	ca, sa := math.Cos(alpha), math.Sin(alpha)
	cb, sb := math.Cos(beta), math.Sin(beta)
	cg, sg := math.Cos(gamma), math.Sin(gamma)

	return Transform{
		cg * cb, -sg*ca + cg*sb*sa, sg*sa + cg*sb*ca, tx,
		sg * cb, cg*ca + sg*sb*sa, -cg*sa + sg*sb*ca, ty,
		-sb, cb * sa, cb * ca, tz,
		0, 0, 0, 1,
	}
}

// Apply transforms point p (w=1).
func (t Transform) Apply(p Vec3) Vec3 {
	return Vec3{
		t[0]*p.X + t[1]*p.Y + t[2]*p.Z + t[3],
		t[4]*p.X + t[5]*p.Y + t[6]*p.Z + t[7],
		t[8]*p.X + t[9]*p.Y + t[10]*p.Z + t[11],
	}
}

// ApplyDirection transforms a direction vector (w=0), ignoring translation.
func (t Transform) ApplyDirection(d Vec3) Vec3 {
	return Vec3{
		t[0]*d.X + t[1]*d.Y + t[2]*d.Z,
		t[4]*d.X + t[5]*d.Y + t[6]*d.Z,
		t[8]*d.X + t[9]*d.Y + t[10]*d.Z,
	}
}

// Mul returns t * o, i.e. o is applied first, then t.
func (t Transform) Mul(o Transform) Transform {
	var r Transform
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			var sum float64
			for k := 0; k < 4; k++ {
				sum += t[i*4+k] * o[k*4+j]
			}
			r[i*4+j] = sum
		}
	}
	return r
}

// Translation returns the translation component.
func (t Transform) Translation() Vec3 {
	return Vec3{t[3], t[7], t[11]}
}

// Inverse returns the inverse of t. Rigid transforms use the closed form
// [R^T | -R^T t]; anything else goes through a general LU inverse.
func (t Transform) Inverse() (Transform, error) {
	if IsRigid(t) {
		inv := Identity()
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				inv[i*4+j] = t[j*4+i]
			}
		}
		tr := t.Translation()
		inv[3] = -(inv[0]*tr.X + inv[1]*tr.Y + inv[2]*tr.Z)
		inv[7] = -(inv[4]*tr.X + inv[5]*tr.Y + inv[6]*tr.Z)
		inv[11] = -(inv[8]*tr.X + inv[9]*tr.Y + inv[10]*tr.Z)
		return inv, nil
	}

	m := mat.NewDense(4, 4, t[:])
	var inv mat.Dense
	if err := inv.Inverse(m); err != nil {
		return Transform{}, fmt.Errorf("transform is not invertible: %w", err)
	}
	var out Transform
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			out[i*4+j] = inv.At(i, j)
		}
	}
	return out, nil
}

// MaxAbsDiff returns the largest element-wise absolute difference.
func (t Transform) MaxAbsDiff(o Transform) float64 {
	var m float64
	for i := range t {
		if d := math.Abs(t[i] - o[i]); d > m {
			m = d
		}
	}
	return m
}

// RotationAngle returns the rotation angle (radians) encoded by the
// rotation block, derived from its trace.
func (t Transform) RotationAngle() float64 {
	c := (t[0] + t[5] + t[10] - 1) / 2
	if c > 1 {
		c = 1
	} else if c < -1 {
		c = -1
	}
	return math.Acos(c)
}

// IsRigid reports whether t is a valid rigid transform:
// orthonormal rotation block with det ≈ 1 and last row [0 0 0 1].
func IsRigid(t Transform) bool {
	r00, r01, r02 := t[0], t[1], t[2]
	r10, r11, r12 := t[4], t[5], t[6]
	r20, r21, r22 := t[8], t[9], t[10]

	det := r00*(r11*r22-r12*r21) - r01*(r10*r22-r12*r20) + r02*(r10*r21-r11*r20)
	if math.Abs(det-1.0) > RigidValidationTolerance {
		return false
	}

	// Columns must be unit length and mutually orthogonal.
	c0 := Vec3{r00, r10, r20}
	c1 := Vec3{r01, r11, r21}
	c2 := Vec3{r02, r12, r22}
	if math.Abs(c0.Norm()-1) > RigidValidationTolerance ||
		math.Abs(c1.Norm()-1) > RigidValidationTolerance ||
		math.Abs(c2.Norm()-1) > RigidValidationTolerance {
		return false
	}
	if math.Abs(c0.Dot(c1)) > RigidValidationTolerance ||
		math.Abs(c0.Dot(c2)) > RigidValidationTolerance ||
		math.Abs(c1.Dot(c2)) > RigidValidationTolerance {
		return false
	}

	if t[12] != 0 || t[13] != 0 || t[14] != 0 || math.Abs(t[15]-1.0) > 0.001 {
		return false
	}
	return true
}

// String formats the matrix as four bracketed rows.
func (t Transform) String() string {
	return fmt.Sprintf("[%.6f %.6f %.6f %.6f]\n[%.6f %.6f %.6f %.6f]\n[%.6f %.6f %.6f %.6f]\n[%.6f %.6f %.6f %.6f]",
		t[0], t[1], t[2], t[3], t[4], t[5], t[6], t[7],
		t[8], t[9], t[10], t[11], t[12], t[13], t[14], t[15])
}
