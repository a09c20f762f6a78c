// Package cloud defines the PointSet exchanged between the scan loader and
// every analysis stage.
//
// A PointSet is index-stable: index i refers to the same point until a new
// PointSet is derived. Stages never mutate a PointSet they were handed;
// colouring, filtering, transforming and normal estimation all return a new
// value.
package cloud

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"

	"github.com/banshee-data/scandiff/internal/geom"
)

// ErrInvalidInput is wrapped by every error that reports unusable caller
// input (empty clouds, non-positive parameters, misaligned channels).
var ErrInvalidInput = errors.New("invalid input")

// Color is an RGB triple with components in [0, 1].
type Color struct {
	R, G, B float64
}

// PointSet is an ordered set of 3-D points with optional per-point colour
// and unit normal channels. When present, Colors and Normals have exactly
// len(Points) entries aligned by index.
type PointSet struct {
	Points  []geom.Vec3
	Colors  []Color
	Normals []geom.Vec3
}

// New validates the channel lengths and returns a PointSet that owns the
// given slices.
func New(points []geom.Vec3, colors []Color, normals []geom.Vec3) (*PointSet, error) {
	ps := &PointSet{Points: points, Colors: colors, Normals: normals}
	if err := ps.Validate(); err != nil {
		return nil, err
	}
	return ps, nil
}

// FromPoints wraps a bare coordinate slice.
func FromPoints(points []geom.Vec3) *PointSet {
	return &PointSet{Points: points}
}

// Validate checks the channel-alignment invariant.
func (ps *PointSet) Validate() error {
	if ps == nil {
		return fmt.Errorf("%w: nil point set", ErrInvalidInput)
	}
	n := len(ps.Points)
	if ps.Colors != nil && len(ps.Colors) != n {
		return fmt.Errorf("%w: %d colours for %d points", ErrInvalidInput, len(ps.Colors), n)
	}
	if ps.Normals != nil && len(ps.Normals) != n {
		return fmt.Errorf("%w: %d normals for %d points", ErrInvalidInput, len(ps.Normals), n)
	}
	for i, p := range ps.Points {
		if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsNaN(p.Z) ||
			math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) || math.IsInf(p.Z, 0) {
			return fmt.Errorf("%w: non-finite coordinate at index %d", ErrInvalidInput, i)
		}
	}
	return nil
}

// RequireNonEmpty returns an ErrInvalidInput error naming role when ps has
// no points or is misaligned.
func RequireNonEmpty(ps *PointSet, role string) error {
	if ps == nil || len(ps.Points) == 0 {
		return fmt.Errorf("%w: %s cloud is empty", ErrInvalidInput, role)
	}
	if err := ps.Validate(); err != nil {
		return fmt.Errorf("%s cloud: %w", role, err)
	}
	return nil
}

// Len returns the number of points.
func (ps *PointSet) Len() int {
	if ps == nil {
		return 0
	}
	return len(ps.Points)
}

// HasColors reports whether the colour channel is populated.
func (ps *PointSet) HasColors() bool { return ps != nil && len(ps.Colors) > 0 && len(ps.Colors) == len(ps.Points) }

// HasNormals reports whether the normal channel is populated.
func (ps *PointSet) HasNormals() bool {
	return ps != nil && len(ps.Normals) > 0 && len(ps.Normals) == len(ps.Points)
}

// Clone returns a deep copy.
func (ps *PointSet) Clone() *PointSet {
	out := &PointSet{Points: append([]geom.Vec3(nil), ps.Points...)}
	if ps.Colors != nil {
		out.Colors = append([]Color(nil), ps.Colors...)
	}
	if ps.Normals != nil {
		out.Normals = append([]geom.Vec3(nil), ps.Normals...)
	}
	return out
}

// WithColors returns a copy of ps whose colour channel is colors. Points
// and normals are shared with ps, which is safe because neither is mutated.
func (ps *PointSet) WithColors(colors []Color) *PointSet {
	return &PointSet{Points: ps.Points, Colors: colors, Normals: ps.Normals}
}

// WithNormals returns a copy of ps whose normal channel is normals.
func (ps *PointSet) WithNormals(normals []geom.Vec3) *PointSet {
	return &PointSet{Points: ps.Points, Colors: ps.Colors, Normals: normals}
}

// Select returns a new PointSet holding the given indices in order.
func (ps *PointSet) Select(indices []int) *PointSet {
	out := &PointSet{Points: make([]geom.Vec3, len(indices))}
	if ps.HasColors() {
		out.Colors = make([]Color, len(indices))
	}
	if ps.HasNormals() {
		out.Normals = make([]geom.Vec3, len(indices))
	}
	for k, i := range indices {
		out.Points[k] = ps.Points[i]
		if out.Colors != nil {
			out.Colors[k] = ps.Colors[i]
		}
		if out.Normals != nil {
			out.Normals[k] = ps.Normals[i]
		}
	}
	return out
}

// Transform returns a transformed copy of ps. Normals are rotated by the
// linear part of t and renormalised; colours are shared.
func (ps *PointSet) Transform(t geom.Transform) *PointSet {
	out := &PointSet{Points: make([]geom.Vec3, len(ps.Points)), Colors: ps.Colors}
	for i, p := range ps.Points {
		out.Points[i] = t.Apply(p)
	}
	if ps.HasNormals() {
		out.Normals = make([]geom.Vec3, len(ps.Normals))
		for i, n := range ps.Normals {
			out.Normals[i] = t.ApplyDirection(n).Normalize()
		}
	}
	return out
}

// PaintUniform returns a copy with every point coloured c.
func (ps *PointSet) PaintUniform(c Color) *PointSet {
	colors := make([]Color, len(ps.Points))
	for i := range colors {
		colors[i] = c
	}
	return ps.WithColors(colors)
}

// Centroid returns the mean of all points. The zero vector is returned for
// an empty set.
func (ps *PointSet) Centroid() geom.Vec3 {
	return Centroid(ps.Points, nil)
}

// Centroid returns the mean of points[indices], or of all points when
// indices is nil.
func Centroid(points []geom.Vec3, indices []int) geom.Vec3 {
	var sum geom.Vec3
	n := 0
	if indices == nil {
		for _, p := range points {
			sum = sum.Add(p)
		}
		n = len(points)
	} else {
		for _, i := range indices {
			sum = sum.Add(points[i])
		}
		n = len(indices)
	}
	if n == 0 {
		return geom.Vec3{}
	}
	return sum.Scale(1 / float64(n))
}

// ContentHash returns a hash of the coordinates, used to key shared
// spatial indexes. Colours and normals do not affect queries and are not
// hashed.
func (ps *PointSet) ContentHash() uint64 {
	d := xxhash.New()
	var buf [24]byte
	for _, p := range ps.Points {
		binary.LittleEndian.PutUint64(buf[0:8], math.Float64bits(p.X))
		binary.LittleEndian.PutUint64(buf[8:16], math.Float64bits(p.Y))
		binary.LittleEndian.PutUint64(buf[16:24], math.Float64bits(p.Z))
		_, _ = d.Write(buf[:])
	}
	return d.Sum64()
}
