package cloud

import (
	"fmt"
	"math"

	"github.com/banshee-data/scandiff/internal/geom"
)

// BoundingBox is an axis-aligned box.
type BoundingBox struct {
	Min, Max geom.Vec3
}

// Size returns the box extent along each axis.
func (b BoundingBox) Size() geom.Vec3 { return b.Max.Sub(b.Min) }

// Volume returns the product of the extents.
func (b BoundingBox) Volume() float64 {
	s := b.Size()
	return s.X * s.Y * s.Z
}

// Contains reports whether p lies inside the box (inclusive).
func (b BoundingBox) Contains(p geom.Vec3) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// Bounds computes the bounding box of points[indices], or of all points
// when indices is nil. An empty input yields the zero box.
func Bounds(points []geom.Vec3, indices []int) BoundingBox {
	first := true
	var b BoundingBox
	visit := func(p geom.Vec3) {
		if first {
			b.Min, b.Max = p, p
			first = false
			return
		}
		b.Min.X = math.Min(b.Min.X, p.X)
		b.Min.Y = math.Min(b.Min.Y, p.Y)
		b.Min.Z = math.Min(b.Min.Z, p.Z)
		b.Max.X = math.Max(b.Max.X, p.X)
		b.Max.Y = math.Max(b.Max.Y, p.Y)
		b.Max.Z = math.Max(b.Max.Z, p.Z)
	}
	if indices == nil {
		for _, p := range points {
			visit(p)
		}
	} else {
		for _, i := range indices {
			visit(points[i])
		}
	}
	return b
}

// Metadata is the summary the loader hands over with each cloud.
type Metadata struct {
	Name       string
	PointCount int
	Bounds     BoundingBox
	HasColors  bool
	HasNormals bool
}

// Describe builds Metadata for ps.
func Describe(name string, ps *PointSet) Metadata {
	return Metadata{
		Name:       name,
		PointCount: ps.Len(),
		Bounds:     Bounds(ps.Points, nil),
		HasColors:  ps.HasColors(),
		HasNormals: ps.HasNormals(),
	}
}

// String returns a one-line human readable summary.
func (m Metadata) String() string {
	size := m.Bounds.Size()
	return fmt.Sprintf("%s: %s points, extent %.2f x %.2f x %.2f m, colours=%t normals=%t",
		m.Name, FormatWithCommas(int64(m.PointCount)), size.X, size.Y, size.Z, m.HasColors, m.HasNormals)
}

// FormatWithCommas formats an integer with thousands separators.
func FormatWithCommas(n int64) string {
	if n < 0 {
		return "-" + FormatWithCommas(-n)
	}
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	result := ""
	for i, char := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			result += ","
		}
		result += string(char)
	}
	return result
}
