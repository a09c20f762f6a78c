package cloud

import "math"

// rdYlBuStops approximates the reversed RdYlBu ramp: blue (low) through
// pale yellow to red (high).
var rdYlBuStops = []Color{
	{0.192, 0.212, 0.584},
	{0.455, 0.678, 0.820},
	{1.000, 1.000, 0.749},
	{0.957, 0.427, 0.263},
	{0.647, 0.000, 0.149},
}

// Ramp maps t in [0, 1] onto the ramp. Values outside are clamped and NaN
// maps to the low end.
func Ramp(t float64) Color {
	if math.IsNaN(t) || t <= 0 {
		return rdYlBuStops[0]
	}
	if t >= 1 {
		return rdYlBuStops[len(rdYlBuStops)-1]
	}
	pos := t * float64(len(rdYlBuStops)-1)
	i := int(pos)
	f := pos - float64(i)
	a, b := rdYlBuStops[i], rdYlBuStops[i+1]
	return Color{
		R: a.R + (b.R-a.R)*f,
		G: a.G + (b.G-a.G)*f,
		B: a.B + (b.B-a.B)*f,
	}
}

// ColorizeScalar returns a copy of ps coloured by values (one per point).
// Signed values use a diverging scale centred on zero; unsigned values are
// stretched from their minimum to their maximum. Constant input maps every
// point to the low end (or the centre for signed zero).
func ColorizeScalar(ps *PointSet, values []float64, signed bool) *PointSet {
	colors := make([]Color, len(ps.Points))
	if len(values) == 0 {
		return ps.WithColors(colors)
	}

	lo, hi := values[0], values[0]
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}

	for i := range colors {
		if i >= len(values) {
			break
		}
		var t float64
		if signed {
			maxAbs := math.Max(math.Abs(lo), math.Abs(hi))
			if maxAbs > 0 {
				t = (values[i] + maxAbs) / (2 * maxAbs)
			} else {
				t = 0.5
			}
		} else if hi > lo {
			t = (values[i] - lo) / (hi - lo)
		}
		colors[i] = Ramp(t)
	}
	return ps.WithColors(colors)
}

// tab20 is a qualitative palette for labelling discrete groups.
var tab20 = []Color{
	{0.122, 0.467, 0.706}, {0.682, 0.780, 0.910}, {1.000, 0.498, 0.055}, {1.000, 0.733, 0.471},
	{0.173, 0.627, 0.173}, {0.596, 0.875, 0.541}, {0.839, 0.153, 0.157}, {1.000, 0.596, 0.588},
	{0.580, 0.404, 0.741}, {0.773, 0.690, 0.835}, {0.549, 0.337, 0.294}, {0.769, 0.612, 0.580},
	{0.890, 0.467, 0.761}, {0.969, 0.714, 0.824}, {0.498, 0.498, 0.498}, {0.780, 0.780, 0.780},
	{0.737, 0.741, 0.133}, {0.859, 0.859, 0.553}, {0.090, 0.745, 0.812}, {0.620, 0.855, 0.898},
}

// PaletteColor returns a distinct colour for group id (cycling after 20).
func PaletteColor(id int) Color {
	if id < 0 {
		id = -id
	}
	return tab20[id%len(tab20)]
}

// Grey is used for noise and ground points.
var Grey = Color{R: 0.5, G: 0.5, B: 0.5}
