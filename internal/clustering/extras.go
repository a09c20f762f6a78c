package clustering

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/scandiff/internal/cloud"
)

// Highlight colours used by HighlightCluster.
var (
	HighlightColor = cloud.Color{R: 1}
	DimmedColor    = cloud.Color{R: 0.8, G: 0.8, B: 0.8}
)

// Stats describes a label array.
type Stats struct {
	NumClusters  int
	NumNoise     int
	NumClustered int
	Sizes        []int
	MeanSize     float64
	MaxSize      int
	MinSize      int
}

// ComputeStats counts clusters, noise and cluster sizes in labels. The
// cluster count is the largest label plus one.
func ComputeStats(labels []int) Stats {
	var s Stats
	for _, l := range labels {
		s.NumClusters = max(s.NumClusters, l+1)
	}
	s.Sizes = make([]int, s.NumClusters)
	for _, l := range labels {
		if l < 0 {
			s.NumNoise++
			continue
		}
		s.Sizes[l]++
	}
	s.NumClustered = len(labels) - s.NumNoise
	if s.NumClusters == 0 {
		return s
	}

	sizes := make([]float64, len(s.Sizes))
	for i, n := range s.Sizes {
		sizes[i] = float64(n)
	}
	s.MeanSize = stat.Mean(sizes, nil)
	s.MaxSize = int(floats.Max(sizes))
	s.MinSize = int(floats.Min(sizes))
	return s
}

// Indices returns the points labelled id, ascending.
func Indices(labels []int, id int) []int {
	var out []int
	for i, l := range labels {
		if l == id {
			out = append(out, i)
		}
	}
	return out
}

// ColorizeByClusters returns a copy of ps with each cluster in a distinct
// palette colour and noise in grey.
func ColorizeByClusters(ps *cloud.PointSet, labels []int) *cloud.PointSet {
	colors := make([]cloud.Color, ps.Len())
	for i := range colors {
		if i < len(labels) && labels[i] >= 0 {
			colors[i] = cloud.PaletteColor(labels[i])
		} else {
			colors[i] = cloud.Grey
		}
	}
	return ps.WithColors(colors)
}

// HighlightCluster returns a copy of ps with cluster id in red and every
// other point light grey.
func HighlightCluster(ps *cloud.PointSet, labels []int, id int) *cloud.PointSet {
	colors := make([]cloud.Color, ps.Len())
	for i := range colors {
		if i < len(labels) && labels[i] == id {
			colors[i] = HighlightColor
		} else {
			colors[i] = DimmedColor
		}
	}
	return ps.WithColors(colors)
}

// Isolate returns the points of cluster id as a new PointSet.
func Isolate(ps *cloud.PointSet, labels []int, id int) *cloud.PointSet {
	return ps.Select(Indices(labels, id))
}
