// Package change measures how far each point of one scan lies from the
// surface of another, and classifies the result into erosion and
// deposition.
package change

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/scandiff/internal/cloud"
	"github.com/banshee-data/scandiff/internal/kdtree"
	"github.com/banshee-data/scandiff/internal/monitoring"
)

// DefaultThreshold is the distance (metres) below which a point counts as
// unchanged.
const DefaultThreshold = 0.05

const distanceChunkSize = 4096

var logf = monitoring.Component("ChangeDetection")

// Result holds one distance per source point and statistics computed once
// at construction.
type Result struct {
	// Distances is index-aligned with the source cloud.
	Distances []float64
	// Nearest holds the matched reference index per source point.
	Nearest []int
	// Signed is true when distances were projected on reference normals:
	// negative is loss (erosion), positive is gain (deposition).
	Signed bool

	Mean   float64
	Std    float64 // population standard deviation
	Min    float64
	Max    float64
	Median float64
}

// NewResult computes the statistics for distances. It panics on an empty
// slice; Compute never produces one.
func NewResult(distances []float64, signed bool) *Result {
	r := &Result{Distances: distances, Signed: signed}
	r.Mean, r.Std = stat.PopMeanStdDev(distances, nil)
	r.Min = floats.Min(distances)
	r.Max = floats.Max(distances)
	r.Median = median(distances)
	return r
}

// median averages the two middle values for even lengths.
func median(values []float64) float64 {
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// Compute finds, for every source point, its nearest reference point and
// records the distance between them. When useNormalsForSigned is set and
// both clouds carry normals the distance is signed: (p - q) · n_q.
// Otherwise it is the Euclidean distance.
func Compute(ctx context.Context, source, reference *cloud.PointSet, useNormalsForSigned bool) (*Result, error) {
	if err := cloud.RequireNonEmpty(reference, "reference"); err != nil {
		return nil, err
	}
	tree, err := kdtree.Build(reference.Points)
	if err != nil {
		return nil, err
	}
	return ComputeWithIndex(ctx, source, reference, tree, useNormalsForSigned)
}

// ComputeWithIndex is Compute with a caller-built index over
// reference.Points.
func ComputeWithIndex(ctx context.Context, source, reference *cloud.PointSet, refIndex *kdtree.Tree, useNormalsForSigned bool) (*Result, error) {
	if err := cloud.RequireNonEmpty(source, "source"); err != nil {
		return nil, err
	}
	if err := cloud.RequireNonEmpty(reference, "reference"); err != nil {
		return nil, err
	}
	if refIndex == nil || refIndex.Len() != reference.Len() {
		return nil, fmt.Errorf("%w: reference index does not match reference cloud", cloud.ErrInvalidInput)
	}

	start := time.Now()
	signed := useNormalsForSigned && source.HasNormals() && reference.HasNormals()
	distances := make([]float64, source.Len())
	nearest := make([]int, source.Len())

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for lo := 0; lo < len(distances); lo += distanceChunkSize {
		hi := min(lo+distanceChunkSize, len(distances))
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for i := lo; i < hi; i++ {
				p := source.Points[i]
				j, d2 := refIndex.Nearest(p)
				nearest[i] = j
				if signed {
					distances[i] = p.Sub(reference.Points[j]).Dot(reference.Normals[j])
				} else {
					distances[i] = math.Sqrt(d2)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := NewResult(distances, signed)
	res.Nearest = nearest
	monitoring.ObserveStage(monitoring.StageChange, start, source.Len())
	logf("%s signed=%t over %d points in %v", res, signed, source.Len(), time.Since(start).Round(time.Millisecond))
	return res, nil
}

// StatisticsString returns the one-line statistics shown next to the
// distance histogram.
func (r *Result) StatisticsString() string {
	if r.Signed {
		return fmt.Sprintf("Mean: %.3fm | Std: %.3fm | Range: [%.3f, %.3f]m", r.Mean, r.Std, r.Min, r.Max)
	}
	return fmt.Sprintf("Mean: %.3fm | Std: %.3fm | Max: %.3fm", r.Mean, r.Std, r.Max)
}

// String summarises the result.
func (r *Result) String() string {
	return fmt.Sprintf("ChangeDetectionResult(mean=%.3fm, std=%.3fm)", r.Mean, r.Std)
}

// Significant returns the indices whose absolute distance exceeds
// threshold, ascending.
func (r *Result) Significant(threshold float64) []int {
	var out []int
	for i, d := range r.Distances {
		if math.Abs(d) > threshold {
			out = append(out, i)
		}
	}
	return out
}

// Colorize returns a copy of ps coloured by the distances: a diverging
// blue-to-red ramp centred on zero for signed results, a sequential ramp
// from the minimum to the maximum otherwise.
func Colorize(ps *cloud.PointSet, r *Result) *cloud.PointSet {
	return cloud.ColorizeScalar(ps, r.Distances, r.Signed)
}
