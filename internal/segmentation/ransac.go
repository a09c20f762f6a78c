package segmentation

import (
	"context"
	"fmt"
	"math/rand/v2"
	"runtime"
	"slices"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/scandiff/internal/cloud"
	"github.com/banshee-data/scandiff/internal/monitoring"
)

// Default RANSAC parameters.
const (
	DefaultDistanceThreshold = 0.2
	DefaultSampleSize        = 3
	DefaultNumIterations     = 1000
	DefaultSeed              = 1
)

var logf = monitoring.Component("RANSAC")

// Params configures SegmentPlane.
type Params struct {
	// DistanceThreshold is the largest perpendicular distance (metres) at
	// which a point still counts as on the plane.
	DistanceThreshold float64
	// SampleSize is the number of distinct points drawn per trial. Three
	// gives the exact plane through them; more gives a least-squares fit.
	SampleSize    int
	NumIterations int
	// Seed fixes the sample sequence. Equal seeds give equal results
	// regardless of scheduling.
	Seed uint64
}

// DefaultParams returns the ground-removal defaults.
func DefaultParams() Params {
	return Params{
		DistanceThreshold: DefaultDistanceThreshold,
		SampleSize:        DefaultSampleSize,
		NumIterations:     DefaultNumIterations,
		Seed:              DefaultSeed,
	}
}

// Validate rejects parameters that cannot define a plane search.
func (p Params) Validate() error {
	if p.DistanceThreshold <= 0 {
		return fmt.Errorf("%w: distance threshold must be positive, got %f", cloud.ErrInvalidInput, p.DistanceThreshold)
	}
	if p.SampleSize < 3 {
		return fmt.Errorf("%w: a plane sample needs at least 3 points, got %d", cloud.ErrInvalidInput, p.SampleSize)
	}
	if p.NumIterations <= 0 {
		return fmt.Errorf("%w: iterations must be positive, got %d", cloud.ErrInvalidInput, p.NumIterations)
	}
	return nil
}

// Result partitions a cloud by the best plane found.
type Result struct {
	// Plane is the zero Plane when every trial was degenerate.
	Plane Plane
	// Inliers and Outliers are ascending and together cover every index.
	Inliers    []int
	Outliers   []int
	NumInliers int
	// BestTrial is the index of the winning trial, or -1.
	BestTrial int
	// DegenerateTrials counts samples rejected as collinear.
	DegenerateTrials int
}

// String summarises the partition.
func (r *Result) String() string {
	return fmt.Sprintf("SegmentationResult(inliers=%d, outliers=%d)", r.NumInliers, len(r.Outliers))
}

// trial is one sampled hypothesis and its inlier count (-1 if degenerate).
type trial struct {
	plane Plane
	count int
}

// SegmentPlane finds the plane supported by the most points within
// DistanceThreshold. Samples are drawn up front from a generator seeded
// with params.Seed, trials are scored in parallel, and the winner is the
// highest count with ties going to the lowest trial index, so the result
// depends only on the input and the seed.
func SegmentPlane(ctx context.Context, ps *cloud.PointSet, params Params) (*Result, error) {
	if err := cloud.RequireNonEmpty(ps, "segmentation"); err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	n := ps.Len()
	if params.SampleSize > n {
		return nil, fmt.Errorf("%w: sample size %d exceeds %d points", cloud.ErrInvalidInput, params.SampleSize, n)
	}

	start := time.Now()
	samples := drawSamples(n, params.SampleSize, params.NumIterations, params.Seed)
	trials := make([]trial, params.NumIterations)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for t := range trials {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			sample := samples[t*params.SampleSize : (t+1)*params.SampleSize]
			plane, ok := fitPlane(ps.Points, sample)
			if !ok {
				trials[t] = trial{count: -1}
				return nil
			}
			count := 0
			for _, p := range ps.Points {
				if plane.Distance(p) <= params.DistanceThreshold {
					count++
				}
			}
			trials[t] = trial{plane: plane, count: count}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	best, degenerate := -1, 0
	for t, tr := range trials {
		if tr.count < 0 {
			degenerate++
			continue
		}
		if best < 0 || tr.count > trials[best].count {
			best = t
		}
	}

	res := &Result{BestTrial: best, DegenerateTrials: degenerate}
	if best < 0 {
		logf("all %d samples were degenerate; no plane", params.NumIterations)
		res.Outliers = allIndices(n)
		return res, nil
	}

	res.Plane = trials[best].plane
	inliers := roaring.New()
	for i, p := range ps.Points {
		if res.Plane.Distance(p) <= params.DistanceThreshold {
			inliers.Add(uint32(i))
		}
	}
	outliers := roaring.Flip(inliers, 0, uint64(n))
	res.Inliers = toInts(inliers)
	res.Outliers = toInts(outliers)
	res.NumInliers = len(res.Inliers)

	monitoring.ObserveStage(monitoring.StageSegmentation, start, n)
	logf("plane %s: %d/%d inliers (trial %d, %d degenerate) in %v",
		res.Plane, res.NumInliers, n, best, degenerate, time.Since(start).Round(time.Millisecond))
	return res, nil
}

// drawSamples returns numTrials consecutive groups of size distinct indices
// in [0, n).
func drawSamples(n, size, numTrials int, seed uint64) []int {
	rng := rand.New(rand.NewPCG(seed, seed^0xda3e39cb94b95bdb))
	out := make([]int, size*numTrials)
	for t := 0; t < numTrials; t++ {
		group := out[t*size : (t+1)*size]
		for k := 0; k < size; {
			candidate := rng.IntN(n)
			if !slices.Contains(group[:k], candidate) {
				group[k] = candidate
				k++
			}
		}
	}
	return out
}

func toInts(b *roaring.Bitmap) []int {
	out := make([]int, 0, b.GetCardinality())
	it := b.Iterator()
	for it.HasNext() {
		out = append(out, int(it.Next()))
	}
	return out
}

func allIndices(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
