package segmentation

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/scandiff/internal/cloud"
	"github.com/banshee-data/scandiff/internal/geom"
	"github.com/banshee-data/scandiff/internal/kdtree"
)

// Defaults for the density filters.
const (
	DefaultVoxelSize   = 0.05
	DefaultNbNeighbors = 20
	DefaultStdRatio    = 2.0

	filterChunkSize = 4096
)

type voxelKey [3]int64

type voxelAccum struct {
	sum     geom.Vec3
	color   cloud.Color
	normal  geom.Vec3
	members int
}

// VoxelDownsample replaces the points of every occupied voxel of edge
// voxelSize with their centroid. Colours are averaged and normals averaged
// then renormalised. Output points are ordered by the first input point
// that fell into each voxel.
func VoxelDownsample(ps *cloud.PointSet, voxelSize float64) (*cloud.PointSet, error) {
	if err := cloud.RequireNonEmpty(ps, "downsample"); err != nil {
		return nil, err
	}
	if voxelSize <= 0 {
		return nil, fmt.Errorf("%w: voxel size must be positive, got %f", cloud.ErrInvalidInput, voxelSize)
	}

	origin := cloud.Bounds(ps.Points, nil).Min.Sub(geom.Vec3{X: voxelSize / 2, Y: voxelSize / 2, Z: voxelSize / 2})
	slots := make(map[voxelKey]int, ps.Len()/4)
	var accums []voxelAccum

	hasColors, hasNormals := ps.HasColors(), ps.HasNormals()
	for i, p := range ps.Points {
		rel := p.Sub(origin)
		key := voxelKey{
			int64(math.Floor(rel.X / voxelSize)),
			int64(math.Floor(rel.Y / voxelSize)),
			int64(math.Floor(rel.Z / voxelSize)),
		}
		slot, ok := slots[key]
		if !ok {
			slot = len(accums)
			slots[key] = slot
			accums = append(accums, voxelAccum{})
		}
		a := &accums[slot]
		a.sum = a.sum.Add(p)
		a.members++
		if hasColors {
			c := ps.Colors[i]
			a.color = cloud.Color{R: a.color.R + c.R, G: a.color.G + c.G, B: a.color.B + c.B}
		}
		if hasNormals {
			a.normal = a.normal.Add(ps.Normals[i])
		}
	}

	out := &cloud.PointSet{Points: make([]geom.Vec3, len(accums))}
	if hasColors {
		out.Colors = make([]cloud.Color, len(accums))
	}
	if hasNormals {
		out.Normals = make([]geom.Vec3, len(accums))
	}
	for i, a := range accums {
		inv := 1 / float64(a.members)
		out.Points[i] = a.sum.Scale(inv)
		if hasColors {
			out.Colors[i] = cloud.Color{R: a.color.R * inv, G: a.color.G * inv, B: a.color.B * inv}
		}
		if hasNormals {
			out.Normals[i] = a.normal.Normalize()
		}
	}
	logf("voxel %.3f m: %d -> %d points", voxelSize, ps.Len(), out.Len())
	return out, nil
}

// OutlierResult partitions a cloud by local point density.
type OutlierResult struct {
	Inliers  []int
	Outliers []int
	// MeanDistance and StdDistance describe the per-point mean neighbour
	// distance across the cloud; Threshold is MeanDistance + ratio*StdDistance.
	MeanDistance float64
	StdDistance  float64
	Threshold    float64
}

// RemoveStatisticalOutliers flags points whose mean distance to their
// nbNeighbors nearest neighbours (the point itself included) exceeds the
// cloud-wide mean by more than stdRatio sample standard deviations.
func RemoveStatisticalOutliers(ctx context.Context, ps *cloud.PointSet, nbNeighbors int, stdRatio float64) (*OutlierResult, error) {
	if err := cloud.RequireNonEmpty(ps, "outlier removal"); err != nil {
		return nil, err
	}
	if nbNeighbors <= 0 {
		return nil, fmt.Errorf("%w: neighbour count must be positive, got %d", cloud.ErrInvalidInput, nbNeighbors)
	}
	if stdRatio < 0 {
		return nil, fmt.Errorf("%w: std ratio must be non-negative, got %f", cloud.ErrInvalidInput, stdRatio)
	}

	start := time.Now()
	tree, err := kdtree.Build(ps.Points)
	if err != nil {
		return nil, err
	}

	means := make([]float64, ps.Len())
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for lo := 0; lo < len(means); lo += filterChunkSize {
		hi := min(lo+filterChunkSize, len(means))
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for i := lo; i < hi; i++ {
				nbrs := tree.KNearest(ps.Points[i], nbNeighbors)
				var sum float64
				for _, nb := range nbrs {
					sum += math.Sqrt(nb.Dist2)
				}
				means[i] = sum / float64(len(nbrs))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &OutlierResult{}
	res.MeanDistance, res.StdDistance = stat.MeanStdDev(means, nil)
	if math.IsNaN(res.StdDistance) {
		res.StdDistance = 0
	}
	res.Threshold = res.MeanDistance + stdRatio*res.StdDistance
	for i, m := range means {
		if m <= res.Threshold {
			res.Inliers = append(res.Inliers, i)
		} else {
			res.Outliers = append(res.Outliers, i)
		}
	}
	logf("outlier removal (k=%d, ratio=%.1f): removed %d of %d points in %v",
		nbNeighbors, stdRatio, len(res.Outliers), ps.Len(), time.Since(start).Round(time.Millisecond))
	return res, nil
}
