// Package clustering groups points of significant change into candidate
// defects with DBSCAN and summarises each group.
package clustering

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/banshee-data/scandiff/internal/cloud"
	"github.com/banshee-data/scandiff/internal/geom"
	"github.com/banshee-data/scandiff/internal/kdtree"
	"github.com/banshee-data/scandiff/internal/monitoring"
)

// Noise is the label of points that belong to no cluster.
const Noise = -1

// unvisited marks subset points DBSCAN has not reached yet.
const unvisited = -2

// Default DBSCAN parameters.
const (
	DefaultEps             = 0.5
	DefaultMinSamples      = 10
	DefaultFilterThreshold = 0.1
)

var logf = monitoring.Component("DBSCAN")

// Params configures Cluster.
type Params struct {
	Eps float64 // Neighbourhood radius in metres
	// MinSamples is the neighbourhood size (the point itself included) that
	// makes a point a core point.
	MinSamples int

	// FilterDistances, when non-nil, restricts clustering to points whose
	// absolute value exceeds FilterThreshold. It must be index-aligned with
	// the cloud; excluded points are labelled Noise without being visited.
	FilterDistances []float64
	FilterThreshold float64
}

// DefaultParams returns the defect-detection defaults without a filter.
func DefaultParams() Params {
	return Params{Eps: DefaultEps, MinSamples: DefaultMinSamples, FilterThreshold: DefaultFilterThreshold}
}

// Validate rejects parameters DBSCAN cannot run with.
func (p Params) Validate() error {
	if p.Eps <= 0 || math.IsNaN(p.Eps) {
		return fmt.Errorf("%w: eps must be positive, got %f", cloud.ErrInvalidInput, p.Eps)
	}
	if p.MinSamples <= 0 {
		return fmt.Errorf("%w: min_samples must be positive, got %d", cloud.ErrInvalidInput, p.MinSamples)
	}
	if p.FilterThreshold < 0 {
		return fmt.Errorf("%w: filter threshold must be non-negative, got %f", cloud.ErrInvalidInput, p.FilterThreshold)
	}
	return nil
}

// ClusterInfo describes one cluster.
type ClusterInfo struct {
	ID int
	// Indices are the member point indices, ascending.
	Indices  []int
	BBox     cloud.BoundingBox
	Volume   float64 // bounding-box volume in m³
	Centroid geom.Vec3
}

// NumPoints returns the member count.
func (c ClusterInfo) NumPoints() int { return len(c.Indices) }

func (c ClusterInfo) String() string {
	return fmt.Sprintf("Cluster %d: %d points, volume=%.3fm³", c.ID, len(c.Indices), c.Volume)
}

// Result is a label assignment and its derived cluster summaries.
type Result struct {
	// Labels holds one cluster id or Noise per input point.
	Labels     []int
	Eps        float64
	MinSamples int

	NumClusters  int
	NumNoise     int
	NumClustered int
	// Sizes maps cluster id to member count.
	Sizes []int
	// Clusters is sorted by descending size, then ascending id.
	Clusters []ClusterInfo
}

// Summary renders the result, e.g.
// "2 clusters | 1,234 points clustered | 56 noise points".
func (r *Result) Summary() string {
	if r.NumClusters == 0 {
		return "No clusters found"
	}
	return fmt.Sprintf("%d clusters | %s points clustered | %s noise points",
		r.NumClusters, cloud.FormatWithCommas(int64(r.NumClustered)), cloud.FormatWithCommas(int64(r.NumNoise)))
}

func (r *Result) String() string {
	return fmt.Sprintf("ClusteringResult(%s)", r.Summary())
}

// Cluster runs DBSCAN over ps (or its filtered subset). Cluster ids are
// assigned from 0 in order of discovery while scanning points by
// ascending index.
func Cluster(ctx context.Context, ps *cloud.PointSet, params Params) (*Result, error) {
	if err := cloud.RequireNonEmpty(ps, "clustering"); err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if params.FilterDistances != nil && len(params.FilterDistances) != ps.Len() {
		return nil, fmt.Errorf("%w: %d filter distances for %d points",
			cloud.ErrInvalidInput, len(params.FilterDistances), ps.Len())
	}

	start := time.Now()
	subset := selectSubset(ps.Len(), params)

	labels := make([]int, ps.Len())
	for i := range labels {
		labels[i] = Noise
	}

	numClusters := 0
	if len(subset) > 0 {
		var err error
		numClusters, err = dbscan(ctx, ps.Points, subset, labels, params)
		if err != nil {
			return nil, err
		}
	}

	res := newResult(ps.Points, labels, numClusters, params)
	monitoring.ObserveStage(monitoring.StageClustering, start, len(subset))
	logf("%s (eps=%.3f, min_samples=%d, %d of %d points considered) in %v",
		res.Summary(), params.Eps, params.MinSamples, len(subset), ps.Len(), time.Since(start).Round(time.Millisecond))
	return res, nil
}

// selectSubset returns the ascending indices to cluster.
func selectSubset(n int, params Params) []int {
	mask := roaring.New()
	if params.FilterDistances == nil {
		mask.AddRange(0, uint64(n))
	} else {
		for i, d := range params.FilterDistances {
			if math.Abs(d) > params.FilterThreshold {
				mask.Add(uint32(i))
			}
		}
	}
	subset := make([]int, 0, mask.GetCardinality())
	it := mask.Iterator()
	for it.HasNext() {
		subset = append(subset, int(it.Next()))
	}
	return subset
}

// dbscan labels the subset in place and returns the cluster count.
func dbscan(ctx context.Context, points []geom.Vec3, subset []int, labels []int, params Params) (int, error) {
	sub := make([]geom.Vec3, len(subset))
	for k, i := range subset {
		sub[k] = points[i]
	}
	tree, err := kdtree.Build(sub)
	if err != nil {
		return 0, err
	}

	// Labels local to the subset.
	local := make([]int, len(sub))
	for k := range local {
		local[k] = unvisited
	}

	clusterID := 0
	for k := range sub {
		if k%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
		}
		if local[k] != unvisited {
			continue
		}
		neighbors := tree.Radius(sub[k], params.Eps)
		if len(neighbors) < params.MinSamples {
			local[k] = Noise
			continue
		}
		expandCluster(sub, tree, local, k, neighbors, clusterID, params)
		clusterID++
	}

	for k, i := range subset {
		labels[i] = local[k]
	}
	return clusterID, nil
}

// expandCluster grows a cluster from a core seed through every
// density-reachable point. Noise reached here becomes a border point.
func expandCluster(sub []geom.Vec3, tree *kdtree.Tree, local []int, seed int, neighbors []int, clusterID int, params Params) {
	local[seed] = clusterID

	queue := claim(local, neighbors, clusterID, make([]int, 0, len(neighbors)))
	for j := 0; j < len(queue); j++ {
		next := tree.Radius(sub[queue[j]], params.Eps)
		if len(next) >= params.MinSamples {
			queue = claim(local, next, clusterID, queue)
		}
	}
}

// claim labels the unvisited and noise points of neighbors with clusterID
// and queues the unvisited ones for expansion. Noise points are already
// known not to be core points, so each point is queued at most once.
func claim(local, neighbors []int, clusterID int, queue []int) []int {
	for _, n := range neighbors {
		switch local[n] {
		case unvisited:
			local[n] = clusterID
			queue = append(queue, n)
		case Noise:
			local[n] = clusterID
		}
	}
	return queue
}

// newResult derives counts and ClusterInfo from a label array.
func newResult(points []geom.Vec3, labels []int, numClusters int, params Params) *Result {
	res := &Result{
		Labels:      labels,
		Eps:         params.Eps,
		MinSamples:  params.MinSamples,
		NumClusters: numClusters,
		Sizes:       make([]int, numClusters),
	}
	members := make([][]int, numClusters)
	for i, l := range labels {
		if l < 0 {
			res.NumNoise++
			continue
		}
		members[l] = append(members[l], i)
	}
	res.NumClustered = len(labels) - res.NumNoise

	res.Clusters = make([]ClusterInfo, 0, numClusters)
	for id, idx := range members {
		res.Sizes[id] = len(idx)
		if len(idx) == 0 {
			continue
		}
		res.Clusters = append(res.Clusters, newClusterInfo(points, id, idx))
	}
	slices.SortStableFunc(res.Clusters, func(a, b ClusterInfo) int {
		return cmp.Compare(len(b.Indices), len(a.Indices))
	})
	return res
}

func newClusterInfo(points []geom.Vec3, id int, indices []int) ClusterInfo {
	bbox := cloud.Bounds(points, indices)
	return ClusterInfo{
		ID:       id,
		Indices:  indices,
		BBox:     bbox,
		Volume:   bbox.Volume(),
		Centroid: cloud.Centroid(points, indices),
	}
}

// ExtractClusterInfo recomputes the cluster summaries for an arbitrary
// label array over ps, sorted by descending size.
func ExtractClusterInfo(ps *cloud.PointSet, labels []int) []ClusterInfo {
	numClusters := 0
	for _, l := range labels {
		numClusters = max(numClusters, l+1)
	}
	return newResult(ps.Points, labels, numClusters, Params{}).Clusters
}
