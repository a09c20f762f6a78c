// Package pipeline chains the analysis stages: normals, ICP alignment,
// ground removal, change detection and clustering, and aggregates the
// outcome into a Summary.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/scandiff/internal/change"
	"github.com/banshee-data/scandiff/internal/cloud"
	"github.com/banshee-data/scandiff/internal/clustering"
	"github.com/banshee-data/scandiff/internal/kdtree"
	"github.com/banshee-data/scandiff/internal/monitoring"
	"github.com/banshee-data/scandiff/internal/registration"
	"github.com/banshee-data/scandiff/internal/segmentation"
	"github.com/banshee-data/scandiff/internal/timeutil"
)

var logf = monitoring.Component("Pipeline")

// Analysis is the full outcome of a run. Every PointSet is a new value;
// the caller's inputs are left untouched.
type Analysis struct {
	// Reference and Target are the inputs after optional preprocessing,
	// with normals.
	Reference *cloud.PointSet
	Target    *cloud.PointSet
	// Aligned is Target moved into the reference frame.
	Aligned *cloud.PointSet
	// Ground and NonGround split Aligned by the dominant plane.
	Ground    *cloud.PointSet
	NonGround *cloud.PointSet

	Registration  *registration.Result
	Segmentation  *segmentation.Result
	Change        *change.Result
	ChangeSummary change.Summary
	Clustering    *clustering.Result

	Summary Summary
}

// Runner executes analyses, sharing one index cache across runs so a
// reference scan compared against several targets is indexed once.
type Runner struct {
	cache *kdtree.Cache
	clock timeutil.Clock
}

// NewRunner creates a Runner with an empty index cache.
func NewRunner() *Runner {
	return NewRunnerWithClock(timeutil.RealClock{})
}

// NewRunnerWithClock creates a Runner that stamps summaries with clock.
func NewRunnerWithClock(clock timeutil.Clock) *Runner {
	return &Runner{cache: kdtree.NewCache(), clock: clock}
}

// CacheStats returns the index cache hits and builds so far.
func (r *Runner) CacheStats() (hits, builds int) { return r.cache.Stats() }

// Run analyses reference and target with a fresh Runner.
func Run(ctx context.Context, reference, target *cloud.PointSet, params Params, obs registration.Observer) (*Analysis, error) {
	return NewRunner().Run(ctx, reference, target, params, obs)
}

// Run aligns target onto reference, removes the ground plane from the
// aligned target, measures change against the reference and clusters
// the points whose change exceeds the clustering threshold.
//
// Change detection uses the aligned target before ground removal so that
// deformation on the ground itself is measured.
func (r *Runner) Run(ctx context.Context, reference, target *cloud.PointSet, params Params, obs registration.Observer) (*Analysis, error) {
	if err := cloud.RequireNonEmpty(reference, "reference"); err != nil {
		return nil, err
	}
	if err := cloud.RequireNonEmpty(target, "target"); err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	start := r.clock.Now()
	runID := uuid.NewString()
	logf("run %s: %s vs %s", runID,
		cloud.Describe(params.ReferenceName, reference), cloud.Describe(params.TargetName, target))

	var err error
	if reference, err = preprocess(ctx, reference, params); err != nil {
		return nil, fmt.Errorf("preprocess reference: %w", err)
	}
	if target, err = preprocess(ctx, target, params); err != nil {
		return nil, fmt.Errorf("preprocess target: %w", err)
	}

	refTree, err := r.cache.Get(reference.ContentHash(), reference.Points)
	if err != nil {
		return nil, err
	}
	if !reference.HasNormals() {
		if reference, err = cloud.EstimateNormalsWithIndex(ctx, reference, refTree, params.Normals); err != nil {
			return nil, fmt.Errorf("reference normals: %w", err)
		}
	}
	if target, err = cloud.EnsureNormals(ctx, target, params.Normals); err != nil {
		return nil, fmt.Errorf("target normals: %w", err)
	}

	reg, err := registration.RegisterWithIndex(ctx, target, reference, refTree, params.Registration, obs)
	if err != nil {
		return nil, fmt.Errorf("registration: %w", err)
	}
	if !registration.IsUsableForChangeDetection(reg) {
		logf("warning: alignment quality is %s; distances may reflect misalignment",
			registration.DescribeQuality(reg.Fitness, reg.InlierRMSE))
	}
	aligned := registration.ApplyTransform(target, reg.Transformation)

	ground, nonGround, seg, err := segmentation.RemoveGround(ctx, aligned, params.Segmentation)
	if err != nil {
		return nil, fmt.Errorf("segmentation: %w", err)
	}

	chg, err := change.ComputeWithIndex(ctx, aligned, reference, refTree, params.UseNormalsForSigned)
	if err != nil {
		return nil, fmt.Errorf("change detection: %w", err)
	}

	clusterParams := params.Clustering
	clusterParams.FilterDistances = chg.Distances
	clu, err := clustering.Cluster(ctx, aligned, clusterParams)
	if err != nil {
		return nil, fmt.Errorf("clustering: %w", err)
	}

	a := &Analysis{
		Reference:     reference,
		Target:        target,
		Aligned:       aligned,
		Ground:        ground,
		NonGround:     nonGround,
		Registration:  reg,
		Segmentation:  seg,
		Change:        chg,
		ChangeSummary: change.Summarize(chg, params.ChangeThreshold),
		Clustering:    clu,
	}
	a.Summary = summarize(a, params)
	a.Summary.RunID = runID
	a.Summary.CreatedAt = start.UTC()
	a.Summary.Duration = Duration(r.clock.Since(start))

	logf("run %s finished in %v: %s; %s; %s", runID, time.Duration(a.Summary.Duration).Round(time.Millisecond),
		registration.DescribeQuality(reg.Fitness, reg.InlierRMSE), a.ChangeSummary, clu.Summary())
	return a, nil
}

// preprocess applies the optional voxel and outlier filters.
func preprocess(ctx context.Context, ps *cloud.PointSet, params Params) (*cloud.PointSet, error) {
	var err error
	if params.VoxelSize > 0 {
		if ps, err = segmentation.VoxelDownsample(ps, params.VoxelSize); err != nil {
			return nil, err
		}
	}
	if params.OutlierNeighbors > 0 {
		res, err := segmentation.RemoveStatisticalOutliers(ctx, ps, params.OutlierNeighbors, params.OutlierStdRatio)
		if err != nil {
			return nil, err
		}
		ps = ps.Select(res.Inliers)
	}
	return ps, nil
}

// summarize flattens an Analysis into its Summary.
func summarize(a *Analysis, params Params) Summary {
	s := Summary{
		ReferenceName:   params.ReferenceName,
		TargetName:      params.TargetName,
		ReferencePoints: a.Reference.Len(),
		TargetPoints:    a.Target.Len(),

		ICPFitness:     a.Registration.Fitness,
		ICPRMSE:        a.Registration.InlierRMSE,
		ICPIterations:  len(a.Registration.Iterations),
		ICPConverged:   a.Registration.Converged,
		ICPCancelled:   a.Registration.Cancelled,
		Quality:        string(registration.GradeFitness(a.Registration.Fitness)),
		Transformation: a.Registration.Transformation,

		GroundThreshold: params.Segmentation.DistanceThreshold,
		GroundPoints:    a.Segmentation.NumInliers,
		NonGroundPoints: len(a.Segmentation.Outliers),
		Plane:           a.Segmentation.Plane.String(),

		ChangeSigned:     a.Change.Signed,
		ChangeMean:       a.Change.Mean,
		ChangeStd:        a.Change.Std,
		ChangeMin:        a.Change.Min,
		ChangeMax:        a.Change.Max,
		ChangeMedian:     a.Change.Median,
		ChangeThreshold:  a.ChangeSummary.Threshold,
		NoChangePoints:   a.ChangeSummary.NoChange,
		ErosionPoints:    a.ChangeSummary.Erosion,
		DepositionPoints: a.ChangeSummary.Deposition,
		ChangedPoints:    a.ChangeSummary.Significant,

		ClusteringEps:        a.Clustering.Eps,
		ClusteringMinSamples: a.Clustering.MinSamples,
		ClusteringThreshold:  params.Clustering.FilterThreshold,
		NumClusters:          a.Clustering.NumClusters,
		NumNoise:             a.Clustering.NumNoise,
	}
	s.Clusters = make([]ClusterSummary, 0, len(a.Clustering.Clusters))
	for _, c := range a.Clustering.Clusters {
		s.Clusters = append(s.Clusters, ClusterSummary{
			ID:        c.ID,
			NumPoints: c.NumPoints(),
			Volume:    c.Volume,
			Centroid:  c.Centroid,
			BBoxMin:   c.BBox.Min,
			BBoxMax:   c.BBox.Max,
		})
	}
	return s
}
