package registration

import (
	"fmt"

	"github.com/banshee-data/scandiff/internal/cloud"
	"github.com/banshee-data/scandiff/internal/geom"
)

// Default ICP parameters.
const (
	DefaultMaxCorrespondenceDistance = 0.5
	DefaultMaxIterations             = 50
	DefaultRelativeFitness           = 1e-6
	DefaultRelativeRMSE              = 1e-6
)

// Params configures Register.
type Params struct {
	// MaxCorrespondenceDistance truncates nearest-neighbour matches: a
	// source point further than this from its nearest target point has no
	// correspondence.
	MaxCorrespondenceDistance float64
	MaxIterations             int
	RelativeFitness           float64
	RelativeRMSE              float64

	// Initial is the starting estimate. The zero value means identity.
	Initial geom.Transform

	// Normals is used for any input that arrives without normals.
	Normals cloud.NormalParams
}

// DefaultParams returns the parameters the inspection tool ships with.
func DefaultParams() Params {
	return Params{
		MaxCorrespondenceDistance: DefaultMaxCorrespondenceDistance,
		MaxIterations:             DefaultMaxIterations,
		RelativeFitness:           DefaultRelativeFitness,
		RelativeRMSE:              DefaultRelativeRMSE,
		Initial:                   geom.Identity(),
		Normals:                   cloud.DefaultNormalParams(),
	}
}

// Validate rejects parameters that cannot produce a meaningful alignment.
func (p Params) Validate() error {
	if p.MaxCorrespondenceDistance <= 0 {
		return fmt.Errorf("%w: max correspondence distance must be positive, got %f",
			cloud.ErrInvalidInput, p.MaxCorrespondenceDistance)
	}
	if p.MaxIterations <= 0 {
		return fmt.Errorf("%w: max iterations must be positive, got %d", cloud.ErrInvalidInput, p.MaxIterations)
	}
	if p.RelativeFitness < 0 || p.RelativeRMSE < 0 {
		return fmt.Errorf("%w: convergence thresholds must be non-negative", cloud.ErrInvalidInput)
	}
	return nil
}

func (p Params) initial() geom.Transform {
	if p.Initial == (geom.Transform{}) {
		return geom.Identity()
	}
	return p.Initial
}

// Correspondence pairs a source point index with its matched target index.
type Correspondence struct {
	Source int
	Target int
}

// IterationLog is one entry of the convergence history.
type IterationLog struct {
	Iteration int
	RMSE      float64
	Fitness   float64
}

// Result is the outcome of a registration. It is never modified after
// Register returns it.
type Result struct {
	// Transformation maps source coordinates into the target frame.
	Transformation geom.Transform
	// Fitness is the fraction of source points with a correspondence.
	Fitness float64
	// InlierRMSE is the RMS point-to-plane residual over correspondences.
	// It is 0 when there are no correspondences.
	InlierRMSE      float64
	Correspondences []Correspondence
	Iterations      []IterationLog

	Converged bool
	// Cancelled is set when the observer or the context stopped the run;
	// the result then holds the best estimate seen.
	Cancelled bool
}

// String summarises the result.
func (r *Result) String() string {
	return fmt.Sprintf("RegistrationResult(fitness=%.4f, inlier_rmse=%.4f, iterations=%d)",
		r.Fitness, r.InlierRMSE, len(r.Iterations))
}

// Observer receives per-iteration progress. Returning false asks the
// registration to stop after the current iteration.
type Observer interface {
	OnIteration(iteration int, rmse float64) bool
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(iteration int, rmse float64) bool

// OnIteration calls f.
func (f ObserverFunc) OnIteration(iteration int, rmse float64) bool { return f(iteration, rmse) }
