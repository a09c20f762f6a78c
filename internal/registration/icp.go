// Package registration estimates the rigid transform aligning one scan onto
// another with point-to-plane Iterative Closest Point.
package registration

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/scandiff/internal/cloud"
	"github.com/banshee-data/scandiff/internal/geom"
	"github.com/banshee-data/scandiff/internal/kdtree"
	"github.com/banshee-data/scandiff/internal/monitoring"
)

const (
	// matchChunkSize is the number of source points matched per worker task.
	matchChunkSize = 2048

	// dampingFactor scales the Tikhonov term added to the normal equations,
	// relative to their mean diagonal. It keeps directions the surface does
	// not constrain (e.g. sliding along a flat plane) at zero motion instead
	// of failing the factorisation.
	dampingFactor = 1e-9

	// tukeyC is the Tukey biweight cutoff in units of the robust residual
	// scale. Residuals beyond it get zero weight in the solve.
	tukeyC = 4.685

	// minResidualScale floors the robust scale (metres) so an exact fit
	// keeps every correspondence at full weight.
	minResidualScale = 1e-6
)

var logf = monitoring.Component("ICP")

// Register aligns source onto target. Both clouds get normals first if they
// lack them (the inputs are not modified). The target index is built here;
// use RegisterWithIndex to share one.
func Register(ctx context.Context, source, target *cloud.PointSet, params Params, obs Observer) (*Result, error) {
	if err := cloud.RequireNonEmpty(target, "target"); err != nil {
		return nil, err
	}
	tree, err := kdtree.Build(target.Points)
	if err != nil {
		return nil, err
	}
	return RegisterWithIndex(ctx, source, target, tree, params, obs)
}

// RegisterWithIndex is Register with a caller-built index over target.Points.
func RegisterWithIndex(ctx context.Context, source, target *cloud.PointSet, targetIndex *kdtree.Tree, params Params, obs Observer) (*Result, error) {
	if err := cloud.RequireNonEmpty(source, "source"); err != nil {
		return nil, err
	}
	if err := cloud.RequireNonEmpty(target, "target"); err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if targetIndex == nil || targetIndex.Len() != target.Len() {
		return nil, fmt.Errorf("%w: target index does not match target cloud", cloud.ErrInvalidInput)
	}

	start := time.Now()
	var err error
	if !source.HasNormals() {
		if source, err = cloud.EstimateNormals(ctx, source, params.Normals); err != nil {
			return nil, fmt.Errorf("source normals: %w", err)
		}
	}
	if !target.HasNormals() {
		if target, err = cloud.EstimateNormalsWithIndex(ctx, target, targetIndex, params.Normals); err != nil {
			return nil, fmt.Errorf("target normals: %w", err)
		}
	}

	m := newMatcher(source.Points, target, targetIndex, params.MaxCorrespondenceDistance)
	res, err := run(ctx, m, params, obs)
	if err != nil {
		return nil, err
	}

	monitoring.ICPIterations.Observe(float64(len(res.Iterations)))
	monitoring.ObserveStage(monitoring.StageRegistration, start, source.Len())
	logf("%s converged=%t cancelled=%t in %v", res, res.Converged, res.Cancelled, time.Since(start).Round(time.Millisecond))
	return res, nil
}

// state is a candidate estimate with its correspondence metrics.
type state struct {
	T       geom.Transform
	fitness float64
	rmse    float64
	corr    []Correspondence
}

// betterThan prefers higher fitness, then lower RMSE.
func (s state) betterThan(o state) bool {
	if s.fitness != o.fitness {
		return s.fitness > o.fitness
	}
	return s.rmse < o.rmse
}

// model matches correspondences under an estimate and solves for the
// incremental update over them.
type model interface {
	match(ctx context.Context, T geom.Transform) ([]Correspondence, float64, float64, error)
	solve(T geom.Transform, corr []Correspondence) (geom.Transform, bool)
}

func run(ctx context.Context, m model, params Params, obs Observer) (*Result, error) {
	cur := state{T: params.initial()}
	var err error
	if cur.corr, cur.fitness, cur.rmse, err = m.match(ctx, cur.T); err != nil {
		return nil, err
	}
	if len(cur.corr) == 0 {
		logf("no correspondences within %.3f m at the initial estimate", params.MaxCorrespondenceDistance)
		return &Result{Transformation: cur.T}, nil
	}

	best := cur
	log := make([]IterationLog, 0, params.MaxIterations)
	finish := func(s state, converged, cancelled bool) *Result {
		return &Result{
			Transformation:  s.T,
			Fitness:         s.fitness,
			InlierRMSE:      s.rmse,
			Correspondences: s.corr,
			Iterations:      log,
			Converged:       converged,
			Cancelled:       cancelled,
		}
	}

	for k := 1; k <= params.MaxIterations; k++ {
		if ctx.Err() != nil {
			return finish(best, false, true), nil
		}

		delta, ok := m.solve(cur.T, cur.corr)
		if !ok {
			logf("degenerate normal equations at iteration %d", k)
			return finish(cur, false, false), nil
		}

		prev := cur
		cur = state{T: delta.Mul(cur.T)}
		if cur.corr, cur.fitness, cur.rmse, err = m.match(ctx, cur.T); err != nil {
			if ctx.Err() != nil {
				return finish(best, false, true), nil
			}
			return nil, err
		}
		log = append(log, IterationLog{Iteration: k, RMSE: cur.rmse, Fitness: cur.fitness})
		if cur.betterThan(best) {
			best = cur
		}

		if obs != nil && !obs.OnIteration(k, cur.rmse) {
			return finish(best, false, true), nil
		}
		if len(cur.corr) == 0 {
			logf("lost all correspondences at iteration %d", k)
			return finish(best, false, false), nil
		}
		if math.Abs(cur.fitness-prev.fitness) < params.RelativeFitness &&
			math.Abs(cur.rmse-prev.rmse) < params.RelativeRMSE {
			return finish(cur, true, false), nil
		}
	}
	return finish(cur, false, false), nil
}

// matcher finds truncated nearest-neighbour correspondences and solves the
// linearised point-to-plane problem over them.
type matcher struct {
	source  []geom.Vec3
	target  []geom.Vec3
	normals []geom.Vec3
	tree    *kdtree.Tree
	maxDist float64

	nn    []int
	resid []float64

	// Scratch buffers for solve.
	corrResid []float64
	absResid  []float64
}

func newMatcher(source []geom.Vec3, target *cloud.PointSet, tree *kdtree.Tree, maxDist float64) *matcher {
	return &matcher{
		source:  source,
		target:  target.Points,
		normals: target.Normals,
		tree:    tree,
		maxDist: maxDist,
		nn:      make([]int, len(source)),
		resid:   make([]float64, len(source)),
	}
}

// match returns correspondences under T in source index order, with the
// fitness and point-to-plane RMSE they imply.
func (m *matcher) match(ctx context.Context, T geom.Transform) ([]Correspondence, float64, float64, error) {
	maxD2 := m.maxDist * m.maxDist

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for start := 0; start < len(m.source); start += matchChunkSize {
		end := min(start+matchChunkSize, len(m.source))
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for i := start; i < end; i++ {
				p := T.Apply(m.source[i])
				j, d2 := m.tree.Nearest(p)
				if d2 > maxD2 {
					m.nn[i] = -1
					continue
				}
				m.nn[i] = j
				m.resid[i] = p.Sub(m.target[j]).Dot(m.normals[j])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, 0, err
	}

	var corr []Correspondence
	var sum float64
	for i, j := range m.nn {
		if j < 0 {
			continue
		}
		corr = append(corr, Correspondence{Source: i, Target: j})
		sum += m.resid[i] * m.resid[i]
	}
	if len(corr) == 0 {
		return nil, 0, 0, nil
	}
	fitness := float64(len(corr)) / float64(len(m.source))
	rmse := math.Sqrt(sum / float64(len(corr)))
	return corr, fitness, rmse, nil
}

// solve minimises Σ w·(n_q · (R p + t − q))² linearised around the
// identity for small rotations: r + ω·(p × n) + t·n. The six unknowns are
// (ωx, ωy, ωz, tx, ty, tz). The weights w are Tukey biweights of the
// current residuals, so surface that changed between scans does not drag
// the estimate.
func (m *matcher) solve(T geom.Transform, corr []Correspondence) (geom.Transform, bool) {
	resid := m.corrResid[:0]
	for _, c := range corr {
		p := T.Apply(m.source[c.Source])
		resid = append(resid, p.Sub(m.target[c.Target]).Dot(m.normals[c.Target]))
	}
	m.corrResid = resid
	cutoff := tukeyC * m.residualScale(resid)

	var ata [6][6]float64
	var atb [6]float64
	for k, c := range corr {
		r := resid[k]
		w := tukeyWeight(r, cutoff)
		if w == 0 {
			continue
		}
		p := T.Apply(m.source[c.Source])
		n := m.normals[c.Target]
		pn := p.Cross(n)
		J := [6]float64{pn.X, pn.Y, pn.Z, n.X, n.Y, n.Z}
		for a := 0; a < 6; a++ {
			atb[a] += w * J[a] * r
			for b := a; b < 6; b++ {
				ata[a][b] += w * J[a] * J[b]
			}
		}
	}

	var trace float64
	for a := 0; a < 6; a++ {
		trace += ata[a][a]
	}
	if trace == 0 || math.IsNaN(trace) {
		return geom.Transform{}, false
	}
	damping := dampingFactor * trace / 6

	A := mat.NewSymDense(6, nil)
	b := mat.NewVecDense(6, nil)
	for a := 0; a < 6; a++ {
		A.SetSym(a, a, ata[a][a]+damping)
		for c := a + 1; c < 6; c++ {
			A.SetSym(a, c, ata[a][c])
		}
		b.SetVec(a, -atb[a])
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(A); !ok {
		return geom.Transform{}, false
	}
	var x mat.VecDense
	if err := chol.SolveVecTo(&x, b); err != nil {
		return geom.Transform{}, false
	}
	return geom.FromEulerXYZ(x.AtVec(0), x.AtVec(1), x.AtVec(2), x.AtVec(3), x.AtVec(4), x.AtVec(5)), true
}

// residualScale estimates the residual standard deviation as 1.4826 times
// the median absolute residual, floored at minResidualScale.
func (m *matcher) residualScale(resid []float64) float64 {
	abs := m.absResid[:0]
	for _, r := range resid {
		abs = append(abs, math.Abs(r))
	}
	slices.Sort(abs)
	m.absResid = abs
	med := stat.Quantile(0.5, stat.Empirical, abs, nil)
	return math.Max(1.4826*med, minResidualScale)
}

// tukeyWeight is the Tukey biweight of residual r for the given cutoff.
func tukeyWeight(r, cutoff float64) float64 {
	u := r / cutoff
	if math.Abs(u) >= 1 {
		return 0
	}
	v := 1 - u*u
	return v * v
}

// ApplyTransform returns a transformed copy of ps.
func ApplyTransform(ps *cloud.PointSet, t geom.Transform) *cloud.PointSet {
	return ps.Transform(t)
}
