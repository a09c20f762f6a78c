package cloud

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/scandiff/internal/geom"
	"github.com/banshee-data/scandiff/internal/kdtree"
	"github.com/banshee-data/scandiff/internal/monitoring"
)

// Default normal estimation parameters (hybrid radius + max neighbour search).
const (
	DefaultNormalRadius = 0.1
	DefaultNormalMaxNN  = 30

	// normalChunkSize is the number of points handled by one worker task.
	normalChunkSize = 4096
)

// UpZ is the default orientation reference for estimated normals.
var UpZ = geom.Vec3{Z: 1}

// NormalParams configures EstimateNormals.
type NormalParams struct {
	Radius float64 // Neighbourhood radius in metres
	MaxNN  int     // Maximum neighbours per point
	// Orient flips each normal so it has a non-negative dot product with
	// this vector. The zero vector leaves orientation as the eigen solver
	// returns it, which is not consistent across points.
	Orient geom.Vec3
}

// DefaultNormalParams returns the defaults used when a stage needs normals
// the caller did not supply.
func DefaultNormalParams() NormalParams {
	return NormalParams{Radius: DefaultNormalRadius, MaxNN: DefaultNormalMaxNN, Orient: UpZ}
}

// Validate rejects non-positive search parameters.
func (p NormalParams) Validate() error {
	if p.Radius <= 0 {
		return fmt.Errorf("%w: normal radius must be positive, got %f", ErrInvalidInput, p.Radius)
	}
	if p.MaxNN <= 0 {
		return fmt.Errorf("%w: normal max_nn must be positive, got %d", ErrInvalidInput, p.MaxNN)
	}
	return nil
}

// EnsureNormals returns ps unchanged when it already carries normals, and
// otherwise a new PointSet with estimated normals. The input is never
// modified, so callers sharing ps see no side effect.
func EnsureNormals(ctx context.Context, ps *PointSet, params NormalParams) (*PointSet, error) {
	if ps.HasNormals() {
		return ps, nil
	}
	return EstimateNormals(ctx, ps, params)
}

// EstimateNormals computes a unit normal per point as the eigenvector of
// the smallest eigenvalue of the covariance of its neighbourhood (up to
// MaxNN points within Radius). Points with fewer than three neighbours
// get the orientation reference (or +Z) as their normal.
func EstimateNormals(ctx context.Context, ps *PointSet, params NormalParams) (*PointSet, error) {
	if err := RequireNonEmpty(ps, "normal estimation"); err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	tree, err := kdtree.Build(ps.Points)
	if err != nil {
		return nil, err
	}
	return EstimateNormalsWithIndex(ctx, ps, tree, params)
}

// EstimateNormalsWithIndex is EstimateNormals with a caller-supplied index,
// which must have been built over ps.Points.
func EstimateNormalsWithIndex(ctx context.Context, ps *PointSet, tree *kdtree.Tree, params NormalParams) (*PointSet, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if tree.Len() != ps.Len() {
		return nil, fmt.Errorf("%w: index holds %d points, cloud has %d", ErrInvalidInput, tree.Len(), ps.Len())
	}

	start := time.Now()
	fallback := params.Orient.Normalize()
	if fallback == (geom.Vec3{}) {
		fallback = UpZ
	}

	normals := make([]geom.Vec3, ps.Len())
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for start := 0; start < len(normals); start += normalChunkSize {
		end := min(start+normalChunkSize, len(normals))
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			cov := mat.NewSymDense(3, nil)
			var eig mat.EigenSym
			var vecs mat.Dense
			for i := start; i < end; i++ {
				nbrs := tree.Hybrid(ps.Points[i], params.Radius, params.MaxNN)
				n, ok := fitNormal(ps.Points, nbrs, cov, &eig, &vecs)
				if !ok {
					n = fallback
				}
				if params.Orient != (geom.Vec3{}) && n.Dot(params.Orient) < 0 {
					n = n.Scale(-1)
				}
				normals[i] = n
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	monitoring.ObserveStage(monitoring.StageNormals, start, ps.Len())
	return ps.WithNormals(normals), nil
}

// fitNormal returns the least-variance direction of the neighbourhood.
func fitNormal(points []geom.Vec3, nbrs []kdtree.Neighbor, cov *mat.SymDense, eig *mat.EigenSym, vecs *mat.Dense) (geom.Vec3, bool) {
	if len(nbrs) < 3 {
		return geom.Vec3{}, false
	}

	var mean geom.Vec3
	for _, nb := range nbrs {
		mean = mean.Add(points[nb.Index])
	}
	mean = mean.Scale(1 / float64(len(nbrs)))

	var xx, xy, xz, yy, yz, zz float64
	for _, nb := range nbrs {
		d := points[nb.Index].Sub(mean)
		xx += d.X * d.X
		xy += d.X * d.Y
		xz += d.X * d.Z
		yy += d.Y * d.Y
		yz += d.Y * d.Z
		zz += d.Z * d.Z
	}
	cov.SetSym(0, 0, xx)
	cov.SetSym(0, 1, xy)
	cov.SetSym(0, 2, xz)
	cov.SetSym(1, 1, yy)
	cov.SetSym(1, 2, yz)
	cov.SetSym(2, 2, zz)

	if !eig.Factorize(cov, true) {
		return geom.Vec3{}, false
	}
	// Eigenvalues are ascending; column 0 is the least-variance axis.
	eig.VectorsTo(vecs)
	n := geom.Vec3{X: vecs.At(0, 0), Y: vecs.At(1, 0), Z: vecs.At(2, 0)}.Normalize()
	if n == (geom.Vec3{}) {
		return geom.Vec3{}, false
	}
	return n, true
}
