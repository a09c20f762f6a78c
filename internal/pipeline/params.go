package pipeline

import (
	"fmt"

	"github.com/banshee-data/scandiff/internal/change"
	"github.com/banshee-data/scandiff/internal/cloud"
	"github.com/banshee-data/scandiff/internal/clustering"
	"github.com/banshee-data/scandiff/internal/registration"
	"github.com/banshee-data/scandiff/internal/segmentation"
)

// Params configures every stage of an analysis run.
type Params struct {
	// ReferenceName and TargetName label the inputs in the summary.
	ReferenceName string
	TargetName    string

	// VoxelSize downsamples both inputs before analysis when positive.
	VoxelSize float64
	// OutlierNeighbors enables statistical outlier removal on both inputs
	// when positive.
	OutlierNeighbors int
	OutlierStdRatio  float64

	Normals      cloud.NormalParams
	Registration registration.Params
	Segmentation segmentation.Params

	UseNormalsForSigned bool
	// ChangeThreshold separates unchanged points in the change summary.
	ChangeThreshold float64

	// Clustering configures DBSCAN. FilterDistances is ignored: the run
	// always filters on the change distances with FilterThreshold.
	Clustering clustering.Params
}

// DefaultParams returns the defaults of every stage.
func DefaultParams() Params {
	normals := cloud.DefaultNormalParams()
	reg := registration.DefaultParams()
	reg.Normals = normals
	return Params{
		ReferenceName:       "reference",
		TargetName:          "target",
		OutlierStdRatio:     segmentation.DefaultStdRatio,
		Normals:             normals,
		Registration:        reg,
		Segmentation:        segmentation.DefaultParams(),
		UseNormalsForSigned: true,
		ChangeThreshold:     change.DefaultThreshold,
		Clustering:          clustering.DefaultParams(),
	}
}

// Validate checks every stage's parameters before any work starts.
func (p Params) Validate() error {
	if p.VoxelSize < 0 {
		return fmt.Errorf("%w: voxel size must be non-negative, got %f", cloud.ErrInvalidInput, p.VoxelSize)
	}
	if p.OutlierNeighbors < 0 || p.OutlierStdRatio < 0 {
		return fmt.Errorf("%w: outlier removal parameters must be non-negative", cloud.ErrInvalidInput)
	}
	if p.ChangeThreshold < 0 {
		return fmt.Errorf("%w: change threshold must be non-negative, got %f", cloud.ErrInvalidInput, p.ChangeThreshold)
	}
	if err := p.Normals.Validate(); err != nil {
		return fmt.Errorf("normals: %w", err)
	}
	if err := p.Registration.Validate(); err != nil {
		return fmt.Errorf("registration: %w", err)
	}
	if err := p.Segmentation.Validate(); err != nil {
		return fmt.Errorf("segmentation: %w", err)
	}
	if err := p.Clustering.Validate(); err != nil {
		return fmt.Errorf("clustering: %w", err)
	}
	return nil
}
