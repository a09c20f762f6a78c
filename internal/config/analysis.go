package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/scandiff/internal/change"
	"github.com/banshee-data/scandiff/internal/cloud"
	"github.com/banshee-data/scandiff/internal/clustering"
	"github.com/banshee-data/scandiff/internal/pipeline"
	"github.com/banshee-data/scandiff/internal/registration"
	"github.com/banshee-data/scandiff/internal/segmentation"
)

// DefaultConfigPath is the path to the canonical analysis defaults file.
const DefaultConfigPath = "config/analysis.defaults.json"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// AnalysisConfig holds the tunable parameters of an analysis run. Every
// field is optional: a nil field falls back to the stage default, so
// partial files are safe.
type AnalysisConfig struct {
	// Preprocessing
	VoxelSize          *float64 `json:"voxel_size,omitempty"`
	OutlierNbNeighbors *int     `json:"outlier_nb_neighbors,omitempty"`
	OutlierStdRatio    *float64 `json:"outlier_std_ratio,omitempty"`

	// Normal estimation
	NormalRadius *float64 `json:"normal_radius,omitempty"`
	NormalMaxNN  *int     `json:"normal_max_nn,omitempty"`

	// ICP
	ICPMaxCorrespondenceDistance *float64 `json:"icp_max_correspondence_distance,omitempty"`
	ICPMaxIterations             *int     `json:"icp_max_iterations,omitempty"`
	ICPRelativeFitness           *float64 `json:"icp_relative_fitness,omitempty"`
	ICPRelativeRMSE              *float64 `json:"icp_relative_rmse,omitempty"`

	// Ground removal
	RANSACDistanceThreshold *float64 `json:"ransac_distance_threshold,omitempty"`
	RANSACSampleSize        *int     `json:"ransac_sample_size,omitempty"`
	RANSACNumIterations     *int     `json:"ransac_num_iterations,omitempty"`
	RANSACSeed              *uint64  `json:"ransac_seed,omitempty"`

	// Change detection
	ChangeUseNormals *bool    `json:"change_use_normals,omitempty"`
	ChangeThreshold  *float64 `json:"change_threshold,omitempty"`

	// Clustering
	DBSCANEps             *float64 `json:"dbscan_eps,omitempty"`
	DBSCANMinSamples      *int     `json:"dbscan_min_samples,omitempty"`
	DBSCANFilterThreshold *float64 `json:"dbscan_filter_threshold,omitempty"`
}

// LoadAnalysisConfig loads an AnalysisConfig from a .json file of at most
// 1MB and validates it.
func LoadAnalysisConfig(path string) (*AnalysisConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &AnalysisConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents up to the repository root. It panics when the
// file cannot be loaded and is intended for tests.
func MustLoadDefaultConfig() *AnalysisConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadAnalysisConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks the set fields by building the pipeline parameters and
// validating every stage.
func (c *AnalysisConfig) Validate() error {
	if c.VoxelSize != nil && *c.VoxelSize < 0 {
		return fmt.Errorf("voxel_size must be non-negative, got %f", *c.VoxelSize)
	}
	if c.ChangeThreshold != nil && *c.ChangeThreshold < 0 {
		return fmt.Errorf("change_threshold must be non-negative, got %f", *c.ChangeThreshold)
	}
	if c.DBSCANFilterThreshold != nil && *c.DBSCANFilterThreshold < 0 {
		return fmt.Errorf("dbscan_filter_threshold must be non-negative, got %f", *c.DBSCANFilterThreshold)
	}
	return c.ToPipelineParams().Validate()
}

// ToPipelineParams resolves every field into pipeline parameters.
func (c *AnalysisConfig) ToPipelineParams() pipeline.Params {
	p := pipeline.DefaultParams()
	p.VoxelSize = c.GetVoxelSize()
	p.OutlierNeighbors = c.GetOutlierNbNeighbors()
	p.OutlierStdRatio = c.GetOutlierStdRatio()

	p.Normals.Radius = c.GetNormalRadius()
	p.Normals.MaxNN = c.GetNormalMaxNN()

	p.Registration.MaxCorrespondenceDistance = c.GetICPMaxCorrespondenceDistance()
	p.Registration.MaxIterations = c.GetICPMaxIterations()
	p.Registration.RelativeFitness = c.GetICPRelativeFitness()
	p.Registration.RelativeRMSE = c.GetICPRelativeRMSE()
	p.Registration.Normals = p.Normals

	p.Segmentation = segmentation.Params{
		DistanceThreshold: c.GetRANSACDistanceThreshold(),
		SampleSize:        c.GetRANSACSampleSize(),
		NumIterations:     c.GetRANSACNumIterations(),
		Seed:              c.GetRANSACSeed(),
	}

	p.UseNormalsForSigned = c.GetChangeUseNormals()
	p.ChangeThreshold = c.GetChangeThreshold()

	p.Clustering.Eps = c.GetDBSCANEps()
	p.Clustering.MinSamples = c.GetDBSCANMinSamples()
	p.Clustering.FilterThreshold = c.GetDBSCANFilterThreshold()
	return p
}

func getFloat(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func getInt(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

// GetVoxelSize returns voxel_size or 0 (no downsampling).
func (c *AnalysisConfig) GetVoxelSize() float64 { return getFloat(c.VoxelSize, 0) }

// GetOutlierNbNeighbors returns outlier_nb_neighbors or 0 (no outlier removal).
func (c *AnalysisConfig) GetOutlierNbNeighbors() int { return getInt(c.OutlierNbNeighbors, 0) }

func (c *AnalysisConfig) GetOutlierStdRatio() float64 {
	return getFloat(c.OutlierStdRatio, segmentation.DefaultStdRatio)
}

func (c *AnalysisConfig) GetNormalRadius() float64 {
	return getFloat(c.NormalRadius, cloud.DefaultNormalRadius)
}

func (c *AnalysisConfig) GetNormalMaxNN() int { return getInt(c.NormalMaxNN, cloud.DefaultNormalMaxNN) }

func (c *AnalysisConfig) GetICPMaxCorrespondenceDistance() float64 {
	return getFloat(c.ICPMaxCorrespondenceDistance, registration.DefaultMaxCorrespondenceDistance)
}

func (c *AnalysisConfig) GetICPMaxIterations() int {
	return getInt(c.ICPMaxIterations, registration.DefaultMaxIterations)
}

func (c *AnalysisConfig) GetICPRelativeFitness() float64 {
	return getFloat(c.ICPRelativeFitness, registration.DefaultRelativeFitness)
}

func (c *AnalysisConfig) GetICPRelativeRMSE() float64 {
	return getFloat(c.ICPRelativeRMSE, registration.DefaultRelativeRMSE)
}

func (c *AnalysisConfig) GetRANSACDistanceThreshold() float64 {
	return getFloat(c.RANSACDistanceThreshold, segmentation.DefaultDistanceThreshold)
}

func (c *AnalysisConfig) GetRANSACSampleSize() int {
	return getInt(c.RANSACSampleSize, segmentation.DefaultSampleSize)
}

func (c *AnalysisConfig) GetRANSACNumIterations() int {
	return getInt(c.RANSACNumIterations, segmentation.DefaultNumIterations)
}

func (c *AnalysisConfig) GetRANSACSeed() uint64 {
	if c.RANSACSeed == nil {
		return segmentation.DefaultSeed
	}
	return *c.RANSACSeed
}

// GetChangeUseNormals returns change_use_normals or true (signed distances).
func (c *AnalysisConfig) GetChangeUseNormals() bool {
	if c.ChangeUseNormals == nil {
		return true
	}
	return *c.ChangeUseNormals
}

func (c *AnalysisConfig) GetChangeThreshold() float64 {
	return getFloat(c.ChangeThreshold, change.DefaultThreshold)
}

func (c *AnalysisConfig) GetDBSCANEps() float64 { return getFloat(c.DBSCANEps, clustering.DefaultEps) }

func (c *AnalysisConfig) GetDBSCANMinSamples() int {
	return getInt(c.DBSCANMinSamples, clustering.DefaultMinSamples)
}

func (c *AnalysisConfig) GetDBSCANFilterThreshold() float64 {
	return getFloat(c.DBSCANFilterThreshold, clustering.DefaultFilterThreshold)
}
