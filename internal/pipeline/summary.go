package pipeline

import (
	"time"

	"github.com/banshee-data/scandiff/internal/geom"
)

// Summary aggregates one run for reporting and persistence. It carries
// no point data.
type Summary struct {
	RunID     string    `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`
	Duration  Duration  `json:"duration"`

	ReferenceName   string `json:"reference_name"`
	TargetName      string `json:"target_name"`
	ReferencePoints int    `json:"reference_points"`
	TargetPoints    int    `json:"target_points"`

	ICPFitness     float64        `json:"icp_fitness"`
	ICPRMSE        float64        `json:"icp_rmse"`
	ICPIterations  int            `json:"icp_iterations"`
	ICPConverged   bool           `json:"icp_converged"`
	ICPCancelled   bool           `json:"icp_cancelled"`
	Quality        string         `json:"quality"`
	Transformation geom.Transform `json:"transformation"`

	GroundThreshold float64 `json:"ground_threshold"`
	GroundPoints    int     `json:"ground_points"`
	NonGroundPoints int     `json:"non_ground_points"`
	Plane           string  `json:"plane"`

	ChangeSigned     bool    `json:"change_signed"`
	ChangeMean       float64 `json:"change_mean"`
	ChangeStd        float64 `json:"change_std"`
	ChangeMin        float64 `json:"change_min"`
	ChangeMax        float64 `json:"change_max"`
	ChangeMedian     float64 `json:"change_median"`
	ChangeThreshold  float64 `json:"change_threshold"`
	NoChangePoints   int     `json:"no_change_points"`
	ErosionPoints    int     `json:"erosion_points"`
	DepositionPoints int     `json:"deposition_points"`
	ChangedPoints    int     `json:"changed_points"`

	ClusteringEps        float64          `json:"clustering_eps"`
	ClusteringMinSamples int              `json:"clustering_min_samples"`
	ClusteringThreshold  float64          `json:"clustering_threshold"`
	NumClusters          int              `json:"num_clusters"`
	NumNoise             int              `json:"num_noise"`
	Clusters             []ClusterSummary `json:"clusters"`
}

// ClusterSummary is the persisted form of a cluster.
type ClusterSummary struct {
	ID        int       `json:"id"`
	NumPoints int       `json:"num_points"`
	Volume    float64   `json:"volume"`
	Centroid  geom.Vec3 `json:"centroid"`
	BBoxMin   geom.Vec3 `json:"bbox_min"`
	BBoxMax   geom.Vec3 `json:"bbox_max"`
}

// Duration marshals as a Go duration string ("1.5s").
type Duration time.Duration

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}
