package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Stage names used as the "stage" label.
const (
	StageNormals      = "normals"
	StageRegistration = "registration"
	StageSegmentation = "segmentation"
	StageChange       = "change"
	StageClustering   = "clustering"
)

// Registry holds every scandiff collector. It is separate from the
// Prometheus default registry so embedding programs decide whether and
// where to expose it.
var Registry = prometheus.NewRegistry()

var (
	// StageDuration records wall time per analysis stage.
	StageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "scandiff",
		Name:      "stage_duration_seconds",
		Help:      "Wall time spent in each analysis stage.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
	}, []string{"stage"})

	// StagePoints counts points consumed per analysis stage.
	StagePoints = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scandiff",
		Name:      "stage_points_total",
		Help:      "Points processed by each analysis stage.",
	}, []string{"stage"})

	// ICPIterations records how many iterations each registration ran.
	ICPIterations = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "scandiff",
		Name:      "icp_iterations",
		Help:      "Iterations executed per ICP registration.",
		Buckets:   prometheus.LinearBuckets(5, 5, 20),
	})
)

func init() {
	Registry.MustRegister(StageDuration, StagePoints, ICPIterations)
}

// ObserveStage records the duration since start and the point count for stage.
func ObserveStage(stage string, start time.Time, points int) {
	StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	StagePoints.WithLabelValues(stage).Add(float64(points))
}
