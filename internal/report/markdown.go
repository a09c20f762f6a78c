// Package report renders analysis summaries for people: a markdown
// preview, PNG plots and an interactive HTML histogram.
package report

import (
	"fmt"
	"strings"

	"github.com/banshee-data/scandiff/internal/cloud"
	"github.com/banshee-data/scandiff/internal/pipeline"
)

// MaxClusterRows caps the cluster table; the remainder is collapsed into
// one row.
const MaxClusterRows = 20

// Title heads every rendered report.
const Title = "LiDAR Infrastructure Analysis Report"

func commas(n int) string { return cloud.FormatWithCommas(int64(n)) }

// RenderMarkdown formats s as a markdown document.
func RenderMarkdown(s pipeline.Summary) string {
	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format, args...)
		b.WriteByte('\n')
	}

	line("# %s", Title)
	line("")
	line("**Generated:** %s", s.CreatedAt.Format("2006-01-02 15:04:05"))
	if s.RunID != "" {
		line("**Run:** `%s`", s.RunID)
	}
	line("")

	line("## Input Files")
	line("- **Reference:** %s (%s points)", nameOr(s.ReferenceName), commas(s.ReferencePoints))
	line("- **Target:** %s (%s points)", nameOr(s.TargetName), commas(s.TargetPoints))
	line("")

	line("## ICP Alignment")
	line("- **Fitness:** %.4f", s.ICPFitness)
	line("- **Inlier RMSE:** %.4f m", s.ICPRMSE)
	line("- **Iterations:** %d", s.ICPIterations)
	if s.Quality != "" {
		line("- **Quality:** %s", s.Quality)
	}
	if s.ICPCancelled {
		line("- **Stopped early:** best estimate reported")
	}
	line("")

	line("## Ground Removal")
	line("- **Threshold:** %.2f m", s.GroundThreshold)
	line("- **Ground Points:** %s", commas(s.GroundPoints))
	line("- **Non-Ground Points:** %s", commas(s.NonGroundPoints))
	if s.Plane != "" {
		line("- **Plane:** %s", s.Plane)
	}
	line("")

	line("## Change Detection")
	line("- **Mean Distance:** %.3f m", s.ChangeMean)
	line("- **Std Deviation:** %.3f m", s.ChangeStd)
	line("- **Range:** [%.3f, %.3f] m", s.ChangeMin, s.ChangeMax)
	line("- **Median:** %.3f m", s.ChangeMedian)
	if s.ChangeSigned {
		line("- **Erosion / Deposition (±%.2f m):** %s / %s points",
			s.ChangeThreshold, commas(s.ErosionPoints), commas(s.DepositionPoints))
	} else {
		line("- **Significant (≥%.2f m):** %s points", s.ChangeThreshold, commas(s.ChangedPoints))
	}
	line("")

	line("## Clustering")
	line("- **Epsilon:** %.2f m", s.ClusteringEps)
	line("- **Min Samples:** %d", s.ClusteringMinSamples)
	line("- **Change Threshold:** %.2f m", s.ClusteringThreshold)
	line("- **Clusters Found:** %d", s.NumClusters)
	line("- **Noise Points:** %s", commas(s.NumNoise))

	if len(s.Clusters) > 0 {
		line("")
		line("### Cluster Details")
		line("")
		line("| ID | Points | Volume (m³) | Centroid (X, Y, Z) |")
		line("|---:|-------:|------------:|:-------------------|")
		for i, c := range s.Clusters {
			if i == MaxClusterRows {
				line("| ... | ... | ... | (%d more clusters) |", len(s.Clusters)-MaxClusterRows)
				break
			}
			line("| %3d | %6s | %11.3f | (%.1f, %.1f, %.1f) |",
				c.ID, commas(c.NumPoints), c.Volume, c.Centroid.X, c.Centroid.Y, c.Centroid.Z)
		}
	}
	return b.String()
}

func nameOr(name string) string {
	if name == "" {
		return "Not loaded"
	}
	return name
}
