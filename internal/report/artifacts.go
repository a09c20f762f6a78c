package report

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/scandiff/internal/pipeline"
	"github.com/banshee-data/scandiff/internal/security"
)

// Artifacts lists the files written for one run.
type Artifacts struct {
	Markdown    string
	Histogram   string
	HTML        string
	Convergence string
}

// WriteArtifacts writes the markdown report, the change histogram (PNG and
// HTML) and, when iterations are given, the ICP convergence plot into dir.
// File names start with the sanitised target name and the first eight
// characters of the run ID.
func WriteArtifacts(dir string, a *pipeline.Analysis) (Artifacts, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Artifacts{}, fmt.Errorf("create report directory: %w", err)
	}
	s := a.Summary
	runID := s.RunID
	if len(runID) > 8 {
		runID = runID[:8]
	}
	prefix := security.SanitizeFilename(s.TargetName + "_" + runID)
	path := func(suffix string) (string, error) {
		p := filepath.Join(dir, prefix+suffix)
		if err := security.ValidatePathWithinDirectory(p, dir); err != nil {
			return "", err
		}
		return p, nil
	}

	var out Artifacts
	var err error
	if out.Markdown, err = path("_report.md"); err != nil {
		return out, err
	}
	if err := os.WriteFile(out.Markdown, []byte(RenderMarkdown(s)), 0o644); err != nil {
		return out, fmt.Errorf("write markdown: %w", err)
	}

	if out.Histogram, err = path("_histogram.png"); err != nil {
		return out, err
	}
	if err := WriteHistogramPNG(a.Change.Distances, a.Change.Signed, out.Histogram); err != nil {
		return out, err
	}

	if out.HTML, err = path("_histogram.html"); err != nil {
		return out, err
	}
	var buf bytes.Buffer
	if err := WriteHistogramHTML(&buf, a.Change.Distances, s); err != nil {
		return out, err
	}
	if err := os.WriteFile(out.HTML, buf.Bytes(), 0o644); err != nil {
		return out, fmt.Errorf("write histogram page: %w", err)
	}

	if len(a.Registration.Iterations) > 0 {
		if out.Convergence, err = path("_convergence.png"); err != nil {
			return out, err
		}
		if err := WriteConvergencePNG(a.Registration.Iterations, out.Convergence); err != nil {
			return out, err
		}
	}
	logf("artifacts for run %s written to %s", s.RunID, dir)
	return out, nil
}
