package report

import (
	"fmt"
	"image/color"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/scandiff/internal/cloud"
	"github.com/banshee-data/scandiff/internal/registration"
)

// HistogramBins is the bin count of every change histogram.
const HistogramBins = 50

var (
	steelBlue = color.RGBA{R: 70, G: 130, B: 180, A: 255}
	meanRed   = color.RGBA{R: 220, G: 20, B: 20, A: 255}
	zeroGrey  = color.RGBA{R: 0, G: 0, B: 0, A: 128}
	fitGreen  = color.RGBA{R: 40, G: 160, B: 60, A: 255}
)

// histogram bins distances the same way for the PNG and HTML renderings.
func histogram(distances []float64) (*plotter.Histogram, error) {
	if len(distances) == 0 {
		return nil, fmt.Errorf("%w: no distances to plot", cloud.ErrInvalidInput)
	}
	h, err := plotter.NewHist(plotter.Values(distances), HistogramBins)
	if err != nil {
		return nil, fmt.Errorf("histogram: %w", err)
	}
	return h, nil
}

func maxWeight(bins []plotter.HistogramBin) float64 {
	var m float64
	for _, b := range bins {
		m = max(m, b.Weight)
	}
	return m
}

func verticalLine(x, top float64, c color.Color, width vg.Length, dashed bool) (*plotter.Line, error) {
	l, err := plotter.NewLine(plotter.XYs{{X: x, Y: 0}, {X: x, Y: top}})
	if err != nil {
		return nil, err
	}
	l.Color = c
	l.Width = width
	if dashed {
		l.Dashes = []vg.Length{vg.Points(6), vg.Points(3)}
	}
	return l, nil
}

func distanceLabel(signed bool) string {
	if signed {
		return "Signed Distance (m)"
	}
	return "Distance (m)"
}

// WriteHistogramPNG plots the change distribution with a dashed mean
// marker, plus a zero reference line for signed distances. The image
// format follows the extension of path.
func WriteHistogramPNG(distances []float64, signed bool, path string) error {
	h, err := histogram(distances)
	if err != nil {
		return err
	}
	h.FillColor = steelBlue

	p := plot.New()
	p.Title.Text = "Change Map Distribution"
	p.X.Label.Text = distanceLabel(signed)
	p.Y.Label.Text = "Frequency"
	p.Add(plotter.NewGrid(), h)

	top := maxWeight(h.Bins)
	mean := stat.Mean(distances, nil)
	meanLine, err := verticalLine(mean, top, meanRed, vg.Points(2), true)
	if err != nil {
		return err
	}
	p.Add(meanLine)
	p.Legend.Add(fmt.Sprintf("Mean: %.3fm", mean), meanLine)
	if signed {
		zero, err := verticalLine(0, top, zeroGrey, vg.Points(1), false)
		if err != nil {
			return err
		}
		p.Add(zero)
	}
	p.Legend.Top = true

	if err := p.Save(8*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("save histogram: %w", err)
	}
	logf("histogram written to %s", path)
	return nil
}

// WriteConvergencePNG plots RMSE and fitness against the ICP iteration.
func WriteConvergencePNG(iterations []registration.IterationLog, path string) error {
	if len(iterations) == 0 {
		return fmt.Errorf("%w: no iterations to plot", cloud.ErrInvalidInput)
	}
	rmse := make(plotter.XYs, len(iterations))
	fitness := make(plotter.XYs, len(iterations))
	for i, it := range iterations {
		rmse[i] = plotter.XY{X: float64(it.Iteration), Y: it.RMSE}
		fitness[i] = plotter.XY{X: float64(it.Iteration), Y: it.Fitness}
	}

	p := plot.New()
	p.Title.Text = "ICP Convergence"
	p.X.Label.Text = "Iteration"
	p.Y.Label.Text = "RMSE (m) / Fitness"
	p.Add(plotter.NewGrid())

	rmseLine, err := plotter.NewLine(rmse)
	if err != nil {
		return err
	}
	rmseLine.Color = steelBlue
	rmseLine.Width = vg.Points(1)
	p.Add(rmseLine)
	p.Legend.Add("Inlier RMSE", rmseLine)

	fitLine, err := plotter.NewLine(fitness)
	if err != nil {
		return err
	}
	fitLine.Color = fitGreen
	fitLine.Width = vg.Points(1)
	p.Add(fitLine)
	p.Legend.Add("Fitness", fitLine)
	p.Legend.Top = true

	if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("save convergence plot: %w", err)
	}
	logf("convergence plot written to %s", path)
	return nil
}
