package report

import (
	"bytes"
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/scandiff/internal/monitoring"
	"github.com/banshee-data/scandiff/internal/pipeline"
)

var logf = monitoring.Component("Report")

// AssetsHost serves the echarts javascript for rendered pages.
var AssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// WriteHistogramHTML renders the change distribution as an interactive
// bar chart page, binned like WriteHistogramPNG.
func WriteHistogramHTML(w io.Writer, distances []float64, s pipeline.Summary) error {
	h, err := histogram(distances)
	if err != nil {
		return err
	}

	x := make([]string, len(h.Bins))
	y := make([]opts.BarData, len(h.Bins))
	for i, bin := range h.Bins {
		x[i] = fmt.Sprintf("%.3f", (bin.Min+bin.Max)/2)
		y[i] = opts.BarData{Value: bin.Weight}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: Title, Width: "100%", Height: "640px", AssetsHost: AssetsHost}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Change Map Distribution",
			Subtitle: fmt.Sprintf("%s vs %s | mean %.3fm | median %.3fm", s.TargetName, s.ReferenceName, s.ChangeMean, s.ChangeMedian),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: distanceLabel(s.ChangeSigned)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Frequency"}),
	)
	bar.SetXAxis(x).AddSeries("points", y)

	page := components.NewPage()
	page.SetAssetsHost(AssetsHost)
	page.AddCharts(bar)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return fmt.Errorf("render histogram: %w", err)
	}
	_, err = w.Write(buf.Bytes())
	return err
}
