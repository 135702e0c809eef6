package report

import (
	"errors"
	"fmt"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/mocap.report/internal/fsutil"
)

// ErrNoData is returned when there is nothing to plot.
var ErrNoData = errors.New("no data to plot")

// DefaultHistogramBins is the bin count used by WriteIntervalHistogram.
const DefaultHistogramBins = 40

// WriteIntervalHistogram plots intervals (seconds) as a histogram in
// milliseconds and writes it as a PNG to path.
func WriteIntervalHistogram(fsys fsutil.FileSystem, path, title string, intervals []float64) error {
	if len(intervals) == 0 {
		return ErrNoData
	}

	values := make(plotter.Values, len(intervals))
	for i, s := range intervals {
		values[i] = s * 1000
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Interval (ms)"
	p.Y.Label.Text = "Records"

	h, err := plotter.NewHist(values, DefaultHistogramBins)
	if err != nil {
		return fmt.Errorf("failed to build histogram: %w", err)
	}
	p.Add(h)

	wt, err := p.WriterTo(10*vg.Inch, 5*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("failed to render histogram: %w", err)
	}

	f, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := wt.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
