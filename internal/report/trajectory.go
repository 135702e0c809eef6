package report

import (
	"fmt"
	"math"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/mocap.report/internal/fsutil"
	"github.com/banshee-data/mocap.report/internal/units"
)

// WriteTrajectoryChart renders object centres (millimetres) as a top-down
// scatter of x against z, one series per object, and writes the HTML page
// to path.
func WriteTrajectoryChart(fsys fsutil.FileSystem, path, title string, trajectories map[string][]r3.Vec) error {
	if len(trajectories) == 0 {
		return ErrNoData
	}

	names := make([]string, 0, len(trajectories))
	for name := range trajectories {
		names = append(names, name)
	}
	sort.Strings(names)

	maxAbs := 0.0
	total := 0
	series := make(map[string][]opts.ScatterData, len(names))
	for _, name := range names {
		pts := make([]opts.ScatterData, 0, len(trajectories[name]))
		for _, c := range trajectories[name] {
			maxAbs = math.Max(maxAbs, math.Max(math.Abs(c.X), math.Abs(c.Z)))
			pts = append(pts, opts.ScatterData{Value: []interface{}{c.X, c.Z}})
		}
		total += len(pts)
		series[name] = pts
	}
	pad := maxAbs * 1.05
	if pad == 0 {
		pad = 1.0
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("objects=%d points=%d", len(names), total)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
		charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "X (" + units.Millimetres + ")", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: "Z (" + units.Millimetres + ")", NameLocation: "middle", NameGap: 40}),
	)
	for _, name := range names {
		scatter.AddSeries(name, series[name], charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))
	}

	f, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := scatter.Render(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to render trajectory chart: %w", err)
	}
	return f.Close()
}
