package report

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/mocap.report/internal/fsutil"
)

func TestWriteIntervalHistogram(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	require.NoError(t, mfs.MkdirAll("/out", 0755))

	intervals := []float64{0.016, 0.017, 0.016, 0.018, 0.025, 0.016}
	require.NoError(t, WriteIntervalHistogram(mfs, "/out/intervals.png", "take_0", intervals))

	data, err := mfs.ReadFile("/out/intervals.png")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")), "expected PNG signature")
}

func TestWriteIntervalHistogram_NoData(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	err := WriteIntervalHistogram(mfs, "/out/intervals.png", "empty", nil)
	assert.ErrorIs(t, err, ErrNoData)
	assert.False(t, mfs.Exists("/out/intervals.png"))
}

func TestWriteIntervalHistogram_MissingDir(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	err := WriteIntervalHistogram(mfs, "/missing/intervals.png", "x", []float64{0.016})
	assert.Error(t, err)
}

func TestWriteTrajectoryChart(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	require.NoError(t, mfs.MkdirAll("/out", 0755))

	traj := map[string][]r3.Vec{
		"whisk_2": {{X: 100, Y: 900, Z: -50}, {X: 120, Y: 900, Z: -40}},
		"bowl_3":  {{X: -300, Y: 850, Z: 10}},
	}
	require.NoError(t, WriteTrajectoryChart(mfs, "/out/trajectories.html", "take_0", traj))

	data, err := mfs.ReadFile("/out/trajectories.html")
	require.NoError(t, err)
	html := string(data)
	assert.Contains(t, html, "echarts")
	assert.Contains(t, html, "whisk_2")
	assert.Contains(t, html, "bowl_3")
}

func TestWriteTrajectoryChart_NoData(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	assert.ErrorIs(t, WriteTrajectoryChart(mfs, "/out/t.html", "x", nil), ErrNoData)
}
