package batch

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/banshee-data/mocap.report/internal/downsample"
	"github.com/banshee-data/mocap.report/internal/fsutil"
	"github.com/banshee-data/mocap.report/internal/mocap"
	"github.com/banshee-data/mocap.report/internal/mocap/container"
	"github.com/banshee-data/mocap.report/internal/monitoring"
	"github.com/banshee-data/mocap.report/internal/report"
)

// DownsampleOptions configures DownsampleSubject.
type DownsampleOptions struct {
	FS    fsutil.FileSystem
	Gap   time.Duration
	Topic string

	// Plot writes an interval histogram next to each output container.
	Plot bool

	Ledger TakeRecorder
	RunID  string
}

// DownsampledDir returns the output directory for a subject directory.
func DownsampledDir(outputRoot, subjectDir string) string {
	return filepath.Join(outputRoot, "downsampled_"+filepath.Base(filepath.Clean(subjectDir)))
}

// DownsampleSubject downsamples every file in subjectDir into
// <outputRoot>/downsampled_<subject>/, keeping file names. Output is always
// a container, so a rosbag input take.bag is written as take.mocaplog.
func DownsampleSubject(ctx context.Context, subjectDir, outputRoot string, opts DownsampleOptions) (Summary, error) {
	if opts.FS == nil {
		opts.FS = fsutil.OSFileSystem{}
	}
	if opts.Topic == "" {
		opts.Topic = mocap.FrameTopic
	}
	outDir := DownsampledDir(outputRoot, subjectDir)

	return processFiles(ctx, opts.FS, subjectDir, opts.Ledger, opts.RunID, func(i int, name string) FileResult {
		res := FileResult{
			Index:  i,
			Source: filepath.Join(subjectDir, name),
			Dest:   filepath.Join(outDir, DownsampledName(name)),
		}
		st, err := downsampleFile(opts.FS, res.Source, res.Dest, opts.Topic, opts.Gap)
		res.RecordsRead = st.Read
		res.RecordsWritten = st.Written
		if err != nil {
			res.Err = fmt.Errorf("%s: %w", res.Source, err)
			return res
		}
		monitoring.Logf("%s: kept %d of %d records (mean interval %.1f ms, %.1f Hz)",
			name, st.Written, st.Read, st.MeanInterval*1000, st.RateHz)

		if opts.Plot {
			plotPath := filepath.Join(outDir, stem(name)+"_intervals.png")
			if err := report.WriteIntervalHistogram(opts.FS, plotPath, name, st.Intervals); err != nil {
				monitoring.Warnf("%s: interval plot not written: %v", name, err)
			}
		}
		return res
	})
}

// DownsampledName returns the output file name for an input file name.
func DownsampledName(name string) string {
	if isBag(name) {
		return stem(name) + container.FileExtension
	}
	return name
}

func downsampleFile(fsys fsutil.FileSystem, src, dst, topic string, gap time.Duration) (downsample.Stats, error) {
	r, err := openTake(fsys, src, topic)
	if err != nil {
		return downsample.Stats{}, err
	}
	defer r.Close()

	w, err := container.Create(fsys, dst)
	if err != nil {
		return downsample.Stats{}, err
	}
	st, err := downsample.Run(r, w, topic, gap)
	if cerr := w.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close %s: %w", dst, cerr)
	}
	if err == nil && w.Count() > 0 {
		first, last := w.Span()
		monitoring.Logf("%s: %d records written spanning %s to %s (%d source records decoded)",
			filepath.Base(dst), w.Count(), spanTime(first), spanTime(last), r.RecordsRead())
	}
	return st, err
}

func spanTime(tsNanos int64) string {
	return time.Unix(0, tsNanos).UTC().Format("15:04:05.000")
}
