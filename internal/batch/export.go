package batch

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/banshee-data/mocap.report/internal/annotate"
	"github.com/banshee-data/mocap.report/internal/fsutil"
	"github.com/banshee-data/mocap.report/internal/mocap"
	"github.com/banshee-data/mocap.report/internal/monitoring"
	"github.com/banshee-data/mocap.report/internal/objects"
	"github.com/banshee-data/mocap.report/internal/report"
)

// ExportOptions configures ExportTakes.
type ExportOptions struct {
	FS      fsutil.FileSystem
	Catalog *objects.Catalog
	Policy  annotate.Policy
	Topic   string

	// Chart writes a trajectory chart into each take directory.
	Chart bool

	Ledger TakeRecorder
	RunID  string
}

// TakeDir returns the directory of the index'th take.
func TakeDir(outputRoot string, index int) string {
	return filepath.Join(outputRoot, fmt.Sprintf("take_%d", index))
}

// ExportTakes exports every file in inputDir as a take. The take number is
// the file's position in sorted order, so a failed file still consumes its
// number.
func ExportTakes(ctx context.Context, inputDir, outputRoot string, opts ExportOptions) (Summary, error) {
	if opts.FS == nil {
		opts.FS = fsutil.OSFileSystem{}
	}
	if opts.Catalog == nil {
		opts.Catalog = objects.DefaultCatalog()
	}
	if opts.Topic == "" {
		opts.Topic = mocap.FrameTopic
	}

	return processFiles(ctx, opts.FS, inputDir, opts.Ledger, opts.RunID, func(i int, name string) FileResult {
		takeDir := TakeDir(outputRoot, i)
		res := FileResult{
			Index:  i,
			Source: filepath.Join(inputDir, name),
			Dest:   filepath.Join(takeDir, "3d_objects"),
		}
		tr, err := exportFile(opts, res.Source, res.Dest)
		res.RecordsRead = tr.RecordsRead
		res.FramesWritten = tr.FramesWritten
		if err != nil {
			res.Err = fmt.Errorf("%s: %w", res.Source, err)
			return res
		}
		monitoring.Logf("take %d: %s -> %d frames (%d empty, %d bodies skipped)",
			i, name, tr.FramesWritten, tr.EmptyFrames, tr.SkippedBodies)

		if opts.Chart {
			chartPath := filepath.Join(takeDir, "trajectories.html")
			if err := report.WriteTrajectoryChart(opts.FS, chartPath, fmt.Sprintf("take_%d (%s)", i, name), tr.Trajectories); err != nil {
				monitoring.Warnf("take %d: trajectory chart not written: %v", i, err)
			}
		}
		return res
	})
}

func exportFile(opts ExportOptions, src, outDir string) (annotate.TakeResult, error) {
	r, err := openTake(opts.FS, src, opts.Topic)
	if err != nil {
		return annotate.TakeResult{}, err
	}
	defer r.Close()

	return annotate.ExportTake(opts.FS, r, outDir, annotate.ExportOptions{
		Catalog:             opts.Catalog,
		Policy:              opts.Policy,
		Topic:               opts.Topic,
		CollectTrajectories: opts.Chart,
	})
}
