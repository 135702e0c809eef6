// Package batch drives the downsampler and frame exporter over a directory
// of containers and rosbags. Each file is processed in isolation: a failure is logged
// and recorded, and the batch moves on to the next file.
package batch

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/banshee-data/mocap.report/internal/fsutil"
	"github.com/banshee-data/mocap.report/internal/ledger"
	"github.com/banshee-data/mocap.report/internal/mocap"
	"github.com/banshee-data/mocap.report/internal/mocap/container"
	"github.com/banshee-data/mocap.report/internal/mocap/rosbag"
	"github.com/banshee-data/mocap.report/internal/monitoring"
)

// TakeRecorder stores per-file outcomes. *ledger.Ledger implements it.
type TakeRecorder interface {
	RecordTake(t ledger.Take) error
}

// FileResult is the outcome of one input file.
type FileResult struct {
	Index  int
	Source string
	Dest   string
	Err    error

	RecordsRead    int
	RecordsWritten int
	FramesWritten  int
}

// Summary collects the results of a batch in processing order.
type Summary struct {
	Results []FileResult
}

// Processed returns the number of files attempted.
func (s Summary) Processed() int { return len(s.Results) }

// Failed returns the number of files that failed.
func (s Summary) Failed() int {
	n := 0
	for _, r := range s.Results {
		if r.Err != nil {
			n++
		}
	}
	return n
}

// Err returns a summary error when any file failed.
func (s Summary) Err() error {
	if n := s.Failed(); n > 0 {
		return fmt.Errorf("%d of %d files failed", n, s.Processed())
	}
	return nil
}

// ListInputs returns the regular entries of dir sorted by name.
// Sub-directories are skipped.
func ListInputs(fsys fsutil.FileSystem, dir string) ([]string, error) {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// processFiles runs fn over every input in order, stopping early only when
// ctx is cancelled.
func processFiles(ctx context.Context, fsys fsutil.FileSystem, dir string, rec TakeRecorder, runID string,
	fn func(index int, name string) FileResult) (Summary, error) {
	var sum Summary
	names, err := ListInputs(fsys, dir)
	if err != nil {
		return sum, err
	}

	for i, name := range names {
		if err := ctx.Err(); err != nil {
			return sum, fmt.Errorf("batch interrupted after %d of %d files: %w", i, len(names), err)
		}
		res := fn(i, name)
		if res.Err != nil {
			monitoring.Logf("failed to process %s: %v", res.Source, res.Err)
		}
		sum.Results = append(sum.Results, res)
		record(rec, runID, res)
	}
	return sum, nil
}

func record(rec TakeRecorder, runID string, res FileResult) {
	if rec == nil {
		return
	}
	t := ledger.Take{
		RunID:          runID,
		Index:          res.Index,
		Source:         res.Source,
		Dest:           res.Dest,
		Status:         ledger.StatusSucceeded,
		RecordsRead:    res.RecordsRead,
		RecordsWritten: res.RecordsWritten,
		FramesWritten:  res.FramesWritten,
	}
	if res.Err != nil {
		t.Status = ledger.StatusFailed
		t.Error = res.Err.Error()
	}
	if err := rec.RecordTake(t); err != nil {
		monitoring.Warnf("ledger: %v", err)
	}
}

// takeReader is a record source opened from an input file.
type takeReader interface {
	mocap.RecordReader
	io.Closer
	RecordsRead() uint64
}

func isBag(name string) bool {
	return strings.EqualFold(filepath.Ext(name), rosbag.FileExtension)
}

// openTake opens src as a rosbag when it has the .bag extension and as a
// container otherwise.
func openTake(fsys fsutil.FileSystem, src, topic string) (takeReader, error) {
	if isBag(src) {
		r, err := rosbag.Open(fsys, src, topic)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
	r, err := container.Open(fsys, src, topic)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func stem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}
