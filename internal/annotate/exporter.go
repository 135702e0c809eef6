package annotate

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/mocap.report/internal/fsutil"
	"github.com/banshee-data/mocap.report/internal/mocap"
	"github.com/banshee-data/mocap.report/internal/monitoring"
	"github.com/banshee-data/mocap.report/internal/objects"
)

// Policy selects how a take reacts to a rigid body that cannot be
// annotated.
type Policy string

const (
	// PolicyFail aborts the take on the first invalid body.
	PolicyFail Policy = "fail"
	// PolicySkip logs a warning and drops the body from its frame.
	PolicySkip Policy = "skip"
)

// ValidPolicies lists the accepted policy names.
var ValidPolicies = []Policy{PolicyFail, PolicySkip}

// ParsePolicy parses a policy name. The empty string selects PolicyFail.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyFail:
		return PolicyFail, nil
	case PolicySkip:
		return PolicySkip, nil
	}
	return "", fmt.Errorf("invalid policy %q: must be one of %v", s, ValidPolicies)
}

// ExportOptions configures ExportTake.
type ExportOptions struct {
	Catalog *objects.Catalog
	Policy  Policy
	Topic   string // tracking topic; mocap.FrameTopic when empty

	// CollectTrajectories records each exported object's centre, in
	// millimetres, keyed by instance name.
	CollectTrajectories bool
}

// TakeResult summarises one exported take.
type TakeResult struct {
	RecordsRead   int
	FramesWritten int
	EmptyFrames   int
	SkippedBodies int

	Trajectories map[string][]r3.Vec
}

// FrameFileName returns the output file name of the index'th written frame.
func FrameFileName(index int) string {
	return fmt.Sprintf("frame_%d.json", index)
}

// ExportTake reads tracking frames from r and writes one JSON document per
// non-empty frame into outDir as frame_0.json, frame_1.json and so on.
// Frames that end up with no objects produce no file and do not consume an
// index. The returned result is valid even when an error is returned.
func ExportTake(fsys fsutil.FileSystem, r mocap.RecordReader, outDir string, opts ExportOptions) (TakeResult, error) {
	var res TakeResult
	if opts.Catalog == nil {
		opts.Catalog = objects.DefaultCatalog()
	}
	if opts.Policy == "" {
		opts.Policy = PolicyFail
	}
	if opts.Topic == "" {
		opts.Topic = mocap.FrameTopic
	}
	if opts.CollectTrajectories {
		res.Trajectories = make(map[string][]r3.Vec)
	}

	if err := fsys.MkdirAll(outDir, 0755); err != nil {
		return res, fmt.Errorf("failed to create output directory: %w", err)
	}

	tracker := NewTracker()
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return res, nil
		}
		if err != nil {
			return res, fmt.Errorf("failed to read record %d: %w", res.RecordsRead, err)
		}
		res.RecordsRead++
		if rec.Topic != opts.Topic {
			continue
		}

		frame, err := mocap.UnmarshalFrame(rec.Payload)
		if err != nil {
			return res, fmt.Errorf("record %d: %w", res.RecordsRead-1, err)
		}
		if frame.IsEmpty() {
			res.EmptyFrames++
			continue
		}

		records, bodyErrs := DeriveFrame(opts.Catalog, tracker, frame)
		if len(bodyErrs) > 0 {
			if opts.Policy == PolicyFail {
				return res, fmt.Errorf("frame %d: %w", frame.FrameNumber, bodyErrs[0])
			}
			for _, be := range bodyErrs {
				monitoring.Warnf("frame %d: skipping %v", frame.FrameNumber, be)
			}
			res.SkippedBodies += len(bodyErrs)
		}
		if len(records) == 0 {
			res.EmptyFrames++
			continue
		}

		if err := writeFrame(fsys, filepath.Join(outDir, FrameFileName(res.FramesWritten)), records); err != nil {
			return res, err
		}
		res.FramesWritten++

		if res.Trajectories != nil {
			for _, o := range records {
				res.Trajectories[o.InstanceName] = append(res.Trajectories[o.InstanceName], o.BoundingBox.Centre())
			}
		}
	}
}

func writeFrame(fsys fsutil.FileSystem, path string, records []ObjectRecord) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := fsys.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
