package annotate

import (
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/mocap.report/internal/fsutil"
	"github.com/banshee-data/mocap.report/internal/mocap"
	"github.com/banshee-data/mocap.report/internal/mocap/container"
	"github.com/banshee-data/mocap.report/internal/mocap/rosbag"
	"github.com/banshee-data/mocap.report/internal/monitoring"
	"github.com/banshee-data/mocap.report/internal/objects"
	"github.com/banshee-data/mocap.report/internal/testutil"
)

const outDir = "/out/take_0/3d_objects"

func exportFrom(t *testing.T, opts ExportOptions, records ...mocap.Record) (*fsutil.MemoryFileSystem, TakeResult, error) {
	t.Helper()
	mfs := fsutil.NewMemoryFileSystem()
	testutil.WriteContainer(t, mfs, "/in/take.mocaplog", records...)
	r := testutil.OpenContainer(t, mfs, "/in/take.mocaplog", mocap.FrameTopic)
	res, err := ExportTake(mfs, r, outDir, opts)
	return mfs, res, err
}

func readFrame(t *testing.T, mfs *fsutil.MemoryFileSystem, name string) []ObjectRecord {
	t.Helper()
	data, err := mfs.ReadFile(outDir + "/" + name)
	require.NoError(t, err)
	var out []ObjectRecord
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{"", PolicyFail, false},
		{"fail", PolicyFail, false},
		{"skip", PolicySkip, false},
		{"ignore", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePolicy(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExportTake_WritesFramesInOrder(t *testing.T) {
	mfs, res, err := exportFrom(t, ExportOptions{},
		testutil.FrameRecord(0, 1, testutil.Body("Whisk", 1, 1, 1, 1, 0.1)),
		testutil.FrameRecord(10, 2, testutil.Body("Whisk", 1, 1.5, 1, 1, 0.2)),
	)
	require.NoError(t, err)
	assert.Equal(t, 2, res.FramesWritten)
	assert.Equal(t, 2, res.RecordsRead)
	assert.Equal(t, []string{
		"/in/take.mocaplog",
		outDir + "/frame_0.json",
		outDir + "/frame_1.json",
	}, mfs.Files())

	f0 := readFrame(t, mfs, "frame_0.json")
	require.Len(t, f0, 1)
	assert.Equal(t, 0.9, f0[0].Certainty)
	assert.Equal(t, 5, f0[0].ClassIndex)
	assert.InDelta(t, 975.0, f0[0].BoundingBox.X0, 1e-9)
	assert.Equal(t, f0[0].BoundingBox, f0[0].PastBoundingBox)

	f1 := readFrame(t, mfs, "frame_1.json")
	require.Len(t, f1, 1)
	assert.Equal(t, 0.8, f1[0].Certainty)
	assert.Equal(t, f0[0].BoundingBox, f1[0].PastBoundingBox)
}

func TestExportTake_EmptyFramesDoNotAdvanceIndex(t *testing.T) {
	mfs, res, err := exportFrom(t, ExportOptions{},
		testutil.FrameRecord(0, 1, testutil.Body("Bowl", 1, 0, 1, 0, 0)),
		testutil.FrameRecord(10, 2),
		testutil.FrameRecord(20, 3, testutil.Body("Bowl", 1, 0, 1, 0.1, 0)),
	)
	require.NoError(t, err)
	assert.Equal(t, 2, res.FramesWritten)
	assert.Equal(t, 1, res.EmptyFrames)
	assert.True(t, mfs.Exists(outDir+"/frame_1.json"))
	assert.False(t, mfs.Exists(outDir+"/frame_2.json"))
}

func TestExportTake_JSONLayout(t *testing.T) {
	mfs, _, err := exportFrom(t, ExportOptions{},
		testutil.FrameRecord(0, 1, testutil.Body("Bottle", 1, 0, 0, 0, 0)),
	)
	require.NoError(t, err)

	data, err := mfs.ReadFile(outDir + "/frame_0.json")
	require.NoError(t, err)
	text := string(data)

	assert.True(t, strings.HasPrefix(text, "[\n  {\n    \"bounding_box\": {"), "unexpected layout:\n%s", text)
	keys := []string{`"bounding_box"`, `"certainty"`, `"class_index"`, `"class_name"`, `"colour"`, `"instance_name"`, `"past_bounding_box"`}
	last := -1
	for _, k := range keys {
		idx := strings.Index(text, k)
		require.GreaterOrEqual(t, idx, 0, "missing key %s", k)
		assert.Greater(t, idx, last, "key %s out of order", k)
		last = idx
	}
}

func TestExportTake_FailPolicyAborts(t *testing.T) {
	mfs, res, err := exportFrom(t, ExportOptions{Policy: PolicyFail},
		testutil.FrameRecord(0, 1, testutil.Body("Bowl", 1, 0, 0, 0, 0)),
		testutil.FrameRecord(10, 2, testutil.Body("Spatula", 9, 0, 0, 0, 0)),
		testutil.FrameRecord(20, 3, testutil.Body("Bowl", 1, 0, 0, 0, 0)),
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, objects.ErrUnmappedObject)
	assert.Contains(t, err.Error(), "frame 2")
	assert.Equal(t, 1, res.FramesWritten)
	assert.False(t, mfs.Exists(outDir+"/frame_1.json"))
}

func TestExportTake_MissingPositionFails(t *testing.T) {
	_, _, err := exportFrom(t, ExportOptions{},
		mocap.NewFrameRecord(0, &mocap.Frame{FrameNumber: 1, RigidBodies: []mocap.RigidBody{{Name: "Bowl", ID: 1}}}),
	)
	assert.ErrorIs(t, err, ErrMissingPosition)
}

func TestExportTake_NonFiniteBody(t *testing.T) {
	records := []mocap.Record{
		testutil.FrameRecord(0, 1,
			testutil.Body("Bowl", 1, 0, 0, 0, 0),
			testutil.Body("Whisk", 2, 0, 0, 0, math.NaN()),
		),
		testutil.FrameRecord(10, 2, testutil.Body("Whisk", 2, math.Inf(1), 0, 0, 0)),
	}

	t.Run("fail", func(t *testing.T) {
		mfs, res, err := exportFrom(t, ExportOptions{Policy: PolicyFail}, records...)
		require.ErrorIs(t, err, ErrNonFinite)
		assert.Contains(t, err.Error(), "frame 1")
		assert.Equal(t, 0, res.FramesWritten)
		assert.False(t, mfs.Exists(outDir+"/frame_0.json"))
	})

	t.Run("skip", func(t *testing.T) {
		monitoring.SetLogger(func(string, ...interface{}) {})
		t.Cleanup(func() { monitoring.SetLogger(nil) })

		mfs, res, err := exportFrom(t, ExportOptions{Policy: PolicySkip}, records...)
		require.NoError(t, err)
		assert.Equal(t, 1, res.FramesWritten)
		assert.Equal(t, 2, res.SkippedBodies)

		f0 := readFrame(t, mfs, "frame_0.json")
		require.Len(t, f0, 1)
		assert.Equal(t, "bowl_3", f0[0].InstanceName)
	})
}

func TestExportTake_PastBoxAcrossFrames(t *testing.T) {
	mfs, res, err := exportFrom(t, ExportOptions{},
		testutil.FrameRecord(0, 1, testutil.Body("Whisk", 3, 1.0, 1, 1, 0)),
		testutil.FrameRecord(10, 2, testutil.Body("Whisk", 3, 1.5, 1, 1, 0)),
		testutil.FrameRecord(20, 3, testutil.Body("Whisk", 3, 2.0, 1, 1, 0)),
	)
	require.NoError(t, err)
	require.Equal(t, 3, res.FramesWritten)

	second := readFrame(t, mfs, "frame_1.json")
	third := readFrame(t, mfs, "frame_2.json")
	assert.Equal(t, second[0].BoundingBox, third[0].PastBoundingBox)
	assert.InDelta(t, 1475.0, third[0].PastBoundingBox.X0, 1e-9)
}

func TestExportTake_FromRosbag(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	testutil.WriteNatNetBag(t, mfs, "/in/take.bag",
		testutil.FrameRecord(1_000_000_000, 1, testutil.Body("Whisk", 3, 1, 1, 1, 0.1)),
		testutil.FrameRecord(1_016_000_000, 2),
		testutil.FrameRecord(1_032_000_000, 3, testutil.Body("Bowl", 1, 0, 0, 0, 0)),
	)
	r, err := rosbag.Open(mfs, "/in/take.bag", "")
	require.NoError(t, err)
	defer r.Close()

	res, err := ExportTake(mfs, r, outDir, ExportOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.FramesWritten)
	assert.Equal(t, 1, res.EmptyFrames)

	f0 := readFrame(t, mfs, "frame_0.json")
	require.Len(t, f0, 1)
	assert.Equal(t, "whisk_2", f0[0].InstanceName)
	assert.InDelta(t, 975.0, f0[0].BoundingBox.X0, 1e-9)
	assert.InDelta(t, 0.9, f0[0].Certainty, 1e-12)
}

func TestExportTake_SkipPolicy(t *testing.T) {
	var warnings []string
	monitoring.SetLogger(func(format string, v ...interface{}) {
		warnings = append(warnings, format)
	})
	t.Cleanup(func() { monitoring.SetLogger(nil) })

	mfs, res, err := exportFrom(t, ExportOptions{Policy: PolicySkip},
		testutil.FrameRecord(0, 1,
			testutil.Body("Bowl", 1, 0, 0, 0, 0),
			testutil.Body("Spatula", 9, 0, 0, 0, 0),
		),
		// Every body skipped: no file and no index consumed.
		testutil.FrameRecord(10, 2, testutil.Body("Spatula", 9, 0, 0, 0, 0)),
		testutil.FrameRecord(20, 3, testutil.Body("Bowl", 1, 0, 0, 0, 0)),
	)
	require.NoError(t, err)
	assert.Equal(t, 2, res.FramesWritten)
	assert.Equal(t, 2, res.SkippedBodies)
	assert.Len(t, warnings, 2)

	f0 := readFrame(t, mfs, "frame_0.json")
	require.Len(t, f0, 1)
	assert.Equal(t, "bowl_3", f0[0].InstanceName)
	assert.True(t, mfs.Exists(outDir+"/frame_1.json"))
	assert.False(t, mfs.Exists(outDir+"/frame_2.json"))
}

func TestExportTake_IgnoresOtherTopics(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	testutil.WriteContainer(t, mfs, "/in/take.mocaplog",
		mocap.Record{Topic: "/camera/image", TimestampNanos: 0, Payload: []byte("not a frame")},
		testutil.FrameRecord(5, 1, testutil.Body("Bowl", 1, 0, 0, 0, 0)),
	)
	r := testutil.OpenContainer(t, mfs, "/in/take.mocaplog")

	res, err := ExportTake(mfs, r, outDir, ExportOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.FramesWritten)
}

func TestExportTake_MalformedPayload(t *testing.T) {
	_, _, err := exportFrom(t, ExportOptions{},
		mocap.Record{Topic: mocap.FrameTopic, TimestampNanos: 0, Payload: []byte{0x0a, 0xff}},
	)
	assert.ErrorIs(t, err, mocap.ErrMalformedFrame)
}

func TestExportTake_TrackerPerTake(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	testutil.WriteContainer(t, mfs, "/in/a.mocaplog", testutil.FrameRecord(0, 1, testutil.Body("Bowl", 1, 0, 0, 0, 0)))
	testutil.WriteContainer(t, mfs, "/in/b.mocaplog", testutil.FrameRecord(0, 1, testutil.Body("Bowl", 1, 1, 1, 1, 0)))

	for i, name := range []string{"/in/a.mocaplog", "/in/b.mocaplog"} {
		r := testutil.OpenContainer(t, mfs, name)
		dir := "/out/take_" + string(rune('0'+i)) + "/3d_objects"
		_, err := ExportTake(mfs, r, dir, ExportOptions{})
		require.NoError(t, err)
	}

	data, err := mfs.ReadFile("/out/take_1/3d_objects/frame_0.json")
	require.NoError(t, err)
	var recs []ObjectRecord
	require.NoError(t, json.Unmarshal(data, &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, recs[0].BoundingBox, recs[0].PastBoundingBox)
}

func TestExportTake_CollectTrajectories(t *testing.T) {
	_, res, err := exportFrom(t, ExportOptions{CollectTrajectories: true},
		testutil.FrameRecord(0, 1, testutil.Body("Bowl", 1, 0, 0, 0, 0)),
		testutil.FrameRecord(10, 2, testutil.Body("Bowl", 1, 0.5, 0, 0, 0)),
	)
	require.NoError(t, err)
	traj := res.Trajectories["bowl_3"]
	require.Len(t, traj, 2)
	assert.InDelta(t, 500.0, traj[1].X, 1e-9)
}

func TestExportTake_CorruptContainer(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	testutil.WriteContainer(t, mfs, "/in/take.mocaplog",
		testutil.FrameRecord(0, 1, testutil.Body("Bowl", 1, 0, 0, 0, 0)),
	)
	data, err := mfs.ReadFile("/in/take.mocaplog")
	require.NoError(t, err)
	require.NoError(t, mfs.WriteFile("/in/take.mocaplog", data[:len(data)-3], 0644))

	r := testutil.OpenContainer(t, mfs, "/in/take.mocaplog")
	_, err = ExportTake(mfs, r, outDir, ExportOptions{})
	assert.ErrorIs(t, err, container.ErrCorrupt)
}
