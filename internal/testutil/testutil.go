// Package testutil provides shared test utilities and fixtures.
//
// This package centralises common test helpers to reduce code duplication
// across test files and improve test maintainability.
package testutil

import (
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/mocap.report/internal/fsutil"
	"github.com/banshee-data/mocap.report/internal/mocap"
	"github.com/banshee-data/mocap.report/internal/mocap/container"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// Body returns a rigid body at the given position in metres.
func Body(name string, id int32, x, y, z, trackErr float64) mocap.RigidBody {
	return mocap.RigidBody{
		Name:  name,
		ID:    id,
		Pose:  mocap.Pose{Position: &r3.Vec{X: x, Y: y, Z: z}, Orientation: mocap.Quaternion{W: 1}},
		Error: trackErr,
	}
}

// FrameRecord returns a tracking-topic record at tsNanos carrying bodies.
func FrameRecord(tsNanos int64, frameNumber uint64, bodies ...mocap.RigidBody) mocap.Record {
	return mocap.NewFrameRecord(tsNanos, &mocap.Frame{FrameNumber: frameNumber, RigidBodies: bodies})
}

// WriteContainer writes records to a new container at path on fsys.
func WriteContainer(t testing.TB, fsys fsutil.FileSystem, path string, records ...mocap.Record) {
	t.Helper()
	w, err := container.Create(fsys, path)
	AssertNoError(t, err)
	for _, rec := range records {
		AssertNoError(t, w.Write(rec))
	}
	AssertNoError(t, w.Close())
}

// OpenContainer opens the container at path, failing the test on error.
func OpenContainer(t testing.TB, fsys fsutil.FileSystem, path string, topics ...string) *container.Reader {
	t.Helper()
	r, err := container.Open(fsys, path, topics...)
	AssertNoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}
