package mocap

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gonum.org/v1/gonum/spatial/r3"
	"google.golang.org/protobuf/encoding/protowire"
)

func vec(x, y, z float64) *r3.Vec {
	return &r3.Vec{X: x, Y: y, Z: z}
}

func TestFrameRoundTrip(t *testing.T) {
	in := &Frame{
		FrameNumber: 4211,
		RigidBodies: []RigidBody{
			{Name: "Whisk", ID: 3, Pose: Pose{Position: vec(1, 1, 1), Orientation: Quaternion{W: 1}}, Error: 0.1},
			{Name: "HandLeft", ID: -7, Pose: Pose{Position: vec(-0.25, 0.9, 0.125)}, Error: 0.002},
		},
	}

	out, err := UnmarshalFrame(MarshalFrame(in))
	if err != nil {
		t.Fatalf("UnmarshalFrame: %v", err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestFrameMissingPosition(t *testing.T) {
	in := &Frame{RigidBodies: []RigidBody{{Name: "Bowl", ID: 1, Error: 0.3}}}

	out, err := UnmarshalFrame(MarshalFrame(in))
	if err != nil {
		t.Fatalf("UnmarshalFrame: %v", err)
	}
	if len(out.RigidBodies) != 1 {
		t.Fatalf("got %d bodies, want 1", len(out.RigidBodies))
	}
	if p := out.RigidBodies[0].Pose.Position; p != nil {
		t.Errorf("Position = %v, want nil", p)
	}
	if name := out.RigidBodies[0].Name; name != "Bowl" {
		t.Errorf("Name = %q, want Bowl", name)
	}
}

func TestEmptyFrame(t *testing.T) {
	out, err := UnmarshalFrame(MarshalFrame(&Frame{}))
	if err != nil {
		t.Fatalf("UnmarshalFrame: %v", err)
	}
	if !out.IsEmpty() {
		t.Error("decoded empty frame is not empty")
	}
	if !(*Frame)(nil).IsEmpty() {
		t.Error("nil frame is not empty")
	}
}

func TestUnmarshalSkipsUnknownFields(t *testing.T) {
	b := MarshalFrame(&Frame{FrameNumber: 9, RigidBodies: []RigidBody{{Name: "Bottle", ID: 2, Pose: Pose{Position: vec(0, 0, 0)}}}})
	b = protowire.AppendTag(b, 15, protowire.BytesType)
	b = protowire.AppendString(b, "latency-report")

	out, err := UnmarshalFrame(b)
	if err != nil {
		t.Fatalf("UnmarshalFrame: %v", err)
	}
	if out.FrameNumber != 9 {
		t.Errorf("FrameNumber = %d, want 9", out.FrameNumber)
	}
	if len(out.RigidBodies) != 1 {
		t.Errorf("got %d bodies, want 1", len(out.RigidBodies))
	}
}

func TestUnmarshalTruncated(t *testing.T) {
	b := MarshalFrame(&Frame{RigidBodies: []RigidBody{{Name: "Whisk", ID: 5, Pose: Pose{Position: vec(1, 2, 3)}}}})

	_, err := UnmarshalFrame(b[:len(b)-3])
	if !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("err = %v, want ErrMalformedFrame", err)
	}
}

func TestRecordSince(t *testing.T) {
	a := Record{TimestampNanos: 1_000_000_000}
	b := Record{TimestampNanos: 1_016_000_000}

	if got := b.Since(a).Milliseconds(); got != 16 {
		t.Errorf("Since = %d ms, want 16", got)
	}
}

func TestSyntheticGenerator(t *testing.T) {
	bodies := []string{"Whisk", "Bowl"}
	gen := NewSyntheticGenerator(bodies, 1_700_000_000_000_000_000, 42)
	gen.EmptyFrameRatio = 0

	var prev int64
	for i := 0; i < 50; i++ {
		rec := gen.NextRecord()
		if rec.Topic != FrameTopic {
			t.Fatalf("record %d topic = %q", i, rec.Topic)
		}
		if i > 0 && rec.TimestampNanos <= prev {
			t.Fatalf("record %d timestamp %d does not follow %d", i, rec.TimestampNanos, prev)
		}
		prev = rec.TimestampNanos

		frame, err := UnmarshalFrame(rec.Payload)
		if err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		if len(frame.RigidBodies) != 2 {
			t.Fatalf("record %d: got %d bodies, want 2", i, len(frame.RigidBodies))
		}
		if frame.FrameNumber != uint64(i+1) {
			t.Errorf("record %d: FrameNumber = %d", i, frame.FrameNumber)
		}
		for _, rb := range frame.RigidBodies {
			if rb.Pose.Position == nil {
				t.Fatalf("record %d: %s has no position", i, rb.Name)
			}
			if rb.Error < 0 || rb.Error >= gen.MaxError {
				t.Errorf("record %d: %s error %v outside [0, %v)", i, rb.Name, rb.Error, gen.MaxError)
			}
		}
	}
}

func TestSyntheticGeneratorDeterministic(t *testing.T) {
	a := NewSyntheticGenerator([]string{"Whisk"}, 0, 7)
	b := NewSyntheticGenerator([]string{"Whisk"}, 0, 7)

	for i := 0; i < 10; i++ {
		if diff := cmp.Diff(a.NextRecord(), b.NextRecord()); diff != "" {
			t.Fatalf("record %d differs:\n%s", i, diff)
		}
	}
}
