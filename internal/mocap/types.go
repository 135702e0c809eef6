package mocap

import (
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

// FrameTopic is the topic the NatNet bridge publishes tracking frames on.
const FrameTopic = "/natnet_node/natnet_frame"

// Record is one timestamped message in a container.
type Record struct {
	Topic          string
	TimestampNanos int64
	Payload        []byte
}

// RecordReader yields records in file order and returns io.EOF after the
// last one.
type RecordReader interface {
	Next() (Record, error)
}

// Since returns the elapsed time between prev and r.
func (r Record) Since(prev Record) time.Duration {
	return time.Duration(r.TimestampNanos - prev.TimestampNanos)
}

// Quaternion is a rigid-body orientation. It is carried through the codec
// but not used by bounding-box derivation.
type Quaternion struct {
	X, Y, Z, W float64
}

// Pose is a rigid-body pose in metres.
type Pose struct {
	// Position is nil when the tracker reported no position for the body.
	Position    *r3.Vec
	Orientation Quaternion
}

// RigidBody is a tracked object's identity and pose within one frame.
type RigidBody struct {
	Name  string
	ID    int32
	Pose  Pose
	Error float64
}

// Frame is the payload of a tracking-topic record.
type Frame struct {
	FrameNumber uint64
	RigidBodies []RigidBody
}

// IsEmpty reports whether the frame carries no rigid bodies.
func (f *Frame) IsEmpty() bool {
	return f == nil || len(f.RigidBodies) == 0
}

// NewFrameRecord encodes frame as the payload of a tracking-topic record.
func NewFrameRecord(timestampNanos int64, frame *Frame) Record {
	return Record{
		Topic:          FrameTopic,
		TimestampNanos: timestampNanos,
		Payload:        MarshalFrame(frame),
	}
}
