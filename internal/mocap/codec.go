package mocap

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMalformedFrame is returned when a payload is not a valid encoded frame.
var ErrMalformedFrame = errors.New("malformed frame payload")

// Field numbers of the frame wire format.
const (
	fieldFrameNumber protowire.Number = 1
	fieldRigidBodies protowire.Number = 2

	fieldBodyName  protowire.Number = 1
	fieldBodyID    protowire.Number = 2
	fieldBodyPose  protowire.Number = 3
	fieldBodyError protowire.Number = 4

	fieldPosePosition    protowire.Number = 1
	fieldPoseOrientation protowire.Number = 2
)

// MarshalFrame encodes a frame in protobuf wire format.
func MarshalFrame(f *Frame) []byte {
	var b []byte
	if f == nil {
		return b
	}
	if f.FrameNumber != 0 {
		b = protowire.AppendTag(b, fieldFrameNumber, protowire.VarintType)
		b = protowire.AppendVarint(b, f.FrameNumber)
	}
	for i := range f.RigidBodies {
		b = protowire.AppendTag(b, fieldRigidBodies, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalBody(&f.RigidBodies[i]))
	}
	return b
}

func marshalBody(rb *RigidBody) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldBodyName, protowire.BytesType)
	b = protowire.AppendString(b, rb.Name)
	b = protowire.AppendTag(b, fieldBodyID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(int64(rb.ID)))
	b = protowire.AppendTag(b, fieldBodyPose, protowire.BytesType)
	b = protowire.AppendBytes(b, marshalPose(&rb.Pose))
	b = appendDouble(b, fieldBodyError, rb.Error)
	return b
}

func marshalPose(p *Pose) []byte {
	var b []byte
	if p.Position != nil {
		var pos []byte
		pos = appendDouble(pos, 1, p.Position.X)
		pos = appendDouble(pos, 2, p.Position.Y)
		pos = appendDouble(pos, 3, p.Position.Z)
		b = protowire.AppendTag(b, fieldPosePosition, protowire.BytesType)
		b = protowire.AppendBytes(b, pos)
	}
	var q []byte
	q = appendDouble(q, 1, p.Orientation.X)
	q = appendDouble(q, 2, p.Orientation.Y)
	q = appendDouble(q, 3, p.Orientation.Z)
	q = appendDouble(q, 4, p.Orientation.W)
	b = protowire.AppendTag(b, fieldPoseOrientation, protowire.BytesType)
	b = protowire.AppendBytes(b, q)
	return b
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

// UnmarshalFrame decodes a frame payload. Unknown fields are skipped.
func UnmarshalFrame(b []byte) (*Frame, error) {
	f := &Frame{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch {
		case num == fieldFrameNumber && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(v)
			f.FrameNumber = x
			return n, nil
		case num == fieldRigidBodies && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(v)
			if n < 0 {
				return n, nil
			}
			rb, err := unmarshalBody(raw)
			if err != nil {
				return 0, fmt.Errorf("rigid body %d: %w", len(f.RigidBodies), err)
			}
			f.RigidBodies = append(f.RigidBodies, rb)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, v), nil
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

func unmarshalBody(b []byte) (RigidBody, error) {
	var rb RigidBody
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch {
		case num == fieldBodyName && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(v)
			rb.Name = s
			return n, nil
		case num == fieldBodyID && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(v)
			rb.ID = int32(x)
			return n, nil
		case num == fieldBodyPose && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(v)
			if n < 0 {
				return n, nil
			}
			pose, err := unmarshalPose(raw)
			if err != nil {
				return 0, err
			}
			rb.Pose = pose
			return n, nil
		case num == fieldBodyError && typ == protowire.Fixed64Type:
			x, n := protowire.ConsumeFixed64(v)
			rb.Error = math.Float64frombits(x)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, v), nil
	})
	return rb, err
}

func unmarshalPose(b []byte) (Pose, error) {
	var p Pose
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		if typ != protowire.BytesType || (num != fieldPosePosition && num != fieldPoseOrientation) {
			return protowire.ConsumeFieldValue(num, typ, v), nil
		}
		raw, n := protowire.ConsumeBytes(v)
		if n < 0 {
			return n, nil
		}
		vals, err := unmarshalDoubles(raw)
		if err != nil {
			return 0, err
		}
		if num == fieldPosePosition {
			p.Position = &r3.Vec{X: vals[1], Y: vals[2], Z: vals[3]}
		} else {
			p.Orientation = Quaternion{X: vals[1], Y: vals[2], Z: vals[3], W: vals[4]}
		}
		return n, nil
	})
	return p, err
}

// unmarshalDoubles reads fixed64 fields 1..4 into a 1-indexed array.
func unmarshalDoubles(b []byte) ([5]float64, error) {
	var out [5]float64
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		if typ == protowire.Fixed64Type && num >= 1 && num <= 4 {
			x, n := protowire.ConsumeFixed64(v)
			out[num] = math.Float64frombits(x)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, v), nil
	})
	return out, err
}

// walkFields iterates the fields of a message. fn consumes the field value
// starting at v and returns the number of bytes read, negative on a wire
// error.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformedFrame, protowire.ParseError(n))
		}
		b = b[n:]
		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrMalformedFrame, num, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return nil
}
