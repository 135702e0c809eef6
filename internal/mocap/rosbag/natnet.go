package rosbag

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/mocap.report/internal/mocap"
)

// ErrNotFrame is returned when a tracking-topic message has no
// rigid_bodies array.
var ErrNotFrame = errors.New("message is not a tracking frame")

// frameFromMessage maps a decoded NatNet frame message onto a mocap.Frame.
// The frame number comes from a frame_number field when the message has
// one, otherwise from fallback. A body without pose.position keeps a nil
// Position so annotation can report it.
func frameFromMessage(msg map[string]any, fallback uint64) (*mocap.Frame, error) {
	raw, ok := msg["rigid_bodies"].([]any)
	if !ok {
		return nil, ErrNotFrame
	}

	frame := &mocap.Frame{FrameNumber: fallback}
	if n, ok := msg["frame_number"]; ok {
		v, ok := toFloat(n)
		if !ok || v < 0 {
			return nil, fmt.Errorf("frame_number: unexpected value %v", n)
		}
		frame.FrameNumber = uint64(v)
	}

	frame.RigidBodies = make([]mocap.RigidBody, 0, len(raw))
	for i, item := range raw {
		body, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("rigid_bodies[%d]: not a message", i)
		}
		rb, err := rigidBody(body)
		if err != nil {
			return nil, fmt.Errorf("rigid_bodies[%d]: %w", i, err)
		}
		frame.RigidBodies = append(frame.RigidBodies, rb)
	}
	return frame, nil
}

func rigidBody(m map[string]any) (mocap.RigidBody, error) {
	var rb mocap.RigidBody
	name, ok := m["name"].(string)
	if !ok {
		return rb, errors.New("missing name")
	}
	rb.Name = name

	if v, ok := toFloat(m["id"]); ok {
		if v < math.MinInt32 || v > math.MaxInt32 {
			return rb, fmt.Errorf("id %v out of range", v)
		}
		rb.ID = int32(v)
	}
	if v, ok := toFloat(m["error"]); ok {
		rb.Error = v
	}

	pose, _ := m["pose"].(map[string]any)
	if pos, ok := pose["position"].(map[string]any); ok {
		x, okX := toFloat(pos["x"])
		y, okY := toFloat(pos["y"])
		z, okZ := toFloat(pos["z"])
		if okX && okY && okZ {
			rb.Pose.Position = &r3.Vec{X: x, Y: y, Z: z}
		}
	}
	if q, ok := pose["orientation"].(map[string]any); ok {
		rb.Pose.Orientation.X, _ = toFloat(q["x"])
		rb.Pose.Orientation.Y, _ = toFloat(q["y"])
		rb.Pose.Orientation.Z, _ = toFloat(q["z"])
		rb.Pose.Orientation.W, _ = toFloat(q["w"])
	}
	return rb, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
