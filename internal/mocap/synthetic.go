package mocap

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/spatial/r3"
)

// SyntheticGenerator produces tracking frames of bodies orbiting a table top,
// for sample containers and tests.
type SyntheticGenerator struct {
	frameNumber uint64
	startNs     int64
	bodies      []string

	// Configuration
	FrameRate       float64 // frames per second
	JitterFraction  float64 // timestamp jitter as a fraction of the frame period
	OrbitRadius     float64 // metres
	TableHeight     float64 // metres, y of the orbit plane
	AngularSpeed    float64 // radians per second
	EmptyFrameRatio float64 // probability a frame reports no bodies
	MaxError        float64 // upper bound of per-body tracking error

	rng *rand.Rand
}

// NewSyntheticGenerator creates a generator for the named bodies. Output is
// deterministic for a given seed.
func NewSyntheticGenerator(bodies []string, startNs, seed int64) *SyntheticGenerator {
	return &SyntheticGenerator{
		startNs:         startNs,
		bodies:          bodies,
		FrameRate:       120.0,
		JitterFraction:  0.1,
		OrbitRadius:     0.4,
		TableHeight:     0.9,
		AngularSpeed:    0.5,
		EmptyFrameRatio: 0.02,
		MaxError:        0.05,
		rng:             rand.New(rand.NewSource(seed)),
	}
}

// NextRecord generates the next tracking-topic record.
func (g *SyntheticGenerator) NextRecord() Record {
	g.frameNumber++
	period := 1e9 / g.FrameRate
	jitter := (g.rng.Float64()*2 - 1) * g.JitterFraction * period
	ts := g.startNs + int64(float64(g.frameNumber-1)*period+jitter)
	elapsed := float64(ts-g.startNs) / 1e9

	frame := &Frame{FrameNumber: g.frameNumber}
	if g.rng.Float64() >= g.EmptyFrameRatio {
		for i, name := range g.bodies {
			phase := 2 * math.Pi * float64(i) / float64(len(g.bodies))
			angle := phase + g.AngularSpeed*elapsed
			pos := r3.Vec{
				X: g.OrbitRadius * math.Cos(angle),
				Y: g.TableHeight + 0.05*math.Sin(3*angle),
				Z: g.OrbitRadius * math.Sin(angle),
			}
			frame.RigidBodies = append(frame.RigidBodies, RigidBody{
				Name:  name,
				ID:    int32(i + 1),
				Pose:  Pose{Position: &pos, Orientation: Quaternion{W: 1}},
				Error: g.rng.Float64() * g.MaxError,
			})
		}
	}

	return NewFrameRecord(ts, frame)
}
