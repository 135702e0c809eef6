package annotate

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/mocap.report/internal/units"
)

// BoundingBox is an axis-aligned box in millimetres.
type BoundingBox struct {
	X0 float64 `json:"x0"`
	X1 float64 `json:"x1"`
	Y0 float64 `json:"y0"`
	Y1 float64 `json:"y1"`
	Z0 float64 `json:"z0"`
	Z1 float64 `json:"z1"`
}

// NewBoundingBox builds the box centred on centre with the given
// half-extents. Inputs are metres; each bound is scaled to millimetres after
// the offset is applied.
func NewBoundingBox(centre, half r3.Vec) BoundingBox {
	lo := r3.Sub(centre, half)
	hi := r3.Add(centre, half)
	return BoundingBox{
		X0: units.MetresToMillimetres(lo.X),
		X1: units.MetresToMillimetres(hi.X),
		Y0: units.MetresToMillimetres(lo.Y),
		Y1: units.MetresToMillimetres(hi.Y),
		Z0: units.MetresToMillimetres(lo.Z),
		Z1: units.MetresToMillimetres(hi.Z),
	}
}

// Centre returns the box centre in millimetres.
func (b BoundingBox) Centre() r3.Vec {
	return r3.Vec{X: (b.X0 + b.X1) / 2, Y: (b.Y0 + b.Y1) / 2, Z: (b.Z0 + b.Z1) / 2}
}
