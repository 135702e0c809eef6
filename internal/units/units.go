// Package units provides length conversions between the tracking system's
// native metres and the millimetres used in exported annotations.
package units

// MillimetresPerMetre is the scale factor applied to exported box bounds.
const MillimetresPerMetre = 1000.0

// Millimetres is the unit symbol used in chart labels.
const Millimetres = "mm"

// MetresToMillimetres scales a metre value to millimetres.
func MetresToMillimetres(m float64) float64 {
	return m * MillimetresPerMetre
}
