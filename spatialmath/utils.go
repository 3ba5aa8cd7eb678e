package spatialmath

import "math"

// NormalizeAngle wraps an angle in radians into [0, 2*pi).
func NormalizeAngle(rad float64) float64 {
	a := math.Mod(rad, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	if a >= 2*math.Pi {
		a = 0
	}
	return a
}

// WrappedAngleDiff returns the absolute angular distance between a and b in radians, accounting for
// wraparound. The result is within [0, pi].
func WrappedAngleDiff(a, b float64) float64 {
	d := math.Abs(NormalizeAngle(a) - NormalizeAngle(b))
	return math.Min(d, 2*math.Pi-d)
}

// YawDiff returns the wrapped yaw difference between two orientations in radians.
func YawDiff(a, b Orientation) float64 {
	return WrappedAngleDiff(Yaw(a.Quaternion()), Yaw(b.Quaternion()))
}
