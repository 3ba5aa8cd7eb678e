package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

type quaternion quat.Number

// Quaternion returns orientation in quaternion representation.
func (q *quaternion) Quaternion() quat.Number {
	return quat.Number(*q)
}

// AxisAngles returns the orientation in axis angle representation.
func (q *quaternion) AxisAngles() *R4AA {
	aa := QuatToR4AA(q.Quaternion())
	return &aa
}

// EulerAngles returns orientation in Euler angle representation.
func (q *quaternion) EulerAngles() *EulerAngles {
	return QuatToEulerAngles(q.Quaternion())
}

// RotationMatrix returns the orientation in rotation matrix representation.
func (q *quaternion) RotationMatrix() *RotationMatrix {
	return QuatToRotationMatrix(q.Quaternion())
}

// NewQuaternion wraps a quaternion as an Orientation, normalizing it first.
func NewQuaternion(q quat.Number) Orientation {
	n := Normalize(q)
	return (*quaternion)(&n)
}

// Norm returns the norm of the quaternion, i.e. the sqrt of the sum of the squares of the imaginary parts.
func Norm(q quat.Number) float64 {
	return math.Sqrt(q.Imag*q.Imag + q.Jmag*q.Jmag + q.Kmag*q.Kmag)
}

// Normalize scales a quaternion to unit length with a non-negative real part.
// The zero quaternion is returned as the identity rotation.
func Normalize(q quat.Number) quat.Number {
	length := quat.Abs(q)
	if length == 0 || math.IsNaN(length) {
		return quat.Number{Real: 1}
	}
	q = quat.Scale(1/length, q)
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	return q
}

// QuaternionAlmostEqual is an equality test for all the float components of a quaternion. Quaternions have double coverage, q == -q, and
// this function will *not* account for that. Use OrientationAlmostEqual unless you're certain this is what you want.
func QuaternionAlmostEqual(a, b quat.Number, tol float64) bool {
	if math.Abs(a.Real-b.Real) > tol ||
		math.Abs(a.Imag-b.Imag) > tol ||
		math.Abs(a.Jmag-b.Jmag) > tol ||
		math.Abs(a.Kmag-b.Kmag) > tol {
		// account for double coverage
		return math.Abs(a.Real+b.Real) <= tol &&
			math.Abs(a.Imag+b.Imag) <= tol &&
			math.Abs(a.Jmag+b.Jmag) <= tol &&
			math.Abs(a.Kmag+b.Kmag) <= tol
	}
	return true
}

// RotateVector rotates v by the unit quaternion q.
func RotateVector(q quat.Number, v r3.Vector) r3.Vector {
	rotated := quat.Mul(quat.Mul(q, quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}), quat.Conj(q))
	return r3.Vector{X: rotated.Imag, Y: rotated.Jmag, Z: rotated.Kmag}
}
