package spatialmath

import (
	"fmt"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// Pose represents a rigid transform: a rotation followed by a translation, in meters.
type Pose interface {
	Point() r3.Vector
	Orientation() Orientation
}

type pose struct {
	point r3.Vector
	q     quat.Number
}

// NewZeroPose returns a pose at (0,0,0) with no rotation.
func NewZeroPose() Pose {
	return &pose{q: quat.Number{Real: 1}}
}

// NewPose returns a pose at point with orientation o. A nil orientation means no rotation.
func NewPose(point r3.Vector, o Orientation) Pose {
	if o == nil {
		return NewPoseFromPoint(point)
	}
	return &pose{point: point, q: Normalize(o.Quaternion())}
}

// NewPoseFromPoint returns a pose at point with no rotation.
func NewPoseFromPoint(point r3.Vector) Pose {
	return &pose{point: point, q: quat.Number{Real: 1}}
}

// NewPoseFromOrientation returns a pose at the origin with orientation o.
func NewPoseFromOrientation(o Orientation) Pose {
	return NewPose(r3.Vector{}, o)
}

func (p *pose) Point() r3.Vector {
	return p.point
}

func (p *pose) Orientation() Orientation {
	q := quaternion(p.q)
	return &q
}

func (p *pose) String() string {
	return fmt.Sprintf("{X:%.4f Y:%.4f Z:%.4f W:%.5f I:%.5f J:%.5f K:%.5f}",
		p.point.X, p.point.Y, p.point.Z, p.q.Real, p.q.Imag, p.q.Jmag, p.q.Kmag)
}

// Compose returns the pose applying b first and then a: a.Transform(b.Transform(x)).
func Compose(a, b Pose) Pose {
	aq := a.Orientation().Quaternion()
	return &pose{
		point: RotateVector(aq, b.Point()).Add(a.Point()),
		q:     Normalize(quat.Mul(aq, b.Orientation().Quaternion())),
	}
}

// PoseInverse returns the pose that undoes p.
func PoseInverse(p Pose) Pose {
	inv := quat.Conj(p.Orientation().Quaternion())
	return &pose{
		point: RotateVector(inv, p.Point()).Mul(-1),
		q:     Normalize(inv),
	}
}

// PoseBetween returns the pose that takes a to b, such that Compose(a, PoseBetween(a, b)) == b.
func PoseBetween(a, b Pose) Pose {
	return Compose(PoseInverse(a), b)
}

// TransformPoint applies p to the point v.
func TransformPoint(p Pose, v r3.Vector) r3.Vector {
	return RotateVector(p.Orientation().Quaternion(), v).Add(p.Point())
}

// PoseAlmostEqual returns whether two poses are approximately equal.
func PoseAlmostEqual(a, b Pose) bool {
	return PoseAlmostEqualEps(a, b, 1e-8)
}

// PoseAlmostEqualEps returns whether two poses are equal within eps meters of translation and
// approximately the same orientation.
func PoseAlmostEqualEps(a, b Pose, eps float64) bool {
	return PoseAlmostCoincidentEps(a, b, eps) && OrientationAlmostEqual(a.Orientation(), b.Orientation())
}

// PoseAlmostCoincidentEps returns whether the translations of two poses are within eps meters of each other.
func PoseAlmostCoincidentEps(a, b Pose, eps float64) bool {
	return a.Point().Sub(b.Point()).Norm() <= eps
}
