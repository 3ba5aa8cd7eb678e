package pointcloud

import (
	"image/color"
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/posetracker/spatialmath"
)

func TestPointCloudBasic(t *testing.T) {
	pc := New()

	p0 := NewVector(0, 0, 0)
	d0 := NewValueData(5)

	test.That(t, pc.Set(p0, d0), test.ShouldBeNil)
	d, got := pc.At(0, 0, 0)
	test.That(t, got, test.ShouldBeTrue)
	test.That(t, d, test.ShouldResemble, d0)

	_, got = pc.At(1, 0, 1)
	test.That(t, got, test.ShouldBeFalse)

	p1 := NewVector(1, 0, 1)
	d1 := NewValueData(17)
	test.That(t, pc.Set(p1, d1), test.ShouldBeNil)

	d, got = pc.At(1, 0, 1)
	test.That(t, got, test.ShouldBeTrue)
	test.That(t, d, test.ShouldResemble, d1)
	test.That(t, d, test.ShouldNotResemble, d0)

	p2 := NewVector(-1, -2, 1)
	d2 := NewColoredData(color.NRGBA{1, 2, 3, 255})
	test.That(t, pc.Set(p2, d2), test.ShouldBeNil)

	var order []r3.Vector
	pc.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		order = append(order, p)
		return true
	})
	test.That(t, order, test.ShouldResemble, []r3.Vector{p0, p1, p2})

	// replacing data keeps the position in place
	test.That(t, pc.Set(p1, NewValueData(3)), test.ShouldBeNil)
	test.That(t, pc.Size(), test.ShouldEqual, 3)
	d, _ = pc.At(1, 0, 1)
	test.That(t, d.Value(), test.ShouldEqual, 3)

	test.That(t, CloudContains(pc, 1, 1, 1), test.ShouldBeFalse)

	meta := pc.MetaData()
	test.That(t, meta.HasColor, test.ShouldBeTrue)
	test.That(t, meta.HasValue, test.ShouldBeTrue)
	test.That(t, meta.MinX, test.ShouldEqual, -1)
	test.That(t, meta.MaxX, test.ShouldEqual, 1)
	test.That(t, meta.MinY, test.ShouldEqual, -2)
	test.That(t, meta.MaxZ, test.ShouldEqual, 1)
}

func TestPointCloudIterateBatches(t *testing.T) {
	pc := New()
	for i := 0; i < 10; i++ {
		test.That(t, pc.Set(NewVector(float64(i), 0, 0), nil), test.ShouldBeNil)
	}
	seen := map[float64]int{}
	for b := 0; b < 3; b++ {
		pc.Iterate(3, b, func(p r3.Vector, d Data) bool {
			seen[p.X]++
			return true
		})
	}
	test.That(t, len(seen), test.ShouldEqual, 10)
	for _, n := range seen {
		test.That(t, n, test.ShouldEqual, 1)
	}

	count := 0
	pc.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		count++
		return count < 4
	})
	test.That(t, count, test.ShouldEqual, 4)
}

func TestCloudCentroid(t *testing.T) {
	test.That(t, CloudCentroid(New()), test.ShouldResemble, r3.Vector{})

	pc := New()
	test.That(t, pc.Set(NewVector(1, 2, 3), nil), test.ShouldBeNil)
	test.That(t, pc.Set(NewVector(3, 4, 5), nil), test.ShouldBeNil)
	test.That(t, pc.Set(NewVector(1, 2, 3), NewValueData(1)), test.ShouldBeNil)
	test.That(t, CloudCentroid(pc), test.ShouldResemble, r3.Vector{X: 2, Y: 3, Z: 4})
}

func TestApplyOffset(t *testing.T) {
	pc := New()
	test.That(t, pc.Set(NewVector(1, 0, 0), NewColoredData(color.NRGBA{255, 0, 0, 255})), test.ShouldBeNil)
	test.That(t, pc.Set(NewVector(0, 1, 0), nil), test.ShouldBeNil)

	pose := spatialmath.NewPose(r3.Vector{Z: 1}, &spatialmath.EulerAngles{Yaw: math.Pi / 2})
	moved, err := ApplyOffset(pc, pose)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pc.Size(), test.ShouldEqual, 2)
	test.That(t, moved.Size(), test.ShouldEqual, 2)

	pts := ToPoints(moved)
	test.That(t, pts[0].X, test.ShouldAlmostEqual, 0)
	test.That(t, pts[0].Y, test.ShouldAlmostEqual, 1)
	test.That(t, pts[0].Z, test.ShouldAlmostEqual, 1)
	test.That(t, pts[1].X, test.ShouldAlmostEqual, -1)
	test.That(t, pts[1].Y, test.ShouldAlmostEqual, 0)
	test.That(t, moved.MetaData().HasColor, test.ShouldBeTrue)

	// the source cloud is untouched
	test.That(t, ToPoints(pc)[0], test.ShouldResemble, NewVector(1, 0, 0))
}

func TestMerge(t *testing.T) {
	a := New()
	test.That(t, a.Set(NewVector(0, 0, 0), nil), test.ShouldBeNil)
	b := New()
	test.That(t, b.Set(NewVector(1, 0, 0), nil), test.ShouldBeNil)
	test.That(t, b.Set(NewVector(2, 0, 0), nil), test.ShouldBeNil)

	red := NewColoredData(color.NRGBA{255, 0, 0, 255})
	merged, err := Merge([]PointCloud{a, b}, []Data{nil, red})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, merged.Size(), test.ShouldEqual, 3)
	d, ok := merged.At(0, 0, 0)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, d, test.ShouldBeNil)
	d, ok = merged.At(2, 0, 0)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, d.HasColor(), test.ShouldBeTrue)
}

func TestInsufficientPointsError(t *testing.T) {
	err := NewInsufficientPointsError("range filter", 4, 100)
	test.That(t, IsInsufficientData(err), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "range filter")
	test.That(t, IsInsufficientData(nil), test.ShouldBeFalse)
}
