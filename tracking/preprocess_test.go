package tracking

import (
	"context"
	"math"
	"testing"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"go.viam.com/test"

	pc "go.viam.com/posetracker/pointcloud"
	"go.viam.com/posetracker/spatialmath"
)

func TestPrepareScan(t *testing.T) {
	logger := golog.NewTestLogger(t)
	scan := pc.New()
	for i := 0; i < 10; i++ {
		x := float64(i) * 0.05
		test.That(t, scan.Set(r3.Vector{X: x, Z: 0.5}, nil), test.ShouldBeNil)
		test.That(t, scan.Set(r3.Vector{X: x, Z: 1.5}, nil), test.ShouldBeNil)
		test.That(t, scan.Set(r3.Vector{X: x, Z: 3}, nil), test.ShouldBeNil)
	}
	test.That(t, scan.Set(r3.Vector{X: math.NaN(), Z: 1.5}, nil), test.ShouldBeNil)
	test.That(t, scan.Set(r3.Vector{X: 5, Z: 2}, nil), test.ShouldBeNil)

	pre, err := NewPreprocessor(PreprocessConfig{
		Range:               pc.RangeFilter{Axis: pc.AxisZ, Min: 1, Max: 2.5},
		VoxelSize:           0.001,
		OutlierRadius:       0.2,
		OutlierMinNeighbors: 2,
		MinPoints:           10,
	}, logger)
	test.That(t, err, test.ShouldBeNil)

	// the depth band applies before the scan is moved into the robot frame
	sensorToRobot := spatialmath.NewPoseFromPoint(r3.Vector{Z: 2})
	out, err := pre.PrepareScan(context.Background(), scan, sensorToRobot)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.Size(), test.ShouldEqual, 10)
	out.Iterate(0, 0, func(p r3.Vector, d pc.Data) bool {
		test.That(t, p.Z, test.ShouldAlmostEqual, 3.5)
		test.That(t, p.X, test.ShouldBeLessThan, 1)
		return true
	})
	test.That(t, scan.Size(), test.ShouldEqual, 32)

	pre.cfg.MinPoints = 11
	_, err = pre.PrepareScan(context.Background(), scan, sensorToRobot)
	test.That(t, pc.IsInsufficientData(err), test.ShouldBeTrue)
	test.That(t, IsRecoverable(err), test.ShouldBeTrue)
}

func TestPrepareModel(t *testing.T) {
	pre, err := NewPreprocessor(PreprocessConfig{
		Range:     pc.RangeFilter{Axis: pc.AxisZ, Min: 1, Max: 2.5},
		VoxelSize: 0.1,
		MinPoints: 100,
	}, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	model := pc.New()
	for _, p := range []r3.Vector{
		{X: 0.03125, Y: 0.03125, Z: 0.03125}, {X: 0.0625, Y: 0.0625, Z: 0.0625},
		{X: 0.51}, {Y: 0.51}, {Z: 0.51}, {X: math.Inf(1)},
	} {
		test.That(t, model.Set(p, nil), test.ShouldBeNil)
	}
	// models are not depth filtered and are not held to the scan point floor
	out, err := pre.PrepareModel(model)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.Size(), test.ShouldEqual, 4)
	_, ok := out.At(0.046875, 0.046875, 0.046875)
	test.That(t, ok, test.ShouldBeTrue)

	tiny := pc.New()
	test.That(t, tiny.Set(r3.Vector{X: 1}, nil), test.ShouldBeNil)
	_, err = pre.PrepareModel(tiny)
	test.That(t, pc.IsInsufficientData(err), test.ShouldBeTrue)
}

func TestNewPreprocessor(t *testing.T) {
	logger := golog.NewTestLogger(t)
	_, err := NewPreprocessor(PreprocessConfig{VoxelSize: 0}, logger)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewPreprocessor(PreprocessConfig{VoxelSize: 0.1, Range: pc.RangeFilter{Axis: pc.AxisZ, Min: 2, Max: 1}}, logger)
	test.That(t, err, test.ShouldNotBeNil)
}
