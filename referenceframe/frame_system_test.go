package referenceframe

import (
	"context"
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/posetracker/spatialmath"
)

func TestStaticFrameSystem(t *testing.T) {
	ctx := context.Background()
	fs := NewEmptyStaticFrameSystem()
	robotInWorld := spatialmath.NewPose(r3.Vector{X: 1, Y: 2}, &spatialmath.EulerAngles{Yaw: math.Pi / 2})
	cameraInRobot := spatialmath.NewPose(r3.Vector{Z: 0.5}, &spatialmath.EulerAngles{Pitch: 0.3})
	test.That(t, fs.AddFrame("robot", World, robotInWorld), test.ShouldBeNil)
	test.That(t, fs.AddFrame("camera", "robot", cameraInRobot), test.ShouldBeNil)

	test.That(t, fs.FrameNames(), test.ShouldResemble, []string{"camera", "robot"})
	parent, err := fs.Parent("camera")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, parent, test.ShouldEqual, "robot")
	trace, err := fs.TracebackFrame("camera")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, trace, test.ShouldResemble, []string{"camera", "robot", World})

	got, err := fs.LookupTransform(ctx, "robot", "camera", time.Time{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, spatialmath.PoseAlmostEqual(got, cameraInRobot), test.ShouldBeTrue)

	got, err = fs.LookupTransform(ctx, World, "camera", time.Time{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, spatialmath.PoseAlmostEqual(got, spatialmath.Compose(robotInWorld, cameraInRobot)), test.ShouldBeTrue)

	// the inverse direction
	got, err = fs.LookupTransform(ctx, "camera", World, time.Time{})
	test.That(t, err, test.ShouldBeNil)
	want := spatialmath.PoseInverse(spatialmath.Compose(robotInWorld, cameraInRobot))
	test.That(t, spatialmath.PoseAlmostEqual(got, want), test.ShouldBeTrue)

	got, err = fs.LookupTransform(ctx, "robot", "robot", time.Time{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, spatialmath.PoseAlmostEqual(got, spatialmath.NewZeroPose()), test.ShouldBeTrue)

	rendered := fs.String()
	test.That(t, rendered, test.ShouldContainSubstring, "X:1.000, Y:2.000, Z:0.000")
	test.That(t, rendered, test.ShouldContainSubstring, "Yaw:90.00")
	test.That(t, rendered, test.ShouldContainSubstring, "camera")
}

func TestStaticFrameSystemErrors(t *testing.T) {
	ctx := context.Background()
	fs := NewEmptyStaticFrameSystem()
	test.That(t, fs.AddFrame("robot", World, spatialmath.NewZeroPose()), test.ShouldBeNil)

	err := fs.AddFrame("robot", World, spatialmath.NewZeroPose())
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "already")

	err = fs.AddFrame("camera", "arm", spatialmath.NewZeroPose())
	test.That(t, errors.Is(err, ErrFrameNotFound), test.ShouldBeTrue)
	test.That(t, fs.AddFrame("", World, spatialmath.NewZeroPose()), test.ShouldNotBeNil)
	test.That(t, fs.AddFrame("x", World, nil), test.ShouldNotBeNil)

	_, err = fs.LookupTransform(ctx, "robot", "camera", time.Time{})
	test.That(t, errors.Is(err, ErrFrameNotFound), test.ShouldBeTrue)
	_, err = fs.Parent("camera")
	test.That(t, errors.Is(err, ErrFrameNotFound), test.ShouldBeTrue)
	_, err = fs.TracebackFrame("camera")
	test.That(t, errors.Is(err, ErrFrameNotFound), test.ShouldBeTrue)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = fs.LookupTransform(cancelled, World, "robot", time.Time{})
	test.That(t, err, test.ShouldEqual, context.Canceled)
}

func TestNewStaticFrameSystem(t *testing.T) {
	var links []LinkConfig
	err := json.Unmarshal([]byte(`[
		{"parent": "robot", "child": "camera", "translation": {"x": 0.1, "y": 0, "z": 0.5},
		 "quaternion": {"w": 0.7071067811865476, "x": 0, "y": 0, "z": 0.7071067811865476}},
		{"parent": "world", "child": "robot", "translation": {"x": 2, "y": 0, "z": 0}}
	]`), &links)
	test.That(t, err, test.ShouldBeNil)

	fs, err := NewStaticFrameSystem(links)
	test.That(t, err, test.ShouldBeNil)
	got, err := fs.LookupTransform(context.Background(), World, "camera", time.Time{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.Point().X, test.ShouldAlmostEqual, 2.1)
	test.That(t, got.Point().Z, test.ShouldAlmostEqual, 0.5)
	test.That(t, spatialmath.Yaw(got.Orientation().Quaternion()), test.ShouldAlmostEqual, math.Pi/2)

	_, err = NewStaticFrameSystem([]LinkConfig{{Parent: "nowhere", Child: "camera"}})
	test.That(t, errors.Is(err, ErrFrameNotFound), test.ShouldBeTrue)

	_, err = NewStaticFrameSystem([]LinkConfig{{Parent: World, Child: World}})
	test.That(t, err, test.ShouldNotBeNil)

	_, err = NewStaticFrameSystem([]LinkConfig{{Parent: World, Child: "a", Quaternion: &QuaternionConfig{}}})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "zero quaternion")
}

func TestLinkConfigRoundTrip(t *testing.T) {
	pose := spatialmath.NewPose(r3.Vector{X: 1, Y: -1, Z: 0.25}, &spatialmath.EulerAngles{Roll: 0.2, Yaw: -0.7})
	cfg := NewLinkConfig("robot", "camera", pose)
	parsed, err := cfg.ParseConfig()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, spatialmath.PoseAlmostEqual(parsed, pose), test.ShouldBeTrue)
}
