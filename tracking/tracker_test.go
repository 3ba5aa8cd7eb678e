package tracking

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/posetracker/config"
	pc "go.viam.com/posetracker/pointcloud"
	"go.viam.com/posetracker/referenceframe"
	"go.viam.com/posetracker/registration"
	"go.viam.com/posetracker/spatialmath"
	"go.viam.com/posetracker/utils"
	"go.viam.com/posetracker/vision/segmentation"
)

// makeTarget samples the surface of a notched box centered on the origin.
func makeTarget(t *testing.T, n int, seed int64) pc.PointCloud {
	t.Helper()
	//nolint:gosec
	r := rand.New(rand.NewSource(seed))
	dims := r3.Vector{X: 0.4, Y: 0.25, Z: 0.15}
	pts := make([]r3.Vector, 0, n)
	for len(pts) < n {
		p := r3.Vector{X: r.Float64() * dims.X, Y: r.Float64() * dims.Y, Z: r.Float64() * dims.Z}
		switch r.Intn(6) {
		case 0:
			p.X = 0
		case 1:
			p.X = dims.X
		case 2:
			p.Y = 0
		case 3:
			p.Y = dims.Y
		case 4:
			p.Z = 0
		default:
			p.Z = dims.Z
		}
		if p.X > 0.3 && p.Y > 0.15 && p.Z > 0.1 {
			continue
		}
		pts = append(pts, p)
	}
	var center r3.Vector
	for _, p := range pts {
		center = center.Add(p)
	}
	center = center.Mul(1 / float64(len(pts)))
	cloud := pc.NewWithPrealloc(n)
	for _, p := range pts {
		test.That(t, cloud.Set(p.Sub(center), nil), test.ShouldBeNil)
	}
	return cloud
}

func testConfig() config.Config {
	cfg := config.Defaults()
	cfg.VoxelSize = 0.001
	cfg.OutlierRadius = 0.05
	cfg.OutlierMinNeighbors = 1
	cfg.RemoveGround = false
	return cfg
}

var robotInWorld = spatialmath.NewPoseFromPoint(r3.Vector{X: 10})

func testFrameSystem(t *testing.T) *referenceframe.StaticFrameSystem {
	t.Helper()
	fs, err := referenceframe.NewStaticFrameSystem([]referenceframe.LinkConfig{
		referenceframe.NewLinkConfig(referenceframe.World, "robot", robotInWorld),
		referenceframe.NewLinkConfig("robot", "camera", spatialmath.NewZeroPose()),
	})
	test.That(t, err, test.ShouldBeNil)
	return fs
}

func sceneFrame(t *testing.T, model pc.PointCloud, pose spatialmath.Pose, ts time.Time) Frame {
	t.Helper()
	cloud, err := pc.ApplyOffset(model, pose)
	test.That(t, err, test.ShouldBeNil)
	return Frame{Cloud: cloud, Time: ts, FrameID: "camera"}
}

type fakeAligner struct {
	mu      sync.Mutex
	calls   int
	result  registration.Result
	err     error
	entered chan struct{}
	release chan struct{}
}

func acceptingAligner() *fakeAligner {
	return &fakeAligner{result: registration.Result{Transform: spatialmath.NewZeroPose(), Converged: true}}
}

func (fa *fakeAligner) Align(ctx context.Context, source, target pc.PointCloud) (*registration.Result, error) {
	fa.mu.Lock()
	fa.calls++
	res := fa.result
	fa.mu.Unlock()
	if fa.entered != nil {
		fa.entered <- struct{}{}
		<-fa.release
	}
	return &res, fa.err
}

func (fa *fakeAligner) Calls() int {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	return fa.calls
}

type fakeRemover struct {
	calls   int
	ground  pc.PointCloud
	objects func(scan pc.PointCloud) pc.PointCloud
}

func (fr *fakeRemover) RemoveGround(ctx context.Context, cloud pc.PointCloud) (*segmentation.GroundSegmentation, error) {
	fr.calls++
	return &segmentation.GroundSegmentation{Objects: fr.objects(cloud), Ground: fr.ground}, nil
}

type fakePublisher struct {
	mu         sync.Mutex
	transforms []FrameUpdate
	poses      []PoseStamped
}

func (fp *fakePublisher) PublishTransform(ctx context.Context, update FrameUpdate) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	fp.transforms = append(fp.transforms, update)
	return nil
}

func (fp *fakePublisher) PublishPose(ctx context.Context, pose PoseStamped) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	fp.poses = append(fp.poses, pose)
	return nil
}

type fakeDebugSink struct {
	clouds map[string]pc.PointCloud
}

func (fd *fakeDebugSink) PublishDebugCloud(ctx context.Context, name string, cloud pc.PointCloud, ts time.Time) error {
	if fd.clouds == nil {
		fd.clouds = map[string]pc.PointCloud{}
	}
	fd.clouds[name] = cloud
	return nil
}

func newTestTracker(t *testing.T, cfg config.Config, lookup referenceframe.TransformLookup, opts ...Option) *Tracker {
	t.Helper()
	tracker, err := NewTracker(cfg, lookup, makeTarget(t, 1500, 3), golog.NewTestLogger(t), opts...)
	test.That(t, err, test.ShouldBeNil)
	return tracker
}

func TestNewTracker(t *testing.T) {
	logger := golog.NewTestLogger(t)
	fs := testFrameSystem(t)

	cfg := testConfig()
	cfg.VoxelSize = 0
	_, err := NewTracker(cfg, fs, makeTarget(t, 200, 1), logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "voxel_size")

	_, err = NewTracker(testConfig(), nil, makeTarget(t, 200, 1), logger)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = NewTracker(testConfig(), fs, nil, logger)
	var modelErr *ModelLoadError
	test.That(t, errors.As(err, &modelErr), test.ShouldBeTrue)
	test.That(t, IsRecoverable(err), test.ShouldBeFalse)

	single := pc.New()
	test.That(t, single.Set(r3.Vector{X: 1}, nil), test.ShouldBeNil)
	_, err = NewTracker(testConfig(), fs, single, logger)
	test.That(t, errors.As(err, &modelErr), test.ShouldBeTrue)
	test.That(t, modelErr.Path, test.ShouldEqual, "target.pcd")

	tracker, err := NewTracker(testConfig(), fs, makeTarget(t, 200, 1), logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, tracker.Enabled(), test.ShouldBeFalse)
	test.That(t, tracker.Model().Size(), test.ShouldBeBetween, 189, 201)
	test.That(t, tracker.State().Detected(), test.ShouldBeFalse)
}

func TestTrackerFollowsTarget(t *testing.T) {
	logger, logs := golog.NewObservedTestLogger(t)
	mockClock := clock.NewMock()
	pub := &fakePublisher{}
	model := makeTarget(t, 1500, 3)
	tracker, err := NewTracker(testConfig(), testFrameSystem(t), model, logger, WithClock(mockClock), WithPublisher(pub))
	test.That(t, err, test.ShouldBeNil)
	tracker.Enable()

	first := spatialmath.NewPose(r3.Vector{X: 0.05, Y: 0.02, Z: 1.8}, &spatialmath.EulerAngles{Yaw: utils.DegToRad(3)})
	det, err := tracker.ProcessFrame(context.Background(), sceneFrame(t, model, first, mockClock.Now()))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, det.ColdStart, test.ShouldBeTrue)
	test.That(t, det.FitnessScore, test.ShouldBeLessThan, 1e-4)
	test.That(t, det.Pose.Point().Sub(first.Point()).Norm(), test.ShouldBeLessThan, 0.01)
	test.That(t, spatialmath.YawDiff(det.Pose.Orientation(), first.Orientation()), test.ShouldBeLessThan, utils.DegToRad(1))

	state := tracker.State()
	test.That(t, state.LastDetection, test.ShouldEqual, mockClock.Now())
	test.That(t, state.LastYaw, test.ShouldAlmostEqual, utils.DegToRad(3), utils.DegToRad(1))
	test.That(t, logs.FilterMessage("target found").Len(), test.ShouldEqual, 1)

	test.That(t, pub.transforms, test.ShouldHaveLength, 1)
	update := pub.transforms[0]
	test.That(t, update.Parent, test.ShouldEqual, "robot")
	test.That(t, update.Child, test.ShouldEqual, "target")
	euler := update.Pose.Orientation().EulerAngles()
	test.That(t, euler.Roll, test.ShouldAlmostEqual, 0)
	test.That(t, euler.Pitch, test.ShouldAlmostEqual, 0)
	test.That(t, pub.poses, test.ShouldHaveLength, 1)
	test.That(t, pub.poses[0].FrameID, test.ShouldEqual, referenceframe.World)
	test.That(t, pub.poses[0].Pose.Point().X, test.ShouldAlmostEqual, 10.05, 0.01)

	// the next frame starts from the last pose
	mockClock.Add(time.Second)
	second := spatialmath.NewPose(r3.Vector{X: 0.06, Y: 0.02, Z: 1.8}, &spatialmath.EulerAngles{Yaw: utils.DegToRad(5)})
	det, err = tracker.ProcessFrame(context.Background(), sceneFrame(t, model, second, mockClock.Now()))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, det.ColdStart, test.ShouldBeFalse)
	test.That(t, det.Pose.Point().Sub(second.Point()).Norm(), test.ShouldBeLessThan, 0.01)
	test.That(t, tracker.State().LastYaw, test.ShouldAlmostEqual, utils.DegToRad(5), utils.DegToRad(1))

	stats := tracker.Stats()
	test.That(t, stats.Frames, test.ShouldEqual, 2)
	test.That(t, stats.Detections, test.ShouldEqual, 2)
	test.That(t, stats.Rejections, test.ShouldEqual, 0)
}

func TestTrackerEnableDisable(t *testing.T) {
	aligner := acceptingAligner()
	tracker := newTestTracker(t, testConfig(), testFrameSystem(t), WithAligner(aligner))
	model := tracker.Model()
	frame := sceneFrame(t, model, spatialmath.NewPoseFromPoint(r3.Vector{Z: 1.8}), time.Now())

	_, err := tracker.ProcessFrame(context.Background(), frame)
	test.That(t, err, test.ShouldBeError, ErrNotEnabled)
	test.That(t, IsRecoverable(err), test.ShouldBeTrue)
	test.That(t, aligner.Calls(), test.ShouldEqual, 0)

	tracker.Enable()
	tracker.Enable()
	test.That(t, tracker.Enabled(), test.ShouldBeTrue)
	_, err = tracker.ProcessFrame(context.Background(), frame)
	test.That(t, err, test.ShouldBeNil)
	detected := tracker.State()
	test.That(t, detected.Detected(), test.ShouldBeTrue)

	tracker.Disable()
	tracker.Disable()
	test.That(t, tracker.Enabled(), test.ShouldBeFalse)
	_, err = tracker.ProcessFrame(context.Background(), frame)
	test.That(t, err, test.ShouldBeError, ErrNotEnabled)
	test.That(t, aligner.Calls(), test.ShouldEqual, 1)

	tracker.Enable()
	test.That(t, tracker.State(), test.ShouldResemble, detected)

	tracker.Reset()
	test.That(t, tracker.State().Detected(), test.ShouldBeFalse)
	test.That(t, tracker.State().ColdStart, test.ShouldBeTrue)
}

func TestTrackerInsufficientDataShortCircuits(t *testing.T) {
	cfg := testConfig()
	cfg.RemoveGround = true
	aligner := acceptingAligner()
	remover := &fakeRemover{ground: pc.New(), objects: func(scan pc.PointCloud) pc.PointCloud { return scan }}
	tracker := newTestTracker(t, cfg, testFrameSystem(t), WithAligner(aligner), WithBackgroundRemover(remover))
	tracker.Enable()
	model := tracker.Model()

	small := pc.New()
	for i := 0; i < 50; i++ {
		test.That(t, small.Set(r3.Vector{X: float64(i) * 0.01, Z: 1.5}, nil), test.ShouldBeNil)
	}
	_, err := tracker.ProcessFrame(context.Background(), Frame{Cloud: small})
	test.That(t, pc.IsInsufficientData(err), test.ShouldBeTrue)
	test.That(t, IsRecoverable(err), test.ShouldBeTrue)

	_, err = tracker.ProcessFrame(context.Background(), Frame{})
	test.That(t, pc.IsInsufficientData(err), test.ShouldBeTrue)

	// everything is beyond the depth band
	far := sceneFrame(t, model, spatialmath.NewPoseFromPoint(r3.Vector{Z: 5}), time.Now())
	_, err = tracker.ProcessFrame(context.Background(), far)
	test.That(t, pc.IsInsufficientData(err), test.ShouldBeTrue)
	test.That(t, remover.calls, test.ShouldEqual, 0)

	// ground removal leaves too little
	remover.objects = func(scan pc.PointCloud) pc.PointCloud { return pc.New() }
	near := sceneFrame(t, model, spatialmath.NewPoseFromPoint(r3.Vector{Z: 1.8}), time.Now())
	_, err = tracker.ProcessFrame(context.Background(), near)
	test.That(t, pc.IsInsufficientData(err), test.ShouldBeTrue)
	test.That(t, remover.calls, test.ShouldEqual, 1)

	test.That(t, aligner.Calls(), test.ShouldEqual, 0)
	test.That(t, tracker.State().Detected(), test.ShouldBeFalse)
}

func TestTrackerRejectionKeepsState(t *testing.T) {
	logger, logs := golog.NewObservedTestLogger(t)
	aligner := acceptingAligner()
	pub := &fakePublisher{}
	model := makeTarget(t, 1500, 3)
	tracker, err := NewTracker(testConfig(), testFrameSystem(t), model, logger, WithAligner(aligner), WithPublisher(pub))
	test.That(t, err, test.ShouldBeNil)
	tracker.Enable()
	frame := sceneFrame(t, model, spatialmath.NewPoseFromPoint(r3.Vector{Z: 1.8}), time.Now())

	_, err = tracker.ProcessFrame(context.Background(), frame)
	test.That(t, err, test.ShouldBeNil)
	before := tracker.State()

	for _, res := range []registration.Result{
		{Transform: spatialmath.NewZeroPose(), Converged: false},
		{Transform: spatialmath.NewZeroPose(), Converged: true, FitnessScore: 1},
		{Transform: spatialmath.NewPoseFromPoint(r3.Vector{X: 3}), Converged: true},
		{Transform: spatialmath.NewPoseFromOrientation(&spatialmath.EulerAngles{Yaw: math.Pi / 2}), Converged: true},
	} {
		aligner.result = res
		_, err = tracker.ProcessFrame(context.Background(), frame)
		var rejected *RejectedError
		test.That(t, errors.As(err, &rejected), test.ShouldBeTrue)
		test.That(t, errors.Is(err, ErrTargetNotFound), test.ShouldBeTrue)
		test.That(t, IsRecoverable(err), test.ShouldBeTrue)
		test.That(t, tracker.State(), test.ShouldResemble, before)
	}
	test.That(t, logs.FilterMessage("target not found, retrying").Len(), test.ShouldEqual, 4)
	test.That(t, pub.transforms, test.ShouldHaveLength, 1)
	test.That(t, tracker.Stats().Rejections, test.ShouldEqual, 4)

	aligner.err = errors.New("solver exploded")
	_, err = tracker.ProcessFrame(context.Background(), frame)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, IsRecoverable(err), test.ShouldBeFalse)
	test.That(t, tracker.State(), test.ShouldResemble, before)
}

func TestTrackerCalibrationRetry(t *testing.T) {
	fs := testFrameSystem(t)
	var sensorLookups int
	lookup := referenceframe.TransformLookupFunc(
		func(ctx context.Context, parent, child string, at time.Time) (spatialmath.Pose, error) {
			if child == "camera" {
				sensorLookups++
				if sensorLookups == 1 {
					return nil, errors.New("transform not yet published")
				}
				_, hasDeadline := ctx.Deadline()
				test.That(t, hasDeadline, test.ShouldBeTrue)
			}
			return fs.LookupTransform(ctx, parent, child, at)
		})
	aligner := acceptingAligner()
	tracker := newTestTracker(t, testConfig(), lookup, WithAligner(aligner))
	tracker.Enable()
	frame := sceneFrame(t, tracker.Model(), spatialmath.NewPoseFromPoint(r3.Vector{Z: 1.8}), time.Now())

	_, err := tracker.ProcessFrame(context.Background(), frame)
	test.That(t, errors.Is(err, ErrCalibrationUnavailable), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "not yet published")
	test.That(t, IsRecoverable(err), test.ShouldBeTrue)
	test.That(t, aligner.Calls(), test.ShouldEqual, 0)

	_, err = tracker.ProcessFrame(context.Background(), frame)
	test.That(t, err, test.ShouldBeNil)
	_, err = tracker.ProcessFrame(context.Background(), frame)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sensorLookups, test.ShouldEqual, 2)
}

func TestTrackerWorldLookupFailureIsNotFatal(t *testing.T) {
	logger, logs := golog.NewObservedTestLogger(t)
	calib := referenceframe.TransformLookupFunc(
		func(ctx context.Context, parent, child string, at time.Time) (spatialmath.Pose, error) {
			if parent == referenceframe.World {
				return nil, referenceframe.NewFrameMissingError(parent)
			}
			return spatialmath.NewZeroPose(), nil
		})
	pub := &fakePublisher{}
	model := makeTarget(t, 500, 4)
	tracker, err := NewTracker(testConfig(), calib, model, logger, WithAligner(acceptingAligner()), WithPublisher(pub))
	test.That(t, err, test.ShouldBeNil)
	tracker.Enable()

	_, err = tracker.ProcessFrame(context.Background(), sceneFrame(t, model, spatialmath.NewPoseFromPoint(r3.Vector{Z: 2}), time.Now()))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pub.transforms, test.ShouldHaveLength, 1)
	test.That(t, pub.poses, test.ShouldHaveLength, 0)
	test.That(t, logs.FilterMessage("cannot place target in world frame").Len(), test.ShouldEqual, 1)
}

func TestTrackerDropsFramesInFlight(t *testing.T) {
	aligner := acceptingAligner()
	aligner.entered = make(chan struct{})
	aligner.release = make(chan struct{})
	tracker := newTestTracker(t, testConfig(), testFrameSystem(t), WithAligner(aligner))
	tracker.Enable()
	frame := sceneFrame(t, tracker.Model(), spatialmath.NewPoseFromPoint(r3.Vector{Z: 1.8}), time.Now())

	errs := make(chan error, 1)
	go func() {
		_, err := tracker.ProcessFrame(context.Background(), frame)
		errs <- err
	}()
	<-aligner.entered

	_, err := tracker.ProcessFrame(context.Background(), frame)
	test.That(t, err, test.ShouldBeError, ErrFrameDropped)
	test.That(t, IsRecoverable(err), test.ShouldBeTrue)

	close(aligner.release)
	test.That(t, <-errs, test.ShouldBeNil)
	test.That(t, tracker.Stats().Dropped, test.ShouldEqual, 1)
	test.That(t, tracker.Stats().Frames, test.ShouldEqual, 1)
}

func TestTrackerResetDuringFrame(t *testing.T) {
	aligner := acceptingAligner()
	tracker := newTestTracker(t, testConfig(), testFrameSystem(t), WithAligner(aligner))
	tracker.Enable()
	frame := sceneFrame(t, tracker.Model(), spatialmath.NewPoseFromPoint(r3.Vector{Z: 1.8}), time.Now())

	_, err := tracker.ProcessFrame(context.Background(), frame)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, tracker.State().Detected(), test.ShouldBeTrue)

	aligner.entered = make(chan struct{})
	aligner.release = make(chan struct{})
	type outcome struct {
		det *Detection
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		det, err := tracker.ProcessFrame(context.Background(), frame)
		done <- outcome{det, err}
	}()
	<-aligner.entered
	tracker.Reset()
	close(aligner.release)
	res := <-done
	test.That(t, res.err, test.ShouldBeNil)
	test.That(t, res.det, test.ShouldNotBeNil)
	test.That(t, res.det.ColdStart, test.ShouldBeFalse)

	// the reset wins over the frame that was in flight
	test.That(t, tracker.State().Detected(), test.ShouldBeFalse)
	test.That(t, tracker.State().ColdStart, test.ShouldBeTrue)

	aligner.entered = nil
	det, err := tracker.ProcessFrame(context.Background(), frame)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, det.ColdStart, test.ShouldBeTrue)
}

// TestTrackerRemovesGround runs the configured ground remover and ICP on a camera looking down at an
// object resting above a floor.
func TestTrackerRemovesGround(t *testing.T) {
	cfg := testConfig()
	cfg.RemoveGround = true
	cfg.GroundHeight = 0.01

	cameraInRobot := spatialmath.NewPose(r3.Vector{Z: 1.5}, &spatialmath.EulerAngles{Roll: math.Pi})
	fs, err := referenceframe.NewStaticFrameSystem([]referenceframe.LinkConfig{
		referenceframe.NewLinkConfig(referenceframe.World, "robot", robotInWorld),
		referenceframe.NewLinkConfig("robot", "camera", cameraInRobot),
	})
	test.That(t, err, test.ShouldBeNil)

	model := makeTarget(t, 1500, 3)
	minZ := math.Inf(1)
	model.Iterate(0, 0, func(p r3.Vector, d pc.Data) bool {
		minZ = math.Min(minZ, p.Z)
		return true
	})
	objectPose := spatialmath.NewPose(
		r3.Vector{X: 0.1, Y: -0.05, Z: 0.03 - minZ},
		&spatialmath.EulerAngles{Yaw: utils.DegToRad(5)},
	)
	object, err := pc.ApplyOffset(model, objectPose)
	test.That(t, err, test.ShouldBeNil)

	const side = 51
	floor := pc.NewWithPrealloc(side * side)
	for i := 0; i < side; i++ {
		for j := 0; j < side; j++ {
			test.That(t, floor.Set(r3.Vector{X: -0.5 + 0.02*float64(i), Y: -0.5 + 0.02*float64(j)}, nil), test.ShouldBeNil)
		}
	}
	scene, err := pc.Merge([]pc.PointCloud{floor, object}, nil)
	test.That(t, err, test.ShouldBeNil)
	inCamera, err := pc.ApplyOffset(scene, spatialmath.PoseInverse(cameraInRobot))
	test.That(t, err, test.ShouldBeNil)

	sink := &fakeDebugSink{}
	tracker, err := NewTracker(cfg, fs, model, golog.NewTestLogger(t), WithDebugSink(sink))
	test.That(t, err, test.ShouldBeNil)
	tracker.Enable()

	det, err := tracker.ProcessFrame(context.Background(), Frame{Cloud: inCamera, Time: time.Now(), FrameID: "camera"})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, det.ColdStart, test.ShouldBeTrue)
	test.That(t, det.FitnessScore, test.ShouldBeLessThan, 1e-4)
	test.That(t, det.Pose.Point().Sub(objectPose.Point()).Norm(), test.ShouldBeLessThan, 0.01)
	test.That(t, spatialmath.YawDiff(det.Pose.Orientation(), objectPose.Orientation()), test.ShouldBeLessThan, utils.DegToRad(1))

	// the floor is the uncolored part of the objects debug cloud
	objects := sink.clouds[DebugCloudObjects]
	test.That(t, objects, test.ShouldNotBeNil)
	uncolored := 0
	objects.Iterate(0, 0, func(p r3.Vector, d pc.Data) bool {
		if d == nil || !d.HasColor() {
			uncolored++
			test.That(t, p.Z, test.ShouldAlmostEqual, 0, 1e-6)
		}
		return true
	})
	test.That(t, uncolored, test.ShouldEqual, side*side)
}

func TestTrackerDebugClouds(t *testing.T) {
	cfg := testConfig()
	cfg.RemoveGround = true
	ground := pc.New()
	for i := 0; i < 20; i++ {
		test.That(t, ground.Set(r3.Vector{X: float64(i) * 0.1, Z: 1.6}, nil), test.ShouldBeNil)
	}
	remover := &fakeRemover{ground: ground, objects: func(scan pc.PointCloud) pc.PointCloud { return scan }}
	sink := &fakeDebugSink{}
	tracker := newTestTracker(t, cfg, testFrameSystem(t),
		WithAligner(acceptingAligner()), WithBackgroundRemover(remover), WithDebugSink(sink))
	tracker.Enable()
	model := tracker.Model()

	_, err := tracker.ProcessFrame(context.Background(), sceneFrame(t, model, spatialmath.NewPoseFromPoint(r3.Vector{Z: 1.8}), time.Now()))
	test.That(t, err, test.ShouldBeNil)

	objects := sink.clouds[DebugCloudObjects]
	test.That(t, objects, test.ShouldNotBeNil)
	test.That(t, objects.Size(), test.ShouldBeGreaterThan, ground.Size()+100)
	red := 0
	objects.Iterate(0, 0, func(p r3.Vector, d pc.Data) bool {
		if d != nil && d.HasColor() {
			r, g, b := d.RGB255()
			test.That(t, []uint8{r, g, b}, test.ShouldResemble, []uint8{255, 0, 0})
			red++
		}
		return true
	})
	test.That(t, red, test.ShouldEqual, objects.Size()-ground.Size())

	// the robot frame scan followed by the aligned model in green
	registered := sink.clouds[DebugCloudRegistered]
	test.That(t, registered, test.ShouldNotBeNil)
	test.That(t, registered.Size(), test.ShouldBeGreaterThan, model.Size())
	green := 0
	registered.Iterate(0, 0, func(p r3.Vector, d pc.Data) bool {
		if d != nil && d.HasColor() {
			green++
		}
		return true
	})
	test.That(t, green, test.ShouldBeGreaterThan, 0)
	test.That(t, green, test.ShouldBeLessThanOrEqualTo, model.Size())
}

func TestTrackerRun(t *testing.T) {
	aligner := acceptingAligner()
	tracker := newTestTracker(t, testConfig(), testFrameSystem(t), WithAligner(aligner))
	tracker.Enable()
	model := tracker.Model()

	frames := make(chan Frame, 3)
	frames <- sceneFrame(t, model, spatialmath.NewPoseFromPoint(r3.Vector{Z: 1.8}), time.Now())
	frames <- Frame{Cloud: pc.New()}
	frames <- sceneFrame(t, model, spatialmath.NewPoseFromPoint(r3.Vector{Z: 1.9}), time.Now())
	close(frames)

	test.That(t, tracker.Run(context.Background(), frames), test.ShouldBeNil)
	stats := tracker.Stats()
	test.That(t, stats.Frames, test.ShouldEqual, 3)
	test.That(t, stats.Detections, test.ShouldEqual, 2)
	test.That(t, aligner.Calls(), test.ShouldEqual, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	test.That(t, tracker.Run(ctx, make(chan Frame)), test.ShouldBeError, context.Canceled)
}

func TestIsRecoverable(t *testing.T) {
	test.That(t, IsRecoverable(nil), test.ShouldBeFalse)
	test.That(t, IsRecoverable(errors.New("boom")), test.ShouldBeFalse)
	test.That(t, IsRecoverable(pc.NewInsufficientPointsError("x", 1, 2)), test.ShouldBeTrue)
	test.That(t, IsRecoverable(errors.Wrap(ErrFrameDropped, "frame 3")), test.ShouldBeTrue)
	test.That(t, IsRecoverable(&calibrationError{cause: errors.New("no tf")}), test.ShouldBeTrue)
	test.That(t, IsRecoverable(&RejectedError{Verdict: Verdict{Failed: CriterionFitness}}), test.ShouldBeTrue)
	test.That(t, IsRecoverable(&ModelLoadError{Path: "x", Err: pc.NewInsufficientPointsError("x", 1, 2)}), test.ShouldBeFalse)
}
