// Package tracking follows one known rigid object through a stream of point clouds by aligning a
// reference model to every conditioned scan and keeping the last trusted pose.
package tracking

import (
	"context"
	"image/color"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.uber.org/atomic"

	"go.viam.com/posetracker/config"
	pc "go.viam.com/posetracker/pointcloud"
	"go.viam.com/posetracker/referenceframe"
	"go.viam.com/posetracker/registration"
	"go.viam.com/posetracker/spatialmath"
	rutils "go.viam.com/posetracker/utils"
	"go.viam.com/posetracker/vision/segmentation"
)

var (
	objectColor = color.NRGBA{R: 255, A: 255}
	modelColor  = color.NRGBA{G: 255, A: 255}
)

// Frame is one scan of the sensor.
type Frame struct {
	Cloud pc.PointCloud
	Time  time.Time
	// FrameID is the sensor frame of Cloud. When empty the configured sensor frame is used.
	FrameID string
}

// Aligner registers a source cloud onto a target cloud.
type Aligner interface {
	Align(ctx context.Context, source, target pc.PointCloud) (*registration.Result, error)
}

// BackgroundRemover splits a scan into ground and object points.
type BackgroundRemover interface {
	RemoveGround(ctx context.Context, cloud pc.PointCloud) (*segmentation.GroundSegmentation, error)
}

// Stats counts what happened to the frames given to a tracker.
type Stats struct {
	Frames     int64
	Detections int64
	Rejections int64
	Dropped    int64
}

// Option customizes a Tracker.
type Option func(*Tracker)

// WithPublisher sets where accepted poses are published.
func WithPublisher(p Publisher) Option {
	return func(t *Tracker) { t.publisher = p }
}

// WithDebugSink sets where intermediate clouds are published.
func WithDebugSink(d DebugSink) Option {
	return func(t *Tracker) { t.debug = d }
}

// WithClock sets the clock detections are timed with.
func WithClock(c clock.Clock) Option {
	return func(t *Tracker) { t.clock = c }
}

// WithAligner replaces the ICP aligner built from the config.
func WithAligner(a Aligner) Option {
	return func(t *Tracker) { t.aligner = a }
}

// WithBackgroundRemover replaces the ground remover built from the config.
func WithBackgroundRemover(r BackgroundRemover) Option {
	return func(t *Tracker) { t.remover = r }
}

// Tracker owns the track state of one target and runs every frame through the pipeline.
// A new tracker is disabled.
type Tracker struct {
	cfg         config.Config
	logger      golog.Logger
	clock       clock.Clock
	lookup      referenceframe.TransformLookup
	model       pc.PointCloud
	pre         *Preprocessor
	remover     BackgroundRemover
	aligner     Aligner
	initializer PoseInitializer
	gate        AcceptanceGate
	calibration *calibration
	publisher   Publisher
	debug       DebugSink

	enabled    atomic.Bool
	frames     atomic.Int64
	detections atomic.Int64
	rejections atomic.Int64
	dropped    atomic.Int64

	processing sync.Mutex

	stateMu sync.RWMutex
	state   TrackState
	// resets counts Reset calls so a frame in flight does not commit over a reset.
	resets uint64
}

// NewTracker validates cfg, conditions the reference model and returns a disabled tracker.
// Transforms between frames are resolved through lookup.
func NewTracker(
	cfg config.Config,
	lookup referenceframe.TransformLookup,
	model pc.PointCloud,
	logger golog.Logger,
	opts ...Option,
) (*Tracker, error) {
	if err := cfg.Validate("tracker"); err != nil {
		return nil, err
	}
	if lookup == nil {
		return nil, errors.New("tracker requires a transform lookup")
	}
	pre, err := NewPreprocessor(PreprocessConfig{
		Range:               cfg.RangeFilter(),
		VoxelSize:           cfg.VoxelSize,
		OutlierRadius:       cfg.OutlierRadius,
		OutlierMinNeighbors: cfg.OutlierMinNeighbors,
		MinPoints:           cfg.MinPoints,
	}, logger)
	if err != nil {
		return nil, err
	}
	if model == nil {
		return nil, &ModelLoadError{Path: cfg.ReferenceModelPath, Err: errors.New("no reference model")}
	}
	conditioned, err := pre.PrepareModel(model)
	if err != nil {
		return nil, &ModelLoadError{Path: cfg.ReferenceModelPath, Err: err}
	}

	t := &Tracker{
		cfg:         cfg,
		logger:      logger,
		clock:       clock.New(),
		lookup:      lookup,
		model:       conditioned,
		pre:         pre,
		initializer: PoseInitializer{ResetTimeout: cfg.ResetTimeoutDuration()},
		gate: AcceptanceGate{
			MaxDisplacement: cfg.MaxICPDist,
			MaxFitness:      cfg.MaxICPScore,
			MaxYawJump:      cfg.MaxYawJump(),
		},
		calibration: newCalibration(lookup, cfg.RobotFrameID),
		state:       NewTrackState(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.aligner == nil {
		icp, err := registration.NewICP(cfg.ICP, logger)
		if err != nil {
			return nil, err
		}
		t.aligner = icp
	}
	if t.remover == nil && cfg.RemoveGround {
		remover, err := segmentation.NewGroundRemover(cfg.GroundConfig(), logger)
		if err != nil {
			return nil, err
		}
		t.remover = remover
	}
	logger.Debugw("tracker created", "model_points", conditioned.Size(), "remove_ground", t.remover != nil)
	return t, nil
}

// Enable starts processing frames. Enabling an enabled tracker does nothing.
func (t *Tracker) Enable() {
	if t.enabled.CompareAndSwap(false, true) {
		t.logger.Info("tracker enabled")
	}
}

// Disable discards frames until the tracker is enabled again. The track state is kept.
func (t *Tracker) Disable() {
	if t.enabled.CompareAndSwap(true, false) {
		t.logger.Info("tracker disabled")
	}
}

// Enabled returns whether frames are being processed.
func (t *Tracker) Enabled() bool {
	return t.enabled.Load()
}

// Reset forgets the target so the next frame starts cold. A frame being processed while the tracker
// is reset does not update the track state.
func (t *Tracker) Reset() {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	t.state = NewTrackState()
	t.resets++
}

// State returns a copy of the current track state.
func (t *Tracker) State() TrackState {
	t.stateMu.RLock()
	defer t.stateMu.RUnlock()
	return t.state
}

// Stats returns the frame counters.
func (t *Tracker) Stats() Stats {
	return Stats{
		Frames:     t.frames.Load(),
		Detections: t.detections.Load(),
		Rejections: t.rejections.Load(),
		Dropped:    t.dropped.Load(),
	}
}

// Model returns the conditioned reference model.
func (t *Tracker) Model() pc.PointCloud {
	return t.model
}

// ProcessFrame runs one frame through the pipeline and returns the detection when the alignment is
// accepted. Frames are processed one at a time; a frame given while another is in flight is dropped.
// Every error for which IsRecoverable is true leaves the track state unchanged.
func (t *Tracker) ProcessFrame(ctx context.Context, frame Frame) (*Detection, error) {
	if !t.enabled.Load() {
		t.logger.Debug("tracker not enabled, discarding frame")
		return nil, ErrNotEnabled
	}
	if !t.processing.TryLock() {
		t.dropped.Inc()
		return nil, ErrFrameDropped
	}
	defer t.processing.Unlock()

	ctx, span := trace.StartSpan(ctx, "tracking::Tracker::ProcessFrame")
	defer span.End()

	t.frames.Inc()
	now := t.clock.Now()
	stamp := frame.Time
	if stamp.IsZero() {
		stamp = now
	}

	if frame.Cloud == nil || frame.Cloud.Size() < t.cfg.MinPoints {
		size := 0
		if frame.Cloud != nil {
			size = frame.Cloud.Size()
		}
		t.logger.Warnw("input cloud has too few points", "points", size, "min_points", t.cfg.MinPoints)
		return nil, pc.NewInsufficientPointsError("input", size, t.cfg.MinPoints)
	}

	sensorFrame := frame.FrameID
	if sensorFrame == "" {
		sensorFrame = t.cfg.SensorFrameID
	}
	sensorToRobot, err := t.calibration.Resolve(ctx, sensorFrame, stamp)
	if err != nil {
		t.logger.Warnw("cannot resolve sensor calibration", "sensor_frame", sensorFrame, "error", err)
		return nil, err
	}

	scan, err := t.pre.PrepareScan(ctx, frame.Cloud, sensorToRobot)
	if err != nil {
		t.logger.Warnw("scan has not enough points after filtering", "error", err)
		return nil, err
	}

	objects := scan
	if t.remover != nil {
		seg, err := t.removeGround(ctx, scan, stamp)
		if err != nil {
			t.logger.Warnw("cannot remove ground", "error", err)
			return nil, err
		}
		objects = seg.Objects
		if objects.Size() < t.cfg.MinPoints {
			t.logger.Warnw("scan has not enough points after ground removal",
				"points", objects.Size(), "min_points", t.cfg.MinPoints)
			return nil, pc.NewInsufficientPointsError("ground removal", objects.Size(), t.cfg.MinPoints)
		}
	}

	t.stateMu.RLock()
	state, resets := t.state, t.resets
	t.stateMu.RUnlock()
	hyp := t.initializer.Initialize(state, objects, now)
	source, err := pc.ApplyOffset(t.model, hyp.Pose)
	if err != nil {
		return nil, err
	}
	result, err := t.aligner.Align(ctx, source, objects)
	if err != nil {
		return nil, errors.Wrap(err, "alignment failed")
	}
	if result.Converged {
		t.logger.Infow("alignment converged",
			"fitness", result.FitnessScore,
			"distance", result.Transform.Point().Norm(),
			"iterations", result.Iterations)
	}

	newState, verdict := t.gate.Evaluate(state, hyp, result, now)
	t.publishRegistered(ctx, frame.Cloud, sensorToRobot, source, result, verdict.Accepted, stamp)
	if !verdict.Accepted {
		t.rejections.Inc()
		t.logger.Warnw("target not found, retrying",
			"reason", verdict.String(),
			"cold_start", hyp.ColdStart,
			"fitness", result.FitnessScore)
		return nil, &RejectedError{Verdict: verdict}
	}

	t.stateMu.Lock()
	committed := t.resets == resets
	if committed {
		t.state = newState
	}
	t.stateMu.Unlock()
	if !committed {
		t.logger.Infow("tracker reset while processing, detection not kept", "fitness", result.FitnessScore)
	}
	t.detections.Inc()
	t.logger.Infow("target found",
		"fitness", result.FitnessScore,
		"yaw_deg", rutils.RadToDeg(newState.LastYaw),
		"cold_start", hyp.ColdStart)

	t.publish(ctx, newState.LastPose, stamp)
	return &Detection{
		Pose:         newState.LastPose,
		Time:         now,
		FitnessScore: result.FitnessScore,
		ColdStart:    hyp.ColdStart,
	}, nil
}

func (t *Tracker) removeGround(ctx context.Context, scan pc.PointCloud, stamp time.Time) (*segmentation.GroundSegmentation, error) {
	ctx, span := trace.StartSpan(ctx, "tracking::Tracker::removeGround")
	defer span.End()

	seg, err := t.remover.RemoveGround(ctx, scan)
	if err != nil {
		return nil, err
	}
	if t.debug != nil {
		merged, err := pc.Merge(
			[]pc.PointCloud{seg.Ground, seg.Objects},
			[]pc.Data{nil, pc.NewColoredData(objectColor)},
		)
		if err == nil {
			err = t.debug.PublishDebugCloud(ctx, DebugCloudObjects, merged, stamp)
		}
		if err != nil {
			t.logger.Debugw("cannot publish debug cloud", "name", DebugCloudObjects, "error", err)
		}
	}
	return seg, nil
}

// publishRegistered publishes the robot frame scan, plus the aligned model when accepted.
func (t *Tracker) publishRegistered(
	ctx context.Context,
	raw pc.PointCloud,
	sensorToRobot spatialmath.Pose,
	source pc.PointCloud,
	result *registration.Result,
	accepted bool,
	stamp time.Time,
) {
	if t.debug == nil {
		return
	}
	err := func() error {
		scan, err := pc.Chain(raw, pc.FiniteFilter{})
		if err != nil {
			return err
		}
		scan, err = pc.ApplyOffset(scan, sensorToRobot)
		if err != nil {
			return err
		}
		if accepted {
			aligned, err := pc.ApplyOffset(source, result.Transform)
			if err != nil {
				return err
			}
			scan, err = pc.Merge([]pc.PointCloud{scan, aligned}, []pc.Data{nil, pc.NewColoredData(modelColor)})
			if err != nil {
				return err
			}
		}
		return t.debug.PublishDebugCloud(ctx, DebugCloudRegistered, scan, stamp)
	}()
	if err != nil {
		t.logger.Debugw("cannot publish debug cloud", "name", DebugCloudRegistered, "error", err)
	}
}

// publish sends the target frame update and the target pose in the world frame. Failures are logged.
func (t *Tracker) publish(ctx context.Context, pose spatialmath.Pose, stamp time.Time) {
	if t.publisher == nil {
		return
	}
	out := pose
	if t.cfg.PublishPlanar {
		out = spatialmath.NewPose(pose.Point(), spatialmath.YawOnly(pose.Orientation()))
	}
	if err := t.publisher.PublishTransform(ctx, FrameUpdate{
		Parent: t.cfg.RobotFrameID,
		Child:  t.cfg.TargetFrameID,
		Pose:   out,
		Time:   stamp,
	}); err != nil {
		t.logger.Warnw("cannot publish target frame", "error", err)
	}

	robotInWorld, err := t.lookup.LookupTransform(ctx, t.cfg.WorldFrameID, t.cfg.RobotFrameID, stamp)
	if err != nil {
		t.logger.Warnw("cannot place target in world frame", "world_frame", t.cfg.WorldFrameID, "error", err)
		return
	}
	if err := t.publisher.PublishPose(ctx, PoseStamped{
		FrameID: t.cfg.WorldFrameID,
		Pose:    spatialmath.Compose(robotInWorld, out),
		Time:    stamp,
	}); err != nil {
		t.logger.Warnw("cannot publish target pose", "error", err)
	}
}

// Run processes frames in order until the channel is closed or ctx is done. Per frame errors are logged.
func (t *Tracker) Run(ctx context.Context, frames <-chan Frame) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				return nil
			}
			if _, err := t.ProcessFrame(ctx, frame); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if IsRecoverable(err) {
					t.logger.Debugw("frame skipped", "error", err)
				} else {
					t.logger.Errorw("frame failed", "error", err)
				}
			}
		}
	}
}
