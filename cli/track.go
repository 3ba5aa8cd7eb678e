package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.viam.com/utils"

	"go.viam.com/posetracker/config"
	pc "go.viam.com/posetracker/pointcloud"
	"go.viam.com/posetracker/referenceframe"
	"go.viam.com/posetracker/ros"
	"go.viam.com/posetracker/spatialmath"
	"go.viam.com/posetracker/tracking"
)

// replayEpoch is the time of the first replayed frame.
var replayEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// TrackAction replays the frames of a directory or a ROS bag through a tracker and writes its detections.
func TrackAction(c *cli.Context) error {
	logger := loggerFromContext(c)
	conf, err := loadConfig(c)
	if err != nil {
		return err
	}

	source, err := frameSourceFromFlags(c, conf, logger)
	if err != nil {
		return err
	}

	fs, err := frameSystemFromConfig(conf, logger)
	if err != nil {
		return err
	}

	model, err := tracking.LoadReferenceModel(conf.ReferenceModelPath, logger)
	if err != nil {
		return err
	}

	var out io.Writer = c.App.Writer
	if fn := c.String(trackFlagOut); fn != "" {
		//nolint:gosec
		f, err := os.Create(fn)
		if err != nil {
			return errors.Wrapf(err, "cannot create output file %q", fn)
		}
		defer utils.UncheckedErrorFunc(f.Close)
		out = f
	}

	mockClock := clock.NewMock()
	opts := []tracking.Option{
		tracking.WithClock(mockClock),
		tracking.WithPublisher(tracking.NewJSONPublisher(out)),
	}
	if dir := c.String(trackFlagDebugDir); dir != "" {
		sink, err := tracking.NewPCDDebugSink(dir)
		if err != nil {
			return err
		}
		opts = append(opts, tracking.WithDebugSink(sink))
	}

	tracker, err := tracking.NewTracker(*conf, fs, model, logger, opts...)
	if err != nil {
		return err
	}
	tracker.Enable()

	var fitness stats.Float64Data
	for i := 0; i < source.count(); i++ {
		if err := c.Context.Err(); err != nil {
			return err
		}
		frame, name, err := source.frame(i)
		if err != nil {
			return err
		}
		// replayed detections are timed by the frames, not the wall clock
		mockClock.Set(frame.Time)
		det, err := tracker.ProcessFrame(c.Context, frame)
		if err != nil {
			if !tracking.IsRecoverable(err) {
				return errors.Wrapf(err, "frame %s", name)
			}
			logger.Debugw("frame skipped", "frame", name, "error", err)
			continue
		}
		logger.Infow("detection",
			"frame", name,
			"x", det.Pose.Point().X,
			"y", det.Pose.Point().Y,
			"z", det.Pose.Point().Z,
			"fitness", det.FitnessScore,
			"cold_start", det.ColdStart)
		fitness = append(fitness, det.FitnessScore)
	}

	counts := tracker.Stats()
	logger.Infow("replay finished",
		"frames", counts.Frames, "detections", counts.Detections, "rejections", counts.Rejections)
	if len(fitness) > 0 {
		mean, err := fitness.Mean()
		if err != nil {
			return err
		}
		worst, err := fitness.Max()
		if err != nil {
			return err
		}
		logger.Infow("fitness", "mean", mean, "max", worst)
	}
	return nil
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	fn := c.String(generalFlagConfig)
	if fn == "" {
		conf := config.Defaults()
		return &conf, nil
	}
	return config.Read(fn)
}

// frameSource yields the frames to replay in order.
type frameSource interface {
	count() int
	frame(i int) (tracking.Frame, string, error)
}

func frameSourceFromFlags(c *cli.Context, conf *config.Config, logger golog.Logger) (frameSource, error) {
	dir, bag := c.String(trackFlagFrames), c.String(trackFlagBag)
	switch {
	case dir != "" && bag != "":
		return nil, errors.Errorf("only one of --%s and --%s can be given", trackFlagFrames, trackFlagBag)
	case dir != "":
		files, err := listFrames(dir)
		if err != nil {
			return nil, err
		}
		return &dirSource{
			files:   files,
			period:  c.Duration(trackFlagPeriod),
			frameID: conf.SensorFrameID,
			logger:  logger,
		}, nil
	case bag != "":
		frames, err := ros.ReadFrames(bag, c.String(trackFlagTopic))
		if err != nil {
			return nil, errors.Wrapf(err, "cannot read bag %q", bag)
		}
		if len(frames) == 0 {
			return nil, errors.Errorf("no frames on topic %q", c.String(trackFlagTopic))
		}
		return bagSource(frames), nil
	default:
		return nil, errors.Errorf("one of --%s or --%s is required", trackFlagFrames, trackFlagBag)
	}
}

// dirSource reads one point cloud file per frame, spaced by period from replayEpoch.
type dirSource struct {
	files   []string
	period  time.Duration
	frameID string
	logger  golog.Logger
}

func (s *dirSource) count() int {
	return len(s.files)
}

func (s *dirSource) frame(i int) (tracking.Frame, string, error) {
	fn := s.files[i]
	cloud, err := pc.NewFromFile(fn, s.logger)
	if err != nil {
		return tracking.Frame{}, "", errors.Wrapf(err, "cannot read frame %q", fn)
	}
	ts := replayEpoch.Add(time.Duration(i) * s.period)
	return tracking.Frame{Cloud: cloud, Time: ts, FrameID: s.frameID}, filepath.Base(fn), nil
}

type bagSource []tracking.Frame

func (s bagSource) count() int {
	return len(s)
}

func (s bagSource) frame(i int) (tracking.Frame, string, error) {
	return s[i], fmt.Sprintf("#%d", i), nil
}

// listFrames returns the point cloud files of dir sorted by name.
func listFrames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read frames directory %q", dir)
	}
	var frames []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".pcd", ".las":
			frames = append(frames, filepath.Join(dir, e.Name()))
		}
	}
	if len(frames) == 0 {
		return nil, errors.Errorf("no .pcd or .las frames in %q", dir)
	}
	sort.Strings(frames)
	return frames, nil
}

// frameSystemFromConfig builds the configured static frames. A world, robot or sensor frame that is
// not configured is placed at its parent's origin.
func frameSystemFromConfig(conf *config.Config, logger golog.Logger) (*referenceframe.StaticFrameSystem, error) {
	fs, err := referenceframe.NewStaticFrameSystem(conf.StaticTransforms)
	if err != nil {
		return nil, err
	}
	for _, link := range []struct{ name, parent string }{
		{conf.WorldFrameID, referenceframe.World},
		{conf.RobotFrameID, conf.WorldFrameID},
		{conf.SensorFrameID, conf.RobotFrameID},
	} {
		if link.name == referenceframe.World {
			continue
		}
		if _, err := fs.Parent(link.name); err == nil {
			continue
		}
		logger.Infow("frame not configured, using identity transform", "frame", link.name, "parent", link.parent)
		if err := fs.AddFrame(link.name, link.parent, spatialmath.NewZeroPose()); err != nil {
			return nil, err
		}
	}
	logger.Debugf("frame system:\n%s", fs)
	return fs, nil
}
