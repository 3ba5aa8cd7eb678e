// Package cli contains the posetracker command line.
package cli

import (
	"io"
	"time"

	"github.com/edaniels/golog"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

const (
	// Flags.
	generalFlagDebug  = "debug"
	generalFlagQuiet  = "quiet"
	generalFlagConfig = "config"

	trackFlagFrames   = "frames"
	trackFlagBag      = "bag"
	trackFlagTopic    = "topic"
	trackFlagPeriod   = "period"
	trackFlagOut      = "out"
	trackFlagDebugDir = "debug-dir"

	alignFlagCenter = "center"
)

var app = &cli.App{
	Name:  "posetracker",
	Usage: "track the pose of a known object in point clouds",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:    generalFlagDebug,
			Aliases: []string{"vvv"},
			Usage:   "enable debug logging",
		},
		&cli.BoolFlag{
			Name:    generalFlagQuiet,
			Aliases: []string{"q"},
			Usage:   "disable logging",
		},
		&cli.StringFlag{
			Name:    generalFlagConfig,
			Aliases: []string{"c"},
			Usage:   "load tracker configuration from `FILE`",
		},
	},
	Commands: []*cli.Command{
		{
			Name:      "track",
			Usage:     "replay recorded point cloud frames through the tracker",
			UsageText: "posetracker [global options] track (--frames <dir> | --bag <file> --topic <topic>) [--out <file>] [--debug-dir <dir>]",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  trackFlagFrames,
					Usage: "directory of .pcd or .las frames, processed in name order",
				},
				&cli.StringFlag{
					Name:  trackFlagBag,
					Usage: "ROS bag holding sensor_msgs/PointCloud2 frames",
				},
				&cli.StringFlag{
					Name:  trackFlagTopic,
					Usage: "point cloud topic to read from the bag",
					Value: "/camera/depth/points",
				},
				&cli.DurationFlag{
					Name:  trackFlagPeriod,
					Usage: "time between consecutive directory frames",
					Value: 100 * time.Millisecond,
				},
				&cli.StringFlag{
					Name:  trackFlagOut,
					Usage: "write detections as JSON lines to `FILE` instead of stdout",
				},
				&cli.StringFlag{
					Name:  trackFlagDebugDir,
					Usage: "write debug clouds into `DIR`",
				},
			},
			Action: TrackAction,
		},
		{
			Name:      "align",
			Usage:     "align a source cloud onto a target cloud once",
			UsageText: "posetracker [global options] align [--center] <source> <target>",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  alignFlagCenter,
					Usage: "start from the source centroid moved onto the target centroid",
				},
			},
			Action: AlignAction,
		},
	},
}

// NewApp returns a new app with the CLI API, Writer set to out, and ErrWriter
// set to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	app.Writer = out
	app.ErrWriter = errOut
	return app
}

func loggerFromContext(c *cli.Context) golog.Logger {
	switch {
	case c.Bool(generalFlagDebug):
		return golog.NewDebugLogger("posetracker")
	case c.Bool(generalFlagQuiet):
		return zap.NewNop().Sugar()
	default:
		return golog.NewLogger("posetracker")
	}
}
