package cli

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	pc "go.viam.com/posetracker/pointcloud"
	"go.viam.com/posetracker/referenceframe"
	"go.viam.com/posetracker/registration"
	"go.viam.com/posetracker/spatialmath"
	"go.viam.com/posetracker/tracking"
	rutils "go.viam.com/posetracker/utils"
)

type alignOutput struct {
	Converged       bool                      `json:"converged"`
	FitnessScore    float64                   `json:"fitness_score"`
	Iterations      int                       `json:"iterations"`
	Correspondences int                       `json:"correspondences"`
	Transform       referenceframe.LinkConfig `json:"transform"`
}

// AlignAction registers the first cloud argument onto the second and prints the transform that
// moves the source onto the target.
func AlignAction(c *cli.Context) error {
	if c.Args().Len() != 2 {
		return errors.New("align requires a source and a target file")
	}
	logger := loggerFromContext(c)
	conf, err := loadConfig(c)
	if err != nil {
		return err
	}

	files := []string{c.Args().Get(0), c.Args().Get(1)}
	clouds := make([]pc.PointCloud, len(files))
	loaders := make([]rutils.SimpleFunc, len(files))
	for i, fn := range files {
		i, fn := i, fn
		loaders[i] = func(ctx context.Context) error {
			cloud, err := pc.NewFromFile(fn, logger)
			if err != nil {
				return errors.Wrapf(err, "cannot read %q", fn)
			}
			clouds[i] = cloud
			return nil
		}
	}
	if _, err := rutils.RunInParallel(c.Context, loaders); err != nil {
		return err
	}

	pre, err := tracking.NewPreprocessor(tracking.PreprocessConfig{
		Range:     conf.RangeFilter(),
		VoxelSize: conf.VoxelSize,
		MinPoints: conf.MinPoints,
	}, logger)
	if err != nil {
		return err
	}
	source, err := pre.PrepareModel(clouds[0])
	if err != nil {
		return err
	}
	target, err := pre.PrepareModel(clouds[1])
	if err != nil {
		return err
	}

	start := spatialmath.NewZeroPose()
	if c.Bool(alignFlagCenter) {
		start = spatialmath.NewPoseFromPoint(pc.CloudCentroid(target).Sub(pc.CloudCentroid(source)))
		if source, err = pc.ApplyOffset(source, start); err != nil {
			return err
		}
	}

	icp, err := registration.NewICP(conf.ICP, logger)
	if err != nil {
		return err
	}
	res, err := icp.Align(c.Context, source, target)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(alignOutput{
		Converged:       res.Converged,
		FitnessScore:    res.FitnessScore,
		Iterations:      res.Iterations,
		Correspondences: res.Correspondences,
		Transform:       referenceframe.NewLinkConfig(files[1], files[0], spatialmath.Compose(res.Transform, start)),
	})
}
