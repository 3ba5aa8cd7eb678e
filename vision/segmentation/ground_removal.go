package segmentation

import (
	"context"
	"math"
	"math/rand"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	pc "go.viam.com/posetracker/pointcloud"
)

// GroundConfig specifies how the supporting ground is found and how far from it object points may lie.
type GroundConfig struct {
	HeightThreshold float64 `json:"ground_height"`
	Band            float64 `json:"ground_band"`
	Iterations      int     `json:"ground_iterations"`
	MinInliers      int     `json:"ground_min_inliers"`
	Seed            int64   `json:"ground_seed"`
	UseColor        bool    `json:"use_color"`
}

// CheckValid checks to see in the input values are valid.
func (gc *GroundConfig) CheckValid() error {
	if gc.HeightThreshold <= 0 {
		return errors.Errorf("ground_height must be greater than 0, got %v", gc.HeightThreshold)
	}
	if gc.Band <= 0 {
		return errors.Errorf("ground_band must be greater than 0, got %v", gc.Band)
	}
	if gc.Iterations <= 0 {
		return errors.Errorf("ground_iterations must be greater than 0, got %v", gc.Iterations)
	}
	if gc.MinInliers < 0 {
		return errors.Errorf("ground_min_inliers cannot be less than 0, got %v", gc.MinInliers)
	}
	return nil
}

// GroundSegmentation is the result of splitting a scan into ground and object points.
type GroundSegmentation struct {
	Objects pc.PointCloud
	Ground  pc.PointCloud
	Plane   *Plane
	MeanZ   float64
}

// GroundRemover removes the dominant plane from a scan and keeps the points within a height band of it.
type GroundRemover struct {
	cfg    GroundConfig
	logger golog.Logger
}

// NewGroundRemover returns a GroundRemover after validating its configuration.
func NewGroundRemover(cfg GroundConfig, logger golog.Logger) (*GroundRemover, error) {
	if err := cfg.CheckValid(); err != nil {
		return nil, err
	}
	return &GroundRemover{cfg: cfg, logger: logger}, nil
}

// RemoveGround finds the ground plane of cloud and returns the object points that lie within the
// height band around the mean ground height. Every call draws from a generator seeded the same way so
// a given scan always segments the same.
func (gr *GroundRemover) RemoveGround(ctx context.Context, cloud pc.PointCloud) (*GroundSegmentation, error) {
	ctx, span := trace.StartSpan(ctx, "segmentation::RemoveGround")
	defer span.End()

	if !gr.cfg.UseColor {
		var err error
		cloud, err = pc.StripColorFilter{}.Filter(cloud)
		if err != nil {
			return nil, err
		}
	}

	//nolint:gosec
	r := rand.New(rand.NewSource(gr.cfg.Seed))
	plane, rest, err := SegmentPlane(ctx, cloud, gr.cfg.Iterations, gr.cfg.HeightThreshold, r)
	if err != nil {
		return nil, err
	}
	ground := plane.PointCloud()
	if ground.Size() < gr.cfg.MinInliers || ground.Size() == 0 {
		return nil, pc.NewInsufficientPointsError("ground segmentation", ground.Size(), gr.cfg.MinInliers)
	}

	sumZ := 0.0
	count := 0
	ground.Iterate(0, 0, func(p r3.Vector, d pc.Data) bool {
		sumZ += p.Z
		count++
		return true
	})
	meanZ := sumZ / float64(count)

	objects, err := pc.KeepIf(rest, func(p r3.Vector, d pc.Data) bool {
		return math.Abs(p.Z-meanZ) < gr.cfg.Band
	})
	if err != nil {
		return nil, err
	}
	gr.logger.Debugw("removed ground",
		"input", cloud.Size(), "ground", ground.Size(), "objects", objects.Size(), "mean_z", meanZ)
	return &GroundSegmentation{Objects: objects, Ground: ground, Plane: plane, MeanZ: meanZ}, nil
}
