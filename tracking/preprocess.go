package tracking

import (
	"context"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	pc "go.viam.com/posetracker/pointcloud"
	"go.viam.com/posetracker/spatialmath"
)

// PreprocessConfig holds the conditioning parameters of scans and the reference model.
type PreprocessConfig struct {
	Range               pc.RangeFilter
	VoxelSize           float64
	OutlierRadius       float64
	OutlierMinNeighbors int
	MinPoints           int
}

// Preprocessor conditions live scans and the reference model into comparable clouds.
type Preprocessor struct {
	cfg    PreprocessConfig
	logger golog.Logger
}

// NewPreprocessor returns a preprocessor for the given parameters.
func NewPreprocessor(cfg PreprocessConfig, logger golog.Logger) (*Preprocessor, error) {
	if cfg.VoxelSize <= 0 {
		return nil, errors.Errorf("voxel size must be greater than 0, got %v", cfg.VoxelSize)
	}
	if cfg.Range.Min > cfg.Range.Max {
		return nil, errors.Errorf("range min %v is greater than range max %v", cfg.Range.Min, cfg.Range.Max)
	}
	return &Preprocessor{cfg: cfg, logger: logger}, nil
}

// PrepareScan drops non-finite points and points outside the depth band in the sensor frame, moves
// the scan into the robot frame with sensorToRobot, downsamples it and removes sparse outliers.
func (p *Preprocessor) PrepareScan(ctx context.Context, scan pc.PointCloud, sensorToRobot spatialmath.Pose) (pc.PointCloud, error) {
	_, span := trace.StartSpan(ctx, "tracking::Preprocessor::PrepareScan")
	defer span.End()

	filters := []pc.Filter{
		pc.FiniteFilter{},
		p.cfg.Range,
		pc.FilterFunc(func(src pc.PointCloud) (pc.PointCloud, error) {
			return pc.ApplyOffset(src, sensorToRobot)
		}),
		pc.VoxelGridFilter{Size: p.cfg.VoxelSize},
	}
	if p.cfg.OutlierMinNeighbors > 0 {
		filters = append(filters, pc.RadiusOutlierFilter{Radius: p.cfg.OutlierRadius, MinNeighbors: p.cfg.OutlierMinNeighbors})
	}
	out, err := pc.Chain(scan, filters...)
	if err != nil {
		return nil, err
	}
	p.logger.Debugw("preprocessed scan", "input", scan.Size(), "output", out.Size())
	if out.Size() < p.cfg.MinPoints {
		return nil, pc.NewInsufficientPointsError("preprocessing", out.Size(), p.cfg.MinPoints)
	}
	return out, nil
}

// PrepareModel drops non-finite points of the reference model and downsamples it at the scan resolution.
func (p *Preprocessor) PrepareModel(model pc.PointCloud) (pc.PointCloud, error) {
	out, err := pc.Chain(model, pc.FiniteFilter{}, pc.VoxelGridFilter{Size: p.cfg.VoxelSize})
	if err != nil {
		return nil, err
	}
	if out.Size() < 3 {
		return nil, pc.NewInsufficientPointsError("model conditioning", out.Size(), 3)
	}
	return out, nil
}
