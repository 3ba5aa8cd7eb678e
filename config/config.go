// Package config defines the single immutable configuration record of the tracker.
package config

import (
	"strconv"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	pc "go.viam.com/posetracker/pointcloud"
	"go.viam.com/posetracker/referenceframe"
	"go.viam.com/posetracker/registration"
	rutils "go.viam.com/posetracker/utils"
	"go.viam.com/posetracker/vision/segmentation"
)

// Config describes how scans are conditioned, how the target is registered and which alignments
// are accepted. Distances are in meters.
type Config struct {
	MinRange           float64 `json:"min_range"`
	MaxRange           float64 `json:"max_range"`
	RangeAxis          string  `json:"range_axis"`
	VoxelSize          float64 `json:"voxel_size"`
	ReferenceModelPath string  `json:"reference_model_path"`

	SensorFrameID string `json:"sensor_frame_id"`
	RobotFrameID  string `json:"robot_frame_id"`
	WorldFrameID  string `json:"world_frame_id"`
	TargetFrameID string `json:"target_frame_id"`

	RemoveGround     bool    `json:"remove_ground"`
	GroundHeight     float64 `json:"ground_height"`
	GroundBand       float64 `json:"ground_band"`
	GroundIterations int     `json:"ground_iterations"`
	GroundMinInliers int     `json:"ground_min_inliers"`
	GroundSeed       int64   `json:"ground_seed"`

	MaxICPDist    float64 `json:"max_icp_dist"`
	MaxICPScore   float64 `json:"max_icp_score"`
	MaxYawJumpDeg float64 `json:"max_yaw_jump_deg"`
	UseColor      bool    `json:"use_color"`
	// ResetTimeout is in seconds.
	ResetTimeout float64 `json:"reset_timeout"`
	MinPoints    int     `json:"min_points"`

	OutlierRadius       float64 `json:"outlier_radius"`
	OutlierMinNeighbors int     `json:"outlier_min_neighbors"`

	ICP registration.Config `json:"icp"`

	PublishPlanar    bool                        `json:"publish_planar"`
	StaticTransforms []referenceframe.LinkConfig `json:"static_transforms"`
}

// Defaults returns the configuration used for every option that is not set.
func Defaults() Config {
	return Config{
		MinRange:           1.0,
		MaxRange:           2.5,
		RangeAxis:          string(pc.AxisZ),
		VoxelSize:          0.02,
		ReferenceModelPath: "target.pcd",

		SensorFrameID: "camera",
		RobotFrameID:  "robot",
		WorldFrameID:  referenceframe.World,
		TargetFrameID: "target",

		RemoveGround:     true,
		GroundHeight:     0.09,
		GroundBand:       0.35,
		GroundIterations: 1000,
		GroundMinInliers: 10,
		GroundSeed:       1,

		MaxICPDist:    2.0,
		MaxICPScore:   0.0001,
		MaxYawJumpDeg: 20,
		UseColor:      true,
		ResetTimeout:  6.0,
		MinPoints:     100,

		OutlierRadius:       0.2,
		OutlierMinNeighbors: 100,

		ICP: registration.DefaultConfig(),

		PublishPlanar: true,
	}
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.ReferenceModelPath == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "reference_model_path")
	}
	for _, f := range []struct{ field, val string }{
		{"sensor_frame_id", cfg.SensorFrameID},
		{"robot_frame_id", cfg.RobotFrameID},
		{"world_frame_id", cfg.WorldFrameID},
		{"target_frame_id", cfg.TargetFrameID},
	} {
		if f.val == "" {
			return utils.NewConfigValidationFieldRequiredError(path, f.field)
		}
	}
	if cfg.MinRange < 0 || cfg.MinRange >= cfg.MaxRange {
		return utils.NewConfigValidationError(path,
			errors.Errorf("min_range (%v) must be non-negative and less than max_range (%v)", cfg.MinRange, cfg.MaxRange))
	}
	if _, err := pc.Axis(cfg.RangeAxis).Component(r3.Vector{}); err != nil {
		return utils.NewConfigValidationError(path, errors.Wrap(err, "range_axis"))
	}
	if cfg.VoxelSize <= 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("voxel_size must be greater than 0, got %v", cfg.VoxelSize))
	}
	if cfg.RemoveGround {
		gc := cfg.GroundConfig()
		if err := gc.CheckValid(); err != nil {
			return utils.NewConfigValidationError(path, err)
		}
	}
	if cfg.MaxICPDist <= 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("max_icp_dist must be greater than 0, got %v", cfg.MaxICPDist))
	}
	if cfg.MaxICPScore <= 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("max_icp_score must be greater than 0, got %v", cfg.MaxICPScore))
	}
	if cfg.MaxYawJumpDeg <= 0 || cfg.MaxYawJumpDeg > 180 {
		return utils.NewConfigValidationError(path,
			errors.Errorf("max_yaw_jump_deg must be in degrees, between 0 and 180, got %v", cfg.MaxYawJumpDeg))
	}
	if cfg.ResetTimeout < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("reset_timeout cannot be less than 0, got %v", cfg.ResetTimeout))
	}
	if cfg.MinPoints < 3 {
		return utils.NewConfigValidationError(path, errors.Errorf("min_points must be at least 3, got %v", cfg.MinPoints))
	}
	if cfg.OutlierRadius <= 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("outlier_radius must be greater than 0, got %v", cfg.OutlierRadius))
	}
	if cfg.OutlierMinNeighbors < 0 {
		return utils.NewConfigValidationError(path,
			errors.Errorf("outlier_min_neighbors cannot be less than 0, got %v", cfg.OutlierMinNeighbors))
	}
	if err := cfg.ICP.CheckValid(); err != nil {
		return utils.NewConfigValidationError(path+".icp", err)
	}
	for i, link := range cfg.StaticTransforms {
		if err := link.Validate(); err != nil {
			return utils.NewConfigValidationError(path+".static_transforms."+strconv.Itoa(i), err)
		}
	}
	return nil
}

// GroundConfig returns the ground removal parameters.
func (cfg *Config) GroundConfig() segmentation.GroundConfig {
	return segmentation.GroundConfig{
		HeightThreshold: cfg.GroundHeight,
		Band:            cfg.GroundBand,
		Iterations:      cfg.GroundIterations,
		MinInliers:      cfg.GroundMinInliers,
		Seed:            cfg.GroundSeed,
		UseColor:        cfg.UseColor,
	}
}

// RangeFilter returns the depth band applied to live scans in the sensor frame.
func (cfg *Config) RangeFilter() pc.RangeFilter {
	return pc.RangeFilter{Axis: pc.Axis(cfg.RangeAxis), Min: cfg.MinRange, Max: cfg.MaxRange}
}

// ResetTimeoutDuration returns the reset timeout as a duration.
func (cfg *Config) ResetTimeoutDuration() time.Duration {
	return time.Duration(cfg.ResetTimeout * float64(time.Second))
}

// MaxYawJump returns the largest accepted yaw change between detections in radians.
func (cfg *Config) MaxYawJump() float64 {
	return rutils.DegToRad(cfg.MaxYawJumpDeg)
}
