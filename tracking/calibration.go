package tracking

import (
	"context"
	"sync"
	"time"

	"go.viam.com/posetracker/referenceframe"
	"go.viam.com/posetracker/spatialmath"
)

const calibrationTimeout = time.Second

// calibration memoizes the pose of the sensor in the robot frame. Once resolved it never changes.
type calibration struct {
	lookup     referenceframe.TransformLookup
	robotFrame string

	mu   sync.Mutex
	pose spatialmath.Pose
}

func newCalibration(lookup referenceframe.TransformLookup, robotFrame string) *calibration {
	return &calibration{lookup: lookup, robotFrame: robotFrame}
}

// Resolve returns the memoized transform, looking up the pose of sensorFrame in the robot frame on
// first use. A failed lookup is retried on the next call.
func (c *calibration) Resolve(ctx context.Context, sensorFrame string, at time.Time) (spatialmath.Pose, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pose != nil {
		return c.pose, nil
	}
	ctx, cancel := context.WithTimeout(ctx, calibrationTimeout)
	defer cancel()
	pose, err := c.lookup.LookupTransform(ctx, c.robotFrame, sensorFrame, at)
	if err != nil {
		return nil, &calibrationError{cause: err}
	}
	c.pose = pose
	return pose, nil
}

// Resolved returns the memoized transform and whether it is available.
func (c *calibration) Resolved() (spatialmath.Pose, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pose, c.pose != nil
}
