package tracking

import (
	"time"

	pc "go.viam.com/posetracker/pointcloud"
	"go.viam.com/posetracker/spatialmath"
)

// Hypothesis is the starting pose of the reference model for one alignment.
type Hypothesis struct {
	Pose      spatialmath.Pose
	ColdStart bool
}

// PoseInitializer picks the alignment starting pose. When the target has not been seen for longer
// than ResetTimeout the model is placed at the scan centroid with no rotation, otherwise at the last
// accepted pose.
type PoseInitializer struct {
	ResetTimeout time.Duration
}

// Initialize returns the hypothesis for a scan observed at now. It never modifies state.
func (pi PoseInitializer) Initialize(state TrackState, scan pc.PointCloud, now time.Time) Hypothesis {
	elapsed := now.Sub(state.LastDetection)
	if elapsed < 0 {
		elapsed = -elapsed
	}
	if !state.Detected() || elapsed > pi.ResetTimeout {
		return Hypothesis{Pose: spatialmath.NewPoseFromPoint(pc.CloudCentroid(scan)), ColdStart: true}
	}
	return Hypothesis{Pose: state.LastPose, ColdStart: false}
}
