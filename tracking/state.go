package tracking

import (
	"time"

	"go.viam.com/posetracker/spatialmath"
)

// TrackState is the persistent estimate of the target. It is only replaced when an alignment
// passes the acceptance gate.
type TrackState struct {
	// LastPose is the target pose in the robot frame.
	LastPose spatialmath.Pose
	// LastDetection is the time of the last accepted alignment. The zero time forces a cold start.
	LastDetection time.Time
	// LastYaw is the yaw of LastPose in radians within [0, 2*pi).
	LastYaw float64
	// ColdStart is whether the last accepted alignment started from the scan centroid.
	ColdStart bool
}

// NewTrackState returns the state of a tracker that has never seen the target.
func NewTrackState() TrackState {
	return TrackState{LastPose: spatialmath.NewZeroPose(), ColdStart: true}
}

// Detected returns whether the target has ever been accepted.
func (s TrackState) Detected() bool {
	return !s.LastDetection.IsZero()
}

// Detection describes one accepted alignment.
type Detection struct {
	Pose         spatialmath.Pose
	Time         time.Time
	FitnessScore float64
	ColdStart    bool
}
