package tracking

import (
	"fmt"
	"time"

	"go.viam.com/posetracker/registration"
	"go.viam.com/posetracker/spatialmath"
)

// Criterion names one acceptance check.
type Criterion string

// The acceptance checks, in the order they are evaluated.
const (
	CriterionNone         Criterion = ""
	CriterionConvergence  Criterion = "convergence"
	CriterionDisplacement Criterion = "displacement"
	CriterionFitness      Criterion = "fitness"
	CriterionYaw          Criterion = "yaw"
)

// Verdict is the outcome of the acceptance gate for one alignment.
type Verdict struct {
	Accepted bool
	// Failed is the first check that rejected the alignment.
	Failed Criterion
	// Value and Threshold describe the failed check.
	Value     float64
	Threshold float64
	// Pose is the candidate target pose, whether accepted or not.
	Pose spatialmath.Pose
}

func (v Verdict) String() string {
	if v.Accepted {
		return "accepted"
	}
	if v.Failed == CriterionConvergence {
		return "alignment did not converge"
	}
	return fmt.Sprintf("%s check failed (%g, threshold %g)", v.Failed, v.Value, v.Threshold)
}

// AcceptanceGate decides whether an alignment is trustworthy enough to replace the track state.
type AcceptanceGate struct {
	// MaxDisplacement bounds the distance between the candidate pose and the hypothesis.
	MaxDisplacement float64
	// MaxFitness bounds the alignment fitness score.
	MaxFitness float64
	// MaxYawJump bounds the yaw change since the last detection in radians. Unchecked on cold starts.
	MaxYawJump float64
}

// Evaluate checks an alignment that started from hyp. On acceptance it returns the new track
// state. On rejection state is returned unchanged.
func (g AcceptanceGate) Evaluate(
	state TrackState,
	hyp Hypothesis,
	result *registration.Result,
	now time.Time,
) (TrackState, Verdict) {
	candidate := spatialmath.Compose(result.Transform, hyp.Pose)
	verdict := Verdict{Pose: candidate}

	if !result.Converged {
		verdict.Failed = CriterionConvergence
		return state, verdict
	}
	if dist := candidate.Point().Sub(hyp.Pose.Point()).Norm(); !(dist < g.MaxDisplacement) {
		verdict.Failed, verdict.Value, verdict.Threshold = CriterionDisplacement, dist, g.MaxDisplacement
		return state, verdict
	}
	if !(result.FitnessScore < g.MaxFitness) {
		verdict.Failed, verdict.Value, verdict.Threshold = CriterionFitness, result.FitnessScore, g.MaxFitness
		return state, verdict
	}
	yaw := spatialmath.NormalizeAngle(spatialmath.Yaw(candidate.Orientation().Quaternion()))
	if !hyp.ColdStart {
		if diff := spatialmath.WrappedAngleDiff(yaw, state.LastYaw); !(diff < g.MaxYawJump) {
			verdict.Failed, verdict.Value, verdict.Threshold = CriterionYaw, diff, g.MaxYawJump
			return state, verdict
		}
	}

	verdict.Accepted = true
	return TrackState{
		LastPose:      candidate,
		LastDetection: now,
		LastYaw:       yaw,
		ColdStart:     hyp.ColdStart,
	}, verdict
}
