package tracking

import (
	"fmt"

	"github.com/pkg/errors"

	pc "go.viam.com/posetracker/pointcloud"
)

var (
	// ErrNotEnabled is returned for frames received while the tracker is disabled.
	ErrNotEnabled = errors.New("tracker is not enabled")
	// ErrFrameDropped is returned for a frame that arrives while another is still being processed.
	ErrFrameDropped = errors.New("frame dropped, previous frame still in flight")
	// ErrTargetNotFound is wrapped by every rejection of the acceptance gate.
	ErrTargetNotFound = errors.New("target not found")
	// ErrCalibrationUnavailable is returned while the sensor to robot transform cannot be resolved.
	ErrCalibrationUnavailable = errors.New("sensor to robot calibration unavailable")
)

// RejectedError is returned when an alignment fails the acceptance gate.
type RejectedError struct {
	Verdict Verdict
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s: %s", ErrTargetNotFound, e.Verdict)
}

// Unwrap lets errors.Is match ErrTargetNotFound.
func (e *RejectedError) Unwrap() error {
	return ErrTargetNotFound
}

// ModelLoadError is returned when the reference model cannot be loaded or conditioned.
// It is fatal to the tracker, unlike per frame errors.
type ModelLoadError struct {
	Path string
	Err  error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("cannot load reference model %q: %v", e.Path, e.Err)
}

func (e *ModelLoadError) Unwrap() error {
	return e.Err
}

type calibrationError struct {
	cause error
}

func (e *calibrationError) Error() string {
	return fmt.Sprintf("%s: %v", ErrCalibrationUnavailable, e.cause)
}

func (e *calibrationError) Is(target error) bool {
	return target == ErrCalibrationUnavailable //nolint:errorlint
}

func (e *calibrationError) Unwrap() error {
	return e.cause
}

// IsRecoverable returns whether err only affects the frame that produced it. The track state is
// left unchanged by every recoverable error and processing continues with the next frame.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	var modelErr *ModelLoadError
	if errors.As(err, &modelErr) {
		return false
	}
	return pc.IsInsufficientData(err) ||
		errors.Is(err, ErrCalibrationUnavailable) ||
		errors.Is(err, ErrTargetNotFound) ||
		errors.Is(err, ErrNotEnabled) ||
		errors.Is(err, ErrFrameDropped)
}
