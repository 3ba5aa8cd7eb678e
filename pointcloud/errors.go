package pointcloud

import (
	"fmt"

	"github.com/pkg/errors"
)

// InsufficientPointsError is returned when a stage is left with too few points to continue.
type InsufficientPointsError struct {
	Stage string
	Got   int
	Need  int
}

func (e *InsufficientPointsError) Error() string {
	return fmt.Sprintf("insufficient data after %s: %d points, need at least %d", e.Stage, e.Got, e.Need)
}

// NewInsufficientPointsError returns an error describing a stage that ran out of points.
func NewInsufficientPointsError(stage string, got, need int) error {
	return &InsufficientPointsError{Stage: stage, Got: got, Need: need}
}

// IsInsufficientData returns whether err is, or wraps, an InsufficientPointsError.
func IsInsufficientData(err error) bool {
	var target *InsufficientPointsError
	return errors.As(err, &target)
}
