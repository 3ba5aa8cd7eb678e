package referenceframe

import (
	"github.com/pkg/errors"
)

// ErrFrameNotFound is returned when a frame, or a path between two frames, is not known.
var ErrFrameNotFound = errors.New("frame not found")

// NewFrameMissingError returns an error indicating that the given frame is missing from the frame system.
func NewFrameMissingError(frameName string) error {
	return errors.Wrapf(ErrFrameNotFound, "frame with name %q not in frame system", frameName)
}

// NewFrameAlreadyExistsError returns an error indicating that a frame of the given name already exists.
func NewFrameAlreadyExistsError(frameName string) error {
	return errors.Errorf("frame with name %q already in frame system", frameName)
}

// NewParentFrameMissingError returns an error indicating that a frame's parent is unknown.
func NewParentFrameMissingError(frameName, parent string) error {
	return errors.Wrapf(ErrFrameNotFound, "parent frame %q of frame %q not in frame system", parent, frameName)
}
