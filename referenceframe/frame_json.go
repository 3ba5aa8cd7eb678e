package referenceframe

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/posetracker/spatialmath"
)

// TranslationConfig is the json form of a translation in meters.
type TranslationConfig struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// QuaternionConfig is the json form of a rotation quaternion.
type QuaternionConfig struct {
	W float64 `json:"w"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// LinkConfig places the child frame relative to the parent frame.
type LinkConfig struct {
	Parent      string            `json:"parent"`
	Child       string            `json:"child"`
	Translation TranslationConfig `json:"translation"`
	// Quaternion defaults to no rotation when omitted.
	Quaternion *QuaternionConfig `json:"quaternion,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *LinkConfig) Validate() error {
	if cfg.Parent == "" {
		return errors.New("link is missing a parent")
	}
	if cfg.Child == "" {
		return errors.New("link is missing a child")
	}
	if cfg.Parent == cfg.Child {
		return errors.Errorf("frame %q cannot be its own parent", cfg.Child)
	}
	if q := cfg.Quaternion; q != nil && q.W == 0 && q.X == 0 && q.Y == 0 && q.Z == 0 {
		return errors.Errorf("link %q -> %q has a zero quaternion", cfg.Parent, cfg.Child)
	}
	return nil
}

// ParseConfig converts a LinkConfig into the pose of the child frame in the parent frame.
func (cfg *LinkConfig) ParseConfig() (spatialmath.Pose, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	pt := r3.Vector{X: cfg.Translation.X, Y: cfg.Translation.Y, Z: cfg.Translation.Z}
	if cfg.Quaternion == nil {
		return spatialmath.NewPoseFromPoint(pt), nil
	}
	q := cfg.Quaternion
	return spatialmath.NewPose(pt, spatialmath.NewQuaternion(quat.Number{Real: q.W, Imag: q.X, Jmag: q.Y, Kmag: q.Z})), nil
}

// NewLinkConfig creates the config form of a link.
func NewLinkConfig(parent, child string, pose spatialmath.Pose) LinkConfig {
	pt := pose.Point()
	q := pose.Orientation().Quaternion()
	return LinkConfig{
		Parent:      parent,
		Child:       child,
		Translation: TranslationConfig{X: pt.X, Y: pt.Y, Z: pt.Z},
		Quaternion:  &QuaternionConfig{W: q.Real, X: q.Imag, Y: q.Jmag, Z: q.Kmag},
	}
}
