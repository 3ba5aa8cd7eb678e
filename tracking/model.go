package tracking

import (
	"github.com/edaniels/golog"

	pc "go.viam.com/posetracker/pointcloud"
)

// LoadReferenceModel reads the reference model from a .pcd or .las file.
// Any failure is returned as a *ModelLoadError.
func LoadReferenceModel(path string, logger golog.Logger) (pc.PointCloud, error) {
	model, err := pc.NewFromFile(path, logger)
	if err != nil {
		return nil, &ModelLoadError{Path: path, Err: err}
	}
	if model.Size() == 0 {
		return nil, &ModelLoadError{Path: path, Err: pc.NewInsufficientPointsError("model loading", 0, 3)}
	}
	logger.Infow("loaded reference model", "path", path, "points", model.Size())
	return model, nil
}
