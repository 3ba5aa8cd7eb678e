package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"

	pc "go.viam.com/posetracker/pointcloud"
	"go.viam.com/posetracker/referenceframe"
	"go.viam.com/posetracker/spatialmath"
	rutils "go.viam.com/posetracker/utils"
)

// FrameUpdate places the child frame relative to the parent frame at a point in time.
type FrameUpdate struct {
	Parent string
	Child  string
	Pose   spatialmath.Pose
	Time   time.Time
}

// PoseStamped is a pose expressed in a named frame.
type PoseStamped struct {
	FrameID string
	Pose    spatialmath.Pose
	Time    time.Time
}

// Publisher receives the target pose after every accepted alignment.
type Publisher interface {
	PublishTransform(ctx context.Context, update FrameUpdate) error
	PublishPose(ctx context.Context, pose PoseStamped) error
}

// DebugSink receives intermediate clouds for inspection.
type DebugSink interface {
	PublishDebugCloud(ctx context.Context, name string, cloud pc.PointCloud, ts time.Time) error
}

// The debug cloud names.
const (
	DebugCloudObjects    = "objects"
	DebugCloudRegistered = "registered"
)

type jsonRecord struct {
	Kind   string                    `json:"kind"`
	Time   time.Time                 `json:"time"`
	Frame  string                    `json:"frame"`
	Link   referenceframe.LinkConfig `json:"link"`
	YawDeg float64                   `json:"yaw_deg"`
}

// JSONPublisher writes every published transform and pose as one JSON object per line.
type JSONPublisher struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONPublisher returns a publisher writing to w.
func NewJSONPublisher(w io.Writer) *JSONPublisher {
	return &JSONPublisher{enc: json.NewEncoder(w)}
}

// PublishTransform implements Publisher.
func (jp *JSONPublisher) PublishTransform(ctx context.Context, update FrameUpdate) error {
	return jp.write(jsonRecord{
		Kind:   "transform",
		Time:   update.Time,
		Frame:  update.Parent,
		Link:   referenceframe.NewLinkConfig(update.Parent, update.Child, update.Pose),
		YawDeg: poseYawDeg(update.Pose),
	})
}

// PublishPose implements Publisher.
func (jp *JSONPublisher) PublishPose(ctx context.Context, pose PoseStamped) error {
	return jp.write(jsonRecord{
		Kind:   "pose",
		Time:   pose.Time,
		Frame:  pose.FrameID,
		Link:   referenceframe.NewLinkConfig(pose.FrameID, "", pose.Pose),
		YawDeg: poseYawDeg(pose.Pose),
	})
}

func (jp *JSONPublisher) write(rec jsonRecord) error {
	jp.mu.Lock()
	defer jp.mu.Unlock()
	return errors.Wrapf(jp.enc.Encode(rec), "cannot write %s record", rec.Kind)
}

func poseYawDeg(p spatialmath.Pose) float64 {
	return rutils.RadToDeg(spatialmath.Yaw(p.Orientation().Quaternion()))
}

// PCDDebugSink writes every debug cloud as a binary PCD file named after the cloud and its timestamp.
type PCDDebugSink struct {
	dir string
}

// NewPCDDebugSink returns a sink writing into dir, creating it if needed.
func NewPCDDebugSink(dir string) (*PCDDebugSink, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errors.Wrapf(err, "cannot create debug directory %q", dir)
	}
	return &PCDDebugSink{dir: dir}, nil
}

// PublishDebugCloud implements DebugSink.
func (s *PCDDebugSink) PublishDebugCloud(ctx context.Context, name string, cloud pc.PointCloud, ts time.Time) error {
	fn := filepath.Join(s.dir, fmt.Sprintf("%s_%d.pcd", name, ts.UnixNano()))
	return pc.WriteToPCDFile(cloud, fn, pc.PCDBinary)
}
