package ros

import (
	"encoding/binary"
	"encoding/json"
	"image/color"
	"math"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	pc "go.viam.com/posetracker/pointcloud"
	"go.viam.com/posetracker/tracking"
)

// PointField datatypes.
const (
	pointFieldInt8    = 1
	pointFieldUint8   = 2
	pointFieldInt16   = 3
	pointFieldUint16  = 4
	pointFieldInt32   = 5
	pointFieldUint32  = 6
	pointFieldFloat32 = 7
	pointFieldFloat64 = 8
)

var pointFieldSizes = map[int]int{
	pointFieldInt8:    1,
	pointFieldUint8:   1,
	pointFieldInt16:   2,
	pointFieldUint16:  2,
	pointFieldInt32:   4,
	pointFieldUint32:  4,
	pointFieldFloat32: 4,
	pointFieldFloat64: 8,
}

// PointField describes one channel of a PointCloud2 point.
type PointField struct {
	Name     string
	Offset   int
	Datatype int
	Count    int
}

// PointCloud2Message is a sensor_msgs/PointCloud2 message as decoded from a bag.
type PointCloud2Message struct {
	Meta struct {
		Secs  int
		Nsecs int
	}
	Data struct {
		Header struct {
			Seq   int
			Stamp struct {
				Secs  int
				Nsecs int
			}
			FrameID string `json:"frame_id"`
		}
		Height      int
		Width       int
		Fields      []PointField
		IsBigendian bool `json:"is_bigendian"`
		PointStep   int  `json:"point_step"`
		RowStep     int  `json:"row_step"`
		Data        []byte
		IsDense     bool `json:"is_dense"`
	}
}

// PointCloud2FromMap converts a bag message into its typed form.
func PointCloud2FromMap(message map[string]interface{}) (*PointCloud2Message, error) {
	raw, err := json.Marshal(message)
	if err != nil {
		return nil, err
	}
	var msg PointCloud2Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, errors.Wrap(err, "message is not a PointCloud2")
	}
	return &msg, nil
}

// Stamp returns the header time of the message, falling back to the recording time.
func (msg *PointCloud2Message) Stamp() time.Time {
	if s := msg.Data.Header.Stamp; s.Secs != 0 || s.Nsecs != 0 {
		return time.Unix(int64(s.Secs), int64(s.Nsecs))
	}
	return time.Unix(int64(msg.Meta.Secs), int64(msg.Meta.Nsecs))
}

// ToPointCloud decodes the x, y, z and optional rgb or rgba channels of every point.
func (msg *PointCloud2Message) ToPointCloud() (pc.PointCloud, error) {
	d := msg.Data
	fields := map[string]PointField{}
	for _, f := range d.Fields {
		fields[f.Name] = f
	}
	for _, name := range []string{"x", "y", "z"} {
		if _, ok := fields[name]; !ok {
			return nil, errors.Errorf("point cloud has no %q field", name)
		}
	}
	colorField, hasColor := fields["rgb"]
	if !hasColor {
		colorField, hasColor = fields["rgba"]
	}

	if d.Width < 0 || d.Height < 0 {
		return nil, errors.Errorf("invalid point cloud size %dx%d", d.Width, d.Height)
	}
	if d.PointStep <= 0 {
		return nil, errors.Errorf("invalid point step %d", d.PointStep)
	}
	for _, f := range d.Fields {
		if f.Offset < 0 || f.Offset >= d.PointStep {
			return nil, errors.Errorf("field %q offset %d is outside a point of %d bytes", f.Name, f.Offset, d.PointStep)
		}
	}
	// bound the sizes by the data actually present before multiplying them
	if d.Height > 0 && (d.RowStep <= 0 || d.RowStep > len(d.Data)/d.Height) {
		return nil, errors.Errorf("point cloud data has %d bytes, need %d rows of %d", len(d.Data), d.Height, d.RowStep)
	}
	if d.Height > 0 && d.Width > d.RowStep/d.PointStep {
		return nil, errors.Errorf("row of %d bytes cannot hold %d points of %d bytes", d.RowStep, d.Width, d.PointStep)
	}
	n := d.Width * d.Height
	var order binary.ByteOrder = binary.LittleEndian
	if d.IsBigendian {
		order = binary.BigEndian
	}

	cloud := pc.NewWithPrealloc(n)
	for row := 0; row < d.Height; row++ {
		for col := 0; col < d.Width; col++ {
			point := d.Data[row*d.RowStep+col*d.PointStep:]
			if len(point) > d.PointStep {
				point = point[:d.PointStep]
			}
			var p r3.Vector
			var err error
			if p.X, err = readField(point, fields["x"], order); err != nil {
				return nil, err
			}
			if p.Y, err = readField(point, fields["y"], order); err != nil {
				return nil, err
			}
			if p.Z, err = readField(point, fields["z"], order); err != nil {
				return nil, err
			}
			var data pc.Data
			if hasColor {
				if colorField.Offset+4 > len(point) {
					return nil, errors.Errorf("field %q does not fit in a point of %d bytes", colorField.Name, len(point))
				}
				packed := order.Uint32(point[colorField.Offset:])
				data = pc.NewColoredData(color.NRGBA{
					R: uint8(packed >> 16),
					G: uint8(packed >> 8),
					B: uint8(packed),
					A: 255,
				})
			}
			if err := cloud.Set(p, data); err != nil {
				return nil, err
			}
		}
	}
	return cloud, nil
}

func readField(point []byte, f PointField, order binary.ByteOrder) (float64, error) {
	size, ok := pointFieldSizes[f.Datatype]
	if !ok {
		return 0, errors.Errorf("field %q has unknown datatype %d", f.Name, f.Datatype)
	}
	if f.Offset < 0 || f.Offset+size > len(point) {
		return 0, errors.Errorf("field %q does not fit in a point of %d bytes", f.Name, len(point))
	}
	b := point[f.Offset:]
	switch f.Datatype {
	case pointFieldInt8:
		return float64(int8(b[0])), nil
	case pointFieldUint8:
		return float64(b[0]), nil
	case pointFieldInt16:
		return float64(int16(order.Uint16(b))), nil
	case pointFieldUint16:
		return float64(order.Uint16(b)), nil
	case pointFieldInt32:
		return float64(int32(order.Uint32(b))), nil
	case pointFieldUint32:
		return float64(order.Uint32(b)), nil
	case pointFieldFloat32:
		return float64(math.Float32frombits(order.Uint32(b))), nil
	default:
		return math.Float64frombits(order.Uint64(b)), nil
	}
}

// ReadFrames returns every PointCloud2 message of topic in the bag as a tracker frame.
func ReadFrames(filename, topic string) ([]tracking.Frame, error) {
	rb, err := openBag(filename)
	if err != nil {
		return nil, err
	}
	var frames []tracking.Frame
	err = forEachMessage(rb, topic, func(_ int, m map[string]interface{}) error {
		msg, err := PointCloud2FromMap(m)
		if err != nil {
			return err
		}
		cloud, err := msg.ToPointCloud()
		if err != nil {
			return err
		}
		frames = append(frames, tracking.Frame{Cloud: cloud, Time: msg.Stamp(), FrameID: msg.Data.Header.FrameID})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return frames, nil
}
