// Package pointcloud defines a point cloud and provides an implementation for one, along with
// the filters, spatial index and file formats used to condition scans and reference models.
package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"

	"go.viam.com/posetracker/spatialmath"
)

// MetaData is data about what's stored in the point cloud.
type MetaData struct {
	HasColor bool
	HasValue bool

	MinX, MaxX float64
	MinY, MaxY float64
	MinZ, MaxZ float64

	totalX, totalY, totalZ float64
}

// NewMetaData creates a new MetaData with empty bounds.
func NewMetaData() MetaData {
	return MetaData{
		MinX: math.MaxFloat64,
		MinY: math.MaxFloat64,
		MinZ: math.MaxFloat64,
		MaxX: -math.MaxFloat64,
		MaxY: -math.MaxFloat64,
		MaxZ: -math.MaxFloat64,
	}
}

// Merge updates the meta data with the new data.
func (meta *MetaData) Merge(v r3.Vector, data Data) {
	if data != nil {
		if data.HasColor() {
			meta.HasColor = true
		}
		if data.HasValue() {
			meta.HasValue = true
		}
	}

	meta.MaxX = math.Max(meta.MaxX, v.X)
	meta.MaxY = math.Max(meta.MaxY, v.Y)
	meta.MaxZ = math.Max(meta.MaxZ, v.Z)
	meta.MinX = math.Min(meta.MinX, v.X)
	meta.MinY = math.Min(meta.MinY, v.Y)
	meta.MinZ = math.Min(meta.MinZ, v.Z)

	meta.totalX += v.X
	meta.totalY += v.Y
	meta.totalZ += v.Z
}

// PointCloud is a general purpose container of points. Iteration visits points in the order
// they were first set.
type PointCloud interface {
	// Size returns the number of points in the cloud.
	Size() int

	// MetaData returns meta data.
	MetaData() MetaData

	// Set places the given point in the cloud. Setting a position that already exists
	// replaces its data.
	Set(p r3.Vector, d Data) error

	// At returns the point in the cloud at the given position.
	// The 2nd return is if the point exists, the first is data if any.
	At(x, y, z float64) (Data, bool)

	// Iterate iterates over all points in the cloud and calls the given
	// function for each point. If the supplied function returns false,
	// iteration will stop after the function returns.
	// numBatches lets you divide up he work. 0 means don't divide
	// myBatch is used iff numBatches > 0 and is which batch you want
	Iterate(numBatches, myBatch int, fn func(p r3.Vector, d Data) bool)
}

// CloudCentroid returns the centroid of a pointcloud as a vector. An empty cloud has its
// centroid at the origin.
func CloudCentroid(pc PointCloud) r3.Vector {
	if pc.Size() == 0 {
		return r3.Vector{}
	}
	meta := pc.MetaData()
	n := float64(pc.Size())
	return r3.Vector{X: meta.totalX / n, Y: meta.totalY / n, Z: meta.totalZ / n}
}

// CloudContains is a silly helper method.
func CloudContains(cloud PointCloud, x, y, z float64) bool {
	_, got := cloud.At(x, y, z)
	return got
}

// ApplyOffset returns a new cloud holding every point of src moved by the pose. Data is carried along unchanged.
func ApplyOffset(src PointCloud, pose spatialmath.Pose) (PointCloud, error) {
	out := NewWithPrealloc(src.Size())
	var err error
	src.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		err = out.Set(spatialmath.TransformPoint(pose, p), d)
		return err == nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ToPoints returns the positions of every point in iteration order.
func ToPoints(pc PointCloud) []r3.Vector {
	pts := make([]r3.Vector, 0, pc.Size())
	pc.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		pts = append(pts, p)
		return true
	})
	return pts
}

// Merge appends every point of each cloud into a new cloud, in argument order. Colorize, when
// non-nil, overrides the data of the points of the matching cloud.
func Merge(clouds []PointCloud, colorize []Data) (PointCloud, error) {
	size := 0
	for _, c := range clouds {
		size += c.Size()
	}
	out := NewWithPrealloc(size)
	for i, c := range clouds {
		var override Data
		if i < len(colorize) {
			override = colorize[i]
		}
		var err error
		c.Iterate(0, 0, func(p r3.Vector, d Data) bool {
			if override != nil {
				d = override
			}
			err = out.Set(p, d)
			return err == nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
