package pointcloud

import (
	"image/color"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// Filter produces a new cloud from src without modifying it.
type Filter interface {
	Filter(src PointCloud) (PointCloud, error)
}

// FilterFunc adapts a function to a Filter.
type FilterFunc func(src PointCloud) (PointCloud, error)

// Filter calls f.
func (f FilterFunc) Filter(src PointCloud) (PointCloud, error) {
	return f(src)
}

// Chain applies each filter in order.
func Chain(src PointCloud, filters ...Filter) (PointCloud, error) {
	out := src
	for _, f := range filters {
		var err error
		out, err = f.Filter(out)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// KeepIf returns a new cloud with the points for which keep returns true, in order.
func KeepIf(src PointCloud, keep func(p r3.Vector, d Data) bool) (PointCloud, error) {
	out := NewWithPrealloc(src.Size())
	var err error
	src.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		if keep(p, d) {
			err = out.Set(p, d)
		}
		return err == nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FiniteFilter drops points with a NaN or infinite coordinate.
type FiniteFilter struct{}

// Filter implements Filter.
func (FiniteFilter) Filter(src PointCloud) (PointCloud, error) {
	return KeepIf(src, func(p r3.Vector, d Data) bool {
		return isFinite(p.X) && isFinite(p.Y) && isFinite(p.Z)
	})
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Axis names a coordinate axis.
type Axis string

// The coordinate axes.
const (
	AxisX Axis = "x"
	AxisY Axis = "y"
	AxisZ Axis = "z"
)

// Component returns the coordinate of v along the axis.
func (a Axis) Component(v r3.Vector) (float64, error) {
	switch a {
	case AxisX:
		return v.X, nil
	case AxisY:
		return v.Y, nil
	case AxisZ:
		return v.Z, nil
	default:
		return 0, errors.Errorf("unknown axis %q", string(a))
	}
}

// RangeFilter keeps points whose coordinate along Axis lies within [Min, Max].
type RangeFilter struct {
	Axis     Axis
	Min, Max float64
}

// Filter implements Filter.
func (rf RangeFilter) Filter(src PointCloud) (PointCloud, error) {
	if _, err := rf.Axis.Component(r3.Vector{}); err != nil {
		return nil, err
	}
	if rf.Min > rf.Max {
		return nil, errors.Errorf("range filter min %f is greater than max %f", rf.Min, rf.Max)
	}
	return KeepIf(src, func(p r3.Vector, d Data) bool {
		//nolint:errcheck
		c, _ := rf.Axis.Component(p)
		return c >= rf.Min && c <= rf.Max
	})
}

// VoxelGridFilter replaces the points inside each cubic voxel of edge Size, anchored at the
// origin, with their mean position and mean color. Voxels are emitted in the order their first
// point was seen.
type VoxelGridFilter struct {
	Size float64
}

type voxelAccumulator struct {
	sum        r3.Vector
	n          int
	r, g, b    float64
	colored    int
	firstValue Data
}

// Filter implements Filter.
func (vf VoxelGridFilter) Filter(src PointCloud) (PointCloud, error) {
	if vf.Size <= 0 {
		return nil, errors.Errorf("voxel size must be positive, got %f", vf.Size)
	}
	var order []VoxelCoords
	voxels := map[VoxelCoords]*voxelAccumulator{}
	src.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		key := GetVoxelCoordinates(p, r3.Vector{}, vf.Size)
		acc, ok := voxels[key]
		if !ok {
			acc = &voxelAccumulator{}
			voxels[key] = acc
			order = append(order, key)
		}
		acc.sum = acc.sum.Add(p)
		acc.n++
		if d != nil && d.HasColor() {
			r, g, b := d.RGB255()
			acc.r += float64(r)
			acc.g += float64(g)
			acc.b += float64(b)
			acc.colored++
		}
		if d != nil && d.HasValue() && acc.firstValue == nil {
			acc.firstValue = d
		}
		return true
	})

	out := NewWithPrealloc(len(order))
	for _, key := range order {
		acc := voxels[key]
		var d Data
		if acc.colored > 0 {
			n := float64(acc.colored)
			d = NewColoredData(color.NRGBA{
				R: uint8(math.Round(acc.r / n)),
				G: uint8(math.Round(acc.g / n)),
				B: uint8(math.Round(acc.b / n)),
				A: 255,
			})
		}
		if acc.firstValue != nil {
			if d == nil {
				d = NewBasicData()
			}
			d.SetValue(acc.firstValue.Value())
		}
		if err := out.Set(acc.sum.Mul(1/float64(acc.n)), d); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// RadiusOutlierFilter keeps a point only if at least MinNeighbors other points lie within Radius of it.
type RadiusOutlierFilter struct {
	Radius       float64
	MinNeighbors int
}

// Filter implements Filter.
func (rf RadiusOutlierFilter) Filter(src PointCloud) (PointCloud, error) {
	if rf.Radius <= 0 {
		return nil, errors.Errorf("outlier radius must be positive, got %f", rf.Radius)
	}
	if rf.MinNeighbors <= 0 {
		return KeepIf(src, func(r3.Vector, Data) bool { return true })
	}
	kd := ToKDTree(src)
	return KeepIf(src, func(p r3.Vector, d Data) bool {
		return kd.RadiusNNCount(p, rf.Radius) >= rf.MinNeighbors
	})
}

// ColorFilter overwrites the color of every point.
type ColorFilter struct {
	Color color.NRGBA
}

// Filter implements Filter.
func (cf ColorFilter) Filter(src PointCloud) (PointCloud, error) {
	out := NewWithPrealloc(src.Size())
	var err error
	src.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		nd := NewColoredData(cf.Color)
		if d != nil && d.HasValue() {
			nd.SetValue(d.Value())
		}
		err = out.Set(p, nd)
		return err == nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// StripColorFilter removes color from every point.
type StripColorFilter struct{}

// Filter implements Filter.
func (StripColorFilter) Filter(src PointCloud) (PointCloud, error) {
	out := NewWithPrealloc(src.Size())
	var err error
	src.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		err = out.Set(p, StripColor(d))
		return err == nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
