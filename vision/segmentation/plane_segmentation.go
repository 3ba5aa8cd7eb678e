// Package segmentation implements plane segmentation and the removal of the supporting ground
// from a scan.
package segmentation

import (
	"context"
	"math"
	"math/rand"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	pc "go.viam.com/posetracker/pointcloud"
)

// degenerateSampleTolerance is the smallest cross product norm of a sample that still defines a plane.
const degenerateSampleTolerance = 1e-12

// Plane defines a planar object in a point cloud.
type Plane struct {
	pointcloud pc.PointCloud
	equation   [4]float64
}

// NewPlane creates a plane from its point cloud and the equation [0]x + [1]y + [2]z + [3] = 0
// with a unit normal.
func NewPlane(cloud pc.PointCloud, equation [4]float64) *Plane {
	return &Plane{pointcloud: cloud, equation: equation}
}

// PointCloud returns the underlying point cloud of the plane.
func (p *Plane) PointCloud() pc.PointCloud {
	return p.pointcloud
}

// Equation returns the plane equation [0]x + [1]y + [2]z + [3] = 0.
func (p *Plane) Equation() [4]float64 {
	return p.equation
}

// Normal returns the unit normal vector of the plane.
func (p *Plane) Normal() r3.Vector {
	return r3.Vector{X: p.equation[0], Y: p.equation[1], Z: p.equation[2]}
}

// Distance calculates the unsigned distance from the plane to the input point.
func (p *Plane) Distance(point r3.Vector) float64 {
	return math.Abs(distance(p.equation, point))
}

func distance(equation [4]float64, pt r3.Vector) float64 {
	return equation[0]*pt.X + equation[1]*pt.Y + equation[2]*pt.Z + equation[3]
}

// planeThroughPoints returns the plane through three points, or false if they are collinear.
func planeThroughPoints(p1, p2, p3 r3.Vector) ([4]float64, bool) {
	cross := p2.Sub(p1).Cross(p3.Sub(p1))
	if cross.Norm() < degenerateSampleTolerance {
		return [4]float64{}, false
	}
	vec := cross.Normalize()
	return [4]float64{vec.X, vec.Y, vec.Z, -vec.Dot(p1)}, true
}

// sampleDistinct draws three distinct indices in [0, n).
func sampleDistinct(n int, r *rand.Rand) (int, int, int) {
	i1 := r.Intn(n)
	i2 := r.Intn(n - 1)
	if i2 >= i1 {
		i2++
	}
	i3 := r.Intn(n - 2)
	lo, hi := i1, i2
	if lo > hi {
		lo, hi = hi, lo
	}
	if i3 >= lo {
		i3++
	}
	if i3 >= hi {
		i3++
	}
	return i1, i2, i3
}

// SegmentPlane segments the biggest plane in the 3D point cloud with RANSAC.
// nIterations is the number of samples to draw; samples of collinear points are skipped but count
// toward the total. threshold is the maximum distance to the plane for a point to belong to it.
// It returns the plane with its inliers and a point cloud with the remaining points, both in the
// order of the input. A cloud of fewer than three points, or one where no sample defines a plane,
// returns an insufficient data error.
func SegmentPlane(ctx context.Context, cloud pc.PointCloud, nIterations int, threshold float64, r *rand.Rand) (*Plane, pc.PointCloud, error) {
	_, span := trace.StartSpan(ctx, "segmentation::SegmentPlane")
	defer span.End()

	if cloud.Size() < 3 {
		return nil, nil, pc.NewInsufficientPointsError("plane segmentation", cloud.Size(), 3)
	}
	if nIterations <= 0 {
		return nil, nil, errors.Errorf("plane segmentation needs a positive number of iterations, got %d", nIterations)
	}
	pts := pc.ToPoints(cloud)
	nPoints := len(pts)

	var bestEquation [4]float64
	bestInliers := 0

	for i := 0; i < nIterations; i++ {
		if i%100 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}
		}
		n1, n2, n3 := sampleDistinct(nPoints, r)
		currentEquation, ok := planeThroughPoints(pts[n1], pts[n2], pts[n3])
		if !ok {
			continue
		}

		currentInliers := 0
		for _, pt := range pts {
			if math.Abs(distance(currentEquation, pt)) < threshold {
				currentInliers++
			}
		}
		// if the current plane contains more points than the previously stored one, save this one as the biggest plane
		if currentInliers > bestInliers {
			bestEquation = currentEquation
			bestInliers = currentInliers
		}
	}
	if bestInliers == 0 {
		return nil, nil, pc.NewInsufficientPointsError("plane segmentation", 0, 3)
	}

	planeCloud := pc.NewWithPrealloc(bestInliers)
	nonPlaneCloud := pc.NewWithPrealloc(nPoints - bestInliers)
	var err error
	cloud.Iterate(0, 0, func(p r3.Vector, d pc.Data) bool {
		if math.Abs(distance(bestEquation, p)) < threshold {
			err = planeCloud.Set(p, d)
		} else {
			err = nonPlaneCloud.Set(p, d)
		}
		if err != nil {
			err = errors.Wrapf(err, "error setting point (%v, %v, %v) in point cloud", p.X, p.Y, p.Z)
			return false
		}
		return true
	})
	if err != nil {
		return nil, nil, err
	}
	return NewPlane(planeCloud, bestEquation), nonPlaneCloud, nil
}
