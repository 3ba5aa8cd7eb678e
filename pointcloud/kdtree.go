package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// KDTree is a read-only spatial index over the positions of a point cloud.
// NearestNeighbor is safe for concurrent use; RadiusNNCount is not.
type KDTree struct {
	tree *kdtree.Tree
	size int
}

// ToKDTree builds a KDTree over the positions of pc.
func ToKDTree(pc PointCloud) *KDTree {
	return NewKDTreeFromPoints(ToPoints(pc))
}

// NewKDTreeFromPoints builds a KDTree over pts. The slice is not retained.
func NewKDTreeFromPoints(pts []r3.Vector) *KDTree {
	kdpts := make(kdtree.Points, 0, len(pts))
	for _, p := range pts {
		kdpts = append(kdpts, kdtree.Point{p.X, p.Y, p.Z})
	}
	kd := &KDTree{size: len(kdpts)}
	if len(kdpts) > 0 {
		kd.tree = kdtree.New(kdpts, false)
	}
	return kd
}

// Size returns the number of indexed points.
func (kd *KDTree) Size() int {
	return kd.size
}

// NearestNeighbor returns the closest indexed point to p and its euclidean distance.
// The last return is false when the tree is empty.
func (kd *KDTree) NearestNeighbor(p r3.Vector) (r3.Vector, float64, bool) {
	if kd.tree == nil {
		return r3.Vector{}, math.Inf(1), false
	}
	c, sqDist := kd.tree.Nearest(kdtree.Point{p.X, p.Y, p.Z})
	if c == nil {
		return r3.Vector{}, math.Inf(1), false
	}
	return toVector(c), math.Sqrt(sqDist), true
}

// RadiusNN returns every indexed point within radius r of p, nearest first.
// When includeSelf is false a point coincident with p is left out.
func (kd *KDTree) RadiusNN(p r3.Vector, r float64, includeSelf bool) []r3.Vector {
	if kd.tree == nil {
		return nil
	}
	keep := kdtree.NewDistKeeper(r * r)
	kd.tree.NearestSet(keep, kdtree.Point{p.X, p.Y, p.Z})
	out := make([]r3.Vector, 0, len(keep.Heap))
	for i := len(keep.Heap) - 1; i >= 0; i-- {
		cd := keep.Heap[i]
		if cd.Comparable == nil {
			continue
		}
		if !includeSelf && cd.Dist == 0 {
			continue
		}
		out = append(out, toVector(cd.Comparable))
	}
	return out
}

// RadiusNNCount returns the number of indexed points within radius r of p, excluding p itself.
func (kd *KDTree) RadiusNNCount(p r3.Vector, r float64) int {
	return len(kd.RadiusNN(p, r, false))
}

func toVector(c kdtree.Comparable) r3.Vector {
	kp := c.(kdtree.Point)
	return r3.Vector{X: kp[0], Y: kp[1], Z: kp[2]}
}
