// Package registration aligns a source point cloud onto a target point cloud with
// point-to-point iterative closest point.
package registration

import (
	"context"
	"math"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"gonum.org/v1/gonum/mat"

	pc "go.viam.com/posetracker/pointcloud"
	"go.viam.com/posetracker/spatialmath"
	"go.viam.com/posetracker/utils"
)

// minCorrespondences is the fewest point pairs a rigid transform can be estimated from.
const minCorrespondences = 3

// parallelThreshold is the source size above which correspondence search is split over workers.
const parallelThreshold = 1000

// Config holds the termination and correspondence parameters of ICP.
type Config struct {
	MaxCorrespondenceDistance float64 `json:"max_correspondence_distance"`
	MaxIterations             int     `json:"max_iterations"`
	TransformationEpsilon     float64 `json:"transformation_epsilon"`
	FitnessEpsilon            float64 `json:"fitness_epsilon"`
	// FitnessMaxRange caps the nearest neighbor distance counted in the fitness score. 0 disables the cap.
	FitnessMaxRange float64 `json:"fitness_max_range"`
}

// DefaultConfig returns the parameters used when none are configured.
func DefaultConfig() Config {
	return Config{
		MaxCorrespondenceDistance: 0.07,
		MaxIterations:             100,
		TransformationEpsilon:     1e-5,
		FitnessEpsilon:            1e-3,
	}
}

// CheckValid checks to see in the input values are valid.
func (c *Config) CheckValid() error {
	if c.MaxCorrespondenceDistance <= 0 {
		return errors.Errorf("max_correspondence_distance must be greater than 0, got %v", c.MaxCorrespondenceDistance)
	}
	if c.MaxIterations <= 0 {
		return errors.Errorf("max_iterations must be greater than 0, got %v", c.MaxIterations)
	}
	if c.TransformationEpsilon <= 0 {
		return errors.Errorf("transformation_epsilon must be greater than 0, got %v", c.TransformationEpsilon)
	}
	if c.FitnessEpsilon <= 0 {
		return errors.Errorf("fitness_epsilon must be greater than 0, got %v", c.FitnessEpsilon)
	}
	if c.FitnessMaxRange < 0 {
		return errors.Errorf("fitness_max_range cannot be less than 0, got %v", c.FitnessMaxRange)
	}
	return nil
}

// Result is the outcome of one alignment.
type Result struct {
	// Transform moves the source onto the target.
	Transform spatialmath.Pose
	// Converged is true only when the convergence criterion fired before the iteration cap.
	Converged bool
	// FitnessScore is the mean squared nearest neighbor distance of the aligned source to the target.
	FitnessScore    float64
	Iterations      int
	Correspondences int
}

// ICP is a point-to-point iterative closest point aligner. It is safe for concurrent use.
type ICP struct {
	cfg    Config
	logger golog.Logger
}

// NewICP returns an ICP aligner after validating its configuration.
func NewICP(cfg Config, logger golog.Logger) (*ICP, error) {
	if err := cfg.CheckValid(); err != nil {
		return nil, err
	}
	return &ICP{cfg: cfg, logger: logger}, nil
}

// Align finds the rigid transform that best moves source onto target. Color is ignored.
// The target's spatial index is built once and reused by every iteration.
func (icp *ICP) Align(ctx context.Context, source, target pc.PointCloud) (*Result, error) {
	ctx, span := trace.StartSpan(ctx, "registration::ICP::Align")
	defer span.End()

	src := pc.ToPoints(source)
	tree := pc.ToKDTree(target)

	total := spatialmath.NewZeroPose()
	result := &Result{Transform: total}
	prevMSE := math.Inf(1)
	matches := make([]correspondence, len(src))

	for iter := 1; iter <= icp.cfg.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result.Iterations = iter

		srcPairs, dstPairs, mse, err := icp.correspondences(ctx, src, tree, matches)
		if err != nil {
			return nil, err
		}
		result.Correspondences = len(srcPairs)
		if len(srcPairs) < minCorrespondences {
			icp.logger.Debugw("too few correspondences to continue", "iteration", iter, "correspondences", len(srcPairs))
			break
		}

		inc, err := EstimateRigidTransform(srcPairs, dstPairs)
		if err != nil {
			return nil, err
		}
		for i, p := range src {
			src[i] = spatialmath.TransformPoint(inc, p)
		}
		total = spatialmath.Compose(inc, total)
		result.Transform = total

		translationSq := inc.Point().Norm2()
		rotationChange := 1 - math.Cos(spatialmath.RotationAngle(inc.Orientation()))
		transformChange := math.Max(translationSq, rotationChange)
		mseChange := math.Abs(mse - prevMSE)
		prevMSE = mse

		if transformChange < icp.cfg.TransformationEpsilon && mseChange < icp.cfg.FitnessEpsilon {
			result.Converged = true
			break
		}
	}

	result.FitnessScore = icp.fitness(src, tree)
	icp.logger.Debugw("icp finished",
		"converged", result.Converged,
		"iterations", result.Iterations,
		"correspondences", result.Correspondences,
		"fitness", result.FitnessScore)
	return result, nil
}

type correspondence struct {
	target r3.Vector
	sqDist float64
	ok     bool
}

// correspondences pairs every source point with its nearest target point within the maximum
// correspondence distance. It returns the pairs in source order and their mean squared distance.
func (icp *ICP) correspondences(
	ctx context.Context,
	src []r3.Vector,
	tree *pc.KDTree,
	matches []correspondence,
) ([]r3.Vector, []r3.Vector, float64, error) {
	match := func(i int) {
		nn, dist, ok := tree.NearestNeighbor(src[i])
		matches[i] = correspondence{target: nn, sqDist: dist * dist, ok: ok && dist <= icp.cfg.MaxCorrespondenceDistance}
	}
	if len(src) > parallelThreshold {
		err := utils.GroupWorkParallel(ctx, len(src), nil,
			func(groupNum, groupSize, from, to int) (utils.MemberWorkFunc, utils.GroupWorkDoneFunc) {
				return func(memberNum, workNum int) { match(workNum) }, nil
			})
		if err != nil {
			return nil, nil, 0, err
		}
	} else {
		for i := range src {
			match(i)
		}
	}

	srcPairs := make([]r3.Vector, 0, len(src))
	dstPairs := make([]r3.Vector, 0, len(src))
	sum := 0.0
	for i, m := range matches {
		if !m.ok {
			continue
		}
		srcPairs = append(srcPairs, src[i])
		dstPairs = append(dstPairs, m.target)
		sum += m.sqDist
	}
	if len(srcPairs) == 0 {
		return srcPairs, dstPairs, math.Inf(1), nil
	}
	return srcPairs, dstPairs, sum / float64(len(srcPairs)), nil
}

// fitness is the mean squared nearest neighbor distance of every source point, skipping points
// farther than the fitness range when one is set. With nothing to count it is +Inf.
func (icp *ICP) fitness(src []r3.Vector, tree *pc.KDTree) float64 {
	sum := 0.0
	n := 0
	for _, p := range src {
		_, dist, ok := tree.NearestNeighbor(p)
		if !ok {
			continue
		}
		if icp.cfg.FitnessMaxRange > 0 && dist > icp.cfg.FitnessMaxRange {
			continue
		}
		sum += dist * dist
		n++
	}
	if n == 0 {
		return math.Inf(1)
	}
	return sum / float64(n)
}

// EstimateRigidTransform returns the rotation and translation minimizing the squared distance
// between the transformed src points and their dst counterparts (Kabsch). Reflections are corrected
// so the result is always a proper rotation.
func EstimateRigidTransform(src, dst []r3.Vector) (spatialmath.Pose, error) {
	if len(src) != len(dst) {
		return nil, errors.Errorf("mismatched correspondences: %d source, %d target", len(src), len(dst))
	}
	if len(src) < minCorrespondences {
		return nil, pc.NewInsufficientPointsError("rigid transform estimation", len(src), minCorrespondences)
	}
	cs := centroid(src)
	cd := centroid(dst)

	h := mat.NewDense(3, 3, nil)
	for i := range src {
		s := src[i].Sub(cs)
		d := dst[i].Sub(cd)
		sv := [3]float64{s.X, s.Y, s.Z}
		dv := [3]float64{d.X, d.Y, d.Z}
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				h.Set(r, c, h.At(r, c)+sv[r]*dv[c])
			}
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(h, mat.SVDFull); !ok {
		return nil, errors.New("svd factorization of the correspondence covariance failed")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var rot mat.Dense
	rot.Mul(&v, u.T())
	if mat.Det(&rot) < 0 {
		for r := 0; r < 3; r++ {
			v.Set(r, 2, -v.At(r, 2))
		}
		rot.Mul(&v, u.T())
	}

	rm, err := spatialmath.NewRotationMatrixFromDense(&rot)
	if err != nil {
		return nil, errors.Wrap(err, "estimated rotation is invalid")
	}
	t := cd.Sub(rm.Mul(cs))
	return spatialmath.NewPose(t, rm), nil
}

func centroid(pts []r3.Vector) r3.Vector {
	var sum r3.Vector
	for _, p := range pts {
		sum = sum.Add(p)
	}
	return sum.Mul(1 / float64(len(pts)))
}
