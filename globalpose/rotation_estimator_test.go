package globalpose

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/sfm/logging"
	"go.viam.com/sfm/nlls"
	"go.viam.com/sfm/sfm"
	"go.viam.com/sfm/spatialmath"
	"go.viam.com/sfm/utils"
)

// squareScene returns four cameras on the corners of a square looking at the origin, with exact
// relative poses between all of them.
func squareScene(t *testing.T) (map[sfm.ViewID]r3.Vector, map[sfm.ViewID]r3.Vector, map[sfm.ViewIDPair]sfm.TwoViewInfo) {
	t.Helper()
	positions := map[sfm.ViewID]r3.Vector{
		0: {X: 10, Y: 10, Z: 1},
		1: {X: -10, Y: 10, Z: -1},
		2: {X: -10, Y: -10, Z: 2},
		3: {X: 10, Y: -10, Z: 0},
	}
	orientations := map[sfm.ViewID]r3.Vector{}
	for id, c := range positions {
		o, err := sfm.LookAt(c, r3.Vector{}, r3.Vector{Z: 1})
		test.That(t, err, test.ShouldBeNil)
		orientations[id] = o
	}
	viewPairs := map[sfm.ViewIDPair]sfm.TwoViewInfo{}
	for i := sfm.ViewID(0); i < 4; i++ {
		for j := i + 1; j < 4; j++ {
			info := sfm.RelativeTwoViewInfo(orientations[i], positions[i], orientations[j], positions[j])
			info.NumVerifiedMatches = 100
			viewPairs[sfm.NewViewIDPair(i, j)] = info
		}
	}
	return orientations, positions, viewPairs
}

func perturbOrientations(rng *rand.Rand, orientations map[sfm.ViewID]r3.Vector, maxDegrees float64) map[sfm.ViewID]r3.Vector {
	out := make(map[sfm.ViewID]r3.Vector, len(orientations))
	for _, id := range []sfm.ViewID{0, 1, 2, 3} {
		if o, ok := orientations[id]; ok {
			out[id] = spatialmath.PerturbAngleAxis(rng, o, utils.DegToRad(maxDegrees))
		}
	}
	return out
}

func TestRotationEstimatorOptions(t *testing.T) {
	opts := DefaultRotationEstimatorOptions()
	test.That(t, opts.Validate("rotation"), test.ShouldBeNil)

	bad := opts
	bad.RobustLossWidth = 0
	bad.MinWeight = 2
	bad.MaxNumIterations = 0
	err := bad.Validate("rotation")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "min_weight")
	test.That(t, err.Error(), test.ShouldContainSubstring, "max_num_iterations")

	bad = opts
	bad.RotationErrorType = RotationErrorType(7)
	test.That(t, bad.Validate("rotation"), test.ShouldNotBeNil)

	bad = opts
	bad.MaxNumInlierMatches = bad.MinNumInlierMatches
	test.That(t, bad.Validate("rotation"), test.ShouldNotBeNil)

	_, err = NewRotationEstimator(bad, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)

	var decoded RotationEstimatorOptions
	err = json.Unmarshal([]byte(`{"loss_function_type": "cauchy", "rotation_error_type": "quaternion"}`), &decoded)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, decoded.LossFunctionType, test.ShouldEqual, nlls.CauchyLoss)
	test.That(t, decoded.RotationErrorType, test.ShouldEqual, QuaternionRotationError)
}

func TestNewRotationEstimatorWithWidth(t *testing.T) {
	re, err := NewRotationEstimatorWithWidth(0.2, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, re.Options().LossFunctionType, test.ShouldEqual, nlls.SoftLOneLoss)
	test.That(t, re.Options().RobustLossWidth, test.ShouldEqual, 0.2)

	_, err = NewRotationEstimatorWithWidth(-1, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestEstimateRotationsEmptyInputs(t *testing.T) {
	re, err := NewRotationEstimator(DefaultRotationEstimatorOptions(), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	gt, _, viewPairs := squareScene(t)

	orientations := map[sfm.ViewID]r3.Vector{}
	test.That(t, re.EstimateRotations(context.Background(), viewPairs, orientations), test.ShouldBeFalse)
	test.That(t, orientations, test.ShouldBeEmpty)

	orientations = map[sfm.ViewID]r3.Vector{0: gt[0], 1: gt[1]}
	test.That(t, re.EstimateRotations(context.Background(), map[sfm.ViewIDPair]sfm.TwoViewInfo{}, orientations),
		test.ShouldBeFalse)
	test.That(t, orientations, test.ShouldResemble, map[sfm.ViewID]r3.Vector{0: gt[0], 1: gt[1]})

	// no pair has two initialized views
	orientations = map[sfm.ViewID]r3.Vector{0: gt[0]}
	test.That(t, re.EstimateRotations(context.Background(), viewPairs, orientations), test.ShouldBeFalse)
	test.That(t, orientations, test.ShouldResemble, map[sfm.ViewID]r3.Vector{0: gt[0]})
}

func TestEstimateRotationsSquare(t *testing.T) {
	gt, _, viewPairs := squareScene(t)
	for _, kind := range []RotationErrorType{AngleAxisRotationError, QuaternionRotationError} {
		t.Run(kind.String(), func(t *testing.T) {
			opts := DefaultRotationEstimatorOptions()
			opts.RotationErrorType = kind
			re, err := NewRotationEstimator(opts, logging.NewTestLogger(t))
			test.That(t, err, test.ShouldBeNil)

			orientations := perturbOrientations(rand.New(rand.NewSource(3)), gt, 10)
			test.That(t, re.EstimateRotations(context.Background(), viewPairs, orientations), test.ShouldBeTrue)
			test.That(t, orientations, test.ShouldHaveLength, 4)

			errs, err := OrientationErrorsDegrees(gt, orientations)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, errs.Max, test.ShouldBeLessThan, 0.5)
		})
	}
}

func TestEstimateRotationsQuaternionAngle(t *testing.T) {
	gt, _, viewPairs := squareScene(t)
	opts := DefaultRotationEstimatorOptions()
	opts.RotationErrorType = QuaternionAngleRotationError
	re, err := NewRotationEstimator(opts, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	orientations := perturbOrientations(rand.New(rand.NewSource(8)), gt, 10)
	before, err := OrientationErrorsDegrees(gt, orientations)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, re.EstimateRotations(context.Background(), viewPairs, orientations), test.ShouldBeTrue)
	after, err := OrientationErrorsDegrees(gt, orientations)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, after.Mean, test.ShouldBeLessThan, before.Mean)
}

func TestEstimateRotationsSkipsUninitializedViews(t *testing.T) {
	gt, _, viewPairs := squareScene(t)
	re, err := NewRotationEstimator(DefaultRotationEstimatorOptions(), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	orientations := perturbOrientations(rand.New(rand.NewSource(21)), gt, 5)
	delete(orientations, 3)
	test.That(t, re.EstimateRotations(context.Background(), viewPairs, orientations), test.ShouldBeTrue)
	test.That(t, orientations, test.ShouldHaveLength, 3)
	_, ok := orientations[3]
	test.That(t, ok, test.ShouldBeFalse)

	errs, err := OrientationErrorsDegrees(gt, orientations)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, errs.Max, test.ShouldBeLessThan, 0.5)
}

func TestEstimateRotationsWithOutlier(t *testing.T) {
	gt, _, viewPairs := squareScene(t)
	pair := sfm.NewViewIDPair(0, 2)
	info := viewPairs[pair]
	info.Rotation2 = spatialmath.ComposeAngleAxis(spatialmath.NewAngleAxis(r3.Vector{X: 1}, math.Pi/2), info.Rotation2)
	info.NumVerifiedMatches = 30
	viewPairs[pair] = info

	re, err := NewRotationEstimatorWithWidth(0.05, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	orientations := perturbOrientations(rand.New(rand.NewSource(4)), gt, 3)
	test.That(t, re.EstimateRotations(context.Background(), viewPairs, orientations), test.ShouldBeTrue)

	errs, err := OrientationErrorsDegrees(gt, orientations)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, errs.Max, test.ShouldBeLessThan, 5)
}
