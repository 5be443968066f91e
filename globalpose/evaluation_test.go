package globalpose

import (
	"math"
	"math/rand"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/sfm/sfm"
	"go.viam.com/sfm/spatialmath"
)

func TestNewErrorStats(t *testing.T) {
	_, err := NewErrorStats(nil)
	test.That(t, err, test.ShouldNotBeNil)

	es, err := NewErrorStats([]float64{3, 1, 2, 4})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, es.Count, test.ShouldEqual, 4)
	test.That(t, es.Min, test.ShouldEqual, 1)
	test.That(t, es.Max, test.ShouldEqual, 4)
	test.That(t, es.Median, test.ShouldAlmostEqual, 2.5)
	test.That(t, es.Mean, test.ShouldAlmostEqual, 2.5)
	test.That(t, es.StdDev, test.ShouldAlmostEqual, math.Sqrt(1.25))
	test.That(t, es.Values, test.ShouldResemble, []float64{3, 1, 2, 4})
	test.That(t, es.String(), test.ShouldContainSubstring, "n=4")
}

func TestAlignOrientations(t *testing.T) {
	rng := rand.New(rand.NewSource(31))
	gt := map[sfm.ViewID]r3.Vector{}
	for i := sfm.ViewID(0); i < 6; i++ {
		gt[i] = spatialmath.RandomAngleAxis(rng, math.Pi)
	}
	gauge := spatialmath.NewAngleAxis(r3.Vector{X: 1, Y: 2, Z: -1}, 1.1)
	estimated := map[sfm.ViewID]r3.Vector{}
	for id, o := range gt {
		estimated[id] = spatialmath.ComposeAngleAxis(o, gauge)
	}

	aligned, err := AlignOrientations(gt, estimated)
	test.That(t, err, test.ShouldBeNil)
	for id, o := range gt {
		test.That(t, spatialmath.AngularDistance(o, aligned[id]), test.ShouldBeLessThan, 1e-8)
	}

	errs, err := OrientationErrorsDegrees(gt, estimated)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, errs.Count, test.ShouldEqual, 6)
	test.That(t, errs.Max, test.ShouldBeLessThan, 1e-6)

	_, err = AlignOrientations(gt, map[sfm.ViewID]r3.Vector{10: {}})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestEstimateSimilarityTransform(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	from := map[sfm.ViewID]r3.Vector{}
	for i := sfm.ViewID(0); i < 8; i++ {
		from[i] = r3.Vector{X: rng.NormFloat64(), Y: rng.NormFloat64(), Z: rng.NormFloat64()}.Mul(5)
	}
	truth := &SimilarityTransform{
		Scale:       2.5,
		Rotation:    spatialmath.AngleAxisToRotationMatrix(spatialmath.NewAngleAxis(r3.Vector{X: 0.2, Y: -1, Z: 0.4}, 2.3)),
		Translation: r3.Vector{X: 1, Y: -4, Z: 9},
	}
	to := map[sfm.ViewID]r3.Vector{}
	for id, p := range from {
		to[id] = truth.Apply(p)
	}

	st, err := EstimateSimilarityTransform(from, to)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, st.Scale, test.ShouldAlmostEqual, 2.5, 1e-9)
	test.That(t, st.Translation.Sub(truth.Translation).Norm(), test.ShouldBeLessThan, 1e-8)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			test.That(t, st.Rotation.At(r, c), test.ShouldAlmostEqual, truth.Rotation.At(r, c), 1e-9)
		}
	}

	aligned, err := AlignPositions(to, from)
	test.That(t, err, test.ShouldBeNil)
	for id, p := range to {
		test.That(t, aligned[id].Sub(p).Norm(), test.ShouldBeLessThan, 1e-8)
	}

	errs, err := PositionErrors(to, from)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, errs.Max, test.ShouldBeLessThan, 1e-8)
}

func TestEstimateSimilarityTransformDegenerate(t *testing.T) {
	_, err := EstimateSimilarityTransform(
		map[sfm.ViewID]r3.Vector{0: {X: 1}},
		map[sfm.ViewID]r3.Vector{0: {X: 1}},
	)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = EstimateSimilarityTransform(
		map[sfm.ViewID]r3.Vector{0: {X: 1}, 1: {X: 1}},
		map[sfm.ViewID]r3.Vector{0: {X: 1}, 1: {X: 2}},
	)
	test.That(t, err, test.ShouldNotBeNil)
}
