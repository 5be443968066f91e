package spatialmath

import (
	"math"
	"math/rand"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

func TestRandomAngleAxis(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 100; i++ {
		aa := RandomAngleAxis(rng, 0.5)
		test.That(t, aa.Norm(), test.ShouldBeLessThanOrEqualTo, 0.5)
		test.That(t, RandomUnitVector(rng).Norm(), test.ShouldAlmostEqual, 1.0)
	}

	base := NewAngleAxis(r3.Vector{X: 1}, 1)
	perturbed := PerturbAngleAxis(rng, base, 0.1)
	test.That(t, AngularDistance(base, perturbed), test.ShouldBeLessThanOrEqualTo, 0.1+1e-9)

	// Same seed, same samples.
	a := RandomAngleAxis(rand.New(rand.NewSource(3)), math.Pi)
	b := RandomAngleAxis(rand.New(rand.NewSource(3)), math.Pi)
	test.That(t, a, test.ShouldResemble, b)
}

func TestQuaternionHelpers(t *testing.T) {
	q := AngleAxisToQuat(NewAngleAxis(r3.Vector{Z: 1}, 1))
	test.That(t, QuaternionAlmostEqual(q, quat.Scale(-1, q), 1e-9), test.ShouldBeFalse)
	test.That(t, QuaternionAlmostEqualRotation(q, quat.Scale(-1, q), 1e-9), test.ShouldBeTrue)
	test.That(t, QuatDot(q, q), test.ShouldAlmostEqual, 1.0)
	test.That(t, quat.Abs(Normalize(quat.Scale(3, q))), test.ShouldAlmostEqual, 1.0)
	test.That(t, Normalize(quat.Number{}), test.ShouldResemble, quat.Number{Real: 1})
}

func TestProjectToRotationMatrix(t *testing.T) {
	truth := AngleAxisToRotationMatrix(NewAngleAxis(r3.Vector{X: 1, Y: 2, Z: 3}, 0.7))
	noisy := truth.Dense()
	noisy.Set(0, 0, noisy.At(0, 0)+0.01)
	noisy.Set(1, 2, noisy.At(1, 2)-0.01)

	projected, err := ProjectToRotationMatrix(noisy)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mat.Det(projected.Dense()), test.ShouldAlmostEqual, 1.0)
	test.That(t, AngularDistance(projected.AngleAxis(), truth.AngleAxis()), test.ShouldBeLessThan, 0.02)
}
