package spatialmath

import (
	"math"
	"math/rand"

	"github.com/golang/geo/r3"
)

// OrientationAlmostEqual reports whether the rotations encoded by two R3 angle axes are within
// tol radians of each other.
func OrientationAlmostEqual(a, b r3.Vector, tol float64) bool {
	return AngularDistance(a, b) < tol
}

// RandomUnitVector samples a direction uniformly on the unit sphere.
func RandomUnitVector(rng *rand.Rand) r3.Vector {
	for {
		v := r3.Vector{X: rng.NormFloat64(), Y: rng.NormFloat64(), Z: rng.NormFloat64()}
		if norm := v.Norm(); norm > 1e-12 {
			return v.Mul(1 / norm)
		}
	}
}

// RandomAngleAxis samples an R3 angle axis with a uniformly random axis and an angle drawn
// uniformly from [0, maxAngle] radians.
func RandomAngleAxis(rng *rand.Rand, maxAngle float64) r3.Vector {
	return RandomUnitVector(rng).Mul(rng.Float64() * math.Abs(maxAngle))
}

// PerturbAngleAxis rotates aa by a random rotation of at most maxAngle radians.
func PerturbAngleAxis(rng *rand.Rand, aa r3.Vector, maxAngle float64) r3.Vector {
	return ComposeAngleAxis(RandomAngleAxis(rng, maxAngle), aa)
}
