package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// See here for a thorough explanation: https://en.wikipedia.org/wiki/Axis%E2%80%93angle_representation
// Basic explanation: Imagine a 3d cartesian grid centered at 0,0,0, and a sphere of radius 1 centered at
// that same point. An orientation can be expressed by first specifying an axis, i.e. a line from the origin
// to a point on that sphere, represented by (rx, ry, rz), and a rotation around that axis, theta.
// These four numbers can be used as-is (R4), or they can be converted to R3, where theta is multiplied by each of
// the unit sphere components to give a vector whose length is theta and whose direction is the original axis.
// The R3 form is the minimal rotation parameterization optimized by the pose estimators.

// R4AA represents an R4 axis angle.
type R4AA struct {
	Theta float64 `json:"th"`
	RX    float64 `json:"x"`
	RY    float64 `json:"y"`
	RZ    float64 `json:"z"`
}

// NewR4AA creates an R4AA struct representing no rotation.
func NewR4AA() *R4AA {
	return &R4AA{Theta: 0, RX: 0, RY: 0, RZ: 1}
}

// ToR3 converts an R4 angle axis to R3.
func (r4 *R4AA) ToR3() r3.Vector {
	norm := math.Sqrt(r4.RX*r4.RX + r4.RY*r4.RY + r4.RZ*r4.RZ)
	if norm == 0 {
		return r3.Vector{}
	}
	return r3.Vector{X: r4.RX, Y: r4.RY, Z: r4.RZ}.Mul(r4.Theta / norm)
}

// Quaternion returns the R4 axis angle as a unit quaternion.
func (r4 *R4AA) Quaternion() quat.Number {
	return AngleAxisToQuat(r4.ToR3())
}

// R3ToR4 converts an R3 angle axis to R4.
func R3ToR4(aa r3.Vector) *R4AA {
	theta := aa.Norm()
	if theta == 0 {
		return NewR4AA()
	}
	return &R4AA{theta, aa.X / theta, aa.Y / theta, aa.Z / theta}
}

// NewAngleAxis returns the R3 angle axis rotating by angle radians about axis. The axis does not
// need to be normalized.
func NewAngleAxis(axis r3.Vector, angle float64) r3.Vector {
	return (&R4AA{Theta: angle, RX: axis.X, RY: axis.Y, RZ: axis.Z}).ToR3()
}

// AngleAxisToQuat converts an R3 angle axis to a unit quaternion.
// At exactly zero the first order expansion is used so derivatives stay finite.
func AngleAxisToQuat(aa r3.Vector) quat.Number {
	thetaSq := aa.Norm2()
	if thetaSq > 0 {
		theta := math.Sqrt(thetaSq)
		halfTheta := theta * 0.5
		k := math.Sin(halfTheta) / theta
		return quat.Number{Real: math.Cos(halfTheta), Imag: aa.X * k, Jmag: aa.Y * k, Kmag: aa.Z * k}
	}
	const k = 0.5
	return quat.Number{Real: 1, Imag: aa.X * k, Jmag: aa.Y * k, Kmag: aa.Z * k}
}

// QuatToAngleAxis converts a unit quaternion to an R3 angle axis with angle in [0, pi].
func QuatToAngleAxis(q quat.Number) r3.Vector {
	sinSqTheta := q.Imag*q.Imag + q.Jmag*q.Jmag + q.Kmag*q.Kmag
	if sinSqTheta > 0 {
		sinTheta := math.Sqrt(sinSqTheta)
		cosTheta := q.Real
		// Keep the angle in [0, pi] by using -q when the real part is negative.
		var twoTheta float64
		if cosTheta < 0 {
			twoTheta = 2 * math.Atan2(-sinTheta, -cosTheta)
		} else {
			twoTheta = 2 * math.Atan2(sinTheta, cosTheta)
		}
		k := twoTheta / sinTheta
		return r3.Vector{X: q.Imag * k, Y: q.Jmag * k, Z: q.Kmag * k}
	}
	const k = 2.0
	return r3.Vector{X: q.Imag * k, Y: q.Jmag * k, Z: q.Kmag * k}
}

// RotateByAngleAxis rotates the point by the rotation encoded in the R3 angle axis.
func RotateByAngleAxis(aa, pt r3.Vector) r3.Vector {
	return AngleAxisToRotationMatrix(aa).MulVec(pt)
}

// ComposeAngleAxis returns the R3 angle axis of the rotation R(a) * R(b).
func ComposeAngleAxis(a, b r3.Vector) r3.Vector {
	return QuatToAngleAxis(quat.Mul(AngleAxisToQuat(a), AngleAxisToQuat(b)))
}

// InvertAngleAxis returns the R3 angle axis of the inverse rotation.
func InvertAngleAxis(aa r3.Vector) r3.Vector {
	return aa.Mul(-1)
}

// RelativeAngleAxis returns the R3 angle axis of R(b) * R(a)^T, the rotation taking the frame of a
// to the frame of b when both are world-to-frame rotations.
func RelativeAngleAxis(a, b r3.Vector) r3.Vector {
	return QuatToAngleAxis(quat.Mul(AngleAxisToQuat(b), quat.Conj(AngleAxisToQuat(a))))
}

// AngularDistance returns the angle in radians of the rotation between a and b.
func AngularDistance(a, b r3.Vector) float64 {
	return RelativeAngleAxis(a, b).Norm()
}
