package globalpose

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/sfm/nlls"
	"go.viam.com/sfm/spatialmath"
)

// RotationErrorType selects the residual used between two global orientations and their measured
// relative rotation.
type RotationErrorType int

const (
	// AngleAxisRotationError is the 3 residual angle axis of R_loop * R_rel^-1.
	AngleAxisRotationError RotationErrorType = iota
	// QuaternionRotationError is the 4 residual w, x, y, z of the shorter of q_loop + q_rel and
	// q_loop - q_rel.
	QuaternionRotationError
	// QuaternionAngleRotationError is the single residual angular distance between q_loop and
	// q_rel.
	QuaternionAngleRotationError
)

var rotationErrorNames = map[RotationErrorType]string{
	AngleAxisRotationError:       "ANGLE_AXIS",
	QuaternionRotationError:      "QUATERNION",
	QuaternionAngleRotationError: "QUATERNION_ANGLE",
}

func (t RotationErrorType) String() string {
	if name, ok := rotationErrorNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseRotationErrorType parses a rotation error name, case insensitively.
func ParseRotationErrorType(name string) (RotationErrorType, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for t, n := range rotationErrorNames {
		if n == upper {
			return t, nil
		}
	}
	return AngleAxisRotationError, errors.Errorf("unknown rotation error type %q", name)
}

// MarshalJSON encodes the type by name.
func (t RotationErrorType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes a type name.
func (t *RotationErrorType) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseRotationErrorType(name)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// quaternionAngleEpsilon keeps 1 - dot^2 away from zero before arccos.
const quaternionAngleEpsilon = 1e-15

// NewPairwiseRotationError returns the cost function of the given type over the angle axis
// orientations of the first and second view of a pair.
func NewPairwiseRotationError(kind RotationErrorType, relativeRotation r3.Vector, weight float64) (nlls.CostFunction, error) {
	base := pairwiseRotationBase{
		relative: spatialmath.AngleAxisToQuat(relativeRotation),
		weight:   weight,
	}
	switch kind {
	case AngleAxisRotationError:
		return &angleAxisRotationError{base}, nil
	case QuaternionRotationError:
		return &quaternionRotationError{base}, nil
	case QuaternionAngleRotationError:
		return &quaternionAngleRotationError{base}, nil
	default:
		return nil, errors.Errorf("unknown rotation error type %d", int(kind))
	}
}

type pairwiseRotationBase struct {
	relative quat.Number
	weight   float64
}

func (pairwiseRotationBase) ParameterBlockSizes() []int {
	return []int{3, 3}
}

func blockQuat(block []float64) quat.Number {
	return spatialmath.AngleAxisToQuat(r3.Vector{X: block[0], Y: block[1], Z: block[2]})
}

// loopQuat returns q2 * q1^-1, normalized.
func loopQuat(q1, q2 quat.Number) quat.Number {
	return spatialmath.Normalize(quat.Mul(q2, quat.Inv(q1)))
}

type angleAxisRotationError struct {
	pairwiseRotationBase
}

func (e *angleAxisRotationError) NumResiduals() int {
	return 3
}

func (e *angleAxisRotationError) Evaluate(parameters [][]float64, residuals []float64) bool {
	loop := loopQuat(blockQuat(parameters[0]), blockQuat(parameters[1]))
	diff := spatialmath.QuatToAngleAxis(quat.Mul(loop, quat.Conj(e.relative)))
	residuals[0] = e.weight * diff.X
	residuals[1] = e.weight * diff.Y
	residuals[2] = e.weight * diff.Z
	return true
}

type quaternionRotationError struct {
	pairwiseRotationBase
}

func (e *quaternionRotationError) NumResiduals() int {
	return 4
}

func (e *quaternionRotationError) Evaluate(parameters [][]float64, residuals []float64) bool {
	r := quaternionLoopResidual(blockQuat(parameters[0]), blockQuat(parameters[1]), e.relative)
	residuals[0] = e.weight * r.Real
	residuals[1] = e.weight * r.Imag
	residuals[2] = e.weight * r.Jmag
	residuals[3] = e.weight * r.Kmag
	return true
}

// quaternionLoopResidual returns whichever of q_loop + q_rel and q_loop - q_rel is shorter, so
// both quaternions of a rotation give the same residual norm.
func quaternionLoopResidual(q1, q2, relative quat.Number) quat.Number {
	loop := loopQuat(q1, q2)
	sum := quat.Add(loop, relative)
	diff := quat.Sub(loop, relative)
	if quat.Abs(sum) < quat.Abs(diff) {
		return sum
	}
	return diff
}

type quaternionAngleRotationError struct {
	pairwiseRotationBase
}

func (e *quaternionAngleRotationError) NumResiduals() int {
	return 1
}

func (e *quaternionAngleRotationError) Evaluate(parameters [][]float64, residuals []float64) bool {
	residuals[0] = e.weight * quaternionLoopAngle(blockQuat(parameters[0]), blockQuat(parameters[1]), e.relative)
	return true
}

// quaternionLoopAngle is the rotation angle between q_loop and q_rel in [0, pi].
func quaternionLoopAngle(q1, q2, relative quat.Number) float64 {
	dot := spatialmath.QuatDot(loopQuat(q1, q2), relative)
	arg := 1 - 2*math.Max(quaternionAngleEpsilon, 1-dot*dot)
	return math.Acos(math.Max(-1, math.Min(1, arg)))
}
