package globalpose

import (
	"github.com/golang/geo/r3"

	"go.viam.com/sfm/nlls"
)

// minTranslationNorm is the shortest baseline PairwiseTranslationError can normalize.
const minTranslationNorm = 1e-12

// PairwiseTranslationError penalizes the difference between the unit direction from position1 to
// position2 and a measured unit direction, both in world coordinates:
//
//	weight * (normalize(position2 - position1) - direction)
//
// It is used both between two camera positions and between a camera position and a point.
type PairwiseTranslationError struct {
	direction r3.Vector
	weight    float64
}

// NewPairwiseTranslationError returns the residual for a measured world frame direction.
func NewPairwiseTranslationError(direction r3.Vector, weight float64) *PairwiseTranslationError {
	return &PairwiseTranslationError{direction: direction, weight: weight}
}

var _ nlls.CostFunction = (*PairwiseTranslationError)(nil)

// NumResiduals is 3.
func (e *PairwiseTranslationError) NumResiduals() int {
	return 3
}

// ParameterBlockSizes is two positions.
func (e *PairwiseTranslationError) ParameterBlockSizes() []int {
	return []int{3, 3}
}

// Evaluate fails when the two positions coincide.
func (e *PairwiseTranslationError) Evaluate(parameters [][]float64, residuals []float64) bool {
	p1, p2 := parameters[0], parameters[1]
	t := r3.Vector{X: p2[0] - p1[0], Y: p2[1] - p1[1], Z: p2[2] - p1[2]}
	norm := t.Norm()
	if norm < minTranslationNorm {
		return false
	}
	t = t.Mul(1 / norm)
	residuals[0] = e.weight * (t.X - e.direction.X)
	residuals[1] = e.weight * (t.Y - e.direction.Y)
	residuals[2] = e.weight * (t.Z - e.direction.Z)
	return true
}
