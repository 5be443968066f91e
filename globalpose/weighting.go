// Package globalpose estimates globally consistent camera orientations and positions from a graph
// of pairwise relative poses using robust nonlinear least squares.
package globalpose

import (
	"go.viam.com/sfm/sfm"
	"go.viam.com/sfm/utils"
)

// ConfidenceWeighting maps the number of verified matches of a view pair to an optimization
// weight in [minWeight, 1] along a logistic curve centered between the two match thresholds.
type ConfidenceWeighting struct {
	constWeight bool
	minWeight   float64
	midPoint    float64
	scale       float64
}

// NewConfidenceWeighting builds a weighting. With constWeight set every pair gets weight 1.
func NewConfidenceWeighting(constWeight bool, minWeight float64, minNumInlierMatches, maxNumInlierMatches int) ConfidenceWeighting {
	return ConfidenceWeighting{
		constWeight: constWeight,
		minWeight:   minWeight,
		midPoint:    float64(minNumInlierMatches+maxNumInlierMatches) / 2,
		scale:       float64(maxNumInlierMatches-minNumInlierMatches) / 12,
	}
}

// Weight returns the weight for a pair supported by numVerifiedMatches correspondences.
func (w ConfidenceWeighting) Weight(numVerifiedMatches int) float64 {
	if w.constWeight {
		return 1
	}
	m := float64(numVerifiedMatches)
	if w.scale <= 0 {
		// degenerate thresholds collapse the sigmoid to a step
		if m >= w.midPoint {
			return 1
		}
		return w.minWeight
	}
	return w.minWeight + (1-w.minWeight)*utils.Sigmoid((m-w.midPoint)/w.scale)
}

// WeightFor returns the weight of a view pair.
func (w ConfidenceWeighting) WeightFor(info sfm.TwoViewInfo) float64 {
	return w.Weight(info.NumVerifiedMatches)
}
