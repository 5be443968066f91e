package globalpose

import (
	"math"

	"go.uber.org/multierr"

	"go.viam.com/sfm/nlls"
	"go.viam.com/sfm/utils"
)

// validateRobustWeighting checks the loss and weighting options both estimators share.
func validateRobustWeighting(
	path string,
	lossType nlls.LossFunctionType,
	width, minWeight float64,
	minMatches, maxMatches int,
) error {
	var err error
	if _, lerr := nlls.NewLossFunction(lossType, width); lerr != nil {
		err = multierr.Append(err, utils.NewConfigValidationError(path, lerr))
	}
	if !(minWeight > 0 && minWeight <= 1) {
		err = multierr.Append(err, utils.NewConfigValidationRangeError(path, "min_weight", minWeight, "in (0, 1]"))
	}
	if minMatches < 0 {
		err = multierr.Append(err, utils.NewConfigValidationRangeError(path, "min_num_inlier_matches", minMatches, ">= 0"))
	}
	if maxMatches <= minMatches {
		err = multierr.Append(err, utils.NewConfigValidationRangeError(
			path, "max_num_inlier_matches", maxMatches, "greater than min_num_inlier_matches"))
	}
	return err
}

func validateSolverLimits(path string, maxNumIterations, numThreads int) error {
	var err error
	if maxNumIterations <= 0 {
		err = multierr.Append(err, utils.NewConfigValidationRangeError(path, "max_num_iterations", maxNumIterations, "> 0"))
	}
	if numThreads < 1 {
		err = multierr.Append(err, utils.NewConfigValidationRangeError(path, "num_threads", numThreads, ">= 1"))
	}
	return err
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
