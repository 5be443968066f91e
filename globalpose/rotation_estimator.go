package globalpose

import (
	"context"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/sfm/logging"
	"go.viam.com/sfm/nlls"
	"go.viam.com/sfm/sfm"
	"go.viam.com/sfm/utils"
)

// RotationEstimatorOptions configures a RotationEstimator.
type RotationEstimatorOptions struct {
	LossFunctionType    nlls.LossFunctionType `json:"loss_function_type"`
	RobustLossWidth     float64               `json:"robust_loss_width"`
	ConstWeight         bool                  `json:"const_weight"`
	MinWeight           float64               `json:"min_weight"`
	MinNumInlierMatches int                   `json:"min_num_inlier_matches"`
	MaxNumInlierMatches int                   `json:"max_num_inlier_matches"`
	RotationErrorType   RotationErrorType     `json:"rotation_error_type"`
	MaxNumIterations    int                   `json:"max_num_iterations"`
	NumThreads          int                   `json:"num_threads"`
}

// DefaultRotationEstimatorOptions returns the default rotation estimator options.
func DefaultRotationEstimatorOptions() RotationEstimatorOptions {
	return RotationEstimatorOptions{
		LossFunctionType:    nlls.HuberLoss,
		RobustLossWidth:     0.1,
		MinWeight:           0.5,
		MinNumInlierMatches: 30,
		MaxNumInlierMatches: 200,
		RotationErrorType:   AngleAxisRotationError,
		MaxNumIterations:    200,
		NumThreads:          1,
	}
}

// Validate ensures all parts of the options are valid.
func (opts *RotationEstimatorOptions) Validate(path string) error {
	err := validateRobustWeighting(path, opts.LossFunctionType, opts.RobustLossWidth, opts.MinWeight,
		opts.MinNumInlierMatches, opts.MaxNumInlierMatches)
	if _, kerr := NewPairwiseRotationError(opts.RotationErrorType, r3.Vector{}, 1); kerr != nil {
		err = multierr.Append(err, utils.NewConfigValidationError(path, kerr))
	}
	return multierr.Append(err, validateSolverLimits(path, opts.MaxNumIterations, opts.NumThreads))
}

// RotationEstimator refines global orientations from relative rotations by robust rotation
// averaging.
type RotationEstimator struct {
	opts      RotationEstimatorOptions
	weighting ConfidenceWeighting
	loss      nlls.LossFunction
	logger    logging.Logger
}

// NewRotationEstimator returns a rotation estimator after validating opts.
func NewRotationEstimator(opts RotationEstimatorOptions, logger logging.Logger) (*RotationEstimator, error) {
	if err := opts.Validate("rotation_estimator"); err != nil {
		return nil, err
	}
	loss, err := nlls.NewLossFunction(opts.LossFunctionType, opts.RobustLossWidth)
	if err != nil {
		return nil, err
	}
	return &RotationEstimator{
		opts:      opts,
		weighting: NewConfidenceWeighting(opts.ConstWeight, opts.MinWeight, opts.MinNumInlierMatches, opts.MaxNumInlierMatches),
		loss:      loss,
		logger:    logger,
	}, nil
}

// NewRotationEstimatorWithWidth returns a rotation estimator using a soft L1 loss of the given
// width and default weighting.
func NewRotationEstimatorWithWidth(robustLossWidth float64, logger logging.Logger) (*RotationEstimator, error) {
	opts := DefaultRotationEstimatorOptions()
	opts.LossFunctionType = nlls.SoftLOneLoss
	opts.RobustLossWidth = robustLossWidth
	return NewRotationEstimator(opts, logger)
}

// Options returns the options the estimator was built with.
func (re *RotationEstimator) Options() RotationEstimatorOptions {
	return re.opts
}

// EstimateRotations refines orientations in place so they agree with the relative rotations in
// viewPairs. Every view needs an initial orientation to take part; pairs touching a view without
// one are skipped and such views are left untouched. It returns false without modifying anything
// if either input is empty or no pair is usable, and true once a solve was attempted regardless of
// convergence.
func (re *RotationEstimator) EstimateRotations(
	ctx context.Context,
	viewPairs map[sfm.ViewIDPair]sfm.TwoViewInfo,
	orientations map[sfm.ViewID]r3.Vector,
) bool {
	if len(orientations) == 0 {
		re.logger.Info("skipping nonlinear rotation optimization because no initialization was provided")
		return false
	}
	if len(viewPairs) == 0 {
		re.logger.Info("skipping nonlinear rotation optimization because no relative rotation constraints were provided")
		return false
	}

	problem := nlls.NewProblem()
	blocks := map[sfm.ViewID][]float64{}
	block := func(id sfm.ViewID) []float64 {
		if b, ok := blocks[id]; ok {
			return b
		}
		o := orientations[id]
		b := []float64{o.X, o.Y, o.Z}
		blocks[id] = b
		return b
	}

	for _, pair := range sortedPairs(viewPairs) {
		info := viewPairs[pair]
		_, ok1 := orientations[pair.First]
		_, ok2 := orientations[pair.Second]
		if !ok1 || !ok2 {
			re.logger.Debugw("skipping relative rotation with an uninitialized view", "pair", pair.String())
			continue
		}
		cost, err := NewPairwiseRotationError(re.opts.RotationErrorType, info.Rotation2, re.weighting.WeightFor(info))
		if err != nil {
			re.logger.Error(errors.Wrap(err, "building rotation residual"))
			return false
		}
		if err := problem.AddResidualBlock(cost, re.loss, block(pair.First), block(pair.Second)); err != nil {
			re.logger.Error(errors.Wrapf(err, "adding rotation constraint for pair %s", pair))
			return false
		}
	}

	if problem.NumResidualBlocks() == 0 {
		re.logger.Info("skipping nonlinear rotation optimization because no relative rotation has two initialized views")
		return false
	}

	solverOpts := nlls.DefaultSolverOptions()
	solverOpts.LinearSolverType = nlls.SparseNormalCholesky
	solverOpts.MaxNumIterations = re.opts.MaxNumIterations
	solverOpts.NumThreads = re.opts.NumThreads
	solverOpts.Logger = re.logger.Sublogger("solver")
	summary := nlls.Solve(ctx, solverOpts, problem)
	re.logger.Debugf("rotation estimation:\n%s", summary.FullReport())

	if !summary.IsSolutionUsable() {
		re.logger.Warnw("rotation solve did not produce a usable solution", "termination", summary.Termination.String(),
			"message", summary.Message)
	}
	for id, b := range blocks {
		v := r3.Vector{X: b[0], Y: b[1], Z: b[2]}
		if isFinite(v.X) && isFinite(v.Y) && isFinite(v.Z) {
			orientations[id] = v
		}
	}
	return true
}
