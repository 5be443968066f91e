package globalpose

import (
	"context"
	"math/rand"
	"slices"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/sfm/logging"
	"go.viam.com/sfm/nlls"
	"go.viam.com/sfm/sfm"
	"go.viam.com/sfm/spatialmath"
	"go.viam.com/sfm/utils"
)

// randomPositionBound is the half width of the cube random initial positions are drawn from.
const randomPositionBound = 100.0

// PositionEstimatorOptions configures a PositionEstimator.
type PositionEstimatorOptions struct {
	// Rand seeds random initial positions. A nil Rand is seeded from the current time.
	Rand *rand.Rand `json:"-"`

	NumThreads       int                   `json:"num_threads"`
	MaxNumIterations int                   `json:"max_num_iterations"`
	LossFunctionType nlls.LossFunctionType `json:"loss_function_type"`
	RobustLossWidth  float64               `json:"robust_loss_width"`

	ConstWeight         bool    `json:"const_weight"`
	MinWeight           float64 `json:"min_weight"`
	MinNumInlierMatches int     `json:"min_num_inlier_matches"`
	MaxNumInlierMatches int     `json:"max_num_inlier_matches"`

	// MinNumPointsPerView enables point to camera constraints when positive.
	MinNumPointsPerView int `json:"min_num_points_per_view"`
	// PointToCameraWeight is the total weight of all point to camera constraints relative to the
	// camera to camera constraints.
	PointToCameraWeight float64 `json:"point_to_camera_weight"`
	// MaxTrackLengthForSelection caps the view count used to rank tracks during selection.
	MaxTrackLengthForSelection int `json:"max_track_length_for_selection"`
}

// DefaultPositionEstimatorOptions returns the default position estimator options.
func DefaultPositionEstimatorOptions() PositionEstimatorOptions {
	return PositionEstimatorOptions{
		NumThreads:                 1,
		MaxNumIterations:           400,
		LossFunctionType:           nlls.HuberLoss,
		RobustLossWidth:            0.1,
		MinWeight:                  0.5,
		MinNumInlierMatches:        30,
		MaxNumInlierMatches:        200,
		PointToCameraWeight:        0.5,
		MaxTrackLengthForSelection: 50,
	}
}

// Validate ensures all parts of the options are valid.
func (opts *PositionEstimatorOptions) Validate(path string) error {
	err := validateRobustWeighting(path, opts.LossFunctionType, opts.RobustLossWidth, opts.MinWeight,
		opts.MinNumInlierMatches, opts.MaxNumInlierMatches)
	err = multierr.Append(err, validateSolverLimits(path, opts.MaxNumIterations, opts.NumThreads))
	if opts.MinNumPointsPerView < 0 {
		err = multierr.Append(err, utils.NewConfigValidationRangeError(path, "min_num_points_per_view", opts.MinNumPointsPerView, ">= 0"))
	}
	if !(opts.PointToCameraWeight >= 0) {
		err = multierr.Append(err, utils.NewConfigValidationRangeError(path, "point_to_camera_weight", opts.PointToCameraWeight, ">= 0"))
	}
	if opts.MaxTrackLengthForSelection < 2 {
		err = multierr.Append(err, utils.NewConfigValidationRangeError(
			path, "max_track_length_for_selection", opts.MaxTrackLengthForSelection, ">= 2"))
	}
	return err
}

// PositionEstimator solves for camera positions from relative translation directions and known
// orientations with a robust nonlinear solver, following "Robust Global Translations with 1DSfM"
// (Wilson and Snavely, ECCV 2014). Triangulated tracks can optionally add point to camera
// constraints that help with collinear camera configurations.
type PositionEstimator struct {
	opts           PositionEstimatorOptions
	weighting      ConfidenceWeighting
	loss           nlls.LossFunction
	reconstruction sfm.ReconstructionReader
	rng            *rand.Rand
	logger         logging.Logger
}

// NewPositionEstimator returns a position estimator after validating opts. reconstruction may be
// nil when point to camera constraints are disabled.
func NewPositionEstimator(
	opts PositionEstimatorOptions,
	reconstruction sfm.ReconstructionReader,
	logger logging.Logger,
) (*PositionEstimator, error) {
	if err := opts.Validate("position_estimator"); err != nil {
		return nil, err
	}
	if reconstruction == nil && opts.MinNumPointsPerView > 0 {
		return nil, utils.NewConfigValidationError("position_estimator",
			errors.New("a reconstruction is required when min_num_points_per_view is positive"))
	}
	loss, err := nlls.NewLossFunction(opts.LossFunctionType, opts.RobustLossWidth)
	if err != nil {
		return nil, err
	}
	rng := opts.Rand
	if rng == nil {
		//nolint:gosec
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &PositionEstimator{
		opts:           opts,
		weighting:      NewConfidenceWeighting(opts.ConstWeight, opts.MinWeight, opts.MinNumInlierMatches, opts.MaxNumInlierMatches),
		loss:           loss,
		reconstruction: reconstruction,
		rng:            rng,
		logger:         logger,
	}, nil
}

// positionProblem is the state of a single EstimatePositions call.
type positionProblem struct {
	problem  *nlls.Problem
	ordering *nlls.ParameterBlockOrdering
	cameras  map[sfm.ViewID][]float64
	points   map[sfm.TrackID][]float64
	anchor   sfm.ViewID
}

// EstimatePositions solves for the positions of every view that takes part in a relative pose
// with two known orientations, writing them into positions. Views without a position start from
// a random one. The lowest id constrained view is held at its initial position, so supplied
// positions keep their frame; global scale is not observable. It returns false without modifying
// positions if there are no usable constraints, and true once a solve was attempted regardless of
// convergence.
func (pe *PositionEstimator) EstimatePositions(
	ctx context.Context,
	viewPairs map[sfm.ViewIDPair]sfm.TwoViewInfo,
	orientations map[sfm.ViewID]r3.Vector,
	positions map[sfm.ViewID]r3.Vector,
) bool {
	if len(viewPairs) == 0 {
		pe.logger.Info("skipping position estimation because no relative poses were provided")
		return false
	}
	if len(orientations) == 0 {
		pe.logger.Info("skipping position estimation because no orientations were provided")
		return false
	}

	pairs := constrainedPairs(viewPairs, orientations)
	if len(pairs) == 0 {
		pe.logger.Info("skipping position estimation because no relative pose has two oriented views")
		return false
	}
	constrained := constrainedViews(pairs)

	pp := &positionProblem{
		problem:  nlls.NewProblem(),
		ordering: nlls.NewParameterBlockOrdering(),
		cameras:  pe.initialCameraPositions(constrained, positions),
		points:   map[sfm.TrackID][]float64{},
		anchor:   constrained[0],
	}
	for _, id := range constrained {
		if err := pp.problem.AddParameterBlock(pp.cameras[id]); err != nil {
			pe.logger.Error(err)
			return false
		}
	}

	if err := pe.addCameraToCameraConstraints(pp, pairs, viewPairs, orientations); err != nil {
		pe.logger.Error(err)
		return false
	}
	if pe.opts.MinNumPointsPerView > 0 {
		if err := pe.addPointToCameraConstraints(pp, orientations); err != nil {
			pe.logger.Error(err)
			return false
		}
	}
	if err := pp.problem.SetParameterBlockConstant(pp.cameras[pp.anchor]); err != nil {
		pe.logger.Error(errors.Wrap(err, "fixing the anchor camera"))
		return false
	}

	solverOpts := nlls.DefaultSolverOptions()
	solverOpts.MaxNumIterations = pe.opts.MaxNumIterations
	solverOpts.NumThreads = pe.opts.NumThreads
	solverOpts.Logger = pe.logger.Sublogger("solver")
	if len(pp.points) > 0 {
		solverOpts.LinearSolverType = nlls.SparseSchur
		solverOpts.Ordering = pp.ordering
	}
	summary := nlls.Solve(ctx, solverOpts, pp.problem)
	pe.logger.Debugf("position estimation:\n%s", summary.FullReport())
	if !summary.IsSolutionUsable() {
		pe.logger.Warnw("position solve did not produce a usable solution", "termination", summary.Termination.String(),
			"message", summary.Message)
	}

	for id, b := range pp.cameras {
		positions[id] = r3.Vector{X: b[0], Y: b[1], Z: b[2]}
	}
	return true
}

// initialCameraPositions returns a parameter block per constrained view, starting from the
// supplied position or a random one drawn from the cube of half width randomPositionBound.
func (pe *PositionEstimator) initialCameraPositions(
	constrained []sfm.ViewID,
	positions map[sfm.ViewID]r3.Vector,
) map[sfm.ViewID][]float64 {
	cameras := make(map[sfm.ViewID][]float64, len(constrained))
	for _, id := range constrained {
		c, ok := positions[id]
		if !ok {
			c = r3.Vector{
				X: randomPositionBound * (2*pe.rng.Float64() - 1),
				Y: randomPositionBound * (2*pe.rng.Float64() - 1),
				Z: randomPositionBound * (2*pe.rng.Float64() - 1),
			}
		}
		cameras[id] = []float64{c.X, c.Y, c.Z}
	}
	return cameras
}

func (pe *PositionEstimator) addCameraToCameraConstraints(
	pp *positionProblem,
	pairs []sfm.ViewIDPair,
	viewPairs map[sfm.ViewIDPair]sfm.TwoViewInfo,
	orientations map[sfm.ViewID]r3.Vector,
) error {
	for _, pair := range pairs {
		info := viewPairs[pair]
		direction := spatialmath.RotateByAngleAxis(spatialmath.InvertAngleAxis(orientations[pair.First]), info.Position2)
		if direction.Norm() < minTranslationNorm {
			pe.logger.Debugw("skipping relative pose without a translation direction", "pair", pair.String())
			continue
		}
		cost := NewPairwiseTranslationError(direction.Normalize(), pe.weighting.WeightFor(info))
		if err := pp.problem.AddResidualBlock(cost, pe.loss, pp.cameras[pair.First], pp.cameras[pair.Second]); err != nil {
			return errors.Wrapf(err, "adding camera to camera constraint for pair %s", pair)
		}
	}
	pe.logger.Debugf("added %d camera to camera constraints", pp.problem.NumResidualBlocks())
	return nil
}

func (pe *PositionEstimator) addPointToCameraConstraints(pp *positionProblem, orientations map[sfm.ViewID]r3.Vector) error {
	numCameraToCamera := pp.problem.NumResidualBlocks()

	positioned := make(map[sfm.ViewID]r3.Vector, len(pp.cameras))
	for id, b := range pp.cameras {
		positioned[id] = r3.Vector{X: b[0], Y: b[1], Z: b[2]}
	}
	tracks, numPointToCamera := FindTracksForProblem(
		pe.reconstruction, positioned, pe.opts.MinNumPointsPerView, pe.opts.MaxTrackLengthForSelection)
	if numPointToCamera == 0 {
		pe.logger.Debug("no tracks available for point to camera constraints")
		return nil
	}
	weight := pe.opts.PointToCameraWeight * float64(numCameraToCamera) / float64(numPointToCamera)
	pe.logger.Debugw("adding point to camera constraints",
		"tracks", len(tracks), "constraints", numPointToCamera, "weight", weight)

	trackIDs := make([]sfm.TrackID, 0, len(tracks))
	for id := range tracks {
		trackIDs = append(trackIDs, id)
	}
	slices.Sort(trackIDs)

	for _, trackID := range trackIDs {
		track := pe.reconstruction.Track(trackID)
		point := []float64{track.Point.X, track.Point.Y, track.Point.Z}
		pp.points[trackID] = point
		for _, viewID := range track.ViewIDs() {
			camera, ok := pp.cameras[viewID]
			if !ok {
				continue
			}
			view := pe.reconstruction.View(viewID)
			feature, ok := view.Feature(trackID)
			if !ok {
				continue
			}
			if view.Intrinsics != nil {
				if err := view.Intrinsics.CheckValid(); err != nil {
					return errors.Wrapf(err, "view %d", viewID)
				}
			}
			ray := spatialmath.RotateByAngleAxis(
				spatialmath.InvertAngleAxis(orientations[viewID]), view.Intrinsics.PixelToRay(feature))
			cost := NewPairwiseTranslationError(ray, weight)
			if err := pp.problem.AddResidualBlock(cost, pe.loss, camera, point); err != nil {
				return errors.Wrapf(err, "adding point to camera constraint for track %d in view %d", trackID, viewID)
			}
		}
	}
	return pe.addCamerasAndPointsToParameterGroups(pp)
}

// addCamerasAndPointsToParameterGroups puts points in group 0 and cameras in group 1 so the
// Schur solver eliminates points first.
func (pe *PositionEstimator) addCamerasAndPointsToParameterGroups(pp *positionProblem) error {
	var err error
	for _, point := range pp.points {
		err = multierr.Append(err, pp.ordering.AddElementToGroup(point, 0))
	}
	for _, camera := range pp.cameras {
		err = multierr.Append(err, pp.ordering.AddElementToGroup(camera, 1))
	}
	return err
}

// constrainedPairs returns, in ascending order, the pairs whose views both have an orientation.
func constrainedPairs(viewPairs map[sfm.ViewIDPair]sfm.TwoViewInfo, orientations map[sfm.ViewID]r3.Vector) []sfm.ViewIDPair {
	var pairs []sfm.ViewIDPair
	for _, pair := range sortedPairs(viewPairs) {
		_, ok1 := orientations[pair.First]
		_, ok2 := orientations[pair.Second]
		if ok1 && ok2 {
			pairs = append(pairs, pair)
		}
	}
	return pairs
}

// constrainedViews returns the views of pairs in ascending order.
func constrainedViews(pairs []sfm.ViewIDPair) []sfm.ViewID {
	seen := map[sfm.ViewID]struct{}{}
	var views []sfm.ViewID
	for _, pair := range pairs {
		for _, id := range []sfm.ViewID{pair.First, pair.Second} {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				views = append(views, id)
			}
		}
	}
	slices.Sort(views)
	return views
}
