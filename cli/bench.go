// Package cli contains the posebench application, which runs the global rotation and position
// estimators on a synthetic scene and reports their accuracy.
package cli

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/golang/geo/r3"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/yosuke-furukawa/json5/encoding/json5"
	"go.uber.org/multierr"

	"go.viam.com/sfm/globalpose"
	"go.viam.com/sfm/logging"
	"go.viam.com/sfm/sfm"
	"go.viam.com/sfm/spatialmath"
	"go.viam.com/sfm/utils"
)

// BenchmarkConfig describes one benchmark run.
type BenchmarkConfig struct {
	Seed  int64           `json:"seed"`
	Scene sfm.SceneConfig `json:"scene"`

	// InitialRotationNoiseDegrees perturbs the ground truth orientations used to initialize
	// rotation estimation.
	InitialRotationNoiseDegrees float64 `json:"initial_rotation_noise_degrees"`
	// RandomPositionInit leaves positions empty so the position estimator draws them randomly.
	// Otherwise positions start at ground truth perturbed by up to InitialPositionNoise per axis.
	RandomPositionInit   bool    `json:"random_position_init"`
	InitialPositionNoise float64 `json:"initial_position_noise"`

	Rotation globalpose.RotationEstimatorOptions `json:"rotation"`
	Position globalpose.PositionEstimatorOptions `json:"position"`
}

// DefaultBenchmarkConfig returns a config that runs the default scene through both estimators
// with their default options.
func DefaultBenchmarkConfig() BenchmarkConfig {
	return BenchmarkConfig{
		Seed:                        1,
		Scene:                       sfm.DefaultSceneConfig(),
		InitialRotationNoiseDegrees: 5,
		InitialPositionNoise:        1,
		Rotation:                    globalpose.DefaultRotationEstimatorOptions(),
		Position:                    globalpose.DefaultPositionEstimatorOptions(),
	}
}

// Validate ensures all parts of the config are valid.
func (cfg *BenchmarkConfig) Validate(path string) error {
	err := cfg.Scene.Validate(path + ".scene")
	err = multierr.Append(err, cfg.Rotation.Validate(path+".rotation"))
	err = multierr.Append(err, cfg.Position.Validate(path+".position"))
	if cfg.InitialRotationNoiseDegrees < 0 {
		err = multierr.Append(err, utils.NewConfigValidationRangeError(
			path, "initial_rotation_noise_degrees", cfg.InitialRotationNoiseDegrees, ">= 0"))
	}
	if cfg.InitialPositionNoise < 0 {
		err = multierr.Append(err, utils.NewConfigValidationRangeError(
			path, "initial_position_noise", cfg.InitialPositionNoise, ">= 0"))
	}
	return err
}

// ReadBenchmarkConfig reads a JSON5 config from path, so comments and unquoted keys are
// allowed. Fields missing from the file keep their default values.
func ReadBenchmarkConfig(path string) (BenchmarkConfig, error) {
	cfg := DefaultBenchmarkConfig()
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "reading benchmark config %q", path)
	}
	if err := json5.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parsing benchmark config %q", path)
	}
	return cfg, nil
}

// BenchmarkResult holds the accuracy and timing of both estimators on one scene.
type BenchmarkResult struct {
	NumViews     int `json:"num_views"`
	NumTracks    int `json:"num_tracks"`
	NumViewPairs int `json:"num_view_pairs"`
	NumOutliers  int `json:"num_outliers"`

	RotationsEstimated bool                  `json:"rotations_estimated"`
	InitialRotation    globalpose.ErrorStats `json:"initial_rotation_error_degrees"`
	Rotation           globalpose.ErrorStats `json:"rotation_error_degrees"`
	RotationTime       time.Duration         `json:"rotation_time"`

	PositionsEstimated bool                  `json:"positions_estimated"`
	Position           globalpose.ErrorStats `json:"position_error"`
	PositionTime       time.Duration         `json:"position_time"`
}

// RunBenchmark builds the scene described by cfg, estimates orientations and then positions, and
// measures both against ground truth after removing the gauge ambiguity.
func RunBenchmark(ctx context.Context, cfg BenchmarkConfig, logger logging.Logger) (*BenchmarkResult, error) {
	if err := cfg.Validate("benchmark"); err != nil {
		return nil, err
	}
	//nolint:gosec
	rng := rand.New(rand.NewSource(cfg.Seed))
	scene, err := sfm.NewSyntheticScene(rng, cfg.Scene)
	if err != nil {
		return nil, errors.Wrap(err, "building synthetic scene")
	}
	result := &BenchmarkResult{
		NumViews:     scene.Reconstruction.NumViews(),
		NumTracks:    scene.Reconstruction.NumTracks(),
		NumViewPairs: len(scene.ViewPairs),
		NumOutliers:  len(scene.Outliers),
	}
	logger.Infow("built synthetic scene", "views", result.NumViews, "tracks", result.NumTracks,
		"view_pairs", result.NumViewPairs, "outliers", result.NumOutliers)

	orientations := make(map[sfm.ViewID]r3.Vector, len(scene.Orientations))
	for _, id := range scene.Reconstruction.ViewIDs() {
		orientations[id] = spatialmath.PerturbAngleAxis(rng, scene.Orientations[id], utils.DegToRad(cfg.InitialRotationNoiseDegrees))
	}
	if result.InitialRotation, err = globalpose.OrientationErrorsDegrees(scene.Orientations, orientations); err != nil {
		return nil, err
	}

	rotationEstimator, err := globalpose.NewRotationEstimator(cfg.Rotation, logger.Sublogger("rotation"))
	if err != nil {
		return nil, err
	}
	start := time.Now()
	result.RotationsEstimated = rotationEstimator.EstimateRotations(ctx, scene.ViewPairs, orientations)
	result.RotationTime = time.Since(start)
	if result.Rotation, err = globalpose.OrientationErrorsDegrees(scene.Orientations, orientations); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	positions := map[sfm.ViewID]r3.Vector{}
	if !cfg.RandomPositionInit {
		for _, id := range scene.Reconstruction.ViewIDs() {
			positions[id] = scene.Positions[id].Add(r3.Vector{
				X: cfg.InitialPositionNoise * (2*rng.Float64() - 1),
				Y: cfg.InitialPositionNoise * (2*rng.Float64() - 1),
				Z: cfg.InitialPositionNoise * (2*rng.Float64() - 1),
			})
		}
	}
	positionOpts := cfg.Position
	if positionOpts.Rand == nil {
		//nolint:gosec
		positionOpts.Rand = rand.New(rand.NewSource(cfg.Seed + 1))
	}
	positionEstimator, err := globalpose.NewPositionEstimator(positionOpts, scene.Reconstruction, logger.Sublogger("position"))
	if err != nil {
		return nil, err
	}
	start = time.Now()
	result.PositionsEstimated = positionEstimator.EstimatePositions(ctx, scene.ViewPairs, orientations, positions)
	result.PositionTime = time.Since(start)
	if result.PositionsEstimated {
		if result.Position, err = globalpose.PositionErrors(scene.Positions, positions); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// Table renders the result as a text table.
func (r *BenchmarkResult) Table() string {
	t := table.NewWriter()
	t.SetTitle(fmt.Sprintf("%d views, %d tracks, %d view pairs (%d outliers)",
		r.NumViews, r.NumTracks, r.NumViewPairs, r.NumOutliers))
	t.AppendHeader(table.Row{"Stage", "Solved", "Time", "Median", "Mean", "Max"})
	appendStats := func(stage string, solved string, elapsed string, es globalpose.ErrorStats) {
		if es.Count == 0 {
			t.AppendRow(table.Row{stage, solved, elapsed, "-", "-", "-"})
			return
		}
		t.AppendRow(table.Row{
			stage, solved, elapsed,
			fmt.Sprintf("%.4f", es.Median), fmt.Sprintf("%.4f", es.Mean), fmt.Sprintf("%.4f", es.Max),
		})
	}
	appendStats("initial rotation (deg)", "", "", r.InitialRotation)
	appendStats("rotation (deg)", fmt.Sprint(r.RotationsEstimated), r.RotationTime.Round(time.Microsecond).String(), r.Rotation)
	appendStats("position", fmt.Sprint(r.PositionsEstimated), r.PositionTime.Round(time.Microsecond).String(), r.Position)
	return t.Render()
}
