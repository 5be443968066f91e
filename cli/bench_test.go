package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"go.viam.com/test"

	"go.viam.com/sfm/globalpose"
	"go.viam.com/sfm/logging"
	"go.viam.com/sfm/nlls"
)

func smallConfig() BenchmarkConfig {
	cfg := DefaultBenchmarkConfig()
	cfg.Scene.NumViews = 6
	cfg.Scene.NumTracks = 40
	cfg.Scene.RotationNoiseDegrees = 0.5
	cfg.Scene.TranslationNoiseDegrees = 0.5
	return cfg
}

func TestDefaultBenchmarkConfig(t *testing.T) {
	cfg := DefaultBenchmarkConfig()
	test.That(t, cfg.Validate("benchmark"), test.ShouldBeNil)

	cfg.InitialRotationNoiseDegrees = -1
	cfg.Scene.NumViews = 1
	cfg.Rotation.MaxNumIterations = 0
	err := cfg.Validate("benchmark")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "initial_rotation_noise_degrees")
	test.That(t, err.Error(), test.ShouldContainSubstring, "num_views")
	test.That(t, err.Error(), test.ShouldContainSubstring, "max_num_iterations")
}

func TestReadBenchmarkConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench.json")
	contents := `{
		"seed": 42,
		"scene": {"num_views": 12, "outlier_ratio": 0.1},
		"rotation": {"loss_function_type": "softlone", "rotation_error_type": "QUATERNION"},
		"position": {"min_num_points_per_view": 8}
	}`
	test.That(t, os.WriteFile(path, []byte(contents), 0o600), test.ShouldBeNil)

	cfg, err := ReadBenchmarkConfig(path)
	test.That(t, err, test.ShouldBeNil)

	expected := DefaultBenchmarkConfig()
	expected.Seed = 42
	expected.Scene.NumViews = 12
	expected.Scene.OutlierRatio = 0.1
	expected.Rotation.LossFunctionType = nlls.SoftLOneLoss
	expected.Rotation.RotationErrorType = globalpose.QuaternionRotationError
	expected.Position.MinNumPointsPerView = 8
	diff := cmp.Diff(expected, cfg, cmpopts.IgnoreFields(globalpose.PositionEstimatorOptions{}, "Rand"))
	test.That(t, diff, test.ShouldBeEmpty)

	commented := filepath.Join(t.TempDir(), "bench.json5")
	contents = `{
		// a smaller scene
		seed: 42,
		scene: {num_views: 12, outlier_ratio: 0.1},
		rotation: {loss_function_type: "softlone", rotation_error_type: "QUATERNION"},
		position: {min_num_points_per_view: 8,},
	}`
	test.That(t, os.WriteFile(commented, []byte(contents), 0o600), test.ShouldBeNil)
	cfg, err = ReadBenchmarkConfig(commented)
	test.That(t, err, test.ShouldBeNil)
	diff = cmp.Diff(expected, cfg, cmpopts.IgnoreFields(globalpose.PositionEstimatorOptions{}, "Rand"))
	test.That(t, diff, test.ShouldBeEmpty)

	_, err = ReadBenchmarkConfig(filepath.Join(t.TempDir(), "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)

	bad := filepath.Join(t.TempDir(), "bad.json")
	test.That(t, os.WriteFile(bad, []byte(`{"rotation": {"loss_function_type": "L3"}}`), 0o600), test.ShouldBeNil)
	_, err = ReadBenchmarkConfig(bad)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestRunBenchmark(t *testing.T) {
	cfg := smallConfig()
	result, err := RunBenchmark(context.Background(), cfg, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, result.NumViews, test.ShouldEqual, 6)
	test.That(t, result.NumTracks, test.ShouldEqual, 40)
	test.That(t, result.NumViewPairs, test.ShouldEqual, 15)
	test.That(t, result.NumOutliers, test.ShouldEqual, 0)

	test.That(t, result.RotationsEstimated, test.ShouldBeTrue)
	test.That(t, result.Rotation.Count, test.ShouldEqual, 6)
	test.That(t, result.Rotation.Mean, test.ShouldBeLessThan, result.InitialRotation.Mean)
	test.That(t, result.PositionsEstimated, test.ShouldBeTrue)
	test.That(t, result.Position.Count, test.ShouldEqual, 6)

	table := result.Table()
	test.That(t, table, test.ShouldContainSubstring, "6 views, 40 tracks, 15 view pairs")
	test.That(t, table, test.ShouldContainSubstring, "rotation (deg)")
	test.That(t, table, test.ShouldContainSubstring, "position")
}

func TestRunBenchmarkDeterministic(t *testing.T) {
	cfg := smallConfig()
	cfg.RandomPositionInit = true
	a, err := RunBenchmark(context.Background(), cfg, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	b, err := RunBenchmark(context.Background(), cfg, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, b.Rotation, test.ShouldResemble, a.Rotation)
	test.That(t, b.Position, test.ShouldResemble, a.Position)
}

func TestRunBenchmarkInvalidConfig(t *testing.T) {
	cfg := smallConfig()
	cfg.Position.RobustLossWidth = -1
	_, err := RunBenchmark(context.Background(), cfg, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
}
