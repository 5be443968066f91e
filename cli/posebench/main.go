// Package main is the posebench command itself.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/urfave/cli/v2"

	sfmcli "go.viam.com/sfm/cli"
	"go.viam.com/sfm/globalpose"
	"go.viam.com/sfm/logging"
	"go.viam.com/sfm/nlls"
)

const (
	// Flags.
	flagConfig            = "config"
	flagDebug             = "debug"
	flagJSON              = "json"
	flagSeed              = "seed"
	flagViews             = "views"
	flagTracks            = "tracks"
	flagOutlierRatio      = "outlier-ratio"
	flagRotationNoise     = "rotation-noise"
	flagTranslationNoise  = "translation-noise"
	flagInitNoise         = "init-rotation-noise"
	flagRandomInit        = "random-position-init"
	flagPointsPerView     = "points-per-view"
	flagRotationLoss      = "rotation-loss"
	flagPositionLoss      = "position-loss"
	flagRotationErrorType = "rotation-error"
	flagThreads           = "threads"
	flagLogFile           = "log-file"
	flagHistogram         = "histogram"
	flagPlotDir           = "plot-dir"
	flagBins              = "bins"
)

func main() {
	app := &cli.App{
		Name:  "posebench",
		Usage: "run global rotation and position estimation on a synthetic scene",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load benchmark configuration from JSON5 `FILE`",
			},
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
			&cli.BoolFlag{
				Name:  flagJSON,
				Usage: "print the result as JSON instead of a table",
			},
			&cli.Int64Flag{Name: flagSeed, Usage: "random seed for the scene and initialization"},
			&cli.IntFlag{Name: flagViews, Usage: "number of cameras"},
			&cli.IntFlag{Name: flagTracks, Usage: "number of 3D points"},
			&cli.Float64Flag{Name: flagOutlierRatio, Usage: "fraction of view pairs replaced by outliers"},
			&cli.Float64Flag{Name: flagRotationNoise, Usage: "relative rotation noise in degrees"},
			&cli.Float64Flag{Name: flagTranslationNoise, Usage: "relative translation direction noise in degrees"},
			&cli.Float64Flag{Name: flagInitNoise, Usage: "perturbation of the initial orientations in degrees"},
			&cli.BoolFlag{Name: flagRandomInit, Usage: "initialize positions randomly instead of from perturbed ground truth"},
			&cli.IntFlag{Name: flagPointsPerView, Usage: "minimum point to camera constraints per view, 0 disables them"},
			&cli.StringFlag{Name: flagRotationLoss, Usage: "rotation loss: NONE, HUBER, SOFTLONE, CAUCHY, ARCTAN or TUKEY"},
			&cli.StringFlag{Name: flagPositionLoss, Usage: "position loss: NONE, HUBER, SOFTLONE, CAUCHY, ARCTAN or TUKEY"},
			&cli.StringFlag{Name: flagRotationErrorType, Usage: "rotation residual: ANGLE_AXIS, QUATERNION or QUATERNION_ANGLE"},
			&cli.IntFlag{Name: flagThreads, Usage: "solver threads"},
			&cli.StringFlag{Name: flagLogFile, Usage: "also write logs to a rotated `FILE`"},
			&cli.BoolFlag{Name: flagHistogram, Usage: "print histograms of the per-view errors"},
			&cli.StringFlag{Name: flagPlotDir, Usage: "write PNG histograms of the per-view errors into `DIR`"},
			&cli.IntFlag{Name: flagBins, Value: 10, Usage: "number of histogram bins"},
		},
		Action: runAction,
		Commands: []*cli.Command{
			{
				Name:  "schema",
				Usage: "print the JSON schema of the benchmark configuration file",
				Action: func(c *cli.Context) error {
					schema, err := sfmcli.ConfigSchema()
					if err != nil {
						return err
					}
					fmt.Fprintln(c.App.Writer, string(schema))
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runAction(c *cli.Context) error {
	cfg := sfmcli.DefaultBenchmarkConfig()
	if path := c.String(flagConfig); path != "" {
		var err error
		if cfg, err = sfmcli.ReadBenchmarkConfig(path); err != nil {
			return err
		}
	}
	if err := applyFlags(c, &cfg); err != nil {
		return err
	}

	logger := logging.NewBlankLogger("posebench")
	logger.AddAppender(logging.NewWriterAppender(c.App.ErrWriter))
	if path := c.String(flagLogFile); path != "" {
		logger.AddAppender(logging.NewFileAppender(path))
	}
	if !c.Bool(flagDebug) {
		logger.SetLevel(logging.INFO)
	}

	ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt)
	defer cancel()
	result, err := sfmcli.RunBenchmark(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if c.Bool(flagJSON) {
		enc := json.NewEncoder(c.App.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	fmt.Fprintln(c.App.Writer, result.Table())
	if c.Bool(flagHistogram) {
		if err := result.WriteHistograms(c.App.Writer, c.Int(flagBins)); err != nil {
			return err
		}
	}
	if dir := c.String(flagPlotDir); dir != "" {
		written, err := result.SavePlots(dir, c.Int(flagBins))
		if err != nil {
			return err
		}
		for _, path := range written {
			fmt.Fprintf(c.App.Writer, "wrote %s\n", path)
		}
	}
	return nil
}

// applyFlags overrides config values with the flags that were set explicitly.
func applyFlags(c *cli.Context, cfg *sfmcli.BenchmarkConfig) error {
	if c.IsSet(flagSeed) {
		cfg.Seed = c.Int64(flagSeed)
	}
	if c.IsSet(flagViews) {
		cfg.Scene.NumViews = c.Int(flagViews)
	}
	if c.IsSet(flagTracks) {
		cfg.Scene.NumTracks = c.Int(flagTracks)
	}
	if c.IsSet(flagOutlierRatio) {
		cfg.Scene.OutlierRatio = c.Float64(flagOutlierRatio)
	}
	if c.IsSet(flagRotationNoise) {
		cfg.Scene.RotationNoiseDegrees = c.Float64(flagRotationNoise)
	}
	if c.IsSet(flagTranslationNoise) {
		cfg.Scene.TranslationNoiseDegrees = c.Float64(flagTranslationNoise)
	}
	if c.IsSet(flagInitNoise) {
		cfg.InitialRotationNoiseDegrees = c.Float64(flagInitNoise)
	}
	if c.IsSet(flagRandomInit) {
		cfg.RandomPositionInit = c.Bool(flagRandomInit)
	}
	if c.IsSet(flagPointsPerView) {
		cfg.Position.MinNumPointsPerView = c.Int(flagPointsPerView)
	}
	if c.IsSet(flagThreads) {
		cfg.Rotation.NumThreads = c.Int(flagThreads)
		cfg.Position.NumThreads = c.Int(flagThreads)
	}
	if c.IsSet(flagRotationLoss) {
		lossType, err := nlls.ParseLossFunctionType(c.String(flagRotationLoss))
		if err != nil {
			return err
		}
		cfg.Rotation.LossFunctionType = lossType
	}
	if c.IsSet(flagPositionLoss) {
		lossType, err := nlls.ParseLossFunctionType(c.String(flagPositionLoss))
		if err != nil {
			return err
		}
		cfg.Position.LossFunctionType = lossType
	}
	if c.IsSet(flagRotationErrorType) {
		kind, err := globalpose.ParseRotationErrorType(c.String(flagRotationErrorType))
		if err != nil {
			return err
		}
		cfg.Rotation.RotationErrorType = kind
	}
	return nil
}
