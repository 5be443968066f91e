package sfm

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/sfm/spatialmath"
	"go.viam.com/sfm/utils"
)

// SceneConfig describes a synthetic scene of cameras on a ring looking at a cloud of points.
type SceneConfig struct {
	NumViews                int                      `json:"num_views"`
	NumTracks               int                      `json:"num_tracks"`
	Radius                  float64                  `json:"radius"`
	HeightJitter            float64                  `json:"height_jitter"`
	PointSpread             float64                  `json:"point_spread"`
	FeatureNoisePx          float64                  `json:"feature_noise_px"`
	RotationNoiseDegrees    float64                  `json:"rotation_noise_degrees"`
	TranslationNoiseDegrees float64                  `json:"translation_noise_degrees"`
	OutlierRatio            float64                  `json:"outlier_ratio"`
	MinSharedTracks         int                      `json:"min_shared_tracks"`
	Intrinsics              *PinholeCameraIntrinsics `json:"intrinsics,omitempty"`
}

// DefaultSceneConfig returns a small, mildly noisy scene.
func DefaultSceneConfig() SceneConfig {
	return SceneConfig{
		NumViews:                8,
		NumTracks:               200,
		Radius:                  10,
		HeightJitter:            1,
		PointSpread:             2,
		FeatureNoisePx:          0.5,
		RotationNoiseDegrees:    1,
		TranslationNoiseDegrees: 1,
		OutlierRatio:            0,
		MinSharedTracks:         10,
		Intrinsics: &PinholeCameraIntrinsics{
			Width:  1920,
			Height: 1080,
			Fx:     1000,
			Fy:     1000,
			Ppx:    960,
			Ppy:    540,
		},
	}
}

// Validate ensures all parts of the config are valid.
func (cfg *SceneConfig) Validate(path string) error {
	var err error
	if cfg.NumViews < 2 {
		err = multierr.Append(err, utils.NewConfigValidationRangeError(path, "num_views", cfg.NumViews, ">= 2"))
	}
	if cfg.NumTracks < 1 {
		err = multierr.Append(err, utils.NewConfigValidationRangeError(path, "num_tracks", cfg.NumTracks, ">= 1"))
	}
	if cfg.Radius <= cfg.PointSpread*math.Sqrt(3) {
		err = multierr.Append(err, utils.NewConfigValidationRangeError(path, "radius", cfg.Radius,
			fmt.Sprintf("> %v so every point is in front of every camera", cfg.PointSpread*math.Sqrt(3))))
	}
	if cfg.OutlierRatio < 0 || cfg.OutlierRatio > 1 {
		err = multierr.Append(err, utils.NewConfigValidationRangeError(path, "outlier_ratio", cfg.OutlierRatio, "in [0, 1]"))
	}
	if cfg.Intrinsics != nil {
		if ierr := cfg.Intrinsics.CheckValid(); ierr != nil {
			err = multierr.Append(err, utils.NewConfigValidationError(path, ierr))
		}
	}
	return err
}

// SyntheticScene is ground truth plus the noisy relative geometry measured from it.
type SyntheticScene struct {
	Reconstruction *Reconstruction
	Orientations   map[ViewID]r3.Vector
	Positions      map[ViewID]r3.Vector
	ViewPairs      map[ViewIDPair]TwoViewInfo
	Outliers       map[ViewIDPair]struct{}
}

// NewSyntheticScene builds a scene from cfg using rng for every random draw.
func NewSyntheticScene(rng *rand.Rand, cfg SceneConfig) (*SyntheticScene, error) {
	if err := cfg.Validate("scene"); err != nil {
		return nil, err
	}
	if rng == nil {
		return nil, errors.New("random source is required")
	}

	scene := &SyntheticScene{
		Reconstruction: NewReconstruction(),
		Orientations:   map[ViewID]r3.Vector{},
		Positions:      map[ViewID]r3.Vector{},
		ViewPairs:      map[ViewIDPair]TwoViewInfo{},
		Outliers:       map[ViewIDPair]struct{}{},
	}

	for i := 0; i < cfg.NumViews; i++ {
		theta := 2 * math.Pi * float64(i) / float64(cfg.NumViews)
		center := r3.Vector{
			X: cfg.Radius * math.Cos(theta),
			Y: cfg.Radius * math.Sin(theta),
			Z: cfg.HeightJitter * (2*rng.Float64() - 1),
		}
		orientation, err := LookAt(center, r3.Vector{}, r3.Vector{Z: 1})
		if err != nil {
			return nil, err
		}
		var intrinsics *PinholeCameraIntrinsics
		if cfg.Intrinsics != nil {
			cp := *cfg.Intrinsics
			intrinsics = &cp
		}
		id := scene.Reconstruction.AddView(fmt.Sprintf("view_%03d", i), intrinsics)
		scene.Orientations[id] = orientation
		scene.Positions[id] = center
	}

	viewIDs := scene.Reconstruction.ViewIDs()
	for i := 0; i < cfg.NumTracks; i++ {
		point := r3.Vector{
			X: cfg.PointSpread * (2*rng.Float64() - 1),
			Y: cfg.PointSpread * (2*rng.Float64() - 1),
			Z: cfg.PointSpread * (2*rng.Float64() - 1),
		}
		trackID := scene.Reconstruction.AddTrack(point, true)
		for _, viewID := range viewIDs {
			view := scene.Reconstruction.View(viewID)
			camPt := spatialmath.RotateByAngleAxis(scene.Orientations[viewID], point.Sub(scene.Positions[viewID]))
			pixel, ok := view.Intrinsics.PointToPixel(camPt)
			if !ok || !view.Intrinsics.InBounds(pixel) {
				continue
			}
			noise := cfg.FeatureNoisePx
			if view.Intrinsics == nil {
				noise /= 1000
			}
			pixel = pixel.Add(r2.Point{X: noise * rng.NormFloat64(), Y: noise * rng.NormFloat64()})
			if err := scene.Reconstruction.AddObservation(viewID, trackID, pixel); err != nil {
				return nil, err
			}
		}
	}

	rotNoise := utils.DegToRad(cfg.RotationNoiseDegrees)
	transNoise := utils.DegToRad(cfg.TranslationNoiseDegrees)
	for i, first := range viewIDs {
		for _, second := range viewIDs[i+1:] {
			shared := 0
			for trackID := range scene.Reconstruction.View(first).Features {
				if _, ok := scene.Reconstruction.View(second).Features[trackID]; ok {
					shared++
				}
			}
			if shared < cfg.MinSharedTracks {
				continue
			}
			pair := NewViewIDPair(first, second)
			info := RelativeTwoViewInfo(
				scene.Orientations[first], scene.Positions[first],
				scene.Orientations[second], scene.Positions[second],
			)
			info.NumVerifiedMatches = shared
			if rng.Float64() < cfg.OutlierRatio {
				info.Rotation2 = spatialmath.RandomAngleAxis(rng, math.Pi)
				info.Position2 = spatialmath.RandomUnitVector(rng)
				scene.Outliers[pair] = struct{}{}
			} else {
				info.Rotation2 = spatialmath.PerturbAngleAxis(rng, info.Rotation2, rotNoise)
				info.Position2 = spatialmath.RotateByAngleAxis(spatialmath.RandomAngleAxis(rng, transNoise), info.Position2)
			}
			scene.ViewPairs[pair] = info
		}
	}
	return scene, nil
}

// RelativeTwoViewInfo computes the exact relative geometry between two posed cameras. Orientations
// are world-to-camera angle axes and positions are camera centers in world coordinates.
func RelativeTwoViewInfo(orientation1, position1, orientation2, position2 r3.Vector) TwoViewInfo {
	direction := position2.Sub(position1)
	if n := direction.Norm(); n > 0 {
		direction = direction.Mul(1 / n)
	}
	return TwoViewInfo{
		Rotation2: spatialmath.RelativeAngleAxis(orientation1, orientation2),
		Position2: spatialmath.RotateByAngleAxis(orientation1, direction),
	}
}

// LookAt returns the world-to-camera orientation of a camera at center whose optical (+Z) axis
// points at target, with image -Y roughly along up.
func LookAt(center, target, up r3.Vector) (r3.Vector, error) {
	z := target.Sub(center)
	if z.Norm() < 1e-12 {
		return r3.Vector{}, errors.New("camera center and target coincide")
	}
	z = z.Normalize()
	x := z.Cross(up)
	if x.Norm() < 1e-12 {
		return r3.Vector{}, errors.New("viewing direction is parallel to up")
	}
	x = x.Normalize()
	y := z.Cross(x)
	rm, err := spatialmath.NewRotationMatrix([]float64{
		x.X, x.Y, x.Z,
		y.X, y.Y, y.Z,
		z.X, z.Y, z.Z,
	})
	if err != nil {
		return r3.Vector{}, err
	}
	return rm.AngleAxis(), nil
}
