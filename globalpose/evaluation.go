package globalpose

import (
	"fmt"
	"math"
	"slices"

	"github.com/golang/geo/r3"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/sfm/sfm"
	"go.viam.com/sfm/spatialmath"
	"go.viam.com/sfm/utils"
)

// ErrorStats summarizes per-view errors.
type ErrorStats struct {
	Count  int
	Min    float64
	Median float64
	Mean   float64
	Max    float64
	StdDev float64
	// Values are the summarized errors in input order.
	Values []float64
}

func (es ErrorStats) String() string {
	return fmt.Sprintf("n=%d min=%.4f median=%.4f mean=%.4f max=%.4f std=%.4f",
		es.Count, es.Min, es.Median, es.Mean, es.Max, es.StdDev)
}

// NewErrorStats computes summary statistics of errs.
func NewErrorStats(errs []float64) (ErrorStats, error) {
	if len(errs) == 0 {
		return ErrorStats{}, errors.New("no errors to summarize")
	}
	data := stats.LoadRawData(errs)
	minimum, err1 := data.Min()
	median, err2 := data.Median()
	mean, err3 := data.Mean()
	maximum, err4 := data.Max()
	stdDev, err5 := data.StandardDeviation()
	if err := multierr.Combine(err1, err2, err3, err4, err5); err != nil {
		return ErrorStats{}, err
	}
	return ErrorStats{
		Count:  len(errs),
		Min:    minimum,
		Median: median,
		Mean:   mean,
		Max:    maximum,
		StdDev: stdDev,
		Values: append([]float64(nil), errs...),
	}, nil
}

func commonViews[T any](a, b map[sfm.ViewID]T) []sfm.ViewID {
	var ids []sfm.ViewID
	for id := range a {
		if _, ok := b[id]; ok {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// AlignOrientations removes the global rotation ambiguity of estimated orientations by applying
// the rotation that best maps them onto groundTruth over the views both contain. Estimated views
// missing from groundTruth are aligned as well.
func AlignOrientations(groundTruth, estimated map[sfm.ViewID]r3.Vector) (map[sfm.ViewID]r3.Vector, error) {
	common := commonViews(groundTruth, estimated)
	if len(common) == 0 {
		return nil, errors.New("no views in common")
	}
	// world-to-camera rotations share the gauge R_est = R_gt * A
	sum := mat.NewDense(3, 3, nil)
	for _, id := range common {
		gt := spatialmath.AngleAxisToRotationMatrix(groundTruth[id]).Dense()
		est := spatialmath.AngleAxisToRotationMatrix(estimated[id]).Dense()
		var prod mat.Dense
		prod.Mul(gt.T(), est)
		sum.Add(sum, &prod)
	}
	gauge, err := spatialmath.ProjectToRotationMatrix(sum)
	if err != nil {
		return nil, err
	}
	inverse := gauge.Transpose().AngleAxis()
	aligned := make(map[sfm.ViewID]r3.Vector, len(estimated))
	for id, o := range estimated {
		aligned[id] = spatialmath.ComposeAngleAxis(o, inverse)
	}
	return aligned, nil
}

// SimilarityTransform maps p to Scale * Rotation * p + Translation.
type SimilarityTransform struct {
	Scale       float64
	Rotation    *spatialmath.RotationMatrix
	Translation r3.Vector
}

// Apply transforms p.
func (st *SimilarityTransform) Apply(p r3.Vector) r3.Vector {
	return st.Rotation.MulVec(p).Mul(st.Scale).Add(st.Translation)
}

// EstimateSimilarityTransform finds the least squares similarity transform taking from onto to
// for the views both contain (Umeyama, "Least-squares estimation of transformation parameters
// between two point patterns", 1991).
func EstimateSimilarityTransform(from, to map[sfm.ViewID]r3.Vector) (*SimilarityTransform, error) {
	common := commonViews(from, to)
	if len(common) < 2 {
		return nil, errors.Errorf("need at least 2 views in common, got %d", len(common))
	}
	n := float64(len(common))
	var meanFrom, meanTo r3.Vector
	for _, id := range common {
		meanFrom = meanFrom.Add(from[id])
		meanTo = meanTo.Add(to[id])
	}
	meanFrom = meanFrom.Mul(1 / n)
	meanTo = meanTo.Mul(1 / n)

	cov := mat.NewDense(3, 3, nil)
	varFrom := 0.0
	for _, id := range common {
		f := from[id].Sub(meanFrom)
		t := to[id].Sub(meanTo)
		varFrom += f.Norm2()
		fv := []float64{f.X, f.Y, f.Z}
		tv := []float64{t.X, t.Y, t.Z}
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				cov.Set(r, c, cov.At(r, c)+tv[r]*fv[c]/n)
			}
		}
	}
	varFrom /= n
	if varFrom < 1e-18 {
		return nil, errors.New("source positions are degenerate")
	}

	var svd mat.SVD
	if ok := svd.Factorize(cov, mat.SVDFull); !ok {
		return nil, errors.New("failed to factorize covariance")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	values := svd.Values(nil)
	s := []float64{1, 1, 1}
	if mat.Det(&u)*mat.Det(&v) < 0 {
		s[2] = -1
	}
	var us, rot mat.Dense
	us.Mul(&u, mat.NewDiagDense(3, s))
	rot.Mul(&us, v.T())
	rotation, err := spatialmath.NewRotationMatrix(rot.RawMatrix().Data)
	if err != nil {
		return nil, err
	}
	trace := 0.0
	for i := range values {
		trace += values[i] * s[i]
	}
	scale := trace / varFrom
	return &SimilarityTransform{
		Scale:       scale,
		Rotation:    rotation,
		Translation: meanTo.Sub(rotation.MulVec(meanFrom).Mul(scale)),
	}, nil
}

// AlignPositions applies the similarity transform best mapping estimated onto groundTruth to every
// estimated position.
func AlignPositions(groundTruth, estimated map[sfm.ViewID]r3.Vector) (map[sfm.ViewID]r3.Vector, error) {
	st, err := EstimateSimilarityTransform(estimated, groundTruth)
	if err != nil {
		return nil, err
	}
	aligned := make(map[sfm.ViewID]r3.Vector, len(estimated))
	for id, p := range estimated {
		aligned[id] = st.Apply(p)
	}
	return aligned, nil
}

// OrientationErrorsDegrees aligns estimated onto groundTruth and summarizes the per-view angular
// errors in degrees.
func OrientationErrorsDegrees(groundTruth, estimated map[sfm.ViewID]r3.Vector) (ErrorStats, error) {
	aligned, err := AlignOrientations(groundTruth, estimated)
	if err != nil {
		return ErrorStats{}, err
	}
	var errs []float64
	for _, id := range commonViews(groundTruth, aligned) {
		errs = append(errs, utils.RadToDeg(spatialmath.AngularDistance(groundTruth[id], aligned[id])))
	}
	return NewErrorStats(errs)
}

// PositionErrors aligns estimated onto groundTruth with a similarity transform and summarizes the
// per-view position errors in ground truth units.
func PositionErrors(groundTruth, estimated map[sfm.ViewID]r3.Vector) (ErrorStats, error) {
	aligned, err := AlignPositions(groundTruth, estimated)
	if err != nil {
		return ErrorStats{}, err
	}
	var errs []float64
	for _, id := range commonViews(groundTruth, aligned) {
		d := groundTruth[id].Sub(aligned[id]).Norm()
		if math.IsNaN(d) {
			return ErrorStats{}, errors.Errorf("position of view %d is not finite", id)
		}
		errs = append(errs, d)
	}
	return NewErrorStats(errs)
}
