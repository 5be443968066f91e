package nlls

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/pkg/errors"
)

// LossFunction maps the squared norm s of a residual block to rho(s) and its first two
// derivatives.
type LossFunction interface {
	Evaluate(s float64) [3]float64
}

// LossFunctionType names a robust loss.
type LossFunctionType int

// The available losses.
const (
	TrivialLoss LossFunctionType = iota
	HuberLoss
	SoftLOneLoss
	CauchyLoss
	ArctanLoss
	TukeyLoss
)

var lossFunctionNames = map[LossFunctionType]string{
	TrivialLoss:  "NONE",
	HuberLoss:    "HUBER",
	SoftLOneLoss: "SOFTLONE",
	CauchyLoss:   "CAUCHY",
	ArctanLoss:   "ARCTAN",
	TukeyLoss:    "TUKEY",
}

func (t LossFunctionType) String() string {
	if name, ok := lossFunctionNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseLossFunctionType parses a loss name, case insensitively.
func ParseLossFunctionType(name string) (LossFunctionType, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for t, n := range lossFunctionNames {
		if n == upper {
			return t, nil
		}
	}
	return TrivialLoss, errors.Errorf("unknown loss function type %q", name)
}

// MarshalJSON encodes the loss by name.
func (t LossFunctionType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes a loss name.
func (t *LossFunctionType) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseLossFunctionType(name)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// NewLossFunction builds the loss of the given type with scale width. TrivialLoss returns nil, which
// residual blocks treat as plain squared error.
func NewLossFunction(t LossFunctionType, width float64) (LossFunction, error) {
	if t != TrivialLoss && !(width > 0) {
		return nil, errors.Errorf("loss width must be positive, got %v", width)
	}
	switch t {
	case TrivialLoss:
		return nil, nil
	case HuberLoss:
		return &huberLoss{a: width, b: width * width}, nil
	case SoftLOneLoss:
		return &softLOneLoss{b: width * width, c: 1 / (width * width)}, nil
	case CauchyLoss:
		return &cauchyLoss{b: width * width, c: 1 / (width * width)}, nil
	case ArctanLoss:
		return &arctanLoss{a: width, b: 1 / (width * width)}, nil
	case TukeyLoss:
		return &tukeyLoss{aSquared: width * width}, nil
	default:
		return nil, errors.Errorf("unknown loss function type %d", int(t))
	}
}

// smallest positive normal double; floors rho' so robust losses never zero out a residual.
const minRhoPrime = 2.2250738585072014e-308

type huberLoss struct {
	a, b float64
}

func (l *huberLoss) Evaluate(s float64) [3]float64 {
	if s > l.b {
		r := math.Sqrt(s)
		rho1 := math.Max(minRhoPrime, l.a/r)
		return [3]float64{2*l.a*r - l.b, rho1, -rho1 / (2 * s)}
	}
	return [3]float64{s, 1, 0}
}

type softLOneLoss struct {
	b, c float64
}

func (l *softLOneLoss) Evaluate(s float64) [3]float64 {
	sum := 1 + s*l.c
	tmp := math.Sqrt(sum)
	rho1 := math.Max(minRhoPrime, 1/tmp)
	return [3]float64{2 * l.b * (tmp - 1), rho1, -(l.c * rho1) / (2 * sum)}
}

type cauchyLoss struct {
	b, c float64
}

func (l *cauchyLoss) Evaluate(s float64) [3]float64 {
	sum := 1 + s*l.c
	inv := 1 / sum
	return [3]float64{l.b * math.Log(sum), math.Max(minRhoPrime, inv), -l.c * inv * inv}
}

type arctanLoss struct {
	a, b float64
}

func (l *arctanLoss) Evaluate(s float64) [3]float64 {
	sum := 1 + s*s*l.b
	inv := 1 / sum
	return [3]float64{l.a * math.Atan2(s, l.a), math.Max(minRhoPrime, inv), -2 * s * l.b * inv * inv}
}

type tukeyLoss struct {
	aSquared float64
}

func (l *tukeyLoss) Evaluate(s float64) [3]float64 {
	if s <= l.aSquared {
		value := 1 - s/l.aSquared
		valueSq := value * value
		return [3]float64{l.aSquared / 3 * (1 - valueSq*value), valueSq, -2 * value / l.aSquared}
	}
	return [3]float64{l.aSquared / 3, 0, 0}
}

// correction rescales a residual block and its Jacobian so that the Gauss-Newton model of the
// robustified cost matches rho to second order (Triggs et al., "Bundle Adjustment: A Modern
// Synthesis").
type correction struct {
	sqrtRho1         float64
	residualScaling  float64
	alphaSquaredNorm float64
}

func newCorrection(s float64, rho [3]float64) correction {
	c := correction{sqrtRho1: math.Sqrt(rho[1])}
	if s == 0 || rho[2] <= 0 {
		c.residualScaling = c.sqrtRho1
		return c
	}
	d := 1 + 2*s*rho[2]/rho[1]
	alpha := 1 - math.Sqrt(d)
	c.residualScaling = c.sqrtRho1 / (1 - alpha)
	c.alphaSquaredNorm = alpha / s
	return c
}

// correctJacobian applies J <- sqrt(rho') (J - alpha/s r r^T J) to the row major m x n jacobian.
func (c correction) correctJacobian(residuals []float64, jacobian []float64, numCols int) {
	if c.alphaSquaredNorm == 0 {
		for i := range jacobian {
			jacobian[i] *= c.sqrtRho1
		}
		return
	}
	numRows := len(residuals)
	for col := 0; col < numCols; col++ {
		rtj := 0.0
		for row := 0; row < numRows; row++ {
			rtj += residuals[row] * jacobian[row*numCols+col]
		}
		for row := 0; row < numRows; row++ {
			idx := row*numCols + col
			jacobian[idx] = c.sqrtRho1 * (jacobian[idx] - c.alphaSquaredNorm*residuals[row]*rtj)
		}
	}
}

func (c correction) correctResiduals(residuals []float64) {
	for i := range residuals {
		residuals[i] *= c.residualScaling
	}
}
