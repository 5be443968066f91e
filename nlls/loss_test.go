package nlls

import (
	"encoding/json"
	"math"
	"testing"

	"go.viam.com/test"
)

func TestLossDerivatives(t *testing.T) {
	const h = 1e-6
	for _, lossType := range []LossFunctionType{HuberLoss, SoftLOneLoss, CauchyLoss, ArctanLoss, TukeyLoss} {
		t.Run(lossType.String(), func(t *testing.T) {
			loss, err := NewLossFunction(lossType, 1)
			test.That(t, err, test.ShouldBeNil)
			for _, s := range []float64{0.25, 0.5, 2, 4} {
				rho := loss.Evaluate(s)
				lo, hi := loss.Evaluate(s-h), loss.Evaluate(s+h)
				test.That(t, rho[1], test.ShouldAlmostEqual, (hi[0]-lo[0])/(2*h), 1e-5)
				test.That(t, rho[2], test.ShouldAlmostEqual, (hi[1]-lo[1])/(2*h), 1e-5)
				// robust losses never exceed the squared norm
				test.That(t, rho[0], test.ShouldBeLessThanOrEqualTo, s+1e-12)
			}
		})
	}
}

func TestHuberLoss(t *testing.T) {
	loss, err := NewLossFunction(HuberLoss, 0.5)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, loss.Evaluate(0.1), test.ShouldResemble, [3]float64{0.1, 1, 0})
	rho := loss.Evaluate(4)
	test.That(t, rho[0], test.ShouldAlmostEqual, 2*0.5*2-0.25)
	test.That(t, rho[1], test.ShouldAlmostEqual, 0.25)
}

func TestTukeyLossSaturates(t *testing.T) {
	loss, err := NewLossFunction(TukeyLoss, 2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, loss.Evaluate(100), test.ShouldResemble, [3]float64{4.0 / 3, 0, 0})
}

func TestNewLossFunction(t *testing.T) {
	loss, err := NewLossFunction(TrivialLoss, 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, loss, test.ShouldBeNil)

	_, err = NewLossFunction(HuberLoss, 0)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewLossFunction(HuberLoss, math.NaN())
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewLossFunction(LossFunctionType(42), 1)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestParseLossFunctionType(t *testing.T) {
	for name, expected := range map[string]LossFunctionType{
		"NONE":     TrivialLoss,
		"huber":    HuberLoss,
		"SoftLOne": SoftLOneLoss,
		"cauchy":   CauchyLoss,
		" ARCTAN ": ArctanLoss,
		"tukey":    TukeyLoss,
	} {
		parsed, err := ParseLossFunctionType(name)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, parsed, test.ShouldEqual, expected)
	}
	_, err := ParseLossFunctionType("L2")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "L2")

	var cfg struct {
		Loss LossFunctionType `json:"loss"`
	}
	test.That(t, json.Unmarshal([]byte(`{"loss":"cauchy"}`), &cfg), test.ShouldBeNil)
	test.That(t, cfg.Loss, test.ShouldEqual, CauchyLoss)
	test.That(t, json.Unmarshal([]byte(`{"loss":"bogus"}`), &cfg), test.ShouldNotBeNil)
	out, err := json.Marshal(cfg)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(out), test.ShouldEqual, `{"loss":"CAUCHY"}`)
}

func TestCorrection(t *testing.T) {
	// without curvature the correction is a plain sqrt(rho') scaling
	c := newCorrection(4, [3]float64{3, 0.25, -0.01})
	residuals := []float64{2, 0}
	jacobian := []float64{1, 0, 0, 1}
	c.correctJacobian(residuals, jacobian, 2)
	c.correctResiduals(residuals)
	test.That(t, residuals, test.ShouldResemble, []float64{1, 0})
	test.That(t, jacobian, test.ShouldResemble, []float64{0.5, 0, 0, 0.5})

	// zero residual leaves everything scaled by sqrt(rho')
	c = newCorrection(0, [3]float64{0, 1, 0.5})
	test.That(t, c.alphaSquaredNorm, test.ShouldEqual, 0.0)
	test.That(t, c.residualScaling, test.ShouldEqual, 1.0)
}
