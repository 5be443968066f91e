package utils

import (
	"math"
	"testing"

	"go.viam.com/test"
)

func TestAngleConversions(t *testing.T) {
	test.That(t, DegToRad(180), test.ShouldAlmostEqual, math.Pi)
	test.That(t, RadToDeg(math.Pi/2), test.ShouldAlmostEqual, 90.0)
	test.That(t, RadToDeg(DegToRad(37.5)), test.ShouldAlmostEqual, 37.5)
}

func TestSigmoid(t *testing.T) {
	test.That(t, Sigmoid(0), test.ShouldAlmostEqual, 0.5)
	test.That(t, Sigmoid(40), test.ShouldAlmostEqual, 1.0)
	test.That(t, Sigmoid(-40), test.ShouldAlmostEqual, 0.0)
	test.That(t, Sigmoid(1)+Sigmoid(-1), test.ShouldAlmostEqual, 1.0)
}

func TestClamp(t *testing.T) {
	test.That(t, Clamp(2, -1, 1), test.ShouldEqual, 1.0)
	test.That(t, Clamp(-2, -1, 1), test.ShouldEqual, -1.0)
	test.That(t, Clamp(0.25, -1, 1), test.ShouldEqual, 0.25)
}
