package nlls

import (
	"testing"

	"go.viam.com/test"
)

func TestProblemBookkeeping(t *testing.T) {
	problem := NewProblem()
	a := []float64{1, 2, 3}
	b := []float64{4, 5, 6}
	cost := NewCostFunction(3, []int{3, 3}, func(parameters [][]float64, residuals []float64) bool {
		for i := range residuals {
			residuals[i] = parameters[0][i] - parameters[1][i]
		}
		return true
	})

	test.That(t, problem.AddParameterBlock(a), test.ShouldBeNil)
	test.That(t, problem.AddParameterBlock(a), test.ShouldBeNil)
	test.That(t, problem.AddParameterBlock(a[:2]), test.ShouldNotBeNil)
	test.That(t, problem.AddParameterBlock(nil), test.ShouldNotBeNil)
	test.That(t, problem.HasParameterBlock(a), test.ShouldBeTrue)
	test.That(t, problem.HasParameterBlock(b), test.ShouldBeFalse)

	test.That(t, problem.AddResidualBlock(cost, nil, a, b), test.ShouldBeNil)
	test.That(t, problem.AddResidualBlock(cost, nil, a), test.ShouldNotBeNil)
	test.That(t, problem.AddResidualBlock(cost, nil, a, a), test.ShouldNotBeNil)
	test.That(t, problem.AddResidualBlock(cost, nil, a, []float64{1}), test.ShouldNotBeNil)
	test.That(t, problem.AddResidualBlock(nil, nil, a, b), test.ShouldNotBeNil)

	test.That(t, problem.NumParameterBlocks(), test.ShouldEqual, 2)
	test.That(t, problem.NumParameters(), test.ShouldEqual, 6)
	test.That(t, problem.NumResidualBlocks(), test.ShouldEqual, 1)
	test.That(t, problem.NumResiduals(), test.ShouldEqual, 3)

	cost2, ok := problem.Cost()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, cost2, test.ShouldAlmostEqual, 0.5*27)

	test.That(t, problem.SetParameterBlockConstant([]float64{1}), test.ShouldNotBeNil)
	test.That(t, problem.SetParameterBlockConstant(a), test.ShouldBeNil)
	test.That(t, problem.SetParameterBlockVariable(a), test.ShouldBeNil)
	test.That(t, problem.IsParameterBlockConstant(a), test.ShouldBeFalse)
}

func TestParameterBlockOrdering(t *testing.T) {
	ordering := NewParameterBlockOrdering()
	a := []float64{1}
	b := []float64{2}
	test.That(t, ordering.AddElementToGroup(a, 0), test.ShouldBeNil)
	test.That(t, ordering.AddElementToGroup(b, 1), test.ShouldBeNil)
	test.That(t, ordering.AddElementToGroup(b, 2), test.ShouldBeNil)
	test.That(t, ordering.AddElementToGroup(nil, 0), test.ShouldNotBeNil)
	test.That(t, ordering.AddElementToGroup(a, -1), test.ShouldNotBeNil)

	g, ok := ordering.GroupID(b)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, g, test.ShouldEqual, 2)
	_, ok = ordering.GroupID([]float64{3})
	test.That(t, ok, test.ShouldBeFalse)
	test.That(t, ordering.NumElements(), test.ShouldEqual, 2)
	test.That(t, ordering.NumGroups(), test.ShouldEqual, 2)
}
