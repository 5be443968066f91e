// Package nlls is a small nonlinear least squares engine: parameter blocks, residual blocks with
// robust losses, and a Levenberg-Marquardt trust region solver with normal Cholesky and Schur
// complement linear solvers.
package nlls

// CostFunction computes the residuals of one residual block. Jacobians are taken numerically by
// the solver.
type CostFunction interface {
	// NumResiduals is the length of the residual vector.
	NumResiduals() int
	// ParameterBlockSizes lists the size of every parameter block the function reads, in order.
	ParameterBlockSizes() []int
	// Evaluate fills residuals from parameters and reports false if they cannot be computed.
	Evaluate(parameters [][]float64, residuals []float64) bool
}

// ResidualFunc is the signature of CostFunction.Evaluate.
type ResidualFunc func(parameters [][]float64, residuals []float64) bool

type funcCost struct {
	numResiduals int
	blockSizes   []int
	f            ResidualFunc
}

// NewCostFunction wraps f as a CostFunction.
func NewCostFunction(numResiduals int, blockSizes []int, f ResidualFunc) CostFunction {
	return &funcCost{numResiduals: numResiduals, blockSizes: append([]int(nil), blockSizes...), f: f}
}

func (c *funcCost) NumResiduals() int {
	return c.numResiduals
}

func (c *funcCost) ParameterBlockSizes() []int {
	return c.blockSizes
}

func (c *funcCost) Evaluate(parameters [][]float64, residuals []float64) bool {
	return c.f(parameters, residuals)
}
