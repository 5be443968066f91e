package nlls

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// normalCholeskySolver assembles the damped normal equations over every free parameter and
// factors them with a Cholesky decomposition.
type normalCholeskySolver struct{}

func (normalCholeskySolver) solve(ne *normalEquations, lambda float64, d []float64) ([]float64, bool) {
	prog := ne.prog
	n := prog.numParams
	if n == 0 {
		return nil, true
	}
	full := mat.NewDense(n, n, nil)
	for key, blk := range ne.blocks {
		addBlock(full, prog.offsets[key.row], prog.offsets[key.col], blk)
		if key.row != key.col {
			addBlock(full, prog.offsets[key.col], prog.offsets[key.row], blk.T())
		}
	}
	for i := 0; i < n; i++ {
		full.Set(i, i, full.At(i, i)+lambda*d[i])
	}
	rhs := make([]float64, n)
	for i, g := range ne.gradient {
		rhs[i] = -g
	}
	return choleskySolve(full, rhs)
}

// addBlock adds blk into dst with its top left corner at (row, col).
func addBlock(dst *mat.Dense, row, col int, blk mat.Matrix) {
	r, c := blk.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			dst.Set(row+i, col+j, dst.At(row+i, col+j)+blk.At(i, j))
		}
	}
}

// choleskySolve solves a x = b for symmetric positive definite a, reading only its upper triangle.
func choleskySolve(a *mat.Dense, b []float64) ([]float64, bool) {
	n, _ := a.Dims()
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sym.SetSym(i, j, a.At(i, j))
		}
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(sym); !ok {
		return nil, false
	}
	x := mat.NewVecDense(n, nil)
	if err := chol.SolveVecTo(x, mat.NewVecDense(n, b)); err != nil {
		// an ill conditioned system still yields a usable step; the trust region rejects bad ones
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, false
		}
	}
	return x.RawVector().Data, true
}
