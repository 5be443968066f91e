package nlls

import (
	"gonum.org/v1/gonum/mat"
)

// blockPair keys a block of J^T J by the problem block indices of its row and column blocks.
type blockPair struct {
	row, col int
}

// normalEquations holds J^T J in block sparse form together with J^T r.
type normalEquations struct {
	prog *program
	// only pairs with row <= col (in state order) are stored
	blocks   map[blockPair]*mat.Dense
	gradient []float64
	diagonal []float64
}

func buildNormalEquations(prog *program, eval *evaluation) *normalEquations {
	ne := &normalEquations{
		prog:     prog,
		blocks:   map[blockPair]*mat.Dense{},
		gradient: prog.gradient(eval),
		diagonal: make([]float64, prog.numParams),
	}
	for _, be := range eval.blocks {
		numRows := len(be.residuals)
		if be.numCols == 0 {
			continue
		}
		j := mat.NewDense(numRows, be.numCols, be.jacobian)
		for a, bi := range be.freeBlocks {
			sa := len(prog.problem.blocks[bi].data)
			ja := j.Slice(0, numRows, be.colOffsets[a], be.colOffsets[a]+sa)
			for b, bj := range be.freeBlocks {
				if prog.offsets[bi] > prog.offsets[bj] {
					continue
				}
				sb := len(prog.problem.blocks[bj].data)
				jb := j.Slice(0, numRows, be.colOffsets[b], be.colOffsets[b]+sb)
				var prod mat.Dense
				prod.Mul(ja.T(), jb)
				key := blockPair{bi, bj}
				if existing, ok := ne.blocks[key]; ok {
					existing.Add(existing, &prod)
				} else {
					ne.blocks[key] = &prod
				}
			}
		}
	}
	for _, bi := range prog.free {
		if blk, ok := ne.blocks[blockPair{bi, bi}]; ok {
			off := prog.offsets[bi]
			for c := 0; c < len(prog.problem.blocks[bi].data); c++ {
				ne.diagonal[off+c] = blk.At(c, c)
			}
		}
	}
	return ne
}

// block returns the (row, col) block of J^T J or nil if it is structurally zero.
func (ne *normalEquations) block(row, col int) mat.Matrix {
	if ne.prog.offsets[row] <= ne.prog.offsets[col] {
		if blk, ok := ne.blocks[blockPair{row, col}]; ok {
			return blk
		}
		return nil
	}
	if blk, ok := ne.blocks[blockPair{col, row}]; ok {
		return blk.T()
	}
	return nil
}

// lmDiagonal returns the Levenberg-Marquardt scaling diag(J^T J) clamped to [minDiag, maxDiag].
func (ne *normalEquations) lmDiagonal(minDiag, maxDiag float64) []float64 {
	d := make([]float64, len(ne.diagonal))
	for i, v := range ne.diagonal {
		switch {
		case v < minDiag:
			d[i] = minDiag
		case v > maxDiag:
			d[i] = maxDiag
		default:
			d[i] = v
		}
	}
	return d
}

// linearSolver solves (J^T J + lambda D) delta = -J^T r.
type linearSolver interface {
	solve(ne *normalEquations, lambda float64, d []float64) ([]float64, bool)
}
