package nlls

import (
	"context"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/sfm/utils"
)

// program is the free parameter layout of a problem: every non-constant block owns a contiguous
// range of the state vector.
type program struct {
	problem *Problem
	// free block positions in problem.blocks, in state order
	free []int
	// state offset per problem block, -1 for constant blocks
	offsets   []int
	numParams int
}

func newProgram(problem *Problem) *program {
	prog := &program{problem: problem, offsets: make([]int, len(problem.blocks))}
	for i, pb := range problem.blocks {
		if pb.constant {
			prog.offsets[i] = -1
			continue
		}
		prog.offsets[i] = prog.numParams
		prog.free = append(prog.free, i)
		prog.numParams += len(pb.data)
	}
	return prog
}

// state copies the current parameter values into a fresh state vector.
func (prog *program) state() []float64 {
	x := make([]float64, prog.numParams)
	for _, bi := range prog.free {
		copy(x[prog.offsets[bi]:], prog.problem.blocks[bi].data)
	}
	return x
}

// writeBack copies the state vector into the user's parameter blocks.
func (prog *program) writeBack(x []float64) {
	for _, bi := range prog.free {
		pb := prog.problem.blocks[bi]
		copy(pb.data, x[prog.offsets[bi]:prog.offsets[bi]+len(pb.data)])
	}
}

func (prog *program) blockValues(x []float64, pb *parameterBlock) []float64 {
	off := prog.offsets[pb.index]
	if off < 0 {
		return pb.data
	}
	return x[off : off+len(pb.data)]
}

// blockEvaluation is one residual block linearized at a state, after loss correction.
type blockEvaluation struct {
	residuals []float64
	// row major len(residuals) x numCols
	jacobian []float64
	numCols  int
	// problem block index and local column offset of each free parameter block
	freeBlocks []int
	colOffsets []int
	cost       float64
}

type evaluation struct {
	cost   float64
	blocks []blockEvaluation
}

// evaluate computes the cost at x and, if withJacobians is set, the corrected residuals and
// numeric Jacobians of every residual block. ok is false if any cost function fails.
func (prog *program) evaluate(ctx context.Context, x []float64, withJacobians bool, numThreads int) (*evaluation, bool, error) {
	residualBlocks := prog.problem.residuals
	eval := &evaluation{blocks: make([]blockEvaluation, len(residualBlocks))}
	failed := make([]bool, len(residualBlocks))

	err := utils.ParallelFor(ctx, numThreads, len(residualBlocks), func(ctx context.Context, i int) error {
		failed[i] = !prog.evaluateBlock(x, residualBlocks[i], withJacobians, &eval.blocks[i])
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	for i := range residualBlocks {
		if failed[i] {
			return nil, false, nil
		}
		eval.cost += eval.blocks[i].cost
	}
	return eval, true, nil
}

func (prog *program) evaluateBlock(x []float64, rb *residualBlock, withJacobian bool, out *blockEvaluation) bool {
	params := make([][]float64, len(rb.blocks))
	for i, pb := range rb.blocks {
		params[i] = prog.blockValues(x, pb)
	}
	residuals := make([]float64, rb.cost.NumResiduals())
	if !rb.cost.Evaluate(params, residuals) {
		return false
	}
	s := 0.0
	for _, r := range residuals {
		s += r * r
	}
	rho := [3]float64{s, 1, 0}
	if rb.loss != nil {
		rho = rb.loss.Evaluate(s)
	}
	out.cost = 0.5 * rho[0]
	if !withJacobian {
		out.residuals = residuals
		return true
	}

	local := []float64{}
	for i, pb := range rb.blocks {
		if prog.offsets[pb.index] < 0 {
			continue
		}
		out.freeBlocks = append(out.freeBlocks, pb.index)
		out.colOffsets = append(out.colOffsets, len(local))
		local = append(local, params[i]...)
	}
	out.numCols = len(local)

	if out.numCols > 0 {
		jac := mat.NewDense(len(residuals), out.numCols, nil)
		ok := true
		scratch := make([][]float64, len(params))
		copy(scratch, params)
		fd.Jacobian(jac, func(y, xl []float64) {
			k := 0
			for i, pb := range rb.blocks {
				if prog.offsets[pb.index] < 0 {
					continue
				}
				scratch[i] = xl[out.colOffsets[k] : out.colOffsets[k]+len(pb.data)]
				k++
			}
			if !rb.cost.Evaluate(scratch, y) {
				ok = false
			}
		}, local, &fd.JacobianSettings{Formula: fd.Central})
		if !ok {
			return false
		}
		out.jacobian = jac.RawMatrix().Data
	}

	if rb.loss != nil {
		c := newCorrection(s, rho)
		if out.numCols > 0 {
			c.correctJacobian(residuals, out.jacobian, out.numCols)
		}
		c.correctResiduals(residuals)
	}
	out.residuals = residuals
	return true
}

// gradient returns J^T r over the state.
func (prog *program) gradient(eval *evaluation) []float64 {
	g := make([]float64, prog.numParams)
	for _, be := range eval.blocks {
		for k, bi := range be.freeBlocks {
			size := len(prog.problem.blocks[bi].data)
			off := prog.offsets[bi]
			for c := 0; c < size; c++ {
				col := be.colOffsets[k] + c
				sum := 0.0
				for row, r := range be.residuals {
					sum += be.jacobian[row*be.numCols+col] * r
				}
				g[off+c] += sum
			}
		}
	}
	return g
}

// modelCostChange is the decrease of the Gauss-Newton model cost for step delta,
// -(r^T J delta + 1/2 |J delta|^2).
func (prog *program) modelCostChange(eval *evaluation, delta []float64) float64 {
	change := 0.0
	for _, be := range eval.blocks {
		for row, r := range be.residuals {
			jd := 0.0
			for k, bi := range be.freeBlocks {
				size := len(prog.problem.blocks[bi].data)
				off := prog.offsets[bi]
				rowStart := row*be.numCols + be.colOffsets[k]
				for c := 0; c < size; c++ {
					jd += be.jacobian[rowStart+c] * delta[off+c]
				}
			}
			change -= r*jd + 0.5*jd*jd
		}
	}
	return change
}
