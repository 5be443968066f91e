package nlls

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"gonum.org/v1/gonum/floats"

	"go.viam.com/sfm/logging"
)

// LinearSolverType selects how each trust region step is computed. Both types factor their final
// system as a dense matrix.
type LinearSolverType int

const (
	// SparseNormalCholesky factors the damped normal equations over all free parameters.
	SparseNormalCholesky LinearSolverType = iota
	// SparseSchur eliminates the lowest ordering group first, block by block, and factors the
	// reduced camera system densely.
	SparseSchur
)

func (t LinearSolverType) String() string {
	switch t {
	case SparseNormalCholesky:
		return "SPARSE_NORMAL_CHOLESKY"
	case SparseSchur:
		return "SPARSE_SCHUR"
	default:
		return "UNKNOWN"
	}
}

// TerminationType describes why a solve stopped.
type TerminationType int

const (
	// Convergence means one of the tolerances was met.
	Convergence TerminationType = iota
	// NoConvergence means the iteration limit was reached.
	NoConvergence
	// Failure means the solver could not make progress or was canceled; parameters hold the last
	// accepted state.
	Failure
)

func (t TerminationType) String() string {
	switch t {
	case Convergence:
		return "CONVERGENCE"
	case NoConvergence:
		return "NO_CONVERGENCE"
	case Failure:
		return "FAILURE"
	default:
		return "UNKNOWN"
	}
}

// SolverOptions configures Solve.
type SolverOptions struct {
	MaxNumIterations int
	NumThreads       int
	LinearSolverType LinearSolverType
	// Ordering is required by SparseSchur.
	Ordering *ParameterBlockOrdering

	FunctionTolerance        float64
	GradientTolerance        float64
	ParameterTolerance       float64
	InitialTrustRegionRadius float64
	MaxTrustRegionRadius     float64
	MinTrustRegionRadius     float64
	MinRelativeDecrease      float64
	MinLMDiagonal            float64
	MaxLMDiagonal            float64
	// MaxNumConsecutiveInvalidSteps bounds failed linear solves or evaluations in a row.
	MaxNumConsecutiveInvalidSteps int

	// Logger receives per-iteration progress at debug level if set.
	Logger logging.Logger
}

// DefaultSolverOptions returns the default solver settings.
func DefaultSolverOptions() SolverOptions {
	return SolverOptions{
		MaxNumIterations:              50,
		NumThreads:                    1,
		LinearSolverType:              SparseNormalCholesky,
		FunctionTolerance:             1e-6,
		GradientTolerance:             1e-10,
		ParameterTolerance:            1e-8,
		InitialTrustRegionRadius:      1e4,
		MaxTrustRegionRadius:          1e16,
		MinTrustRegionRadius:          1e-32,
		MinRelativeDecrease:           1e-3,
		MinLMDiagonal:                 1e-6,
		MaxLMDiagonal:                 1e32,
		MaxNumConsecutiveInvalidSteps: 5,
	}
}

// fillDefaults replaces unset numeric options with their defaults.
func (opts *SolverOptions) fillDefaults() {
	def := DefaultSolverOptions()
	if opts.MaxNumIterations <= 0 {
		opts.MaxNumIterations = def.MaxNumIterations
	}
	if opts.NumThreads <= 0 {
		opts.NumThreads = def.NumThreads
	}
	setIfZero := func(v *float64, d float64) {
		if *v <= 0 {
			*v = d
		}
	}
	setIfZero(&opts.FunctionTolerance, def.FunctionTolerance)
	setIfZero(&opts.GradientTolerance, def.GradientTolerance)
	setIfZero(&opts.ParameterTolerance, def.ParameterTolerance)
	setIfZero(&opts.InitialTrustRegionRadius, def.InitialTrustRegionRadius)
	setIfZero(&opts.MaxTrustRegionRadius, def.MaxTrustRegionRadius)
	setIfZero(&opts.MinTrustRegionRadius, def.MinTrustRegionRadius)
	setIfZero(&opts.MinRelativeDecrease, def.MinRelativeDecrease)
	setIfZero(&opts.MinLMDiagonal, def.MinLMDiagonal)
	setIfZero(&opts.MaxLMDiagonal, def.MaxLMDiagonal)
	if opts.MaxNumConsecutiveInvalidSteps <= 0 {
		opts.MaxNumConsecutiveInvalidSteps = def.MaxNumConsecutiveInvalidSteps
	}
}

// Summary reports what happened during a solve.
type Summary struct {
	InitialCost          float64
	FinalCost            float64
	Iterations           int
	NumSuccessfulSteps   int
	NumUnsuccessfulSteps int
	Termination          TerminationType
	Message              string

	LinearSolverTypeGiven LinearSolverType
	LinearSolverTypeUsed  LinearSolverType
	NumParameterBlocks    int
	NumParameters         int
	NumFreeParameters     int
	NumResidualBlocks     int
	NumResiduals          int
	NumThreads            int
	TotalTime             time.Duration
}

// IsSolutionUsable reports whether the parameters hold a valid (if possibly unconverged) solution.
func (s *Summary) IsSolutionUsable() bool {
	return s.Termination == Convergence || s.Termination == NoConvergence
}

// BriefReport is a one line summary.
func (s *Summary) BriefReport() string {
	return fmt.Sprintf("LM: iterations %d, initial cost %e, final cost %e, termination %s",
		s.Iterations, s.InitialCost, s.FinalCost, s.Termination)
}

// FullReport renders the summary as a table.
func (s *Summary) FullReport() string {
	t := table.NewWriter()
	t.SetTitle("Solver Summary")
	t.AppendHeader(table.Row{"", "Value"})
	t.AppendRows([]table.Row{
		{"Parameter blocks", s.NumParameterBlocks},
		{"Parameters", s.NumParameters},
		{"Free parameters", s.NumFreeParameters},
		{"Residual blocks", s.NumResidualBlocks},
		{"Residuals", s.NumResiduals},
		{"Linear solver (given)", s.LinearSolverTypeGiven},
		{"Linear solver (used)", s.LinearSolverTypeUsed},
		{"Threads", s.NumThreads},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Initial cost", fmt.Sprintf("%e", s.InitialCost)},
		{"Final cost", fmt.Sprintf("%e", s.FinalCost)},
		{"Change", fmt.Sprintf("%e", s.InitialCost-s.FinalCost)},
		{"Successful steps", s.NumSuccessfulSteps},
		{"Unsuccessful steps", s.NumUnsuccessfulSteps},
		{"Total time", s.TotalTime},
	})
	t.AppendSeparator()
	t.AppendRow(table.Row{"Termination", fmt.Sprintf("%s (%s)", s.Termination, s.Message)})
	return t.Render()
}

// Solve minimizes the problem's cost with Levenberg-Marquardt, writing the result into the
// parameter blocks. Parameters are only written back from accepted states, so they are valid for
// every termination type.
func Solve(ctx context.Context, opts SolverOptions, problem *Problem) *Summary {
	start := time.Now()
	opts.fillDefaults()
	summary := &Summary{
		LinearSolverTypeGiven: opts.LinearSolverType,
		LinearSolverTypeUsed:  opts.LinearSolverType,
		NumParameterBlocks:    problem.NumParameterBlocks(),
		NumParameters:         problem.NumParameters(),
		NumResidualBlocks:     problem.NumResidualBlocks(),
		NumResiduals:          problem.NumResiduals(),
		NumThreads:            opts.NumThreads,
	}
	defer func() {
		summary.TotalTime = time.Since(start)
	}()

	prog := newProgram(problem)
	summary.NumFreeParameters = prog.numParams

	var solver linearSolver = normalCholeskySolver{}
	if opts.LinearSolverType == SparseSchur {
		schur, err := newSchurSolver(prog, opts.Ordering)
		if err != nil {
			if opts.Logger != nil {
				opts.Logger.Debugf("falling back to %s: %v", SparseNormalCholesky, err)
			}
			summary.LinearSolverTypeUsed = SparseNormalCholesky
		} else {
			solver = schur
		}
	}

	x := prog.state()
	eval, ok, err := prog.evaluate(ctx, x, true, opts.NumThreads)
	if err != nil {
		summary.Termination = Failure
		summary.Message = err.Error()
		return summary
	}
	if !ok {
		summary.Termination = Failure
		summary.Message = "residual evaluation failed at the initial point"
		return summary
	}
	summary.InitialCost = eval.cost
	summary.FinalCost = eval.cost

	if prog.numParams == 0 || problem.NumResidualBlocks() == 0 {
		summary.Termination = Convergence
		summary.Message = "no free parameters or residual blocks"
		return summary
	}

	ne := buildNormalEquations(prog, eval)
	if floats.Norm(ne.gradient, math.Inf(1)) <= opts.GradientTolerance {
		summary.Termination = Convergence
		summary.Message = "gradient tolerance reached at the initial point"
		return summary
	}

	mu := opts.InitialTrustRegionRadius
	decreaseFactor := 2.0
	invalidSteps := 0
	finish := func(termination TerminationType, msg string) *Summary {
		prog.writeBack(x)
		summary.FinalCost = eval.cost
		summary.Termination = termination
		summary.Message = msg
		return summary
	}

	for summary.Iterations < opts.MaxNumIterations {
		if err := ctx.Err(); err != nil {
			return finish(Failure, err.Error())
		}
		summary.Iterations++

		d := ne.lmDiagonal(opts.MinLMDiagonal, opts.MaxLMDiagonal)
		delta, solved := solver.solve(ne, 1/mu, d)
		if !solved || !allFinite(delta) {
			summary.NumUnsuccessfulSteps++
			invalidSteps++
			if invalidSteps >= opts.MaxNumConsecutiveInvalidSteps {
				return finish(Failure, "too many consecutive invalid steps")
			}
			mu /= decreaseFactor
			decreaseFactor *= 2
			continue
		}

		xNorm := floats.Norm(x, 2)
		if floats.Norm(delta, 2) <= opts.ParameterTolerance*(xNorm+opts.ParameterTolerance) {
			return finish(Convergence, "parameter tolerance reached")
		}

		candidate := make([]float64, len(x))
		floats.AddTo(candidate, x, delta)
		candidateEval, ok, err := prog.evaluate(ctx, candidate, false, opts.NumThreads)
		if err != nil {
			return finish(Failure, err.Error())
		}
		if !ok {
			summary.NumUnsuccessfulSteps++
			invalidSteps++
			if invalidSteps >= opts.MaxNumConsecutiveInvalidSteps {
				return finish(Failure, "too many consecutive invalid steps")
			}
			mu /= decreaseFactor
			decreaseFactor *= 2
			continue
		}
		invalidSteps = 0

		modelChange := prog.modelCostChange(eval, delta)
		costChange := eval.cost - candidateEval.cost
		rho := math.Inf(-1)
		if modelChange > 0 {
			rho = costChange / modelChange
		}
		if opts.Logger != nil {
			opts.Logger.Debugf("iter %3d cost %e cost_change %e |step| %e rho %e radius %e",
				summary.Iterations, candidateEval.cost, costChange, floats.Norm(delta, 2), rho, mu)
		}
		if rho <= opts.MinRelativeDecrease {
			summary.NumUnsuccessfulSteps++
			mu /= decreaseFactor
			decreaseFactor *= 2
			if mu < opts.MinTrustRegionRadius {
				return finish(Convergence, "minimum trust region radius reached")
			}
			continue
		}

		summary.NumSuccessfulSteps++
		previousCost := eval.cost
		x = candidate
		eval, ok, err = prog.evaluate(ctx, x, true, opts.NumThreads)
		if err != nil || !ok {
			// the accepted point evaluates, but a perturbed one or the context may not
			msg := "jacobian evaluation failed"
			if err != nil {
				msg = err.Error()
			}
			eval = &evaluation{cost: candidateEval.cost}
			return finish(Failure, msg)
		}
		ne = buildNormalEquations(prog, eval)

		if math.Abs(costChange) <= opts.FunctionTolerance*previousCost {
			return finish(Convergence, "function tolerance reached")
		}
		if floats.Norm(ne.gradient, math.Inf(1)) <= opts.GradientTolerance {
			return finish(Convergence, "gradient tolerance reached")
		}

		mu = math.Min(opts.MaxTrustRegionRadius, mu/math.Max(1.0/3.0, 1-math.Pow(2*rho-1, 3)))
		decreaseFactor = 2
	}
	return finish(NoConvergence, "maximum number of iterations reached")
}

func allFinite(v []float64) bool {
	for _, f := range v {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
