package nlls

import (
	"github.com/pkg/errors"
)

// parameterBlock is a user owned slice the solver reads and writes in place.
type parameterBlock struct {
	data     []float64
	constant bool
	// index into Problem.blocks
	index int
}

type residualBlock struct {
	cost   CostFunction
	loss   LossFunction
	blocks []*parameterBlock
}

// Problem is a collection of parameter blocks and the residual blocks that depend on them. Blocks
// are identified by the address of their first element, so the same slice must be passed every time
// a block is referenced.
type Problem struct {
	blocks    []*parameterBlock
	byAddress map[*float64]*parameterBlock
	residuals []*residualBlock
}

// NewProblem returns an empty problem.
func NewProblem() *Problem {
	return &Problem{byAddress: map[*float64]*parameterBlock{}}
}

// AddParameterBlock registers block. Adding the same block twice is a no-op.
func (p *Problem) AddParameterBlock(block []float64) error {
	_, err := p.addParameterBlock(block)
	return err
}

func (p *Problem) addParameterBlock(block []float64) (*parameterBlock, error) {
	if len(block) == 0 {
		return nil, errors.New("parameter block must not be empty")
	}
	if existing, ok := p.byAddress[&block[0]]; ok {
		if len(existing.data) != len(block) {
			return nil, errors.Errorf("parameter block re-added with size %d, was %d", len(block), len(existing.data))
		}
		return existing, nil
	}
	pb := &parameterBlock{data: block, index: len(p.blocks)}
	p.blocks = append(p.blocks, pb)
	p.byAddress[&block[0]] = pb
	return pb, nil
}

// AddResidualBlock adds a residual block evaluated by cost over blocks, robustified by loss. A nil
// loss is the plain squared norm. Unknown parameter blocks are added implicitly.
func (p *Problem) AddResidualBlock(cost CostFunction, loss LossFunction, blocks ...[]float64) error {
	if cost == nil {
		return errors.New("cost function is required")
	}
	sizes := cost.ParameterBlockSizes()
	if len(sizes) != len(blocks) {
		return errors.Errorf("cost function expects %d parameter blocks, got %d", len(sizes), len(blocks))
	}
	if cost.NumResiduals() <= 0 {
		return errors.New("cost function must have at least one residual")
	}
	rb := &residualBlock{cost: cost, loss: loss}
	seen := map[*parameterBlock]struct{}{}
	for i, block := range blocks {
		if len(block) != sizes[i] {
			return errors.Errorf("parameter block %d has size %d, cost function expects %d", i, len(block), sizes[i])
		}
		pb, err := p.addParameterBlock(block)
		if err != nil {
			return err
		}
		if _, ok := seen[pb]; ok {
			return errors.Errorf("parameter block %d appears more than once in the residual block", i)
		}
		seen[pb] = struct{}{}
		rb.blocks = append(rb.blocks, pb)
	}
	p.residuals = append(p.residuals, rb)
	return nil
}

// SetParameterBlockConstant holds block fixed during the solve.
func (p *Problem) SetParameterBlockConstant(block []float64) error {
	pb, err := p.lookup(block)
	if err != nil {
		return err
	}
	pb.constant = true
	return nil
}

// SetParameterBlockVariable undoes SetParameterBlockConstant.
func (p *Problem) SetParameterBlockVariable(block []float64) error {
	pb, err := p.lookup(block)
	if err != nil {
		return err
	}
	pb.constant = false
	return nil
}

// IsParameterBlockConstant reports whether block is held fixed.
func (p *Problem) IsParameterBlockConstant(block []float64) bool {
	pb, err := p.lookup(block)
	return err == nil && pb.constant
}

// HasParameterBlock reports whether block belongs to the problem.
func (p *Problem) HasParameterBlock(block []float64) bool {
	_, err := p.lookup(block)
	return err == nil
}

func (p *Problem) lookup(block []float64) (*parameterBlock, error) {
	if len(block) == 0 {
		return nil, errors.New("parameter block must not be empty")
	}
	pb, ok := p.byAddress[&block[0]]
	if !ok {
		return nil, errors.New("parameter block is not part of the problem")
	}
	return pb, nil
}

// NumParameterBlocks returns the number of parameter blocks.
func (p *Problem) NumParameterBlocks() int {
	return len(p.blocks)
}

// NumParameters returns the total size of all parameter blocks.
func (p *Problem) NumParameters() int {
	n := 0
	for _, pb := range p.blocks {
		n += len(pb.data)
	}
	return n
}

// NumResidualBlocks returns the number of residual blocks.
func (p *Problem) NumResidualBlocks() int {
	return len(p.residuals)
}

// NumResiduals returns the total number of residuals.
func (p *Problem) NumResiduals() int {
	n := 0
	for _, rb := range p.residuals {
		n += rb.cost.NumResiduals()
	}
	return n
}

// Cost returns 1/2 sum rho(|r|^2) at the current parameter values. ok is false if any residual
// block fails to evaluate.
func (p *Problem) Cost() (float64, bool) {
	total := 0.0
	for _, rb := range p.residuals {
		params := make([][]float64, len(rb.blocks))
		for i, pb := range rb.blocks {
			params[i] = pb.data
		}
		residuals := make([]float64, rb.cost.NumResiduals())
		if !rb.cost.Evaluate(params, residuals) {
			return 0, false
		}
		total += rb.blockCost(residuals)
	}
	return total, true
}

func (rb *residualBlock) blockCost(residuals []float64) float64 {
	s := 0.0
	for _, r := range residuals {
		s += r * r
	}
	if rb.loss == nil {
		return 0.5 * s
	}
	return 0.5 * rb.loss.Evaluate(s)[0]
}
