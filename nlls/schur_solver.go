package nlls

import (
	"slices"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// schurSolver eliminates the parameter blocks of the lowest ordering group with the Schur
// complement. The eliminated blocks must not share residual blocks with each other, which makes
// their part of J^T J block diagonal and cheap to invert.
type schurSolver struct {
	eliminate []int
	keep      []int
	// offset into the reduced system per problem block, -1 if not kept
	reducedOffsets []int
	reducedSize    int
	// kept blocks sharing a residual block with each eliminated block
	neighbors map[int][]int
}

func newSchurSolver(prog *program, ordering *ParameterBlockOrdering) (*schurSolver, error) {
	if ordering == nil || ordering.NumElements() == 0 {
		return nil, errors.New("schur elimination requires a parameter block ordering")
	}
	groups := ordering.groupIDs()
	eliminateGroup := groups[0]

	s := &schurSolver{
		reducedOffsets: make([]int, len(prog.problem.blocks)),
		neighbors:      map[int][]int{},
	}
	isEliminated := make([]bool, len(prog.problem.blocks))
	for _, bi := range prog.free {
		pb := prog.problem.blocks[bi]
		s.reducedOffsets[bi] = -1
		if g, ok := ordering.group(pb); ok && g == eliminateGroup && len(groups) > 1 {
			isEliminated[bi] = true
			s.eliminate = append(s.eliminate, bi)
			continue
		}
		s.reducedOffsets[bi] = s.reducedSize
		s.keep = append(s.keep, bi)
		s.reducedSize += len(pb.data)
	}
	for i, pb := range prog.problem.blocks {
		if pb.constant {
			s.reducedOffsets[i] = -1
		}
	}
	if len(s.eliminate) == 0 {
		return nil, errors.New("no free parameter blocks to eliminate")
	}

	seen := map[blockPair]struct{}{}
	for _, rb := range prog.problem.residuals {
		var eliminated []int
		var kept []int
		for _, pb := range rb.blocks {
			switch {
			case pb.constant:
			case isEliminated[pb.index]:
				eliminated = append(eliminated, pb.index)
			default:
				kept = append(kept, pb.index)
			}
		}
		if len(eliminated) > 1 {
			return nil, errors.New("eliminated parameter blocks share a residual block")
		}
		for _, e := range eliminated {
			for _, f := range kept {
				if _, ok := seen[blockPair{e, f}]; ok {
					continue
				}
				seen[blockPair{e, f}] = struct{}{}
				s.neighbors[e] = append(s.neighbors[e], f)
			}
		}
	}
	for e := range s.neighbors {
		slices.SortFunc(s.neighbors[e], func(a, b int) int {
			return prog.offsets[a] - prog.offsets[b]
		})
	}
	return s, nil
}

func (s *schurSolver) solve(ne *normalEquations, lambda float64, d []float64) ([]float64, bool) {
	prog := ne.prog
	blocks := prog.problem.blocks

	reduced := mat.NewDense(max(s.reducedSize, 1), max(s.reducedSize, 1), nil)
	rhs := make([]float64, s.reducedSize)
	for key, blk := range ne.blocks {
		ro, co := s.reducedOffsets[key.row], s.reducedOffsets[key.col]
		if ro < 0 || co < 0 {
			continue
		}
		addBlock(reduced, ro, co, blk)
		if key.row != key.col {
			addBlock(reduced, co, ro, blk.T())
		}
	}
	for _, f := range s.keep {
		off, ro := prog.offsets[f], s.reducedOffsets[f]
		for c := range blocks[f].data {
			reduced.Set(ro+c, ro+c, reduced.At(ro+c, ro+c)+lambda*d[off+c])
			rhs[ro+c] = -ne.gradient[off+c]
		}
	}

	inverses := make(map[int]*mat.Dense, len(s.eliminate))
	for _, e := range s.eliminate {
		se := len(blocks[e].data)
		off := prog.offsets[e]
		hee := mat.NewDense(se, se, nil)
		if blk := ne.block(e, e); blk != nil {
			hee.Copy(blk)
		}
		ge := mat.NewVecDense(se, nil)
		for c := 0; c < se; c++ {
			hee.Set(c, c, hee.At(c, c)+lambda*d[off+c])
			ge.SetVec(c, -ne.gradient[off+c])
		}
		var inv mat.Dense
		if err := inv.Inverse(hee); err != nil {
			var cond mat.Condition
			if !errors.As(err, &cond) {
				return nil, false
			}
		}
		inverses[e] = &inv

		nbrs := s.neighbors[e]
		// W_f H_ee^-1 for every neighbor f
		scaled := make([]*mat.Dense, len(nbrs))
		for a, f := range nbrs {
			var tmp mat.Dense
			tmp.Mul(ne.block(f, e), &inv)
			scaled[a] = &tmp
			var v mat.VecDense
			v.MulVec(&tmp, ge)
			ro := s.reducedOffsets[f]
			for c := 0; c < v.Len(); c++ {
				rhs[ro+c] -= v.AtVec(c)
			}
		}
		for a, fa := range nbrs {
			for _, fb := range nbrs {
				var prod mat.Dense
				prod.Mul(scaled[a], ne.block(e, fb))
				prod.Scale(-1, &prod)
				addBlock(reduced, s.reducedOffsets[fa], s.reducedOffsets[fb], &prod)
			}
		}
	}

	delta := make([]float64, prog.numParams)
	if s.reducedSize > 0 {
		deltaF, ok := choleskySolve(reduced, rhs)
		if !ok {
			return nil, false
		}
		for _, f := range s.keep {
			copy(delta[prog.offsets[f]:], deltaF[s.reducedOffsets[f]:s.reducedOffsets[f]+len(blocks[f].data)])
		}
	}

	for _, e := range s.eliminate {
		se := len(blocks[e].data)
		off := prog.offsets[e]
		v := mat.NewVecDense(se, nil)
		for c := 0; c < se; c++ {
			v.SetVec(c, -ne.gradient[off+c])
		}
		for _, f := range s.neighbors[e] {
			df := mat.NewVecDense(len(blocks[f].data), delta[prog.offsets[f]:prog.offsets[f]+len(blocks[f].data)])
			var w mat.VecDense
			w.MulVec(ne.block(e, f), df)
			v.SubVec(v, &w)
		}
		var de mat.VecDense
		de.MulVec(inverses[e], v)
		for c := 0; c < se; c++ {
			delta[off+c] = de.AtVec(c)
		}
	}
	return delta, true
}
