package render

import (
	"fmt"

	"github.com/zboralski/lattice"
	latrender "github.com/zboralski/lattice/render"

	"blockgraph/internal/cfg"
	"blockgraph/internal/disasm"
)

// Lattice converts g to a single-function lattice CFG. Blocks are ordered by
// start address and Start/End index the concatenated instruction list.
// Successors without a block are dropped; lattice has no dangling nodes.
func Lattice(g *cfg.CFG, opts Options) *lattice.CFGGraph {
	starts := g.Starts()
	ids := make(map[uint64]int, len(starts))
	for i, s := range starts {
		ids[s] = i
	}

	fn := &lattice.FuncCFG{Name: opts.name()}
	idx := 0
	for i, s := range starts {
		bb := g.Blocks[s]
		succs := bb.Successors()
		lb := &lattice.BasicBlock{
			ID:    i,
			Start: idx,
			End:   idx + len(bb.Insts),
			Term:  len(succs) == 0,
		}
		for j, to := range succs {
			id, ok := ids[to]
			if !ok {
				continue
			}
			lb.Succs = append(lb.Succs, lattice.Successor{
				BlockID: id,
				Cond:    branchCond(len(succs), j),
			})
		}
		for k, ins := range bb.Insts {
			c, ok := ins.(disasm.Caller)
			if !ok {
				continue
			}
			for _, target := range c.CallTargets() {
				lb.Calls = append(lb.Calls, lattice.CallSite{
					Offset: idx + k,
					Callee: calleeName(target, opts),
				})
			}
		}
		idx += len(bb.Insts)
		fn.Blocks = append(fn.Blocks, lb)
	}
	return &lattice.CFGGraph{Funcs: []*lattice.FuncCFG{fn}}
}

// LatticeDOT renders g through the lattice CFG renderer.
func LatticeDOT(g *cfg.CFG, opts Options) string {
	return latrender.DOTCFG(Lattice(g, opts), opts.name())
}

// branchCond labels two-way successors: decoders list the fall-through
// first and the taken target second.
func branchCond(n, i int) string {
	if n != 2 {
		return ""
	}
	if i == 0 {
		return "F"
	}
	return "T"
}

func calleeName(addr uint64, opts Options) string {
	if sym := opts.symbolAt(addr); sym != "" {
		return sym
	}
	return fmt.Sprintf("sub_%x", addr)
}
