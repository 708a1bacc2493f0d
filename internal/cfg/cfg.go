// Package cfg builds a basic-block control flow graph from an instruction
// stream. All relationships are address-valued lookups: blocks, predecessors
// and successors are keyed by virtual address.
package cfg

import (
	"fmt"
	"slices"
	"strings"

	"blockgraph/internal/disasm"
)

// BasicBlock is a straight-line run of instructions with a single entry.
// Only the first instruction may have more than one predecessor.
type BasicBlock struct {
	Start uint64               // address of the first instruction
	Insts []disasm.Instruction // in control-flow order
	Preds []uint64             // predecessor instruction addresses of Start, ascending
}

// Last returns the final instruction of the block.
func (bb *BasicBlock) Last() disasm.Instruction {
	return bb.Insts[len(bb.Insts)-1]
}

// Successors returns the successor addresses of the final instruction.
func (bb *BasicBlock) Successors() []uint64 {
	if len(bb.Insts) == 0 {
		return nil
	}
	return bb.Last().Successors()
}

// End returns the address immediately after the block's final instruction.
func (bb *BasicBlock) End() uint64 {
	last := bb.Last()
	return last.Address() + uint64(len(last.Bytes()))
}

// Contains reports whether an instruction of the block starts at addr.
func (bb *BasicBlock) Contains(addr uint64) bool {
	for _, ins := range bb.Insts {
		if ins.Address() == addr {
			return true
		}
	}
	return false
}

// String renders the block as its header line followed by one indented
// line per instruction.
func (bb *BasicBlock) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "0x%x:\n", bb.Start)
	for _, ins := range bb.Insts {
		fmt.Fprintf(&b, "  %s\n", ins)
	}
	return b.String()
}

// Edge is a control-flow edge from a block to a successor address. The
// target may have no block (a dangling edge).
type Edge struct {
	From uint64
	To   uint64
}

// CFG is the block-level graph reachable from Entry.
type CFG struct {
	Entry  uint64
	Blocks map[uint64]*BasicBlock
}

// Build groups the instructions of stream into basic blocks starting from
// entry. Blocks are split where a successor is reachable from more than one
// instruction and where an instruction has zero or several successors.
func Build(stream disasm.Stream, entry uint64) *CFG {
	preds := predecessors(stream)

	g := &CFG{Entry: entry, Blocks: make(map[uint64]*BasicBlock)}
	placed := make(map[uint64]bool, len(stream))
	queue := []uint64{entry}

	for len(queue) > 0 {
		addr := queue[len(queue)-1]
		queue = queue[:len(queue)-1]

		if _, seen := g.Blocks[addr]; seen || placed[addr] {
			continue
		}
		first, ok := stream[addr]
		if !ok {
			continue // dangling target
		}

		bb := &BasicBlock{
			Start: addr,
			Insts: []disasm.Instruction{first},
			Preds: preds[addr],
		}
		placed[addr] = true

		for {
			succs := bb.Last().Successors()
			if len(succs) != 1 {
				break
			}
			next := succs[0]
			ins, ok := stream[next]
			if !ok || next == entry || placed[next] || len(preds[next]) > 1 {
				break
			}
			bb.Insts = append(bb.Insts, ins)
			placed[next] = true
		}

		for _, next := range bb.Successors() {
			if _, seen := g.Blocks[next]; !seen {
				queue = append(queue, next)
			}
		}
		g.Blocks[addr] = bb
	}
	return g
}

// predecessors maps every successor address to the distinct instructions
// that list it, ascending.
func predecessors(stream disasm.Stream) map[uint64][]uint64 {
	preds := make(map[uint64][]uint64)
	for _, addr := range stream.Addresses() {
		for _, next := range stream[addr].Successors() {
			if !slices.Contains(preds[next], addr) {
				preds[next] = append(preds[next], addr)
			}
		}
	}
	return preds
}

// Starts returns the block start addresses in ascending order.
func (g *CFG) Starts() []uint64 {
	starts := make([]uint64, 0, len(g.Blocks))
	for a := range g.Blocks {
		starts = append(starts, a)
	}
	slices.Sort(starts)
	return starts
}

// Block returns the block starting at addr.
func (g *CFG) Block(addr uint64) (*BasicBlock, bool) {
	bb, ok := g.Blocks[addr]
	return bb, ok
}

// BlockOf returns the block containing an instruction at addr.
func (g *CFG) BlockOf(addr uint64) (*BasicBlock, bool) {
	if bb, ok := g.Blocks[addr]; ok {
		return bb, true
	}
	for _, bb := range g.Blocks {
		if bb.Contains(addr) {
			return bb, true
		}
	}
	return nil, false
}

// Edges returns one edge per successor of each block's final instruction,
// ordered by source block and then successor order.
func (g *CFG) Edges() []Edge {
	var edges []Edge
	for _, start := range g.Starts() {
		for _, to := range g.Blocks[start].Successors() {
			edges = append(edges, Edge{From: start, To: to})
		}
	}
	return edges
}

// Dangling returns the edge targets that have no block, ascending.
func (g *CFG) Dangling() []uint64 {
	var out []uint64
	for _, e := range g.Edges() {
		if _, ok := g.Blocks[e.To]; !ok && !slices.Contains(out, e.To) {
			out = append(out, e.To)
		}
	}
	slices.Sort(out)
	return out
}

// NumInstructions returns the total number of instructions over all blocks.
func (g *CFG) NumInstructions() int {
	n := 0
	for _, bb := range g.Blocks {
		n += len(bb.Insts)
	}
	return n
}
