package render

import (
	"fmt"
	"strings"

	"github.com/emicklei/dot"

	"blockgraph/internal/cfg"
)

// DOT renders g as a Graphviz digraph. Each block is a box whose label
// lists the block header and one instruction per left-justified line.
func DOT(g *cfg.CFG, opts Options) string {
	gr := dot.NewGraph(dot.Directed)
	gr.Attr("label", opts.name())
	gr.Attr("labelloc", "t")

	nodes := make(map[uint64]dot.Node, len(g.Blocks))
	for _, start := range g.Starts() {
		bb := g.Blocks[start]
		n := gr.Node(nodeID(start)).Box()
		n.Attr("label", dot.Literal(`"`+blockLabel(bb, opts)+`"`))
		n.Attr("fontname", "monospace")
		if start == g.Entry {
			n.Attr("penwidth", "2")
		}
		nodes[start] = n
	}

	for _, e := range g.Edges() {
		to, ok := nodes[e.To]
		if !ok {
			if opts.OmitDangling {
				continue
			}
			to = gr.Node(nodeID(e.To)).Box()
			to.Attr("label", fmt.Sprintf("0x%x", e.To))
			to.Attr("style", "dashed")
			nodes[e.To] = to
		}
		edge := gr.Edge(nodes[e.From], to)
		if len(g.Blocks[e.From].Successors()) > 1 && e.To != fallThrough(g.Blocks[e.From]) {
			edge.Attr("color", "darkgreen")
		}
	}
	return gr.String()
}

// nodeID names the node of the block at addr.
func nodeID(addr uint64) string {
	return fmt.Sprintf("N%x", addr)
}

// blockLabel is the escaped label text: header plus one instruction per
// line, every line terminated by \l.
func blockLabel(bb *cfg.BasicBlock, opts Options) string {
	var b strings.Builder
	b.WriteString(dotEscape(blockHeader(bb, opts)))
	b.WriteString(`\l`)
	for _, ins := range bb.Insts {
		b.WriteString("  ")
		b.WriteString(dotEscape(ins.String()))
		b.WriteString(`\l`)
	}
	return b.String()
}

// fallThrough returns the address right after the block's last instruction.
func fallThrough(bb *cfg.BasicBlock) uint64 {
	return bb.End()
}

// dotEscape escapes a string for use inside a quoted DOT label.
func dotEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	s = strings.ReplaceAll(s, "\n", `\l`)
	return s
}
