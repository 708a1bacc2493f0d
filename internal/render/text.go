package render

import (
	"fmt"
	"strings"

	"blockgraph/internal/cfg"
	"blockgraph/internal/ui/colorize"
)

// Text renders the block listing: a header line per block followed by its
// instructions indented two spaces, blocks separated by a blank line.
// Dangling targets are listed as trailing comments.
func Text(g *cfg.CFG, opts Options) string {
	var b strings.Builder
	for i, start := range g.Starts() {
		if i > 0 {
			b.WriteByte('\n')
		}
		bb := g.Blocks[start]
		writeLine(&b, blockHeader(bb, opts), opts)
		for _, ins := range bb.Insts {
			writeLine(&b, "  "+ins.String(), opts)
		}
	}
	if !opts.OmitDangling {
		for _, addr := range g.Dangling() {
			writeLine(&b, fmt.Sprintf("; dangling 0x%x", addr), opts)
		}
	}
	return b.String()
}

func writeLine(b *strings.Builder, line string, opts Options) {
	if opts.Color {
		line = colorize.Line(line, opts.Arch)
	}
	b.WriteString(line)
	b.WriteByte('\n')
}
