package render

import (
	"fmt"
	"strings"

	"blockgraph/internal/cfg"
)

// Summary describes g as markdown: a metrics table followed by one row per
// block.
func Summary(g *cfg.CFG, opts Options) string {
	edges := g.Edges()
	dangling := g.Dangling()

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", opts.name())
	b.WriteString("| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Entry | `0x%x` |\n", g.Entry)
	fmt.Fprintf(&b, "| Blocks | %d |\n", len(g.Blocks))
	fmt.Fprintf(&b, "| Instructions | %d |\n", g.NumInstructions())
	fmt.Fprintf(&b, "| Edges | %d |\n", len(edges))
	fmt.Fprintf(&b, "| Dangling | %d |\n", len(dangling))

	if len(g.Blocks) > 0 {
		b.WriteString("\n## Blocks\n\n")
		b.WriteString("| Start | End | Insts | Preds | Successors |\n|---|---|---|---|---|\n")
		for _, start := range g.Starts() {
			bb := g.Blocks[start]
			name := fmt.Sprintf("`0x%x`", start)
			if sym := opts.symbolAt(start); sym != "" {
				name += " " + sym
			}
			fmt.Fprintf(&b, "| %s | `0x%x` | %d | %d | %s |\n",
				name, bb.End(), len(bb.Insts), len(bb.Preds), addrList(bb.Successors()))
		}
	}

	if len(dangling) > 0 {
		b.WriteString("\n## Dangling targets\n\n")
		for _, a := range dangling {
			fmt.Fprintf(&b, "- `0x%x`\n", a)
		}
	}
	return b.String()
}

func addrList(as []uint64) string {
	if len(as) == 0 {
		return "-"
	}
	parts := make([]string, len(as))
	for i, a := range as {
		parts[i] = fmt.Sprintf("`0x%x`", a)
	}
	return strings.Join(parts, ", ")
}
