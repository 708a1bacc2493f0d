package render

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"blockgraph/internal/cfg"
)

// Graph is the JSON document produced by JSON.
type Graph struct {
	Name     string   `json:"name"`
	Entry    string   `json:"entry"`
	Blocks   []Block  `json:"blocks"`
	Edges    []Edge   `json:"edges"`
	Dangling []string `json:"dangling"`
}

// Block is one basic block in a Graph.
type Block struct {
	Start        string        `json:"start"`
	End          string        `json:"end"`
	Symbol       string        `json:"symbol,omitempty"`
	Preds        []string      `json:"preds"`
	Succs        []string      `json:"succs"`
	Instructions []Instruction `json:"instructions"`
}

// Instruction is one decoded instruction in a Block.
type Instruction struct {
	Address string `json:"address"`
	Bytes   string `json:"bytes"`
	Text    string `json:"text"`
}

// Edge is a block-to-address edge in a Graph.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func hexAddr(a uint64) string { return fmt.Sprintf("0x%x", a) }

func hexAddrs(as []uint64) []string {
	out := make([]string, len(as))
	for i, a := range as {
		out[i] = hexAddr(a)
	}
	return out
}

// Document builds the JSON document model of g.
func Document(g *cfg.CFG, opts Options) Graph {
	doc := Graph{
		Name:     opts.name(),
		Entry:    hexAddr(g.Entry),
		Blocks:   []Block{},
		Edges:    []Edge{},
		Dangling: hexAddrs(g.Dangling()),
	}
	if opts.OmitDangling {
		doc.Dangling = []string{}
	}

	for _, start := range g.Starts() {
		bb := g.Blocks[start]
		b := Block{
			Start:        hexAddr(bb.Start),
			End:          hexAddr(bb.End()),
			Symbol:       opts.symbolAt(bb.Start),
			Preds:        hexAddrs(bb.Preds),
			Succs:        hexAddrs(bb.Successors()),
			Instructions: make([]Instruction, 0, len(bb.Insts)),
		}
		for _, ins := range bb.Insts {
			b.Instructions = append(b.Instructions, Instruction{
				Address: hexAddr(ins.Address()),
				Bytes:   hex.EncodeToString(ins.Bytes()),
				Text:    ins.String(),
			})
		}
		doc.Blocks = append(doc.Blocks, b)
	}

	for _, e := range g.Edges() {
		if _, ok := g.Blocks[e.To]; !ok && opts.OmitDangling {
			continue
		}
		doc.Edges = append(doc.Edges, Edge{From: hexAddr(e.From), To: hexAddr(e.To)})
	}
	return doc
}

// JSON renders g as indented JSON.
func JSON(g *cfg.CFG, opts Options) ([]byte, error) {
	b, err := json.MarshalIndent(Document(g, opts), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render: marshal json: %w", err)
	}
	return append(b, '\n'), nil
}
