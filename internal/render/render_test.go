package render

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/zboralski/lattice"

	"blockgraph/internal/cfg"
	"blockgraph/internal/disasm"
)

// sample builds:
//
//	0x1000: push ebp; je 0x1010      -> 0x1003, 0x1010
//	0x1003: call 0x3000; ret
//	0x1010: jmp 0x2000               -> 0x2000 (dangling)
func sample() *cfg.CFG {
	stream := disasm.Stream{
		0x1000: disasm.Inst{VA: 0x1000, Raw: []byte{0x55}, Op: "push", Args: "ebp", Succs: []uint64{0x1001}},
		0x1001: disasm.Inst{VA: 0x1001, Raw: []byte{0x74, 0x0d}, Op: "je", Args: "0x1010", Succs: []uint64{0x1003, 0x1010}},
		0x1003: disasm.Inst{VA: 0x1003, Raw: []byte{0xe8, 0xf8, 0x1f, 0x00, 0x00}, Op: "call", Args: "0x3000", Succs: []uint64{0x1008}, Calls: []uint64{0x3000}},
		0x1008: disasm.Inst{VA: 0x1008, Raw: []byte{0xc3}, Op: "ret"},
		0x1010: disasm.Inst{VA: 0x1010, Raw: []byte{0xe9, 0xeb, 0x0f, 0x00, 0x00}, Op: "jmp", Args: "0x2000", Succs: []uint64{0x2000}},
	}
	return cfg.Build(stream, 0x1000)
}

func symbols(addr uint64) (string, uint64) {
	switch {
	case addr >= 0x1000 && addr < 0x1020:
		return "main", 0x1000
	case addr == 0x3000:
		return "puts", 0x3000
	}
	return "", 0
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want Format
		ext  string
	}{
		{in: "", want: FormatDOT, ext: ".dot"},
		{in: "dot", want: FormatDOT, ext: ".dot"},
		{in: "LATTICE", want: FormatLattice, ext: ".dot"},
		{in: "json", want: FormatJSON, ext: ".json"},
		{in: "text", want: FormatText, ext: ".txt"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if err != nil {
				t.Fatalf("ParseFormat(%q): %v", tt.in, err)
			}
			if got != tt.want || got.Ext() != tt.ext {
				t.Errorf("ParseFormat(%q) = %q (%s), want %q (%s)", tt.in, got, got.Ext(), tt.want, tt.ext)
			}
		})
	}

	if _, err := ParseFormat("svg"); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("err = %v, want ErrUnknownFormat", err)
	}
}

func TestDOT(t *testing.T) {
	out := DOT(sample(), Options{})

	for _, want := range []string{
		"digraph",
		`0x1000:\l  push ebp\l  je 0x1010\l`,
		`0x1003:\l  call 0x3000\l  ret\l`,
		`0x1010:\l  jmp 0x2000\l`,
		"box",
		"dashed",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("DOT output missing %q:\n%s", want, out)
		}
	}
	if n := strings.Count(out, "->"); n != 3 {
		t.Errorf("edges = %d, want 3", n)
	}
}

func TestDOTOmitDangling(t *testing.T) {
	out := DOT(sample(), Options{OmitDangling: true})
	if strings.Contains(out, "dashed") {
		t.Error("dangling stub node rendered")
	}
	if n := strings.Count(out, "->"); n != 2 {
		t.Errorf("edges = %d, want 2", n)
	}
}

func TestDOTSymbolsAndEscaping(t *testing.T) {
	stream := disasm.Stream{
		0x1000: disasm.Inst{VA: 0x1000, Raw: []byte{0x90}, Op: "mov", Args: `al, "x"`},
	}
	out := DOT(cfg.Build(stream, 0x1000), Options{Symbols: symbols})
	if !strings.Contains(out, `0x1000 <main>:\l  mov al, \"x\"\l`) {
		t.Errorf("label not escaped or symbol missing:\n%s", out)
	}
}

func TestLattice(t *testing.T) {
	g := Lattice(sample(), Options{Name: "sample"})
	if len(g.Funcs) != 1 || g.Funcs[0].Name != "sample" {
		t.Fatalf("funcs = %+v", g.Funcs)
	}
	blocks := g.Funcs[0].Blocks
	if len(blocks) != 3 {
		t.Fatalf("blocks = %d, want 3", len(blocks))
	}

	b0 := blocks[0]
	if b0.Start != 0 || b0.End != 2 || b0.Term {
		t.Errorf("B0 = %+v", b0)
	}
	if diff := cmp.Diff([]lattice.Successor{{BlockID: 1, Cond: "F"}, {BlockID: 2, Cond: "T"}}, b0.Succs); diff != "" {
		t.Errorf("B0 succs mismatch (-want +got):\n%s", diff)
	}

	b1 := blocks[1]
	if b1.Start != 2 || b1.End != 4 || !b1.Term {
		t.Errorf("B1 = %+v", b1)
	}
	if len(b1.Calls) != 1 || b1.Calls[0].Offset != 2 || b1.Calls[0].Callee != "sub_3000" {
		t.Errorf("B1 calls = %+v", b1.Calls)
	}

	b2 := blocks[2]
	if b2.Term || len(b2.Succs) != 0 {
		t.Errorf("B2 = %+v, want non-terminal with its dangling successor dropped", b2)
	}

	named := Lattice(sample(), Options{Symbols: symbols})
	if c := named.Funcs[0].Blocks[1].Calls; len(c) != 1 || c[0].Callee != "puts" {
		t.Errorf("named calls = %+v", c)
	}

	if out := LatticeDOT(sample(), Options{}); out == "" {
		t.Error("expected non-empty lattice DOT output")
	}
}

func TestJSON(t *testing.T) {
	b, err := JSON(sample(), Options{Symbols: symbols})
	if err != nil {
		t.Fatalf("JSON: %v", err)
	}
	var doc Graph
	if err := json.Unmarshal(b, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if doc.Entry != "0x1000" || len(doc.Blocks) != 3 {
		t.Fatalf("doc = %+v", doc)
	}
	first := doc.Blocks[0]
	if first.Symbol != "main" || first.End != "0x1003" {
		t.Errorf("first block = %+v", first)
	}
	want := []Instruction{
		{Address: "0x1000", Bytes: "55", Text: "push ebp"},
		{Address: "0x1001", Bytes: "740d", Text: "je 0x1010"},
	}
	if diff := cmp.Diff(want, first.Instructions); diff != "" {
		t.Errorf("instructions mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"0x2000"}, doc.Dangling); diff != "" {
		t.Errorf("dangling mismatch (-want +got):\n%s", diff)
	}
	if len(doc.Edges) != 3 {
		t.Errorf("edges = %d, want 3", len(doc.Edges))
	}
	if diff := cmp.Diff([]string{"0x1001"}, doc.Blocks[1].Preds); diff != "" {
		t.Errorf("preds mismatch (-want +got):\n%s", diff)
	}
}

func TestText(t *testing.T) {
	want := "0x1000:\n  push ebp\n  je 0x1010\n" +
		"\n0x1003:\n  call 0x3000\n  ret\n" +
		"\n0x1010:\n  jmp 0x2000\n" +
		"; dangling 0x2000\n"
	if got := Text(sample(), Options{}); got != want {
		t.Errorf("Text() =\n%s\nwant\n%s", got, want)
	}

	if got := Text(sample(), Options{OmitDangling: true}); strings.Contains(got, "dangling") {
		t.Errorf("dangling listed with OmitDangling:\n%s", got)
	}
}

func TestSummary(t *testing.T) {
	md := Summary(sample(), Options{Name: "a.bin"})
	for _, want := range []string{
		"# a.bin",
		"| Blocks | 3 |",
		"| Instructions | 5 |",
		"| Edges | 3 |",
		"| Dangling | 1 |",
		"| `0x1003` | `0x1009` | 2 | 1 | - |",
		"- `0x2000`",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("summary missing %q:\n%s", want, md)
		}
	}
}

func TestRender(t *testing.T) {
	for _, f := range []Format{FormatDOT, FormatLattice, FormatJSON, FormatText} {
		var buf bytes.Buffer
		if err := Render(&buf, sample(), f, Options{}); err != nil {
			t.Errorf("Render(%s): %v", f, err)
		}
		if buf.Len() == 0 {
			t.Errorf("Render(%s) wrote nothing", f)
		}
	}
	if err := Render(&bytes.Buffer{}, sample(), "svg", Options{}); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("err = %v, want ErrUnknownFormat", err)
	}
}
