package cfg

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"blockgraph/internal/addrspace"
	"blockgraph/internal/disasm"
)

// mk creates a synthetic one-byte instruction at va with the given successors.
func mk(va uint64, succs ...uint64) disasm.Inst {
	return disasm.Inst{VA: va, Raw: []byte{0x90}, Op: "op", Args: "", Succs: succs}
}

func streamOf(insts ...disasm.Inst) disasm.Stream {
	s := make(disasm.Stream, len(insts))
	for _, in := range insts {
		s[in.VA] = in
	}
	return s
}

// blockAddrs lists the instruction addresses of a block.
func blockAddrs(bb *BasicBlock) []uint64 {
	var out []uint64
	for _, ins := range bb.Insts {
		out = append(out, ins.Address())
	}
	return out
}

// layout summarizes a CFG as start -> instruction addresses.
func layout(g *CFG) map[uint64][]uint64 {
	out := make(map[uint64][]uint64, len(g.Blocks))
	for start, bb := range g.Blocks {
		out[start] = blockAddrs(bb)
	}
	return out
}

func TestBuild_SingleReturn(t *testing.T) {
	g := Build(streamOf(mk(0x1000)), 0x1000)

	if len(g.Blocks) != 1 {
		t.Fatalf("blocks = %d, want 1", len(g.Blocks))
	}
	bb, ok := g.Block(0x1000)
	if !ok {
		t.Fatal("no block at entry")
	}
	if len(bb.Insts) != 1 {
		t.Errorf("insts = %d, want 1", len(bb.Insts))
	}
	if len(g.Edges()) != 0 {
		t.Errorf("edges = %d, want 0", len(g.Edges()))
	}
}

func TestBuild_Linear(t *testing.T) {
	g := Build(streamOf(mk(0x1000, 0x1001), mk(0x1001, 0x1002), mk(0x1002)), 0x1000)

	want := map[uint64][]uint64{0x1000: {0x1000, 0x1001, 0x1002}}
	if diff := cmp.Diff(want, layout(g)); diff != "" {
		t.Errorf("layout mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_Branch(t *testing.T) {
	g := Build(streamOf(mk(0x1000, 0x1001, 0x1010), mk(0x1001), mk(0x1010)), 0x1000)

	want := map[uint64][]uint64{
		0x1000: {0x1000},
		0x1001: {0x1001},
		0x1010: {0x1010},
	}
	if diff := cmp.Diff(want, layout(g)); diff != "" {
		t.Errorf("layout mismatch (-want +got):\n%s", diff)
	}
	wantEdges := []Edge{{From: 0x1000, To: 0x1001}, {From: 0x1000, To: 0x1010}}
	if diff := cmp.Diff(wantEdges, g.Edges()); diff != "" {
		t.Errorf("edges mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_JumpToUndecodable(t *testing.T) {
	// jmp to the next address, which failed to decode.
	g := Build(streamOf(mk(0x1000, 0x1002)), 0x1000)

	bb, ok := g.Block(0x1000)
	if !ok || len(bb.Insts) != 1 {
		t.Fatalf("entry block = %+v, want one instruction", bb)
	}
	if diff := cmp.Diff([]Edge{{From: 0x1000, To: 0x1002}}, g.Edges()); diff != "" {
		t.Errorf("edges mismatch (-want +got):\n%s", diff)
	}
	if _, ok := g.Block(0x1002); ok {
		t.Error("dangling target has a block")
	}
	if diff := cmp.Diff([]uint64{0x1002}, g.Dangling()); diff != "" {
		t.Errorf("dangling mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_MergePoint(t *testing.T) {
	// Two paths reach 0x1020. The fall-through path would otherwise merge it.
	//   0x1000: br 0x1001, 0x1010
	//   0x1001: -> 0x1002
	//   0x1002: -> 0x1020
	//   0x1010: -> 0x1020
	//   0x1020: -> 0x1021
	//   0x1021: ret
	g := Build(streamOf(
		mk(0x1000, 0x1001, 0x1010),
		mk(0x1001, 0x1002),
		mk(0x1002, 0x1020),
		mk(0x1010, 0x1020),
		mk(0x1020, 0x1021),
		mk(0x1021),
	), 0x1000)

	want := map[uint64][]uint64{
		0x1000: {0x1000},
		0x1001: {0x1001, 0x1002},
		0x1010: {0x1010},
		0x1020: {0x1020, 0x1021},
	}
	if diff := cmp.Diff(want, layout(g)); diff != "" {
		t.Errorf("layout mismatch (-want +got):\n%s", diff)
	}
	bb, _ := g.Block(0x1020)
	if diff := cmp.Diff([]uint64{0x1002, 0x1010}, bb.Preds); diff != "" {
		t.Errorf("preds mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_LoopBackToEntry(t *testing.T) {
	// The entry block runs straight into a jump back to entry; the entry has a
	// single real predecessor and must not be absorbed a second time.
	g := Build(streamOf(mk(0x10, 0x11), mk(0x11, 0x12), mk(0x12, 0x10)), 0x10)

	want := map[uint64][]uint64{0x10: {0x10, 0x11, 0x12}}
	if diff := cmp.Diff(want, layout(g)); diff != "" {
		t.Errorf("layout mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]Edge{{From: 0x10, To: 0x10}}, g.Edges()); diff != "" {
		t.Errorf("edges mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_InnerLoop(t *testing.T) {
	//   0x0: -> 0x1
	//   0x1: -> 0x2          (loop head, preds 0x0 and 0x3)
	//   0x2: -> 0x3
	//   0x3: br 0x1, 0x4
	//   0x4: ret
	g := Build(streamOf(mk(0, 1), mk(1, 2), mk(2, 3), mk(3, 1, 4), mk(4)), 0)

	want := map[uint64][]uint64{
		0: {0},
		1: {1, 2, 3},
		4: {4},
	}
	if diff := cmp.Diff(want, layout(g)); diff != "" {
		t.Errorf("layout mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_DuplicateSuccessorCountsOnce(t *testing.T) {
	// A conditional jump to its own fall-through lists the address twice;
	// that is still one predecessor.
	g := Build(streamOf(mk(0x0, 0x1, 0x1), mk(0x1, 0x2), mk(0x2)), 0)

	bb, ok := g.Block(0x1)
	if !ok {
		t.Fatal("no block at 0x1")
	}
	if diff := cmp.Diff([]uint64{0x0}, bb.Preds); diff != "" {
		t.Errorf("preds mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]uint64{0x1, 0x2}, blockAddrs(bb)); diff != "" {
		t.Errorf("block mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_EntryNotDecoded(t *testing.T) {
	g := Build(streamOf(), 0x1000)
	if len(g.Blocks) != 0 {
		t.Errorf("blocks = %d, want 0", len(g.Blocks))
	}
	if g.Entry != 0x1000 {
		t.Errorf("entry = 0x%x", g.Entry)
	}
}

// irregular is a stream with a mix of merges, loops, dangling targets and a
// branch into the entry block.
func irregular() disasm.Stream {
	return streamOf(
		mk(0x100, 0x101),
		mk(0x101, 0x102, 0x200),
		mk(0x102, 0x103),
		mk(0x103, 0x104),
		mk(0x104, 0x101, 0x300), // back edge into the entry block
		mk(0x200, 0x201),
		mk(0x201, 0x104, 0x999), // 0x999 dangles
		mk(0x300, 0x301),
		mk(0x301, 0x302),
		mk(0x302, 0x300, 0x303),
		mk(0x303),
	)
}

func TestBuild_Properties(t *testing.T) {
	// Run the stream through DecodeAll first, as the real pipeline does.
	src := irregular()
	dec := disasm.DecoderFunc(func(_ addrspace.Reader, addr uint64) (disasm.Instruction, bool) {
		ins, ok := src[addr]
		return ins, ok
	})
	stream := disasm.DecodeAll(addrspace.New(), dec, 0x100)
	g := Build(stream, 0x100)

	t.Run("coverage", func(t *testing.T) {
		seen := make(map[uint64]int)
		for _, bb := range g.Blocks {
			for _, ins := range bb.Insts {
				seen[ins.Address()]++
			}
		}
		for addr := range stream {
			if seen[addr] != 1 {
				t.Errorf("instruction 0x%x appears in %d blocks, want 1", addr, seen[addr])
			}
		}
		if g.NumInstructions() != len(stream) {
			t.Errorf("instructions = %d, want %d", g.NumInstructions(), len(stream))
		}
	})

	t.Run("block starts", func(t *testing.T) {
		preds := predecessors(stream)
		for start := range g.Blocks {
			if start == g.Entry {
				continue
			}
			p := preds[start]
			if len(p) > 1 {
				continue
			}
			if len(p) == 1 && len(stream[p[0]].Successors()) > 1 {
				continue
			}
			t.Errorf("block 0x%x should have been merged into its predecessor %x", start, p)
		}
	})

	t.Run("non-first instructions", func(t *testing.T) {
		preds := predecessors(stream)
		for _, bb := range g.Blocks {
			for i, ins := range bb.Insts[1:] {
				p := preds[ins.Address()]
				if len(p) != 1 || p[0] != bb.Insts[i].Address() {
					t.Errorf("0x%x: preds %x, want only 0x%x", ins.Address(), p, bb.Insts[i].Address())
				}
			}
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		again := Build(stream, 0x100)
		if diff := cmp.Diff(layout(g), layout(again)); diff != "" {
			t.Errorf("layout differs (-first +second):\n%s", diff)
		}
		if diff := cmp.Diff(g.Edges(), again.Edges()); diff != "" {
			t.Errorf("edges differ (-first +second):\n%s", diff)
		}
	})

	t.Run("dangling", func(t *testing.T) {
		if diff := cmp.Diff([]uint64{0x999}, g.Dangling()); diff != "" {
			t.Errorf("dangling mismatch (-want +got):\n%s", diff)
		}
		bb, ok := g.BlockOf(0x201)
		if !ok {
			t.Fatal("0x201 is in no block")
		}
		if diff := cmp.Diff([]uint64{0x104, 0x999}, bb.Successors()); diff != "" {
			t.Errorf("successors mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestBuild_Layout(t *testing.T) {
	g := Build(irregular(), 0x100)
	want := map[uint64][]uint64{
		0x100: {0x100},
		0x101: {0x101},
		0x102: {0x102, 0x103},
		0x104: {0x104},
		0x200: {0x200, 0x201},
		0x300: {0x300, 0x301, 0x302},
		0x303: {0x303},
	}
	if diff := cmp.Diff(want, layout(g)); diff != "" {
		t.Errorf("layout mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]uint64{0x100, 0x101, 0x102, 0x104, 0x200, 0x300, 0x303}, g.Starts()); diff != "" {
		t.Errorf("starts mismatch (-want +got):\n%s", diff)
	}
}

func TestBasicBlockString(t *testing.T) {
	bb := &BasicBlock{
		Start: 0x1000,
		Insts: []disasm.Instruction{
			disasm.Inst{VA: 0x1000, Raw: []byte{0x55}, Op: "push", Args: "ebp"},
			disasm.Inst{VA: 0x1001, Raw: []byte{0xc3}, Op: "ret"},
		},
	}
	want := "0x1000:\n  push ebp\n  ret\n"
	if got := bb.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if bb.End() != 0x1002 {
		t.Errorf("End() = 0x%x, want 0x1002", bb.End())
	}
}
