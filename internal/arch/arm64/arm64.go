// Package arm64 decodes fixed-width AArch64 instructions for the worklist
// disassembler.
package arm64

import (
	"encoding/binary"
	"fmt"
	"strings"

	"golang.org/x/arch/arm64/arm64asm"

	"blockgraph/internal/addrspace"
	"blockgraph/internal/disasm"
)

// Decoder decodes little-endian A64 instructions.
type Decoder struct{}

// New returns an ARM64 decoder.
func New() *Decoder { return &Decoder{} }

// Decode implements disasm.Decoder. An all-zero word is padding
// (udf #0) and is not decoded.
func (d *Decoder) Decode(space addrspace.Reader, addr uint64) (disasm.Instruction, bool) {
	buf := make([]byte, 4)
	space.Read(addr, buf)
	if binary.LittleEndian.Uint32(buf) == 0 {
		return nil, false
	}

	inst, err := arm64asm.Decode(buf)
	if err != nil {
		return nil, false
	}

	text := arm64asm.GNUSyntax(inst)
	target, hasTarget := pcRel(inst, addr)
	if hasTarget {
		text = replaceRel(text, inst, target)
	}
	op, args := disasm.SplitText(text)

	in := disasm.Inst{VA: addr, Raw: buf, Op: op, Args: args}
	next := in.Next()

	switch inst.Op {
	case arm64asm.B:
		if _, cond := inst.Args[0].(arm64asm.Cond); cond {
			in.Succs = []uint64{next, target}
		} else {
			in.Succs = []uint64{target}
		}
	case arm64asm.CBZ, arm64asm.CBNZ, arm64asm.TBZ, arm64asm.TBNZ:
		in.Succs = []uint64{next, target}
	case arm64asm.BL:
		in.Succs = []uint64{next}
		in.Calls = []uint64{target}
	case arm64asm.BLR:
		in.Succs = []uint64{next}
	case arm64asm.RET, arm64asm.BR, arm64asm.ERET:
		// indirect or return: no static successor
	default:
		in.Succs = []uint64{next}
	}
	in.Succs = disasm.DedupSuccessors(in.Succs)
	return in, true
}

// pcRel resolves the PC-relative operand, if any.
func pcRel(inst arm64asm.Inst, addr uint64) (uint64, bool) {
	for _, a := range inst.Args {
		if a == nil {
			break
		}
		if rel, ok := a.(arm64asm.PCRel); ok {
			if inst.Op == arm64asm.ADRP {
				return uint64(int64(addr&^0xfff) + int64(rel)), true
			}
			return uint64(int64(addr) + int64(rel)), true
		}
	}
	return 0, false
}

// replaceRel rewrites the relative operand text as an absolute address.
func replaceRel(text string, inst arm64asm.Inst, target uint64) string {
	for _, a := range inst.Args {
		if rel, ok := a.(arm64asm.PCRel); ok {
			return strings.Replace(text, strings.ToLower(rel.String()), fmt.Sprintf("%#x", target), 1)
		}
	}
	return text
}
