// Package x86 decodes 32-bit and 64-bit x86 instructions for the worklist
// disassembler.
package x86

import (
	"bytes"

	"golang.org/x/arch/x86/x86asm"

	"blockgraph/internal/addrspace"
	"blockgraph/internal/disasm"
)

// MaxInstLen is the longest legal x86 encoding.
const MaxInstLen = 15

var (
	endbr64 = []byte{0xf3, 0x0f, 0x1e, 0xfa}
	endbr32 = []byte{0xf3, 0x0f, 0x1e, 0xfb}
)

// Decoder decodes x86 machine code in 32 or 64-bit mode.
type Decoder struct {
	Mode int // 32 or 64; zero means 32
	// Symbols, when set, resolves branch targets in operand text.
	Symbols func(addr uint64) (name string, base uint64)
}

// New returns a decoder for the given mode.
func New(mode int) *Decoder {
	return &Decoder{Mode: mode}
}

func (d *Decoder) mode() int {
	if d.Mode == 0 {
		return 32
	}
	return d.Mode
}

// wrap truncates addresses to the width of the mode.
func (d *Decoder) wrap(addr uint64) uint64 {
	if d.mode() == 32 {
		return addr & 0xffffffff
	}
	return addr
}

// Decode implements disasm.Decoder. Two leading zero bytes are treated as
// padding rather than "add [eax], al".
func (d *Decoder) Decode(space addrspace.Reader, addr uint64) (disasm.Instruction, bool) {
	buf := make([]byte, MaxInstLen)
	space.Read(addr, buf)
	if buf[0] == 0 && buf[1] == 0 {
		return nil, false
	}

	// CET landing pads are not in the x86asm tables.
	if bytes.HasPrefix(buf, endbr64) || bytes.HasPrefix(buf, endbr32) {
		op := "endbr64"
		if buf[3] == 0xfb {
			op = "endbr32"
		}
		return disasm.Inst{
			VA:    addr,
			Raw:   append([]byte(nil), buf[:4]...),
			Op:    op,
			Succs: []uint64{d.wrap(addr + 4)},
		}, true
	}

	inst, err := x86asm.Decode(buf, d.mode())
	if err != nil || inst.Len == 0 {
		return nil, false
	}

	op, args := disasm.SplitText(x86asm.IntelSyntax(inst, addr, d.Symbols))
	in := disasm.Inst{
		VA:   addr,
		Raw:  append([]byte(nil), buf[:inst.Len]...),
		Op:   op,
		Args: args,
	}
	next := d.wrap(in.Next())

	var succs []uint64
	if !terminates(inst.Op) {
		succs = append(succs, next)
	}
	if target, ok := d.relTarget(inst, addr); ok {
		switch {
		case inst.Op == x86asm.CALL:
			in.Calls = []uint64{target}
		case isBranch(inst.Op):
			succs = append(succs, target)
		}
	}
	in.Succs = disasm.DedupSuccessors(succs)
	return in, true
}

// relTarget resolves a PC-relative first operand.
func (d *Decoder) relTarget(inst x86asm.Inst, addr uint64) (uint64, bool) {
	rel, ok := inst.Args[0].(x86asm.Rel)
	if !ok {
		return 0, false
	}
	return d.wrap(addr + uint64(inst.Len) + uint64(int64(rel))), true
}

// terminates reports whether control never reaches the next instruction.
func terminates(op x86asm.Op) bool {
	switch op {
	case x86asm.RET, x86asm.LRET,
		x86asm.IRET, x86asm.IRETD, x86asm.IRETQ,
		x86asm.JMP, x86asm.LJMP,
		x86asm.HLT,
		x86asm.UD0, x86asm.UD1, x86asm.UD2,
		x86asm.SYSRET, x86asm.SYSEXIT:
		return true
	}
	return false
}

// isBranch reports whether a relative operand of op is a jump target.
func isBranch(op x86asm.Op) bool {
	switch op {
	case x86asm.JMP,
		x86asm.JA, x86asm.JAE, x86asm.JB, x86asm.JBE,
		x86asm.JE, x86asm.JNE,
		x86asm.JG, x86asm.JGE, x86asm.JL, x86asm.JLE,
		x86asm.JO, x86asm.JNO, x86asm.JP, x86asm.JNP,
		x86asm.JS, x86asm.JNS,
		x86asm.JCXZ, x86asm.JECXZ, x86asm.JRCXZ,
		x86asm.LOOP, x86asm.LOOPE, x86asm.LOOPNE:
		return true
	}
	return false
}
