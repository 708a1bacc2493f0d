// Package disasm defines a common instruction representation used
// across architecture-specific decoders, and the worklist disassembler
// that turns an address space into an instruction stream.
package disasm

import (
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/log"

	"blockgraph/internal/addrspace"
	"blockgraph/internal/logging"
)

// Instruction is a decoded instruction as seen by the CFG builder. Decoders
// may return richer types; only these methods are relied upon.
type Instruction interface {
	// Address is the virtual address of the first byte.
	Address() uint64
	// Bytes is the raw encoding.
	Bytes() []byte
	// Successors lists the addresses control may reach right after this
	// instruction. Empty means the instruction is terminal.
	Successors() []uint64
	// String is the textual form, mnemonic followed by operands.
	String() string
}

// Decoder decodes one instruction at an address. It reports false when the
// bytes there are not a valid instruction, including padding heuristics.
type Decoder interface {
	Decode(space addrspace.Reader, addr uint64) (Instruction, bool)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(space addrspace.Reader, addr uint64) (Instruction, bool)

// Decode implements Decoder.
func (f DecoderFunc) Decode(space addrspace.Reader, addr uint64) (Instruction, bool) {
	return f(space, addr)
}

// Inst is a simplified decoded instruction.
type Inst struct {
	VA    uint64   // virtual address of instruction
	Raw   []byte   // raw encoding
	Op    string   // mnemonic in lowercase
	Args  string   // operand text
	Succs []uint64 // successor addresses
	Calls []uint64 // direct call targets, not successors
}

// Address implements Instruction.
func (i Inst) Address() uint64 { return i.VA }

// Bytes implements Instruction.
func (i Inst) Bytes() []byte { return i.Raw }

// Successors implements Instruction.
func (i Inst) Successors() []uint64 { return i.Succs }

// CallTargets returns the statically known call destinations.
func (i Inst) CallTargets() []uint64 { return i.Calls }

// Caller is implemented by instructions that know their direct call targets.
type Caller interface {
	CallTargets() []uint64
}

// Len is the encoded length in bytes.
func (i Inst) Len() int { return len(i.Raw) }

// Next is the fall-through address.
func (i Inst) Next() uint64 { return i.VA + uint64(len(i.Raw)) }

// String implements Instruction.
func (i Inst) String() string {
	if i.Args == "" {
		return i.Op
	}
	return i.Op + " " + i.Args
}

// SplitText splits a disassembly line into mnemonic and operands.
func SplitText(text string) (op, args string) {
	parts := strings.SplitN(strings.TrimSpace(text), " ", 2)
	op = strings.ToLower(parts[0])
	if len(parts) > 1 {
		args = strings.TrimSpace(parts[1])
	}
	return op, args
}

// DedupSuccessors removes repeated addresses, keeping first occurrence order.
func DedupSuccessors(succs []uint64) []uint64 {
	out := succs[:0:0]
	for _, s := range succs {
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

// Stream maps instruction addresses to decoded instructions.
type Stream map[uint64]Instruction

// Addresses returns the decoded addresses in ascending order.
func (s Stream) Addresses() []uint64 {
	addrs := make([]uint64, 0, len(s))
	for a := range s {
		addrs = append(addrs, a)
	}
	slices.Sort(addrs)
	return addrs
}

// Format renders the stream as stable text output, one instruction per line.
func (s Stream) Format() string {
	var b strings.Builder
	for _, a := range s.Addresses() {
		ins := s[a]
		fmt.Fprintf(&b, "0x%08x  % -24x  %s\n", a, ins.Bytes(), ins.String())
	}
	return b.String()
}

const defaultMaxSteps = 10_000_000

// Options controls DecodeAll behavior.
type Options struct {
	MaxSteps int         // maximum decode attempts; 0 = 10M
	Logger   *log.Logger // optional; dropped addresses are logged at debug level
}

// Option configures DecodeAll.
type Option func(*Options)

// WithMaxSteps caps the number of decode attempts.
func WithMaxSteps(n int) Option {
	return func(o *Options) { o.MaxSteps = n }
}

// WithLogger sets the logger used for debug output.
func WithLogger(lg *log.Logger) Option {
	return func(o *Options) { o.Logger = lg }
}

func (o Options) effectiveMax() int {
	if o.MaxSteps > 0 {
		return o.MaxSteps
	}
	return defaultMaxSteps
}

// DecodeAll explores space from entry, following successor addresses, and
// returns every instruction it could decode. Each address is decoded at most
// once. An address that fails to decode is dropped and nothing is explored
// from it.
func DecodeAll(space addrspace.Reader, dec Decoder, entry uint64, opts ...Option) Stream {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	lg := o.Logger
	if lg == nil && logging.IsDebug() {
		lc := logging.NewLogger()
		defer lc.Close()
		lg = lc.Logger
	}

	stream := make(Stream)
	pending := []uint64{entry}
	enqueued := map[uint64]bool{entry: true}
	steps, maxSteps := 0, o.effectiveMax()

	for len(pending) > 0 {
		if steps >= maxSteps {
			if lg != nil {
				lg.Warn("decode step limit reached", "limit", maxSteps, "pending", len(pending))
			}
			break
		}
		steps++

		addr := pending[len(pending)-1]
		pending = pending[:len(pending)-1]

		ins, ok := dec.Decode(space, addr)
		if !ok {
			if lg != nil {
				lg.Debug("dropped undecodable address", "addr", fmt.Sprintf("0x%x", addr))
			}
			continue
		}
		stream[addr] = ins

		for _, next := range ins.Successors() {
			if !enqueued[next] {
				enqueued[next] = true
				pending = append(pending, next)
			}
		}
	}

	if lg != nil {
		lg.Debug("disassembly complete", "entry", fmt.Sprintf("0x%x", entry), "instructions", len(stream), "steps", steps)
	}
	return stream
}
