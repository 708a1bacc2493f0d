// Package analysis runs the reconstruction pipeline: load the input into an
// address space, disassemble from the entry point and build the CFG.
package analysis

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/log"

	"blockgraph/internal/addrspace"
	"blockgraph/internal/arch"
	"blockgraph/internal/arch/x86"
	"blockgraph/internal/blockgraph/config"
	"blockgraph/internal/cfg"
	"blockgraph/internal/disasm"
	"blockgraph/internal/elfx"
	"blockgraph/internal/render"
)

var (
	// ErrNoSegments is returned when the ELF loader finds nothing to map.
	ErrNoSegments = elfx.ErrNoSegments
	// ErrUnknownSymbol is returned when the entry symbol cannot be resolved.
	ErrUnknownSymbol = errors.New("unknown entry symbol")
)

// Result is the outcome of one analysis run.
type Result struct {
	Config  config.Config
	Arch    string
	Loader  config.Loader // loader actually used
	Entry   uint64
	Image   *elfx.Image // nil for flat images
	Symbols *elfx.SymbolTable
	Stream  disasm.Stream
	Graph   *cfg.CFG
}

// RunFile reads c.Input and analyzes it.
func RunFile(c config.Config, lg *log.Logger) (*Result, error) {
	data, err := os.ReadFile(c.Input)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return Run(c, data, lg)
}

// Run analyzes data according to c. c must have been validated.
func Run(c config.Config, data []byte, lg *log.Logger) (*Result, error) {
	res := &Result{Config: c}

	space, err := res.load(data)
	if err != nil {
		return nil, err
	}

	res.Arch = c.Arch
	if res.Arch == "" {
		res.Arch = arch.Default
		if res.Image != nil {
			if name, err := arch.FromELFMachine(res.Image.Machine); err == nil {
				res.Arch = name
			} else if lg != nil {
				lg.Warn("unsupported ELF machine, using default decoder", "machine", res.Image.Machine, "arch", res.Arch)
			}
		}
	}
	dec, err := arch.Lookup(res.Arch)
	if err != nil {
		return nil, err
	}
	if d, ok := dec.(*x86.Decoder); ok && res.Symbols != nil && res.Symbols.Len() > 0 {
		d.Symbols = res.Symbols.Lookup
	}

	if lg != nil {
		kv := []any{
			"file", c.Input,
			"loader", res.Loader,
			"arch", res.Arch,
			"entry", fmt.Sprintf("0x%x", res.Entry),
			"pages", space.Len(),
		}
		if res.Image != nil {
			if off, ok := res.Image.FileOffset(res.Entry); ok {
				kv = append(kv, "entry_offset", fmt.Sprintf("0x%x", off))
			}
			if !res.Image.IsExec(res.Entry) {
				lg.Warn("entry is not in an executable segment", "entry", fmt.Sprintf("0x%x", res.Entry))
			}
		}
		lg.Debug("loaded input", kv...)
	}

	opts := []disasm.Option{disasm.WithMaxSteps(c.MaxSteps)}
	if lg != nil {
		opts = append(opts, disasm.WithLogger(lg))
	}
	res.Stream = disasm.DecodeAll(space, dec, res.Entry, opts...)
	res.Graph = cfg.Build(res.Stream, res.Entry)

	if lg != nil {
		lg.Info("graph built",
			"blocks", len(res.Graph.Blocks),
			"instructions", len(res.Stream),
			"dangling", len(res.Graph.Dangling()))
	}
	return res, nil
}

// load maps data into an address space and picks the entry point.
func (r *Result) load(data []byte) (*addrspace.Sparse, error) {
	c := r.Config

	var segs []addrspace.Segment
	if c.Loader == config.LoaderELF || c.Loader == config.LoaderAuto {
		segs = elfx.Segments(data)
	}

	var space *addrspace.Sparse
	if len(segs) > 0 {
		im, err := elfx.Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c.Input, err)
		}
		r.Image = im
		r.Symbols = im.SymbolTable()
		r.Loader = config.LoaderELF
		r.Entry = im.Entry
		space = addrspace.FromSegments(segs)
	} else {
		if c.Loader == config.LoaderELF {
			return nil, fmt.Errorf("%s: %w", c.Input, ErrNoSegments)
		}
		r.Loader = config.LoaderFlat
		r.Entry = c.Base
		space = addrspace.Flat(c.Base, data)
	}

	switch {
	case c.Entry != nil:
		r.Entry = *c.Entry
	case c.EntrySymbol != "":
		if r.Image == nil {
			return nil, fmt.Errorf("%w: %q (flat images have no symbols)", ErrUnknownSymbol, c.EntrySymbol)
		}
		addr, ok := r.Image.SymbolAddr(c.EntrySymbol)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownSymbol, c.EntrySymbol)
		}
		r.Entry = addr
	}
	return space, nil
}

// RenderOptions returns exporter options for this result.
func (r *Result) RenderOptions() render.Options {
	opts := render.Options{
		Name:         r.Config.Input,
		OmitDangling: r.Config.OmitDangling,
		Arch:         r.Arch,
	}
	if r.Symbols != nil && r.Symbols.Len() > 0 {
		opts.Symbols = r.Symbols.Lookup
	}
	return opts
}
