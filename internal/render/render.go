// Package render exports a control flow graph as DOT, lattice DOT, JSON,
// a text listing or a markdown summary.
package render

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"blockgraph/internal/cfg"
)

// Format names an output format.
type Format string

const (
	FormatDOT     Format = "dot"
	FormatLattice Format = "lattice"
	FormatJSON    Format = "json"
	FormatText    Format = "text"
)

// ErrUnknownFormat is returned by ParseFormat.
var ErrUnknownFormat = errors.New("render: unknown format")

var formats = []Format{FormatDOT, FormatLattice, FormatJSON, FormatText}

// Formats lists the supported output formats.
func Formats() []string {
	out := make([]string, len(formats))
	for i, f := range formats {
		out[i] = string(f)
	}
	return out
}

// ParseFormat validates a format name. The empty string selects DOT.
func ParseFormat(s string) (Format, error) {
	if s == "" {
		return FormatDOT, nil
	}
	for _, f := range formats {
		if strings.EqualFold(s, string(f)) {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q (want one of %s)", ErrUnknownFormat, s, strings.Join(Formats(), ", "))
}

// Ext is the file extension used for default output paths.
func (f Format) Ext() string {
	switch f {
	case FormatJSON:
		return ".json"
	case FormatText:
		return ".txt"
	}
	return ".dot"
}

// SymbolLookup resolves an address to the symbol containing it and that
// symbol's start. It has the shape of x86asm.SymLookup.
type SymbolLookup func(addr uint64) (name string, base uint64)

// Options tunes the exporters.
type Options struct {
	Name         string       // graph name; defaults to "cfg"
	OmitDangling bool         // drop edges whose target has no block
	Symbols      SymbolLookup // optional
	Color        bool         // text listing only
	Arch         string       // lexer selection for Color
}

func (o Options) name() string {
	if o.Name == "" {
		return "cfg"
	}
	return o.Name
}

// symbolAt returns the symbol name starting exactly at addr.
func (o Options) symbolAt(addr uint64) string {
	if o.Symbols == nil {
		return ""
	}
	name, base := o.Symbols(addr)
	if base != addr {
		return ""
	}
	return name
}

// Render writes g in format f.
func Render(w io.Writer, g *cfg.CFG, f Format, opts Options) error {
	var out string
	switch f {
	case FormatDOT, "":
		out = DOT(g, opts)
	case FormatLattice:
		out = LatticeDOT(g, opts)
	case FormatJSON:
		b, err := JSON(g, opts)
		if err != nil {
			return err
		}
		out = string(b)
	case FormatText:
		out = Text(g, opts)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, f)
	}
	_, err := io.WriteString(w, out)
	return err
}

// blockHeader is the first label line of a block, with its symbol if known.
func blockHeader(bb *cfg.BasicBlock, opts Options) string {
	if sym := opts.symbolAt(bb.Start); sym != "" {
		return fmt.Sprintf("0x%x <%s>:", bb.Start, sym)
	}
	return fmt.Sprintf("0x%x:", bb.Start)
}
