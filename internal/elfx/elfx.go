// Package elfx parses ELF executables into loadable segments and symbols
// for the address space and the renderers.
package elfx

import (
	"bytes"
	"debug/elf"
	"errors"
	"fmt"
	"slices"
	"strings"

	"blockgraph/internal/addrspace"
)

var (
	ErrNotELF     = errors.New("elfx: not an ELF file")
	ErrNoSegments = errors.New("elfx: no loadable segments")
	ErrTruncated  = errors.New("elfx: segment extends past end of file")
)

// Image is a parsed ELF file held in memory.
type Image struct {
	All     []byte
	Machine elf.Machine
	Entry   uint64
	Loads   []Seg
	Dynsyms []Sym
	Syms    []Sym
}

// Seg is a PT_LOAD program header.
type Seg struct {
	Vaddr, Off, Filesz, Memsz uint64
	Flags                     elf.ProgFlag
}

// Sym is a defined symbol from .symtab or .dynsym.
type Sym struct {
	Name  string
	Addr  uint64
	Size  uint64
	IsPLT bool
}

// Parse parses an in-memory ELF image.
func Parse(data []byte) (*Image, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotELF, err)
	}
	defer f.Close()

	im := &Image{
		All:     data,
		Machine: f.Machine,
		Entry:   f.Entry,
	}
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		if p.Off+p.Filesz < p.Off || p.Off+p.Filesz > uint64(len(data)) {
			return nil, fmt.Errorf("%w: vaddr 0x%x", ErrTruncated, p.Vaddr)
		}
		im.Loads = append(im.Loads, Seg{
			Vaddr:  p.Vaddr,
			Off:    p.Off,
			Filesz: p.Filesz,
			Memsz:  p.Memsz,
			Flags:  p.Flags,
		})
	}

	im.Dynsyms = loadSymbols(f.DynamicSymbols)
	im.Syms = loadSymbols(f.Symbols)
	return im, nil
}

// loadSymbols collects defined symbols; a missing table yields none.
func loadSymbols(read func() ([]elf.Symbol, error)) []Sym {
	syms, err := read()
	if err != nil {
		return nil
	}
	var out []Sym
	for _, s := range syms {
		if s.Value == 0 || s.Name == "" {
			continue
		}
		if t := elf.ST_TYPE(s.Info); t == elf.STT_SECTION || t == elf.STT_FILE {
			continue
		}
		out = append(out, Sym{
			Name:  s.Name,
			Addr:  s.Value,
			Size:  s.Size,
			IsPLT: strings.HasSuffix(s.Name, "@plt"),
		})
	}
	return out
}

// Segments returns the file-backed bytes of each PT_LOAD segment. Any
// parse failure yields no segments.
func Segments(data []byte) []addrspace.Segment {
	im, err := Parse(data)
	if err != nil {
		return nil
	}
	return im.Segments()
}

// Segments returns the file-backed bytes of each PT_LOAD segment. Bytes
// between Filesz and Memsz are left to the address space's zero default.
func (im *Image) Segments() []addrspace.Segment {
	segs := make([]addrspace.Segment, 0, len(im.Loads))
	for _, l := range im.Loads {
		if l.Filesz == 0 {
			continue
		}
		segs = append(segs, addrspace.Segment{
			Addr: l.Vaddr,
			Data: im.All[l.Off : l.Off+l.Filesz],
		})
	}
	return segs
}

// FileOffset maps va to its offset in the file. Addresses in the
// zero-filled tail of a segment (past Filesz) have no offset.
func (im *Image) FileOffset(va uint64) (uint64, bool) {
	i := slices.IndexFunc(im.Loads, func(l Seg) bool {
		return va >= l.Vaddr && va-l.Vaddr < l.Filesz
	})
	if i < 0 {
		return 0, false
	}
	return im.Loads[i].Off + va - im.Loads[i].Vaddr, true
}

// IsExec reports whether va lies in an executable PT_LOAD segment.
func (im *Image) IsExec(va uint64) bool {
	for _, l := range im.Loads {
		if l.Flags&elf.PF_X != 0 && va >= l.Vaddr && va < l.Vaddr+l.Memsz {
			return true
		}
	}
	return false
}

// Symbols returns static and dynamic symbols merged by address, static
// names first, ascending.
func (im *Image) Symbols() []Sym {
	seen := make(map[uint64]bool)
	var out []Sym
	for _, set := range [][]Sym{im.Syms, im.Dynsyms} {
		for _, s := range set {
			if seen[s.Addr] {
				continue
			}
			seen[s.Addr] = true
			out = append(out, s)
		}
	}
	slices.SortFunc(out, func(a, b Sym) int {
		switch {
		case a.Addr < b.Addr:
			return -1
		case a.Addr > b.Addr:
			return 1
		}
		return 0
	})
	return out
}

// SymbolAddr returns the address of the symbol called name, matched
// against both the raw and the demangled name. PLT stubs are skipped.
func (im *Image) SymbolAddr(name string) (uint64, bool) {
	for _, set := range [][]Sym{im.Syms, im.Dynsyms} {
		for _, sym := range set {
			if !sym.IsPLT && (sym.Name == name || Demangle(sym.Name) == name) {
				return sym.Addr, true
			}
		}
	}
	return 0, false
}
