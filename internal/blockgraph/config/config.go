// Package config holds the analysis settings gathered from flags and the
// environment.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"blockgraph/internal/arch"
	"blockgraph/internal/render"
)

// Loader selects how the input file is mapped into the address space.
type Loader string

const (
	LoaderFlat Loader = "flat" // whole file at Base
	LoaderELF  Loader = "elf"  // PT_LOAD segments
	LoaderAuto Loader = "auto" // ELF when the file parses as one, else flat
)

// DefaultBase is where flat images are loaded and disassembly starts.
const DefaultBase = 0x1000

var (
	ErrNoInput       = errors.New("config: no input file")
	ErrInvalidLoader = errors.New("config: invalid loader")
	ErrInvalidAddr   = errors.New("config: invalid address")
	ErrInvalidSteps  = errors.New("config: max steps must not be negative")
)

// Config represents configuration for one analysis run.
type Config struct {
	Input        string  `json:"input" jsonschema:"title=Input,description=Binary file to analyze"`
	Output       string  `json:"output,omitempty" jsonschema:"title=Output,description=Output path (default <input>.dot)"`
	Arch         string  `json:"arch,omitempty" jsonschema:"title=Architecture,description=Decoder (default x86 or the ELF machine),enum=x86,enum=x86-64,enum=arm64"`
	Loader       Loader  `json:"loader" jsonschema:"title=Loader,enum=flat,enum=elf,enum=auto,default=flat"`
	Format       string  `json:"format" jsonschema:"title=Format,enum=dot,enum=lattice,enum=json,enum=text,default=dot"`
	Base         uint64  `json:"base" jsonschema:"title=Base Address,description=Load address for flat images,default=4096"`
	Entry        *uint64 `json:"entry,omitempty" jsonschema:"title=Entry Address,description=Start of disassembly (default base or ELF entry)"`
	EntrySymbol  string  `json:"entrySymbol,omitempty" jsonschema:"title=Entry Symbol,description=ELF symbol to start disassembly at"`
	OmitDangling bool    `json:"omitDangling,omitempty" jsonschema:"title=Omit Dangling,description=Drop edges to addresses that did not decode"`
	MaxSteps     int     `json:"maxSteps,omitempty" jsonschema:"title=Max Steps,description=Decode attempt cap (0 means 10000000),minimum=0"`
	Print        bool    `json:"print,omitempty" jsonschema:"title=Print,description=Print the colorized block listing"`
	Summary      bool    `json:"summary,omitempty" jsonschema:"title=Summary,description=Print a markdown summary"`
	Debug        bool    `json:"debug,omitempty" jsonschema:"title=Debug,description=Enable debug logging"`
	CPUProfile   string  `json:"cpuProfile,omitempty" jsonschema:"title=CPU Profile,description=Path for CPU profile output"`
	MemProfile   string  `json:"memProfile,omitempty" jsonschema:"title=Memory Profile,description=Path for heap profile output"`
}

// Default returns the settings of a bare "blockgraph <file>" run.
func Default() Config {
	return Config{
		Loader: LoaderFlat,
		Format: string(render.FormatDOT),
		Base:   DefaultBase,
	}
}

// ParseAddr parses a decimal, 0x-hex, 0o-octal or 0b-binary address.
func ParseAddr(s string) (uint64, error) {
	v, err := strconv.ParseUint(strings.ReplaceAll(strings.TrimSpace(s), "_", ""), 0, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAddr, s)
	}
	return v, nil
}

// SetEntry sets the start of disassembly from an address or, when s does
// not start with a digit, an ELF symbol name.
func (c *Config) SetEntry(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("%w: empty entry", ErrInvalidAddr)
	}
	if s[0] >= '0' && s[0] <= '9' {
		addr, err := ParseAddr(s)
		if err != nil {
			return err
		}
		c.Entry, c.EntrySymbol = &addr, ""
		return nil
	}
	c.Entry, c.EntrySymbol = nil, s
	return nil
}

// ApplyEnv overrides fields from BLOCKGRAPH_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("BLOCKGRAPH_ARCH"); ok && v != "" {
		c.Arch = v
	}
	if v, ok := lookup("BLOCKGRAPH_LOADER"); ok && v != "" {
		c.Loader = Loader(v)
	}
	if v, ok := lookup("BLOCKGRAPH_FORMAT"); ok && v != "" {
		c.Format = v
	}
	if v, ok := lookup("BLOCKGRAPH_BASE"); ok && v != "" {
		base, err := ParseAddr(v)
		if err != nil {
			return fmt.Errorf("BLOCKGRAPH_BASE: %w", err)
		}
		c.Base = base
	}
	if v, ok := lookup("BLOCKGRAPH_ENTRY"); ok && v != "" {
		if err := c.SetEntry(v); err != nil {
			return fmt.Errorf("BLOCKGRAPH_ENTRY: %w", err)
		}
	}
	if v, ok := lookup("BLOCKGRAPH_MAX_STEPS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BLOCKGRAPH_MAX_STEPS: %w", err)
		}
		c.MaxSteps = n
	}
	if v, ok := lookup("BLOCKGRAPH_LOG_LEVEL"); ok && strings.EqualFold(v, "debug") {
		c.Debug = true
	}
	return nil
}

// Validate checks the configuration and normalizes names. An empty Arch is
// kept: it is resolved once the loader knows the file type.
func (c *Config) Validate() error {
	if c.Input == "" {
		return ErrNoInput
	}
	if c.Arch != "" {
		name, err := arch.Canonical(c.Arch)
		if err != nil {
			return err
		}
		c.Arch = name
	}

	switch Loader(strings.ToLower(string(c.Loader))) {
	case "", LoaderFlat:
		c.Loader = LoaderFlat
	case LoaderELF:
		c.Loader = LoaderELF
	case LoaderAuto:
		c.Loader = LoaderAuto
	default:
		return fmt.Errorf("%w: %q (want flat, elf or auto)", ErrInvalidLoader, c.Loader)
	}

	f, err := render.ParseFormat(c.Format)
	if err != nil {
		return err
	}
	c.Format = string(f)

	if c.MaxSteps < 0 {
		return ErrInvalidSteps
	}
	return nil
}

// OutputPath is the file the graph is written to.
func (c *Config) OutputPath() string {
	if c.Output != "" {
		return c.Output
	}
	return c.Input + render.Format(c.Format).Ext()
}
