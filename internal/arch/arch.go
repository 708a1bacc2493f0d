// Package arch maps architecture names to instruction decoders.
package arch

import (
	"debug/elf"
	"errors"
	"fmt"
	"slices"
	"strings"

	"blockgraph/internal/arch/arm64"
	"blockgraph/internal/arch/x86"
	"blockgraph/internal/disasm"
)

// Default is the architecture used when none is named.
const Default = "x86"

// ErrUnknownArch is returned for names with no registered decoder.
var ErrUnknownArch = errors.New("arch: unknown architecture")

var registry = map[string]func() disasm.Decoder{
	"x86":    func() disasm.Decoder { return x86.New(32) },
	"x86-64": func() disasm.Decoder { return x86.New(64) },
	"arm64":  func() disasm.Decoder { return arm64.New() },
}

var aliases = map[string]string{
	"i386":    "x86",
	"386":     "x86",
	"x86_64":  "x86-64",
	"amd64":   "x86-64",
	"aarch64": "arm64",
}

// Canonical returns the registered name for name or an alias of it.
func Canonical(name string) (string, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return Default, nil
	}
	if a, ok := aliases[n]; ok {
		n = a
	}
	if _, ok := registry[n]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownArch, name)
	}
	return n, nil
}

// Lookup returns a fresh decoder for the named architecture.
func Lookup(name string) (disasm.Decoder, error) {
	n, err := Canonical(name)
	if err != nil {
		return nil, err
	}
	return registry[n](), nil
}

// Names lists the registered architecture names.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// FromELFMachine returns the architecture name for an ELF e_machine value.
func FromELFMachine(m elf.Machine) (string, error) {
	switch m {
	case elf.EM_386:
		return "x86", nil
	case elf.EM_X86_64:
		return "x86-64", nil
	case elf.EM_AARCH64:
		return "arm64", nil
	}
	return "", fmt.Errorf("%w: ELF machine %v", ErrUnknownArch, m)
}
