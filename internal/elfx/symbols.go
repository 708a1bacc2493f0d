package elfx

import (
	"sort"
	"sync"

	"github.com/ianlancetaylor/demangle"
)

// demangleCache memoizes demangled names; renderers ask for the same
// symbols once per edge.
var demangleCache = struct {
	mu    sync.RWMutex
	names map[string]string
}{names: make(map[string]string)}

// Demangle returns the demangled form of a C++ or Rust symbol, or name
// unchanged when it is not mangled.
func Demangle(name string) string {
	demangleCache.mu.RLock()
	if d, ok := demangleCache.names[name]; ok {
		demangleCache.mu.RUnlock()
		return d
	}
	demangleCache.mu.RUnlock()

	d := demangle.Filter(name, demangle.NoClones)

	demangleCache.mu.Lock()
	demangleCache.names[name] = d
	demangleCache.mu.Unlock()
	return d
}

// SymbolTable resolves addresses to the symbol covering them.
type SymbolTable struct {
	syms []Sym // ascending by Addr
}

// NewSymbolTable indexes syms, which must be sorted by address.
func NewSymbolTable(syms []Sym) *SymbolTable {
	return &SymbolTable{syms: syms}
}

// SymbolTable indexes the image's merged symbols.
func (im *Image) SymbolTable() *SymbolTable {
	return NewSymbolTable(im.Symbols())
}

// Len returns the number of indexed symbols.
func (t *SymbolTable) Len() int { return len(t.syms) }

// Lookup returns the demangled name and start address of the symbol
// containing addr. Zero-sized symbols match only their own address. The
// signature matches x86asm.SymLookup.
func (t *SymbolTable) Lookup(addr uint64) (string, uint64) {
	if t == nil {
		return "", 0
	}
	i := sort.Search(len(t.syms), func(i int) bool { return t.syms[i].Addr > addr })
	if i == 0 {
		return "", 0
	}
	s := t.syms[i-1]
	if addr == s.Addr || addr < s.Addr+s.Size {
		return Demangle(s.Name), s.Addr
	}
	return "", 0
}

// SymbolAt returns the demangled name of the symbol starting exactly at addr.
func (t *SymbolTable) SymbolAt(addr uint64) (string, bool) {
	name, base := t.Lookup(addr)
	if name == "" || base != addr {
		return "", false
	}
	return name, true
}

// SymbolAt returns the demangled name of the symbol starting exactly at addr.
func (im *Image) SymbolAt(addr uint64) (string, bool) {
	return im.SymbolTable().SymbolAt(addr)
}
