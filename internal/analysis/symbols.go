package analysis

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ianlancetaylor/demangle"

	"opdecode/internal/elfx"
)

// symbolCache memoizes demangled names; it is shared by every session.
type symbolCache struct {
	mu                sync.RWMutex
	demangleCache     map[string]string
	demangledHitCount map[string]int
}

var cache = &symbolCache{
	demangleCache:     make(map[string]string),
	demangledHitCount: make(map[string]int),
}

// CachedDemangle demangles C++ and Rust names, returning other names as-is.
func CachedDemangle(mangled string) string {
	cache.mu.RLock()
	cached, exists := cache.demangleCache[mangled]
	cache.mu.RUnlock()
	if exists {
		cache.mu.Lock()
		cache.demangledHitCount[mangled]++
		cache.mu.Unlock()
		return cached
	}

	demangled := demangle.Filter(mangled, demangle.NoClones)

	cache.mu.Lock()
	cache.demangleCache[mangled] = demangled
	cache.demangledHitCount[mangled]++
	cache.mu.Unlock()
	return demangled
}

// GetDemangleCacheStats returns statistics about the demangle cache.
func GetDemangleCacheStats() (totalSymbols int, cacheHits int, topSymbols []string) {
	cache.mu.RLock()
	defer cache.mu.RUnlock()

	type symbolHit struct {
		symbol string
		count  int
	}
	totalHits := 0
	symbols := make([]symbolHit, 0, len(cache.demangledHitCount))
	for sym, count := range cache.demangledHitCount {
		totalHits += count
		symbols = append(symbols, symbolHit{sym, count})
	}
	sort.Slice(symbols, func(i, j int) bool {
		if symbols[i].count != symbols[j].count {
			return symbols[i].count > symbols[j].count
		}
		return symbols[i].symbol < symbols[j].symbol
	})

	var top []string
	for i := 0; i < 5 && i < len(symbols); i++ {
		top = append(top, fmt.Sprintf("%s (%d hits)", symbols[i].symbol, symbols[i].count))
	}
	return len(cache.demangleCache), totalHits - len(cache.demangleCache), top
}

// FindSymbol looks a function up by raw name first, then by demangled name.
// A demangled name matches either exactly or up to its parameter list, so
// "ns::f" finds "ns::f(int)".
func FindSymbol(im *elfx.Image, name string) (elfx.Sym, bool) {
	if sym, ok := im.FindFunctionByName(name); ok {
		return sym, true
	}
	for _, set := range [][]elfx.Sym{im.Syms, im.Dynsyms} {
		for _, sym := range set {
			if sym.Size == 0 {
				continue
			}
			d := CachedDemangle(sym.Name)
			if d == name || strings.HasPrefix(d, name+"(") {
				return sym, true
			}
		}
	}
	return elfx.Sym{}, false
}

// SymbolTable resolves addresses to the function containing them.
type SymbolTable struct {
	syms []elfx.Sym
}

// NewSymbolTable indexes the sized symbols of im, deduplicated by address.
func NewSymbolTable(im *elfx.Image) *SymbolTable {
	seen := make(map[uint64]bool)
	var syms []elfx.Sym
	for _, sym := range append(append([]elfx.Sym{}, im.Syms...), im.Dynsyms...) {
		if sym.Size == 0 || seen[sym.Addr] {
			continue
		}
		seen[sym.Addr] = true
		syms = append(syms, sym)
	}
	sort.Slice(syms, func(i, j int) bool { return syms[i].Addr < syms[j].Addr })
	return &SymbolTable{syms: syms}
}

// Lookup returns the demangled name and base address of the symbol covering
// addr, or "" if none does. It matches disasm.SymLookup.
func (t *SymbolTable) Lookup(addr uint64) (string, uint64) {
	if t == nil {
		return "", 0
	}
	i := sort.Search(len(t.syms), func(i int) bool { return t.syms[i].Addr > addr }) - 1
	if i < 0 {
		return "", 0
	}
	s := t.syms[i]
	if addr >= s.Addr+s.Size {
		return "", 0
	}
	return CachedDemangle(s.Name), s.Addr
}

// Label returns the name of the symbol starting exactly at addr.
func (t *SymbolTable) Label(addr uint64) (string, bool) {
	name, base := t.Lookup(addr)
	if name == "" || base != addr {
		return "", false
	}
	return name, true
}

func (t *SymbolTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.syms)
}
