package disasm

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"opdecode/internal/decodeerr"
)

// Syntax selects the assembly dialect used for Inst.Text.
type Syntax int

const (
	SyntaxGNU Syntax = iota
	SyntaxIntel
	SyntaxGo
)

func (s Syntax) String() string {
	switch s {
	case SyntaxIntel:
		return "intel"
	case SyntaxGo:
		return "go"
	}
	return "gnu"
}

// ParseSyntax maps "gnu"/"att", "intel" and "go"/"plan9" to a Syntax.
func ParseSyntax(s string) (Syntax, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "gnu", "att":
		return SyntaxGNU, nil
	case "intel":
		return SyntaxIntel, nil
	case "go", "plan9":
		return SyntaxGo, nil
	}
	return SyntaxGNU, fmt.Errorf("unknown syntax %q (want gnu, intel or go)", s)
}

// SymLookup returns the name and base address of the symbol containing addr,
// or "" when there is none.
type SymLookup func(addr uint64) (string, uint64)

// Config is applied when a Decoder is constructed.
type Config struct {
	Syntax  Syntax
	Symbols SymLookup
}

type Option func(*Config)

func WithSyntax(s Syntax) Option { return func(c *Config) { c.Syntax = s } }

func WithSymbols(fn SymLookup) Option { return func(c *Config) { c.Symbols = fn } }

// Backend describes one architecture that can produce Decoders.
type Backend struct {
	Name        string
	Aliases     []string
	Description string
	MinLen      int // shortest encoding in bytes
	MaxLen      int // longest encoding in bytes
	New         func(Config) (Decoder, error)
}

var (
	mu         sync.RWMutex
	registered = map[string]*Backend{}
	aliases    = map[string]string{}

	registerAllOnce sync.Once
)

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Register makes b available to NewDecoder. Registering a name twice is a
// no-op; the first registration wins.
func Register(b Backend) error {
	name := normalize(b.Name)
	if name == "" || b.New == nil {
		return fmt.Errorf("register backend %q: name and constructor are required", b.Name)
	}
	mu.Lock()
	defer mu.Unlock()
	if _, ok := registered[name]; ok {
		return nil
	}
	b.Name = name
	registered[name] = &b
	for _, a := range b.Aliases {
		if a = normalize(a); a != "" && a != name {
			aliases[a] = name
		}
	}
	return nil
}

// RegisterArchitecture registers the built-in backend called name (or one
// of its aliases). It is safe to call repeatedly and concurrently.
func RegisterArchitecture(name string) error {
	b, ok := builtin(name)
	if !ok {
		return decodeerr.New(decodeerr.UnknownArchitecture, "%q is not a supported architecture", name)
	}
	return Register(b)
}

// RegisterAll registers every built-in backend once per process.
func RegisterAll() {
	registerAllOnce.Do(func() {
		for _, b := range builtinBackends() {
			_ = Register(b)
		}
	})
}

// Lookup returns the registered backend for name or one of its aliases.
func Lookup(name string) (Backend, bool) {
	name = normalize(name)
	mu.RLock()
	defer mu.RUnlock()
	if canon, ok := aliases[name]; ok {
		name = canon
	}
	b, ok := registered[name]
	if !ok {
		return Backend{}, false
	}
	return *b, true
}

// Architectures returns the registered backends sorted by name.
func Architectures() []Backend {
	mu.RLock()
	out := make([]Backend, 0, len(registered))
	for _, b := range registered {
		out = append(out, *b)
	}
	mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// NewDecoder constructs a decoder handle for a registered architecture.
// Construction is the expensive step; callers keep the handle and reuse it
// for every buffer decoded with that architecture.
func NewDecoder(name string, opts ...Option) (Decoder, error) {
	b, ok := Lookup(name)
	if !ok {
		return nil, decodeerr.New(decodeerr.UnknownArchitecture, "%q is not a registered architecture", name)
	}
	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Symbols == nil {
		cfg.Symbols = noSymbols
	}
	dec, err := b.New(cfg)
	if err != nil {
		return nil, decodeerr.Wrap(decodeerr.UnknownArchitecture, err, "construct %s decoder", b.Name)
	}
	return dec, nil
}

func noSymbols(uint64) (string, uint64) { return "", 0 }

func builtin(name string) (Backend, bool) {
	name = normalize(name)
	for _, b := range builtinBackends() {
		if b.Name == name {
			return b, true
		}
		for _, a := range b.Aliases {
			if a == name {
				return b, true
			}
		}
	}
	return Backend{}, false
}
