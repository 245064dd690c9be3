// Package session drives decode runs: it turns hex text, object files and
// batch datasets into instruction streams while reusing one decoder handle
// per architecture.
package session

import (
	"errors"
	"log/slog"
	"strings"
	"sync"

	"opdecode/internal/decodeerr"
	"opdecode/internal/disasm"
	"opdecode/internal/hexcode"
)

var ErrClosed = errors.New("session is closed")

// Factory builds a decoder handle for an architecture name.
type Factory func(arch string, opts ...disasm.Option) (disasm.Decoder, error)

// RegistryFactory registers the built-in backend for arch on first use and
// constructs a handle from the disasm registry.
func RegistryFactory(arch string, opts ...disasm.Option) (disasm.Decoder, error) {
	if _, ok := disasm.Lookup(arch); !ok {
		if err := disasm.RegisterArchitecture(arch); err != nil {
			return nil, err
		}
	}
	return disasm.NewDecoder(arch, opts...)
}

type Option func(*Session)

func WithFactory(f Factory) Option { return func(s *Session) { s.factory = f } }

func WithDecoderOptions(opts ...disasm.Option) Option {
	return func(s *Session) { s.decOpts = append(s.decOpts, opts...) }
}

// WithLenientHex strips whitespace from hex input before decoding it.
func WithLenientHex(on bool) Option { return func(s *Session) { s.lenient = on } }

// Session caches decoder handles. It is safe for concurrent use.
type Session struct {
	factory Factory
	decOpts []disasm.Option
	lenient bool

	mu      sync.Mutex
	handles map[string]disasm.Decoder
	closed  bool
}

func New(opts ...Option) *Session {
	s := &Session{
		factory: RegistryFactory,
		handles: make(map[string]disasm.Decoder),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func handleKey(arch string) string {
	if b, ok := disasm.Lookup(arch); ok {
		return b.Name
	}
	return strings.ToLower(strings.TrimSpace(arch))
}

// Decoder returns the session's handle for arch, building it on first use.
func (s *Session) Decoder(arch string) (disasm.Decoder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	key := handleKey(arch)
	if h, ok := s.handles[key]; ok {
		return h, nil
	}
	h, err := s.factory(arch, s.decOpts...)
	if err != nil {
		return nil, err
	}
	// The factory may have just registered arch, making its canonical name
	// resolvable; store under both so aliases share the handle.
	s.handles[key] = h
	s.handles[handleKey(arch)] = h
	slog.Debug("decoder handle built", "arch", h.Arch())
	return h, nil
}

// Close drops every cached handle. Later runs fail with ErrClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	clear(s.handles)
	return nil
}

func (s *Session) decodeHex(text string) ([]byte, error) {
	if s.lenient {
		return hexcode.DecodeLenient(text)
	}
	return hexcode.Decode(text)
}

// RunHex decodes hex text and disassembles it at base address 0.
func (s *Session) RunHex(text, arch string) (disasm.Stream, error) {
	code, err := s.decodeHex(text)
	if err != nil {
		return nil, decodeerr.WithSource(err, "hex", "")
	}
	dec, err := s.Decoder(arch)
	if err != nil {
		return nil, decodeerr.WithSource(err, "hex", "")
	}
	st, err := disasm.Run(code, dec, 0)
	if err != nil {
		return nil, decodeerr.WithSource(err, "hex", "")
	}
	slog.Debug("hex decoded", "arch", dec.Arch(), "bytes", len(code), "instructions", len(st))
	return st, nil
}
