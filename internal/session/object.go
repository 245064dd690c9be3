package session

import (
	"fmt"
	"log/slog"
	"slices"

	"opdecode/internal/analysis"
	"opdecode/internal/decodeerr"
	"opdecode/internal/disasm"
	"opdecode/internal/elfx"
)

// SectionResult is the stream decoded from one byte range of an object.
type SectionResult struct {
	Name   string        `json:"name"`
	VA     uint64        `json:"va"`
	Size   uint64        `json:"size"`
	Stream disasm.Stream `json:"-"`
}

// ObjectResult holds one SectionResult per decoded range, in file order.
// Ranges are never merged into a single address space.
type ObjectResult struct {
	Path     string          `json:"path,omitempty"`
	Arch     string          `json:"arch"`
	Sections []SectionResult `json:"sections"`
}

// ByName indexes the streams by section name. Sections is authoritative:
// relocatable objects may repeat a name, in which case the first keeps the
// plain name and later ones are keyed "name#2", "name#3" and so on.
func (r *ObjectResult) ByName() map[string]disasm.Stream {
	m := make(map[string]disasm.Stream, len(r.Sections))
	seen := make(map[string]int, len(r.Sections))
	for _, s := range r.Sections {
		seen[s.Name]++
		key := s.Name
		if n := seen[s.Name]; n > 1 {
			key = fmt.Sprintf("%s#%d", s.Name, n)
		}
		m[key] = s.Stream
	}
	return m
}

func (r *ObjectResult) Streams() []disasm.Stream {
	out := make([]disasm.Stream, len(r.Sections))
	for i, s := range r.Sections {
		out[i] = s.Stream
	}
	return out
}

// Size is the number of bytes consumed over every section.
func (r *ObjectResult) Size() int {
	n := 0
	for _, s := range r.Sections {
		n += s.Stream.Size()
	}
	return n
}

func (s *Session) objectDecoder(img *elfx.Image, arch string) (disasm.Decoder, error) {
	if arch == "" {
		arch = img.Arch()
		if arch == "" {
			return nil, decodeerr.New(decodeerr.UnknownArchitecture, "no decoder for ELF machine %s", img.File.Machine)
		}
		slog.Debug("architecture inferred from ELF header", "arch", arch, "machine", img.File.Machine.String())
	}
	return s.Decoder(arch)
}

// RunObject decodes every executable section of img in full, each at its
// own virtual address. An empty arch selects the decoder from the ELF
// machine. When only is non-empty just the named sections are decoded and
// each name must match an executable section.
func (s *Session) RunObject(img *elfx.Image, arch string, only ...string) (*ObjectResult, error) {
	dec, err := s.objectDecoder(img, arch)
	if err != nil {
		return nil, decodeerr.WithSource(err, "object", img.Path)
	}

	res := &ObjectResult{Path: img.Path, Arch: dec.Arch()}
	found := make(map[string]bool)
	for sec := range img.ExecSections() {
		if len(only) > 0 && !slices.Contains(only, sec.Name) {
			continue
		}
		found[sec.Name] = true
		st, err := disasm.Run(sec.Data, dec, sec.VA)
		if err != nil {
			return nil, decodeerr.WithSource(decodeerr.WithSection(err, sec.Name), "object", img.Path)
		}
		slog.Debug("section decoded", "section", sec.Name, "va", fmt.Sprintf("%#x", sec.VA), "instructions", len(st))
		res.Sections = append(res.Sections, SectionResult{Name: sec.Name, VA: sec.VA, Size: sec.Size, Stream: st})
	}
	for _, name := range only {
		if !found[name] {
			return nil, decodeerr.WithSource(decodeerr.New(decodeerr.InvalidInput, "no executable section named %q", name), "object", img.Path)
		}
	}
	if len(res.Sections) == 0 {
		slog.Warn("object has no executable sections", "path", img.Path)
	}
	return res, nil
}

// RunSymbol decodes the bytes of one function, found by raw or demangled name.
func (s *Session) RunSymbol(img *elfx.Image, arch, name string) (*ObjectResult, error) {
	fail := func(err error) (*ObjectResult, error) {
		return nil, decodeerr.WithSource(decodeerr.WithSection(err, name), "object", img.Path)
	}
	dec, err := s.objectDecoder(img, arch)
	if err != nil {
		return fail(err)
	}
	sym, ok := analysis.FindSymbol(img, name)
	if !ok {
		return fail(decodeerr.New(decodeerr.InvalidInput, "no sized function symbol %q", name))
	}
	code, addr, ok := img.SymbolBytes(sym)
	if !ok {
		return fail(decodeerr.New(decodeerr.UnparsableObject, "symbol %q lies outside its section", name))
	}
	st, err := disasm.Run(code, dec, addr)
	if err != nil {
		return fail(err)
	}
	return &ObjectResult{
		Path:     img.Path,
		Arch:     dec.Arch(),
		Sections: []SectionResult{{Name: analysis.CachedDemangle(sym.Name), VA: addr, Size: sym.Size, Stream: st}},
	}, nil
}

// RunRange decodes the virtual address range [va, va+n) through the
// object's loadable segments.
func (s *Session) RunRange(img *elfx.Image, arch string, va, n uint64) (*ObjectResult, error) {
	name := fmt.Sprintf("[%#x,+%#x)", va, n)
	fail := func(err error) (*ObjectResult, error) {
		return nil, decodeerr.WithSource(decodeerr.WithSection(err, name), "object", img.Path)
	}
	dec, err := s.objectDecoder(img, arch)
	if err != nil {
		return fail(err)
	}
	code, ok := img.SliceVA(va, n)
	if !ok {
		return fail(decodeerr.New(decodeerr.InvalidInput, "range is not mapped by a loadable segment"))
	}
	st, err := disasm.Run(code, dec, va)
	if err != nil {
		return fail(err)
	}
	return &ObjectResult{
		Path:     img.Path,
		Arch:     dec.Arch(),
		Sections: []SectionResult{{Name: name, VA: va, Size: n, Stream: st}},
	}, nil
}
