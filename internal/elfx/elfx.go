// Package elfx provides helpers for opening ELF binaries, listing their code sections, and mapping virtual addresses to file offsets.
package elfx

import (
	"bytes"
	"debug/elf"
	"errors"
	"iter"
	"log/slog"
	"os"
	"strings"
	"syscall"

	"opdecode/internal/decodeerr"
)

type Image struct {
	Path     string
	File     *elf.File
	All      []byte
	Loads    []Seg
	Dynsyms  []Sym
	Syms     []Sym
	sections []Section
	mapped   bool
}

type Seg struct {
	Vaddr, Off, Filesz uint64
	Flags              elf.ProgFlag
}

// Section is a named byte range of the file. Data is a read-only view into
// Image.All and is only valid until the Image is closed.
type Section struct {
	Name          string
	VA, Off, Size uint64
	Exec          bool
	Data          []byte
}

type Sym struct {
	Name    string
	Addr    uint64
	Size    uint64
	Section elf.SectionIndex
	Func    bool
}

// Open maps the file at path and parses it as ELF.
func Open(path string) (*Image, error) {
	of, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, decodeerr.Wrap(decodeerr.UnreadableFile, err, "open file")
	}
	defer of.Close()

	fi, err := of.Stat()
	if err != nil {
		return nil, decodeerr.Wrap(decodeerr.UnreadableFile, err, "stat file")
	}
	if fi.IsDir() {
		return nil, decodeerr.New(decodeerr.UnreadableFile, "%s is a directory", path)
	}
	if fi.Size() == 0 {
		return nil, decodeerr.New(decodeerr.UnparsableObject, "empty file")
	}

	all, err := syscall.Mmap(int(of.Fd()), 0, int(fi.Size()), syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		return nil, decodeerr.Wrap(decodeerr.UnreadableFile, err, "mmap file")
	}

	im, err := NewImage(all)
	if err != nil {
		syscall.Munmap(all)
		return nil, err
	}
	im.Path = path
	im.mapped = true
	return im, nil
}

// NewImage parses an in-memory ELF blob. The Image keeps referencing data.
func NewImage(data []byte) (*Image, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, decodeerr.Wrap(decodeerr.UnparsableObject, err, "parse elf")
	}

	im := &Image{File: f, All: data}
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		im.Loads = append(im.Loads, Seg{
			Vaddr:  p.Vaddr,
			Off:    p.Off,
			Filesz: p.Filesz,
			Flags:  p.Flags,
		})
	}

	for _, s := range f.Sections {
		if s.Type == elf.SHT_NULL {
			continue
		}
		sec := Section{
			Name: s.Name,
			VA:   s.Addr,
			Off:  s.Offset,
			Size: s.Size,
			Exec: s.Flags&elf.SHF_EXECINSTR != 0 && s.Type != elf.SHT_NOBITS,
		}
		if s.Type != elf.SHT_NOBITS {
			if s.Offset > uint64(len(data)) || s.Size > uint64(len(data))-s.Offset {
				f.Close()
				return nil, decodeerr.New(decodeerr.UnparsableObject, "section %s [%#x, +%#x) lies outside the file", s.Name, s.Offset, s.Size)
			}
			sec.Data = data[s.Offset : s.Offset+s.Size : s.Offset+s.Size]
		}
		im.sections = append(im.sections, sec)
	}

	// Fallback if stripped of section headers.
	if len(im.sections) == 0 {
		for _, l := range im.Loads {
			if l.Flags&elf.PF_X != 0 && l.Filesz > 0 && l.Off+l.Filesz <= uint64(len(data)) {
				im.sections = append(im.sections, Section{
					Name: "LOAD(exec)",
					VA:   l.Vaddr,
					Off:  l.Off,
					Size: l.Filesz,
					Exec: true,
					Data: data[l.Off : l.Off+l.Filesz : l.Off+l.Filesz],
				})
				break
			}
		}
	}

	im.loadDynamicSymbols()
	im.loadStaticSymbols()
	return im, nil
}

// Close unmaps the memory and closes the parsed file.
func (im *Image) Close() error {
	var err error
	if im.mapped && im.All != nil {
		err = syscall.Munmap(im.All)
	}
	im.All = nil
	im.sections = nil
	if im.File != nil {
		if cerr := im.File.Close(); cerr != nil && err == nil {
			err = cerr
		}
		im.File = nil
	}
	return err
}

// Sections yields every section in file order.
func (im *Image) Sections() iter.Seq[Section] {
	return func(yield func(Section) bool) {
		for _, s := range im.sections {
			if !yield(s) {
				return
			}
		}
	}
}

// ExecSections yields the sections holding machine code, in file order.
func (im *Image) ExecSections() iter.Seq[Section] {
	return func(yield func(Section) bool) {
		for s := range im.Sections() {
			if s.Exec && !yield(s) {
				return
			}
		}
	}
}

// Section returns the section called name.
func (im *Image) Section(name string) (Section, bool) {
	for s := range im.Sections() {
		if s.Name == name {
			return s, true
		}
	}
	return Section{}, false
}

// Arch returns the disassembler architecture name for the ELF machine, or
// "" if it has no decoder.
func (im *Image) Arch() string {
	if im.File == nil {
		return ""
	}
	switch im.File.Machine {
	case elf.EM_X86_64:
		return "x86_64"
	case elf.EM_386:
		return "x86"
	case elf.EM_AARCH64:
		return "arm64"
	case elf.EM_ARM:
		return "arm"
	case elf.EM_PPC64:
		if im.File.Data == elf.ELFDATA2LSB {
			return "ppc64le"
		}
		return "ppc64"
	case elf.EM_RISCV:
		if im.File.Class == elf.ELFCLASS64 {
			return "riscv64"
		}
	}
	return ""
}

// loadFor returns the PT_LOAD segment whose file-backed bytes hold va.
func (im *Image) loadFor(va uint64) (Seg, bool) {
	for _, l := range im.Loads {
		if va >= l.Vaddr && va < l.Vaddr+l.Filesz {
			return l, true
		}
	}
	return Seg{}, false
}

// SliceVA returns a subslice of the mapped file corresponding to the virtual address range [va, va+size).
// The whole range must lie in the file-backed part of one PT_LOAD segment.
// It returns (nil, false) if the VA is unmapped or the range is out of bounds.
func (im *Image) SliceVA(va uint64, size uint64) ([]byte, bool) {
	l, ok := im.loadFor(va)
	if !ok {
		return nil, false
	}
	if size == 0 {
		return []byte{}, true
	}
	rel := va - l.Vaddr
	if size > l.Filesz-rel {
		return nil, false
	}
	off := l.Off + rel
	end := off + size
	if end > uint64(len(im.All)) {
		return nil, false
	}
	return im.All[off:end:end], true
}

// SymbolBytes returns the bytes covered by sym, resolved through the section
// it is defined in. Relocatable objects have section-relative symbol values,
// so this works for .o files where SliceVA cannot.
func (im *Image) SymbolBytes(sym Sym) ([]byte, uint64, bool) {
	if im.File == nil || sym.Size == 0 {
		return nil, 0, false
	}
	idx := int(sym.Section)
	if idx <= 0 || idx >= len(im.File.Sections) {
		return nil, 0, false
	}
	s := im.File.Sections[idx]
	if s.Type == elf.SHT_NOBITS || sym.Addr < s.Addr || sym.Addr-s.Addr+sym.Size > s.Size {
		return nil, 0, false
	}
	off := s.Offset + (sym.Addr - s.Addr)
	if off+sym.Size > uint64(len(im.All)) {
		return nil, 0, false
	}
	return im.All[off : off+sym.Size : off+sym.Size], sym.Addr, true
}

// loadDynamicSymbols loads dynamic symbols from .dynsym section.
func (im *Image) loadDynamicSymbols() {
	if im.File == nil || im.File.Section(".dynsym") == nil {
		return
	}
	dynsyms, err := im.File.DynamicSymbols()
	if err != nil {
		return
	}
	im.Dynsyms = convertSymbols(dynsyms)
}

// loadStaticSymbols loads static symbols from .symtab section as fallback
// for stripped binaries where .dynsym doesn't contain them.
func (im *Image) loadStaticSymbols() {
	if im.File == nil {
		return
	}
	syms, err := im.File.Symbols()
	if err != nil {
		if !errors.Is(err, elf.ErrNoSymbols) {
			slog.Debug("reading .symtab failed", "path", im.Path, "error", err)
		}
		return
	}
	im.Syms = convertSymbols(syms)
}

func convertSymbols(in []elf.Symbol) []Sym {
	var out []Sym
	for _, sym := range in {
		// Skip undefined and special-section symbols
		if sym.Section == elf.SHN_UNDEF || sym.Section >= elf.SHN_LORESERVE {
			continue
		}
		if sym.Name == "" || strings.HasPrefix(sym.Name, "$") {
			continue
		}
		t := elf.ST_TYPE(sym.Info)
		out = append(out, Sym{
			Name:    sym.Name,
			Addr:    sym.Value,
			Size:    sym.Size,
			Section: sym.Section,
			Func:    t == elf.STT_FUNC,
		})
	}
	return out
}

// Symbols returns static symbols, falling back to dynamic ones.
func (im *Image) Symbols() []Sym {
	if len(im.Syms) > 0 {
		return im.Syms
	}
	return im.Dynsyms
}

// FindFunctionByName searches for a function by name in the symbol tables.
func (im *Image) FindFunctionByName(name string) (Sym, bool) {
	for _, set := range [][]Sym{im.Syms, im.Dynsyms} {
		for _, sym := range set {
			if sym.Name == name && sym.Size > 0 {
				return sym, true
			}
		}
	}
	return Sym{}, false
}
