// Package elftest assembles small ELF64 images in memory for tests.
package elftest

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

type Section struct {
	Name   string
	Addr   uint64
	Data   []byte
	Exec   bool
	NoBits bool
	Size   uint64 // only used with NoBits
}

type Symbol struct {
	Name    string
	Section string
	Value   uint64
	Size    uint64
	Func    bool
}

// Builder lays out an ELF64 file: header, program headers, section data,
// the symbol and string tables, then the section header table.
type Builder struct {
	Machine  elf.Machine
	Type     elf.Type
	Order    binary.ByteOrder // little-endian when nil
	Sections []Section
	Symbols  []Symbol

	// Segments emits one PT_LOAD per allocated section.
	Segments bool
	// NoSectionHeaders drops the section header table entirely.
	NoSectionHeaders bool
}

func New(machine elf.Machine) *Builder {
	return &Builder{Machine: machine, Type: elf.ET_EXEC}
}

func (b *Builder) Text(name string, addr uint64, code []byte) *Builder {
	b.Sections = append(b.Sections, Section{Name: name, Addr: addr, Data: code, Exec: true})
	return b
}

func (b *Builder) Data(name string, addr uint64, data []byte) *Builder {
	b.Sections = append(b.Sections, Section{Name: name, Addr: addr, Data: data})
	return b
}

func (b *Builder) Func(name, section string, value, size uint64) *Builder {
	b.Symbols = append(b.Symbols, Symbol{Name: name, Section: section, Value: value, Size: size, Func: true})
	return b
}

type strtab struct{ buf bytes.Buffer }

func newStrtab() *strtab {
	s := &strtab{}
	s.buf.WriteByte(0)
	return s
}

func (s *strtab) add(name string) uint32 {
	if name == "" {
		return 0
	}
	off := uint32(s.buf.Len())
	s.buf.WriteString(name)
	s.buf.WriteByte(0)
	return off
}

func align(n, a uint64) uint64 { return (n + a - 1) &^ (a - 1) }

// Bytes renders the image.
func (b *Builder) Bytes() []byte {
	order := b.Order
	if order == nil {
		order = binary.LittleEndian
	}

	index := map[string]int{}
	for i, s := range b.Sections {
		index[s.Name] = i + 1
	}

	var progs []elf.Prog64
	if b.Segments {
		for _, s := range b.Sections {
			if s.Addr != 0 && !s.NoBits {
				progs = append(progs, elf.Prog64{})
			}
		}
	}

	const ehsize, phsize, shsize, symsize = 64, 56, 64, 24
	off := align(uint64(ehsize+phsize*len(progs)), 16)

	body := &bytes.Buffer{}
	offsets := make([]uint64, len(b.Sections))
	for i, s := range b.Sections {
		if s.NoBits {
			offsets[i] = off
			continue
		}
		next := align(off, 16)
		body.Write(make([]byte, next-off))
		offsets[i] = next
		body.Write(s.Data)
		off = next + uint64(len(s.Data))
	}

	shstr := newStrtab()
	str := newStrtab()
	var shdrs []elf.Section64
	shdrs = append(shdrs, elf.Section64{})
	for i, s := range b.Sections {
		h := elf.Section64{
			Name:      shstr.add(s.Name),
			Type:      uint32(elf.SHT_PROGBITS),
			Flags:     uint64(elf.SHF_ALLOC),
			Addr:      s.Addr,
			Off:       offsets[i],
			Size:      uint64(len(s.Data)),
			Addralign: 16,
		}
		if s.Exec {
			h.Flags |= uint64(elf.SHF_EXECINSTR)
		} else if !s.NoBits {
			h.Flags |= uint64(elf.SHF_WRITE)
		}
		if s.NoBits {
			h.Type = uint32(elf.SHT_NOBITS)
			h.Size = s.Size
		}
		shdrs = append(shdrs, h)
	}

	if len(b.Symbols) > 0 {
		syms := &bytes.Buffer{}
		binary.Write(syms, order, elf.Sym64{})
		for _, sym := range b.Symbols {
			typ := elf.STT_OBJECT
			if sym.Func {
				typ = elf.STT_FUNC
			}
			binary.Write(syms, order, elf.Sym64{
				Name:  str.add(sym.Name),
				Info:  elf.ST_INFO(elf.STB_GLOBAL, typ),
				Shndx: uint16(index[sym.Section]),
				Value: sym.Value,
				Size:  sym.Size,
			})
		}

		next := align(off, 8)
		body.Write(make([]byte, next-off))
		symIdx := len(shdrs)
		shdrs = append(shdrs, elf.Section64{
			Name:      shstr.add(".symtab"),
			Type:      uint32(elf.SHT_SYMTAB),
			Off:       next,
			Size:      uint64(syms.Len()),
			Link:      uint32(symIdx + 1),
			Info:      1,
			Addralign: 8,
			Entsize:   symsize,
		})
		body.Write(syms.Bytes())
		off = next + uint64(syms.Len())

		shdrs = append(shdrs, elf.Section64{
			Name:      shstr.add(".strtab"),
			Type:      uint32(elf.SHT_STRTAB),
			Off:       off,
			Size:      uint64(str.buf.Len()),
			Addralign: 1,
		})
		body.Write(str.buf.Bytes())
		off += uint64(str.buf.Len())
	}

	shstrName := shstr.add(".shstrtab")
	shdrs = append(shdrs, elf.Section64{
		Name:      shstrName,
		Type:      uint32(elf.SHT_STRTAB),
		Off:       off,
		Size:      uint64(shstr.buf.Len()),
		Addralign: 1,
	})
	body.Write(shstr.buf.Bytes())
	off += uint64(shstr.buf.Len())

	shoff := align(off, 8)
	body.Write(make([]byte, shoff-off))

	if b.Segments {
		n := 0
		for i, s := range b.Sections {
			if s.Addr == 0 || s.NoBits {
				continue
			}
			flags := elf.PF_R
			if s.Exec {
				flags |= elf.PF_X
			}
			progs[n] = elf.Prog64{
				Type:   uint32(elf.PT_LOAD),
				Flags:  uint32(flags),
				Off:    offsets[i],
				Vaddr:  s.Addr,
				Paddr:  s.Addr,
				Filesz: uint64(len(s.Data)),
				Memsz:  uint64(len(s.Data)),
				Align:  16,
			}
			n++
		}
	}

	hdr := elf.Header64{
		Type:      uint16(b.Type),
		Machine:   uint16(b.Machine),
		Version:   uint32(elf.EV_CURRENT),
		Ehsize:    ehsize,
		Phentsize: phsize,
		Phnum:     uint16(len(progs)),
		Shentsize: shsize,
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	if order == binary.BigEndian {
		hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2MSB)
	}
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	if len(progs) > 0 {
		hdr.Phoff = ehsize
	}
	if !b.NoSectionHeaders {
		hdr.Shoff = shoff
		hdr.Shnum = uint16(len(shdrs))
		hdr.Shstrndx = uint16(len(shdrs) - 1)
	}

	out := &bytes.Buffer{}
	binary.Write(out, order, hdr)
	for _, p := range progs {
		binary.Write(out, order, p)
	}
	out.Write(make([]byte, align(uint64(out.Len()), 16)-uint64(out.Len())))
	out.Write(body.Bytes())
	if !b.NoSectionHeaders {
		for _, h := range shdrs {
			binary.Write(out, order, h)
		}
	}
	return out.Bytes()
}

// WriteFile renders the image into a file under t.TempDir and returns its path.
func (b *Builder) WriteFile(t testing.TB, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, b.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}
