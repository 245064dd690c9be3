package elfx

import (
	"debug/elf"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opdecode/internal/decodeerr"
	"opdecode/internal/elfx/elftest"
)

var movBlock = []byte{0x48, 0x89, 0xde, 0x48, 0x89, 0xc2, 0x4c, 0x89, 0xff}

func TestOpenListsExecSections(t *testing.T) {
	b := elftest.New(elf.EM_X86_64).
		Text(".text", 0x401000, movBlock).
		Data(".data", 0x402000, []byte("hello")).
		Text(".init", 0x403000, []byte{0xc3})
	b.Segments = true
	path := b.WriteFile(t, "a.out")

	im, err := Open(path)
	require.NoError(t, err)
	defer im.Close()

	assert.Equal(t, path, im.Path)
	assert.Equal(t, "x86_64", im.Arch())

	var names []string
	for s := range im.ExecSections() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{".text", ".init"}, names)

	text, ok := im.Section(".text")
	require.True(t, ok)
	assert.Equal(t, uint64(0x401000), text.VA)
	assert.Equal(t, uint64(len(movBlock)), text.Size)
	assert.Equal(t, movBlock, text.Data)

	data, ok := im.Section(".data")
	require.True(t, ok)
	assert.False(t, data.Exec)
}

func TestSectionsStopEarly(t *testing.T) {
	im, err := NewImage(elftest.New(elf.EM_X86_64).
		Text(".a", 0x1000, []byte{0x90}).
		Text(".b", 0x2000, []byte{0x90}).
		Bytes())
	require.NoError(t, err)
	defer im.Close()

	n := 0
	for range im.ExecSections() {
		n++
		break
	}
	assert.Equal(t, 1, n)
}

func TestNoBitsIsNotCode(t *testing.T) {
	b := elftest.New(elf.EM_X86_64).Text(".text", 0x1000, []byte{0xc3})
	b.Sections = append(b.Sections, elftest.Section{Name: ".tbss", Addr: 0x3000, Exec: true, NoBits: true, Size: 64})
	im, err := NewImage(b.Bytes())
	require.NoError(t, err)
	defer im.Close()

	var names []string
	for s := range im.ExecSections() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{".text"}, names)
}

func TestFallbackToExecutableSegment(t *testing.T) {
	b := elftest.New(elf.EM_AARCH64).Text(".text", 0x400000, []byte{0x1f, 0x20, 0x03, 0xd5})
	b.Segments = true
	b.NoSectionHeaders = true

	im, err := NewImage(b.Bytes())
	require.NoError(t, err)
	defer im.Close()

	secs := slices.Collect(im.ExecSections())
	require.Len(t, secs, 1)
	assert.Equal(t, "LOAD(exec)", secs[0].Name)
	assert.Equal(t, uint64(0x400000), secs[0].VA)
	assert.Equal(t, []byte{0x1f, 0x20, 0x03, 0xd5}, secs[0].Data)
	assert.Equal(t, "arm64", im.Arch())
}

func TestNoCodeSections(t *testing.T) {
	im, err := NewImage(elftest.New(elf.EM_X86_64).Data(".data", 0x1000, []byte{1, 2, 3}).Bytes())
	require.NoError(t, err)
	defer im.Close()
	assert.Empty(t, slices.Collect(im.ExecSections()))
}

func TestArchFromMachine(t *testing.T) {
	tests := []struct {
		machine elf.Machine
		order   binary.ByteOrder
		want    string
	}{
		{elf.EM_X86_64, nil, "x86_64"},
		{elf.EM_386, nil, "x86"},
		{elf.EM_AARCH64, nil, "arm64"},
		{elf.EM_ARM, nil, "arm"},
		{elf.EM_PPC64, nil, "ppc64le"},
		{elf.EM_PPC64, binary.BigEndian, "ppc64"},
		{elf.EM_RISCV, nil, "riscv64"},
		{elf.EM_MIPS, nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			b := elftest.New(tt.machine).Text(".text", 0x1000, []byte{0, 0, 0, 0})
			b.Order = tt.order
			im, err := NewImage(b.Bytes())
			require.NoError(t, err)
			defer im.Close()
			assert.Equal(t, tt.want, im.Arch())
		})
	}
}

func TestOpenErrors(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	junk := filepath.Join(dir, "junk")
	require.NoError(t, os.WriteFile(junk, []byte("#!/bin/sh\necho not elf\n"), 0o644))

	tests := []struct {
		name string
		path string
		want decodeerr.Kind
	}{
		{"missing", filepath.Join(dir, "nope"), decodeerr.UnreadableFile},
		{"directory", dir, decodeerr.UnreadableFile},
		{"empty", empty, decodeerr.UnparsableObject},
		{"not elf", junk, decodeerr.UnparsableObject},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			im, err := Open(tt.path)
			assert.Nil(t, im)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestSliceVA(t *testing.T) {
	b := elftest.New(elf.EM_X86_64).Text(".text", 0x401000, movBlock)
	b.Segments = true
	im, err := NewImage(b.Bytes())
	require.NoError(t, err)
	defer im.Close()

	got, ok := im.SliceVA(0x401003, 3)
	require.True(t, ok)
	assert.Equal(t, movBlock[3:6], got)

	_, ok = im.SliceVA(0x500000, 1)
	assert.False(t, ok)

	got, ok = im.SliceVA(0x401000, 0)
	assert.True(t, ok)
	assert.Empty(t, got)
}

func TestSliceVAStaysInSegment(t *testing.T) {
	b := elftest.New(elf.EM_X86_64).
		Text(".text", 0x401000, movBlock).
		Data(".data", 0x402000, []byte{0xff, 0xff, 0xff, 0xff})
	b.Segments = true
	im, err := NewImage(b.Bytes())
	require.NoError(t, err)
	defer im.Close()

	got, ok := im.SliceVA(0x401006, 3)
	require.True(t, ok, "range ending at the segment end")
	assert.Equal(t, movBlock[6:], got)

	_, ok = im.SliceVA(0x401006, 4)
	assert.False(t, ok, "the file has bytes after .text but the segment ends")

	_, ok = im.SliceVA(0x401000, ^uint64(0))
	assert.False(t, ok)
}

func TestSymbolBytes(t *testing.T) {
	b := elftest.New(elf.EM_X86_64).
		Text(".text", 0x401000, movBlock).
		Func("first", ".text", 0x401000, 3).
		Func("rest", ".text", 0x401003, 6)
	im, err := NewImage(b.Bytes())
	require.NoError(t, err)
	defer im.Close()

	sym, ok := im.FindFunctionByName("rest")
	require.True(t, ok)
	assert.True(t, sym.Func)

	code, addr, ok := im.SymbolBytes(sym)
	require.True(t, ok)
	assert.Equal(t, uint64(0x401003), addr)
	assert.Equal(t, movBlock[3:], code)

	_, ok = im.FindFunctionByName("missing")
	assert.False(t, ok)
	assert.Len(t, im.Symbols(), 2)
}

func TestRelocatableSymbolBytes(t *testing.T) {
	b := elftest.New(elf.EM_X86_64).
		Text(".text", 0, movBlock).
		Func("f", ".text", 6, 3)
	b.Type = elf.ET_REL
	im, err := NewImage(b.Bytes())
	require.NoError(t, err)
	defer im.Close()

	sym, ok := im.FindFunctionByName("f")
	require.True(t, ok)
	code, addr, ok := im.SymbolBytes(sym)
	require.True(t, ok)
	assert.Equal(t, uint64(6), addr)
	assert.Equal(t, movBlock[6:], code)
}
