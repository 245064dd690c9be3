package disasm

import (
	"encoding/binary"
	"strings"

	"golang.org/x/arch/arm/armasm"
	"golang.org/x/arch/arm64/arm64asm"
	"golang.org/x/arch/ppc64/ppc64asm"
	"golang.org/x/arch/riscv64/riscv64asm"
	"golang.org/x/arch/x86/x86asm"
)

// The x/arch decode functions keep no state between calls, so every decoder
// below is safe for concurrent use.

func builtinBackends() []Backend {
	return []Backend{
		{
			Name:        "x86_64",
			Aliases:     []string{"amd64", "x86-64", "x64"},
			Description: "x86 64-bit mode",
			MinLen:      1,
			MaxLen:      15,
			New:         newX86("x86_64", 64),
		},
		{
			Name:        "x86",
			Aliases:     []string{"386", "i386", "i686", "x86_32"},
			Description: "x86 32-bit protected mode",
			MinLen:      1,
			MaxLen:      15,
			New:         newX86("x86", 32),
		},
		{
			Name:        "x86_16",
			Aliases:     []string{"8086", "i8086"},
			Description: "x86 16-bit real mode",
			MinLen:      1,
			MaxLen:      15,
			New:         newX86("x86_16", 16),
		},
		{
			Name:        "arm64",
			Aliases:     []string{"aarch64"},
			Description: "ARMv8 A64",
			MinLen:      4,
			MaxLen:      4,
			New: func(Config) (Decoder, error) {
				return arm64Decoder{}, nil
			},
		},
		{
			Name:        "arm",
			Aliases:     []string{"arm32", "armv7"},
			Description: "ARM A32 (no Thumb)",
			MinLen:      4,
			MaxLen:      4,
			New: func(Config) (Decoder, error) {
				return armDecoder{}, nil
			},
		},
		{
			Name:        "ppc64",
			Aliases:     []string{"powerpc64"},
			Description: "POWER 64-bit big-endian",
			MinLen:      4,
			MaxLen:      8,
			New: func(Config) (Decoder, error) {
				return ppc64Decoder{name: "ppc64", order: binary.BigEndian}, nil
			},
		},
		{
			Name:        "ppc64le",
			Aliases:     []string{"powerpc64le"},
			Description: "POWER 64-bit little-endian",
			MinLen:      4,
			MaxLen:      8,
			New: func(Config) (Decoder, error) {
				return ppc64Decoder{name: "ppc64le", order: binary.LittleEndian}, nil
			},
		},
		{
			Name:        "riscv64",
			Aliases:     []string{"rv64", "rv64gc"},
			Description: "RISC-V RV64GC",
			MinLen:      2,
			MaxLen:      4,
			New: func(Config) (Decoder, error) {
				return riscv64Decoder{}, nil
			},
		},
	}
}

type x86Decoder struct {
	name    string
	mode    int
	syntax  Syntax
	symbols SymLookup
}

func newX86(name string, mode int) func(Config) (Decoder, error) {
	return func(cfg Config) (Decoder, error) {
		return &x86Decoder{name: name, mode: mode, syntax: cfg.Syntax, symbols: cfg.Symbols}, nil
	}
}

func (d *x86Decoder) Arch() string { return d.name }

func (d *x86Decoder) Decode(code []byte, pc uint64) (Inst, error) {
	inst, err := x86asm.Decode(code, d.mode)
	if err != nil {
		return Inst{}, err
	}
	var text string
	switch d.syntax {
	case SyntaxIntel:
		text = x86asm.IntelSyntax(inst, pc, x86asm.SymLookup(d.symbols))
	case SyntaxGo:
		text = x86asm.GoSyntax(inst, pc, x86asm.SymLookup(d.symbols))
	default:
		text = x86asm.GNUSyntax(inst, pc, x86asm.SymLookup(d.symbols))
	}
	return Inst{
		Opcode:  uint32(inst.Op),
		Op:      strings.ToLower(inst.Op.String()),
		Len:     inst.Len,
		Text:    text,
		Payload: inst,
	}, nil
}

type arm64Decoder struct{}

func (arm64Decoder) Arch() string { return "arm64" }

func (arm64Decoder) Decode(code []byte, pc uint64) (Inst, error) {
	inst, err := arm64asm.Decode(code)
	if err != nil {
		return Inst{}, err
	}
	return Inst{
		Opcode:  uint32(inst.Op),
		Op:      strings.ToLower(inst.Op.String()),
		Len:     4,
		Text:    arm64asm.GNUSyntax(inst),
		Payload: inst,
	}, nil
}

type armDecoder struct{}

func (armDecoder) Arch() string { return "arm" }

func (armDecoder) Decode(code []byte, pc uint64) (Inst, error) {
	inst, err := armasm.Decode(code, armasm.ModeARM)
	if err != nil {
		return Inst{}, err
	}
	return Inst{
		Opcode:  uint32(inst.Op),
		Op:      strings.ToLower(inst.Op.String()),
		Len:     inst.Len,
		Text:    armasm.GNUSyntax(inst),
		Payload: inst,
	}, nil
}

type ppc64Decoder struct {
	name  string
	order binary.ByteOrder
}

func (d ppc64Decoder) Arch() string { return d.name }

func (d ppc64Decoder) Decode(code []byte, pc uint64) (Inst, error) {
	inst, err := ppc64asm.Decode(code, d.order)
	if err != nil {
		return Inst{}, err
	}
	return Inst{
		Opcode:  uint32(inst.Op),
		Op:      strings.ToLower(inst.Op.String()),
		Len:     inst.Len,
		Text:    ppc64asm.GNUSyntax(inst, pc),
		Payload: inst,
	}, nil
}

type riscv64Decoder struct{}

func (riscv64Decoder) Arch() string { return "riscv64" }

func (riscv64Decoder) Decode(code []byte, pc uint64) (Inst, error) {
	inst, err := riscv64asm.Decode(code)
	if err != nil {
		return Inst{}, err
	}
	return Inst{
		Opcode:  uint32(inst.Op),
		Op:      strings.ToLower(inst.Op.String()),
		Len:     inst.Len,
		Text:    riscv64asm.GNUSyntax(inst),
		Payload: inst,
	}, nil
}
