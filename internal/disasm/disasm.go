// Package disasm defines a common instruction representation used
// across architecture-specific disassemblers, and the loop that walks a
// byte buffer with one of them.
package disasm

import (
	"fmt"
	"strings"

	"opdecode/internal/decodeerr"
)

// Inst is a simplified decoded instruction.
type Inst struct {
	VA      uint64 // logical address of instruction
	Opcode  uint32 // architecture opcode identifier
	Op      string // mnemonic in lowercase
	Len     int    // encoded size in bytes
	Raw     []byte // view of the encoding inside the decoded buffer
	Text    string // formatted disassembly string
	Payload any    // architecture-specific decoded value
}

// String formats the instruction as "address  bytes  assembly".
func (i Inst) String() string {
	return fmt.Sprintf("%-10x %-24s %s", i.VA, hexBytes(i.Raw), i.Text)
}

func hexBytes(b []byte) string {
	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = fmt.Sprintf("%02x", v)
	}
	return strings.Join(parts, " ")
}

// Stream is a linear sequence of instructions.
type Stream []Inst

// Size returns the number of bytes covered by s.
func (s Stream) Size() int {
	n := 0
	for _, in := range s {
		n += in.Len
	}
	return n
}

// Opcodes returns the opcode identifiers of s in order.
func (s Stream) Opcodes() []uint32 {
	ids := make([]uint32, len(s))
	for i, in := range s {
		ids[i] = in.Opcode
	}
	return ids
}

// Decoder decodes one instruction at the start of code. pc is the logical
// address of code[0]. Implementations must be deterministic.
type Decoder interface {
	Arch() string
	Decode(code []byte, pc uint64) (Inst, error)
}

// Run decodes code from the first byte to the last, with code[0] at logical
// address base. It stops at the first position dec cannot decode and returns
// a decodeerr.UndecodableBytes error for that offset; no instructions are
// returned in that case. A result that consumes zero bytes or more than
// remain is treated the same way. An empty buffer yields an empty stream.
func Run(code []byte, dec Decoder, base uint64) (Stream, error) {
	out := make(Stream, 0, len(code)/4)
	for off := 0; off < len(code); {
		pc := base + uint64(off)
		inst, err := dec.Decode(code[off:], pc)
		if err != nil {
			return nil, undecodable(off, pc, err, "%s decoder rejected bytes", dec.Arch())
		}
		if rest := len(code) - off; inst.Len < 1 || inst.Len > rest {
			return nil, undecodable(off, pc, nil, "%s decoder reported size %d with %d bytes left", dec.Arch(), inst.Len, rest)
		}
		inst.VA = pc
		inst.Raw = code[off : off+inst.Len : off+inst.Len]
		out = append(out, inst)
		off += inst.Len
	}
	return out, nil
}

func undecodable(off int, pc uint64, cause error, format string, args ...any) error {
	e := decodeerr.At(decodeerr.UndecodableBytes, off, format, args...)
	e.Addr = pc
	e.HasAddr = true
	e.Err = cause
	return e
}
