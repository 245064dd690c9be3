// Package hexcode converts ASCII hex text into machine-code byte buffers.
package hexcode

import (
	"strings"

	"opdecode/internal/decodeerr"
)

const invalidNibble = 0xff

func nibble(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	}
	return invalidNibble
}

// IsSpace reports whether c is ASCII whitespace accepted by DecodeLenient.
func IsSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}

// Decode converts text into bytes, two characters per byte, high nibble
// first. It fails with decodeerr.InvalidLength on odd-length input and with
// decodeerr.InvalidDigit at the index of the first non-hex character.
// Whitespace is not a hex digit and is rejected.
func Decode(text string) ([]byte, error) {
	if len(text)%2 != 0 {
		return nil, decodeerr.At(decodeerr.InvalidLength, len(text), "hex text has odd length %d", len(text))
	}
	out := make([]byte, 0, len(text)/2)
	for i := 0; i < len(text); i += 2 {
		hi, lo := nibble(text[i]), nibble(text[i+1])
		if hi == invalidNibble {
			return nil, decodeerr.At(decodeerr.InvalidDigit, i, "character %q is not a hex digit", text[i])
		}
		if lo == invalidNibble {
			return nil, decodeerr.At(decodeerr.InvalidDigit, i+1, "character %q is not a hex digit", text[i+1])
		}
		out = append(out, hi<<4|lo)
	}
	return out, nil
}

// DecodeLenient strips ASCII whitespace from text and decodes the rest with
// Decode. Error offsets refer to the stripped text.
func DecodeLenient(text string) ([]byte, error) {
	kept := make([]byte, 0, len(text))
	for i := 0; i < len(text); i++ {
		if c := text[i]; !IsSpace(c) {
			kept = append(kept, c)
		}
	}
	return Decode(string(kept))
}

const digits = "0123456789abcdef"

// Encode renders b as lowercase hex text.
func Encode(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b) * 2)
	for _, v := range b {
		sb.WriteByte(digits[v>>4])
		sb.WriteByte(digits[v&0x0f])
	}
	return sb.String()
}
