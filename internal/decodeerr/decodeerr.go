// Package decodeerr defines the error values shared by the hex, object-file
// and decode-loop layers.
//
// Every failure is an *Error tagged with a Kind. Kind itself implements error
// so callers can test with errors.Is(err, decodeerr.UndecodableBytes) and
// still reach the location context through errors.As.
package decodeerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a decode failure.
type Kind int

const (
	Unknown Kind = iota
	InvalidLength
	InvalidDigit
	UnknownArchitecture
	UnreadableFile
	UnparsableObject
	UndecodableBytes
	InvalidInput
)

var kindNames = map[Kind]string{
	Unknown:             "unknown",
	InvalidLength:       "invalid length",
	InvalidDigit:        "invalid digit",
	UnknownArchitecture: "unknown architecture",
	UnreadableFile:      "unreadable file",
	UnparsableObject:    "unparsable object",
	UndecodableBytes:    "undecodable bytes",
	InvalidInput:        "invalid input",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error lets a Kind be used as an errors.Is target.
func (k Kind) Error() string { return k.String() }

// Error is a terminal decode failure with enough context to locate it.
type Error struct {
	Kind    Kind
	Msg     string
	Source  string // "hex", "object" or "batch"
	Path    string // object or CSV file
	Section string // section or symbol being decoded
	Line    int    // 1-based CSV line for batch rows
	Offset  int    // byte offset (decode) or character index (hex); -1 when unset
	Addr    uint64 // logical address of the failure, valid when HasAddr
	HasAddr bool
	Err     error
}

// New returns an Error of kind k with no location.
func New(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...), Offset: -1}
}

// Wrap returns an Error of kind k wrapping cause.
func Wrap(k Kind, cause error, format string, args ...any) *Error {
	e := New(k, format, args...)
	e.Err = cause
	return e
}

// At returns an Error of kind k located at offset.
func At(k Kind, offset int, format string, args ...any) *Error {
	e := New(k, format, args...)
	e.Offset = offset
	return e
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.String())
	var where []string
	if e.Source != "" {
		where = append(where, e.Source)
	}
	if e.Path != "" {
		where = append(where, e.Path)
	}
	if e.Line > 0 {
		where = append(where, fmt.Sprintf("line %d", e.Line))
	}
	if e.Section != "" {
		where = append(where, e.Section)
	}
	if e.Offset >= 0 {
		where = append(where, fmt.Sprintf("offset %d", e.Offset))
	}
	if e.HasAddr {
		where = append(where, fmt.Sprintf("address %#x", e.Addr))
	}
	if len(where) > 0 {
		sb.WriteString(" (")
		sb.WriteString(strings.Join(where, ", "))
		sb.WriteString(")")
	}
	if e.Msg != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Msg)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the Kind of e.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// KindOf returns the Kind of the first *Error in err's chain, or Unknown.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return Unknown
}

// WithSource returns err with its Source and Path filled in when err is an
// *Error that does not carry them yet. Other errors are returned unchanged.
func WithSource(err error, source, path string) error {
	var de *Error
	if !errors.As(err, &de) {
		return err
	}
	c := *de
	if c.Source == "" {
		c.Source = source
	}
	if c.Path == "" {
		c.Path = path
	}
	return &c
}

// WithSection returns err with its Section filled in.
func WithSection(err error, section string) error {
	var de *Error
	if !errors.As(err, &de) {
		return err
	}
	c := *de
	if c.Section == "" {
		c.Section = section
	}
	return &c
}

// WithLine returns err tagged with a 1-based input line.
func WithLine(err error, line int) error {
	var de *Error
	if !errors.As(err, &de) {
		return err
	}
	c := *de
	c.Line = line
	return &c
}
