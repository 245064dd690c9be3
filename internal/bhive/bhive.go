// Package bhive reads basic-block datasets in the BHive CSV layout: one block
// per row, hex encoding in the first column and an optional measured
// throughput in the second.
package bhive

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"opdecode/internal/decodeerr"
)

type Block struct {
	Line          int     `json:"line"`
	Hex           string  `json:"hex"`
	Throughput    float64 `json:"throughput,omitempty"`
	HasThroughput bool    `json:"-"`

	// Err is set when the row itself is malformed. Such rows are still
	// returned so callers can report them next to the decodable ones.
	Err error `json:"-"`
}

type Options struct {
	// Header skips the first record.
	Header bool
}

// Read parses every record from r. Only CSV syntax errors abort the read;
// rows with a missing hex column or a bad throughput carry Block.Err.
func Read(r io.Reader, opts Options) ([]Block, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	var blocks []Block
	first := true
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			line := 0
			if errors.As(err, &pe) {
				line = pe.Line
			}
			return nil, decodeerr.WithLine(decodeerr.Wrap(decodeerr.InvalidInput, err, "read csv"), line)
		}
		line, _ := cr.FieldPos(0)
		if first {
			first = false
			if opts.Header {
				continue
			}
		}
		blocks = append(blocks, parseRecord(rec, line))
	}
	return blocks, nil
}

func parseRecord(rec []string, line int) Block {
	b := Block{Line: line}
	if len(rec) > 0 {
		b.Hex = strings.TrimSpace(rec[0])
	}
	if b.Hex == "" {
		b.Err = decodeerr.WithLine(decodeerr.New(decodeerr.InvalidInput, "empty hex column"), line)
		return b
	}
	if len(rec) > 1 && strings.TrimSpace(rec[1]) != "" {
		tp, err := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
		if err != nil {
			b.Err = decodeerr.WithLine(decodeerr.Wrap(decodeerr.InvalidInput, err, "throughput %q", rec[1]), line)
			return b
		}
		b.Throughput = tp
		b.HasThroughput = true
	}
	return b
}

// ReadFile reads the dataset at path; "-" reads standard input.
func ReadFile(path string, opts Options) ([]Block, error) {
	if path == "-" {
		return Read(os.Stdin, opts)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, decodeerr.WithSource(decodeerr.Wrap(decodeerr.UnreadableFile, err, "open dataset"), "batch", path)
	}
	defer f.Close()

	blocks, err := Read(f, opts)
	if err != nil {
		return nil, decodeerr.WithSource(err, "batch", path)
	}
	return blocks, nil
}

// Summary describes a dataset before decoding.
func Summary(blocks []Block) string {
	bad := 0
	for _, b := range blocks {
		if b.Err != nil {
			bad++
		}
	}
	return fmt.Sprintf("%d blocks (%d malformed)", len(blocks), bad)
}
