package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/hokaccha/go-prettyjson"
	"github.com/olekukonko/tablewriter"

	"opdecode/internal/analysis"
	"opdecode/internal/disasm"
	"opdecode/internal/hexcode"
	"opdecode/internal/opdecode/styles"
	"opdecode/internal/ui/colorize"
)

// block is one independently decoded stream: a section, a symbol, an
// address range, a hex string or a batch row.
type block struct {
	Name   string
	VA     uint64
	Line   int
	Stream disasm.Stream
	Err    error
}

// listing is everything a renderer needs.
type listing struct {
	Source  string
	Path    string
	Arch    string
	Syntax  string
	Blocks  []block
	Symbols *analysis.SymbolTable
}

func (l *listing) streams() []disasm.Stream {
	var out []disasm.Stream
	for _, b := range l.Blocks {
		if b.Err == nil {
			out = append(out, b.Stream)
		}
	}
	return out
}

func render(w io.Writer, l *listing, format string, color bool) error {
	switch format {
	case "ids":
		return renderIDs(w, l)
	case "text":
		return renderText(w, l, color)
	case "json":
		return renderJSON(w, l, color)
	case "report":
		return renderReport(w, l, color)
	}
	return fmt.Errorf("unknown format %q", format)
}

// renderIDs prints one opcode identifier per line. Batch rows are printed
// one per line instead, prefixed with their CSV line number.
func renderIDs(w io.Writer, l *listing) error {
	if l.Source == "batch" {
		for _, b := range l.Blocks {
			if b.Err != nil {
				if _, err := fmt.Fprintf(w, "%d\terror: %v\n", b.Line, b.Err); err != nil {
					return err
				}
				continue
			}
			ids := make([]string, len(b.Stream))
			for i, in := range b.Stream {
				ids[i] = strconv.FormatUint(uint64(in.Opcode), 10)
			}
			if _, err := fmt.Fprintf(w, "%d\t%s\n", b.Line, strings.Join(ids, " ")); err != nil {
				return err
			}
		}
		return nil
	}

	for _, b := range l.Blocks {
		for _, in := range b.Stream {
			if _, err := fmt.Fprintln(w, in.Opcode); err != nil {
				return err
			}
		}
	}
	return nil
}

func renderText(w io.Writer, l *listing, color bool) error {
	if l.Source == "batch" {
		return renderBatchTable(w, l)
	}

	c := colorize.New(l.Arch, l.Syntax, color)
	for i, b := range l.Blocks {
		if len(l.Blocks) > 1 || l.Source == "object" {
			if i > 0 {
				fmt.Fprintln(w)
			}
			fmt.Fprintf(w, "Disassembly of %s:\n", b.Name)
		}
		for _, in := range b.Stream {
			if name, ok := l.Symbols.Label(in.VA); ok {
				fmt.Fprintf(w, "\n%s\n", c.Label(fmt.Sprintf("%016x <%s>:", in.VA, name)))
			}
			addr := fmt.Sprintf("%8x:", in.VA)
			raw := fmt.Sprintf("%-24s", spacedHex(in.Raw))
			if _, err := fmt.Fprintln(w, c.InstructionLine(addr, raw, in.Text)); err != nil {
				return err
			}
		}
	}
	return nil
}

func spacedHex(b []byte) string {
	h := hexcode.Encode(b)
	var sb strings.Builder
	for i := 0; i < len(h); i += 2 {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(h[i : i+2])
	}
	return sb.String()
}

func renderBatchTable(w io.Writer, l *listing) error {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Line", "Instructions", "Bytes", "Status"})
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	total, failed := 0, 0
	for _, b := range l.Blocks {
		status := "ok"
		if b.Err != nil {
			failed++
			status = b.Err.Error()
		}
		total += len(b.Stream)
		table.Append([]string{
			strconv.Itoa(b.Line),
			strconv.Itoa(len(b.Stream)),
			strconv.Itoa(b.Stream.Size()),
			status,
		})
	}
	table.SetFooter([]string{"", strconv.Itoa(total), "", fmt.Sprintf("%d failed", failed)})
	table.Render()
	return nil
}

type instJSON struct {
	Addr   string `json:"addr"`
	Opcode uint32 `json:"opcode"`
	Op     string `json:"op"`
	Len    int    `json:"len"`
	Bytes  string `json:"bytes"`
	Text   string `json:"text"`
}

type blockJSON struct {
	Name         string     `json:"name,omitempty"`
	VA           string     `json:"va,omitempty"`
	Line         int        `json:"line,omitempty"`
	Error        string     `json:"error,omitempty"`
	Instructions []instJSON `json:"instructions"`
}

type listingJSON struct {
	Source string      `json:"source"`
	Path   string      `json:"path,omitempty"`
	Arch   string      `json:"arch"`
	Blocks []blockJSON `json:"blocks"`
}

func toJSON(l *listing) listingJSON {
	out := listingJSON{Source: l.Source, Path: l.Path, Arch: l.Arch, Blocks: make([]blockJSON, 0, len(l.Blocks))}
	for _, b := range l.Blocks {
		bj := blockJSON{Name: b.Name, Line: b.Line, Instructions: make([]instJSON, 0, len(b.Stream))}
		if l.Source == "object" {
			bj.VA = fmt.Sprintf("%#x", b.VA)
		}
		if b.Err != nil {
			bj.Error = b.Err.Error()
		}
		for _, in := range b.Stream {
			bj.Instructions = append(bj.Instructions, instJSON{
				Addr:   fmt.Sprintf("%#x", in.VA),
				Opcode: in.Opcode,
				Op:     in.Op,
				Len:    in.Len,
				Bytes:  hexcode.Encode(in.Raw),
				Text:   in.Text,
			})
		}
		out.Blocks = append(out.Blocks, bj)
	}
	return out
}

func renderJSON(w io.Writer, l *listing, color bool) error {
	var (
		data []byte
		err  error
	)
	if color {
		data, err = prettyjson.Marshal(toJSON(l))
	} else {
		data, err = json.MarshalIndent(toJSON(l), "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func reportMarkdown(l *listing) string {
	rows := analysis.Histogram(l.streams()...)
	count, size, failed := 0, 0, 0
	for _, b := range l.Blocks {
		count += len(b.Stream)
		size += b.Stream.Size()
		if b.Err != nil {
			failed++
		}
	}

	var sb strings.Builder
	sb.WriteString("# Opcode report\n\n")
	fmt.Fprintf(&sb, "- **Source:** %s\n", l.Source)
	if l.Path != "" {
		fmt.Fprintf(&sb, "- **Path:** `%s`\n", l.Path)
	}
	fmt.Fprintf(&sb, "- **Architecture:** %s\n", l.Arch)
	fmt.Fprintf(&sb, "- **Instructions:** %d\n", count)
	fmt.Fprintf(&sb, "- **Bytes:** %d\n", size)
	fmt.Fprintf(&sb, "- **Distinct opcodes:** %d\n", len(rows))
	if l.Source == "batch" {
		fmt.Fprintf(&sb, "- **Rows:** %d (%d failed)\n", len(l.Blocks), failed)
	}

	if l.Source == "object" && len(l.Blocks) > 0 {
		sb.WriteString("\n## Sections\n\n| section | address | instructions | bytes |\n|:---|---:|---:|---:|\n")
		for _, b := range l.Blocks {
			fmt.Fprintf(&sb, "| `%s` | %#x | %d | %d |\n", b.Name, b.VA, len(b.Stream), b.Stream.Size())
		}
	}

	sb.WriteString("\n## Opcodes\n\n")
	if len(rows) == 0 {
		sb.WriteString("No instructions decoded.\n")
	} else {
		sb.WriteString(analysis.HistogramMarkdown(rows, 25))
	}
	return sb.String()
}

func renderReport(w io.Writer, l *listing, color bool) error {
	out, err := styles.RenderMarkdown(reportMarkdown(l), 100, !color)
	if err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	_, err = io.WriteString(w, out)
	return err
}
