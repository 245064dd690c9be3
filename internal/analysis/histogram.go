package analysis

import (
	"fmt"
	"sort"
	"strings"

	"opdecode/internal/disasm"
)

// OpCount is one row of an opcode histogram.
type OpCount struct {
	Opcode uint32 `json:"opcode"`
	Op     string `json:"op"`
	Count  int    `json:"count"`
	Bytes  int    `json:"bytes"`
}

// Histogram counts instructions per opcode id across streams. Rows are
// ordered by descending count, then by opcode id.
func Histogram(streams ...disasm.Stream) []OpCount {
	idx := make(map[uint32]int)
	var rows []OpCount
	for _, s := range streams {
		for _, in := range s {
			i, ok := idx[in.Opcode]
			if !ok {
				i = len(rows)
				idx[in.Opcode] = i
				rows = append(rows, OpCount{Opcode: in.Opcode, Op: in.Op})
			}
			rows[i].Count++
			rows[i].Bytes += in.Len
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].Opcode < rows[j].Opcode
	})
	return rows
}

// HistogramMarkdown renders rows as a markdown table; top <= 0 keeps every row.
func HistogramMarkdown(rows []OpCount, top int) string {
	total := 0
	for _, r := range rows {
		total += r.Count
	}
	if top > 0 && len(rows) > top {
		rows = rows[:top]
	}

	var sb strings.Builder
	sb.WriteString("| opcode | mnemonic | count | share | bytes |\n")
	sb.WriteString("|---:|:---|---:|---:|---:|\n")
	for _, r := range rows {
		share := 0.0
		if total > 0 {
			share = 100 * float64(r.Count) / float64(total)
		}
		fmt.Fprintf(&sb, "| %d | `%s` | %d | %.1f%% | %d |\n", r.Opcode, r.Op, r.Count, share, r.Bytes)
	}
	return sb.String()
}
