package analysis

import (
	"debug/elf"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opdecode/internal/disasm"
	"opdecode/internal/elfx"
	"opdecode/internal/elfx/elftest"
)

func TestHistogram(t *testing.T) {
	a := disasm.Stream{
		{Opcode: 7, Op: "mov", Len: 3},
		{Opcode: 2, Op: "add", Len: 4},
		{Opcode: 7, Op: "mov", Len: 3},
	}
	b := disasm.Stream{{Opcode: 1, Op: "ret", Len: 1}, {Opcode: 2, Op: "add", Len: 2}}

	got := Histogram(a, b)
	assert.Equal(t, []OpCount{
		{Opcode: 2, Op: "add", Count: 2, Bytes: 6},
		{Opcode: 7, Op: "mov", Count: 2, Bytes: 6},
		{Opcode: 1, Op: "ret", Count: 1, Bytes: 1},
	}, got)

	assert.Empty(t, Histogram())
}

func TestHistogramMarkdown(t *testing.T) {
	rows := []OpCount{{Opcode: 7, Op: "mov", Count: 3, Bytes: 9}, {Opcode: 1, Op: "ret", Count: 1, Bytes: 1}}

	md := HistogramMarkdown(rows, 0)
	assert.Contains(t, md, "| 7 | `mov` | 3 | 75.0% | 9 |")
	assert.Contains(t, md, "| 1 | `ret` | 1 | 25.0% | 1 |")

	md = HistogramMarkdown(rows, 1)
	assert.Equal(t, 3, strings.Count(md, "\n"))
	assert.Contains(t, md, "75.0%", "share is computed over every row")
}

func TestCachedDemangle(t *testing.T) {
	assert.Equal(t, "ns::f(int)", CachedDemangle("_ZN2ns1fEi"))
	assert.Equal(t, "ns::f(int)", CachedDemangle("_ZN2ns1fEi"))
	assert.Equal(t, "main", CachedDemangle("main"))

	total, hits, top := GetDemangleCacheStats()
	assert.GreaterOrEqual(t, total, 2)
	assert.GreaterOrEqual(t, hits, 1)
	assert.NotEmpty(t, top)
}

func testImage(t *testing.T) *elfx.Image {
	t.Helper()
	b := elftest.New(elf.EM_X86_64).
		Text(".text", 0x1000, make([]byte, 32)).
		Func("main", ".text", 0x1000, 8).
		Func("_ZN2ns1fEi", ".text", 0x1010, 16)
	im, err := elfx.NewImage(b.Bytes())
	require.NoError(t, err)
	t.Cleanup(func() { im.Close() })
	return im
}

func TestFindSymbol(t *testing.T) {
	im := testImage(t)

	for _, name := range []string{"_ZN2ns1fEi", "ns::f(int)", "ns::f"} {
		sym, ok := FindSymbol(im, name)
		require.True(t, ok, name)
		assert.Equal(t, uint64(0x1010), sym.Addr)
	}
	_, ok := FindSymbol(im, "ns")
	assert.False(t, ok)
}

func TestSymbolTable(t *testing.T) {
	tab := NewSymbolTable(testImage(t))
	assert.Equal(t, 2, tab.Len())

	name, base := tab.Lookup(0x1004)
	assert.Equal(t, "main", name)
	assert.Equal(t, uint64(0x1000), base)

	name, _ = tab.Lookup(0x1009) // gap between main and ns::f
	assert.Empty(t, name)
	name, _ = tab.Lookup(0x0fff)
	assert.Empty(t, name)

	label, ok := tab.Label(0x1010)
	assert.True(t, ok)
	assert.Equal(t, "ns::f(int)", label)
	_, ok = tab.Label(0x1011)
	assert.False(t, ok)

	var nilTab *SymbolTable
	name, _ = nilTab.Lookup(0x1000)
	assert.Empty(t, name)
}
