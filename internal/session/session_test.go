package session

import (
	"context"
	"debug/elf"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opdecode/internal/bhive"
	"opdecode/internal/decodeerr"
	"opdecode/internal/disasm"
	"opdecode/internal/elfx"
	"opdecode/internal/elfx/elftest"
)

// countingFactory wraps RegistryFactory and counts handle constructions.
type countingFactory struct {
	built   atomic.Int32
	decodes atomic.Int32
}

type countingDecoder struct {
	disasm.Decoder
	f *countingFactory
}

func (d countingDecoder) Decode(code []byte, pc uint64) (disasm.Inst, error) {
	d.f.decodes.Add(1)
	return d.Decoder.Decode(code, pc)
}

func (f *countingFactory) New(arch string, opts ...disasm.Option) (disasm.Decoder, error) {
	dec, err := RegistryFactory(arch, opts...)
	if err != nil {
		return nil, err
	}
	f.built.Add(1)
	return countingDecoder{Decoder: dec, f: f}, nil
}

func TestRunHexMovBlock(t *testing.T) {
	s := New()
	defer s.Close()

	st, err := s.RunHex("4889de4889c24c89ff", "x86_64")
	require.NoError(t, err)
	require.Len(t, st, 3)
	assert.Equal(t, 9, st.Size())
	for _, in := range st {
		assert.Equal(t, "mov", in.Op)
	}
}

func TestRunHexReusesHandle(t *testing.T) {
	f := &countingFactory{}
	s := New(WithFactory(f.New))
	defer s.Close()

	for _, arch := range []string{"x86_64", "amd64", "X86_64"} {
		_, err := s.RunHex("90c3", arch)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), f.built.Load())
}

func TestRunHexUnknownArchitecture(t *testing.T) {
	f := &countingFactory{}
	s := New(WithFactory(f.New))
	defer s.Close()

	st, err := s.RunHex("90", "not-a-real-arch")
	assert.Nil(t, st)
	assert.True(t, errors.Is(err, decodeerr.UnknownArchitecture))
	assert.Zero(t, f.decodes.Load(), "no decode may be attempted")
}

func TestRunHexErrorsCarrySource(t *testing.T) {
	s := New()
	defer s.Close()

	tests := []struct {
		text   string
		kind   decodeerr.Kind
		offset int
	}{
		{"489", decodeerr.InvalidLength, 3},
		{"48zz", decodeerr.InvalidDigit, 2},
		{"48 89", decodeerr.InvalidLength, 5},
		{"4889de48", decodeerr.UndecodableBytes, 3},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			_, err := s.RunHex(tt.text, "x86_64")
			var de *decodeerr.Error
			require.True(t, errors.As(err, &de), "got %v", err)
			assert.Equal(t, tt.kind, de.Kind)
			assert.Equal(t, tt.offset, de.Offset)
			assert.Equal(t, "hex", de.Source)
		})
	}
}

func TestRunHexLenient(t *testing.T) {
	s := New(WithLenientHex(true))
	defer s.Close()

	st, err := s.RunHex("48 89 de\n48 89 c2\t4c89ff", "x86_64")
	require.NoError(t, err)
	assert.Len(t, st, 3)
}

func TestClosedSession(t *testing.T) {
	s := New()
	require.NoError(t, s.Close())
	_, err := s.RunHex("90", "x86_64")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDecoderConcurrent(t *testing.T) {
	f := &countingFactory{}
	s := New(WithFactory(f.New))
	defer s.Close()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Decoder("arm64")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), f.built.Load())
}

var movBlock = []byte{0x48, 0x89, 0xde, 0x48, 0x89, 0xc2, 0x4c, 0x89, 0xff}

func objectImage(t *testing.T, b *elftest.Builder) *elfx.Image {
	t.Helper()
	im, err := elfx.NewImage(b.Bytes())
	require.NoError(t, err)
	im.Path = "test.o"
	t.Cleanup(func() { im.Close() })
	return im
}

func TestRunObjectConsumesWholeSection(t *testing.T) {
	code := append(append([]byte{}, movBlock...), 0x90, 0x90, 0xc3)
	im := objectImage(t, elftest.New(elf.EM_X86_64).Text(".text", 0x401000, code))

	s := New()
	defer s.Close()
	res, err := s.RunObject(im, "")
	require.NoError(t, err)
	assert.Equal(t, "x86_64", res.Arch)
	require.Len(t, res.Sections, 1)
	assert.Equal(t, len(code), res.Size())
	st := res.ByName()[".text"]
	assert.Equal(t, uint64(0x401000), st[0].VA)
	assert.Equal(t, uint64(0x401000+len(code)-1), st[len(st)-1].VA)
}

func TestRunObjectEverySection(t *testing.T) {
	im := objectImage(t, elftest.New(elf.EM_X86_64).
		Text(".init", 0x1000, []byte{0x90, 0xc3}).
		Data(".data", 0x2000, []byte{0xff, 0xff}).
		Text(".text", 0x3000, movBlock))

	s := New()
	defer s.Close()

	res, err := s.RunObject(im, "x86_64")
	require.NoError(t, err)
	require.Len(t, res.Sections, 2)
	assert.Equal(t, ".init", res.Sections[0].Name)
	assert.Equal(t, ".text", res.Sections[1].Name)
	assert.Len(t, res.Streams()[1], 3)

	res, err = s.RunObject(im, "x86_64", ".text")
	require.NoError(t, err)
	require.Len(t, res.Sections, 1)
	assert.Equal(t, ".text", res.Sections[0].Name)

	_, err = s.RunObject(im, "x86_64", ".data")
	assert.True(t, errors.Is(err, decodeerr.InvalidInput))
}

func TestRunObjectRepeatedSectionNames(t *testing.T) {
	im := objectImage(t, elftest.New(elf.EM_X86_64).
		Text(".text", 0, []byte{0xc3}).
		Text(".text", 0, movBlock))

	s := New()
	defer s.Close()
	res, err := s.RunObject(im, "x86_64")
	require.NoError(t, err)
	require.Len(t, res.Sections, 2)

	byName := res.ByName()
	assert.Len(t, byName, 2)
	assert.Len(t, byName[".text"], 1)
	assert.Len(t, byName[".text#2"], 3)
}

func TestRunObjectErrorContext(t *testing.T) {
	im := objectImage(t, elftest.New(elf.EM_X86_64).
		Text(".text", 0x1000, []byte{0x90}).
		Text(".bad", 0x2000, []byte{0x90, 0x48}))

	s := New()
	defer s.Close()
	res, err := s.RunObject(im, "")
	assert.Nil(t, res)

	var de *decodeerr.Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, decodeerr.UndecodableBytes, de.Kind)
	assert.Equal(t, "object", de.Source)
	assert.Equal(t, "test.o", de.Path)
	assert.Equal(t, ".bad", de.Section)
	assert.Equal(t, 1, de.Offset)
	assert.Equal(t, uint64(0x2001), de.Addr)
}

func TestRunObjectUnknownMachine(t *testing.T) {
	im := objectImage(t, elftest.New(elf.EM_MIPS).Text(".text", 0x1000, []byte{0, 0, 0, 0}))
	s := New()
	defer s.Close()
	_, err := s.RunObject(im, "")
	assert.True(t, errors.Is(err, decodeerr.UnknownArchitecture))
}

func TestRunObjectNoCode(t *testing.T) {
	im := objectImage(t, elftest.New(elf.EM_X86_64).Data(".data", 0x1000, []byte{1}))
	s := New()
	defer s.Close()
	res, err := s.RunObject(im, "")
	require.NoError(t, err)
	assert.Empty(t, res.Sections)
	assert.Zero(t, res.Size())
}

func TestRunSymbolAndRange(t *testing.T) {
	b := elftest.New(elf.EM_X86_64).
		Text(".text", 0x401000, movBlock).
		Func("_ZN2ns4swapEv", ".text", 0x401003, 6)
	b.Segments = true
	im := objectImage(t, b)

	s := New()
	defer s.Close()

	res, err := s.RunSymbol(im, "", "ns::swap")
	require.NoError(t, err)
	require.Len(t, res.Sections, 1)
	assert.Equal(t, "ns::swap()", res.Sections[0].Name)
	assert.Equal(t, uint64(0x401003), res.Sections[0].Stream[0].VA)
	assert.Len(t, res.Sections[0].Stream, 2)

	_, err = s.RunSymbol(im, "", "missing")
	assert.True(t, errors.Is(err, decodeerr.InvalidInput))

	res, err = s.RunRange(im, "", 0x401000, 3)
	require.NoError(t, err)
	assert.Len(t, res.Sections[0].Stream, 1)

	_, err = s.RunRange(im, "", 0x900000, 3)
	var de *decodeerr.Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, decodeerr.InvalidInput, de.Kind)
	assert.Equal(t, "[0x900000,+0x3)", de.Section)
}

func blocks() []bhive.Block {
	return []bhive.Block{
		{Line: 2, Hex: "4889de4889c24c89ff"},
		{Line: 3, Hex: "4889de48"},
		{Line: 4, Hex: "c3"},
		{Line: 5, Hex: "zz"},
		{Line: 6, Err: decodeerr.New(decodeerr.InvalidInput, "empty hex column")},
	}
}

func TestRunBatch(t *testing.T) {
	f := &countingFactory{}
	s := New(WithFactory(f.New))
	defer s.Close()

	res, err := s.RunBatch(context.Background(), blocks(), "x86_64", 3, false)
	require.NoError(t, err)
	require.Len(t, res.Rows, 5)
	assert.Equal(t, 3, res.Failed)
	assert.Equal(t, int32(1), f.built.Load(), "one handle serves every row")

	assert.Len(t, res.Rows[0].Stream, 3)
	assert.Len(t, res.Rows[2].Stream, 1)
	assert.Len(t, res.Streams(), 2)

	for i, want := range map[int]decodeerr.Kind{1: decodeerr.UndecodableBytes, 3: decodeerr.InvalidDigit, 4: decodeerr.InvalidInput} {
		var de *decodeerr.Error
		require.True(t, errors.As(res.Rows[i].Err, &de))
		assert.Equal(t, want, de.Kind)
		assert.Equal(t, res.Rows[i].Line, de.Line)
		assert.Equal(t, "batch", de.Source)
	}
}

func TestRunBatchFailFast(t *testing.T) {
	s := New()
	defer s.Close()
	res, err := s.RunBatch(context.Background(), blocks(), "x86_64", 1, true)
	assert.Nil(t, res)

	var de *decodeerr.Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, 3, de.Line)
}

// slowDecoder delays every instruction so a long row finishes after a short one.
type slowDecoder struct{ disasm.Decoder }

func (d slowDecoder) Decode(code []byte, pc uint64) (disasm.Inst, error) {
	time.Sleep(time.Millisecond)
	return d.Decoder.Decode(code, pc)
}

func slowFactory(arch string, opts ...disasm.Option) (disasm.Decoder, error) {
	dec, err := RegistryFactory(arch, opts...)
	if err != nil {
		return nil, err
	}
	return slowDecoder{dec}, nil
}

func TestRunBatchFailFastReportsEarliestRow(t *testing.T) {
	rows := []bhive.Block{
		{Line: 2, Hex: strings.Repeat("90", 40) + "48"},
		{Line: 3, Hex: "zz"},
		{Line: 4, Hex: "c3"},
	}
	for range 5 {
		s := New(WithFactory(slowFactory))
		res, err := s.RunBatch(context.Background(), rows, "x86_64", 3, true)
		s.Close()
		assert.Nil(t, res)

		var de *decodeerr.Error
		require.True(t, errors.As(err, &de))
		assert.Equal(t, 2, de.Line)
		assert.Equal(t, decodeerr.UndecodableBytes, de.Kind)
		assert.Equal(t, 40, de.Offset)
	}
}

func TestRunBatchCancelled(t *testing.T) {
	s := New()
	defer s.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.RunBatch(ctx, blocks(), "x86_64", 2, false)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunBatchUnknownArchitecture(t *testing.T) {
	s := New()
	defer s.Close()
	_, err := s.RunBatch(context.Background(), blocks(), "vax", 2, false)
	assert.True(t, errors.Is(err, decodeerr.UnknownArchitecture))
}
