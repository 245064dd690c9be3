package session

import (
	"context"
	"log/slog"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"opdecode/internal/bhive"
	"opdecode/internal/decodeerr"
	"opdecode/internal/disasm"
)

// Row is the outcome of decoding one dataset block.
type Row struct {
	Line   int           `json:"line"`
	Hex    string        `json:"hex"`
	Stream disasm.Stream `json:"-"`
	Err    error         `json:"-"`
}

type BatchResult struct {
	Arch   string `json:"arch"`
	Rows   []Row  `json:"rows"`
	Failed int    `json:"failed"`
}

// Streams returns the streams of the rows that decoded.
func (r *BatchResult) Streams() []disasm.Stream {
	var out []disasm.Stream
	for _, row := range r.Rows {
		if row.Err == nil {
			out = append(out, row.Stream)
		}
	}
	return out
}

// RunBatch decodes every block with one shared handle on at most workers
// goroutines (GOMAXPROCS when workers <= 0). Each row succeeds or fails on
// its own and rows keep dataset order. With failFast the error of the
// earliest failing row in dataset order is returned and no result is
// produced; rows after it are skipped once it is known.
func (s *Session) RunBatch(ctx context.Context, blocks []bhive.Block, arch string, workers int, failFast bool) (*BatchResult, error) {
	dec, err := s.Decoder(arch)
	if err != nil {
		return nil, decodeerr.WithSource(err, "batch", "")
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	res := &BatchResult{Arch: dec.Arch(), Rows: make([]Row, len(blocks))}

	// lowest index of a failed row; rows past it are not worth decoding
	var firstFail atomic.Int64
	firstFail.Store(int64(len(blocks)))
	skip := func(i int) bool {
		return failFast && int64(i) > firstFail.Load()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, b := range blocks {
		if gctx.Err() != nil || skip(i) {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if skip(i) {
				return nil
			}
			row := Row{Line: b.Line, Hex: b.Hex}
			err := b.Err
			if err == nil {
				var code []byte
				if code, err = s.decodeHex(b.Hex); err == nil {
					row.Stream, err = disasm.Run(code, dec, 0)
				}
			}
			if err != nil {
				row.Err = decodeerr.WithLine(decodeerr.WithSource(err, "batch", ""), b.Line)
				for cur := firstFail.Load(); int64(i) < cur; cur = firstFail.Load() {
					if firstFail.CompareAndSwap(cur, int64(i)) {
						break
					}
				}
			}
			res.Rows[i] = row
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if i := firstFail.Load(); failFast && i < int64(len(blocks)) {
		return nil, res.Rows[i].Err
	}

	for _, row := range res.Rows {
		if row.Err != nil {
			res.Failed++
		}
	}
	slog.Debug("batch decoded", "arch", res.Arch, "rows", len(res.Rows), "failed", res.Failed, "workers", workers)
	return res, nil
}
