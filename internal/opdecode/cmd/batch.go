package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"opdecode/internal/bhive"
	"opdecode/internal/decodeerr"
	"opdecode/internal/disasm"
	"opdecode/internal/session"
)

func newBatchCmd(a *app) *cobra.Command {
	var noHeader bool

	cmd := &cobra.Command{
		Use:   "batch FILE",
		Short: "Decode every basic block of a BHive-style CSV dataset",
		Long: `Decode a CSV dataset with one hex-encoded basic block per row in the first
column and an optional throughput in the second. The first line is a header
unless --no-header is given; "-" reads standard input. Rows are decoded in
parallel with one shared decoder handle. A failing row is reported on its own
line; --fail-fast turns the first failure into the command's error.`,
		Example: `
opdecode batch bhive/skl.csv -o text --workers 8
opdecode batch blocks.csv --fail-fast -o json
  `,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			blocks, err := bhive.ReadFile(path, bhive.Options{Header: !noHeader})
			if err != nil {
				return err
			}
			slog.Debug("dataset loaded", "path", path, "summary", bhive.Summary(blocks))

			arch := a.cfg.Arch
			if arch == "" {
				arch = defaultHexArch
			}
			s := session.New(
				session.WithLenientHex(a.cfg.AllowSpace),
				session.WithDecoderOptions(disasm.WithSyntax(a.cfg.syntax())),
			)
			defer s.Close()

			res, err := s.RunBatch(cmd.Context(), blocks, arch, a.cfg.Workers, a.cfg.FailFast)
			if err != nil {
				return decodeerr.WithSource(err, "batch", path)
			}
			if res.Failed > 0 {
				slog.Warn("some rows could not be decoded", "failed", res.Failed, "rows", len(res.Rows))
			}

			l := &listing{Source: "batch", Path: path, Arch: res.Arch, Syntax: a.cfg.Syntax}
			for _, row := range res.Rows {
				err := row.Err
				if err != nil {
					err = decodeerr.WithSource(err, "batch", path)
				}
				l.Blocks = append(l.Blocks, block{Line: row.Line, Stream: row.Stream, Err: err})
			}
			out := cmd.OutOrStdout()
			return render(out, l, a.cfg.Format, a.colorFor(out))
		},
	}

	f := cmd.Flags()
	f.Bool("allow-space", false, "Strip whitespace from hex blocks")
	f.Int("workers", 0, "Parallel decoders (0 uses GOMAXPROCS)")
	f.Bool("fail-fast", false, "Stop at the first row that fails to decode")
	f.BoolVar(&noHeader, "no-header", false, "The first line is data, not a header")
	return cmd
}
