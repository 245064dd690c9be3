package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"opdecode/internal/analysis"
	"opdecode/internal/decodeerr"
	"opdecode/internal/disasm"
	"opdecode/internal/elfx"
	"opdecode/internal/session"
)

func newObjCmd(a *app) *cobra.Command {
	var (
		sections []string
		symbol   string
		start    uint64
		length   uint64
	)

	cmd := &cobra.Command{
		Use:   "obj FILE",
		Short: "Decode the executable sections of an ELF object",
		Long: `Decode every executable section of an ELF object or binary, each at its own
virtual address. The architecture comes from the ELF header unless --arch is
given. --section limits decoding to named sections, --symbol to one function
and --start/--length to a virtual address range.`,
		Example: `
opdecode obj ./a.out
opdecode obj ./a.out -o text --symbol main
opdecode obj ./libfoo.so --start 0x1040 --length 64 -o json
  `,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := elfx.Open(args[0])
			if err != nil {
				return decodeerr.WithSource(err, "object", args[0])
			}
			defer img.Close()

			symbols := analysis.NewSymbolTable(img)
			slog.Debug("object opened", "path", img.Path, "machine", img.File.Machine.String(), "symbols", symbols.Len())

			s := session.New(session.WithDecoderOptions(
				disasm.WithSyntax(a.cfg.syntax()),
				disasm.WithSymbols(symbols.Lookup),
			))
			defer s.Close()

			var res *session.ObjectResult
			switch {
			case symbol != "":
				res, err = s.RunSymbol(img, a.cfg.Arch, symbol)
			case cmd.Flags().Changed("start"):
				res, err = s.RunRange(img, a.cfg.Arch, start, length)
			default:
				res, err = s.RunObject(img, a.cfg.Arch, sections...)
			}
			if err != nil {
				return err
			}
			if a.debug() {
				total, hits, top := analysis.GetDemangleCacheStats()
				slog.Debug("demangle cache", "symbols", total, "hits", hits, "top", top)
			}

			l := &listing{
				Source:  "object",
				Path:    img.Path,
				Arch:    res.Arch,
				Syntax:  a.cfg.Syntax,
				Symbols: symbols,
			}
			for _, sec := range res.Sections {
				l.Blocks = append(l.Blocks, block{Name: sec.Name, VA: sec.VA, Stream: sec.Stream})
			}
			out := cmd.OutOrStdout()
			return render(out, l, a.cfg.Format, a.colorFor(out))
		},
	}

	f := cmd.Flags()
	f.StringSliceVar(&sections, "section", nil, "Decode only these executable sections")
	f.StringVar(&symbol, "symbol", "", "Decode only this function (raw or demangled name)")
	f.Uint64Var(&start, "start", 0, "Start of a virtual address range to decode")
	f.Uint64Var(&length, "length", 0, "Length in bytes of the range given by --start")
	cmd.MarkFlagsRequiredTogether("start", "length")
	cmd.MarkFlagsMutuallyExclusive("symbol", "start", "section")
	return cmd
}
