package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"opdecode/internal/disasm"
	"opdecode/internal/session"
)

const defaultHexArch = "x86_64"

func newHexCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hex [HEX]",
		Short: "Decode a hex string of machine code",
		Long: `Decode a hex-encoded byte string and print the opcode identifier of every
instruction. The hex text is read from standard input when no argument is
given or the argument is "-". Without --arch the bytes are decoded as x86_64.`,
		Example: `
opdecode hex 4889de4889c24c89ff
echo 1f2003d5c0035fd6 | opdecode hex -a arm64 -o text
opdecode hex --allow-space "48 89 de"
  `,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := hexInput(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			arch := a.cfg.Arch
			if arch == "" {
				arch = defaultHexArch
			}

			s := session.New(
				session.WithLenientHex(a.cfg.AllowSpace),
				session.WithDecoderOptions(disasm.WithSyntax(a.cfg.syntax())),
			)
			defer s.Close()

			st, err := s.RunHex(text, arch)
			if err != nil {
				return err
			}
			dec, _ := s.Decoder(arch)
			l := &listing{
				Source: "hex",
				Arch:   dec.Arch(),
				Syntax: a.cfg.Syntax,
				Blocks: []block{{Name: "hex", Stream: st}},
			}
			out := cmd.OutOrStdout()
			return render(out, l, a.cfg.Format, a.colorFor(out))
		},
	}
	cmd.Flags().Bool("allow-space", false, "Strip whitespace from the hex text")
	return cmd
}

// hexInput returns the positional hex argument or standard input. A single
// trailing line break from stdin is dropped.
func hexInput(stdin io.Reader, args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		return args[0], nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	text := strings.TrimSuffix(string(data), "\n")
	return strings.TrimSuffix(text, "\r"), nil
}
