package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"opdecode/internal/logging"
	"opdecode/internal/opdecode/log"
	"opdecode/internal/opdecode/styles"
	"opdecode/internal/ui/colorize"
)

// app carries the resolved configuration from the root command's pre-run
// hook to the subcommands.
type app struct {
	cfg Config
}

// colorFor reports whether output written to w should be coloured.
func (a *app) colorFor(w io.Writer) bool {
	if a.cfg.NoColor || colorize.Disabled() {
		return false
	}
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(f.Fd())
}

// debug reports whether debug diagnostics are wanted, from --debug or
// OPDECODE_LOG_LEVEL=debug.
func (a *app) debug() bool {
	return a.cfg.Debug || logging.IsDebug()
}

// NewRootCmd builds the opdecode command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "opdecode",
		Short: "Decode machine code into opcode identifiers",
		Long: `opdecode turns raw machine code into a stream of instructions and prints the
architecture opcode identifier of each one. Code comes from a hex string, from
the executable sections of an ELF object, or from a BHive-style CSV dataset.`,
		Example: `
# Decode a hex string as x86_64
opdecode hex 4889de4889c24c89ff

# Decode every executable section of an object file, architecture from the ELF header
opdecode obj ./a.out -o text

# Decode a dataset on 8 workers
opdecode batch blocks.csv --workers 8 -o text
  `,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			a.cfg = cfg
			log.Setup(cfg.LogFile, a.debug())
			slog.Debug("configuration loaded", "command", cmd.Name(), "arch", cfg.Arch, "syntax", cfg.Syntax, "format", cfg.Format)
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "Config file (yaml, json or toml)")
	pf.StringP("arch", "a", "", "Architecture (see 'opdecode archs')")
	pf.String("syntax", "gnu", "Assembly syntax for text output: gnu, intel or go")
	pf.StringP("format", "o", "ids", "Output format: ids, text, json or report")
	pf.Bool("no-color", false, "Disable coloured output")
	pf.BoolP("debug", "d", false, "Debug")
	pf.String("log-file", "", "Append logs to a file")
	pf.Bool("plain", false, "Plain output without fang styling")

	root.AddCommand(
		newHexCmd(a),
		newObjCmd(a),
		newBatchCmd(a),
		newArchsCmd(a),
		newSchemaCmd(),
	)
	return root
}

// plainMode reports whether to bypass fang: when --plain is given or when
// either stdout (help, listings) or stderr (diagnostics) is piped.
func plainMode(args []string, stdoutTTY, stderrTTY bool) bool {
	if !stdoutTTY || !stderrTTY {
		return true
	}
	for _, arg := range args {
		if arg == "--" {
			break
		}
		if arg == "--plain" || arg == "--plain=true" {
			return true
		}
	}
	return false
}

func Execute() {
	rootCmd := NewRootCmd()

	plain := plainMode(os.Args[1:], term.IsTerminal(os.Stdout.Fd()), term.IsTerminal(os.Stderr.Fd()))

	if plain {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		if err := rootCmd.ExecuteContext(ctx); err != nil {
			color := !colorize.Disabled() && term.IsTerminal(os.Stderr.Fd())
			fmt.Fprintln(os.Stderr, styles.Diagnostic(err, color))
			stop()
			log.Close()
			os.Exit(1)
		}
		log.Close()
		return
	}

	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		log.Close()
		os.Exit(1)
	}
	log.Close()
}
