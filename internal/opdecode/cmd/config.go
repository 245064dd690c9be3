package cmd

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"opdecode/internal/disasm"
)

// Config is the resolved configuration of one invocation. Values come from
// flags, then OPDECODE_* environment variables, then the --config file.
type Config struct {
	Arch       string `json:"arch,omitempty" mapstructure:"arch" jsonschema:"title=Architecture,description=Decoder architecture name or alias; empty infers it from the ELF header for objects and uses x86_64 for hex input,example=x86_64,example=arm64"`
	Syntax     string `json:"syntax,omitempty" mapstructure:"syntax" jsonschema:"title=Syntax,description=Assembly dialect used for text output,enum=gnu,enum=intel,enum=go,default=gnu"`
	Format     string `json:"format,omitempty" mapstructure:"format" jsonschema:"title=Output Format,enum=ids,enum=text,enum=json,enum=report,default=ids"`
	AllowSpace bool   `json:"allow_space,omitempty" mapstructure:"allow_space" jsonschema:"title=Allow Whitespace,description=Strip ASCII whitespace from hex input instead of rejecting it"`
	Workers    int    `json:"workers,omitempty" mapstructure:"workers" jsonschema:"title=Workers,description=Batch decode parallelism; 0 uses GOMAXPROCS,minimum=0"`
	FailFast   bool   `json:"fail_fast,omitempty" mapstructure:"fail_fast" jsonschema:"title=Fail Fast,description=Abort a batch at the first failing row"`
	NoColor    bool   `json:"no_color,omitempty" mapstructure:"no_color" jsonschema:"title=No Color,description=Disable coloured output"`
	Debug      bool   `json:"debug,omitempty" mapstructure:"debug" jsonschema:"title=Debug,description=Enable debug logging"`
	LogFile    string `json:"log_file,omitempty" mapstructure:"log_file" jsonschema:"title=Log File,description=Append logs to this file instead of stderr"`
}

var formats = []string{"ids", "text", "json", "report"}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"arch":        "arch",
	"syntax":      "syntax",
	"format":      "format",
	"allow-space": "allow_space",
	"workers":     "workers",
	"fail-fast":   "fail_fast",
	"no-color":    "no_color",
	"debug":       "debug",
	"log-file":    "log_file",
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("OPDECODE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("arch", "")
	v.SetDefault("syntax", "gnu")
	v.SetDefault("format", "ids")
	v.SetDefault("allow_space", false)
	v.SetDefault("workers", 0)
	v.SetDefault("fail_fast", false)
	v.SetDefault("no_color", false)
	v.SetDefault("debug", false)
	v.SetDefault("log_file", "")
	return v
}

// loadConfig resolves the configuration for cmd from its flags, the
// environment and an optional config file.
func loadConfig(cmd *cobra.Command) (Config, error) {
	v := newViper()

	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok && bindErr == nil {
			bindErr = v.BindPFlag(key, f)
		}
	})
	if bindErr != nil {
		return Config{}, fmt.Errorf("bind flags: %w", bindErr)
	}

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	syntax, err := disasm.ParseSyntax(c.Syntax)
	if err != nil {
		return err
	}
	c.Syntax = syntax.String()
	c.Format = strings.ToLower(strings.TrimSpace(c.Format))
	if !slices.Contains(formats, c.Format) {
		return fmt.Errorf("unknown format %q (want %s)", c.Format, strings.Join(formats, ", "))
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}
	return nil
}

func (c Config) syntax() disasm.Syntax {
	s, _ := disasm.ParseSyntax(c.Syntax)
	return s
}
