package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"analyzerd/internal/config"
)

var version = "dev"

// options holds flags shared by every subcommand. Flags that were set
// explicitly override values from the config file.
type options struct {
	configPath string
	logLevel   string
	logFormat  string
	modelsDir  string
	engine     string
	memLimitMB int
	memSource  string
}

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "analyzerd",
		Short:         "Text analysis server with adaptive engine lifecycle and result cache",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	// Flags with environment variable defaults
	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", os.Getenv("ANALYZERD_CONFIG"), "Config file (.yaml, .yml, .json, .toml)")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level: debug|info|warn|error")
	pf.StringVar(&opts.logFormat, "log-format", "", "Log format: console|json")
	pf.StringVar(&opts.modelsDir, "models-dir", "", "Directory to scan for <kind>.yaml / <kind>.gguf model files")
	pf.StringVar(&opts.engine, "engine", "", "Inference engine: lexicon|llama")
	pf.IntVar(&opts.memLimitMB, "memory-limit-mb", 0, "Memory budget in MB (-1 = unlimited)")
	pf.StringVar(&opts.memSource, "memory-source", "", "Memory source: rss|runtime|estimate|gpu")

	serve := newServeCmd(opts)
	root.AddCommand(serve, newAnalyzeCmd(opts), newKindsCmd(opts))
	// serve is the default command.
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())
	return root
}

// loadConfig reads the optional config file, applies flag overrides and
// defaults, then validates.
func (o *options) loadConfig(cmd *cobra.Command) (config.Config, error) {
	var cfg config.Config
	if o.configPath != "" {
		c, err := config.Load(o.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
		cfg = c
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel = o.logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = o.logFormat
	}
	if flags.Changed("models-dir") {
		cfg.ModelsDir = o.modelsDir
	}
	if flags.Changed("engine") {
		cfg.Engine = o.engine
	}
	if flags.Changed("memory-limit-mb") {
		cfg.MemoryLimitMB = o.memLimitMB
	}
	if flags.Changed("memory-source") {
		cfg.MemorySource = o.memSource
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger from config.
func newLogger(level, format string, w io.Writer) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("log level: %w", err)
	}
	out := w
	if format == "console" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger(), nil
}

// splitCSV splits a comma-separated list, trimming blanks and dropping empties.
func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
