package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"analyzerd/internal/httpapi"
	"analyzerd/internal/manager"
)

func newAnalyzeCmd(opts *options) *cobra.Command {
	var (
		kinds    string
		optPairs []string
		noCache  bool
	)
	cmd := &cobra.Command{
		Use:     "analyze [text...]",
		Short:   "Analyze text once and print the JSON result",
		Example: "  analyzerd analyze --kinds toxicity,sentiment \"you are great\"\n  echo \"meh\" | analyzerd analyze -",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readText(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			// One-shot: no background warming or periodic checks.
			off := false
			cfg.Background.Enabled = &off
			cfg.MemoryCheckIntervalSeconds = -1
			log, err := newLogger(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			mgr, closeMemory, err := buildManager(cfg, log)
			if err != nil {
				return err
			}
			defer closeMemory()
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = mgr.Shutdown(ctx)
			}()

			var ks []manager.Kind
			for _, name := range splitCSV(kinds) {
				k, err := manager.ParseKind(name)
				if err != nil {
					return err
				}
				ks = append(ks, k)
			}
			if len(ks) == 0 {
				ks = mgr.Kinds()
			}
			o, err := parseOptions(optPairs)
			if err != nil {
				return err
			}

			start := time.Now()
			out, err := mgr.Analyze(cmd.Context(), text, ks, o, manager.UseCache(!noCache))
			if err != nil {
				return err
			}
			resp := httpapi.NewAnalyzeResponse(out)
			resp.ProcessingMS = float64(time.Since(start).Microseconds()) / 1000
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		},
	}
	cmd.Flags().StringVarP(&kinds, "kinds", "k", "", "Comma-separated kinds (default: all configured)")
	cmd.Flags().StringArrayVarP(&optPairs, "option", "o", nil, "Analysis option key=value (repeatable)")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "Bypass the result cache")
	return cmd
}

// readText joins args, or reads stdin when there are none or the only arg is "-".
func readText(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 && !(len(args) == 1 && args[0] == "-") {
		return strings.Join(args, " "), nil
	}
	b, err := io.ReadAll(io.LimitReader(stdin, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	if strings.TrimSpace(string(b)) == "" {
		return "", errors.New("no text given")
	}
	return string(b), nil
}

// parseOptions turns key=value pairs into analysis options. Values that parse
// as JSON (numbers, booleans) keep their type; anything else is a string.
func parseOptions(kvs []string) (manager.Options, error) {
	if len(kvs) == 0 {
		return nil, nil
	}
	o := make(manager.Options, len(kvs))
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("option %q: want key=value", kv)
		}
		var decoded any
		if err := json.Unmarshal([]byte(v), &decoded); err == nil {
			o[strings.TrimSpace(k)] = decoded
		} else {
			o[strings.TrimSpace(k)] = v
		}
	}
	return o, nil
}
