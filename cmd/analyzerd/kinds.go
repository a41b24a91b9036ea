package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newKindsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "kinds",
		Short: "List configured kinds with their model files and memory estimates",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			log, err := newLogger(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			files, err := discoverModels(cfg, log)
			if err != nil {
				return err
			}
			plans, err := planKinds(cfg, files)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "KIND\tPRIORITY\tESTIMATE\tSOURCE")
			for _, p := range plans {
				src := p.path
				if src == "" {
					src = "builtin"
				}
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", p.kind, p.priority, humanBytes(p.estimate), src)
			}
			return w.Flush()
		},
	}
}

func humanBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
