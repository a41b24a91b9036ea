package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"analyzerd/internal/httpapi"
)

func newServeCmd(opts *options) *cobra.Command {
	var (
		addr           string
		cors           string
		requestLog     string
		analyzeTimeout int64
		shutdownWait   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Addr = addr
			}
			if cmd.Flags().Changed("cors-origins") {
				cfg.CORSOrigins = splitCSV(cors)
			}
			log, err := newLogger(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			mgr, closeMemory, err := buildManager(cfg, log)
			if err != nil {
				return fmt.Errorf("init manager: %w", err)
			}
			defer closeMemory()
			mgr.Start(ctx)

			httpapi.SetLogger(log)
			httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
			httpapi.SetCORSOptions(len(cfg.CORSOrigins) > 0, cfg.CORSOrigins, nil, nil)
			httpapi.SetAnalyzeTimeoutSeconds(analyzeTimeout)
			httpapi.SetBaseContext(ctx)
			if requestLog != "" {
				httpapi.SetRequestLogLevel(requestLog)
			}
			if err := httpapi.RegisterStatsCollector(nil, mgr); err != nil {
				return fmt.Errorf("register metrics: %w", err)
			}

			srv := &http.Server{
				Addr:              cfg.Addr,
				Handler:           httpapi.NewMux(mgr),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("addr", cfg.Addr).Str("engine", cfg.Engine).Str("models_dir", cfg.ModelsDir).Msg("analyzerd listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			// Graceful shutdown (Ctrl+C / SIGTERM)
			var serveErr error
			select {
			case <-ctx.Done():
			case serveErr = <-errCh:
			}
			sctx, cancel := context.WithTimeout(context.Background(), shutdownWait)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				log.Warn().Err(err).Msg("graceful shutdown error")
			}
			if err := mgr.Shutdown(sctx); err != nil {
				log.Warn().Err(err).Msg("manager shutdown error")
			}
			log.Info().Msg("analyzerd stopped")
			return serveErr
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "HTTP listen address, e.g. :8080")
	cmd.Flags().StringVar(&cors, "cors-origins", "", "Comma-separated allowed CORS origins (empty disables CORS)")
	cmd.Flags().StringVar(&requestLog, "request-log", "", "Per-request log level: off|error|info|debug")
	cmd.Flags().Int64Var(&analyzeTimeout, "analyze-timeout-seconds", 0, "Upper bound for one /analyze request (0 = none)")
	cmd.Flags().DurationVar(&shutdownWait, "shutdown-timeout", 10*time.Second, "Time allowed for in-flight requests and engine unloads on shutdown")
	return cmd
}
