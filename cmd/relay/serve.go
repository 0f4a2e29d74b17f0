package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aretw0/relay"
	"github.com/aretw0/relay/api"
	"github.com/aretw0/relay/internal/cli"
	httpAdapter "github.com/aretw0/relay/pkg/adapters/http"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Exposes sessions, the pending queue and recovery as a JSON API over HTTP.
Session events are streamed over SSE and WebSocket, and Prometheus metrics are served on /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Server.Addr = addr
		}

		logger, err := cli.NewLogger(cfg.Log)
		if err != nil {
			return err
		}
		streams := httpAdapter.NewStreamManager(logger)
		rt, err := cli.NewRuntime(cfg, logger, streams.Hooks())
		if err != nil {
			return err
		}
		defer rt.Close()

		// Background resumes stop before the server drains its connections.
		resumeCtx, stopResume := context.WithCancel(context.Background())
		defer stopResume()
		go func() {
			out, err := rt.Client.Recover(resumeCtx)
			if err != nil {
				logger.Warn("Startup recovery failed", "err", err)
				return
			}
			if out.Status != relay.StatusNothingPending {
				logger.Info("Startup recovery finished", "status", out.Status, "correlation_id", out.CorrelationID)
			}
		}()

		doc, err := api.Load(cmd.Context())
		if err != nil {
			return err
		}

		origins, _ := cmd.Flags().GetStringSlice("origin")
		handler := httpAdapter.NewHandler(rt.Client,
			httpAdapter.WithValidation(doc),
			httpAdapter.WithStreams(streams),
			httpAdapter.WithAutoResume(resumeCtx),
			httpAdapter.WithRateLimit(cfg.Server.RateLimit, cfg.Server.Burst),
			httpAdapter.WithMetrics(rt.Registry),
			httpAdapter.WithOriginPatterns(origins...),
			httpAdapter.WithLogger(logger),
		)

		srv := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		serverErrors := make(chan error, 1)
		go func() {
			logger.Info("Starting relay server", "addr", srv.Addr, "store", rt.Config.Store.Driver, "simulate", rt.Config.Simulate.Enabled)
			serverErrors <- srv.ListenAndServe()
		}()

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(shutdown)

		select {
		case err := <-serverErrors:
			return err

		case sig := <-shutdown:
			logger.Info("Start shutdown", "signal", sig.String())
			stopResume()

			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(ctx); err != nil {
				logger.Warn("Graceful shutdown did not complete", "timeout", shutdownTimeout, "error", err)
				if err := srv.Close(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
			}
			logger.Info("Relay server stopped gracefully")
			return nil
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Address to listen on (overrides server.addr)")
	serveCmd.Flags().StringSlice("origin", nil, "Allowed WebSocket origin patterns")
}
