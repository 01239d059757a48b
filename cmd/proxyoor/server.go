package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethpandaops/proxyoor/pkg/api"
	"github.com/ethpandaops/proxyoor/pkg/auth"
	"github.com/ethpandaops/proxyoor/pkg/cache"
	"github.com/ethpandaops/proxyoor/pkg/config"
	"github.com/ethpandaops/proxyoor/pkg/gateway"
	"github.com/ethpandaops/proxyoor/pkg/health"
	"github.com/ethpandaops/proxyoor/pkg/metrics"
	"github.com/ethpandaops/proxyoor/pkg/proxy"
	"github.com/ethpandaops/proxyoor/pkg/ratelimit"
	"github.com/ethpandaops/proxyoor/pkg/route"
	"github.com/ethpandaops/proxyoor/pkg/telemetry"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Expired rate-limit buckets are swept on this interval.
const janitorInterval = time.Minute

func newServerCmd(log *logrus.Logger) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Start the proxyoor gateway",
		Long:  `Start the HTTP server hosting the request pipeline and system endpoints.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), log, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml",
		"Path to configuration file")

	return cmd
}

func runServer(ctx context.Context, log *logrus.Logger, configPath string) error {
	// Load configuration.
	log.WithField("path", configPath).Info("Loading configuration")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log.Info("Configuration loaded:\n" + cfg.String())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	upstreams := cfg.UpstreamURLs()

	// Create metrics.
	m := metrics.New()
	m.SetBuildInfo(Version, GitCommit, BuildDate)

	// Pipeline components.
	table := route.NewTable(cfg.Routes)

	limiter := ratelimit.NewFixedWindowLimiter(log)
	limiter.StartJanitor(janitorInterval, ctx.Done())

	authn := auth.NewAuthenticator(log, cfg.Auth)

	responseCache, err := cache.New(log, cfg.Cache.MaxEntries)
	if err != nil {
		return err
	}

	prx := proxy.New(log, upstreams)

	// Telemetry fan-out.
	tel := telemetry.NewService(log, cfg.Telemetry.BufferSize)

	if err := tel.Start(ctx); err != nil {
		return err
	}

	defer tel.Stop()

	// Upstream health monitor.
	monitor := health.NewMonitor(log, upstreams, cfg.Health.Timeout, cfg.Health.Interval, m)

	if err := monitor.Start(ctx); err != nil {
		return err
	}

	defer monitor.Stop()

	gw := gateway.New(log, table, limiter, authn, responseCache, prx, tel, m)

	// Create and start the API server, and stream telemetry to its
	// WebSocket hub.
	srv := api.NewServer(log, cfg, gw, monitor, authn)
	tel.AddSink(srv.Hub())

	if err := srv.Start(ctx); err != nil {
		return err
	}

	defer srv.Stop()

	// Wait for shutdown signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	log.Info("Gateway is running. Press Ctrl+C to stop.")

	select {
	case sig := <-sigCh:
		log.WithField("signal", sig).Info("Received shutdown signal")
	case <-ctx.Done():
		log.Info("Context cancelled")
	}

	log.Info("Shutting down...")

	return nil
}
