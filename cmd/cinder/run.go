// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/cinderhost/cinder/internal/bridge"
	"github.com/cinderhost/cinder/internal/config"
	"github.com/cinderhost/cinder/internal/logging"
	"github.com/cinderhost/cinder/internal/observability"
	"github.com/cinderhost/cinder/internal/plugin"
	"github.com/cinderhost/cinder/internal/runtime"
	"github.com/cinderhost/cinder/internal/timer"
	"github.com/cinderhost/cinder/internal/webrequest"
)

const shutdownTimeout = 5 * time.Second

// NewRunCmd creates the run subcommand.
func NewRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Load plugins and run the poll loop",
		Long: `Load every plugin under <root>/plugins, broadcast Init and PostInit,
then tick timers and web requests until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runHost(ctx, cmd.ErrOrStderr(), cfg)
		},
	}
}

// runHost runs the plugin host until ctx ends. Logs go to stderr and to the
// daily file under <root>/logs.
func runHost(ctx context.Context, stderr io.Writer, cfg *config.Config) error {
	if err := cfg.EnsureDirs(); err != nil {
		return err
	}
	level, err := cfg.Level()
	if err != nil {
		return err
	}

	daily := logging.NewDailyFile(cfg.LogsDir(), "cinder")
	defer func() { _ = daily.Close() }()
	logger := logging.SetDefault("cinder", version, cfg.LogFormat, level, io.MultiWriter(stderr, daily))

	logger.Info("starting plugin host",
		"root", cfg.Root,
		"datastore", cfg.Datastore,
		"tick_rate", cfg.TickRate.String())

	rt, err := runtime.New(ctx, cfg, runtime.WithLogger(logger), runtime.WithTypes(registerHostTypes))
	if err != nil {
		return oops.In("run").Wrapf(err, "create runtime")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if closeErr := rt.Close(shutdownCtx); closeErr != nil {
			logger.Warn("error closing runtime", "error", closeErr)
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.MetricsAddr != "" {
		obs := observability.NewServer(cfg.MetricsAddr, rt.Ready,
			bridge.RegisterMetrics,
			plugin.RegisterMetrics,
			timer.RegisterMetrics,
			webrequest.RegisterMetrics,
		)
		errCh, err := obs.Start()
		if err != nil {
			return oops.In("run").Wrapf(err, "start observability server")
		}
		go monitorServerErrors(ctx, cancel, errCh, "observability")
		defer func() {
			shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
			defer stop()
			if stopErr := obs.Stop(shutdownCtx); stopErr != nil {
				logger.Warn("error stopping observability server", "error", stopErr)
			}
		}()
	}

	if err := rt.Start(ctx); err != nil {
		return err
	}
	logger.Info("plugin host ready", "plugins", rt.Manager().Plugins())

	if err := rt.Run(ctx); err != nil {
		return err
	}
	logger.Info("shutting down")
	return nil
}

// monitorServerErrors cancels the host when a background server fails.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
