// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/manipulative/services/manipulative"
	"github.com/AleutianAI/manipulative/services/manipulative/format"
	"github.com/AleutianAI/manipulative/services/manipulative/patch"
	"github.com/AleutianAI/manipulative/services/manipulative/telemetry"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		host  string
		port  int
		roots []string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the commit server",
		Long: `Run the HTTP server the overlay commits to.

POST /commit applies a batch of style updates to the source files under
the allowed roots. With no roots configured the working directory is used.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()
			if flags.Changed("host") {
				a.cfg.Server.Host = host
			}
			if flags.Changed("port") {
				a.cfg.Server.Port = port
			}
			if flags.Changed("root") {
				a.cfg.Patch.AllowedRoots = roots
			}
			return runServe(cmd.Context(), a)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (overrides server.host)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides server.port)")
	cmd.Flags().StringSliceVar(&roots, "root", nil, "directory the server may write to; repeatable")
	return cmd
}

func runServe(ctx context.Context, a *app) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := a.cfg
	logger := a.logger.Slog()

	roots, err := absRoots(cfg.Patch.AllowedRoots)
	if err != nil {
		return err
	}
	if len(roots) == 0 {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolve working directory: %w", err)
		}
		roots = []string{wd}
		a.printer.Warning("no allowed roots configured; writes are limited to " + wd)
	}
	cfg.Patch.AllowedRoots = roots

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Exporter:       cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown", slog.String("error", err.Error()))
		}
	}()

	meter := otel.Meter("manipulative")
	metrics, err := telemetry.NewMetrics(meter)
	if err != nil {
		return fmt.Errorf("create metrics: %w", err)
	}

	engine := patch.New(cfg.EngineOptions(), format.New(cfg.Patch.Formatter, cfg.Patch.FormatTimeout), logger)
	svc := manipulative.NewService(cfg.Server, engine, logger).WithMetrics(metrics)
	if _, err := metrics.RegisterSessionGauge(meter, func() int64 {
		return int64(svc.Sessions().Len())
	}); err != nil {
		return fmt.Errorf("register session gauge: %w", err)
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           manipulative.NewRouter(svc, cfg.Telemetry.ServiceName),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("commit server listening",
		slog.String("addr", srv.Addr),
		slog.Any("allowed_roots", roots),
		slog.String("formatter", cfg.Patch.Formatter))
	a.printer.Success("listening on http://" + srv.Addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen on %s: %w", srv.Addr, err)
	case <-ctx.Done():
	}

	logger.Info("shutting down", slog.Duration("timeout", cfg.Server.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// absRoots cleans the configured roots; flags may carry relative paths.
func absRoots(roots []string) ([]string, error) {
	out := make([]string, 0, len(roots))
	for _, r := range roots {
		abs, err := filepath.Abs(r)
		if err != nil {
			return nil, fmt.Errorf("resolve root %s: %w", r, err)
		}
		out = append(out, abs)
	}
	return out, nil
}
