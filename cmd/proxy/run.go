// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kemalerbakirci/mqtt-schema-governance-proxy/internal/config"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func runRun(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	logLevel, _ := cmd.Flags().GetString("log-level")
	validateOnly, _ := cmd.Flags().GetBool("validate-config")

	fileOverrides := append([]string{}, overrides...)
	if dryRun {
		fileOverrides = append(fileOverrides, "global.dry_run=true")
	}
	if logLevel != "" {
		fileOverrides = append(fileOverrides, "global.log_level="+logLevel)
	}

	snap, err := config.Load(configPath, fileOverrides)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfigError)
	}

	if validateOnly {
		fmt.Println("configuration valid")
		return nil
	}

	logger := setupLogger(snap.LogLevel, snap.LogFormat)
	logger.Info("starting mqtt-governance-proxy",
		slog.Int("worker_threads", snap.WorkerThreads),
		slog.Bool("dry_run", snap.DryRun))

	application, err := buildApp(snap, logger)
	if err != nil {
		logger.Error("startup failed", slog.String("error", err.Error()))
		os.Exit(exitFatalStartup)
	}
	defer application.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if snap.MetricsEnabled {
		go startMetricsServer(snap.MetricsPort, snap.MetricsPath, logger)
	}
	if snap.HealthCheckEnabled {
		go startHealthServer(snap.HealthCheckPort, application.health, logger)
	}

	go runRetentionSweeper(ctx, application.store, retentionInterval(snap.Quarantine.CleanupDays), logger)

	pipelineErr := make(chan error, 1)
	go func() {
		pipelineErr <- application.pipeline.Run(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				logger.Info("received SIGHUP, reloading configuration")
				if err := application.Reload(configPath, fileOverrides); err != nil {
					logger.Error("configuration reload failed, continuing with previous configuration",
						slog.String("error", err.Error()))
				} else {
					logger.Info("configuration reloaded")
				}
				continue
			}
			logger.Info("received shutdown signal", slog.String("signal", sig.String()))
			cancel()
			<-pipelineErr
			os.Exit(exitInterrupted)
		case err := <-pipelineErr:
			if err != nil {
				logger.Error("pipeline exited with error", slog.String("error", err.Error()))
				os.Exit(exitFatalStartup)
			}
			return nil
		}
	}
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func startMetricsServer(port int, path string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())

	addr := fmt.Sprintf(":%d", port)
	logger.Info("starting metrics server", slog.String("address", addr), slog.String("path", path))

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server error", slog.String("error", err.Error()))
	}
}
