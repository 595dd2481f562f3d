// Package main implements the entry point for the unsmesh pipeline.
// Unsmesh bridges a Unified Namespace MQTT broker into a Neo4j graph and a
// TimescaleDB historian, and mirrors Sparkplug B traffic into plain JSON
// topics.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/thepwizard/unifiednamespace/config"
	"github.com/thepwizard/unifiednamespace/health"
	"github.com/thepwizard/unifiednamespace/metric"
	"github.com/thepwizard/unifiednamespace/service"
)

const appName = "unsmesh"

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, service.Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid", "config_path", cliCfg.ConfigPath)
		return nil
	}

	// CLI overrides beat config file values
	logLevel := cfg.Logging.Level
	if cliCfg.LogLevel != "" {
		logLevel = cliCfg.LogLevel
	}
	logFormat := cfg.Logging.Format
	if cliCfg.LogFormat != "" {
		logFormat = cliCfg.LogFormat
	}
	logger := setupLogger(logLevel, logFormat)
	slog.SetDefault(logger)

	slog.Info("Starting unsmesh (Unified Namespace pipeline)",
		"version", service.Version,
		"config_path", cliCfg.ConfigPath)

	registry := metric.NewRegistry()
	monitor := health.NewMonitor(func(component string, healthy bool) {
		v := 0.0
		if healthy {
			v = 1.0
		}
		registry.Core.ComponentHealthy.WithLabelValues(component).Set(v)
	})

	pipeline, err := service.NewPipeline(service.Deps{
		Config:   cfg,
		Logger:   logger,
		Registry: registry,
		Monitor:  monitor,
	})
	if err != nil {
		return fmt.Errorf("create pipeline: %w", err)
	}
	if err := pipeline.Initialize(); err != nil {
		return fmt.Errorf("initialize pipeline: %w", err)
	}

	signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if err := pipeline.Start(signalCtx); err != nil {
		return fmt.Errorf("start pipeline: %w", err)
	}

	observe := observeServer(cfg.Observe.ListenAddr, registry, monitor)

	g, gctx := errgroup.WithContext(signalCtx)
	g.Go(func() error {
		slog.Info("Observability endpoint listening", "addr", cfg.Observe.ListenAddr)
		if err := observe.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("observability server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cliCfg.ShutdownTimeout)
		defer cancel()
		return observe.Shutdown(shutdownCtx)
	})

	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	if err := pipeline.Stop(cliCfg.ShutdownTimeout); err != nil {
		slog.Error("Error stopping pipeline", "error", err)
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("unsmesh shutdown complete")
	return nil
}

// observeServer serves Prometheus metrics and aggregated component health.
func observeServer(addr string, registry *metric.Registry, monitor *health.Monitor) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		registry.PrometheusRegistry(),
		promhttp.HandlerOpts{},
	))
	mux.Handle("/healthz", monitor.Handler())

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
