// Package main implements the entry point for the webhook collector, a
// service that turns incoming webhook payloads into labeled Prometheus
// time series via configurable extractor chains.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/Oorpe/prometheus-webhook-collector/config"
	"github.com/Oorpe/prometheus-webhook-collector/dashboard"
	"github.com/Oorpe/prometheus-webhook-collector/engine"
	"github.com/Oorpe/prometheus-webhook-collector/extract"
	"github.com/Oorpe/prometheus-webhook-collector/gateway"
	"github.com/Oorpe/prometheus-webhook-collector/input/natsinput"
	"github.com/Oorpe/prometheus-webhook-collector/metric"
	"github.com/Oorpe/prometheus-webhook-collector/output/textfile"
	"github.com/Oorpe/prometheus-webhook-collector/rule"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "webhook-collector"
)

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
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting webhook collector",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Rule compilation is part of configuration validation: malformed
	// patterns, queries, or schemas must fail before traffic is served.
	evaluator := extract.NewEvaluator()
	rules, err := rule.NewSet(evaluator, cfg.EventHandlers)
	if err != nil {
		return fmt.Errorf("compile event handlers: %w", err)
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid", "event_handlers", rules.Len())
		return nil
	}

	registry := metric.NewRegistry(cfg.ExporterMetrics)

	eng, err := engine.New(rules, registry, cfg.Cache.MaxSize, cfg.Cache.TTL.Std(),
		engine.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	defer eng.Close()

	if cfg.Output.Textfile {
		writer := textfile.NewWriter(cfg.Output.TextfileDir, cfg.Output.TextfileName,
			registry.Gatherer(), logger)
		eng.AddListener(writer.Listener())
		slog.Info("textfile output enabled", "path", writer.Path())
	}

	server := gateway.NewServer(cfg.Server, cfg.Output.Scrapeable, eng,
		gateway.WithLogger(logger))
	mux := server.Routes()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Dashboard.Enabled {
		hub := dashboard.New(eng, logger)
		eng.AddListener(hub.Listener())
		hub.Register(mux)
		g.Go(func() error {
			hub.Run(gctx)
			return nil
		})
		slog.Info("debug dashboard enabled", "routes", []string{"/debug/ws", "/debug/cache", "/debug/stats"})
	}

	if cfg.NATS.Enabled {
		in := natsinput.New(cfg.NATS, eng, logger)
		if err := in.Start(gctx); err != nil {
			return fmt.Errorf("start NATS input: %w", err)
		}
		defer func() { _ = in.Stop() }()
	}

	g.Go(func() error {
		return server.Start(mux)
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		return server.Stop()
	})

	return g.Wait()
}
