package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"tunnel-proxy/internal/config"
	"tunnel-proxy/internal/credentials"
	"tunnel-proxy/internal/proxy"
	"tunnel-proxy/internal/targets"
	"tunnel-proxy/internal/telemetry"
	"tunnel-proxy/internal/ui"

	"github.com/joho/godotenv"
)

func main() {
	// Load .env file if it exists
	// We ignore the error because in production/docker we rely on system env vars
	_ = godotenv.Load()

	ui.PrintBanner()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		ui.LogStatus("error", err.Error())
		os.Exit(1)
	}

	ui.LogStatus("info", "Targets file: "+ui.Muted(cfg.TargetsFile))
	if cfg.ReportingEnabled() {
		ui.LogStatus("info", "Collector: "+ui.Success(cfg.ServerURL))
	} else {
		ui.LogStatus("info", "Collector: "+ui.Warn("not configured"))
	}

	// Create shutdown context
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Start prometheus endpoint with graceful shutdown
	metrics := proxy.NewMetricsServer(cfg.MetricsListen)
	metrics.Start()
	ui.LogStatus("info", "Metrics: "+ui.Muted("http://localhost"+cfg.MetricsListen+"/metrics"))

	go func() {
		<-ctx.Done()
		ui.LogGracefulShutdown()
		metrics.Shutdown(context.Background())
	}()

	resolver := targets.NewResolver(cfg.TargetsFile)
	buffer := telemetry.NewBuffer(cfg.BufferSize)
	reporter := telemetry.NewReporter(cfg.ServerURL, credentials.NewTokenSource(cfg.CredentialsFile))
	flusher := telemetry.NewFlusher(buffer, reporter, cfg.FlushInterval)

	srv := proxy.NewServer(cfg, resolver, buffer, flusher)
	if err := srv.Start(ctx); err != nil {
		ui.LogStatus("error", "Server failed: "+err.Error())
		log.Fatal(err)
	}
}
