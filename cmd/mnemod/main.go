// Command mnemod serves the HTTP API: conversation ingestion, hybrid
// search, and context injection, plus the background orphan sweep.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mnemo/internal/config"
	"mnemo/internal/corectx"
	"mnemo/internal/httpapi"
	"mnemo/internal/logging"
	"mnemo/internal/orchestrator"
	"mnemo/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "mnemod: "+err.Error())
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to YAML config file (defaults baked in if empty)")
	flag.Parse()

	bootstrapLog := logging.New("info", os.Stdout)

	cfg, err := config.Load(*configPath, bootstrapLog)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logging.New(cfg.LogLevel, os.Stdout)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	meterProvider, shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry.Enabled, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	cc, err := corectx.Build(ctx, cfg, log, meterProvider.Meter(cfg.Telemetry.ServiceName))
	if err != nil {
		return fmt.Errorf("build core context: %w", err)
	}
	defer cc.Close()

	orch := orchestrator.New(cc)
	orch.Start(ctx)
	defer orch.Stop()

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           httpapi.NewServer(orch, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("mnemod listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("mnemod shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
}
