// Command mnemo-mcp serves the memory service over the line-delimited
// JSON-RPC stdio transport, for embedding directly in a coding
// assistant's tool process rather than behind HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"mnemo/internal/config"
	"mnemo/internal/corectx"
	"mnemo/internal/jsonrpc"
	"mnemo/internal/logging"
	"mnemo/internal/orchestrator"
	"mnemo/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "mnemo-mcp: "+err.Error())
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to YAML config file (defaults baked in if empty)")
	flag.Parse()

	// Logs go to stderr: stdout is reserved for the JSON-RPC wire.
	bootstrapLog := logging.New("info", os.Stderr)

	cfg, err := config.Load(*configPath, bootstrapLog)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logging.New(cfg.LogLevel, os.Stderr)

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

	return jsonrpc.NewServer(orch, log, os.Stdin, os.Stdout).Run(ctx)
}
