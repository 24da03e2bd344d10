package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"clawlens/internal/collector"
	"clawlens/internal/config"
	"clawlens/internal/gateway"
	"clawlens/internal/history"
	"clawlens/internal/hostwatch"
	"clawlens/internal/mcpserver"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "config file path (default ~/.clawlens/config.toml)")
	dbPath := flag.String("db", "", "history database path (overrides config)")
	once := flag.Bool("once", false, "run one collection cycle and exit")
	flag.Parse()

	// stdout belongs to the MCP stdio transport; all logging goes to stderr.
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(log)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	path := cfg.Database.Path
	if *dbPath != "" {
		path = *dbPath
	}
	if path == "" {
		path = history.DefaultPath()
	}

	client, err := history.NewFileClient(path)
	if err != nil {
		return fmt.Errorf("failed to open history database: %w", err)
	}
	defer client.Close()

	store := history.NewStore(client)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate history schema: %w", err)
	}
	log.Info("history store ready", "path", path)

	gw := gateway.NewHTTPClient(cfg.Gateway.URL,
		gateway.WithToken(cfg.Gateway.Token),
		gateway.WithHTTPTimeout(cfg.GatewayTimeout()),
	)

	colCfg := collector.DefaultConfig().
		WithInterval(cfg.CollectorInterval()).
		WithStopTimeout(cfg.CollectorStopTimeout()).
		WithSessionsLimit(cfg.Collector.SessionsLimit)
	col, err := collector.New(store, gw, colCfg, collector.WithLogger(log))
	if err != nil {
		return fmt.Errorf("failed to create collector: %w", err)
	}

	if *once {
		col.CollectOnce(ctx)
		log.Info("single collection cycle done")
		return nil
	}

	col.Start()
	defer col.Stop()
	log.Info("collector started", "interval", cfg.CollectorInterval(), "id", col.ID())

	if cfg.Hostwatch.Enabled {
		sampler, err := hostwatch.NewSampler(store, nil, cfg.HostwatchInterval(), log)
		if err != nil {
			return fmt.Errorf("failed to create host sampler: %w", err)
		}
		sampler.Start()
		defer sampler.Stop()
		log.Info("host sampler started", "interval", cfg.HostwatchInterval())
	}

	server, err := mcpserver.NewServer(mcpserver.Config{
		ServerName:    cfg.Server.Name,
		ServerVersion: cfg.Server.Version,
	}, store, col, log)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	if err := server.Start(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	log.Info("shutting down")
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}
