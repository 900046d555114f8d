package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"bmcdhcp/config"
	"bmcdhcp/database"
	"bmcdhcp/directory"
	"bmcdhcp/options"
	"bmcdhcp/server"
)

func CreateLogger(logLevel, logFormat string) {
	levels := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}

	handlerOpts := &slog.HandlerOptions{
		Level: levels[strings.ToLower(logLevel)],
	}

	var handler slog.Handler = slog.NewTextHandler(os.Stderr, handlerOpts)
	if strings.ToLower(logFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(handler))
}

// buildDirectory assembles the configured lease directory. The returned
// function releases whatever it opened.
func buildDirectory(cfg *config.Config, reg *options.Registry) (directory.Directory, func(), error) {
	var dir directory.Directory
	cleanup := func() {}

	switch cfg.Directory.Backend {
	case "sqlite":
		db, err := database.ConnectDatabase(cfg.Directory.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("error occured when connecting to db object: %w", err)
		}
		inventory := database.New(db, reg, cfg.DefaultLease())
		if err := seedHosts(inventory, cfg.Directory.Reservations); err != nil {
			inventory.Close()
			return nil, nil, err
		}
		dir = inventory
		cleanup = func() { inventory.Close() }
	default:
		static, err := cfg.StaticDirectory(reg)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("Loaded reservations", "count", static.Len())
		dir = static
	}

	if cfg.Directory.ARPProbe {
		client, err := directory.DialARP(cfg.Server.ListenInterface)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		dir = directory.NewConflictGuard(dir, client, cfg.Directory.ARPTimeout)
		previous := cleanup
		cleanup = func() {
			client.Close()
			previous()
		}
	}

	return dir, cleanup, nil
}

// seedHosts copies configured reservations into the sqlite inventory.
func seedHosts(inventory *database.Database, reservations []config.Reservation) error {
	for _, r := range reservations {
		err := inventory.UpsertHost(context.Background(), database.Host{
			MAC:        r.MAC,
			IP:         r.IP,
			SubnetMask: r.SubnetMask,
			Gateway:    r.Router,
			Hostname:   r.Hostname,
			LeaseLen:   r.LeaseLen,
			Options:    r.Options,
			Enabled:    true,
		})
		if err != nil {
			return fmt.Errorf("failed to seed inventory: %w", err)
		}
	}
	return nil
}

// openDirectory is swapped out in tests.
var openDirectory = buildDirectory

// run serves until ctx is done. Everything it opens is released before it
// returns.
func run(ctx context.Context, cfg *config.Config) error {
	reg, err := cfg.Registry()
	if err != nil {
		return fmt.Errorf("error building option registry: %w", err)
	}

	dir, cleanup, err := openDirectory(cfg, reg)
	if err != nil {
		return fmt.Errorf("error building lease directory: %w", err)
	}
	defer cleanup()

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := server.NewMetrics(promRegistry)
	if cfg.Metrics.Listen != "" {
		go func() {
			if err := server.ServeMetrics(ctx, cfg.Metrics.Listen, promRegistry); err != nil {
				slog.Error("Metrics listener failed", "error", err)
			}
		}()
	}

	srv, err := server.NewServer(ctx, cfg, reg, dir, metrics)
	if err != nil {
		return fmt.Errorf("error occured while instantiating server: %w", err)
	}
	defer srv.Close()

	return srv.Serve(ctx)
}

func main() {
	configPath := flag.String("c", ".", "Directory holding config.json, or a path to a .json config file")
	flag.Parse()

	jsonConfig := config.NewJSONConfigManager(*configPath)
	cfg, err := jsonConfig.ReadConfig()
	if err != nil {
		slog.Error("Error parsing config file", "error", err)
		os.Exit(1)
	}

	CreateLogger(cfg.Server.LogLevel, cfg.Server.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, &cfg)
	stop()
	if err != nil {
		slog.Error("Server exited with error", "error", err)
		os.Exit(1)
	}
}
