package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/relay/internal/config"
	"github.com/Tyrowin/relay/internal/logging"
	"github.com/Tyrowin/relay/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to an optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("Starting relay server",
		"addr", cfg.Addr,
		"ws_path", cfg.WSPath,
		"diagnostics_interval", cfg.DiagnosticsInterval,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	promRegistry := server.NewPromRegistry()
	metrics := server.NewMetrics(promRegistry)

	relay := server.NewRelay(cfg, logger, metrics, clockwork.NewRealClock())
	relay.Start()

	mux := server.SetupRoutes(relay, server.MetricsHandler(promRegistry))
	httpServer := server.CreateServer(cfg.Addr, mux)

	ln, err := server.Listen(httpServer)
	if err != nil {
		logger.Error("Failed to bind listener", "error", err)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.StartServer(httpServer, ln)
	})

	if *configPath != "" {
		g.Go(func() error {
			err := config.Watch(gctx, *configPath, func(next *config.Config) {
				logging.SetLevel(next.LogLevel)
				logger.Info("Log level updated", "level", logging.Level().String())
			})
			if err != nil {
				logger.Warn("Config watch stopped", "error", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")

		if err := server.ShutdownServer(httpServer, cfg.ShutdownTimeout); err != nil {
			logger.Warn("HTTP server did not shut down cleanly", "error", err)
		}
		if err := relay.Shutdown(cfg.ShutdownTimeout); err != nil {
			logger.Warn("Relay did not shut down cleanly", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("HTTP server stopped", "error", err)
		os.Exit(1)
	}
}
