package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"streamwatch/internal/api"
	"streamwatch/internal/config"
	"streamwatch/internal/directory"
	"streamwatch/internal/logging"
	"streamwatch/internal/monitor"
	"streamwatch/internal/transport"
	"streamwatch/internal/transport/memory"
	natstransport "streamwatch/internal/transport/nats"
)

func main() {
	configPath := flag.String("config", "config/config.yml", "path to the configuration file")
	flag.Parse()

	// 1. Load Configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Initialize(logging.DefaultConfig()).Error("Configuration error", "error", err)
		os.Exit(1)
	}

	logger := logging.Initialize(cfg.Logging)
	logger.Info("Starting streamwatch", "transport", cfg.Transport.Kind, "addr", cfg.Server.Addr)

	// 2. Build the channel directory
	dir, err := directory.New(cfg.Channels)
	if err != nil {
		logger.Error("Invalid channel directory", "error", err)
		os.Exit(1)
	}

	// 3. Connect the event transport
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var tr transport.Transport
	switch cfg.Transport.Kind {
	case config.TransportMemory:
		tr = memory.New(memory.WithChannels(cfg.Transport.Memory.Channels...))
	default:
		tr, err = natstransport.New(ctx, cfg.Transport.NATS, logger)
		if err != nil {
			logger.Error("NATS connection failed", "url", cfg.Transport.NATS.URL, "error", err)
			os.Exit(1)
		}
	}

	// 4. Assemble the monitor and the API server. Toast notices go to the
	// log and, once the server exists, to connected live-feed clients.
	var server *api.Server
	notifier := monitor.NotifierFunc(func(n monitor.Notification) {
		monitor.LogNotifier{Logger: logger}.Notify(n)
		if server != nil {
			server.Hub().BroadcastNotice(n)
		}
	})

	svc := monitor.NewService(cfg.Monitor, tr, dir, notifier, logger)

	server, err = api.NewServer(cfg.Server, svc, logger)
	if err != nil {
		logger.Error("Server setup failed", "error", err)
		os.Exit(1)
	}
	svc.AddObserver(server.Hub().BroadcastEvent)

	// 5. Serve
	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start()
	}()

	// 6. Wait for shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		if err != nil {
			logger.Error("Server error", "error", err)
			os.Exit(1)
		}
		return
	case sig := <-quit:
		logger.Info("Shutting down", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", "error", err)
	}
	svc.Close(shutdownCtx)
	if err := tr.Close(); err != nil {
		logger.Error("Transport close failed", "error", err)
	}
	logger.Info("Server exiting")
}
