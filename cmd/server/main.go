package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/skypro1111/watchparty-service/internal/config"
	"github.com/skypro1111/watchparty-service/internal/coordinator"
	"github.com/skypro1111/watchparty-service/internal/groupsession"
	"github.com/skypro1111/watchparty-service/internal/logging"
	"github.com/skypro1111/watchparty-service/internal/metrics"
	"github.com/skypro1111/watchparty-service/internal/server"
	"github.com/skypro1111/watchparty-service/internal/transport"
)

const (
	serviceName    = "watchparty-service"
	serviceVersion = "1.0.0"
)

// sessionProvider is what the coordinator needs from the group-communication layer
type sessionProvider interface {
	groupsession.Provider
	groupsession.Eligibility
}

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file (defaults and WATCHPARTY_* environment only when empty)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.String("transport_mode", cfg.Transport.Mode),
		slog.String("peer_name", cfg.Transport.PeerName),
		slog.String("bind_address", cfg.Transport.BindAddress),
		slog.Int("udp_port", cfg.Transport.Port),
		slog.Int("static_peers", len(cfg.Transport.Peers)),
		slog.Duration("heartbeat_interval", cfg.Transport.GetHeartbeatInterval()),
		slog.Duration("peer_timeout", cfg.Transport.GetPeerTimeout()),
		slog.Duration("activation_timeout", cfg.Coordinator.GetActivationTimeout()),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appMetrics := metrics.NewMetrics(prometheus.DefaultRegisterer)
	logger.Info("Prometheus metrics initialized")

	// Initialize the session provider
	var (
		provider     sessionProvider
		udpTransport *transport.UDPTransport
		loopback     *groupsession.Loopback
	)

	switch cfg.Transport.Mode {
	case config.TransportLoopback:
		loopback = groupsession.NewLoopback(cfg.Transport.SessionBuffer)
		loopback.SetEligible(true)
		provider = loopback
		logger.Info("Loopback session provider initialized")

	default:
		udpTransport, err = transport.NewUDPTransport(&cfg.Transport, logger, appMetrics)
		if err != nil {
			logger.Error("Failed to create UDP transport", slog.String("error", err.Error()))
			os.Exit(1)
		}
		if err := udpTransport.Start(); err != nil {
			logger.Error("Failed to start UDP transport", slog.String("error", err.Error()))
			os.Exit(1)
		}
		provider = udpTransport
		logger.Info("UDP transport started", slog.String("address", udpTransport.LocalAddr().String()))
	}

	// Initialize the coordinator
	coord := coordinator.New(provider, provider, logger, appMetrics, coordinator.Config{
		ActivationTimeout: cfg.Coordinator.GetActivationTimeout(),
	})
	if err := coord.StartObservingState(ctx); err != nil {
		logger.Error("Failed to start observing session state", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Initialize HTTP API server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		var peers server.PeerTransport
		if udpTransport != nil {
			peers = udpTransport
		}

		httpServer = server.NewHTTPServer(cfg, logger, coord, peers, appMetrics)
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("HTTP API server initialized",
			slog.String("address", net.JoinHostPort(cfg.HTTP.Address, strconv.Itoa(cfg.HTTP.Port))),
		)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...")

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests, drop WebSocket clients)
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	coord.Close()

	if loopback != nil {
		loopback.Close()
	}

	if udpTransport != nil {
		if err := udpTransport.Stop(); err != nil {
			logger.Error("Error stopping UDP transport", slog.String("error", err.Error()))
		}

		stats := udpTransport.GetStatistics()
		logger.Info("Final transport statistics",
			slog.Uint64("packets_received", stats.PacketsReceived),
			slog.Uint64("packets_processed", stats.PacketsProcessed),
			slog.Uint64("packets_sent", stats.PacketsSent),
			slog.Uint64("parse_errors", stats.ParseErrors),
		)
	}

	logger.Info("Service stopped")
}
