package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
	"github.com/smallest87/proyek-websocket-pc/internal/adapter/httpserver"
	"github.com/smallest87/proyek-websocket-pc/internal/adapter/metrics"
	"github.com/smallest87/proyek-websocket-pc/internal/adapter/redis"
	"github.com/smallest87/proyek-websocket-pc/internal/domain"
	"github.com/smallest87/proyek-websocket-pc/internal/platform/config"
	"github.com/smallest87/proyek-websocket-pc/internal/platform/logging"
	"github.com/smallest87/proyek-websocket-pc/internal/platform/version"
	"github.com/smallest87/proyek-websocket-pc/internal/relay"
)

type bridgeResult struct {
	client    *goredis.Client
	bridge    *redis.Bridge
	instances *redis.InstanceRegistry
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// slog is not configured yet
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupBridge(ctx context.Context, cfg *config.Config, m *metrics.RedisMetrics) bridgeResult {
	client, err := redis.NewClient(ctx, cfg.RedisURL, m)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return bridgeResult{
		client: client,
		bridge: redis.NewBridge(client, cfg.RedisChannel, m),
	}
}

func runGracefulShutdown(cfg *config.Config, srv *httpserver.Server, rly *relay.Relay, stopBridge context.CancelFunc) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		// Stop accepting first so no connection registers after the relay drains.
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}
		if err := rly.Stop(shutdownCtx); err != nil {
			slog.Error("Relay shutdown error", "error", err)
		}
		stopBridge()

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting",
		"env", cfg.AppEnv,
		"addr", cfg.Host+":"+cfg.Port,
		"version", version.Get().String(),
		"echo_to_sender", cfg.EchoToSender,
	)

	reg := metrics.NewRegistry()
	relayMetrics := metrics.NewRelayMetrics(reg)

	bridgeCtx, stopBridge := context.WithCancel(context.Background())
	defer stopBridge()

	var (
		forwarder    domain.Forwarder
		healthChecks []httpserver.HealthCheck
		serverOpts   []httpserver.Option
		bridge       bridgeResult
	)
	if cfg.BridgeEnabled() {
		bridge = setupBridge(bridgeCtx, cfg, metrics.NewRedisMetrics(reg))
		defer func() { _ = bridge.client.Close() }()

		// Assigned only here to avoid a typed-nil Forwarder.
		forwarder = bridge.bridge
		healthChecks = append(healthChecks, httpserver.HealthCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return bridge.client.Ping(ctx).Err() },
		})
	}

	rly := relay.New(relay.Options{
		Coordinator: relay.CoordinatorOptions{
			DeliveryTimeout:         cfg.DeliveryTimeout,
			MaxConcurrentDeliveries: cfg.MaxConcurrentDeliveries,
			EchoToSender:            cfg.EchoToSender,
		},
		Observer:  relay.MultiObserver{relay.NewLogObserver(slog.Default()), relayMetrics},
		Forwarder: forwarder,
		Clock:     clock,
	})

	bridgeDone := make(chan struct{})
	if bridge.bridge != nil {
		bridge.instances = redis.NewInstanceRegistry(bridge.client, cfg.RedisChannel, bridge.bridge.Origin(), clock,
			func() int { return rly.Stats().LiveConnections })
		serverOpts = append(serverOpts, httpserver.WithClusterStats(bridge.instances))

		go func() {
			defer close(bridgeDone)

			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				bridge.instances.Run(bridgeCtx)
			}()

			if err := bridge.bridge.Run(bridgeCtx, rly); err != nil {
				slog.Error("Bridge stopped unexpectedly", "error", err)
			}
			wg.Wait()
		}()
	} else {
		close(bridgeDone)
	}

	serverOpts = append(serverOpts,
		httpserver.WithRejectionRecorder(relayMetrics),
		httpserver.WithHealthChecks(healthChecks...),
		httpserver.WithClock(clock),
	)
	srv := httpserver.NewServer(cfg, rly, reg, serverOpts...)

	done := runGracefulShutdown(cfg, srv, rly, stopBridge)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
	<-bridgeDone
	slog.Info("Shutdown complete")
}
