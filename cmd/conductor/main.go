package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devrev/ringconductor/internal/conductor"
	"github.com/devrev/ringconductor/internal/config"
	"github.com/devrev/ringconductor/internal/health"
	"github.com/devrev/ringconductor/internal/metrics"
	"github.com/devrev/ringconductor/internal/server"
	"github.com/devrev/ringconductor/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

const usage = "usage: conductor <configuration_file_path> <logging_configuration_file_path>"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, usage)
		return 2
	}
	configPath, loggingPath := args[0], args[1]

	// Initialize logger
	loggingCfg, err := config.LoadLogging(loggingPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load logging configuration: %v\n", err)
		return 1
	}
	logger, err := loggingCfg.BuildLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("Failed to load configuration", zap.Error(err))
		return 1
	}

	logger.Info("Starting ring group conductor",
		zap.String("ring_group", cfg.Conductor.RingGroupName),
		zap.Duration("sleep_interval", cfg.Conductor.SleepInterval),
		zap.String("initial_mode", cfg.Conductor.InitialMode),
		zap.Int("min_ring_fully_serving_observations", cfg.Conductor.MinRingFullyServingObservations),
		zap.String("store_backend", cfg.Store.Backend),
		zap.String("claims_backend", cfg.Claims.Backend))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(registry)

	// Initialize cluster state store
	coordinator, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize store", zap.Error(err))
		return 1
	}
	defer func() {
		if err := coordinator.Close(); err != nil {
			logger.Warn("Failed to close store", zap.Error(err))
		}
	}()
	logger.Info("Store initialized")

	transitions := conductor.NewRingGroupTransitions(coordinator, m, cfg.Conductor.CommandConcurrency, logger)
	c := conductor.NewConductor(conductor.Options{
		RingGroupName: cfg.Conductor.RingGroupName,
		SleepInterval: cfg.Conductor.SleepInterval,
		InitialMode:   cfg.Conductor.Mode(),
	}, coordinator, transitions, m, logger)

	// Start ops server
	if cfg.Metrics.Enabled {
		hc := health.NewHealthChecker(coordinator, c, cfg.Conductor.RingGroupName, logger)
		ops := server.NewOpsServer(server.OpsServerConfig{
			Port:        cfg.Metrics.Port,
			MetricsPath: cfg.Metrics.Path,
		}, registry, hc, logger)
		ops.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := ops.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Failed to stop ops server", zap.Error(err))
			}
		}()
	}

	if err := c.Run(ctx); err != nil {
		logger.Error("Conductor failed", zap.Error(err))
		return 1
	}

	logger.Info("Conductor exited")
	return 0
}

// openStore opens the PostgreSQL entity store, optionally routing conductor
// claims through Redis
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Coordinator, error) {
	if cfg.Store.Backend != config.StoreBackendPostgres {
		return nil, fmt.Errorf("unsupported store backend %q", cfg.Store.Backend)
	}

	entities, err := store.NewPostgresStore(ctx, store.PostgresOptions{
		Host:              cfg.Database.Host,
		Port:              cfg.Database.Port,
		Database:          cfg.Database.Database,
		User:              cfg.Database.User,
		Password:          cfg.Database.Password,
		MaxConnections:    cfg.Database.MaxConnections,
		MinConnections:    cfg.Database.MinConnections,
		ConnectRetryLimit: cfg.Database.ConnectRetryLimit,
	}, logger)
	if err != nil {
		return nil, err
	}

	if cfg.Claims.Backend != config.ClaimsBackendRedis {
		return entities, nil
	}

	client, err := store.NewRedisClient(ctx, store.RedisOptions{
		Host:         cfg.Redis.Host,
		Port:         cfg.Redis.Port,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		MaxRetries:   cfg.Redis.MaxRetries,
		RetryBackoff: cfg.Redis.RetryBackoff,
	}, logger)
	if err != nil {
		entities.Close()
		return nil, err
	}
	claims := store.NewRedisClaimStore(client, cfg.Claims.Prefix, cfg.Claims.TTL, logger)
	return store.WithClaimStore(entities, claims), nil
}
