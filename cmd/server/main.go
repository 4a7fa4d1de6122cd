// Package main provides the API server entry point for the model platform.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelforge/internal/api"
	"github.com/modelforge/internal/auth"
	"github.com/modelforge/internal/config"
	"github.com/modelforge/internal/ipfs"
	"github.com/modelforge/internal/logging"
	"github.com/modelforge/internal/realtime"
	"github.com/modelforge/internal/retry"
	"github.com/modelforge/internal/service"
	"github.com/modelforge/internal/storage"
	"github.com/modelforge/internal/worker"
)

func main() {
	fmt.Println("ModelForge API Server")
	log.Println("Server starting...")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()
	logger.WithFields(logging.Fields{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
		"store":  cfg.Store.Driver,
	}).Info("Structured logging initialized")

	ctx := logging.WithLogger(context.Background(), logger)

	store, err := openStore(ctx, cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open store")
	}
	defer store.Close()

	if cfg.Store.SeedModel {
		m, err := storage.SeedInitialModel(ctx, store)
		if err != nil {
			logger.WithError(err).Fatal("Failed to seed initial model")
		}
		logger.WithFields(logging.Fields{"model_id": m.ID, "name": m.Name}).Info("Initial model ready")
	}

	// Session revocation survives restarts only when Redis is configured
	var revoker auth.Revoker = auth.NewMemoryRevoker()
	if cfg.Database.Redis.Enabled() {
		var redisCache *storage.RedisCache
		err := retry.Do(ctx, retry.DefaultConfig(), "redis connect", func(ctx context.Context, _ int) error {
			var err error
			redisCache, err = storage.NewRedisCache(ctx, &cfg.Database.Redis)
			return err
		})
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer redisCache.Close()
		revoker = auth.NewRedisRevoker(redisCache)
		logger.Info("Session revocation backed by Redis")
	}
	sessions := auth.NewSessionManager(cfg.Auth.SessionSecret, cfg.Auth.SessionTTL, cfg.Auth.Issuer, revoker)

	// The hub reads platform stats from the model service; every other
	// service publishes through the hub.
	modelService := service.NewModelService(store)
	hub := realtime.NewHub(modelService, logger)
	defer hub.Close()

	var sinks []service.ActivitySink
	var archiveWorker *worker.ArchiveWorker
	if cfg.Database.ClickHouse.Enabled() {
		archiveWorker, err = startArchive(ctx, &cfg.Database.ClickHouse, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to start activity archive")
		}
		sinks = append(sinks, archiveWorker)
	}

	activities := service.NewActivityLog(store, hub, logger, sinks...)
	gateway := ipfs.NewClient(&cfg.IPFS, logger)
	if !gateway.Configured() {
		logger.Warn("IPFS credentials not set; upload endpoints will return 503")
	}
	compute := service.NewComputeService(store, activities, hub, cfg.Compute.StepDelay, cfg.Compute.DefaultModelID, logger)

	services := api.Services{
		Users:         service.NewUserService(store, logger),
		Models:        modelService,
		Contributions: service.NewContributionService(store, activities, hub, logger),
		Compute:       compute,
		Activities:    activities,
		IPFS:          service.NewIPFSService(store, gateway, activities, cfg.Compute.DefaultModelID, logger),
		Datasets:      service.NewDatasetService(store, activities, gateway.GatewayURL, cfg.Compute.DefaultModelID, logger),
	}

	wsHandler := realtime.NewHandler(hub, sessions, compute, cfg.Auth.CookieName, cfg.Server.AllowedOrigins, realtime.ClientConfig{
		Buffer:         cfg.Realtime.ClientBuffer,
		PingPeriod:     cfg.Realtime.PingPeriod,
		WriteTimeout:   cfg.Realtime.WriteTimeout,
		MaxMessageSize: cfg.Realtime.MaxMessageSize,
	}, logger)

	serverConfig := &api.ServerConfig{
		Host:             cfg.Server.Host,
		Port:             cfg.Server.Port,
		ReadTimeout:      cfg.Server.ReadTimeout,
		WriteTimeout:     cfg.Server.WriteTimeout,
		IdleTimeout:      cfg.Server.IdleTimeout,
		ShutdownTimeout:  cfg.Server.ShutdownTimeout,
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		CookieName:       cfg.Auth.CookieName,
		CookieSecure:     cfg.Auth.CookieSecure,
		AnonymousRPS:     cfg.RateLimit.AnonymousRPS,
		AuthenticatedRPS: cfg.RateLimit.AuthenticatedRPS,
		Burst:            cfg.RateLimit.Burst,
	}
	server := api.NewServer(serverConfig, services, sessions, wsHandler, logger)

	go func() {
		if err := server.Start(); err != nil {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(logging.Fields{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
	if archiveWorker != nil {
		if err := archiveWorker.Stop(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Archive worker did not stop cleanly")
		}
	}

	logger.Info("Server exited")
}

// openStore returns the configured entity store. Postgres connections are
// retried while the database comes up.
func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	if cfg.Store.Driver != config.StoreDriverPostgres {
		return storage.NewMemoryStore(), nil
	}

	var db *storage.PostgresDB
	err := retry.Do(ctx, retry.DefaultConfig(), "postgres connect", func(ctx context.Context, _ int) error {
		var err error
		db, err = storage.NewPostgresDB(ctx, &cfg.Database.Postgres)
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := storage.RunMigrations(cfg.Database.Postgres.URL(), cfg.Database.Postgres.MigrationsPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return storage.NewPostgresStore(db), nil
}

func startArchive(ctx context.Context, cfg *config.ClickHouseConfig, logger *logging.Logger) (*worker.ArchiveWorker, error) {
	var db *storage.ClickHouseDB
	err := retry.Do(ctx, retry.DefaultConfig(), "clickhouse connect", func(ctx context.Context, _ int) error {
		var err error
		db, err = storage.NewClickHouseDB(ctx, cfg)
		return err
	})
	if err != nil {
		return nil, err
	}

	w, err := worker.NewArchiveWorker(&worker.ArchiveWorkerConfig{
		Writer:        storage.NewActivityArchive(db),
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}
	// The loop outlives main's context; Stop ends it.
	if err := w.Start(context.Background()); err != nil {
		return nil, err
	}
	return w, nil
}
