package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/abduss/reelrelay/internal/aggregator"
	"github.com/abduss/reelrelay/internal/auth"
	"github.com/abduss/reelrelay/internal/config"
	"github.com/abduss/reelrelay/internal/credentials"
	"github.com/abduss/reelrelay/internal/fanout"
	"github.com/abduss/reelrelay/internal/lifecycle"
	"github.com/abduss/reelrelay/internal/logger"
	"github.com/abduss/reelrelay/internal/metrics"
	"github.com/abduss/reelrelay/internal/objectstore"
	"github.com/abduss/reelrelay/internal/quota"
	"github.com/abduss/reelrelay/internal/relay"
	"github.com/abduss/reelrelay/internal/server"
	"github.com/abduss/reelrelay/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	log, err := logger.Init()
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	if err := run(log); err != nil {
		log.Error("relay api stopped", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Postgres.MigrateOnStart {
		version, err := storage.Migrate(cfg.Postgres)
		if err != nil {
			return err
		}
		log.Info("database migrated", zap.Uint("version", version))
	}

	dbPool, err := storage.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer dbPool.Close()

	objects, err := openObjectStore(ctx, cfg.ObjectStore)
	if err != nil {
		return err
	}

	var sealer *credentials.Sealer
	if cfg.Credentials.SealingKey != "" {
		key, err := cfg.Credentials.Key()
		if err != nil {
			return err
		}
		sealer = credentials.NewSealer(key)
	} else {
		log.Warn("CREDENTIALS_SEALING_KEY not set, uploads are disabled")
	}

	metrics.InitMetrics()

	authService := auth.NewService(auth.NewRepository(dbPool), cfg.Auth)
	credentialsService := credentials.NewService(credentials.NewRepository(dbPool), sealer)
	ledger := quota.NewLedger(quota.NewRepository(dbPool), quota.LimitsFromConfig(cfg.Quota))
	lifecycleManager := lifecycle.NewManager(lifecycle.NewRepository(dbPool), objects, cfg.Upload.Retention, cfg.Reaper.BatchSize, log)
	urls := objectstore.NewURLBuilder(cfg.ObjectStore.PublicBaseURL)
	aggClient := aggregator.NewClient(cfg.Aggregator.BaseURL, cfg.Aggregator.Timeout, nil)
	dispatcher := fanout.NewDispatcher(aggClient, urls, fanout.Options{
		VideoPlatform: cfg.Aggregator.VideoPlatform,
		Concurrency:   cfg.Aggregator.FanOutConcurrency,
		LeadTime:      cfg.Aggregator.ScheduleLeadTime,
	}, log)

	orchestrator := relay.NewOrchestrator(relay.Deps{
		Quota:       ledger,
		Lifecycle:   lifecycleManager,
		Objects:     objects,
		Accounts:    aggClient,
		Dispatcher:  dispatcher,
		Credentials: credentialsService,
		URLs:        urls,
	}, relay.OptionsFromConfig(cfg.Upload), log)

	gin.SetMode(gin.ReleaseMode)
	router := server.NewRouter(server.Dependencies{
		Config:             cfg,
		DB:                 dbPool,
		ObjectStore:        objects,
		AuthService:        authService,
		CredentialsService: credentialsService,
		Relay:              orchestrator,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	var wg sync.WaitGroup
	if cfg.Reaper.Enabled {
		reaper := lifecycle.NewReaper(lifecycleManager, cfg.Reaper.Interval, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			reaper.Run(ctx)
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("relay api listening", zap.String("addr", cfg.Server.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			stop()
			wg.Wait()
			return err
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log.Info("shutting down gracefully")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown error", zap.Error(err))
	}
	wg.Wait()
	return nil
}

func openObjectStore(ctx context.Context, cfg config.ObjectStoreConfig) (objectstore.Store, error) {
	switch cfg.Backend {
	case config.BackendS3:
		client, err := storage.NewS3Client(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		return objectstore.NewS3(client, cfg.S3.Bucket), nil
	default:
		client, err := storage.NewMinIOClient(cfg.MinIO)
		if err != nil {
			return nil, err
		}
		if err := storage.EnsureBucket(ctx, client, cfg.MinIO.Bucket, cfg.MinIO.Region); err != nil {
			return nil, err
		}
		return objectstore.NewMinIO(client, cfg.MinIO.Bucket), nil
	}
}
