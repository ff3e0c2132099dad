package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kikokaraba/srei-sub000/config"
	"github.com/kikokaraba/srei-sub000/internal/api"
	"github.com/kikokaraba/srei-sub000/internal/database"
	"github.com/kikokaraba/srei-sub000/internal/duplicates"
	"github.com/kikokaraba/srei-sub000/internal/geocoding"
	"github.com/kikokaraba/srei-sub000/internal/geometry"
	"github.com/kikokaraba/srei-sub000/internal/liquidity"
	"github.com/kikokaraba/srei-sub000/internal/processor"
	"github.com/kikokaraba/srei-sub000/internal/queue"
	"github.com/kikokaraba/srei-sub000/internal/scheduler"
	"github.com/kikokaraba/srei-sub000/internal/scraping"
	"github.com/kikokaraba/srei-sub000/internal/telegram"
	"github.com/kikokaraba/srei-sub000/internal/timeline"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	locations, err := config.LoadLocations(cfg.Normalizer.LocationsFile)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load location table")
	}
	logger.Infof("Loaded %d cities", len(locations.Cities))

	db, err := database.NewDatabase(cfg.Database.Driver, cfg.Database.DSN, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize database")
	}
	defer db.Close()

	logger.Info("Running database migrations...")
	if err := db.RunMigrations(); err != nil {
		logger.WithError(err).Fatal("Failed to run database migrations")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telegramService := telegram.NewService(cfg, logger)
	ingestor := processor.NewIngestor(db.GetDB(), cfg, locations, logger)
	if cfg.Telegram.Enabled {
		ingestor.SetNotifier(telegramService)
	}

	monitor := liquidity.NewMonitor(db.GetDB(), cfg, logger)
	passQueue := queue.NewPassQueue(cfg.BatchProcessing.QueueSize, logger)
	batchProcessor := processor.NewBatchProcessor(db.GetDB(), passQueue, ingestor, monitor, cfg, logger)
	batchProcessor.Start()

	var cache duplicates.Cache
	if cfg.Redis.URL != "" {
		redisCache, err := duplicates.NewRedisCache(ctx, cfg.Redis.URL)
		if err != nil {
			// duplicate groups are still served straight from the store
			logger.WithError(err).Warn("Redis unavailable, duplicate groups will not be cached")
		} else {
			defer redisCache.Close()
			cache = redisCache
		}
	}
	grouper := duplicates.NewGrouper(db.GetDB(), cache, time.Duration(cfg.Redis.DuplicateTTL)*time.Second, logger)

	var backfiller *geocoding.Backfiller
	if cfg.Geocoding.Enabled {
		geocoder := geocoding.NewGeocoder(cfg.Geocoding.BaseURL, cfg.Geocoding.Country, cfg.Geocoding.CacheDir, logger)
		backfiller = geocoding.NewBackfiller(db.GetDB(), geocoder, cfg.Geocoding.BatchSize, logger)

		go func() {
			logger.Info("Starting initial geocoding of properties without coordinates...")
			if _, err := backfiller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.WithError(err).Error("Failed to update coordinates")
			}
		}()
	}

	var spiderScheduler *scheduler.Scheduler
	if len(cfg.Scraping.Sources) > 0 {
		spiderManager := scraping.NewSpiderManager(cfg, batchProcessor, logger)
		spiderScheduler = scheduler.NewScheduler(spiderManager, cfg.Scraping.Sources, cfg.Scraping.Schedule, logger)
		if err := spiderScheduler.Start(); err != nil {
			logger.WithError(err).Fatal("Failed to start scheduler")
		}
	}

	handler := api.NewHandler(api.Dependencies{
		DB:              db.GetDB(),
		Ingestor:        ingestor,
		Queue:           passQueue,
		Timeline:        timeline.NewService(db.GetDB(), logger),
		Grouper:         grouper,
		DistrictManager: geometry.NewDistrictManager(db.GetDB(), logger),
		Scheduler:       spiderScheduler,
		Geocoding:       backfiller,
		Telegram:        telegramService,
	}, logger)

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           api.NewRouter(handler, cfg.Server.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("Starting server on port %s", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server shutdown failed")
	}
	if spiderScheduler != nil {
		spiderScheduler.Stop()
	}
	batchProcessor.Stop()
	logger.Info("Server stopped")
}
