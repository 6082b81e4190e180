// Package main provides the main entry point for the conversion relay
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/amirphl/conversion-relay/app/handlers"
	"github.com/amirphl/conversion-relay/app/messaging"
	"github.com/amirphl/conversion-relay/app/middleware"
	"github.com/amirphl/conversion-relay/app/router"
	"github.com/amirphl/conversion-relay/app/scheduler"
	"github.com/amirphl/conversion-relay/app/services"
	"github.com/amirphl/conversion-relay/app/worker"
	businessflow "github.com/amirphl/conversion-relay/business_flow"
	"github.com/amirphl/conversion-relay/config"
	"github.com/amirphl/conversion-relay/logger"
	"github.com/amirphl/conversion-relay/migrations"
	"github.com/amirphl/conversion-relay/repository"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Application represents the main application structure
type Application struct {
	router *router.FiberRouter
	config *config.ProductionConfig
	logger *logrus.Logger

	// stopFuncs run in order on shutdown, before the HTTP server closes
	stopFuncs []func()
	closers   []func() error
}

func main() {
	cfg, err := config.LoadProductionConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	log.WithFields(logrus.Fields{
		"environment": cfg.Deployment.Environment,
		"version":     cfg.Deployment.Version,
		"commit":      cfg.Deployment.CommitHash,
	}).Info("Starting conversion relay")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := initializeApplication(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize application")
	}

	app.router.SetupRoutes()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		serverErr <- app.router.Start(address)
	}()

	select {
	case sig := <-sigChan:
		log.WithField("signal", sig.String()).Info("Shutting down gracefully...")
	case err := <-serverErr:
		log.WithError(err).Error("Server stopped unexpectedly")
	}

	app.shutdown(cancel)
	log.Info("Server stopped")
}

func (a *Application) shutdown(cancel context.CancelFunc) {
	for _, fn := range a.stopFuncs {
		fn()
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.config.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := a.router.GetApp().ShutdownWithContext(shutdownCtx); err != nil {
		a.logger.WithError(err).Error("Error during shutdown")
	}

	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			a.logger.WithError(err).Warn("Error closing resource")
		}
	}
}

// initializeDatabase opens the connection pool and applies pending migrations
func initializeDatabase(cfg config.DatabaseConfig, log logrus.FieldLogger) (*gorm.DB, error) {
	if cfg.AutoMigrate {
		applied, err := migrations.Up(cfg.URL(), cfg.MigrationsPath)
		if err != nil {
			return nil, err
		}
		log.WithField("applied", applied).Info("Database migrations checked")
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: gormlogger.New(log, gormlogger.Config{
			SlowThreshold:             cfg.SlowQueryTime,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.WithFields(logrus.Fields{
		"max_open_conns": cfg.MaxOpenConns,
		"max_idle_conns": cfg.MaxIdleConns,
	}).Info("Database connection established")
	return db, nil
}

// initializeCache initializes the Cache client and verifies connectivity
func initializeCache(cfg config.CacheConfig, log logrus.FieldLogger) (*redis.Client, error) {
	if !cfg.Enabled || cfg.Provider != "redis" {
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opt.DB = cfg.RedisDB

	rc := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.WithField("db", cfg.RedisDB).Info("Redis connection established")
	return rc, nil
}

// startCacheHealthMonitor periodically pings Redis so connectivity loss shows up in the logs.
// The returned cancel function stops the monitor.
func startCacheHealthMonitor(parent context.Context, client *redis.Client, interval time.Duration, log logrus.FieldLogger) func() {
	monitorCtx, cancel := context.WithCancel(parent)
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-monitorCtx.Done():
				return
			case <-ticker.C:
				ctx, c := context.WithTimeout(monitorCtx, 3*time.Second)
				if err := client.Ping(ctx).Err(); err != nil {
					log.WithError(err).Warn("Redis healthcheck failed")
				}
				c()
			}
		}
	}()
	return cancel
}

// initializeSenders builds one client per destination; UTMify only when configured
func initializeSenders(cfg *config.ProductionConfig) []services.ConversionSender {
	senders := []services.ConversionSender{
		services.NewFacebookClient(cfg.Dispatch.FacebookAPIURL, cfg.Dispatch.Timeout),
		services.NewTikTokClient(cfg.Dispatch.TikTokAPIURL, cfg.Dispatch.Timeout),
		services.NewKwaiClient(cfg.Dispatch.KwaiAPIURL, cfg.Dispatch.Timeout),
	}
	if cfg.UTMify.Enabled() {
		senders = append(senders, services.NewUTMifyClient(cfg.UTMify.APIURL, cfg.UTMify.APIKey, cfg.Dispatch.Timeout))
	}
	return senders
}

func enabledFeatures(cfg *config.ProductionConfig) []string {
	features := []string{"click_tracking", "pixel_gif", "redirect", "apex_webhook", "chat_ingestion", "facebook", "tiktok", "kwai"}
	if cfg.UTMify.Enabled() {
		features = append(features, "utmify")
	}
	if cfg.Kafka.Enabled {
		features = append(features, "kafka")
	}
	if cfg.Cache.Enabled {
		features = append(features, "click_cache")
	}
	if cfg.Scheduler.ClickRetention > 0 {
		features = append(features, "click_retention")
	}
	return features
}

// initializeApplication initializes the main application components
func initializeApplication(ctx context.Context, cfg *config.ProductionConfig, log *logrus.Logger) (*Application, error) {
	app := &Application{config: cfg, logger: log}

	db, err := initializeDatabase(cfg.Database, logger.Named(log, "database"))
	if err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		app.closers = append(app.closers, sqlDB.Close)
	}

	rc, err := initializeCache(cfg.Cache, logger.Named(log, "cache"))
	if err != nil {
		return nil, err
	}

	// Repositories
	var clickRepo repository.ClickRepository = repository.NewClickRepository(db)
	if rc != nil {
		app.stopFuncs = append(app.stopFuncs, startCacheHealthMonitor(ctx, rc, cfg.Cache.HealthCheckInterval, logger.Named(log, "cache")))
		app.closers = append(app.closers, rc.Close)
		clickRepo = repository.NewCachedClickRepository(clickRepo, rc, cfg.Cache.RedisPrefix, cfg.Cache.ClickTTL, logger.Named(log, "click_cache"))
	}
	saleRepo := repository.NewSaleRepository(db)
	pixelRepo := repository.NewPixelConfigRepository(db)
	dispatchRepo := repository.NewConversionDispatchRepository(db)
	processedRepo := repository.NewProcessedMessageRepository(db)
	webhookRepo := repository.NewWebhookEventRepository(db)
	txManager := repository.NewTransactor(db)

	// Services
	tokenService, err := services.NewTokenService(cfg.JWT.AccessTokenTTL, cfg.JWT.Issuer, cfg.JWT.Audience, cfg.JWT.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token service: %w", err)
	}

	var publisher businessflow.ReportPublisher = messaging.Disabled()
	if cfg.Kafka.Enabled && cfg.Kafka.ConversionTopic != "" {
		p := messaging.NewConversionPublisher(cfg.Kafka.Brokers, cfg.Kafka.ConversionTopic)
		app.closers = append(app.closers, p.Close)
		publisher = p
	}

	// Business flows
	resolver := businessflow.NewAttributionResolver(clickRepo, businessflow.AttributionOptions{
		IPWindow:           cfg.Attribution.IPWindow,
		MinSubstringLength: cfg.Attribution.MinSubstringLength,
	}, logger.Named(log, "attribution"))

	dispatcher := businessflow.NewConversionDispatcher(
		pixelRepo,
		dispatchRepo,
		saleRepo,
		txManager,
		initializeSenders(cfg),
		publisher,
		businessflow.DispatcherOptions{
			Timeout:            cfg.Dispatch.Timeout,
			ClaimLease:         cfg.Dispatch.ClaimLease,
			MinorUnitThreshold: cfg.Dispatch.MinorUnitThreshold,
			Concurrency:        cfg.Dispatch.Concurrency,
		},
		logger.Named(log, "dispatcher"),
	)

	pipeline := businessflow.NewSalePipeline(saleRepo, resolver, dispatcher, cfg.Attribution.MonotonicStatus, logger.Named(log, "pipeline"))
	saleFlow := businessflow.NewSaleIngestionFlow(pipeline, webhookRepo, cfg.Dispatch.MinorUnitThreshold, logger.Named(log, "webhook"))
	chatFlow := businessflow.NewChatIngestionFlow(pipeline, processedRepo, logger.Named(log, "chat"))
	clickFlow := businessflow.NewClickTrackingFlow(clickRepo, cfg.Tracking.TelegramBotURL, logger.Named(log, "tracking"))
	pixelFlow := businessflow.NewPixelAdminFlow(pixelRepo)
	dispatchAdminFlow := businessflow.NewDispatchAdminFlow(saleRepo, dispatchRepo, resolver, dispatcher, logger.Named(log, "admin"))
	authFlow := businessflow.NewAdminAuthFlow(tokenService, cfg.Security.AdminBootstrapKey)

	// Background work
	pool := worker.NewPool("webhooks", worker.Options{
		Workers:      cfg.Worker.Count,
		QueueSize:    cfg.Worker.QueueSize,
		DrainTimeout: cfg.Worker.DrainTimeout,
	}, logger.Named(log, "worker"))
	pool.Start(ctx)
	app.stopFuncs = append(app.stopFuncs, pool.Stop)

	clickPool := worker.NewPool("clicks", worker.Options{
		Workers:      cfg.Worker.Count,
		QueueSize:    cfg.Worker.QueueSize,
		DrainTimeout: cfg.Worker.DrainTimeout,
	}, logger.Named(log, "worker"))
	clickPool.Start(ctx)
	app.stopFuncs = append(app.stopFuncs, clickPool.Stop)

	retention := scheduler.NewClickRetentionScheduler(
		clickRepo,
		cfg.Scheduler.ClickRetention,
		cfg.Scheduler.ClickRetentionInterval,
		cfg.Scheduler.ClickRetentionBatch,
		logger.Named(log, "retention"),
	)
	app.stopFuncs = append(app.stopFuncs, retention.Start(ctx))

	if cfg.Kafka.Enabled && cfg.Kafka.ChatTopic != "" {
		consumer := messaging.NewChatConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.ChatTopic, chatFlow, logger.Named(log, "chat_consumer"))
		// the consumer goes first so no new chat sales arrive while the pool drains
		app.stopFuncs = append([]func(){consumer.Start(ctx)}, app.stopFuncs...)
	}

	// HTTP
	handlerLog := logger.Named(log, "http")
	app.router = router.NewFiberRouter(cfg, router.Handlers{
		Health:   handlers.NewHealthHandler(cfg.Deployment.Version, enabledFeatures(cfg)),
		Tracking: handlers.NewTrackingHandler(clickFlow, clickPool, handlerLog),
		Webhook:  handlers.NewWebhookHandler(saleFlow, pool, handlerLog),
		Chat:     handlers.NewChatHandler(chatFlow, handlerLog),
		Admin:    handlers.NewAdminHandler(pixelFlow, dispatchAdminFlow, authFlow, handlerLog),
	}, middleware.NewAuthMiddleware(tokenService), handlerLog)

	return app, nil
}
