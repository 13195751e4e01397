// Package main provides the entry point of the LeadRelay notification service
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/amirphl/leadrelay/app/handlers"
	"github.com/amirphl/leadrelay/app/middleware"
	"github.com/amirphl/leadrelay/app/realtime"
	"github.com/amirphl/leadrelay/app/router"
	"github.com/amirphl/leadrelay/app/scheduler"
	"github.com/amirphl/leadrelay/app/services"
	"github.com/amirphl/leadrelay/app/worker"
	businessflow "github.com/amirphl/leadrelay/business_flow"
	"github.com/amirphl/leadrelay/config"
	"github.com/amirphl/leadrelay/models"
	"github.com/amirphl/leadrelay/repository"
	"github.com/amirphl/leadrelay/utils"
	"github.com/redis/go-redis/v9"
	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Application represents the main application structure
type Application struct {
	router    router.Router
	config    *config.ProductionConfig
	pool      *worker.Pool
	wsServer  *realtime.WSServer
	hub       *realtime.Hub
	stopFuncs []func()
}

func main() {
	cfg, err := config.LoadProductionConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	initializeLogging(cfg.Logging)
	log.Printf("Starting LeadRelay %s (%s, env=%s)", cfg.Deployment.Version, cfg.Deployment.CommitHash, cfg.Deployment.Environment)

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := initializeApplication(rootCtx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	app.router.SetupRoutes()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := app.router.Start(address); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	if app.wsServer != nil {
		app.wsServer.Start()
	}

	<-sigChan
	log.Println("Shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := app.router.Shutdown(); err != nil {
		log.Printf("Error during HTTP shutdown: %v", err)
	}
	if app.wsServer != nil {
		if err := app.wsServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error during websocket shutdown: %v", err)
		}
	}
	app.hub.CloseAll()

	for _, fn := range app.stopFuncs {
		fn()
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.Dispatch.DrainTimeout)
	defer drainCancel()
	if err := app.pool.Stop(drainCtx); err != nil {
		log.Printf("Error draining dispatch queue: %v", err)
	}

	log.Println("Server stopped")
}

// initializeLogging points the standard logger at stdout, a rotating file, or both
func initializeLogging(cfg config.LoggingConfig) {
	log.SetFlags(log.LstdFlags | log.LUTC | log.Lmicroseconds)

	if cfg.Output == "stdout" || cfg.FilePath == "" {
		log.SetOutput(os.Stdout)
		return
	}

	rotating := &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}
	if cfg.Output == "file" {
		log.SetOutput(rotating)
		return
	}
	log.SetOutput(io.MultiWriter(os.Stdout, rotating))
}

// initializeDatabase initializes the database connection with connection pooling
func initializeDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode)

	gormCfg := &gorm.Config{}
	if cfg.SlowQueryLog {
		gormCfg.Logger = gormlogger.New(log.Default(), gormlogger.Config{
			SlowThreshold:             cfg.SlowQueryTime,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		})
	}

	db, err := gorm.Open(postgres.Open(dsn), gormCfg)
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

	log.Printf("Database connection established with %d max open connections, %d max idle connections",
		cfg.MaxOpenConns, cfg.MaxIdleConns)

	return db, nil
}

// initializeCache connects to Redis when enabled. A nil client means single-instance mode.
func initializeCache(cfg config.CacheConfig) (*redis.Client, error) {
	if !cfg.Enabled {
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

	log.Printf("Redis connection established (db=%d)", cfg.RedisDB)
	return rc, nil
}

func startCacheHealthMonitor(parent context.Context, client *redis.Client, interval time.Duration) func() {
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
				ctx, c := context.WithTimeout(context.Background(), 3*time.Second)
				if err := client.Ping(ctx).Err(); err != nil {
					log.Printf("Redis healthcheck failed: %v", err)
				}
				c()
			}
		}
	}()
	return cancel
}

func initializeChatProvider(cfg config.ChatConfig) services.ChannelProvider {
	switch strings.ToLower(cfg.Provider) {
	case "http":
		return services.NewHTTPChatProvider(cfg)
	case "mock":
		return services.NewMockChannelProvider(models.ChannelChat)
	default:
		return nil
	}
}

func initializeEmailProvider(cfg config.EmailConfig) services.ChannelProvider {
	switch strings.ToLower(cfg.Provider) {
	case "http":
		return services.NewHTTPEmailProvider(cfg)
	case "smtp":
		return services.NewSMTPEmailProvider(cfg)
	case "mock":
		return services.NewMockChannelProvider(models.ChannelEmail)
	default:
		return nil
	}
}

func initializeApplication(ctx context.Context, cfg *config.ProductionConfig) (*Application, error) {
	var stopFuncs []func()

	db, err := initializeDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}

	rc, err := initializeCache(cfg.Cache)
	if err != nil {
		return nil, err
	}
	if rc != nil {
		stopFuncs = append(stopFuncs, startCacheHealthMonitor(ctx, rc, 30*time.Second))
	}

	partitionRepo := repository.NewPartitionRepository(db)
	recordRepo := repository.NewRecordRepository(db)
	linkRepo := repository.NewMessageLinkRepository(db)
	sendLogRepo := repository.NewSendLogRepository(db)
	auditRepo := repository.NewAuditLogRepository(db)

	providers := services.NewProviderRegistry(
		initializeChatProvider(cfg.Chat),
		initializeEmailProvider(cfg.Email),
	)
	for _, ch := range []models.Channel{models.ChannelChat, models.ChannelEmail} {
		if providers.Get(ch) == nil {
			log.Printf("Channel %s has no provider configured; sends on it will be rejected", ch)
		}
	}

	tokenService, err := services.NewTokenService(
		cfg.JWT.AccessTokenTTL,
		cfg.JWT.Issuer,
		cfg.JWT.Audience,
		cfg.JWT.UseRSAKeys,
		"",
		cfg.JWT.PublicKey,
		cfg.JWT.SecretKey,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token service: %w", err)
	}

	pool := worker.NewPool(worker.Config{
		QueueSize: cfg.Dispatch.QueueSize,
		Workers:   cfg.Dispatch.Workers,
	}, log.Default())
	pool.Start(ctx)

	hub := realtime.NewHub(cfg.Realtime.SubscriberBuffer, log.Default())
	if rc != nil {
		relay := realtime.NewRedisRelay(rc, cfg.Realtime.RedisChannel, hub, log.Default())
		stopRelay, err := relay.Start(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to start realtime relay: %w", err)
		}
		stopFuncs = append(stopFuncs, stopRelay)
	}

	allocator := businessflow.NewDistributionAllocator(partitionRepo, cfg.Dispatch.LockTimeout)
	evaluator := businessflow.NewTriggerEvaluator(linkRepo, sendLogRepo, utils.UTCNow, log.Default())
	dispatcher := businessflow.NewChannelDispatcher(providers, sendLogRepo, businessflow.DispatcherConfig{
		CallTimeout:   cfg.Dispatch.ProviderTimeout,
		RatePerSecond: cfg.Dispatch.RatePerSecond,
		Burst:         cfg.Dispatch.Burst,
	}, utils.UTCNow, log.Default())
	notificationFlow := businessflow.NewNotificationFlow(
		pool,
		evaluator,
		dispatcher,
		cfg.Dispatch.LinkParallelism,
		cfg.Dispatch.TaskTimeout,
		log.Default(),
	)

	var runLock businessflow.RunLock
	if rc != nil {
		runLock = services.NewRedisRunLock(rc, cfg.Cache.RedisPrefix+"lock:", cfg.Reconcile.LockTTL)
	}
	reconciliationFlow := businessflow.NewReconciliationFlow(sendLogRepo, providers, runLock, businessflow.ReconcileConfig{
		BatchSize:   cfg.Reconcile.BatchSize,
		Parallelism: cfg.Reconcile.Parallelism,
		CallTimeout: cfg.Reconcile.CallTimeout,
		OrphanAfter: cfg.Reconcile.OrphanAfter,
		MaxOrgs:     cfg.Reconcile.MaxOrgs,
	}, utils.UTCNow, log.Default())

	partitionFlow := businessflow.NewPartitionFlow(partitionRepo, auditRepo)
	recordFlow := businessflow.NewRecordFlow(
		partitionRepo,
		recordRepo,
		allocator,
		notificationFlow,
		hub,
		businessflow.NewGormTxRunner(db),
		businessflow.AllocationRetryConfig{
			Attempts: cfg.Dispatch.AllocationRetries,
			Backoff:  cfg.Dispatch.AllocationBackoff,
		},
		log.Default(),
	)
	messageLinkFlow := businessflow.NewMessageLinkFlow(partitionRepo, linkRepo, auditRepo)
	manualSendFlow := businessflow.NewManualSendFlow(
		linkRepo,
		recordRepo,
		auditRepo,
		dispatcher,
		cfg.Dispatch.LinkParallelism,
		cfg.Dispatch.ManualBatchLimit,
		log.Default(),
	)
	sendLogFlow := businessflow.NewSendLogFlow(sendLogRepo, auditRepo, reconciliationFlow)

	authMiddleware := middleware.NewAuthMiddleware(tokenService)

	appRouter := router.NewFiberRouter(router.Config{
		Version:           cfg.Deployment.Version,
		BodyLimit:         cfg.Server.BodyLimit,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		AllowedOrigins:    cfg.Security.AllowedOrigins,
		AllowedHeaders:    cfg.Security.AllowedHeaders,
		AllowCredentials:  cfg.Security.AllowCredentials,
		CORSMaxAge:        cfg.Security.CORSMaxAge,
		HSTSMaxAge:        cfg.Security.HSTSMaxAge,
		RateLimit:         cfg.Security.GlobalRateLimit,
		RateLimitWindow:   cfg.Security.RateLimitWindow,
		EnableCompression: cfg.Server.EnableCompression,
		EnableAccessLog:   cfg.Logging.EnableAccessLog,
		MetricsEnabled:    cfg.Metrics.Enabled,
		MetricsPath:       cfg.Metrics.Path,
	}, router.Handlers{
		Partition:   handlers.NewPartitionHandler(partitionFlow, hub, cfg.Realtime.HeartbeatInterval),
		Record:      handlers.NewRecordHandler(recordFlow),
		MessageLink: handlers.NewMessageLinkHandler(messageLinkFlow, manualSendFlow, cfg.Dispatch.TaskTimeout),
		SendLog:     handlers.NewSendLogHandler(sendLogFlow, cfg.Reconcile.RunTimeout),
	}, authMiddleware)

	var wsServer *realtime.WSServer
	if cfg.Realtime.WSEnabled {
		access := func(ctx context.Context, orgID, partitionID uint) error {
			_, err := partitionFlow.GetPartition(ctx, orgID, partitionID)
			return err
		}
		wsServer = realtime.NewWSServer(hub, tokenService, access, realtime.WSConfig{
			Addr:           fmt.Sprintf("%s:%d", cfg.Realtime.WSHost, cfg.Realtime.WSPort),
			AllowedOrigins: cfg.Realtime.WSAllowedOrigins,
			PingInterval:   cfg.Realtime.HeartbeatInterval,
		}, log.Default())
	}

	if cfg.Reconcile.Enabled {
		schedLogger := scheduler.NewSchedulerLogger(
			cfg.Logging.SchedulerLogPath,
			cfg.Logging.MaxSize,
			cfg.Logging.MaxBackups,
			cfg.Logging.MaxAge,
			cfg.Logging.Compress,
		)
		sched := scheduler.NewReconcileScheduler(reconciliationFlow, cfg.Reconcile.Schedule, cfg.Reconcile.RunTimeout, schedLogger)
		stopScheduler, err := sched.Start(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to start reconcile scheduler: %w", err)
		}
		stopFuncs = append(stopFuncs, stopScheduler)
	}

	if rc != nil {
		stopFuncs = append(stopFuncs, func() { _ = rc.Close() })
	}

	return &Application{
		router:    appRouter,
		config:    cfg,
		pool:      pool,
		wsServer:  wsServer,
		hub:       hub,
		stopFuncs: stopFuncs,
	}, nil
}
