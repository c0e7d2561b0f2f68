package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/stockpulse/stock-monitor/config"
	_ "github.com/stockpulse/stock-monitor/docs"
	"github.com/stockpulse/stock-monitor/internal/blocking"
	"github.com/stockpulse/stock-monitor/internal/database"
	"github.com/stockpulse/stock-monitor/internal/handlers"
	"github.com/stockpulse/stock-monitor/internal/middleware"
	"github.com/stockpulse/stock-monitor/internal/notify"
	"github.com/stockpulse/stock-monitor/internal/proxy"
	"github.com/stockpulse/stock-monitor/internal/retry"
	"github.com/stockpulse/stock-monitor/internal/runner"
	"github.com/stockpulse/stock-monitor/internal/scan"
	"github.com/stockpulse/stock-monitor/internal/scanners"
	"github.com/stockpulse/stock-monitor/internal/sweepers"
	"github.com/stockpulse/stock-monitor/internal/telemetry"
	"github.com/stockpulse/stock-monitor/internal/transition"
)

// @title Stock Monitor API
// @version 1.0
// @description Internal API for scan task management, stock transition history, and scraper health monitoring.
// @BasePath /internal

// @securityDefinitions.apikey InternalAPIKey
// @in header
// @name X-Internal-API-Key

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := initLogger(cfg.Logging)

	logger.Info().Msg("Starting stock monitor")

	ctx := context.Background()
	if err := database.Connect(ctx, database.Options{
		Path:           cfg.Database.Path,
		MaxConnections: cfg.Database.MaxConnections,
		AcquireTimeout: cfg.Database.AcquireTimeout,
		BusyTimeoutMs:  cfg.Database.BusyTimeoutMs,
	}); err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to run migrations")
	}
	logger.Info().Str("path", cfg.Database.Path).Msg("Database ready")

	// Tasks stranded in 'running' by a previous crash go back to schedulable.
	if recovered, err := database.ReconcileInterruptedTasks(ctx); err != nil {
		logger.Warn().Err(err).Msg("Failed to reconcile interrupted tasks")
	} else if recovered > 0 {
		logger.Info().Int64("count", recovered).Msg("Reconciled interrupted tasks")
	}

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize telemetry")
	}

	if err := scanners.RegisterDefaults(scan.DefaultRegistry); err != nil {
		logger.Fatal().Err(err).Msg("Failed to register retailer scanners")
	}
	logger.Info().Strs("retailers", scan.DefaultRegistry.Retailers()).Msg("Scanners registered")

	pool, err := proxy.NewPool(ctx, proxy.Options{
		URLs:                cfg.Proxy.URLs,
		Quarantine:          cfg.Proxy.Quarantine,
		TransientQuarantine: cfg.Proxy.TransientQuarantine,
		TransientThreshold:  cfg.Proxy.TransientThreshold,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build proxy pool")
	}

	detector := blocking.NewDetector(blocking.Options{
		HostQuarantine:      cfg.Blocking.HostQuarantine,
		RateLimitQuarantine: cfg.Blocking.RateLimitQuarantine,
		TransientQuarantine: cfg.Blocking.TransientQuarantine,
		TransientWindow:     cfg.Blocking.TransientWindow,
		TransientThreshold:  cfg.Blocking.TransientThreshold,
	})
	if err := detector.LoadPersisted(ctx); err != nil {
		logger.Warn().Err(err).Msg("Failed to load persisted host blocks")
	}

	scanDispatcher := scan.NewDispatcher(scan.Options{
		Registry:           scan.DefaultRegistry,
		Pool:               pool,
		Detector:           detector,
		MinDelay:           cfg.Scan.MinDelay,
		MaxDelay:           cfg.Scan.MaxDelay,
		HTTPTimeout:        cfg.Scan.HTTPTimeout,
		VerifyDelay:        cfg.Scan.VerifyDelay,
		SuspiciousMinBytes: cfg.Blocking.SuspiciousMinBytes,
		RetryPolicy: retry.Policy{
			MaxAttempts:   cfg.Scan.RetryMaxAttempts,
			BaseDelay:     cfg.Scan.RetryBaseDelay,
			MaxDelay:      cfg.Scan.RetryMaxDelay,
			BackoffFactor: cfg.Scan.RetryBackoffFactor,
			JitterRatio:   cfg.Scan.RetryJitterRatio,
		},
	})

	engine := transition.NewEngine(transition.Options{
		PriceChangeThreshold: cfg.Transition.PriceChangeThreshold,
	})

	channels := []notify.Channel{notify.NewLogChannel()}
	if len(cfg.Notify.WebhookURLs) > 0 {
		channels = append(channels, notify.NewWebhookChannel(cfg.Notify.WebhookURLs, cfg.Notify.WebhookSecret))
	}
	notifier, err := notify.NewDispatcher(notify.Options{
		Channels:             channels,
		DedupWindow:          cfg.Notify.DedupWindow,
		DedupCapacity:        cfg.Notify.DedupCapacity,
		BroadcastLogInterval: cfg.Notify.BroadcastLogInterval,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build notification dispatcher")
	}

	taskRunner := runner.New(runner.Options{
		MaxWorkers:      cfg.Runner.MaxWorkers,
		LoopSleep:       cfg.Runner.LoopSleep,
		MaxTaskDeadline: cfg.Runner.MaxTaskDeadline,
		StopJoinTimeout: cfg.Runner.StopJoinTimeout,
		DefaultZip:      cfg.Runner.DefaultZipCode,
		Scanner:         scanDispatcher,
		Reconciler:      engine,
		Notifier:        notifier,
	})
	if err := taskRunner.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start task runner")
	}

	sweeper := sweepers.NewMaintenance(sweepers.Options{
		Interval:              cfg.Sweeper.Interval,
		NotificationRetention: cfg.Sweeper.NotificationRetention,
		SnapshotRetention:     cfg.Sweeper.SnapshotRetention,
	})
	go sweeper.Start(ctx)

	handlers.Init(handlers.Deps{
		Runner:   taskRunner,
		Pool:     pool,
		Detector: detector,
	})

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLog(logger))

	router.GET("/healthz", handlers.Healthz)
	router.GET("/readyz", handlers.Readyz)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	internal := router.Group("/internal")
	internal.Use(middleware.InternalAuth(cfg.Server.InternalAPIKey))
	internal.Use(middleware.RateLimit(50, 100))
	{
		groups := internal.Group("/groups")
		{
			groups.POST("", handlers.CreateGroup)
			groups.GET("", handlers.ListGroups)
			groups.PATCH("/:id", handlers.UpdateGroup)
		}

		tasks := internal.Group("/tasks")
		{
			tasks.POST("", handlers.CreateTask)
			tasks.GET("", handlers.ListTasks)
			tasks.GET("/:taskId", handlers.GetTask)
			tasks.PATCH("/:taskId", handlers.UpdateTask)
		}

		subscriptions := internal.Group("/subscriptions")
		{
			subscriptions.POST("", handlers.CreateSubscription)
			subscriptions.GET("", handlers.ListSubscriptions)
			subscriptions.DELETE("/:id", handlers.DeleteSubscription)
		}

		internal.GET("/runner/status", handlers.RunnerStatus)
		internal.GET("/proxies", handlers.ListProxies)
		internal.GET("/blocks", handlers.ListBlocks)
		internal.GET("/snapshots/*key", handlers.GetSnapshots)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down...")
	taskRunner.Stop()
	sweeper.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	if err := telemetryShutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Telemetry shutdown failed")
	}

	logger.Info().Msg("Stock monitor exited")
}

func initLogger(cfg config.LoggingConfig) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var output io.Writer
	if cfg.Format == "json" {
		output = os.Stdout
	} else {
		output = zerolog.ConsoleWriter{Out: os.Stdout, NoColor: cfg.NoColor}
	}

	logger := zerolog.New(output).Level(level).With().Timestamp().Str("service", "stock-monitor").Logger()
	log.Logger = logger
	return logger
}
