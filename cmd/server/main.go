package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"certify-manager/internal/config"
	"certify-manager/internal/database"
	"certify-manager/internal/handler"
	"certify-manager/internal/logging"
	"certify-manager/internal/metrics"
	authMiddleware "certify-manager/internal/middleware"
	"certify-manager/internal/nginx"
	"certify-manager/internal/repository"
	"certify-manager/internal/scheduler"
	"certify-manager/internal/service"
	"certify-manager/pkg/acme"
	"certify-manager/pkg/cache"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to load config")
	}

	logger := logging.NewLogger(cfg)
	zlog.Logger = logger

	// Initialize database
	db, err := database.New(cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()
	logger.Info().Msg("connected to database")

	if err := db.RunMigrations(); err != nil {
		logger.Fatal().Err(err).Msg("failed to run migrations")
	}

	// Redis is optional: progress log history, the renewal lock and API rate
	// limiting degrade gracefully without it
	var redisCache *cache.RedisClient
	if cfg.RedisURL != "" {
		redisCache, err = cache.NewRedisClient(cfg.RedisURL)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to initialize redis, continuing without it")
			redisCache = nil
		} else {
			defer redisCache.Close()
			logger.Info().Msg("redis client initialized")
		}
	}

	acmeService := acme.NewService(cfg.ACMEDirectory(), cfg.CertsPath)
	discovery := nginx.NewDiscovery(cfg.NginxConfigPath, logger)

	// Initialize repositories
	managedSiteRepo := repository.NewManagedSiteRepository(db)
	vaultRepo := repository.NewVaultRepository(db)

	certificateService := service.NewCertificateService(
		managedSiteRepo,
		vaultRepo,
		acmeService,
		discovery,
		cfg.ACMEEmail,
		cfg.MaxConcurrentRequests,
		logger,
	)

	store := service.NewManagedSiteStore(certificateService, logger)
	tracker := service.NewProgressTracker(logger)
	orchestrator := service.NewRenewalOrchestrator(store, tracker, certificateService, logger)
	orchestrator.SetRequestTimeout(cfg.RequestTimeout)
	importer := service.NewImportReconciler(certificateService, store, logger)

	app := service.NewApp(service.AppDeps{
		Store:        store,
		Tracker:      tracker,
		Orchestrator: orchestrator,
		Importer:     importer,
		Vault:        certificateService,
		Domains:      certificateService,
		Discovery:    discovery,
	}, service.AppOptions{
		IgnoreStoppedSites: cfg.IgnoreStoppedSites,
		ImportMergeMode:    cfg.ImportMergeMode,
	}, logger)

	// Refresh the vault view whenever a certificate is issued or renewed
	certificateService.SetCertificateReadyCallback(func(ctx context.Context, managedSiteID string) error {
		logger.Info().Str("managed_site_id", managedSiteID).Msg("certificate ready, refreshing vault")
		return app.LoadVaultTree(ctx)
	})

	startupCtx, startupCancel := context.WithTimeout(context.Background(), config.ContextTimeout)
	if err := app.Start(startupCtx); err != nil {
		startupCancel()
		logger.Fatal().Err(err).Msg("failed to load managed sites")
	}
	startupCancel()

	progressLogger := service.NewProgressLogger(redisCache, tracker, logger)
	progressLogger.Start()

	metrics.RegisterEngineMetrics(app.ActiveRequestCount, app.ManagedSiteCount)

	var renewalScheduler *scheduler.RenewalScheduler
	if cfg.RenewalEnabled {
		renewalScheduler = scheduler.NewRenewalScheduler(orchestrator, redisCache, cfg.RenewalSchedule, logger)
		if err := renewalScheduler.Start(); err != nil {
			logger.Fatal().Err(err).Msg("failed to start renewal scheduler")
		}
	}

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(db, redisCache, app)
	siteHandler := handler.NewSiteHandler(app)
	managedSiteHandler := handler.NewManagedSiteHandler(app)
	renewalHandler := handler.NewRenewalHandler(app)
	progressHandler := handler.NewProgressHandler(app, progressLogger)
	vaultHandler := handler.NewVaultHandler(app)

	// Initialize Echo
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	if len(cfg.CORSAllowedOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: cfg.CORSAllowedOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		}))
	}

	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "DENY",
		HSTSMaxAge:         config.HSTSMaxAge,
		ReferrerPolicy:     "no-referrer",
	}))

	if cfg.RateLimitEnabled {
		e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(rate.Limit(cfg.GlobalRateLimitRPS))))
	}

	// Public endpoints
	e.GET("/health", handler.Health)
	e.GET("/status", healthHandler.Status)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	v1 := e.Group("/api/v1")
	v1.Use(authMiddleware.APITokenAuth(cfg.APITokenHash, logger))
	if cfg.RateLimitEnabled {
		v1.Use(authMiddleware.APIRateLimitByToken(redisCache, cfg.RateLimitPerMinute, config.DefaultAPIRateLimitWindow))
	}

	// Site discovery
	v1.GET("/sites", siteHandler.List)
	v1.GET("/host/addresses", siteHandler.HostAddresses)

	// Managed sites
	managedSites := v1.Group("/managed-sites")
	{
		managedSites.GET("", managedSiteHandler.List)
		managedSites.POST("", managedSiteHandler.Create)
		managedSites.GET("/:id", managedSiteHandler.Get)
		managedSites.DELETE("/:id", managedSiteHandler.Delete)
		managedSites.PUT("/:id/primary-domain", managedSiteHandler.SetPrimaryDomain)
		managedSites.POST("/:id/domains/select-all", managedSiteHandler.SelectAll)
		managedSites.POST("/:id/domains/select-none", managedSiteHandler.SelectNone)
		managedSites.PUT("/:id/auto-renew", managedSiteHandler.SetAutoRenew)
		managedSites.PUT("/:id/challenge", managedSiteHandler.SetChallenge)
		managedSites.POST("/:id/request", managedSiteHandler.RequestCertificate)
	}

	v1.POST("/renewals", renewalHandler.RenewAll)

	// Request progress
	progress := v1.Group("/progress")
	{
		progress.GET("", progressHandler.List)
		progress.GET("/stream", progressHandler.Stream)
		progress.GET("/:id", progressHandler.Get)
		progress.GET("/:id/logs", progressHandler.Logs)
	}

	// Vault, contacts and import
	v1.GET("/vault", vaultHandler.Get)
	v1.POST("/contacts", vaultHandler.AddContact)
	v1.GET("/import/preview", vaultHandler.ImportPreview)
	v1.POST("/import", vaultHandler.Import)

	go func() {
		logger.Info().Str("port", cfg.Port).Str("acme_directory", acmeService.CAURL()).Msg("starting server")
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown failed")
	}
	if renewalScheduler != nil {
		renewalScheduler.Stop()
	}
	if err := app.Close(ctx); err != nil {
		logger.Warn().Err(err).Msg("shutdown with requests in flight")
	}
	progressLogger.Stop()
}
