package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/depanneo/depanneo-api/api/swagger"
	"github.com/depanneo/depanneo-api/internal/handler"
	"github.com/depanneo/depanneo-api/internal/middleware"
	"github.com/depanneo/depanneo-api/internal/models"
	"github.com/depanneo/depanneo-api/internal/repository"
	"github.com/depanneo/depanneo-api/internal/service"
	"github.com/depanneo/depanneo-api/pkg/cache"
	"github.com/depanneo/depanneo-api/pkg/config"
	"github.com/depanneo/depanneo-api/pkg/database"
	"github.com/depanneo/depanneo-api/pkg/export"
	"github.com/depanneo/depanneo-api/pkg/jobs"
	"github.com/depanneo/depanneo-api/pkg/logger"
	corsmiddleware "github.com/depanneo/depanneo-api/pkg/middleware/cors"
	reqidmiddleware "github.com/depanneo/depanneo-api/pkg/middleware/requestid"
)

// @title Depanneo API
// @version 1.0.0
// @description Marketplace connecting consumers with local repair professionals
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	requestRepo := repository.NewRequestRepository(db)
	promoRepo := repository.NewPromoRepository(db)
	subscriptionRepo := repository.NewSubscriptionRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	metricsSvc := service.NewMetricsService()
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Dashboard.CacheTTL, logr, redisClient != nil)

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "depanneo-api",
	})
	requestSvc := service.NewRequestService(requestRepo, subscriptionRepo, validate, logr)
	promoSvc := service.NewPromoService(promoRepo, subscriptionRepo, cacheRepo, userRepo, validate, logr, cfg.Promotions.CatalogCacheTTL).
		WithMetrics(metricsSvc)
	subscriptionSvc := service.NewSubscriptionService(subscriptionRepo, promoSvc, userRepo, validate, logr)
	dashboardSvc := service.NewDashboardService(requestRepo, promoRepo, cacheSvc, logr, cfg.Dashboard.CacheTTL)
	exportSvc := service.NewExportService(promoRepo, promoRepo, export.NewCSVExporter(), export.NewPDFExporter(), logr)

	// The sweep handler and the queue reference each other, so the queue is
	// built against a late-bound service pointer.
	var retentionSvc *service.RetentionService
	retentionQueue := jobs.NewQueue("retention", func(ctx context.Context, job jobs.Job) error {
		return retentionSvc.Handle(ctx, job)
	}, jobs.QueueConfig{
		Workers:    1,
		BufferSize: 16,
		MaxRetries: cfg.Retention.WorkerRetries,
		RetryDelay: time.Minute,
		Logger:     logr,
	})
	retentionSvc = service.NewRetentionService(requestRepo, subscriptionSvc, retentionQueue, logr).
		WithMetrics(metricsSvc)

	authHandler := handler.NewAuthHandler(authSvc)
	requestHandler := handler.NewRequestHandler(requestSvc)
	promoHandler := handler.NewPromoHandler(promoSvc, exportSvc)
	subscriptionHandler := handler.NewSubscriptionHandler(subscriptionSvc)
	dashboardHandler := handler.NewDashboardHandler(dashboardSvc, metricsSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/register", authHandler.Register)
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)

		session := auth.Group("", middleware.JWT(authSvc))
		session.POST("/logout", authHandler.Logout)
		session.POST("/password", authHandler.ChangePassword)
		session.GET("/me", authHandler.Me)
	}

	board := api.Group("/requests", middleware.OptionalJWT(authSvc))
	{
		board.GET("", requestHandler.List)
		board.GET("/:id", requestHandler.Get)
	}

	requests := api.Group("/requests", middleware.JWT(authSvc))
	{
		requests.POST("", middleware.RequireRoles(models.RoleConsumer, models.RoleAdmin), requestHandler.Create)
		requests.POST("/:id/responses", middleware.RequireRoles(models.RolePro), requestHandler.Respond)
		requests.POST("/:id/accept", middleware.RequireRoles(models.RolePro), requestHandler.Accept)
		requests.POST("/:id/complete", requestHandler.Complete)
		requests.POST("/:id/cancel", requestHandler.Cancel)
	}

	if cfg.Promotions.Enabled {
		promos := api.Group("/promos")
		promos.GET("/catalog", promoHandler.Catalog)
		promos.POST("/validate", middleware.JWT(authSvc), promoHandler.Validate)
	}

	api.GET("/plans", subscriptionHandler.Plans)
	subscriptions := api.Group("/subscriptions", middleware.JWT(authSvc), middleware.RequireRoles(models.RolePro))
	{
		subscriptions.POST("", subscriptionHandler.Purchase)
		subscriptions.GET("/current", subscriptionHandler.Current)
		subscriptions.GET("/history", subscriptionHandler.History)
	}

	admin := api.Group("/admin", middleware.JWT(authSvc), middleware.RequireRoles(models.RoleAdmin))
	{
		promos := admin.Group("/promos")
		promos.GET("", promoHandler.List)
		promos.POST("", middleware.Audit(userRepo, models.AuditActionPromoCreate, "promo_codes"), promoHandler.Create)
		promos.GET("/usages", promoHandler.Usages)
		if cfg.Exports.Enabled {
			promos.GET("/export", promoHandler.ExportLedger)
		}
		promos.GET("/:id", promoHandler.Get)
		promos.PATCH("/:id", middleware.Audit(userRepo, models.AuditActionPromoUpdate, "promo_codes"), promoHandler.Update)

		if cfg.Dashboard.Enabled {
			admin.GET("/dashboard", dashboardHandler.Summary)
			admin.GET("/dashboard/system", dashboardHandler.System)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	retentionQueue.Start(ctx)
	if cfg.Retention.Enabled {
		go retentionSvc.Run(ctx, cfg.Retention.SweepInterval)
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", server.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Warnw("shutdown did not complete cleanly", "error", err)
	}
	retentionQueue.Stop()
}
