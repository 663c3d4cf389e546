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
	"go.uber.org/zap"

	_ "github.com/prefeitura-digital/portal-api/api/swagger"
	"github.com/prefeitura-digital/portal-api/internal/handler"
	"github.com/prefeitura-digital/portal-api/internal/middleware"
	"github.com/prefeitura-digital/portal-api/internal/models"
	"github.com/prefeitura-digital/portal-api/internal/repository"
	"github.com/prefeitura-digital/portal-api/internal/service"
	"github.com/prefeitura-digital/portal-api/pkg/cache"
	"github.com/prefeitura-digital/portal-api/pkg/config"
	"github.com/prefeitura-digital/portal-api/pkg/database"
	"github.com/prefeitura-digital/portal-api/pkg/jobs"
	"github.com/prefeitura-digital/portal-api/pkg/logger"
	corsmiddleware "github.com/prefeitura-digital/portal-api/pkg/middleware/cors"
	reqidmiddleware "github.com/prefeitura-digital/portal-api/pkg/middleware/requestid"
	"github.com/prefeitura-digital/portal-api/pkg/storage"
)

// @title Portal da Prefeitura API
// @version 1.0.0
// @description Unified request lifecycle manager for the municipal portal
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, caching disabled", zap.Error(err))
		redisClient = nil
	}

	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	requestRepo := repository.NewRequestRepository(db)
	commentRepo := repository.NewCommentRepository(db)
	attachmentRepo := repository.NewAttachmentRepository(db)
	reviewRepo := repository.NewReviewRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	metricsService := service.NewMetricsService()
	cacheService := service.NewCacheService(cacheRepo, metricsService, cfg.Dashboard.CacheTTL, logr, redisClient != nil)

	authService := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "portal-api",
	})

	objectStorage, err := buildObjectStorage(cfg)
	if err != nil {
		logr.Fatal("failed to init attachment storage", zap.Error(err))
	}
	signer := storage.NewSignedURLSigner(cfg.Attachments.SignedURLSecret, cfg.Attachments.SignedURLTTL)

	// The cleanup queue and the thread service reference each other: jobs
	// enqueued during compensation are handled by the service itself.
	var threadService *service.ThreadService
	cleanupQueue := jobs.NewQueue("attachment-cleanup", func(ctx context.Context, job jobs.Job) error {
		path, ok := job.Payload.(string)
		if !ok {
			return fmt.Errorf("unexpected cleanup payload %T", job.Payload)
		}
		return threadService.DeleteOrphan(ctx, path)
	}, jobs.QueueConfig{
		Workers:    cfg.Attachments.CleanupWorkers,
		MaxRetries: cfg.Attachments.CleanupRetries,
		Logger:     logr,
	})

	threadService = service.NewThreadService(
		commentRepo,
		attachmentRepo,
		requestRepo,
		objectStorage,
		signer,
		cleanupQueue,
		userRepo,
		validate,
		logr,
		service.ThreadServiceConfig{MaxFileSizeBytes: cfg.Attachments.MaxFileSizeBytes},
	)

	requestService := service.NewRequestService(
		requestRepo,
		commentRepo,
		attachmentRepo,
		cacheService,
		userRepo,
		validate,
		logr,
		service.RequestServiceConfig{ReadFailurePolicy: models.ReadFailurePolicy(cfg.Requests.ReadFailurePolicy)},
	)

	reviewService := service.NewReviewService(reviewRepo, userRepo, validate, logr)
	dashboardService := service.NewDashboardService(requestRepo, metricsService, cacheService, logr, service.DashboardServiceConfig{
		CacheTTL: cfg.Dashboard.CacheTTL,
	})
	exportService := service.NewExportService(requestRepo, logr)

	authHandler := handler.NewAuthHandler(authService)
	requestHandler := handler.NewRequestHandler(requestService, threadService)
	hrHandler := handler.NewReviewHandler(reviewService, models.ReviewModuleHR)
	transportHandler := handler.NewReviewHandler(reviewService, models.ReviewModuleTransport)
	dashboardHandler := handler.NewDashboardHandler(dashboardService)
	exportHandler := handler.NewExportHandler(exportService)
	metricsHandler := handler.NewMetricsHandler(metricsService)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsService))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	staffRoles := []models.UserRole{models.RoleSuperAdmin, models.RoleAdmin, models.RoleMayor}

	api := r.Group(cfg.APIPrefix)
	{
		auth := api.Group("/auth")
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)

		authed := auth.Group("", middleware.JWT(authService))
		authed.POST("/logout", authHandler.Logout)
		authed.PUT("/password", authHandler.ChangePassword)
		authed.GET("/me", authHandler.Me)

		// Signed token downloads authenticate via the token itself.
		api.GET("/attachments/download", requestHandler.Download)

		protected := api.Group("", middleware.JWT(authService))

		requests := protected.Group("/requests")
		requests.POST("", requestHandler.Create)
		requests.GET("", requestHandler.List)
		requests.GET("/protocol/:protocol", requestHandler.GetByProtocol)
		requests.GET("/:id", requestHandler.Get)
		requests.GET("/:id/history", requestHandler.History)
		requests.POST("/:id/comments", requestHandler.AddComment)
		requests.GET("/:id/comments", requestHandler.ListComments)
		requests.POST("/:id/attachments", requestHandler.AddAttachment)
		requests.GET("/:id/attachments/:attachmentId/url", requestHandler.AttachmentURL)

		staffRequests := requests.Group("", middleware.RequireRoles(staffRoles...))
		staffRequests.PUT("/:id/status", requestHandler.UpdateStatus)
		staffRequests.POST("/:id/forward", requestHandler.Forward)

		if cfg.Reviews.Enabled {
			registerReviewRoutes(protected.Group("/hr/requests"), hrHandler, staffRoles)
			registerReviewRoutes(protected.Group("/transport/requests"), transportHandler, staffRoles)
		}

		if cfg.Dashboard.Enabled {
			dashboard := protected.Group("/dashboard", middleware.RequireRoles(staffRoles...))
			dashboard.GET("/summary", dashboardHandler.Summary)
			dashboard.GET("/metrics", dashboardHandler.Metrics)
		}

		if cfg.Exports.Enabled {
			exports := protected.Group("/exports",
				middleware.RequireRoles(staffRoles...),
				middleware.Audit(userRepo, models.AuditActionExport, "requests"),
			)
			exports.GET("/requests", exportHandler.Requests)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cleanupQueue.Start(ctx)
	defer cleanupQueue.Stop()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}

func registerReviewRoutes(group *gin.RouterGroup, h *handler.ReviewHandler, staffRoles []models.UserRole) {
	group.POST("", h.Create)
	group.GET("", h.List)
	group.GET("/:id", h.Get)

	staff := group.Group("", middleware.RequireRoles(staffRoles...))
	staff.POST("/:id/claim", h.Claim)
	staff.PUT("/:id/decision", h.Decide)
}

func buildObjectStorage(cfg *config.Config) (storage.ObjectStorage, error) {
	switch cfg.Attachments.Backend {
	case config.StorageBackendMinio:
		return storage.NewMinioStorage(context.Background(), storage.MinioConfig{
			Endpoint:  cfg.Attachments.MinioEndpoint,
			AccessKey: cfg.Attachments.MinioAccessKey,
			SecretKey: cfg.Attachments.MinioSecretKey,
			Bucket:    cfg.Attachments.MinioBucket,
			UseSSL:    cfg.Attachments.MinioUseSSL,
		})
	default:
		return storage.NewLocalStorage(cfg.Attachments.StorageDir)
	}
}
