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
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	_ "github.com/noah-isme/sma-bulletin-api/api/swagger"
	"github.com/noah-isme/sma-bulletin-api/internal/handler"
	internalmiddleware "github.com/noah-isme/sma-bulletin-api/internal/middleware"
	"github.com/noah-isme/sma-bulletin-api/internal/models"
	"github.com/noah-isme/sma-bulletin-api/internal/repository"
	"github.com/noah-isme/sma-bulletin-api/internal/service"
	"github.com/noah-isme/sma-bulletin-api/pkg/cache"
	"github.com/noah-isme/sma-bulletin-api/pkg/config"
	"github.com/noah-isme/sma-bulletin-api/pkg/database"
	"github.com/noah-isme/sma-bulletin-api/pkg/jobs"
	"github.com/noah-isme/sma-bulletin-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-bulletin-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-bulletin-api/pkg/middleware/requestid"
	"github.com/noah-isme/sma-bulletin-api/pkg/notify"
	"github.com/noah-isme/sma-bulletin-api/pkg/storage"
)

// @title School Bulletin API
// @version 1.0.0
// @description Grade aggregation, bulletin workflow and family notifications
// @BasePath /api/v1
// @schemes http https
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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect database", "error", err)
	}

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, caching and background bulk dispatch disabled", "error", err)
		redisClient = nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	var cacheRepo service.CacheRepository
	if redisClient != nil {
		cacheRepo = repository.NewCacheRepository(redisClient, "bulletins", logr)
	}
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Bulletins.DocumentTTL, logr, redisClient != nil)

	bulletinRepo := repository.NewBulletinRepository(db)
	gradeRepo := repository.NewGradeRepository(db)
	signatureRepo := repository.NewSignatureRepository(db)
	deliveryRepo := repository.NewDeliveryRepository(db)
	directoryRepo := repository.NewDirectoryRepository(db)

	school := models.SchoolInfo{
		Name:    cfg.School.Name,
		Address: cfg.School.Address,
		Phone:   cfg.School.Phone,
		Motto:   cfg.School.Motto,
	}
	renderTokens := storage.NewRenderTokenSigner(cfg.Bulletins.RenderTokenSecret, cfg.Bulletins.RenderTokenTTL)
	documentSvc := service.NewDocumentService(bulletinRepo, directoryRepo, signatureRepo, cacheSvc, renderTokens, school, cfg.Bulletins.DocumentTTL, logr)

	policy := service.BulletinPolicy{
		AllowGaps: map[models.Scope]bool{
			models.ScopeT1: cfg.Bulletins.AllowGapsT1,
			models.ScopeT2: cfg.Bulletins.AllowGapsT2,
			models.ScopeT3: cfg.Bulletins.AllowGapsT3,
		},
		RequireCompleteOnApprove: cfg.Bulletins.RequireCompleteOnApprove,
	}
	bulletinSvc := service.NewBulletinService(bulletinRepo, gradeRepo, documentSvc, policy, metricsSvc, validate, logr)
	statisticsSvc := service.NewClassStatisticsService(gradeRepo, logr)
	signingSvc := service.NewBulkSigningService(bulletinSvc, signatureRepo, documentSvc, jobs.NewPool(cfg.Signing.Workers), metricsSvc, validate, logr)

	templates, err := service.NewNotificationTemplates(cfg.Notification.DefaultLanguage)
	if err != nil {
		logr.Sugar().Fatalw("failed to load notification templates", "error", err)
	}
	dispatcher := service.NewNotificationDispatcher(
		buildProviders(cfg, logr),
		deliveryRepo,
		directoryRepo,
		bulletinSvc,
		templates,
		jobs.NewPool(cfg.Notification.Workers),
		service.DispatcherConfig{
			SendTimeout:     cfg.Notification.SendTimeout,
			DefaultLanguage: cfg.Notification.DefaultLanguage,
			SchoolName:      cfg.School.Name,
		},
		metricsSvc,
		validate,
		logr,
	)

	bulkSvc := service.NewBulkDispatchService(dispatcher, cacheSvc, cfg.Notification.BulkResultTTL, validate, logr)
	bulkQueue := jobs.NewQueue("bulk-dispatch", bulkSvc.Handle, jobs.QueueConfig{
		Workers:    cfg.Notification.BulkQueueWorkers,
		MaxRetries: cfg.Notification.BulkQueueRetries,
		RetryDelay: cfg.Notification.BulkQueueDelay,
		Logger:     logr,
	})
	bulkSvc.UseQueue(bulkQueue)
	bulkQueue.Start(ctx)

	tokenSvc := service.NewTokenService(service.TokenConfig{Secret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer})

	deps := map[string]handler.Pinger{"postgres": db}
	if redisClient != nil {
		deps["redis"] = cache.Checker{Client: redisClient}
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metricsSvc))

	registerRoutes(r, cfg, routeHandlers{
		metrics:       handler.NewMetricsHandler(metricsSvc, deps),
		bulletins:     handler.NewBulletinHandler(bulletinSvc, validate),
		statistics:    handler.NewStatisticsHandler(statisticsSvc, validate),
		notifications: handler.NewNotificationHandler(dispatcher, bulkSvc, validate),
		signing:       handler.NewSigningHandler(signingSvc),
		documents:     handler.NewDocumentHandler(documentSvc),
	}, tokenSvc)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Errorw("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := shutdown(shutdownCtx, srv, bulkQueue, db, redisClient); err != nil {
		logr.Sugar().Errorw("shutdown finished with errors", "error", err)
	}
}

func buildProviders(cfg *config.Config, logr *zap.Logger) service.NotificationProviders {
	var providers service.NotificationProviders
	p := cfg.Providers
	if p.SendGridAPIKey != "" {
		providers.Email = notify.NewSendGridEmail(p.SendGridAPIKey, "", p.SendGridFromName, p.SendGridFromEmail)
	}
	if p.SMSGatewayURL != "" {
		providers.SMS = notify.NewSMSGateway(p.SMSGatewayURL, p.SMSGatewayToken, p.SMSSenderID, nil)
	}
	if p.WhatsAppAPIURL != "" {
		providers.WhatsApp = notify.NewWhatsApp(p.WhatsAppAPIURL, p.WhatsAppAPIToken, nil)
	}
	if cfg.Env == config.EnvProduction {
		return providers
	}
	// Outside production, channels without credentials are logged instead of sent.
	if providers.Email == nil {
		providers.Email = notify.NewConsole(string(models.ChannelEmail), logr)
	}
	if providers.SMS == nil {
		providers.SMS = notify.NewConsole(string(models.ChannelSMS), logr)
	}
	if providers.WhatsApp == nil {
		providers.WhatsApp = notify.NewConsole(string(models.ChannelWhatsApp), logr)
	}
	return providers
}

type routeHandlers struct {
	metrics       *handler.MetricsHandler
	bulletins     *handler.BulletinHandler
	statistics    *handler.StatisticsHandler
	notifications *handler.NotificationHandler
	signing       *handler.SigningHandler
	documents     *handler.DocumentHandler
}

func registerRoutes(r *gin.Engine, cfg *config.Config, h routeHandlers, tokens internalmiddleware.TokenValidator) {
	r.GET("/health", h.metrics.Health)
	r.GET("/ready", h.metrics.Ready)
	r.GET("/metrics", h.metrics.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	// Render tokens are their own credential.
	api.GET("/documents/:token", h.documents.Render)

	secured := api.Group("")
	secured.Use(internalmiddleware.JWT(tokens))

	staff := internalmiddleware.RequireRoles(models.RoleAdmin, models.RoleDirector, models.RoleTeacher)
	approvers := internalmiddleware.RequireRoles(models.RoleAdmin, models.RoleDirector)

	secured.POST("/grades/preview", staff, h.statistics.Preview)

	bulletins := secured.Group("/bulletins")
	bulletins.POST("", staff, h.bulletins.Create)
	bulletins.GET("/:id", staff, h.bulletins.Get)
	bulletins.POST("/:id/refresh", staff, h.bulletins.Refresh)
	bulletins.POST("/:id/submit", staff, h.bulletins.Submit)
	bulletins.POST("/:id/approve", approvers, h.bulletins.Approve)
	bulletins.POST("/:id/reject", approvers, h.bulletins.Reject)
	bulletins.POST("/:id/reopen", staff, h.bulletins.Reopen)
	bulletins.POST("/:id/publish", approvers, h.bulletins.Publish)
	bulletins.GET("/:id/document", staff, h.documents.Document)
	bulletins.POST("/:id/render-token", staff, h.documents.RenderToken)
	bulletins.GET("/:id/signatures", staff, h.signing.Signatures)
	bulletins.POST("/:id/dispatch", approvers, h.notifications.Dispatch)
	bulletins.POST("/:id/dispatch/retry", approvers, h.notifications.Retry)

	classes := secured.Group("/classes/:id")
	classes.GET("/bulletins", staff, h.bulletins.ListByClass)
	classes.POST("/bulletins/publish", approvers, h.bulletins.PublishClass)
	classes.POST("/bulletins/sign", approvers, h.signing.BulkSign)
	classes.GET("/statistics", staff, h.statistics.ClassStatistics)
	classes.GET("/students/:studentId/rank", staff, h.statistics.StudentRank)

	notifications := secured.Group("/notifications")
	notifications.POST("/bulk", approvers, h.notifications.Bulk)
	notifications.GET("/bulk/:id", staff, h.notifications.BulkResult)
}

func shutdown(ctx context.Context, srv *http.Server, queue *jobs.Queue, db *sqlx.DB, redisClient *redis.Client) error {
	err := srv.Shutdown(ctx)
	queue.Stop()
	err = multierr.Append(err, db.Close())
	if redisClient != nil {
		err = multierr.Append(err, redisClient.Close())
	}
	return err
}
