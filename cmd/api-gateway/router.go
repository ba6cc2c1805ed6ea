// Package main is the application entry point.
package main

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/shopora/affiliate-backend/internal/common/config"
	"github.com/shopora/affiliate-backend/internal/common/jwt"
	"github.com/shopora/affiliate-backend/internal/common/metrics"
	adminHandler "github.com/shopora/affiliate-backend/internal/handler/admin"
	affiliateHandler "github.com/shopora/affiliate-backend/internal/handler/affiliate"
	referralHandler "github.com/shopora/affiliate-backend/internal/handler/referral"
	webhookHandler "github.com/shopora/affiliate-backend/internal/handler/webhook"
	"github.com/shopora/affiliate-backend/internal/middleware"
	"github.com/shopora/affiliate-backend/internal/repository"
	"github.com/shopora/affiliate-backend/internal/scheduler"
	affiliateService "github.com/shopora/affiliate-backend/internal/service/affiliate"
	"github.com/shopora/affiliate-backend/pkg/credits"
	"github.com/shopora/affiliate-backend/pkg/notify"
	"github.com/shopora/affiliate-backend/pkg/oss"
	"github.com/shopora/affiliate-backend/pkg/paygate"
)

// setupRouter wires repositories, services and handlers onto the gin
// engine and returns the background scheduler, ready to start.
func setupRouter(
	r *gin.Engine,
	cfg *config.Config,
	logger *zap.Logger,
	db *gorm.DB,
	redisClient *redis.Client,
) *scheduler.Scheduler {
	// Tokens are issued by the main platform; this service only
	// validates them.
	jwtManager := jwt.NewManager(&jwt.Config{
		Secret:            cfg.JWT.Secret,
		AccessExpireTime:  cfg.JWT.AccessTokenDuration(),
		RefreshExpireTime: cfg.JWT.RefreshTokenDuration(),
		Issuer:            cfg.JWT.Issuer,
	})

	// Repositories
	affiliateRepo := repository.NewAffiliateRepository(db)
	tierRepo := repository.NewTierRepository(db)
	referralRepo := repository.NewReferralRepository(db)
	commissionRepo := repository.NewCommissionRepository(db)
	payoutRepo := repository.NewPayoutRepository(db)
	creditAwardRepo := repository.NewCreditAwardRepository(db)
	storeRepo := repository.NewStoreRepository(db)
	operationLogRepo := repository.NewOperationLogRepository(db)
	ledger := repository.NewLedger(db)

	// External service clients
	gateway := paygate.NewClient(&paygate.Config{
		BaseURL: cfg.Paygate.BaseURL,
		APIKey:  cfg.Paygate.APIKey,
		Timeout: cfg.Paygate.Timeout(),
	})
	creditLedger := credits.NewClient(&credits.Config{
		BaseURL: cfg.Credits.BaseURL,
		APIKey:  cfg.Credits.APIKey,
		Timeout: time.Duration(cfg.Credits.TimeoutSeconds) * time.Second,
	})
	notifier := notify.NewBrevoNotifier(&notify.Config{
		BaseURL:    cfg.Notify.BaseURL,
		APIKey:     cfg.Notify.APIKey,
		SenderName: cfg.Notify.SenderName,
		SenderMail: cfg.Notify.SenderEmail,
	})

	var uploader oss.Uploader
	if cfg.OSS.AccessKeyID != "" {
		aliyun, err := oss.NewAliyunUploader(&oss.AliyunConfig{
			Endpoint:        cfg.OSS.Endpoint,
			AccessKeyID:     cfg.OSS.AccessKeyID,
			AccessKeySecret: cfg.OSS.AccessKeySecret,
			BucketName:      cfg.OSS.Bucket,
			Domain:          cfg.OSS.CustomDomain,
			BasePath:        cfg.OSS.BasePath,
		})
		if err != nil {
			logger.Fatal("Failed to init object storage", zap.Error(err))
		}
		uploader = aliyun
	} else {
		// No credentials configured; exports land in memory.
		logger.Warn("Object storage credentials missing, using in-memory uploader")
		uploader = oss.NewMockUploader()
	}

	// Services
	directorySvc := affiliateService.NewDirectoryService(affiliateRepo, tierRepo, db, &cfg.Business.Referral, &cfg.Paygate, gateway, notifier)
	referralSvc := affiliateService.NewReferralService(referralRepo, affiliateRepo, directorySvc, db, &cfg.Business.Referral)
	commissionSvc := affiliateService.NewCommissionService(commissionRepo, referralRepo, affiliateRepo, payoutRepo, ledger, db, &cfg.Business.Commission, notifier)
	payoutSvc := affiliateService.NewPayoutService(payoutRepo, commissionRepo, affiliateRepo, ledger, db, &cfg.Business.Payout, gateway, cfg.Paygate.Timeout(), notifier)
	creditAwardSvc := affiliateService.NewCreditAwardService(creditAwardRepo, referralRepo, affiliateRepo, storeRepo, db, &cfg.Business.CreditAward, creditLedger, notifier)
	exportSvc := affiliateService.NewExportService(commissionRepo, payoutRepo, uploader)

	// Handlers
	affiliateH := affiliateHandler.NewHandler(directorySvc, referralSvc, commissionSvc, payoutSvc, creditAwardSvc, exportSvc, commissionRepo)
	referralH := referralHandler.NewHandler(directorySvc, referralSvc)
	webhookH := webhookHandler.NewHandler(referralSvc, commissionSvc, storeRepo)
	adminH := adminHandler.NewAffiliateHandler(directorySvc, commissionSvc, payoutSvc, creditAwardSvc, exportSvc, operationLogRepo)

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.RealIP())
	r.Use(middleware.CORS(nil))
	r.Use(middleware.AccessLog(logger))
	if cfg.Tracing.Enabled {
		r.Use(middleware.Tracing(&middleware.TracingConfig{
			ServiceName: cfg.Tracing.ServiceName,
			SkipPaths:   []string{"/health", "/ping", "/ready", cfg.Metrics.Path},
		}))
	}
	if cfg.Metrics.Enabled {
		if m := metrics.GetMetrics(); m != nil {
			r.Use(m.Middleware())
		}
		r.GET(cfg.Metrics.Path, metrics.Handler())
	}

	// Health checks (unauthenticated)
	r.GET("/health", healthHandler)
	r.GET("/ping", pingHandler)
	r.GET("/ready", readyHandler(db, redisClient))

	// Swagger docs
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	v1 := r.Group("/api/v1")
	{
		// Public referral tracking, rate limited per visitor and code.
		public := v1.Group("/r")
		if cfg.RateLimit.Enabled {
			public.Use(middleware.ClickRateLimit(redisClient, cfg.RateLimit.Burst, time.Minute))
		}
		{
			public.POST("/click", referralH.TrackClick)
			public.GET("/:code", referralH.ValidateCode)
		}

		// Platform webhooks (service-to-service auth).
		webhooks := v1.Group("/webhooks/platform")
		webhooks.Use(middleware.ServiceAuth(jwtManager))
		{
			webhooks.POST("/signup", webhookH.Signup)
			webhooks.POST("/purchase", webhookH.Purchase)
			webhooks.POST("/refund", webhookH.Refund)
			webhooks.POST("/store", webhookH.StoreSync)
		}

		// Affiliate portal (platform user auth).
		portal := v1.Group("/affiliate")
		portal.Use(middleware.UserAuth(jwtManager))
		{
			portal.POST("/apply", affiliateH.Apply)
			portal.GET("/profile", affiliateH.GetProfile)
			portal.GET("/dashboard", affiliateH.GetDashboard)
			portal.GET("/link", affiliateH.GetLink)
			portal.PUT("/gateway-account", affiliateH.UpdateGatewayAccount)
			portal.POST("/gateway-account/onboarding-link", affiliateH.GetOnboardingLink)
			portal.POST("/gateway-account/refresh", affiliateH.RefreshGatewayAccount)

			portal.GET("/referrals", affiliateH.GetReferrals)
			portal.GET("/commissions", affiliateH.GetCommissions)
			portal.GET("/commissions/stats", affiliateH.GetCommissionStats)

			portal.POST("/payouts", affiliateH.RequestPayout)
			portal.GET("/payouts", affiliateH.GetPayouts)
			portal.POST("/payouts/:id/cancel", affiliateH.CancelPayout)
			portal.GET("/payouts/:id/items", affiliateH.GetPayoutItems)

			portal.GET("/credits", affiliateH.GetCreditAwards)

			portal.GET("/exports/commissions", affiliateH.ExportCommissions)
			portal.GET("/exports/payouts", affiliateH.ExportPayouts)
		}

		// Admin console (admin auth).
		admin := v1.Group("/admin")
		admin.Use(middleware.AdminAuth(jwtManager))
		admin.Use(middleware.NewOperationLogger(operationLogRepo).Log())
		{
			admin.GET("/affiliates", adminH.ListAffiliates)
			admin.GET("/affiliates/pending", adminH.GetPendingAffiliates)
			admin.GET("/affiliates/top-earners", adminH.GetTopEarners)
			admin.GET("/affiliates/:id", adminH.GetAffiliate)
			admin.POST("/affiliates/:id/approve", adminH.ApproveAffiliate)
			admin.POST("/affiliates/:id/reject", adminH.RejectAffiliate)
			admin.POST("/affiliates/:id/suspend", adminH.SuspendAffiliate)
			admin.POST("/affiliates/:id/reinstate", adminH.ReinstateAffiliate)
			admin.PUT("/affiliates/:id/custom-rate", adminH.SetCustomRate)
			admin.DELETE("/affiliates/:id/custom-rate", adminH.ClearCustomRate)
			admin.GET("/affiliates/:id/commissions", adminH.GetAffiliateCommissions)
			admin.GET("/affiliates/:id/credits", adminH.GetAffiliateCredits)

			admin.POST("/commissions/:id/approve", adminH.ApproveCommission)
			admin.POST("/commissions/:id/cancel", adminH.CancelCommission)

			admin.POST("/credits/sweep", adminH.TriggerCreditSweep)

			admin.GET("/tiers", adminH.ListTiers)
			admin.POST("/tiers", adminH.CreateTier)
			admin.PUT("/tiers/:id", adminH.UpdateTier)
			admin.DELETE("/tiers/:id", adminH.DeleteTier)

			admin.GET("/payouts", adminH.ListPayouts)
			admin.GET("/payouts/:id", adminH.GetPayout)
			admin.GET("/payouts/:id/items", adminH.GetPayoutItems)
			admin.POST("/payouts/:id/process", adminH.ProcessPayout)
			admin.POST("/payouts/:id/cancel", adminH.CancelPayout)
			admin.POST("/payouts/:id/export", adminH.ExportPayoutItems)

			admin.GET("/logs/operation", adminH.ListOperationLogs)
		}
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(404, gin.H{
			"code":    404,
			"message": "route not found",
		})
	})

	// Background sweeps
	sched := scheduler.NewScheduler()
	scheduler.SetupTasks(sched, scheduler.NewTaskHandler(commissionSvc, payoutSvc, creditAwardSvc))

	return sched
}
