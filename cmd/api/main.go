package main

// @title Refwise API
// @version 1.0
// @description Referral attribution and reward ledger engine for Shopify stores.

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and an App Bridge session token.

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/refwise/refwise/config"
	"github.com/refwise/refwise/pkg/api/handlers"
	custommw "github.com/refwise/refwise/pkg/api/middleware"
	"github.com/refwise/refwise/pkg/attribution"
	"github.com/refwise/refwise/pkg/cache"
	"github.com/refwise/refwise/pkg/campaigns"
	"github.com/refwise/refwise/pkg/catalog"
	"github.com/refwise/refwise/pkg/database"
	"github.com/refwise/refwise/pkg/eligibility"
	"github.com/refwise/refwise/pkg/email"
	"github.com/refwise/refwise/pkg/jobs"
	"github.com/refwise/refwise/pkg/merchant"
	"github.com/refwise/refwise/pkg/metrics"
	custommiddleware "github.com/refwise/refwise/pkg/middleware"
	"github.com/refwise/refwise/pkg/referral"
	"github.com/refwise/refwise/pkg/referrer"
	"github.com/refwise/refwise/pkg/rewards"
	"github.com/refwise/refwise/pkg/shopify"
)

func main() {
	// Load configuration
	cfg := config.Load()
	log.Printf("🔧 Configuration loaded (environment: %s)", cfg.APIEnvironment)

	// Initialize Sentry for error tracking
	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.SentryEnvironment,
			TracesSampleRate: 1.0,
			AttachStacktrace: true,
		})
		if err != nil {
			log.Printf("⚠️  Failed to initialize Sentry: %v", err)
		} else {
			log.Printf("✅ Sentry initialized (environment: %s)", cfg.SentryEnvironment)
			defer sentry.Flush(2 * time.Second)
		}
	} else {
		log.Printf("ℹ️  Sentry disabled (no DSN configured)")
	}

	// Initialize database
	db, err := database.NewClient(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Initialize Redis cache
	redisClient, err := cache.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatalf("❌ Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()

	// Initialize Prometheus metrics
	prometheusMetrics := metrics.New()
	log.Printf("✅ Prometheus metrics initialized")

	// Initialize services
	merchantService := merchant.NewService(db.DB)
	referrerService := referrer.NewService(db.DB)
	referralService := referral.NewService(db.DB, cfg.ReferralCodeLength, cfg.ReferralCodePrefix)
	campaignService := campaigns.NewService(db.DB)
	catalogService := catalog.NewService(db.DB)
	matcher := eligibility.NewMatcher(catalogService)

	shopifyClient := shopify.NewClient(shopify.StaticCredentials{
		ShopDomain:  cfg.ShopifyShopDomain,
		AccessToken: cfg.ShopifyAdminToken,
	}, cfg.ShopifyAPIVersion)
	rewardService := rewards.NewService(db.DB, shopifyClient)
	engine := attribution.NewEngine(referralService, matcher, rewardService, cfg.ReferralCodePrefix)

	// Initialize email service
	emailService := email.NewService(cfg.EmailFrom, cfg.EmailFromName, cfg.SendGridAPIKey)

	// Initialize cron manager for ledger reconciliation
	cronManager := jobs.NewCronManager(
		rewardService,
		prometheusMetrics,
		log.Default(),
		cfg.ReconcileCronSpec,
		time.Duration(cfg.ReconcileGraceMins)*time.Minute,
	)
	if err := cronManager.SetupJobs(); err != nil {
		log.Fatalf("❌ Failed to setup cron jobs: %v", err)
	}
	cronManager.Start()
	log.Printf("✅ Cron jobs started successfully")

	// Initialize Echo
	e := echo.New()
	e.HideBanner = true
	e.Validator = handlers.NewValidator()

	// Initialize rate limiters
	globalRateLimiter := custommiddleware.NewRateLimiter(cfg.RateLimitRequestsPerMinute, cfg.RateLimitBurst)
	widgetRateLimiter := custommiddleware.NewRateLimiter(cfg.WidgetRateLimitPerMinute, cfg.WidgetRateLimitBurst)
	webhookRateLimiter := custommiddleware.NewRateLimiter(300, 50) // Shopify bursts on catalog syncs

	// Global middleware
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus: true,
		LogURI:    true,
		LogError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Printf("[%s] %s - Status: %d", c.Request().Method, v.URI, v.Status)
			return nil
		},
	}))
	e.Use(middleware.Recover())

	// Sentry error tracking middleware (if configured)
	if cfg.SentryDSN != "" {
		e.Use(sentryecho.New(sentryecho.Options{
			Repanic: true,
		}))
	}

	// Prometheus metrics middleware
	e.Use(prometheusMetrics.Middleware())

	// CORS: widget endpoints are called from storefront origins
	e.Use(middleware.CORSWithConfig(custommiddleware.CORSConfig(cfg.CORSAllowedOrigins)))

	e.Use(middleware.Gzip())
	e.Use(custommiddleware.SecurityHeaders(custommiddleware.SecurityHeadersConfig{}))

	// Global rate limiting (default 60 req/min)
	e.Use(globalRateLimiter.RateLimitMiddleware())

	// Health check endpoints (public)
	e.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{
			"name":        "Refwise API",
			"version":     "0.1.0",
			"status":      "running",
			"environment": cfg.APIEnvironment,
			"timestamp":   time.Now().Unix(),
		})
	})

	e.GET("/health", func(c echo.Context) error {
		// Check database connection
		if err := db.Ping(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]any{
				"status":   "unhealthy",
				"database": "down",
			})
		}

		// Check Redis connection
		if _, err := redisClient.Redis.Ping(c.Request().Context()).Result(); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]any{
				"status": "unhealthy",
				"cache":  "down",
			})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"status":   "healthy",
			"database": "up",
			"cache":    "up",
		})
	})

	// Prometheus metrics endpoint (public)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Initialize handlers
	referralHandler := handlers.NewReferralHandler(merchantService, referrerService, referralService, campaignService, prometheusMetrics)
	webhookHandler := handlers.NewWebhookHandler(db.DB, redisClient, merchantService, catalogService, engine, emailService, prometheusMetrics, cfg.ShopifyWebhookSecret)
	campaignHandler := handlers.NewCampaignHandler(campaignService)
	catalogHandler := handlers.NewCatalogHandler(catalogService)
	rewardsHandler := handlers.NewRewardsHandler(db.DB, rewardService, prometheusMetrics, cfg.ReconcileGraceMins)
	settingsHandler := handlers.NewSettingsHandler(merchantService)

	// Public widget routes (storefront origin, shop named explicitly)
	public := e.Group("/api/public")
	public.Use(widgetRateLimiter.RateLimitMiddleware())
	{
		public.POST("/referrals/create", referralHandler.GenerateCode)
		public.POST("/referrals/validate", referralHandler.ValidateCode)
		public.POST("/referrals/click", referralHandler.TrackClick)
		public.GET("/campaigns/check", referralHandler.CheckCampaign)
	}

	// Webhook routes (HMAC authenticated)
	webhooks := e.Group("/webhooks")
	webhooks.Use(webhookRateLimiter.RateLimitMiddleware())
	{
		webhooks.POST("/orders/paid", webhookHandler.OrdersPaid)
		webhooks.POST("/products/create", webhookHandler.ProductsUpsert)
		webhooks.POST("/products/update", webhookHandler.ProductsUpsert)
		webhooks.POST("/products/delete", webhookHandler.ProductsDelete)
		webhooks.POST("/collections/create", webhookHandler.CollectionsUpsert)
		webhooks.POST("/collections/update", webhookHandler.CollectionsUpsert)
	}

	// Admin routes (App Bridge session token authenticated)
	v1 := e.Group("/api/v1")
	v1.Use(custommw.SessionTokenMiddleware(cfg.ShopifyAPIKey, cfg.ShopifyAPISecret, merchantService))
	{
		campaignRoutes := v1.Group("/campaigns")
		{
			campaignRoutes.POST("", campaignHandler.Create)
			campaignRoutes.GET("", campaignHandler.List)
			campaignRoutes.GET("/:id", campaignHandler.Get)
			campaignRoutes.PUT("/:id", campaignHandler.Update)
			campaignRoutes.PATCH("/:id/status", campaignHandler.SetStatus)
		}

		catalogRoutes := v1.Group("/catalog")
		{
			catalogRoutes.GET("/products", catalogHandler.ListProducts)
			catalogRoutes.GET("/collections", catalogHandler.ListCollections)
			catalogRoutes.PUT("/collections/:id/products", catalogHandler.SetCollects)
		}

		rewardRoutes := v1.Group("/rewards")
		{
			rewardRoutes.GET("/ledger", rewardsHandler.ListLedger)
			rewardRoutes.GET("/balances/:customer_id", rewardsHandler.GetBalances)
			rewardRoutes.POST("/reconcile", rewardsHandler.Reconcile)
		}

		v1.GET("/settings", settingsHandler.Get)
		v1.PUT("/settings", settingsHandler.Update)
	}

	// Start server
	address := fmt.Sprintf("%s:%s", cfg.APIHost, cfg.APIPort)
	log.Printf("🚀 Refwise API starting on %s", address)
	log.Printf("🛡️  Rate limiting: global %d req/min (burst: %d), widget %d req/min (burst: %d)",
		cfg.RateLimitRequestsPerMinute, cfg.RateLimitBurst, cfg.WidgetRateLimitPerMinute, cfg.WidgetRateLimitBurst)
	log.Printf("⏰ Ledger reconciliation: %s (grace: %d minutes)", cfg.ReconcileCronSpec, cfg.ReconcileGraceMins)

	// Graceful shutdown
	go func() {
		if err := e.Start(address); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("🛑 Shutting down server...")

	// Stop cron jobs
	cronManager.Stop()
	log.Println("✅ Cron jobs stopped")

	// Gracefully shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		log.Fatalf("❌ Server forced to shutdown: %v", err)
	}

	log.Println("✅ Server gracefully stopped")
}
