// Package app wires the billing engine together: config, storage, modules,
// HTTP routes and the background sweeps.
package app

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/rebillhq/server/internal/module/catalog"
	"github.com/rebillhq/server/internal/module/invoice"
	"github.com/rebillhq/server/internal/module/payment"
	"github.com/rebillhq/server/internal/module/payment/gateway"
	"github.com/rebillhq/server/internal/module/proration"
	"github.com/rebillhq/server/internal/module/subscription"
	"github.com/rebillhq/server/internal/shared/cache"
	"github.com/rebillhq/server/internal/shared/config"
	"github.com/rebillhq/server/internal/shared/database"
	"github.com/rebillhq/server/internal/shared/logger"
	"github.com/rebillhq/server/internal/shared/metrics"
	"github.com/rebillhq/server/internal/shared/middleware"
	"github.com/rebillhq/server/internal/worker"
)

// App represents the application.
type App struct {
	config  *config.Config
	db      *gorm.DB
	redis   redis.UniversalClient
	router  *gin.Engine
	logger  *zap.Logger
	metrics *metrics.Metrics

	scheduler *worker.Scheduler

	catalogHandler      *catalog.Handler
	subscriptionHandler *subscription.Handler
	paymentHandler      *payment.Handler
	invoiceHandler      *invoice.Handler
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	log, err := logger.New(&cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	db, err := database.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}

	redisClient, err := cache.NewRedisClient(&cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("init redis: %w", err)
	}

	app := &App{
		config:  cfg,
		db:      db,
		redis:   redisClient,
		logger:  log,
		metrics: metrics.New("rebill"),
	}

	if err := db.AutoMigrate(
		&catalog.Plan{},
		&subscription.Subscription{},
		&subscription.History{},
		&invoice.Invoice{},
		&payment.Payment{},
		&payment.RetryLog{},
	); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	if err := app.initModules(); err != nil {
		return nil, err
	}
	app.router = app.setupRouter()
	app.registerRoutes()

	return app, nil
}

func (a *App) initModules() error {
	cfg := a.config

	// Catalog
	catalogRepo := catalog.NewRepository(a.db)
	catalogService := catalog.NewService(catalogRepo, a.redis, cfg.Billing.PlanCacheTTL, a.logger)
	a.catalogHandler = catalog.NewHandler(catalogService)

	// Subscriptions
	calc := proration.NewCalculator()
	subRepo := subscription.NewRepository(a.db)
	subService := subscription.NewService(subRepo, catalogService, calc, a.metrics, a.logger)
	a.subscriptionHandler = subscription.NewHandler(subService)

	// Invoices
	invoiceRepo := invoice.NewRepository(a.db)
	invoiceService := invoice.NewService(invoiceRepo, a.logger)
	a.invoiceHandler = invoice.NewHandler(invoiceService)

	// Payments
	gw, err := a.buildGateway()
	if err != nil {
		return err
	}
	paymentRepo := payment.NewRepository(a.db)
	paymentService := payment.NewService(
		paymentRepo, gw, invoiceService,
		cfg.Billing.MaxPaymentRetries, cfg.Billing.RetryDelay(),
		a.metrics, a.logger,
	)
	a.paymentHandler = payment.NewHandler(paymentService)

	// Background sweeps
	a.scheduler = worker.NewScheduler(a.logger)
	retrySweep := worker.NewRetrySweep(paymentService, a.logger)
	renewalSweep := worker.NewRenewalSweep(subService, catalogService, invoiceService, paymentService, a.logger)
	if err := a.scheduler.AddJob(cfg.Billing.RetrySweepSchedule, "payment-retry-sweep", retrySweep.Run); err != nil {
		return fmt.Errorf("schedule retry sweep: %w", err)
	}
	if err := a.scheduler.AddJob(cfg.Billing.RenewalSweepSchedule, "subscription-renewal-sweep", renewalSweep.Run); err != nil {
		return fmt.Errorf("schedule renewal sweep: %w", err)
	}

	return nil
}

// buildGateway selects the payment gateway from configuration and wraps it
// with the circuit breaker.
func (a *App) buildGateway() (gateway.Gateway, error) {
	var gw gateway.Gateway
	switch a.config.Gateway.Provider {
	case "", "simulated":
		gw = gateway.NewSimulatedGateway(a.config.Gateway.SuccessRate)
	case "stripe":
		if a.config.Gateway.StripeAPIKey == "" {
			return nil, fmt.Errorf("stripe gateway requires an API key")
		}
		gw = gateway.NewStripeGateway(a.config.Gateway.StripeAPIKey, a.logger)
	default:
		return nil, fmt.Errorf("unknown gateway provider %q", a.config.Gateway.Provider)
	}
	return gateway.NewBreakerGateway(gw, a.logger), nil
}

// setupRouter creates and configures the Gin router.
func (a *App) setupRouter() *gin.Engine {
	if a.config.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(middleware.Recovery(a.logger))
	r.Use(middleware.CORS())
	r.Use(middleware.Metrics(a.metrics))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func (a *App) registerRoutes() {
	v1 := a.router.Group("/api/v1")

	a.catalogHandler.RegisterRoutes(v1)
	a.subscriptionHandler.RegisterRoutes(v1)
	a.paymentHandler.RegisterRoutes(v1)
	a.invoiceHandler.RegisterRoutes(v1)
}

// Router returns the HTTP router.
func (a *App) Router() *gin.Engine {
	return a.router
}

// Start begins the background sweeps.
func (a *App) Start() {
	a.scheduler.Start()
}

// Stop stops the application and releases resources.
func (a *App) Stop() {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	if a.redis != nil {
		_ = cache.Close(a.redis)
	}
	if a.db != nil {
		_ = database.Close(a.db)
	}
}
