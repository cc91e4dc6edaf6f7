package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/joelyan00/fongbeeV1-sub002/internal/alerts"
	"github.com/joelyan00/fongbeeV1-sub002/internal/auth"
	"github.com/joelyan00/fongbeeV1-sub002/internal/catalog"
	"github.com/joelyan00/fongbeeV1-sub002/internal/config"
	"github.com/joelyan00/fongbeeV1-sub002/internal/db"
	"github.com/joelyan00/fongbeeV1-sub002/internal/fees"
	"github.com/joelyan00/fongbeeV1-sub002/internal/gateway"
	mware "github.com/joelyan00/fongbeeV1-sub002/internal/middleware"
	"github.com/joelyan00/fongbeeV1-sub002/internal/order"
	"github.com/joelyan00/fongbeeV1-sub002/internal/subscription"
	"github.com/joelyan00/fongbeeV1-sub002/internal/sweeper"
	"github.com/joelyan00/fongbeeV1-sub002/internal/verification"
	"github.com/joelyan00/fongbeeV1-sub002/internal/wallet"
	"github.com/joelyan00/fongbeeV1-sub002/internal/webhook"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()

	// Database and schema
	db.Init()

	// Redis backs verification codes; asynq holds its own connections.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPass,
	})

	// Payment gateway
	stripe := gateway.NewStripeClient(cfg.StripeBaseURL, cfg.StripeSecretKey)

	// Money layer
	ledger := wallet.NewLedger(db.Conn)
	calc, err := fees.NewCalculator(cfg.PlatformFeePercent)
	if err != nil {
		log.Fatalf("invalid platform fee percent: %v", err)
	}

	// Order engine
	repo := order.NewPgRepository(db.Conn, ledger)
	machine := order.NewMachine(repo, logger)
	settlement := order.NewSettlement(repo, calc, cfg.PlatformAccountID, logger)
	codes := verification.NewService(verification.NewRedisStore(redisClient), logger)

	regretPeriod := time.Duration(cfg.RegretPeriodHours) * time.Hour

	// Background workers
	alerts.Init()
	defer alerts.Close()
	if err := alerts.ConfigureMailerFromEnv(); err != nil {
		log.Printf("mailer not configured, notifications will fail: %v", err)
	}

	subsRepo := subscription.NewRepository(db.Conn)
	directory := &sweeper.PgDirectory{Pool: db.Conn}
	orderSweep := sweeper.NewRegretSweeper(repo, machine, settlement, stripe, cfg.OrderSweepBatch, logger)
	renewalSweep := sweeper.NewRenewalSweeper(subsRepo, ledger, stripe, directory, cfg.OrderSweepBatch, logger)

	redisOpt := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPass}
	sched := sweeper.NewScheduler(redisOpt, orderSweep, renewalSweep, cfg.OrderSweepCron, cfg.SubscriptionSweepCron)
	if err := sched.Start(); err != nil {
		log.Fatalf("sweep scheduler failed to start: %v", err)
	}
	defer sched.Stop()

	// HTTP handlers
	listings := catalog.NewRepository(db.Conn)
	catalogHandler := catalog.NewHandler(listings)
	orderHandler := &order.Handler{
		Repo:         repo,
		Machine:      machine,
		Settlement:   settlement,
		Gateway:      stripe,
		Listings:     listings,
		Verification: codes,
	}
	webhookHandler := webhook.NewHandler(repo, machine, settlement, cfg.StripeWebhookSecret, regretPeriod, logger)
	walletHandler := wallet.NewHandler(ledger)
	subsHandler := subscription.NewHandler(subsRepo)

	e := echo.New()
	e.Use(echomw.Recover())
	e.Use(echomw.Logger())

	// Health and root routes
	e.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"status": "ok", "service": "fongbee"})
	})
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
	})
	e.GET("/ready", func(c echo.Context) error {
		if db.Conn == nil {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "not_ready", "error": "db not initialized"})
		}
		if err := db.Conn.Ping(context.Background()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "not_ready", "error": "db unreachable"})
		}
		return c.JSON(http.StatusOK, echo.Map{"status": "ready"})
	})

	// Public routes with per-IP rate limiting on auth
	authGroup := e.Group("/auth")
	authGroup.Use(echomw.RateLimiter(echomw.NewRateLimiterMemoryStore(20)))
	authGroup.POST("/signup", auth.Signup)
	authGroup.POST("/login", auth.Login)

	e.GET("/services", catalogHandler.List)
	e.GET("/services/:id", catalogHandler.Get)

	// The gateway authenticates with its signature, not a bearer token.
	e.POST("/webhooks/stripe", webhookHandler.Receive)

	// Protected routes
	api := e.Group("")
	api.Use(mware.JWTMiddleware)

	api.GET("/auth/me", auth.Me)

	api.POST("/services", catalogHandler.Create, mware.RequireRoles("provider"))
	api.POST("/services/:id/deactivate", catalogHandler.Deactivate, mware.RequireRoles("provider"))

	api.POST("/orders", orderHandler.Create, mware.RequireRoles("customer"))
	api.POST("/orders/:id/cancel", orderHandler.Cancel, mware.RequireRoles("customer"))
	api.POST("/orders/:id/decline", orderHandler.ProviderCancel, mware.RequireRoles("provider"))
	api.POST("/orders/:id/forfeit", orderHandler.Forfeit, mware.RequireRoles("customer"))
	api.POST("/orders/:id/confirm-start", orderHandler.ConfirmStart, mware.RequireRoles("customer"))
	api.POST("/orders/:id/submit", orderHandler.Submit, mware.RequireRoles("provider"))
	api.POST("/orders/:id/verify", orderHandler.Verify, mware.RequireRoles("provider"))
	api.POST("/orders/:id/rework", orderHandler.Rework, mware.RequireRoles("customer"))
	api.POST("/orders/:id/restart", orderHandler.Restart, mware.RequireRoles("provider"))
	api.POST("/orders/:id/rate", orderHandler.Rate, mware.RequireRoles("customer"))
	api.GET("/orders/me", orderHandler.ListMine)
	api.GET("/orders/:id", orderHandler.Get)

	api.GET("/wallet/balance", walletHandler.Balance)
	api.GET("/wallet/transactions", walletHandler.Transactions)

	api.GET("/subscriptions/me", subsHandler.ListMine)
	api.POST("/subscriptions/:id/cancel", subsHandler.Cancel)

	// Admin routes
	admin := e.Group("/admin")
	admin.Use(mware.JWTMiddleware)
	admin.Use(mware.RequireRoles("admin"))

	admin.POST("/wallets/:user_id/adjust", walletHandler.AdminAdjust)
	admin.GET("/transactions", walletHandler.AdminTransactions)

	if err := e.Start(cfg.HTTPAddr); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
