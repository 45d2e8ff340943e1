package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"materials-backend/internal/config"
	"materials-backend/internal/gateway"
	"materials-backend/internal/handlers"
	"materials-backend/internal/metrics"
	"materials-backend/internal/middleware"
	"materials-backend/internal/notify"
	"materials-backend/internal/routes"
	"materials-backend/internal/settlement"
	"materials-backend/internal/webhook"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func main() {
	// 1. Load Env
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(cfg)
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server stopped", zap.Error(err))
	}
}

func newLogger(cfg *config.Config) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.IsProduction() {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	return logger
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Connect DB
	db, err := config.ConnectDB(cfg.Database, logger)
	if err != nil {
		return err
	}

	// 3. Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// 4. Notification bus
	var bus notify.Bus
	busOpts := []notify.Option{notify.WithTTL(cfg.Settlement.StatusTimeout), notify.WithGauge(m.ListenerGauge())}
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return err
		}
		bus = notify.NewRedisBus(rdb, logger, busOpts...)
		logger.Info("Payment status bus on redis", zap.String("addr", cfg.Redis.Addr))
	} else {
		bus = notify.NewMemoryBus(busOpts...)
	}
	defer bus.Close()

	// 5. Push notifications
	var pusher notify.Pusher = notify.NopPusher{}
	if cfg.Firebase.CredentialsFile != "" {
		fcm, err := notify.NewFCMPusher(ctx, cfg.Firebase.CredentialsFile, logger)
		if err != nil {
			logger.Warn("Push notifications disabled", zap.Error(err))
		} else {
			pusher = fcm
		}
	}

	// 6. Gateways
	var payouts gateway.Payouts
	var charges gateway.Client
	if cfg.Paystack.SecretKey != "" {
		paystack := gateway.NewPaystack(cfg.Paystack.SecretKey, cfg.Paystack.BaseURL)
		payouts, charges = paystack, paystack
	}
	if cfg.Payment.Provider == webhook.ProviderMidtrans {
		charges = gateway.NewMidtrans(cfg.Midtrans.ServerKey, cfg.Midtrans.Production, settlement.CheckoutMetadata(db))
	}
	if charges == nil {
		logger.Warn("No charge gateway credentials configured")
		charges = gateway.NewPaystack("", cfg.Paystack.BaseURL)
	}

	// 7. Services
	engine := settlement.NewEngine(db, charges, pusher, m, logger)
	withdrawals := settlement.NewWithdrawalManager(db, engine, payouts, cfg.Settlement.MinWithdrawal, logger)
	checkouts := settlement.NewCheckouts(db, charges, engine, cfg.Payment.Provider, cfg.Payment.CallbackURL, logger)
	receiver := webhook.NewReceiver(engine, bus, cfg.WebhookSecret, m, logger)

	h := handlers.New(handlers.Deps{
		DB:          db,
		Engine:      engine,
		Withdrawals: withdrawals,
		Checkouts:   checkouts,
		Webhooks:    receiver,
		Bus:         bus,
		Logger:      logger,
	})

	limiter := middleware.NewIPRateLimiter(rate.Limit(cfg.RateLimit.RequestsPerSecond), cfg.RateLimit.Burst)
	defer limiter.Close()

	// 8. Router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(logger))
	routes.SetupRoutes(r, h, routes.Options{
		JWTSecret:   cfg.JWTSecret,
		RateLimiter: limiter,
		Gatherer:    reg,
	})

	// 9. Run Server
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server listening", zap.String("port", cfg.Server.Port), zap.String("provider", cfg.Payment.Provider))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	// closing the bus first releases open status streams
	_ = bus.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
