package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vietstay/payment-service/internal/consumer"
	"github.com/vietstay/payment-service/internal/di"
	"github.com/vietstay/payment-service/internal/dto"
	"github.com/vietstay/payment-service/internal/metrics"
	"github.com/vietstay/payment-service/internal/service"
	"github.com/vietstay/payment-service/pkg/config"
	"github.com/vietstay/payment-service/pkg/database"
	"github.com/vietstay/payment-service/pkg/kafka"
	"github.com/vietstay/payment-service/pkg/logger"
	"github.com/vietstay/payment-service/pkg/middleware"
	pkgredis "github.com/vietstay/payment-service/pkg/redis"
	"github.com/vietstay/payment-service/pkg/telemetry"
)

func main() {
	runtime.GOMAXPROCS(runtime.NumCPU())

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logLevel := "info"
	if cfg.App.Debug {
		logLevel = "debug"
	}
	if err := logger.Init(&logger.Config{
		Level:       logLevel,
		Environment: cfg.App.Environment,
		ServiceName: cfg.App.Name,
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("starting payment service", zap.String("version", cfg.App.Version))

	ctx := context.Background()

	// Tracing and metrics
	if _, err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    cfg.OTel.ServiceName,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
	}); err != nil {
		appLog.Warn("telemetry init failed", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = telemetry.Shutdown(shutdownCtx)
	}()
	if err := metrics.Init(); err != nil {
		appLog.Warn("metrics init failed", zap.Error(err))
	}

	// Database
	db, err := database.NewPostgres(ctx, &database.PostgresConfig{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.DBName,
		SSLMode:         cfg.Database.SSLMode,
		MaxConns:        int32(cfg.Database.MaxOpenConns),
		MinConns:        int32(cfg.Database.MaxIdleConns),
		MaxConnLifetime: cfg.Database.ConnMaxLifetime,
		MaxConnIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnectTimeout:  5 * time.Second,
		MaxRetries:      3,
		RetryInterval:   1 * time.Second,
	})
	if err != nil {
		appLog.Fatal("database connection failed", zap.Error(err))
	}
	defer db.Close()
	appLog.Info("database connected")

	// Redis (idempotency middleware); the service runs without it
	var redisClient *pkgredis.Client
	redisClient, err = pkgredis.NewClient(ctx, &pkgredis.Config{
		Host:          cfg.Redis.Host,
		Port:          cfg.Redis.Port,
		Password:      cfg.Redis.Password,
		DB:            cfg.Redis.DB,
		PoolSize:      cfg.Redis.PoolSize,
		MinIdleConns:  cfg.Redis.MinIdleConns,
		MaxRetries:    3,
		RetryInterval: 100 * time.Millisecond,
		DialTimeout:   cfg.Redis.DialTimeout,
		ReadTimeout:   cfg.Redis.ReadTimeout,
		WriteTimeout:  cfg.Redis.WriteTimeout,
	})
	if err != nil {
		appLog.Warn("redis connection failed, idempotency middleware disabled", zap.Error(err))
		redisClient = nil
	} else {
		defer redisClient.Close()
		appLog.Info("redis connected")
	}

	// Kafka producer for payment events
	producer, err := kafka.NewProducer(ctx, &kafka.ProducerConfig{
		Brokers:       cfg.Kafka.Brokers,
		ClientID:      cfg.Kafka.ClientID,
		RequireAll:    true,
		MaxRetries:    3,
		RetryInterval: 2 * time.Second,
	})
	if err != nil {
		appLog.Fatal("kafka producer connection failed", zap.Error(err))
	}
	defer producer.Close()
	appLog.Info("kafka producer connected")

	container := di.NewContainer(&di.ContainerConfig{
		Config:        cfg,
		DB:            db,
		Redis:         redisClient,
		KafkaProducer: producer,
		ServiceConfig: &service.PaymentServiceConfig{
			PaymentTimeout: cfg.Payment.Timeout,
		},
	})

	// Booking projection consumer
	consumerCtx, stopConsumer := context.WithCancel(ctx)
	defer stopConsumer()
	bookingConsumer, err := consumer.NewBookingConsumer(consumerCtx, &consumer.BookingConsumerConfig{
		Brokers:        cfg.Kafka.Brokers,
		GroupID:        cfg.Kafka.ConsumerGroup,
		Topic:          dto.TopicBookingEvents,
		MaxRetries:     3,
		RetryInterval:  2 * time.Second,
		ProcessTimeout: 30 * time.Second,
		WorkerCount:    cfg.Payment.ConsumerWorkers,
	}, container.Bookings, producer)
	if err != nil {
		appLog.Fatal("booking consumer init failed", zap.Error(err))
	}
	if err := bookingConsumer.Start(consumerCtx); err != nil {
		appLog.Fatal("booking consumer start failed", zap.Error(err))
	}

	// Expiry sweep for abandoned pending orders
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go func() {
		ticker := time.NewTicker(cfg.Payment.ExpirySweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				n, err := container.PaymentService.CancelExpiredOrders(sweepCtx)
				if err != nil {
					appLog.Error("expiry sweep failed", zap.Error(err))
					continue
				}
				if n > 0 {
					appLog.Info("expired payment orders cancelled", zap.Int("count", n))
				}
			}
		}
	}()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(telemetry.TracingMiddleware(cfg.App.Name))

	router.GET("/health", container.HealthHandler.Health)
	router.GET("/ready", container.HealthHandler.Ready)

	v1 := router.Group("/api/v1")
	{
		payments := v1.Group("/payments")

		createHandlers := []gin.HandlerFunc{container.PaymentHandler.CreatePayment}
		if redisClient != nil {
			idemCfg := middleware.DefaultIdempotencyConfig(redisClient.Client())
			createHandlers = []gin.HandlerFunc{
				middleware.IdempotencyMiddleware(idemCfg),
				container.PaymentHandler.CreatePayment,
			}
		}
		payments.POST("/create", createHandlers...)
		payments.GET("/orders/:id", container.PaymentHandler.GetOrder)
		payments.POST("/orders/:id/cancel", container.PaymentHandler.CancelPayment)
		payments.GET("/booking/:bookingId", container.PaymentHandler.GetOrderByBookingID)

		// provider callback endpoints; acks follow each gateway's contract
		payments.POST("/momo/webhook", container.WebhookHandler.MoMoWebhook)
		payments.GET("/vnpay/return", container.WebhookHandler.VNPayReturn)
		payments.GET("/vnpay/ipn", container.WebhookHandler.VNPayIPN)
		payments.POST("/zalopay/callback", container.WebhookHandler.ZaloPayCallback)
		// network-restricted at the ingress, see deploy manifests
		payments.POST("/banking/confirm", container.WebhookHandler.BankingConfirm)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ReadHeaderTimeout: 2 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
	}

	go func() {
		appLog.Info("payment service listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLog.Info("shutting down")

	stopSweep()
	if err := bookingConsumer.Stop(); err != nil {
		appLog.Error("consumer shutdown failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Fatal("server forced to shutdown", zap.Error(err))
	}

	appLog.Info("server exited gracefully")
}
