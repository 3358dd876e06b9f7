package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"loyalty-service/config"
	"loyalty-service/internal/api"
	"loyalty-service/internal/broker"
	"loyalty-service/internal/notify"
	"loyalty-service/internal/qrcode"
	"loyalty-service/internal/redisclient"
	"loyalty-service/internal/service"
	"loyalty-service/internal/store"
	"loyalty-service/internal/util"
	"loyalty-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const serviceName = "loyalty-service"

func main() {

	cfg := config.Load()

	if err := util.InitLogger(serviceName, cfg.Server.Env, cfg.Observ.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting loyalty service",
		zap.String("env", cfg.Server.Env),
		zap.String("notify_mode", cfg.Notify.Mode))

	tp, err := util.InitTracer(serviceName, cfg.Observ.JaegerEndpoint, cfg.Observ.TraceSampleRatio)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL, store.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connected")

	if cfg.Database.AutoMigrate {
		migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := db.Migrate(migrateCtx)
		cancel()
		if err != nil {
			logger.Fatal("Failed to apply schema", zap.Error(err))
		}
	}

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	webhook := notify.NewWebhookNotifier(cfg.Notify.BotURL, cfg.Loyalty.NotifyTimeout)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var notifier service.Notifier
	var notificationWorker *worker.NotificationWorker

	switch cfg.Notify.Mode {
	case config.NotifyModeKafka:
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicLoyalty)
		defer producer.Close()
		notifier = broker.NewEventPublisher(producer)
		logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicLoyalty))

		if cfg.Notify.RunWorker {
			consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicLoyalty, cfg.Kafka.ConsumerGroup)
			notificationWorker = worker.NewNotificationWorker(consumer, db, webhook)
			go func() {
				if err := notificationWorker.Start(workerCtx); err != nil && err != context.Canceled {
					logger.Error("Notification worker error", zap.Error(err))
				}
			}()
		}
	case config.NotifyModeWebhook:
		notifier = webhook
	default:
		notifier = notify.Discard{}
	}

	ledger := service.NewLedgerService(db)
	issuer := service.NewSessionCodeIssuer(db, nil, redisClient, service.SessionCodeOptions{
		TTL:         cfg.Loyalty.SessionCodeTTL,
		MaxAttempts: cfg.Loyalty.SessionCodeMaxAttempts,
		IssueLimit:  cfg.Loyalty.SessionCodeIssueLimit,
	})
	checkouts := service.NewCheckoutOrchestrator(db, ledger, notifier, redisClient, service.CheckoutOptions{
		NotifyTimeout:   cfg.Loyalty.NotifyTimeout,
		ReceiptCacheTTL: cfg.Loyalty.ReceiptIdempotencyTTL,
	})

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(api.Deps{
		Merchants:    db,
		Ledger:       ledger,
		Checkouts:    checkouts,
		SessionCodes: issuer,
		QR:           qrcode.NewRenderer(cfg.QR.Size, cfg.QR.RecoveryLevel),
		Readiness: map[string]api.Pinger{
			"postgres": db,
			"redis":    redisClient,
		},
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	checkouts.Wait()

	workerCancel()
	if notificationWorker != nil {
		if err := notificationWorker.Stop(); err != nil {
			logger.Error("Failed to stop notification worker", zap.Error(err))
		}
	}

	logger.Info("Server exited")
}
