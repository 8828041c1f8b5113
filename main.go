package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"checkout-service/config"
	"checkout-service/controllers"
	"checkout-service/database"
	"checkout-service/events"
	"checkout-service/gateway"
	"checkout-service/kafka"
	"checkout-service/logger"
	"checkout-service/middleware"
	"checkout-service/models"
	aws_pkg "checkout-service/pkg/aws"
	"checkout-service/repository"
	"checkout-service/routes"
	"checkout-service/services"
	"checkout-service/staging"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	serviceName           = "checkout-service"
	callbackRatePerMinute = 120
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("[CheckoutService] Failed to load config: ", err)
	}

	ctx := context.Background()
	awsCfg, awsErr := aws_pkg.LoadAWSConfig(ctx)

	// ── Logger, CloudWatch Logs + Metrics ──
	zapLogger := logger.Initialize(cfg.Env)
	var metricsClient *aws_pkg.MetricsClient
	if cfg.CloudWatchEnabled {
		if awsErr != nil {
			zapLogger.Warn("CloudWatch disabled: AWS config unavailable", zap.Error(awsErr))
		} else {
			if w, err := aws_pkg.NewCloudWatchLogsWriter(ctx, awsCfg, serviceName); err != nil {
				zapLogger.Warn("CloudWatch Logs init failed", zap.Error(err))
			} else {
				zapLogger = logger.InitializeWithWriter(cfg.Env, w)
				zapLogger.Info("CloudWatch Logs enabled")
			}
			metricsClient = aws_pkg.NewMetricsClient(awsCfg)
		}
	}
	defer zapLogger.Sync()

	requireAWS := func(feature string) {
		if awsErr != nil {
			zapLogger.Fatal("AWS config required", zap.String("feature", feature), zap.Error(awsErr))
		}
	}

	// ── Order store ──
	var orderRepo repository.OrderRepository
	var callbackRepo repository.CallbackRepository
	switch cfg.OrderStore {
	case "mongo":
		client, db, err := database.ConnectMongo(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			zapLogger.Fatal("Failed to connect to MongoDB", zap.Error(err))
		}
		defer database.DisconnectMongo(client)

		mongoRepo := repository.NewMongoOrderRepository(db)
		if err := mongoRepo.EnsureIndexes(ctx); err != nil {
			zapLogger.Fatal("Failed to create order indexes", zap.Error(err))
		}
		orderRepo = mongoRepo
		callbackRepo = repository.NewMongoCallbackRepository(db)
	default:
		db, err := database.ConnectPostgres(cfg, zapLogger, &models.Order{}, &models.CallbackAttempt{})
		if err != nil {
			zapLogger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
		}
		orderRepo = repository.NewGormOrderRepository(db)
		callbackRepo = repository.NewGormCallbackRepository(db)
	}

	// ── Pending-order staging ──
	var store staging.Store
	switch cfg.StagingBackend {
	case "dynamodb":
		requireAWS("dynamodb staging")
		ddb := aws_pkg.NewDynamoDBClient(awsCfg)
		if err := aws_pkg.EnsureStagingTable(ctx, ddb, cfg.StagingTable); err != nil {
			zapLogger.Fatal("Failed to prepare staging table", zap.Error(err))
		}
		store = staging.NewDynamoDBStore(ddb, cfg.StagingTable, cfg.StagingTTL)
	default:
		rdb, err := database.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			zapLogger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer rdb.Close()
		store = staging.NewRedisStore(rdb, cfg.StagingTTL)
	}

	// ── Event bus ──
	var publisher events.Publisher = events.NopPublisher{}
	switch cfg.EventBus {
	case "sns":
		requireAWS("sns events")
		publisher = events.NewSNSPublisher(aws_pkg.NewSNSClient(awsCfg), cfg.OrderSNSTopicArn)
	case "kafka":
		producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic, zapLogger)
		defer producer.Close()
		publisher = producer
	}

	// ── Gateways ──
	signer := gateway.NewSignatureEngine(cfg.EsewaSecretKey, cfg.EsewaProductCode)
	khalti := gateway.NewKhaltiClient(cfg.KhaltiBaseURL, cfg.KhaltiSecretKey, cfg.CallbackTimeout, zapLogger)
	if !signer.Configured() {
		zapLogger.Warn("ESEWA_SECRET_KEY not set; eSewa payments will fail with a configuration error")
	}
	if !khalti.Configured() {
		zapLogger.Warn("KHALTI_SECRET_KEY not set; Khalti payments will fail with a configuration error")
	}

	var metrics services.MetricsRecorder
	if metricsClient != nil {
		metrics = metricsClient
	}

	reconciler := services.NewReconciler(orderRepo, store, signer, khalti, callbackRepo, publisher, metrics, zapLogger,
		services.ReconcilerOptions{
			Timeout:               cfg.CallbackTimeout,
			RequireEsewaSignature: cfg.EsewaRequireCallbackSignature,
		})
	checkoutService := services.NewCheckoutService(store, orderRepo, signer, khalti, metrics, zapLogger)
	orderService := services.NewOrderService(orderRepo, zapLogger)

	// ── Async callback intake ──
	pollCtx, stopPolling := context.WithCancel(ctx)
	defer stopPolling()
	if cfg.CallbackQueueURL != "" {
		requireAWS("sqs callback intake")
		consumer := aws_pkg.NewSQSConsumer(awsCfg, cfg.CallbackQueueURL, zapLogger)
		handler := services.NewCallbackConsumer(reconciler, metrics, zapLogger)
		go func() {
			_ = consumer.StartPolling(pollCtx, handler.Handle)
		}()
	}

	// ── HTTP ──
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{cfg.FrontendURL}
	}

	r := gin.New()
	r.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.RequestLogger(zapLogger),
		middleware.MetricsMiddleware(metricsClient, serviceName),
		middleware.SecurityHeaders(),
		middleware.CORSMiddleware(origins),
	)
	routes.RegisterRoutes(r, routes.Handlers{
		Checkout: controllers.NewCheckoutController(checkoutService),
		Payment:  controllers.NewPaymentController(reconciler, cfg.FrontendURL),
		Order:    controllers.NewOrderController(orderService),
	}, cfg.JWTSecret, callbackRatePerMinute)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		zapLogger.Info("Checkout service running", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	zapLogger.Info("Shutting down gracefully...")
	stopPolling()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Shutdown error", zap.Error(err))
	}
	zapLogger.Info("Server shutdown complete.")
}
