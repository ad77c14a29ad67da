package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"marketplace-service/chat"
	"marketplace-service/common/auth"
	apperrors "marketplace-service/common/errors"
	"marketplace-service/common/logger"
	commonmw "marketplace-service/common/middleware"
	"marketplace-service/config"
	"marketplace-service/controllers"
	"marketplace-service/database"
	"marketplace-service/kafka"
	"marketplace-service/models"
	aws_pkg "marketplace-service/pkg/aws"
	"marketplace-service/providers"
	"marketplace-service/repository"
	"marketplace-service/routes"
	"marketplace-service/services"
	"marketplace-service/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig(ctx)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// --- AWS setup (optional outside AWS) ---
	awsCfg, awsErr := aws_pkg.LoadAWSConfig(ctx)

	var shipper io.Writer
	if cfg.CloudWatchEnabled && awsErr == nil {
		if w, err := aws_pkg.NewCloudWatchLogsWriter(ctx, awsCfg, cfg.CloudWatchLogGroup, cfg.ServiceName); err == nil {
			shipper = w
		}
	}
	log, err := logger.Initialize(cfg.Env, shipper)
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer log.Sync()
	if awsErr != nil {
		log.Warn("AWS config unavailable, SNS, SQS and CloudWatch are disabled", zap.Error(awsErr))
	}

	// --- Databases ---
	mongoClient, db, err := database.Connect(ctx, cfg.MongoURL, cfg.MongoDB, log)
	if err != nil {
		log.Fatal("MongoDB connection failed", zap.Error(err))
	}
	if err := database.EnsureIndexes(ctx, db); err != nil {
		log.Fatal("Index creation failed", zap.Error(err))
	}
	rdb, err := database.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatal("Redis connection failed", zap.Error(err))
	}

	var metrics aws_pkg.MetricsRecorder
	if awsErr == nil {
		metrics = aws_pkg.NewMetricsClient(awsCfg, cfg.CloudWatchNamespace, cfg.CloudWatchEnabled)
	}

	// --- Repositories ---
	products := repository.NewProductRepository(db)
	categories := repository.NewCategoryRepository(db)
	salons := repository.NewMongoResourceRepository[models.Salon](db, "salons")
	banners := repository.NewMongoResourceRepository[models.Banner](db, "banners")
	vouchers := repository.NewVoucherRepository(db)
	transactions := repository.NewTransactionRepository(db)
	invoices := repository.NewInvoiceRepository(db)
	balances := repository.NewBalanceRepository(db)
	orders := repository.NewOrderRepository(db)
	settlements := repository.NewSettlementRepository(db)
	outbox := repository.NewOutboxRepository(db)
	withdrawals := repository.NewWithdrawalRepository(db)
	carts := repository.NewCartRepository(rdb, cfg.CartTTL)

	// --- Gateways ---
	var gateways []providers.Gateway
	if cfg.MoyasarSecretKey != "" {
		gateways = append(gateways, providers.NewMoyasarGateway(cfg.MoyasarSecretKey, cfg.MoyasarWebhookSecret, cfg.MoyasarBaseURL))
	}
	if cfg.PayPalClientID != "" {
		gateways = append(gateways, providers.NewPayPalGateway(cfg.PayPalClientID, cfg.PayPalClientSecret, cfg.PayPalWebhookID, cfg.PayPalBaseURL))
	}
	if cfg.StripeSecretKey != "" {
		gateways = append(gateways, providers.NewStripeGateway(cfg.StripeSecretKey, cfg.StripeWebhookSecret, ""))
	}
	registry := providers.NewRegistry(gateways...)
	log.Info("Payment gateways configured", zap.Strings("providers", registry.Names()))

	var images storage.ImageStore
	if cfg.CloudinaryURL != "" {
		store, err := storage.NewCloudinaryStore(cfg.CloudinaryURL, cfg.CloudinaryFolder)
		if err != nil {
			log.Fatal("Cloudinary init failed", zap.Error(err))
		}
		images = store
	} else {
		log.Warn("CLOUDINARY_URL not set, image uploads are disabled")
	}

	// --- Event sinks and retry queue ---
	sinks := map[string]services.EventSink{}
	var producer *kafka.EventProducer
	if len(cfg.KafkaBrokers) > 0 {
		producer = kafka.NewEventProducer(cfg.KafkaBrokers, cfg.KafkaTopic, log)
		sinks["kafka"] = producer
	}
	if cfg.SNSTopicARN != "" && awsErr == nil {
		sinks["sns"] = services.NewSNSSink(aws_pkg.NewSNSClient(awsCfg), cfg.SNSTopicARN)
	}

	var retryQueue *aws_pkg.SQSQueue
	if cfg.SettlementRetryQueueURL != "" && awsErr == nil {
		retryQueue = aws_pkg.NewSQSQueue(awsCfg, cfg.SettlementRetryQueueURL, func(msg string, err error) {
			log.Warn(msg, zap.Error(err))
		})
	}

	// --- Services ---
	productService := services.NewProductService(products, categories, salons, images, log)
	categoryService := services.NewCategoryService(categories, products, log)
	salonService := services.NewSalonService(salons, products, images, log)
	voucherService := services.NewVoucherService(vouchers, log)
	bannerService := services.NewBannerService(banners, log)
	cartService := services.NewCartService(carts, products, vouchers, log)

	checkoutService := services.NewCheckoutService(services.CheckoutDeps{
		Carts:        carts,
		Products:     products,
		Vouchers:     vouchers,
		Transactions: transactions,
		Invoices:     invoices,
		Outbox:       outbox,
		Idempotency:  repository.NewIdempotencyStore(rdb),
		Gateways:     registry,
		Metrics:      metrics,
	}, services.CheckoutConfig{
		Currency:       cfg.Currency,
		PublicBaseURL:  cfg.PublicBaseURL,
		IdempotencyTTL: cfg.IdempotencyTTL,
	}, log)

	settlementDeps := services.SettlementDeps{
		Invoices:     invoices,
		Transactions: transactions,
		Products:     products,
		Balances:     balances,
		Orders:       orders,
		Settlements:  settlements,
		Outbox:       outbox,
		Locker:       repository.NewRedisLocker(rdb),
		Metrics:      metrics,
	}
	if retryQueue != nil {
		settlementDeps.RetryQueue = retryQueue
	}
	settlementService := services.NewSettlementService(settlementDeps, cfg.SettlementLockTTL, log)

	paymentService := services.NewPaymentService(services.PaymentDeps{
		Invoices:     invoices,
		Transactions: transactions,
		Vouchers:     vouchers,
		Outbox:       outbox,
		Gateways:     registry,
		Settlement:   settlementService,
		Metrics:      metrics,
	}, log)

	orderService := services.NewOrderService(invoices, transactions, orders, balances, salons, log)
	withdrawalService := services.NewWithdrawalService(withdrawals, balances, salons, outbox, log)
	imageService := services.NewImageService(images, log)

	// --- Background workers ---
	var workers sync.WaitGroup
	runWorker := func(fn func(context.Context)) {
		workers.Add(1)
		go func() {
			defer workers.Done()
			fn(ctx)
		}()
	}
	if len(sinks) > 0 {
		runWorker(services.NewOutboxRelay(outbox, sinks, cfg.OutboxInterval, metrics, log).Run)
	} else {
		log.Warn("No event sinks configured, outbox events stay pending")
	}
	runWorker(services.NewInvoiceReconciler(invoices, paymentService, settlementService, cfg.InvoiceTTL, cfg.ReconcileInterval, log).Run)
	if retryQueue != nil {
		runWorker(services.NewSettlementRetryConsumer(retryQueue, settlementService, log).Start)
	}

	hostname, _ := os.Hostname()
	hub := chat.NewHub(rdb, hostname+"-"+uuid.NewString()[:8], 2*time.Minute, log)
	if err := hub.Start(ctx); err != nil {
		log.Fatal("Chat hub subscription failed", zap.Error(err))
	}

	// --- HTTP router ---
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.RequestLogger(log))
	r.Use(apperrors.ErrorMiddleware())
	r.Use(commonmw.SecurityHeaders())
	r.Use(commonmw.CORSMiddleware(cfg.AllowedOrigins))
	r.Use(commonmw.MetricsMiddleware(metrics, cfg.ServiceName))
	limiter := commonmw.NewRateLimiter(ctx, rate.Limit(float64(cfg.RateLimitPerMinute)/60), cfg.RateLimitBurst, 10*time.Minute)
	r.Use(commonmw.RateLimitMiddleware(limiter))
	r.Use(commonmw.RequestTimeout(30 * time.Second))

	routes.RegisterRoutes(r, routes.Controllers{
		Products:    controllers.NewProductController(productService),
		Categories:  controllers.NewResourceController[models.Category](categoryService, "category", "categories"),
		Salons:      controllers.NewResourceController[models.Salon](salonService, "salon", "salons"),
		Vouchers:    controllers.NewResourceController[models.Voucher](voucherService, "voucher", "vouchers"),
		Banners:     controllers.NewResourceController[models.Banner](bannerService, "banner", "banners"),
		Cart:        controllers.NewCartController(cartService),
		Checkout:    controllers.NewCheckoutController(checkoutService),
		Payments:    controllers.NewPaymentController(paymentService, log),
		Orders:      controllers.NewOrderController(orderService),
		Withdrawals: controllers.NewWithdrawalController(withdrawalService),
		Images:      controllers.NewImageController(imageService),
		Chat:        chat.NewHandler(hub, commonmw.OriginChecker(cfg.AllowedOrigins), log),
	}, auth.NewTokenValidator(cfg.JWTSecret))

	r.GET("/health", func(c *gin.Context) {
		pingCtx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "DEGRADED", "service": cfg.ServiceName, "redis": err.Error()})
			return
		}
		if err := mongoClient.Ping(pingCtx, nil); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "DEGRADED", "service": cfg.ServiceName, "mongo": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "OK", "service": cfg.ServiceName})
	})

	// --- HTTP server ---
	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Info("Marketplace service started", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	// --- Graceful shutdown ---
	<-ctx.Done()
	log.Info("Initiating graceful shutdown...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown error", zap.Error(err))
	}
	workers.Wait()
	if producer != nil {
		producer.Close()
	}
	if err := rdb.Close(); err != nil {
		log.Error("Redis close error", zap.Error(err))
	}
	if err := database.Close(mongoClient); err != nil {
		log.Error("MongoDB close error", zap.Error(err))
	}
	log.Info("Marketplace service stopped gracefully")
}
