package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"enrollment-service/config"
	"enrollment-service/controllers"
	"enrollment-service/database"
	"enrollment-service/gateway"
	"enrollment-service/kafka"
	"enrollment-service/logger"
	"enrollment-service/middleware"
	"enrollment-service/monitoring"
	aws_pkg "enrollment-service/pkg/aws"
	"enrollment-service/repository"
	"enrollment-service/routes"
	"enrollment-service/services"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	root := &cobra.Command{
		Use:           "enrollment-service",
		Short:         "Turns verified course payments into enrollments",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API and the background reconciler",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServe(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "reconcile",
			Short: "Retry payments whose fulfillment did not complete, then exit",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runReconcile(cmd.Context())
			},
		},
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		log.Fatalf("enrollment-service: %v", err)
	}
}

// app holds everything both commands need.
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	db         *gorm.DB
	gateway    gateway.Gateway
	metrics    aws_pkg.MetricsRecorder
	orders     services.OrderService
	payments   services.PaymentService
	enrolls    services.EnrollmentService
	reconciler *services.Reconciler
	closers    []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("shutdown step failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

func bootstrap(ctx context.Context) (*app, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	awsCfg, awsErr := aws_pkg.LoadAWSConfig(ctx)

	var cwWriter *aws_pkg.CloudWatchLogsClient
	if cfg.CloudWatchEnabled && awsErr == nil {
		cwWriter, err = aws_pkg.NewCloudWatchLogsClient(ctx, awsCfg, cfg.CloudWatchLogGroup, monitoring.ServiceName)
		if err != nil {
			log.Printf("CloudWatch logs disabled: %v", err)
			cwWriter = nil
		}
	}
	var zl *zap.Logger
	if cwWriter != nil {
		zl, err = logger.New(cfg.AppEnv, cwWriter)
	} else {
		zl, err = logger.New(cfg.AppEnv, nil)
	}
	if err != nil {
		return nil, err
	}
	zl = zl.With(zap.String("service", monitoring.ServiceName))
	if awsErr != nil {
		zl.Warn("AWS config unavailable, SNS/SQS/S3/CloudWatch disabled", zap.Error(awsErr))
	}

	a := &app{cfg: cfg, logger: zl}

	db, err := database.ConnectPostgres(cfg.PostgresDSN(), zl, database.Models()...)
	if err != nil {
		return nil, err
	}
	a.db = db
	a.closers = append(a.closers, func() error { return database.Close(db) })

	opts := gateway.Options{Timeout: cfg.GatewayTimeout, MaxRetries: cfg.GatewayMaxRetries}
	switch cfg.GatewayProvider {
	case gateway.ProviderStripe:
		a.gateway = gateway.NewStripeGateway(cfg.StripeAPIKey, cfg.StripeWebhookSecret, opts)
	default:
		opts.BaseURL = cfg.RazorpayBaseURL
		a.gateway = gateway.NewRazorpayGateway(cfg.RazorpayKeyID, cfg.RazorpayKeySecret, opts)
	}

	events := a.eventPublisher(awsCfg, awsErr)

	var review services.ReviewQueue
	if cfg.ReviewQueueURL != "" && awsErr == nil {
		review = services.NewSQSReviewQueue(aws_pkg.NewSQSClient(awsCfg, cfg.ReviewQueueURL))
	}
	var archiver services.Archiver
	if cfg.AuditBucket != "" && awsErr == nil {
		archiver = aws_pkg.NewS3Archiver(awsCfg, cfg.AuditBucket)
	}
	if cfg.CloudWatchEnabled && awsErr == nil {
		a.metrics = aws_pkg.NewMetricsClient(awsCfg, cfg.CloudWatchNamespace)
	}

	courseRepo := repository.NewGormCourseRepository(db)
	orderRepo := repository.NewGormOrderRepository(db)
	paymentRepo := repository.NewGormPaymentRepo(db)
	enrollmentRepo := repository.NewGormEnrollmentRepository(db)

	notifier := services.NewNotifier(events, review, zl)
	verifier := services.NewSignatureVerifier(cfg.SignatureSecret(), cfg.RazorpayWebhookSecret, zl)
	resolver := services.NewPaymentResolver(orderRepo, a.gateway, notifier, cfg.StoreTimeout, zl)
	engine := services.NewFulfillmentEngine(paymentRepo, enrollmentRepo, orderRepo, notifier,
		cfg.FulfillmentMaxAttempts, cfg.StoreTimeout, zl)

	a.orders = services.NewOrderService(courseRepo, orderRepo, a.gateway, cfg.StoreTimeout, zl)
	a.payments = services.NewPaymentService(verifier, resolver, engine, paymentRepo, a.gateway, notifier, archiver, zl)
	a.enrolls = services.NewEnrollmentService(enrollmentRepo, cfg.StoreTimeout, zl)
	a.reconciler = services.NewReconciler(paymentRepo, engine, cfg.ReconcileStaleAfter, cfg.ReconcileMaxAttempts, cfg.ReconcileBatchSize, zl)
	return a, nil
}

func (a *app) eventPublisher(awsCfg sdkaws.Config, awsErr error) services.EventPublisher {
	switch a.cfg.EventBus {
	case "kafka":
		producer := kafka.NewEventProducer(a.cfg.KafkaBrokers, a.cfg.KafkaTopic, a.logger)
		a.closers = append(a.closers, producer.Close)
		return producer
	case "sns":
		if awsErr != nil || a.cfg.PaymentSNSTopicARN == "" {
			a.logger.Warn("SNS event bus selected but not configured, events disabled")
			return nil
		}
		return services.NewSNSEventPublisher(aws_pkg.NewSNSClient(awsCfg), a.cfg.PaymentSNSTopicARN)
	default:
		return nil
	}
}

func runServe(ctx context.Context) error {
	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg, zl := a.cfg, a.logger

	if cfg.OTLPEndpoint != "" {
		tp, err := monitoring.InitTracer(ctx, cfg.OTLPEndpoint)
		if err != nil {
			zl.Warn("tracing disabled", zap.Error(err))
		} else {
			a.closers = append(a.closers, func() error {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return tp.Shutdown(shutdownCtx)
			})
		}
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(otelgin.Middleware(monitoring.ServiceName))
	r.Use(middleware.RequestLogger(zl))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(middleware.MetricsMiddleware(a.metrics, monitoring.ServiceName))

	var pinger controllers.Pinger
	if sqlDB, err := a.db.DB(); err == nil {
		pinger = sqlDB
	}
	limiter := middleware.NewRateLimiter(middleware.PerMinute(120), 30, 5*time.Minute)
	stopCleanup := make(chan struct{})
	defer close(stopCleanup)
	limiter.StartCleanup(stopCleanup)

	routes.RegisterRoutes(r, routes.Controllers{
		Orders:      controllers.NewOrderController(a.orders),
		Payments:    controllers.NewPaymentController(a.payments),
		Webhooks:    controllers.NewWebhookController(a.payments, zl),
		Enrollments: controllers.NewEnrollmentController(a.enrolls),
		Health:      controllers.NewHealthController(monitoring.ServiceName, cfg.GatewayProvider, cfg.GatewayConfigured(), pinger),
	}, limiter)

	reconcileCtx, stopReconciler := context.WithCancel(ctx)
	reconcilerDone := make(chan struct{})
	go func() {
		defer close(reconcilerDone)
		a.reconciler.Start(reconcileCtx, cfg.ReconcileInterval)
	}()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()
	zl.Info("enrollment service started",
		zap.String("port", cfg.Port),
		zap.String("gateway", cfg.GatewayProvider),
		zap.String("event_bus", cfg.EventBus),
	)

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		stopReconciler()
		<-reconcilerDone
		return err
	}
	zl.Info("shutting down enrollment service")

	stopReconciler()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Error("server forced to shutdown", zap.Error(err))
	}
	<-reconcilerDone
	zl.Info("server exited cleanly")
	return nil
}

func runReconcile(ctx context.Context) error {
	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.reconciler.RunOnce(ctx)
	if err != nil {
		return err
	}
	a.logger.Info("reconcile run finished",
		zap.Int("scanned", report.Scanned),
		zap.Int("completed", report.Completed),
		zap.Int("failed", report.Failed),
		zap.Int("exhausted", report.Exhausted),
	)
	return nil
}
