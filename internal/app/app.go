package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
	"github.com/vladislavdragonenkov/storefront/internal/service/order"
	"github.com/vladislavdragonenkov/storefront/internal/service/outbox"
	"github.com/vladislavdragonenkov/storefront/internal/service/shipping"
	"github.com/vladislavdragonenkov/storefront/internal/transport/httpapi"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

const shutdownTimeout = 5 * time.Second

// Run поднимает хранилище, HTTP API, gRPC health, метрики и фоновые воркеры
// и блокируется до отмены ctx или падения одного из серверов.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	if err := cfg.Validate(); err != nil {
		return err
	}

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.closeFn(); err != nil {
			logger.WithError(err).Warn("failed to close dependencies")
		}
	}()

	orderMetrics := metrics.NewOrderMetrics()
	engineOpts := []order.Option{
		order.WithLogger(logger.WithField("layer", "order")),
		order.WithMetrics(orderMetrics),
		order.WithWarehouse(cfg.WarehouseID),
	}
	if deps.orderCache != nil {
		engineOpts = append(engineOpts, order.WithCache(deps.orderCache))
	}
	engine := order.NewEngine(deps.txm, deps.catalog, engineOpts...)
	reconciler := shipping.NewReconciler(deps.txm, engine,
		shipping.WithLogger(logger.WithField("layer", "shipping")),
		shipping.WithMetrics(orderMetrics),
		shipping.WithEventLog(deps.shippingLog),
	)

	router := httpapi.NewRouter(httpapi.Deps{
		Orders:         engine,
		Webhooks:       reconciler,
		Tokens:         httpapi.NewTokenVerifier(cfg.JWTSecret, cfg.JWTIssuer),
		Idempotency:    deps.idempotencyRepo,
		IdempotencyTTL: cfg.IdempotencyTTL,
		WebhookToken:   cfg.WebhookToken,
		RequestTimeout: cfg.RequestTimeout,
		Logger:         logger.WithField("layer", "http"),
	})

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	deps.registerCheckers(healthHandler)

	apiLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen http: %w", err)
	}
	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		_ = apiLis.Close()
		return fmt.Errorf("listen grpc: %w", err)
	}

	workersCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	workers := startWorkers(workersCtx, cfg, deps, reconciler, logger)

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)
	grpcServer, healthServer := newGRPCServer()

	apiSrv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("HTTP API слушает %s", apiLis.Addr())
		if err := apiSrv.Serve(apiLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http api: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Infof("gRPC сервер слушает %s", grpcLis.Addr())
		if err := grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			logger.Info("получен сигнал остановки, останавливаем серверы")
		}
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		shutdownHTTP(apiSrv, logger)
		stopGRPC(grpcServer, logger)
		return nil
	})

	runErr := g.Wait()
	if runErr != nil {
		logger.WithError(runErr).Error("server failed")
	} else {
		runErr = ctx.Err()
	}

	shutdownHTTP(metricsSrv, logger)
	stopWorkers()
	workers.wait(logger)
	return runErr
}

// backgroundWorkers отслеживает фоновые горутины и consumer.
type backgroundWorkers struct {
	wg       sync.WaitGroup
	consumer *kafka.Consumer
}

func (b *backgroundWorkers) goRun(run func()) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		run()
	}()
}

func (b *backgroundWorkers) wait(logger *log.Entry) {
	if b.consumer != nil {
		if err := b.consumer.Stop(); err != nil {
			logger.WithError(err).Warn("failed to stop carrier consumer")
		}
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		logger.Warn("background workers did not stop in time")
	}
}

// startWorkers запускает outbox relay, очистку ключей идемпотентности и
// consumer событий перевозчиков. Relay и consumer работают только с Kafka.
func startWorkers(ctx context.Context, cfg Config, deps *runtimeDependencies, reconciler *shipping.Reconciler, logger *log.Entry) *backgroundWorkers {
	workers := &backgroundWorkers{}

	if deps.outboxPublisher != nil {
		opts := []outbox.Option{
			outbox.WithLogger(logger.WithField("component", "outbox-worker")),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
		}
		if deps.dlqPublisher != nil {
			opts = append(opts, outbox.WithDLQPublisher(deps.dlqPublisher))
		}
		worker := outbox.NewWorker(deps.outboxRepo, deps.outboxPublisher, opts...)
		workers.goRun(func() { worker.Run(ctx) })
	} else {
		logger.Info("kafka is not configured, outbox relay is disabled")
	}

	cleanup := idempotency.NewCleanupWorker(deps.idempotencyRepo,
		idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup")),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	)
	workers.goRun(func() { cleanup.Run(ctx) })

	consumer, err := initCarrierConsumer(cfg, reconciler, deps.producer, logger)
	if err != nil {
		logger.WithError(err).Warn("carrier consumer is disabled")
		return workers
	}
	if consumer != nil {
		if err := consumer.Start(ctx); err != nil {
			logger.WithError(err).Warn("failed to start carrier consumer")
			_ = consumer.Stop()
			return workers
		}
		workers.consumer = consumer
	}
	return workers
}

// newGRPCServer создаёт gRPC-сервер со стандартным health-сервисом и reflection.
func newGRPCServer() (*grpc.Server, *health.Server) {
	grpcMetrics := metrics.Register(prometheus.DefaultRegisterer, promgrpc.NewServerMetrics())

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)
	grpcMetrics.InitializeMetrics(grpcServer)

	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return grpcServer, healthServer
}

func stopGRPC(srv *grpc.Server, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		srv.Stop()
	}
}

// startMetricsServer запускает /metrics и health-эндпоинты на отдельном адресе.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
