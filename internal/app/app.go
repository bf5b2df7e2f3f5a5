package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	healthcheck "github.com/vladislavdragonenkov/orderproc/internal/health"
	"github.com/vladislavdragonenkov/orderproc/internal/metrics"
	grpcsvc "github.com/vladislavdragonenkov/orderproc/internal/service/grpc"
	"github.com/vladislavdragonenkov/orderproc/internal/service/rest"
	"github.com/vladislavdragonenkov/orderproc/internal/version"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 5 * time.Second
)

// Run поднимает gRPC, REST и служебный HTTP-сервер и блокируется до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	if err := cfg.Validate(); err != nil {
		return err
	}

	kafkaProducer, err := connectKafka(cfg, logger)
	if err != nil {
		logger.WithError(err).Warn("kafka is unavailable, order events are not published")
	}
	defer closeKafka(kafkaProducer, logger)

	deps, err := initRuntimeDependencies(ctx, cfg, kafkaProducer != nil, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	orderProcessor := createProcessor(deps.repo, metrics.NewProcessorMetrics(), logger)

	orderService := grpcsvc.NewOrderService(orderProcessor, deps.repo, logger.WithField("layer", "grpc"))
	grpcServer := newGRPCServer(orderService, logger)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(grpcsvc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("storage", healthcheck.NewStorageChecker(deps.pinger))
	if deps.outboxRepo != nil {
		healthHandler.RegisterChecker("outbox", healthcheck.NewOutboxBacklogChecker(deps.outboxRepo, cfg.OutboxMaxPending, cfg.OutboxMaxAge))
	}

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	restHandler := rest.NewEcho(rest.NewServer(orderProcessor, deps.repo, logger.WithField("layer", "rest")), logger.WithField("layer", "http"))
	restSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: restHandler, ReadHeaderTimeout: readHeaderTimeout}

	var workerCancel context.CancelFunc
	var workerDone chan struct{}
	if worker := createOutboxWorker(cfg, deps.outboxRepo, kafkaProducer, metrics.NewOutboxMetrics(), logger); worker != nil {
		var workerCtx context.Context
		workerCtx, workerCancel = context.WithCancel(ctx)
		workerDone = make(chan struct{})
		go func() {
			defer close(workerDone)
			worker.Run(workerCtx)
		}()
	} else if deps.outboxRepo != nil {
		logger.Warn("outbox publisher is unavailable, events stay pending")
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		shutdownOutboxWorker(workerCancel, workerDone, logger)
		shutdownHTTP(metricsSrv, logger)
		return err
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Infof("gRPC сервер слушает %s", lis.Addr())
		errCh <- grpcServer.Serve(lis)
	}()
	if cfg.HTTPAddr != "" {
		go func() {
			logger.Infof("REST API слушает %s", cfg.HTTPAddr)
			if err := restSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	stopAll := func() {
		healthServer.Shutdown()
		stopGRPC(grpcServer, logger)
		shutdownHTTP(restSrv, logger)
		shutdownHTTP(metricsSrv, logger)
		shutdownOutboxWorker(workerCancel, workerDone, logger)
	}

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем серверы")
		stopAll()
		return ctx.Err()
	case err := <-errCh:
		stopAll()
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}

// newGRPCServer создаёт gRPC сервер с prometheus-интерсепторами и сервисом заказов.
func newGRPCServer(orderService grpcsvc.OrderProcessorServer, logger *log.Entry) *grpc.Server {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))
	grpcsvc.RegisterOrderProcessorServer(grpcServer, orderService)
	grpcMetrics.InitializeMetrics(grpcServer)
	return grpcServer
}

// stopGRPC дожидается завершения активных вызовов, но не дольше shutdownTimeout.
func stopGRPC(grpcServer *grpc.Server, logger *log.Entry) {
	stoppedCh := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stoppedCh)
	}()
	select {
	case <-stoppedCh:
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		grpcServer.Stop()
	}
}

// shutdownOutboxWorker отменяет worker и ждёт выхода из Run.
func shutdownOutboxWorker(cancel context.CancelFunc, done <-chan struct{}, logger *log.Entry) {
	if cancel == nil {
		return
	}
	cancel()
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		logger.Warn("outbox worker did not stop in time")
	}
}

// startMetricsServer запускает служебный HTTP: /metrics, /healthz, /readyz, /livez.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: readHeaderTimeout}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/readyz, %s/livez", addr, addr, addr)
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
