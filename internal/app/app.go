// Package app собирает сервис: конфигурация, зависимости, HTTP API, ops-серверы и фоновые воркеры.
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
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthcheck "github.com/vladislavdragonenkov/printshop/internal/health"
	"github.com/vladislavdragonenkov/printshop/internal/httpapi"
	"github.com/vladislavdragonenkov/printshop/internal/metrics"
	"github.com/vladislavdragonenkov/printshop/internal/version"
)

const (
	readHeaderTimeout      = 10 * time.Second
	defaultShutdownTimeout = 5 * time.Second
)

// Run запускает сервис и блокируется до отмены ctx или падения одного из серверов.
func Run(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	logger := log.WithField("component", "app")
	m := metrics.New(prometheus.DefaultRegisterer)

	deps, err := initRuntimeDependencies(ctx, cfg, logger, m)
	if err != nil {
		return err
	}
	defer deps.Close(logger)

	services := buildServices(cfg, deps, logger, m)
	healthHandler := newHealthHandler(deps)

	api := httpapi.NewRouter(httpapi.Config{
		Services:                 services,
		Auth:                     httpapi.NewAuthenticator(cfg.AuthJWTSecret, cfg.AuthJWTIssuer, cfg.OperatorToken),
		PaymentWebhooks:          paymentWebhooks(deps),
		FulfillmentWebhookSecret: cfg.FulfillmentWebhookSecret,
		Dedup:                    deps.dedup,
		Logger:                   logger.WithField("layer", "http"),
		Metrics:                  m,
	})

	apiSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: api, ReadHeaderTimeout: readHeaderTimeout}
	opsSrv := &http.Server{Addr: cfg.OpsAddr, Handler: opsMux(healthHandler), ReadHeaderTimeout: readHeaderTimeout}
	grpcServer, grpcHealth := newGRPCServer(logger)

	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("HTTP API слушает %s", cfg.HTTPAddr)
		return serveHTTP(apiSrv)
	})
	g.Go(func() error {
		logger.Infof("метрики и health checks доступны по адресу %s", cfg.OpsAddr)
		return serveHTTP(opsSrv)
	})
	g.Go(func() error {
		logger.Infof("gRPC сервер слушает %s", cfg.GRPCAddr)
		if err := grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})
	for _, w := range buildWorkers(cfg, deps, logger, m) {
		g.Go(func() error {
			w.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("получен сигнал остановки, останавливаем серверы")
		healthHandler.SetDraining(true)
		grpcHealth.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

		shutdownHTTP(apiSrv, cfg.ShutdownTimeout, logger)
		stopGRPC(grpcServer, cfg.ShutdownTimeout, logger)
		shutdownHTTP(opsSrv, cfg.ShutdownTimeout, logger)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// paymentWebhooks возвращает nil-интерфейс, если секрет не задан: роутер тогда отвечает 503.
func paymentWebhooks(deps *runtimeDependencies) httpapi.PaymentWebhookVerifier {
	if deps.paymentWebhooks == nil {
		return nil
	}
	return deps.paymentWebhooks
}

// newHealthHandler регистрирует проверки: хранилище обязательно, брокер, backlog outbox и Redis деградируют сервис.
func newHealthHandler(deps *runtimeDependencies) *healthcheck.Handler {
	h := healthcheck.NewHandler(version.Current().Version)
	h.RegisterChecker("storage", healthcheck.NewSimpleChecker("storage", deps.store.Ping))
	if deps.producer != nil {
		h.RegisterChecker("kafka", healthcheck.NewOptionalChecker("kafka", deps.producer.Ping))
		// без брокера backlog растёт ожидаемо, отставание имеет смысл только при работающем воркере
		h.RegisterChecker("outbox", healthcheck.NewOutboxBacklogChecker(deps.store.Outbox(), healthcheck.DefaultOutboxMaxLag))
	}
	if deps.redis != nil {
		client := deps.redis
		h.RegisterChecker("redis", healthcheck.NewOptionalChecker("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}))
	}
	return h
}

// opsMux — /metrics для Prometheus и пробы оркестратора.
func opsMux(healthHandler *healthcheck.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	return mux
}

// newGRPCServer поднимает стандартный grpc.health.v1 с метриками и reflection.
func newGRPCServer(logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)
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

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)
	grpcMetrics.InitializeMetrics(grpcServer)

	return grpcServer, healthServer
}

func serveHTTP(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, timeout time.Duration, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).WithField("addr", srv.Addr).Warn("http shutdown with error")
	}
}

// stopGRPC ждёт завершения активных вызовов не дольше timeout.
func stopGRPC(srv *grpc.Server, timeout time.Duration, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(timeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		srv.Stop()
	}
}
