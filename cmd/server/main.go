package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sheikh-saqib/account-ledger/internal/api"
	"github.com/sheikh-saqib/account-ledger/internal/config"
	"github.com/sheikh-saqib/account-ledger/internal/events/kafka"
	"github.com/sheikh-saqib/account-ledger/internal/ledger"
	"github.com/sheikh-saqib/account-ledger/internal/logging"
	promcollector "github.com/sheikh-saqib/account-ledger/internal/metrics/prometheus"
	"github.com/sheikh-saqib/account-ledger/internal/resilience"
	"github.com/sheikh-saqib/account-ledger/internal/storage"
)

const metricsNamespace = "ledger"

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("create logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg config.Config, logger *logging.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	collector := promcollector.NewPrometheusCollector(metricsNamespace)
	if err := collector.Register(registry); err != nil {
		return err
	}
	httpMetrics := api.NewHTTPMetrics(metricsNamespace)
	if err := httpMetrics.Register(registry); err != nil {
		return err
	}

	store, err := storage.Open(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	resilientCfg := cfg.Resilience
	resilientCfg.Name = cfg.Store.Driver
	resilient := resilience.NewResilientStore(store, resilientCfg, collector, logger)
	defer func() {
		if err := resilient.Close(context.Background()); err != nil {
			logger.Warn("failed to close store", zap.Error(err))
		}
	}()

	opts := []ledger.Option{
		ledger.WithLogger(logger),
		ledger.WithMetrics(collector),
		ledger.WithRetryPolicy(cfg.Retry),
	}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher, err := kafka.NewPublisher(cfg.Kafka.Brokers)
		if err != nil {
			return err
		}
		defer func() {
			if err := publisher.Close(); err != nil {
				logger.Warn("failed to close kafka publisher", zap.Error(err))
			}
		}()
		opts = append(opts, ledger.WithPublisher(publisher, cfg.Kafka.Topic))
		logger.Info("publishing ledger events",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic),
		)
	}
	l := ledger.NewLedger(resilient, opts...)

	router := api.NewRouter(api.RouterDependencies{
		Handler:        api.NewHandler(l, resilient, logger),
		Logger:         logger,
		Metrics:        httpMetrics,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("ledger server listening",
			zap.String("addr", cfg.HTTP.Addr),
			zap.String("store", cfg.Store.Driver),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", zap.Duration("timeout", cfg.HTTP.ShutdownTimeout))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
