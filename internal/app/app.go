package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/checkout/internal/health"
	"github.com/vladislavdragonenkov/checkout/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
	"github.com/vladislavdragonenkov/checkout/internal/service/balance"
	"github.com/vladislavdragonenkov/checkout/internal/service/cart"
	"github.com/vladislavdragonenkov/checkout/internal/service/outbox"
	"github.com/vladislavdragonenkov/checkout/internal/service/precheck"
	"github.com/vladislavdragonenkov/checkout/internal/service/saga"
	"github.com/vladislavdragonenkov/checkout/internal/service/stock"
	"github.com/vladislavdragonenkov/checkout/internal/version"
)

const consumerMaxRetries = 3

// Run собирает все компоненты checkout-сервиса и работает до отмены
// контекста: координатор, три участника, outbox-воркер и HTTP-сервер
// метрик и health-проверок.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	if err := cfg.Validate(); err != nil {
		return err
	}

	deps, err := NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	producer, err := kafka.NewProducer(cfg.KafkaBrokers)
	if err != nil {
		return fmt.Errorf("create kafka producer: %w", err)
	}
	defer func() {
		if err := producer.Close(); err != nil {
			logger.WithError(err).Warn("failed to close kafka producer")
		}
	}()
	logger.WithField("brokers", cfg.KafkaBrokers).Info("kafka producer initialized")

	sagaMetrics := metrics.NewSagaMetrics()
	participantMetrics := metrics.NewParticipantMetrics()

	validator := precheck.NewValidator(
		deps.Customers, deps.Carts, deps.Stocks, deps.Balances,
		logger.WithField("component", "precheck"),
	)
	coordinator := saga.NewCoordinator(
		deps.Orders, deps.Outcomes, deps.Outbox,
		validator, cfg.DefaultCurrency, sagaMetrics,
		logger.WithField("component", "saga-coordinator"),
	)

	stockParticipant := stock.NewParticipant(
		deps.Stocks, deps.Ledger, producer, participantMetrics,
		logger.WithField("component", "stock-participant"),
	)
	balanceParticipant := balance.NewParticipant(
		deps.Balances, deps.Ledger, producer, participantMetrics,
		logger.WithField("component", "balance-participant"),
	)
	cartParticipant := cart.NewParticipant(
		deps.Carts, deps.Ledger,
		logger.WithField("component", "cart-participant"),
	)

	consumers, err := startConsumers(ctx, cfg, logger, []consumerSpec{
		{group: GroupCoordinator, topics: saga.OutcomeTopics(), handler: saga.NewMessageHandler(coordinator, nil)},
		{group: GroupStock, topics: stock.Topics(), handler: stockParticipant.MessageHandler()},
		{group: GroupBalance, topics: balance.Topics(), handler: balanceParticipant.MessageHandler()},
		{group: GroupCart, topics: cart.Topics(), handler: cartParticipant.MessageHandler()},
	}, producer)
	if err != nil {
		return err
	}
	defer stopConsumers(consumers, logger)

	var workers sync.WaitGroup

	outboxWorker := outbox.NewWorker(
		deps.Outbox,
		kafka.NewOutboxPublisher(producer),
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithDLQPublisher(kafka.NewDLQPublisher(producer)),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	)
	workers.Add(1)
	go func() {
		defer workers.Done()
		outboxWorker.Run(ctx)
	}()

	if cfg.PendingDeadline > 0 {
		expiryWorker := saga.NewExpiryWorker(
			coordinator, deps.Orders, deps.Outcomes, cfg.PendingDeadline,
			logger.WithField("component", "expiry-worker"),
			saga.WithExpiryInterval(cfg.ExpiryInterval),
			saga.WithOutcomeRetention(cfg.OutcomeRetention),
		)
		workers.Add(1)
		go func() {
			defer workers.Done()
			expiryWorker.Run(ctx)
		}()
	}

	healthHandler := healthcheck.NewHandler(version.String())
	deps.RegisterHealthCheckers(healthHandler)
	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	logger.Info("checkout service started")
	<-ctx.Done()
	logger.Info("shutdown signal received, stopping checkout service")

	workers.Wait()
	shutdownHTTP(metricsSrv, logger)

	return ctx.Err()
}

type consumerSpec struct {
	group   string
	topics  []string
	handler kafka.MessageHandler
}

func startConsumers(
	ctx context.Context,
	cfg Config,
	logger *log.Entry,
	specs []consumerSpec,
	dlqProducer *kafka.Producer,
) ([]*kafka.Consumer, error) {
	consumers := make([]*kafka.Consumer, 0, len(specs))
	for _, spec := range specs {
		consumer, err := kafka.NewConsumerWithDLQ(
			cfg.KafkaBrokers, spec.group, spec.topics, spec.handler,
			dlqProducer, consumerMaxRetries,
		)
		if err != nil {
			stopConsumers(consumers, logger)
			return nil, fmt.Errorf("create consumer group %s: %w", spec.group, err)
		}

		if err := consumer.Start(ctx); err != nil {
			stopConsumers(consumers, logger)
			_ = consumer.Stop()
			return nil, fmt.Errorf("start consumer group %s: %w", spec.group, err)
		}

		logger.WithFields(log.Fields{
			"group":  spec.group,
			"topics": spec.topics,
		}).Info("kafka consumer started")
		consumers = append(consumers, consumer)
	}

	return consumers, nil
}

func stopConsumers(consumers []*kafka.Consumer, logger *log.Entry) {
	for _, consumer := range consumers {
		if err := consumer.Stop(); err != nil {
			logger.WithError(err).Warn("failed to stop kafka consumer")
		}
	}
}

// startMetricsServer запускает HTTP-обработчик /metrics для Prometheus.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez, %s/readyz", addr, addr, addr)
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
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("metrics shutdown with error")
	}
}
