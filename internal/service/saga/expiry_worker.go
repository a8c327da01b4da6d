package saga

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const (
	defaultExpiryInterval  = 30 * time.Second
	defaultExpiryBatchSize = 100
	expiredReason          = "checkout deadline exceeded"
)

// ExpiryWorker периодически переводит зависшие PENDING-заказы в FAILED
// c компенсацией поставленных резервов и подчищает устаревшие записи
// исходов провалившихся саг.
type ExpiryWorker struct {
	coordinator Coordinator
	orders      domain.OrderRepository
	outcomes    domain.OutcomeRepository

	deadline  time.Duration
	retention time.Duration
	interval  time.Duration
	batchSize int
	logger    *log.Entry
}

// ExpiryOption настраивает воркер дедлайнов.
type ExpiryOption func(*ExpiryWorker)

// WithExpiryInterval задаёт период между проходами воркера.
func WithExpiryInterval(interval time.Duration) ExpiryOption {
	return func(w *ExpiryWorker) {
		if interval > 0 {
			w.interval = interval
		}
	}
}

// WithExpiryBatchSize задаёт размер батча за один проход.
func WithExpiryBatchSize(size int) ExpiryOption {
	return func(w *ExpiryWorker) {
		if size > 0 {
			w.batchSize = size
		}
	}
}

// WithOutcomeRetention задаёт срок хранения записей исходов
// провалившихся саг. Ноль отключает очистку.
func WithOutcomeRetention(retention time.Duration) ExpiryOption {
	return func(w *ExpiryWorker) {
		w.retention = retention
	}
}

// NewExpiryWorker создаёт воркер дедлайнов. deadline — максимальный
// возраст PENDING-заказа до принудительного провала.
func NewExpiryWorker(
	coordinator Coordinator,
	orders domain.OrderRepository,
	outcomes domain.OutcomeRepository,
	deadline time.Duration,
	logger *log.Entry,
	opts ...ExpiryOption,
) *ExpiryWorker {
	if logger == nil {
		logger = log.WithField("component", "expiry-worker")
	}

	worker := &ExpiryWorker{
		coordinator: coordinator,
		orders:      orders,
		outcomes:    outcomes,
		deadline:    deadline,
		interval:    defaultExpiryInterval,
		batchSize:   defaultExpiryBatchSize,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(worker)
	}
	return worker
}

// Run запускает цикл воркера до отмены контекста.
func (w *ExpiryWorker) Run(ctx context.Context) {
	w.logger.WithFields(log.Fields{
		"deadline": w.deadline,
		"interval": w.interval,
	}).Info("expiry worker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("expiry worker stopped")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один проход: проваливает просроченные заказы
// и удаляет устаревшие записи исходов.
func (w *ExpiryWorker) RunOnce(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-w.deadline)

	expired, err := w.orders.ListPendingBefore(cutoff, w.batchSize)
	if err != nil {
		w.logger.WithError(err).Error("failed to list expired orders")
		return
	}

	for _, order := range expired {
		if ctx.Err() != nil {
			return
		}
		if err := w.coordinator.FailTimedOut(order.ID, expiredReason); err != nil {
			w.logger.WithFields(log.Fields{
				"order_id": order.ID,
				"error":    err,
			}).Error("failed to expire order")
		}
	}

	if w.retention > 0 {
		purged, err := w.outcomes.DeleteUpdatedBefore(time.Now().UTC().Add(-w.retention), w.batchSize)
		if err != nil {
			w.logger.WithError(err).Error("failed to purge stale reservation outcomes")
		} else if purged > 0 {
			w.logger.WithField("purged", purged).Debug("stale reservation outcomes purged")
		}
	}
}
