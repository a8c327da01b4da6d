package stock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
)

// EventPublisher публикует событие участника в брокер.
type EventPublisher interface {
	PublishEvent(topic string, key string, event interface{}) error
}

// Participant — складской участник саги: атомарно резервирует позиции
// заказа по событию старта чекаута и возвращает остатки по компенсации.
// Обе операции идемпотентны за счёт журнала идемпотентности.
type Participant struct {
	stocks    domain.StockRepository
	ledger    domain.ReservationLedger
	publisher EventPublisher
	logger    *log.Entry
	metrics   *metrics.ParticipantMetrics
}

// NewParticipant создаёт складского участника.
func NewParticipant(
	stocks domain.StockRepository,
	ledger domain.ReservationLedger,
	publisher EventPublisher,
	participantMetrics *metrics.ParticipantMetrics,
	logger *log.Entry,
) *Participant {
	if logger == nil {
		logger = log.WithField("component", "stock-participant")
	}

	return &Participant{
		stocks:    stocks,
		ledger:    ledger,
		publisher: publisher,
		logger:    logger,
		metrics:   participantMetrics,
	}
}

// HandleCheckoutStarted резервирует все позиции заказа целиком либо ни одной.
// Повторная доставка того же заказа переигрывает записанный исход без
// повторного списания.
func (p *Participant) HandleCheckoutStarted(event *kafka.CheckoutStartedEvent) error {
	ledgerKey := event.OrderID

	if entry, err := p.ledger.Get(domain.LedgerStockCheckout, ledgerKey); err == nil {
		p.logger.WithFields(log.Fields{
			"order_id": event.OrderID,
			"outcome":  entry.Outcome,
		}).Debug("duplicate checkout delivery, replaying recorded outcome")
		return p.emitOutcome(event.OrderID, entry.Outcome == domain.LedgerOutcomeApplied, entry.Reason)
	} else if !errors.Is(err, domain.ErrLedgerEntryNotFound) {
		return fmt.Errorf("read stock ledger for order %s: %w", event.OrderID, err)
	}

	items := make([]domain.OrderItem, 0, len(event.Items))
	for _, line := range event.Items {
		items = append(items, domain.OrderItem{
			ProductID:  line.ProductID,
			Qty:        line.Qty,
			PriceMinor: line.PriceMinor,
		})
	}

	outcome := domain.LedgerOutcomeApplied
	reason := ""
	if err := p.stocks.ReserveItems(items); err != nil {
		if !domain.IsPrecheckRejection(err) {
			return fmt.Errorf("reserve stock for order %s: %w", event.OrderID, err)
		}
		outcome = domain.LedgerOutcomeRejected
		reason = err.Error()
	}

	entry := domain.LedgerEntry{
		Namespace: domain.LedgerStockCheckout,
		Key:       ledgerKey,
		Outcome:   outcome,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	}
	recorded, err := p.ledger.Record(entry)
	if err != nil {
		return fmt.Errorf("record stock ledger for order %s: %w", event.OrderID, err)
	}
	// Конкурентная доставка могла сделать запись первой — её исход
	// авторитетен, наш эффект в этом случае не применялся.
	return p.emitOutcome(event.OrderID, recorded.Outcome == domain.LedgerOutcomeApplied, recorded.Reason)
}

// HandleStockRestore возвращает остаток одной позиции провалившегося
// заказа. Идемпотентен по паре (заказ, товар).
func (p *Participant) HandleStockRestore(event *kafka.StockRestoreEvent) error {
	ledgerKey := domain.LedgerKey(event.OrderID, event.ProductID)

	if _, err := p.ledger.Get(domain.LedgerStockRestore, ledgerKey); err == nil {
		p.logger.WithFields(log.Fields{
			"order_id":   event.OrderID,
			"product_id": event.ProductID,
		}).Debug("duplicate stock restore, skipping")
		return nil
	} else if !errors.Is(err, domain.ErrLedgerEntryNotFound) {
		return fmt.Errorf("read stock restore ledger for order %s: %w", event.OrderID, err)
	}

	if err := p.stocks.Restore(event.ProductID, event.Qty); err != nil {
		return fmt.Errorf("restore stock for order %s product %s: %w", event.OrderID, event.ProductID, err)
	}

	entry := domain.LedgerEntry{
		Namespace: domain.LedgerStockRestore,
		Key:       ledgerKey,
		Outcome:   domain.LedgerOutcomeApplied,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := p.ledger.Record(entry); err != nil {
		return fmt.Errorf("record stock restore ledger for order %s: %w", event.OrderID, err)
	}

	if p.metrics != nil {
		p.metrics.RecordRestore("stock")
	}
	p.logger.WithFields(log.Fields{
		"order_id":   event.OrderID,
		"product_id": event.ProductID,
		"qty":        event.Qty,
	}).Info("stock restored")

	return nil
}

func (p *Participant) emitOutcome(orderID string, applied bool, reason string) error {
	now := time.Now().UTC()

	if applied {
		event := kafka.StockReservedEvent{OrderID: orderID, Timestamp: now}
		if err := p.publisher.PublishEvent(kafka.TopicStockReserved, orderID, event); err != nil {
			return fmt.Errorf("publish stock reserved for order %s: %w", orderID, err)
		}
		if p.metrics != nil {
			p.metrics.RecordReservation("stock", "applied")
		}
		p.logger.WithField("order_id", orderID).Info("stock reserved")
		return nil
	}

	event := kafka.StockReservationFailedEvent{OrderID: orderID, Reason: reason, Timestamp: now}
	if err := p.publisher.PublishEvent(kafka.TopicStockReservationFailed, orderID, event); err != nil {
		return fmt.Errorf("publish stock reservation failure for order %s: %w", orderID, err)
	}
	if p.metrics != nil {
		p.metrics.RecordReservation("stock", "rejected")
	}
	p.logger.WithFields(log.Fields{
		"order_id": orderID,
		"reason":   reason,
	}).Info("stock reservation rejected")
	return nil
}

// MessageHandler возвращает обработчик сообщений складского участника.
func (p *Participant) MessageHandler() kafka.MessageHandler {
	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		switch message.Topic {
		case kafka.TopicCheckoutStarted:
			event, err := kafka.ParseCheckoutStarted(message)
			if err != nil {
				return fmt.Errorf("parse checkout started: %w", err)
			}
			return p.HandleCheckoutStarted(event)

		case kafka.TopicStockRestore:
			event, err := kafka.ParseStockRestore(message)
			if err != nil {
				return fmt.Errorf("parse stock restore: %w", err)
			}
			return p.HandleStockRestore(event)

		default:
			p.logger.WithField("topic", message.Topic).Warn("unexpected topic for stock participant")
			return nil
		}
	}
}

// Topics возвращает топики, которые слушает складской участник.
func Topics() []string {
	return []string{kafka.TopicCheckoutStarted, kafka.TopicStockRestore}
}
