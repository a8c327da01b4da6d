package balance

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

// Participant — балансовый участник саги: списывает сумму заказа со счёта
// покупателя по старту чекаута и возвращает её по компенсации. Обе
// операции идемпотентны за счёт журнала идемпотентности.
type Participant struct {
	balances  domain.BalanceRepository
	ledger    domain.ReservationLedger
	publisher EventPublisher
	logger    *log.Entry
	metrics   *metrics.ParticipantMetrics
}

// NewParticipant создаёт балансового участника.
func NewParticipant(
	balances domain.BalanceRepository,
	ledger domain.ReservationLedger,
	publisher EventPublisher,
	participantMetrics *metrics.ParticipantMetrics,
	logger *log.Entry,
) *Participant {
	if logger == nil {
		logger = log.WithField("component", "balance-participant")
	}

	return &Participant{
		balances:  balances,
		ledger:    ledger,
		publisher: publisher,
		logger:    logger,
		metrics:   participantMetrics,
	}
}

// HandleCheckoutStarted списывает сумму заказа с баланса покупателя.
// Повторная доставка переигрывает записанный исход без повторного списания.
func (p *Participant) HandleCheckoutStarted(event *kafka.CheckoutStartedEvent) error {
	ledgerKey := event.OrderID

	if entry, err := p.ledger.Get(domain.LedgerBalanceCheckout, ledgerKey); err == nil {
		p.logger.WithFields(log.Fields{
			"order_id": event.OrderID,
			"outcome":  entry.Outcome,
		}).Debug("duplicate checkout delivery, replaying recorded outcome")
		return p.emitOutcome(event.OrderID, entry.Outcome == domain.LedgerOutcomeApplied, entry.Reason)
	} else if !errors.Is(err, domain.ErrLedgerEntryNotFound) {
		return fmt.Errorf("read balance ledger for order %s: %w", event.OrderID, err)
	}

	outcome := domain.LedgerOutcomeApplied
	reason := ""
	if err := p.balances.Withdraw(event.CustomerID, event.AmountMinor); err != nil {
		if !domain.IsPrecheckRejection(err) {
			return fmt.Errorf("withdraw balance for order %s: %w", event.OrderID, err)
		}
		outcome = domain.LedgerOutcomeRejected
		reason = err.Error()
	}

	entry := domain.LedgerEntry{
		Namespace: domain.LedgerBalanceCheckout,
		Key:       ledgerKey,
		Outcome:   outcome,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	}
	recorded, err := p.ledger.Record(entry)
	if err != nil {
		return fmt.Errorf("record balance ledger for order %s: %w", event.OrderID, err)
	}
	return p.emitOutcome(event.OrderID, recorded.Outcome == domain.LedgerOutcomeApplied, recorded.Reason)
}

// HandleBalanceRestore возвращает списанную сумму провалившегося заказа.
// Идемпотентен по идентификатору заказа.
func (p *Participant) HandleBalanceRestore(event *kafka.BalanceRestoreEvent) error {
	if _, err := p.ledger.Get(domain.LedgerBalanceRestore, event.OrderID); err == nil {
		p.logger.WithField("order_id", event.OrderID).Debug("duplicate balance restore, skipping")
		return nil
	} else if !errors.Is(err, domain.ErrLedgerEntryNotFound) {
		return fmt.Errorf("read balance restore ledger for order %s: %w", event.OrderID, err)
	}

	if err := p.balances.Deposit(event.CustomerID, event.AmountMinor); err != nil {
		return fmt.Errorf("restore balance for order %s: %w", event.OrderID, err)
	}

	entry := domain.LedgerEntry{
		Namespace: domain.LedgerBalanceRestore,
		Key:       event.OrderID,
		Outcome:   domain.LedgerOutcomeApplied,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := p.ledger.Record(entry); err != nil {
		return fmt.Errorf("record balance restore ledger for order %s: %w", event.OrderID, err)
	}

	if p.metrics != nil {
		p.metrics.RecordRestore("balance")
	}
	p.logger.WithFields(log.Fields{
		"order_id":     event.OrderID,
		"customer_id":  event.CustomerID,
		"amount_minor": event.AmountMinor,
	}).Info("balance restored")

	return nil
}

func (p *Participant) emitOutcome(orderID string, applied bool, reason string) error {
	now := time.Now().UTC()

	if applied {
		event := kafka.BalanceReservedEvent{OrderID: orderID, Timestamp: now}
		if err := p.publisher.PublishEvent(kafka.TopicBalanceReserved, orderID, event); err != nil {
			return fmt.Errorf("publish balance reserved for order %s: %w", orderID, err)
		}
		if p.metrics != nil {
			p.metrics.RecordReservation("balance", "applied")
		}
		p.logger.WithField("order_id", orderID).Info("balance reserved")
		return nil
	}

	event := kafka.BalanceReservationFailedEvent{OrderID: orderID, Reason: reason, Timestamp: now}
	if err := p.publisher.PublishEvent(kafka.TopicBalanceReservationFailed, orderID, event); err != nil {
		return fmt.Errorf("publish balance reservation failure for order %s: %w", orderID, err)
	}
	if p.metrics != nil {
		p.metrics.RecordReservation("balance", "rejected")
	}
	p.logger.WithFields(log.Fields{
		"order_id": orderID,
		"reason":   reason,
	}).Info("balance reservation rejected")
	return nil
}

// MessageHandler возвращает обработчик сообщений балансового участника.
func (p *Participant) MessageHandler() kafka.MessageHandler {
	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		switch message.Topic {
		case kafka.TopicCheckoutStarted:
			event, err := kafka.ParseCheckoutStarted(message)
			if err != nil {
				return fmt.Errorf("parse checkout started: %w", err)
			}
			return p.HandleCheckoutStarted(event)

		case kafka.TopicBalanceRestore:
			event, err := kafka.ParseBalanceRestore(message)
			if err != nil {
				return fmt.Errorf("parse balance restore: %w", err)
			}
			return p.HandleBalanceRestore(event)

		default:
			p.logger.WithField("topic", message.Topic).Warn("unexpected topic for balance participant")
			return nil
		}
	}
}

// Topics возвращает топики, которые слушает балансовый участник.
func Topics() []string {
	return []string{kafka.TopicCheckoutStarted, kafka.TopicBalanceRestore}
}
