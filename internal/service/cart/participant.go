package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/messaging/kafka"
)

// Participant — корзинный участник: очищает корзину покупателя после
// подтверждения заказа. Очистка идемпотентна по идентификатору заказа,
// новая корзина, собранная после подтверждения, не затирается повторной
// доставкой.
type Participant struct {
	carts  domain.CartRepository
	ledger domain.ReservationLedger
	logger *log.Entry
}

// NewParticipant создаёт корзинного участника.
func NewParticipant(carts domain.CartRepository, ledger domain.ReservationLedger, logger *log.Entry) *Participant {
	if logger == nil {
		logger = log.WithField("component", "cart-participant")
	}

	return &Participant{
		carts:  carts,
		ledger: ledger,
		logger: logger,
	}
}

// HandleOrderConfirmed очищает корзину по подтверждённому заказу.
func (p *Participant) HandleOrderConfirmed(event *kafka.OrderConfirmedEvent) error {
	if _, err := p.ledger.Get(domain.LedgerCartRelease, event.OrderID); err == nil {
		p.logger.WithField("order_id", event.OrderID).Debug("duplicate order confirmation, skipping")
		return nil
	} else if !errors.Is(err, domain.ErrLedgerEntryNotFound) {
		return fmt.Errorf("read cart release ledger for order %s: %w", event.OrderID, err)
	}

	if err := p.carts.Clear(event.CustomerID); err != nil {
		return fmt.Errorf("clear cart for order %s: %w", event.OrderID, err)
	}

	entry := domain.LedgerEntry{
		Namespace: domain.LedgerCartRelease,
		Key:       event.OrderID,
		Outcome:   domain.LedgerOutcomeApplied,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := p.ledger.Record(entry); err != nil {
		return fmt.Errorf("record cart release ledger for order %s: %w", event.OrderID, err)
	}

	p.logger.WithFields(log.Fields{
		"order_id":    event.OrderID,
		"customer_id": event.CustomerID,
	}).Info("cart released")

	return nil
}

// MessageHandler возвращает обработчик сообщений корзинного участника.
func (p *Participant) MessageHandler() kafka.MessageHandler {
	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		switch message.Topic {
		case kafka.TopicOrderConfirmed:
			event, err := kafka.ParseOrderConfirmed(message)
			if err != nil {
				return fmt.Errorf("parse order confirmed: %w", err)
			}
			return p.HandleOrderConfirmed(event)

		default:
			p.logger.WithField("topic", message.Topic).Warn("unexpected topic for cart participant")
			return nil
		}
	}
}

// Topics возвращает топики, которые слушает корзинный участник.
func Topics() []string {
	return []string{kafka.TopicOrderConfirmed}
}
