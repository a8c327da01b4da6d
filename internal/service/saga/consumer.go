package saga

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/messaging/kafka"
)

// OutcomeTopics возвращает топики исходов участников, которые слушает
// координатор.
func OutcomeTopics() []string {
	return []string{
		kafka.TopicStockReserved,
		kafka.TopicStockReservationFailed,
		kafka.TopicBalanceReserved,
		kafka.TopicBalanceReservationFailed,
	}
}

// NewMessageHandler маршрутизирует события-исходы участников в координатор.
// Ошибка парсинга или обработки возвращается консьюмеру: тот выполнит
// ретраи и при исчерпании отправит сообщение в DLQ.
func NewMessageHandler(coordinator Coordinator, logger *log.Entry) kafka.MessageHandler {
	if logger == nil {
		logger = log.WithField("component", "saga-consumer")
	}

	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		switch message.Topic {
		case kafka.TopicStockReserved:
			event, err := kafka.ParseStockReserved(message)
			if err != nil {
				return fmt.Errorf("parse stock reserved: %w", err)
			}
			return coordinator.OnStockReserved(event.OrderID)

		case kafka.TopicStockReservationFailed:
			event, err := kafka.ParseStockReservationFailed(message)
			if err != nil {
				return fmt.Errorf("parse stock reservation failed: %w", err)
			}
			return coordinator.OnStockReservationFailed(event.OrderID, event.Reason)

		case kafka.TopicBalanceReserved:
			event, err := kafka.ParseBalanceReserved(message)
			if err != nil {
				return fmt.Errorf("parse balance reserved: %w", err)
			}
			return coordinator.OnBalanceReserved(event.OrderID)

		case kafka.TopicBalanceReservationFailed:
			event, err := kafka.ParseBalanceReservationFailed(message)
			if err != nil {
				return fmt.Errorf("parse balance reservation failed: %w", err)
			}
			return coordinator.OnBalanceReservationFailed(event.OrderID, event.Reason)

		default:
			logger.WithField("topic", message.Topic).Warn("unexpected topic for saga consumer")
			return nil
		}
	}
}
