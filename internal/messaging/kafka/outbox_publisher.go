package kafka

import (
	"fmt"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// OutboxEventPublisher публикует outbox-сообщения координатора в Kafka,
// выбирая топик по типу события. Payload сообщения публикуется как есть:
// участники парсят его напрямую в типы событий из events.go.
type OutboxEventPublisher struct {
	producer *Producer
}

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
func NewOutboxPublisher(producer *Producer) domain.OutboxPublisher {
	return &OutboxEventPublisher{producer: producer}
}

func (p *OutboxEventPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}

	topic, err := TopicForEvent(EventType(event.EventType))
	if err != nil {
		return fmt.Errorf("route outbox event: %w", err)
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}

	if err := p.producer.PublishEvent(topic, key, rawJSON(event.Payload)); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrOutboxPublish, err)
	}
	return nil
}

// DLQEventPublisher отправляет сообщения, не опубликовавшиеся из outbox,
// в общий DLQ-топик для последующего разбора.
type DLQEventPublisher struct {
	producer *Producer
}

// NewDLQPublisher создаёт паблишер DLQ для outbox-воркера.
func NewDLQPublisher(producer *Producer) domain.OutboxPublisher {
	return &DLQEventPublisher{producer: producer}
}

func (p *DLQEventPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka dlq publisher is not initialized")
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}

	if err := p.producer.PublishEvent(TopicDeadLetterQueue, key, rawJSON(event.Payload)); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrOutboxPublish, err)
	}
	return nil
}

var _ domain.OutboxPublisher = (*DLQEventPublisher)(nil)

// rawJSON отдаёт payload в producer без повторной сериализации.
type rawJSON []byte

func (r rawJSON) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return r, nil
}

var _ domain.OutboxPublisher = (*OutboxEventPublisher)(nil)
