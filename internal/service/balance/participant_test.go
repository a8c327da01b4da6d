package balance

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
)

// capturingPublisher собирает опубликованные события.
type capturingPublisher struct {
	published []publishedEvent
}

type publishedEvent struct {
	topic string
	key   string
	event interface{}
}

func (p *capturingPublisher) PublishEvent(topic string, key string, event interface{}) error {
	p.published = append(p.published, publishedEvent{topic: topic, key: key, event: event})
	return nil
}

func (p *capturingPublisher) byTopic(topic string) []publishedEvent {
	var result []publishedEvent
	for _, published := range p.published {
		if published.topic == topic {
			result = append(result, published)
		}
	}
	return result
}

func quietEntry() *log.Entry {
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	return log.NewEntry(logger)
}

func checkoutStarted(orderID string, amountMinor int64) *kafka.CheckoutStartedEvent {
	return &kafka.CheckoutStartedEvent{
		OrderID:     orderID,
		CustomerID:  "customer-1",
		Items:       []kafka.LineItem{{ProductID: "keyboard", Qty: 1, PriceMinor: amountMinor}},
		AmountMinor: amountMinor,
		Timestamp:   time.Now().UTC(),
	}
}

func TestParticipant_HandleCheckoutStarted_Withdraws(t *testing.T) {
	t.Parallel()

	balances := memory.NewBalanceRepository(map[string]int64{"customer-1": 1_000})
	publisher := &capturingPublisher{}
	participant := NewParticipant(balances, memory.NewLedger(), publisher, nil, quietEntry())

	if err := participant.HandleCheckoutStarted(checkoutStarted("order-1", 700)); err != nil {
		t.Fatalf("HandleCheckoutStarted() error: %v", err)
	}

	reserved := publisher.byTopic(kafka.TopicBalanceReserved)
	if len(reserved) != 1 {
		t.Fatalf("expected 1 balance.reserved, got %d", len(reserved))
	}
	if reserved[0].key != "order-1" {
		t.Fatalf("expected message key order-1, got %s", reserved[0].key)
	}

	balance, err := balances.Balance("customer-1")
	if err != nil {
		t.Fatalf("Balance() error: %v", err)
	}
	if balance != 300 {
		t.Fatalf("expected balance 300 after withdraw, got %d", balance)
	}
}

func TestParticipant_HandleCheckoutStarted_InsufficientBalance(t *testing.T) {
	t.Parallel()

	balances := memory.NewBalanceRepository(map[string]int64{"customer-1": 100})
	publisher := &capturingPublisher{}
	participant := NewParticipant(balances, memory.NewLedger(), publisher, nil, quietEntry())

	if err := participant.HandleCheckoutStarted(checkoutStarted("order-1", 700)); err != nil {
		t.Fatalf("HandleCheckoutStarted() error: %v", err)
	}

	failed := publisher.byTopic(kafka.TopicBalanceReservationFailed)
	if len(failed) != 1 {
		t.Fatalf("expected 1 balance.reservation_failed, got %d", len(failed))
	}
	event, ok := failed[0].event.(kafka.BalanceReservationFailedEvent)
	if !ok {
		t.Fatalf("unexpected event type %T", failed[0].event)
	}
	if event.Reason == "" {
		t.Fatal("rejection must carry a reason")
	}

	balance, _ := balances.Balance("customer-1")
	if balance != 100 {
		t.Fatalf("rejected withdraw must not mutate balance, got %d", balance)
	}
}

func TestParticipant_HandleCheckoutStarted_RedeliveryReplaysOutcome(t *testing.T) {
	t.Parallel()

	balances := memory.NewBalanceRepository(map[string]int64{"customer-1": 1_000})
	publisher := &capturingPublisher{}
	participant := NewParticipant(balances, memory.NewLedger(), publisher, nil, quietEntry())

	for i := 0; i < 3; i++ {
		if err := participant.HandleCheckoutStarted(checkoutStarted("order-1", 700)); err != nil {
			t.Fatalf("HandleCheckoutStarted() #%d error: %v", i, err)
		}
	}

	if reserved := publisher.byTopic(kafka.TopicBalanceReserved); len(reserved) != 3 {
		t.Fatalf("expected outcome re-emitted on each delivery, got %d", len(reserved))
	}
	balance, _ := balances.Balance("customer-1")
	if balance != 300 {
		t.Fatalf("redelivery must not re-apply withdraw, got %d", balance)
	}
}

func TestParticipant_HandleBalanceRestore_Idempotent(t *testing.T) {
	t.Parallel()

	balances := memory.NewBalanceRepository(map[string]int64{"customer-1": 300})
	participant := NewParticipant(balances, memory.NewLedger(), &capturingPublisher{}, nil, quietEntry())

	restore := &kafka.BalanceRestoreEvent{
		OrderID:     "order-1",
		CustomerID:  "customer-1",
		AmountMinor: 700,
		Timestamp:   time.Now().UTC(),
	}
	for i := 0; i < 3; i++ {
		if err := participant.HandleBalanceRestore(restore); err != nil {
			t.Fatalf("HandleBalanceRestore() #%d error: %v", i, err)
		}
	}

	balance, _ := balances.Balance("customer-1")
	if balance != 1_000 {
		t.Fatalf("restore must be applied exactly once, got %d", balance)
	}
}

func TestParticipant_MessageHandlerRoutes(t *testing.T) {
	t.Parallel()

	balances := memory.NewBalanceRepository(map[string]int64{"customer-1": 1_000})
	publisher := &capturingPublisher{}
	participant := NewParticipant(balances, memory.NewLedger(), publisher, nil, quietEntry())
	handler := participant.MessageHandler()

	value, err := json.Marshal(checkoutStarted("order-1", 700))
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	message := &sarama.ConsumerMessage{
		Topic: kafka.TopicCheckoutStarted,
		Key:   []byte("order-1"),
		Value: value,
	}
	if err := handler(context.Background(), message); err != nil {
		t.Fatalf("handler() error: %v", err)
	}
	if len(publisher.byTopic(kafka.TopicBalanceReserved)) != 1 {
		t.Fatal("checkout message must produce balance.reserved")
	}

	if err := handler(context.Background(), &sarama.ConsumerMessage{Topic: "shop.unknown"}); err != nil {
		t.Fatalf("unexpected topic must be skipped, got %v", err)
	}

	broken := &sarama.ConsumerMessage{Topic: kafka.TopicBalanceRestore, Value: []byte("not json")}
	if err := handler(context.Background(), broken); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}

func TestTopics(t *testing.T) {
	t.Parallel()

	topics := Topics()
	if len(topics) != 2 {
		t.Fatalf("expected 2 topics, got %d", len(topics))
	}
	if topics[0] != kafka.TopicCheckoutStarted || topics[1] != kafka.TopicBalanceRestore {
		t.Fatalf("unexpected topics: %v", topics)
	}
}
