package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

// EventType определяет тип события checkout-саги.
type EventType string

const (
	// EventTypeCheckoutStarted — координатор зафиксировал заказ и запустил сагу.
	EventTypeCheckoutStarted EventType = "checkout.started"
	// EventTypeStockReserved — складской участник поставил резерв по всем позициям.
	EventTypeStockReserved EventType = "stock.reserved"
	// EventTypeStockReservationFailed — складу не хватило остатков, ничего не списано.
	EventTypeStockReservationFailed EventType = "stock.reservation_failed"
	// EventTypeBalanceReserved — средства клиента списаны под заказ.
	EventTypeBalanceReserved EventType = "balance.reserved"
	// EventTypeBalanceReservationFailed — средств не хватило, баланс не тронут.
	EventTypeBalanceReservationFailed EventType = "balance.reservation_failed"
	// EventTypeOrderConfirmed — оба резерва подтверждены, заказ финализирован.
	EventTypeOrderConfirmed EventType = "order.confirmed"
	// EventTypeStockRestore — компенсация: вернуть списанный остаток товара.
	EventTypeStockRestore EventType = "stock.restore"
	// EventTypeBalanceRestore — компенсация: вернуть списанные средства.
	EventTypeBalanceRestore EventType = "balance.restore"
)

// Topics для Kafka. Ключ сообщения — всегда order id, поэтому события одного
// заказа в рамках топика приходят упорядоченно; порядок МЕЖДУ топиками
// брокер не гарантирует.
const (
	TopicCheckoutStarted          = "shop.checkout.started"
	TopicStockReserved            = "shop.stock.reserved"
	TopicStockReservationFailed   = "shop.stock.reservation_failed"
	TopicBalanceReserved          = "shop.balance.reserved"
	TopicBalanceReservationFailed = "shop.balance.reservation_failed"
	TopicOrderConfirmed           = "shop.order.confirmed"
	TopicStockRestore             = "shop.stock.restore"
	TopicBalanceRestore           = "shop.balance.restore"
	TopicDeadLetterQueue          = "shop.dlq" // Dead Letter Queue для failed messages
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// TopicForEvent возвращает топик для типа события или ошибку для неизвестного типа.
func TopicForEvent(eventType EventType) (string, error) {
	switch eventType {
	case EventTypeCheckoutStarted:
		return TopicCheckoutStarted, nil
	case EventTypeStockReserved:
		return TopicStockReserved, nil
	case EventTypeStockReservationFailed:
		return TopicStockReservationFailed, nil
	case EventTypeBalanceReserved:
		return TopicBalanceReserved, nil
	case EventTypeBalanceReservationFailed:
		return TopicBalanceReservationFailed, nil
	case EventTypeOrderConfirmed:
		return TopicOrderConfirmed, nil
	case EventTypeStockRestore:
		return TopicStockRestore, nil
	case EventTypeBalanceRestore:
		return TopicBalanceRestore, nil
	default:
		return "", fmt.Errorf("no topic mapped for event type %q", eventType)
	}
}

// LineItem — позиция заказа в платёжной нагрузке события.
type LineItem struct {
	ProductID  string `json:"product_id"`
	Qty        int32  `json:"qty"`
	PriceMinor int64  `json:"price_minor"`
}

// CheckoutStartedEvent запускает обоих участников резервирования.
type CheckoutStartedEvent struct {
	OrderID     string     `json:"order_id"`
	CustomerID  string     `json:"customer_id"`
	Items       []LineItem `json:"items"`
	AmountMinor int64      `json:"amount_minor"`
	Timestamp   time.Time  `json:"timestamp"`
}

// StockReservedEvent — успешный исход складского участника.
type StockReservedEvent struct {
	OrderID   string    `json:"order_id"`
	Timestamp time.Time `json:"timestamp"`
}

// StockReservationFailedEvent — отказ склада с причиной.
type StockReservationFailedEvent struct {
	OrderID   string    `json:"order_id"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// BalanceReservedEvent — успешный исход балансового участника.
type BalanceReservedEvent struct {
	OrderID   string    `json:"order_id"`
	Timestamp time.Time `json:"timestamp"`
}

// BalanceReservationFailedEvent — отказ по средствам с причиной.
type BalanceReservationFailedEvent struct {
	OrderID   string    `json:"order_id"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderConfirmedEvent рассылается после финализации заказа: корзина
// очищается, нотификации уходят внешнему коллаборатору.
type OrderConfirmedEvent struct {
	OrderID         string     `json:"order_id"`
	CustomerID      string     `json:"customer_id"`
	Items           []LineItem `json:"items"`
	DeliveryAddress string     `json:"delivery_address"`
	AmountMinor     int64      `json:"amount_minor"`
	Timestamp       time.Time  `json:"timestamp"`
}

// StockRestoreEvent — запрос компенсации склада: fire-and-forget,
// эффект идемпотентен по паре (order id, product id).
type StockRestoreEvent struct {
	OrderID   string    `json:"order_id"`
	ProductID string    `json:"product_id"`
	Qty       int32     `json:"qty"`
	Timestamp time.Time `json:"timestamp"`
}

// BalanceRestoreEvent — запрос компенсации баланса, идемпотентен по order id.
type BalanceRestoreEvent struct {
	OrderID     string    `json:"order_id"`
	CustomerID  string    `json:"customer_id"`
	AmountMinor int64     `json:"amount_minor"`
	Timestamp   time.Time `json:"timestamp"`
}

// ParseCheckoutStarted парсит CheckoutStartedEvent из сообщения.
func ParseCheckoutStarted(message *sarama.ConsumerMessage) (*CheckoutStartedEvent, error) {
	var event CheckoutStartedEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return nil, fmt.Errorf("unmarshal checkout started event: %w", err)
	}
	return &event, nil
}

// ParseStockReserved парсит StockReservedEvent из сообщения.
func ParseStockReserved(message *sarama.ConsumerMessage) (*StockReservedEvent, error) {
	var event StockReservedEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return nil, fmt.Errorf("unmarshal stock reserved event: %w", err)
	}
	return &event, nil
}

// ParseStockReservationFailed парсит StockReservationFailedEvent из сообщения.
func ParseStockReservationFailed(message *sarama.ConsumerMessage) (*StockReservationFailedEvent, error) {
	var event StockReservationFailedEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return nil, fmt.Errorf("unmarshal stock reservation failed event: %w", err)
	}
	return &event, nil
}

// ParseBalanceReserved парсит BalanceReservedEvent из сообщения.
func ParseBalanceReserved(message *sarama.ConsumerMessage) (*BalanceReservedEvent, error) {
	var event BalanceReservedEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return nil, fmt.Errorf("unmarshal balance reserved event: %w", err)
	}
	return &event, nil
}

// ParseBalanceReservationFailed парсит BalanceReservationFailedEvent из сообщения.
func ParseBalanceReservationFailed(message *sarama.ConsumerMessage) (*BalanceReservationFailedEvent, error) {
	var event BalanceReservationFailedEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return nil, fmt.Errorf("unmarshal balance reservation failed event: %w", err)
	}
	return &event, nil
}

// ParseOrderConfirmed парсит OrderConfirmedEvent из сообщения.
func ParseOrderConfirmed(message *sarama.ConsumerMessage) (*OrderConfirmedEvent, error) {
	var event OrderConfirmedEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return nil, fmt.Errorf("unmarshal order confirmed event: %w", err)
	}
	return &event, nil
}

// ParseStockRestore парсит StockRestoreEvent из сообщения.
func ParseStockRestore(message *sarama.ConsumerMessage) (*StockRestoreEvent, error) {
	var event StockRestoreEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return nil, fmt.Errorf("unmarshal stock restore event: %w", err)
	}
	return &event, nil
}

// ParseBalanceRestore парсит BalanceRestoreEvent из сообщения.
func ParseBalanceRestore(message *sarama.ConsumerMessage) (*BalanceRestoreEvent, error) {
	var event BalanceRestoreEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return nil, fmt.Errorf("unmarshal balance restore event: %w", err)
	}
	return &event, nil
}
