package saga

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
	"github.com/vladislavdragonenkov/checkout/internal/service/precheck"
)

const (
	maxTransitionRetries = 3
	transitionBaseDelay  = 10 * time.Millisecond
	enqueueAttempts      = 3
)

const (
	resourceStock   = "stock"
	resourceBalance = "balance"
)

// errOrderFinalized сигнализирует, что перевод в терминальный статус уже
// выполнен конкурентным обработчиком. Не ошибка для вызывающего кода.
var errOrderFinalized = errors.New("order already finalized")

// Coordinator управляет жизненным циклом checkout-саги: создаёт заказ,
// эмитит стартовое событие и агрегирует исходы участников в единственный
// терминальный переход с компенсацией успешного резерва при провале.
type Coordinator interface {
	CreateOrder(customerID string) (domain.Order, error)
	GetOrder(orderID string) (domain.Order, error)
	ListOrders(customerID string, limit int) ([]domain.Order, error)

	OnStockReserved(orderID string) error
	OnBalanceReserved(orderID string) error
	OnStockReservationFailed(orderID, reason string) error
	OnBalanceReservationFailed(orderID, reason string) error

	FailTimedOut(orderID, reason string) error
}

// Prevalidator — синхронная предварительная проверка чекаута.
type Prevalidator interface {
	Validate(customerID string) (precheck.Intent, error)
}

type coordinator struct {
	orders   domain.OrderRepository
	outcomes domain.OutcomeRepository
	outbox   domain.OutboxRepository
	precheck Prevalidator
	currency string
	logger   *log.Entry
	metrics  *metrics.SagaMetrics
}

var _ Coordinator = (*coordinator)(nil)

// NewCoordinator создаёт координатор саги с метриками.
func NewCoordinator(
	orders domain.OrderRepository,
	outcomes domain.OutcomeRepository,
	outbox domain.OutboxRepository,
	prevalidator Prevalidator,
	currency string,
	sagaMetrics *metrics.SagaMetrics,
	logger *log.Entry,
) Coordinator {
	if logger == nil {
		logger = log.WithField("component", "saga-coordinator")
	}

	return &coordinator{
		orders:   orders,
		outcomes: outcomes,
		outbox:   outbox,
		precheck: prevalidator,
		currency: currency,
		logger:   logger,
		metrics:  sagaMetrics,
	}
}

// CreateOrder валидирует предусловия, создаёт PENDING-заказ и ставит
// стартовое событие саги в outbox. Заказ и событие пишутся в одно
// хранилище, публикацию в брокер выполняет outbox-воркер.
func (c *coordinator) CreateOrder(customerID string) (domain.Order, error) {
	if customerID == "" {
		return domain.Order{}, domain.ErrCustomerRequired
	}

	intent, err := c.precheck.Validate(customerID)
	if err != nil {
		return domain.Order{}, err
	}

	now := time.Now().UTC()
	items := make([]domain.OrderItem, 0, len(intent.Items))
	for _, cartItem := range intent.Items {
		items = append(items, domain.OrderItem{
			ID:         uuid.NewString(),
			ProductID:  cartItem.ProductID,
			Qty:        cartItem.Qty,
			PriceMinor: cartItem.PriceMinor,
			CreatedAt:  now,
		})
	}

	order := domain.Order{
		ID:              uuid.NewString(),
		CustomerID:      customerID,
		Status:          domain.OrderStatusPending,
		Currency:        c.currency,
		AmountMinor:     intent.TotalMinor,
		DeliveryAddress: intent.Address,
		Items:           items,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.Order{}, errors.Join(errs...)
	}

	if err := c.orders.Create(order); err != nil {
		return domain.Order{}, fmt.Errorf("create order: %w", err)
	}

	event := kafka.CheckoutStartedEvent{
		OrderID:     order.ID,
		CustomerID:  order.CustomerID,
		Items:       lineItems(order.Items),
		AmountMinor: order.AmountMinor,
		Timestamp:   now,
	}
	if err := c.enqueueEvent(order.ID, kafka.EventTypeCheckoutStarted, event); err != nil {
		return domain.Order{}, err
	}

	if c.metrics != nil {
		c.metrics.RecordSagaStarted()
	}
	c.logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"customer_id":  order.CustomerID,
		"amount_minor": order.AmountMinor,
		"items":        len(order.Items),
	}).Info("checkout saga started")

	return order, nil
}

// GetOrder возвращает заказ по идентификатору.
func (c *coordinator) GetOrder(orderID string) (domain.Order, error) {
	return c.orders.Get(orderID)
}

// ListOrders возвращает заказы покупателя.
func (c *coordinator) ListOrders(customerID string, limit int) ([]domain.Order, error) {
	if customerID == "" {
		return nil, domain.ErrCustomerRequired
	}
	return c.orders.ListByCustomer(customerID, limit)
}

// OnStockReserved обрабатывает успешный резерв склада.
func (c *coordinator) OnStockReserved(orderID string) error {
	return c.onReserved(orderID, resourceStock)
}

// OnBalanceReserved обрабатывает успешное списание баланса.
func (c *coordinator) OnBalanceReserved(orderID string) error {
	return c.onReserved(orderID, resourceBalance)
}

func (c *coordinator) onReserved(orderID, resource string) error {
	order, err := c.orders.Get(orderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			c.logger.WithFields(log.Fields{
				"order_id": orderID,
				"resource": resource,
			}).Warn("reservation outcome for unknown order, skipping")
			return nil
		}
		return fmt.Errorf("load order %s: %w", orderID, err)
	}

	switch order.Status {
	case domain.OrderStatusPending:
		outcome, _, err := c.markReserved(orderID, resource)
		if err != nil {
			return fmt.Errorf("mark %s reserved for order %s: %w", resource, orderID, err)
		}
		if outcome.Complete() {
			return c.confirmOrder(&order)
		}
		// Пока мы записывали флаг, сага могла провалиться по второму
		// ресурсу: тогда наш резерв осиротел и подлежит откату.
		return c.compensateIfFailed(orderID, resource)

	case domain.OrderStatusFailed:
		// Поздний успех после провала: резерв реально стоит, фиксируем
		// его в записи исходов и откатываем.
		if _, _, err := c.markReserved(orderID, resource); err != nil {
			return fmt.Errorf("mark late %s reservation for order %s: %w", resource, orderID, err)
		}
		return c.emitRestore(order, resource)

	default:
		c.logger.WithFields(log.Fields{
			"order_id": orderID,
			"resource": resource,
			"status":   order.Status,
		}).Debug("duplicate reservation outcome for finalized order")
		return nil
	}
}

// OnStockReservationFailed обрабатывает отказ склада.
func (c *coordinator) OnStockReservationFailed(orderID, reason string) error {
	return c.onReservationFailed(orderID, resourceStock, reason)
}

// OnBalanceReservationFailed обрабатывает отказ по балансу.
func (c *coordinator) OnBalanceReservationFailed(orderID, reason string) error {
	return c.onReservationFailed(orderID, resourceBalance, reason)
}

func (c *coordinator) onReservationFailed(orderID, resource, reason string) error {
	order, err := c.orders.Get(orderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			c.logger.WithFields(log.Fields{
				"order_id": orderID,
				"resource": resource,
			}).Warn("reservation failure for unknown order, skipping")
			return nil
		}
		return fmt.Errorf("load order %s: %w", orderID, err)
	}

	if order.Status != domain.OrderStatusPending {
		c.logger.WithFields(log.Fields{
			"order_id": orderID,
			"resource": resource,
			"status":   order.Status,
		}).Debug("duplicate reservation failure for finalized order")
		return nil
	}

	if err := c.transition(&order, domain.OrderStatusFailed, reason); err != nil {
		if errors.Is(err, errOrderFinalized) {
			return nil
		}
		return err
	}

	if c.metrics != nil {
		c.metrics.RecordSagaFailed()
		c.metrics.ObserveSagaDuration(time.Since(order.CreatedAt))
	}
	c.logger.WithFields(log.Fields{
		"order_id": orderID,
		"resource": resource,
		"reason":   reason,
	}).Info("checkout saga failed")

	// Симметричный ресурс мог успеть зарезервироваться — откатываем его
	// по зафиксированным флагам.
	return c.compensateReserved(order)
}

// FailTimedOut переводит зависший PENDING-заказ в FAILED и компенсирует
// уже поставленные резервы. Вызывается воркером дедлайнов.
func (c *coordinator) FailTimedOut(orderID, reason string) error {
	order, err := c.orders.Get(orderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return nil
		}
		return fmt.Errorf("load order %s: %w", orderID, err)
	}
	if order.Status != domain.OrderStatusPending {
		return nil
	}

	if err := c.transition(&order, domain.OrderStatusFailed, reason); err != nil {
		if errors.Is(err, errOrderFinalized) {
			return nil
		}
		return err
	}

	if c.metrics != nil {
		c.metrics.RecordSagaExpired()
		c.metrics.ObserveSagaDuration(time.Since(order.CreatedAt))
	}
	c.logger.WithFields(log.Fields{
		"order_id": orderID,
		"reason":   reason,
	}).Warn("checkout saga expired")

	return c.compensateReserved(order)
}

func (c *coordinator) markReserved(orderID, resource string) (domain.ReservationOutcome, bool, error) {
	if resource == resourceStock {
		return c.outcomes.MarkStockReserved(orderID)
	}
	return c.outcomes.MarkBalanceReserved(orderID)
}

// compensateIfFailed перечитывает заказ после записи флага резерва
// и откатывает свой ресурс, если сага тем временем провалилась.
func (c *coordinator) compensateIfFailed(orderID, resource string) error {
	fresh, err := c.orders.Get(orderID)
	if err != nil {
		return fmt.Errorf("reload order %s: %w", orderID, err)
	}
	if fresh.Status != domain.OrderStatusFailed {
		return nil
	}
	return c.emitRestore(fresh, resource)
}

// compensateAllIfFailed перечитывает заказ, проигравший гонку за
// подтверждение, и откатывает все зафиксированные резервы, если гонку
// выиграл провал.
func (c *coordinator) compensateAllIfFailed(orderID string) error {
	fresh, err := c.orders.Get(orderID)
	if err != nil {
		return fmt.Errorf("reload order %s: %w", orderID, err)
	}
	if fresh.Status != domain.OrderStatusFailed {
		return nil
	}
	return c.compensateReserved(fresh)
}

// compensateReserved откатывает все ресурсы, отмеченные в записи исходов
// как зарезервированные, для провалившегося заказа.
func (c *coordinator) compensateReserved(order domain.Order) error {
	outcome, err := c.outcomes.Get(order.ID)
	if err != nil {
		if errors.Is(err, domain.ErrOutcomeNotFound) {
			return nil
		}
		return fmt.Errorf("load outcome for order %s: %w", order.ID, err)
	}

	if outcome.StockReserved {
		if err := c.emitRestore(order, resourceStock); err != nil {
			return err
		}
	}
	if outcome.BalanceReserved {
		if err := c.emitRestore(order, resourceBalance); err != nil {
			return err
		}
	}
	return nil
}

// emitRestore эмитит компенсацию ресурса не более одного раза: флаг
// компенсации в записи исходов атомарно отсекает повторные попытки.
func (c *coordinator) emitRestore(order domain.Order, resource string) error {
	var (
		already bool
		err     error
	)
	if resource == resourceStock {
		already, err = c.outcomes.MarkStockCompensated(order.ID)
	} else {
		already, err = c.outcomes.MarkBalanceCompensated(order.ID)
	}
	if err != nil {
		return fmt.Errorf("mark %s compensated for order %s: %w", resource, order.ID, err)
	}
	if already {
		return nil
	}

	now := time.Now().UTC()
	if resource == resourceStock {
		for _, item := range order.Items {
			event := kafka.StockRestoreEvent{
				OrderID:   order.ID,
				ProductID: item.ProductID,
				Qty:       item.Qty,
				Timestamp: now,
			}
			if err := c.enqueueEvent(order.ID, kafka.EventTypeStockRestore, event); err != nil {
				return err
			}
		}
	} else {
		event := kafka.BalanceRestoreEvent{
			OrderID:     order.ID,
			CustomerID:  order.CustomerID,
			AmountMinor: order.AmountMinor,
			Timestamp:   now,
		}
		if err := c.enqueueEvent(order.ID, kafka.EventTypeBalanceRestore, event); err != nil {
			return err
		}
	}

	if c.metrics != nil {
		c.metrics.RecordCompensation(resource)
	}
	c.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"resource": resource,
	}).Info("compensation emitted")

	return nil
}

// confirmOrder переводит заказ в CONFIRMED, эмитит подтверждение
// и удаляет отработавшую запись исходов.
func (c *coordinator) confirmOrder(order *domain.Order) error {
	if err := c.transition(order, domain.OrderStatusConfirmed, ""); err != nil {
		if errors.Is(err, errOrderFinalized) {
			// Пока записывался последний флаг, конкурент (отказ участника
			// или дедлайн) успел провалить заказ. Его компенсация видела
			// только ранние флаги, поэтому откатываем по актуальной записи.
			return c.compensateAllIfFailed(order.ID)
		}
		return err
	}

	event := kafka.OrderConfirmedEvent{
		OrderID:         order.ID,
		CustomerID:      order.CustomerID,
		Items:           lineItems(order.Items),
		DeliveryAddress: order.DeliveryAddress,
		AmountMinor:     order.AmountMinor,
		Timestamp:       order.UpdatedAt,
	}
	if err := c.enqueueEvent(order.ID, kafka.EventTypeOrderConfirmed, event); err != nil {
		return err
	}

	if err := c.outcomes.Delete(order.ID); err != nil && !errors.Is(err, domain.ErrOutcomeNotFound) {
		c.logger.WithFields(log.Fields{
			"order_id": order.ID,
			"error":    err,
		}).Warn("failed to delete reservation outcome")
	}

	if c.metrics != nil {
		c.metrics.RecordSagaConfirmed()
		c.metrics.ObserveSagaDuration(time.Since(order.CreatedAt))
	}
	c.logger.WithFields(log.Fields{
		"order_id":    order.ID,
		"customer_id": order.CustomerID,
	}).Info("checkout saga confirmed")

	return nil
}

// transition выполняет терминальный переход с оптимистичной блокировкой:
// при конфликте версий заказ перечитывается и переход повторяется, если
// конкурент ещё не финализировал заказ.
func (c *coordinator) transition(order *domain.Order, status domain.OrderStatus, reason string) error {
	for attempt := 0; attempt < maxTransitionRetries; attempt++ {
		if order.Status.Terminal() {
			return errOrderFinalized
		}

		prevStatus := order.Status
		prevReason := order.FailureReason
		order.Status = status
		order.FailureReason = reason
		order.UpdatedAt = time.Now().UTC()

		err := c.orders.Save(*order)
		if err == nil {
			order.Version++
			return nil
		}

		order.Status = prevStatus
		order.FailureReason = prevReason

		if domain.IsVersionConflict(err) && attempt < maxTransitionRetries-1 {
			c.logger.WithFields(log.Fields{
				"order_id": order.ID,
				"attempt":  attempt + 1,
			}).Warn("version conflict on terminal transition, retrying")

			fresh, loadErr := c.orders.Get(order.ID)
			if loadErr != nil {
				return fmt.Errorf("reload order %s: %w", order.ID, loadErr)
			}
			*order = fresh

			time.Sleep(transitionBaseDelay << attempt)
			continue
		}

		return fmt.Errorf("save order %s: %w", order.ID, err)
	}

	return domain.ErrOrderVersionConflict
}

// enqueueEvent сериализует событие и ставит его в outbox с ретраями.
func (c *coordinator) enqueueEvent(orderID string, eventType kafka.EventType, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}

	message := domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   orderID,
		EventType:     string(eventType),
		Payload:       data,
	}

	var lastErr error
	for attempt := 0; attempt < enqueueAttempts; attempt++ {
		if _, err := c.outbox.Enqueue(message); err != nil {
			lastErr = err
			continue
		}
		if c.metrics != nil {
			c.metrics.RecordOutboxEnqueued(string(eventType))
		}
		return nil
	}

	return fmt.Errorf("%w: enqueue %s for order %s: %v", domain.ErrOutboxPublish, eventType, orderID, lastErr)
}

func lineItems(items []domain.OrderItem) []kafka.LineItem {
	out := make([]kafka.LineItem, 0, len(items))
	for _, item := range items {
		out = append(out, kafka.LineItem{
			ProductID:  item.ProductID,
			Qty:        item.Qty,
			PriceMinor: item.PriceMinor,
		})
	}
	return out
}
