package saga

import (
	"encoding/json"
	"errors"
	"testing"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/checkout/internal/service/precheck"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
)

// stubPrevalidator возвращает заранее заданный intent или ошибку.
type stubPrevalidator struct {
	intent precheck.Intent
	err    error
}

func (s *stubPrevalidator) Validate(customerID string) (precheck.Intent, error) {
	if s.err != nil {
		return precheck.Intent{}, s.err
	}
	return s.intent, nil
}

type coordinatorFixture struct {
	coordinator Coordinator
	orders      domain.OrderRepository
	outcomes    domain.OutcomeRepository
	outbox      *outboxRecorder
}

// outboxRecorder — обёртка над in-memory outbox с доступом к списку pending.
type outboxRecorder struct {
	inner interface {
		domain.OutboxRepository
		AllPending() []domain.OutboxMessage
	}
}

func (r *outboxRecorder) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	return r.inner.Enqueue(msg)
}
func (r *outboxRecorder) PullPending(limit int) ([]domain.OutboxMessage, error) {
	return r.inner.PullPending(limit)
}
func (r *outboxRecorder) Stats() (domain.OutboxStats, error) { return r.inner.Stats() }
func (r *outboxRecorder) MarkSent(id string) error           { return r.inner.MarkSent(id) }
func (r *outboxRecorder) MarkFailed(id string) error         { return r.inner.MarkFailed(id) }

func (r *outboxRecorder) byType(eventType kafka.EventType) []domain.OutboxMessage {
	var result []domain.OutboxMessage
	for _, msg := range r.inner.AllPending() {
		if msg.EventType == string(eventType) {
			result = append(result, msg)
		}
	}
	return result
}

func newCoordinatorFixture(t *testing.T) *coordinatorFixture {
	t.Helper()

	outbox := &outboxRecorder{inner: memory.NewOutboxRepository()}
	orders := memory.NewOrderRepository()
	outcomes := memory.NewOutcomeRepository()

	prevalidator := &stubPrevalidator{
		intent: precheck.Intent{
			Address: "Москва, ул. Ленина, д. 3",
			Items: []domain.CartItem{
				{ProductID: "keyboard", Qty: 1, PriceMinor: 450_000},
				{ProductID: "mouse", Qty: 2, PriceMinor: 120_000},
			},
			TotalMinor: 690_000,
		},
	}

	logger := log.New()
	logger.SetLevel(log.PanicLevel)

	return &coordinatorFixture{
		coordinator: NewCoordinator(orders, outcomes, outbox, prevalidator, "RUB", nil, log.NewEntry(logger)),
		orders:      orders,
		outcomes:    outcomes,
		outbox:      outbox,
	}
}

func (f *coordinatorFixture) mustCreateOrder(t *testing.T) domain.Order {
	t.Helper()

	order, err := f.coordinator.CreateOrder("customer-1")
	if err != nil {
		t.Fatalf("CreateOrder() error: %v", err)
	}
	return order
}

func (f *coordinatorFixture) mustGetOrder(t *testing.T, orderID string) domain.Order {
	t.Helper()

	order, err := f.orders.Get(orderID)
	if err != nil {
		t.Fatalf("Get(%s) error: %v", orderID, err)
	}
	return order
}

func TestCoordinator_CreateOrder(t *testing.T) {
	t.Parallel()

	f := newCoordinatorFixture(t)
	order := f.mustCreateOrder(t)

	if order.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending, got %s", order.Status)
	}
	if order.AmountMinor != 690_000 {
		t.Fatalf("expected amount 690000, got %d", order.AmountMinor)
	}
	if len(order.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(order.Items))
	}

	started := f.outbox.byType(kafka.EventTypeCheckoutStarted)
	if len(started) != 1 {
		t.Fatalf("expected 1 checkout.started in outbox, got %d", len(started))
	}

	var event kafka.CheckoutStartedEvent
	if err := json.Unmarshal(started[0].Payload, &event); err != nil {
		t.Fatalf("unmarshal checkout.started payload: %v", err)
	}
	if event.OrderID != order.ID || event.CustomerID != "customer-1" {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.AmountMinor != 690_000 || len(event.Items) != 2 {
		t.Fatalf("unexpected event contents: %+v", event)
	}
}

func TestCoordinator_CreateOrder_PrecheckRejection(t *testing.T) {
	t.Parallel()

	outbox := &outboxRecorder{inner: memory.NewOutboxRepository()}
	prevalidator := &stubPrevalidator{err: domain.ErrEmptyCart}

	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	coordinator := NewCoordinator(
		memory.NewOrderRepository(),
		memory.NewOutcomeRepository(),
		outbox,
		prevalidator,
		"RUB",
		nil,
		log.NewEntry(logger),
	)

	if _, err := coordinator.CreateOrder("customer-1"); !errors.Is(err, domain.ErrEmptyCart) {
		t.Fatalf("expected ErrEmptyCart, got %v", err)
	}
	if pending := outbox.byType(kafka.EventTypeCheckoutStarted); len(pending) != 0 {
		t.Fatalf("rejected checkout must not emit events, got %d", len(pending))
	}
}

func TestCoordinator_CreateOrder_EmptyCustomer(t *testing.T) {
	t.Parallel()

	f := newCoordinatorFixture(t)
	if _, err := f.coordinator.CreateOrder(""); !errors.Is(err, domain.ErrCustomerRequired) {
		t.Fatalf("expected ErrCustomerRequired, got %v", err)
	}
}

func TestCoordinator_BothReservedConfirmsOrder(t *testing.T) {
	t.Parallel()

	f := newCoordinatorFixture(t)
	order := f.mustCreateOrder(t)

	if err := f.coordinator.OnStockReserved(order.ID); err != nil {
		t.Fatalf("OnStockReserved() error: %v", err)
	}
	// После первого исхода заказ всё ещё pending.
	if got := f.mustGetOrder(t, order.ID); got.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending after single outcome, got %s", got.Status)
	}

	if err := f.coordinator.OnBalanceReserved(order.ID); err != nil {
		t.Fatalf("OnBalanceReserved() error: %v", err)
	}

	got := f.mustGetOrder(t, order.ID)
	if got.Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected confirmed, got %s", got.Status)
	}

	confirmed := f.outbox.byType(kafka.EventTypeOrderConfirmed)
	if len(confirmed) != 1 {
		t.Fatalf("expected 1 order.confirmed, got %d", len(confirmed))
	}
	var event kafka.OrderConfirmedEvent
	if err := json.Unmarshal(confirmed[0].Payload, &event); err != nil {
		t.Fatalf("unmarshal order.confirmed payload: %v", err)
	}
	if event.DeliveryAddress == "" || event.OrderID != order.ID {
		t.Fatalf("unexpected event: %+v", event)
	}

	// Запись исходов подчищена после подтверждения.
	if _, err := f.outcomes.Get(order.ID); !errors.Is(err, domain.ErrOutcomeNotFound) {
		t.Fatalf("expected outcome record deleted, got %v", err)
	}
}

func TestCoordinator_DuplicateOutcomesAreIdempotent(t *testing.T) {
	t.Parallel()

	f := newCoordinatorFixture(t)
	order := f.mustCreateOrder(t)

	for i := 0; i < 3; i++ {
		if err := f.coordinator.OnStockReserved(order.ID); err != nil {
			t.Fatalf("OnStockReserved() #%d error: %v", i, err)
		}
	}
	if err := f.coordinator.OnBalanceReserved(order.ID); err != nil {
		t.Fatalf("OnBalanceReserved() error: %v", err)
	}
	// Повторные доставки после финализации игнорируются.
	if err := f.coordinator.OnBalanceReserved(order.ID); err != nil {
		t.Fatalf("duplicate OnBalanceReserved() error: %v", err)
	}
	if err := f.coordinator.OnStockReserved(order.ID); err != nil {
		t.Fatalf("duplicate OnStockReserved() error: %v", err)
	}

	if confirmed := f.outbox.byType(kafka.EventTypeOrderConfirmed); len(confirmed) != 1 {
		t.Fatalf("expected exactly 1 order.confirmed, got %d", len(confirmed))
	}
}

func TestCoordinator_FailureCompensatesReservedSibling(t *testing.T) {
	t.Parallel()

	f := newCoordinatorFixture(t)
	order := f.mustCreateOrder(t)

	if err := f.coordinator.OnBalanceReserved(order.ID); err != nil {
		t.Fatalf("OnBalanceReserved() error: %v", err)
	}
	if err := f.coordinator.OnStockReservationFailed(order.ID, "insufficient stock"); err != nil {
		t.Fatalf("OnStockReservationFailed() error: %v", err)
	}

	got := f.mustGetOrder(t, order.ID)
	if got.Status != domain.OrderStatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if got.FailureReason != "insufficient stock" {
		t.Fatalf("expected failure reason recorded, got %q", got.FailureReason)
	}

	// Откатывается только успевший зарезервироваться баланс.
	if restores := f.outbox.byType(kafka.EventTypeBalanceRestore); len(restores) != 1 {
		t.Fatalf("expected 1 balance.restore, got %d", len(restores))
	}
	if restores := f.outbox.byType(kafka.EventTypeStockRestore); len(restores) != 0 {
		t.Fatalf("stock was not reserved, expected 0 stock.restore, got %d", len(restores))
	}

	// Повторная доставка отказа не порождает вторую компенсацию.
	if err := f.coordinator.OnStockReservationFailed(order.ID, "insufficient stock"); err != nil {
		t.Fatalf("duplicate OnStockReservationFailed() error: %v", err)
	}
	if restores := f.outbox.byType(kafka.EventTypeBalanceRestore); len(restores) != 1 {
		t.Fatalf("compensation must be emitted at most once, got %d", len(restores))
	}
}

func TestCoordinator_FailureWithoutReservationsEmitsNoCompensation(t *testing.T) {
	t.Parallel()

	f := newCoordinatorFixture(t)
	order := f.mustCreateOrder(t)

	if err := f.coordinator.OnBalanceReservationFailed(order.ID, "insufficient balance"); err != nil {
		t.Fatalf("OnBalanceReservationFailed() error: %v", err)
	}

	if got := f.mustGetOrder(t, order.ID); got.Status != domain.OrderStatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if restores := f.outbox.byType(kafka.EventTypeStockRestore); len(restores) != 0 {
		t.Fatalf("expected no stock.restore, got %d", len(restores))
	}
	if restores := f.outbox.byType(kafka.EventTypeBalanceRestore); len(restores) != 0 {
		t.Fatalf("expected no balance.restore, got %d", len(restores))
	}
}

func TestCoordinator_LateReservationAfterFailureIsCompensated(t *testing.T) {
	t.Parallel()

	f := newCoordinatorFixture(t)
	order := f.mustCreateOrder(t)

	// Баланс отказал, сага провалилась до прихода исхода склада.
	if err := f.coordinator.OnBalanceReservationFailed(order.ID, "insufficient balance"); err != nil {
		t.Fatalf("OnBalanceReservationFailed() error: %v", err)
	}

	// Поздний успех склада: резерв реально стоит и подлежит откату по позициям.
	if err := f.coordinator.OnStockReserved(order.ID); err != nil {
		t.Fatalf("late OnStockReserved() error: %v", err)
	}

	restores := f.outbox.byType(kafka.EventTypeStockRestore)
	if len(restores) != len(order.Items) {
		t.Fatalf("expected %d stock.restore events, got %d", len(order.Items), len(restores))
	}
	var event kafka.StockRestoreEvent
	if err := json.Unmarshal(restores[0].Payload, &event); err != nil {
		t.Fatalf("unmarshal stock.restore payload: %v", err)
	}
	if event.OrderID != order.ID || event.ProductID == "" || event.Qty <= 0 {
		t.Fatalf("unexpected restore event: %+v", event)
	}

	// Повторная доставка позднего успеха не даёт второго отката.
	if err := f.coordinator.OnStockReserved(order.ID); err != nil {
		t.Fatalf("duplicate late OnStockReserved() error: %v", err)
	}
	if restores := f.outbox.byType(kafka.EventTypeStockRestore); len(restores) != len(order.Items) {
		t.Fatalf("late compensation must be emitted at most once, got %d", len(restores))
	}
}

func TestCoordinator_OutcomeForUnknownOrderIsSkipped(t *testing.T) {
	t.Parallel()

	f := newCoordinatorFixture(t)

	if err := f.coordinator.OnStockReserved("ghost"); err != nil {
		t.Fatalf("OnStockReserved() for unknown order must be skipped, got %v", err)
	}
	if err := f.coordinator.OnBalanceReservationFailed("ghost", "whatever"); err != nil {
		t.Fatalf("OnBalanceReservationFailed() for unknown order must be skipped, got %v", err)
	}
}

func TestCoordinator_FailTimedOut(t *testing.T) {
	t.Parallel()

	f := newCoordinatorFixture(t)
	order := f.mustCreateOrder(t)

	// Один резерв успел встать до истечения дедлайна.
	if err := f.coordinator.OnStockReserved(order.ID); err != nil {
		t.Fatalf("OnStockReserved() error: %v", err)
	}

	if err := f.coordinator.FailTimedOut(order.ID, "checkout deadline exceeded"); err != nil {
		t.Fatalf("FailTimedOut() error: %v", err)
	}

	got := f.mustGetOrder(t, order.ID)
	if got.Status != domain.OrderStatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if got.FailureReason != "checkout deadline exceeded" {
		t.Fatalf("unexpected failure reason: %q", got.FailureReason)
	}
	if restores := f.outbox.byType(kafka.EventTypeStockRestore); len(restores) != len(order.Items) {
		t.Fatalf("expected %d stock.restore events, got %d", len(order.Items), len(restores))
	}

	// Повторный вызов для финализированного заказа — no-op.
	if err := f.coordinator.FailTimedOut(order.ID, "checkout deadline exceeded"); err != nil {
		t.Fatalf("duplicate FailTimedOut() error: %v", err)
	}
	if restores := f.outbox.byType(kafka.EventTypeStockRestore); len(restores) != len(order.Items) {
		t.Fatalf("duplicate FailTimedOut must not re-emit compensation, got %d", len(restores))
	}
}

// expiringOutcomeRepository проваливает заказ по дедлайну ровно в момент
// записи флага баланса — между загрузкой заказа обработчиком и фиксацией
// резерва, как при гонке обработчика исходов с воркером дедлайнов.
type expiringOutcomeRepository struct {
	domain.OutcomeRepository
	coordinator Coordinator
	fired       bool
	failErr     error
}

func (r *expiringOutcomeRepository) MarkBalanceReserved(orderID string) (domain.ReservationOutcome, bool, error) {
	if !r.fired {
		r.fired = true
		r.failErr = r.coordinator.FailTimedOut(orderID, "checkout deadline exceeded")
	}
	return r.OutcomeRepository.MarkBalanceReserved(orderID)
}

func TestCoordinator_ReservationRacingDeadlineIsCompensated(t *testing.T) {
	t.Parallel()

	outcomes := &expiringOutcomeRepository{OutcomeRepository: memory.NewOutcomeRepository()}
	outbox := &outboxRecorder{inner: memory.NewOutboxRepository()}
	orders := memory.NewOrderRepository()
	prevalidator := &stubPrevalidator{
		intent: precheck.Intent{
			Address: "Москва, ул. Ленина, д. 3",
			Items: []domain.CartItem{
				{ProductID: "keyboard", Qty: 1, PriceMinor: 450_000},
				{ProductID: "mouse", Qty: 2, PriceMinor: 120_000},
			},
			TotalMinor: 690_000,
		},
	}

	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	coordinator := NewCoordinator(orders, outcomes, outbox, prevalidator, "RUB", nil, log.NewEntry(logger))
	outcomes.coordinator = coordinator

	order, err := coordinator.CreateOrder("customer-1")
	if err != nil {
		t.Fatalf("CreateOrder() error: %v", err)
	}

	if err := coordinator.OnStockReserved(order.ID); err != nil {
		t.Fatalf("OnStockReserved() error: %v", err)
	}

	// Дедлайн срабатывает внутри обработки исхода баланса: воркер видит
	// только флаг склада и компенсирует его, флаг баланса ложится уже
	// в провалившийся заказ.
	if err := coordinator.OnBalanceReserved(order.ID); err != nil {
		t.Fatalf("OnBalanceReserved() error: %v", err)
	}
	if outcomes.failErr != nil {
		t.Fatalf("FailTimedOut() error: %v", outcomes.failErr)
	}

	got, err := orders.Get(order.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Status != domain.OrderStatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}

	if confirmed := outbox.byType(kafka.EventTypeOrderConfirmed); len(confirmed) != 0 {
		t.Fatalf("failed order must not be confirmed, got %d order.confirmed", len(confirmed))
	}
	if restores := outbox.byType(kafka.EventTypeStockRestore); len(restores) != len(order.Items) {
		t.Fatalf("expected %d stock.restore events, got %d", len(order.Items), len(restores))
	}
	// Поздний флаг баланса тоже откатывается, резерв не зависает.
	if restores := outbox.byType(kafka.EventTypeBalanceRestore); len(restores) != 1 {
		t.Fatalf("expected 1 balance.restore, got %d", len(restores))
	}

	// Повторная доставка исхода для провалившегося заказа не даёт
	// второй компенсации.
	if err := coordinator.OnBalanceReserved(order.ID); err != nil {
		t.Fatalf("duplicate OnBalanceReserved() error: %v", err)
	}
	if restores := outbox.byType(kafka.EventTypeBalanceRestore); len(restores) != 1 {
		t.Fatalf("compensation must be emitted at most once, got %d", len(restores))
	}
}

func TestCoordinator_FailTimedOut_UnknownOrder(t *testing.T) {
	t.Parallel()

	f := newCoordinatorFixture(t)
	if err := f.coordinator.FailTimedOut("ghost", "checkout deadline exceeded"); err != nil {
		t.Fatalf("FailTimedOut() for unknown order must be no-op, got %v", err)
	}
}

func TestCoordinator_GetAndListOrders(t *testing.T) {
	t.Parallel()

	f := newCoordinatorFixture(t)
	order := f.mustCreateOrder(t)

	got, err := f.coordinator.GetOrder(order.ID)
	if err != nil {
		t.Fatalf("GetOrder() error: %v", err)
	}
	if got.ID != order.ID {
		t.Fatalf("unexpected order: %+v", got)
	}

	orders, err := f.coordinator.ListOrders("customer-1", 10)
	if err != nil {
		t.Fatalf("ListOrders() error: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("expected 1 order, got %d", len(orders))
	}

	if _, err := f.coordinator.ListOrders("", 10); !errors.Is(err, domain.ErrCustomerRequired) {
		t.Fatalf("expected ErrCustomerRequired, got %v", err)
	}
}

// flakyOrderRepository подсовывает конфликт версий на первых n сохранениях.
type flakyOrderRepository struct {
	domain.OrderRepository
	conflicts int
}

func (r *flakyOrderRepository) Save(order domain.Order) error {
	if r.conflicts > 0 {
		r.conflicts--
		return domain.ErrOrderVersionConflict
	}
	return r.OrderRepository.Save(order)
}

func TestCoordinator_TransitionRetriesOnVersionConflict(t *testing.T) {
	t.Parallel()

	orders := &flakyOrderRepository{OrderRepository: memory.NewOrderRepository(), conflicts: 2}
	outbox := &outboxRecorder{inner: memory.NewOutboxRepository()}
	prevalidator := &stubPrevalidator{
		intent: precheck.Intent{
			Address:    "Москва",
			Items:      []domain.CartItem{{ProductID: "keyboard", Qty: 1, PriceMinor: 100}},
			TotalMinor: 100,
		},
	}

	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	coordinator := NewCoordinator(orders, memory.NewOutcomeRepository(), outbox, prevalidator, "RUB", nil, log.NewEntry(logger))

	order, err := coordinator.CreateOrder("customer-1")
	if err != nil {
		t.Fatalf("CreateOrder() error: %v", err)
	}

	if err := coordinator.OnStockReserved(order.ID); err != nil {
		t.Fatalf("OnStockReserved() error: %v", err)
	}
	if err := coordinator.OnBalanceReserved(order.ID); err != nil {
		t.Fatalf("OnBalanceReserved() error: %v", err)
	}

	got, err := orders.Get(order.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected confirmed after retries, got %s", got.Status)
	}
}
