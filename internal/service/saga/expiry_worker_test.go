package saga

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
)

func TestExpiryWorker_RunOnceFailsExpiredOrders(t *testing.T) {
	t.Parallel()

	f := newCoordinatorFixture(t)

	// Просроченный pending-заказ, созданный час назад.
	created := time.Now().UTC().Add(-time.Hour)
	stale := domain.Order{
		ID:              "order-stale",
		CustomerID:      "customer-1",
		Status:          domain.OrderStatusPending,
		Currency:        "RUB",
		AmountMinor:     100,
		DeliveryAddress: "Москва",
		Items:           []domain.OrderItem{{ID: "item-1", ProductID: "keyboard", Qty: 1, PriceMinor: 100, CreatedAt: created}},
		CreatedAt:       created,
		UpdatedAt:       created,
	}
	if err := f.orders.Create(stale); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	worker := NewExpiryWorker(f.coordinator, f.orders, f.outcomes, 10*time.Minute, quietEntry())
	worker.RunOnce(context.Background())

	got := f.mustGetOrder(t, stale.ID)
	if got.Status != domain.OrderStatusFailed {
		t.Fatalf("expected expired order failed, got %s", got.Status)
	}
	if got.FailureReason != expiredReason {
		t.Fatalf("unexpected failure reason: %q", got.FailureReason)
	}
}

func TestExpiryWorker_RunOnceKeepsFreshOrders(t *testing.T) {
	t.Parallel()

	f := newCoordinatorFixture(t)
	order := f.mustCreateOrder(t)

	worker := NewExpiryWorker(f.coordinator, f.orders, f.outcomes, 10*time.Minute, quietEntry())
	worker.RunOnce(context.Background())

	if got := f.mustGetOrder(t, order.ID); got.Status != domain.OrderStatusPending {
		t.Fatalf("fresh order must stay pending, got %s", got.Status)
	}
}

func TestExpiryWorker_RunOncePurgesStaleOutcomes(t *testing.T) {
	t.Parallel()

	f := newCoordinatorFixture(t)

	// Осиротевшая запись исходов от давно провалившейся саги.
	if _, _, err := f.outcomes.MarkStockReserved("order-stale"); err != nil {
		t.Fatalf("MarkStockReserved() error: %v", err)
	}

	worker := NewExpiryWorker(
		f.coordinator,
		f.orders,
		f.outcomes,
		10*time.Minute,
		quietEntry(),
		WithOutcomeRetention(-time.Minute),
	)
	worker.RunOnce(context.Background())

	if _, err := f.outcomes.Get("order-stale"); !errors.Is(err, domain.ErrOutcomeNotFound) {
		t.Fatalf("expected stale outcome purged, got %v", err)
	}
}

func TestExpiryWorker_Options(t *testing.T) {
	t.Parallel()

	worker := NewExpiryWorker(
		newRecordingCoordinator(),
		memory.NewOrderRepository(),
		memory.NewOutcomeRepository(),
		time.Minute,
		quietEntry(),
		WithExpiryInterval(5*time.Second),
		WithExpiryBatchSize(10),
		WithOutcomeRetention(time.Hour),
	)

	if worker.interval != 5*time.Second {
		t.Fatalf("expected interval 5s, got %s", worker.interval)
	}
	if worker.batchSize != 10 {
		t.Fatalf("expected batch size 10, got %d", worker.batchSize)
	}
	if worker.retention != time.Hour {
		t.Fatalf("expected retention 1h, got %s", worker.retention)
	}

	// Невалидные значения опций игнорируются.
	worker = NewExpiryWorker(
		newRecordingCoordinator(),
		memory.NewOrderRepository(),
		memory.NewOutcomeRepository(),
		time.Minute,
		quietEntry(),
		WithExpiryInterval(0),
		WithExpiryBatchSize(-1),
	)
	if worker.interval != defaultExpiryInterval {
		t.Fatalf("expected default interval, got %s", worker.interval)
	}
	if worker.batchSize != defaultExpiryBatchSize {
		t.Fatalf("expected default batch size, got %d", worker.batchSize)
	}
}

func TestExpiryWorker_RunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	worker := NewExpiryWorker(
		newRecordingCoordinator(),
		memory.NewOrderRepository(),
		memory.NewOutcomeRepository(),
		time.Minute,
		quietEntry(),
		WithExpiryInterval(10*time.Millisecond),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		worker.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after context cancel")
	}
}
