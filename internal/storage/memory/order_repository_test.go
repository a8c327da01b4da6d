package memory

import (
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

func newTestOrder(id, customerID string, createdAt time.Time) domain.Order {
	return domain.Order{
		ID:              id,
		CustomerID:      customerID,
		Status:          domain.OrderStatusPending,
		Currency:        "RUB",
		AmountMinor:     100_000,
		DeliveryAddress: "Москва",
		Items: []domain.OrderItem{
			{ID: id + "-item", ProductID: "keyboard", Qty: 1, PriceMinor: 100_000, CreatedAt: createdAt},
		},
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func TestOrderRepository_CreateAndGet(t *testing.T) {
	t.Parallel()

	repo := NewOrderRepository()
	order := newTestOrder("order-1", "customer-1", time.Now().UTC())

	if err := repo.Create(order); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	got, err := repo.Get("order-1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.CustomerID != "customer-1" || got.Status != domain.OrderStatusPending {
		t.Fatalf("unexpected order: %+v", got)
	}
	if len(got.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(got.Items))
	}

	if err := repo.Create(order); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected ErrOrderVersionConflict on duplicate Create, got %v", err)
	}
}

func TestOrderRepository_GetMissing(t *testing.T) {
	t.Parallel()

	repo := NewOrderRepository()
	if _, err := repo.Get("nope"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderRepository_SaveOptimisticLocking(t *testing.T) {
	t.Parallel()

	repo := NewOrderRepository()
	order := newTestOrder("order-1", "customer-1", time.Now().UTC())
	if err := repo.Create(order); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	// Первое сохранение с актуальной версией проходит и инкрементирует её.
	order.Status = domain.OrderStatusConfirmed
	if err := repo.Save(order); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	got, err := repo.Get("order-1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Version != order.Version+1 {
		t.Fatalf("expected version %d, got %d", order.Version+1, got.Version)
	}
	if got.Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected confirmed, got %s", got.Status)
	}

	// Повторное сохранение с устаревшей версией отклоняется.
	if err := repo.Save(order); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected ErrOrderVersionConflict on stale save, got %v", err)
	}

	missing := newTestOrder("order-2", "customer-1", time.Now().UTC())
	if err := repo.Save(missing); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderRepository_ListByCustomer(t *testing.T) {
	t.Parallel()

	repo := NewOrderRepository()
	base := time.Now().UTC()
	for i, id := range []string{"order-1", "order-2", "order-3"} {
		order := newTestOrder(id, "customer-1", base.Add(time.Duration(i)*time.Minute))
		if err := repo.Create(order); err != nil {
			t.Fatalf("Create(%s) error: %v", id, err)
		}
	}
	if err := repo.Create(newTestOrder("other-1", "customer-2", base)); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	orders, err := repo.ListByCustomer("customer-1", 2)
	if err != nil {
		t.Fatalf("ListByCustomer() error: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(orders))
	}
	// Новые заказы идут первыми.
	if orders[0].ID != "order-3" || orders[1].ID != "order-2" {
		t.Fatalf("unexpected ordering: %s, %s", orders[0].ID, orders[1].ID)
	}
}

func TestOrderRepository_ListPendingBefore(t *testing.T) {
	t.Parallel()

	repo := NewOrderRepository()
	now := time.Now().UTC()

	old := newTestOrder("order-old", "customer-1", now.Add(-time.Hour))
	fresh := newTestOrder("order-fresh", "customer-1", now)
	confirmed := newTestOrder("order-done", "customer-1", now.Add(-2*time.Hour))
	confirmed.Status = domain.OrderStatusConfirmed

	for _, order := range []domain.Order{old, fresh, confirmed} {
		if err := repo.Create(order); err != nil {
			t.Fatalf("Create(%s) error: %v", order.ID, err)
		}
	}

	pending, err := repo.ListPendingBefore(now.Add(-30*time.Minute), 10)
	if err != nil {
		t.Fatalf("ListPendingBefore() error: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "order-old" {
		t.Fatalf("expected only order-old, got %+v", pending)
	}
}
