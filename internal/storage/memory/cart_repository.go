package memory

import (
	"sync"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// cartRepositoryInMemory хранит корзины клиентов.
type cartRepositoryInMemory struct {
	mu    sync.RWMutex
	carts map[string][]domain.CartItem
}

// NewCartRepository создаёт in-memory хранилище корзин.
func NewCartRepository() *cartRepositoryInMemory {
	return &cartRepositoryInMemory{carts: make(map[string][]domain.CartItem)}
}

// Put кладёт позиции в корзину клиента (используется в тестах и dev-режиме).
func (r *cartRepositoryInMemory) Put(customerID string, items ...domain.CartItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.carts[customerID] = append(r.carts[customerID], items...)
}

// Items возвращает копию позиций корзины. Пустая корзина — пустой срез.
func (r *cartRepositoryInMemory) Items(customerID string) ([]domain.CartItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]domain.CartItem(nil), r.carts[customerID]...), nil
}

// TotalMinor возвращает суммарную стоимость корзины в минимальных единицах.
func (r *cartRepositoryInMemory) TotalMinor(customerID string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var total int64
	for _, item := range r.carts[customerID] {
		total += int64(item.Qty) * item.PriceMinor
	}
	return total, nil
}

// Clear удаляет все позиции корзины. Очистка пустой корзины — no-op.
func (r *cartRepositoryInMemory) Clear(customerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.carts, customerID)
	return nil
}

var _ domain.CartRepository = (*cartRepositoryInMemory)(nil)
