package memory

import (
	"fmt"
	"sync"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// stockRepositoryInMemory хранит остатки товаров.
// Проверка и списание выполняются под одним мьютексом, поэтому остаток
// не может уйти в минус даже при конкурентных заказах на один товар.
type stockRepositoryInMemory struct {
	mu         sync.Mutex
	quantities map[string]int32
}

// NewStockRepository создаёт in-memory склад с начальными остатками.
func NewStockRepository(initial map[string]int32) domain.StockRepository {
	quantities := make(map[string]int32, len(initial))
	for id, qty := range initial {
		quantities[id] = qty
	}
	return &stockRepositoryInMemory{quantities: quantities}
}

// QuantityByProducts возвращает остатки по запрошенным товарам.
// Неизвестные товары в ответ не попадают.
func (r *stockRepositoryInMemory) QuantityByProducts(productIDs []string) (map[string]int32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make(map[string]int32, len(productIDs))
	for _, id := range productIDs {
		if qty, ok := r.quantities[id]; ok {
			result[id] = qty
		}
	}
	return result, nil
}

// ReserveItems атомарно списывает остатки по всем позициям или не трогает ни одну.
func (r *stockRepositoryInMemory) ReserveItems(items []domain.OrderItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Сначала проверяем все позиции, мутируем только после полной проверки.
	// Запросы суммируются по товару: заказ с двумя строками на один товар
	// должен пройти проверку суммой, а не каждой строкой по отдельности.
	requested := make(map[string]int32, len(items))
	for _, item := range items {
		qty, ok := r.quantities[item.ProductID]
		if !ok {
			return fmt.Errorf("%w: product %s", domain.ErrProductNotFound, item.ProductID)
		}
		requested[item.ProductID] += item.Qty
		if qty < requested[item.ProductID] {
			return fmt.Errorf("%w: product %s", domain.ErrInsufficientStock, item.ProductID)
		}
	}

	for id, qty := range requested {
		r.quantities[id] -= qty
	}
	return nil
}

// Restore возвращает ранее списанное количество на склад.
func (r *stockRepositoryInMemory) Restore(productID string, qty int32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.quantities[productID]; !ok {
		return fmt.Errorf("%w: product %s", domain.ErrProductNotFound, productID)
	}
	r.quantities[productID] += qty
	return nil
}

var _ domain.StockRepository = (*stockRepositoryInMemory)(nil)
