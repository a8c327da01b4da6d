package memory

import (
	"sync"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// customerRepositoryInMemory отвечает на снапшот-запросы о клиенте
// при предварительной проверке чекаута.
type customerRepositoryInMemory struct {
	mu        sync.RWMutex
	addresses map[string]string
}

// NewCustomerRepository создаёт in-memory справочник клиентов.
// Ключ — customer id, значение — адрес доставки (пустая строка = адрес не задан).
func NewCustomerRepository(addresses map[string]string) domain.AddressReader {
	copied := make(map[string]string, len(addresses))
	for id, addr := range addresses {
		copied[id] = addr
	}
	return &customerRepositoryInMemory{addresses: copied}
}

// DeliveryAddress возвращает адрес доставки клиента или ErrUserNotFound.
func (r *customerRepositoryInMemory) DeliveryAddress(customerID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	addr, ok := r.addresses[customerID]
	if !ok {
		return "", domain.ErrUserNotFound
	}
	return addr, nil
}

var _ domain.AddressReader = (*customerRepositoryInMemory)(nil)
