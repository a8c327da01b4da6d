package memory

import (
	"fmt"
	"sync"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// balanceRepositoryInMemory хранит балансы клиентов в минимальных единицах.
// Списание гарантированно не уводит баланс в минус: проверка и мутация
// выполняются под одним мьютексом.
type balanceRepositoryInMemory struct {
	mu       sync.Mutex
	balances map[string]int64
}

// NewBalanceRepository создаёт in-memory хранилище балансов.
func NewBalanceRepository(initial map[string]int64) domain.BalanceRepository {
	balances := make(map[string]int64, len(initial))
	for id, amount := range initial {
		balances[id] = amount
	}
	return &balanceRepositoryInMemory{balances: balances}
}

// Balance возвращает доступные средства клиента или ErrUserNotFound.
func (r *balanceRepositoryInMemory) Balance(customerID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	amount, ok := r.balances[customerID]
	if !ok {
		return 0, domain.ErrUserNotFound
	}
	return amount, nil
}

// Withdraw списывает сумму под защитой проверки достаточности средств.
func (r *balanceRepositoryInMemory) Withdraw(customerID string, amountMinor int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	balance, ok := r.balances[customerID]
	if !ok {
		return domain.ErrUserNotFound
	}
	if balance < amountMinor {
		return fmt.Errorf("%w: customer %s", domain.ErrInsufficientBalance, customerID)
	}
	r.balances[customerID] = balance - amountMinor
	return nil
}

// Deposit возвращает ранее списанную сумму на баланс.
func (r *balanceRepositoryInMemory) Deposit(customerID string, amountMinor int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.balances[customerID]; !ok {
		return domain.ErrUserNotFound
	}
	r.balances[customerID] += amountMinor
	return nil
}

var _ domain.BalanceRepository = (*balanceRepositoryInMemory)(nil)
