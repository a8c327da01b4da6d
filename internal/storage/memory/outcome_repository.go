package memory

import (
	"sync"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// outcomeRepositoryInMemory хранит записи исходов резервирования координатора.
// Все mark-операции атомарны под общим мьютексом: гонка двух событий-исходов
// по одному заказу не может потерять флаг и не может поставить его дважды.
type outcomeRepositoryInMemory struct {
	mu    sync.Mutex
	items map[string]domain.ReservationOutcome
}

// NewOutcomeRepository создаёт in-memory реализацию OutcomeRepository.
func NewOutcomeRepository() domain.OutcomeRepository {
	return &outcomeRepositoryInMemory{
		items: make(map[string]domain.ReservationOutcome),
	}
}

func (r *outcomeRepositoryInMemory) MarkStockReserved(orderID string) (domain.ReservationOutcome, bool, error) {
	return r.mark(orderID, func(out *domain.ReservationOutcome) *bool { return &out.StockReserved })
}

func (r *outcomeRepositoryInMemory) MarkBalanceReserved(orderID string) (domain.ReservationOutcome, bool, error) {
	return r.mark(orderID, func(out *domain.ReservationOutcome) *bool { return &out.BalanceReserved })
}

func (r *outcomeRepositoryInMemory) MarkStockCompensated(orderID string) (bool, error) {
	_, already, err := r.mark(orderID, func(out *domain.ReservationOutcome) *bool { return &out.StockCompensated })
	return already, err
}

func (r *outcomeRepositoryInMemory) MarkBalanceCompensated(orderID string) (bool, error) {
	_, already, err := r.mark(orderID, func(out *domain.ReservationOutcome) *bool { return &out.BalanceCompensated })
	return already, err
}

// mark ставит выбранный флаг, создавая запись при первом обращении,
// и возвращает состояние после записи вместе с прежним значением флага.
func (r *outcomeRepositoryInMemory) mark(orderID string, field func(*domain.ReservationOutcome) *bool) (domain.ReservationOutcome, bool, error) {
	if orderID == "" {
		return domain.ReservationOutcome{}, false, domain.ErrOrderNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	out, ok := r.items[orderID]
	if !ok {
		out = domain.ReservationOutcome{OrderID: orderID}
	}

	flag := field(&out)
	already := *flag
	*flag = true
	out.UpdatedAt = time.Now().UTC()
	r.items[orderID] = out

	return out, already, nil
}

func (r *outcomeRepositoryInMemory) Get(orderID string) (domain.ReservationOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out, ok := r.items[orderID]
	if !ok {
		return domain.ReservationOutcome{}, domain.ErrOutcomeNotFound
	}
	return out, nil
}

func (r *outcomeRepositoryInMemory) Delete(orderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.items, orderID)
	return nil
}

// DeleteUpdatedBefore удаляет записи, не менявшиеся с cutoff.
func (r *outcomeRepositoryInMemory) DeleteUpdatedBefore(cutoff time.Time, limit int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for orderID, out := range r.items {
		if !out.UpdatedAt.Before(cutoff) {
			continue
		}
		delete(r.items, orderID)
		removed++
		if limit > 0 && removed >= limit {
			break
		}
	}

	return removed, nil
}

var _ domain.OutcomeRepository = (*outcomeRepositoryInMemory)(nil)
