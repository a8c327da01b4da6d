package memory

import (
	"errors"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// ledgerInMemory — in-memory журнал идемпотентности участников.
// Подходит только для тестов и single-instance запуска: durable-вариант
// живёт в storage/postgres и storage/redis.
type ledgerInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.LedgerEntry
}

// NewLedger создаёт in-memory реализацию ReservationLedger.
func NewLedger() domain.ReservationLedger {
	return &ledgerInMemory{
		items: make(map[string]domain.LedgerEntry),
	}
}

func (l *ledgerInMemory) Get(namespace, key string) (domain.LedgerEntry, error) {
	if namespace == "" {
		return domain.LedgerEntry{}, domain.ErrLedgerNamespaceRequired
	}
	if key == "" {
		return domain.LedgerEntry{}, domain.ErrLedgerKeyRequired
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	entry, ok := l.items[ledgerMapKey(namespace, key)]
	if !ok {
		return domain.LedgerEntry{}, domain.ErrLedgerEntryNotFound
	}
	return entry, nil
}

// Record сохраняет запись append-only: при повторе по тому же
// (namespace, key) возвращается ранее сохранённая запись.
func (l *ledgerInMemory) Record(entry domain.LedgerEntry) (domain.LedgerEntry, error) {
	if errs := entry.Validate(); len(errs) > 0 {
		return domain.LedgerEntry{}, errors.Join(errs...)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	mapKey := ledgerMapKey(entry.Namespace, entry.Key)
	if existing, ok := l.items[mapKey]; ok {
		return existing, nil
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	l.items[mapKey] = entry
	return entry, nil
}

func ledgerMapKey(namespace, key string) string {
	return namespace + "/" + key
}

var _ domain.ReservationLedger = (*ledgerInMemory)(nil)
