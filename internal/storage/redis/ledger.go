package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const (
	keyPrefix = "checkout:ledger"
	opTimeout = 3 * time.Second
)

// Ledger — реализация журнала идемпотентности поверх Redis. Запись
// выполняется через SET NX: из конкурирующих записей по одному ключу
// выживает первая, TTL ограничивает срок хранения.
type Ledger struct {
	client *redis.Client
	ttl    time.Duration
}

type ledgerRecord struct {
	Outcome   string    `json:"outcome"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewLedger создаёт Redis-журнал идемпотентности. ttl=0 отключает
// истечение записей.
func NewLedger(client *redis.Client, ttl time.Duration) *Ledger {
	return &Ledger{client: client, ttl: ttl}
}

// Get возвращает запись журнала или ErrLedgerEntryNotFound.
func (l *Ledger) Get(namespace, key string) (domain.LedgerEntry, error) {
	if namespace == "" {
		return domain.LedgerEntry{}, domain.ErrLedgerNamespaceRequired
	}
	if key == "" {
		return domain.LedgerEntry{}, domain.ErrLedgerKeyRequired
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return l.getCtx(ctx, namespace, key)
}

// Record сохраняет запись append-only: при конфликте возвращается ранее
// сохранённая запись.
func (l *Ledger) Record(entry domain.LedgerEntry) (domain.LedgerEntry, error) {
	if errs := entry.Validate(); len(errs) > 0 {
		return domain.LedgerEntry{}, errors.Join(errs...)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	payload, err := json.Marshal(ledgerRecord{
		Outcome:   string(entry.Outcome),
		Reason:    entry.Reason,
		CreatedAt: entry.CreatedAt,
	})
	if err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("marshal ledger record: %w", err)
	}

	stored, err := l.client.SetNX(ctx, l.redisKey(entry.Namespace, entry.Key), payload, l.ttl).Result()
	if err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("store ledger record: %w", err)
	}
	if stored {
		return entry, nil
	}

	existing, err := l.getCtx(ctx, entry.Namespace, entry.Key)
	if err != nil {
		// Запись могла истечь между SetNX и чтением; повторная доставка
		// пройдёт по чистому ключу.
		if errors.Is(err, domain.ErrLedgerEntryNotFound) {
			return entry, nil
		}
		return domain.LedgerEntry{}, err
	}
	return existing, nil
}

func (l *Ledger) getCtx(ctx context.Context, namespace, key string) (domain.LedgerEntry, error) {
	raw, err := l.client.Get(ctx, l.redisKey(namespace, key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.LedgerEntry{}, domain.ErrLedgerEntryNotFound
		}
		return domain.LedgerEntry{}, fmt.Errorf("read ledger record: %w", err)
	}

	var record ledgerRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("unmarshal ledger record: %w", err)
	}

	return domain.LedgerEntry{
		Namespace: namespace,
		Key:       key,
		Outcome:   domain.LedgerOutcome(record.Outcome),
		Reason:    record.Reason,
		CreatedAt: record.CreatedAt,
	}, nil
}

func (l *Ledger) redisKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, namespace, key)
}

// Ping проверяет доступность Redis.
func (l *Ledger) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return l.client.Ping(pingCtx).Err()
}

var _ domain.ReservationLedger = (*Ledger)(nil)
