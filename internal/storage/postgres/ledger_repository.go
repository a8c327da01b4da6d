package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type ledgerRepository struct {
	db *sql.DB
}

// NewLedgerRepository создаёт PostgreSQL-реализацию ReservationLedger.
func NewLedgerRepository(store *Store) domain.ReservationLedger {
	return &ledgerRepository{db: store.DB()}
}

func (r *ledgerRepository) Get(namespace, key string) (domain.LedgerEntry, error) {
	if namespace == "" {
		return domain.LedgerEntry{}, domain.ErrLedgerNamespaceRequired
	}
	if key == "" {
		return domain.LedgerEntry{}, domain.ErrLedgerKeyRequired
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return r.getCtx(ctx, namespace, key)
}

// Record сохраняет запись append-only: ON CONFLICT DO NOTHING гарантирует,
// что из конкурирующих записей по одному ключу выживает ровно одна, и
// именно она возвращается вызывающему.
func (r *ledgerRepository) Record(entry domain.LedgerEntry) (domain.LedgerEntry, error) {
	if errs := entry.Validate(); len(errs) > 0 {
		return domain.LedgerEntry{}, errors.Join(errs...)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO reservation_ledger (namespace, key, outcome, reason, created_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (namespace, key) DO NOTHING
	`, entry.Namespace, entry.Key, string(entry.Outcome), entry.Reason, entry.CreatedAt)
	if err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("insert ledger entry: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("rows affected for ledger insert: %w", err)
	}
	if affected > 0 {
		return entry, nil
	}

	return r.getCtx(ctx, entry.Namespace, entry.Key)
}

func (r *ledgerRepository) getCtx(ctx context.Context, namespace, key string) (domain.LedgerEntry, error) {
	var (
		entry   domain.LedgerEntry
		outcome string
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT namespace, key, outcome, reason, created_at
		FROM reservation_ledger
		WHERE namespace = $1
		  AND key = $2
	`, namespace, key).Scan(&entry.Namespace, &entry.Key, &outcome, &entry.Reason, &entry.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.LedgerEntry{}, domain.ErrLedgerEntryNotFound
		}
		return domain.LedgerEntry{}, fmt.Errorf("select ledger entry: %w", err)
	}
	entry.Outcome = domain.LedgerOutcome(outcome)

	return entry, nil
}

var _ domain.ReservationLedger = (*ledgerRepository)(nil)
