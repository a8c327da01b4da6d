package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type outcomeRepository struct {
	db *sql.DB
}

// NewOutcomeRepository создаёт PostgreSQL-реализацию OutcomeRepository.
func NewOutcomeRepository(store *Store) domain.OutcomeRepository {
	return &outcomeRepository{db: store.DB()}
}

func (r *outcomeRepository) MarkStockReserved(orderID string) (domain.ReservationOutcome, bool, error) {
	return r.markReserved(orderID, "stock_reserved")
}

func (r *outcomeRepository) MarkBalanceReserved(orderID string) (domain.ReservationOutcome, bool, error) {
	return r.markReserved(orderID, "balance_reserved")
}

// markReserved ставит флаг резерва условным UPSERT: 0 затронутых строк
// означает, что флаг уже стоял. Флаги монотонны (только false -> true),
// поэтому последующее чтение записи безопасно для проверки полноты.
func (r *outcomeRepository) markReserved(orderID, column string) (domain.ReservationOutcome, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	// column приходит только из белого списка вызовов выше.
	query := fmt.Sprintf(`
		INSERT INTO saga_outcomes (order_id, %[1]s, updated_at)
		VALUES ($1, TRUE, $2)
		ON CONFLICT (order_id) DO UPDATE
		SET %[1]s = TRUE,
		    updated_at = $2
		WHERE saga_outcomes.%[1]s = FALSE
	`, column)

	res, err := r.db.ExecContext(ctx, query, orderID, time.Now().UTC())
	if err != nil {
		return domain.ReservationOutcome{}, false, fmt.Errorf("mark %s: %w", column, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return domain.ReservationOutcome{}, false, fmt.Errorf("rows affected for %s: %w", column, err)
	}
	already := affected == 0

	outcome, err := r.getCtx(ctx, orderID)
	if err != nil {
		return domain.ReservationOutcome{}, false, err
	}

	return outcome, already, nil
}

func (r *outcomeRepository) MarkStockCompensated(orderID string) (bool, error) {
	return r.markCompensated(orderID, "stock_compensated")
}

func (r *outcomeRepository) MarkBalanceCompensated(orderID string) (bool, error) {
	return r.markCompensated(orderID, "balance_compensated")
}

// markCompensated ставит флаг компенсации и возвращает already=true, если
// флаг уже стоял. Условное обновление с WHERE NOT flag даёт at-most-once
// семантику на конкурентных вызовах: выигрывает ровно один.
func (r *outcomeRepository) markCompensated(orderID, column string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO saga_outcomes (order_id, %[1]s, updated_at)
		VALUES ($1, TRUE, $2)
		ON CONFLICT (order_id) DO UPDATE
		SET %[1]s = TRUE,
		    updated_at = $2
		WHERE saga_outcomes.%[1]s = FALSE
	`, column)

	res, err := r.db.ExecContext(ctx, query, orderID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("mark %s: %w", column, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected for %s: %w", column, err)
	}

	// 0 затронутых строк значит, что флаг уже стоял.
	return affected == 0, nil
}

func (r *outcomeRepository) Get(orderID string) (domain.ReservationOutcome, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return r.getCtx(ctx, orderID)
}

func (r *outcomeRepository) getCtx(ctx context.Context, orderID string) (domain.ReservationOutcome, error) {
	outcome := domain.ReservationOutcome{OrderID: orderID}
	err := r.db.QueryRowContext(ctx, `
		SELECT stock_reserved, balance_reserved, stock_compensated, balance_compensated, updated_at
		FROM saga_outcomes
		WHERE order_id = $1
	`, orderID).Scan(
		&outcome.StockReserved, &outcome.BalanceReserved,
		&outcome.StockCompensated, &outcome.BalanceCompensated,
		&outcome.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ReservationOutcome{}, domain.ErrOutcomeNotFound
		}
		return domain.ReservationOutcome{}, fmt.Errorf("select saga outcome: %w", err)
	}

	return outcome, nil
}

func (r *outcomeRepository) Delete(orderID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `DELETE FROM saga_outcomes WHERE order_id = $1`, orderID); err != nil {
		return fmt.Errorf("delete saga outcome: %w", err)
	}
	return nil
}

func (r *outcomeRepository) DeleteUpdatedBefore(cutoff time.Time, limit int) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	res, err := r.db.ExecContext(ctx, `
		DELETE FROM saga_outcomes
		WHERE order_id IN (
			SELECT order_id
			FROM saga_outcomes
			WHERE updated_at < $1
			ORDER BY updated_at ASC
			LIMIT $2
		)
	`, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("purge saga outcomes: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected for purge: %w", err)
	}
	return int(affected), nil
}

var _ domain.OutcomeRepository = (*outcomeRepository)(nil)
