package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type balanceRepository struct {
	db *sql.DB
}

// NewBalanceRepository создаёт PostgreSQL-реализацию BalanceRepository.
func NewBalanceRepository(store *Store) domain.BalanceRepository {
	return &balanceRepository{db: store.DB()}
}

func (r *balanceRepository) Balance(customerID string) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var balance int64
	err := r.db.QueryRowContext(ctx, `
		SELECT balance_minor
		FROM balances
		WHERE customer_id = $1
	`, customerID).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("%w: customer %s", domain.ErrUserNotFound, customerID)
		}
		return 0, fmt.Errorf("select balance: %w", err)
	}

	return balance, nil
}

// Withdraw списывает сумму условным UPDATE: баланс не уходит в минус,
// различие между нехваткой средств и отсутствием клиента определяется
// дополнительным чтением.
func (r *balanceRepository) Withdraw(customerID string, amountMinor int64) error {
	if amountMinor < 0 {
		return domain.ErrAmountNegative
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE balances
		SET balance_minor = balance_minor - $2
		WHERE customer_id = $1
		  AND balance_minor >= $2
	`, customerID, amountMinor)
	if err != nil {
		return fmt.Errorf("withdraw balance: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for withdraw: %w", err)
	}
	if affected == 0 {
		if _, err := r.Balance(customerID); err != nil {
			return err
		}
		return fmt.Errorf("%w: customer %s", domain.ErrInsufficientBalance, customerID)
	}

	return nil
}

func (r *balanceRepository) Deposit(customerID string, amountMinor int64) error {
	if amountMinor < 0 {
		return domain.ErrAmountNegative
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE balances
		SET balance_minor = balance_minor + $2
		WHERE customer_id = $1
	`, customerID, amountMinor)
	if err != nil {
		return fmt.Errorf("deposit balance: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for deposit: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: customer %s", domain.ErrUserNotFound, customerID)
	}

	return nil
}

var _ domain.BalanceRepository = (*balanceRepository)(nil)
