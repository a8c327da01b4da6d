package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type stockRepository struct {
	db *sql.DB
}

// NewStockRepository создаёт PostgreSQL-реализацию StockRepository.
func NewStockRepository(store *Store) domain.StockRepository {
	return &stockRepository{db: store.DB()}
}

func (r *stockRepository) QuantityByProducts(productIDs []string) (map[string]int32, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	result := make(map[string]int32, len(productIDs))
	if len(productIDs) == 0 {
		return result, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, quantity
		FROM products
		WHERE id = ANY($1)
	`, productIDs)
	if err != nil {
		return nil, fmt.Errorf("select product quantities: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id  string
			qty int32
		)
		if err := rows.Scan(&id, &qty); err != nil {
			return nil, fmt.Errorf("scan product quantity: %w", err)
		}
		result[id] = qty
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product quantities: %w", err)
	}

	return result, nil
}

// ReserveItems списывает остатки по всем позициям в одной транзакции.
// Условный UPDATE с quantity >= qty не даёт уйти в минус; любая
// несписавшаяся позиция откатывает транзакцию целиком.
func (r *stockRepository) ReserveItems(items []domain.OrderItem) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, item := range items {
		var res sql.Result
		res, err = tx.ExecContext(ctx, `
			UPDATE products
			SET quantity = quantity - $2
			WHERE id = $1
			  AND quantity >= $2
		`, item.ProductID, item.Qty)
		if err != nil {
			return fmt.Errorf("reserve product %s: %w", item.ProductID, err)
		}

		var affected int64
		affected, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected for product %s: %w", item.ProductID, err)
		}
		if affected == 0 {
			err = r.classifyShortage(ctx, tx, item.ProductID)
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit stock reservation: %w", err)
	}

	return nil
}

func (r *stockRepository) Restore(productID string, qty int32) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE products
		SET quantity = quantity + $2
		WHERE id = $1
	`, productID, qty)
	if err != nil {
		return fmt.Errorf("restore product %s: %w", productID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for restore %s: %w", productID, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: product %s", domain.ErrProductNotFound, productID)
	}

	return nil
}

func (r *stockRepository) classifyShortage(ctx context.Context, tx *sql.Tx, productID string) error {
	var qty int32
	err := tx.QueryRowContext(ctx, `SELECT quantity FROM products WHERE id = $1`, productID).Scan(&qty)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: product %s", domain.ErrProductNotFound, productID)
		}
		return fmt.Errorf("check product %s: %w", productID, err)
	}
	return fmt.Errorf("%w: product %s", domain.ErrInsufficientStock, productID)
}

var _ domain.StockRepository = (*stockRepository)(nil)
