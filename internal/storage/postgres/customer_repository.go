package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type customerRepository struct {
	db *sql.DB
}

// NewCustomerRepository создаёт PostgreSQL-реализацию AddressReader.
func NewCustomerRepository(store *Store) domain.AddressReader {
	return &customerRepository{db: store.DB()}
}

func (r *customerRepository) DeliveryAddress(customerID string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var address string
	err := r.db.QueryRowContext(ctx, `
		SELECT delivery_address
		FROM customers
		WHERE id = $1
	`, customerID).Scan(&address)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("%w: customer %s", domain.ErrUserNotFound, customerID)
		}
		return "", fmt.Errorf("select delivery address: %w", err)
	}

	return address, nil
}

var _ domain.AddressReader = (*customerRepository)(nil)
