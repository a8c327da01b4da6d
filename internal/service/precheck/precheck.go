package precheck

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// Intent — снимок данных чекаута, собранный при предварительной проверке.
// Это advisory-снимок на момент проверки, а не блокировка: участники саги
// перепроверяют ресурсы атомарно при резервировании.
type Intent struct {
	Address    string
	Items      []domain.CartItem
	TotalMinor int64
}

// Validator выполняет синхронную предварительную проверку чекаута по
// read-only снапшотам смежных сервисов. Каждый коллаборатор обёрнут
// в отдельный circuit breaker: деградация одного сервиса не выжигает
// лимиты запросов к остальным.
type Validator struct {
	addresses domain.AddressReader
	carts     domain.CartReader
	stocks    domain.StockReader
	balances  domain.BalanceReader
	breakers  map[string]*gobreaker.CircuitBreaker
	logger    *log.Entry
}

// NewValidator создаёт валидатор предварительной проверки.
func NewValidator(
	addresses domain.AddressReader,
	carts domain.CartReader,
	stocks domain.StockReader,
	balances domain.BalanceReader,
	logger *log.Entry,
) *Validator {
	if logger == nil {
		logger = log.WithField("component", "precheck")
	}

	breakers := make(map[string]*gobreaker.CircuitBreaker)
	for _, name := range []string{"users", "carts", "stocks", "balances"} {
		breakers[name] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "precheck-" + name,
			Timeout: 15 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		})
	}

	return &Validator{
		addresses: addresses,
		carts:     carts,
		stocks:    stocks,
		balances:  balances,
		breakers:  breakers,
		logger:    logger,
	}
}

// Validate проверяет предусловия чекаута и возвращает снимок корзины.
// Бизнес-отказы возвращаются типизированными ошибками (ErrUserNotFound,
// ErrMissingAddress, ErrEmptyCart, ErrInsufficientStock,
// ErrInsufficientBalance); инфраструктурные сбои оборачиваются
// в ErrCollaboratorUnavailable.
func (v *Validator) Validate(customerID string) (Intent, error) {
	if customerID == "" {
		return Intent{}, domain.ErrCustomerRequired
	}

	address, err := viaBreaker(v.breakers["users"], "users", func() (string, error) {
		return v.addresses.DeliveryAddress(customerID)
	})
	if err != nil {
		return Intent{}, err
	}
	if address == "" {
		return Intent{}, domain.ErrMissingAddress
	}

	items, err := viaBreaker(v.breakers["carts"], "carts", func() ([]domain.CartItem, error) {
		return v.carts.Items(customerID)
	})
	if err != nil {
		return Intent{}, err
	}
	if len(items) == 0 {
		return Intent{}, domain.ErrEmptyCart
	}

	productIDs := make([]string, 0, len(items))
	for _, item := range items {
		productIDs = append(productIDs, item.ProductID)
	}

	quantities, err := viaBreaker(v.breakers["stocks"], "stocks", func() (map[string]int32, error) {
		return v.stocks.QuantityByProducts(productIDs)
	})
	if err != nil {
		return Intent{}, err
	}
	for _, item := range items {
		if quantities[item.ProductID] < item.Qty {
			return Intent{}, fmt.Errorf("%w: product %s", domain.ErrInsufficientStock, item.ProductID)
		}
	}

	total, err := viaBreaker(v.breakers["carts"], "carts", func() (int64, error) {
		return v.carts.TotalMinor(customerID)
	})
	if err != nil {
		return Intent{}, err
	}

	balance, err := viaBreaker(v.breakers["balances"], "balances", func() (int64, error) {
		return v.balances.Balance(customerID)
	})
	if err != nil {
		return Intent{}, err
	}
	if balance < total {
		return Intent{}, fmt.Errorf("%w: customer %s", domain.ErrInsufficientBalance, customerID)
	}

	v.logger.WithFields(log.Fields{
		"customer_id": customerID,
		"items":       len(items),
		"total_minor": total,
	}).Debug("precheck passed")

	return Intent{
		Address:    address,
		Items:      items,
		TotalMinor: total,
	}, nil
}

// breakerResult позволяет пронести бизнес-отказ через circuit breaker,
// не засчитывая его как сбой коллаборатора.
type breakerResult[T any] struct {
	value  T
	bizErr error
}

func viaBreaker[T any](cb *gobreaker.CircuitBreaker, name string, fn func() (T, error)) (T, error) {
	out, err := cb.Execute(func() (interface{}, error) {
		value, callErr := fn()
		if callErr != nil && domain.IsPrecheckRejection(callErr) {
			return breakerResult[T]{value: value, bizErr: callErr}, nil
		}
		if callErr != nil {
			return nil, callErr
		}
		return breakerResult[T]{value: value}, nil
	})
	if err != nil {
		var zero T
		return zero, fmt.Errorf("%w: %s: %v", domain.ErrCollaboratorUnavailable, name, err)
	}

	res := out.(breakerResult[T])
	return res.value, res.bizErr
}
