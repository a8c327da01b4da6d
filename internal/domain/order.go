package domain

import "time"

// OrderStatus описывает жизненный цикл заказа в checkout-саге.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан, резервы на складе и балансе ещё не подтверждены.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed — оба резерва подтверждены, заказ финализирован.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusFailed — хотя бы один резерв не удался, заказ закрыт с компенсацией.
	OrderStatusFailed OrderStatus = "failed"
)

// Terminal сообщает, является ли статус конечным.
// Из confirmed и failed переходов не существует.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusConfirmed || s == OrderStatusFailed
}

// OrderItem представляет одну позицию заказа.
type OrderItem struct {
	// ID позиции нужен для однозначной идентификации и аудита.
	ID string
	// ProductID — идентификатор товара в каталоге.
	ProductID string
	// Qty — количество единиц товара.
	Qty int32
	// PriceMinor — цена за единицу в минимальных денежных единицах (например, копейки).
	PriceMinor int64
	// CreatedAt фиксирует момент добавления позиции в заказ.
	CreatedAt time.Time
}

// Order агрегирует состояние заказа и его позиции.
// Статус заказа меняет только координатор саги; записи не удаляются
// и остаются аудиторским следом чекаута.
type Order struct {
	ID              string
	CustomerID      string
	Status          OrderStatus
	Currency        string
	AmountMinor     int64
	DeliveryAddress string
	Items           []OrderItem
	// FailureReason заполняется при переходе в failed причиной отказа участника.
	FailureReason string
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.CustomerID == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if o.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if o.DeliveryAddress == "" {
		errs = append(errs, ErrAddressRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if o.AmountMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}

	// Сверяем сумму заказа с суммой позиций: qty * price.
	var calc int64
	for _, item := range o.Items {
		if item.ProductID == "" {
			errs = append(errs, ErrItemProductRequired)
		}
		if item.Qty <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.PriceMinor < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
		calc += int64(item.Qty) * item.PriceMinor
	}
	if calc != o.AmountMinor {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}

// CartItem — позиция корзины, из которой собирается заказ при чекауте.
type CartItem struct {
	ProductID  string
	Qty        int32
	PriceMinor int64
}
