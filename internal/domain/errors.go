package domain

import "errors"

var (
	// Ошибка отсутствующего идентификатора клиента.
	ErrCustomerRequired = errors.New("customer_id is required")
	// Ошибка отсутствующего кода валюты.
	ErrCurrencyRequired = errors.New("currency is required")
	// Ошибка отсутствующего адреса доставки в заказе.
	ErrAddressRequired = errors.New("delivery address is required")
	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка отрицательной суммы заказа.
	ErrAmountNegative = errors.New("amount_minor must be non-negative")
	// Ошибка отсутствующего идентификатора товара в позиции.
	ErrItemProductRequired = errors.New("item product_id is required")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item qty must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrAmountMismatch = errors.New("order amount does not match items sum")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")

	// Ошибки синхронной предварительной проверки чекаута.
	// Они возвращаются вызывающей стороне до создания заказа.

	// ErrUserNotFound — клиент не найден в сервисе пользователей.
	ErrUserNotFound = errors.New("user not found")
	// ErrMissingAddress — у клиента не задан адрес доставки.
	ErrMissingAddress = errors.New("delivery address is missing")
	// ErrEmptyCart — корзина клиента пуста, чекаут невозможен.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrInsufficientStock — по наблюдаемым остаткам склада товара не хватает.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInsufficientBalance — по наблюдаемому балансу средств не хватает.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrCollaboratorUnavailable — смежный сервис недоступен (в т.ч. открыт circuit breaker).
	ErrCollaboratorUnavailable = errors.New("collaborator service unavailable")

	// ErrProductNotFound — товар не найден на складе.
	ErrProductNotFound = errors.New("product not found")

	// Ошибки журнала идемпотентности.

	// ErrLedgerEntryNotFound — запись для (namespace, key) отсутствует.
	ErrLedgerEntryNotFound = errors.New("ledger entry not found")
	// ErrLedgerNamespaceRequired — не задан namespace записи журнала.
	ErrLedgerNamespaceRequired = errors.New("ledger namespace is required")
	// ErrLedgerKeyRequired — не задан ключ записи журнала.
	ErrLedgerKeyRequired = errors.New("ledger key is required")

	// ErrOutcomeNotFound — запись исходов резервирования для заказа отсутствует.
	ErrOutcomeNotFound = errors.New("reservation outcome not found")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsPrecheckRejection проверяет, относится ли ошибка к бизнес-отказам
// предварительной проверки чекаута (в отличие от инфраструктурных сбоев).
func IsPrecheckRejection(err error) bool {
	return errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrMissingAddress) ||
		errors.Is(err, ErrEmptyCart) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrInsufficientBalance)
}
