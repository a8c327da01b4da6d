package domain

import "time"

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ошибку, если запись с таким ID уже существует.
	Create(order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(id string) (Order, error)
	// ListByCustomer возвращает заказы клиента с опциональным ограничением на количество.
	ListByCustomer(customerID string, limit int) ([]Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking.
	Save(order Order) error
	// ListPendingBefore возвращает pending-заказы, созданные до cutoff.
	// Используется воркером, закрывающим зависшие саги по дедлайну.
	ListPendingBefore(cutoff time.Time, limit int) ([]Order, error)
}

// OutcomeRepository хранит записи исходов резервирования координатора.
// Mark-операции атомарны: флаг ставится и возвращается состояние записи
// после записи вместе с признаком, был ли флаг уже установлен ранее.
type OutcomeRepository interface {
	MarkStockReserved(orderID string) (outcome ReservationOutcome, already bool, err error)
	MarkBalanceReserved(orderID string) (outcome ReservationOutcome, already bool, err error)
	// MarkStockCompensated/MarkBalanceCompensated фиксируют отправку компенсации;
	// already=true означает, что компенсация для заказа уже отправлялась.
	MarkStockCompensated(orderID string) (already bool, err error)
	MarkBalanceCompensated(orderID string) (already bool, err error)
	// Get возвращает запись или ErrOutcomeNotFound.
	Get(orderID string) (ReservationOutcome, error)
	// Delete удаляет запись после финализации заказа.
	Delete(orderID string) error
	// DeleteUpdatedBefore удаляет записи, не менявшиеся с cutoff (retention-очистка).
	DeleteUpdatedBefore(cutoff time.Time, limit int) (int, error)
}

// ReservationLedger — журнал идемпотентности участников.
// Get возвращает ErrLedgerEntryNotFound, если действие ещё не обрабатывалось.
// Record сохраняет запись append-only: при конфликте по (namespace, key)
// возвращается ранее сохранённая запись, без перезаписи.
type ReservationLedger interface {
	Get(namespace, key string) (LedgerEntry, error)
	Record(entry LedgerEntry) (LedgerEntry, error)
}

// StockReader — снимок остатков склада для предварительной проверки чекаута.
type StockReader interface {
	// QuantityByProducts возвращает остатки по каждому запрошенному товару.
	// Отсутствующие товары в ответ не попадают.
	QuantityByProducts(productIDs []string) (map[string]int32, error)
}

// StockRepository — складское хранилище, мутируемое только складским участником.
type StockRepository interface {
	StockReader
	// ReserveItems атомарно проверяет и списывает остатки по всем позициям:
	// либо уменьшаются все, либо ни одна. При нехватке возвращается ошибка,
	// оборачивающая ErrInsufficientStock с указанием первого дефицитного товара.
	ReserveItems(items []OrderItem) error
	// Restore возвращает ранее списанное количество — точная инверсия списания.
	Restore(productID string, qty int32) error
}

// BalanceReader — снимок баланса клиента для предварительной проверки.
type BalanceReader interface {
	// Balance возвращает доступные средства или ErrUserNotFound.
	Balance(customerID string) (int64, error)
}

// BalanceRepository — хранилище балансов, мутируемое только балансовым участником.
type BalanceRepository interface {
	BalanceReader
	// Withdraw списывает сумму под защитой проверки достаточности средств:
	// баланс никогда не уходит в минус. При нехватке — ErrInsufficientBalance.
	Withdraw(customerID string, amountMinor int64) error
	// Deposit возвращает ранее списанную сумму на баланс.
	Deposit(customerID string, amountMinor int64) error
}

// CartReader — снимок корзины клиента.
type CartReader interface {
	Items(customerID string) ([]CartItem, error)
	TotalMinor(customerID string) (int64, error)
}

// CartRepository — хранилище корзин, очищаемое участником после подтверждения заказа.
type CartRepository interface {
	CartReader
	// Clear удаляет все позиции корзины клиента. Очистка пустой корзины — no-op.
	Clear(customerID string) error
}

// AddressReader возвращает адрес доставки клиента.
// Пустая строка означает, что адрес не задан; ErrUserNotFound — клиента нет.
type AddressReader interface {
	DeliveryAddress(customerID string) (string, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
