package domain

import "time"

// LedgerOutcome описывает, чем завершилось обработанное действие участника.
type LedgerOutcome string

const (
	// LedgerOutcomeApplied — побочный эффект применён (резерв поставлен, ресурс возвращён).
	LedgerOutcomeApplied LedgerOutcome = "applied"
	// LedgerOutcomeRejected — действие отклонено без мутации ресурса.
	LedgerOutcomeRejected LedgerOutcome = "rejected"
)

// Пространства имён журнала идемпотентности: по одному на действие участника.
const (
	// LedgerStockCheckout — обработанные checkout-события складского участника (ключ: order id).
	LedgerStockCheckout = "stock.checkout"
	// LedgerStockRestore — обработанные компенсации склада (ключ: order id + product id).
	LedgerStockRestore = "stock.restore"
	// LedgerBalanceCheckout — обработанные checkout-события балансового участника (ключ: order id).
	LedgerBalanceCheckout = "balance.checkout"
	// LedgerBalanceRestore — обработанные компенсации баланса (ключ: order id).
	LedgerBalanceRestore = "balance.restore"
	// LedgerCartRelease — обработанные очистки корзины (ключ: order id).
	LedgerCartRelease = "cart.release"
)

// LedgerEntry — запись «уже обработано» в журнале идемпотентности.
// Журнал append-only: повторная запись по тому же (namespace, key)
// не меняет сохранённый исход.
type LedgerEntry struct {
	Namespace string
	Key       string
	Outcome   LedgerOutcome
	Reason    string
	CreatedAt time.Time
}

// Validate проверяет, что ключевые поля записи журнала заполнены.
func (e *LedgerEntry) Validate() []error {
	var errs []error

	if e.Namespace == "" {
		errs = append(errs, ErrLedgerNamespaceRequired)
	}
	if e.Key == "" {
		errs = append(errs, ErrLedgerKeyRequired)
	}

	return errs
}

// LedgerKey собирает составной ключ журнала из идентификатора заказа и цели
// компенсации. Используется там, где идемпотентность действует на пару
// (order id, target id), например при возврате остатков по конкретному товару.
func LedgerKey(orderID, targetID string) string {
	if targetID == "" {
		return orderID
	}
	return orderID + ":" + targetID
}
