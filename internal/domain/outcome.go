package domain

import "time"

// ReservationOutcome — служебная запись координатора с исходами резервирования
// по одному заказу. Запись появляется при первом событии-исходе и нужна,
// чтобы решение подтвердить или откатить заказ принималось ровно один раз,
// как бы события ни дублировались и ни переупорядочивались.
type ReservationOutcome struct {
	OrderID         string
	StockReserved   bool
	BalanceReserved bool
	// StockCompensated и BalanceCompensated фиксируют уже отправленные
	// компенсации, чтобы повторная доставка исхода не породила второй откат.
	StockCompensated   bool
	BalanceCompensated bool
	UpdatedAt          time.Time
}

// Complete сообщает, что оба резерва подтверждены и заказ можно финализировать.
func (r ReservationOutcome) Complete() bool {
	return r.StockReserved && r.BalanceReserved
}
