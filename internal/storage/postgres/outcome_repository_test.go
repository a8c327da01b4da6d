package postgres

import (
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

func outcomeColumns() []string {
	return []string{"stock_reserved", "balance_reserved", "stock_compensated", "balance_compensated", "updated_at"}
}

func TestOutcomeRepository_MarkStockReserved_FirstMark(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	repo := NewOutcomeRepository(store)
	now := time.Now().UTC()

	mock.ExpectExec("INSERT INTO saga_outcomes").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT (.+) FROM saga_outcomes").
		WithArgs("order-1").
		WillReturnRows(sqlmock.NewRows(outcomeColumns()).
			AddRow(true, false, false, false, now))

	outcome, already, err := repo.MarkStockReserved("order-1")
	if err != nil {
		t.Fatalf("MarkStockReserved() error: %v", err)
	}
	if already {
		t.Fatal("first mark must report already=false")
	}
	if !outcome.StockReserved || outcome.BalanceReserved {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	expectationsMet(t, mock)
}

func TestOutcomeRepository_MarkBalanceReserved_AlreadySet(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	repo := NewOutcomeRepository(store)
	now := time.Now().UTC()

	// 0 затронутых строк: условный UPSERT не прошёл, флаг уже стоял.
	mock.ExpectExec("INSERT INTO saga_outcomes").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM saga_outcomes").
		WithArgs("order-1").
		WillReturnRows(sqlmock.NewRows(outcomeColumns()).
			AddRow(true, true, false, false, now))

	outcome, already, err := repo.MarkBalanceReserved("order-1")
	if err != nil {
		t.Fatalf("MarkBalanceReserved() error: %v", err)
	}
	if !already {
		t.Fatal("repeated mark must report already=true")
	}
	if !outcome.Complete() {
		t.Fatalf("expected complete outcome, got %+v", outcome)
	}
	expectationsMet(t, mock)
}

func TestOutcomeRepository_MarkStockCompensated(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	repo := NewOutcomeRepository(store)

	mock.ExpectExec("INSERT INTO saga_outcomes").
		WillReturnResult(sqlmock.NewResult(0, 1))

	already, err := repo.MarkStockCompensated("order-1")
	if err != nil {
		t.Fatalf("MarkStockCompensated() error: %v", err)
	}
	if already {
		t.Fatal("first compensation mark must report already=false")
	}

	mock.ExpectExec("INSERT INTO saga_outcomes").
		WillReturnResult(sqlmock.NewResult(0, 0))

	already, err = repo.MarkStockCompensated("order-1")
	if err != nil {
		t.Fatalf("MarkStockCompensated() error: %v", err)
	}
	if !already {
		t.Fatal("second compensation mark must report already=true")
	}
	expectationsMet(t, mock)
}

func TestOutcomeRepository_Get_NotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	repo := NewOutcomeRepository(store)

	mock.ExpectQuery("SELECT (.+) FROM saga_outcomes").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows(outcomeColumns()))

	if _, err := repo.Get("ghost"); !errors.Is(err, domain.ErrOutcomeNotFound) {
		t.Fatalf("expected ErrOutcomeNotFound, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestOutcomeRepository_DeleteUpdatedBefore(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	repo := NewOutcomeRepository(store)
	cutoff := time.Now().UTC().Add(-24 * time.Hour)

	mock.ExpectExec("DELETE FROM saga_outcomes").
		WithArgs(cutoff, 100).
		WillReturnResult(sqlmock.NewResult(0, 3))

	removed, err := repo.DeleteUpdatedBefore(cutoff, 100)
	if err != nil {
		t.Fatalf("DeleteUpdatedBefore() error: %v", err)
	}
	if removed != 3 {
		t.Fatalf("expected 3 removed, got %d", removed)
	}
	expectationsMet(t, mock)
}
