package memory

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

func TestOutcomeRepository_MarkReserved(t *testing.T) {
	t.Parallel()

	repo := NewOutcomeRepository()

	out, already, err := repo.MarkStockReserved("order-1")
	if err != nil {
		t.Fatalf("MarkStockReserved() error: %v", err)
	}
	if already {
		t.Fatal("first mark must report already=false")
	}
	if !out.StockReserved || out.BalanceReserved {
		t.Fatalf("unexpected outcome: %+v", out)
	}

	// Повторная отметка того же флага идемпотентна.
	out, already, err = repo.MarkStockReserved("order-1")
	if err != nil {
		t.Fatalf("MarkStockReserved() error: %v", err)
	}
	if !already {
		t.Fatal("second mark must report already=true")
	}

	out, already, err = repo.MarkBalanceReserved("order-1")
	if err != nil {
		t.Fatalf("MarkBalanceReserved() error: %v", err)
	}
	if already {
		t.Fatal("balance mark must report already=false")
	}
	if !out.Complete() {
		t.Fatalf("outcome with both flags must be complete: %+v", out)
	}
}

func TestOutcomeRepository_MarkCompensated(t *testing.T) {
	t.Parallel()

	repo := NewOutcomeRepository()

	already, err := repo.MarkStockCompensated("order-1")
	if err != nil {
		t.Fatalf("MarkStockCompensated() error: %v", err)
	}
	if already {
		t.Fatal("first compensation mark must report already=false")
	}

	already, err = repo.MarkStockCompensated("order-1")
	if err != nil {
		t.Fatalf("MarkStockCompensated() error: %v", err)
	}
	if !already {
		t.Fatal("second compensation mark must report already=true")
	}
}

func TestOutcomeRepository_ConcurrentMarks(t *testing.T) {
	t.Parallel()

	repo := NewOutcomeRepository()

	const goroutines = 16
	firsts := make(chan bool, goroutines)

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, already, err := repo.MarkBalanceReserved("order-1")
			if err != nil {
				t.Errorf("MarkBalanceReserved() error: %v", err)
				return
			}
			if !already {
				firsts <- true
			}
		}()
	}
	wg.Wait()
	close(firsts)

	if got := len(firsts); got != 1 {
		t.Fatalf("exactly one goroutine must win the first mark, got %d", got)
	}
}

func TestOutcomeRepository_GetAndDelete(t *testing.T) {
	t.Parallel()

	repo := NewOutcomeRepository()

	if _, err := repo.Get("order-1"); !errors.Is(err, domain.ErrOutcomeNotFound) {
		t.Fatalf("expected ErrOutcomeNotFound, got %v", err)
	}

	if _, _, err := repo.MarkStockReserved("order-1"); err != nil {
		t.Fatalf("MarkStockReserved() error: %v", err)
	}
	if _, err := repo.Get("order-1"); err != nil {
		t.Fatalf("Get() error: %v", err)
	}

	if err := repo.Delete("order-1"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, err := repo.Get("order-1"); !errors.Is(err, domain.ErrOutcomeNotFound) {
		t.Fatalf("expected ErrOutcomeNotFound after Delete, got %v", err)
	}
}

func TestOutcomeRepository_DeleteUpdatedBefore(t *testing.T) {
	t.Parallel()

	repo := NewOutcomeRepository()

	if _, _, err := repo.MarkStockReserved("order-old"); err != nil {
		t.Fatalf("MarkStockReserved() error: %v", err)
	}

	// Записи свежее cutoff не удаляются.
	removed, err := repo.DeleteUpdatedBefore(time.Now().UTC().Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("DeleteUpdatedBefore() error: %v", err)
	}
	if removed != 0 {
		t.Fatalf("expected 0 removed, got %d", removed)
	}

	removed, err = repo.DeleteUpdatedBefore(time.Now().UTC().Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("DeleteUpdatedBefore() error: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
}
