package memory

import (
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

func TestLedger_RecordFirstWriterWins(t *testing.T) {
	t.Parallel()

	ledger := NewLedger()

	first := domain.LedgerEntry{
		Namespace: domain.LedgerStockCheckout,
		Key:       "order-1",
		Outcome:   domain.LedgerOutcomeApplied,
	}
	recorded, err := ledger.Record(first)
	if err != nil {
		t.Fatalf("Record() error: %v", err)
	}
	if recorded.Outcome != domain.LedgerOutcomeApplied {
		t.Fatalf("unexpected outcome: %s", recorded.Outcome)
	}
	if recorded.CreatedAt.IsZero() {
		t.Fatal("Record must stamp CreatedAt")
	}

	// Повторная запись по тому же ключу возвращает исходную запись.
	duplicate := first
	duplicate.Outcome = domain.LedgerOutcomeRejected
	duplicate.Reason = "insufficient stock"

	recorded, err = ledger.Record(duplicate)
	if err != nil {
		t.Fatalf("Record() duplicate error: %v", err)
	}
	if recorded.Outcome != domain.LedgerOutcomeApplied {
		t.Fatalf("duplicate record must return first outcome, got %s", recorded.Outcome)
	}
	if recorded.Reason != "" {
		t.Fatalf("duplicate record must not overwrite reason, got %q", recorded.Reason)
	}
}

func TestLedger_GetMissing(t *testing.T) {
	t.Parallel()

	ledger := NewLedger()
	if _, err := ledger.Get(domain.LedgerBalanceCheckout, "order-1"); !errors.Is(err, domain.ErrLedgerEntryNotFound) {
		t.Fatalf("expected ErrLedgerEntryNotFound, got %v", err)
	}
}

func TestLedger_NamespacesIsolated(t *testing.T) {
	t.Parallel()

	ledger := NewLedger()
	entry := domain.LedgerEntry{
		Namespace: domain.LedgerStockCheckout,
		Key:       "order-1",
		Outcome:   domain.LedgerOutcomeApplied,
	}
	if _, err := ledger.Record(entry); err != nil {
		t.Fatalf("Record() error: %v", err)
	}

	// Тот же ключ в другом namespace — отдельная запись.
	if _, err := ledger.Get(domain.LedgerStockRestore, "order-1"); !errors.Is(err, domain.ErrLedgerEntryNotFound) {
		t.Fatalf("expected ErrLedgerEntryNotFound in other namespace, got %v", err)
	}

	got, err := ledger.Get(domain.LedgerStockCheckout, "order-1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Outcome != domain.LedgerOutcomeApplied {
		t.Fatalf("unexpected outcome: %s", got.Outcome)
	}
}

func TestLedger_RecordValidation(t *testing.T) {
	t.Parallel()

	ledger := NewLedger()
	if _, err := ledger.Record(domain.LedgerEntry{Key: "order-1"}); !errors.Is(err, domain.ErrLedgerNamespaceRequired) {
		t.Fatalf("expected ErrLedgerNamespaceRequired, got %v", err)
	}
}
