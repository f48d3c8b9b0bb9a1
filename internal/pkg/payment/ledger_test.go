package payment

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/aimanhazmi/GroupGate/app/models"
)

func TestMemoryLedgerAdmission(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()

	adm, err := ledger.TryBegin(ctx, ProviderToyyibPay, "user_42_1700000000", 42)
	if err != nil {
		t.Fatalf("TryBegin: %v", err)
	}
	if adm != AdmissionAdmitted {
		t.Fatalf("expected first admission, got %s", adm)
	}

	adm, err = ledger.TryBegin(ctx, ProviderToyyibPay, "user_42_1700000000", 42)
	if err != nil {
		t.Fatalf("TryBegin: %v", err)
	}
	if adm != AdmissionInProgress {
		t.Fatalf("expected in-progress while pending, got %s", adm)
	}

	if err := ledger.Complete(ctx, ProviderToyyibPay, "user_42_1700000000", "https://t.me/+abc", nil); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	adm, err = ledger.TryBegin(ctx, ProviderToyyibPay, "user_42_1700000000", 42)
	if err != nil {
		t.Fatalf("TryBegin: %v", err)
	}
	if adm != AdmissionAlreadyGranted {
		t.Fatalf("expected already-granted after completion, got %s", adm)
	}

	record, err := ledger.Lookup(ctx, ProviderToyyibPay, "user_42_1700000000")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if record.Status != models.GrantStatusGranted {
		t.Fatalf("expected granted status, got %q", record.Status)
	}
	if record.InviteLink != "https://t.me/+abc" {
		t.Fatalf("unexpected invite link %q", record.InviteLink)
	}
	if record.GrantedAt == nil {
		t.Fatal("expected granted_at to be set")
	}
}

func TestMemoryLedgerFailedReadmission(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()

	if _, err := ledger.TryBegin(ctx, ProviderStripe, "user_7_1700000001", 7); err != nil {
		t.Fatalf("TryBegin: %v", err)
	}
	if err := ledger.Complete(ctx, ProviderStripe, "user_7_1700000001", "", errors.New("telegram unreachable")); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	record, err := ledger.Lookup(ctx, ProviderStripe, "user_7_1700000001")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if record.Status != models.GrantStatusFailed {
		t.Fatalf("expected failed status, got %q", record.Status)
	}
	if record.LastError != "telegram unreachable" {
		t.Fatalf("unexpected last error %q", record.LastError)
	}

	// A provider resend may retry a failed grant.
	adm, err := ledger.TryBegin(ctx, ProviderStripe, "user_7_1700000001", 7)
	if err != nil {
		t.Fatalf("TryBegin: %v", err)
	}
	if adm != AdmissionAdmitted {
		t.Fatalf("expected re-admission after failure, got %s", adm)
	}

	if err := ledger.Complete(ctx, ProviderStripe, "user_7_1700000001", "https://t.me/+xyz", nil); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	record, _ = ledger.Lookup(ctx, ProviderStripe, "user_7_1700000001")
	if record.Status != models.GrantStatusGranted {
		t.Fatalf("expected granted after retry, got %q", record.Status)
	}
	if record.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", record.Attempts)
	}
}

func TestMemoryLedgerConcurrentTryBegin(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()

	const callers = 16
	var wg sync.WaitGroup
	admissions := make(chan Admission, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			adm, err := ledger.TryBegin(ctx, ProviderToyyibPay, "user_99_1700000002", 99)
			if err != nil {
				t.Errorf("TryBegin: %v", err)
				return
			}
			admissions <- adm
		}()
	}
	wg.Wait()
	close(admissions)

	admitted := 0
	for adm := range admissions {
		if adm == AdmissionAdmitted {
			admitted++
		}
	}
	if admitted != 1 {
		t.Fatalf("expected exactly one admission, got %d", admitted)
	}
}

func TestMemoryLedgerKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()

	// Same reference under different providers is a distinct key.
	for _, provider := range []Provider{ProviderStripe, ProviderToyyibPay} {
		adm, err := ledger.TryBegin(ctx, provider, "user_5_1700000003", 5)
		if err != nil {
			t.Fatalf("TryBegin %s: %v", provider, err)
		}
		if adm != AdmissionAdmitted {
			t.Fatalf("expected admission for %s, got %s", provider, adm)
		}
	}
}

func TestMemoryLedgerCompleteRequiresPending(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()

	if err := ledger.Complete(ctx, ProviderStripe, "user_1_1", "", nil); err == nil {
		t.Fatal("expected error completing a grant that was never begun")
	}

	if _, err := ledger.Lookup(ctx, ProviderStripe, "user_1_1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryLedgerHasGrantedUser(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()

	ok, err := ledger.HasGrantedUser(ctx, 42)
	if err != nil {
		t.Fatalf("HasGrantedUser: %v", err)
	}
	if ok {
		t.Fatal("expected no grant for unknown user")
	}

	if _, err := ledger.TryBegin(ctx, ProviderToyyibPay, "user_42_1700000004", 42); err != nil {
		t.Fatalf("TryBegin: %v", err)
	}
	ok, _ = ledger.HasGrantedUser(ctx, 42)
	if ok {
		t.Fatal("pending grant must not count as granted")
	}

	if err := ledger.Complete(ctx, ProviderToyyibPay, "user_42_1700000004", "https://t.me/+abc", nil); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	ok, _ = ledger.HasGrantedUser(ctx, 42)
	if !ok {
		t.Fatal("expected granted user to be found")
	}
}
