package deal

import (
	"math/big"
	"testing"
)

func TestFeeAmountTruncates(t *testing.T) {
	// 333 * 250 / 10000 = 8.325, truncated to 8.
	if got := FeeAmount(big.NewInt(333), 250); got.Cmp(big.NewInt(8)) != 0 {
		t.Fatalf("fee = %s, want 8", got)
	}
	if got := FeeAmount(big.NewInt(1_000_000), 0); got.Sign() != 0 {
		t.Fatalf("zero bps fee = %s, want 0", got)
	}
	if got := FeeAmount(nil, 500); got.Sign() != 0 {
		t.Fatalf("nil price fee = %s, want 0", got)
	}
}

func TestVaultAddressIsPerInstance(t *testing.T) {
	a := &Deal{ID: newTestID(0x01)}
	b := &Deal{ID: newTestID(0x02)}
	if a.VaultAddress() == b.VaultAddress() {
		t.Fatal("distinct deals derived the same vault address")
	}
	if a.VaultAddress() != a.VaultAddress() {
		t.Fatal("vault derivation is not deterministic")
	}
}

func TestStatusFinalized(t *testing.T) {
	for _, s := range []Status{StatusDraft, StatusInitialized, StatusDeposited} {
		if s.Finalized() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
	for _, s := range []Status{StatusApproved, StatusCancelled, StatusExpired} {
		if !s.Finalized() {
			t.Fatalf("%s should be terminal", s)
		}
	}
}

func TestDeadlineAtBeforeDeposit(t *testing.T) {
	d := &Deal{DeadlineSeconds: 100}
	if d.DeadlineAt() != 0 {
		t.Fatalf("deadline before deposit = %d, want 0", d.DeadlineAt())
	}
	d.DepositTime = 50
	if d.DeadlineAt() != 150 {
		t.Fatalf("deadline = %d, want 150", d.DeadlineAt())
	}
}
