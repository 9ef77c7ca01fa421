package state

import (
	"math/big"
	"testing"

	"dealvault/core/types"
	"dealvault/native/deal"
	"dealvault/storage"
)

func newTestManager() *Manager {
	return NewManager(storage.NewMemDB())
}

func TestAccountRoundTrip(t *testing.T) {
	m := newTestManager()
	addr := []byte("account-under-test-.")

	account, err := m.GetAccount(addr)
	if err != nil {
		t.Fatalf("get missing account: %v", err)
	}
	if account.Balance.Sign() != 0 || account.Nonce != 0 {
		t.Fatalf("missing account not zero-valued: %+v", account)
	}

	account.Nonce = 7
	account.Balance = big.NewInt(123_456)
	if err := m.PutAccount(addr, account); err != nil {
		t.Fatalf("put account: %v", err)
	}
	loaded, err := m.GetAccount(addr)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if loaded.Nonce != 7 || loaded.Balance.Cmp(big.NewInt(123_456)) != 0 {
		t.Fatalf("round trip mismatch: %+v", loaded)
	}
}

func TestPutAccountRejectsNegativeBalance(t *testing.T) {
	m := newTestManager()
	err := m.PutAccount([]byte("addr"), &types.Account{Balance: big.NewInt(-1)})
	if err == nil {
		t.Fatal("expected negative balance rejection")
	}
}

func TestRoleLifecycle(t *testing.T) {
	m := newTestManager()
	role := "ROLE_TEST"
	a := []byte{0x01, 0x02}
	b := []byte{0x03, 0x04}

	if m.HasRole(role, a) {
		t.Fatal("role set before assignment")
	}
	if err := m.SetRole(role, a); err != nil {
		t.Fatalf("set role: %v", err)
	}
	if err := m.SetRole(role, a); err != nil {
		t.Fatalf("duplicate set role: %v", err)
	}
	if err := m.SetRole(role, b); err != nil {
		t.Fatalf("set role: %v", err)
	}
	members, err := m.RoleMembers(role)
	if err != nil {
		t.Fatalf("role members: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("member count %d, want 2", len(members))
	}
	if !m.HasRole(role, a) || !m.HasRole(role, b) {
		t.Fatal("assigned addresses not reported")
	}
	if err := m.UnsetRole(role, a); err != nil {
		t.Fatalf("unset role: %v", err)
	}
	if m.HasRole(role, a) {
		t.Fatal("address still holds role after removal")
	}
	if err := m.UnsetRole(role, a); err == nil {
		t.Fatal("expected error removing a non-member")
	}
}

func TestKVPutGet(t *testing.T) {
	m := newTestManager()
	key := []byte("module/value")

	var out uint64
	ok, err := m.KVGet(key, &out)
	if err != nil {
		t.Fatalf("get missing key: %v", err)
	}
	if ok {
		t.Fatal("missing key reported as present")
	}
	if err := m.KVPut(key, uint64(42)); err != nil {
		t.Fatalf("put: %v", err)
	}
	ok, err = m.KVGet(key, &out)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if out != 42 {
		t.Fatalf("value %d, want 42", out)
	}
}

func TestKVAppendDeduplicates(t *testing.T) {
	m := newTestManager()
	key := []byte("module/index")

	for _, value := range [][]byte{{0x01}, {0x02}, {0x01}} {
		if err := m.KVAppend(key, value); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	var list [][]byte
	if err := m.KVGetList(key, &list); err != nil {
		t.Fatalf("get list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("list length %d, want 2", len(list))
	}
}

func TestKVGetListMissingKey(t *testing.T) {
	m := newTestManager()
	var list [][]byte
	if err := m.KVGetList([]byte("module/none"), &list); err != nil {
		t.Fatalf("get list: %v", err)
	}
	if list == nil || len(list) != 0 {
		t.Fatalf("expected empty slice, got %#v", list)
	}
}

func TestDealRoundTrip(t *testing.T) {
	m := newTestManager()
	var id [32]byte
	id[0] = 0xAB

	if _, ok, err := m.DealGet(id); err != nil || ok {
		t.Fatalf("missing deal: ok=%v err=%v", ok, err)
	}

	stored := &deal.Deal{
		ID:                  id,
		Buyer:               [20]byte{0x01},
		Seller:              [20]byte{0x02},
		Notary:              [20]byte{0x03},
		Price:               big.NewInt(1_000_000),
		AgentFeeBps:         300,
		NotaryFeeBps:        100,
		AgentFeeAmount:      big.NewInt(30_000),
		NotaryFeeAmount:     big.NewInt(10_000),
		TotalDeposit:        big.NewInt(1_040_000),
		PropertyDescription: "warehouse 9",
		DocumentRef:         "QmStateTestDoc",
		ContractName:        "warehouse sale",
		DeadlineSeconds:     86_400,
		DepositTime:         1_700_000_000,
		ActNumber:           "ACT-9",
		CreatedAt:           1_699_999_000,
		Status:              deal.StatusDeposited,
	}
	if err := m.DealPut(stored); err != nil {
		t.Fatalf("put deal: %v", err)
	}
	loaded, ok, err := m.DealGet(id)
	if err != nil || !ok {
		t.Fatalf("get deal: ok=%v err=%v", ok, err)
	}
	if loaded.Status != deal.StatusDeposited {
		t.Fatalf("status %s", loaded.Status)
	}
	if loaded.TotalDeposit.Cmp(stored.TotalDeposit) != 0 {
		t.Fatalf("total deposit %s, want %s", loaded.TotalDeposit, stored.TotalDeposit)
	}
	if loaded.DepositTime != stored.DepositTime || loaded.DeadlineSeconds != stored.DeadlineSeconds {
		t.Fatalf("timestamps mismatch: %+v", loaded)
	}
	if loaded.ActNumber != "ACT-9" || loaded.PropertyDescription != "warehouse 9" {
		t.Fatalf("metadata mismatch: %+v", loaded)
	}
}
