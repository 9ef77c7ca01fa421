package deal

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"math/big"
	"testing"

	"dealvault/core/types"
)

type mockState struct {
	deals    map[[32]byte]*Deal
	accounts map[[20]byte]*types.Account

	failPuts     bool
	failDealPuts bool
}

func newMockState() *mockState {
	return &mockState{
		deals:    make(map[[32]byte]*Deal),
		accounts: make(map[[20]byte]*types.Account),
	}
}

func (m *mockState) DealPut(d *Deal) error {
	if m.failDealPuts {
		return fmt.Errorf("deal put disabled")
	}
	if d == nil {
		return fmt.Errorf("nil deal")
	}
	sanitized, err := SanitizeDeal(d)
	if err != nil {
		return err
	}
	m.deals[sanitized.ID] = sanitized.Clone()
	return nil
}

func (m *mockState) DealGet(id [32]byte) (*Deal, bool, error) {
	d, ok := m.deals[id]
	if !ok {
		return nil, false, nil
	}
	return d.Clone(), true, nil
}

func (m *mockState) GetAccount(addr []byte) (*types.Account, error) {
	var key [20]byte
	copy(key[:], addr)
	acc, ok := m.accounts[key]
	if !ok {
		return &types.Account{Balance: big.NewInt(0)}, nil
	}
	return acc.Clone(), nil
}

func (m *mockState) PutAccount(addr []byte, account *types.Account) error {
	if m.failPuts {
		return fmt.Errorf("put disabled")
	}
	var key [20]byte
	copy(key[:], addr)
	m.accounts[key] = account.Clone()
	return nil
}

func (m *mockState) setBalance(addr [20]byte, amount *big.Int) {
	m.accounts[addr] = &types.Account{Balance: new(big.Int).Set(amount)}
}

func (m *mockState) balance(addr [20]byte) *big.Int {
	acc, ok := m.accounts[addr]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(acc.Balance)
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func newTestID(fill byte) [32]byte {
	var id [32]byte
	copy(id[:], bytes.Repeat([]byte{fill}, 32))
	return id
}

func testParams() *Params {
	return &Params{
		Buyer:               newTestAddress(0x01),
		Seller:              newTestAddress(0x02),
		Notary:              newTestAddress(0x03),
		Agent:               newTestAddress(0x04),
		Price:               big.NewInt(1_000_000),
		AgentFeeBps:         300,
		NotaryFeeBps:        100,
		PropertyDescription: "apartment 12, 34 Main street",
		DocumentRef:         "QmTestDocumentRef",
		ContractName:        "Main street sale",
		DeadlineDays:        30,
	}
}

func newTestEngine(state *mockState) *Engine {
	engine := NewEngine()
	engine.SetState(state)
	engine.SetNowFunc(func() int64 { return 1_000_000 })
	return engine
}

// setupDeposited creates, initializes and funds a deal so transition tests
// can start from the custodied state.
func setupDeposited(t *testing.T, state *mockState, engine *Engine, params *Params) *Deal {
	t.Helper()
	id := newTestID(0xEE)
	if _, err := engine.Create(id); err != nil {
		t.Fatalf("create: %v", err)
	}
	d, err := engine.Initialize(id, params)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	state.setBalance(params.Buyer, new(big.Int).Add(d.TotalDeposit, big.NewInt(500)))
	if err := engine.Deposit(id, params.Buyer, d.TotalDeposit, "ACT-42"); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	stored, err := engine.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	return stored
}

func TestInitializeComputesFeesAndDeposit(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	id := newTestID(0x11)
	if _, err := engine.Create(id); err != nil {
		t.Fatalf("create: %v", err)
	}
	d, err := engine.Initialize(id, testParams())
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if d.Status != StatusInitialized {
		t.Fatalf("expected initialized status, got %s", d.Status)
	}
	if d.AgentFeeAmount.Cmp(big.NewInt(30_000)) != 0 {
		t.Fatalf("unexpected agent fee: %s", d.AgentFeeAmount)
	}
	if d.NotaryFeeAmount.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("unexpected notary fee: %s", d.NotaryFeeAmount)
	}
	if d.TotalDeposit.Cmp(big.NewInt(1_040_000)) != 0 {
		t.Fatalf("unexpected total deposit: %s", d.TotalDeposit)
	}
	if d.DeadlineSeconds != 30*24*60*60 {
		t.Fatalf("unexpected deadline seconds: %d", d.DeadlineSeconds)
	}
}

func TestInitializeRejectsSecondCall(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	id := newTestID(0x12)
	if _, err := engine.Create(id); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := engine.Initialize(id, testParams()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, err := engine.Initialize(id, testParams()); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}
}

func TestInitializeValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Params)
	}{
		{"zero buyer", func(p *Params) { p.Buyer = [20]byte{} }},
		{"buyer equals seller", func(p *Params) { p.Seller = p.Buyer }},
		{"buyer equals notary", func(p *Params) { p.Notary = p.Buyer }},
		{"agent equals seller", func(p *Params) { p.Agent = p.Seller }},
		{"agent fee without agent", func(p *Params) { p.Agent = [20]byte{} }},
		{"combined fee over cap", func(p *Params) { p.AgentFeeBps = 1500; p.NotaryFeeBps = 501 }},
		{"zero price", func(p *Params) { p.Price = big.NewInt(0) }},
		{"negative price", func(p *Params) { p.Price = big.NewInt(-5) }},
		{"empty description", func(p *Params) { p.PropertyDescription = "   " }},
		{"empty document ref", func(p *Params) { p.DocumentRef = "" }},
		{"empty contract name", func(p *Params) { p.ContractName = "" }},
		{"deadline too short", func(p *Params) { p.DeadlineDays = 0 }},
		{"deadline too long", func(p *Params) { p.DeadlineDays = 366 }},
	}
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			state := newMockState()
			engine := newTestEngine(state)
			id := newTestID(byte(0x20 + i))
			if _, err := engine.Create(id); err != nil {
				t.Fatalf("create: %v", err)
			}
			params := testParams()
			tc.mutate(params)
			if _, err := engine.Initialize(id, params); !errors.Is(err, ErrInvalidParams) {
				t.Fatalf("expected ErrInvalidParams, got %v", err)
			}
		})
	}
}

func TestInitializeAcceptsFeeCapBoundary(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	id := newTestID(0x13)
	if _, err := engine.Create(id); err != nil {
		t.Fatalf("create: %v", err)
	}
	params := testParams()
	params.AgentFeeBps = 1500
	params.NotaryFeeBps = 500
	if _, err := engine.Initialize(id, params); err != nil {
		t.Fatalf("expected combined 2000 bps to be accepted, got %v", err)
	}
}

func TestInitializeRejectsFeeSumOverflow(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	id := newTestID(0x14)
	if _, err := engine.Create(id); err != nil {
		t.Fatalf("create: %v", err)
	}
	// The uint32 sum wraps to exactly 2000, so only a widened comparison
	// catches the combined rate.
	params := testParams()
	params.AgentFeeBps = math.MaxUint32
	params.NotaryFeeBps = 2001
	if _, err := engine.Initialize(id, params); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("expected invalid params for wrapping fee sum, got %v", err)
	}
	params = testParams()
	params.AgentFeeBps = 2001
	params.NotaryFeeBps = 0
	if _, err := engine.Initialize(id, params); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("expected invalid params for single rate over cap, got %v", err)
	}
}

func TestDepositMovesExactTotalToVault(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	params := testParams()
	d := setupDeposited(t, state, engine, params)

	if d.Status != StatusDeposited {
		t.Fatalf("expected deposited status, got %s", d.Status)
	}
	if d.ActNumber != "ACT-42" {
		t.Fatalf("unexpected act number: %q", d.ActNumber)
	}
	if d.DepositTime != 1_000_000 {
		t.Fatalf("unexpected deposit time: %d", d.DepositTime)
	}
	if got := state.balance(d.VaultAddress()); got.Cmp(d.TotalDeposit) != 0 {
		t.Fatalf("vault holds %s, want %s", got, d.TotalDeposit)
	}
	if got := state.balance(params.Buyer); got.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("buyer left with %s, want 500", got)
	}
}

func TestDepositReturnsFundsOnStoreFailure(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	id := newTestID(0x32)
	params := testParams()
	if _, err := engine.Create(id); err != nil {
		t.Fatalf("create: %v", err)
	}
	d, err := engine.Initialize(id, params)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	state.setBalance(params.Buyer, new(big.Int).Set(d.TotalDeposit))

	state.failDealPuts = true
	if err := engine.Deposit(id, params.Buyer, d.TotalDeposit, "ACT-42"); err == nil {
		t.Fatal("expected store failure")
	}
	if got := state.balance(params.Buyer); got.Cmp(d.TotalDeposit) != 0 {
		t.Fatalf("buyer holds %s after failed deposit, want %s", got, d.TotalDeposit)
	}
	if got := state.balance(d.VaultAddress()); got.Sign() != 0 {
		t.Fatalf("vault holds %s after failed deposit, want 0", got)
	}

	state.failDealPuts = false
	if err := engine.Deposit(id, params.Buyer, d.TotalDeposit, "ACT-42"); err != nil {
		t.Fatalf("deposit after recovery: %v", err)
	}
	if got := state.balance(d.VaultAddress()); got.Cmp(d.TotalDeposit) != 0 {
		t.Fatalf("vault holds %s, want %s", got, d.TotalDeposit)
	}
}

func TestDepositRejectsWrongAmount(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	id := newTestID(0x31)
	params := testParams()
	if _, err := engine.Create(id); err != nil {
		t.Fatalf("create: %v", err)
	}
	d, err := engine.Initialize(id, params)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	state.setBalance(params.Buyer, new(big.Int).Mul(d.TotalDeposit, big.NewInt(2)))

	over := new(big.Int).Add(d.TotalDeposit, big.NewInt(1))
	if err := engine.Deposit(id, params.Buyer, over, "ACT-1"); !errors.Is(err, ErrWrongAmount) {
		t.Fatalf("expected ErrWrongAmount for excess, got %v", err)
	}
	under := new(big.Int).Sub(d.TotalDeposit, big.NewInt(1))
	if err := engine.Deposit(id, params.Buyer, under, "ACT-1"); !errors.Is(err, ErrWrongAmount) {
		t.Fatalf("expected ErrWrongAmount for shortfall, got %v", err)
	}
	if err := engine.Deposit(id, params.Buyer, nil, "ACT-1"); !errors.Is(err, ErrWrongAmount) {
		t.Fatalf("expected ErrWrongAmount for nil value, got %v", err)
	}
}

func TestDepositAuthorization(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	id := newTestID(0x32)
	params := testParams()
	if _, err := engine.Create(id); err != nil {
		t.Fatalf("create: %v", err)
	}
	d, err := engine.Initialize(id, params)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	state.setBalance(params.Seller, d.TotalDeposit)
	if err := engine.Deposit(id, params.Seller, d.TotalDeposit, "ACT-1"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestDepositRejectsSecondDeposit(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	params := testParams()
	d := setupDeposited(t, state, engine, params)

	state.setBalance(params.Buyer, d.TotalDeposit)
	err := engine.Deposit(d.ID, params.Buyer, d.TotalDeposit, "ACT-43")
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if got := state.balance(d.VaultAddress()); got.Cmp(d.TotalDeposit) != 0 {
		t.Fatalf("vault balance changed on rejected deposit: %s", got)
	}
}

func TestDepositRequiresActNumber(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	id := newTestID(0x33)
	params := testParams()
	if _, err := engine.Create(id); err != nil {
		t.Fatalf("create: %v", err)
	}
	d, err := engine.Initialize(id, params)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	state.setBalance(params.Buyer, d.TotalDeposit)
	if err := engine.Deposit(id, params.Buyer, d.TotalDeposit, "   "); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams, got %v", err)
	}
}

func TestApproveDistributesFunds(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	params := testParams()
	d := setupDeposited(t, state, engine, params)

	if err := engine.ApproveSale(d.ID, params.Notary, "ACT-42"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	stored, err := engine.Get(d.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != StatusApproved {
		t.Fatalf("expected approved status, got %s", stored.Status)
	}
	if got := state.balance(params.Seller); got.Cmp(d.Price) != 0 {
		t.Fatalf("seller received %s, want %s", got, d.Price)
	}
	if got := state.balance(params.Agent); got.Cmp(d.AgentFeeAmount) != 0 {
		t.Fatalf("agent received %s, want %s", got, d.AgentFeeAmount)
	}
	if got := state.balance(params.Notary); got.Cmp(d.NotaryFeeAmount) != 0 {
		t.Fatalf("notary received %s, want %s", got, d.NotaryFeeAmount)
	}
	if got := state.balance(d.VaultAddress()); got.Sign() != 0 {
		t.Fatalf("vault not emptied: %s", got)
	}
}

func TestApproveWithoutAgentSkipsAgentLeg(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	params := testParams()
	params.Agent = [20]byte{}
	params.AgentFeeBps = 0
	d := setupDeposited(t, state, engine, params)

	if err := engine.ApproveSale(d.ID, params.Notary, "ACT-42"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if got := state.balance(params.Seller); got.Cmp(d.Price) != 0 {
		t.Fatalf("seller received %s, want %s", got, d.Price)
	}
	if got := state.balance(d.VaultAddress()); got.Sign() != 0 {
		t.Fatalf("vault not emptied: %s", got)
	}
}

func TestApproveRejectsActMismatch(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	params := testParams()
	d := setupDeposited(t, state, engine, params)

	if err := engine.ApproveSale(d.ID, params.Notary, "ACT-999"); !errors.Is(err, ErrActMismatch) {
		t.Fatalf("expected ErrActMismatch, got %v", err)
	}
	if got := state.balance(d.VaultAddress()); got.Cmp(d.TotalDeposit) != 0 {
		t.Fatalf("vault drained on rejected approval: %s", got)
	}
}

func TestApproveAuthorization(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	params := testParams()
	d := setupDeposited(t, state, engine, params)

	for _, caller := range [][20]byte{params.Buyer, params.Seller, params.Agent} {
		if err := engine.ApproveSale(d.ID, caller, "ACT-42"); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized for %x, got %v", caller[:2], err)
		}
	}
}

func TestApproveDeadlineBoundary(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	params := testParams()
	d := setupDeposited(t, state, engine, params)

	// Exactly at the deadline approval is rejected; one second before it is
	// still allowed.
	engine.SetNowFunc(func() int64 { return d.DeadlineAt() })
	if err := engine.ApproveSale(d.ID, params.Notary, "ACT-42"); !errors.Is(err, ErrDeadlinePassed) {
		t.Fatalf("expected ErrDeadlinePassed at deadline, got %v", err)
	}
	engine.SetNowFunc(func() int64 { return d.DeadlineAt() - 1 })
	if err := engine.ApproveSale(d.ID, params.Notary, "ACT-42"); err != nil {
		t.Fatalf("approve just before deadline: %v", err)
	}
}

func TestCancelRefundsBuyer(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	params := testParams()
	d := setupDeposited(t, state, engine, params)
	buyerBefore := state.balance(params.Buyer)

	if err := engine.CancelSale(d.ID, params.Notary); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	stored, err := engine.Get(d.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != StatusCancelled {
		t.Fatalf("expected cancelled status, got %s", stored.Status)
	}
	want := new(big.Int).Add(buyerBefore, d.TotalDeposit)
	if got := state.balance(params.Buyer); got.Cmp(want) != 0 {
		t.Fatalf("buyer refunded %s, want %s", got, want)
	}
	if got := state.balance(d.VaultAddress()); got.Sign() != 0 {
		t.Fatalf("vault not emptied: %s", got)
	}
}

func TestCancelAllowedAfterDeadline(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	params := testParams()
	d := setupDeposited(t, state, engine, params)

	engine.SetNowFunc(func() int64 { return d.DeadlineAt() + 1000 })
	if err := engine.CancelSale(d.ID, params.Notary); err != nil {
		t.Fatalf("cancel after deadline: %v", err)
	}
}

func TestRefundAfterDeadlineBoundary(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	params := testParams()
	d := setupDeposited(t, state, engine, params)
	buyerBefore := state.balance(params.Buyer)

	engine.SetNowFunc(func() int64 { return d.DeadlineAt() - 1 })
	if err := engine.RefundAfterDeadline(d.ID, params.Buyer); !errors.Is(err, ErrDeadlineNotReached) {
		t.Fatalf("expected ErrDeadlineNotReached before deadline, got %v", err)
	}
	engine.SetNowFunc(func() int64 { return d.DeadlineAt() })
	if err := engine.RefundAfterDeadline(d.ID, params.Buyer); err != nil {
		t.Fatalf("refund at deadline: %v", err)
	}
	stored, err := engine.Get(d.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != StatusExpired {
		t.Fatalf("expected expired status, got %s", stored.Status)
	}
	want := new(big.Int).Add(buyerBefore, d.TotalDeposit)
	if got := state.balance(params.Buyer); got.Cmp(want) != 0 {
		t.Fatalf("buyer refunded %s, want %s", got, want)
	}
}

func TestRefundAuthorization(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	params := testParams()
	d := setupDeposited(t, state, engine, params)

	engine.SetNowFunc(func() int64 { return d.DeadlineAt() + 1 })
	if err := engine.RefundAfterDeadline(d.ID, params.Seller); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestTerminalStateRejectsFurtherTransitions(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	params := testParams()
	d := setupDeposited(t, state, engine, params)

	if err := engine.ApproveSale(d.ID, params.Notary, "ACT-42"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := engine.ApproveSale(d.ID, params.Notary, "ACT-42"); !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("expected ErrAlreadyFinalized on re-approve, got %v", err)
	}
	if err := engine.CancelSale(d.ID, params.Notary); !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("expected ErrAlreadyFinalized on cancel, got %v", err)
	}
	engine.SetNowFunc(func() int64 { return d.DeadlineAt() + 1 })
	if err := engine.RefundAfterDeadline(d.ID, params.Buyer); !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("expected ErrAlreadyFinalized on refund, got %v", err)
	}
	if got := state.balance(params.Seller); got.Cmp(d.Price) != 0 {
		t.Fatalf("seller balance changed after terminal state: %s", got)
	}
}

func TestApproveRollsBackStatusOnSettleFailure(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	params := testParams()
	d := setupDeposited(t, state, engine, params)

	state.failPuts = true
	if err := engine.ApproveSale(d.ID, params.Notary, "ACT-42"); err == nil {
		t.Fatal("expected settle failure")
	}
	state.failPuts = false
	stored, err := engine.Get(d.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != StatusDeposited {
		t.Fatalf("status not rolled back, got %s", stored.Status)
	}
	if err := engine.ApproveSale(d.ID, params.Notary, "ACT-42"); err != nil {
		t.Fatalf("approve after recovery: %v", err)
	}
}

func TestSummaryReportsLifecycle(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	params := testParams()
	d := setupDeposited(t, state, engine, params)

	summary, err := engine.Summary(d.ID)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.Status != StatusDeposited || !summary.Deposited || summary.Finalized {
		t.Fatalf("unexpected summary flags: %+v", summary)
	}
	if summary.Balance.Cmp(d.TotalDeposit) != 0 {
		t.Fatalf("summary balance %s, want %s", summary.Balance, d.TotalDeposit)
	}
	if summary.TimeRemaining != d.DeadlineSeconds {
		t.Fatalf("time remaining %d, want %d", summary.TimeRemaining, d.DeadlineSeconds)
	}
}

func TestDocumentURLUsesGateway(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	id := newTestID(0x41)
	if _, err := engine.Create(id); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := engine.Initialize(id, testParams()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	url, err := engine.DocumentURL(id)
	if err != nil {
		t.Fatalf("document url: %v", err)
	}
	if url != "ipfs://QmTestDocumentRef" {
		t.Fatalf("unexpected document url: %q", url)
	}
	engine.SetDocumentGateway("https://gateway.example/ipfs/")
	url, err = engine.DocumentURL(id)
	if err != nil {
		t.Fatalf("document url: %v", err)
	}
	if url != "https://gateway.example/ipfs/QmTestDocumentRef" {
		t.Fatalf("unexpected document url: %q", url)
	}
}

func TestIsParticipant(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	id := newTestID(0x42)
	params := testParams()
	if _, err := engine.Create(id); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := engine.Initialize(id, params); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	for _, addr := range [][20]byte{params.Buyer, params.Seller, params.Notary, params.Agent} {
		ok, err := engine.IsParticipant(id, addr)
		if err != nil || !ok {
			t.Fatalf("expected participant %x: ok=%v err=%v", addr[:2], ok, err)
		}
	}
	ok, err := engine.IsParticipant(id, newTestAddress(0x99))
	if err != nil || ok {
		t.Fatalf("outsider flagged as participant: ok=%v err=%v", ok, err)
	}
}

func TestGetUnknownDeal(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	if _, err := engine.Get(newTestID(0x77)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
