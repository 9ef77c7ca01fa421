package deal

import (
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"dealvault/core/events"
	"dealvault/core/types"
)

// DefaultDocumentGateway prefixes content-addressed document references when
// deriving a fetchable URL.
const DefaultDocumentGateway = "ipfs://"

type engineState interface {
	DealPut(*Deal) error
	DealGet(id [32]byte) (*Deal, bool, error)
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

type dealEvent struct {
	evt *types.Event
}

func (e dealEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e dealEvent) Event() *types.Event { return e.evt }

// Engine is the shared, stateless policy object behind every deal instance.
// Instances share the engine's logic while each keeps fully isolated state:
// its own stored record and its own derived vault account. Fund-moving
// transitions hold a per-instance lock and write the terminal status before
// any transfer leaves the vault.
type Engine struct {
	state       engineState
	emitter     events.Emitter
	nowFn       func() int64
	docGateway  string
	locksMu     sync.Mutex
	locks       map[[32]byte]*sync.Mutex
}

// NewEngine creates a deal engine with a no-op emitter. Callers can override
// the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter:    events.NoopEmitter{},
		nowFn:      func() int64 { return time.Now().Unix() },
		docGateway: DefaultDocumentGateway,
		locks:      make(map[[32]byte]*sync.Mutex),
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily
// intended for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetDocumentGateway overrides the prefix used to derive document URLs.
func (e *Engine) SetDocumentGateway(prefix string) {
	trimmed := strings.TrimSpace(prefix)
	if trimmed == "" {
		trimmed = DefaultDocumentGateway
	}
	e.docGateway = trimmed
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(dealEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// instanceLock returns the mutex guarding the given deal. The lock exists
// because the host environment, unlike a chain runtime, may invoke two
// operations on the same instance concurrently.
func (e *Engine) instanceLock(id [32]byte) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	lock, ok := e.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[id] = lock
	}
	return lock
}

func (e *Engine) loadDeal(id [32]byte) (*Deal, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	d, ok, err := e.state.DealGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return d, nil
}

func (e *Engine) storeDeal(d *Deal) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return e.state.DealPut(d)
}

var errNilState = fmt.Errorf("deal engine: state not configured")

// transfer is one leg of a settlement batch.
type transfer struct {
	from   [20]byte
	to     [20]byte
	amount *big.Int
}

// settle applies a batch of transfers atomically: every leg is staged
// against in-memory balance copies first, so an infeasible leg aborts the
// batch before any account is written.
func (e *Engine) settle(transfers []transfer) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	staged := make(map[[20]byte]*types.Account)
	load := func(addr [20]byte) (*types.Account, error) {
		if acc, ok := staged[addr]; ok {
			return acc, nil
		}
		acc, err := e.state.GetAccount(addr[:])
		if err != nil {
			return nil, err
		}
		acc = types.EnsureAccount(acc)
		staged[addr] = acc
		return acc, nil
	}
	touched := make([][20]byte, 0, len(transfers)*2)
	for _, t := range transfers {
		amount := cloneBigInt(t.amount)
		if amount.Sign() < 0 {
			return fmt.Errorf("%w: negative amount", ErrTransferFailed)
		}
		if amount.Sign() == 0 {
			continue
		}
		from, err := load(t.from)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
		to, err := load(t.to)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
		if from.Balance.Cmp(amount) < 0 {
			return fmt.Errorf("%w: insufficient balance", ErrTransferFailed)
		}
		from.Balance = new(big.Int).Sub(from.Balance, amount)
		to.Balance = new(big.Int).Add(to.Balance, amount)
		touched = append(touched, t.from, t.to)
	}
	written := make(map[[20]byte]bool)
	for _, addr := range touched {
		if written[addr] {
			continue
		}
		if err := e.state.PutAccount(addr[:], staged[addr]); err != nil {
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
		written[addr] = true
	}
	return nil
}

// Create persists a draft record for a factory-allocated identifier. The
// draft carries no funds and no participants until Initialize runs.
func (e *Engine) Create(id [32]byte) (*Deal, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if _, ok, err := e.state.DealGet(id); err != nil {
		return nil, err
	} else if ok {
		return nil, fmt.Errorf("%w: identifier already exists", ErrInvalidParams)
	}
	d := &Deal{
		ID:              id,
		Price:           big.NewInt(0),
		AgentFeeAmount:  big.NewInt(0),
		NotaryFeeAmount: big.NewInt(0),
		TotalDeposit:    big.NewInt(0),
		CreatedAt:       e.now(),
		Status:          StatusDraft,
	}
	if err := e.storeDeal(d); err != nil {
		return nil, err
	}
	return d.Clone(), nil
}

// Initialize runs the one-shot setup of a draft instance: it validates every
// creation-time invariant, computes the fee amounts and required deposit
// total, converts the deadline to seconds and moves the instance to
// Initialized. A second call is rejected by the draft guard.
func (e *Engine) Initialize(id [32]byte, params *Params) (*Deal, error) {
	d, err := e.loadDeal(id)
	if err != nil {
		return nil, err
	}
	if d.Status != StatusDraft {
		return nil, ErrAlreadyInitialized
	}
	if err := ValidateParams(params); err != nil {
		return nil, err
	}
	d.Buyer = params.Buyer
	d.Seller = params.Seller
	d.Notary = params.Notary
	d.Agent = params.Agent
	d.Price = cloneBigInt(params.Price)
	d.AgentFeeBps = params.AgentFeeBps
	d.NotaryFeeBps = params.NotaryFeeBps
	d.AgentFeeAmount = FeeAmount(d.Price, params.AgentFeeBps)
	d.NotaryFeeAmount = FeeAmount(d.Price, params.NotaryFeeBps)
	d.TotalDeposit = new(big.Int).Add(new(big.Int).Add(d.Price, d.AgentFeeAmount), d.NotaryFeeAmount)
	d.PropertyDescription = strings.TrimSpace(params.PropertyDescription)
	d.DocumentRef = strings.TrimSpace(params.DocumentRef)
	d.ContractName = strings.TrimSpace(params.ContractName)
	d.DeadlineSeconds = int64(params.DeadlineDays) * secondsPerDay
	d.Status = StatusInitialized
	if err := e.storeDeal(d); err != nil {
		return nil, err
	}
	e.emit(NewCreatedEvent(d))
	return d.Clone(), nil
}

// Deposit moves the exact required total from the buyer into the instance
// vault and records the act-number commitment. Only the buyer may deposit,
// only once, and only while the instance is Initialized.
func (e *Engine) Deposit(id [32]byte, caller [20]byte, value *big.Int, actNumber string) error {
	lock := e.instanceLock(id)
	lock.Lock()
	defer lock.Unlock()

	d, err := e.loadDeal(id)
	if err != nil {
		return err
	}
	switch {
	case d.Status == StatusDeposited:
		return fmt.Errorf("%w: already deposited", ErrInvalidState)
	case d.Status.Finalized():
		return ErrAlreadyFinalized
	case d.Status != StatusInitialized:
		return ErrInvalidState
	}
	if caller != d.Buyer {
		return ErrUnauthorized
	}
	act := strings.TrimSpace(actNumber)
	if act == "" {
		return fmt.Errorf("%w: act number required", ErrInvalidParams)
	}
	if value == nil || value.Cmp(d.TotalDeposit) != 0 {
		return ErrWrongAmount
	}
	if err := e.settle([]transfer{{from: d.Buyer, to: d.VaultAddress(), amount: value}}); err != nil {
		return err
	}
	d.DepositTime = e.now()
	d.ActNumber = act
	d.Status = StatusDeposited
	if err := e.storeDeal(d); err != nil {
		// The record still says Initialized, so a retry would transfer
		// again; return the funds so state and ledger stay consistent.
		if refundErr := e.settle([]transfer{{from: d.VaultAddress(), to: d.Buyer, amount: value}}); refundErr != nil {
			return fmt.Errorf("%w (refund failed: %v)", err, refundErr)
		}
		return err
	}
	e.emit(NewDepositedEvent(d))
	return nil
}

// ApproveSale distributes the custodied funds to seller, agent and notary.
// Only the notary may approve, only inside the deadline window, and only
// with the exact act number recorded at deposit time. The terminal status is
// written before the settlement runs and restored if the settlement fails.
func (e *Engine) ApproveSale(id [32]byte, caller [20]byte, actNumber string) error {
	lock := e.instanceLock(id)
	lock.Lock()
	defer lock.Unlock()

	d, err := e.loadDeal(id)
	if err != nil {
		return err
	}
	if d.Status.Finalized() {
		return ErrAlreadyFinalized
	}
	if d.Status != StatusDeposited {
		return ErrInvalidState
	}
	if caller != d.Notary {
		return ErrUnauthorized
	}
	if e.now() >= d.DeadlineAt() {
		return ErrDeadlinePassed
	}
	if strings.TrimSpace(actNumber) != d.ActNumber {
		return ErrActMismatch
	}
	vault := d.VaultAddress()
	transfers := []transfer{{from: vault, to: d.Seller, amount: d.Price}}
	if d.HasAgent() && d.AgentFeeAmount.Sign() > 0 {
		transfers = append(transfers, transfer{from: vault, to: d.Agent, amount: d.AgentFeeAmount})
	}
	if d.NotaryFeeAmount.Sign() > 0 {
		transfers = append(transfers, transfer{from: vault, to: d.Notary, amount: d.NotaryFeeAmount})
	}
	return e.finalize(d, StatusApproved, transfers, NewApprovedEvent)
}

// CancelSale refunds the instance's entire balance to the buyer on the
// notary's decision. There is deliberately no deadline restriction:
// cancellation always favours returning funds to the buyer.
func (e *Engine) CancelSale(id [32]byte, caller [20]byte) error {
	lock := e.instanceLock(id)
	lock.Lock()
	defer lock.Unlock()

	d, err := e.loadDeal(id)
	if err != nil {
		return err
	}
	if d.Status.Finalized() {
		return ErrAlreadyFinalized
	}
	if d.Status != StatusDeposited {
		return ErrInvalidState
	}
	if caller != d.Notary {
		return ErrUnauthorized
	}
	return e.refundToBuyer(d, StatusCancelled, NewCancelledEvent)
}

// RefundAfterDeadline is the buyer's unilateral escape hatch once the
// deadline window has elapsed without notary action.
func (e *Engine) RefundAfterDeadline(id [32]byte, caller [20]byte) error {
	lock := e.instanceLock(id)
	lock.Lock()
	defer lock.Unlock()

	d, err := e.loadDeal(id)
	if err != nil {
		return err
	}
	if d.Status.Finalized() {
		return ErrAlreadyFinalized
	}
	if d.Status != StatusDeposited {
		return ErrInvalidState
	}
	if caller != d.Buyer {
		return ErrUnauthorized
	}
	if e.now() < d.DeadlineAt() {
		return ErrDeadlineNotReached
	}
	return e.refundToBuyer(d, StatusExpired, NewRefundedEvent)
}

func (e *Engine) refundToBuyer(d *Deal, status Status, eventFn func(*Deal, *big.Int) *types.Event) error {
	vault := d.VaultAddress()
	account, err := e.state.GetAccount(vault[:])
	if err != nil {
		return err
	}
	balance := types.EnsureAccount(account).Balance
	return e.finalizeRefund(d, status, balance, eventFn)
}

func (e *Engine) finalizeRefund(d *Deal, status Status, balance *big.Int, eventFn func(*Deal, *big.Int) *types.Event) error {
	prior := d.Status
	d.Status = status
	if err := e.storeDeal(d); err != nil {
		return err
	}
	if err := e.settle([]transfer{{from: d.VaultAddress(), to: d.Buyer, amount: balance}}); err != nil {
		d.Status = prior
		if storeErr := e.storeDeal(d); storeErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, storeErr)
		}
		return err
	}
	e.emit(eventFn(d, balance))
	return nil
}

// finalize writes the terminal status before any transfer leaves the vault
// and rolls the status back if the settlement batch fails. This ordering is
// what prevents a reentrant or failed-transfer call from re-triggering
// disbursement of the same funds.
func (e *Engine) finalize(d *Deal, status Status, transfers []transfer, eventFn func(*Deal) *types.Event) error {
	prior := d.Status
	d.Status = status
	if err := e.storeDeal(d); err != nil {
		return err
	}
	if err := e.settle(transfers); err != nil {
		d.Status = prior
		if storeErr := e.storeDeal(d); storeErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, storeErr)
		}
		return err
	}
	e.emit(eventFn(d))
	return nil
}

// --- Read-only accessors ---

// Get returns a copy of the stored deal.
func (e *Engine) Get(id [32]byte) (*Deal, error) {
	d, err := e.loadDeal(id)
	if err != nil {
		return nil, err
	}
	return d.Clone(), nil
}

// FeeBreakdown summarises the deal's fee schedule and required deposit.
type FeeBreakdown struct {
	Price           *big.Int
	AgentFeeBps     uint32
	NotaryFeeBps    uint32
	AgentFeeAmount  *big.Int
	NotaryFeeAmount *big.Int
	TotalDeposit    *big.Int
}

// Fees returns the fee breakdown computed at initialisation.
func (e *Engine) Fees(id [32]byte) (*FeeBreakdown, error) {
	d, err := e.loadDeal(id)
	if err != nil {
		return nil, err
	}
	return &FeeBreakdown{
		Price:           cloneBigInt(d.Price),
		AgentFeeBps:     d.AgentFeeBps,
		NotaryFeeBps:    d.NotaryFeeBps,
		AgentFeeAmount:  cloneBigInt(d.AgentFeeAmount),
		NotaryFeeAmount: cloneBigInt(d.NotaryFeeAmount),
		TotalDeposit:    cloneBigInt(d.TotalDeposit),
	}, nil
}

// StatusSummary reports a deal's current position in its lifecycle together
// with the live custodied balance.
type StatusSummary struct {
	Status        Status
	Deposited     bool
	Finalized     bool
	Balance       *big.Int
	DepositTime   int64
	DeadlineAt    int64
	TimeRemaining int64
}

// Summary returns the live status view of the deal.
func (e *Engine) Summary(id [32]byte) (*StatusSummary, error) {
	d, err := e.loadDeal(id)
	if err != nil {
		return nil, err
	}
	vault := d.VaultAddress()
	account, err := e.state.GetAccount(vault[:])
	if err != nil {
		return nil, err
	}
	summary := &StatusSummary{
		Status:      d.Status,
		Deposited:   d.Status == StatusDeposited || d.Status.Finalized(),
		Finalized:   d.Status.Finalized(),
		Balance:     types.EnsureAccount(account).Balance,
		DepositTime: d.DepositTime,
		DeadlineAt:  d.DeadlineAt(),
	}
	if d.Status == StatusDeposited {
		if remaining := d.DeadlineAt() - e.now(); remaining > 0 {
			summary.TimeRemaining = remaining
		}
	}
	return summary, nil
}

// DocumentURL derives the fetchable URL of the externally stored document.
func (e *Engine) DocumentURL(id [32]byte) (string, error) {
	d, err := e.loadDeal(id)
	if err != nil {
		return "", err
	}
	return e.docGateway + d.DocumentRef, nil
}

// IsParticipant reports whether the address belongs to the deal.
func (e *Engine) IsParticipant(id [32]byte, addr [20]byte) (bool, error) {
	d, err := e.loadDeal(id)
	if err != nil {
		return false, err
	}
	return d.IsParticipant(addr), nil
}

// IsActive reports whether the deal is deposited and not yet finalized.
func (e *Engine) IsActive(id [32]byte) (bool, error) {
	d, err := e.loadDeal(id)
	if err != nil {
		return false, err
	}
	return d.Status == StatusDeposited, nil
}

// IsDeadlineExpired reports whether the approval window has closed.
func (e *Engine) IsDeadlineExpired(id [32]byte) (bool, error) {
	d, err := e.loadDeal(id)
	if err != nil {
		return false, err
	}
	if d.DepositTime == 0 {
		return false, nil
	}
	return e.now() >= d.DeadlineAt(), nil
}

// VaultBalance returns the instance's current custodied balance.
func (e *Engine) VaultBalance(id [32]byte) (*big.Int, error) {
	d, err := e.loadDeal(id)
	if err != nil {
		return nil, err
	}
	vault := d.VaultAddress()
	account, err := e.state.GetAccount(vault[:])
	if err != nil {
		return nil, err
	}
	return types.EnsureAccount(account).Balance, nil
}
