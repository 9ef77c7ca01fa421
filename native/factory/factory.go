package factory

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"dealvault/core/events"
	"dealvault/core/types"
	nativecommon "dealvault/native/common"
	"dealvault/native/deal"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	kvOwner       = []byte("factory/owner")
	kvDeployFee   = []byte("factory/deploy-fee")
	kvCollected   = []byte("factory/collected-fees")
	kvCounter     = []byte("factory/instance-counter")
	kvPaused      = []byte("factory/paused")
	kvTemplate    = []byte("factory/template")
	kvActiveCount = []byte("factory/active-count")

	recordPrefix           = []byte("factory/record/")
	creatorIndexPrefix     = []byte("factory/index/creator/")
	participantIndexPrefix = []byte("factory/index/participant/")
)

type factoryState interface {
	HasRole(role string, addr []byte) bool
	SetRole(role string, addr []byte) error
	UnsetRole(role string, addr []byte) error
	RoleMembers(role string) ([][]byte, error)
	KVPut(key []byte, value interface{}) error
	KVGet(key []byte, out interface{}) (bool, error)
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

type dealBackend interface {
	Create(id [32]byte) (*deal.Deal, error)
	Initialize(id [32]byte, params *deal.Params) (*deal.Deal, error)
	VaultBalance(id [32]byte) (*big.Int, error)
}

type factoryEvent struct {
	evt *types.Event
}

func (e factoryEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e factoryEvent) Event() *types.Event { return e.evt }

// Factory validates and charges for new-deal requests, instantiates isolated
// deal instances from the configured template and tracks them in a registry
// indexed by creator and participant. All mutating operations run under one
// mutex so a deployment is a single serialized unit of work.
type Factory struct {
	mu      sync.Mutex
	state   factoryState
	deals   dealBackend
	emitter events.Emitter
	nowFn   func() int64
}

// New creates a factory over the provided state and deal backend.
func New(state factoryState, deals dealBackend) *Factory {
	return &Factory{
		state:   state,
		deals:   deals,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (f *Factory) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		f.emitter = events.NoopEmitter{}
		return
	}
	f.emitter = emitter
}

// SetNowFunc overrides the time source, primarily for tests.
func (f *Factory) SetNowFunc(now func() int64) {
	if now == nil {
		f.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	f.nowFn = now
}

func (f *Factory) emit(evt *types.Event) {
	if f == nil || f.emitter == nil || evt == nil {
		return
	}
	f.emitter.Emit(factoryEvent{evt: evt})
}

// Bootstrap stores the owner on first start. A previously stored owner wins
// so a config edit cannot silently rotate ownership.
func (f *Factory) Bootstrap(owner [20]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if owner == ([20]byte{}) {
		return fmt.Errorf("%w: zero owner address", ErrInvalidParams)
	}
	var stored []byte
	ok, err := f.state.KVGet(kvOwner, &stored)
	if err != nil {
		return err
	}
	if ok && len(stored) == 20 {
		return nil
	}
	return f.state.KVPut(kvOwner, owner[:])
}

// Owner returns the configured owner address.
func (f *Factory) Owner() ([20]byte, error) {
	var stored []byte
	ok, err := f.state.KVGet(kvOwner, &stored)
	if err != nil {
		return [20]byte{}, err
	}
	if !ok || len(stored) != 20 {
		return [20]byte{}, ErrOwnerNotSet
	}
	var owner [20]byte
	copy(owner[:], stored)
	return owner, nil
}

func (f *Factory) requireOwner(caller [20]byte) error {
	owner, err := f.Owner()
	if err != nil {
		return err
	}
	if caller != owner {
		return ErrUnauthorized
	}
	return nil
}

func (f *Factory) requireOwnerOrAdmin(caller [20]byte) error {
	owner, err := f.Owner()
	if err != nil {
		return err
	}
	if caller == owner || f.state.HasRole(RoleAdmin, caller[:]) {
		return nil
	}
	return ErrUnauthorized
}

// IsPaused implements nativecommon.PauseView for the factory module.
func (f *Factory) IsPaused(module string) bool {
	if module != moduleName {
		return false
	}
	var paused bool
	ok, err := f.state.KVGet(kvPaused, &paused)
	if err != nil || !ok {
		return false
	}
	return paused
}

func (f *Factory) counter() (uint64, error) {
	var counter uint64
	if _, err := f.state.KVGet(kvCounter, &counter); err != nil {
		return 0, err
	}
	return counter, nil
}

func (f *Factory) bigKV(key []byte) (*big.Int, error) {
	value := new(big.Int)
	ok, err := f.state.KVGet(key, value)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return value, nil
}

// DeployFee returns the configured per-deployment fee.
func (f *Factory) DeployFee() (*big.Int, error) { return f.bigKV(kvDeployFee) }

// CollectedFees returns the accumulated, not-yet-withdrawn fee balance.
func (f *Factory) CollectedFees() (*big.Int, error) { return f.bigKV(kvCollected) }

// Template returns the configured template version, empty when unset.
func (f *Factory) Template() (string, error) {
	var tpl string
	if _, err := f.state.KVGet(kvTemplate, &tpl); err != nil {
		return "", err
	}
	return tpl, nil
}

func recordKey(id uint64) []byte {
	buf := make([]byte, len(recordPrefix)+8)
	copy(buf, recordPrefix)
	binary.BigEndian.PutUint64(buf[len(recordPrefix):], id)
	return buf
}

func indexKey(prefix []byte, addr [20]byte) []byte {
	buf := make([]byte, len(prefix)+len(addr))
	copy(buf, prefix)
	copy(buf[len(prefix):], addr[:])
	return buf
}

func encodeID(id uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, id)
	return buf
}

func (f *Factory) loadRecord(id uint64) (*Record, error) {
	stored := new(storedRecord)
	ok, err := f.state.KVGet(recordKey(id), stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return stored.toRecord()
}

func (f *Factory) storeRecord(r *Record) error {
	return f.state.KVPut(recordKey(r.ID), newStoredRecord(r))
}

// transferNative moves funds between two ledger accounts, checking the
// debit side before writing either account.
func (f *Factory) transferNative(from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("%w: negative amount", ErrTransferFailed)
	}
	fromAcc, err := f.state.GetAccount(from[:])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	toAcc, err := f.state.GetAccount(to[:])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	fromAcc = types.EnsureAccount(fromAcc)
	toAcc = types.EnsureAccount(toAcc)
	if fromAcc.Balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: insufficient balance", ErrTransferFailed)
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amount)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amount)
	if err := f.state.PutAccount(from[:], fromAcc); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := f.state.PutAccount(to[:], toAcc); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	return nil
}

// DeployInstance validates and charges for a new deal, instantiates an
// isolated instance from the template and records it in the registry. The
// submitted value must cover the deployment fee; only the fee is debited so
// the excess never leaves the caller. The caller-supplied parameters are
// re-validated here independently of the instance's own initialisation.
func (f *Factory) DeployInstance(caller [20]byte, value *big.Int, params *deal.Params) (*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.requireOwnerOrAdmin(caller); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(f, moduleName); err != nil {
		return nil, err
	}
	tpl, err := f.Template()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(tpl) == "" {
		return nil, ErrTemplateNotSet
	}
	fee, err := f.DeployFee()
	if err != nil {
		return nil, err
	}
	if value == nil {
		value = big.NewInt(0)
	}
	if value.Cmp(fee) < 0 {
		return nil, ErrFeeTooLow
	}
	if err := deal.ValidateParams(params); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	callerAcc, err := f.state.GetAccount(caller[:])
	if err != nil {
		return nil, err
	}
	if types.EnsureAccount(callerAcc).Balance.Cmp(fee) < 0 {
		return nil, fmt.Errorf("%w: insufficient balance for deployment fee", ErrTransferFailed)
	}

	counter, err := f.counter()
	if err != nil {
		return nil, err
	}
	id := counter + 1
	now := f.nowFn()
	dealID := deriveDealID(id, params, now)

	if _, err := f.deals.Create(dealID); err != nil {
		return nil, err
	}
	if _, err := f.deals.Initialize(dealID, params); err != nil {
		// The draft stays inert: nothing references it and it can never
		// hold funds, so a failed initialisation leaves no registry residue.
		return nil, err
	}

	if err := f.transferNative(caller, FeeVaultAddress(), fee); err != nil {
		return nil, err
	}
	collected, err := f.CollectedFees()
	if err != nil {
		return nil, err
	}
	if err := f.state.KVPut(kvCollected, new(big.Int).Add(collected, fee)); err != nil {
		return nil, err
	}

	record := &Record{
		ID:           id,
		DealID:       dealID,
		Creator:      caller,
		Buyer:        params.Buyer,
		Seller:       params.Seller,
		Notary:       params.Notary,
		Agent:        params.Agent,
		Price:        new(big.Int).Set(params.Price),
		AgentFeeBps:  params.AgentFeeBps,
		NotaryFeeBps: params.NotaryFeeBps,
		ContractName: strings.TrimSpace(params.ContractName),
		CreatedAt:    now,
		IsActive:     true,
	}
	if err := f.storeRecord(record); err != nil {
		return nil, err
	}
	if err := f.state.KVPut(kvCounter, id); err != nil {
		return nil, err
	}
	if err := f.state.KVAppend(indexKey(creatorIndexPrefix, caller), encodeID(id)); err != nil {
		return nil, err
	}
	for _, participant := range [][20]byte{params.Buyer, params.Seller, params.Notary, params.Agent} {
		if participant == ([20]byte{}) {
			continue
		}
		if err := f.state.KVAppend(indexKey(participantIndexPrefix, participant), encodeID(id)); err != nil {
			return nil, err
		}
	}
	active, err := f.activeCount()
	if err != nil {
		return nil, err
	}
	if err := f.state.KVPut(kvActiveCount, active+1); err != nil {
		return nil, err
	}
	f.emit(NewDeployedEvent(record, fee, new(big.Int).Sub(value, fee)))
	return record.Clone(), nil
}

func deriveDealID(id uint64, params *deal.Params, now int64) [32]byte {
	buf := make([]byte, 0, 8+20*3+8)
	buf = append(buf, encodeID(id)...)
	buf = append(buf, params.Buyer[:]...)
	buf = append(buf, params.Seller[:]...)
	buf = append(buf, params.Notary[:]...)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(now))
	buf = append(buf, ts[:]...)
	var out [32]byte
	copy(out[:], ethcrypto.Keccak256(buf))
	return out
}

func (f *Factory) activeCount() (uint64, error) {
	var count uint64
	if _, err := f.state.KVGet(kvActiveCount, &count); err != nil {
		return 0, err
	}
	return count, nil
}

// SetTemplate configures the template version all new instances clone.
func (f *Factory) SetTemplate(caller [20]byte, version string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.requireOwner(caller); err != nil {
		return err
	}
	trimmed := strings.TrimSpace(version)
	if trimmed == "" {
		return fmt.Errorf("%w: template version required", ErrInvalidParams)
	}
	if err := f.state.KVPut(kvTemplate, trimmed); err != nil {
		return err
	}
	f.emit(NewTemplateUpdatedEvent(trimmed))
	return nil
}

// SetDeployFee updates the per-deployment fee.
func (f *Factory) SetDeployFee(caller [20]byte, fee *big.Int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.requireOwner(caller); err != nil {
		return err
	}
	if fee == nil || fee.Sign() < 0 {
		return fmt.Errorf("%w: fee must be non-negative", ErrInvalidParams)
	}
	if err := f.state.KVPut(kvDeployFee, new(big.Int).Set(fee)); err != nil {
		return err
	}
	f.emit(NewFeeUpdatedEvent(fee))
	return nil
}

// WithdrawFees zeroes the collected balance and transfers it to the
// recipient. A failed transfer restores the balance so no fees are lost.
func (f *Factory) WithdrawFees(caller, recipient [20]byte) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.requireOwner(caller); err != nil {
		return nil, err
	}
	if recipient == ([20]byte{}) {
		return nil, fmt.Errorf("%w: zero recipient", ErrInvalidParams)
	}
	collected, err := f.CollectedFees()
	if err != nil {
		return nil, err
	}
	if collected.Sign() == 0 {
		return nil, ErrNoCollectedFees
	}
	if err := f.state.KVPut(kvCollected, big.NewInt(0)); err != nil {
		return nil, err
	}
	if err := f.transferNative(FeeVaultAddress(), recipient, collected); err != nil {
		if restoreErr := f.state.KVPut(kvCollected, collected); restoreErr != nil {
			return nil, fmt.Errorf("%w (restore failed: %v)", err, restoreErr)
		}
		return nil, err
	}
	f.emit(NewFeesWithdrawnEvent(recipient, collected))
	return collected, nil
}

// AddAdmin grants the admin role. The owner itself cannot hold it.
func (f *Factory) AddAdmin(caller, admin [20]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.requireOwner(caller); err != nil {
		return err
	}
	if admin == ([20]byte{}) {
		return fmt.Errorf("%w: zero admin address", ErrInvalidParams)
	}
	owner, err := f.Owner()
	if err != nil {
		return err
	}
	if admin == owner {
		return ErrAdminIsOwner
	}
	if err := f.state.SetRole(RoleAdmin, admin[:]); err != nil {
		return err
	}
	f.emit(NewAdminEvent(EventTypeAdminAdded, admin))
	return nil
}

// RemoveAdmin revokes the admin role; removing a non-admin is rejected.
func (f *Factory) RemoveAdmin(caller, admin [20]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.requireOwner(caller); err != nil {
		return err
	}
	if !f.state.HasRole(RoleAdmin, admin[:]) {
		return ErrNotAdmin
	}
	if err := f.state.UnsetRole(RoleAdmin, admin[:]); err != nil {
		return err
	}
	f.emit(NewAdminEvent(EventTypeAdminRemoved, admin))
	return nil
}

// Pause toggles the deployment gate. Existing instances are autonomous and
// unaffected.
func (f *Factory) Pause(caller [20]byte, paused bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.requireOwner(caller); err != nil {
		return err
	}
	if err := f.state.KVPut(kvPaused, paused); err != nil {
		return err
	}
	f.emit(NewPausedEvent(paused))
	return nil
}

// MarkInactive clears the registry record's bookkeeping flag. The underlying
// deal instance is untouched.
func (f *Factory) MarkInactive(caller [20]byte, id uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.requireOwnerOrAdmin(caller); err != nil {
		return err
	}
	record, err := f.loadRecord(id)
	if err != nil {
		return err
	}
	if !record.IsActive {
		return ErrAlreadyInactive
	}
	record.IsActive = false
	if err := f.storeRecord(record); err != nil {
		return err
	}
	active, err := f.activeCount()
	if err != nil {
		return err
	}
	if active > 0 {
		if err := f.state.KVPut(kvActiveCount, active-1); err != nil {
			return err
		}
	}
	f.emit(NewDeactivatedEvent(record))
	return nil
}

// --- Registry queries ---

func clampLimit(limit int) int {
	if limit <= 0 || limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}

// Get returns the registry record for the given instance ID.
func (f *Factory) Get(id uint64) (*Record, error) {
	return f.loadRecord(id)
}

// RecentDeployments returns registry records newest-first, skipping offset
// entries and returning at most limit records (bounded by MaxPageSize).
func (f *Factory) RecentDeployments(offset, limit int) ([]*Record, error) {
	limit = clampLimit(limit)
	if offset < 0 {
		offset = 0
	}
	counter, err := f.counter()
	if err != nil {
		return nil, err
	}
	records := make([]*Record, 0, limit)
	for id := counter; id > 0 && len(records) < limit; id-- {
		if offset > 0 {
			offset--
			continue
		}
		record, err := f.loadRecord(id)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// ActiveDeployments returns still-active registry records newest-first.
func (f *Factory) ActiveDeployments(offset, limit int) ([]*Record, error) {
	limit = clampLimit(limit)
	if offset < 0 {
		offset = 0
	}
	counter, err := f.counter()
	if err != nil {
		return nil, err
	}
	records := make([]*Record, 0, limit)
	for id := counter; id > 0 && len(records) < limit; id-- {
		record, err := f.loadRecord(id)
		if err != nil {
			return nil, err
		}
		if !record.IsActive {
			continue
		}
		if offset > 0 {
			offset--
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// DeploymentsByCreator returns the creator's records newest-first.
func (f *Factory) DeploymentsByCreator(creator [20]byte, offset, limit int) ([]*Record, error) {
	return f.byIndex(indexKey(creatorIndexPrefix, creator), offset, limit)
}

// DeploymentsByParticipant returns records in which the address takes part,
// newest-first.
func (f *Factory) DeploymentsByParticipant(participant [20]byte, offset, limit int) ([]*Record, error) {
	return f.byIndex(indexKey(participantIndexPrefix, participant), offset, limit)
}

func (f *Factory) byIndex(key []byte, offset, limit int) ([]*Record, error) {
	limit = clampLimit(limit)
	if offset < 0 {
		offset = 0
	}
	var ids [][]byte
	if err := f.state.KVGetList(key, &ids); err != nil {
		return nil, err
	}
	records := make([]*Record, 0, limit)
	for i := len(ids) - 1; i >= 0 && len(records) < limit; i-- {
		if offset > 0 {
			offset--
			continue
		}
		if len(ids[i]) != 8 {
			return nil, fmt.Errorf("factory: malformed index entry")
		}
		record, err := f.loadRecord(binary.BigEndian.Uint64(ids[i]))
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// Statistics aggregates registry counters, including the total value
// currently custodied by still-active instances.
func (f *Factory) Statistics() (*Stats, error) {
	counter, err := f.counter()
	if err != nil {
		return nil, err
	}
	active, err := f.activeCount()
	if err != nil {
		return nil, err
	}
	collected, err := f.CollectedFees()
	if err != nil {
		return nil, err
	}
	fee, err := f.DeployFee()
	if err != nil {
		return nil, err
	}
	tpl, err := f.Template()
	if err != nil {
		return nil, err
	}
	custodied := big.NewInt(0)
	for id := counter; id > 0; id-- {
		record, err := f.loadRecord(id)
		if err != nil {
			return nil, err
		}
		if !record.IsActive {
			continue
		}
		balance, err := f.deals.VaultBalance(record.DealID)
		if err != nil {
			return nil, err
		}
		custodied.Add(custodied, balance)
	}
	members, err := f.state.RoleMembers(RoleAdmin)
	if err != nil {
		return nil, err
	}
	admins := make([][20]byte, 0, len(members))
	for _, member := range members {
		if len(member) != 20 {
			continue
		}
		var addr [20]byte
		copy(addr[:], member)
		admins = append(admins, addr)
	}
	return &Stats{
		TotalDeployed:  counter,
		ActiveCount:    active,
		TotalCustodied: custodied,
		CollectedFees:  collected,
		DeployFee:      fee,
		Paused:         f.IsPaused(moduleName),
		Template:       tpl,
		Admins:         admins,
	}, nil
}
