package deal

import (
	"fmt"
	"math/big"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Status represents the lifecycle states of a single deal instance.
type Status uint8

const (
	// StatusDraft is the storage placeholder created by the factory before
	// the one-shot initialisation runs.
	StatusDraft Status = iota
	StatusInitialized
	StatusDeposited
	StatusApproved
	StatusCancelled
	StatusExpired
)

const (
	// FeeDenominator converts basis points to amounts: 10000 bps = 100%.
	FeeDenominator = 10_000
	// MaxCombinedFeeBps caps agent + notary fees at 20%.
	MaxCombinedFeeBps = 2_000
	// MinDeadlineDays and MaxDeadlineDays bound the approval window.
	MinDeadlineDays = 1
	MaxDeadlineDays = 365

	secondsPerDay = 24 * 60 * 60
)

var vaultPrefix = []byte("deal-vault:")

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	return s <= StatusExpired
}

// Finalized reports whether the status is terminal. Once terminal, no
// fund-moving operation may run again on the instance.
func (s Status) Finalized() bool {
	switch s {
	case StatusApproved, StatusCancelled, StatusExpired:
		return true
	default:
		return false
	}
}

func (s Status) String() string {
	switch s {
	case StatusDraft:
		return "draft"
	case StatusInitialized:
		return "initialized"
	case StatusDeposited:
		return "deposited"
	case StatusApproved:
		return "approved"
	case StatusCancelled:
		return "cancelled"
	case StatusExpired:
		return "expired"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Params carries the caller-supplied definition of a new deal.
type Params struct {
	Buyer               [20]byte
	Seller              [20]byte
	Notary              [20]byte
	Agent               [20]byte
	Price               *big.Int
	AgentFeeBps         uint32
	NotaryFeeBps        uint32
	PropertyDescription string
	DocumentRef         string
	ContractName        string
	DeadlineDays        uint32
}

// Deal captures one escrow's participants, fee schedule, deadline and
// runtime status. All monetary fields are in the smallest native unit.
type Deal struct {
	ID     [32]byte
	Buyer  [20]byte
	Seller [20]byte
	Notary [20]byte
	Agent  [20]byte

	Price           *big.Int
	AgentFeeBps     uint32
	NotaryFeeBps    uint32
	AgentFeeAmount  *big.Int
	NotaryFeeAmount *big.Int
	TotalDeposit    *big.Int

	PropertyDescription string
	DocumentRef         string
	ContractName        string

	DeadlineSeconds int64
	DepositTime     int64
	ActNumber       string
	CreatedAt       int64
	Status          Status
}

// Clone returns a deep copy so callers can safely mutate the result without
// affecting the stored instance.
func (d *Deal) Clone() *Deal {
	if d == nil {
		return nil
	}
	clone := *d
	clone.Price = cloneBigInt(d.Price)
	clone.AgentFeeAmount = cloneBigInt(d.AgentFeeAmount)
	clone.NotaryFeeAmount = cloneBigInt(d.NotaryFeeAmount)
	clone.TotalDeposit = cloneBigInt(d.TotalDeposit)
	return &clone
}

// VaultAddress derives the isolated account custodying this deal's funds.
// Each instance gets its own vault so a fault in one deal never reaches
// another's balance.
func (d *Deal) VaultAddress() [20]byte {
	buf := make([]byte, len(vaultPrefix)+len(d.ID))
	copy(buf, vaultPrefix)
	copy(buf[len(vaultPrefix):], d.ID[:])
	digest := ethcrypto.Keccak256(buf)
	var addr [20]byte
	copy(addr[:], digest[12:])
	return addr
}

// HasAgent reports whether an agent participates in the deal.
func (d *Deal) HasAgent() bool {
	return d.Agent != ([20]byte{})
}

// DeadlineAt returns the absolute approval deadline, or 0 before deposit.
func (d *Deal) DeadlineAt() int64 {
	if d.DepositTime == 0 {
		return 0
	}
	return d.DepositTime + d.DeadlineSeconds
}

// IsParticipant reports whether the address is the buyer, seller, notary or
// agent of this deal.
func (d *Deal) IsParticipant(addr [20]byte) bool {
	if addr == ([20]byte{}) {
		return false
	}
	return addr == d.Buyer || addr == d.Seller || addr == d.Notary || addr == d.Agent
}

// FeeAmount computes price*bps/10000 with truncating integer division.
func FeeAmount(price *big.Int, bps uint32) *big.Int {
	if price == nil {
		return big.NewInt(0)
	}
	amount := new(big.Int).Mul(price, new(big.Int).SetUint64(uint64(bps)))
	return amount.Div(amount, big.NewInt(FeeDenominator))
}

// ValidateParams checks every creation-time invariant: non-zero distinct
// participants, the combined fee cap, a positive price, non-empty metadata
// and a deadline within the supported range.
func ValidateParams(p *Params) error {
	if p == nil {
		return fmt.Errorf("%w: nil params", ErrInvalidParams)
	}
	var zero [20]byte
	if p.Buyer == zero || p.Seller == zero || p.Notary == zero {
		return fmt.Errorf("%w: buyer, seller and notary are required", ErrInvalidParams)
	}
	if p.Buyer == p.Seller || p.Buyer == p.Notary || p.Seller == p.Notary {
		return fmt.Errorf("%w: buyer, seller and notary must be distinct", ErrInvalidParams)
	}
	if p.Agent != zero {
		if p.Agent == p.Buyer || p.Agent == p.Seller || p.Agent == p.Notary {
			return fmt.Errorf("%w: agent must differ from the other participants", ErrInvalidParams)
		}
	} else if p.AgentFeeBps != 0 {
		return fmt.Errorf("%w: agent fee requires an agent", ErrInvalidParams)
	}
	// Widen before adding: the rates arrive as full-range uint32 values and
	// their sum must not wrap past the cap.
	if uint64(p.AgentFeeBps)+uint64(p.NotaryFeeBps) > MaxCombinedFeeBps {
		return fmt.Errorf("%w: combined fees exceed %d bps", ErrInvalidParams, MaxCombinedFeeBps)
	}
	if p.Price == nil || p.Price.Sign() <= 0 {
		return fmt.Errorf("%w: price must be positive", ErrInvalidParams)
	}
	if strings.TrimSpace(p.PropertyDescription) == "" {
		return fmt.Errorf("%w: property description required", ErrInvalidParams)
	}
	if strings.TrimSpace(p.DocumentRef) == "" {
		return fmt.Errorf("%w: document reference required", ErrInvalidParams)
	}
	if strings.TrimSpace(p.ContractName) == "" {
		return fmt.Errorf("%w: contract name required", ErrInvalidParams)
	}
	if p.DeadlineDays < MinDeadlineDays || p.DeadlineDays > MaxDeadlineDays {
		return fmt.Errorf("%w: deadline must be between %d and %d days", ErrInvalidParams, MinDeadlineDays, MaxDeadlineDays)
	}
	return nil
}

// SanitizeDeal validates and normalises a stored deal, returning a cloned
// instance with non-nil monetary fields. The original value is not mutated.
func SanitizeDeal(d *Deal) (*Deal, error) {
	if d == nil {
		return nil, fmt.Errorf("deal: nil deal")
	}
	clone := d.Clone()
	if clone.Price.Sign() < 0 || clone.TotalDeposit.Sign() < 0 {
		return nil, fmt.Errorf("deal: negative amount")
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("deal: invalid status %d", clone.Status)
	}
	clone.ActNumber = strings.TrimSpace(clone.ActNumber)
	return clone, nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
