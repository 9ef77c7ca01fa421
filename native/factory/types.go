package factory

import (
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const (
	// RoleAdmin marks addresses allowed to deploy instances and toggle
	// registry bookkeeping alongside the owner.
	RoleAdmin = "ROLE_FACTORY_ADMIN"

	moduleName = "factory"

	// MaxPageSize bounds every paginated registry query.
	MaxPageSize = 100
)

var feeVaultPreimage = []byte("factory-vault")

// FeeVaultAddress derives the account holding the factory's collected fees.
func FeeVaultAddress() [20]byte {
	digest := ethcrypto.Keccak256(feeVaultPreimage)
	var addr [20]byte
	copy(addr[:], digest[12:])
	return addr
}

// Record is the immutable registry snapshot of one deployment, plus the
// mutable IsActive bookkeeping flag. It never reaches into the deal
// instance's own state machine.
type Record struct {
	ID           uint64
	DealID       [32]byte
	Creator      [20]byte
	Buyer        [20]byte
	Seller       [20]byte
	Notary       [20]byte
	Agent        [20]byte
	Price        *big.Int
	AgentFeeBps  uint32
	NotaryFeeBps uint32
	ContractName string
	CreatedAt    int64
	IsActive     bool
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Price != nil {
		clone.Price = new(big.Int).Set(r.Price)
	} else {
		clone.Price = big.NewInt(0)
	}
	return &clone
}

// Stats aggregates the registry counters exposed to operators.
type Stats struct {
	TotalDeployed  uint64
	ActiveCount    uint64
	TotalCustodied *big.Int
	CollectedFees  *big.Int
	DeployFee      *big.Int
	Paused         bool
	Template       string
	Admins         [][20]byte
}

// storedRecord mirrors Record with RLP-friendly types.
type storedRecord struct {
	ID           uint64
	DealID       [32]byte
	Creator      [20]byte
	Buyer        [20]byte
	Seller       [20]byte
	Notary       [20]byte
	Agent        [20]byte
	Price        *big.Int
	AgentFeeBps  uint32
	NotaryFeeBps uint32
	ContractName string
	CreatedAt    *big.Int
	IsActive     bool
}

func newStoredRecord(r *Record) *storedRecord {
	price := big.NewInt(0)
	if r.Price != nil {
		price = new(big.Int).Set(r.Price)
	}
	return &storedRecord{
		ID:           r.ID,
		DealID:       r.DealID,
		Creator:      r.Creator,
		Buyer:        r.Buyer,
		Seller:       r.Seller,
		Notary:       r.Notary,
		Agent:        r.Agent,
		Price:        price,
		AgentFeeBps:  r.AgentFeeBps,
		NotaryFeeBps: r.NotaryFeeBps,
		ContractName: r.ContractName,
		CreatedAt:    big.NewInt(r.CreatedAt),
		IsActive:     r.IsActive,
	}
}

func (s *storedRecord) toRecord() (*Record, error) {
	if s == nil {
		return nil, fmt.Errorf("factory: nil registry record")
	}
	out := &Record{
		ID:           s.ID,
		DealID:       s.DealID,
		Creator:      s.Creator,
		Buyer:        s.Buyer,
		Seller:       s.Seller,
		Notary:       s.Notary,
		Agent:        s.Agent,
		Price:        big.NewInt(0),
		AgentFeeBps:  s.AgentFeeBps,
		NotaryFeeBps: s.NotaryFeeBps,
		ContractName: s.ContractName,
		IsActive:     s.IsActive,
	}
	if s.Price != nil {
		out.Price = new(big.Int).Set(s.Price)
	}
	if s.CreatedAt != nil {
		out.CreatedAt = s.CreatedAt.Int64()
	}
	return out, nil
}
