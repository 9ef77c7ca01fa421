package state

import (
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"dealvault/native/deal"
)

var dealRecordPrefix = []byte("deal:")

func dealStorageKey(id [32]byte) []byte {
	buf := make([]byte, len(dealRecordPrefix)+len(id))
	copy(buf, dealRecordPrefix)
	copy(buf[len(dealRecordPrefix):], id[:])
	return ethcrypto.Keccak256(buf)
}

// storedDeal mirrors deal.Deal with RLP-friendly field types. Signed
// timestamps travel as big integers because RLP has no signed encoding.
type storedDeal struct {
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

	DeadlineSeconds *big.Int
	DepositTime     *big.Int
	ActNumber       string
	CreatedAt       *big.Int
	Status          uint8
}

func newStoredDeal(d *deal.Deal) *storedDeal {
	return &storedDeal{
		ID:                  d.ID,
		Buyer:               d.Buyer,
		Seller:              d.Seller,
		Notary:              d.Notary,
		Agent:               d.Agent,
		Price:               ensureBig(d.Price),
		AgentFeeBps:         d.AgentFeeBps,
		NotaryFeeBps:        d.NotaryFeeBps,
		AgentFeeAmount:      ensureBig(d.AgentFeeAmount),
		NotaryFeeAmount:     ensureBig(d.NotaryFeeAmount),
		TotalDeposit:        ensureBig(d.TotalDeposit),
		PropertyDescription: d.PropertyDescription,
		DocumentRef:         d.DocumentRef,
		ContractName:        d.ContractName,
		DeadlineSeconds:     big.NewInt(d.DeadlineSeconds),
		DepositTime:         big.NewInt(d.DepositTime),
		ActNumber:           d.ActNumber,
		CreatedAt:           big.NewInt(d.CreatedAt),
		Status:              uint8(d.Status),
	}
}

func (s *storedDeal) toDeal() (*deal.Deal, error) {
	if s == nil {
		return nil, fmt.Errorf("state: nil deal record")
	}
	out := &deal.Deal{
		ID:                  s.ID,
		Buyer:               s.Buyer,
		Seller:              s.Seller,
		Notary:              s.Notary,
		Agent:               s.Agent,
		Price:               ensureBig(s.Price),
		AgentFeeBps:         s.AgentFeeBps,
		NotaryFeeBps:        s.NotaryFeeBps,
		AgentFeeAmount:      ensureBig(s.AgentFeeAmount),
		NotaryFeeAmount:     ensureBig(s.NotaryFeeAmount),
		TotalDeposit:        ensureBig(s.TotalDeposit),
		PropertyDescription: s.PropertyDescription,
		DocumentRef:         s.DocumentRef,
		ContractName:        s.ContractName,
		ActNumber:           s.ActNumber,
		Status:              deal.Status(s.Status),
	}
	if s.DeadlineSeconds != nil {
		out.DeadlineSeconds = s.DeadlineSeconds.Int64()
	}
	if s.DepositTime != nil {
		out.DepositTime = s.DepositTime.Int64()
	}
	if s.CreatedAt != nil {
		out.CreatedAt = s.CreatedAt.Int64()
	}
	if !out.Status.Valid() {
		return nil, fmt.Errorf("state: invalid deal status %d", s.Status)
	}
	return out, nil
}

func ensureBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// DealPut validates and persists the deal record.
func (m *Manager) DealPut(d *deal.Deal) error {
	sanitized, err := deal.SanitizeDeal(d)
	if err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(newStoredDeal(sanitized))
	if err != nil {
		return err
	}
	return m.db.Put(dealStorageKey(sanitized.ID), encoded)
}

// DealGet retrieves a deal record by identifier. The boolean reports whether
// the record exists; the returned deal is a private copy.
func (m *Manager) DealGet(id [32]byte) (*deal.Deal, bool, error) {
	data, err := m.get(dealStorageKey(id))
	if err != nil {
		return nil, false, err
	}
	if len(data) == 0 {
		return nil, false, nil
	}
	stored := new(storedDeal)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, false, err
	}
	d, err := stored.toDeal()
	if err != nil {
		return nil, false, err
	}
	return d, true, nil
}
