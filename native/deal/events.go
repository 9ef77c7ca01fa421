package deal

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"dealvault/core/types"
)

const (
	EventTypeDealCreated   = "deal.created"
	EventTypeDealDeposited = "deal.deposited"
	EventTypeDealApproved  = "deal.approved"
	EventTypeDealCancelled = "deal.cancelled"
	EventTypeDealRefunded  = "deal.refunded"
)

// NewCreatedEvent returns the canonical payload for a newly initialised deal,
// carrying the computed totals.
func NewCreatedEvent(d *Deal) *types.Event { return newDealEvent(EventTypeDealCreated, d) }

// NewDepositedEvent returns the payload emitted when the buyer funds the
// instance vault.
func NewDepositedEvent(d *Deal) *types.Event {
	evt := newDealEvent(EventTypeDealDeposited, d)
	if evt.Attributes != nil && d != nil {
		evt.Attributes["depositTime"] = strconv.FormatInt(d.DepositTime, 10)
		evt.Attributes["actNumber"] = d.ActNumber
	}
	return evt
}

// NewApprovedEvent returns the payload emitted when the notary approves the
// sale and the funds are distributed.
func NewApprovedEvent(d *Deal) *types.Event {
	evt := newDealEvent(EventTypeDealApproved, d)
	if evt.Attributes != nil && d != nil {
		evt.Attributes["sellerAmount"] = d.Price.String()
		evt.Attributes["agentAmount"] = d.AgentFeeAmount.String()
		evt.Attributes["notaryAmount"] = d.NotaryFeeAmount.String()
	}
	return evt
}

// NewCancelledEvent returns the payload emitted when the notary cancels the
// sale and the balance returns to the buyer.
func NewCancelledEvent(d *Deal, refunded *big.Int) *types.Event {
	evt := newDealEvent(EventTypeDealCancelled, d)
	if evt.Attributes != nil && refunded != nil {
		evt.Attributes["refundedAmount"] = refunded.String()
	}
	return evt
}

// NewRefundedEvent returns the payload emitted when the buyer reclaims the
// balance after the deadline elapsed.
func NewRefundedEvent(d *Deal, refunded *big.Int) *types.Event {
	evt := newDealEvent(EventTypeDealRefunded, d)
	if evt.Attributes != nil && refunded != nil {
		evt.Attributes["refundedAmount"] = refunded.String()
	}
	return evt
}

func newDealEvent(eventType string, d *Deal) *types.Event {
	attrs := make(map[string]string)
	if d == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	sanitized, err := SanitizeDeal(d)
	if err != nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = hex.EncodeToString(sanitized.ID[:])
	attrs["buyer"] = hex.EncodeToString(sanitized.Buyer[:])
	attrs["seller"] = hex.EncodeToString(sanitized.Seller[:])
	attrs["notary"] = hex.EncodeToString(sanitized.Notary[:])
	if sanitized.HasAgent() {
		attrs["agent"] = hex.EncodeToString(sanitized.Agent[:])
	}
	attrs["price"] = sanitized.Price.String()
	attrs["agentFeeBps"] = strconv.FormatUint(uint64(sanitized.AgentFeeBps), 10)
	attrs["notaryFeeBps"] = strconv.FormatUint(uint64(sanitized.NotaryFeeBps), 10)
	attrs["totalDeposit"] = sanitized.TotalDeposit.String()
	attrs["contractName"] = sanitized.ContractName
	attrs["status"] = sanitized.Status.String()
	attrs["timestamp"] = strconv.FormatInt(sanitized.CreatedAt, 10)
	return &types.Event{Type: eventType, Attributes: attrs}
}
