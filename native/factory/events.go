package factory

import (
	"encoding/hex"
	"math/big"
	"strconv"
	"time"

	"dealvault/core/types"
)

const (
	EventTypeDeployed        = "factory.deployed"
	EventTypeTemplateUpdated = "factory.template_updated"
	EventTypeAdminAdded      = "factory.admin_added"
	EventTypeAdminRemoved    = "factory.admin_removed"
	EventTypePaused          = "factory.paused"
	EventTypeFeeUpdated      = "factory.fee_updated"
	EventTypeFeesWithdrawn   = "factory.fees_withdrawn"
	EventTypeDeactivated     = "factory.deactivated"
)

func baseAttrs() map[string]string {
	return map[string]string{
		"timestamp": strconv.FormatInt(time.Now().Unix(), 10),
	}
}

// NewDeployedEvent carries the registry snapshot of a successful deployment
// together with the charged fee and the excess returned to the caller.
func NewDeployedEvent(r *Record, fee, refund *big.Int) *types.Event {
	attrs := baseAttrs()
	if r != nil {
		attrs["instanceId"] = strconv.FormatUint(r.ID, 10)
		attrs["dealId"] = hex.EncodeToString(r.DealID[:])
		attrs["creator"] = hex.EncodeToString(r.Creator[:])
		attrs["buyer"] = hex.EncodeToString(r.Buyer[:])
		attrs["seller"] = hex.EncodeToString(r.Seller[:])
		attrs["notary"] = hex.EncodeToString(r.Notary[:])
		if r.Agent != ([20]byte{}) {
			attrs["agent"] = hex.EncodeToString(r.Agent[:])
		}
		attrs["price"] = r.Price.String()
		attrs["contractName"] = r.ContractName
	}
	if fee != nil {
		attrs["fee"] = fee.String()
	}
	if refund != nil {
		attrs["refund"] = refund.String()
	}
	return &types.Event{Type: EventTypeDeployed, Attributes: attrs}
}

// NewTemplateUpdatedEvent reports a template version change.
func NewTemplateUpdatedEvent(version string) *types.Event {
	attrs := baseAttrs()
	attrs["template"] = version
	return &types.Event{Type: EventTypeTemplateUpdated, Attributes: attrs}
}

// NewAdminEvent reports an admin grant or revocation.
func NewAdminEvent(eventType string, admin [20]byte) *types.Event {
	attrs := baseAttrs()
	attrs["admin"] = hex.EncodeToString(admin[:])
	return &types.Event{Type: eventType, Attributes: attrs}
}

// NewPausedEvent reports the deployment gate toggling.
func NewPausedEvent(paused bool) *types.Event {
	attrs := baseAttrs()
	attrs["paused"] = strconv.FormatBool(paused)
	return &types.Event{Type: EventTypePaused, Attributes: attrs}
}

// NewFeeUpdatedEvent reports a deployment fee change.
func NewFeeUpdatedEvent(fee *big.Int) *types.Event {
	attrs := baseAttrs()
	if fee != nil {
		attrs["fee"] = fee.String()
	}
	return &types.Event{Type: EventTypeFeeUpdated, Attributes: attrs}
}

// NewFeesWithdrawnEvent reports a successful fee withdrawal.
func NewFeesWithdrawnEvent(recipient [20]byte, amount *big.Int) *types.Event {
	attrs := baseAttrs()
	attrs["recipient"] = hex.EncodeToString(recipient[:])
	if amount != nil {
		attrs["amount"] = amount.String()
	}
	return &types.Event{Type: EventTypeFeesWithdrawn, Attributes: attrs}
}

// NewDeactivatedEvent reports a registry record losing its active flag.
func NewDeactivatedEvent(r *Record) *types.Event {
	attrs := baseAttrs()
	if r != nil {
		attrs["instanceId"] = strconv.FormatUint(r.ID, 10)
		attrs["dealId"] = hex.EncodeToString(r.DealID[:])
	}
	return &types.Event{Type: EventTypeDeactivated, Attributes: attrs}
}
