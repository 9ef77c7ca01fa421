package factory

import "errors"

var (
	ErrUnauthorized    = errors.New("factory: unauthorized caller")
	ErrOwnerNotSet     = errors.New("factory: owner not configured")
	ErrTemplateNotSet  = errors.New("factory: deal template not configured")
	ErrFeeTooLow       = errors.New("factory: submitted amount below deployment fee")
	ErrNoCollectedFees = errors.New("factory: no collected fees to withdraw")
	ErrNotFound        = errors.New("factory: deployment record not found")
	ErrAlreadyInactive = errors.New("factory: deployment record already inactive")
	ErrAdminIsOwner    = errors.New("factory: owner cannot be granted the admin role")
	ErrNotAdmin        = errors.New("factory: address does not hold the admin role")
	ErrInvalidParams   = errors.New("factory: invalid params")
	ErrTransferFailed  = errors.New("factory: transfer failed")
)
