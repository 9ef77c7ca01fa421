package deal

import "errors"

// Error categories mirror the failure taxonomy of the service: authorization,
// state preconditions, input validation and transfer failures. Callers match
// with errors.Is; detail is attached by wrapping.
var (
	ErrNotFound           = errors.New("deal: not found")
	ErrUnauthorized       = errors.New("deal: unauthorized caller")
	ErrInvalidState       = errors.New("deal: operation not valid in current state")
	ErrAlreadyFinalized   = errors.New("deal: already finalized")
	ErrAlreadyInitialized = errors.New("deal: already initialized")
	ErrDeadlinePassed     = errors.New("deal: deadline passed")
	ErrDeadlineNotReached = errors.New("deal: deadline not reached")
	ErrInvalidParams      = errors.New("deal: invalid params")
	ErrWrongAmount        = errors.New("deal: deposit amount must equal required total")
	ErrActMismatch        = errors.New("deal: act number does not match deposit commitment")
	ErrTransferFailed     = errors.New("deal: transfer failed")
)
