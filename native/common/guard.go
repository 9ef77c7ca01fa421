package common

import "errors"

// ErrModulePaused is returned when a paused module rejects a mutating call.
var ErrModulePaused = errors.New("module paused")

// PauseView exposes the pause flag the factory keeps in its module state.
// Existing deal instances ignore it; only new deployments are gated.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects the call while the named module is paused. A nil view or
// empty module name disables the check, so engines without a pause switch
// can share the same call sites.
func Guard(view PauseView, module string) error {
	if view == nil || module == "" {
		return nil
	}
	if view.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
