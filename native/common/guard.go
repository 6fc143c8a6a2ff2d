package common

import "fmt"

// ErrModulePaused is returned when a module guard blocks execution because the
// module has been paused by governance or node configuration.
var ErrModulePaused = fmt.Errorf("module paused")

// PauseView exposes read access to the node's pause switches.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard checks whether the named module is paused. A nil view means pauses are
// not configured and execution proceeds.
func Guard(p PauseView, module string) error {
	if p == nil {
		return nil
	}
	if p.IsPaused(module) {
		return fmt.Errorf("%w: %s", ErrModulePaused, module)
	}
	return nil
}
