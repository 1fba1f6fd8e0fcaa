//go:build !darwin && !linux && !windows

package hotkey

import "context"

// RegisterSource is unavailable on this platform.
type RegisterSource struct{}

func (RegisterSource) Run(context.Context, Combo, chan<- KeyEvent) error {
	return ErrUnsupported
}
