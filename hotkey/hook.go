package hotkey

import (
	"context"

	hook "github.com/robotn/gohook"
)

// hookModifiers folds left and right modifier keys onto combo names.
var hookModifiers = map[string]string{
	"ctrl":   "ctrl",
	"rctrl":  "ctrl",
	"shift":  "shift",
	"rshift": "shift",
	"alt":    "alt",
	"ralt":   "alt",
	"cmd":    "super",
	"rcmd":   "super",
}

// hookKeyNames maps combo key names to gohook names where they differ.
var hookKeyNames = map[string]string{
	"return": "enter",
	"escape": "esc",
}

// HookSource observes every key through a low-level keyboard hook. It needs
// accessibility permission on macOS and sees keys the OS would otherwise
// deliver to the focused app.
type HookSource struct{}

func (HookSource) Run(ctx context.Context, c Combo, events chan<- KeyEvent) error {
	key := c.Key
	if n, ok := hookKeyNames[key]; ok {
		key = n
	}
	names := make(map[uint16]string)
	for name, code := range hook.Keycode {
		if mod, ok := hookModifiers[name]; ok {
			names[code] = mod
			continue
		}
		if name == key {
			names[code] = c.Key
		}
	}

	evChan := hook.Start()
	defer hook.End()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-evChan:
			if !ok {
				return nil
			}
			var down bool
			switch ev.Kind {
			case hook.KeyHold:
				down = true
			case hook.KeyUp:
				down = false
			default:
				continue
			}
			name, ok := names[ev.Keycode]
			if !ok {
				continue
			}
			select {
			case events <- KeyEvent{Key: name, Down: down}:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
