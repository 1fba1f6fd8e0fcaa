//go:build darwin || linux || windows

package hotkey

import (
	"context"
	"fmt"

	"golang.design/x/hotkey"
)

// RegisterSource registers the combination with the OS, which then reports
// only that combination. On macOS it must be started from the main thread.
type RegisterSource struct{}

func (RegisterSource) Run(ctx context.Context, c Combo, events chan<- KeyEvent) error {
	key, ok := platformKeys[c.Key]
	if !ok {
		return fmt.Errorf("register hotkey %s: unsupported key %q", c, c.Key)
	}

	hk := hotkey.New(platformMods(c.Mods), key)
	if err := hk.Register(); err != nil {
		return fmt.Errorf("register hotkey %s: %w", c, err)
	}

	// The OS reports the combination as a whole; replay it as key
	// transitions so the matcher suppresses auto-repeat.
	keys := c.Keys()
	send := func(down bool) bool {
		for _, k := range keys {
			select {
			case events <- KeyEvent{Key: k, Down: down}:
			case <-ctx.Done():
				return false
			}
		}
		return true
	}

	for {
		select {
		case <-ctx.Done():
			return hk.Unregister()
		case <-hk.Keydown():
			if !send(true) {
				return hk.Unregister()
			}
		case <-hk.Keyup():
			if !send(false) {
				return hk.Unregister()
			}
		}
	}
}

var platformKeys = map[string]hotkey.Key{
	"space":  hotkey.KeySpace,
	"return": hotkey.KeyReturn,
	"escape": hotkey.KeyEscape,
	"tab":    hotkey.KeyTab,
	"delete": hotkey.KeyDelete,
	"left":   hotkey.KeyLeft,
	"right":  hotkey.KeyRight,
	"up":     hotkey.KeyUp,
	"down":   hotkey.KeyDown,
	"0":      hotkey.Key0,
	"1":      hotkey.Key1,
	"2":      hotkey.Key2,
	"3":      hotkey.Key3,
	"4":      hotkey.Key4,
	"5":      hotkey.Key5,
	"6":      hotkey.Key6,
	"7":      hotkey.Key7,
	"8":      hotkey.Key8,
	"9":      hotkey.Key9,
	"a":      hotkey.KeyA,
	"b":      hotkey.KeyB,
	"c":      hotkey.KeyC,
	"d":      hotkey.KeyD,
	"e":      hotkey.KeyE,
	"f":      hotkey.KeyF,
	"g":      hotkey.KeyG,
	"h":      hotkey.KeyH,
	"i":      hotkey.KeyI,
	"j":      hotkey.KeyJ,
	"k":      hotkey.KeyK,
	"l":      hotkey.KeyL,
	"m":      hotkey.KeyM,
	"n":      hotkey.KeyN,
	"o":      hotkey.KeyO,
	"p":      hotkey.KeyP,
	"q":      hotkey.KeyQ,
	"r":      hotkey.KeyR,
	"s":      hotkey.KeyS,
	"t":      hotkey.KeyT,
	"u":      hotkey.KeyU,
	"v":      hotkey.KeyV,
	"w":      hotkey.KeyW,
	"x":      hotkey.KeyX,
	"y":      hotkey.KeyY,
	"z":      hotkey.KeyZ,
	"f1":     hotkey.KeyF1,
	"f2":     hotkey.KeyF2,
	"f3":     hotkey.KeyF3,
	"f4":     hotkey.KeyF4,
	"f5":     hotkey.KeyF5,
	"f6":     hotkey.KeyF6,
	"f7":     hotkey.KeyF7,
	"f8":     hotkey.KeyF8,
	"f9":     hotkey.KeyF9,
	"f10":    hotkey.KeyF10,
	"f11":    hotkey.KeyF11,
	"f12":    hotkey.KeyF12,
}
