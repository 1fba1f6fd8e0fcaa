// Package hotkey emits toggle events from one global key combination.
package hotkey

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupported is returned by sources unavailable on this platform.
var ErrUnsupported = errors.New("hotkey source not supported on this platform")

// Modifier is a bit set of modifier keys.
type Modifier uint8

const (
	ModCtrl Modifier = 1 << iota
	ModShift
	ModAlt
	ModSuper
)

var modNames = []struct {
	mod  Modifier
	name string
}{
	{ModCtrl, "ctrl"},
	{ModShift, "shift"},
	{ModAlt, "alt"},
	{ModSuper, "super"},
}

var modAliases = map[string]Modifier{
	"ctrl":    ModCtrl,
	"control": ModCtrl,
	"shift":   ModShift,
	"alt":     ModAlt,
	"option":  ModAlt,
	"opt":     ModAlt,
	"super":   ModSuper,
	"cmd":     ModSuper,
	"command": ModSuper,
	"win":     ModSuper,
	"meta":    ModSuper,
}

var keyAliases = map[string]string{
	"enter": "return",
	"esc":   "escape",
	"spc":   "space",
}

// Combo is a parsed key combination such as ctrl+shift+space.
type Combo struct {
	Mods Modifier
	Key  string
}

// ParseCombo parses a "+"-separated combination. Exactly one non-modifier
// key is required.
func ParseCombo(s string) (Combo, error) {
	var c Combo
	for _, part := range strings.Split(s, "+") {
		p := strings.ToLower(strings.TrimSpace(part))
		if p == "" {
			return Combo{}, fmt.Errorf("invalid hotkey %q: empty key", s)
		}
		if m, ok := modAliases[p]; ok {
			c.Mods |= m
			continue
		}
		if c.Key != "" {
			return Combo{}, fmt.Errorf("invalid hotkey %q: more than one key", s)
		}
		if alias, ok := keyAliases[p]; ok {
			p = alias
		}
		c.Key = p
	}
	if c.Key == "" {
		return Combo{}, fmt.Errorf("invalid hotkey %q: no key", s)
	}
	return c, nil
}

// Keys returns the canonical names of every key in the combination,
// modifiers first.
func (c Combo) Keys() []string {
	var keys []string
	for _, m := range modNames {
		if c.Mods&m.mod != 0 {
			keys = append(keys, m.name)
		}
	}
	return append(keys, c.Key)
}

func (c Combo) String() string {
	return strings.Join(c.Keys(), "+")
}
