package hotkey

// KeyEvent is a normalized key transition. Key uses the canonical names of
// Combo.Keys; left and right modifiers share one name.
type KeyEvent struct {
	Key  string
	Down bool
}

// Matcher turns key transitions into combination presses. A press fires
// once when every key of the combination is held; it re-arms only after one
// of those keys is released, so key repeat never fires again.
type Matcher struct {
	keys    map[string]bool
	held    map[string]bool
	latched bool
}

// NewMatcher creates a matcher for c.
func NewMatcher(c Combo) *Matcher {
	m := &Matcher{
		keys: make(map[string]bool),
		held: make(map[string]bool),
	}
	for _, k := range c.Keys() {
		m.keys[k] = true
	}
	return m
}

// Handle consumes one event and reports whether the combination was pressed.
func (m *Matcher) Handle(ev KeyEvent) bool {
	if !m.keys[ev.Key] {
		return false
	}
	if !ev.Down {
		delete(m.held, ev.Key)
		m.latched = false
		return false
	}

	m.held[ev.Key] = true
	if m.latched || len(m.held) != len(m.keys) {
		return false
	}
	m.latched = true
	return true
}

// Reset forgets all held keys.
func (m *Matcher) Reset() {
	clear(m.held)
	m.latched = false
}
