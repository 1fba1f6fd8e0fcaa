// Package clipboard guards the system clipboard so only one writer touches
// it at a time.
package clipboard

import (
	"errors"
	"sync"

	"github.com/atotto/clipboard"
)

// ErrUnavailable is returned when no clipboard utility is present.
var ErrUnavailable = errors.New("clipboard unavailable")

// Clipboard reads and writes plain text.
type Clipboard interface {
	Read() (string, error)
	Write(text string) error
}

// System is the OS clipboard.
type System struct {
	mu sync.Mutex
}

func (s *System) Read() (string, error) {
	if clipboard.Unsupported {
		return "", ErrUnavailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return clipboard.ReadAll()
}

func (s *System) Write(text string) error {
	if clipboard.Unsupported {
		return ErrUnavailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return clipboard.WriteAll(text)
}

// Snapshot is clipboard content saved for restoring later.
type Snapshot struct {
	text string
	ok   bool
	err  error
}

// Take reads the clipboard. A failed read yields a snapshot that cannot be
// restored.
func Take(c Clipboard) Snapshot {
	text, err := c.Read()
	return Snapshot{text: text, ok: err == nil, err: err}
}

// Valid reports whether the snapshot can be restored.
func (s Snapshot) Valid() bool { return s.ok }

// Err is the read error, if any.
func (s Snapshot) Err() error { return s.err }

// Restore writes the saved content back.
func (s Snapshot) Restore(c Clipboard) error {
	if !s.ok {
		return s.err
	}
	return c.Write(s.text)
}
