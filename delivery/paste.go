package delivery

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/micmonay/keybd_event"

	"go.aimuz.me/voxtype/clipboard"
)

// Paster issues the platform paste shortcut.
type Paster interface {
	Paste() error
}

// PasteStrategy writes text to the clipboard and pastes it. The dispatcher
// restores the previous clipboard afterwards.
type PasteStrategy struct {
	Clipboard clipboard.Clipboard
	Keys      Paster
	// Delay lets the clipboard owner publish the new content before the
	// shortcut is sent.
	Delay time.Duration
}

// NewPasteStrategy creates a paste strategy with an 80ms publish delay.
func NewPasteStrategy(clip clipboard.Clipboard, keys Paster) *PasteStrategy {
	return &PasteStrategy{Clipboard: clip, Keys: keys, Delay: 80 * time.Millisecond}
}

func (p *PasteStrategy) Name() string { return StrategyPaste }

func (p *PasteStrategy) usesClipboard() bool { return true }

func (p *PasteStrategy) Insert(ctx context.Context, text string, _ Target) error {
	if err := p.Clipboard.Write(text); err != nil {
		return fmt.Errorf("write clipboard: %w", err)
	}
	if p.Delay > 0 {
		select {
		case <-time.After(p.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := p.Keys.Paste(); err != nil {
		return fmt.Errorf("send paste: %w", err)
	}
	return nil
}

// KeybdPaster sends Ctrl+V, or Cmd+V on macOS, as synthetic key events.
type KeybdPaster struct {
	kb keybd_event.KeyBonding
}

// NewKeybdPaster creates the virtual keyboard.
func NewKeybdPaster() (*KeybdPaster, error) {
	kb, err := keybd_event.NewKeyBonding()
	if err != nil {
		return nil, fmt.Errorf("create virtual keyboard: %w", err)
	}
	// The uinput device needs time to register before its first event.
	if runtime.GOOS == "linux" {
		time.Sleep(2 * time.Second)
	}
	if runtime.GOOS == "darwin" {
		kb.HasSuper(true)
	} else {
		kb.HasCTRL(true)
	}
	kb.SetKeys(keybd_event.VK_V)
	return &KeybdPaster{kb: kb}, nil
}

func (p *KeybdPaster) Paste() error {
	return p.kb.Launching()
}
