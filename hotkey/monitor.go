package hotkey

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Source delivers key events for a combination until ctx is done. It must
// release any OS registration before returning.
type Source interface {
	Run(ctx context.Context, c Combo, events chan<- KeyEvent) error
}

// Monitor watches one combination and emits a toggle per complete press.
type Monitor struct {
	combo  Combo
	source Source

	toggles chan time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates a monitor for c using source.
func NewMonitor(c Combo, source Source) *Monitor {
	return &Monitor{
		combo:   c,
		source:  source,
		toggles: make(chan time.Time, 4),
	}
}

// Toggles delivers one timestamp per complete press.
func (m *Monitor) Toggles() <-chan time.Time {
	return m.toggles
}

// Start begins watching. It returns once the source goroutine is running.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		return errors.New("hotkey monitor already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	events := make(chan KeyEvent, 64)
	srcDone := make(chan error, 1)
	go func() { srcDone <- m.source.Run(ctx, m.combo, events) }()
	go m.loop(ctx, events, srcDone)

	slog.Info("hotkey registered", "combo", m.combo.String())
	return nil
}

func (m *Monitor) loop(ctx context.Context, events <-chan KeyEvent, srcDone <-chan error) {
	defer close(m.done)

	matcher := NewMatcher(m.combo)
	for {
		select {
		case <-ctx.Done():
			// Unregistration failures are logged only; a stale OS
			// registration does not stop the process.
			if err := <-srcDone; err != nil && !errors.Is(err, context.Canceled) {
				slog.Warn("hotkey unregister", "combo", m.combo.String(), "error", err)
			}
			return
		case err := <-srcDone:
			if err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("hotkey source stopped", "combo", m.combo.String(), "error", err)
			}
			<-ctx.Done()
			return
		case ev := <-events:
			if !matcher.Handle(ev) {
				continue
			}
			select {
			case m.toggles <- time.Now():
			default:
				slog.Warn("hotkey toggle dropped, consumer busy")
			}
		}
	}
}

// Stop unregisters the combination and waits for the source to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	slog.Info("hotkey unregistered", "combo", m.combo.String())
}
