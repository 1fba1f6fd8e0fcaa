// Package delivery inserts finalized text into the foreground application
// through an ordered chain of strategies.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.aimuz.me/voxtype/clipboard"
)

// Strategy names.
const (
	StrategyPaste         = "paste"
	StrategyType          = "type"
	StrategyAccessibility = "accessibility"
)

var (
	ErrUnsupported     = errors.New("insertion strategy unsupported on this platform")
	ErrPermission      = errors.New("accessibility permission denied")
	ErrUnknownStrategy = errors.New("unknown insertion strategy")

	// ErrClipboardUnreadable skips clipboard strategies when the current
	// content could not be saved.
	ErrClipboardUnreadable = errors.New("clipboard content cannot be saved")
)

// Target identifies the application receiving text.
type Target struct {
	App   string // process name
	PID   int
	Title string
}

// Strategy is one way of inserting text.
type Strategy interface {
	Name() string
	Insert(ctx context.Context, text string, target Target) error
}

// clipboardUser is implemented by strategies that overwrite the clipboard.
type clipboardUser interface {
	usesClipboard() bool
}

// Attempt records one strategy's result.
type Attempt struct {
	Strategy string
	Err      error
	Took     time.Duration
}

// Outcome describes a successful delivery.
type Outcome struct {
	Strategy string
	Text     string // after overrides
	Target   Target
	Attempts []Attempt
}

// InsertionError is returned when every strategy failed. Text is what would
// have been inserted so it can be recovered by hand.
type InsertionError struct {
	Text     string
	Target   Target
	Attempts []Attempt
}

func (e *InsertionError) Error() string {
	return fmt.Sprintf("insert into %q: all %d strategies failed", e.Target.App, len(e.Attempts))
}

func (e *InsertionError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		errs = append(errs, a.Err)
	}
	return errs
}

// Config holds configuration for a Dispatcher.
type Config struct {
	// Order is the default strategy order.
	Order []string
	// SettleDelay is how long the substituted clipboard is left in place
	// for the target to read it.
	SettleDelay     time.Duration
	StrategyTimeout time.Duration
}

// DefaultConfig returns the default dispatcher configuration.
func DefaultConfig() Config {
	return Config{
		Order:           []string{StrategyPaste, StrategyType, StrategyAccessibility},
		SettleDelay:     250 * time.Millisecond,
		StrategyTimeout: 2 * time.Second,
	}
}

// Dispatcher runs the strategy chain. Only one delivery is in flight at a
// time.
type Dispatcher struct {
	cfg        Config
	clip       clipboard.Clipboard
	overrides  *Overrides
	strategies map[string]Strategy

	mu sync.Mutex
}

// NewDispatcher creates a dispatcher. overrides may be nil.
func NewDispatcher(cfg Config, clip clipboard.Clipboard, overrides *Overrides, strategies ...Strategy) *Dispatcher {
	def := DefaultConfig()
	if len(cfg.Order) == 0 {
		cfg.Order = def.Order
	}
	if cfg.StrategyTimeout <= 0 {
		cfg.StrategyTimeout = def.StrategyTimeout
	}
	if overrides == nil {
		overrides = NewOverrides()
	}
	d := &Dispatcher{
		cfg:        cfg,
		clip:       clip,
		overrides:  overrides,
		strategies: make(map[string]Strategy, len(strategies)),
	}
	for _, s := range strategies {
		d.strategies[s.Name()] = s
	}
	return d
}

// Deliver inserts text into target. The clipboard is saved once before the
// chain and restored once after it, whatever the result. Exhausting the
// chain returns *InsertionError.
func (d *Dispatcher) Deliver(ctx context.Context, text string, target Target) (Outcome, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ov, ok := d.overrides.Lookup(target.App)
	order := d.cfg.Order
	if ok {
		text = ov.Apply(text)
		if len(ov.Strategies) > 0 {
			order = ov.Strategies
		}
	}
	out := Outcome{Text: text, Target: target}

	snap := clipboard.Take(d.clip)
	if snap.Valid() {
		defer d.restore(ctx, snap)
	} else {
		slog.Debug("clipboard not saved", "error", snap.Err())
	}

	for _, name := range order {
		start := time.Now()
		err := d.try(ctx, name, text, target, snap)
		out.Attempts = append(out.Attempts, Attempt{Strategy: name, Err: err, Took: time.Since(start)})
		if err == nil {
			out.Strategy = name
			slog.Info("text delivered", "strategy", name, "app", target.App, "chars", len([]rune(text)))
			return out, nil
		}
		slog.Warn("insertion strategy failed", "strategy", name, "app", target.App, "error", err)
		if ctx.Err() != nil {
			break
		}
	}
	return out, &InsertionError{Text: text, Target: target, Attempts: out.Attempts}
}

func (d *Dispatcher) try(ctx context.Context, name, text string, target Target, snap clipboard.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s, ok := d.strategies[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStrategy, name)
	}
	if cu, ok := s.(clipboardUser); ok && cu.usesClipboard() && !snap.Valid() {
		return ErrClipboardUnreadable
	}

	sctx, cancel := context.WithTimeout(ctx, d.cfg.StrategyTimeout)
	defer cancel()
	return s.Insert(sctx, text, target)
}

// restore waits out the settle delay, cut short by cancellation, and puts
// the saved clipboard back.
func (d *Dispatcher) restore(ctx context.Context, snap clipboard.Snapshot) {
	if d.cfg.SettleDelay > 0 {
		t := time.NewTimer(d.cfg.SettleDelay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
		}
	}
	if err := snap.Restore(d.clip); err != nil {
		slog.Error("clipboard restore failed", "error", err)
	}
}
