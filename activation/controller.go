// Package activation arbitrates the hotkey and the wake word into one
// activation stream and keeps the wake word detector and an open session
// from consuming audio at the same time.
package activation

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.aimuz.me/voxtype/wakeword"
)

// DefaultCooldown delays re-arming the wake word after a session ends.
const DefaultCooldown = 750 * time.Millisecond

// State is the controller state.
type State int32

const (
	Idle State = iota
	Activating
	Active
	Deactivating
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Activating:
		return "activating"
	case Active:
		return "active"
	case Deactivating:
		return "deactivating"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// EventKind identifies a controller input.
type EventKind int

const (
	HotkeyToggled EventKind = iota
	WakeWordMatched
	SessionReady
	SessionFailed
	SilenceTimeout
	FatalError
	CleanupComplete
)

func (k EventKind) String() string {
	switch k {
	case HotkeyToggled:
		return "hotkey"
	case WakeWordMatched:
		return "wake word"
	case SessionReady:
		return "session ready"
	case SessionFailed:
		return "session failed"
	case SilenceTimeout:
		return "silence timeout"
	case FatalError:
		return "fatal error"
	case CleanupComplete:
		return "cleanup complete"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is one controller input. Keyword and Confidence are set for
// WakeWordMatched; Err for SessionFailed and FatalError.
type Event struct {
	Kind       EventKind
	Keyword    string
	Confidence float32
	Err        error
	At         time.Time
}

// Transition is an observed state change.
type Transition struct {
	From, To State
	Event    Event

	// Session numbers activations; every Idle -> Activating starts a new one.
	Session uint64
}

// Detector is the part of wakeword.Detector the controller drives.
type Detector interface {
	Arm(keywords []wakeword.Keyword) error
	Disarm()
}

// Config holds configuration for the controller.
type Config struct {
	Keywords []wakeword.Keyword
	Cooldown time.Duration
}

// Controller owns the activation state. All inputs go through one
// goroutine; see Run.
type Controller struct {
	cfg      Config
	detector Detector

	events      chan Event
	transitions chan Transition

	state     atomic.Int32
	discarded atomic.Uint64
}

// New creates a controller. detector may be nil for hotkey-only operation.
func New(cfg Config, detector Detector) *Controller {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if len(cfg.Keywords) == 0 {
		detector = nil
	}
	return &Controller{
		cfg:         cfg,
		detector:    detector,
		events:      make(chan Event, 64),
		transitions: make(chan Transition, 16),
	}
}

// Transitions delivers every state change in order.
func (c *Controller) Transitions() <-chan Transition {
	return c.transitions
}

// State returns the current state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Discarded returns how many triggers were dropped because the controller
// was not accepting activations.
func (c *Controller) Discarded() uint64 {
	return c.discarded.Load()
}

// Post queues an event. It blocks only if the controller is far behind.
func (c *Controller) Post(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	c.events <- ev
}

// Hotkey posts a toggle that did not come through Run's hotkey channel.
func (c *Controller) Hotkey() { c.Post(Event{Kind: HotkeyToggled}) }

// SessionReady reports that the transcription session is streaming.
func (c *Controller) SessionReady() { c.Post(Event{Kind: SessionReady}) }

// SessionFailed reports that the session could not be opened or was lost.
func (c *Controller) SessionFailed(err error) { c.Post(Event{Kind: SessionFailed, Err: err}) }

// SilenceTimeout reports that the speaker has gone quiet.
func (c *Controller) SilenceTimeout() { c.Post(Event{Kind: SilenceTimeout}) }

// Fatal reports an unrecoverable error during a session.
func (c *Controller) Fatal(err error) { c.Post(Event{Kind: FatalError, Err: err}) }

// CleanupComplete reports that the session resources are released.
func (c *Controller) CleanupComplete() { c.Post(Event{Kind: CleanupComplete}) }

// Run processes events until ctx is done. hotkeys and wakes may be nil.
func (c *Controller) Run(ctx context.Context, hotkeys <-chan time.Time, wakes <-chan wakeword.Match) error {
	r := runner{Controller: c}
	if err := r.arm(); err != nil {
		return err
	}
	defer func() {
		if c.detector != nil {
			c.detector.Disarm()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case at := <-hotkeys:
			r.handle(ctx, Event{Kind: HotkeyToggled, At: at})
		case m := <-wakes:
			r.handle(ctx, Event{Kind: WakeWordMatched, Keyword: m.Keyword, Confidence: m.Confidence, At: m.At})
		case ev := <-c.events:
			r.handle(ctx, ev)
		case <-r.rearm:
			r.rearm = nil
			if c.State() == Idle {
				if err := r.arm(); err != nil {
					slog.Error("re-arm wake word", "error", err)
				}
			}
		}
	}
}

// runner holds state private to the Run goroutine.
type runner struct {
	*Controller
	armed   bool
	session uint64
	rearm   <-chan time.Time
}

func (r *runner) arm() error {
	if r.detector == nil {
		return nil
	}
	if err := r.detector.Arm(r.cfg.Keywords); err != nil {
		return fmt.Errorf("arm wake word: %w", err)
	}
	r.armed = true
	return nil
}

func (r *runner) disarm() {
	r.rearm = nil
	if r.detector == nil || !r.armed {
		return
	}
	r.detector.Disarm()
	r.armed = false
}

func (r *runner) handle(ctx context.Context, ev Event) {
	from := r.State()
	to, ok := next(from, ev.Kind)

	// A queued match from before disarming must not activate.
	if ok && ev.Kind == WakeWordMatched && !r.armed {
		ok = false
	}
	if !ok {
		if ev.Kind == HotkeyToggled || ev.Kind == WakeWordMatched {
			n := r.discarded.Add(1)
			slog.Debug("activation trigger discarded", "event", ev.Kind, "state", from, "discarded", n)
		}
		return
	}

	switch to {
	case Activating:
		r.disarm()
		r.session++
	case Idle:
		r.rearm = time.After(r.cfg.Cooldown)
	}

	r.state.Store(int32(to))
	slog.Info("activation transition", "from", from, "to", to, "event", ev.Kind, "session", r.session)

	select {
	case r.transitions <- Transition{From: from, To: to, Event: ev, Session: r.session}:
	case <-ctx.Done():
	}
}

// next is the transition function. It is total over (State, EventKind);
// ok is false when the event does not apply in that state.
func next(s State, k EventKind) (State, bool) {
	switch s {
	case Idle:
		if k == HotkeyToggled || k == WakeWordMatched {
			return Activating, true
		}
	case Activating:
		switch k {
		case SessionReady:
			return Active, true
		case SessionFailed, FatalError:
			return Deactivating, true
		}
	case Active:
		switch k {
		case HotkeyToggled, SilenceTimeout, FatalError, SessionFailed:
			return Deactivating, true
		}
	case Deactivating:
		if k == CleanupComplete {
			return Idle, true
		}
	}
	return s, false
}
