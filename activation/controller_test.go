package activation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.aimuz.me/voxtype/wakeword"
)

type fakeDetector struct {
	mu      sync.Mutex
	armed   bool
	arms    int
	disarms int
	armErr  error
	rearmed chan struct{}
}

func newFakeDetector() *fakeDetector {
	return &fakeDetector{rearmed: make(chan struct{}, 8)}
}

func (d *fakeDetector) Arm([]wakeword.Keyword) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.armErr != nil {
		return d.armErr
	}
	d.armed = true
	d.arms++
	d.rearmed <- struct{}{}
	return nil
}

func (d *fakeDetector) Disarm() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.armed = false
	d.disarms++
}

func (d *fakeDetector) isArmed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.armed
}

var jarvis = []wakeword.Keyword{{Name: "jarvis", Sensitivity: 0.5}}

type harness struct {
	c     *Controller
	det   *fakeDetector
	wakes chan wakeword.Match
}

func start(t *testing.T, cooldown time.Duration) *harness {
	t.Helper()
	det := newFakeDetector()
	c := New(Config{Keywords: jarvis, Cooldown: cooldown}, det)
	h := &harness{c: c, det: det, wakes: make(chan wakeword.Match)}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx, nil, h.wakes)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	<-det.rearmed // initial arm
	return h
}

func (h *harness) expect(t *testing.T, from, to State) Transition {
	t.Helper()
	select {
	case tr := <-h.c.Transitions():
		if tr.From != from || tr.To != to {
			t.Fatalf("transition %s -> %s, want %s -> %s", tr.From, tr.To, from, to)
		}
		return tr
	case <-time.After(time.Second):
		t.Fatalf("no transition %s -> %s", from, to)
		return Transition{}
	}
}

func (h *harness) expectNone(t *testing.T) {
	t.Helper()
	select {
	case tr := <-h.c.Transitions():
		t.Fatalf("unexpected transition %s -> %s (%s)", tr.From, tr.To, tr.Event.Kind)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestSessionLifecycle(t *testing.T) {
	h := start(t, 10*time.Millisecond)

	h.c.Hotkey()
	tr := h.expect(t, Idle, Activating)
	if tr.Event.Kind != HotkeyToggled {
		t.Errorf("event = %s, want hotkey", tr.Event.Kind)
	}
	if h.det.isArmed() {
		t.Error("detector armed while activating")
	}

	h.c.SessionReady()
	h.expect(t, Activating, Active)

	h.c.Hotkey()
	h.expect(t, Active, Deactivating)

	h.c.CleanupComplete()
	h.expect(t, Deactivating, Idle)

	select {
	case <-h.det.rearmed:
	case <-time.After(time.Second):
		t.Fatal("detector not re-armed after cool-down")
	}
	if h.c.State() != Idle {
		t.Errorf("State() = %s, want idle", h.c.State())
	}
}

func TestFirstTriggerWins(t *testing.T) {
	h := start(t, time.Hour)

	h.c.Post(Event{Kind: HotkeyToggled})
	h.c.Post(Event{Kind: WakeWordMatched, Keyword: "jarvis", Confidence: 1})

	tr := h.expect(t, Idle, Activating)
	if tr.Event.Kind != HotkeyToggled {
		t.Errorf("winner = %s, want hotkey", tr.Event.Kind)
	}
	h.expectNone(t)
	if got := h.c.Discarded(); got != 1 {
		t.Errorf("Discarded() = %d, want 1", got)
	}
}

func TestWakeWordSuppressedWhileActive(t *testing.T) {
	h := start(t, time.Hour)

	h.wakes <- wakeword.Match{Keyword: "jarvis", Confidence: 0.9, At: time.Now()}
	tr := h.expect(t, Idle, Activating)
	if tr.Event.Keyword != "jarvis" {
		t.Errorf("keyword = %q, want jarvis", tr.Event.Keyword)
	}
	h.c.SessionReady()
	h.expect(t, Activating, Active)

	for i := 0; i < 3; i++ {
		h.wakes <- wakeword.Match{Keyword: "jarvis", Confidence: 1, At: time.Now()}
	}
	h.expectNone(t)
	if got := h.c.Discarded(); got != 3 {
		t.Errorf("Discarded() = %d, want 3", got)
	}

	h.c.SilenceTimeout()
	h.expect(t, Active, Deactivating)
}

func TestWakeWordIgnoredDuringCooldown(t *testing.T) {
	h := start(t, time.Hour)

	h.c.Hotkey()
	h.expect(t, Idle, Activating)
	h.c.SessionReady()
	h.expect(t, Activating, Active)
	h.c.Hotkey()
	h.expect(t, Active, Deactivating)
	h.c.CleanupComplete()
	h.expect(t, Deactivating, Idle)

	h.wakes <- wakeword.Match{Keyword: "jarvis", Confidence: 1, At: time.Now()}
	h.expectNone(t)

	// The hotkey is not subject to the cool-down.
	h.c.Hotkey()
	h.expect(t, Idle, Activating)
}

func TestToggleTwiceStartsFreshSession(t *testing.T) {
	h := start(t, time.Hour)

	h.c.Hotkey()
	first := h.expect(t, Idle, Activating)
	h.c.SessionReady()
	h.expect(t, Activating, Active)
	h.c.Hotkey()
	h.expect(t, Active, Deactivating)
	h.c.CleanupComplete()
	h.expect(t, Deactivating, Idle)

	h.c.Hotkey()
	second := h.expect(t, Idle, Activating)
	if second.Session == first.Session {
		t.Errorf("second activation reused session %d", first.Session)
	}
}

func TestSessionFailureDeactivates(t *testing.T) {
	h := start(t, time.Hour)

	h.c.Hotkey()
	h.expect(t, Idle, Activating)

	cause := errors.New("auth rejected")
	h.c.SessionFailed(cause)
	tr := h.expect(t, Activating, Deactivating)
	if !errors.Is(tr.Event.Err, cause) {
		t.Errorf("transition error = %v, want %v", tr.Event.Err, cause)
	}
}

func TestRunFailsWhenArmFails(t *testing.T) {
	det := newFakeDetector()
	det.armErr = wakeword.ErrInvalidKeyword
	c := New(Config{Keywords: jarvis}, det)

	err := c.Run(context.Background(), nil, nil)
	if !errors.Is(err, wakeword.ErrInvalidKeyword) {
		t.Fatalf("Run() = %v, want ErrInvalidKeyword", err)
	}
}

func TestHotkeyOnly(t *testing.T) {
	c := New(Config{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hotkeys := make(chan time.Time)
	go c.Run(ctx, hotkeys, nil)

	hotkeys <- time.Now()
	select {
	case tr := <-c.Transitions():
		if tr.To != Activating {
			t.Errorf("to = %s, want activating", tr.To)
		}
	case <-time.After(time.Second):
		t.Fatal("no transition")
	}
}

func TestNext(t *testing.T) {
	accept := map[State]map[EventKind]State{
		Idle:         {HotkeyToggled: Activating, WakeWordMatched: Activating},
		Activating:   {SessionReady: Active, SessionFailed: Deactivating, FatalError: Deactivating},
		Active:       {HotkeyToggled: Deactivating, SilenceTimeout: Deactivating, FatalError: Deactivating, SessionFailed: Deactivating},
		Deactivating: {CleanupComplete: Idle},
	}

	for _, s := range []State{Idle, Activating, Active, Deactivating} {
		for k := HotkeyToggled; k <= CleanupComplete; k++ {
			want, wantOK := accept[s][k]
			got, ok := next(s, k)
			if ok != wantOK || (ok && got != want) {
				t.Errorf("next(%s, %s) = %s, %v; want %s, %v", s, k, got, ok, want, wantOK)
			}
			if !ok && got != s {
				t.Errorf("next(%s, %s) changed state on rejection", s, k)
			}
		}
	}
}
