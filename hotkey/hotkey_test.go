package hotkey

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestParseCombo(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"ctrl+shift+space", "ctrl+shift+space", false},
		{"Shift + Ctrl + Space", "ctrl+shift+space", false},
		{"cmd+option+d", "alt+super+d", false},
		{"control+enter", "ctrl+return", false},
		{"f9", "f9", false},
		{"ctrl+shift", "", true},
		{"ctrl+a+b", "", true},
		{"ctrl++a", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			c, err := ParseCombo(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseCombo(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err == nil && c.String() != tt.want {
				t.Errorf("ParseCombo(%q) = %q, want %q", tt.in, c.String(), tt.want)
			}
		})
	}
}

func down(k string) KeyEvent { return KeyEvent{Key: k, Down: true} }
func up(k string) KeyEvent   { return KeyEvent{Key: k, Down: false} }

func TestMatcher(t *testing.T) {
	combo, _ := ParseCombo("ctrl+shift+space")

	tests := []struct {
		name   string
		events []KeyEvent
		want   int
	}{
		{"full_press", []KeyEvent{down("ctrl"), down("shift"), down("space")}, 1},
		{"any_order", []KeyEvent{down("space"), down("shift"), down("ctrl")}, 1},
		{"partial", []KeyEvent{down("ctrl"), down("space")}, 0},
		{
			"key_repeat_does_not_refire",
			[]KeyEvent{down("ctrl"), down("shift"), down("space"), down("space"), down("space"), down("ctrl")},
			1,
		},
		{
			"release_rearms",
			[]KeyEvent{down("ctrl"), down("shift"), down("space"), up("space"), down("space")},
			2,
		},
		{
			"hold_modifiers_release_all",
			[]KeyEvent{
				down("ctrl"), down("shift"), down("space"),
				up("space"), up("shift"), up("ctrl"),
				down("ctrl"), down("shift"), down("space"),
			},
			2,
		},
		{"unrelated_keys_ignored", []KeyEvent{down("ctrl"), down("a"), down("shift"), up("a"), down("space")}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMatcher(combo)
			var got int
			for _, ev := range tt.events {
				if m.Handle(ev) {
					got++
				}
			}
			if got != tt.want {
				t.Errorf("fired %d times, want %d", got, tt.want)
			}
		})
	}
}

// scriptSource plays a fixed event script and then waits for cancellation.
type scriptSource struct {
	events  []KeyEvent
	stopErr error
	stopped chan struct{}
}

func (s *scriptSource) Run(ctx context.Context, _ Combo, out chan<- KeyEvent) error {
	for _, ev := range s.events {
		out <- ev
	}
	<-ctx.Done()
	close(s.stopped)
	return s.stopErr
}

func TestMonitorEmitsOneTogglePerPress(t *testing.T) {
	combo, _ := ParseCombo("ctrl+space")
	src := &scriptSource{
		events: []KeyEvent{
			down("ctrl"), down("space"), down("space"), up("space"),
			down("space"), up("space"), up("ctrl"),
		},
		stopped: make(chan struct{}),
	}
	m := NewMonitor(combo, src)
	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-m.Toggles():
		case <-time.After(time.Second):
			t.Fatalf("toggle %d not received", i+1)
		}
	}
	select {
	case <-m.Toggles():
		t.Fatal("unexpected third toggle")
	case <-time.After(50 * time.Millisecond):
	}

	m.Stop()
	select {
	case <-src.stopped:
	default:
		t.Error("source not stopped")
	}
}

func TestMonitorStopToleratesUnregisterFailure(t *testing.T) {
	combo, _ := ParseCombo("f9")
	src := &scriptSource{stopErr: errors.New("unregister failed"), stopped: make(chan struct{})}
	m := NewMonitor(combo, src)
	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := m.Start(context.Background()); err == nil {
		t.Error("second Start succeeded")
	}
	m.Stop()
	m.Stop()
}
