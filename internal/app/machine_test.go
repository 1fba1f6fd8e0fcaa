package app

import (
	"testing"

	"go.aimuz.me/voxtype/internal/types"
)

func TestStep(t *testing.T) {
	idle := machine{}
	listening := machine{State: types.StateListening, Open: true}
	processing := machine{State: types.StateProcessing, Open: true, Pending: 1}
	draining := machine{State: types.StateProcessing, Open: true, Closing: true, Pending: 1}
	failed := machine{State: types.StateError, Reason: "boom"}

	tests := []struct {
		name   string
		from   machine
		in     input
		reason string
		want   machine
	}{
		{name: "activate", from: idle, in: inActivated, want: listening},
		{name: "first final", from: listening, in: inFinal, want: processing},
		{name: "second final", from: processing, in: inFinal, want: machine{State: types.StateProcessing, Open: true, Pending: 2}},
		{name: "deactivate while listening", from: listening, in: inDeactivating, want: machine{State: types.StateProcessing, Open: true, Closing: true}},
		{name: "delivered with session open", from: processing, in: inDelivered, want: listening},
		{name: "delivered while closing", from: draining, in: inDelivered, want: machine{State: types.StateProcessing, Open: true, Closing: true}},
		{name: "delivered after close", from: machine{State: types.StateProcessing, Pending: 1}, in: inDelivered, want: idle},
		{name: "closed with nothing pending", from: machine{State: types.StateProcessing, Open: true, Closing: true}, in: inClosed, want: idle},
		{name: "closed with delivery pending", from: draining, in: inClosed, want: machine{State: types.StateProcessing, Pending: 1}},
		{name: "closed before any final", from: listening, in: inClosed, want: idle},
		{name: "fatal from listening", from: listening, in: inFatal, reason: "boom", want: machine{State: types.StateError, Reason: "boom", Open: true}},
		{name: "fatal from idle", from: idle, in: inFatal, reason: "boom", want: failed},
		{name: "error ignores activation", from: failed, in: inActivated, want: machine{State: types.StateError, Reason: "boom", Open: true}},
		{name: "error ignores final", from: failed, in: inFinal, want: machine{State: types.StateError, Reason: "boom", Pending: 1}},
		{name: "error ignores close", from: machine{State: types.StateError, Reason: "boom", Open: true}, in: inClosed, want: failed},
		{name: "recover", from: failed, in: inRecover, want: idle},
		{name: "recover outside error", from: listening, in: inRecover, want: listening},
		{name: "delivered never goes negative", from: idle, in: inDelivered, want: idle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := step(tt.from, tt.in, tt.reason); got != tt.want {
				t.Errorf("step(%+v, %v) = %+v, want %+v", tt.from, tt.in, got, tt.want)
			}
		})
	}
}

func TestStepIsTotal(t *testing.T) {
	states := []machine{
		{},
		{State: types.StateListening, Open: true},
		{State: types.StateProcessing, Open: true, Closing: true, Pending: 3},
		{State: types.StateError, Reason: "x"},
	}
	for _, m := range states {
		for in := inActivated; in <= inRecover; in++ {
			got := step(m, in, "r")
			if got.State < types.StateIdle || got.State > types.StateError {
				t.Errorf("step(%+v, %v) produced invalid state %v", m, in, got.State)
			}
			if got.State != types.StateError && got.Reason != "" {
				t.Errorf("step(%+v, %v) kept reason %q outside Error", m, in, got.Reason)
			}
			if got.Pending < 0 {
				t.Errorf("step(%+v, %v) pending = %d", m, in, got.Pending)
			}
		}
	}
}

func TestAccepting(t *testing.T) {
	if !(machine{}).accepting() {
		t.Error("idle machine should accept activation")
	}
	if (machine{State: types.StateError}).accepting() {
		t.Error("error state accepted activation")
	}
	if (machine{Open: true}).accepting() {
		t.Error("machine with an open session accepted activation")
	}
}
