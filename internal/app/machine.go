package app

import (
	"fmt"

	"go.aimuz.me/voxtype/internal/types"
)

// input is one thing the orchestrator observed.
type input int

const (
	inActivated    input = iota // activation controller entered Active
	inFinal                     // a final transcript was queued for delivery
	inDeactivating              // activation controller left Active
	inDelivered                 // a queued delivery finished
	inClosed                    // the transcription session has ended
	inFatal                     // capture, streaming, or delivery failed
	inRecover                   // acknowledged, or the error timeout elapsed
)

func (in input) String() string {
	switch in {
	case inActivated:
		return "activated"
	case inFinal:
		return "final"
	case inDeactivating:
		return "deactivating"
	case inDelivered:
		return "delivered"
	case inClosed:
		return "closed"
	case inFatal:
		return "fatal"
	case inRecover:
		return "recover"
	default:
		return fmt.Sprintf("input(%d)", int(in))
	}
}

// machine is the application state plus the bookkeeping its transitions
// depend on. It is a value; step returns the next one.
type machine struct {
	State   types.AppState
	Reason  string
	Open    bool // a session is open
	Closing bool // the open session is being torn down
	Pending int  // deliveries queued or in flight
}

// step is the transition function. It is total: inputs that do not apply
// leave the state unchanged.
func step(m machine, in input, reason string) machine {
	switch in {
	case inActivated:
		m.Open, m.Closing = true, false
		if m.State == types.StateIdle {
			m.State = types.StateListening
		}
	case inFinal:
		m.Pending++
		if m.State == types.StateListening {
			m.State = types.StateProcessing
		}
	case inDeactivating:
		if m.Open {
			m.Closing = true
		}
		if m.State == types.StateListening {
			m.State = types.StateProcessing
		}
	case inDelivered:
		m.Pending = max(m.Pending-1, 0)
		if m.State == types.StateProcessing && m.Pending == 0 {
			switch {
			case !m.Open:
				m.State = types.StateIdle
			case !m.Closing:
				m.State = types.StateListening
			}
		}
	case inClosed:
		m.Open, m.Closing = false, false
		if m.State != types.StateError && m.Pending == 0 {
			m.State = types.StateIdle
		}
	case inFatal:
		m.State = types.StateError
		m.Reason = reason
	case inRecover:
		if m.State == types.StateError {
			m.State = types.StateIdle
			m.Reason = ""
		}
	}
	if m.State != types.StateError {
		m.Reason = ""
	}
	return m
}

// accepting reports whether a new activation may start.
func (m machine) accepting() bool {
	return m.State == types.StateIdle && !m.Open
}
