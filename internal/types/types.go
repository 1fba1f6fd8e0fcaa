// Package types provides shared type definitions for the application.
package types

import (
	"fmt"
	"time"
)

// AppState is the observable application state.
type AppState int

const (
	StateIdle AppState = iota
	StateListening
	StateProcessing
	StateError
)

func (s AppState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText encodes the state by name.
func (s AppState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is a snapshot of the application state.
type Status struct {
	State   AppState  `json:"state"`
	Reason  string    `json:"reason,omitempty"` // set in StateError
	Since   time.Time `json:"since"`
	Session uint64    `json:"session,omitempty"` // activation number, 0 before the first
	Pending int       `json:"pending"`           // deliveries in flight
}

// TransportInfo describes a registered transcription service.
type TransportInfo struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Active      bool   `json:"active"`
}
