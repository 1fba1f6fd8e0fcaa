package transcribe

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Server event types.
const (
	EventBegin       = "Begin"
	EventTurn        = "Turn"
	EventTermination = "Termination"
	EventError       = "error"
)

// Event is a discriminated union of server events. Check the concrete type
// via type switch.
type Event interface {
	eventType() string
}

// BeginEvent acknowledges a new session.
type BeginEvent struct {
	ID        string `json:"id"`
	ExpiresAt int64  `json:"expires_at"`
}

func (BeginEvent) eventType() string { return EventBegin }

// TurnEvent is an incremental transcript update. EndOfTurn is absent on
// partial updates and decodes to false.
type TurnEvent struct {
	TurnOrder           int     `json:"turn_order"`
	Transcript          string  `json:"transcript"`
	EndOfTurn           bool    `json:"end_of_turn"`
	TurnIsFormatted     bool    `json:"turn_is_formatted"`
	EndOfTurnConfidence float64 `json:"end_of_turn_confidence"`
}

func (TurnEvent) eventType() string { return EventTurn }

// TerminationEvent closes a session.
type TerminationEvent struct {
	AudioDurationSeconds   float64 `json:"audio_duration_seconds"`
	SessionDurationSeconds float64 `json:"session_duration_seconds"`
}

func (TerminationEvent) eventType() string { return EventTermination }

// ErrorEvent reports a server-side failure.
type ErrorEvent struct {
	Error string `json:"error"`
}

func (ErrorEvent) eventType() string { return EventError }

// ParseEvent decodes a server message. Unknown types and missing required
// fields yield a *ProtocolError.
func ParseEvent(data []byte) (Event, error) {
	var header struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, &ProtocolError{Err: err}
	}

	switch header.Type {
	case EventBegin:
		var e BeginEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, &ProtocolError{Event: header.Type, Err: err}
		}
		if e.ID == "" {
			return nil, &ProtocolError{Event: header.Type, Err: errors.New("missing session id")}
		}
		return e, nil
	case EventTurn:
		var e TurnEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, &ProtocolError{Event: header.Type, Err: err}
		}
		return e, nil
	case EventTermination:
		var e TerminationEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, &ProtocolError{Event: header.Type, Err: err}
		}
		return e, nil
	case EventError:
		var e ErrorEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, &ProtocolError{Event: header.Type, Err: err}
		}
		return e, nil
	case "":
		return nil, &ProtocolError{Err: errors.New("missing event type")}
	default:
		return nil, &ProtocolError{Event: header.Type, Err: errors.New("unknown event type")}
	}
}

// authReasons are substrings of error notices that mean retrying is futile.
var authReasons = []string{"auth", "api key", "unauthorized", "forbidden", "insufficient", "quota"}

// classifyNotice turns a server error notice into AuthError or a retryable
// NetworkError.
func classifyNotice(reason string) error {
	lower := strings.ToLower(reason)
	for _, s := range authReasons {
		if strings.Contains(lower, s) {
			return &AuthError{Reason: reason}
		}
	}
	return &NetworkError{Retryable: true, Err: fmt.Errorf("server error: %s", reason)}
}

// terminateMessage asks the server to flush and end the session.
var terminateMessage = []byte(`{"type":"Terminate"}`)
