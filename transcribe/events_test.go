package transcribe

import (
	"errors"
	"testing"
)

func TestParseEvent(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Event
		wantErr bool
	}{
		{
			name:  "begin",
			input: `{"type":"Begin","id":"abc","expires_at":1700000000}`,
			want:  BeginEvent{ID: "abc", ExpiresAt: 1700000000},
		},
		{
			name:  "partial turn",
			input: `{"type":"Turn","turn_order":2,"transcript":"hello wor"}`,
			want:  TurnEvent{TurnOrder: 2, Transcript: "hello wor"},
		},
		{
			name:  "final turn",
			input: `{"type":"Turn","turn_order":2,"transcript":"Hello world.","end_of_turn":true,"turn_is_formatted":true,"end_of_turn_confidence":0.93}`,
			want:  TurnEvent{TurnOrder: 2, Transcript: "Hello world.", EndOfTurn: true, TurnIsFormatted: true, EndOfTurnConfidence: 0.93},
		},
		{
			name:  "termination",
			input: `{"type":"Termination","audio_duration_seconds":4.5,"session_duration_seconds":6}`,
			want:  TerminationEvent{AudioDurationSeconds: 4.5, SessionDurationSeconds: 6},
		},
		{
			name:  "error notice",
			input: `{"type":"error","error":"boom"}`,
			want:  ErrorEvent{Error: "boom"},
		},
		{name: "not json", input: `{"type":`, wantErr: true},
		{name: "missing type", input: `{"id":"abc"}`, wantErr: true},
		{name: "unknown type", input: `{"type":"Surprise"}`, wantErr: true},
		{name: "begin without id", input: `{"type":"Begin"}`, wantErr: true},
		{name: "wrong field type", input: `{"type":"Turn","turn_order":"two"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEvent([]byte(tt.input))
			if tt.wantErr {
				var pe *ProtocolError
				if !errors.As(err, &pe) {
					t.Fatalf("ParseEvent() error = %v, want *ProtocolError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseEvent() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseEvent() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestClassifyNotice(t *testing.T) {
	tests := []struct {
		reason   string
		wantAuth bool
	}{
		{"Invalid API key", true},
		{"Unauthorized connection", true},
		{"Insufficient account balance", true},
		{"Free tier quota exceeded", true},
		{"Internal server error", false},
		{"session timed out", false},
	}

	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			err := classifyNotice(tt.reason)
			var ae *AuthError
			if got := errors.As(err, &ae); got != tt.wantAuth {
				t.Errorf("classifyNotice(%q) = %v, auth = %v, want %v", tt.reason, err, got, tt.wantAuth)
			}
			if !tt.wantAuth && !IsRetryable(err) {
				t.Errorf("classifyNotice(%q) not retryable", tt.reason)
			}
		})
	}
}
