package transcribe

import (
	"errors"
	"fmt"
)

var (
	// ErrReconnectExhausted is delivered on Errors when every reconnect
	// attempt has failed.
	ErrReconnectExhausted = errors.New("transcription reconnect attempts exhausted")

	// ErrNotStreaming is returned by Send when the client is not accepting
	// audio.
	ErrNotStreaming = errors.New("transcription client not streaming")

	// ErrAlreadyConnected is returned by a second Connect.
	ErrAlreadyConnected = errors.New("transcription client already connected")
)

// AuthError is a credential or account problem. It is never retried.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return "transcription auth: " + e.Reason
}

// NetworkError is a connection failure. Retryable errors trigger backoff
// reconnection; others are fatal.
type NetworkError struct {
	Retryable bool
	Err       error
}

func (e *NetworkError) Error() string {
	kind := "fatal"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("transcription network (%s): %v", kind, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ProtocolError is a malformed or unexpected server event. The current
// utterance is discarded and the session continues.
type ProtocolError struct {
	Event string
	Err   error
}

func (e *ProtocolError) Error() string {
	if e.Event == "" {
		return fmt.Sprintf("transcription protocol: %v", e.Err)
	}
	return fmt.Sprintf("transcription protocol: %s: %v", e.Event, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// IsRetryable reports whether err should trigger a reconnect.
func IsRetryable(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne) && ne.Retryable
}
