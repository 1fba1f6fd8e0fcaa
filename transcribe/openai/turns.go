package openai

import (
	"errors"
	"fmt"

	"go.aimuz.me/voxtype/transcribe"
)

// turns maps realtime conversation items onto numbered turns. Deltas are
// accumulated so each update carries the full text so far.
type turns struct {
	order map[string]int
	text  map[string]string
	next  int
}

func newTurns() *turns {
	return &turns{order: make(map[string]int), text: make(map[string]string)}
}

func (t *turns) turn(item string) int {
	n, ok := t.order[item]
	if !ok {
		n = t.next
		t.next++
		t.order[item] = n
		t.text[item] = ""
	}
	return n
}

// open reports how many started items have not completed yet.
func (t *turns) open() int { return len(t.text) }

// translate converts a realtime event. A nil event with a nil error means
// there is nothing to forward.
func (t *turns) translate(ev Event) (transcribe.Event, error) {
	switch e := ev.(type) {
	case SpeechStartedEvent:
		t.turn(e.ItemID)
		return nil, nil
	case TranscriptDeltaEvent:
		n := t.turn(e.ItemID)
		t.text[e.ItemID] += e.Delta
		return transcribe.TurnEvent{TurnOrder: n, Transcript: t.text[e.ItemID]}, nil
	case TranscriptEvent:
		n := t.turn(e.ItemID)
		delete(t.text, e.ItemID)
		return transcribe.TurnEvent{
			TurnOrder:           n,
			Transcript:          e.Transcript,
			EndOfTurn:           true,
			TurnIsFormatted:     true,
			EndOfTurnConfidence: 1,
		}, nil
	case TranscriptFailedEvent:
		t.turn(e.ItemID)
		delete(t.text, e.ItemID)
		return nil, &transcribe.ProtocolError{Event: EventTranscriptionFailed, Err: errors.New(e.Error.Message)}
	case ErrorEvent:
		msg := e.Error.Message
		if e.Error.Code != "" {
			msg = fmt.Sprintf("%s (%s)", msg, e.Error.Code)
		}
		return transcribe.ErrorEvent{Error: msg}, nil
	default:
		return nil, nil
	}
}
