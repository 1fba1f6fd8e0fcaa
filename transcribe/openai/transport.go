// Package openai streams pipeline audio to the OpenAI Realtime
// transcription API over WebRTC.
package openai

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.aimuz.me/voxtype/transcribe"
)

// Transport dials OpenAI Realtime transcription sessions.
type Transport struct {
	Model string
}

// NewTransport creates a transport. An empty model uses the API default.
func NewTransport(model string) *Transport {
	return &Transport{Model: model}
}

func (t *Transport) Name() string        { return "openai" }
func (t *Transport) DisplayName() string { return "OpenAI Realtime" }

func (t *Transport) Dial(ctx context.Context, p transcribe.Params) (transcribe.Conn, error) {
	if p.Encoding != "pcm_s16le" {
		return nil, &transcribe.NetworkError{Err: fmt.Errorf("unsupported encoding %q", p.Encoding)}
	}

	token, err := CreateSession(ctx, p.APIKey, SessionConfig{
		Model:    t.Model,
		Language: p.Language,
		Keyterms: p.Keyterms,
	})
	if err != nil {
		return nil, err
	}
	slog.Info("openai transcription session created", "expires", time.Unix(token.ExpiresAt, 0))

	c := newConn(p.SampleRate)
	if err := c.connect(ctx, token); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}
