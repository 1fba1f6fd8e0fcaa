package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/realtime"

	"go.aimuz.me/voxtype/transcribe"
)

// RealtimeEndpoint is the endpoint for WebRTC SDP exchange.
const RealtimeEndpoint = "https://api.openai.com/v1/realtime/calls"

// SessionToken holds the ephemeral key from CreateSession.
type SessionToken struct {
	ID        string
	Value     string
	ExpiresAt int64
}

var httpClient = &http.Client{
	Timeout: 30 * time.Second,
}

// SessionConfig holds configuration for creating a transcription session.
type SessionConfig struct {
	Model    string // e.g. "gpt-4o-transcribe"
	Language string // e.g. "en"
	// Keyterms are passed to the model as a prompt.
	Keyterms []string
}

// CreateSession creates an ephemeral transcription session token.
func CreateSession(ctx context.Context, apiKey string, cfg SessionConfig) (*SessionToken, error) {
	if apiKey == "" {
		return nil, &transcribe.AuthError{Reason: "missing api key"}
	}
	language := cfg.Language
	if language == "" {
		language = "en"
	}
	model := cfg.Model
	if model == "" {
		model = string(realtime.AudioTranscriptionModelGPT4oTranscribe)
	}

	client := openai.NewClient(option.WithAPIKey(apiKey))

	transcription := realtime.AudioTranscriptionParam{
		Model:    realtime.AudioTranscriptionModel(model),
		Language: openai.String(language),
	}
	if len(cfg.Keyterms) > 0 {
		transcription.Prompt = openai.String(strings.Join(cfg.Keyterms, ", "))
	}

	params := realtime.ClientSecretNewParams{
		Session: realtime.ClientSecretNewParamsSessionUnion{
			OfTranscription: &realtime.RealtimeTranscriptionSessionCreateRequestParam{
				Audio: realtime.RealtimeTranscriptionSessionAudioParam{
					Input: realtime.RealtimeTranscriptionSessionAudioInputParam{
						TurnDetection: realtime.RealtimeTranscriptionSessionAudioInputTurnDetectionUnionParam{
							OfSemanticVad: &realtime.RealtimeTranscriptionSessionAudioInputTurnDetectionSemanticVadParam{
								Type:      "semantic_vad",
								Eagerness: eagernessHigh,
							},
						},
						Transcription: transcription,
					},
				},
			},
		},
	}
	resp, err := client.Realtime.ClientSecrets.New(ctx, params)
	if err != nil {
		return nil, classifyAPI("create client secret", err)
	}

	return &SessionToken{
		ID:        uuid.NewString(),
		Value:     resp.Value,
		ExpiresAt: resp.ExpiresAt,
	}, nil
}

// classifyAPI maps an API failure onto the transcription error kinds.
func classifyAPI(op string, err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return &transcribe.NetworkError{Retryable: true, Err: fmt.Errorf("%s: %w", op, err)}
	}
	return classifyStatus(op, apiErr.StatusCode, apiErr.Error())
}

func classifyStatus(op string, code int, detail string) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return &transcribe.AuthError{Reason: fmt.Sprintf("%s: %s", op, detail)}
	case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500:
		return &transcribe.NetworkError{Retryable: true, Err: fmt.Errorf("%s (status %d): %s", op, code, detail)}
	default:
		return &transcribe.NetworkError{Err: fmt.Errorf("%s (status %d): %s", op, code, detail)}
	}
}

// ExchangeSDP sends the local SDP offer and returns the SDP answer.
func ExchangeSDP(ctx context.Context, offer, ephemeralKey string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, RealtimeEndpoint, bytes.NewBufferString(offer))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+ephemeralKey)
	req.Header.Set("Content-Type", "application/sdp")

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", &transcribe.NetworkError{Retryable: true, Err: fmt.Errorf("exchange sdp: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &transcribe.NetworkError{Retryable: true, Err: fmt.Errorf("read sdp answer: %w", err)}
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		slog.Error("SDP exchange failed", "status", resp.StatusCode, "body", string(body))
		return "", classifyStatus("exchange sdp", resp.StatusCode, string(body))
	}
	return string(body), nil
}
