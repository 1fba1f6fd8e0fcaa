package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"go.aimuz.me/voxtype/audiocapture"
	"go.aimuz.me/voxtype/transcribe"
)

// errCaptureStopped ends a session whose audio feed closed without an error.
var errCaptureStopped = errors.New("audio capture stopped")

type sessionEventKind int

const (
	sessionReady sessionEventKind = iota
	sessionFailed
	sessionSilence
	sessionResult
	sessionClosed
)

// sessionEvent is reported by a session goroutine to the orchestrator.
type sessionEvent struct {
	id     uint64
	kind   sessionEventKind
	result transcribe.Result
	err    error
}

// Capture is the part of audiocapture.Engine the orchestrator uses.
type Capture interface {
	Open(ctx context.Context, deviceID string) error
	Subscribe(name string, blockSize, queueLen int) *audiocapture.Subscription
	Unsubscribe(sub *audiocapture.Subscription)
	Errors() <-chan error
}

// SilenceConfig ends a session after the speaker goes quiet.
type SilenceConfig struct {
	Threshold float32
	Trailing  time.Duration // after speech; zero disables
	Initial   time.Duration // before any speech; zero disables
	MinSpeech time.Duration
}

// DefaultSilenceConfig returns the default silence timeouts.
func DefaultSilenceConfig() SilenceConfig {
	return SilenceConfig{
		Threshold: 0.015,
		Trailing:  2 * time.Second,
		Initial:   6 * time.Second,
		MinSpeech: 300 * time.Millisecond,
	}
}

// session streams one activation's audio to a transcription client.
type session struct {
	id        uint64
	capture   Capture
	transport transcribe.Transport
	cfg       transcribe.Config
	silence   SilenceConfig
	latency   time.Duration
	wavDir    string

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func (s *session) start(ctx context.Context, out chan<- sessionEvent) {
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(ctx, out)
}

// halt asks the session to finish. It does not wait.
func (s *session) halt() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *session) wait() {
	<-s.done
}

func (s *session) emit(ctx context.Context, out chan<- sessionEvent, ev sessionEvent) {
	ev.id = s.id
	select {
	case out <- ev:
	case <-ctx.Done():
	}
}

func (s *session) run(ctx context.Context, out chan<- sessionEvent) {
	defer close(s.done)
	defer s.emit(ctx, out, sessionEvent{kind: sessionClosed})

	sub := s.capture.Subscribe(fmt.Sprintf("session-%d", s.id), audiocapture.BlockSize(audiocapture.PipelineRate, s.latency), 64)
	defer s.capture.Unsubscribe(sub)

	client := transcribe.New(s.cfg, s.transport)

	// Halting cancels a connect still in progress.
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.stop:
			cancel()
		case <-cctx.Done():
		}
	}()

	if err := client.Connect(cctx); err != nil {
		s.emit(ctx, out, sessionEvent{kind: sessionFailed, err: err})
		return
	}
	slog.Info("transcription session ready", "session", s.id, "id", client.Session().ID)
	s.emit(ctx, out, sessionEvent{kind: sessionReady})

	var wg sync.WaitGroup
	wg.Go(func() {
		for r := range client.Results() {
			s.emit(ctx, out, sessionEvent{kind: sessionResult, result: r})
		}
	})

	rec := s.recorder()
	err := s.pump(ctx, out, sub, client, rec)
	if err != nil {
		s.emit(ctx, out, sessionEvent{kind: sessionFailed, err: err})
	}

	s.capture.Unsubscribe(sub)
	dctx, dcancel := context.WithTimeout(context.Background(), s.cfg.FinalizeTimeout+time.Second)
	client.Disconnect(dctx)
	dcancel()
	wg.Wait()

	if rec != nil {
		if err := rec.Close(); err != nil {
			slog.Warn("close session recording", "error", err)
		}
	}
	sess := client.Session()
	slog.Info("transcription session closed",
		"session", s.id,
		"audio", sess.AudioDuration,
		"reconnects", sess.Reconnects,
		"dropped", client.Dropped()+sub.Dropped(),
		"protocol_errors", client.ProtocolErrors(),
	)
}

// pump forwards frames until the session is halted or fails.
func (s *session) pump(ctx context.Context, out chan<- sessionEvent, sub *audiocapture.Subscription, client *transcribe.Client, rec *audiocapture.WAVRecorder) error {
	silence := audiocapture.NewSilenceDetector(s.silence.Threshold, s.silence.Trailing, s.silence.Initial, s.silence.MinSpeech)
	for {
		select {
		case <-s.stop:
			return nil
		case <-ctx.Done():
			return nil
		case err := <-client.Errors():
			return err
		case f, ok := <-sub.Frames():
			if !ok {
				if err := sub.Err(); err != nil {
					return err
				}
				return errCaptureStopped
			}
			if rec != nil {
				if err := rec.Write(f); err != nil {
					slog.Warn("write session recording", "error", err)
					rec = nil
				}
			}
			if err := client.Send(f); err != nil && !errors.Is(err, transcribe.ErrNotStreaming) {
				slog.Debug("send audio", "error", err)
			}
			if silence.Process(f.Samples, f.SampleRate) {
				s.emit(ctx, out, sessionEvent{kind: sessionSilence})
			}
		}
	}
}

func (s *session) recorder() *audiocapture.WAVRecorder {
	if s.wavDir == "" {
		return nil
	}
	path := filepath.Join(s.wavDir, fmt.Sprintf("session-%s-%d.wav", time.Now().Format("20060102-150405"), s.id))
	rec, err := audiocapture.NewWAVRecorder(path)
	if err != nil {
		slog.Warn("open session recording", "path", path, "error", err)
		return nil
	}
	return rec
}
