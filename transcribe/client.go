// Package transcribe streams pipeline audio to a remote speech-to-text
// service and turns its events into partial and final results.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.aimuz.me/voxtype/audiocapture"
)

// ErrClosed is returned by Connect when Disconnect was called first.
var ErrClosed = errors.New("transcription client closed")

// State is the connection state.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Streaming
	Closing
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Streaming:
		return "streaming"
	case Closing:
		return "closing"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Result is a transcript update. Finals are never superseded; partials may
// be replaced by a later partial or the final of the same utterance.
type Result struct {
	UtteranceID string
	Text        string
	Confidence  float64
	Final       bool
	At          time.Time
}

// Session describes the current connection.
type Session struct {
	ID            string
	State         State
	AudioDuration time.Duration
	Reconnects    int
}

// Config holds configuration for a client.
type Config struct {
	Params          Params
	Backoff         Backoff
	ConnectTimeout  time.Duration
	FinalizeTimeout time.Duration
	// BufferFrames bounds the audio held while reconnecting.
	BufferFrames int
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		Params:          DefaultParams(),
		Backoff:         DefaultBackoff(),
		ConnectTimeout:  10 * time.Second,
		FinalizeTimeout: 3 * time.Second,
		BufferFrames:    256,
	}
}

// Client owns one transcription session from Connect to Disconnect. It is
// not reusable; create a new Client per activation.
type Client struct {
	cfg       Config
	transport Transport
	after     func(time.Duration) <-chan time.Time

	mu      sync.Mutex
	state   State
	session Session
	pending *ring
	sent    int64 // PCM bytes written
	started bool

	protocolErrors atomic.Uint64

	wake       chan struct{}
	closing    chan struct{}
	closeOnce  sync.Once
	finishOnce sync.Once
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}

	results chan Result
	states  chan State
	errs    chan error
}

// New creates a disconnected client.
func New(cfg Config, transport Transport) *Client {
	def := DefaultConfig()
	if cfg.Params.SampleRate == 0 {
		cfg.Params.SampleRate = def.Params.SampleRate
	}
	if cfg.Params.Encoding == "" {
		cfg.Params.Encoding = def.Params.Encoding
	}
	if cfg.Backoff.MaxAttempts <= 0 {
		cfg.Backoff = def.Backoff
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.FinalizeTimeout <= 0 {
		cfg.FinalizeTimeout = def.FinalizeTimeout
	}
	if cfg.BufferFrames <= 0 {
		cfg.BufferFrames = def.BufferFrames
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:       cfg,
		transport: transport,
		after:     time.After,
		pending:   newRing(cfg.BufferFrames),
		wake:      make(chan struct{}, 1),
		closing:   make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		results:   make(chan Result, 64),
		states:    make(chan State, 16),
		errs:      make(chan error, 1),
	}
}

// Results delivers transcript updates. It is closed when the session ends.
func (c *Client) Results() <-chan Result { return c.results }

// States delivers connection state changes. Slow readers miss updates.
func (c *Client) States() <-chan State { return c.states }

// Errors delivers the fatal error that ended the session, if any.
func (c *Client) Errors() <-chan error { return c.errs }

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns a snapshot of the session.
func (c *Client) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.session
	sent := time.Duration(c.sent/2) * time.Second / time.Duration(c.cfg.Params.SampleRate)
	s.AudioDuration = max(s.AudioDuration, sent)
	return s
}

// Dropped returns how many audio frames were discarded while reconnecting.
func (c *Client) Dropped() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending.dropped
}

// ProtocolErrors returns how many malformed events were skipped.
func (c *Client) ProtocolErrors() uint64 {
	return c.protocolErrors.Load()
}

// Connect opens the session and waits for the server's acknowledgement.
// Retryable failures are retried per the backoff policy. It returns an
// *AuthError, a *NetworkError, or ErrReconnectExhausted.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.started = true
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil && IsRetryable(err) {
		conn, err = c.reconnect(ctx, err)
	}
	if err != nil {
		c.finish()
		return err
	}

	go c.run(conn)
	return nil
}

// Send queues one frame. Frames queued while reconnecting are held in a
// bounded buffer that drops the oldest.
func (c *Client) Send(f audiocapture.Frame) error {
	pcm := audiocapture.PCM16Bytes(f.Samples)

	c.mu.Lock()
	switch c.state {
	case Connecting, Connected, Streaming:
	default:
		c.mu.Unlock()
		return ErrNotStreaming
	}
	c.pending.push(pcm)
	c.mu.Unlock()

	c.signal()
	return nil
}

// Disconnect flushes queued audio, asks the server to finalize, and closes
// the connection. It waits up to the finalize timeout for the termination
// notice, or until ctx is done. It is idempotent and safe to call at any time.
func (c *Client) Disconnect(ctx context.Context) {
	c.closeOnce.Do(func() { close(c.closing) })

	c.mu.Lock()
	started := c.started
	c.started = true
	c.mu.Unlock()
	if !started {
		c.finish()
		return
	}

	select {
	case <-c.done:
	case <-ctx.Done():
		c.cancel()
		<-c.done
	}
}

func (c *Client) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.session.State = s
	c.mu.Unlock()

	select {
	case c.states <- s:
	default:
	}
}

func (c *Client) dial(ctx context.Context) (Conn, error) {
	c.setState(Connecting)

	dctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	conn, err := c.transport.Dial(dctx, c.cfg.Params)
	if err != nil {
		return nil, err
	}
	c.setState(Connected)

	ev, err := conn.ReadEvent(dctx)
	if err != nil {
		conn.Close()
		var ae *AuthError
		var ne *NetworkError
		if errors.As(err, &ae) || errors.As(err, &ne) {
			return nil, err
		}
		return nil, &NetworkError{Retryable: true, Err: fmt.Errorf("await begin: %w", err)}
	}

	switch e := ev.(type) {
	case BeginEvent:
		c.mu.Lock()
		c.session.ID = e.ID
		c.mu.Unlock()
		c.setState(Streaming)
		slog.Info("transcription session started", "session", e.ID, "transport", c.transport.Name())
		return conn, nil
	case ErrorEvent:
		conn.Close()
		return nil, classifyNotice(e.Error)
	default:
		conn.Close()
		return nil, &NetworkError{
			Retryable: true,
			Err:       &ProtocolError{Event: ev.eventType(), Err: errors.New("expected Begin")},
		}
	}
}

// reconnect retries dial with backoff. It never makes more than
// Backoff.MaxAttempts attempts.
func (c *Client) reconnect(ctx context.Context, cause error) (Conn, error) {
	n := c.cfg.Backoff.MaxAttempts
	for attempt := 1; attempt <= n; attempt++ {
		d := c.cfg.Backoff.Delay(attempt)
		c.setState(Connecting)
		slog.Warn("transcription reconnecting", "attempt", attempt, "max", n, "delay", d, "error", cause)

		select {
		case <-c.after(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.closing:
			return nil, ErrClosed
		}

		conn, err := c.dial(ctx)
		if err == nil {
			c.mu.Lock()
			c.session.Reconnects++
			c.mu.Unlock()
			return conn, nil
		}
		if !IsRetryable(err) {
			return nil, err
		}
		cause = err
	}
	return nil, fmt.Errorf("%w after %d attempts: %v", ErrReconnectExhausted, n, cause)
}

func (c *Client) run(conn Conn) {
	defer c.finish()

	for {
		err := c.stream(conn)
		if err == nil {
			return
		}
		if !IsRetryable(err) {
			c.fail(err)
			return
		}

		conn, err = c.reconnect(c.ctx, err)
		if err != nil {
			if errors.Is(err, ErrClosed) || c.ctx.Err() != nil {
				return
			}
			c.fail(err)
			return
		}
	}
}

// stream pumps audio on conn until the connection is lost (returned) or the
// client is closed (nil).
func (c *Client) stream(conn Conn) error {
	stop := make(chan struct{})
	readErr := make(chan error, 1)
	go c.read(conn, stop, readErr)

	// Anything buffered during a reconnect goes out first.
	c.signal()

	for {
		select {
		case <-c.wake:
			if err := c.flush(conn); err != nil {
				close(stop)
				conn.Close()
				<-readErr
				return err
			}
		case err := <-readErr:
			close(stop)
			conn.Close()
			if errors.Is(err, io.EOF) {
				err = &NetworkError{Retryable: true, Err: errors.New("server ended session")}
			}
			return err
		case <-c.closing:
			c.finalize(conn, stop, readErr)
			return nil
		case <-c.ctx.Done():
			close(stop)
			conn.Close()
			<-readErr
			return nil
		}
	}
}

func (c *Client) flush(conn Conn) error {
	for {
		c.mu.Lock()
		pcm, ok := c.pending.pop()
		c.mu.Unlock()
		if !ok {
			return nil
		}
		if err := conn.WriteAudio(pcm); err != nil {
			return err
		}
		c.mu.Lock()
		c.sent += int64(len(pcm))
		c.mu.Unlock()
	}
}

func (c *Client) finalize(conn Conn, stop chan struct{}, readErr <-chan error) {
	c.setState(Closing)

	if err := c.flush(conn); err != nil {
		slog.Warn("transcription flush on close", "error", err)
	}
	if err := conn.Terminate(); err != nil {
		slog.Warn("transcription terminate", "error", err)
	}

	timer := time.NewTimer(c.cfg.FinalizeTimeout)
	defer timer.Stop()

	select {
	case err := <-readErr:
		if err != nil && !errors.Is(err, io.EOF) {
			slog.Warn("transcription finalize", "error", err)
		}
		close(stop)
		conn.Close()
		return
	case <-timer.C:
		slog.Warn("transcription finalize timed out", "timeout", c.cfg.FinalizeTimeout)
	case <-c.ctx.Done():
	}
	close(stop)
	conn.Close()
	<-readErr
}

// read forwards results until the connection ends, then reports why on out
// (io.EOF after a termination notice).
func (c *Client) read(conn Conn, stop <-chan struct{}, out chan<- error) {
	current, discard := -1, -1
	for {
		ev, err := conn.ReadEvent(context.Background())
		if err != nil {
			var pe *ProtocolError
			if errors.As(err, &pe) {
				n := c.protocolErrors.Add(1)
				slog.Warn("transcription protocol error, discarding utterance", "error", err, "turn", current, "count", n)
				discard = current
				continue
			}
			out <- err
			return
		}

		switch e := ev.(type) {
		case TurnEvent:
			current = e.TurnOrder
			if e.TurnOrder == discard {
				continue
			}
			r, ok := c.result(e)
			if !ok {
				continue
			}
			select {
			case c.results <- r:
			case <-stop:
			}
		case TerminationEvent:
			d := time.Duration(e.AudioDurationSeconds * float64(time.Second))
			c.mu.Lock()
			c.session.AudioDuration = d
			id := c.session.ID
			c.mu.Unlock()
			slog.Info("transcription session terminated", "session", id, "audio", d)
			out <- io.EOF
			return
		case ErrorEvent:
			out <- classifyNotice(e.Error)
			return
		case BeginEvent:
			n := c.protocolErrors.Add(1)
			slog.Warn("transcription unexpected Begin mid-session", "session", e.ID, "count", n)
		}
	}
}

// result converts a turn update. A turn is final only when the server marks
// it ended, and formatted if formatting was requested.
func (c *Client) result(e TurnEvent) (Result, bool) {
	text := strings.TrimSpace(e.Transcript)
	if text == "" {
		return Result{}, false
	}

	c.mu.Lock()
	id := c.session.ID
	c.mu.Unlock()

	return Result{
		UtteranceID: fmt.Sprintf("%s/%d", id, e.TurnOrder),
		Text:        text,
		Confidence:  e.EndOfTurnConfidence,
		Final:       e.EndOfTurn && (e.TurnIsFormatted || !c.cfg.Params.FormatTurns),
		At:          time.Now(),
	}, true
}

func (c *Client) fail(err error) {
	slog.Error("transcription session failed", "error", err)
	select {
	case c.errs <- err:
	default:
	}
}

// finish releases buffered audio and closes Results.
func (c *Client) finish() {
	c.finishOnce.Do(func() {
		c.setState(Disconnected)
		c.mu.Lock()
		c.pending.reset()
		c.mu.Unlock()
		c.cancel()
		close(c.results)
		close(c.done)
	})
}
