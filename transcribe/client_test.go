package transcribe

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"go.aimuz.me/voxtype/audiocapture"
)

// fakeConn replays scripted events. Values pushed on events are either an
// Event or an error.
type fakeConn struct {
	events    chan any
	closed    chan struct{}
	closeOnce sync.Once

	// replyToTerminate sends a termination notice when Terminate is called.
	replyToTerminate bool

	mu         sync.Mutex
	writes     [][]byte
	terminated bool
}

func newFakeConn(sessionID string) *fakeConn {
	c := &fakeConn{
		events:           make(chan any, 32),
		closed:           make(chan struct{}),
		replyToTerminate: true,
	}
	c.events <- BeginEvent{ID: sessionID}
	return c
}

func (c *fakeConn) ReadEvent(ctx context.Context) (Event, error) {
	select {
	case v := <-c.events:
		if err, ok := v.(error); ok {
			return nil, err
		}
		return v.(Event), nil
	case <-c.closed:
		return nil, &NetworkError{Retryable: true, Err: net.ErrClosed}
	case <-ctx.Done():
		return nil, &NetworkError{Retryable: true, Err: ctx.Err()}
	}
}

func (c *fakeConn) WriteAudio(pcm []byte) error {
	select {
	case <-c.closed:
		return &NetworkError{Retryable: true, Err: net.ErrClosed}
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, bytes.Clone(pcm))
	return nil
}

func (c *fakeConn) Terminate() error {
	c.mu.Lock()
	c.terminated = true
	c.mu.Unlock()
	if c.replyToTerminate {
		c.events <- TerminationEvent{AudioDurationSeconds: 1.5}
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.writes...)
}

type fakeTransport struct {
	mu    sync.Mutex
	dials int
	dial  func(n int) (Conn, error)
}

func (t *fakeTransport) Name() string        { return "fake" }
func (t *fakeTransport) DisplayName() string { return "Fake" }

func (t *fakeTransport) Dial(ctx context.Context, p Params) (Conn, error) {
	t.mu.Lock()
	t.dials++
	n := t.dials
	t.mu.Unlock()
	return t.dial(n)
}

func (t *fakeTransport) dialCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

// delayRecorder replaces time.After, recording each delay and firing at once.
type delayRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *delayRecorder) after(d time.Duration) <-chan time.Time {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func (r *delayRecorder) get() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Backoff = Backoff{Base: 100 * time.Millisecond, Max: 300 * time.Millisecond, MaxAttempts: 3}
	cfg.FinalizeTimeout = time.Second
	return cfg
}

func pcmFrame(v float32) audiocapture.Frame {
	s := make([]float32, 160)
	for i := range s {
		s[i] = v
	}
	return audiocapture.Frame{Samples: s, SampleRate: audiocapture.PipelineRate}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func nextResult(t *testing.T, c *Client) Result {
	t.Helper()
	select {
	case r, ok := <-c.Results():
		if !ok {
			t.Fatal("results closed")
		}
		return r
	case <-time.After(time.Second):
		t.Fatal("no result")
		return Result{}
	}
}

func TestStreamingSession(t *testing.T) {
	conn := newFakeConn("s1")
	tr := &fakeTransport{dial: func(int) (Conn, error) { return conn, nil }}
	c := New(testConfig(), tr)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if got := c.State(); got != Streaming {
		t.Fatalf("State() = %s, want streaming", got)
	}
	if got := c.Session().ID; got != "s1" {
		t.Errorf("session id = %q, want s1", got)
	}

	for i := 0; i < 2; i++ {
		if err := c.Send(pcmFrame(0.1)); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	waitFor(t, "audio written", func() bool { return len(conn.written()) == 2 })

	conn.events <- TurnEvent{TurnOrder: 0, Transcript: "hello"}
	conn.events <- TurnEvent{TurnOrder: 0, Transcript: "hello world", EndOfTurn: true}
	conn.events <- TurnEvent{TurnOrder: 0, Transcript: "Hello world.", EndOfTurn: true, TurnIsFormatted: true}

	want := []struct {
		text  string
		final bool
	}{
		{"hello", false},
		{"hello world", false},
		{"Hello world.", true},
	}
	for _, w := range want {
		r := nextResult(t, c)
		if r.Text != w.text || r.Final != w.final {
			t.Errorf("result = %q final=%v, want %q final=%v", r.Text, r.Final, w.text, w.final)
		}
		if r.UtteranceID != "s1/0" {
			t.Errorf("utterance id = %q, want s1/0", r.UtteranceID)
		}
	}

	c.Disconnect(context.Background())

	if _, ok := <-c.Results(); ok {
		t.Error("results still open after Disconnect")
	}
	if got := c.State(); got != Disconnected {
		t.Errorf("State() = %s, want disconnected", got)
	}
	if !conn.terminated {
		t.Error("Terminate not sent")
	}
	if got := c.Session().AudioDuration; got != 1500*time.Millisecond {
		t.Errorf("AudioDuration = %v, want 1.5s", got)
	}

	// Idempotent, and no more audio is accepted.
	c.Disconnect(context.Background())
	if err := c.Send(pcmFrame(0)); !errors.Is(err, ErrNotStreaming) {
		t.Errorf("Send after Disconnect = %v, want ErrNotStreaming", err)
	}
}

func TestConnectAuthErrorIsNotRetried(t *testing.T) {
	tr := &fakeTransport{dial: func(int) (Conn, error) {
		return nil, &AuthError{Reason: "invalid api key"}
	}}
	rec := &delayRecorder{}
	c := New(testConfig(), tr)
	c.after = rec.after

	err := c.Connect(context.Background())
	var ae *AuthError
	if !errors.As(err, &ae) {
		t.Fatalf("Connect() = %v, want *AuthError", err)
	}
	if n := tr.dialCount(); n != 1 {
		t.Errorf("dialed %d times, want 1", n)
	}
	if len(rec.get()) != 0 {
		t.Error("backoff used for auth error")
	}
}

func TestConnectRetriesThenSucceeds(t *testing.T) {
	conn := newFakeConn("s2")
	tr := &fakeTransport{dial: func(n int) (Conn, error) {
		if n < 3 {
			return nil, &NetworkError{Retryable: true, Err: errors.New("connection refused")}
		}
		return conn, nil
	}}
	rec := &delayRecorder{}
	c := New(testConfig(), tr)
	c.after = rec.after

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect(context.Background())

	if got := c.Session().Reconnects; got != 1 {
		t.Errorf("Reconnects = %d, want 1", got)
	}
	if got := rec.get(); len(got) != 2 {
		t.Errorf("delays = %v, want 2 entries", got)
	}
}

func TestReconnectGivesUpAfterMaxAttempts(t *testing.T) {
	first := newFakeConn("s1")
	tr := &fakeTransport{dial: func(n int) (Conn, error) {
		if n == 1 {
			return first, nil
		}
		return nil, &NetworkError{Retryable: true, Err: errors.New("connection reset")}
	}}
	rec := &delayRecorder{}
	c := New(testConfig(), tr)
	c.after = rec.after

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	first.events <- &NetworkError{Retryable: true, Err: errors.New("connection reset")}

	select {
	case err := <-c.Errors():
		if !errors.Is(err, ErrReconnectExhausted) {
			t.Fatalf("Errors() = %v, want ErrReconnectExhausted", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no fatal error")
	}

	waitFor(t, "results closed", func() bool {
		select {
		case _, ok := <-c.Results():
			return !ok
		default:
			return false
		}
	})

	if got := c.State(); got != Disconnected {
		t.Errorf("State() = %s, want disconnected", got)
	}
	// One initial dial plus exactly three reconnect attempts.
	if n := tr.dialCount(); n != 4 {
		t.Errorf("dialed %d times, want 4", n)
	}

	delays := rec.get()
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond}
	if len(delays) != len(want) {
		t.Fatalf("delays = %v, want %v", delays, want)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay %d = %v, want %v", i, delays[i], want[i])
		}
	}
}

func TestReconnectBuffersNewestAudio(t *testing.T) {
	first := newFakeConn("s1")
	second := newFakeConn("s2")
	tr := &fakeTransport{dial: func(n int) (Conn, error) {
		if n == 1 {
			return first, nil
		}
		return second, nil
	}}
	gate := make(chan time.Time)
	cfg := testConfig()
	cfg.BufferFrames = 4
	c := New(cfg, tr)
	c.after = func(time.Duration) <-chan time.Time { return gate }

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect(context.Background())

	first.events <- &NetworkError{Retryable: true, Err: errors.New("connection reset")}
	waitFor(t, "reconnecting", func() bool { return c.State() == Connecting })

	for i := 0; i < 10; i++ {
		if err := c.Send(pcmFrame(float32(i) / 100)); err != nil {
			t.Fatalf("Send during outage: %v", err)
		}
	}
	if got := c.Dropped(); got != 6 {
		t.Errorf("Dropped() = %d, want 6", got)
	}

	gate <- time.Now()
	waitFor(t, "buffered audio flushed", func() bool { return len(second.written()) == 4 })

	for i, w := range second.written() {
		want := audiocapture.PCM16Bytes(pcmFrame(float32(6+i) / 100).Samples)
		if !bytes.Equal(w, want) {
			t.Errorf("chunk %d is not frame %d", i, 6+i)
		}
	}
	if got := c.Session().ID; got != "s2" {
		t.Errorf("session id after reconnect = %q, want s2", got)
	}
}

func TestProtocolErrorDiscardsUtterance(t *testing.T) {
	conn := newFakeConn("s1")
	tr := &fakeTransport{dial: func(int) (Conn, error) { return conn, nil }}
	c := New(testConfig(), tr)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer c.Disconnect(context.Background())

	conn.events <- TurnEvent{TurnOrder: 0, Transcript: "garbled"}
	conn.events <- &ProtocolError{Event: "Turn", Err: errors.New("bad json")}
	conn.events <- TurnEvent{TurnOrder: 0, Transcript: "Garbled.", EndOfTurn: true, TurnIsFormatted: true}
	conn.events <- TurnEvent{TurnOrder: 1, Transcript: "Next one.", EndOfTurn: true, TurnIsFormatted: true}

	if r := nextResult(t, c); r.Text != "garbled" || r.Final {
		t.Fatalf("first result = %+v", r)
	}
	r := nextResult(t, c)
	if r.Text != "Next one." || !r.Final {
		t.Errorf("result after protocol error = %+v, want final of turn 1", r)
	}
	if got := c.ProtocolErrors(); got != 1 {
		t.Errorf("ProtocolErrors() = %d, want 1", got)
	}
	if got := c.State(); got != Streaming {
		t.Errorf("State() = %s, want streaming", got)
	}
}

func TestServerErrorNoticeIsFatalForAuth(t *testing.T) {
	conn := newFakeConn("s1")
	tr := &fakeTransport{dial: func(int) (Conn, error) { return conn, nil }}
	c := New(testConfig(), tr)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	conn.events <- ErrorEvent{Error: "Unauthorized connection: invalid API key"}

	select {
	case err := <-c.Errors():
		var ae *AuthError
		if !errors.As(err, &ae) {
			t.Fatalf("Errors() = %v, want *AuthError", err)
		}
	case <-time.After(time.Second):
		t.Fatal("no error")
	}
	if n := tr.dialCount(); n != 1 {
		t.Errorf("dialed %d times, want 1", n)
	}
}

func TestDisconnectWithoutTerminationTimesOut(t *testing.T) {
	conn := newFakeConn("s1")
	conn.replyToTerminate = false
	tr := &fakeTransport{dial: func(int) (Conn, error) { return conn, nil }}
	cfg := testConfig()
	cfg.FinalizeTimeout = 20 * time.Millisecond
	c := New(cfg, tr)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	c.Disconnect(context.Background())
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Disconnect took %v", elapsed)
	}
	if got := c.State(); got != Disconnected {
		t.Errorf("State() = %s, want disconnected", got)
	}
}

func TestDisconnectBeforeConnect(t *testing.T) {
	c := New(testConfig(), &fakeTransport{dial: func(int) (Conn, error) {
		t.Fatal("dialed after Disconnect")
		return nil, nil
	}})
	c.Disconnect(context.Background())
	c.Disconnect(context.Background())

	if err := c.Connect(context.Background()); err == nil {
		t.Error("Connect succeeded after Disconnect")
	}
	if _, ok := <-c.Results(); ok {
		t.Error("results open")
	}
}
