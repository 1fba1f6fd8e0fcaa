// Package app composes capture, activation, transcription, and delivery into
// one observable application state.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"go.aimuz.me/voxtype/activation"
	"go.aimuz.me/voxtype/audiocapture"
	"go.aimuz.me/voxtype/delivery"
	"go.aimuz.me/voxtype/history"
	"go.aimuz.me/voxtype/internal/types"
	"go.aimuz.me/voxtype/transcribe"
	"go.aimuz.me/voxtype/transcript"
	"go.aimuz.me/voxtype/wakeword"
)

// DefaultErrorTimeout returns the app from Error to Idle when nobody
// acknowledges the error.
const DefaultErrorTimeout = 10 * time.Second

var errBusy = errors.New("application busy")

// Controller is the activation state machine the service drives.
// *activation.Controller implements it.
type Controller interface {
	Run(ctx context.Context, hotkeys <-chan time.Time, wakes <-chan wakeword.Match) error
	Transitions() <-chan activation.Transition
	State() activation.State
	SessionReady()
	SessionFailed(err error)
	SilenceTimeout()
	Fatal(err error)
	CleanupComplete()
}

// Options wires the service's collaborators. Capture, Controller, Transport
// and Deliverer are required.
type Options struct {
	Capture    Capture
	DeviceID   string // reopened after device loss
	Controller Controller
	Transport  transcribe.Transport
	Deliverer  delivery.Deliverer

	// Detector, when set, is fed from its own capture subscription.
	Detector *wakeword.Detector
	Hotkeys  <-chan time.Time

	Client       transcribe.Config
	Silence      SilenceConfig
	Latency      time.Duration // streaming block latency
	ErrorTimeout time.Duration
	QueueSize    int
	Target       func() delivery.Target

	History       *history.Store
	Notifier      Notifier
	Cue           Cue
	DebugAudioDir string
}

// Service is the application state machine. Run owns all state; other
// goroutines observe it through Status and Updates.
type Service struct {
	opts   Options
	ctl    Controller
	filter *transcript.Filter
	queue  *delivery.Queue

	events  chan sessionEvent
	ack     chan struct{}
	updates chan types.Status

	mu     sync.RWMutex
	status types.Status

	wg sync.WaitGroup

	// Owned by Run.
	m          machine
	session    *session
	sessionID  uint64
	cleanupFor uint64   // activation whose CleanupComplete waits on its session closing
	queued     []uint64 // session of each queued text, in queue order
	wakes      chan wakeword.Match
	wakeDone   chan struct{}
	errTimer   *time.Timer
	errTimeout <-chan time.Time
}

// New creates a service.
func New(opts Options) *Service {
	if opts.Notifier == nil {
		opts.Notifier = nopNotifier{}
	}
	if opts.ErrorTimeout <= 0 {
		opts.ErrorTimeout = DefaultErrorTimeout
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 16
	}
	if opts.Latency <= 0 {
		opts.Latency = 50 * time.Millisecond
	}
	if opts.Silence == (SilenceConfig{}) {
		opts.Silence = DefaultSilenceConfig()
	}
	if opts.Client.FinalizeTimeout <= 0 {
		opts.Client.FinalizeTimeout = transcribe.DefaultConfig().FinalizeTimeout
	}

	return &Service{
		opts:    opts,
		ctl:     opts.Controller,
		filter:  transcript.NewFilter(),
		queue:   delivery.NewQueue(opts.Deliverer, opts.QueueSize, opts.Target),
		events:  make(chan sessionEvent, 64),
		ack:     make(chan struct{}, 1),
		updates: make(chan types.Status, 16),
		status:  types.Status{State: types.StateIdle, Since: time.Now()},
	}
}

// Status returns the current application state.
func (s *Service) Status() types.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Updates delivers every state change. Slow readers miss updates.
func (s *Service) Updates() <-chan types.Status {
	return s.updates
}

// Acknowledge clears an Error state.
func (s *Service) Acknowledge() {
	select {
	case s.ack <- struct{}{}:
	default:
	}
}

// Run orchestrates the pipeline until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		s.shutdown()
		s.wg.Wait()
	}()

	s.wakes = make(chan wakeword.Match, 1)
	s.startWakeWord(ctx)

	ctlErr := make(chan error, 1)
	s.wg.Go(func() { ctlErr <- s.ctl.Run(ctx, s.opts.Hotkeys, s.wakes) })
	s.wg.Go(func() { s.queue.Run(ctx) })

	results := s.queue.Results()
	slog.Info("voice activation ready")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-ctlErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("activation: %w", err)
			}
			return ctx.Err()
		case tr := <-s.ctl.Transitions():
			s.onTransition(ctx, tr)
		case ev := <-s.events:
			s.onSession(ev)
		case d, ok := <-results:
			if !ok {
				results = nil
				continue
			}
			s.onDelivery(d)
		case err := <-s.opts.Capture.Errors():
			s.fail(fmt.Errorf("capture: %w", err))
		case <-s.ack:
			s.leaveError(ctx)
		case <-s.errTimeout:
			s.errTimeout = nil
			slog.Info("error state timed out")
			s.leaveError(ctx)
		}
	}
}

// startWakeWord feeds the detector from its own capture subscription. It
// does nothing without a detector or while a previous feed is running.
func (s *Service) startWakeWord(ctx context.Context) {
	d := s.opts.Detector
	if d == nil {
		return
	}
	if s.wakeDone != nil {
		select {
		case <-s.wakeDone:
		default:
			return
		}
	}

	done := make(chan struct{})
	s.wakeDone = done
	sub := s.opts.Capture.Subscribe("wakeword", d.FrameLength(), 32)
	s.wg.Go(func() {
		defer close(done)
		defer s.opts.Capture.Unsubscribe(sub)
		if err := d.Run(ctx, sub, s.wakes); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("wake word detector stopped", "error", err)
		}
	})
}

// leaveError leaves Error. Capture lost to a device failure is reopened
// first; if that fails the app stays in Error with the new reason.
func (s *Service) leaveError(ctx context.Context) {
	if s.m.State != types.StateError {
		return
	}
	err := s.opts.Capture.Open(ctx, s.opts.DeviceID)
	if err != nil && !errors.Is(err, audiocapture.ErrRunning) {
		s.fail(fmt.Errorf("reopen capture: %w", err))
		return
	}
	s.startWakeWord(ctx)
	s.apply(inRecover, "")
}

func (s *Service) onTransition(ctx context.Context, tr activation.Transition) {
	switch tr.To {
	case activation.Activating:
		if !s.m.accepting() || s.session != nil {
			slog.Info("activation rejected", "state", s.m.State, "trigger", tr.Event.Kind)
			s.ctl.SessionFailed(errBusy)
			return
		}
		s.startSession(ctx, tr.Session)
		if s.opts.Cue != nil {
			s.opts.Cue.Play()
		}
	case activation.Active:
		s.apply(inActivated, "")
	case activation.Deactivating:
		s.apply(inDeactivating, "")
		if s.session == nil || s.session.id != tr.Session {
			// Nothing of this activation is left to close.
			s.ctl.CleanupComplete()
			return
		}
		s.cleanupFor = tr.Session
		s.session.halt()
	}
}

func (s *Service) startSession(ctx context.Context, id uint64) {
	s.sessionID = id
	s.filter.Reset()
	s.session = &session{
		id:        id,
		capture:   s.opts.Capture,
		transport: s.opts.Transport,
		cfg:       s.opts.Client,
		silence:   s.opts.Silence,
		latency:   s.opts.Latency,
		wavDir:    s.opts.DebugAudioDir,
	}
	s.session.start(ctx, s.events)
	slog.Info("transcription session starting", "session", id, "transport", s.opts.Transport.Name())
}

func (s *Service) onSession(ev sessionEvent) {
	if s.session == nil || ev.id != s.session.id {
		slog.Debug("stale session event", "session", ev.id, "kind", ev.kind)
		return
	}

	switch ev.kind {
	case sessionReady:
		s.ctl.SessionReady()
	case sessionSilence:
		slog.Info("silence timeout", "session", ev.id)
		s.ctl.SilenceTimeout()
	case sessionFailed:
		s.ctl.SessionFailed(ev.err)
		if fatal(ev.err) {
			s.fail(ev.err)
		} else {
			slog.Warn("transcription session ended", "session", ev.id, "error", ev.err)
		}
	case sessionResult:
		s.onResult(ev.result)
	case sessionClosed:
		s.session = nil
		s.apply(inClosed, "")
		if s.cleanupFor == ev.id {
			s.cleanupFor = 0
			s.ctl.CleanupComplete()
		}
	}
}

func (s *Service) onResult(r transcribe.Result) {
	text, ok := s.filter.Process(r)
	if !ok {
		return
	}
	if s.m.State == types.StateError {
		slog.Warn("final transcript not delivered", "state", s.m.State, "reason", s.m.Reason)
		s.record(history.Entry{Text: text, Error: "not delivered: " + s.m.Reason})
		return
	}
	if err := s.queue.Enqueue(text); err != nil {
		slog.Error("queue transcript", "error", err)
		s.record(history.Entry{Text: text, Error: err.Error()})
		return
	}
	s.queued = append(s.queued, s.sessionID)
	s.apply(inFinal, "")
}

func (s *Service) onDelivery(d delivery.Delivery) {
	var session uint64
	if len(s.queued) > 0 {
		session, s.queued = s.queued[0], s.queued[1:]
	}
	s.record(deliveryEntry(d, session))
	s.apply(inDelivered, "")

	switch {
	case d.Err == nil:
		slog.Info("text delivered", "app", d.Target.App, "strategy", d.Outcome.Strategy, "chars", len(d.Outcome.Text))
	case errors.Is(d.Err, context.Canceled), errors.Is(d.Err, context.DeadlineExceeded):
		slog.Warn("delivery cancelled", "error", d.Err)
	default:
		s.fail(d.Err)
	}
}

func deliveryEntry(d delivery.Delivery, session uint64) history.Entry {
	e := history.Entry{
		Text:      d.Text,
		App:       d.Target.App,
		Strategy:  d.Outcome.Strategy,
		Delivered: d.Err == nil,
	}
	if d.Outcome.Text != "" {
		e.Text = d.Outcome.Text
	}
	if session != 0 {
		e.Session = strconv.FormatUint(session, 10)
	}
	if d.Err != nil {
		e.Error = d.Err.Error()
	}
	return e
}

func (s *Service) record(e history.Entry) {
	if s.opts.History == nil {
		return
	}
	if e.Session == "" && s.sessionID != 0 {
		e.Session = strconv.FormatUint(s.sessionID, 10)
	}
	if err := s.opts.History.Put(&e); err != nil {
		slog.Error("save history", "error", err)
	}
}

// fail moves the app to Error and ends the active session.
func (s *Service) fail(err error) {
	reason := describe(err)
	slog.Error("fatal error", "reason", reason, "error", err)
	if s.m.State != types.StateError {
		s.opts.Notifier.Notify("Voice typing stopped", reason)
		s.opts.Notifier.Report(err)
	}

	s.apply(inFatal, reason)
	if s.session != nil {
		s.ctl.Fatal(err)
		s.session.halt()
	}

	if s.errTimer != nil {
		s.errTimer.Stop()
	}
	s.errTimer = time.NewTimer(s.opts.ErrorTimeout)
	s.errTimeout = s.errTimer.C
}

// apply runs one transition and publishes the result.
func (s *Service) apply(in input, reason string) {
	prev := s.m
	s.m = step(s.m, in, reason)
	if s.m.State != types.StateError && s.errTimer != nil {
		s.errTimer.Stop()
		s.errTimer, s.errTimeout = nil, nil
	}

	s.mu.Lock()
	changed := prev.State != s.m.State || prev.Reason != s.m.Reason
	if changed {
		s.status.State = s.m.State
		s.status.Reason = s.m.Reason
		s.status.Since = time.Now()
	}
	s.status.Session = s.sessionID
	s.status.Pending = s.m.Pending
	st := s.status
	s.mu.Unlock()

	if !changed {
		return
	}
	slog.Info("app state", "from", prev.State, "to", s.m.State, "input", in, "reason", s.m.Reason)
	select {
	case s.updates <- st:
	default:
	}
}

// shutdown ends the active session and records text that never made it
// out of the queue.
func (s *Service) shutdown() {
	if s.session != nil {
		s.session.halt()
		s.session.wait()
		s.session = nil
	}
	for d := range s.queue.Results() {
		s.onDelivery(d)
	}
}

// fatal reports whether err should move the app to Error rather than just
// end the session.
func fatal(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var ae *transcribe.AuthError
	var ne *transcribe.NetworkError
	switch {
	case errors.As(err, &ae),
		errors.Is(err, transcribe.ErrReconnectExhausted),
		errors.Is(err, audiocapture.ErrDeviceUnavailable),
		errors.Is(err, audiocapture.ErrPermission):
		return true
	case errors.As(err, &ne):
		return !ne.Retryable
	}
	return false
}

// describe turns an error into a short user-facing reason.
func describe(err error) string {
	var ae *transcribe.AuthError
	var ie *delivery.InsertionError
	switch {
	case errors.As(err, &ae):
		return "transcription service rejected the credentials"
	case errors.Is(err, transcribe.ErrReconnectExhausted):
		return "lost connection to the transcription service"
	case errors.Is(err, audiocapture.ErrPermission):
		return "microphone access denied"
	case errors.Is(err, audiocapture.ErrDeviceUnavailable):
		return "microphone unavailable"
	case errors.As(err, &ie):
		return fmt.Sprintf("could not insert text into %s; it was saved to history", appName(ie.Target.App))
	default:
		return err.Error()
	}
}

func appName(app string) string {
	if app == "" {
		return "the active application"
	}
	return app
}
