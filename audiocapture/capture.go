// Package audiocapture provides microphone capture normalized to the
// pipeline format (16 kHz mono float32) and fanned out to subscribers.
package audiocapture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// PipelineRate is the single sample rate used downstream of capture.
const PipelineRate = 16000

var (
	// ErrDeviceUnavailable is returned when the requested device does not
	// exist or disappears while a stream is open.
	ErrDeviceUnavailable = errors.New("audio device unavailable")

	// ErrPermission is returned when the OS denies microphone access.
	ErrPermission = errors.New("microphone access denied")

	// ErrRunning is returned when opening a stream that is already open.
	ErrRunning = errors.New("capture already running")

	// ErrUnsupported is returned by backends unavailable on this platform.
	ErrUnsupported = errors.New("audio backend not supported on this platform")
)

// Device is a snapshot of an input device as reported by the OS.
type Device struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Channels   int    `json:"channels"`
	SampleRate int    `json:"sampleRate"`
	Default    bool   `json:"default"`
}

// Frame is a fixed-size block of mono samples in [-1, 1].
type Frame struct {
	Samples    []float32
	SampleRate int
	Seq        uint64 // per-subscriber sequence number, starting at 1
	Time       time.Time
}

// Duration returns the audio duration covered by the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate == 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

// StreamHandler receives raw interleaved samples from a backend.
// OnAudio runs on the backend's audio thread and must not block.
type StreamHandler struct {
	OnAudio func(samples []float32)
	OnLost  func(err error)
}

// Backend is a platform audio subsystem.
type Backend interface {
	Devices() ([]Device, error)
	Start(dev Device, h StreamHandler) error
	Stop() error
	Close() error
}

// Config holds configuration for the capture engine.
type Config struct {
	// StallTimeout surfaces a silent stall as device loss. Zero disables.
	StallTimeout time.Duration
}

// DefaultConfig returns the default capture configuration.
func DefaultConfig() Config {
	return Config{StallTimeout: 2 * time.Second}
}

// BlockSize returns the number of samples in a block for the latency budget.
// Smaller blocks lower latency and raise per-frame overhead.
func BlockSize(rate int, latency time.Duration) int {
	n := int(int64(rate) * int64(latency) / int64(time.Second))
	return max(n, 1)
}

// Engine owns the microphone device handle and publishes frames.
type Engine struct {
	cfg     Config
	backend Backend

	mu        sync.RWMutex
	running   bool
	device    Device
	resampler *Resampler
	subs      []*Subscription
	cancel    context.CancelFunc
	lost      error // set by device loss, cleared by Open

	lastAudio atomic.Int64 // unix nanos of the last callback
	errs      chan error
}

// New creates a capture engine on top of backend.
func New(cfg Config, backend Backend) *Engine {
	return &Engine{
		cfg:     cfg,
		backend: backend,
		errs:    make(chan error, 1),
	}
}

// Devices enumerates input devices. Results are never cached so hot-swapped
// devices show up on the next call.
func (e *Engine) Devices() ([]Device, error) {
	devices, err := e.backend.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}
	return devices, nil
}

// Open starts capturing from the device with the given id. An empty id
// selects the default device.
func (e *Engine) Open(ctx context.Context, deviceID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return ErrRunning
	}

	devices, err := e.backend.Devices()
	if err != nil {
		return fmt.Errorf("enumerate devices: %w", err)
	}
	dev, err := selectDevice(devices, deviceID)
	if err != nil {
		return err
	}

	e.device = dev
	e.resampler = NewResampler(dev.SampleRate, PipelineRate)
	e.lastAudio.Store(time.Now().UnixNano())

	err = e.backend.Start(dev, StreamHandler{
		OnAudio: e.handleAudio,
		OnLost:  e.fail,
	})
	if err != nil {
		if errors.Is(err, ErrPermission) {
			return err
		}
		return fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, dev.Name, err)
	}

	e.running = true
	e.lost = nil
	if e.cfg.StallTimeout > 0 {
		wctx, cancel := context.WithCancel(ctx)
		e.cancel = cancel
		go e.watchdog(wctx)
	}

	slog.Info("audio capture opened", "device", dev.Name, "rate", dev.SampleRate, "channels", dev.Channels)
	return nil
}

func selectDevice(devices []Device, id string) (Device, error) {
	if id == "" {
		if i := slices.IndexFunc(devices, func(d Device) bool { return d.Default }); i >= 0 {
			return devices[i], nil
		}
		if len(devices) > 0 {
			return devices[0], nil
		}
		return Device{}, fmt.Errorf("%w: no input devices", ErrDeviceUnavailable)
	}
	i := slices.IndexFunc(devices, func(d Device) bool { return d.ID == id })
	if i < 0 {
		return Device{}, fmt.Errorf("%w: %q", ErrDeviceUnavailable, id)
	}
	return devices[i], nil
}

// Device returns the currently open device.
func (e *Engine) Device() Device {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.device
}

// IsRunning reports whether a stream is open.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Subscribe registers a consumer that receives frames of exactly blockSize
// samples through a queue of queueLen frames. On overflow the oldest queued
// frame is dropped. After device loss, and until the next Open, the
// subscription comes back already closed with the loss error.
func (e *Engine) Subscribe(name string, blockSize, queueLen int) *Subscription {
	sub := newSubscription(name, blockSize, queueLen)

	e.mu.Lock()
	lost := e.lost
	if lost == nil {
		e.subs = append(e.subs, sub)
	}
	e.mu.Unlock()

	if lost != nil {
		sub.close(lost)
	}
	return sub
}

// Lost returns the device loss error that stopped capture, or nil.
func (e *Engine) Lost() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lost
}

// Unsubscribe removes a subscriber and closes its frame channel.
func (e *Engine) Unsubscribe(sub *Subscription) {
	e.mu.Lock()
	e.subs = slices.DeleteFunc(e.subs, func(s *Subscription) bool { return s == sub })
	e.mu.Unlock()

	sub.close(nil)
}

// Errors delivers fatal capture errors such as device loss.
func (e *Engine) Errors() <-chan error {
	return e.errs
}

// Close stops capture and closes every subscription.
func (e *Engine) Close() error {
	e.mu.Lock()
	running := e.running
	e.running = false
	subs := e.subs
	e.subs = nil
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.mu.Unlock()

	var err error
	if running {
		err = e.backend.Stop()
	}
	for _, s := range subs {
		s.close(nil)
	}
	return err
}

// handleAudio runs on the backend's audio thread.
func (e *Engine) handleAudio(samples []float32) {
	e.lastAudio.Store(time.Now().UnixNano())

	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.running {
		return
	}

	mono := Downmix(samples, e.device.Channels)
	out := e.resampler.Process(mono)
	if len(out) == 0 {
		return
	}

	now := time.Now()
	for _, s := range e.subs {
		s.push(out, now)
	}
}

// fail surfaces device loss to every subscriber.
func (e *Engine) fail(cause error) {
	err := fmt.Errorf("%w: %v", ErrDeviceUnavailable, cause)

	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.lost = err
	subs := e.subs
	e.subs = nil
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.mu.Unlock()

	slog.Error("audio device lost", "error", cause)
	_ = e.backend.Stop()

	for _, s := range subs {
		s.close(err)
	}
	select {
	case e.errs <- err:
	default:
	}
}

func (e *Engine) watchdog(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.StallTimeout / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			last := time.Unix(0, e.lastAudio.Load())
			if now.Sub(last) > e.cfg.StallTimeout {
				e.fail(fmt.Errorf("no audio for %s", now.Sub(last).Round(time.Millisecond)))
				return
			}
		}
	}
}
