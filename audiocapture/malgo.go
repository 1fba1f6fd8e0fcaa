package audiocapture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
)

// MalgoBackend captures through miniaudio.
type MalgoBackend struct {
	mu       sync.Mutex
	ctx      *malgo.AllocatedContext
	ids      map[string]malgo.DeviceID
	device   *malgo.Device
	stopping bool
}

// NewMalgoBackend initializes a miniaudio context.
func NewMalgoBackend() (*MalgoBackend, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("init malgo context: %w", err)
	}
	return &MalgoBackend{ctx: ctx, ids: make(map[string]malgo.DeviceID)}, nil
}

func (b *MalgoBackend) Devices() ([]Device, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	infos, err := b.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, err
	}

	clear(b.ids)
	devices := make([]Device, 0, len(infos))
	for _, info := range infos {
		dev := Device{
			ID:         info.ID.String(),
			Name:       info.Name(),
			Channels:   1,
			SampleRate: PipelineRate,
			Default:    info.IsDefault != 0,
		}
		// Native format needs a second query; some backends report none,
		// in which case miniaudio converts to the requested format.
		if full, err := b.ctx.DeviceInfo(malgo.Capture, info.ID, malgo.Shared); err == nil && full.FormatCount > 0 {
			f := full.Formats[0]
			if f.Channels > 0 {
				dev.Channels = int(f.Channels)
			}
			if f.SampleRate > 0 {
				dev.SampleRate = int(f.SampleRate)
			}
		}
		b.ids[dev.ID] = info.ID
		devices = append(devices, dev)
	}
	return devices, nil
}

func (b *MalgoBackend) Start(dev Device, h StreamHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.device != nil {
		return ErrRunning
	}
	id, ok := b.ids[dev.ID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrDeviceUnavailable, dev.ID)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = uint32(dev.Channels)
	cfg.Capture.DeviceID = id.Pointer()
	cfg.SampleRate = uint32(dev.SampleRate)

	channels := dev.Channels
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, in []byte, frameCount uint32) {
			n := int(frameCount) * channels
			if n*4 > len(in) {
				n = len(in) / 4
			}
			samples := make([]float32, n)
			for i := range samples {
				samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(in[i*4:]))
			}
			h.OnAudio(samples)
		},
		Stop: func() {
			b.mu.Lock()
			stopping := b.stopping
			b.mu.Unlock()
			if !stopping && h.OnLost != nil {
				go h.OnLost(errors.New("device stopped"))
			}
		},
	}

	device, err := malgo.InitDevice(b.ctx.Context, cfg, callbacks)
	if err != nil {
		return classifyMalgo(err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return classifyMalgo(err)
	}

	b.device = device
	b.stopping = false
	return nil
}

func (b *MalgoBackend) Stop() error {
	b.mu.Lock()
	device := b.device
	b.device = nil
	b.stopping = true
	b.mu.Unlock()

	if device == nil {
		return nil
	}
	// Uninit waits for the audio thread, which may call back into Stop.
	device.Uninit()
	return nil
}

func (b *MalgoBackend) Close() error {
	if err := b.Stop(); err != nil {
		return err
	}
	_ = b.ctx.Uninit()
	b.ctx.Free()
	return nil
}

func classifyMalgo(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "permission") || strings.Contains(msg, "access denied") {
		return fmt.Errorf("%w: %v", ErrPermission, err)
	}
	return err
}
