package audiocapture

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// PortAudioBackend captures through PortAudio.
type PortAudioBackend struct {
	mu     sync.Mutex
	infos  map[string]*portaudio.DeviceInfo
	stream *portaudio.Stream
}

// NewPortAudioBackend initializes PortAudio. Close must be called to
// terminate the library.
func NewPortAudioBackend() (*PortAudioBackend, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("init portaudio: %w", err)
	}
	return &PortAudioBackend{infos: make(map[string]*portaudio.DeviceInfo)}, nil
}

func (b *PortAudioBackend) Devices() ([]Device, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	infos, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	def, _ := portaudio.DefaultInputDevice()

	clear(b.infos)
	var devices []Device
	for i, info := range infos {
		if info.MaxInputChannels <= 0 {
			continue
		}
		id := strconv.Itoa(i)
		b.infos[id] = info
		devices = append(devices, Device{
			ID:         id,
			Name:       info.Name,
			Channels:   min(info.MaxInputChannels, 2),
			SampleRate: int(info.DefaultSampleRate),
			Default:    def != nil && def.Name == info.Name,
		})
	}
	return devices, nil
}

func (b *PortAudioBackend) Start(dev Device, h StreamHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stream != nil {
		return ErrRunning
	}
	info, ok := b.infos[dev.ID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrDeviceUnavailable, dev.ID)
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   info,
			Channels: dev.Channels,
			Latency:  info.DefaultLowInputLatency,
		},
		SampleRate: float64(dev.SampleRate),
	}

	stream, err := portaudio.OpenStream(params, func(in []float32) {
		// PortAudio reuses the buffer after the callback returns.
		samples := make([]float32, len(in))
		copy(samples, in)
		h.OnAudio(samples)
	})
	if err != nil {
		return err
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return err
	}

	// PortAudio has no loss notification; the engine watchdog covers it.
	b.stream = stream
	return nil
}

func (b *PortAudioBackend) Stop() error {
	b.mu.Lock()
	stream := b.stream
	b.stream = nil
	b.mu.Unlock()

	if stream == nil {
		return nil
	}
	if err := stream.Stop(); err != nil {
		stream.Close()
		return err
	}
	return stream.Close()
}

func (b *PortAudioBackend) Close() error {
	err := b.Stop()
	if terr := portaudio.Terminate(); err == nil {
		err = terr
	}
	return err
}
