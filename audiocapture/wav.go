package audiocapture

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVRecorder writes pipeline frames to a 16-bit mono WAV file. It is used to
// keep the audio of a session for diagnostics.
type WAVRecorder struct {
	mu      sync.Mutex
	file    *os.File
	enc     *wav.Encoder
	samples int
	closed  bool
}

// NewWAVRecorder creates path (and its directory) and writes a WAV header.
func NewWAVRecorder(path string) (*WAVRecorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create recording dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create recording: %w", err)
	}
	return &WAVRecorder{
		file: f,
		enc:  wav.NewEncoder(f, PipelineRate, 16, 1, 1),
	}, nil
}

// Write appends one frame.
func (r *WAVRecorder) Write(f Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return os.ErrClosed
	}

	pcm := PCM16(f.Samples)
	data := make([]int, len(pcm))
	for i, v := range pcm {
		data[i] = int(v)
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: PipelineRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := r.enc.Write(buf); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	r.samples += len(pcm)
	return nil
}

// Samples returns how many samples have been written.
func (r *WAVRecorder) Samples() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.samples
}

// Close finalizes the WAV header and closes the file.
func (r *WAVRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	err := r.enc.Close()
	if cerr := r.file.Close(); err == nil {
		err = cerr
	}
	return err
}
