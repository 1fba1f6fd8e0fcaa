package audiocapture

import (
	"sync"
	"sync/atomic"
	"time"
)

// Subscription is one consumer's view of the capture stream.
type Subscription struct {
	name      string
	blockSize int
	frames    chan Frame

	// Written only from the audio thread.
	pending []float32
	seq     uint64

	dropped atomic.Uint64

	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

func newSubscription(name string, blockSize, queueLen int) *Subscription {
	if blockSize <= 0 {
		blockSize = BlockSize(PipelineRate, 20*time.Millisecond)
	}
	if queueLen <= 0 {
		queueLen = 1
	}
	return &Subscription{
		name:      name,
		blockSize: blockSize,
		frames:    make(chan Frame, queueLen),
		pending:   make([]float32, 0, blockSize*2),
	}
}

// Name returns the subscriber name used in logs.
func (s *Subscription) Name() string { return s.name }

// BlockSize returns the number of samples in every frame.
func (s *Subscription) BlockSize() int { return s.blockSize }

// Frames returns the frame channel. It is closed when the subscription ends;
// check Err to tell device loss from a normal close.
func (s *Subscription) Frames() <-chan Frame { return s.frames }

// Dropped returns how many frames were discarded because the queue was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Err returns the error that ended the subscription, if any.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// push re-blocks samples to the subscriber's block size and enqueues every
// complete block. It never blocks.
func (s *Subscription) push(samples []float32, now time.Time) {
	s.pending = append(s.pending, samples...)

	for len(s.pending) >= s.blockSize {
		block := make([]float32, s.blockSize)
		copy(block, s.pending[:s.blockSize])
		n := copy(s.pending, s.pending[s.blockSize:])
		s.pending = s.pending[:n]

		s.seq++
		s.offer(Frame{
			Samples:    block,
			SampleRate: PipelineRate,
			Seq:        s.seq,
			Time:       now,
		})
	}
}

// offer enqueues f, evicting the oldest queued frame when full. The audio
// thread is the only sender, so eviction keeps frames in order.
func (s *Subscription) offer(f Frame) {
	for {
		select {
		case s.frames <- f:
			return
		default:
		}
		select {
		case <-s.frames:
			s.dropped.Add(1)
		default:
		}
	}
}

func (s *Subscription) close(err error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.frames)
	})
}
