// Package wakeword spots configured keywords in the capture stream.
package wakeword

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.aimuz.me/voxtype/audiocapture"
)

var (
	// ErrInvalidKeyword is returned when arming with a keyword the engine
	// does not support or a sensitivity outside [0, 1].
	ErrInvalidKeyword = errors.New("invalid wake word keyword")

	// ErrFrameLength is returned when a frame does not match the engine's
	// required block length.
	ErrFrameLength = errors.New("wake word frame has wrong length")
)

// DefaultRefractory is how long a keyword stays silent after a match.
const DefaultRefractory = time.Second

// Keyword is one phrase to spot. Higher sensitivity lowers the detection
// threshold.
type Keyword struct {
	Name        string  `json:"name"`
	Sensitivity float32 `json:"sensitivity"`
	Path        string  `json:"path,omitempty"` // custom model file
}

// Match is a detected keyword.
type Match struct {
	Keyword    string
	Confidence float32
	At         time.Time
}

// Engine scores fixed-length PCM blocks against loaded keywords.
type Engine interface {
	FrameLength() int
	SampleRate() int
	Supports(k Keyword) bool
	// Load prepares the engine for keywords, replacing any previous set.
	Load(keywords []Keyword) error
	// Process returns one score in [0, 1] per loaded keyword.
	Process(pcm []int16) ([]float32, error)
	Close() error
}

// Detector arms and disarms an Engine without tearing it down, so the
// activation controller can gate it cheaply.
type Detector struct {
	engine     Engine
	refractory time.Duration

	mu       sync.Mutex
	armed    bool
	keywords []Keyword
	loaded   []Keyword

	// Stream position in audio time; refractory windows use it so results
	// depend only on the frames fed.
	pos       time.Duration
	lastMatch map[string]time.Duration
}

// New creates a disarmed detector. refractory <= 0 uses DefaultRefractory.
func New(engine Engine, refractory time.Duration) (*Detector, error) {
	if rate := engine.SampleRate(); rate != audiocapture.PipelineRate {
		return nil, fmt.Errorf("wake word engine wants %d Hz, pipeline runs at %d Hz", rate, audiocapture.PipelineRate)
	}
	if refractory <= 0 {
		refractory = DefaultRefractory
	}
	return &Detector{
		engine:     engine,
		refractory: refractory,
		lastMatch:  make(map[string]time.Duration),
	}, nil
}

// FrameLength returns the block length the capture subscription must use.
func (d *Detector) FrameLength() int {
	return d.engine.FrameLength()
}

// Arm starts spotting keywords. Re-arming with the same set keeps the loaded
// engine state.
func (d *Detector) Arm(keywords []Keyword) error {
	if len(keywords) == 0 {
		return fmt.Errorf("%w: no keywords", ErrInvalidKeyword)
	}
	for _, k := range keywords {
		if k.Sensitivity < 0 || k.Sensitivity > 1 {
			return fmt.Errorf("%w: %q sensitivity %.2f outside [0, 1]", ErrInvalidKeyword, k.Name, k.Sensitivity)
		}
		if !d.engine.Supports(k) {
			return fmt.Errorf("%w: %q", ErrInvalidKeyword, k.Name)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if !slices.Equal(keywords, d.loaded) {
		if err := d.engine.Load(keywords); err != nil {
			return fmt.Errorf("load keywords: %w", err)
		}
		d.loaded = slices.Clone(keywords)
		clear(d.lastMatch)
	}
	d.keywords = d.loaded
	d.armed = true
	return nil
}

// Disarm stops spotting. Frames fed while disarmed are ignored.
func (d *Detector) Disarm() {
	d.mu.Lock()
	d.armed = false
	d.mu.Unlock()
}

// Armed reports whether the detector is spotting.
func (d *Detector) Armed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.armed
}

// Feed processes one frame. While disarmed it is a no-op.
func (d *Detector) Feed(f audiocapture.Frame) (Match, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pos += f.Duration()
	if !d.armed {
		return Match{}, false, nil
	}
	if n := d.engine.FrameLength(); len(f.Samples) != n {
		return Match{}, false, fmt.Errorf("%w: got %d, want %d", ErrFrameLength, len(f.Samples), n)
	}

	scores, err := d.engine.Process(audiocapture.PCM16(f.Samples))
	if err != nil {
		return Match{}, false, fmt.Errorf("wake word process: %w", err)
	}

	best := -1
	for i, score := range scores {
		if i >= len(d.keywords) {
			break
		}
		k := d.keywords[i]
		if score < 1-k.Sensitivity || score <= 0 {
			continue
		}
		if last, ok := d.lastMatch[k.Name]; ok && d.pos-last < d.refractory {
			continue
		}
		if best < 0 || score > scores[best] {
			best = i
		}
	}
	if best < 0 {
		return Match{}, false, nil
	}

	name := d.keywords[best].Name
	d.lastMatch[name] = d.pos
	at := f.Time
	if at.IsZero() {
		at = time.Now()
	}
	return Match{Keyword: name, Confidence: scores[best], At: at}, true, nil
}

// Run feeds frames from sub until ctx is done or the subscription ends, and
// sends matches to out. A full out channel drops the match.
func (d *Detector) Run(ctx context.Context, sub *audiocapture.Subscription, out chan<- Match) error {
	var errCount int
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-sub.Frames():
			if !ok {
				return sub.Err()
			}
			m, matched, err := d.Feed(f)
			if err != nil {
				errCount++
				if errCount == 1 || errCount%100 == 0 {
					slog.Warn("wake word feed failed", "error", err, "count", errCount)
				}
				continue
			}
			if !matched {
				continue
			}
			slog.Info("wake word matched", "keyword", m.Keyword, "confidence", m.Confidence)
			select {
			case out <- m:
			default:
				slog.Warn("wake word match dropped, consumer busy", "keyword", m.Keyword)
			}
		}
	}
}

// Close releases the engine.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.armed = false
	d.loaded = nil
	return d.engine.Close()
}
