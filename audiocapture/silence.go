package audiocapture

import (
	"math"
	"time"
)

// SilenceDetector reports when a session has gone quiet. Durations are
// measured in audio time, not wall time, so results depend only on input.
type SilenceDetector struct {
	threshold float32       // RMS threshold for speech
	trailing  time.Duration // silence after speech that ends a session
	initial   time.Duration // silence before any speech that ends a session
	minSpeech time.Duration // speech needed before trailing applies

	speech  time.Duration
	silence time.Duration
	fired   bool
}

// NewSilenceDetector creates a detector. A zero initial timeout disables the
// no-speech timeout.
func NewSilenceDetector(threshold float32, trailing, initial, minSpeech time.Duration) *SilenceDetector {
	return &SilenceDetector{
		threshold: threshold,
		trailing:  trailing,
		initial:   initial,
		minSpeech: minSpeech,
	}
}

// Process consumes samples and returns true exactly once, when the silence
// timeout is reached.
func (d *SilenceDetector) Process(samples []float32, sampleRate int) bool {
	if d.fired || sampleRate <= 0 || len(samples) == 0 {
		return false
	}

	dur := time.Duration(len(samples)) * time.Second / time.Duration(sampleRate)
	if calculateRMS(samples) > d.threshold {
		d.speech += dur
		d.silence = 0
		return false
	}
	d.silence += dur

	switch {
	case d.speech >= d.minSpeech && d.speech > 0:
		d.fired = d.trailing > 0 && d.silence >= d.trailing
	case d.initial > 0:
		d.fired = d.silence >= d.initial
	}
	return d.fired
}

// Heard reports whether enough speech has been seen for the trailing
// timeout to apply.
func (d *SilenceDetector) Heard() bool {
	return d.speech >= d.minSpeech && d.speech > 0
}

// Reset clears all state for a new session.
func (d *SilenceDetector) Reset() {
	d.speech = 0
	d.silence = 0
	d.fired = false
}

// calculateRMS calculates the root mean square of audio samples.
func calculateRMS(samples []float32) float32 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return float32(math.Sqrt(sum / float64(len(samples))))
}
