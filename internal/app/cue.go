package app

import (
	"fmt"
	"math"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/effects"
	"github.com/faiface/beep/speaker"
)

// Cue is played when a session starts.
type Cue interface {
	Play()
}

const cueRate = beep.SampleRate(44100)

// ToneCue plays a short sine tone through the default output device.
type ToneCue struct {
	Freq     float64
	Duration time.Duration
	Volume   float64 // base-2 gain, 0 is unchanged
}

// NewToneCue initializes the speaker and returns a cue.
func NewToneCue(freq float64, d time.Duration, volume float64) (*ToneCue, error) {
	if err := speaker.Init(cueRate, cueRate.N(time.Second/10)); err != nil {
		return nil, fmt.Errorf("init speaker: %w", err)
	}
	return &ToneCue{Freq: freq, Duration: d, Volume: volume}, nil
}

// Play starts the tone and returns immediately.
func (c *ToneCue) Play() {
	speaker.Play(&effects.Volume{
		Streamer: tone(cueRate, c.Freq, c.Duration),
		Base:     2,
		Volume:   c.Volume,
	})
}

// tone generates a sine wave with a short linear fade at both ends.
func tone(rate beep.SampleRate, freq float64, d time.Duration) beep.Streamer {
	total := rate.N(d)
	fade := max(rate.N(5*time.Millisecond), 1)
	step := 2 * math.Pi * freq / float64(rate)
	pos := 0

	return beep.Take(total, beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		for i := range samples {
			gain := 0.5
			if pos < fade {
				gain *= float64(pos) / float64(fade)
			} else if rest := total - pos; rest < fade {
				gain *= float64(max(rest, 0)) / float64(fade)
			}
			v := gain * math.Sin(step*float64(pos))
			samples[i][0], samples[i][1] = v, v
			pos++
		}
		return len(samples), true
	}))
}
