package audiocapture

import "math"

// Resampler converts a stream between sample rates by linear interpolation.
// It keeps the last input sample so block boundaries are seamless, and its
// output depends only on the input sequence.
type Resampler struct {
	from, to int
	step     float64 // input samples per output sample
	pos      float64 // next output position; -1 addresses prev
	prev     float32
}

// NewResampler creates a resampler from rate from to rate to.
func NewResampler(from, to int) *Resampler {
	if from <= 0 {
		from = to
	}
	return &Resampler{
		from: from,
		to:   to,
		step: float64(from) / float64(to),
	}
}

// Process resamples one block. Equal rates return a copy of the input.
func (r *Resampler) Process(in []float32) []float32 {
	if r.from == r.to {
		out := make([]float32, len(in))
		copy(out, in)
		return out
	}
	n := len(in)
	if n == 0 {
		return nil
	}

	at := func(i int) float32 {
		if i < 0 {
			return r.prev
		}
		return in[i]
	}

	out := make([]float32, 0, int(float64(n)/r.step)+2)
	for {
		idx := int(math.Floor(r.pos))
		frac := float32(r.pos - float64(idx))
		// Interpolating past the block waits for the next one.
		if idx > n-1 || (idx == n-1 && frac > 0) {
			break
		}
		v := at(idx)
		if frac > 0 {
			v += (at(idx+1) - v) * frac
		}
		out = append(out, v)
		r.pos += r.step
	}

	r.pos -= float64(n)
	r.prev = in[n-1]
	return out
}

// Resample converts a complete buffer from one rate to another.
func Resample(in []float32, from, to int) []float32 {
	return NewResampler(from, to).Process(in)
}

// Downmix averages interleaved channels into mono.
func Downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	out := make([]float32, len(samples)/channels)
	for i := range out {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += samples[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// PCM16 converts float samples to signed 16-bit PCM, clipping at full scale.
func PCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		s = max(-1, min(1, s))
		out[i] = int16(s * math.MaxInt16)
	}
	return out
}

// PCM16Bytes converts float samples to little-endian signed 16-bit PCM.
func PCM16Bytes(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, v := range PCM16(samples) {
		out[2*i] = byte(v)
		out[2*i+1] = byte(uint16(v) >> 8)
	}
	return out
}

// Float32 converts little-endian signed 16-bit PCM to float samples.
func Float32(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		v := int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
		out[i] = float32(v) / math.MaxInt16
	}
	return out
}
