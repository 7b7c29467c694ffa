package audio

// Smoothstep returns the smoothstep interpolation for t in [0,1].
// Formula: 3t^2 - 2t^3.
func Smoothstep(t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	return t * t * (3 - 2*t)
}

// MixInto adds interleaved stereo samples to acc, scaled by a gain that moves
// from `from` to `to` over the span of the samples along a smoothstep curve.
// Ramping avoids clicks when a fader, mute or solo changes mid-playback.
// acc must be at least as long as samples.
func MixInto(acc []float64, samples []int16, from, to float64) {
	pairs := len(samples) / Channels
	if pairs == 0 {
		return
	}
	steady := from == to
	for i := 0; i < pairs; i++ {
		g := to
		if !steady {
			g = from + (to-from)*Smoothstep(float64(i)/float64(pairs))
		}
		for c := 0; c < Channels; c++ {
			idx := i*Channels + c
			acc[idx] += float64(samples[idx]) * g
		}
	}
}

// Clip converts a mixed accumulator to int16, saturating at the int16 range.
func Clip(acc []float64) []int16 {
	out := make([]int16, len(acc))
	for i, v := range acc {
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		out[i] = int16(v)
	}
	return out
}
