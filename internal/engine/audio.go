package engine

const (
	minWindowSeconds = 1
	maxWindowSeconds = 30

	// Mean absolute amplitude below this counts as silence and skips the
	// backend entirely.
	silenceThreshold = 0.01
)

// prepareAudio peak-normalizes the samples to 1.0 and fits them into the
// transcription window: input shorter than the minimum is zero-padded at the
// tail, input longer than the maximum is truncated. Never resampled.
func prepareAudio(samples []float32, sampleRate int) []float32 {
	minLen := sampleRate * minWindowSeconds
	maxLen := sampleRate * maxWindowSeconds

	n := len(samples)
	if n > maxLen {
		n = maxLen
	}
	size := n
	if size < minLen {
		size = minLen
	}

	out := make([]float32, size)
	copy(out, samples[:n])

	var peak float32
	for _, s := range out[:n] {
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	if peak > 0 {
		scale := 1 / peak
		for i := range out[:n] {
			out[i] *= scale
		}
	}
	return out
}

func meanEnergy(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		if s < 0 {
			s = -s
		}
		sum += float64(s)
	}
	return sum / float64(len(samples))
}
