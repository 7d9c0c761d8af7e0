package engine

import "sync/atomic"

// Fallback text shown when real transcription cannot be obtained. Clearly
// labeled as unavailable rather than plausible-looking fake speech, so users
// never mistake it for a real transcript.
var fallbackSentences = []string{
	"[transcription unavailable - the speech service did not respond]",
	"[transcription unavailable - please check the speech service and try again]",
	"[transcription unavailable - your recording was not processed]",
}

var fallbackIndex atomic.Uint64

func fallbackText() string {
	i := fallbackIndex.Add(1)
	return fallbackSentences[i%uint64(len(fallbackSentences))]
}
