package transport

import (
	"context"
	"errors"
	"fmt"
)

// Actions understood by speech-to-text backends.
const (
	ActionTranscribe = "transcribe"
	// ActionTranscribeFile transcribes a WAV file already on disk, addressed
	// by path in AudioFile. Local backends only.
	ActionTranscribeFile = "transcribe_file"
	ActionPing           = "ping"
	ActionListModels     = "list_models"
)

// Request is one logical request crossing the backend boundary.
type Request struct {
	ID        string    `json:"id,omitempty"`
	Action    string    `json:"action"`
	AudioData []float32 `json:"audio_data,omitempty"`
	AudioFile string    `json:"audio_file,omitempty"`
	Model     string    `json:"model,omitempty"`
	Language  string    `json:"language,omitempty"`
}

// ModelInfo describes one model a backend can serve.
type ModelInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Response is the backend's answer to a single Request.
type Response struct {
	ID          string      `json:"id,omitempty"`
	Text        string      `json:"text"`
	Language    string      `json:"language,omitempty"`
	Probability float64     `json:"language_probability,omitempty"`
	Duration    float64     `json:"duration,omitempty"`
	Segments    int         `json:"segments,omitempty"`
	Device      string      `json:"device,omitempty"`
	Pong        bool        `json:"pong,omitempty"`
	Models      []ModelInfo `json:"models,omitempty"`
	Err         string      `json:"error,omitempty"`
}

// Channel carries exactly one request and returns exactly one response.
// Implementations must be safe for concurrent use; ordering across callers is
// the engine's concern, not the channel's.
type Channel interface {
	Send(ctx context.Context, req Request) (Response, error)
	Close() error
}

// ErrChannelClosed reports a send on a channel whose backend went away.
var ErrChannelClosed = errors.New("transport channel closed")

// ProtocolError reports malformed data crossing the transport boundary. The
// raw payload is kept for diagnostics; these are not retried automatically.
type ProtocolError struct {
	Raw []byte
	Err error
}

func (e *ProtocolError) Error() string {
	raw := e.Raw
	if len(raw) > 256 {
		raw = raw[:256]
	}
	return fmt.Sprintf("protocol error: %v (raw payload: %q)", e.Err, string(raw))
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}
