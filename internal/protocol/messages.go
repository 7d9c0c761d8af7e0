package protocol

import "time"

// AudioFrame carries PCM audio captured by the desktop shell.
type AudioFrame struct {
	SessionID  string `json:"session_id"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// Transcript is the engine output broadcast back to the shell.
type Transcript struct {
	SessionID        string    `json:"session_id"`
	Text             string    `json:"text"`
	Language         string    `json:"language,omitempty"`
	Confidence       float64   `json:"confidence,omitempty"`
	Engine           string    `json:"engine"`
	ProcessingTimeMS int64     `json:"processing_time_ms"`
	Error            string    `json:"error,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// StatusReply answers a SubjectStatus request.
type StatusReply struct {
	Initialized bool   `json:"initialized"`
	Mode        string `json:"mode"`
	Model       string `json:"model"`
	Device      string `json:"device,omitempty"`
}

// ModelDescription is one entry in a SubjectModels reply.
type ModelDescription struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ModelsReply answers a SubjectModels request.
type ModelsReply struct {
	Models []ModelDescription `json:"models"`
	Error  string             `json:"error,omitempty"`
}

// EndpointUpdate mutates the persisted remote endpoint settings. Empty fields
// are left unchanged; an all-empty request reads the current settings back.
type EndpointUpdate struct {
	EndpointURL   string `json:"endpoint_url,omitempty"`
	APIKey        string `json:"api_key,omitempty"`
	SelectedModel string `json:"selected_model,omitempty"`
	Language      string `json:"language,omitempty"`
}

// EndpointReply answers a SubjectEndpoint request with the settings now in
// effect. The API key is reported only as present or absent.
type EndpointReply struct {
	EndpointURL   string `json:"endpoint_url"`
	HasAPIKey     bool   `json:"has_api_key"`
	SelectedModel string `json:"selected_model"`
	Language      string `json:"language,omitempty"`
	Error         string `json:"error,omitempty"`
}

const (
	SubjectCapturePrefix = "audio.capture"
	SubjectTranscript    = "stt.transcript"
	SubjectStatus        = "stt.status"
	SubjectModels        = "stt.models"
	SubjectEndpoint      = "stt.endpoint"
)
