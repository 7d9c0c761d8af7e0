package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"time"
)

// HTTPChannel posts audio to a remote transcription endpoint as a multipart
// upload. Different server implementations name their response fields
// differently; Send normalizes them into a single Response shape.
type HTTPChannel struct {
	url        string
	apiKey     string
	sampleRate int
	client     *http.Client
	log        *slog.Logger
}

func NewHTTPChannel(url, apiKey string, sampleRate int, log *slog.Logger) *HTTPChannel {
	return &HTTPChannel{
		url:        url,
		apiKey:     apiKey,
		sampleRate: sampleRate,
		client:     &http.Client{Timeout: 5 * time.Minute},
		log:        log.With(slog.String("component", "http-channel")),
	}
}

func (c *HTTPChannel) Send(ctx context.Context, req Request) (Response, error) {
	switch req.Action {
	case ActionPing:
		return c.probe(ctx)
	case ActionTranscribe:
		return c.transcribe(ctx, req)
	default:
		return Response{}, fmt.Errorf("remote backend does not support action %q", req.Action)
	}
}

func (c *HTTPChannel) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// probe checks reachability only. Transcription endpoints commonly reject GET
// with 4xx; any HTTP answer at all means the endpoint is there.
func (c *HTTPChannel) probe(ctx context.Context) (Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return Response{}, err
	}
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("probe endpoint: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return Response{Pong: true}, nil
}

func (c *HTTPChannel) transcribe(ctx context.Context, req Request) (Response, error) {
	wavBytes, err := encodeWAV(req.AudioData, c.sampleRate)
	if err != nil {
		return Response{}, fmt.Errorf("encode audio: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return Response{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(wavBytes); err != nil {
		return Response{}, fmt.Errorf("write audio payload: %w", err)
	}

	if err := mw.WriteField("model", req.Model); err != nil {
		return Response{}, err
	}
	if err := mw.WriteField("response_format", "verbose_json"); err != nil {
		return Response{}, err
	}
	if req.Language != "" {
		if err := mw.WriteField("language", req.Language); err != nil {
			return Response{}, err
		}
	}
	if err := mw.Close(); err != nil {
		return Response{}, fmt.Errorf("close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &body)
	if err != nil {
		return Response{}, err
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Response{}, fmt.Errorf("remote backend returned status %d: %s", resp.StatusCode, truncateBody(respBody))
	}

	return normalizeRemote(respBody)
}

// remotePayload covers the field spellings seen across whisper-compatible
// servers: text vs transcription, language vs detected_language vs lang, and
// segments as either a count or an array.
type remotePayload struct {
	Text             string          `json:"text"`
	Transcription    string          `json:"transcription"`
	Language         string          `json:"language"`
	DetectedLanguage string          `json:"detected_language"`
	Lang             string          `json:"lang"`
	Duration         float64         `json:"duration"`
	Segments         json.RawMessage `json:"segments"`
	Err              string          `json:"error"`
}

func normalizeRemote(body []byte) (Response, error) {
	var payload remotePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return Response{}, &ProtocolError{Raw: body, Err: err}
	}

	text := payload.Text
	if text == "" {
		text = payload.Transcription
	}

	language := payload.Language
	if language == "" {
		language = payload.DetectedLanguage
	}
	if language == "" {
		language = payload.Lang
	}

	return Response{
		Text:     text,
		Language: NormalizeLanguage(language),
		Duration: payload.Duration,
		Segments: countSegments(payload.Segments),
		Err:      payload.Err,
	}, nil
}

func countSegments(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		return len(list)
	}
	return 0
}

func truncateBody(body []byte) string {
	if len(body) > 512 {
		body = body[:512]
	}
	return string(body)
}

// encodeWAV wraps float32 samples into a 16-bit mono WAV container. The wav
// encoder needs a seekable target, so it goes through a temp file.
func encodeWAV(samples []float32, sampleRate int) ([]byte, error) {
	file, err := os.CreateTemp("", "scribe_upload_*.wav")
	if err != nil {
		return nil, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := writeWAV(file, samples, sampleRate); err != nil {
		return nil, err
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind wav: %w", err)
	}
	return io.ReadAll(file)
}
