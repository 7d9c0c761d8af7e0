package transport

import (
	"context"
	"time"
)

var mockSentences = []string{
	"this is simulated transcription output",
	"the quick brown fox jumps over the lazy dog",
	"testing one two three",
	"speech recognition placeholder text",
}

type mockChannel struct {
	delay time.Duration
}

// NewMockChannel returns a channel that answers without any backend. The
// sentence chosen is a function of the audio length, so repeated runs with the
// same input stay deterministic.
func NewMockChannel() Channel {
	return &mockChannel{delay: 20 * time.Millisecond}
}

func (m *mockChannel) Send(ctx context.Context, req Request) (Response, error) {
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	case <-time.After(m.delay):
	}

	switch req.Action {
	case ActionPing:
		return Response{ID: req.ID, Pong: true}, nil
	case ActionListModels:
		return Response{ID: req.ID, Models: []ModelInfo{
			{Name: "tiny", Description: "mock model"},
			{Name: "base", Description: "mock model"},
		}}, nil
	case ActionTranscribeFile:
		return Response{
			ID:          req.ID,
			Text:        mockSentences[len(req.AudioFile)%len(mockSentences)],
			Language:    "en",
			Probability: 1,
			Device:      "cpu",
		}, nil
	default:
		text := mockSentences[len(req.AudioData)%len(mockSentences)]
		return Response{
			ID:          req.ID,
			Text:        text,
			Language:    "en",
			Probability: 1,
			Device:      "cpu",
		}, nil
	}
}

func (m *mockChannel) Close() error {
	return nil
}
