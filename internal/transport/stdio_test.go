package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeBackend reads request lines from its end of the pipes and replies with
// whatever the respond callback produces.
func startFakeBackend(t *testing.T, respond func(req Request) string) *StdioChannel {
	t.Helper()
	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()

	go func() {
		scanner := bufio.NewScanner(reqR)
		for scanner.Scan() {
			var req Request
			if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
				continue
			}
			line := respond(req)
			if line == "" {
				continue
			}
			if _, err := io.WriteString(respW, line+"\n"); err != nil {
				return
			}
		}
	}()

	ch := NewStdioChannel(reqW, respR, newTestLogger())
	t.Cleanup(func() {
		_ = ch.Close()
		reqW.Close()
		respW.Close()
	})
	return ch
}

func TestStdioRoundTrip(t *testing.T) {
	ch := startFakeBackend(t, func(req Request) string {
		if req.Action == ActionPing {
			return `{"id":"` + req.ID + `","pong":true}`
		}
		return `{"id":"` + req.ID + `","text":"hello world","language":"en","language_probability":0.93}`
	})

	resp, err := ch.Send(context.Background(), Request{Action: ActionPing})
	if err != nil {
		t.Fatalf("ping failed: %v", err)
	}
	if !resp.Pong {
		t.Fatal("expected pong response")
	}

	resp, err = ch.Send(context.Background(), Request{Action: ActionTranscribe, AudioData: []float32{0.1, 0.2}, Model: "tiny"})
	if err != nil {
		t.Fatalf("transcribe failed: %v", err)
	}
	if resp.Text != "hello world" || resp.Language != "en" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestStdioTranscribeFile(t *testing.T) {
	ch := startFakeBackend(t, func(req Request) string {
		if req.Action != ActionTranscribeFile {
			return `{"id":"` + req.ID + `","error":"unexpected action"}`
		}
		if req.AudioFile != "/tmp/clip.wav" {
			return `{"id":"` + req.ID + `","error":"wrong file path"}`
		}
		return `{"id":"` + req.ID + `","text":"from file","language":"en"}`
	})

	resp, err := ch.Send(context.Background(), Request{Action: ActionTranscribeFile, AudioFile: "/tmp/clip.wav", Model: "tiny"})
	if err != nil {
		t.Fatalf("transcribe file failed: %v", err)
	}
	if resp.Err != "" {
		t.Fatalf("backend rejected request: %s", resp.Err)
	}
	if resp.Text != "from file" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestStdioFifoFallbackWithoutIDs(t *testing.T) {
	ch := startFakeBackend(t, func(req Request) string {
		// backend that does not echo request ids
		return `{"text":"no id here"}`
	})

	resp, err := ch.Send(context.Background(), Request{Action: ActionTranscribe})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if resp.Text != "no id here" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestStdioMalformedResponse(t *testing.T) {
	ch := startFakeBackend(t, func(req Request) string {
		return "this is not json"
	})

	_, err := ch.Send(context.Background(), Request{Action: ActionTranscribe})
	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
	if string(perr.Raw) != "this is not json" {
		t.Fatalf("expected raw payload preserved, got %q", perr.Raw)
	}
}

func TestStdioAbandonedResponseDiscarded(t *testing.T) {
	release := make(chan struct{})
	ch := startFakeBackend(t, func(req Request) string {
		if req.Model == "slow" {
			<-release
			return `{"id":"` + req.ID + `","text":"late answer"}`
		}
		return `{"id":"` + req.ID + `","text":"fresh answer"}`
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := ch.Send(ctx, Request{Action: ActionTranscribe, Model: "slow"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	// let the late response arrive, then confirm the next call is unaffected
	close(release)
	time.Sleep(20 * time.Millisecond)

	resp, err := ch.Send(context.Background(), Request{Action: ActionTranscribe, Model: "fast"})
	if err != nil {
		t.Fatalf("follow-up send failed: %v", err)
	}
	if resp.Text != "fresh answer" {
		t.Fatalf("late response leaked into next call: %+v", resp)
	}
}

func TestStdioBackendGoneFailsPending(t *testing.T) {
	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()
	ch := NewStdioChannel(reqW, respR, newTestLogger())

	go func() {
		// swallow the request, then die
		scanner := bufio.NewScanner(reqR)
		scanner.Scan()
		respW.Close()
	}()

	_, err := ch.Send(context.Background(), Request{Action: ActionPing})
	if !errors.Is(err, ErrChannelClosed) {
		t.Fatalf("expected ErrChannelClosed, got %v", err)
	}
}
