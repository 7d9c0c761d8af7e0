package history

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/scribelabs/scribe-core/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeral(t *testing.T) {
	cfg := config.HistoryConfig{RetentionMode: "ephemeral"}
	hs, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = hs.Close() })

	if err := hs.Append(context.Background(), Entry{SessionID: "s", Text: "ignored"}); err != nil {
		t.Fatalf("append should be a no-op: %v", err)
	}
	entries, err := hs.ListSession(context.Background(), "s", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("ephemeral store should keep nothing, got %d entries", len(entries))
	}
}

func TestAppendAndList(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.HistoryConfig{Path: filepath.Join(tmp, "history.db"), RetentionMode: "session"}
	hs, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open history store: %v", err)
	}
	t.Cleanup(func() { _ = hs.Close() })

	sessionID := "session-42"
	if err := hs.AppendSession(context.Background(), sessionID); err != nil {
		t.Fatalf("append session: %v", err)
	}
	entry := Entry{
		SessionID:        sessionID,
		Text:             "turn left at the next intersection",
		Language:         "en",
		Confidence:       0.93,
		Engine:           "whisper-local/tiny",
		ProcessingTimeMS: 412,
	}
	if err := hs.Append(context.Background(), entry); err != nil {
		t.Fatalf("append transcript: %v", err)
	}

	entries, err := hs.ListSession(context.Background(), sessionID, 10)
	if err != nil {
		t.Fatalf("list transcripts: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 transcript, got %d", len(entries))
	}
	got := entries[0]
	if got.Text != entry.Text {
		t.Fatalf("unexpected text: %q", got.Text)
	}
	if got.Language != "en" || got.Engine != "whisper-local/tiny" {
		t.Fatalf("unexpected metadata: %+v", got)
	}
}

func TestPruneByDaysAndSessions(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.HistoryConfig{
		Path:          filepath.Join(tmp, "history.db"),
		RetentionMode: "persistent",
		RetentionDays: 1,
		MaxSessions:   1,
	}
	hs, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open history store: %v", err)
	}
	t.Cleanup(func() { _ = hs.Close() })

	hs.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := hs.AppendSession(context.Background(), "old-session"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := hs.Append(context.Background(), Entry{SessionID: "old-session", Text: "stale"}); err != nil {
		t.Fatalf("append transcript: %v", err)
	}

	hs.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := hs.AppendSession(context.Background(), "new-session"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := hs.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}

	old, err := hs.ListSession(context.Background(), "old-session", 10)
	if err != nil {
		t.Fatalf("list old session: %v", err)
	}
	if len(old) != 0 {
		t.Fatalf("expected old transcripts pruned, got %d", len(old))
	}
}
