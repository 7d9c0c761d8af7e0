package endpoint

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "endpoint.json")
	s, err := Open(path, newLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	cfg := s.Config()
	if cfg.EndpointURL != "" {
		t.Fatalf("expected empty endpoint url, got %q", cfg.EndpointURL)
	}
	if cfg.SelectedModel != "whisper-1" {
		t.Fatalf("expected default model, got %q", cfg.SelectedModel)
	}
}

func TestMutationsRewriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "endpoint.json")
	s, err := Open(path, newLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if err := s.Configure("https://stt.example.com/v1/audio/transcriptions", "sk-test"); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if err := s.SetModel("base"); err != nil {
		t.Fatalf("set model: %v", err)
	}
	if err := s.SetLanguage("es"); err != nil {
		t.Fatalf("set language: %v", err)
	}

	// a fresh store must see everything that was written
	reloaded, err := Open(path, newLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	cfg := reloaded.Config()
	if cfg.EndpointURL != "https://stt.example.com/v1/audio/transcriptions" {
		t.Errorf("endpoint url = %q", cfg.EndpointURL)
	}
	if cfg.APIKey != "sk-test" {
		t.Errorf("api key = %q", cfg.APIKey)
	}
	if cfg.SelectedModel != "base" {
		t.Errorf("model = %q", cfg.SelectedModel)
	}
	if cfg.Language != "es" {
		t.Errorf("language = %q", cfg.Language)
	}
}

func TestOpenRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "endpoint.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path, newLogger()); err == nil {
		t.Fatal("expected error for corrupt config file")
	}
}
